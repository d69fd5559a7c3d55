// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"

	opcua "github.com/edgeo-scada/opcua-web"
)

func timeout() time.Duration {
	return time.Duration(viper.GetInt("timeout")) * time.Millisecond
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildClientOptions creates client options from CLI flags
func buildClientOptions() ([]opcua.Option, error) {
	policy, err := opcua.ParseSecurityPolicy(viper.GetString("security-policy"))
	if err != nil {
		return nil, err
	}
	mode, err := opcua.ParseMessageSecurityMode(viper.GetString("security-mode"))
	if err != nil {
		return nil, err
	}
	if mode != opcua.MessageSecurityModeNone && policy == opcua.SecurityPolicyNone {
		return nil, fmt.Errorf("security mode %s requires a security policy other than None", mode)
	}

	return []opcua.Option{
		opcua.WithRequestTimeout(timeout()),
		opcua.WithHandshakeTimeout(timeout()),
		opcua.WithSecurityPolicy(policy),
		opcua.WithSecurityMode(mode),
		opcua.WithLogger(newLogger()),
	}, nil
}

// buildCredential returns the identity to activate with. The token policy id
// is left empty so ConnectAndActivate picks one from the advertised endpoints.
func buildCredential() (opcua.Credential, error) {
	switch strings.ToLower(viper.GetString("auth")) {
	case "", "anonymous":
		return opcua.AnonymousCredential(opcua.UserTokenPolicy{}), nil

	case "username":
		user := viper.GetString("username")
		if user == "" {
			return opcua.Credential{}, errors.New("--auth username requires --username")
		}
		return opcua.UserNameCredential(opcua.UserTokenPolicy{TokenType: opcua.UserTokenTypeUserName}, user, viper.GetString("password")), nil

	case "certificate":
		certFile, keyFile := viper.GetString("user-cert"), viper.GetString("user-key")
		if certFile == "" || keyFile == "" {
			return opcua.Credential{}, errors.New("both --user-cert and --user-key must be specified together")
		}
		cert, err := os.ReadFile(certFile)
		if err != nil {
			return opcua.Credential{}, fmt.Errorf("failed to read certificate: %w", err)
		}
		if _, _, err := opcua.LoadCertificate(cert); err != nil {
			return opcua.Credential{}, fmt.Errorf("invalid certificate %s: %w", certFile, err)
		}
		key, err := os.ReadFile(keyFile)
		if err != nil {
			return opcua.Credential{}, fmt.Errorf("failed to read private key: %w", err)
		}
		if err := opcua.CheckPrivateKey(key); err != nil {
			return opcua.Credential{}, fmt.Errorf("invalid private key %s: %w", keyFile, err)
		}
		return opcua.CertificateCredential(opcua.UserTokenPolicy{TokenType: opcua.UserTokenTypeCertificate}, cert, key), nil

	default:
		return opcua.Credential{}, fmt.Errorf("unknown auth method: %s", viper.GetString("auth"))
	}
}

// newClient builds a client for the configured relay and starts the
// metrics endpoint when one is configured. The returned cleanup closes both.
func newClient() (*opcua.Client, func(), error) {
	opts, err := buildClientOptions()
	if err != nil {
		return nil, nil, err
	}
	client, err := opcua.NewClient(viper.GetString("relay"), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create client: %w", err)
	}

	stopMetrics := serveMetrics(client)
	return client, func() {
		client.Close()
		stopMetrics()
	}, nil
}

// withSession runs fn against a client with an active session on the
// configured endpoint.
func withSession(fn func(ctx context.Context, client *opcua.Client) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout())
	defer cancel()

	cred, err := buildCredential()
	if err != nil {
		return err
	}
	client, cleanup, err := newClient()
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := client.ConnectAndActivate(ctx, viper.GetString("endpoint"), cred); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer client.CloseSession(context.Background())

	return fn(ctx, client)
}

func serveMetrics(client *opcua.Client) func() {
	addr := viper.GetString("metrics-addr")
	if addr == "" {
		return func() {}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(opcua.NewCollector(client.Metrics(), prometheus.Labels{"relay": client.RelayURL()}))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

// parseNodeIDs parses every argument, failing on the first bad one.
func parseNodeIDs(raw []string) ([]opcua.NodeID, error) {
	ids := make([]opcua.NodeID, 0, len(raw))
	for _, s := range raw {
		id, err := opcua.ParseNodeID(s)
		if err != nil {
			return nil, fmt.Errorf("invalid node ID %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
