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
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	opcua "github.com/edgeo-scada/opcua-web"
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Discover OPC UA servers and endpoints",
	Long: `Discover the servers and endpoints known to an OPC UA endpoint.

Only the Hello step is performed, no secure channel or session is opened.
When GetEndpoints fails on the endpoint URL the common /discovery
suffixes are tried on the same link.

Examples:
  edgeo-opcua-web discovery -r ws://relay/ws -e opc.tcp://localhost:4840
  edgeo-opcua-web discovery -e opc.tcp://plc:4840 --server-uri urn:plc -o json`,
	RunE: runDiscovery,
}

var discoveryServerURIs []string

func init() {
	discoveryCmd.Flags().StringArrayVar(&discoveryServerURIs, "server-uri", nil, "Restrict FindServers to these application URIs")
}

type discoveryOutput struct {
	DiscoveryURL string                         `json:"discoveryUrl"`
	Servers      []opcua.ApplicationDescription `json:"servers"`
	Endpoints    []endpointOutput               `json:"endpoints"`
}

type endpointOutput struct {
	opcua.EndpointDescription
	Certificate *opcua.CertificateInfo `json:"certificate,omitempty"`
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout())
	defer cancel()

	endpoint := viper.GetString("endpoint")
	client, cleanup, err := newClient()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := client.Hello(ctx, endpoint); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	var lastErr error
	for _, discoveryURL := range buildDiscoveryURLs(endpoint) {
		if viper.GetBool("verbose") {
			fmt.Printf("Trying discovery URL: %s\n", discoveryURL)
		}
		out, err := discover(ctx, client, discoveryURL)
		if err != nil {
			lastErr = err
			if opcua.IsLinkClosed(err) || opcua.IsTimeout(err) {
				break
			}
			if viper.GetBool("verbose") {
				fmt.Printf("  Failed: %v\n", err)
			}
			continue
		}
		if jsonOutput() {
			return printJSON(out)
		}
		displayDiscoveryResults(out)
		return nil
	}
	return fmt.Errorf("discovery failed: %w", lastErr)
}

func buildDiscoveryURLs(baseURL string) []string {
	urls := []string{baseURL}
	base := strings.TrimSuffix(baseURL, "/")
	if strings.HasSuffix(strings.ToLower(base), "/discovery") {
		return urls
	}
	for _, suffix := range []string{"/discovery", "/Discovery"} {
		urls = append(urls, base+suffix)
	}
	return urls
}

// discover issues GetEndpoints and FindServers side by side on the helloed link.
func discover(ctx context.Context, client *opcua.Client, discoveryURL string) (*discoveryOutput, error) {
	var (
		endpoints []opcua.EndpointDescription
		servers   []opcua.ApplicationDescription
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		endpoints, err = client.GetEndpoints(gctx, discoveryURL)
		if err != nil {
			return fmt.Errorf("get endpoints: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		servers, err = client.FindServers(gctx, discoveryURL, discoveryServerURIs...)
		if err != nil {
			return fmt.Errorf("find servers: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &discoveryOutput{DiscoveryURL: discoveryURL, Servers: servers}
	for _, ep := range endpoints {
		eo := endpointOutput{EndpointDescription: ep}
		if info, err := opcua.InspectCertificate(ep.ServerCertificate); err == nil {
			eo.Certificate = info
		}
		out.Endpoints = append(out.Endpoints, eo)
	}
	return out, nil
}

func displayDiscoveryResults(out *discoveryOutput) {
	fmt.Printf("OPC UA Discovery Results\n")
	fmt.Printf("========================\n\n")
	fmt.Printf("Discovery URL: %s\n\n", out.DiscoveryURL)

	fmt.Printf("Servers (%d):\n", len(out.Servers))
	for _, server := range out.Servers {
		fmt.Printf("  Application URI:  %s\n", server.ApplicationURI)
		fmt.Printf("  Product URI:      %s\n", server.ProductURI)
		fmt.Printf("  Application Name: %s\n", server.ApplicationName.Text)
		fmt.Printf("  Application Type: %s\n", getApplicationTypeName(server.ApplicationType))
		if len(server.DiscoveryURLs) > 0 {
			fmt.Printf("  Discovery URLs:\n")
			for _, url := range server.DiscoveryURLs {
				fmt.Printf("    - %s\n", url)
			}
		}
		fmt.Println()
	}

	if len(out.Endpoints) == 0 {
		fmt.Println("No endpoints found.")
		return
	}

	fmt.Printf("Available Endpoints (%d):\n\n", len(out.Endpoints))
	for i, ep := range out.Endpoints {
		fmt.Printf("[%d] %s\n", i+1, ep.EndpointURL)
		fmt.Printf("    Security Policy: %s\n", ep.SecurityPolicyURI.Name())
		fmt.Printf("    Security Mode:   %s\n", ep.SecurityMode)
		fmt.Printf("    Security Level:  %d\n", ep.SecurityLevel)
		if ep.TransportProfileURI != "" {
			fmt.Printf("    Transport:       %s\n", ep.TransportProfileURI)
		}

		if len(ep.UserIdentityTokens) > 0 {
			fmt.Printf("    Authentication:\n")
			for _, token := range ep.UserIdentityTokens {
				if token.SecurityPolicyURI != "" && token.SecurityPolicyURI != string(opcua.SecurityPolicyNone) {
					fmt.Printf("      - %s (%s, requires %s)\n",
						token.PolicyID, token.TokenType, opcua.SecurityPolicy(token.SecurityPolicyURI).Name())
				} else {
					fmt.Printf("      - %s (%s)\n", token.PolicyID, token.TokenType)
				}
			}
		}

		if c := ep.Certificate; c != nil {
			fmt.Printf("    Certificate:     %s\n", c.Subject)
			fmt.Printf("      Thumbprint:    %s\n", c.Thumbprint)
			fmt.Printf("      Valid:         %s to %s\n", c.NotBefore.Format(time.DateOnly), c.NotAfter.Format(time.DateOnly))
		}
		fmt.Println()
	}
}
