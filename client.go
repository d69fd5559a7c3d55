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

package opcua

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/edgeo-scada/opcua-web/internal/transport"
)

// ConnectionState represents the state of the link to the relay.
type ConnectionState = transport.State

// Link states.
const (
	StateDisconnected = transport.StateDisconnected
	StateConnecting   = transport.StateConnecting
	StateConnected    = transport.StateConnected
)

// Client is an OPC UA client that talks to servers through a WebSocket
// relay. All methods are safe for concurrent use; Browse and Read calls are
// fully interleaved over the single relay socket.
type Client struct {
	id       string
	relayURL string
	opts     *clientOptions

	link    *transport.Link
	disp    *dispatcher
	seq     sequencer
	metrics *Metrics

	mu     sync.Mutex
	closed bool

	logger *slog.Logger
}

// NewClient creates a client for the relay at relayURL (ws:// or wss://;
// http:// and https:// are mapped to their WebSocket equivalents). No
// connection is made until Connect or Hello.
func NewClient(relayURL string, opts ...Option) (*Client, error) {
	if relayURL == "" {
		return nil, errors.New("opcua: relay URL cannot be empty")
	}
	normalized, err := normalizeRelayURL(relayURL)
	if err != nil {
		return nil, err
	}

	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	metrics := options.metrics
	if metrics == nil {
		metrics = NewMetrics()
	}

	header := options.header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if header.Get("User-Agent") == "" {
		header.Set("User-Agent", UserAgent())
	}

	id := uuid.NewString()
	logger := options.logger.With(slog.String("client_id", id))

	c := &Client{
		id:       id,
		relayURL: normalized,
		opts:     options,
		metrics:  metrics,
		logger:   logger,
	}

	c.link = transport.NewLink(normalized,
		transport.WithDialTimeout(options.handshakeTimeout),
		transport.WithHeader(header),
		transport.WithReadLimit(options.readLimit),
		transport.WithLogger(logger),
		transport.WithFrameHandler(func(frame []byte) error {
			return c.disp.handleFrame(frame)
		}),
		transport.WithLossHandler(c.handleLinkLoss),
	)
	c.disp = newDispatcher(c.link, options.requestTimeout, logger, metrics)

	return c, nil
}

func normalizeRelayURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("opcua: invalid relay URL %q: %w", raw, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("opcua: unsupported relay URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("opcua: relay URL %q has no host", raw)
	}
	return u.String(), nil
}

// Connect opens the link to the relay. It fails with ErrAlreadyConnected
// while the link is connecting or connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClientClosed
	}
	return c.link.Open(ctx)
}

// Disconnect closes the link. Outstanding requests fail with ErrLinkClosed
// and the handshake returns to Idle. The disconnect callback is not invoked.
func (c *Client) Disconnect() error {
	if err := c.link.Close(); err != nil {
		return err
	}
	c.disp.failAll(ErrLinkClosed)
	c.seq.reset()
	return nil
}

// Close disconnects if needed and marks the client unusable.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.Disconnect(); err != nil && !errors.Is(err, ErrAlreadyDisconnected) {
		return err
	}
	return nil
}

func (c *Client) handleLinkLoss(err error) {
	c.metrics.LinkLosses.Add(1)
	failed := c.disp.failAll(err)
	c.seq.reset()

	c.logger.Warn("relay link lost",
		slog.Int("failed_requests", failed),
		slog.String("error", err.Error()))

	if c.opts.onDisconnect != nil {
		c.opts.onDisconnect(err)
	}
}

// ConnectAndActivate runs the whole handshake against endpointURL: Hello,
// OpenSecureChannel with the configured policy and mode, CreateSession, then
// ActivateSession with a token policy of the credential's type picked from
// the advertised endpoints. cred.Policy.PolicyID may be left empty.
func (c *Client) ConnectAndActivate(ctx context.Context, endpointURL string, cred Credential) (*Session, error) {
	if err := c.Hello(ctx, endpointURL); err != nil {
		return nil, fmt.Errorf("hello: %w", err)
	}

	if err := c.OpenSecureChannel(ctx, c.opts.secureChannelLifetime, c.opts.securityPolicy, c.opts.securityMode, nil); err != nil {
		return nil, fmt.Errorf("open secure channel: %w", err)
	}

	session, err := c.CreateSession(ctx, c.opts.sessionName, c.opts.sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if cred.Policy.PolicyID == "" {
		policy, ok := pickTokenPolicy(session.ServerEndpoints, c.opts.securityPolicy, cred.TokenType())
		if !ok {
			return nil, fmt.Errorf("activate session: %w (%s)", ErrNoTokenPolicy, cred.TokenType())
		}
		cred.Policy = policy
	}

	if err := c.ActivateSession(ctx, cred); err != nil {
		return nil, fmt.Errorf("activate session: %w", err)
	}
	return session, nil
}

// pickTokenPolicy prefers endpoints matching the channel policy, then falls
// back to any endpoint.
func pickTokenPolicy(endpoints []EndpointDescription, policy SecurityPolicy, t UserTokenType) (UserTokenPolicy, bool) {
	for i := range endpoints {
		if endpoints[i].SecurityPolicyURI != policy {
			continue
		}
		if p, ok := endpoints[i].FindTokenPolicy(t); ok {
			return p, true
		}
	}
	for i := range endpoints {
		if p, ok := endpoints[i].FindTokenPolicy(t); ok {
			return p, true
		}
	}
	return UserTokenPolicy{}, false
}

// State returns the current link state.
func (c *Client) State() ConnectionState {
	return c.link.State()
}

// HandshakeState returns the current handshake state.
func (c *Client) HandshakeState() HandshakeState {
	return c.seq.current()
}

// IsSessionActive returns true if the session is active.
func (c *Client) IsSessionActive() bool {
	return c.HandshakeState() == HandshakeSessionActive
}

// SecurityContext returns a copy of the negotiated security context, or nil
// before OpenSecureChannel.
func (c *Client) SecurityContext() *SecurityContext {
	c.seq.mu.Lock()
	defer c.seq.mu.Unlock()
	if c.seq.security == nil {
		return nil
	}
	sc := *c.seq.security
	sc.ServerCertificate = append([]byte(nil), sc.ServerCertificate...)
	return &sc
}

// Session returns the current session, or nil.
func (c *Client) Session() *Session {
	c.seq.mu.Lock()
	defer c.seq.mu.Unlock()
	if c.seq.session == nil {
		return nil
	}
	s := *c.seq.session
	return &s
}

// Metrics returns the client metrics.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// ID returns the identifier attached to the client's log records.
func (c *Client) ID() string {
	return c.id
}

// RelayURL returns the relay URL.
func (c *Client) RelayURL() string {
	return c.relayURL
}
