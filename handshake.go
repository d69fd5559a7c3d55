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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/edgeo-scada/opcua-web/internal/transport"
)

// HandshakeState tracks progress through the OPC UA session establishment.
type HandshakeState int

const (
	HandshakeIdle HandshakeState = iota
	HandshakeEndpointHelloed
	HandshakeSecureChannelOpen
	HandshakeSessionCreated
	HandshakeSessionActive
)

// String returns the string representation of the handshake state.
func (s HandshakeState) String() string {
	switch s {
	case HandshakeIdle:
		return "Idle"
	case HandshakeEndpointHelloed:
		return "EndpointHelloed"
	case HandshakeSecureChannelOpen:
		return "SecureChannelOpen"
	case HandshakeSessionCreated:
		return "SessionCreated"
	case HandshakeSessionActive:
		return "SessionActive"
	default:
		return "Unknown"
	}
}

// sequencer is the handshake state machine. At most one transition is in
// flight; a failed transition leaves the state where it was. reset bumps the
// epoch so a transition that straddles a link loss is not applied.
type sequencer struct {
	mu       sync.Mutex
	state    HandshakeState
	inflight Operation
	epoch    uint64
	security *SecurityContext
	session  *Session
}

func (s *sequencer) begin(op Operation, want ...HandshakeState) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inflight != "" {
		return 0, &SequenceError{Op: op, State: s.state, Want: want, InFlight: s.inflight}
	}
	if !slices.Contains(want, s.state) {
		return 0, &SequenceError{Op: op, State: s.state, Want: want}
	}
	s.inflight = op
	return s.epoch, nil
}

// end finishes the transition started at epoch. With ok set it moves to next
// and runs apply under the lock. It reports false if a reset intervened.
func (s *sequencer) end(epoch uint64, ok bool, next HandshakeState, apply func(*sequencer)) (HandshakeState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch {
		return s.state, false
	}
	s.inflight = ""
	prev := s.state
	if ok {
		s.state = next
		if apply != nil {
			apply(s)
		}
	}
	return prev, true
}

// require checks that the state is one of want without claiming the
// sequencer; services run concurrently with each other.
func (s *sequencer) require(op Operation, want ...HandshakeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !slices.Contains(want, s.state) {
		return &SequenceError{Op: op, State: s.state, Want: want}
	}
	return nil
}

func (s *sequencer) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = HandshakeIdle
	s.inflight = ""
	s.epoch++
	s.security = nil
	s.session = nil
}

func (s *sequencer) current() HandshakeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition runs one handshake step: precondition, relay call, state change.
func (c *Client) transition(ctx context.Context, op Operation, want []HandshakeState, next HandshakeState, params, out any, apply func(*sequencer)) error {
	epoch, err := c.seq.begin(op, want...)
	if err != nil {
		c.metrics.SequenceRejected.Add(1)
		return err
	}
	return c.complete(ctx, epoch, op, next, params, out, apply)
}

func (c *Client) complete(ctx context.Context, epoch uint64, op Operation, next HandshakeState, params, out any, apply func(*sequencer)) error {
	err := c.disp.call(ctx, op, params, out)
	prev, current := c.seq.end(epoch, err == nil, next, apply)
	if err != nil {
		return err
	}
	if !current {
		return &RequestError{Op: op, Err: ErrLinkClosed}
	}
	c.logger.Info("handshake transition",
		slog.String("op", op.String()),
		slog.String("from", prev.String()),
		slog.String("to", next.String()))
	return nil
}

// Hello binds the relay to an OPC UA endpoint. The relay link is opened
// first if needed. Without an explicit profile the transport profile is
// inferred from the URL scheme; an unknown scheme fails with
// ErrUnknownTransportProfile before anything is sent.
func (c *Client) Hello(ctx context.Context, endpointURL string, transportProfileURI ...string) error {
	profile := ""
	if len(transportProfileURI) > 0 {
		profile = transportProfileURI[0]
	}
	if profile == "" {
		p, err := InferTransportProfile(endpointURL)
		if err != nil {
			return err
		}
		profile = p
	}

	epoch, err := c.seq.begin(OpConnectEndpoint, HandshakeIdle)
	if err != nil {
		c.metrics.SequenceRejected.Add(1)
		return err
	}

	if c.link.State() == transport.StateDisconnected {
		if err := c.Connect(ctx); err != nil && !errors.Is(err, ErrAlreadyConnected) {
			c.seq.end(epoch, false, HandshakeIdle, nil)
			return err
		}
	}

	params := connectEndpointParams{
		EndpointURL:         endpointURL,
		TransportProfileURI: profile,
	}
	return c.complete(ctx, epoch, OpConnectEndpoint, HandshakeEndpointHelloed, params, nil, nil)
}

// OpenSecureChannel opens a secure channel on the helloed endpoint and
// records the resulting SecurityContext. serverCertificate is forwarded as
// the relay sent it in an EndpointDescription; it may be nil. The context
// holds its DER form.
func (c *Client) OpenSecureChannel(ctx context.Context, lifetime time.Duration, policy SecurityPolicy, mode MessageSecurityMode, serverCertificate json.RawMessage) error {
	if policy == "" {
		policy = SecurityPolicyNone
	}
	if mode == MessageSecurityModeInvalid {
		return fmt.Errorf("opcua: invalid message security mode %d", mode)
	}

	der, err := DecodeCertificateBlob(serverCertificate)
	if err != nil {
		return fmt.Errorf("opcua: server certificate: %w", err)
	}

	params := openSecureChannelParams{
		TimeoutMs:         lifetime.Milliseconds(),
		SecurityPolicyURI: policy,
		SecurityMode:      mode,
		ServerCertificate: serverCertificate,
	}
	sc := &SecurityContext{
		PolicyURI:         policy,
		Mode:              mode,
		ServerCertificate: der,
		Lifetime:          lifetime,
	}

	return c.transition(ctx, OpOpenSecureChannel,
		[]HandshakeState{HandshakeEndpointHelloed}, HandshakeSecureChannelOpen,
		params, nil,
		func(s *sequencer) { s.security = sc })
}

// CloseSecureChannel closes the secure channel, returning to EndpointHelloed.
func (c *Client) CloseSecureChannel(ctx context.Context) error {
	return c.transition(ctx, OpCloseSecureChannel,
		[]HandshakeState{HandshakeSecureChannelOpen}, HandshakeEndpointHelloed,
		nil, nil,
		func(s *sequencer) { s.security = nil })
}

// CreateSession creates a session. The returned Session lists the endpoints
// the server advertises so the caller can pick a token policy.
func (c *Client) CreateSession(ctx context.Context, name string, timeout time.Duration) (*Session, error) {
	if name == "" {
		name = c.opts.sessionName
	}
	if timeout <= 0 {
		timeout = c.opts.sessionTimeout
	}

	params := createSessionParams{
		SessionName:    name,
		SessionTimeout: timeout.Milliseconds(),
	}
	session := &Session{}
	err := c.transition(ctx, OpCreateSession,
		[]HandshakeState{HandshakeSecureChannelOpen}, HandshakeSessionCreated,
		params, session,
		func(s *sequencer) {
			session.Name = name
			session.Timeout = timeout
			stored := *session
			s.session = &stored
		})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ActivateSession activates the created session with cred.
func (c *Client) ActivateSession(ctx context.Context, cred Credential) error {
	params, err := cred.params()
	if err != nil {
		return err
	}

	err = c.transition(ctx, OpActivateSession,
		[]HandshakeState{HandshakeSessionCreated}, HandshakeSessionActive,
		params, nil, nil)
	if err != nil {
		return err
	}
	if c.opts.onSessionActivated != nil {
		c.opts.onSessionActivated()
	}
	return nil
}

// CloseSession closes the session, returning to SecureChannelOpen. A session
// that was created but never activated may be closed too.
func (c *Client) CloseSession(ctx context.Context) error {
	wasActive := c.seq.current() == HandshakeSessionActive
	err := c.transition(ctx, OpCloseSession,
		[]HandshakeState{HandshakeSessionActive, HandshakeSessionCreated}, HandshakeSecureChannelOpen,
		nil, nil,
		func(s *sequencer) { s.session = nil })
	if err != nil {
		return err
	}
	if wasActive && c.opts.onSessionClosed != nil {
		c.opts.onSessionClosed()
	}
	return nil
}
