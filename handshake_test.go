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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequencer(t *testing.T) {
	var s sequencer

	_, err := s.begin(OpOpenSecureChannel, HandshakeEndpointHelloed)
	var seqErr *SequenceError
	require.ErrorAs(t, err, &seqErr)
	assert.Equal(t, HandshakeIdle, seqErr.State)
	assert.Equal(t, []HandshakeState{HandshakeEndpointHelloed}, seqErr.Want)

	epoch, err := s.begin(OpConnectEndpoint, HandshakeIdle)
	require.NoError(t, err)

	_, err = s.begin(OpConnectEndpoint, HandshakeIdle)
	require.ErrorAs(t, err, &seqErr)
	assert.Equal(t, OpConnectEndpoint, seqErr.InFlight)

	// A failed step leaves the state untouched.
	prev, current := s.end(epoch, false, HandshakeEndpointHelloed, nil)
	assert.True(t, current)
	assert.Equal(t, HandshakeIdle, prev)
	assert.Equal(t, HandshakeIdle, s.current())

	epoch, err = s.begin(OpConnectEndpoint, HandshakeIdle)
	require.NoError(t, err)
	_, current = s.end(epoch, true, HandshakeEndpointHelloed, nil)
	assert.True(t, current)
	assert.Equal(t, HandshakeEndpointHelloed, s.current())

	// A reset while a step is in flight orphans the step.
	epoch, err = s.begin(OpOpenSecureChannel, HandshakeEndpointHelloed)
	require.NoError(t, err)
	s.reset()
	_, current = s.end(epoch, true, HandshakeSecureChannelOpen, nil)
	assert.False(t, current)
	assert.Equal(t, HandshakeIdle, s.current())

	assert.NoError(t, s.require(OpConnectEndpoint, HandshakeIdle))
	assert.ErrorIs(t, s.require(OpBrowse, HandshakeSessionActive), ErrSequencing)
}

func TestHandshakeStateString(t *testing.T) {
	assert.Equal(t, "Idle", HandshakeIdle.String())
	assert.Equal(t, "SessionActive", HandshakeSessionActive.String())
	assert.Equal(t, "Unknown", HandshakeState(42).String())
}

func TestHandshakeFullSequence(t *testing.T) {
	srv := newTestServer(t, nil)
	closed := make(chan struct{}, 1)
	c := newTestClient(t, srv, WithOnSessionClosed(func() { closed <- struct{}{} }))
	ctx := context.Background()

	require.NoError(t, c.Hello(ctx, testEndpoint))
	assert.Equal(t, HandshakeEndpointHelloed, c.HandshakeState())
	assert.Equal(t, StateConnected, c.State())

	require.NoError(t, c.OpenSecureChannel(ctx, time.Minute, SecurityPolicyNone, MessageSecurityModeNone, nil))
	sc := c.SecurityContext()
	require.NotNil(t, sc)
	assert.Equal(t, SecurityPolicyNone, sc.PolicyURI)
	assert.Equal(t, MessageSecurityModeNone, sc.Mode)
	assert.Equal(t, time.Minute, sc.Lifetime)

	session, err := c.CreateSession(ctx, "", 0)
	require.NoError(t, err)
	assert.Equal(t, "opcua web session", session.Name)
	assert.Equal(t, DefaultSessionTimeout, session.Timeout)
	assert.Equal(t, HandshakeSessionCreated, c.HandshakeState())

	require.NoError(t, c.ActivateSession(ctx, AnonymousCredential(UserTokenPolicy{PolicyID: "anonymous"})))
	assert.True(t, c.IsSessionActive())
	assert.Equal(t, session.SessionID, c.Session().SessionID)

	require.NoError(t, c.CloseSession(ctx))
	assert.Equal(t, HandshakeSecureChannelOpen, c.HandshakeState())
	assert.Nil(t, c.Session())
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("session closed callback not invoked")
	}

	require.NoError(t, c.CloseSecureChannel(ctx))
	assert.Equal(t, HandshakeEndpointHelloed, c.HandshakeState())
	assert.Nil(t, c.SecurityContext())

	var ops []string
	for _, r := range srv.Requests() {
		ops = append(ops, r.Op)
	}
	assert.Equal(t, []string{
		"ConnectEndpoint", "OpenSecureChannel", "CreateSession",
		"ActivateSession", "CloseSession", "CloseSecureChannel",
	}, ops)

	reqs := srv.Requests()
	assert.JSONEq(t, `{"EndpointUrl": "opc.tcp://localhost:4841", "TransportProfileUri": "`+TransportProfileTCPBinary+`"}`, string(reqs[0].Params))
	assert.JSONEq(t, `{"TimeoutMs": 60000, "SecurityPolicyUri": "`+string(SecurityPolicyNone)+`", "SecurityMode": 1, "ServerCertificate": null}`, string(reqs[1].Params))
	assert.JSONEq(t, `{"SessionName": "opcua web session", "SessionTimeout": 3600000}`, string(reqs[2].Params))
	for i, r := range reqs {
		assert.Equal(t, uint64(i+1), r.ID)
	}
}

func TestHelloExplicitProfile(t *testing.T) {
	srv := newTestServer(t, nil)
	c := newTestClient(t, srv)

	require.NoError(t, c.Hello(context.Background(), "opc.custom://plc", TransportProfileHTTPSBinary))
	reqs := srv.RequestsFor("ConnectEndpoint")
	require.Len(t, reqs, 1)

	var p connectEndpointParams
	require.NoError(t, json.Unmarshal(reqs[0].Params, &p))
	assert.Equal(t, TransportProfileHTTPSBinary, p.TransportProfileURI)
}

func TestHelloUnknownProfileSendsNothing(t *testing.T) {
	srv := newTestServer(t, nil)
	c := newTestClient(t, srv)

	err := c.Hello(context.Background(), "ftp://plc:21")
	assert.ErrorIs(t, err, ErrUnknownTransportProfile)
	assert.Equal(t, 0, srv.Accepted())
	assert.Equal(t, HandshakeIdle, c.HandshakeState())
}

func TestOutOfOrderHandshakeRejected(t *testing.T) {
	srv := newTestServer(t, nil)
	c := newTestClient(t, srv)
	ctx := context.Background()

	err := c.OpenSecureChannel(ctx, time.Minute, SecurityPolicyNone, MessageSecurityModeNone, nil)
	assert.ErrorIs(t, err, ErrSequencing)
	assert.Equal(t, 0, srv.Accepted())

	require.NoError(t, c.Hello(ctx, testEndpoint))
	_, err = c.CreateSession(ctx, "s", time.Minute)
	var seqErr *SequenceError
	require.ErrorAs(t, err, &seqErr)
	assert.Equal(t, OpCreateSession, seqErr.Op)
	assert.Equal(t, HandshakeEndpointHelloed, seqErr.State)

	assert.ErrorIs(t, c.Hello(ctx, testEndpoint), ErrSequencing)
	assert.ErrorIs(t, c.CloseSession(ctx), ErrSequencing)
	assert.Len(t, srv.Requests(), 1)
	assert.Equal(t, int64(4), c.Metrics().SequenceRejected.Value())
}

func TestOpenSecureChannelInvalidMode(t *testing.T) {
	srv := newTestServer(t, nil)
	c := newTestClient(t, srv)
	require.NoError(t, c.Hello(context.Background(), testEndpoint))

	err := c.OpenSecureChannel(context.Background(), time.Minute, SecurityPolicyNone, MessageSecurityModeInvalid, nil)
	assert.Error(t, err)
	assert.Equal(t, HandshakeEndpointHelloed, c.HandshakeState())
}

func TestOpenSecureChannelForwardsCertificate(t *testing.T) {
	srv := newTestServer(t, nil)
	c := newTestClient(t, srv)
	ctx := context.Background()
	require.NoError(t, c.Hello(ctx, testEndpoint))

	cert := json.RawMessage(`"AQID"`)
	require.NoError(t, c.OpenSecureChannel(ctx, time.Second, "", MessageSecurityModeSign, cert))

	reqs := srv.RequestsFor("OpenSecureChannel")
	require.Len(t, reqs, 1)
	assert.JSONEq(t, `{"TimeoutMs": 1000, "SecurityPolicyUri": "`+string(SecurityPolicyNone)+`", "SecurityMode": 2, "ServerCertificate": "AQID"}`, string(reqs[0].Params))
	assert.Equal(t, []byte{1, 2, 3}, c.SecurityContext().ServerCertificate)
}

func TestFailedActivationCanBeRetried(t *testing.T) {
	srv := newTestServer(t, nil)
	c := newTestClient(t, srv)
	ctx := context.Background()

	require.NoError(t, c.Hello(ctx, testEndpoint))
	require.NoError(t, c.OpenSecureChannel(ctx, time.Minute, SecurityPolicyNone, MessageSecurityModeNone, nil))
	_, err := c.CreateSession(ctx, "retry", time.Minute)
	require.NoError(t, err)

	policy := UserTokenPolicy{PolicyID: "username_basic256", TokenType: UserTokenTypeUserName}
	err = c.ActivateSession(ctx, UserNameCredential(policy, "admin", "wrong"))
	assert.True(t, IsUserAccessDenied(err))
	assert.Equal(t, HandshakeSessionCreated, c.HandshakeState())

	require.NoError(t, c.ActivateSession(ctx, UserNameCredential(policy, "admin", "secret")))
	assert.True(t, c.IsSessionActive())
}

func TestConcurrentTransitionRejected(t *testing.T) {
	relay := newHoldingRelay("OpenSecureChannel")
	srv := newTestServer(t, relay)
	c := newTestClient(t, srv)
	ctx := context.Background()
	require.NoError(t, c.Hello(ctx, testEndpoint))

	done := make(chan error, 1)
	go func() {
		done <- c.OpenSecureChannel(ctx, time.Minute, SecurityPolicyNone, MessageSecurityModeNone, nil)
	}()
	held := relay.next(t)

	err := c.OpenSecureChannel(ctx, time.Minute, SecurityPolicyNone, MessageSecurityModeNone, nil)
	var seqErr *SequenceError
	require.ErrorAs(t, err, &seqErr)
	assert.Equal(t, OpOpenSecureChannel, seqErr.InFlight)

	_, err = c.CreateSession(ctx, "s", time.Minute)
	assert.ErrorIs(t, err, ErrSequencing)

	relay.release(held)
	require.NoError(t, <-done)
	assert.Equal(t, HandshakeSecureChannelOpen, c.HandshakeState())
}

func TestTransitionStraddlingLinkLoss(t *testing.T) {
	relay := newHoldingRelay("CreateSession")
	srv := newTestServer(t, relay)
	c := newTestClient(t, srv)
	ctx := context.Background()

	require.NoError(t, c.Hello(ctx, testEndpoint))
	require.NoError(t, c.OpenSecureChannel(ctx, time.Minute, SecurityPolicyNone, MessageSecurityModeNone, nil))

	done := make(chan error, 1)
	go func() {
		_, err := c.CreateSession(ctx, "s", time.Minute)
		done <- err
	}()
	relay.next(t)
	srv.DropAll()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrLinkClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("CreateSession not failed")
	}
	assert.Equal(t, HandshakeIdle, c.HandshakeState())
	assert.Nil(t, c.Session())
}
