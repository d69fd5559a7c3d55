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
	"log/slog"
	"net/http"
	"time"
)

// Default settings.
const (
	// DefaultRequestTimeout bounds every relay request.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultHandshakeTimeout bounds the WebSocket opening handshake.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultSessionTimeout is the session timeout requested by ConnectAndActivate.
	DefaultSessionTimeout = time.Hour

	// DefaultSecureChannelLifetime is the channel lifetime requested by ConnectAndActivate.
	DefaultSecureChannelLifetime = time.Hour

	// DefaultReadLimit caps the size of one relay frame.
	DefaultReadLimit int64 = 16 * 1024 * 1024
)

// Option is a functional option for configuring the client.
type Option func(*clientOptions)

type clientOptions struct {
	// Link settings
	requestTimeout   time.Duration
	handshakeTimeout time.Duration
	header           http.Header
	readLimit        int64

	// Handshake defaults used by ConnectAndActivate
	securityPolicy        SecurityPolicy
	securityMode          MessageSecurityMode
	sessionName           string
	sessionTimeout        time.Duration
	secureChannelLifetime time.Duration

	// Callbacks
	onDisconnect       func(error)
	onSessionActivated func()
	onSessionClosed    func()

	logger  *slog.Logger
	metrics *Metrics
}

func defaultOptions() *clientOptions {
	return &clientOptions{
		requestTimeout:        DefaultRequestTimeout,
		handshakeTimeout:      DefaultHandshakeTimeout,
		readLimit:             DefaultReadLimit,
		securityPolicy:        SecurityPolicyNone,
		securityMode:          MessageSecurityModeNone,
		sessionName:           "opcua web session",
		sessionTimeout:        DefaultSessionTimeout,
		secureChannelLifetime: DefaultSecureChannelLifetime,
		logger:                slog.Default(),
	}
}

// WithRequestTimeout sets how long a request waits for its reply.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.requestTimeout = d
	}
}

// WithHandshakeTimeout bounds the WebSocket opening handshake with the relay.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.handshakeTimeout = d
	}
}

// WithHeaders sets extra HTTP headers for the WebSocket upgrade request,
// e.g. a session cookie expected by the relay.
func WithHeaders(h http.Header) Option {
	return func(o *clientOptions) {
		o.header = h.Clone()
	}
}

// WithReadLimit caps the size of an inbound relay frame.
func WithReadLimit(n int64) Option {
	return func(o *clientOptions) {
		o.readLimit = n
	}
}

// WithSecurityPolicy sets the policy ConnectAndActivate opens the channel with.
func WithSecurityPolicy(policy SecurityPolicy) Option {
	return func(o *clientOptions) {
		o.securityPolicy = policy
	}
}

// WithSecurityMode sets the mode ConnectAndActivate opens the channel with.
func WithSecurityMode(mode MessageSecurityMode) Option {
	return func(o *clientOptions) {
		o.securityMode = mode
	}
}

// WithSessionName sets the session name.
func WithSessionName(name string) Option {
	return func(o *clientOptions) {
		o.sessionName = name
	}
}

// WithSessionTimeout sets the session timeout.
func WithSessionTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.sessionTimeout = d
	}
}

// WithSecureChannelLifetime sets the requested secure channel lifetime.
func WithSecureChannelLifetime(d time.Duration) Option {
	return func(o *clientOptions) {
		o.secureChannelLifetime = d
	}
}

// WithOnDisconnect sets the callback invoked when the relay link is lost.
// It is not invoked for Disconnect.
func WithOnDisconnect(fn func(error)) Option {
	return func(o *clientOptions) {
		o.onDisconnect = fn
	}
}

// WithOnSessionActivated sets the callback invoked when a session becomes active.
func WithOnSessionActivated(fn func()) Option {
	return func(o *clientOptions) {
		o.onSessionActivated = fn
	}
}

// WithOnSessionClosed sets the callback invoked when an active session is
// closed by CloseSession.
func WithOnSessionClosed(fn func()) Option {
	return func(o *clientOptions) {
		o.onSessionClosed = fn
	}
}

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithMetrics shares a Metrics instance, e.g. one already registered with
// a Prometheus collector.
func WithMetrics(m *Metrics) Option {
	return func(o *clientOptions) {
		o.metrics = m
	}
}
