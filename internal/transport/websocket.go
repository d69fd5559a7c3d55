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

// Package transport provides the WebSocket link to an OPC UA relay.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Link errors.
var (
	ErrAlreadyConnected    = errors.New("opcua: already connected")
	ErrAlreadyDisconnected = errors.New("opcua: already disconnected")
	ErrNotConnected        = errors.New("opcua: not connected")
)

// State is the state of the relay link.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the string representation of the link state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// FrameHandler receives every inbound text frame. A non-nil return marks
// the frame as a protocol violation and tears the link down.
type FrameHandler func(frame []byte) error

// LossHandler is told once per socket that the link was lost without the
// owner asking for it.
type LossHandler func(err error)

type linkOptions struct {
	dialTimeout  time.Duration
	writeTimeout time.Duration
	header       http.Header
	readLimit    int64
	logger       *slog.Logger
	onFrame      FrameHandler
	onLoss       LossHandler
}

// LinkOption configures a Link.
type LinkOption func(*linkOptions)

// WithDialTimeout bounds the WebSocket opening handshake.
func WithDialTimeout(d time.Duration) LinkOption {
	return func(o *linkOptions) {
		o.dialTimeout = d
	}
}

// WithWriteTimeout bounds a frame write when the caller's context carries
// no deadline.
func WithWriteTimeout(d time.Duration) LinkOption {
	return func(o *linkOptions) {
		o.writeTimeout = d
	}
}

// WithHeader sets extra HTTP headers sent with the opening handshake.
func WithHeader(h http.Header) LinkOption {
	return func(o *linkOptions) {
		o.header = h
	}
}

// WithReadLimit caps the size of an inbound frame.
func WithReadLimit(n int64) LinkOption {
	return func(o *linkOptions) {
		o.readLimit = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) LinkOption {
	return func(o *linkOptions) {
		o.logger = l
	}
}

// WithFrameHandler sets the inbound frame handler.
func WithFrameHandler(h FrameHandler) LinkOption {
	return func(o *linkOptions) {
		o.onFrame = h
	}
}

// WithLossHandler sets the handler for unexpected link loss.
func WithLossHandler(h LossHandler) LinkOption {
	return func(o *linkOptions) {
		o.onLoss = h
	}
}

// Link owns the single WebSocket connection to the relay. It knows nothing
// about requests; frames go out through Send and come back through the
// frame handler.
type Link struct {
	url  string
	opts linkOptions

	mu    sync.Mutex
	state State
	conn  *websocket.Conn
	gen   uint64

	writeMu sync.Mutex
}

// NewLink creates a link to the relay at url. The socket is not opened
// until Open is called.
func NewLink(url string, opts ...LinkOption) *Link {
	o := linkOptions{
		dialTimeout:  10 * time.Second,
		writeTimeout: 10 * time.Second,
		readLimit:    16 * 1024 * 1024,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Link{
		url:  url,
		opts: o,
	}
}

// URL returns the relay URL.
func (l *Link) URL() string {
	return l.url
}

// State returns the current link state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Open dials the relay. It fails with ErrAlreadyConnected, without side
// effects, unless the link is disconnected. A failed dial is also reported
// to the loss handler.
func (l *Link) Open(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StateDisconnected {
		l.mu.Unlock()
		return ErrAlreadyConnected
	}
	l.state = StateConnecting
	l.gen++
	gen := l.gen
	l.mu.Unlock()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: l.opts.dialTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, l.url, l.opts.header)
	if resp != nil && resp.Body != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	if err != nil {
		err = fmt.Errorf("dial relay %s: %w", l.url, err)
		l.mu.Lock()
		current := l.gen == gen
		if current {
			l.state = StateDisconnected
		}
		l.mu.Unlock()
		if current {
			l.opts.logger.Warn("relay dial failed", slog.String("url", l.url), slog.String("error", err.Error()))
			l.reportLoss(err)
		}
		return err
	}

	l.mu.Lock()
	if l.gen != gen {
		// Closed while the dial was in flight.
		l.mu.Unlock()
		conn.Close()
		return ErrNotConnected
	}
	if l.opts.readLimit > 0 {
		conn.SetReadLimit(l.opts.readLimit)
	}
	l.conn = conn
	l.state = StateConnected
	l.mu.Unlock()

	l.opts.logger.Info("relay link open", slog.String("url", l.url))
	go l.readLoop(conn, gen)
	return nil
}

// Close sends a close frame and shuts the socket. The loss handler is not
// invoked.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.state == StateDisconnected {
		l.mu.Unlock()
		return ErrAlreadyDisconnected
	}
	conn := l.conn
	l.conn = nil
	l.state = StateDisconnected
	l.gen++
	l.mu.Unlock()

	if conn == nil {
		return nil
	}

	l.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	l.writeMu.Unlock()

	l.opts.logger.Info("relay link closed", slog.String("url", l.url))
	return conn.Close()
}

// Send writes one text frame. Writes are serialized; the context deadline,
// if any, bounds the write.
func (l *Link) Send(ctx context.Context, frame []byte) error {
	l.mu.Lock()
	if l.state != StateConnected {
		l.mu.Unlock()
		return ErrNotConnected
	}
	conn := l.conn
	gen := l.gen
	l.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok && l.opts.writeTimeout > 0 {
		deadline = time.Now().Add(l.opts.writeTimeout)
	}

	l.writeMu.Lock()
	conn.SetWriteDeadline(deadline)
	err := conn.WriteMessage(websocket.TextMessage, frame)
	l.writeMu.Unlock()

	if err != nil {
		err = fmt.Errorf("write relay frame: %w", err)
		l.teardown(gen, err)
		return err
	}
	return nil
}

func (l *Link) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			l.teardown(gen, fmt.Errorf("read relay frame: %w", err))
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		if l.opts.onFrame == nil {
			continue
		}
		if err := l.opts.onFrame(data); err != nil {
			l.teardown(gen, err)
			return
		}
	}
}

// teardown drops the socket of generation gen and reports the loss. It is a
// no-op if that socket was already closed, intentionally or not.
func (l *Link) teardown(gen uint64, cause error) {
	l.mu.Lock()
	if l.gen != gen || l.state == StateDisconnected {
		l.mu.Unlock()
		return
	}
	conn := l.conn
	l.conn = nil
	l.state = StateDisconnected
	l.gen++
	l.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	l.opts.logger.Warn("relay link lost", slog.String("url", l.url), slog.String("error", cause.Error()))
	l.reportLoss(cause)
}

func (l *Link) reportLoss(err error) {
	if l.opts.onLoss != nil {
		l.opts.onLoss(err)
	}
}
