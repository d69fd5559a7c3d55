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

// Package relaytest provides an in-process OPC UA WebSocket relay for tests.
// It speaks the relay's JSON envelope and delegates every request to a
// Handler, which decides when and how to reply.
package relaytest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Request is one decoded request envelope.
type Request struct {
	Op     string
	ID     uint64
	Params json.RawMessage
}

// Handler answers relay requests. Handle runs on the connection's reader
// goroutine; a handler that wants to delay or reorder replies keeps the
// request and replies later through the Conn.
type Handler interface {
	Handle(c *Conn, req Request)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(c *Conn, req Request)

// Handle calls f(c, req).
func (f HandlerFunc) Handle(c *Conn, req Request) {
	f(c, req)
}

// Server is a WebSocket relay. NewServer listens on a loopback address;
// New returns one to be mounted as an http.Handler.
type Server struct {
	handler  Handler
	upgrader websocket.Upgrader
	http     *httptest.Server
	logger   *slog.Logger

	mu       sync.Mutex
	conns    map[*Conn]struct{}
	requests []Request
	accepted int
	headers  []http.Header
}

// New creates a relay backed by handler without starting a listener. A nil
// handler serves a fresh Memory relay.
func New(handler Handler, logger *slog.Logger) *Server {
	if handler == nil {
		handler = NewMemory()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		handler: handler,
		logger:  logger,
		conns:   make(map[*Conn]struct{}),
	}
}

// NewServer starts a relay backed by handler on a loopback address.
func NewServer(handler Handler) *Server {
	s := New(handler, nil)
	s.http = httptest.NewServer(s)
	return s
}

// ServeHTTP upgrades the request and serves relay requests until the
// connection closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.serveWS(w, r)
}

// URL returns the ws:// URL of a relay started by NewServer.
func (s *Server) URL() string {
	if s.http == nil {
		return ""
	}
	return "ws" + strings.TrimPrefix(s.http.URL, "http")
}

// Close drops every connection and stops the listener, if any.
func (s *Server) Close() {
	s.DropAll()
	if s.http != nil {
		s.http.Close()
	}
}

// DropAll closes every open connection without a close frame.
func (s *Server) DropAll() {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Drop()
	}
}

// Requests returns a copy of every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// RequestsFor returns the received requests for op.
func (s *Server) RequestsFor(op string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Op == op {
			out = append(out, r)
		}
	}
	return out
}

// Accepted returns how many WebSocket connections were accepted.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Headers returns the opening handshake headers of every accepted
// connection.
func (s *Server) Headers() []http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]http.Header(nil), s.headers...)
}

// OpenConns returns the number of connections currently open.
func (s *Server) OpenConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &Conn{ws: ws, server: s}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.accepted++
	s.headers = append(s.headers, r.Header.Clone())
	s.mu.Unlock()
	s.logger.Debug("relaytest: connection accepted", slog.String("remote", r.RemoteAddr))

	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		req, err := decodeRequest(data)
		if err != nil {
			s.logger.Debug("relaytest: bad request", slog.String("error", err.Error()))
			continue
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		s.handler.Handle(c, req)
	}
}

func decodeRequest(frame []byte) (Request, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return Request{}, err
	}
	var req Request
	for k, v := range envelope {
		if k == "id" {
			if err := json.Unmarshal(v, &req.ID); err != nil {
				return Request{}, fmt.Errorf("bad id: %w", err)
			}
			continue
		}
		if req.Op != "" {
			return Request{}, fmt.Errorf("more than one operation: %s, %s", req.Op, k)
		}
		req.Op = k
		req.Params = v
	}
	if req.Op == "" {
		return Request{}, errors.New("no operation")
	}
	return req, nil
}

// Conn is one accepted relay connection.
type Conn struct {
	ws     *websocket.Conn
	server *Server

	writeMu sync.Mutex
}

// Reply sends {"id": id, "data": data}.
func (c *Conn) Reply(id uint64, data any) error {
	return c.WriteJSON(map[string]any{"id": id, "data": data})
}

// ReplyError sends {"id": id, "error": e}. e may be a number, a string or
// an object, as relays send all three.
func (c *Conn) ReplyError(id uint64, e any) error {
	return c.WriteJSON(map[string]any{"id": id, "error": e})
}

// WriteJSON marshals v and sends it as one text frame.
func (c *Conn) WriteJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.WriteRaw(b)
}

// WriteRaw sends frame verbatim.
func (c *Conn) WriteRaw(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// Drop closes the socket abruptly.
func (c *Conn) Drop() {
	c.ws.Close()
}
