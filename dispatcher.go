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
	"sync"
	"time"
)

// frameSender is the part of the relay link the dispatcher writes to.
type frameSender interface {
	Send(ctx context.Context, frame []byte) error
}

type result struct {
	data json.RawMessage
	err  error
}

type pendingRequest struct {
	op    Operation
	id    uint64
	start time.Time
	timer *time.Timer
	done  chan result
}

// dispatcher correlates relay replies with outstanding requests by id.
// Every request is settled exactly once: by its reply, its timer, its
// caller's context or the loss of the link, whichever removes it from the
// in-flight map first.
type dispatcher struct {
	link    frameSender
	timeout time.Duration
	logger  *slog.Logger
	metrics *Metrics
	ids     RequestIDGenerator

	mu       sync.Mutex
	inflight map[uint64]*pendingRequest
}

func newDispatcher(link frameSender, timeout time.Duration, logger *slog.Logger, metrics *Metrics) *dispatcher {
	return &dispatcher{
		link:     link,
		timeout:  timeout,
		logger:   logger,
		metrics:  metrics,
		inflight: make(map[uint64]*pendingRequest),
	}
}

// call sends op with params and blocks until the request settles. On
// success the reply data is decoded into out, if out is non-nil.
func (d *dispatcher) call(ctx context.Context, op Operation, params any, out any) error {
	id := d.ids.Next()
	frame, err := encodeRequest(op, id, params)
	if err != nil {
		return err
	}

	p := &pendingRequest{
		op:    op,
		id:    id,
		start: time.Now(),
		done:  make(chan result, 1),
	}

	d.mu.Lock()
	d.inflight[id] = p
	if d.timeout > 0 {
		p.timer = time.AfterFunc(d.timeout, func() {
			d.settle(id, result{err: &RequestError{Op: op, ID: id, Err: ErrTimeout}})
		})
	}
	d.mu.Unlock()

	d.metrics.RequestsTotal.Add(1)
	d.metrics.PendingRequests.Add(1)
	d.metrics.ForOperation(op).Requests.Add(1)

	if err := d.link.Send(ctx, frame); err != nil {
		d.settle(id, result{err: &RequestError{Op: op, ID: id, Err: err}})
	}

	var r result
	select {
	case r = <-p.done:
	case <-ctx.Done():
		d.settle(id, result{err: &RequestError{Op: op, ID: id, Err: ctx.Err()}})
		r = <-p.done
	}

	return d.finish(p, r, out)
}

func (d *dispatcher) finish(p *pendingRequest, r result, out any) error {
	elapsed := time.Since(p.start)
	om := d.metrics.ForOperation(p.op)

	if r.err != nil {
		om.Errors.Add(1)
		var relayErr *RelayError
		switch {
		case errors.As(r.err, &relayErr):
			d.metrics.RelayErrors.Add(1)
		case errors.Is(r.err, ErrTimeout):
			d.metrics.Timeouts.Add(1)
		case errors.Is(r.err, ErrLinkClosed):
			d.metrics.LinkClosedErrors.Add(1)
		}
		d.logger.Debug("request failed",
			slog.String("op", p.op.String()),
			slog.Uint64("request_id", p.id),
			slog.Duration("duration", elapsed),
			slog.String("error", r.err.Error()))
		return r.err
	}

	d.metrics.RequestsSuccess.Add(1)
	d.metrics.Latency.Observe(elapsed)
	om.Latency.Observe(elapsed)
	d.logger.Debug("request completed",
		slog.String("op", p.op.String()),
		slog.Uint64("request_id", p.id),
		slog.Duration("duration", elapsed))

	if out == nil || !present(r.data) {
		return nil
	}
	if err := json.Unmarshal(r.data, out); err != nil {
		return &RequestError{Op: p.op, ID: p.id, Err: fmt.Errorf("decode reply: %w", err)}
	}
	return nil
}

// take removes the request from the in-flight map. Only the caller that
// gets a non-nil result may deliver to it.
func (d *dispatcher) take(id uint64) *pendingRequest {
	d.mu.Lock()
	p, ok := d.inflight[id]
	if ok {
		delete(d.inflight, id)
	}
	d.mu.Unlock()
	if !ok {
		return nil
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	d.metrics.PendingRequests.Add(-1)
	return p
}

func (d *dispatcher) settle(id uint64, r result) bool {
	p := d.take(id)
	if p == nil {
		return false
	}
	p.done <- r
	return true
}

// handleFrame is the link's frame handler. A frame that does not parse is
// returned as an error so the link treats it as fatal.
func (d *dispatcher) handleFrame(frame []byte) error {
	rep, err := decodeReply(frame)
	if err != nil {
		return err
	}
	if rep.ID == nil {
		d.discard(0, "no id")
		return nil
	}

	p := d.take(*rep.ID)
	if p == nil {
		d.discard(*rep.ID, "no pending request")
		return nil
	}

	if rep.failed() {
		p.done <- result{err: decodeRelayError(p.op, rep.Error)}
		return nil
	}
	p.done <- result{data: rep.Data}
	return nil
}

func (d *dispatcher) discard(id uint64, reason string) {
	d.metrics.DiscardedFrames.Add(1)
	d.logger.Debug("discarding relay frame", slog.Uint64("request_id", id), slog.String("reason", reason))
}

// failAll fails every outstanding request with ErrLinkClosed and leaves the
// in-flight map empty.
func (d *dispatcher) failAll(cause error) int {
	d.mu.Lock()
	inflight := d.inflight
	d.inflight = make(map[uint64]*pendingRequest)
	d.mu.Unlock()

	linkErr := ErrLinkClosed
	if cause != nil && !errors.Is(cause, ErrLinkClosed) {
		linkErr = fmt.Errorf("%w: %w", ErrLinkClosed, cause)
	}

	for id, p := range inflight {
		if p.timer != nil {
			p.timer.Stop()
		}
		d.metrics.PendingRequests.Add(-1)
		p.done <- result{err: &RequestError{Op: p.op, ID: id, Err: linkErr}}
	}
	return len(inflight)
}

// pending returns the number of outstanding requests.
func (d *dispatcher) pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}
