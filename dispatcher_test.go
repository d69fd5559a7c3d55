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
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSender captures outbound frames.
type fakeSender struct {
	frames chan []byte
	err    error
}

func newFakeSender() *fakeSender {
	return &fakeSender{frames: make(chan []byte, 64)}
}

func (f *fakeSender) Send(ctx context.Context, frame []byte) error {
	if f.err != nil {
		return f.err
	}
	f.frames <- frame
	return nil
}

// next returns the id and operation of the next outbound frame.
func (f *fakeSender) next(t *testing.T) (uint64, string) {
	t.Helper()
	select {
	case frame := <-f.frames:
		var envelope map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(frame, &envelope))
		var id uint64
		require.NoError(t, json.Unmarshal(envelope["id"], &id))
		for k := range envelope {
			if k != "id" {
				return id, k
			}
		}
		t.Fatalf("frame without operation: %s", frame)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame sent")
	}
	return 0, ""
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(timeout time.Duration) (*dispatcher, *fakeSender) {
	sender := newFakeSender()
	return newDispatcher(sender, timeout, discardLogger(), NewMetrics()), sender
}

type callResult struct {
	out json.RawMessage
	err error
}

func startCall(d *dispatcher, ctx context.Context, op Operation) <-chan callResult {
	ch := make(chan callResult, 1)
	go func() {
		var out json.RawMessage
		err := d.call(ctx, op, nil, &out)
		ch <- callResult{out: out, err: err}
	}()
	return ch
}

func waitResult(t *testing.T, ch <-chan callResult) callResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("call did not settle")
	}
	return callResult{}
}

func TestDispatcherCorrelatesOutOfOrderReplies(t *testing.T) {
	d, sender := newTestDispatcher(time.Second)

	first := startCall(d, context.Background(), OpBrowse)
	id1, op1 := sender.next(t)
	second := startCall(d, context.Background(), OpRead)
	id2, op2 := sender.next(t)

	assert.Equal(t, uint64(1), id1)
	assert.Equal(t, "Browse", op1)
	assert.Equal(t, uint64(2), id2)
	assert.Equal(t, "Read", op2)

	require.NoError(t, d.handleFrame([]byte(fmt.Sprintf(`{"id": %d, "data": "second"}`, id2))))
	require.NoError(t, d.handleFrame([]byte(fmt.Sprintf(`{"id": %d, "data": "first"}`, id1))))

	r1 := waitResult(t, first)
	r2 := waitResult(t, second)
	require.NoError(t, r1.err)
	require.NoError(t, r2.err)
	assert.JSONEq(t, `"first"`, string(r1.out))
	assert.JSONEq(t, `"second"`, string(r2.out))
	assert.Equal(t, 0, d.pending())
	assert.Equal(t, int64(2), d.metrics.RequestsSuccess.Value())
}

func TestDispatcherRelayError(t *testing.T) {
	d, sender := newTestDispatcher(time.Second)

	res := startCall(d, context.Background(), OpActivateSession)
	id, _ := sender.next(t)
	require.NoError(t, d.handleFrame([]byte(fmt.Sprintf(`{"id": %d, "error": "2149515264", "data": {}}`, id))))

	r := waitResult(t, res)
	var relayErr *RelayError
	require.ErrorAs(t, r.err, &relayErr)
	assert.Equal(t, OpActivateSession, relayErr.Op)
	assert.Equal(t, StatusBadUserAccessDenied, relayErr.StatusCode)
	assert.Equal(t, int64(1), d.metrics.RelayErrors.Value())
}

func TestDispatcherTimeoutDiscardsLateReply(t *testing.T) {
	d, sender := newTestDispatcher(50 * time.Millisecond)

	res := startCall(d, context.Background(), OpRead)
	id, _ := sender.next(t)

	r := waitResult(t, res)
	assert.ErrorIs(t, r.err, ErrTimeout)
	var reqErr *RequestError
	require.ErrorAs(t, r.err, &reqErr)
	assert.Equal(t, id, reqErr.ID)
	assert.Equal(t, 0, d.pending())

	require.NoError(t, d.handleFrame([]byte(fmt.Sprintf(`{"id": %d, "data": 1}`, id))))
	assert.Equal(t, int64(1), d.metrics.DiscardedFrames.Value())
	assert.Equal(t, int64(1), d.metrics.Timeouts.Value())
}

func TestDispatcherContextCancel(t *testing.T) {
	d, sender := newTestDispatcher(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	res := startCall(d, ctx, OpBrowse)
	sender.next(t)
	cancel()

	r := waitResult(t, res)
	assert.ErrorIs(t, r.err, context.Canceled)
	assert.Equal(t, 0, d.pending())
}

func TestDispatcherSendFailure(t *testing.T) {
	d, sender := newTestDispatcher(time.Minute)
	sender.err = ErrNotConnected

	var out json.RawMessage
	err := d.call(context.Background(), OpBrowse, nil, &out)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 0, d.pending())
	assert.Equal(t, int64(0), d.metrics.PendingRequests.Value())
}

func TestDispatcherFailAll(t *testing.T) {
	d, sender := newTestDispatcher(time.Minute)

	const n = 5
	results := make([]<-chan callResult, n)
	for i := range results {
		results[i] = startCall(d, context.Background(), OpRead)
		sender.next(t)
	}
	require.Equal(t, n, d.pending())

	cause := errors.New("read relay frame: EOF")
	assert.Equal(t, n, d.failAll(cause))

	for _, ch := range results {
		r := waitResult(t, ch)
		assert.ErrorIs(t, r.err, ErrLinkClosed)
		assert.ErrorIs(t, r.err, cause)
	}
	assert.Equal(t, 0, d.pending())
	assert.Equal(t, int64(n), d.metrics.LinkClosedErrors.Value())

	// Identifiers keep increasing after a failure.
	startCall(d, context.Background(), OpRead)
	id, _ := sender.next(t)
	assert.Equal(t, uint64(n+1), id)
	d.failAll(ErrLinkClosed)
}

func TestDispatcherFrames(t *testing.T) {
	d, _ := newTestDispatcher(time.Second)

	assert.ErrorIs(t, d.handleFrame([]byte(`{"id": 1, `)), ErrProtocolViolation)
	assert.NoError(t, d.handleFrame([]byte(`{"data": 1}`)))
	assert.NoError(t, d.handleFrame([]byte(`{"id": 99, "data": 1}`)))
	assert.Equal(t, int64(2), d.metrics.DiscardedFrames.Value())
}

func TestDispatcherDecodeFailure(t *testing.T) {
	d, sender := newTestDispatcher(time.Second)

	ch := make(chan error, 1)
	go func() {
		var out []string
		ch <- d.call(context.Background(), OpBrowse, nil, &out)
	}()
	id, _ := sender.next(t)
	require.NoError(t, d.handleFrame([]byte(fmt.Sprintf(`{"id": %d, "data": {"not": "a list"}}`, id))))

	select {
	case err := <-ch:
		var reqErr *RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, OpBrowse, reqErr.Op)
	case <-time.After(2 * time.Second):
		t.Fatal("call did not settle")
	}
}
