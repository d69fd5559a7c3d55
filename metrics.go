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
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Counter is a simple atomic counter.
type Counter struct {
	value atomic.Int64
}

// Add adds delta to the counter.
func (c *Counter) Add(delta int64) {
	c.value.Add(delta)
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	return c.value.Load()
}

// Reset resets the counter to zero.
func (c *Counter) Reset() {
	c.value.Store(0)
}

var latencyBounds = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000} // ms

// LatencyHistogram tracks latency distribution.
type LatencyHistogram struct {
	mu      sync.Mutex
	buckets []int64 // count per bucket; the last one also takes overflow
	sum     float64
	count   int64
	min     float64
	max     float64
}

// NewLatencyHistogram creates a new latency histogram with default buckets.
func NewLatencyHistogram() *LatencyHistogram {
	return &LatencyHistogram{
		buckets: make([]int64, len(latencyBounds)),
		min:     -1,
		max:     -1,
	}
}

// Observe records a latency observation.
func (h *LatencyHistogram) Observe(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000.0

	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += ms
	h.count++
	if h.min < 0 || ms < h.min {
		h.min = ms
	}
	if ms > h.max {
		h.max = ms
	}

	for i, bound := range latencyBounds {
		if ms <= bound {
			h.buckets[i]++
			return
		}
	}
	h.buckets[len(h.buckets)-1]++
}

// Stats returns histogram statistics.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := LatencyStats{
		Count:   h.count,
		Sum:     h.sum,
		Buckets: make(map[string]int64, len(h.buckets)),
	}
	if h.count > 0 {
		stats.Avg = h.sum / float64(h.count)
		stats.Min = h.min
		stats.Max = h.max
	}

	labels := []string{"1ms", "5ms", "10ms", "25ms", "50ms", "100ms", "250ms", "500ms", "1s", "5s+"}
	for i, count := range h.buckets {
		stats.Buckets[labels[i]] = count
	}
	return stats
}

// cumulative returns prometheus-style cumulative bucket counts keyed by
// upper bound in seconds.
func (h *LatencyHistogram) cumulative() (uint64, float64, map[float64]uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[float64]uint64, len(latencyBounds))
	var running uint64
	for i, bound := range latencyBounds {
		running += uint64(h.buckets[i])
		out[bound/1000] = running
	}
	return uint64(h.count), h.sum / 1000, out
}

// Reset resets the histogram.
func (h *LatencyHistogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.buckets {
		h.buckets[i] = 0
	}
	h.sum = 0
	h.count = 0
	h.min = -1
	h.max = -1
}

// LatencyStats holds latency statistics.
type LatencyStats struct {
	Count   int64
	Sum     float64
	Avg     float64
	Min     float64
	Max     float64
	Buckets map[string]int64
}

// Metrics holds all client metrics.
type Metrics struct {
	RequestsTotal    Counter
	RequestsSuccess  Counter
	RelayErrors      Counter
	Timeouts         Counter
	LinkClosedErrors Counter
	LinkLosses       Counter
	DiscardedFrames  Counter
	SequenceRejected Counter
	PendingRequests  Counter
	Latency          *LatencyHistogram

	operations sync.Map // Operation -> *OperationMetrics
}

// OperationMetrics holds metrics for a specific relay operation.
type OperationMetrics struct {
	Requests Counter
	Errors   Counter
	Latency  *LatencyHistogram
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		Latency: NewLatencyHistogram(),
	}
}

// ForOperation returns metrics for a specific operation.
func (m *Metrics) ForOperation(op Operation) *OperationMetrics {
	if val, ok := m.operations.Load(op); ok {
		return val.(*OperationMetrics)
	}

	om := &OperationMetrics{
		Latency: NewLatencyHistogram(),
	}
	actual, _ := m.operations.LoadOrStore(op, om)
	return actual.(*OperationMetrics)
}

// Collect returns all metrics as a map (compatible with expvar).
func (m *Metrics) Collect() map[string]interface{} {
	result := map[string]interface{}{
		"requests_total":     m.RequestsTotal.Value(),
		"requests_success":   m.RequestsSuccess.Value(),
		"relay_errors":       m.RelayErrors.Value(),
		"timeouts":           m.Timeouts.Value(),
		"link_closed_errors": m.LinkClosedErrors.Value(),
		"link_losses":        m.LinkLosses.Value(),
		"discarded_frames":   m.DiscardedFrames.Value(),
		"sequence_rejected":  m.SequenceRejected.Value(),
		"pending_requests":   m.PendingRequests.Value(),
		"latency":            m.Latency.Stats(),
	}

	opStats := make(map[string]interface{})
	m.operations.Range(func(key, value interface{}) bool {
		om := value.(*OperationMetrics)
		opStats[key.(Operation).String()] = map[string]interface{}{
			"requests": om.Requests.Value(),
			"errors":   om.Errors.Value(),
			"latency":  om.Latency.Stats(),
		}
		return true
	})
	if len(opStats) > 0 {
		result["operations"] = opStats
	}

	return result
}

// Reset resets all metrics.
func (m *Metrics) Reset() {
	m.RequestsTotal.Reset()
	m.RequestsSuccess.Reset()
	m.RelayErrors.Reset()
	m.Timeouts.Reset()
	m.LinkClosedErrors.Reset()
	m.LinkLosses.Reset()
	m.DiscardedFrames.Reset()
	m.SequenceRejected.Reset()
	m.Latency.Reset()

	m.operations.Range(func(key, value interface{}) bool {
		om := value.(*OperationMetrics)
		om.Requests.Reset()
		om.Errors.Reset()
		om.Latency.Reset()
		return true
	})
}

// Collector exports Metrics to Prometheus.
type Collector struct {
	metrics *Metrics

	requests   *prometheus.Desc
	successes  *prometheus.Desc
	failures   *prometheus.Desc
	linkLosses *prometheus.Desc
	discarded  *prometheus.Desc
	pending    *prometheus.Desc
	opRequests *prometheus.Desc
	opErrors   *prometheus.Desc
	opLatency  *prometheus.Desc
}

// NewCollector creates a Prometheus collector over m. Labels are attached to
// every series as constant labels.
func NewCollector(m *Metrics, labels prometheus.Labels) *Collector {
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc("opcua_web_"+name, help, variable, labels)
	}
	return &Collector{
		metrics:    m,
		requests:   desc("requests_total", "Requests sent to the relay"),
		successes:  desc("requests_success_total", "Requests answered with data"),
		failures:   desc("requests_failed_total", "Failed requests by cause", "cause"),
		linkLosses: desc("link_losses_total", "Unexpected relay link losses"),
		discarded:  desc("discarded_frames_total", "Inbound frames matching no pending request"),
		pending:    desc("pending_requests", "Requests awaiting a reply"),
		opRequests: desc("operation_requests_total", "Requests per relay operation", "operation"),
		opErrors:   desc("operation_errors_total", "Failed requests per relay operation", "operation"),
		opLatency:  desc("operation_latency_seconds", "Round trip latency per relay operation", "operation"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.successes
	ch <- c.failures
	ch <- c.linkLosses
	ch <- c.discarded
	ch <- c.pending
	ch <- c.opRequests
	ch <- c.opErrors
	ch <- c.opLatency
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.metrics
	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(m.RequestsTotal.Value()))
	ch <- prometheus.MustNewConstMetric(c.successes, prometheus.CounterValue, float64(m.RequestsSuccess.Value()))
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(m.RelayErrors.Value()), "relay")
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(m.Timeouts.Value()), "timeout")
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(m.LinkClosedErrors.Value()), "link_closed")
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(m.SequenceRejected.Value()), "sequencing")
	ch <- prometheus.MustNewConstMetric(c.linkLosses, prometheus.CounterValue, float64(m.LinkLosses.Value()))
	ch <- prometheus.MustNewConstMetric(c.discarded, prometheus.CounterValue, float64(m.DiscardedFrames.Value()))
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(m.PendingRequests.Value()))

	m.operations.Range(func(key, value interface{}) bool {
		op := key.(Operation).String()
		om := value.(*OperationMetrics)
		ch <- prometheus.MustNewConstMetric(c.opRequests, prometheus.CounterValue, float64(om.Requests.Value()), op)
		ch <- prometheus.MustNewConstMetric(c.opErrors, prometheus.CounterValue, float64(om.Errors.Value()), op)
		count, sum, buckets := om.Latency.cumulative()
		ch <- prometheus.MustNewConstHistogram(c.opLatency, count, sum, buckets, op)
		return true
	})
}
