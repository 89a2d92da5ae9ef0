// Package metrics provides an optional Prometheus collector for connection
// and request counters. A nil *Collector disables metrics entirely —
// every method on it is a safe no-op, so callers can wire it in
// unconditionally and only pay for it when they construct one.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the counters exported on a server or client's behalf.
// Construct one with New, which registers it with the prometheus.Registerer
// it is given; New has no default registry.
type Collector struct {
	connectionsAccepted prometheus.Counter
	connectionsActive   prometheus.Gauge
	connectionsClosed   prometheus.Counter
	requestsServed      prometheus.Counter
	bytesStreamed       prometheus.Counter
	digestRetries       prometheus.Counter
}

// New creates a Collector and registers its metrics with reg. Pass
// prometheus.DefaultRegisterer to use the global registry, or a fresh
// prometheus.NewRegistry() in tests to avoid collisions across cases.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		connectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "uhttp_connections_accepted_total",
			Help: "Total number of inbound connections accepted.",
		}),
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "uhttp_connections_active",
			Help: "Number of connections currently open.",
		}),
		connectionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "uhttp_connections_closed_total",
			Help: "Total number of connections closed.",
		}),
		requestsServed: factory.NewCounter(prometheus.CounterOpts{
			Name: "uhttp_requests_served_total",
			Help: "Total number of requests fully handled.",
		}),
		bytesStreamed: factory.NewCounter(prometheus.CounterOpts{
			Name: "uhttp_response_bytes_streamed_total",
			Help: "Total bytes written back to clients, including file streaming.",
		}),
		digestRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "uhttp_digest_auth_retries_total",
			Help: "Total number of transparent Digest-auth retries performed by clients.",
		}),
	}
}

// ConnectionAccepted records a newly accepted connection.
func (c *Collector) ConnectionAccepted() {
	if c == nil {
		return
	}
	c.connectionsAccepted.Inc()
	c.connectionsActive.Inc()
}

// ConnectionClosed records a connection teardown.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsClosed.Inc()
	c.connectionsActive.Dec()
}

// RequestServed records one fully handled request.
func (c *Collector) RequestServed() {
	if c == nil {
		return
	}
	c.requestsServed.Inc()
}

// BytesStreamed adds n response bytes to the running total.
func (c *Collector) BytesStreamed(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.bytesStreamed.Add(float64(n))
}

// DigestRetry records one transparent Digest-auth retry.
func (c *Collector) DigestRetry() {
	if c == nil {
		return
	}
	c.digestRetries.Inc()
}
