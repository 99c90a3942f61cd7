package metrics

import (
	"context"
	"time"

	"github.com/AdguardTeam/AdGuardGSB/internal/protocol"
	"github.com/prometheus/client_golang/prometheus"
)

// Protocol is the Prometheus-based implementation of the [protocol.Metrics]
// interface.
type Protocol struct {
	// requestDuration is a histogram of the request durations per endpoint.
	requestDuration *prometheus.HistogramVec

	// requests is a counter of the finished requests per endpoint and
	// result.
	requests *prometheus.CounterVec

	// sleeps is a histogram of the fair-use sleeps per endpoint.
	sleeps *prometheus.HistogramVec
}

// NewProtocol registers the protocol metrics in reg and returns a properly
// initialized *Protocol.
func NewProtocol(namespace string, reg prometheus.Registerer) (m *Protocol, err error) {
	const (
		requestDuration = "request_duration_seconds"
		requestsTotal   = "requests_total"
		sleepDuration   = "fair_use_sleep_seconds"
	)

	m = &Protocol{
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:      requestDuration,
			Namespace: namespace,
			Subsystem: subsystemProtocol,
			Help:      "Duration of the Safe Browsing API requests.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"endpoint"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      requestsTotal,
			Namespace: namespace,
			Subsystem: subsystemProtocol,
			Help:      "Total number of Safe Browsing API requests by result.",
		}, []string{"endpoint", "success"}),
		sleeps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:      sleepDuration,
			Namespace: namespace,
			Subsystem: subsystemProtocol,
			Help:      "Duration of the fair-use sleeps before API requests.",
			Buckets:   []float64{1, 10, 60, 300, 1800, 3600, 28800},
		}, []string{"endpoint"}),
	}

	err = registerAll(reg, map[string]prometheus.Collector{
		requestDuration: m.requestDuration,
		requestsTotal:   m.requests,
		sleepDuration:   m.sleeps,
	})
	if err != nil {
		return nil, err
	}

	return m, nil
}

// type check
var _ protocol.Metrics = (*Protocol)(nil)

// HandleRequest implements the [protocol.Metrics] interface for *Protocol.
func (m *Protocol) HandleRequest(
	_ context.Context,
	endpoint string,
	dur time.Duration,
	err error,
) {
	m.requestDuration.WithLabelValues(endpoint).Observe(dur.Seconds())
	m.requests.WithLabelValues(endpoint, boolStr(err == nil)).Inc()
}

// HandleSleep implements the [protocol.Metrics] interface for *Protocol.
func (m *Protocol) HandleSleep(_ context.Context, endpoint string, dur time.Duration) {
	m.sleeps.WithLabelValues(endpoint).Observe(dur.Seconds())
}

// boolStr returns the metrics label of a boolean value.
func boolStr(v bool) (s string) {
	if v {
		return "1"
	}

	return "0"
}
