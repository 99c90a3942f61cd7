package protocol

import (
	"context"
	"time"
)

// Metrics is an interface that is used for the collection of the protocol
// client statistics.
type Metrics interface {
	// HandleRequest handles one finished API request: its endpoint, its
	// duration, and whether it succeeded.
	HandleRequest(ctx context.Context, endpoint string, dur time.Duration, err error)

	// HandleSleep handles one fair-use sleep before a request to endpoint.
	HandleSleep(ctx context.Context, endpoint string, dur time.Duration)
}

// EmptyMetrics is the implementation of the [Metrics] interface that does
// nothing.
type EmptyMetrics struct{}

// type check
var _ Metrics = EmptyMetrics{}

// HandleRequest implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) HandleRequest(_ context.Context, _ string, _ time.Duration, _ error) {}

// HandleSleep implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) HandleSleep(_ context.Context, _ string, _ time.Duration) {}
