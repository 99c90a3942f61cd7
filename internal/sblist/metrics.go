package sblist

import "context"

// Metrics is an interface that is used for the collection of the façade
// statistics.
type Metrics interface {
	// HandleSync handles one finished sync pass: whether it changed the
	// cache and whether it succeeded.
	HandleSync(ctx context.Context, changed bool, err error)

	// HandleLookup handles one finished lookup and its result.
	HandleLookup(ctx context.Context, matched bool)
}

// EmptyMetrics is the implementation of the [Metrics] interface that does
// nothing.
type EmptyMetrics struct{}

// type check
var _ Metrics = EmptyMetrics{}

// HandleSync implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) HandleSync(_ context.Context, _ bool, _ error) {}

// HandleLookup implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) HandleLookup(_ context.Context, _ bool) {}
