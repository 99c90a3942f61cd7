package protocol

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/AdguardTeam/golibs/timeutil"
)

// DelayPolicy selects the request-frequency policy of an endpoint.
type DelayPolicy uint8

// DelayPolicy values.
const (
	// PolicyPrefixList is the policy of the downloads endpoint.
	PolicyPrefixList DelayPolicy = iota

	// PolicyFullHash is the policy of the gethash endpoint.
	PolicyFullHash
)

// Bounds of the back-off formulas, in the units the upstream policy uses.
const (
	// prefixListBackoffCapMins is the cap, in minutes, of the randomized
	// prefix-list back-off factor.
	prefixListBackoffCapMins = 480

	// fullHashBackoffCapSecs is the cap, in seconds, of the full-hash
	// back-off.
	fullHashBackoffCapSecs = 120

	// startupDesyncMaxSecs bounds the randomized first-poll delay that
	// desynchronizes client fleets.
	startupDesyncMaxSecs = 300
)

// DelayController tracks the fair-use state of a single endpoint and
// computes the delay before its next call.  It is not safe for concurrent
// use: each protocol client owns and mutates its own controller.
type DelayController struct {
	logger *slog.Logger
	clock  timeutil.Clock
	rand   *rand.Rand

	nextCall time.Time
	errCount int

	policy  DelayPolicy
	discard bool
}

// DelayControllerConfig is the configuration structure of a delay
// controller.  All fields must not be nil.
type DelayControllerConfig struct {
	// Logger is used for logging the sleeps and state changes.
	Logger *slog.Logger

	// Clock is used to tell the current time.
	Clock timeutil.Clock

	// Rand is the source of the randomized back-off and desynchronization
	// delays.
	Rand *rand.Rand

	// Policy selects the request-frequency formulas of the endpoint.
	Policy DelayPolicy

	// Discard, if true, makes [DelayController.Sleep] compute delays but
	// never actually sleep.
	Discard bool
}

// NewDelayController returns a new delay controller.  Prefix-list
// controllers start with a randomized next-call time of up to five minutes
// from now to keep client fleets desynchronized.
func NewDelayController(c *DelayControllerConfig) (d *DelayController) {
	d = &DelayController{
		logger:  c.Logger,
		clock:   c.Clock,
		rand:    c.Rand,
		policy:  c.Policy,
		discard: c.Discard,
	}

	if c.Policy == PolicyPrefixList {
		desync := time.Duration(d.rand.IntN(startupDesyncMaxSecs+1)) * time.Second
		d.nextCall = d.clock.Now().Add(desync)
	}

	return d
}

// SetNextCall schedules the next permitted call at now plus delay.
func (d *DelayController) SetNextCall(delay time.Duration) {
	d.logger.Debug("next call delayed", "delay", delay)

	d.nextCall = d.clock.Now().Add(delay)
}

// HandleSuccess records a successful HTTP response, resetting the
// consecutive-error counter.
func (d *DelayController) HandleSuccess() {
	d.errCount = 0
}

// HandleError records a failed HTTP exchange.
func (d *DelayController) HandleError() {
	d.errCount++
}

// ErrorCount returns the current number of consecutive errors.
func (d *DelayController) ErrorCount() (n int) {
	return d.errCount
}

// Delay computes the delay before the next call under the controller's
// policy.  The result may be negative when the next-call time has already
// passed.
func (d *DelayController) Delay() (delay time.Duration) {
	switch d.policy {
	case PolicyFullHash:
		return d.fullHashDelay()
	default:
		return d.prefixListDelay()
	}
}

// prefixListDelay computes the delay of the downloads endpoint: the
// scheduled wait while healthy, one minute after a single error, and a
// randomized exponential back-off of 30 minutes to eight hours afterwards.
func (d *DelayController) prefixListDelay() (delay time.Duration) {
	switch {
	case d.errCount == 0:
		return d.nextCall.Sub(d.clock.Now())
	case d.errCount == 1:
		return 1 * time.Minute
	default:
		mins := 30 + d.rand.IntN(31)
		for i := 0; i < d.errCount-2 && mins < prefixListBackoffCapMins; i++ {
			mins *= 2
		}

		return time.Duration(min(mins, prefixListBackoffCapMins)) * time.Minute
	}
}

// fullHashDelay computes the delay of the gethash endpoint: the scheduled
// wait up to the first error, and an exponential back-off of 30 to 120
// seconds afterwards.
func (d *DelayController) fullHashDelay() (delay time.Duration) {
	if d.errCount <= 1 {
		return d.nextCall.Sub(d.clock.Now())
	}

	secs := 30
	for i := 0; i < d.errCount-2 && secs < fullHashBackoffCapSecs; i++ {
		secs *= 2
	}

	return time.Duration(min(secs, fullHashBackoffCapSecs)) * time.Second
}

// Sleep blocks until the fair-use delay has passed or ctx is cancelled.  A
// non-positive delay and the discard mode return immediately.  metrics
// receives the slept duration.
func (d *DelayController) Sleep(ctx context.Context, endpoint string, metrics Metrics) (err error) {
	delay := d.Delay()
	if delay <= 0 {
		return nil
	}

	if d.discard {
		d.logger.DebugContext(ctx, "fair-use delay discarded", "delay", delay)

		return nil
	}

	d.logger.InfoContext(ctx, "sleeping", "delay", delay)
	metrics.HandleSleep(ctx, endpoint, delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
