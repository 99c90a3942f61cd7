package protocol_test

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/AdguardTeam/AdGuardGSB/internal/protocol"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/golibs/testutil/faketime"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout of the package tests.
const testTimeout = 5 * time.Second

// newTestDelay returns a delay controller with a fixed clock and a
// deterministic random source.
func newTestDelay(t *testing.T, policy protocol.DelayPolicy, now time.Time) (d *protocol.DelayController) {
	t.Helper()

	return protocol.NewDelayController(&protocol.DelayControllerConfig{
		Logger: slogutil.NewDiscardLogger(),
		Clock: &faketime.Clock{
			OnNow: func() (tm time.Time) { return now },
		},
		Rand:   rand.New(rand.NewPCG(1, 2)),
		Policy: policy,
	})
}

func TestDelayController_prefixList(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := newTestDelay(t, protocol.PolicyPrefixList, now)

	// The initial next-call time is desynchronized by up to five minutes.
	initial := d.Delay()
	assert.GreaterOrEqual(t, initial, time.Duration(0))
	assert.LessOrEqual(t, initial, 5*time.Minute)

	d.SetNextCall(10 * time.Second)
	assert.Equal(t, 10*time.Second, d.Delay())

	d.HandleError()
	assert.Equal(t, 1*time.Minute, d.Delay())

	d.HandleError()
	backoff := d.Delay()
	assert.GreaterOrEqual(t, backoff, 30*time.Minute)
	assert.LessOrEqual(t, backoff, 60*time.Minute)

	// The back-off is capped at eight hours however many errors pile up.
	for range 20 {
		d.HandleError()
	}
	assert.LessOrEqual(t, d.Delay(), 480*time.Minute)

	d.HandleSuccess()
	d.SetNextCall(0)
	assert.LessOrEqual(t, d.Delay(), time.Duration(0))
}

func TestDelayController_fullHash(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := newTestDelay(t, protocol.PolicyFullHash, now)

	// No desynchronization for the gethash endpoint: the next-call time
	// starts in the past.
	assert.LessOrEqual(t, d.Delay(), time.Duration(0))

	d.SetNextCall(10 * time.Second)
	assert.Equal(t, 10*time.Second, d.Delay())

	// A single error keeps the scheduled delay.
	d.HandleError()
	assert.Equal(t, 10*time.Second, d.Delay())

	d.HandleError()
	assert.Equal(t, 30*time.Second, d.Delay())

	d.HandleError()
	assert.Equal(t, 60*time.Second, d.Delay())

	for range 20 {
		d.HandleError()
	}
	assert.Equal(t, 120*time.Second, d.Delay())

	d.HandleSuccess()
	assert.Equal(t, 0, d.ErrorCount())
	assert.Equal(t, 10*time.Second, d.Delay())
}

func TestDelayController_sleepCancel(t *testing.T) {
	d := protocol.NewDelayController(&protocol.DelayControllerConfig{
		Logger: slogutil.NewDiscardLogger(),
		Clock:  timeutil.SystemClock{},
		Rand:   rand.New(rand.NewPCG(1, 2)),
		Policy: protocol.PolicyFullHash,
	})

	d.SetNextCall(1 * time.Hour)

	ctx, cancel := context.WithCancel(testutil.ContextWithTimeout(t, testTimeout))
	go cancel()

	err := d.Sleep(ctx, protocol.EndpointFullHash, protocol.EmptyMetrics{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDelayController_sleepDiscard(t *testing.T) {
	d := protocol.NewDelayController(&protocol.DelayControllerConfig{
		Logger:  slogutil.NewDiscardLogger(),
		Clock:   timeutil.SystemClock{},
		Rand:    rand.New(rand.NewPCG(1, 2)),
		Policy:  protocol.PolicyFullHash,
		Discard: true,
	})

	d.SetNextCall(1 * time.Hour)

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	start := time.Now()
	err := d.Sleep(ctx, protocol.EndpointFullHash, protocol.EmptyMetrics{})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), testTimeout)
}
