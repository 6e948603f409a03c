package session

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGuardStopsAtLimit(t *testing.T) {
	notifier := &fakeNotifier{}
	var stops atomic.Int32

	g := newDurationGuard("g1", 80*time.Millisecond, 30*time.Millisecond, notifier, func() {
		stops.Add(1)
	})
	g.Start()
	defer g.Stop()

	waitUntil(t, time.Second, func() bool { return stops.Load() == 1 })
	assert.Equal(t, 2, notifier.count(), "one warning, one auto-stop notice")
}

func TestGuardDisabledWhenMaxIsZero(t *testing.T) {
	notifier := &fakeNotifier{}
	var stops atomic.Int32

	g := newDurationGuard("g1", 0, 30*time.Millisecond, notifier, func() {
		stops.Add(1)
	})
	g.Start()
	defer g.Stop()

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, stops.Load())
	assert.Zero(t, notifier.count())
}

func TestGuardCancelledByManualStop(t *testing.T) {
	notifier := &fakeNotifier{}
	var stops atomic.Int32

	g := newDurationGuard("g1", 150*time.Millisecond, 30*time.Millisecond, notifier, func() {
		stops.Add(1)
	})
	g.Start()
	g.Stop()
	g.Stop() // idempotent

	time.Sleep(250 * time.Millisecond)
	assert.Zero(t, stops.Load())
}

func TestGuardSkipsWarningForShortLimits(t *testing.T) {
	notifier := &fakeNotifier{}
	var stops atomic.Int32

	g := newDurationGuard("g1", 50*time.Millisecond, 5*time.Minute, notifier, func() {
		stops.Add(1)
	})
	g.Start()
	defer g.Stop()

	waitUntil(t, time.Second, func() bool { return stops.Load() == 1 })
	assert.Equal(t, 1, notifier.count(), "auto-stop notice only")
}
