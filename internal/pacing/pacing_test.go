package pacing

import (
	"math/rand"
	"testing"
	"time"

	"github.com/pkg/errors"
	"gotest.tools/v3/assert"

	"github.com/DrC0ns0le/cyclicping/internal/clock"
	"github.com/DrC0ns0le/cyclicping/internal/runstate"
)

// fakeClock jumps straight to every instant it is asked to wait for.
type fakeClock struct {
	now     clock.Stamp
	targets []clock.Stamp
}

func (c *fakeClock) WaitUntil(t clock.Stamp) error {
	c.targets = append(c.targets, t)
	if t.Sub(c.now) > 0 {
		c.now = t
	}
	return nil
}

func TestNextDeparture(t *testing.T) {
	last := clock.Stamp{Sec: 7, Nsec: 999_500_000}
	assert.Equal(t, NextDeparture(last, 1000*time.Microsecond), clock.Stamp{Sec: 8, Nsec: 500_000})
}

func TestPacerIsDriftFree(t *testing.T) {
	const rounds = 1000
	interval := 1000 * time.Microsecond
	initial := clock.Stamp{Sec: 100, Nsec: 123}

	fc := &fakeClock{now: initial}
	p := NewPacer(interval, fc)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < rounds; i++ {
		departure := fc.now
		// round trip and bookkeeping, always shorter than the interval
		fc.now = fc.now.Add(time.Duration(rng.Int63n(int64(interval))))
		assert.NilError(t, p.Wait(departure))
	}

	assert.Equal(t, len(fc.targets), rounds)
	for n, target := range fc.targets {
		assert.Equal(t, target, initial.Add(time.Duration(n+1)*interval))
	}
}

func TestTimerWaiter(t *testing.T) {
	state, err := runstate.New()
	assert.NilError(t, err)
	defer state.Close()

	c := clock.New(clock.Monotonic)
	w, err := NewTimerWaiter(c.ID(), state)
	assert.NilError(t, err)
	defer w.Close()

	target := c.Now().Add(5 * time.Millisecond)
	assert.NilError(t, w.WaitUntil(target))
	assert.Assert(t, c.Now().Sub(target) >= 0)

	// an instant in the past returns at once
	assert.NilError(t, w.WaitUntil(c.Now().Add(-time.Second)))
}

func TestTimerWaiterInterrupted(t *testing.T) {
	state, err := runstate.New()
	assert.NilError(t, err)
	defer state.Close()

	c := clock.New(clock.Monotonic)
	w, err := NewTimerWaiter(c.ID(), state)
	assert.NilError(t, err)
	defer w.Close()

	go func() {
		time.Sleep(10 * time.Millisecond)
		state.Stop()
	}()

	start := time.Now()
	err = w.WaitUntil(c.Now().Add(time.Hour))
	assert.Assert(t, errors.Is(err, runstate.ErrInterrupted))
	assert.Assert(t, time.Since(start) < time.Minute)
}
