package session

import (
	"bytes"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/DrC0ns0le/cyclicping/internal/clock"
	"github.com/DrC0ns0le/cyclicping/internal/config"
	"github.com/DrC0ns0le/cyclicping/internal/payload"
	"github.com/DrC0ns0le/cyclicping/internal/runstate"
	"github.com/DrC0ns0le/cyclicping/internal/stats"
	"github.com/DrC0ns0le/cyclicping/pkg/logging"
)

type waiterStub struct{ targets []clock.Stamp }

func (w *waiterStub) WaitUntil(t clock.Stamp) error {
	w.targets = append(w.targets, t)
	return nil
}

func newSession(t *testing.T, mutate func(o *config.Options)) (*Session, *waiterStub, *bytes.Buffer) {
	t.Helper()
	o := config.Default()
	o.Client = true
	o.Transport = "udp:127.0.0.1"
	o.Interval = 1000
	if mutate != nil {
		mutate(&o)
	}
	assert.NilError(t, o.Validate(logging.Discard()))

	state, err := runstate.New()
	assert.NilError(t, err)
	t.Cleanup(func() { state.Close() })

	w := &waiterStub{}
	live := &bytes.Buffer{}
	s := New(o, Deps{
		State:  state,
		Clock:  clock.New(o.Clock),
		Waiter: w,
		Live:   live,
		Logger: logging.Discard(),
	})
	return s, w, live
}

func TestBuffersAreAllocatedOnce(t *testing.T) {
	s, _, _ := newSession(t, func(o *config.Options) { o.Length = 128 })
	assert.Equal(t, len(s.Send), 128)
	assert.Equal(t, len(s.Recv), 128)
	assert.Assert(t, s.Dump == nil)

	copy(s.Recv, s.Send)
	assert.Assert(t, s.IntactReply())
	s.Recv[100] ^= 1
	assert.Assert(t, !s.IntactReply())
}

func TestQuota(t *testing.T) {
	s, w, _ := newSession(t, func(o *config.Options) { o.Loops = 3 })
	dep := clock.Stamp{Sec: 1}

	for i := 0; i < 2; i++ {
		assert.Assert(t, !s.QuotaExhausted())
		assert.NilError(t, s.Pace(dep))
		assert.Assert(t, s.State.Running())
	}

	assert.NilError(t, s.Pace(dep))
	assert.Assert(t, s.QuotaExhausted())
	assert.Assert(t, !s.State.Running())
	// the last round does not wait
	assert.Equal(t, len(w.targets), 2)
	assert.Equal(t, w.targets[0], clock.Stamp{Sec: 1, Nsec: 1_000_000})
}

func TestUnlimitedQuota(t *testing.T) {
	s, w, _ := newSession(t, nil)
	for i := 0; i < 10; i++ {
		assert.NilError(t, s.Pace(clock.Stamp{Sec: int64(i)}))
	}
	assert.Assert(t, !s.QuotaExhausted())
	assert.Equal(t, len(w.targets), 10)
}

func TestRecordSplitLeg(t *testing.T) {
	s, _, live := newSession(t, func(o *config.Options) {
		o.SplitLeg = true
		o.Loops = 2
		o.DumpFile = "unused"
	})

	dep := clock.Stamp{Sec: 50}
	s.Layout().PutEcho(s.Recv, dep.Add(90*time.Microsecond))
	s.Record(dep, dep.Add(200*time.Microsecond))

	assert.Equal(t, s.Stats.Accumulator(stats.RoundTrip).Count, uint64(1))
	assert.Equal(t, s.Stats.Accumulator(stats.Send).Max, uint32(90))
	assert.Equal(t, s.Stats.Accumulator(stats.Recv).Max, uint32(110))
	assert.DeepEqual(t, s.Dump.Records(), []stats.DumpRecord{{RoundTrip: 200, Send: 90, Recv: 110}})
	assert.Check(t, is.Contains(live.String(), "(recv)"))
}

func TestRecordRejectedRoundIsNotDumped(t *testing.T) {
	s, _, _ := newSession(t, func(o *config.Options) {
		o.Loops = 2
		o.DumpFile = "unused"
	})

	dep := clock.Stamp{Sec: 50}
	s.Record(dep, dep)
	s.Record(dep, dep.Add(2*time.Second))
	s.Record(dep, dep.Add(7*time.Microsecond))

	assert.Equal(t, s.Stats.Accumulator(stats.RoundTrip).Count, uint64(1))
	assert.Equal(t, s.Dump.Len(), 1)
}

func TestUseLayout(t *testing.T) {
	s, _, _ := newSession(t, nil)
	s.UseLayout(payload.Layout{Base: 4})
	assert.Equal(t, s.Layout().MinLength(), 36)

	copy(s.Recv, s.Send)
	s.Recv[3] = 9
	assert.Assert(t, s.IntactReply())
}
