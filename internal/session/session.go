// Package session holds the state a measurement run threads through every
// round.
package session

import (
	"io"
	"time"

	"github.com/DrC0ns0le/cyclicping/internal/clock"
	"github.com/DrC0ns0le/cyclicping/internal/config"
	"github.com/DrC0ns0le/cyclicping/internal/pacing"
	"github.com/DrC0ns0le/cyclicping/internal/payload"
	"github.com/DrC0ns0le/cyclicping/internal/runstate"
	"github.com/DrC0ns0le/cyclicping/internal/stats"
	"github.com/DrC0ns0le/cyclicping/pkg/logging"
)

// Deps are the collaborators a Session is built from.
type Deps struct {
	State  *runstate.State
	Clock  clock.Source
	Waiter pacing.Waiter

	Tracer   stats.Tracer
	Observer stats.Observer

	// Live receives the running statistics after every client round; nil
	// disables them.
	Live   io.Writer
	Logger logging.Logger
}

// Session is owned by the measurement loop for the lifetime of one run.
type Session struct {
	Opts config.Options

	// Send and Recv are allocated once and reused by every round.
	Send []byte
	Recv []byte

	Stats *stats.Engine
	// Dump is nil unless a dump file was requested.
	Dump *stats.Dump

	State  *runstate.State
	Clock  clock.Source
	Pacer  *pacing.Pacer
	Logger logging.Logger

	Start time.Time
	End   time.Time

	layout    payload.Layout
	digest    uint64
	remaining int
	live      io.Writer
}

// New builds a Session for validated options.
func New(opts config.Options, deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	s := &Session{
		Opts: opts,
		Send: make([]byte, opts.Length),
		Recv: make([]byte, opts.Length),
		Stats: stats.New(stats.Config{
			Unit:           opts.Unit(),
			HistogramDepth: opts.Histogram,
			TripThreshold:  uint32(opts.Breaktrace),
			Tracer:         deps.Tracer,
			Observer:       deps.Observer,
		}),
		State:     deps.State,
		Clock:     deps.Clock,
		Pacer:     pacing.NewPacer(opts.IntervalDuration(), deps.Waiter),
		Logger:    logger.With("component", "session"),
		remaining: opts.Loops,
		live:      deps.Live,
	}
	if opts.DumpFile != "" {
		s.Dump = stats.NewDump(opts.Loops)
	}
	s.UseLayout(payload.Default)

	return s
}

// UseLayout selects where timestamps live in the buffers and refills the
// send buffer around them.
func (s *Session) UseLayout(l payload.Layout) {
	s.layout = l
	l.Fill(s.Send)
	s.digest = l.Digest(s.Send)
}

func (s *Session) Layout() payload.Layout {
	return s.layout
}

func (s *Session) Now() clock.Stamp {
	return s.Clock.Now()
}

// IntactReply reports whether the fill region of Recv matches what was sent.
func (s *Session) IntactReply() bool {
	return s.layout.Digest(s.Recv) == s.digest
}

// Record adds the samples of a client round that departed and arrived at the
// given instants. The echo timestamp is read from Recv in split-leg mode.
// Rejected samples are logged and skipped.
func (s *Session) Record(departure, arrival clock.Stamp) {
	round := stats.Round{Departure: departure, Arrival: arrival}

	rt, err := s.Stats.Record(stats.RoundTrip, departure, arrival)
	accepted := err == nil
	if err != nil {
		s.Logger.Warnf("%v", err)
	}
	rec := stats.DumpRecord{RoundTrip: rt}

	if s.Opts.SplitLeg {
		round.Echo = s.layout.Echo(s.Recv)
		if v, err := s.Stats.Record(stats.Send, departure, round.Echo); err != nil {
			s.Logger.Warnf("%v", err)
		} else {
			rec.Send = v
		}
		if v, err := s.Stats.Record(stats.Recv, round.Echo, arrival); err != nil {
			s.Logger.Warnf("%v", err)
		} else {
			rec.Recv = v
		}
	}

	if accepted && s.Dump != nil {
		s.Dump.Append(rec)
	}
	if s.live != nil {
		stats.WriteLive(s.live, s.Stats, s.Opts.SplitLeg, round)
	}
}

// QuotaExhausted reports whether a loop count was set and every round of it
// has run.
func (s *Session) QuotaExhausted() bool {
	return s.Opts.Loops > 0 && s.remaining <= 0
}

// Pace counts the round that departed at departure against the quota and
// blocks until the next departure. When the quota runs out the run is stopped
// instead.
func (s *Session) Pace(departure clock.Stamp) error {
	if s.Opts.Loops > 0 {
		s.remaining--
		if s.remaining <= 0 {
			s.State.Stop()
			return nil
		}
	}
	return s.Pacer.Wait(departure)
}

func (s *Session) Begin() {
	s.Start = time.Now()
}

func (s *Session) Finish() {
	s.End = time.Now()
}
