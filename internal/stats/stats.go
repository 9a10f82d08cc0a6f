// Package stats accumulates latency samples per category and renders them.
package stats

import (
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/DrC0ns0le/cyclicping/internal/clock"
)

// MaxDelta is the largest delta accepted as a sample.
const MaxDelta = time.Second

// ErrSampleRejected marks a sample that was excluded from the statistics.
var ErrSampleRejected = errors.New("sample rejected")

// Category identifies which leg of a round a sample measures.
type Category int

const (
	Send Category = iota
	Recv
	RoundTrip
	numCategories
)

// Categories lists all categories in report order.
var Categories = [...]Category{RoundTrip, Send, Recv}

func (c Category) String() string {
	switch c {
	case Send:
		return "send"
	case Recv:
		return "recv"
	case RoundTrip:
		return "all"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// Unit is the display resolution samples are quantized to.
type Unit int

const (
	Microseconds Unit = iota
	Milliseconds
)

func (u Unit) String() string {
	if u == Milliseconds {
		return "ms"
	}
	return "us"
}

// Quantize truncates a nanosecond delta to the unit, clamped to the uint32
// range. Negative deltas read as 0.
func (u Unit) Quantize(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	n := d / time.Microsecond
	if u == Milliseconds {
		n = d / time.Millisecond
	}
	if n > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(n)
}

// RejectError reports a sample outside (0, MaxDelta].
type RejectError struct {
	Category Category
	Delta    time.Duration
}

func (e *RejectError) Error() string {
	var msg string
	if e.Delta <= 0 {
		msg = "packet receive time equal or before transmit time"
	} else {
		msg = "packet round trip time too large"
	}
	if e.Unsynchronized() {
		msg += ", check time synchronization between client and server"
	}
	return fmt.Sprintf("%s sample rejected (%v): %s", e.Category, e.Delta, msg)
}

func (e *RejectError) Is(target error) bool {
	return target == ErrSampleRejected
}

// Unsynchronized reports whether the rejection may be caused by the two
// peers' clocks disagreeing.
func (e *RejectError) Unsynchronized() bool {
	return e.Category != RoundTrip
}

// Tracer is stopped the first time a round trip exceeds the trip threshold.
type Tracer interface {
	Stop()
}

// Observer receives every accepted and rejected sample.
type Observer interface {
	Observe(c Category, value uint32)
	Reject(c Category)
}

// Accumulator holds the running statistics of one category.
type Accumulator struct {
	Count     uint64
	Min       uint32
	Max       uint32
	Sum       float64
	Histogram []uint64
}

// Average returns the integer mean, zero when nothing was accepted.
func (a Accumulator) Average() uint32 {
	if a.Count == 0 {
		return 0
	}
	return uint32(a.Sum / float64(a.Count))
}

// Config configures an Engine.
type Config struct {
	Unit           Unit
	HistogramDepth int
	// TripThreshold stops Tracer once a round trip exceeds it; 0 disables.
	TripThreshold uint32
	Tracer        Tracer
	Observer      Observer
}

// Engine records samples for the three categories.
type Engine struct {
	unit  Unit
	depth int
	trip  uint32

	tracer   Tracer
	observer Observer

	acc [numCategories]Accumulator
}

func New(cfg Config) *Engine {
	e := &Engine{
		unit:     cfg.Unit,
		depth:    cfg.HistogramDepth,
		trip:     cfg.TripThreshold,
		tracer:   cfg.Tracer,
		observer: cfg.Observer,
	}
	for i := range e.acc {
		e.acc[i].Min = math.MaxUint32
		if e.depth > 0 {
			e.acc[i].Histogram = make([]uint64, e.depth)
		}
	}
	return e
}

func (e *Engine) Unit() Unit {
	return e.unit
}

func (e *Engine) HistogramDepth() int {
	return e.depth
}

// Record adds the sample end-start to category c and returns its quantized
// value. Deltas outside (0, MaxDelta] are rejected with a *RejectError and
// leave the accumulator untouched.
func (e *Engine) Record(c Category, start, end clock.Stamp) (uint32, error) {
	delta := end.Sub(start)
	if delta <= 0 || delta > MaxDelta {
		if e.observer != nil {
			e.observer.Reject(c)
		}
		return 0, &RejectError{Category: c, Delta: delta}
	}

	v := e.unit.Quantize(delta)

	if c == RoundTrip && e.trip > 0 && v > e.trip {
		e.trip = 0
		if e.tracer != nil {
			e.tracer.Stop()
		}
	}

	a := &e.acc[c]
	if e.depth > 0 {
		if int(v) >= e.depth {
			a.Histogram[e.depth-1]++
		} else {
			a.Histogram[v]++
		}
	}
	if v < a.Min {
		a.Min = v
	}
	if v > a.Max {
		a.Max = v
	}
	a.Count++
	a.Sum += float64(v)

	if e.observer != nil {
		e.observer.Observe(c, v)
	}

	return v, nil
}

// Accumulator returns a copy of the statistics of category c.
func (e *Engine) Accumulator(c Category) Accumulator {
	a := e.acc[c]
	if a.Histogram != nil {
		a.Histogram = append([]uint64(nil), a.Histogram...)
	}
	return a
}

// Min returns the category minimum, zero when nothing was accepted.
func (e *Engine) Min(c Category) uint32 {
	if e.acc[c].Count == 0 {
		return 0
	}
	return e.acc[c].Min
}
