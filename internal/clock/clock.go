package clock

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

const nanosPerSecond = int64(time.Second)

// ID selects the kernel clock samples and timers are taken from.
type ID int32

const (
	Monotonic ID = unix.CLOCK_MONOTONIC
	Realtime  ID = unix.CLOCK_REALTIME
)

func (id ID) String() string {
	switch id {
	case Monotonic:
		return "monotonic"
	case Realtime:
		return "realtime"
	default:
		return fmt.Sprintf("clock(%d)", int32(id))
	}
}

// Stamp is a point in time on one of the kernel clocks.
type Stamp struct {
	Sec  int64
	Nsec int64
}

// FromNanos builds a normalised Stamp from a nanosecond count.
func FromNanos(n int64) Stamp {
	s := Stamp{Sec: n / nanosPerSecond, Nsec: n % nanosPerSecond}
	if s.Nsec < 0 {
		s.Nsec += nanosPerSecond
		s.Sec--
	}
	return s
}

func (s Stamp) Nanos() int64 {
	return s.Sec*nanosPerSecond + s.Nsec
}

// Add returns s+d with nanosecond overflow carried into seconds.
func (s Stamp) Add(d time.Duration) Stamp {
	s.Nsec += int64(d)
	for s.Nsec >= nanosPerSecond {
		s.Nsec -= nanosPerSecond
		s.Sec++
	}
	for s.Nsec < 0 {
		s.Nsec += nanosPerSecond
		s.Sec--
	}
	return s
}

// Sub returns the signed distance s-o.
func (s Stamp) Sub(o Stamp) time.Duration {
	return time.Duration((s.Sec-o.Sec)*nanosPerSecond + (s.Nsec - o.Nsec))
}

func (s Stamp) IsZero() bool {
	return s.Sec == 0 && s.Nsec == 0
}

// Source reads the current time of a clock.
type Source interface {
	Now() Stamp
	ID() ID
}

// System reads a kernel clock through clock_gettime.
type System struct {
	id ID
}

func New(id ID) System {
	return System{id: id}
}

func (c System) ID() ID {
	return c.id
}

func (c System) Now() Stamp {
	var ts unix.Timespec
	// clock_gettime only fails for an invalid clock id, which ID cannot hold
	_ = unix.ClockGettime(int32(c.id), &ts)
	return Stamp{Sec: ts.Sec, Nsec: ts.Nsec}
}
