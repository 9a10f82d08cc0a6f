// Package config holds the options of a cyclicping run and their validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/DrC0ns0le/cyclicping/internal/clock"
	"github.com/DrC0ns0le/cyclicping/internal/stats"
	"github.com/DrC0ns0le/cyclicping/pkg/logging"
)

const (
	Version = "0.1.0"

	DefaultPort     = 15202
	DefaultLength   = 64
	DefaultInterval = 1000000 // us

	// MinLength holds the departure and echo timestamps.
	MinLength = 32
	MaxLength = 1 << 20

	MaxHistogram      = 1000000
	MaxPriority       = 99
	MaxSocketPriority = 255

	// MaxSelectionTokens bounds the colon separated transport selection,
	// the transport name included.
	MaxSelectionTokens = 10
)

// Error reports an invalid option. The process exits before any round runs.
type Error struct {
	Option string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Option, e.Reason)
}

func invalid(option, format string, args ...any) error {
	return &Error{Option: option, Reason: fmt.Sprintf(format, args...)}
}

// Options is the complete set of run options.
type Options struct {
	Client bool
	Server bool

	// Transport is the selection string, e.g. "udp:10.0.0.2:15202".
	Transport string

	// Interval between client departures in microseconds; 0 selects the default.
	Interval int
	// Loops is the number of client rounds; 0 runs until interrupted.
	Loops int
	// Length of the payload in bytes; 0 selects the default.
	Length int

	SplitLeg bool
	Clock    clock.ID
	// ClockSet records that Clock was chosen explicitly.
	ClockSet bool

	Histogram    int
	Millis       bool
	Gnuplot      bool
	DumpFile     string
	Quiet        bool
	Verbose      bool
	Ftrace       bool
	Breaktrace   int
	Priority     int
	SocketPrio   int
	Affinity     int
	MLock        bool
	Preflight    bool
	MetricsPort  int
	LoggingDebug bool
}

// Default returns the options of a run with no flags given.
func Default() Options {
	return Options{
		Interval: DefaultInterval,
		Length:   DefaultLength,
		Clock:    clock.Monotonic,
		Affinity: -1,
	}
}

// Validate checks o and fills in derived settings. Split-leg runs need
// comparable timestamps on both peers, so the clock is switched to realtime
// unless monotonic was requested explicitly, which is an error.
func (o *Options) Validate(logger logging.Logger) error {
	if o.Client && o.Server {
		return invalid("mode", "client and server mode are mutually exclusive")
	}
	if !o.Client && !o.Server {
		return invalid("mode", "either client or server mode is required")
	}
	if o.Transport == "" {
		return invalid("transport", "no transport selected")
	}
	if _, err := ParseSelection(o.Transport); err != nil {
		return err
	}

	if o.Interval == 0 {
		o.Interval = DefaultInterval
	}
	if o.Interval < 0 {
		return invalid("interval", "%d", o.Interval)
	}
	if o.Loops < 0 {
		return invalid("loops", "%d", o.Loops)
	}
	if o.Length == 0 {
		o.Length = DefaultLength
	}
	if o.Length < MinLength || o.Length > MaxLength {
		return invalid("length", "%d not within [%d, %d]", o.Length, MinLength, MaxLength)
	}
	if o.Priority < 0 || o.Priority > MaxPriority {
		return invalid("priority", "%d not within [0, %d]", o.Priority, MaxPriority)
	}
	if o.SocketPrio < 0 || o.SocketPrio > MaxSocketPriority {
		return invalid("socket priority", "%d not within [0, %d]", o.SocketPrio, MaxSocketPriority)
	}
	if o.Affinity < -1 {
		return invalid("affinity", "%d", o.Affinity)
	}
	if o.Histogram < 0 || o.Histogram > MaxHistogram {
		return invalid("histogram", "%d not within [0, %d]", o.Histogram, MaxHistogram)
	}
	if o.Clock != clock.Monotonic && o.Clock != clock.Realtime {
		return invalid("clock", "%d", int32(o.Clock))
	}

	if o.SplitLeg {
		if o.Clock == clock.Monotonic {
			if o.ClockSet {
				return invalid("clock", "split-leg mode needs the realtime clock")
			}
			if !o.Quiet {
				logger.Warnf("switching to the realtime clock for split-leg mode")
			}
			o.Clock = clock.Realtime
		}
		if !o.Quiet && o.Client {
			logger.Warnf("split-leg mode: the server has to use the realtime clock and peers have to be time-synchronized")
		}
	}

	if o.DumpFile != "" && o.Loops == 0 {
		return invalid("dump", "packet dump requires a loop count")
	}
	if o.Breaktrace < 0 {
		return invalid("breaktrace", "%d", o.Breaktrace)
	}
	if o.Breaktrace > 0 {
		o.Ftrace = true
	}
	if o.MetricsPort < 0 || o.MetricsPort > 65535 {
		return invalid("metrics port", "%d", o.MetricsPort)
	}

	return nil
}

// IntervalDuration returns the pacing interval.
func (o *Options) IntervalDuration() time.Duration {
	return time.Duration(o.Interval) * time.Microsecond
}

// Unit returns the display unit of the statistics.
func (o *Options) Unit() stats.Unit {
	if o.Millis {
		return stats.Milliseconds
	}
	return stats.Microseconds
}

// Selection is a parsed transport selection string.
type Selection struct {
	Name string
	// Args holds the tokens after the transport name.
	Args []string
}

func (s Selection) String() string {
	return strings.Join(append([]string{s.Name}, s.Args...), ":")
}

// ParseSelection splits "name[:arg1:arg2...]".
func ParseSelection(s string) (Selection, error) {
	tokens := strings.Split(s, ":")
	if len(tokens) > MaxSelectionTokens {
		return Selection{}, invalid("transport", "%q has more than %d tokens", s, MaxSelectionTokens)
	}
	if tokens[0] == "" {
		return Selection{}, invalid("transport", "%q has no transport name", s)
	}
	return Selection{Name: tokens[0], Args: tokens[1:]}, nil
}
