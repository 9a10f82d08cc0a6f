// Package pacing schedules client rounds at fixed absolute offsets.
package pacing

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/DrC0ns0le/cyclicping/internal/clock"
	"github.com/DrC0ns0le/cyclicping/internal/runstate"
)

// NextDeparture returns the instant the round after one departing at last
// should depart.
func NextDeparture(last clock.Stamp, interval time.Duration) clock.Stamp {
	return last.Add(interval)
}

// Waiter blocks until an absolute instant on its clock.
type Waiter interface {
	WaitUntil(t clock.Stamp) error
}

// Pacer spaces rounds by a fixed interval measured from each departure, so
// processing time inside a round does not accumulate into drift.
type Pacer struct {
	interval time.Duration
	waiter   Waiter
}

func NewPacer(interval time.Duration, w Waiter) *Pacer {
	return &Pacer{interval: interval, waiter: w}
}

func (p *Pacer) Interval() time.Duration {
	return p.interval
}

// Wait blocks until the departure following last.
func (p *Pacer) Wait(last clock.Stamp) error {
	return p.waiter.WaitUntil(NextDeparture(last, p.interval))
}

// TimerWaiter sleeps on an absolute timerfd that Stop can interrupt.
type TimerWaiter struct {
	fd    int
	state *runstate.State
}

// NewTimerWaiter creates a timer on clock id.
func NewTimerWaiter(id clock.ID, state *runstate.State) (*TimerWaiter, error) {
	fd, err := unix.TimerfdCreate(int(id), unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s timer", id)
	}
	return &TimerWaiter{fd: fd, state: state}, nil
}

func (w *TimerWaiter) WaitUntil(t clock.Stamp) error {
	spec := unix.ItimerSpec{Value: unix.Timespec{Sec: t.Sec, Nsec: t.Nsec}}
	if err := unix.TimerfdSettime(w.fd, unix.TFD_TIMER_ABSTIME, &spec, nil); err != nil {
		return errors.Wrap(err, "arming timer")
	}

	if _, err := w.state.Wait(w.fd, unix.POLLIN, -1); err != nil {
		return err
	}

	var expirations [8]byte
	if _, err := unix.Read(w.fd, expirations[:]); err != nil && err != unix.EAGAIN {
		return errors.Wrap(err, "reading timer")
	}
	return nil
}

func (w *TimerWaiter) Close() error {
	return unix.Close(w.fd)
}
