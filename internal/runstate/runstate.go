// Package runstate holds the run flag of a measurement session and the wait
// handle that lets an asynchronous stop interrupt blocking operations.
package runstate

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var (
	// ErrInterrupted is returned by waits that were cut short by Stop.
	ErrInterrupted = errors.New("interrupted")
	// ErrTimeout is returned by bounded waits that expired.
	ErrTimeout = errors.New("wait timed out")
)

// Handle is a transport-owned blocking primitive that Stop must unblock.
type Handle interface {
	Interrupt() error
}

// State is shared by the measurement loop, every transport and the pacer.
// Running and Stop are safe to call from any goroutine.
type State struct {
	running atomic.Bool
	efd     int

	mu     sync.Mutex
	handle Handle
}

// New returns a running State.
func New() (*State, error) {
	efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, errors.Wrap(err, "creating eventfd")
	}
	s := &State{efd: efd}
	s.running.Store(true)
	return s, nil
}

func (s *State) Running() bool {
	return s.running.Load()
}

// Stop clears the run flag and invalidates the wait handle. Every current and
// future Wait returns ErrInterrupted.
func (s *State) Stop() {
	s.running.Store(false)

	var one [8]byte
	one[0] = 1
	// the counter only saturates after 2^64-2 writes
	_, _ = unix.Write(s.efd, one[:])

	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h != nil {
		_ = h.Interrupt()
	}
}

// Bind attaches h so Stop interrupts it. A stop that already happened is
// delivered immediately. Passing nil detaches the current handle.
func (s *State) Bind(h Handle) {
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()

	if h != nil && !s.Running() {
		_ = h.Interrupt()
	}
}

// Wait blocks until fd reports one of events, the timeout expires or Stop is
// called. A negative timeout waits forever. It returns the fd's revents.
func (s *State) Wait(fd int, events int16, timeout time.Duration) (int16, error) {
	fds := []unix.PollFd{
		{Fd: int32(fd), Events: events},
		{Fd: int32(s.efd), Events: unix.POLLIN},
	}
	return s.poll(fds, timeout)
}

// Sleep blocks for d unless Stop is called first.
func (s *State) Sleep(d time.Duration) error {
	fds := []unix.PollFd{{Fd: int32(s.efd), Events: unix.POLLIN}}
	_, err := s.poll(fds, d)
	if errors.Is(err, ErrTimeout) {
		return nil
	}
	return err
}

func (s *State) poll(fds []unix.PollFd, timeout time.Duration) (int16, error) {
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}

	cancel := len(fds) - 1
	for {
		ms := -1
		if timeout >= 0 {
			remaining := time.Until(deadline)
			if remaining < 0 {
				remaining = 0
			}
			ms = int((remaining + time.Millisecond - 1) / time.Millisecond)
		}

		for i := range fds {
			fds[i].Revents = 0
		}
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, errors.Wrap(err, "poll")
		}
		if fds[cancel].Revents&unix.POLLIN != 0 {
			return 0, ErrInterrupted
		}
		if n == 0 {
			return 0, ErrTimeout
		}

		revents := fds[0].Revents
		if revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			return revents, errors.Errorf("poll: error condition on fd %d (revents %#x)", fds[0].Fd, revents)
		}
		return revents, nil
	}
}

// Close releases the eventfd.
func (s *State) Close() error {
	return unix.Close(s.efd)
}
