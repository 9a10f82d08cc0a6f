package transport

import (
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/DrC0ns0le/cyclicping/pkg/logging"
)

// TOSClassSelector7 is the type-of-service byte for network control traffic.
const TOSClassSelector7 = 224

// SetSocketPriority sets SO_PRIORITY on fd. Priorities above 6 need
// CAP_NET_ADMIN, so a failure is only logged.
func SetSocketPriority(fd int, prio int, logger logging.Logger) {
	if prio == 0 {
		return
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PRIORITY, prio); err != nil {
		logger.Warnf("could not set socket priority %d: %v", prio, err)
	}
}

// TuneConn applies the socket priority and marks c with class selector 7.
func TuneConn(c syscall.Conn, prio int, logger logging.Logger) error {
	raw, err := c.SyscallConn()
	if err != nil {
		return errors.Wrap(err, "accessing raw socket")
	}
	if err := raw.Control(func(fd uintptr) { SetSocketPriority(int(fd), prio, logger) }); err != nil {
		return errors.Wrap(err, "accessing raw socket")
	}

	nc, ok := c.(net.Conn)
	if !ok {
		return nil
	}
	return SetTOS(nc, TOSClassSelector7)
}

// SetTOS sets the IPv4 type-of-service byte of c and reads it back.
func SetTOS(c net.Conn, tos int) error {
	p := ipv4.NewConn(c)
	if err := p.SetTOS(tos); err != nil {
		return errors.Wrap(err, "setting type of service")
	}
	got, err := p.TOS()
	if err != nil {
		return errors.Wrap(err, "reading type of service")
	}
	if got != tos {
		return errors.Errorf("type of service is %#x, want %#x", got, tos)
	}
	return nil
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// DeadlineHandle interrupts blocked net reads, writes and accepts by moving
// their deadline into the past.
type DeadlineHandle struct {
	mu      sync.Mutex
	targets []deadliner
}

// Add registers d with the handle.
func (h *DeadlineHandle) Add(d deadliner) {
	h.mu.Lock()
	h.targets = append(h.targets, d)
	h.mu.Unlock()
}

// Remove unregisters d.
func (h *DeadlineHandle) Remove(d deadliner) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, t := range h.targets {
		if t == d {
			h.targets = append(h.targets[:i], h.targets[i+1:]...)
			return
		}
	}
}

func (h *DeadlineHandle) Interrupt() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	past := time.Unix(1, 0)
	var first error
	for _, t := range h.targets {
		if err := t.SetDeadline(past); err != nil && first == nil {
			first = err
		}
	}
	return first
}
