// Package transporttest builds sessions for exercising transports in tests.
package transporttest

import (
	"net"
	"strconv"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/DrC0ns0le/cyclicping/internal/clock"
	"github.com/DrC0ns0le/cyclicping/internal/config"
	"github.com/DrC0ns0le/cyclicping/internal/runstate"
	"github.com/DrC0ns0le/cyclicping/internal/session"
	"github.com/DrC0ns0le/cyclicping/pkg/logging"
)

// NoWait is a pacing waiter that returns immediately.
type NoWait struct{}

func (NoWait) WaitUntil(clock.Stamp) error { return nil }

// Session returns a validated session for the given role. mutate may adjust
// the options before validation.
func Session(t *testing.T, client bool, mutate func(o *config.Options)) *session.Session {
	t.Helper()

	o := config.Default()
	o.Client = client
	o.Server = !client
	o.Transport = "test"
	if mutate != nil {
		mutate(&o)
	}
	assert.NilError(t, o.Validate(logging.Discard()))

	state, err := runstate.New()
	assert.NilError(t, err)
	t.Cleanup(func() { state.Close() })

	return session.New(o, session.Deps{
		State:  state,
		Clock:  clock.New(o.Clock),
		Waiter: NoWait{},
		Logger: logging.Discard(),
	})
}

// FreePort returns a local port that was free a moment ago.
func FreePort(t *testing.T, network string) string {
	t.Helper()

	var addr net.Addr
	switch network {
	case "udp":
		c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
		assert.NilError(t, err)
		addr = c.LocalAddr()
		c.Close()
	default:
		l, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
		assert.NilError(t, err)
		addr = l.Addr()
		l.Close()
	}

	_, port, err := net.SplitHostPort(addr.String())
	assert.NilError(t, err)
	_, err = strconv.Atoi(port)
	assert.NilError(t, err)
	return port
}
