package uart

import (
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"gotest.tools/v3/assert"

	"github.com/DrC0ns0le/cyclicping/internal/config"
	"github.com/DrC0ns0le/cyclicping/internal/runstate"
	"github.com/DrC0ns0le/cyclicping/internal/stats"
	"github.com/DrC0ns0le/cyclicping/internal/transport"
	"github.com/DrC0ns0le/cyclicping/internal/transport/transporttest"
)

// openPTY returns the master side and the path of the slave side of a new
// pseudo terminal.
func openPTY(t *testing.T) (*os.File, string) {
	t.Helper()
	fd, err := unix.Open("/dev/ptmx", unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		t.Skipf("no pseudo terminals: %v", err)
	}
	master := os.NewFile(uintptr(fd), "ptmx")
	t.Cleanup(func() { master.Close() })

	assert.NilError(t, unix.IoctlSetPointerInt(fd, unix.TIOCSPTLCK, 0))
	n, err := unix.IoctlGetInt(fd, unix.TIOCGPTN)
	assert.NilError(t, err)
	return master, fmt.Sprintf("/dev/pts/%d", n)
}

func TestInitRejectsBadArguments(t *testing.T) {
	s := transporttest.Session(t, true, nil)

	err := New().Init(s, nil)
	assert.Assert(t, errors.Is(err, transport.ErrInit))

	err = New().Init(s, []string{"/dev/null", "-5"})
	assert.ErrorContains(t, err, "invalid baudrate")

	err = New().Init(s, []string{"/nonexistent/tty"})
	assert.Assert(t, errors.Is(err, transport.ErrInit))
}

func TestClientOverPTY(t *testing.T) {
	master, slave := openPTY(t)

	s := transporttest.Session(t, true, func(o *config.Options) {
		o.Loops = 3
		o.Length = 300
	})
	u := New()
	assert.NilError(t, u.Init(s, []string{slave, "921600"}))
	defer u.Close()

	go func() {
		buf := make([]byte, 300)
		for {
			if _, err := io.ReadFull(master, buf); err != nil {
				return
			}
			if _, err := master.Write(buf); err != nil {
				return
			}
		}
	}()

	for s.State.Running() {
		assert.NilError(t, u.Client(s))
	}
	assert.Equal(t, s.Stats.Accumulator(stats.RoundTrip).Count, uint64(3))
}

func TestServerInterrupted(t *testing.T) {
	_, slave := openPTY(t)

	s := transporttest.Session(t, false, nil)
	u := New()
	assert.NilError(t, u.Init(s, []string{slave}))
	defer u.Close()

	done := make(chan error, 1)
	go func() { done <- u.Server(s) }()

	time.Sleep(10 * time.Millisecond)
	s.State.Stop()

	select {
	case err := <-done:
		assert.Assert(t, errors.Is(err, runstate.ErrInterrupted), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server was not interrupted")
	}
}

func TestClientTimesOut(t *testing.T) {
	_, slave := openPTY(t)

	s := transporttest.Session(t, true, nil)
	u := New()
	assert.NilError(t, u.Init(s, []string{slave}))
	defer u.Close()

	err := u.Client(s)
	assert.Assert(t, errors.Is(err, transport.ErrRound))
	assert.Assert(t, errors.Is(err, runstate.ErrTimeout))
}
