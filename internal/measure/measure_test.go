package measure

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/DrC0ns0le/cyclicping/internal/config"
	"github.com/DrC0ns0le/cyclicping/internal/session"
	"github.com/DrC0ns0le/cyclicping/internal/stats"
	"github.com/DrC0ns0le/cyclicping/internal/transport"
	"github.com/DrC0ns0le/cyclicping/internal/transport/transporttest"
)

// echo is a transport whose peer answers instantly with a fixed delay.
type echo struct {
	initErr  error
	roundErr error
	server   func(s *session.Session) error
	peer     net.IP

	rounds int
	closed bool
}

func (e *echo) Name() string  { return "echo" }
func (e *echo) Usage() string { return "echo[:anything]" }

func (e *echo) Init(s *session.Session, args []string) error { return e.initErr }

func (e *echo) Client(s *session.Session) error {
	if e.roundErr != nil {
		return e.roundErr
	}
	e.rounds++
	departure := s.Now()
	copy(s.Recv, s.Send)
	s.Layout().PutEcho(s.Recv, departure.Add(5*time.Microsecond))
	return transport.CompleteClientRound("echo", s, departure, departure.Add(12*time.Microsecond))
}

func (e *echo) Server(s *session.Session) error {
	e.rounds++
	return e.server(s)
}

func (e *echo) Close() error {
	e.closed = true
	return nil
}

func (e *echo) PeerIP() net.IP { return e.peer }

func runner(e *echo) *Runner {
	r := NewRegistry()
	r.Register(func() transport.Transport { return e })
	return &Runner{Registry: r}
}

type tracer struct {
	started, stopped int
}

func (t *tracer) Start() error { t.started++; return nil }
func (t *tracer) Stop()        { t.stopped++ }

func TestClientRunsUntilQuota(t *testing.T) {
	s := transporttest.Session(t, true, func(o *config.Options) {
		o.Loops = 5
		o.DumpFile = "unused"
	})
	e := &echo{}
	tr := &tracer{}
	r := runner(e)
	r.Tracer = tr

	assert.NilError(t, r.Run(context.Background(), s, config.Selection{Name: "echo"}))

	assert.Equal(t, e.rounds, 5)
	assert.Assert(t, e.closed)
	assert.Equal(t, *tr, tracer{started: 1, stopped: 1})
	assert.Assert(t, !s.Start.IsZero())
	assert.Assert(t, !s.End.Before(s.Start))

	acc := s.Stats.Accumulator(stats.RoundTrip)
	assert.Equal(t, acc.Count, uint64(5))
	assert.Equal(t, acc.Min, uint32(12))
	assert.Equal(t, acc.Max, uint32(12))

	var buf bytes.Buffer
	assert.NilError(t, s.Dump.WriteTo(&buf, false))
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	assert.Assert(t, is.Len(lines, 5))
	for i, line := range lines {
		assert.Equal(t, line, strings.Repeat(" ", 7)+string(rune('0'+i))+",       12")
	}
}

func TestSplitLegSamples(t *testing.T) {
	s := transporttest.Session(t, true, func(o *config.Options) {
		o.Loops = 2
		o.SplitLeg = true
	})
	e := &echo{}

	assert.NilError(t, runner(e).Run(context.Background(), s, config.Selection{Name: "echo"}))

	assert.Equal(t, s.Stats.Accumulator(stats.Send).Sum, float64(10))
	assert.Equal(t, s.Stats.Accumulator(stats.Recv).Sum, float64(14))
	assert.Equal(t, s.Stats.Accumulator(stats.RoundTrip).Sum, float64(24))
}

func TestServerCancelledWhileWaiting(t *testing.T) {
	s := transporttest.Session(t, false, nil)

	var p [2]int
	assert.NilError(t, unix.Pipe2(p[:], unix.O_CLOEXEC))
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	waiting := make(chan struct{})
	e := &echo{server: func(s *session.Session) error {
		close(waiting)
		_, err := s.State.Wait(p[0], unix.POLLIN, -1)
		return err
	}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-waiting
		cancel()
	}()

	assert.NilError(t, runner(e).Run(ctx, s, config.Selection{Name: "echo"}))
	assert.Equal(t, e.rounds, 1)
	assert.Assert(t, e.closed)
	assert.Equal(t, s.Stats.Accumulator(stats.RoundTrip).Count, uint64(0))
}

func TestServerNoopRoundsContinue(t *testing.T) {
	s := transporttest.Session(t, false, nil)
	e := &echo{}
	e.server = func(s *session.Session) error {
		if e.rounds == 3 {
			s.State.Stop()
		}
		return nil
	}

	assert.NilError(t, runner(e).Run(context.Background(), s, config.Selection{Name: "echo"}))
	assert.Equal(t, e.rounds, 3)
}

func TestInitFailure(t *testing.T) {
	s := transporttest.Session(t, true, nil)
	e := &echo{initErr: transport.Initf("echo", "no such device")}
	tr := &tracer{}
	r := runner(e)
	r.Tracer = tr

	err := r.Run(context.Background(), s, config.Selection{Name: "echo"})
	assert.Assert(t, errors.Is(err, transport.ErrInit))
	assert.Equal(t, e.rounds, 0)
	assert.Assert(t, e.closed)
	assert.Equal(t, *tr, tracer{})
	assert.Assert(t, s.Start.IsZero())
}

func TestRoundFailure(t *testing.T) {
	s := transporttest.Session(t, true, func(o *config.Options) { o.Loops = 5 })
	e := &echo{roundErr: transport.Roundf("echo", "short read")}

	err := runner(e).Run(context.Background(), s, config.Selection{Name: "echo"})
	assert.Assert(t, errors.Is(err, transport.ErrRound))
	assert.Assert(t, e.closed)
}

func TestUnknownTransport(t *testing.T) {
	s := transporttest.Session(t, true, nil)

	err := runner(&echo{}).Run(context.Background(), s, config.Selection{Name: "carrier-pigeon"})
	var cerr *config.Error
	assert.Assert(t, errors.As(err, &cerr))
	assert.ErrorContains(t, err, `unknown transport "carrier-pigeon", available: echo`)
}

func TestPreflight(t *testing.T) {
	peer := net.IPv4(192, 0, 2, 1)
	var probed []net.IP
	probe := func(_ context.Context, ip net.IP) (ProbeResult, error) {
		probed = append(probed, ip)
		return ProbeResult{}, errors.New("timeout")
	}

	s := transporttest.Session(t, true, func(o *config.Options) {
		o.Loops = 1
		o.Preflight = true
	})
	e := &echo{peer: peer}
	r := runner(e)
	r.Probe = probe

	assert.NilError(t, r.Run(context.Background(), s, config.Selection{Name: "echo"}))
	assert.Equal(t, len(probed), 1)
	assert.Assert(t, probed[0].Equal(peer))
	assert.Equal(t, e.rounds, 1)

	s = transporttest.Session(t, true, func(o *config.Options) { o.Loops = 1 })
	assert.NilError(t, r.Run(context.Background(), s, config.Selection{Name: "echo"}))
	assert.Equal(t, len(probed), 1)
}

func TestBuiltinTransports(t *testing.T) {
	assert.DeepEqual(t, Transports.Names(), []string{"udp", "tcp", "uart", "rawlink", "zerocopy"})

	var buf bytes.Buffer
	assert.NilError(t, Transports.WriteUsage(&buf))
	for _, name := range Transports.Names() {
		assert.Assert(t, is.Contains(buf.String(), "  "+name+" "))
	}

	t1, err := Transports.Lookup("udp")
	assert.NilError(t, err)
	t2, err := Transports.Lookup("udp")
	assert.NilError(t, err)
	assert.Assert(t, t1 != t2)
}
