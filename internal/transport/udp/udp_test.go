package udp

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"gotest.tools/v3/assert"

	"github.com/DrC0ns0le/cyclicping/internal/config"
	"github.com/DrC0ns0le/cyclicping/internal/runstate"
	"github.com/DrC0ns0le/cyclicping/internal/stats"
	"github.com/DrC0ns0le/cyclicping/internal/transport"
	"github.com/DrC0ns0le/cyclicping/internal/transport/transporttest"
)

func TestInitRejectsBadArguments(t *testing.T) {
	s := transporttest.Session(t, true, nil)
	err := New().Init(s, nil)
	assert.Assert(t, errors.Is(err, transport.ErrInit))

	err = New().Init(s, []string{"127.0.0.1", "99999"})
	assert.Assert(t, errors.Is(err, transport.ErrInit))
}

func TestLoopback(t *testing.T) {
	port := transporttest.FreePort(t, "udp")

	srv := transporttest.Session(t, false, func(o *config.Options) { o.SplitLeg = true })
	server := New()
	assert.NilError(t, server.Init(srv, []string{port}))
	defer server.Close()

	served := make(chan error, 1)
	go func() {
		for {
			if err := server.Server(srv); err != nil {
				served <- err
				return
			}
		}
	}()

	cli := transporttest.Session(t, true, func(o *config.Options) {
		o.Loops = 3
		o.SplitLeg = true
	})
	client := New()
	assert.NilError(t, client.Init(cli, []string{"127.0.0.1", port}))
	defer client.Close()
	assert.Equal(t, client.(transport.Peer).PeerIP().String(), "127.0.0.1")

	for cli.State.Running() {
		assert.NilError(t, client.Client(cli))
	}
	assert.Equal(t, cli.Stats.Accumulator(stats.RoundTrip).Count, uint64(3))

	srv.State.Stop()
	select {
	case err := <-served:
		assert.Assert(t, errors.Is(err, runstate.ErrInterrupted), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server was not interrupted")
	}
}

func TestClientTimesOut(t *testing.T) {
	port := transporttest.FreePort(t, "udp")

	cli := transporttest.Session(t, true, nil)
	client := New()
	assert.NilError(t, client.Init(cli, []string{"127.0.0.1", port}))
	defer client.Close()

	err := client.Client(cli)
	assert.Assert(t, errors.Is(err, transport.ErrRound), "got %v", err)
}
