package tcp

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

func startServer(t *testing.T, port string) (*TCP, chan error, func()) {
	t.Helper()
	srv := transporttest.Session(t, false, nil)
	server := &TCP{}
	assert.NilError(t, server.Init(srv, []string{port}))

	served := make(chan error, 4)
	go func() {
		for {
			err := server.Server(srv)
			served <- err
			if err != nil {
				return
			}
		}
	}()
	return server, served, func() {
		srv.State.Stop()
		server.Close()
	}
}

func TestServesUntilDisconnect(t *testing.T) {
	port := transporttest.FreePort(t, "tcp")
	_, served, stop := startServer(t, port)
	defer stop()

	cli := transporttest.Session(t, true, func(o *config.Options) {
		o.Loops = 4
		o.Length = 256
	})
	client := New()
	assert.NilError(t, client.Init(cli, []string{"127.0.0.1", port}))

	for cli.State.Running() {
		assert.NilError(t, client.Client(cli))
	}
	assert.Equal(t, cli.Stats.Accumulator(stats.RoundTrip).Count, uint64(4))
	assert.NilError(t, client.Close())

	select {
	case err := <-served:
		assert.NilError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server round did not end on disconnect")
	}
}

func TestStopInterruptsAccept(t *testing.T) {
	port := transporttest.FreePort(t, "tcp")
	srv := transporttest.Session(t, false, nil)
	server := New()
	assert.NilError(t, server.Init(srv, []string{port}))
	defer server.Close()

	done := make(chan error, 1)
	go func() { done <- server.Server(srv) }()

	time.Sleep(10 * time.Millisecond)
	srv.State.Stop()

	select {
	case err := <-done:
		assert.Assert(t, errors.Is(err, runstate.ErrInterrupted), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("accept was not interrupted")
	}
}

func TestConnectFailure(t *testing.T) {
	port := transporttest.FreePort(t, "tcp")
	cli := transporttest.Session(t, true, nil)
	err := New().Init(cli, []string{"127.0.0.1", port})
	assert.Assert(t, errors.Is(err, transport.ErrInit))
}
