package metrics

import (
	"context"
	"net"
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DrC0ns0le/cyclicping/pkg/logging"
)

const (
	Path = "/metrics"
	// ReadyPath answers 200 once the exporter is listening.
	ReadyPath = "/ready"
)

// Serve exposes g on addr until ctx is done. It returns once the listener
// is bound.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger logging.Logger) (net.Addr, error) {
	mux := http.NewServeMux()
	mux.HandleFunc(ReadyPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok\n"))
	})
	mux.Handle(Path, promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "listening for metrics")
	}
	srv := &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("metrics server: %v", err)
		}
	}()

	logger.Infof("serving metrics on %s%s", ln.Addr(), Path)
	return ln.Addr(), nil
}
