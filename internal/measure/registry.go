package measure

import (
	"fmt"
	"io"
	"strings"

	"github.com/DrC0ns0le/cyclicping/internal/config"
	"github.com/DrC0ns0le/cyclicping/internal/transport"
	"github.com/DrC0ns0le/cyclicping/internal/transport/rawlink"
	"github.com/DrC0ns0le/cyclicping/internal/transport/tcp"
	"github.com/DrC0ns0le/cyclicping/internal/transport/uart"
	"github.com/DrC0ns0le/cyclicping/internal/transport/udp"
	"github.com/DrC0ns0le/cyclicping/internal/transport/zerocopy"
)

// Registry maps transport names to their constructors.
type Registry struct {
	names     []string
	factories map[string]transport.Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]transport.Factory)}
}

// Register adds f under the name its transports report.
func (r *Registry) Register(f transport.Factory) {
	name := f().Name()
	if _, ok := r.factories[name]; !ok {
		r.names = append(r.names, name)
	}
	r.factories[name] = f
}

// Lookup returns a fresh transport for name.
func (r *Registry) Lookup(name string) (transport.Transport, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, &config.Error{
			Option: "transport",
			Reason: fmt.Sprintf("unknown transport %q, available: %s", name, strings.Join(r.names, ", ")),
		}
	}
	return f(), nil
}

// Names lists the registered transports in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// WriteUsage writes one usage line per transport.
func (r *Registry) WriteUsage(w io.Writer) error {
	for _, name := range r.names {
		if _, err := fmt.Fprintf(w, "  %-9s %s\n", name, r.factories[name]().Usage()); err != nil {
			return err
		}
	}
	return nil
}

// Transports holds every built-in transport.
var Transports = func() *Registry {
	r := NewRegistry()
	r.Register(udp.New)
	r.Register(tcp.New)
	r.Register(uart.New)
	r.Register(rawlink.New)
	r.Register(zerocopy.New)
	return r
}()
