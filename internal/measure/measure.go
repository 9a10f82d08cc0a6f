// Package measure drives a transport through a measurement run.
package measure

import (
	"context"

	"github.com/pkg/errors"

	"github.com/DrC0ns0le/cyclicping/internal/config"
	"github.com/DrC0ns0le/cyclicping/internal/runstate"
	"github.com/DrC0ns0le/cyclicping/internal/session"
	"github.com/DrC0ns0le/cyclicping/internal/transport"
)

// Tracer brackets the measured section of a run.
type Tracer interface {
	Start() error
	Stop()
}

type Runner struct {
	// Registry resolves the selected transport, Transports when nil.
	Registry *Registry
	Tracer   Tracer
	// Probe checks peer reachability before a client run when the preflight
	// option is set, ProbeICMP when nil.
	Probe Prober
}

// Run executes one measurement run with the built-in transports.
func Run(ctx context.Context, s *session.Session, sel config.Selection) error {
	var r Runner
	return r.Run(ctx, s, sel)
}

// Run initialises the selected transport and calls its client or server
// round until the run state is stopped or a round fails. Cancelling ctx
// stops the run. The transport is always closed before Run returns.
func (r *Runner) Run(ctx context.Context, s *session.Session, sel config.Selection) error {
	registry := r.Registry
	if registry == nil {
		registry = Transports
	}
	t, err := registry.Lookup(sel.Name)
	if err != nil {
		return err
	}

	logger := s.Logger.With("transport", t.Name())
	defer func() {
		if err := t.Close(); err != nil {
			logger.Warnf("closing transport: %v", err)
		}
	}()

	stop := context.AfterFunc(ctx, s.State.Stop)
	defer stop()

	if err := t.Init(s, sel.Args); err != nil {
		if interrupted(s, err) {
			logger.Infof("interrupted during setup")
			return nil
		}
		return err
	}

	if s.Opts.Client && s.Opts.Preflight {
		r.preflight(ctx, s, t)
	}

	s.Begin()
	if r.Tracer != nil {
		if err := r.Tracer.Start(); err != nil {
			logger.Warnf("starting trace: %v", err)
		}
	}

	rounds, err := loop(s, t)

	if r.Tracer != nil {
		r.Tracer.Stop()
	}
	s.Finish()

	logger.Debugf("run finished after %d rounds in %v", rounds, s.End.Sub(s.Start))
	return err
}

func loop(s *session.Session, t transport.Transport) (int, error) {
	rounds := 0
	for s.State.Running() {
		if s.Opts.Client && s.QuotaExhausted() {
			break
		}

		var err error
		if s.Opts.Server {
			err = t.Server(s)
		} else {
			err = t.Client(s)
		}
		if err != nil {
			if interrupted(s, err) {
				return rounds, nil
			}
			return rounds, err
		}
		rounds++
	}
	return rounds, nil
}

// interrupted reports whether err is the result of the run being stopped.
func interrupted(s *session.Session, err error) bool {
	return errors.Is(err, runstate.ErrInterrupted) && !s.State.Running()
}
