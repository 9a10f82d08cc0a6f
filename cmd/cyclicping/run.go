package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/DrC0ns0le/cyclicping/internal/clock"
	"github.com/DrC0ns0le/cyclicping/internal/config"
	"github.com/DrC0ns0le/cyclicping/internal/measure"
	"github.com/DrC0ns0le/cyclicping/internal/metrics"
	"github.com/DrC0ns0le/cyclicping/internal/pacing"
	"github.com/DrC0ns0le/cyclicping/internal/runstate"
	"github.com/DrC0ns0le/cyclicping/internal/session"
	"github.com/DrC0ns0le/cyclicping/internal/stats"
	"github.com/DrC0ns0le/cyclicping/internal/system"
	"github.com/DrC0ns0le/cyclicping/internal/system/ftrace"
	"github.com/DrC0ns0le/cyclicping/pkg/logging"
)

func run(cmd *cobra.Command, o *config.Options) error {
	switch {
	case o.LoggingDebug || o.Verbose:
		logging.SetLevel(slog.LevelDebug)
	case o.Quiet:
		logging.SetLevel(slog.LevelWarn)
	}
	logger := logging.NewDefaultLogger()

	if err := o.Validate(logger); err != nil {
		return err
	}
	sel, err := config.ParseSelection(o.Transport)
	if err != nil {
		return err
	}

	// Rounds, pacing and tuning all happen on this thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	restore, err := system.Apply(system.Tuning{
		MLock:    o.MLock,
		Priority: o.Priority,
		Affinity: o.Affinity,
	}, logger)
	defer restore()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	state, err := runstate.New()
	if err != nil {
		return err
	}
	defer state.Close()

	waiter, err := pacing.NewTimerWaiter(o.Clock, state)
	if err != nil {
		return err
	}
	defer waiter.Close()

	deps := session.Deps{
		State:  state,
		Clock:  clock.New(o.Clock),
		Waiter: waiter,
		Logger: logger,
	}
	if !o.Quiet {
		deps.Live = cmd.OutOrStdout()
	}

	runner := &measure.Runner{}
	var tracer *ftrace.Tracer
	if o.Ftrace {
		tracer, err = ftrace.Setup(ftrace.DefaultRoot, os.Getpid(), logger)
		if err != nil {
			return err
		}
		defer tracer.Close()
		deps.Tracer = tracer
		runner.Tracer = tracer
	}

	if o.MetricsPort > 0 {
		deps.Observer = metrics.NewObserver(prometheus.DefaultRegisterer, sel.Name, o.Unit())
		if _, err := metrics.Serve(ctx, fmt.Sprintf(":%d", o.MetricsPort), prometheus.DefaultGatherer, logger); err != nil {
			return err
		}
	}

	s := session.New(*o, deps)
	runErr := runner.Run(ctx, s, sel)

	out := cmd.OutOrStdout()
	if !o.Quiet {
		fmt.Fprint(out, "\n\n\n")
	}
	if runErr == nil && o.Histogram > 0 {
		if err := writeReport(out, o, sel, s); err != nil {
			logger.Errorf("writing histogram: %v", err)
		}
	}
	if runErr == nil && s.Dump != nil {
		if err := s.Dump.WriteFile(o.DumpFile, o.SplitLeg); err != nil {
			logger.Errorf("%v", err)
			runErr = err
		}
	}
	if tracer != nil {
		fmt.Fprintf(out, "trace available at: %s\n", tracer.TraceFile())
	}

	return runErr
}

func writeReport(w io.Writer, o *config.Options, sel config.Selection, s *session.Session) error {
	host := system.Uname()
	r := stats.Report{
		Version:   config.Version,
		CmdLine:   os.Args[1:],
		Machine:   host.Machine,
		Kernel:    host.Kernel,
		Start:     s.Start,
		End:       s.End,
		Transport: sel.Name,
		Interval:  o.Interval,
		Length:    o.Length,
		SplitLeg:  o.SplitLeg,
	}
	if o.Gnuplot {
		return stats.WriteGnuplot(w, r, s.Stats)
	}
	return stats.WriteHistogram(w, r, s.Stats)
}
