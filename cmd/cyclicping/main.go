package main

import (
	"bytes"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/DrC0ns0le/cyclicping/internal/clock"
	"github.com/DrC0ns0le/cyclicping/internal/config"
	"github.com/DrC0ns0le/cyclicping/internal/measure"
	"github.com/DrC0ns0le/cyclicping/pkg/logging"
)

func newCommand(run func(cmd *cobra.Command, o *config.Options) error) *cobra.Command {
	o := config.Default()

	var transports bytes.Buffer
	measure.Transports.WriteUsage(&transports)

	cmd := &cobra.Command{
		Use:   "cyclicping",
		Short: "RT round trip time measuring tool",
		Long: "cyclicping - RT round trip time measuring tool\n\n" +
			"The following transports are available:\n" + transports.String(),
		Version:       config.Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o.ClockSet = cmd.Flags().Changed("clock")
			return run(cmd, &o)
		},
	}
	cmd.SetVersionTemplate("{{.Version}}\n")
	bindFlags(cmd.Flags(), &o)

	return cmd
}

func bindFlags(f *pflag.FlagSet, o *config.Options) {
	f.SortFlags = false
	f.BoolVarP(&o.SplitLeg, "split-leg", "2", false, "Collect additional receive and send time statistics (hosts have to be time synchronized)")
	f.IntVarP(&o.Affinity, "affinity", "a", o.Affinity, "Run on processor <nr>")
	f.IntVarP(&o.Breaktrace, "breaktrace", "b", 0, "Abort ftrace if latency is greater <t>")
	f.BoolVarP(&o.Client, "client", "c", false, "Run in client mode")
	f.Int32VarP((*int32)(&o.Clock), "clock", "C", int32(clock.Monotonic), "Select clock (0 MONOTONIC, 1 REALTIME)")
	f.StringVarP(&o.DumpFile, "dump", "d", "", "Dump packet times to file <f>")
	f.BoolVarP(&o.Ftrace, "ftrace", "f", false, "Enable ftrace")
	f.BoolVarP(&o.Gnuplot, "gnuplot", "g", false, "Output gnuplot script with histogram")
	f.IntVarP(&o.Histogram, "histogram", "H", 0, "Generate histogram with depth <h>")
	f.IntVarP(&o.Interval, "interval", "i", o.Interval, "Packet interval in us")
	f.IntVarP(&o.Loops, "loops", "l", 0, "Send <l> packets, then quit")
	f.IntVarP(&o.Length, "length", "L", o.Length, "Packet length in bytes")
	f.BoolVarP(&o.MLock, "mlockall", "m", false, "Lock process memory")
	f.BoolVarP(&o.Millis, "ms", "M", false, "Use ms as output time unit (default: us)")
	f.IntVarP(&o.Priority, "prio", "p", 0, "Process priority")
	f.IntVarP(&o.SocketPrio, "so-prio", "P", 0, "Socket priority")
	f.BoolVarP(&o.Quiet, "quiet", "q", false, "Don't print current statistic")
	f.BoolVarP(&o.Server, "server", "s", false, "Run in server mode")
	f.StringVarP(&o.Transport, "use", "u", "", "Use transport <mod>")
	f.BoolVarP(&o.Verbose, "verbose", "v", false, "Verbose mode on")
	f.BoolVar(&o.Preflight, "preflight", false, "Probe the peer with ICMP echo before a client run")
	f.IntVar(&o.MetricsPort, "metrics.port", 0, "Port for the Prometheus metrics server (0 disables)")
	f.BoolVar(&o.LoggingDebug, "logging.debug", false, "Enable debug logging")
}

func main() {
	if err := newCommand(run).Execute(); err != nil {
		logging.Errorf("%v", err)
		os.Exit(1)
	}
}
