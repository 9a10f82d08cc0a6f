package stats

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const timeLayout = "2006:01:02 15:04:05.000"

// Report describes the run a histogram belongs to.
type Report struct {
	Version   string
	CmdLine   []string
	Machine   string
	Kernel    string
	Start     time.Time
	End       time.Time
	Transport string
	// Interval is the configured pacing interval in microseconds.
	Interval int
	Length   int
	SplitLeg bool
}

// WriteHistogram writes the report header followed by one line per bucket.
func WriteHistogram(w io.Writer, r Report, e *Engine) error {
	bw := bufio.NewWriter(w)
	writeHeader(bw, r, e)
	writeBuckets(bw, r, e)
	return errors.Wrap(bw.Flush(), "writing histogram")
}

// WriteGnuplot writes the histogram embedded in a gnuplot script.
func WriteGnuplot(w io.Writer, r Report, e *Engine) error {
	bw := bufio.NewWriter(w)
	writeHeader(bw, r, e)

	fmt.Fprintln(bw, "$histogram << EOD")
	writeBuckets(bw, r, e)
	fmt.Fprintln(bw, "EOD")

	count := e.acc[RoundTrip].Count
	ymax := uint64(10)
	if count > 0 {
		ymax = uint64(math.Pow(10, 1+math.Floor(math.Log10(float64(count)))))
	}

	fmt.Fprintf(bw, "ymax=%d\n", ymax)
	fmt.Fprintf(bw, "plotname1=\"%s Latency\"\n", r.Transport)
	fmt.Fprintf(bw, "plotname2=\"%s Latency (send)\"\n", r.Transport)
	fmt.Fprintf(bw, "plotname3=\"%s Latency (receive)\"\n", r.Transport)
	fmt.Fprintf(bw, "set title \"cyclicping latency plot - %s\"\n", r.Start.Format(timeLayout))
	fmt.Fprintf(bw, "set xlabel \"Latency (%s)\"\n", e.unit)
	fmt.Fprintf(bw, "set xrange [0:%d]\n", e.depth)
	bw.WriteString(gnuplotHeader)
	if r.SplitLeg {
		bw.WriteString(gnuplotMultiPlot)
	} else {
		bw.WriteString(gnuplotSinglePlot)
	}
	fmt.Fprintln(bw, "pause -1")

	return errors.Wrap(bw.Flush(), "writing gnuplot script")
}

func writeHeader(w io.Writer, r Report, e *Engine) {
	all, send, recv := e.acc[RoundTrip], e.acc[Send], e.acc[Recv]

	fmt.Fprintf(w, "# cyclicping %s histogram data\n", r.Version)
	fmt.Fprintf(w, "# cmdline: %s\n", strings.Join(r.CmdLine, " "))
	fmt.Fprintf(w, "# machine: %s\n", r.Machine)
	fmt.Fprintf(w, "# kernel: %s\n", r.Kernel)
	fmt.Fprintf(w, "# start: %s\n", r.Start.Format(timeLayout))
	fmt.Fprintf(w, "# end: %s\n", r.End.Format(timeLayout))
	fmt.Fprintf(w, "# interface: %s\n", r.Transport)
	fmt.Fprintf(w, "# packet interval (us): %d\n", r.Interval)
	fmt.Fprintf(w, "# packet length (bytes): %d\n", r.Length)
	fmt.Fprintf(w, "# unit: %s\n", e.unit)
	fmt.Fprintf(w, "# packet count: %d\n", all.Count)
	fmt.Fprintf(w, "# split-leg mode: %d\n", boolInt(r.SplitLeg))
	if r.SplitLeg {
		fmt.Fprintf(w, "# minimum rtt: %d %d %d\n", e.Min(RoundTrip), e.Min(Send), e.Min(Recv))
		fmt.Fprintf(w, "# average rtt: %d %d %d\n", all.Average(), send.Average(), recv.Average())
		fmt.Fprintf(w, "# maximum rtt: %d %d %d\n", all.Max, send.Max, recv.Max)
	} else {
		fmt.Fprintf(w, "# minimum rtt: %d\n", e.Min(RoundTrip))
		fmt.Fprintf(w, "# average rtt: %d\n", all.Average())
		fmt.Fprintf(w, "# maximum rtt: %d\n", all.Max)
	}
	fmt.Fprintln(w)
}

func writeBuckets(w io.Writer, r Report, e *Engine) {
	fmt.Fprintln(w, "#  rtt  number of packets (sum, send, recv)")
	for i := 0; i < e.depth; i++ {
		fmt.Fprintf(w, "% 6d: %6d", i, e.acc[RoundTrip].Histogram[i])
		if r.SplitLeg {
			fmt.Fprintf(w, " %6d %6d", e.acc[Send].Histogram[i], e.acc[Recv].Histogram[i])
		}
		fmt.Fprintln(w)
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const gnuplotHeader = `set ylabel "Number of samples" offset -5,0,0
set yrange [0:log10(ymax)]
unset ytics
bfont=", 14"
set xtics font bfont
set ytics font bfont
set xlabel font bfont
set ylabel font bfont
set key font bfont
set ytics 1 add ("0" 0, "1" 1)
# Add major tics
set for [i=2:log10(ymax)] ytics add (sprintf("%g",10**(i-1)) i)
# Add minor tics
set for [i=1:log10(ymax)] for [j=2:9] ytics add ("" log10(10**i*j) 1)
set for [j=1:9] ytics add ("" j/10. 1) # Add minor tics between 0 and 1
`

const gnuplotSinglePlot = `plot $histogram using ($2 < 1 ? $2 : log10($2)+1) with boxes title plotname1
`

const gnuplotMultiPlot = `plot $histogram using ($2 < 1 ? $2 : log10($2)+1) with boxes title plotname1, \
$histogram using ($3 < 1 ? $3 : log10($3)+1) with boxes title plotname2, \
$histogram using ($4 < 1 ? $4 : log10($4)+1) with boxes title plotname3
`
