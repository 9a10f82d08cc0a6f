package stats

import (
	"fmt"
	"io"

	"github.com/DrC0ns0le/cyclicping/internal/clock"
)

// Round carries the three timestamps of one client round.
type Round struct {
	Departure clock.Stamp
	Echo      clock.Stamp
	Arrival   clock.Stamp
}

// WriteLive prints the running statistics with the values of round r and moves
// the cursor back up so the next call overwrites them.
func WriteLive(w io.Writer, e *Engine, splitLeg bool, r Round) {
	all := e.acc[RoundTrip]
	fmt.Fprintf(w, "Cnt:%8d (all)  Min:%8d Act:%10d Avg:%10d Max:%10d\n",
		all.Count, e.Min(RoundTrip), e.unit.Quantize(r.Arrival.Sub(r.Departure)), all.Average(), all.Max)

	if !splitLeg {
		fmt.Fprint(w, "\033[1A")
		return
	}

	send, recv := e.acc[Send], e.acc[Recv]
	fmt.Fprintf(w, "             (send) Min:%8d Act:%10d Avg:%10d Max:%10d\n",
		e.Min(Send), e.unit.Quantize(r.Echo.Sub(r.Departure)), send.Average(), send.Max)
	fmt.Fprintf(w, "             (recv) Min:%8d Act:%10d Avg:%10d Max:%10d\n",
		e.Min(Recv), e.unit.Quantize(r.Arrival.Sub(r.Echo)), recv.Average(), recv.Max)
	fmt.Fprint(w, "\033[3A")
}
