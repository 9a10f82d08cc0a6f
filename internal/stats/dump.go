package stats

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
)

// DumpRecord holds the quantized values of one accepted round.
type DumpRecord struct {
	RoundTrip uint32
	Send      uint32
	Recv      uint32
}

// Dump is a fixed-capacity, append-only buffer of round records.
type Dump struct {
	records []DumpRecord
}

// NewDump allocates room for capacity rounds.
func NewDump(capacity int) *Dump {
	return &Dump{records: make([]DumpRecord, 0, capacity)}
}

// Append stores r at the next index. Records beyond capacity are dropped.
func (d *Dump) Append(r DumpRecord) bool {
	if len(d.records) == cap(d.records) {
		return false
	}
	d.records = append(d.records, r)
	return true
}

func (d *Dump) Len() int {
	return len(d.records)
}

func (d *Dump) Records() []DumpRecord {
	return d.records
}

// WriteTo writes one line per round. Split-leg dumps carry the send and
// receive legs as extra columns.
func (d *Dump) WriteTo(w io.Writer, splitLeg bool) error {
	bw := bufio.NewWriter(w)
	for i, r := range d.records {
		var err error
		if splitLeg {
			_, err = fmt.Fprintf(bw, "%8d, %8d, %8d, %8d\n", i, r.RoundTrip, r.Send, r.Recv)
		} else {
			_, err = fmt.Fprintf(bw, "%8d, %8d\n", i, r.RoundTrip)
		}
		if err != nil {
			return errors.Wrap(err, "writing dump")
		}
	}
	return errors.Wrap(bw.Flush(), "writing dump")
}

// WriteFile writes the dump to path, replacing any existing file.
func (d *Dump) WriteFile(path string, splitLeg bool) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating dump file")
	}
	if err := d.WriteTo(f, splitLeg); err != nil {
		f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "closing dump file")
}
