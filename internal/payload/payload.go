// Package payload defines where timestamps live inside the measurement packet.
package payload

import (
	"encoding/binary"

	"github.com/cespare/xxhash"

	"github.com/DrC0ns0le/cyclicping/internal/clock"
)

// StampSize is the encoded size of one timestamp: seconds then nanoseconds,
// each a little-endian 64-bit word.
const StampSize = 16

// PutStamp encodes s into the first StampSize bytes of b.
func PutStamp(b []byte, s clock.Stamp) {
	binary.LittleEndian.PutUint64(b[0:8], uint64(s.Sec))
	binary.LittleEndian.PutUint64(b[8:16], uint64(s.Nsec))
}

// ReadStamp decodes the timestamp held in the first StampSize bytes of b.
func ReadStamp(b []byte) clock.Stamp {
	return clock.Stamp{
		Sec:  int64(binary.LittleEndian.Uint64(b[0:8])),
		Nsec: int64(binary.LittleEndian.Uint64(b[8:16])),
	}
}

// Layout places the departure and echo timestamps at fixed offsets from Base.
// Everything after the echo slot is fill.
type Layout struct {
	Base int
}

// Default is the layout used when the payload carries no transport prefix.
var Default = Layout{}

func (l Layout) departure() int { return l.Base }
func (l Layout) echo() int      { return l.Base + StampSize }

// MinLength is the smallest buffer that holds both timestamps.
func (l Layout) MinLength() int {
	return l.Base + 2*StampSize
}

func (l Layout) PutDeparture(b []byte, s clock.Stamp) {
	PutStamp(b[l.departure():], s)
}

func (l Layout) Departure(b []byte) clock.Stamp {
	return ReadStamp(b[l.departure():])
}

func (l Layout) PutEcho(b []byte, s clock.Stamp) {
	PutStamp(b[l.echo():], s)
}

func (l Layout) Echo(b []byte) clock.Stamp {
	return ReadStamp(b[l.echo():])
}

// Fill writes a deterministic pattern behind the timestamps.
func (l Layout) Fill(b []byte) {
	for i := l.MinLength(); i < len(b); i++ {
		b[i] = byte(i*7 + 0x5a)
	}
}

// Digest hashes the fill region of b. Peers echo it untouched, so a reply whose
// digest differs from the request's was damaged on the way.
func (l Layout) Digest(b []byte) uint64 {
	if len(b) <= l.MinLength() {
		return 0
	}
	return xxhash.Sum64(b[l.MinLength():])
}
