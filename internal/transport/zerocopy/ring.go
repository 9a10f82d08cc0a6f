package zerocopy

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// struct tpacket2_hdr, see linux/if_packet.h.
const (
	tpStatusOffset  = 0
	tpLenOffset     = 4
	tpSnaplenOffset = 8
	tpMacOffset     = 12
	tpacket2HdrLen  = 32

	// struct sockaddr_ll follows the aligned frame header.
	sllOffset        = tpacket2HdrLen
	sllPkttypeOffset = sllOffset + 10

	// txDataOffset is where the kernel expects outgoing data in a TX frame
	// when PACKET_TX_HAS_OFF is not set: TPACKET2_HDRLEN minus the
	// sockaddr_ll.
	txDataOffset = tpacket2HdrLen
)

var errWrongFormat = errors.New("kernel rejected transmit frame")

// ring is a circular array of fixed-size frames shared with the kernel.
// Frames are contiguous: the block size is a multiple of the frame size.
type ring struct {
	mem       []byte
	frameSize int
	frames    int
	cur       int
}

func newRing(mem []byte, frameSize int) ring {
	return ring{mem: mem, frameSize: frameSize, frames: len(mem) / frameSize}
}

func (r *ring) frame(i int) []byte {
	off := i * r.frameSize
	return r.mem[off : off+r.frameSize : off+r.frameSize]
}

func (r *ring) advance() {
	r.cur++
	if r.cur == r.frames {
		r.cur = 0
	}
}

func loadStatus(f []byte) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&f[tpStatusOffset])))
}

func storeStatus(f []byte, v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&f[tpStatusOffset])), v)
}

type txRing struct {
	ring
}

type txSlot struct {
	r *txRing
	f []byte
}

// TryAcquire returns the frame at the cursor if user space owns it.
func (t *txRing) TryAcquire() (txSlot, bool, error) {
	f := t.frame(t.cur)
	switch st := loadStatus(f); {
	case st == unix.TP_STATUS_AVAILABLE:
		return txSlot{r: t, f: f}, true, nil
	case st&unix.TP_STATUS_WRONG_FORMAT != 0:
		// Hand the frame back so the ring does not stall on it.
		storeStatus(f, unix.TP_STATUS_AVAILABLE)
		return txSlot{}, false, errWrongFormat
	default:
		return txSlot{}, false, nil
	}
}

// Data is the writable area of the slot.
func (s txSlot) Data() []byte {
	return s.f[txDataOffset:]
}

// Commit queues the first n bytes of Data for transmission and moves the
// cursor to the next frame.
func (s txSlot) Commit(n int) {
	binary.NativeEndian.PutUint32(s.f[tpLenOffset:], uint32(n))
	storeStatus(s.f, unix.TP_STATUS_SEND_REQUEST)
	s.r.advance()
}

type rxRing struct {
	ring
}

type rxFrame struct {
	r *rxRing
	f []byte
}

// Next returns the frame at the cursor if the kernel has filled it.
func (r *rxRing) Next() (rxFrame, bool) {
	f := r.frame(r.cur)
	if loadStatus(f)&unix.TP_STATUS_USER == 0 {
		return rxFrame{}, false
	}
	return rxFrame{r: r, f: f}, true
}

// Len is the length of the packet on the wire.
func (f rxFrame) Len() int {
	return int(binary.NativeEndian.Uint32(f.f[tpLenOffset:]))
}

// Data is the captured part of the packet, starting at the Ethernet header.
func (f rxFrame) Data() []byte {
	mac := int(binary.NativeEndian.Uint16(f.f[tpMacOffset:]))
	snap := int(binary.NativeEndian.Uint32(f.f[tpSnaplenOffset:]))
	if mac > len(f.f) {
		return nil
	}
	if mac+snap > len(f.f) {
		snap = len(f.f) - mac
	}
	return f.f[mac : mac+snap]
}

// Outgoing reports whether the frame is a copy of one this host sent.
func (f rxFrame) Outgoing() bool {
	return f.f[sllPkttypeOffset] == unix.PACKET_OUTGOING
}

// Release returns the frame to the kernel and moves the cursor.
func (f rxFrame) Release() {
	storeStatus(f.f, unix.TP_STATUS_KERNEL)
	f.r.advance()
}
