// Package rawlink measures round trips with Ethernet frames of a dedicated
// EtherType, below any network layer.
package rawlink

import (
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/DrC0ns0le/cyclicping/internal/payload"
	"github.com/DrC0ns0le/cyclicping/internal/runstate"
	"github.com/DrC0ns0le/cyclicping/internal/session"
	"github.com/DrC0ns0le/cyclicping/internal/system/netctl"
	"github.com/DrC0ns0le/cyclicping/internal/transport"
)

const (
	name = "rawlink"

	// EtherType carried by the measurement frames.
	EtherType = 0x22f0

	// streamMarker opens every measurement payload, seqOffset holds the
	// round sequence number.
	streamMarker = 0x6f
	seqOffset    = 3
	headerLen    = 4

	replyTimeout = time.Second
)

// Layout places the timestamps behind the stream header.
var Layout = payload.Layout{Base: headerLen}

type RawLink struct {
	fd   int
	link netctl.Link
	peer *unix.SockaddrLinklayer
}

func New() transport.Transport {
	return &RawLink{fd: -1}
}

func (r *RawLink) Name() string { return name }

func (r *RawLink) Usage() string {
	return "rawlink:<interface>:<peer-mac> (client and server, mac as aa-bb-cc-dd-ee-ff)"
}

func (r *RawLink) Init(s *session.Session, args []string) error {
	iface := transport.Arg(args, 0, "")
	macArg := transport.Arg(args, 1, "")
	if iface == "" || macArg == "" {
		return transport.Initf(name, "interface and peer address required, usage: %s", r.Usage())
	}
	mac, err := transport.ParseHardwareAddr(macArg)
	if err != nil {
		return transport.WrapInit(name, err, "parsing arguments")
	}
	if len(s.Send) < Layout.MinLength() {
		return transport.Initf(name, "payload length %d below minimum %d", len(s.Send), Layout.MinLength())
	}

	r.link, err = netctl.LookupLink(iface)
	if err != nil {
		return transport.WrapInit(name, err, "resolving interface")
	}

	proto := transport.Htons(EtherType)
	r.fd, err = unix.Socket(unix.AF_PACKET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, int(proto))
	if err != nil {
		return transport.WrapInit(name, err, "opening packet socket")
	}
	if err := unix.Bind(r.fd, &unix.SockaddrLinklayer{Protocol: proto, Ifindex: r.link.Index}); err != nil {
		return transport.WrapInit(name, err, "binding to "+iface)
	}
	transport.SetSocketPriority(r.fd, s.Opts.SocketPrio, s.Logger)

	r.peer = linkAddr(proto, r.link.Index, mac)

	s.UseLayout(Layout)
	s.Send[0] = streamMarker
	s.Send[1] = 0
	s.Send[2] = 0
	s.Send[seqOffset] = 0

	s.Logger.Debugf("rawlink on %s (%s) towards %s", iface, r.link.HardwareAddr, mac)
	return nil
}

func linkAddr(proto uint16, index int, mac net.HardwareAddr) *unix.SockaddrLinklayer {
	sa := &unix.SockaddrLinklayer{
		Protocol: proto,
		Ifindex:  index,
		Halen:    uint8(len(mac)),
	}
	copy(sa.Addr[:], mac)
	return sa
}

func (r *RawLink) Client(s *session.Session) error {
	departure := s.Now()
	Layout.PutDeparture(s.Send, departure)

	if err := unix.Sendto(r.fd, s.Send, 0, r.peer); err != nil {
		return transport.WrapRound(name, err, "sending frame")
	}

	deadline := time.Now().Add(replyTimeout)
	n := 0
	for n == 0 || s.Recv[0] != streamMarker {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return transport.WrapRound(name, runstate.ErrTimeout, "receiving frame")
		}
		var err error
		if n, err = r.receive(s, remaining); err != nil {
			return transport.WrapRound(name, err, "receiving frame")
		}
	}
	arrival := s.Now()
	if n != len(s.Recv) {
		return transport.Roundf(name, "received %d bytes, want %d", n, len(s.Recv))
	}

	if s.Recv[seqOffset] != s.Send[seqOffset] {
		return transport.Roundf(name, "sequence number mismatch: sent %d, received %d",
			s.Send[seqOffset], s.Recv[seqOffset])
	}

	err := transport.CompleteClientRound(name, s, departure, arrival)
	s.Send[seqOffset]++
	return err
}

// Server echoes one measurement frame. Frames of other streams sharing the
// EtherType are ignored.
func (r *RawLink) Server(s *session.Session) error {
	n, err := r.receive(s, -1)
	if err != nil {
		return transport.WrapRound(name, err, "receiving frame")
	}
	if n == 0 || s.Recv[0] != streamMarker {
		return nil
	}
	if n != len(s.Recv) {
		return transport.Roundf(name, "received %d bytes, want %d", n, len(s.Recv))
	}

	Layout.PutEcho(s.Recv, s.Now())

	return transport.WrapRound(name, unix.Sendto(r.fd, s.Recv, 0, r.peer), "sending frame")
}

// receive waits for one frame and copies it into s.Recv. A negative timeout
// waits forever.
func (r *RawLink) receive(s *session.Session, timeout time.Duration) (int, error) {
	for {
		if _, err := s.State.Wait(r.fd, unix.POLLIN, timeout); err != nil {
			return 0, err
		}
		n, _, err := unix.Recvfrom(r.fd, s.Recv, unix.MSG_DONTWAIT)
		if err == unix.EAGAIN || err == unix.EINTR {
			continue
		}
		return n, err
	}
}

func (r *RawLink) Close() error {
	if r.fd < 0 {
		return nil
	}
	err := unix.Close(r.fd)
	r.fd = -1
	return err
}
