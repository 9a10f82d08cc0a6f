// Package zerocopy measures round trips with UDP datagrams built by hand and
// exchanged through the memory-mapped packet rings of an AF_PACKET socket,
// bypassing the socket layer on both sides.
package zerocopy

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/DrC0ns0le/cyclicping/internal/clock"
	"github.com/DrC0ns0le/cyclicping/internal/runstate"
	"github.com/DrC0ns0le/cyclicping/internal/session"
	"github.com/DrC0ns0le/cyclicping/internal/system/netctl"
	"github.com/DrC0ns0le/cyclicping/internal/transport"
)

const (
	name = "zerocopy"

	sendTimeout   = 2 * time.Second
	clientTimeout = time.Second

	minFrameSize = 2048
	blockSize    = 1 << 16
	ringFrames   = 256

	// rxReserve covers TPACKET2_HDRLEN plus the MAC alignment the kernel
	// applies before the captured frame.
	rxReserve = 80
)

// settleDelay gives the link time to come up after the rings are attached.
var settleDelay = 5 * time.Second

type rxStatus int

const (
	rxOK rxStatus = iota
	rxTimeout
	rxNoPacket
	rxError
)

type ZeroCopy struct {
	fd  int
	mem []byte
	rx  rxRing
	tx  txRing

	port       uint16
	payloadLen int
	local      Header
	peerIP     net.IP

	tmpl     [HeaderLen]byte
	reply    [HeaderLen]byte
	received [HeaderLen]byte
	parser   *headerParser

	wait func(events int16, timeout time.Duration) (int16, error)
	kick func() error
}

func New() transport.Transport {
	return &ZeroCopy{fd: -1, parser: newHeaderParser()}
}

func (z *ZeroCopy) Name() string { return name }

func (z *ZeroCopy) Usage() string {
	return "zerocopy:<interface>:<peer-mac>:<peer-ip>[:port] (client), zerocopy:<interface>[:port] (server)"
}

func (z *ZeroCopy) PeerIP() net.IP { return z.peerIP }

func (z *ZeroCopy) Init(s *session.Session, args []string) error {
	iface := transport.Arg(args, 0, "")
	if iface == "" {
		return transport.Initf(name, "interface required, usage: %s", z.Usage())
	}

	var (
		peerMAC net.HardwareAddr
		portArg string
		err     error
	)
	if s.Opts.Client {
		if len(args) < 3 {
			return transport.Initf(name, "interface, peer mac and peer ip required, usage: %s", z.Usage())
		}
		if peerMAC, err = transport.ParseHardwareAddr(args[1]); err != nil {
			return transport.WrapInit(name, err, "parsing arguments")
		}
		if z.peerIP, err = transport.ParseIPv4(args[2]); err != nil {
			return transport.WrapInit(name, err, "parsing arguments")
		}
		portArg = transport.Arg(args, 3, "")
	} else {
		portArg = transport.Arg(args, 1, "")
	}
	port, err := transport.ParsePort(portArg)
	if err != nil {
		return transport.WrapInit(name, err, "parsing arguments")
	}
	z.port = uint16(port)

	link, err := netctl.LookupLink(iface)
	if err != nil {
		return transport.WrapInit(name, err, "resolving interface")
	}
	localIP, err := link.RequireIPv4()
	if err != nil {
		return transport.WrapInit(name, err, "resolving interface")
	}

	z.payloadLen = len(s.Send)
	if ipLen+udpLen+z.payloadLen > link.MTU {
		return transport.Initf(name, "payload length %d exceeds MTU %d of %s", z.payloadLen, link.MTU, iface)
	}

	if s.Opts.Client {
		checkPath(s, link, z.peerIP)
	}

	z.local = Header{
		SrcMAC:     link.HardwareAddr,
		DstMAC:     peerMAC,
		SrcIP:      localIP,
		DstIP:      z.peerIP,
		SrcPort:    z.port,
		DstPort:    z.port,
		PayloadLen: z.payloadLen,
	}
	z.local.MarshalTo(z.tmpl[:])

	if err := z.open(link.Index, HeaderLen+z.payloadLen); err != nil {
		return transport.WrapInit(name, err, "setting up packet rings on "+iface)
	}
	transport.SetSocketPriority(z.fd, s.Opts.SocketPrio, s.Logger)

	fd := z.fd
	z.wait = func(events int16, timeout time.Duration) (int16, error) {
		return s.State.Wait(fd, events, timeout)
	}
	z.kick = func() error {
		err := unix.Sendto(fd, nil, unix.MSG_DONTWAIT, nil)
		if err == unix.EAGAIN {
			return nil
		}
		return err
	}

	s.Logger.Infof("%s: %s (%s, %s) port %d, waiting %v for the link to settle",
		name, iface, link.HardwareAddr, localIP, z.port, settleDelay)
	return s.State.Sleep(settleDelay)
}

// checkPath warns when the kernel would not reach peer directly over link.
// Frames go out on link regardless.
func checkPath(s *session.Session, link netctl.Link, peer net.IP) {
	path, err := netctl.RouteTo(peer)
	if err != nil {
		s.Logger.Warnf("%s: %v", name, err)
		return
	}
	if !path.Direct(link.Index) {
		s.Logger.Warnf("%s: kernel routes %s via link %d gateway %v, frames are sent on %s directly",
			name, peer, path.LinkIndex, path.Gateway, link.Name)
	}
}

// ringRequest sizes both rings for frames of frameLen bytes.
func ringRequest(frameLen int) unix.TpacketReq {
	frameSize := minFrameSize
	for frameSize < rxReserve+frameLen {
		frameSize <<= 1
	}
	block := blockSize
	if frameSize > block {
		block = frameSize
	}
	blocks := ringFrames * frameSize / block
	if blocks == 0 {
		blocks = 1
	}
	return unix.TpacketReq{
		Block_size: uint32(block),
		Block_nr:   uint32(blocks),
		Frame_size: uint32(frameSize),
		Frame_nr:   uint32(blocks * (block / frameSize)),
	}
}

func (z *ZeroCopy) open(index, frameLen int) error {
	proto := transport.Htons(unix.ETH_P_ALL)
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, int(proto))
	if err != nil {
		return errors.Wrap(err, "opening packet socket")
	}
	z.fd = fd

	if err := unix.SetsockoptInt(fd, unix.SOL_PACKET, unix.PACKET_VERSION, unix.TPACKET_V2); err != nil {
		return errors.Wrap(err, "selecting TPACKET_V2")
	}
	req := ringRequest(frameLen)
	if err := unix.SetsockoptTpacketReq(fd, unix.SOL_PACKET, unix.PACKET_RX_RING, &req); err != nil {
		return errors.Wrap(err, "requesting receive ring")
	}
	if err := unix.SetsockoptTpacketReq(fd, unix.SOL_PACKET, unix.PACKET_TX_RING, &req); err != nil {
		return errors.Wrap(err, "requesting transmit ring")
	}

	size := int(req.Block_size * req.Block_nr)
	z.mem, err = unix.Mmap(fd, 0, 2*size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return errors.Wrap(err, "mapping rings")
	}
	z.rx = rxRing{newRing(z.mem[:size], int(req.Frame_size))}
	z.tx = txRing{newRing(z.mem[size:], int(req.Frame_size))}

	if err := unix.Bind(fd, &unix.SockaddrLinklayer{Protocol: proto, Ifindex: index}); err != nil {
		return errors.Wrap(err, "binding socket")
	}
	// Kernels before 4.20 lack the option, outgoing copies are then skipped
	// while draining.
	_ = unix.SetsockoptInt(fd, unix.SOL_PACKET, unix.PACKET_IGNORE_OUTGOING, 1)
	return nil
}

func (z *ZeroCopy) Client(s *session.Session) error {
	departure, err := z.send(s, z.tmpl[:], s.Send, false)
	if err != nil {
		return transport.WrapRound(name, err, "sending")
	}

	deadline := time.Now().Add(clientTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return transport.WrapRound(name, runstate.ErrTimeout, "receiving")
		}
		st, arrival, err := z.receive(s, remaining)
		switch st {
		case rxOK:
			return transport.CompleteClientRound(name, s, departure, arrival)
		case rxNoPacket:
			continue
		case rxTimeout:
			return transport.WrapRound(name, runstate.ErrTimeout, "receiving")
		default:
			return transport.WrapRound(name, err, "receiving")
		}
	}
}

// Server echoes one datagram. A wakeup that only finds unrelated traffic
// is a round without effect.
func (z *ZeroCopy) Server(s *session.Session) error {
	st, _, err := z.receive(s, -1)
	switch st {
	case rxNoPacket:
		return nil
	case rxError:
		return transport.WrapRound(name, err, "receiving")
	case rxTimeout:
		return transport.WrapRound(name, runstate.ErrTimeout, "receiving")
	}

	rx, err := z.parser.Parse(z.received[:])
	if err != nil {
		return transport.WrapRound(name, err, "parsing request")
	}
	BuildReplyHeader(z.local, rx).MarshalTo(z.reply[:])

	_, err = z.send(s, z.reply[:], s.Recv, true)
	return transport.WrapRound(name, err, "sending")
}

// send stamps payload, copies header and payload into the next transmit
// frame and kicks the kernel. The departure stamp goes into the echo slot
// when echo is set.
func (z *ZeroCopy) send(s *session.Session, hdr, buf []byte, echo bool) (clock.Stamp, error) {
	if _, err := z.wait(unix.POLLOUT, sendTimeout); err != nil {
		return clock.Stamp{}, err
	}
	slot, ok, err := z.tx.TryAcquire()
	if err != nil {
		return clock.Stamp{}, err
	}
	if !ok {
		return clock.Stamp{}, errors.New("no free transmit frame")
	}

	now := s.Now()
	layout := s.Layout()
	if echo {
		layout.PutEcho(buf, now)
	} else {
		layout.PutDeparture(buf, now)
	}

	data := slot.Data()
	copy(data, hdr)
	copy(data[HeaderLen:], buf)
	slot.Commit(HeaderLen + len(buf))

	return now, errors.Wrap(z.kick(), "kicking transmit ring")
}

// receive waits for the ring to become readable and drains it up to the
// first measurement datagram, which is copied into z.received and s.Recv.
// A negative timeout waits until interrupted.
func (z *ZeroCopy) receive(s *session.Session, timeout time.Duration) (rxStatus, clock.Stamp, error) {
	if _, err := z.wait(unix.POLLIN, timeout); err != nil {
		if errors.Is(err, runstate.ErrTimeout) {
			return rxTimeout, clock.Stamp{}, err
		}
		return rxError, clock.Stamp{}, err
	}

	for {
		f, ok := z.rx.Next()
		if !ok {
			return rxNoPacket, clock.Stamp{}, nil
		}
		data := f.Data()
		if !z.matches(f, data) {
			f.Release()
			continue
		}

		arrival := s.Now()
		copy(z.received[:], data[:HeaderLen])
		copy(s.Recv, data[HeaderLen:])
		f.Release()
		return rxOK, arrival, nil
	}
}

func (z *ZeroCopy) matches(f rxFrame, data []byte) bool {
	want := HeaderLen + z.payloadLen
	if f.Outgoing() || f.Len() != want || len(data) < want {
		return false
	}
	if data[12] != etherTypeIPv4>>8 || data[13] != etherTypeIPv4&0xff || data[ipOffset+9] != ipProtoUDP {
		return false
	}
	return uint16(data[udpDportField])<<8|uint16(data[udpDportField+1]) == z.port
}

func (z *ZeroCopy) Close() error {
	var err error
	if z.mem != nil {
		err = unix.Munmap(z.mem)
		z.mem = nil
	}
	if z.fd >= 0 {
		if cerr := unix.Close(z.fd); err == nil {
			err = cerr
		}
		z.fd = -1
	}
	return err
}

var _ transport.Peer = (*ZeroCopy)(nil)
