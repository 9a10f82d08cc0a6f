// Package uart measures round trips over a serial line.
package uart

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/DrC0ns0le/cyclicping/internal/session"
	"github.com/DrC0ns0le/cyclicping/internal/transport"
)

const (
	name = "uart"

	DefaultBaud  = 115200
	replyTimeout = time.Second

	// input speed bits sit above the output speed bits in c_cflag
	ibshift = 16
	maxVMIN = 255
)

type UART struct {
	fd     int
	device string
}

func New() transport.Transport {
	return &UART{fd: -1}
}

func (u *UART) Name() string { return name }

func (u *UART) Usage() string {
	return "uart:<device>[:baudrate[:flowcontrol]] (client and server)"
}

func (u *UART) Init(s *session.Session, args []string) error {
	u.device = transport.Arg(args, 0, "")
	if u.device == "" {
		return transport.Initf(name, "no device given, usage: %s", u.Usage())
	}

	baud := DefaultBaud
	if v := transport.Arg(args, 1, ""); v != "" {
		b, err := strconv.Atoi(v)
		if err != nil || b <= 0 {
			return transport.Initf(name, "invalid baudrate %q", v)
		}
		baud = b
	}

	flow := false
	if v := transport.Arg(args, 2, ""); v != "" {
		f, err := strconv.Atoi(v)
		if err != nil {
			return transport.Initf(name, "invalid flow control flag %q", v)
		}
		flow = f != 0
	}

	fd, err := unix.Open(u.device, unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return transport.WrapInit(name, err, "opening "+u.device)
	}
	u.fd = fd

	if err := configure(fd, baud, flow, len(s.Send)); err != nil {
		return transport.WrapInit(name, err, "configuring "+u.device)
	}

	s.Logger.Debugf("uart %s configured at %d baud, flow control %v", u.device, baud, flow)
	return nil
}

// configure puts the line into raw 8N1 mode at an arbitrary rate and makes
// reads wait for a whole packet.
func configure(fd, baud int, flow bool, length int) error {
	if err := unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH); err != nil {
		return errors.Wrap(err, "flushing")
	}

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS2)
	if err != nil {
		return errors.Wrap(err, "reading line settings")
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	if flow {
		t.Cflag |= unix.CRTSCTS
	} else {
		t.Cflag &^= unix.CRTSCTS
	}

	// poll honours VMIN, so a packet longer than VMIN can express is read
	// byte by byte
	vmin := length
	if vmin > maxVMIN {
		vmin = 1
	}
	t.Cc[unix.VMIN] = uint8(vmin)
	t.Cc[unix.VTIME] = 0

	t.Cflag &^= unix.CBAUD | unix.CBAUD<<ibshift
	t.Cflag |= unix.BOTHER | unix.BOTHER<<ibshift
	t.Ispeed = uint32(baud)
	t.Ospeed = uint32(baud)

	if err := unix.IoctlSetTermios(fd, unix.TCSETS2, t); err != nil {
		return errors.Wrap(err, "applying line settings")
	}
	return errors.Wrap(unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH), "flushing")
}

func (u *UART) Client(s *session.Session) error {
	departure := s.Now()
	s.Layout().PutDeparture(s.Send, departure)

	if err := u.write(s.Send); err != nil {
		return transport.WrapRound(name, err, "sending packet")
	}
	if err := u.read(s, s.Recv, replyTimeout); err != nil {
		return transport.WrapRound(name, err, "receiving packet")
	}
	arrival := s.Now()

	return transport.CompleteClientRound(name, s, departure, arrival)
}

func (u *UART) Server(s *session.Session) error {
	if err := u.read(s, s.Recv, -1); err != nil {
		return transport.WrapRound(name, err, "receiving packet")
	}

	s.Layout().PutEcho(s.Recv, s.Now())

	return transport.WrapRound(name, u.write(s.Recv), "sending reply")
}

// read fills b, waiting at most timeout for each chunk of the packet.
func (u *UART) read(s *session.Session, b []byte, timeout time.Duration) error {
	for off := 0; off < len(b); {
		if _, err := s.State.Wait(u.fd, unix.POLLIN, timeout); err != nil {
			return err
		}
		n, err := unix.Read(u.fd, b[off:])
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.Errorf("line closed after %d of %d bytes", off, len(b))
		}
		off += n
	}
	return nil
}

func (u *UART) write(b []byte) error {
	for off := 0; off < len(b); {
		n, err := unix.Write(u.fd, b[off:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		off += n
	}
	return nil
}

func (u *UART) Close() error {
	if u.fd < 0 {
		return nil
	}
	err := unix.Close(u.fd)
	u.fd = -1
	return err
}
