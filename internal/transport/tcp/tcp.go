// Package tcp measures round trips over a TCP stream.
package tcp

import (
	"io"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/DrC0ns0le/cyclicping/internal/runstate"
	"github.com/DrC0ns0le/cyclicping/internal/session"
	"github.com/DrC0ns0le/cyclicping/internal/transport"
)

const (
	name = "tcp"

	connectTimeout = 5 * time.Second
	replyTimeout   = time.Second
)

type TCP struct {
	listener *net.TCPListener
	conn     *net.TCPConn
	peer     net.IP
	handle   transport.DeadlineHandle
}

func New() transport.Transport {
	return &TCP{}
}

func (c *TCP) Name() string { return name }

func (c *TCP) Usage() string {
	return "tcp:<host>[:port] (client), tcp[:port] (server)"
}

func (c *TCP) PeerIP() net.IP {
	return c.peer
}

func (c *TCP) Init(s *session.Session, args []string) error {
	if !s.Opts.Client {
		port, err := transport.ParsePort(transport.Arg(args, 0, ""))
		if err != nil {
			return transport.WrapInit(name, err, "parsing arguments")
		}
		c.listener, err = net.ListenTCP("tcp4", &net.TCPAddr{Port: port})
		if err != nil {
			return transport.WrapInit(name, err, "listening")
		}
		c.handle.Add(c.listener)
		s.State.Bind(&c.handle)
		s.Logger.Debugf("tcp listening on %s", c.listener.Addr())
		return nil
	}

	host := transport.Arg(args, 0, "")
	if host == "" {
		return transport.Initf(name, "no destination given, usage: %s", c.Usage())
	}
	port, err := transport.ParsePort(transport.Arg(args, 1, ""))
	if err != nil {
		return transport.WrapInit(name, err, "parsing arguments")
	}

	d := net.Dialer{Timeout: connectTimeout}
	conn, err := d.Dial("tcp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return transport.WrapInit(name, err, "connecting")
	}
	c.conn = conn.(*net.TCPConn)
	c.peer = c.conn.RemoteAddr().(*net.TCPAddr).IP

	if err := c.tune(s, c.conn); err != nil {
		return transport.WrapInit(name, err, "tuning socket")
	}
	c.handle.Add(c.conn)
	s.State.Bind(&c.handle)
	return nil
}

func (c *TCP) tune(s *session.Session, conn *net.TCPConn) error {
	if err := conn.SetNoDelay(true); err != nil {
		return errors.Wrap(err, "disabling nagle")
	}
	return transport.TuneConn(conn, s.Opts.SocketPrio, s.Logger)
}

func (c *TCP) Client(s *session.Session) error {
	layout := s.Layout()

	departure := s.Now()
	layout.PutDeparture(s.Send, departure)
	if _, err := c.conn.Write(s.Send); err != nil {
		return transport.NetError(name, s, err, "sending packet")
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(replyTimeout)); err != nil {
		return transport.WrapRound(name, err, "setting receive timeout")
	}
	if !s.State.Running() {
		return runstate.ErrInterrupted
	}

	if _, err := io.ReadFull(c.conn, s.Recv); err != nil {
		return transport.NetError(name, s, err, "receiving packet")
	}
	arrival := s.Now()

	return transport.CompleteClientRound(name, s, departure, arrival)
}

// Server accepts one client and echoes its packets until it disconnects.
func (c *TCP) Server(s *session.Session) error {
	conn, err := c.listener.AcceptTCP()
	if err != nil {
		return transport.NetError(name, s, err, "accepting connection")
	}
	defer conn.Close()

	if err := c.tune(s, conn); err != nil {
		return transport.WrapRound(name, err, "tuning socket")
	}
	c.handle.Add(conn)
	defer c.handle.Remove(conn)
	if !s.State.Running() {
		return runstate.ErrInterrupted
	}

	s.Logger.Infof("client %s connected", conn.RemoteAddr())

	for s.State.Running() {
		n, err := io.ReadFull(conn, s.Recv)
		if err == io.EOF {
			s.Logger.Infof("client %s disconnected", conn.RemoteAddr())
			return nil
		}
		if err == io.ErrUnexpectedEOF {
			return transport.Roundf(name, "short read: %d of %d bytes", n, len(s.Recv))
		}
		if err != nil {
			return transport.NetError(name, s, err, "receiving packet")
		}

		s.Layout().PutEcho(s.Recv, s.Now())

		if _, err := conn.Write(s.Recv); err != nil {
			return transport.NetError(name, s, err, "sending reply")
		}
	}
	return runstate.ErrInterrupted
}

func (c *TCP) Close() error {
	var err error
	if c.conn != nil {
		err = c.conn.Close()
	}
	if c.listener != nil {
		if lerr := c.listener.Close(); err == nil {
			err = lerr
		}
	}
	return err
}
