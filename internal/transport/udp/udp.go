// Package udp measures round trips over UDP datagrams.
package udp

import (
	"net"
	"strconv"
	"time"

	"github.com/DrC0ns0le/cyclicping/internal/runstate"
	"github.com/DrC0ns0le/cyclicping/internal/session"
	"github.com/DrC0ns0le/cyclicping/internal/transport"
)

const (
	name = "udp"

	replyTimeout = time.Second
)

type UDP struct {
	conn   *net.UDPConn
	peer   *net.UDPAddr
	handle transport.DeadlineHandle
}

func New() transport.Transport {
	return &UDP{}
}

func (u *UDP) Name() string { return name }

func (u *UDP) Usage() string {
	return "udp:<host>[:port] (client), udp[:port] (server)"
}

func (u *UDP) PeerIP() net.IP {
	if u.peer == nil {
		return nil
	}
	return u.peer.IP
}

func (u *UDP) Init(s *session.Session, args []string) error {
	if s.Opts.Client {
		host := transport.Arg(args, 0, "")
		if host == "" {
			return transport.Initf(name, "no destination given, usage: %s", u.Usage())
		}
		port, err := transport.ParsePort(transport.Arg(args, 1, ""))
		if err != nil {
			return transport.WrapInit(name, err, "parsing arguments")
		}
		u.peer, err = net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			return transport.WrapInit(name, err, "resolving destination")
		}
		u.conn, err = net.DialUDP("udp4", nil, u.peer)
		if err != nil {
			return transport.WrapInit(name, err, "opening socket")
		}
	} else {
		port, err := transport.ParsePort(transport.Arg(args, 0, ""))
		if err != nil {
			return transport.WrapInit(name, err, "parsing arguments")
		}
		u.conn, err = net.ListenUDP("udp4", &net.UDPAddr{Port: port})
		if err != nil {
			return transport.WrapInit(name, err, "binding socket")
		}
	}

	if err := transport.TuneConn(u.conn, s.Opts.SocketPrio, s.Logger); err != nil {
		return transport.WrapInit(name, err, "tuning socket")
	}

	u.handle.Add(u.conn)
	s.State.Bind(&u.handle)

	s.Logger.Debugf("udp socket ready on %s", u.conn.LocalAddr())
	return nil
}

func (u *UDP) Client(s *session.Session) error {
	layout := s.Layout()

	departure := s.Now()
	layout.PutDeparture(s.Send, departure)
	if _, err := u.conn.Write(s.Send); err != nil {
		return transport.NetError(name, s, err, "sending packet")
	}

	if err := u.conn.SetReadDeadline(time.Now().Add(replyTimeout)); err != nil {
		return transport.WrapRound(name, err, "setting receive timeout")
	}
	if !s.State.Running() {
		return runstate.ErrInterrupted
	}

	n, err := u.conn.Read(s.Recv)
	arrival := s.Now()
	if err != nil {
		return transport.NetError(name, s, err, "receiving packet")
	}
	if n != len(s.Recv) {
		return transport.Roundf(name, "received %d bytes, want %d", n, len(s.Recv))
	}

	return transport.CompleteClientRound(name, s, departure, arrival)
}

func (u *UDP) Server(s *session.Session) error {
	n, peer, err := u.conn.ReadFromUDP(s.Recv)
	if err != nil {
		return transport.NetError(name, s, err, "receiving packet")
	}
	if n != len(s.Recv) {
		return transport.Roundf(name, "received %d bytes from %s, want %d", n, peer, len(s.Recv))
	}

	s.Layout().PutEcho(s.Recv, s.Now())

	if _, err := u.conn.WriteToUDP(s.Recv, peer); err != nil {
		return transport.NetError(name, s, err, "sending reply")
	}
	return nil
}

func (u *UDP) Close() error {
	if u.conn == nil {
		return nil
	}
	return u.conn.Close()
}
