// Package transport defines the contract every measurement medium implements
// and the helpers they share.
package transport

import (
	"fmt"
	"net"
	"os"

	"github.com/pkg/errors"

	"github.com/DrC0ns0le/cyclicping/internal/clock"
	"github.com/DrC0ns0le/cyclicping/internal/runstate"
	"github.com/DrC0ns0le/cyclicping/internal/session"
)

// Transport moves the measurement payload over one medium.
type Transport interface {
	Name() string
	// Usage describes the selection string the transport accepts.
	Usage() string
	// Init parses args, opens the channel and binds its blocking handle to
	// the session's run state.
	Init(s *session.Session, args []string) error
	// Client runs one send-then-receive round and paces before returning.
	Client(s *session.Session) error
	// Server runs one receive-then-reply round.
	Server(s *session.Session) error
	Close() error
}

// Peer is implemented by transports whose peer has an IP address.
type Peer interface {
	PeerIP() net.IP
}

// Factory creates an unopened transport.
type Factory func() Transport

var (
	// ErrInit marks failures to open a transport.
	ErrInit = errors.New("transport init failed")
	// ErrRound marks I/O failures inside a round.
	ErrRound = errors.New("round failed")
)

// InitError reports a transport that could not be opened.
type InitError struct {
	Transport string
	Err       error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("%s: init: %v", e.Transport, e.Err)
}

func (e *InitError) Unwrap() error        { return e.Err }
func (e *InitError) Is(target error) bool { return target == ErrInit }

// RoundError reports a round that failed on I/O or produced a malformed reply.
type RoundError struct {
	Transport string
	Err       error
}

func (e *RoundError) Error() string {
	return fmt.Sprintf("%s: %v", e.Transport, e.Err)
}

func (e *RoundError) Unwrap() error        { return e.Err }
func (e *RoundError) Is(target error) bool { return target == ErrRound }

// Initf returns an InitError with a formatted cause.
func Initf(name, format string, args ...any) error {
	return &InitError{Transport: name, Err: errors.Errorf(format, args...)}
}

// WrapInit wraps err in an InitError.
func WrapInit(name string, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &InitError{Transport: name, Err: errors.Wrap(err, msg)}
}

// Roundf returns a RoundError with a formatted cause.
func Roundf(name, format string, args ...any) error {
	return &RoundError{Transport: name, Err: errors.Errorf(format, args...)}
}

// WrapRound wraps err in a RoundError. Interruptions pass through unchanged
// so the loop can tell a cancelled wait from a failed one.
func WrapRound(name string, err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, runstate.ErrInterrupted) {
		return err
	}
	return &RoundError{Transport: name, Err: errors.Wrap(err, msg)}
}

// CompleteClientRound finishes a client round whose reply is in s.Recv: it
// verifies the echoed payload, records the samples and paces.
func CompleteClientRound(name string, s *session.Session, departure, arrival clock.Stamp) error {
	if !s.IntactReply() {
		return Roundf(name, "reply payload corrupted")
	}
	s.Record(departure, arrival)
	return s.Pace(departure)
}

// NetError classifies an error returned by a net.Conn operation. Errors seen
// after the run was stopped are interruptions, expired deadlines are timeouts.
func NetError(name string, s *session.Session, err error, msg string) error {
	if !s.State.Running() {
		return runstate.ErrInterrupted
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return &RoundError{Transport: name, Err: errors.Wrap(runstate.ErrTimeout, msg)}
	}
	return WrapRound(name, err, msg)
}
