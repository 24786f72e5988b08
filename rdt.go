// Package rdt implements a reliable, optionally confidential,
// message-oriented transport over an unreliable datagram service. A
// Session transfers one opaque byte payload between a sender and a
// receiver, tolerating loss, reordering, and duplication through a
// receiver-driven selective-repeat protocol; an optional secure mode
// establishes an ephemeral session key via Diffie-Hellman and applies a
// stream cipher to payload bytes.
package rdt

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ksx/rdtfile/internal/endpoint"
	"github.com/ksx/rdtfile/internal/logging"
)

// Session is bound to a local endpoint and, once bind or connect
// completes, a single peer address. It is not safe for concurrent Send and
// Recv calls; the protocol itself is strictly single-threaded per role
// (spec §5).
type Session struct {
	mu     sync.Mutex
	ep     endpoint.Endpoint
	peer   net.Addr
	cfg    Config
	closed atomic.Bool

	lastErrMu sync.Mutex
	lastErr   error
}

// Bind opens a local endpoint at laddr and prepares the session to act as
// the initial receiver: the first inbound SYNC datagram sets the remote
// peer address (spec §6 bind()).
func Bind(laddr string, opts ...Option) (*Session, error) {
	ep, err := endpoint.Bind(laddr)
	if err != nil {
		return nil, err
	}
	return &Session{ep: ep, cfg: NewConfig(opts...)}, nil
}

// Connect opens an ephemeral local endpoint and sets the remote peer,
// preparing the session to act as initiator (spec §6 connect()).
func Connect(ip string, port int, opts ...Option) (*Session, error) {
	ep, err := endpoint.Bind(":0")
	if err != nil {
		return nil, err
	}
	peer, err := endpoint.ResolveAddr(fmt.Sprintf("%s:%d", ip, port))
	if err != nil {
		_ = ep.Close()
		return nil, err
	}
	return &Session{ep: ep, peer: peer, cfg: NewConfig(opts...)}, nil
}

// BindRaw is Bind's raw-socket counterpart: it opens the Linux-only
// AF_INET/SOCK_DGRAM endpoint built directly on golang.org/x/sys/unix
// (internal/endpoint.RawEndpoint) instead of net.UDPConn, for callers who
// need socket options net.ListenUDP doesn't expose. It fails with
// endpoint.ErrRawUnsupported on non-Linux builds.
func BindRaw(port int, opts ...Option) (*Session, error) {
	ep, err := endpoint.BindRaw(port)
	if err != nil {
		return nil, err
	}
	return &Session{ep: ep, cfg: NewConfig(opts...)}, nil
}

// ConnectRaw is Connect's raw-socket counterpart; see BindRaw.
func ConnectRaw(ip string, port int, opts ...Option) (*Session, error) {
	ep, err := endpoint.BindRaw(0)
	if err != nil {
		return nil, err
	}
	peer, err := endpoint.ResolveAddr(fmt.Sprintf("%s:%d", ip, port))
	if err != nil {
		_ = ep.Close()
		return nil, err
	}
	return &Session{ep: ep, peer: peer, cfg: NewConfig(opts...)}, nil
}

// LocalAddr returns the address the session's endpoint is bound to.
func (s *Session) LocalAddr() net.Addr { return s.ep.LocalAddr() }

// LastError returns the most recent terminal error recorded by Send or
// Recv, or nil.
func (s *Session) LastError() error {
	s.lastErrMu.Lock()
	defer s.lastErrMu.Unlock()
	return s.lastErr
}

func (s *Session) setErr(err error) {
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
}

// Close releases the session's underlying endpoint. A Session that has
// been closed rejects further Send/Recv calls with ErrClosedEndpoint
// rather than touching the now-invalid endpoint.
func (s *Session) Close() error {
	s.closed.Store(true)
	return s.ep.Close()
}

// Send transfers data to the session's peer and reports success as a bool
// (spec §6 send()); the failure reason, if any, is available via
// LastError. secure selects the Diffie-Hellman + stream-cipher mode.
func (s *Session) Send(data []byte, secure bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		s.setErr(ErrClosedEndpoint)
		return false
	}
	if len(data) < s.cfg.MinPayloadLen {
		s.setErr(ErrShortPayload)
		return false
	}
	if s.peer == nil {
		s.setErr(ErrNotBound)
		return false
	}

	snd := newSender(s.ep, s.peer, s.cfg, data, secure)
	if err := snd.run(); err != nil {
		logging.L().Error("send_failed", "error", err)
		s.setErr(err)
		return false
	}
	s.setErr(nil)
	return true
}

// Recv waits for an inbound transfer and returns its reassembled bytes.
// timeout bounds the wait for the first SYNC datagram when bind()ing and
// the peer is not yet known; pass 0 to block indefinitely (spec §6
// recv()). secure must match the mode the peer used to send.
func (s *Session) Recv(timeout time.Duration, secure bool) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		s.setErr(ErrClosedEndpoint)
		return nil, ErrClosedEndpoint
	}

	rcv := newReceiver(s.ep, s.cfg, secure)
	out, err := rcv.run(timeout)
	if err != nil {
		logging.L().Error("recv_failed", "error", err)
		s.setErr(err)
		return nil, err
	}
	if s.peer == nil {
		s.peer = rcv.peer
	}
	s.setErr(nil)
	return out, nil
}
