// Package endpoint abstracts the unreliable datagram service the transfer
// protocol runs over: send one datagram to a peer, receive one datagram
// before a deadline. The portable implementation is backed by net.UDPConn;
// a Linux-only variant drives an AF_INET/SOCK_DGRAM socket directly through
// golang.org/x/sys/unix, bypassing the net package (it still uses the
// kernel's UDP stack).
package endpoint

import (
	"errors"
	"net"
	"time"
)

// ErrTimeout is returned by Recv when no datagram arrives before the
// deadline passed to it.
var ErrTimeout = errors.New("endpoint: receive timeout")

// Endpoint sends and receives whole datagrams to/from a single peer
// address. Implementations are not required to be safe for concurrent Send
// and Recv from multiple goroutines beyond one of each.
type Endpoint interface {
	// Send transmits b as a single datagram to peer.
	Send(b []byte, peer net.Addr) error
	// Recv blocks for at most deadline for one datagram, returning its
	// payload and source address. It returns ErrTimeout if the deadline
	// elapses with nothing received.
	Recv(deadline time.Duration) ([]byte, net.Addr, error)
	// LocalAddr returns the address the endpoint is bound to.
	LocalAddr() net.Addr
	// Close releases the underlying socket.
	Close() error
}

// ResolveAddr resolves host:port (or ip:port) into a net.Addr suitable for
// Send, using the same resolver the portable UDP implementation binds
// against.
func ResolveAddr(hostport string) (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", hostport)
}
