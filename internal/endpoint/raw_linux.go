//go:build linux

package endpoint

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// RawEndpoint is a Linux-only Endpoint built directly on an AF_INET
// SOCK_DGRAM socket via golang.org/x/sys/unix, bypassing the net package's
// connection bookkeeping the way the CAN device talks straight to
// AF_CAN/SOCK_RAW. It exists for callers who want to set socket options
// net.UDPConn doesn't expose (e.g. SO_RCVBUFFORCE) without losing the
// kernel's own send/receive queuing.
type RawEndpoint struct {
	fd    int
	local unix.SockaddrInet4
}

// BindRaw opens a raw AF_INET/SOCK_DGRAM socket on port (0 for ephemeral)
// bound to all interfaces.
func BindRaw(port int) (*RawEndpoint, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return nil, fmt.Errorf("%w: socket: %v", ErrListen, err)
	}
	sa := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: bind: %v", ErrListen, err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: getsockname: %v", ErrListen, err)
	}
	in4, ok := bound.(*unix.SockaddrInet4)
	if !ok {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: unexpected sockaddr type", ErrListen)
	}
	return &RawEndpoint{fd: fd, local: *in4}, nil
}

func (e *RawEndpoint) Send(b []byte, peer net.Addr) error {
	udpAddr, err := net.ResolveUDPAddr("udp4", peer.String())
	if err != nil {
		return fmt.Errorf("endpoint: resolve peer %v: %w", peer, err)
	}
	var sa unix.SockaddrInet4
	sa.Port = udpAddr.Port
	ip4 := udpAddr.IP.To4()
	if ip4 == nil {
		return fmt.Errorf("endpoint: peer %v is not IPv4", peer)
	}
	copy(sa.Addr[:], ip4)
	return unix.Sendto(e.fd, b, 0, &sa)
}

func (e *RawEndpoint) Recv(deadline time.Duration) ([]byte, net.Addr, error) {
	var tv unix.Timeval
	if deadline > 0 {
		tv = unix.NsecToTimeval(deadline.Nanoseconds())
	}
	if err := unix.SetsockoptTimeval(e.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return nil, nil, err
	}
	buf := make([]byte, 4096)
	n, from, err := unix.Recvfrom(e.fd, buf, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, nil, ErrTimeout
		}
		return nil, nil, err
	}
	in4, ok := from.(*unix.SockaddrInet4)
	if !ok {
		return nil, nil, fmt.Errorf("endpoint: unexpected source sockaddr type")
	}
	addr := &net.UDPAddr{IP: net.IP(in4.Addr[:]), Port: in4.Port}
	return buf[:n], addr, nil
}

func (e *RawEndpoint) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IP(e.local.Addr[:]), Port: e.local.Port}
}

func (e *RawEndpoint) Close() error { return unix.Close(e.fd) }
