package endpoint

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ksx/rdtfile/internal/wire"
)

// UDPEndpoint is the portable, default Endpoint implementation: a bound
// net.UDPConn used for both directions.
type UDPEndpoint struct {
	conn *net.UDPConn
}

// ErrListen wraps failures binding the local UDP socket.
var ErrListen = errors.New("endpoint: listen failed")

// Bind opens a UDP socket on laddr ("" or ":0" picks an ephemeral port and
// any interface).
func Bind(laddr string) (*UDPEndpoint, error) {
	if laddr == "" {
		laddr = ":0"
	}
	addr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %q: %v", ErrListen, laddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListen, err)
	}
	return &UDPEndpoint{conn: conn}, nil
}

func (e *UDPEndpoint) Send(b []byte, peer net.Addr) error {
	udpAddr, ok := peer.(*net.UDPAddr)
	if !ok {
		var err error
		udpAddr, err = net.ResolveUDPAddr("udp", peer.String())
		if err != nil {
			return fmt.Errorf("endpoint: resolve peer %v: %w", peer, err)
		}
	}
	_, err := e.conn.WriteToUDP(b, udpAddr)
	return err
}

func (e *UDPEndpoint) Recv(deadline time.Duration) ([]byte, net.Addr, error) {
	dl := time.Time{}
	if deadline > 0 {
		dl = time.Now().Add(deadline)
	}
	if err := e.conn.SetReadDeadline(dl); err != nil {
		return nil, nil, err
	}
	buf := make([]byte, wire.MaxPacketSize)
	n, addr, err := e.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil, ErrTimeout
		}
		return nil, nil, err
	}
	return buf[:n], addr, nil
}

func (e *UDPEndpoint) LocalAddr() net.Addr { return e.conn.LocalAddr() }

func (e *UDPEndpoint) Close() error { return e.conn.Close() }
