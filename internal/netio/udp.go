//go:build linux

// Package netio implements a raw, non-blocking UDP socket whose file
// descriptor can be registered directly with internal/eventloop.Poller. A
// *net.UDPConn's descriptor is wrapped by the Go runtime's own netpoller,
// which fights a hand-rolled unix.Poll loop over the same fd; going
// straight to unix.Socket avoids that.
package netio

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/rtvideo/vp9cast/internal/ioerr"
)

// UDPSocket is a non-blocking IPv4 UDP socket. Send/Recv report ok=false
// (not an error) on EWOULDBLOCK/EAGAIN; only other errnos are errors.
type UDPSocket struct {
	fd        int
	connected bool
}

// NewUDPSocket creates an unbound, unconnected non-blocking UDP socket.
func NewUDPSocket() (*UDPSocket, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: socket(AF_INET, SOCK_DGRAM): %v", ioerr.ErrSocket, err)
	}
	return &UDPSocket{fd: fd}, nil
}

// Bind binds the socket to 0.0.0.0:port (port 0 picks an ephemeral port).
func (s *UDPSocket) Bind(port uint16) error {
	sa := &unix.SockaddrInet4{Port: int(port)}
	if err := unix.Bind(s.fd, sa); err != nil {
		return fmt.Errorf("%w: bind port %d: %v", ioerr.ErrSocket, port, err)
	}
	return nil
}

// Connect "connects" the socket to addr, so Send/Recv can be used instead
// of SendTo/RecvFrom; it does not establish a stateful connection (UDP has
// none), only a kernel-side destination/source filter.
func (s *UDPSocket) Connect(addr *net.UDPAddr) error {
	sa, err := toSockaddr(addr)
	if err != nil {
		return err
	}
	if err := unix.Connect(s.fd, sa); err != nil {
		return fmt.Errorf("%w: connect %s: %v", ioerr.ErrSocket, addr, err)
	}
	s.connected = true
	return nil
}

// LocalAddr reports the address the socket is bound to.
func (s *UDPSocket) LocalAddr() (*net.UDPAddr, error) {
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return nil, fmt.Errorf("%w: getsockname: %v", ioerr.ErrSocket, err)
	}
	return fromSockaddr(sa)
}

// FD returns the raw file descriptor, for registration with eventloop.Poller.
func (s *UDPSocket) FD() int { return s.fd }

// Send writes data to the connected peer. ok=false means EWOULDBLOCK; retry
// once the socket reports writable again.
func (s *UDPSocket) Send(data []byte) (ok bool, err error) {
	err = unix.Send(s.fd, data, 0)
	return afterSend(err)
}

// SendTo writes data to addr without requiring a prior Connect.
func (s *UDPSocket) SendTo(addr *net.UDPAddr, data []byte) (ok bool, err error) {
	sa, err := toSockaddr(addr)
	if err != nil {
		return false, err
	}
	err = unix.Sendto(s.fd, data, 0, sa)
	return afterSend(err)
}

func afterSend(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return false, nil
	}
	return false, fmt.Errorf("%w: send: %v", ioerr.ErrSocket, err)
}

// maxDatagramSize bounds a single recv; the protocol never sends a UDP
// payload anywhere near this, but the buffer must be at least as large as
// any IPv4 UDP datagram can be.
const maxDatagramSize = 65536

// Recv reads one datagram from the connected peer. ok=false means
// EWOULDBLOCK, not an error.
func (s *UDPSocket) Recv() (data []byte, ok bool, err error) {
	buf := make([]byte, maxDatagramSize)
	n, err := unix.Read(s.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: recv: %v", ioerr.ErrSocket, err)
	}
	return buf[:n], true, nil
}

// RecvFrom reads one datagram and its source address, for use before the
// socket has been Connect-ed (the sender's handshake wait).
func (s *UDPSocket) RecvFrom() (addr *net.UDPAddr, data []byte, ok bool, err error) {
	buf := make([]byte, maxDatagramSize)
	n, from, err := unix.Recvfrom(s.fd, buf, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, nil, false, nil
		}
		return nil, nil, false, fmt.Errorf("%w: recvfrom: %v", ioerr.ErrSocket, err)
	}
	ua, err := fromSockaddr(from)
	if err != nil {
		return nil, nil, false, err
	}
	return ua, buf[:n], true, nil
}

// SetBlocking toggles O_NONBLOCK; the sender's handshake uses a blocking
// recvfrom while waiting for the receiver's ConfigMsg, then switches to
// non-blocking for the event-loop-driven phase.
func (s *UDPSocket) SetBlocking(blocking bool) error {
	if err := unix.SetNonblock(s.fd, !blocking); err != nil {
		return fmt.Errorf("%w: set_nonblock(%v): %v", ioerr.ErrSocket, !blocking, err)
	}
	return nil
}

// Close releases the socket's file descriptor.
func (s *UDPSocket) Close() error { return unix.Close(s.fd) }

func toSockaddr(addr *net.UDPAddr) (unix.Sockaddr, error) {
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("%w: only IPv4 addresses are supported, got %s", ioerr.ErrConfig, addr.IP)
	}
	sa := &unix.SockaddrInet4{Port: addr.Port}
	copy(sa.Addr[:], ip4)
	return sa, nil
}

func fromSockaddr(sa unix.Sockaddr) (*net.UDPAddr, error) {
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported sockaddr type %T", ioerr.ErrProtocol, sa)
	}
	ip := make(net.IP, 4)
	copy(ip, sa4.Addr[:])
	return &net.UDPAddr{IP: ip, Port: sa4.Port}, nil
}

// ResolveIPv4 resolves host to its first IPv4 address.
func ResolveIPv4(host string, port int) (*net.UDPAddr, error) {
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", ioerr.ErrConfig, host, err)
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return &net.UDPAddr{IP: v4, Port: port}, nil
		}
	}
	return nil, fmt.Errorf("%w: no IPv4 address found for %s", ioerr.ErrConfig, host)
}
