//go:build !linux

package netio

import (
	"errors"
	"net"
)

// ErrUnsupported is returned by every UDPSocket method on platforms without
// the raw socket syscalls this package wraps; only Linux is supported.
var ErrUnsupported = errors.New("netio: raw UDP sockets are only available on linux")

// UDPSocket stub for non-linux builds.
type UDPSocket struct{}

func NewUDPSocket() (*UDPSocket, error) { return nil, ErrUnsupported }

func (s *UDPSocket) Bind(port uint16) error                  { return ErrUnsupported }
func (s *UDPSocket) Connect(addr *net.UDPAddr) error         { return ErrUnsupported }
func (s *UDPSocket) LocalAddr() (*net.UDPAddr, error)        { return nil, ErrUnsupported }
func (s *UDPSocket) FD() int                                 { return -1 }
func (s *UDPSocket) Send(data []byte) (bool, error)          { return false, ErrUnsupported }
func (s *UDPSocket) SendTo(addr *net.UDPAddr, data []byte) (bool, error) {
	return false, ErrUnsupported
}
func (s *UDPSocket) Recv() ([]byte, bool, error) { return nil, false, ErrUnsupported }
func (s *UDPSocket) RecvFrom() (*net.UDPAddr, []byte, bool, error) {
	return nil, nil, false, ErrUnsupported
}
func (s *UDPSocket) SetBlocking(blocking bool) error { return ErrUnsupported }
func (s *UDPSocket) Close() error                    { return ErrUnsupported }

func ResolveIPv4(host string, port int) (*net.UDPAddr, error) { return nil, ErrUnsupported }
