//go:build linux

package eventloop

import (
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/rtvideo/vp9cast/internal/ioerr"
)

// Timer is a periodic, non-blocking timerfd-backed readiness source, the
// same mechanism the frame-interval and stats timers register on the
// sender's Poller.
type Timer struct {
	fd int
}

// NewTimer creates an unarmed monotonic, non-blocking timer.
func NewTimer() (*Timer, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("%w: timerfd_create: %v", ioerr.ErrSocket, err)
	}
	return &Timer{fd: fd}, nil
}

// FD returns the file descriptor to register with a Poller.
func (t *Timer) FD() int { return t.fd }

// SetInterval arms the timer to fire every d, starting after one interval.
func (t *Timer) SetInterval(d time.Duration) error {
	spec := unix.ItimerSpec{
		Value:    unix.NsecToTimespec(d.Nanoseconds()),
		Interval: unix.NsecToTimespec(d.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(t.fd, 0, &spec, nil); err != nil {
		return fmt.Errorf("%w: timerfd_settime: %v", ioerr.ErrSocket, err)
	}
	return nil
}

// ReadExpirations reports how many intervals have elapsed since the last
// read, or 0 (not an error) if none have — timerfd reads never return
// EAGAIN spuriously once POLLIN has fired, but a caller invoked outside
// that context may still see no expirations pending.
func (t *Timer) ReadExpirations() (uint64, error) {
	var buf [8]byte
	n, err := unix.Read(t.fd, buf[:])
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: read timerfd: %v", ioerr.ErrSocket, err)
	}
	if n != 8 {
		return 0, fmt.Errorf("%w: short read from timerfd", ioerr.ErrProtocol)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// Close releases the timer's file descriptor.
func (t *Timer) Close() error { return unix.Close(t.fd) }
