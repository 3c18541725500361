//go:build !linux

package eventloop

import (
	"errors"
	"time"
)

// ErrTimerUnsupported is returned by NewTimer on platforms without
// timerfd; only Linux is supported for now.
var ErrTimerUnsupported = errors.New("eventloop: timerfd is only available on linux")

// Timer is provided for non-linux builds so callers compile; every method
// fails with ErrTimerUnsupported.
type Timer struct{}

func NewTimer() (*Timer, error) { return nil, ErrTimerUnsupported }

func (t *Timer) FD() int                           { return -1 }
func (t *Timer) SetInterval(d time.Duration) error { return ErrTimerUnsupported }
func (t *Timer) ReadExpirations() (uint64, error)  { return 0, ErrTimerUnsupported }
func (t *Timer) Close() error                      { return ErrTimerUnsupported }
