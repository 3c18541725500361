// Package eventloop implements the sender's single-threaded, cooperative
// readiness dispatcher: register callbacks against file-descriptor
// readiness events, then repeatedly poll and run whichever callbacks are
// ready. It multiplexes the frame-interval timer, socket-readable, and
// socket-writable sources the sender needs without a thread per source.
package eventloop

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Flag identifies the readiness condition a callback is registered for.
type Flag int16

const (
	// In fires when a descriptor has data ready to read.
	In Flag = Flag(unix.POLLIN)
	// Out fires when a descriptor is ready to accept a write without blocking.
	Out Flag = Flag(unix.POLLOUT)
)

// ErrDuplicateEvent is returned by Register when the same (fd, flag) pair
// is registered twice.
var ErrDuplicateEvent = errors.New("eventloop: event already registered on this fd")

// ErrUnregisteredFD is returned by Activate/Deactivate for an fd that was
// never registered.
var ErrUnregisteredFD = errors.New("eventloop: fd is not registered")

// Callback runs when its registered event fires. It must not block.
type Callback func()

// Poller multiplexes readiness events across file descriptors with a
// single call to poll(2). It is not safe for concurrent use; it is meant
// to be driven by one goroutine's event loop.
type Poller struct {
	roster       map[int]map[Flag]Callback
	active       map[int]Flag // currently armed events per fd, as a bitmask
	toDeregister map[int]struct{}
}

// NewPoller constructs an empty Poller.
func NewPoller() *Poller {
	return &Poller{
		roster:       make(map[int]map[Flag]Callback),
		active:       make(map[int]Flag),
		toDeregister: make(map[int]struct{}),
	}
}

// Register adds cb to run when flag becomes ready on fd. The event starts
// armed; use Deactivate to park it without losing the registration.
// Registering the same (fd, flag) pair twice is an error.
func (p *Poller) Register(fd int, flag Flag, cb Callback) error {
	if _, ok := p.roster[fd]; !ok {
		p.roster[fd] = map[Flag]Callback{flag: cb}
		p.active[fd] = flag
		return nil
	}
	if _, exists := p.roster[fd][flag]; exists {
		return fmt.Errorf("%w: fd=%d flag=%d", ErrDuplicateEvent, fd, flag)
	}
	p.roster[fd][flag] = cb
	p.active[fd] |= flag
	return nil
}

// Activate arms flag on fd; safe to call repeatedly.
func (p *Poller) Activate(fd int, flag Flag) error {
	if _, ok := p.active[fd]; !ok {
		return fmt.Errorf("%w: fd=%d", ErrUnregisteredFD, fd)
	}
	p.active[fd] |= flag
	return nil
}

// Deactivate parks flag on fd; safe to call repeatedly.
func (p *Poller) Deactivate(fd int, flag Flag) error {
	if _, ok := p.active[fd]; !ok {
		return fmt.Errorf("%w: fd=%d", ErrUnregisteredFD, fd)
	}
	p.active[fd] &^= flag
	return nil
}

// Deregister schedules fd for removal from the interest list; it takes
// effect at the start of the next Poll call, so it is safe to call from
// inside a callback running during the current one.
func (p *Poller) Deregister(fd int) {
	p.toDeregister[fd] = struct{}{}
}

func (p *Poller) doDeregister() {
	for fd := range p.toDeregister {
		delete(p.roster, fd)
		delete(p.active, fd)
	}
	p.toDeregister = make(map[int]struct{})
}

// Poll waits up to timeoutMs milliseconds (-1 blocks indefinitely) for any
// armed event to become ready, then runs every callback whose event fired.
// If no event is armed it returns nil at once without waiting.
func (p *Poller) Poll(timeoutMs int) error {
	p.doDeregister()

	fds := make([]unix.PollFd, 0, len(p.active))
	order := make([]int, 0, len(p.active))
	for fd, events := range p.active {
		if events == 0 {
			continue
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: int16(events)})
		order = append(order, fd)
	}
	if len(fds) == 0 {
		return nil
	}

	n, err := unix.Poll(fds, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("eventloop: poll: %w", err)
	}
	if n == 0 {
		return nil
	}

	for i, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		callbacks, ok := p.roster[order[i]]
		if !ok {
			continue
		}
		for flag, cb := range callbacks {
			if Flag(pfd.Revents)&flag != 0 {
				cb()
			}
		}
	}
	return nil
}
