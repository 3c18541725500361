// Package ioerr holds the sentinel errors used to classify the transport's
// fatal I/O and protocol-state failures, wrapped at call sites with
// fmt.Errorf("%w: ...") so callers can still classify via errors.Is.
package ioerr

import "errors"

var (
	// ErrSocket wraps any fatal I/O error from a socket, timer, file or
	// device (anything other than EAGAIN/EWOULDBLOCK on a non-blocking
	// socket, which is reported as ok=false instead).
	ErrSocket = errors.New("ioerr: socket")
	// ErrProtocol indicates a peer or programming bug: a parse failure the
	// protocol treats as fatal, or a duplicate/mismatched insertion into
	// state that must never see one.
	ErrProtocol = errors.New("ioerr: protocol violation")
	// ErrConfig indicates a fatal configuration error (dimension mismatch,
	// unusable input file or camera, unresolvable or non-IPv4 address).
	ErrConfig = errors.New("ioerr: configuration")
)
