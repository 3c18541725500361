// Package reassembly implements the receiver's per-frame fragment buffer:
// a fixed-length slot array that tracks how many fragments of a frame are
// still missing and accumulates payload length as fragments arrive.
package reassembly

import (
	"errors"
	"fmt"

	"github.com/rtvideo/vp9cast/internal/wire"
)

// ErrZeroFragments is returned by NewFrame when asked to build a frame with
// no fragments at all — frag_cnt must be at least 1.
var ErrZeroFragments = errors.New("reassembly: frame cannot have zero fragments")

// ErrIncompatibleDatagram is returned by Insert when a datagram does not
// belong to this frame (mismatched id, type, frag_cnt, or out-of-range
// frag_id). It always indicates a programming or peer protocol bug.
var ErrIncompatibleDatagram = errors.New("reassembly: incompatible datagram")

// Frame accumulates the fragments of a single compressed video frame.
type Frame struct {
	id      uint32
	kind    wire.FrameType
	frags   []*wire.Datagram // fixed length fragCnt; nil slot = not yet received
	missing int
	size    int
}

// NewFrame constructs an empty Frame expecting fragCnt fragments.
func NewFrame(id uint32, kind wire.FrameType, fragCnt uint16) (*Frame, error) {
	if fragCnt == 0 {
		return nil, ErrZeroFragments
	}
	return &Frame{
		id:      id,
		kind:    kind,
		frags:   make([]*wire.Datagram, fragCnt),
		missing: int(fragCnt),
	}, nil
}

// ID returns the frame identifier.
func (f *Frame) ID() uint32 { return f.id }

// Type returns the frame's key/non-key classification.
func (f *Frame) Type() wire.FrameType { return f.kind }

// Complete reports whether every fragment has been received.
func (f *Frame) Complete() bool { return f.missing == 0 }

// FrameSize returns the accumulated payload size and whether the frame is
// complete; the size is only meaningful once Complete() is true.
func (f *Frame) FrameSize() (int, bool) {
	if !f.Complete() {
		return 0, false
	}
	return f.size, true
}

// Frags returns the fragment slots in ascending frag_id order. Absent
// fragments are nil.
func (f *Frame) Frags() []*wire.Datagram { return f.frags }

// Insert stores d's fragment into this frame. A datagram that does not
// match this frame's id/type/frag_cnt, or whose frag_id is out of range, is
// rejected with ErrIncompatibleDatagram. A duplicate fragment (a slot
// already filled) is discarded silently — this is the expected shape of a
// retransmission racing the original.
func (f *Frame) Insert(d *wire.Datagram) error {
	if d.FrameID != f.id || d.FrameType != f.kind || int(d.FragCnt) != len(f.frags) || int(d.FragID) >= len(f.frags) {
		return fmt.Errorf("%w: frame_id=%d frame_type=%v frag_id=%d frag_cnt=%d",
			ErrIncompatibleDatagram, d.FrameID, d.FrameType, d.FragID, d.FragCnt)
	}
	if f.frags[d.FragID] != nil {
		return nil
	}
	f.frags[d.FragID] = d
	f.size += len(d.Payload)
	f.missing--
	return nil
}
