// Package codec provides a trivial stand-in for the external VP9 codec
// library the transport drives through internal/media's interfaces. A
// production build wires internal/media.Encoder/Decoder to a cgo binding
// over libvpx; this package exists so cmd/vp9sender and cmd/vp9receiver
// compile and run end-to-end against each other (and in tests) without
// that binding, treating every raw frame as its own key frame and carrying
// the raw I420 bytes unmodified as the "compressed" payload.
package codec

import (
	"errors"
	"fmt"

	"github.com/rtvideo/vp9cast/internal/media"
)

// ErrClosed is returned by any call made after Close.
var ErrClosed = errors.New("codec: use of closed passthrough codec")

// PassthroughEncoder implements media.Encoder by copying raw frame bytes
// straight through, unconditionally marking every frame a key frame. It
// exists purely to exercise the transport's packetization, send-queue, and
// retransmission logic without a real VP9 dependency.
type PassthroughEncoder struct {
	width, height uint16
	bitrateKbps   uint
	pending       []byte
	pendingOK     bool
	closed        bool
}

// NewPassthroughEncoder constructs an encoder for displayWidth x
// displayHeight I420 frames.
func NewPassthroughEncoder(displayWidth, displayHeight uint16) *PassthroughEncoder {
	return &PassthroughEncoder{width: displayWidth, height: displayHeight}
}

// EncodeFrame "encodes" img by copying its bytes into the pending packet;
// frameID and forceKey are accepted for interface conformance but otherwise
// ignored since every frame is already self-contained.
func (p *PassthroughEncoder) EncodeFrame(img media.RawImage, frameID uint32, forceKey bool) error {
	if p.closed {
		return ErrClosed
	}
	want := int(p.width) * int(p.height) * 3 / 2
	if len(img.Data) != want {
		return fmt.Errorf("codec: expected %d-byte I420 frame, got %d", want, len(img.Data))
	}
	p.pending = append(p.pending[:0], img.Data...)
	p.pendingOK = true
	return nil
}

// Drain returns the packet queued by the last EncodeFrame call.
func (p *PassthroughEncoder) Drain() (media.EncodedPacket, bool, error) {
	if p.closed {
		return media.EncodedPacket{}, false, ErrClosed
	}
	if !p.pendingOK {
		return media.EncodedPacket{}, false, nil
	}
	p.pendingOK = false
	return media.EncodedPacket{Payload: p.pending, KeyFrame: true}, true, nil
}

// SetTargetBitrate records the requested bitrate; a real codec would
// reconfigure its rate controller, but the passthrough has no compression
// to tune.
func (p *PassthroughEncoder) SetTargetBitrate(kbps uint) error {
	if p.closed {
		return ErrClosed
	}
	p.bitrateKbps = kbps
	return nil
}

// Close marks the encoder unusable.
func (p *PassthroughEncoder) Close() error {
	p.closed = true
	return nil
}

// PassthroughDecoder implements media.Decoder, the mirror image of
// PassthroughEncoder: it hands back whatever bytes it was given as an I420
// image, assuming the sender side used PassthroughEncoder too.
type PassthroughDecoder struct {
	width, height uint16
	pending       []byte
	pendingOK     bool
	closed        bool
}

// NewPassthroughDecoder constructs a decoder for displayWidth x
// displayHeight I420 frames.
func NewPassthroughDecoder(displayWidth, displayHeight uint16) *PassthroughDecoder {
	return &PassthroughDecoder{width: displayWidth, height: displayHeight}
}

// DecodeFrame "decodes" compressed by holding onto its bytes for the next
// Drain call.
func (p *PassthroughDecoder) DecodeFrame(compressed []byte) error {
	if p.closed {
		return ErrClosed
	}
	want := int(p.width) * int(p.height) * 3 / 2
	if len(compressed) != want {
		return fmt.Errorf("codec: expected %d-byte I420 frame, got %d", want, len(compressed))
	}
	p.pending = append(p.pending[:0], compressed...)
	p.pendingOK = true
	return nil
}

// Drain returns the image produced by the last DecodeFrame call, as a
// borrowed RawImage (the decoder still owns the backing buffer).
func (p *PassthroughDecoder) Drain() (media.RawImage, bool, error) {
	if p.closed {
		return media.RawImage{}, false, ErrClosed
	}
	if !p.pendingOK {
		return media.RawImage{}, false, nil
	}
	p.pendingOK = false
	return media.BorrowedImage(p.width, p.height, p.pending), true, nil
}

// Close marks the decoder unusable.
func (p *PassthroughDecoder) Close() error {
	p.closed = true
	return nil
}
