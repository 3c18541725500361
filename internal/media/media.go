// Package media defines the narrow interfaces this transport uses to talk
// to components that are explicitly out of scope for it: the VP9 codec
// itself, raw frame sources, and display. The implementations in this
// module are internal/codec's passthrough stand-in for the codec,
// internal/display's logging stand-in for the display, and internal/videoin's
// file and camera sources; tests substitute fakes satisfying these same
// interfaces.
package media

// RawImage is an I420 frame, either owned (allocated by this process and
// released on Release) or borrowed (returned by the decoder for the
// lifetime of one decode call). Only the owning variant frees anything on
// Release.
type RawImage struct {
	Width  uint16
	Height uint16
	Data   []byte
	owned  bool
}

// NewOwnedImage allocates a zero-filled I420 buffer of the given dimensions.
func NewOwnedImage(width, height uint16) RawImage {
	size := int(width) * int(height) * 3 / 2
	return RawImage{Width: width, Height: height, Data: make([]byte, size), owned: true}
}

// BorrowedImage wraps a buffer this process does not own (e.g. one handed
// back by the decoder) for the duration of a single call.
func BorrowedImage(width, height uint16, data []byte) RawImage {
	return RawImage{Width: width, Height: height, Data: data}
}

// Release frees the image's backing buffer if this RawImage owns it.
func (r *RawImage) Release() {
	if r.owned {
		r.Data = nil
	}
}

// EncodedPacket is one compressed VP9 frame emitted by an Encoder.
type EncodedPacket struct {
	Payload  []byte
	KeyFrame bool
}

// Encoder compresses RawImages into VP9 frames. EncodeFrame must be followed
// by exactly one call to Drain before the next EncodeFrame; Drain returns
// ok=false if the codec produced no packet for the last EncodeFrame call,
// which CompressFrame treats as fatal. Because Drain is called once per
// EncodeFrame, a codec that produced more than one packet for a frame is
// not detected.
type Encoder interface {
	// EncodeFrame encodes img as frameID. forceKey requests a key frame.
	EncodeFrame(img RawImage, frameID uint32, forceKey bool) error
	// Drain returns the single packet produced by the last EncodeFrame call.
	Drain() (EncodedPacket, bool, error)
	// SetTargetBitrate reconfigures the encoder's target bitrate in kbps.
	SetTargetBitrate(kbps uint) error
	Close() error
}

// Decoder decompresses VP9 frames back into RawImages. Drain is called at
// most once per DecodeFrame; the decoder worker calls it only when it has a
// display to show the image on.
type Decoder interface {
	DecodeFrame(compressed []byte) error
	// Drain returns the single decoded image produced by the last
	// DecodeFrame call, or ok=false if none was produced.
	Drain() (RawImage, bool, error)
	Close() error
}

// Display presents decoded RawImages to the user.
type Display interface {
	ShowFrame(img RawImage) error
	// SignalQuit reports whether the user has asked to close the display.
	SignalQuit() bool
	Close() error
}

// Source yields one RawImage per ReadFrame call, from a file or a camera.
type Source interface {
	Dimensions() (width, height uint16)
	ReadFrame(img *RawImage) (bool, error)
}
