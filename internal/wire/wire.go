// Package wire implements the on-the-wire binary framing for the transport:
// the Datagram header used for compressed video fragments, and the small
// Ack/Config control messages exchanged between sender and receiver.
//
// All multi-byte integers are big-endian. Every encode/decode helper here is
// stateless and safe for concurrent use.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// FrameType classifies a Datagram's payload as belonging to a key frame or not.
type FrameType uint8

const (
	FrameUnknown FrameType = 0
	FrameKey     FrameType = 1
	FrameNonKey  FrameType = 2
)

func (t FrameType) String() string {
	switch t {
	case FrameKey:
		return "key"
	case FrameNonKey:
		return "non-key"
	default:
		return "unknown"
	}
}

// HeaderSize is the fixed size, in bytes, of a Datagram header on the wire.
const HeaderSize = 4 + 1 + 2 + 2 + 8 // frame_id, frame_type, frag_id, frag_cnt, send_ts

// ipUDPOverhead is the assumed IPv4+UDP header overhead subtracted from the
// MTU when deriving the maximum datagram payload.
const ipUDPOverhead = 28

const (
	minMTU = 512
	maxMTU = 1500
)

var (
	// ErrMTUOutOfRange is returned by SetMTU for a value outside [512, 1500].
	ErrMTUOutOfRange = errors.New("wire: MTU must be between 512 and 1500 bytes")
	// ErrShortDatagram is returned when parsing a buffer too small to hold a header.
	ErrShortDatagram = errors.New("wire: datagram shorter than header")
	// ErrTooManyFragments is returned when a frame would require more fragments
	// than a uint16 frag_cnt can represent.
	ErrTooManyFragments = errors.New("wire: frame requires more than 65535 fragments")
)

// maxPayload is process-wide state set once at startup and read lock-free
// thereafter by every packetizer call.
var maxPayload int32 = int32(1500 - ipUDPOverhead - HeaderSize)

// SetMTU validates mtu and derives the process-wide maximum Datagram payload
// size from it. It is expected to be called once at startup, before any
// packetization happens.
func SetMTU(mtu int) error {
	if mtu < minMTU || mtu > maxMTU {
		return fmt.Errorf("%w: got %d", ErrMTUOutOfRange, mtu)
	}
	maxPayload = int32(mtu - ipUDPOverhead - HeaderSize)
	return nil
}

// MaxPayload returns the current process-wide maximum Datagram payload size.
func MaxPayload() int { return int(maxPayload) }

// Datagram is one MTU-sized fragment of a compressed video frame, plus the
// sender-only retransmission bookkeeping fields (NumRTX, LastSendTS) which
// are never serialized.
type Datagram struct {
	FrameID   uint32
	FrameType FrameType
	FragID    uint16
	FragCnt   uint16
	SendTS    uint64 // microseconds since Unix epoch
	Payload   []byte

	// Sender-side bookkeeping; zero value on receipt.
	NumRTX     uint32
	LastSendTS uint64
}

// Marshal serializes d to its wire representation.
func (d *Datagram) Marshal() []byte {
	buf := make([]byte, HeaderSize+len(d.Payload))
	binary.BigEndian.PutUint32(buf[0:4], d.FrameID)
	buf[4] = byte(d.FrameType)
	binary.BigEndian.PutUint16(buf[5:7], d.FragID)
	binary.BigEndian.PutUint16(buf[7:9], d.FragCnt)
	binary.BigEndian.PutUint64(buf[9:17], d.SendTS)
	copy(buf[HeaderSize:], d.Payload)
	return buf
}

// ParseDatagram parses a Datagram from raw wire bytes. It fails only if b is
// shorter than HeaderSize; any trailing bytes beyond the header become the
// payload, however long.
func ParseDatagram(b []byte) (Datagram, error) {
	if len(b) < HeaderSize {
		return Datagram{}, ErrShortDatagram
	}
	d := Datagram{
		FrameID:   binary.BigEndian.Uint32(b[0:4]),
		FrameType: FrameType(b[4]),
		FragID:    binary.BigEndian.Uint16(b[5:7]),
		FragCnt:   binary.BigEndian.Uint16(b[7:9]),
		SendTS:    binary.BigEndian.Uint64(b[9:17]),
	}
	if len(b) > HeaderSize {
		d.Payload = append([]byte(nil), b[HeaderSize:]...)
	}
	return d, nil
}

// SeqNum identifies an outstanding datagram by (frame, fragment); it is a
// plain comparable struct so it can be used directly as a map key.
type SeqNum struct {
	FrameID uint32
	FragID  uint16
}

func (d *Datagram) SeqNum() SeqNum { return SeqNum{FrameID: d.FrameID, FragID: d.FragID} }

// msgTag identifies the variant of a control Msg on the wire.
type msgTag uint8

const (
	tagInvalid msgTag = 0
	tagAck     msgTag = 1
	tagConfig  msgTag = 2
)

// Msg is implemented by AckMsg and ConfigMsg.
type Msg interface {
	Tag() byte
	Marshal() []byte
}

// AckMsg acknowledges receipt of one Datagram, echoing its identifying
// fields and — critically — its SendTS, which the sender uses as an RTT
// sample source (now - ack.SendTS). This ordering must be preserved exactly.
type AckMsg struct {
	FrameID uint32
	FragID  uint16
	SendTS  uint64
}

// NewAckMsg builds an AckMsg that echoes the fields of a received Datagram.
func NewAckMsg(d *Datagram) AckMsg {
	return AckMsg{FrameID: d.FrameID, FragID: d.FragID, SendTS: d.SendTS}
}

func (a AckMsg) Tag() byte { return byte(tagAck) }

func (a AckMsg) Marshal() []byte {
	buf := make([]byte, 1+4+2+8)
	buf[0] = a.Tag()
	binary.BigEndian.PutUint32(buf[1:5], a.FrameID)
	binary.BigEndian.PutUint16(buf[5:7], a.FragID)
	binary.BigEndian.PutUint64(buf[7:15], a.SendTS)
	return buf
}

// ConfigMsg is sent once by the receiver to request a stream configuration.
type ConfigMsg struct {
	Width         uint16
	Height        uint16
	FrameRate     uint16
	TargetBitrate uint32
}

func (c ConfigMsg) Tag() byte { return byte(tagConfig) }

func (c ConfigMsg) Marshal() []byte {
	buf := make([]byte, 1+2+2+2+4)
	buf[0] = c.Tag()
	binary.BigEndian.PutUint16(buf[1:3], c.Width)
	binary.BigEndian.PutUint16(buf[3:5], c.Height)
	binary.BigEndian.PutUint16(buf[5:7], c.FrameRate)
	binary.BigEndian.PutUint32(buf[7:11], c.TargetBitrate)
	return buf
}

// ParseMsg parses a control message, returning ok=false for an empty buffer
// or an unrecognized tag byte — never an error, since a malformed control
// message on this wire is expected loss, not a protocol violation.
func ParseMsg(b []byte) (msg Msg, ok bool) {
	if len(b) < 1 {
		return nil, false
	}
	switch msgTag(b[0]) {
	case tagAck:
		if len(b) < 1+4+2+8 {
			return nil, false
		}
		return AckMsg{
			FrameID: binary.BigEndian.Uint32(b[1:5]),
			FragID:  binary.BigEndian.Uint16(b[5:7]),
			SendTS:  binary.BigEndian.Uint64(b[7:15]),
		}, true
	case tagConfig:
		if len(b) < 1+2+2+2+4 {
			return nil, false
		}
		return ConfigMsg{
			Width:         binary.BigEndian.Uint16(b[1:3]),
			Height:        binary.BigEndian.Uint16(b[3:5]),
			FrameRate:     binary.BigEndian.Uint16(b[5:7]),
			TargetBitrate: binary.BigEndian.Uint32(b[7:11]),
		}, true
	default:
		return nil, false
	}
}
