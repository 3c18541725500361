package wire

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func mkDatagram(frameID uint32, kind FrameType, fragID, fragCnt uint16, n int) Datagram {
	d := Datagram{
		FrameID:   frameID,
		FrameType: kind,
		FragID:    fragID,
		FragCnt:   fragCnt,
		SendTS:    0xDEADBEEF00C0FFEE,
	}
	if n > 0 {
		d.Payload = make([]byte, n)
		rand.Read(d.Payload)
	}
	return d
}

func TestDatagram_RoundTrip(t *testing.T) {
	in := []Datagram{
		mkDatagram(0, FrameUnknown, 0, 1, 0),
		mkDatagram(7, FrameKey, 2, 3, 100),
		mkDatagram(0xFFFFFFFF, FrameNonKey, 0xFFFE, 0xFFFF, MaxPayload()),
	}
	for i, d := range in {
		wire := d.Marshal()
		out, err := ParseDatagram(wire)
		if err != nil {
			t.Fatalf("datagram %d: parse: %v", i, err)
		}
		if out.FrameID != d.FrameID || out.FrameType != d.FrameType ||
			out.FragID != d.FragID || out.FragCnt != d.FragCnt || out.SendTS != d.SendTS {
			t.Fatalf("datagram %d: header mismatch: got %+v, want %+v", i, out, d)
		}
		if !bytes.Equal(out.Payload, d.Payload) {
			t.Fatalf("datagram %d: payload mismatch", i)
		}
	}
}

func TestDatagram_WireLayout(t *testing.T) {
	d := Datagram{
		FrameID:   0x01020304,
		FrameType: FrameKey,
		FragID:    0x0005,
		FragCnt:   0x0010,
		SendTS:    0x0102030405060708,
		Payload:   []byte("abc"),
	}
	want := []byte{
		0x01, 0x02, 0x03, 0x04,
		0x01,
		0x00, 0x05,
		0x00, 0x10,
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x61, 0x62, 0x63,
	}
	got := d.Marshal()
	if !bytes.Equal(got, want) {
		t.Fatalf("wire layout mismatch\ngot  % X\nwant % X", got, want)
	}
	if len(got) != HeaderSize+3 {
		t.Fatalf("serialized length = %d, want %d", len(got), HeaderSize+3)
	}
}

func TestHeaderSize(t *testing.T) {
	if HeaderSize != 17 {
		t.Fatalf("HeaderSize = %d, want 17", HeaderSize)
	}
}

func TestParseDatagram_RejectsShortBuffer(t *testing.T) {
	for n := 0; n < HeaderSize; n++ {
		if _, err := ParseDatagram(make([]byte, n)); err == nil {
			t.Fatalf("expected error for %d-byte buffer", n)
		}
	}
	// Exactly a header is valid: the payload is simply empty.
	d, err := ParseDatagram(make([]byte, HeaderSize))
	if err != nil {
		t.Fatalf("parse of bare header: %v", err)
	}
	if len(d.Payload) != 0 {
		t.Fatalf("bare header yielded %d payload bytes", len(d.Payload))
	}
}

func TestParseDatagram_OverlongPayloadAccepted(t *testing.T) {
	// Parsing never enforces MaxPayload; anything past the header is payload.
	buf := make([]byte, HeaderSize+2*MaxPayload())
	d, err := ParseDatagram(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(d.Payload) != 2*MaxPayload() {
		t.Fatalf("payload len = %d, want %d", len(d.Payload), 2*MaxPayload())
	}
}

func TestAckMsg_RoundTrip(t *testing.T) {
	in := AckMsg{FrameID: 0x0A0B0C0D, FragID: 0x0E0F, SendTS: 0x1122334455667788}
	wire := in.Marshal()
	if wire[0] != byte(tagAck) {
		t.Fatalf("tag byte = %d, want %d", wire[0], tagAck)
	}
	msg, ok := ParseMsg(wire)
	if !ok {
		t.Fatal("ParseMsg failed on a valid ack")
	}
	out, ok := msg.(AckMsg)
	if !ok {
		t.Fatalf("parsed %T, want AckMsg", msg)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestAckMsg_EchoesDatagram(t *testing.T) {
	d := mkDatagram(42, FrameNonKey, 3, 5, 10)
	ack := NewAckMsg(&d)
	if ack.FrameID != d.FrameID || ack.FragID != d.FragID || ack.SendTS != d.SendTS {
		t.Fatalf("ack %+v does not echo datagram %+v", ack, d)
	}
}

func TestConfigMsg_RoundTrip(t *testing.T) {
	in := ConfigMsg{Width: 1280, Height: 720, FrameRate: 30, TargetBitrate: 2000}
	wire := in.Marshal()
	if wire[0] != byte(tagConfig) {
		t.Fatalf("tag byte = %d, want %d", wire[0], tagConfig)
	}
	msg, ok := ParseMsg(wire)
	if !ok {
		t.Fatal("ParseMsg failed on a valid config")
	}
	out, ok := msg.(ConfigMsg)
	if !ok {
		t.Fatalf("parsed %T, want ConfigMsg", msg)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestParseMsg_Rejections(t *testing.T) {
	cases := []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"invalid tag", []byte{0}},
		{"unknown tag", []byte{99, 1, 2, 3}},
		{"truncated ack", AckMsg{FrameID: 1}.Marshal()[:10]},
		{"truncated config", ConfigMsg{Width: 1}.Marshal()[:6]},
	}
	for _, tc := range cases {
		if msg, ok := ParseMsg(tc.buf); ok {
			t.Fatalf("%s: ParseMsg returned %+v, want rejection", tc.name, msg)
		}
	}
}

func TestSetMTU_Bounds(t *testing.T) {
	defer SetMTU(1500)

	for _, mtu := range []int{0, 511, 1501, -1} {
		if err := SetMTU(mtu); err == nil {
			t.Fatalf("SetMTU(%d) accepted an out-of-range MTU", mtu)
		}
	}
	for _, mtu := range []int{512, 1500} {
		if err := SetMTU(mtu); err != nil {
			t.Fatalf("SetMTU(%d): %v", mtu, err)
		}
		if got, want := MaxPayload(), mtu-ipUDPOverhead-HeaderSize; got != want {
			t.Fatalf("MaxPayload() after SetMTU(%d) = %d, want %d", mtu, got, want)
		}
	}
}
