package encoder

import (
	"testing"

	"github.com/rtvideo/vp9cast/internal/media"
	"github.com/rtvideo/vp9cast/internal/wire"
)

type fakeEncodeCall struct {
	frameID  uint32
	forceKey bool
}

type fakeCodec struct {
	packets       []media.EncodedPacket
	calls         []fakeEncodeCall
	setBitrateErr error
	bitrateKbps   uint
}

func (f *fakeCodec) EncodeFrame(img media.RawImage, frameID uint32, forceKey bool) error {
	f.calls = append(f.calls, fakeEncodeCall{frameID: frameID, forceKey: forceKey})
	return nil
}

func (f *fakeCodec) Drain() (media.EncodedPacket, bool, error) {
	if len(f.packets) == 0 {
		return media.EncodedPacket{}, false, nil
	}
	p := f.packets[0]
	f.packets = f.packets[1:]
	return p, true, nil
}

func (f *fakeCodec) SetTargetBitrate(kbps uint) error {
	f.bitrateKbps = kbps
	return f.setBitrateErr
}

func (f *fakeCodec) Close() error { return nil }

func constClock(t uint64) Clock { return func() uint64 { return t } }

func alwaysSend(ok bool) func([]byte) (bool, error) {
	return func([]byte) (bool, error) { return ok, nil }
}

func TestPacketize_SplitsAcrossFragments(t *testing.T) {
	maxPayload := wire.MaxPayload()
	payload := make([]byte, 3*maxPayload+10)
	for i := range payload {
		payload[i] = byte(i)
	}

	frags, err := packetize(42, wire.FrameKey, payload)
	if err != nil {
		t.Fatalf("packetize: %v", err)
	}
	if len(frags) != 4 {
		t.Fatalf("len(frags) = %d, want 4", len(frags))
	}
	total := 0
	for i, frag := range frags {
		if frag.FrameID != 42 || frag.FrameType != wire.FrameKey {
			t.Fatalf("frag %d has wrong frame_id/type: %+v", i, frag)
		}
		if int(frag.FragID) != i || int(frag.FragCnt) != len(frags) {
			t.Fatalf("frag %d has wrong frag_id/frag_cnt: %+v", i, frag)
		}
		if i < len(frags)-1 && len(frag.Payload) != maxPayload {
			t.Fatalf("frag %d payload len = %d, want %d", i, len(frag.Payload), maxPayload)
		}
		total += len(frag.Payload)
	}
	if total != len(payload) {
		t.Fatalf("reassembled payload len = %d, want %d", total, len(payload))
	}
}

func TestPacketize_EmptyPayloadYieldsOneFragment(t *testing.T) {
	frags, err := packetize(1, wire.FrameNonKey, nil)
	if err != nil {
		t.Fatalf("packetize: %v", err)
	}
	if len(frags) != 1 || len(frags[0].Payload) != 0 {
		t.Fatalf("got %+v, want one empty fragment", frags)
	}
}

func TestPacketize_TooManyFragmentsRejected(t *testing.T) {
	if err := wire.SetMTU(512); err != nil {
		t.Fatalf("SetMTU: %v", err)
	}
	defer wire.SetMTU(1500)

	maxPayload := wire.MaxPayload()
	// Exactly enough bytes to require 65536 fragments.
	payload := make([]byte, 65535*(maxPayload+1))
	if _, err := packetize(1, wire.FrameNonKey, payload); err != wire.ErrTooManyFragments {
		t.Fatalf("packetize error = %v, want ErrTooManyFragments", err)
	}
}

func TestCompressFrame_DimensionMismatch(t *testing.T) {
	e := New(&fakeCodec{}, 640, 480, 500, nil)
	img := media.NewOwnedImage(320, 240)
	if err := e.CompressFrame(img, constClock(0)); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestCompressFrame_NoPacketIsError(t *testing.T) {
	codec := &fakeCodec{} // Drain() returns ok=false
	e := New(codec, 16, 16, 500, nil)
	img := media.NewOwnedImage(16, 16)
	if err := e.CompressFrame(img, constClock(0)); err == nil {
		t.Fatal("expected error when codec emits no packet")
	}
}

func TestCompressFrame_PacketizesAndQueues(t *testing.T) {
	codec := &fakeCodec{packets: []media.EncodedPacket{{Payload: []byte("hello"), KeyFrame: true}}}
	e := New(codec, 16, 16, 500, nil)
	img := media.NewOwnedImage(16, 16)

	if err := e.CompressFrame(img, constClock(1000)); err != nil {
		t.Fatalf("CompressFrame: %v", err)
	}
	if len(e.sendBuf) != 1 {
		t.Fatalf("sendBuf len = %d, want 1", len(e.sendBuf))
	}
	if e.sendBuf[0].FrameType != wire.FrameKey {
		t.Fatalf("frame type = %v, want key", e.sendBuf[0].FrameType)
	}
	if e.frameID != 1 {
		t.Fatalf("frameID = %d, want 1", e.frameID)
	}
	if len(codec.calls) != 1 || codec.calls[0].forceKey {
		t.Fatalf("unexpected encode call: %+v", codec.calls)
	}
}

func TestCompressFrame_ForcesKeyFrameAfterDeadline(t *testing.T) {
	codec := &fakeCodec{packets: []media.EncodedPacket{{Payload: []byte("x")}}}
	e := New(codec, 16, 16, 500, nil)

	// Simulate one stranded unacked datagram sent at t=0.
	e.unacked[wire.SeqNum{FrameID: 0, FragID: 0}] = &unackedEntry{
		datagram:   wire.Datagram{FrameID: 0, FragID: 0},
		sendTS:     0,
		lastSendTS: 0,
	}
	e.sendBuf = []wire.Datagram{{FrameID: 0, FragID: 0}}

	img := media.NewOwnedImage(16, 16)
	if err := e.CompressFrame(img, constClock(maxUnackedUS+1)); err != nil {
		t.Fatalf("CompressFrame: %v", err)
	}

	if len(codec.calls) != 1 || !codec.calls[0].forceKey {
		t.Fatalf("expected a forced key frame request, got %+v", codec.calls)
	}
	if len(e.unacked) != 0 {
		t.Fatalf("unacked should have been cleared, has %d entries", len(e.unacked))
	}
	if len(e.sendBuf) != 1 {
		t.Fatalf("sendBuf should only contain the new frame's fragment, has %d", len(e.sendBuf))
	}
}

func TestDrainSendBuf_StopsOnBackpressure(t *testing.T) {
	codec := &fakeCodec{packets: []media.EncodedPacket{{Payload: []byte("abc")}}}
	e := New(codec, 16, 16, 500, nil)
	img := media.NewOwnedImage(16, 16)
	if err := e.CompressFrame(img, constClock(100)); err != nil {
		t.Fatalf("CompressFrame: %v", err)
	}

	if err := e.DrainSendBuf(constClock(200), alwaysSend(false)); err != nil {
		t.Fatalf("DrainSendBuf: %v", err)
	}
	if !e.Pending() {
		t.Fatal("expected the datagram to remain queued after a would-block send")
	}
	if e.sendBuf[0].SendTS != 0 {
		t.Fatalf("SendTS should be reset to 0 after a would-block send, got %d", e.sendBuf[0].SendTS)
	}
	if len(e.unacked) != 0 {
		t.Fatal("a datagram that never sent must not enter unacked")
	}
}

func TestDrainSendBuf_MovesSentToUnacked(t *testing.T) {
	codec := &fakeCodec{packets: []media.EncodedPacket{{Payload: []byte("abc")}}}
	e := New(codec, 16, 16, 500, nil)
	img := media.NewOwnedImage(16, 16)
	if err := e.CompressFrame(img, constClock(100)); err != nil {
		t.Fatalf("CompressFrame: %v", err)
	}

	if err := e.DrainSendBuf(constClock(1000), alwaysSend(true)); err != nil {
		t.Fatalf("DrainSendBuf: %v", err)
	}
	if e.Pending() {
		t.Fatal("send queue should be empty")
	}
	if len(e.unacked) != 1 {
		t.Fatalf("unacked size = %d, want 1", len(e.unacked))
	}
}

// TestHandleAck_RetransmitsOlderUnacked mirrors the backward-sweep scenario:
// three single-fragment frames are sent and go unacked; an ACK for the
// newest one should retransmit the two older ones still outstanding.
func TestHandleAck_RetransmitsOlderUnacked(t *testing.T) {
	codec := &fakeCodec{packets: []media.EncodedPacket{
		{Payload: []byte{0}}, {Payload: []byte{1}}, {Payload: []byte{2}},
	}}
	e := New(codec, 16, 16, 500, nil)
	img := media.NewOwnedImage(16, 16)

	for i := 0; i < 3; i++ {
		if err := e.CompressFrame(img, constClock(1000)); err != nil {
			t.Fatalf("CompressFrame %d: %v", i, err)
		}
	}
	if err := e.DrainSendBuf(constClock(1000), alwaysSend(true)); err != nil {
		t.Fatalf("DrainSendBuf: %v", err)
	}
	if len(e.unacked) != 3 {
		t.Fatalf("unacked size = %d, want 3", len(e.unacked))
	}

	e.HandleAck(wire.AckMsg{FrameID: 2, FragID: 0, SendTS: 1000}, 1500)

	if _, stillUnacked := e.unacked[wire.SeqNum{FrameID: 2, FragID: 0}]; stillUnacked {
		t.Fatal("acked datagram should have been removed from unacked")
	}
	if len(e.unacked) != 2 {
		t.Fatalf("unacked size after ack = %d, want 2", len(e.unacked))
	}
	if len(e.sendBuf) != 2 {
		t.Fatalf("sendBuf size after ack = %d, want 2 retransmissions", len(e.sendBuf))
	}
	for _, d := range e.sendBuf {
		if d.NumRTX != 1 {
			t.Fatalf("retransmitted datagram has NumRTX = %d, want 1", d.NumRTX)
		}
		if d.FrameID == 2 {
			t.Fatal("the acked frame must not be retransmitted")
		}
	}
	if e.minRTTUs == nil || *e.minRTTUs != 500 {
		t.Fatalf("min RTT = %v, want 500", e.minRTTUs)
	}
	if e.ewmaRTTUs == nil || *e.ewmaRTTUs != 500 {
		t.Fatalf("ewma RTT = %v, want 500", e.ewmaRTTUs)
	}
}

func TestHandleAck_StaleAckIsIgnored(t *testing.T) {
	e := New(&fakeCodec{}, 16, 16, 500, nil)
	// No unacked state at all; this must not panic or add anything.
	e.HandleAck(wire.AckMsg{FrameID: 9, FragID: 0, SendTS: 100}, 200)
	if len(e.sendBuf) != 0 || len(e.unacked) != 0 {
		t.Fatal("stale ack must not mutate encoder state")
	}
}

func TestHandleAck_RespectsMaxNumRTX(t *testing.T) {
	codec := &fakeCodec{packets: []media.EncodedPacket{{Payload: []byte{0}}, {Payload: []byte{1}}}}
	e := New(codec, 16, 16, 500, nil)
	img := media.NewOwnedImage(16, 16)
	for i := 0; i < 2; i++ {
		if err := e.CompressFrame(img, constClock(0)); err != nil {
			t.Fatalf("CompressFrame %d: %v", i, err)
		}
	}
	if err := e.DrainSendBuf(constClock(0), alwaysSend(true)); err != nil {
		t.Fatalf("DrainSendBuf: %v", err)
	}

	e.unacked[wire.SeqNum{FrameID: 0, FragID: 0}].numRTX = maxNumRTX

	e.HandleAck(wire.AckMsg{FrameID: 1, FragID: 0, SendTS: 0}, 100)

	if len(e.sendBuf) != 0 {
		t.Fatalf("datagram at max_num_rtx must not be retransmitted, sendBuf = %+v", e.sendBuf)
	}
}

func TestAddRTTSample_MinAndEWMA(t *testing.T) {
	e := New(&fakeCodec{}, 16, 16, 500, nil)

	samples := []uint32{1000, 400, 1600}
	wantEWMA := float64(samples[0])
	for _, s := range samples[1:] {
		wantEWMA = alpha*float64(s) + (1-alpha)*wantEWMA
	}
	for _, s := range samples {
		e.addRTTSample(s)
	}

	if e.minRTTUs == nil || *e.minRTTUs != 400 {
		t.Fatalf("min RTT = %v, want 400", e.minRTTUs)
	}
	if e.ewmaRTTUs == nil || *e.ewmaRTTUs != wantEWMA {
		t.Fatalf("ewma RTT = %v, want %v", e.ewmaRTTUs, wantEWMA)
	}
}

func TestSetTargetBitrate_PropagatesToCodec(t *testing.T) {
	codec := &fakeCodec{}
	e := New(codec, 16, 16, 500, nil)
	if err := e.SetTargetBitrate(1200); err != nil {
		t.Fatalf("SetTargetBitrate: %v", err)
	}
	if codec.bitrateKbps != 1200 {
		t.Fatalf("codec bitrate = %d, want 1200", codec.bitrateKbps)
	}
	if e.targetBitrate != 1200 {
		t.Fatalf("encoder bitrate = %d, want 1200", e.targetBitrate)
	}
}
