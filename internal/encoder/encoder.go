// Package encoder implements the sender side of the transport: it turns
// encoded VP9 frames into a queue of wire.Datagrams, tracks which ones are
// still unacknowledged, estimates RTT from returning AckMsgs, and drives
// backward retransmission and forced-key-frame recovery.
package encoder

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/rtvideo/vp9cast/internal/ioerr"
	"github.com/rtvideo/vp9cast/internal/logging"
	"github.com/rtvideo/vp9cast/internal/media"
	"github.com/rtvideo/vp9cast/internal/metrics"
	"github.com/rtvideo/vp9cast/internal/wire"
)

const (
	// maxNumRTX bounds how many times the backward sweep will retransmit a
	// single unacked datagram before giving up on it.
	maxNumRTX = 3
	// maxUnackedUS is how long the oldest unacked datagram is allowed to sit
	// before compress_frame gives up and forces a key frame.
	maxUnackedUS = 1_000_000
	// alpha is the EWMA smoothing factor for RTT samples.
	alpha = 0.2
)

// unackedEntry tracks one in-flight datagram awaiting acknowledgement. It
// keeps enough of the original datagram to rebuild a retransmission without
// going back to the frame that produced it.
type unackedEntry struct {
	datagram   wire.Datagram
	sendTS     uint64 // first time this datagram was put on the wire
	lastSendTS uint64 // most recent transmission (initial send or a retransmit)
	numRTX     uint32
}

// Clock returns the current time in microseconds; tests inject a fake one.
type Clock func() uint64

// Encoder packetizes encoded frames, queues them for transmission, and
// reacts to returning acknowledgements. It is not safe for concurrent use;
// the event loop that owns it must serialize CompressFrame, HandleAck, and
// DrainSendBuf.
type Encoder struct {
	codec         media.Encoder
	displayWidth  uint16
	displayHeight uint16
	targetBitrate uint
	output        io.Writer // nil disables per-frame CSV logging
	verbose       bool

	frameID uint32
	sendBuf []wire.Datagram
	unacked map[wire.SeqNum]*unackedEntry

	minRTTUs  *uint32
	ewmaRTTUs *float64

	// periodic stats, reset by OutputPeriodicStats
	numEncodedFrames  uint64
	totalEncodeTimeMs float64
	maxEncodeTimeMs   float64
}

// New constructs an Encoder driving codec for a display_width x
// display_height stream at an initial targetBitrateKbps. output, if
// non-nil, receives one CSV line per compressed frame.
func New(codec media.Encoder, displayWidth, displayHeight uint16, targetBitrateKbps uint, output io.Writer) *Encoder {
	return &Encoder{
		codec:         codec,
		displayWidth:  displayWidth,
		displayHeight: displayHeight,
		targetBitrate: targetBitrateKbps,
		output:        output,
		unacked:       make(map[wire.SeqNum]*unackedEntry),
	}
}

// SetVerbose toggles extra per-datagram debug logging.
func (e *Encoder) SetVerbose(v bool) { e.verbose = v }

// CompressFrame encodes raw as the next frame, forcing a key frame if the
// oldest unacked datagram has been outstanding for more than one second,
// packetizes the result, and appends the fragments to the send queue.
func (e *Encoder) CompressFrame(raw media.RawImage, now Clock) error {
	if raw.Width != e.displayWidth || raw.Height != e.displayHeight {
		return fmt.Errorf("%w: encoder configured for %dx%d, got %dx%d",
			ioerr.ErrConfig, e.displayWidth, e.displayHeight, raw.Width, raw.Height)
	}

	genTS := now()
	forceKey := e.maybeForceKeyFrame(genTS)

	if err := e.codec.EncodeFrame(raw, e.frameID, forceKey); err != nil {
		return fmt.Errorf("encode frame %d: %w", e.frameID, err)
	}
	pkt, ok, err := e.codec.Drain()
	if err != nil {
		return fmt.Errorf("drain encoded frame %d: %w", e.frameID, err)
	}
	if !ok {
		return fmt.Errorf("%w: codec produced no packet for frame %d", ioerr.ErrProtocol, e.frameID)
	}

	kind := wire.FrameNonKey
	if pkt.KeyFrame {
		kind = wire.FrameKey
		if e.verbose {
			logging.L().Debug("encoded_key_frame", "frame_id", e.frameID)
		}
	}

	frags, err := packetize(e.frameID, kind, pkt.Payload)
	if err != nil {
		return err
	}
	e.sendBuf = append(e.sendBuf, frags...)

	encTS := now()
	e.RecordEncodeTime(float64(encTS-genTS) / 1000.0)
	if e.output != nil {
		fmt.Fprintf(e.output, "%d,%d,%d,%d,%d\n", e.frameID, e.targetBitrate, len(pkt.Payload), genTS, encTS)
	}

	e.frameID++
	return nil
}

// maybeForceKeyFrame gives up on the oldest unacked datagram once it has
// been outstanding for more than maxUnackedUS, clearing all in-flight
// state and asking for a key frame to restart the stream cleanly.
func (e *Encoder) maybeForceKeyFrame(nowUs uint64) bool {
	if len(e.unacked) == 0 {
		return false
	}
	oldestKey := e.oldestUnackedKey()
	oldest := e.unacked[oldestKey]
	if nowUs-oldest.sendTS <= maxUnackedUS {
		return false
	}

	logging.L().Warn("recovery_forced_key_frame",
		"frame_id", e.frameID, "gave_up_frame_id", oldestKey.FrameID,
		"gave_up_frag_id", oldestKey.FragID, "num_rtx", oldest.numRTX)
	metrics.ForcedKeyFrames.Inc()

	e.sendBuf = nil
	e.unacked = make(map[wire.SeqNum]*unackedEntry)
	return true
}

func (e *Encoder) oldestUnackedKey() wire.SeqNum {
	first := true
	var best wire.SeqNum
	for k := range e.unacked {
		if first || seqNumLess(k, best) {
			best = k
			first = false
		}
	}
	return best
}

// packetize splits payload into wire.Datagrams of at most wire.MaxPayload
// bytes each, per frag_cnt = floor(frame_size/(max_payload+1)) + 1.
func packetize(frameID uint32, kind wire.FrameType, payload []byte) ([]wire.Datagram, error) {
	maxPayload := wire.MaxPayload()
	frameSize := len(payload)
	fragCnt64 := frameSize/(maxPayload+1) + 1
	if fragCnt64 > math.MaxUint16 {
		return nil, wire.ErrTooManyFragments
	}
	fragCnt := uint16(fragCnt64)

	frags := make([]wire.Datagram, fragCnt)
	offset := 0
	for i := 0; i < int(fragCnt); i++ {
		n := maxPayload
		if i == int(fragCnt)-1 {
			n = frameSize - offset
		}
		frags[i] = wire.Datagram{
			FrameID:   frameID,
			FrameType: kind,
			FragID:    uint16(i),
			FragCnt:   fragCnt,
			Payload:   append([]byte(nil), payload[offset:offset+n]...),
		}
		offset += n
	}
	return frags, nil
}

// DrainSendBuf sends as much of the front of the send queue as send allows,
// stamping each datagram's SendTS immediately before the send attempt. send
// returns ok=false to mean "would block" (the caller should stop and wait
// for the next writability notification) without being an error. The first
// transmission of a datagram (NumRTX == 0) moves it into the unacked set.
func (e *Encoder) DrainSendBuf(now Clock, send func(payload []byte) (ok bool, err error)) error {
	for len(e.sendBuf) > 0 {
		d := &e.sendBuf[0]
		d.SendTS = now()

		ok, err := send(d.Marshal())
		if err != nil {
			return fmt.Errorf("%w: %v", ioerr.ErrSocket, err)
		}
		if !ok {
			d.SendTS = 0
			return nil
		}

		if d.NumRTX == 0 {
			key := d.SeqNum()
			if _, exists := e.unacked[key]; exists {
				return fmt.Errorf("%w: datagram %+v already in unacked", ioerr.ErrProtocol, key)
			}
			e.unacked[key] = &unackedEntry{datagram: *d, sendTS: d.SendTS, lastSendTS: d.SendTS}
		}
		metrics.DatagramsSent.Inc()
		metrics.UnackedSize.Set(float64(len(e.unacked)))
		e.sendBuf = e.sendBuf[1:]
	}
	return nil
}

// Pending reports whether the send queue still has datagrams waiting to go
// out, so the event loop knows whether to keep write-readiness armed.
func (e *Encoder) Pending() bool { return len(e.sendBuf) > 0 }

// HandleAck processes one returning AckMsg: it records an RTT sample,
// retransmits every still-unacked datagram sent before the acked one that
// either has never been retransmitted or hasn't been retried in about one
// RTT (each datagram at most maxNumRTX times), and removes the acked
// datagram from the unacked set.
func (e *Encoder) HandleAck(ack wire.AckMsg, nowUs uint64) {
	metrics.AcksReceived.Inc()
	e.addRTTSample(uint32(nowUs - ack.SendTS))

	ackedKey := wire.SeqNum{FrameID: ack.FrameID, FragID: ack.FragID}
	if _, exists := e.unacked[ackedKey]; !exists {
		return
	}

	for _, key := range e.unackedKeysBefore(ackedKey) {
		entry := e.unacked[key]
		if entry.numRTX >= maxNumRTX {
			continue
		}
		if entry.numRTX != 0 && nowUs-entry.lastSendTS <= uint64(*e.ewmaRTTUs) {
			continue
		}

		entry.numRTX++
		entry.lastSendTS = nowUs

		rtx := entry.datagram
		rtx.NumRTX = entry.numRTX
		rtx.LastSendTS = nowUs
		e.sendBuf = append([]wire.Datagram{rtx}, e.sendBuf...)
		metrics.DatagramsRetransmitted.Inc()
	}

	delete(e.unacked, ackedKey)
	metrics.UnackedSize.Set(float64(len(e.unacked)))
}

// unackedKeysBefore returns every key strictly less than before, ordered
// from the most recent (closest to before) to the oldest, matching a
// reverse scan over an ordered map.
func (e *Encoder) unackedKeysBefore(before wire.SeqNum) []wire.SeqNum {
	keys := make([]wire.SeqNum, 0, len(e.unacked))
	for k := range e.unacked {
		if seqNumLess(k, before) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return seqNumLess(keys[j], keys[i]) })
	return keys
}

func seqNumLess(a, b wire.SeqNum) bool {
	if a.FrameID != b.FrameID {
		return a.FrameID < b.FrameID
	}
	return a.FragID < b.FragID
}

func (e *Encoder) addRTTSample(sampleUs uint32) {
	if e.minRTTUs == nil || sampleUs < *e.minRTTUs {
		v := sampleUs
		e.minRTTUs = &v
	}
	if e.ewmaRTTUs == nil {
		v := float64(sampleUs)
		e.ewmaRTTUs = &v
	} else {
		*e.ewmaRTTUs = alpha*float64(sampleUs) + (1-alpha)**e.ewmaRTTUs
	}
	metrics.MinRTTMicros.Set(float64(*e.minRTTUs))
	metrics.EWMARTTMicros.Set(*e.ewmaRTTUs)
}

// SetTargetBitrate reconfigures both this encoder's bookkeeping and the
// underlying codec's rate control target.
func (e *Encoder) SetTargetBitrate(kbps uint) error {
	if err := e.codec.SetTargetBitrate(kbps); err != nil {
		return fmt.Errorf("set target bitrate: %w", err)
	}
	e.targetBitrate = kbps
	return nil
}

// RecordEncodeTime folds one frame's encode duration into the running
// per-period stats reported by OutputPeriodicStats.
func (e *Encoder) RecordEncodeTime(ms float64) {
	e.numEncodedFrames++
	e.totalEncodeTimeMs += ms
	if ms > e.maxEncodeTimeMs {
		e.maxEncodeTimeMs = ms
	}
}

// OutputPeriodicStats logs the encoding throughput and RTT observed over
// the last period, then resets the per-period counters (RTT state is
// cumulative and survives the reset).
func (e *Encoder) OutputPeriodicStats() {
	attrs := []any{"frames_encoded", e.numEncodedFrames}
	if e.numEncodedFrames > 0 {
		attrs = append(attrs,
			"avg_encode_ms", e.totalEncodeTimeMs/float64(e.numEncodedFrames),
			"max_encode_ms", e.maxEncodeTimeMs)
	}
	if e.minRTTUs != nil && e.ewmaRTTUs != nil {
		attrs = append(attrs,
			"min_rtt_ms", float64(*e.minRTTUs)/1000.0,
			"ewma_rtt_ms", *e.ewmaRTTUs/1000.0)
	}
	logging.L().Info("encoder_periodic_stats", attrs...)

	e.numEncodedFrames = 0
	e.totalEncodeTimeMs = 0
	e.maxEncodeTimeMs = 0
}
