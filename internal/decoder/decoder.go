// Package decoder implements the receiver side of the transport: it
// reassembles incoming datagrams into frames, decides which frame is next
// decodable (skipping ahead to a later key frame when recovery demands it),
// and hands completed frames to a worker goroutine that decodes and
// displays them off the critical path.
package decoder

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rtvideo/vp9cast/internal/ioerr"
	"github.com/rtvideo/vp9cast/internal/logging"
	"github.com/rtvideo/vp9cast/internal/media"
	"github.com/rtvideo/vp9cast/internal/metrics"
	"github.com/rtvideo/vp9cast/internal/reassembly"
	"github.com/rtvideo/vp9cast/internal/wire"
)

// LazyLevel controls how much work the decoder does with a decodable frame.
type LazyLevel int

const (
	// DecodeDisplay decodes every frame and shows it.
	DecodeDisplay LazyLevel = 0
	// DecodeOnly decodes every frame but never displays it.
	DecodeOnly LazyLevel = 1
	// NoDecodeDisplay does neither; only reassembly and stats run.
	NoDecodeDisplay LazyLevel = 2
)

// ErrInvalidLazyLevel is returned by New for a level outside [0, 2].
var ErrInvalidLazyLevel = errors.New("decoder: invalid lazy level")

// Decoder is not safe for concurrent use except for the worker handoff: all
// of AddDatagram, NextFrameComplete, ConsumeNextFrame, and AdvanceNextFrame
// must be called from a single goroutine, the same discipline encoder
// expects of its own API.
type Decoder struct {
	displayWidth  uint16
	displayHeight uint16
	lazyLevel     LazyLevel
	codec         media.Decoder
	display       media.Display
	output        io.Writer
	verbose       bool

	nextFrame uint32
	frameBuf  map[uint32]*reassembly.Frame

	numDecodableFrames      uint
	totalDecodableFrameSize int
	lastStatsTime           time.Time

	mu          sync.Mutex
	cond        *sync.Cond
	sharedQueue []*reassembly.Frame
	shutdown    bool
	workerDone  chan struct{}
}

// New constructs a Decoder for a displayWidth x displayHeight stream. codec
// decodes compressed frames; display (may be nil) shows them when lazyLevel
// is DecodeDisplay. output, if non-nil, receives one CSV line per
// decodable/decoded frame. A worker goroutine is spawned unless lazyLevel
// is NoDecodeDisplay.
func New(displayWidth, displayHeight uint16, lazyLevel LazyLevel, codec media.Decoder, display media.Display, output io.Writer) (*Decoder, error) {
	if lazyLevel < DecodeDisplay || lazyLevel > NoDecodeDisplay {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLazyLevel, lazyLevel)
	}

	d := &Decoder{
		displayWidth:  displayWidth,
		displayHeight: displayHeight,
		lazyLevel:     lazyLevel,
		codec:         codec,
		display:       display,
		output:        output,
		frameBuf:      make(map[uint32]*reassembly.Frame),
		lastStatsTime: time.Now(),
		workerDone:    make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)

	if lazyLevel <= DecodeOnly {
		go d.workerMain()
		logging.L().Info("decoder_worker_spawned")
	} else {
		close(d.workerDone)
	}
	return d, nil
}

// SetVerbose toggles extra per-datagram debug logging.
func (d *Decoder) SetVerbose(v bool) { d.verbose = v }

// NextFrame returns the frame ID the decoder next expects to consume.
func (d *Decoder) NextFrame() uint32 { return d.nextFrame }

// AddDatagram folds one received fragment into its frame's reassembly
// buffer, allocating the buffer on first sight of a frame ID. Datagrams
// from frames already consumed are silently dropped.
func (d *Decoder) AddDatagram(dg *wire.Datagram) error {
	if dg.FrameID < d.nextFrame {
		return nil
	}

	f, ok := d.frameBuf[dg.FrameID]
	if !ok {
		nf, err := reassembly.NewFrame(dg.FrameID, dg.FrameType, dg.FragCnt)
		if err != nil {
			metrics.MalformedDatagrams.Inc()
			return fmt.Errorf("%w: %v", ioerr.ErrProtocol, err)
		}
		d.frameBuf[dg.FrameID] = nf
		f = nf
	}

	if err := f.Insert(dg); err != nil {
		metrics.MalformedDatagrams.Inc()
		return err
	}
	return nil
}

// NextFrameComplete reports whether the next expected frame is ready to
// consume. If it isn't, it looks for a complete key frame further ahead in
// the buffer and, if one is found, skips forward to it — abandoning
// whatever incomplete frames lay in between — and reports true.
func (d *Decoder) NextFrameComplete() bool {
	if f, ok := d.frameBuf[d.nextFrame]; ok && f.Complete() {
		return true
	}

	ids := make([]uint32, 0, len(d.frameBuf))
	for id := range d.frameBuf {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	for _, id := range ids {
		f := d.frameBuf[id]
		if f.Type() == wire.FrameKey && f.Complete() {
			diff := id - d.nextFrame
			logging.L().Warn("recovery_skip_ahead", "skipped_frames", diff, "key_frame_id", id)
			metrics.SkipAheadRecoveries.Inc()
			d.AdvanceNextFrame(diff)
			return true
		}
	}
	return false
}

// ConsumeNextFrame dispatches the next frame (which must be complete) for
// decoding — to the worker queue if the lazy level calls for it, or
// straight to the CSV output otherwise — and advances past it.
func (d *Decoder) ConsumeNextFrame() error {
	f, ok := d.frameBuf[d.nextFrame]
	if !ok || !f.Complete() {
		return fmt.Errorf("%w: next frame %d is not complete", ioerr.ErrProtocol, d.nextFrame)
	}

	size, _ := f.FrameSize()
	d.numDecodableFrames++
	d.totalDecodableFrameSize += size
	metrics.DecodableFrames.Inc()
	d.maybeLogMainStats()

	if d.lazyLevel <= DecodeOnly {
		d.mu.Lock()
		d.sharedQueue = append(d.sharedQueue, f)
		d.mu.Unlock()
		d.cond.Signal()
	} else if d.output != nil {
		fmt.Fprintf(d.output, "%d,%d,%d\n", d.nextFrame, size, time.Now().UnixMicro())
	}

	d.AdvanceNextFrame(1)
	return nil
}

// AdvanceNextFrame moves the expected frame ID forward by n and discards
// any buffered frames left behind by the advance.
func (d *Decoder) AdvanceNextFrame(n uint32) {
	d.nextFrame += n
	d.cleanUpTo(d.nextFrame)
}

func (d *Decoder) cleanUpTo(frontier uint32) {
	for id := range d.frameBuf {
		if id < frontier {
			delete(d.frameBuf, id)
		}
	}
}

func (d *Decoder) maybeLogMainStats() {
	now := time.Now()
	for now.Sub(d.lastStatsTime) >= time.Second {
		elapsedMs := now.Sub(d.lastStatsTime).Seconds() * 1000
		attrs := []any{"decodable_frames", d.numDecodableFrames}
		if elapsedMs > 0 {
			attrs = append(attrs, "bitrate_kbps", float64(d.totalDecodableFrameSize)*8/elapsedMs)
		}
		logging.L().Info("decoder_periodic_stats", attrs...)

		d.numDecodableFrames = 0
		d.totalDecodableFrameSize = 0
		d.lastStatsTime = d.lastStatsTime.Add(time.Second)
	}
}

// Shutdown asks the worker goroutine (if one was spawned) to drain its
// queue and exit, then waits for it. It is safe to call even when no
// worker was started.
func (d *Decoder) Shutdown() {
	d.mu.Lock()
	d.shutdown = true
	d.mu.Unlock()
	d.cond.Broadcast()
	<-d.workerDone
}

// workerMain is the decode/display pipeline's only goroutine: it waits for
// frames on the shared queue, copies them out under the lock, then decodes
// and displays them without holding it.
func (d *Decoder) workerMain() {
	defer close(d.workerDone)

	if d.lazyLevel == NoDecodeDisplay {
		return
	}

	display := d.display
	if d.lazyLevel != DecodeDisplay {
		display = nil
	}

	var localQueue []*reassembly.Frame
	var numDecoded uint
	var totalDecodeMs, maxDecodeMs float64
	lastStats := time.Now()

	for {
		if display != nil && display.SignalQuit() {
			display.Close()
			display = nil
		}

		d.mu.Lock()
		for len(d.sharedQueue) == 0 && !d.shutdown {
			d.cond.Wait()
		}
		if len(d.sharedQueue) == 0 && d.shutdown {
			d.mu.Unlock()
			return
		}
		localQueue = append(localQueue, d.sharedQueue...)
		d.sharedQueue = nil
		d.mu.Unlock()

		for len(localQueue) > 0 {
			frame := localQueue[0]
			localQueue = localQueue[1:]

			decodeMs, err := d.decodeFrame(frame)
			if err != nil {
				logging.L().Error("decode_failed", "frame_id", frame.ID(), "error", err)
				continue
			}

			if d.output != nil {
				size, _ := frame.FrameSize()
				fmt.Fprintf(d.output, "%d,%d,%d\n", frame.ID(), size, time.Now().UnixMicro())
			}
			if display != nil {
				d.displayDecodedFrame(display)
			}

			numDecoded++
			totalDecodeMs += decodeMs
			if decodeMs > maxDecodeMs {
				maxDecodeMs = decodeMs
			}
			metrics.DecodedFrames.Inc()
			metrics.DecodeTimeMillis.Set(decodeMs)

			now := time.Now()
			for now.Sub(lastStats) >= time.Second {
				if numDecoded > 0 {
					logging.L().Info("decoder_worker_periodic_stats",
						"decoded_frames", numDecoded,
						"avg_decode_ms", totalDecodeMs/float64(numDecoded),
						"max_decode_ms", maxDecodeMs)
				}
				numDecoded = 0
				totalDecodeMs = 0
				maxDecodeMs = 0
				lastStats = lastStats.Add(time.Second)
			}
		}
	}
}

func (d *Decoder) decodeFrame(frame *reassembly.Frame) (float64, error) {
	size, ok := frame.FrameSize()
	if !ok {
		return 0, fmt.Errorf("%w: frame %d is not complete", ioerr.ErrProtocol, frame.ID())
	}
	buf := make([]byte, 0, size)
	for _, frag := range frame.Frags() {
		buf = append(buf, frag.Payload...)
	}

	start := time.Now()
	if err := d.codec.DecodeFrame(buf); err != nil {
		return 0, fmt.Errorf("decode frame %d: %w", frame.ID(), err)
	}
	return float64(time.Since(start).Microseconds()) / 1000.0, nil
}

func (d *Decoder) displayDecodedFrame(display media.Display) {
	img, ok, err := d.codec.Drain()
	if err != nil {
		logging.L().Error("decode_drain_failed", "error", err)
		return
	}
	if !ok {
		return
	}
	if err := display.ShowFrame(img); err != nil {
		logging.L().Error("display_show_frame_failed", "error", err)
	}
}
