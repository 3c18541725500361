// Command vp9sender reads raw video (a looping YUV4MPEG2 file, or a V4L2
// camera) and streams it as VP9 over UDP to a single receiver.
package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rtvideo/vp9cast/internal/codec"
	"github.com/rtvideo/vp9cast/internal/encoder"
	"github.com/rtvideo/vp9cast/internal/eventloop"
	"github.com/rtvideo/vp9cast/internal/ioerr"
	"github.com/rtvideo/vp9cast/internal/logging"
	"github.com/rtvideo/vp9cast/internal/media"
	"github.com/rtvideo/vp9cast/internal/metrics"
	"github.com/rtvideo/vp9cast/internal/netio"
	"github.com/rtvideo/vp9cast/internal/videoin"
	"github.com/rtvideo/vp9cast/internal/wire"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		logging.L().Error("config_error", "error", err)
		os.Exit(1)
	}
	logging.Set(logging.New(cfg.logFormat, logging.ParseLevel(cfg.logLevel), nil))

	if err := wire.SetMTU(cfg.mtu); err != nil {
		logging.L().Error("fatal", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		logging.L().Error("fatal", "error", err)
		os.Exit(1)
	}
}

func nowMicros() uint64 { return uint64(time.Now().UnixMicro()) }

func run(cfg *appConfig) error {
	sock, err := netio.NewUDPSocket()
	if err != nil {
		return err
	}
	defer sock.Close()

	if err := sock.SetBlocking(true); err != nil {
		return err
	}
	if err := sock.Bind(uint16(cfg.port)); err != nil {
		return err
	}
	if local, err := sock.LocalAddr(); err == nil {
		logging.L().Info("local_address", "addr", local)
	}

	logging.L().Info("waiting_for_receiver")
	peerAddr, cm, err := waitForConfig(sock)
	if err != nil {
		return err
	}
	logging.L().Info("peer_address", "addr", peerAddr)
	if err := sock.Connect(peerAddr); err != nil {
		return err
	}
	if err := sock.SetBlocking(false); err != nil {
		return err
	}

	width, height, frameRate, targetBitrate := cm.Width, cm.Height, cm.FrameRate, cm.TargetBitrate
	logging.L().Info("received_config",
		"width", width, "height", height, "fps", frameRate, "bitrate_kbps", targetBitrate)

	input, closeInput, err := openVideoInput(cfg, width, height)
	if err != nil {
		return err
	}
	defer closeInput()

	output, closeOutput, err := openOutputCSV(cfg.outputPath)
	if err != nil {
		return err
	}
	defer closeOutput()

	vp9 := codec.NewPassthroughEncoder(width, height)
	defer vp9.Close()

	enc := encoder.New(vp9, width, height, uint(targetBitrate), output)
	enc.SetVerbose(cfg.verbose)
	if targetBitrate > 0 {
		if err := enc.SetTargetBitrate(uint(targetBitrate)); err != nil {
			return err
		}
	}

	raw := media.NewOwnedImage(width, height)

	poller := eventloop.NewPoller()

	frameTimer, err := eventloop.NewTimer()
	if err != nil {
		return err
	}
	defer frameTimer.Close()
	if err := frameTimer.SetInterval(time.Second / time.Duration(frameRate)); err != nil {
		return err
	}

	statsTimer, err := eventloop.NewTimer()
	if err != nil {
		return err
	}
	defer statsTimer.Close()
	if err := statsTimer.SetInterval(time.Second); err != nil {
		return err
	}

	fatal := func(err error) { logging.L().Error("fatal", "error", err); os.Exit(1) }

	if err := poller.Register(frameTimer.FD(), eventloop.In, func() {
		onFrameTimer(frameTimer, input, &raw, enc, sock, poller, fatal)
	}); err != nil {
		return err
	}

	if err := poller.Register(sock.FD(), eventloop.Out, func() {
		onSocketWritable(enc, sock, poller, fatal)
	}); err != nil {
		return err
	}
	if err := poller.Deactivate(sock.FD(), eventloop.Out); err != nil {
		return err
	}

	if err := poller.Register(sock.FD(), eventloop.In, func() {
		onSocketReadable(enc, sock, poller, cfg.verbose, fatal)
	}); err != nil {
		return err
	}

	if err := poller.Register(statsTimer.FD(), eventloop.In, func() {
		n, err := statsTimer.ReadExpirations()
		if err != nil {
			fatal(err)
		}
		if n == 0 {
			return
		}
		enc.OutputPeriodicStats()
	}); err != nil {
		return err
	}

	var metricsSrv *http.Server
	if cfg.metricsAddr != "" {
		metricsSrv = metrics.StartHTTP(cfg.metricsAddr)
		defer metrics.Shutdown(context.Background(), metricsSrv)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		logging.L().Info("shutdown_signal", "signal", s.String())
		os.Exit(0)
	}()

	for {
		if err := poller.Poll(-1); err != nil {
			return err
		}
	}
}

// waitForConfig blocks (the socket is still in blocking mode at this point)
// until a valid ConfigMsg is received, discarding everything else.
func waitForConfig(sock *netio.UDPSocket) (*net.UDPAddr, wire.ConfigMsg, error) {
	for {
		addr, data, ok, err := sock.RecvFrom()
		if err != nil {
			return nil, wire.ConfigMsg{}, err
		}
		if !ok {
			continue
		}
		msg, ok := wire.ParseMsg(data)
		if !ok {
			continue
		}
		cm, ok := msg.(wire.ConfigMsg)
		if !ok {
			continue
		}
		return addr, cm, nil
	}
}

func openVideoInput(cfg *appConfig, width, height uint16) (media.Source, func(), error) {
	if cfg.cameraDevice != "" {
		cam, err := videoin.OpenCamera(cfg.cameraDevice, width, height)
		if err != nil {
			return nil, nil, err
		}
		return cam, func() { _ = cam.Close() }, nil
	}
	f, err := videoin.OpenFile(cfg.y4mPath, width, height, true)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func openOutputCSV(path string) (io.Writer, func(), error) {
	if path == "" {
		return nil, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func onFrameTimer(
	timer *eventloop.Timer, input media.Source, raw *media.RawImage,
	enc *encoder.Encoder, sock *netio.UDPSocket, poller *eventloop.Poller,
	fatal func(error),
) {
	n, err := timer.ReadExpirations()
	if err != nil {
		fatal(err)
		return
	}
	if n == 0 {
		return
	}
	if n > 1 {
		logging.L().Warn("skipping_raw_frames", "count", n-1)
	}

	for i := uint64(0); i < n; i++ {
		ok, err := input.ReadFrame(raw)
		if err != nil {
			fatal(err)
			return
		}
		if !ok {
			fatal(ioerr.ErrConfig)
			return
		}
	}

	if err := enc.CompressFrame(*raw, nowMicros); err != nil {
		fatal(err)
		return
	}
	if enc.Pending() {
		if err := poller.Activate(sock.FD(), eventloop.Out); err != nil {
			fatal(err)
		}
	}
}

func onSocketWritable(enc *encoder.Encoder, sock *netio.UDPSocket, poller *eventloop.Poller, fatal func(error)) {
	err := enc.DrainSendBuf(nowMicros, func(payload []byte) (bool, error) { return sock.Send(payload) })
	if err != nil {
		fatal(err)
		return
	}
	if !enc.Pending() {
		if err := poller.Deactivate(sock.FD(), eventloop.Out); err != nil {
			fatal(err)
		}
	}
}

func onSocketReadable(enc *encoder.Encoder, sock *netio.UDPSocket, poller *eventloop.Poller, verbose bool, fatal func(error)) {
	for {
		data, ok, err := sock.Recv()
		if err != nil {
			fatal(err)
			return
		}
		if !ok {
			return
		}
		msg, ok := wire.ParseMsg(data)
		if !ok {
			continue
		}
		ack, ok := msg.(wire.AckMsg)
		if !ok {
			continue
		}
		if verbose {
			logging.L().Debug("received_ack", "frame_id", ack.FrameID, "frag_id", ack.FragID)
		}
		enc.HandleAck(ack, nowMicros())
		if enc.Pending() {
			if err := poller.Activate(sock.FD(), eventloop.Out); err != nil {
				fatal(err)
				return
			}
		}
	}
}
