// Command vp9receiver connects to a vp9sender, requests a stream
// configuration, and reassembles/decodes/displays the incoming VP9 stream.
package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rtvideo/vp9cast/internal/codec"
	"github.com/rtvideo/vp9cast/internal/decoder"
	"github.com/rtvideo/vp9cast/internal/display"
	"github.com/rtvideo/vp9cast/internal/logging"
	"github.com/rtvideo/vp9cast/internal/media"
	"github.com/rtvideo/vp9cast/internal/metrics"
	"github.com/rtvideo/vp9cast/internal/netio"
	"github.com/rtvideo/vp9cast/internal/wire"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		logging.L().Error("config_error", "error", err)
		os.Exit(1)
	}
	logging.Set(logging.New(cfg.logFormat, logging.ParseLevel(cfg.logLevel), nil))

	if err := run(cfg); err != nil {
		logging.L().Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *appConfig) error {
	peerAddr, err := netio.ResolveIPv4(cfg.host, cfg.port)
	if err != nil {
		return err
	}
	logging.L().Info("peer_address", "addr", peerAddr)

	sock, err := netio.NewUDPSocket()
	if err != nil {
		return err
	}
	defer sock.Close()
	if err := sock.SetBlocking(true); err != nil {
		return err
	}
	if err := sock.Connect(peerAddr); err != nil {
		return err
	}
	if local, err := sock.LocalAddr(); err == nil {
		logging.L().Info("local_address", "addr", local)
	}

	width, height := uint16(cfg.width), uint16(cfg.height)
	cm := wire.ConfigMsg{
		Width: width, Height: height,
		FrameRate: uint16(cfg.fps), TargetBitrate: uint32(cfg.cbr),
	}
	if ok, err := sock.Send(cm.Marshal()); err != nil {
		return err
	} else if !ok {
		return sendConfigBlocking(sock, cm)
	}

	output, closeOutput, err := openOutputCSV(cfg.outputPath)
	if err != nil {
		return err
	}
	defer closeOutput()

	vp9 := codec.NewPassthroughDecoder(width, height)
	defer vp9.Close()

	var disp media.Display
	if decoder.LazyLevel(cfg.lazy) == decoder.DecodeDisplay {
		disp = display.NewLogSink()
	}

	dec, err := decoder.New(width, height, decoder.LazyLevel(cfg.lazy), vp9, disp, output)
	if err != nil {
		return err
	}
	dec.SetVerbose(cfg.verbose)
	defer dec.Shutdown()

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
		data, ok, err := sock.Recv()
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		metrics.DatagramsReceived.Inc()

		dg, err := wire.ParseDatagram(data)
		if err != nil {
			return err
		}

		ack := wire.NewAckMsg(&dg)
		if _, err := sock.Send(ack.Marshal()); err != nil {
			return err
		}
		metrics.AcksSent.Inc()

		if cfg.verbose {
			logging.L().Debug("acked_datagram", "frame_id", dg.FrameID, "frag_id", dg.FragID)
		}

		if err := dec.AddDatagram(&dg); err != nil {
			return err
		}
		for dec.NextFrameComplete() {
			if err := dec.ConsumeNextFrame(); err != nil {
				return err
			}
		}
	}
}

// sendConfigBlocking keeps retrying the initial ConfigMsg send after an
// EWOULDBLOCK until it goes through, which should not happen on a freshly
// connected socket but is handled rather than assumed away.
func sendConfigBlocking(sock *netio.UDPSocket, cm wire.ConfigMsg) error {
	for {
		ok, err := sock.Send(cm.Marshal())
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
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
