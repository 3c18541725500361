// Package metrics exposes the transport's Prometheus counters and gauges:
// datagrams and control messages crossing the wire, retransmission and
// recovery events, RTT, and decoder throughput. Served over HTTP for
// scraping, independent of the per-second stderr statistics the transport
// also logs.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rtvideo/vp9cast/internal/logging"
)

var (
	DatagramsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vp9cast_datagrams_sent_total",
		Help: "Total datagrams transmitted, including retransmissions.",
	})
	DatagramsRetransmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vp9cast_datagrams_retransmitted_total",
		Help: "Total datagrams retransmitted due to a backward ACK sweep.",
	})
	DatagramsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vp9cast_datagrams_received_total",
		Help: "Total datagrams received by the receiver.",
	})
	AcksSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vp9cast_acks_sent_total",
		Help: "Total AckMsg sent by the receiver.",
	})
	AcksReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vp9cast_acks_received_total",
		Help: "Total AckMsg received by the sender.",
	})
	UnackedSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vp9cast_unacked_size",
		Help: "Current number of datagrams awaiting acknowledgement.",
	})
	MinRTTMicros = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vp9cast_min_rtt_us",
		Help: "Minimum observed RTT sample, in microseconds.",
	})
	EWMARTTMicros = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vp9cast_ewma_rtt_us",
		Help: "EWMA-smoothed RTT, in microseconds.",
	})
	ForcedKeyFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vp9cast_forced_key_frames_total",
		Help: "Total times the encoder forced a key frame after the unacked deadline expired.",
	})
	SkipAheadRecoveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vp9cast_skip_ahead_recoveries_total",
		Help: "Total times the decoder skipped ahead to a later complete key frame.",
	})
	DecodableFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vp9cast_decodable_frames_total",
		Help: "Total frames that became decodable (in order or via skip-ahead).",
	})
	DecodedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vp9cast_decoded_frames_total",
		Help: "Total frames actually decoded by the worker.",
	})
	DecodeTimeMillis = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vp9cast_last_decode_time_ms",
		Help: "Decode time of the most recently decoded frame, in milliseconds.",
	})
	MalformedDatagrams = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vp9cast_malformed_datagrams_total",
		Help: "Total received datagrams rejected by frame reassembly (zero frag_cnt or a header that does not match its frame).",
	})
)

// StartHTTP serves Prometheus metrics at /metrics on addr. The caller is
// responsible for shutting it down.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Shutdown stops the metrics HTTP server, if any.
func Shutdown(ctx context.Context, srv *http.Server) {
	if srv == nil {
		return
	}
	_ = srv.Shutdown(ctx)
}
