// Package metrics exposes Prometheus instrumentation for the scan pipeline.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FramesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scancam_frames_total",
			Help: "Total number of frames submitted to the decoder",
		},
	)

	FramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scancam_frames_dropped_total",
			Help: "Frames dropped before decode (empty buffers and consumer lag)",
		},
	)

	DecodeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scancam_decode_failures_total",
			Help: "Decoder requests that returned an error",
		},
	)

	ObservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scancam_observations_total",
			Help: "Surfaced barcode observations after filtering",
		},
		[]string{"symbology"},
	)

	DecodeLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "scancam_decode_latency_seconds",
			Help: "External decoder round-trip latency in seconds",
		},
	)
)

// Serve exposes /metrics on addr until context cancellation.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
