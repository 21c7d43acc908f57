// Package scanner owns the frame -> decoder -> callback delivery engine.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/scancam/scancam/internal/camera"
	"github.com/scancam/scancam/internal/metrics"
	"github.com/scancam/scancam/internal/observe"
	"github.com/scancam/scancam/internal/vision"
)

// Result is the outcome of one decode attempt delivered to the callback.
// Exactly one of Observations/Err is meaningful; Err discriminates.
type Result struct {
	FrameSeq      uint64
	Observations  []vision.Observation
	Err           error
	DecodeLatency time.Duration
}

// Callback receives one Result per processed frame. It may be invoked from
// multiple worker goroutines concurrently and must be reentrant.
type Callback func(Result)

// Config controls decode request shaping and worker parallelism.
type Config struct {
	ConfidenceThreshold float64
	Symbologies         []vision.Symbology
	Workers             int

	// DumpFrames writes the raw buffer of frames whose decode failed under
	// the state directory, for offline inspection of decoder complaints.
	DumpFrames bool
}

// Engine consumes captured frames on background workers, submits them to the
// external decoder, refines the output, and fires the callback. It never runs
// on the caller's goroutine.
type Engine struct {
	logger   *slog.Logger
	decoder  vision.Decoder
	callback Callback
	cfg      Config

	mu      sync.Mutex
	stopCh  chan struct{}
	started bool

	workers sync.WaitGroup
}

// New constructs an engine. The callback is required.
func New(decoder vision.Decoder, callback Callback, cfg Config, logger *slog.Logger) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	cfg.ConfidenceThreshold = observe.ClampConfidence(cfg.ConfidenceThreshold)
	return &Engine{
		logger:   logger,
		decoder:  decoder,
		callback: callback,
		cfg:      cfg,
	}
}

// Start launches the worker pool against a frame channel. No-op when already
// started.
func (e *Engine) Start(ctx context.Context, frames <-chan camera.Frame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true
	e.stopCh = make(chan struct{})

	for i := 0; i < e.cfg.Workers; i++ {
		e.workers.Add(1)
		go e.run(ctx, frames, e.stopCh)
	}
}

// Stop halts intake of new frames. Decodes already submitted are left to
// complete and may still fire the callback after Stop returns.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}
	e.started = false
	close(e.stopCh)
}

// Wait blocks until all workers have exited. Used by tests and shutdown paths.
func (e *Engine) Wait() {
	e.workers.Wait()
}

// run consumes frames until stop or channel close.
func (e *Engine) run(ctx context.Context, frames <-chan camera.Frame, stopCh chan struct{}) {
	defer e.workers.Done()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			e.process(ctx, frame)
		}
	}
}

// process handles one captured frame end to end.
func (e *Engine) process(ctx context.Context, frame camera.Frame) {
	if len(frame.Data) == 0 {
		// Frames without a pixel buffer are dropped without firing the callback.
		metrics.FramesDropped.Inc()
		return
	}

	req := vision.Request{
		Image:       frame.Data,
		Width:       frame.Width,
		Height:      frame.Height,
		PixelFormat: frame.PixelFormat,
		Orientation: vision.OrientationRight,
		Symbologies: e.cfg.Symbologies,
	}

	metrics.FramesTotal.Inc()
	started := time.Now()
	raw, err := e.decoder.Decode(ctx, req)
	latency := time.Since(started)
	metrics.DecodeLatency.Observe(latency.Seconds())

	if err != nil {
		if errors.Is(err, vision.ErrBadFrame) {
			// The capture pipeline handed the decoder a structurally invalid
			// buffer. That is a programming error upstream, not a decode
			// failure to retry.
			panic(fmt.Sprintf("scanner: frame %d rejected as malformed: %v", frame.Seq, err))
		}
		metrics.DecodeFailures.Inc()
		e.logWarn("decode failed", "frame", frame.Seq, "error", err.Error())
		e.writeDebugFrame(frame)
		e.callback(Result{FrameSeq: frame.Seq, Err: err, DecodeLatency: latency})
		return
	}

	refined := observe.Refine(raw, e.cfg.ConfidenceThreshold, e.cfg.Symbologies)
	for _, obs := range refined {
		metrics.ObservationsTotal.WithLabelValues(string(obs.Symbology)).Inc()
	}
	e.callback(Result{FrameSeq: frame.Seq, Observations: refined, DecodeLatency: latency})
}

// logWarn emits warning-level logs when a logger is configured.
func (e *Engine) logWarn(message string, fields ...any) {
	if e.logger == nil {
		return
	}
	e.logger.Warn(message, fields...)
}
