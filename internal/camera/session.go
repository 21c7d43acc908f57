package camera

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scancam/scancam/internal/metrics"
)

// PixelFormatRGB24 is the fixed delivery format for attached frame outputs.
const PixelFormatRGB24 = "rgb24"

// Preset selects the capture quality profile applied during configuration.
type Preset string

const (
	// PresetHigh is the fixed high-quality profile used by scanning sessions.
	PresetHigh Preset = "high"
)

// Frame is one captured video frame handed to the decode pipeline.
type Frame struct {
	Data        []byte
	Width       int
	Height      int
	PixelFormat string
	Seq         uint64
	CapturedAt  time.Time
}

// FrameFormat describes the negotiated capture geometry of an input.
type FrameFormat struct {
	Width       int
	Height      int
	PixelFormat string
	FrameSize   int
}

// Input is a configured capture device attached to a session.
type Input interface {
	Device() Device
	Format() FrameFormat
	// ReadFrame fills buf with the next frame and returns the byte count.
	// It may return transient errors the session pump is expected to retry.
	ReadFrame(buf []byte) (int, error)
	Close() error
}

// FrameOutput delivers captured frames on a buffered channel in a fixed
// pixel format. When the consumer lags, the oldest pending frame is dropped.
type FrameOutput struct {
	frames chan Frame

	mu     sync.Mutex
	closed bool
	drops  uint64
}

// NewFrameOutput constructs an output with the given channel depth.
func NewFrameOutput(depth int) *FrameOutput {
	if depth <= 0 {
		depth = 4
	}
	return &FrameOutput{frames: make(chan Frame, depth)}
}

// Frames returns the delivery channel. It closes when the session stops.
func (o *FrameOutput) Frames() <-chan Frame {
	return o.frames
}

// PixelFormat reports the fixed delivery format.
func (o *FrameOutput) PixelFormat() string {
	return PixelFormatRGB24
}

// Dropped reports frames discarded because the consumer lagged.
func (o *FrameOutput) Dropped() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.drops
}

// Deliver enqueues one frame, displacing the oldest pending frame when full.
// Session implementations call this from their pump goroutine.
func (o *FrameOutput) Deliver(frame Frame) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	select {
	case o.frames <- frame:
	default:
		select {
		case <-o.frames:
			o.recordDrop()
		default:
		}
		select {
		case o.frames <- frame:
		default:
			o.recordDrop()
		}
	}
	o.mu.Unlock()
}

// recordDrop counts a displaced frame locally and in the exported metrics.
// Callers hold o.mu.
func (o *FrameOutput) recordDrop() {
	o.drops++
	metrics.FramesDropped.Inc()
}

// closeOnce closes the delivery channel exactly once.
func (o *FrameOutput) closeOnce() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.frames)
}

// Session is the platform capture session boundary: it owns input/output
// topology and frame delivery. Topology mutation happens only inside the
// controller's configuration critical section.
type Session interface {
	SetPreset(Preset)
	CanAddInput(Input) bool
	AddInput(Input) error
	CanAddOutput(*FrameOutput) bool
	AddOutput(*FrameOutput) error
	Running() bool
	StartRunning()
	StopRunning()
}

// CaptureSession is the concrete Session pumping frames from one input to one
// output on a background goroutine.
type CaptureSession struct {
	mu      sync.Mutex
	preset  Preset
	input   Input
	output  *FrameOutput
	running bool
	stopCh  chan struct{}
	done    chan struct{}
	seq     atomic.Uint64
}

// NewCaptureSession constructs an idle, unconfigured capture session.
func NewCaptureSession() *CaptureSession {
	return &CaptureSession{}
}

// SetPreset records the capture quality profile for the next input attach.
func (s *CaptureSession) SetPreset(preset Preset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preset = preset
}

// CanAddInput reports whether the session topology accepts the input.
func (s *CaptureSession) CanAddInput(input Input) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return input != nil && s.input == nil && !s.running
}

// AddInput attaches the capture input.
func (s *CaptureSession) AddInput(input Input) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if input == nil {
		return errors.New("nil capture input")
	}
	if s.input != nil {
		return errors.New("session already has an input")
	}
	if s.running {
		return errors.New("cannot attach input while running")
	}
	s.input = input
	return nil
}

// CanAddOutput reports whether the session topology accepts the output.
func (s *CaptureSession) CanAddOutput(output *FrameOutput) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return output != nil && (s.output == nil || s.output == output) && !s.running
}

// AddOutput attaches the frame output. Re-attaching the same output is a no-op.
func (s *CaptureSession) AddOutput(output *FrameOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if output == nil {
		return errors.New("nil frame output")
	}
	if s.output == output {
		return nil
	}
	if s.output != nil {
		return errors.New("session already has an output")
	}
	if s.running {
		return errors.New("cannot attach output while running")
	}
	s.output = output
	return nil
}

// Running reports whether frame delivery is active.
func (s *CaptureSession) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// StartRunning begins frame delivery. No-op when already running or when the
// topology is incomplete.
func (s *CaptureSession) StartRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.input == nil || s.output == nil {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	go s.pump(s.input, s.output, s.stopCh, s.done)
}

// StopRunning halts frame delivery and closes the output channel. The pump
// goroutine is joined before return.
func (s *CaptureSession) StopRunning() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.done
	s.mu.Unlock()

	<-done
}

// pump reads frames from the input until stopped, delivering to the output.
// A normal stop leaves the output channel open so the session can restart;
// the channel closes only when the input is gone for good.
func (s *CaptureSession) pump(input Input, output *FrameOutput, stopCh chan struct{}, done chan struct{}) {
	defer close(done)

	format := input.Format()
	buf := make([]byte, format.FrameSize)

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		n, err := input.ReadFrame(buf)
		if err != nil {
			if isTransientReadError(err) {
				continue
			}
			output.closeOnce()
			return
		}
		if n < format.FrameSize {
			continue
		}

		data := make([]byte, format.FrameSize)
		copy(data, buf[:format.FrameSize])
		output.Deliver(Frame{
			Data:        data,
			Width:       format.Width,
			Height:      format.Height,
			PixelFormat: format.PixelFormat,
			Seq:         s.seq.Add(1),
			CapturedAt:  time.Now(),
		})
	}
}
