// Package session coordinates camera permission, capture configuration, and
// the running scan lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/scancam/scancam/internal/camera"
	"github.com/scancam/scancam/internal/lifecycle"
	"github.com/scancam/scancam/internal/scanner"
	"github.com/scancam/scancam/internal/vision"
)

// DefaultConfidenceThreshold applies when no threshold is configured.
const DefaultConfidenceThreshold = 0.5

// DefaultFrameDepth is the frame channel depth between capture and decode.
const DefaultFrameDepth = 4

var (
	// ErrNotAuthorized indicates camera access was denied or restricted.
	ErrNotAuthorized = errors.New("camera access not authorized")
	// ErrSetupFailed indicates configuration already failed and will not retry.
	ErrSetupFailed = errors.New("capture setup previously failed")
)

// Options configures a Controller. Callback is required; everything else has
// a usable zero value.
type Options struct {
	Logger   *slog.Logger
	Callback scanner.Callback

	// Device is the preferred camera, matched against node and name.
	// Empty or "auto" selects a rear camera, falling back to front.
	Device string
	Width  int
	Height int

	// ConfidenceThreshold below which observations are discarded. Zero
	// means DefaultConfidenceThreshold; values are clamped to [0, 1].
	ConfidenceThreshold float64
	thresholdSet        bool

	// Symbologies restricts results to the listed formats. Empty allows all.
	Symbologies []vision.Symbology

	Workers    int
	FrameDepth int

	// DumpFrames enables raw-frame debug artifacts for failed decodes.
	DumpFrames bool
}

// WithThreshold marks the threshold as explicitly configured so a literal
// zero survives the default.
func (o Options) WithThreshold(threshold float64) Options {
	o.ConfidenceThreshold = threshold
	o.thresholdSet = true
	return o
}

// InputOpener opens a configured capture input for a selected device.
type InputOpener func(device camera.Device, width, height int) (camera.Input, error)

// DeviceSelector resolves a preferred-device term to a concrete camera.
type DeviceSelector func(ctx context.Context, preferred string) (camera.Selection, error)

// Deps are the platform boundaries a controller drives. Session, Authorizer,
// and Decoder are required; the rest default to the platform implementations.
type Deps struct {
	Session      camera.Session
	Authorizer   camera.Authorizer
	Decoder      vision.Decoder
	OpenInput    InputOpener
	SelectDevice DeviceSelector
}

// Controller owns one capture session from permission prompt through frame
// delivery. Setup progresses through terminal states exactly once; the run
// state toggles between idle and running only after setup succeeds.
type Controller struct {
	logger    *slog.Logger
	session   camera.Session
	auth      camera.Authorizer
	openInput InputOpener
	selectDev DeviceSelector
	engine    *scanner.Engine
	opts      Options

	// configMu serializes Configure. State reads/writes take stateMu.
	configMu sync.Mutex
	stateMu  sync.Mutex
	setup    lifecycle.SetupState
	run      lifecycle.RunState

	output    *camera.FrameOutput
	selection camera.Selection
	input     camera.Input
}

// NewController wires a controller around a capture session and decoder.
func NewController(deps Deps, opts Options) (*Controller, error) {
	if deps.Session == nil {
		return nil, errors.New("nil capture session")
	}
	if deps.Authorizer == nil {
		return nil, errors.New("nil authorizer")
	}
	if deps.Decoder == nil {
		return nil, errors.New("nil decoder")
	}
	if opts.Callback == nil {
		return nil, errors.New("nil result callback")
	}
	if deps.OpenInput == nil {
		deps.OpenInput = func(device camera.Device, width, height int) (camera.Input, error) {
			return camera.OpenInput(device, width, height)
		}
	}
	if deps.SelectDevice == nil {
		deps.SelectDevice = camera.SelectDevice
	}
	if !opts.thresholdSet && opts.ConfidenceThreshold == 0 {
		opts.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if opts.FrameDepth <= 0 {
		opts.FrameDepth = DefaultFrameDepth
	}

	engine := scanner.New(deps.Decoder, opts.Callback, scanner.Config{
		ConfidenceThreshold: opts.ConfidenceThreshold,
		Symbologies:         opts.Symbologies,
		Workers:             opts.Workers,
		DumpFrames:          opts.DumpFrames,
	}, opts.Logger)

	return &Controller{
		logger:    opts.Logger,
		session:   deps.Session,
		auth:      deps.Authorizer,
		openInput: deps.OpenInput,
		selectDev: deps.SelectDevice,
		engine:    engine,
		opts:      opts,
		setup:     lifecycle.SetupAwaitingActivation,
		run:       lifecycle.RunIdle,
	}, nil
}

// SetupState returns the current setup progress snapshot.
func (c *Controller) SetupState() lifecycle.SetupState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.setup
}

// RunState reports whether frame delivery is active.
func (c *Controller) RunState() lifecycle.RunState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.run
}

// Selection returns the device chosen during configuration.
func (c *Controller) Selection() camera.Selection {
	c.configMu.Lock()
	defer c.configMu.Unlock()
	return c.selection
}

// Dropped reports frames discarded because the decoder fell behind.
func (c *Controller) Dropped() uint64 {
	c.configMu.Lock()
	output := c.output
	c.configMu.Unlock()
	if output == nil {
		return 0
	}
	return output.Dropped()
}

// advanceSetup applies one setup transition under the state lock.
func (c *Controller) advanceSetup(next lifecycle.SetupState) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	state, err := lifecycle.AdvanceSetup(c.setup, next)
	if err != nil {
		return err
	}
	c.setup = state
	return nil
}

// CheckPermissions resolves camera authorization before configuration. A
// granted status is a no-op; an undetermined status prompts the user once;
// denial or restriction marks setup not-authorized for good.
func (c *Controller) CheckPermissions(ctx context.Context) error {
	switch status := c.auth.Status(ctx); status {
	case camera.AuthGranted:
		return nil
	case camera.AuthUndetermined:
		requested, err := c.auth.Request(ctx)
		if err != nil {
			c.logWarn("camera permission request failed", "error", err)
		}
		if requested == camera.AuthGranted {
			return nil
		}
		if failErr := c.advanceSetup(lifecycle.SetupNotAuthorized); failErr != nil {
			return failErr
		}
		return fmt.Errorf("%w: %s", ErrNotAuthorized, requested)
	default:
		if err := c.advanceSetup(lifecycle.SetupNotAuthorized); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrNotAuthorized, status)
	}
}

// Configure builds the capture topology: device selection, input, output,
// and quality preset. It is idempotent after success and permanently done
// after any failure. The whole sequence holds the configuration lock.
func (c *Controller) Configure(ctx context.Context) error {
	c.configMu.Lock()
	defer c.configMu.Unlock()

	switch state := c.SetupState(); {
	case state == lifecycle.SetupSucceeded:
		return nil
	case state.Failed():
		return fmt.Errorf("%w: %s", ErrSetupFailed, state)
	}

	selection, err := c.selectDev(ctx, c.opts.Device)
	if err != nil {
		c.fail(lifecycle.SetupConfigFailedDevice)
		return fmt.Errorf("select capture device: %w", err)
	}
	c.selection = selection
	if selection.Warning != "" {
		c.logWarn("camera fallback", "warning", selection.Warning, "device", selection.Device.ID)
	}

	input, err := c.openInput(selection.Device, c.opts.Width, c.opts.Height)
	if err != nil {
		c.fail(lifecycle.SetupConfigFailedInput)
		return fmt.Errorf("open capture input: %w", err)
	}

	if !c.session.CanAddInput(input) {
		_ = input.Close()
		c.fail(lifecycle.SetupConfigFailedAttachInput)
		return fmt.Errorf("session rejected capture input for %s", selection.Device.ID)
	}
	if err := c.session.AddInput(input); err != nil {
		_ = input.Close()
		c.fail(lifecycle.SetupConfigFailedAttachInput)
		return fmt.Errorf("attach capture input: %w", err)
	}
	c.input = input

	if c.output == nil {
		c.output = camera.NewFrameOutput(c.opts.FrameDepth)
	}
	if !c.session.CanAddOutput(c.output) {
		c.fail(lifecycle.SetupConfigFailedAttachOut)
		return errors.New("session rejected frame output")
	}
	if err := c.session.AddOutput(c.output); err != nil {
		c.fail(lifecycle.SetupConfigFailedAttachOut)
		return fmt.Errorf("attach frame output: %w", err)
	}

	c.session.SetPreset(camera.PresetHigh)

	if err := c.advanceSetup(lifecycle.SetupSucceeded); err != nil {
		return err
	}
	c.logInfo("capture configured",
		"device", selection.Device.ID,
		"name", selection.Device.Name,
		"format", c.output.PixelFormat(),
	)
	return nil
}

// fail records a terminal setup failure, keeping any earlier terminal state.
func (c *Controller) fail(state lifecycle.SetupState) {
	if err := c.advanceSetup(state); err != nil {
		c.logWarn("setup state pinned", "state", string(c.SetupState()), "rejected", string(state))
	}
}

// StartRunning begins frame delivery and decoding. Calling it before setup
// has succeeded is a programming error and panics. No-op when running.
func (c *Controller) StartRunning() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.run == lifecycle.RunRunning {
		return
	}
	next, err := lifecycle.AdvanceRun(c.run, lifecycle.RunRunning, c.setup)
	if err != nil {
		panic(fmt.Sprintf("session: StartRunning before setup succeeded (setup=%s)", c.setup))
	}

	c.session.StartRunning()
	c.engine.Start(context.Background(), c.output.Frames())
	c.run = next
}

// StopRunning halts frame delivery. Decodes already in flight complete and
// may still invoke the callback after this returns.
func (c *Controller) StopRunning() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.run == lifecycle.RunIdle {
		return
	}
	c.session.StopRunning()
	c.engine.Stop()
	c.run = lifecycle.RunIdle
}

// Activate drives the full startup sequence: permissions, configuration,
// then running. Unlike StartRunning it returns errors instead of panicking,
// since failed permission or configuration is an expected runtime outcome.
func (c *Controller) Activate(ctx context.Context) error {
	if err := c.CheckPermissions(ctx); err != nil {
		return err
	}
	if err := c.Configure(ctx); err != nil {
		return err
	}
	c.StartRunning()
	return nil
}

// Close stops the session and releases the capture input.
func (c *Controller) Close() error {
	c.StopRunning()
	c.engine.Wait()

	c.configMu.Lock()
	defer c.configMu.Unlock()
	if c.input != nil {
		err := c.input.Close()
		c.input = nil
		return err
	}
	return nil
}

func (c *Controller) logInfo(message string, fields ...any) {
	if c.logger != nil {
		c.logger.Info(message, fields...)
	}
}

func (c *Controller) logWarn(message string, fields ...any) {
	if c.logger != nil {
		c.logger.Warn(message, fields...)
	}
}
