package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scancam/scancam/internal/camera"
	"github.com/scancam/scancam/internal/lifecycle"
	"github.com/scancam/scancam/internal/scanner"
	"github.com/scancam/scancam/internal/vision"
)

type fakeAuthorizer struct {
	status    camera.AuthStatus
	requested camera.AuthStatus
	requests  int
}

func (a *fakeAuthorizer) Status(context.Context) camera.AuthStatus { return a.status }

func (a *fakeAuthorizer) Request(context.Context) (camera.AuthStatus, error) {
	a.requests++
	a.status = a.requested
	return a.requested, nil
}

type fakeSession struct {
	mu      sync.Mutex
	input   camera.Input
	output  *camera.FrameOutput
	preset  camera.Preset
	running bool

	rejectInput  bool
	rejectOutput bool
	addInputErr  error
	addOutputErr error

	startCalls int
	stopCalls  int
}

func (s *fakeSession) SetPreset(p camera.Preset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preset = p
}

func (s *fakeSession) CanAddInput(camera.Input) bool { return !s.rejectInput }

func (s *fakeSession) AddInput(input camera.Input) error {
	if s.addInputErr != nil {
		return s.addInputErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input = input
	return nil
}

func (s *fakeSession) CanAddOutput(*camera.FrameOutput) bool { return !s.rejectOutput }

func (s *fakeSession) AddOutput(output *camera.FrameOutput) error {
	if s.addOutputErr != nil {
		return s.addOutputErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.output = output
	return nil
}

func (s *fakeSession) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *fakeSession) StartRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.startCalls++
}

func (s *fakeSession) StopRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.stopCalls++
}

type fakeInput struct {
	device camera.Device
	closed bool
}

func (i *fakeInput) Device() camera.Device { return i.device }

func (i *fakeInput) Format() camera.FrameFormat {
	return camera.FrameFormat{Width: 2, Height: 2, PixelFormat: camera.PixelFormatRGB24, FrameSize: 12}
}

func (i *fakeInput) ReadFrame([]byte) (int, error) { return 0, io.EOF }

func (i *fakeInput) Close() error {
	i.closed = true
	return nil
}

func testDeps(session *fakeSession, auth camera.Authorizer) Deps {
	return Deps{
		Session:    session,
		Authorizer: auth,
		Decoder: vision.DecodeFunc(func(context.Context, vision.Request) ([]vision.Observation, error) {
			return nil, nil
		}),
		OpenInput: func(device camera.Device, _, _ int) (camera.Input, error) {
			return &fakeInput{device: device}, nil
		},
		SelectDevice: func(context.Context, string) (camera.Selection, error) {
			return camera.Selection{Device: camera.Device{ID: "/dev/video0", Name: "rear camera", Position: camera.PositionRear, Available: true}}, nil
		},
	}
}

func testOptions() Options {
	return Options{Callback: func(scanner.Result) {}}
}

func TestControllerActivateHappyPath(t *testing.T) {
	session := &fakeSession{}
	controller, err := NewController(testDeps(session, &fakeAuthorizer{status: camera.AuthGranted}), testOptions())
	require.NoError(t, err)
	defer controller.Close()

	require.NoError(t, controller.Activate(testContext(t)))
	require.Equal(t, lifecycle.SetupSucceeded, controller.SetupState())
	require.Equal(t, lifecycle.RunRunning, controller.RunState())
	require.Equal(t, camera.PresetHigh, session.preset)
	require.Equal(t, 1, session.startCalls)
}

func TestControllerPermissionPromptGrants(t *testing.T) {
	auth := &fakeAuthorizer{status: camera.AuthUndetermined, requested: camera.AuthGranted}
	controller, err := NewController(testDeps(&fakeSession{}, auth), testOptions())
	require.NoError(t, err)

	require.NoError(t, controller.CheckPermissions(testContext(t)))
	require.Equal(t, 1, auth.requests)
	require.Equal(t, lifecycle.SetupAwaitingActivation, controller.SetupState())
}

func TestControllerPermissionDeniedIsTerminal(t *testing.T) {
	auth := &fakeAuthorizer{status: camera.AuthUndetermined, requested: camera.AuthDenied}
	controller, err := NewController(testDeps(&fakeSession{}, auth), testOptions())
	require.NoError(t, err)

	err = controller.CheckPermissions(testContext(t))
	require.ErrorIs(t, err, ErrNotAuthorized)
	require.Equal(t, lifecycle.SetupNotAuthorized, controller.SetupState())

	// A later grant cannot resurrect a terminal setup state.
	auth.status = camera.AuthGranted
	err = controller.Configure(testContext(t))
	require.ErrorIs(t, err, ErrSetupFailed)
	require.Equal(t, lifecycle.SetupNotAuthorized, controller.SetupState())
}

func TestControllerRestrictedDeniesWithoutPrompt(t *testing.T) {
	auth := &fakeAuthorizer{status: camera.AuthRestricted}
	controller, err := NewController(testDeps(&fakeSession{}, auth), testOptions())
	require.NoError(t, err)

	require.ErrorIs(t, controller.CheckPermissions(testContext(t)), ErrNotAuthorized)
	require.Zero(t, auth.requests)
}

func TestControllerConfigureIdempotentAfterSuccess(t *testing.T) {
	session := &fakeSession{}
	deps := testDeps(session, &fakeAuthorizer{status: camera.AuthGranted})
	opens := 0
	inner := deps.OpenInput
	deps.OpenInput = func(device camera.Device, w, h int) (camera.Input, error) {
		opens++
		return inner(device, w, h)
	}
	controller, err := NewController(deps, testOptions())
	require.NoError(t, err)

	require.NoError(t, controller.Configure(testContext(t)))
	require.NoError(t, controller.Configure(testContext(t)))
	require.Equal(t, 1, opens)
	require.Equal(t, lifecycle.SetupSucceeded, controller.SetupState())
}

func TestControllerConfigureFailureStates(t *testing.T) {
	selectErr := errors.New("no devices")
	openErr := errors.New("busy node")

	tests := []struct {
		name   string
		mutate func(*Deps, *fakeSession)
		want   lifecycle.SetupState
	}{
		{
			name: "device selection fails",
			mutate: func(deps *Deps, _ *fakeSession) {
				deps.SelectDevice = func(context.Context, string) (camera.Selection, error) {
					return camera.Selection{}, selectErr
				}
			},
			want: lifecycle.SetupConfigFailedDevice,
		},
		{
			name: "input open fails",
			mutate: func(deps *Deps, _ *fakeSession) {
				deps.OpenInput = func(camera.Device, int, int) (camera.Input, error) {
					return nil, openErr
				}
			},
			want: lifecycle.SetupConfigFailedInput,
		},
		{
			name: "input attach rejected",
			mutate: func(_ *Deps, session *fakeSession) {
				session.rejectInput = true
			},
			want: lifecycle.SetupConfigFailedAttachInput,
		},
		{
			name: "output attach rejected",
			mutate: func(_ *Deps, session *fakeSession) {
				session.rejectOutput = true
			},
			want: lifecycle.SetupConfigFailedAttachOut,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := &fakeSession{}
			deps := testDeps(session, &fakeAuthorizer{status: camera.AuthGranted})
			tt.mutate(&deps, session)
			controller, err := NewController(deps, testOptions())
			require.NoError(t, err)

			require.Error(t, controller.Configure(testContext(t)))
			require.Equal(t, tt.want, controller.SetupState())

			// The failure is sticky: configure will not retry.
			require.ErrorIs(t, controller.Configure(testContext(t)), ErrSetupFailed)
			require.Equal(t, tt.want, controller.SetupState())
		})
	}
}

func TestControllerRejectedInputIsClosed(t *testing.T) {
	session := &fakeSession{rejectInput: true}
	deps := testDeps(session, &fakeAuthorizer{status: camera.AuthGranted})
	var opened *fakeInput
	deps.OpenInput = func(device camera.Device, _, _ int) (camera.Input, error) {
		opened = &fakeInput{device: device}
		return opened, nil
	}
	controller, err := NewController(deps, testOptions())
	require.NoError(t, err)

	require.Error(t, controller.Configure(testContext(t)))
	require.True(t, opened.closed)
}

func TestControllerStartBeforeSetupPanics(t *testing.T) {
	controller, err := NewController(testDeps(&fakeSession{}, &fakeAuthorizer{status: camera.AuthGranted}), testOptions())
	require.NoError(t, err)

	require.Panics(t, func() { controller.StartRunning() })
}

func TestControllerStartAfterFailedSetupPanics(t *testing.T) {
	deps := testDeps(&fakeSession{}, &fakeAuthorizer{status: camera.AuthGranted})
	deps.SelectDevice = func(context.Context, string) (camera.Selection, error) {
		return camera.Selection{}, camera.ErrNoDevice
	}
	controller, err := NewController(deps, testOptions())
	require.NoError(t, err)

	require.Error(t, controller.Configure(testContext(t)))
	require.Panics(t, func() { controller.StartRunning() })
}

func TestControllerStartStopToggles(t *testing.T) {
	session := &fakeSession{}
	controller, err := NewController(testDeps(session, &fakeAuthorizer{status: camera.AuthGranted}), testOptions())
	require.NoError(t, err)
	defer controller.Close()

	require.NoError(t, controller.Configure(testContext(t)))

	controller.StartRunning()
	controller.StartRunning() // second call is a no-op
	require.Equal(t, 1, session.startCalls)
	require.Equal(t, lifecycle.RunRunning, controller.RunState())

	controller.StopRunning()
	controller.StopRunning()
	require.Equal(t, 1, session.stopCalls)
	require.Equal(t, lifecycle.RunIdle, controller.RunState())

	// Setup stays succeeded across stop, so the session can restart.
	controller.StartRunning()
	require.Equal(t, 2, session.startCalls)
	controller.StopRunning()
}

func TestControllerStopLeavesInFlightDecodes(t *testing.T) {
	session := &fakeSession{}
	decodeStarted := make(chan struct{})
	releaseDecode := make(chan struct{})
	results := make(chan scanner.Result, 1)

	deps := testDeps(session, &fakeAuthorizer{status: camera.AuthGranted})
	deps.Decoder = vision.DecodeFunc(func(context.Context, vision.Request) ([]vision.Observation, error) {
		close(decodeStarted)
		<-releaseDecode
		return []vision.Observation{{Symbology: vision.SymbologyQR, Payload: "late", Confidence: 0.9}}, nil
	})
	opts := testOptions()
	opts.Callback = func(result scanner.Result) { results <- result }

	controller, err := NewController(deps, opts)
	require.NoError(t, err)
	require.NoError(t, controller.Configure(testContext(t)))
	controller.StartRunning()

	controller.output.Deliver(camera.Frame{Data: []byte{1}, Width: 2, Height: 2, PixelFormat: camera.PixelFormatRGB24, Seq: 1})

	<-decodeStarted
	controller.StopRunning()
	require.Equal(t, lifecycle.RunIdle, controller.RunState())

	// The submitted decode still completes and fires the callback.
	close(releaseDecode)
	select {
	case result := <-results:
		require.Equal(t, "late", result.Observations[0].Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight decode never completed")
	}
}

func TestControllerThresholdDefaults(t *testing.T) {
	opts := testOptions()
	require.InDelta(t, 0.0, opts.ConfidenceThreshold, 1e-9)

	controller, err := NewController(testDeps(&fakeSession{}, &fakeAuthorizer{status: camera.AuthGranted}), opts)
	require.NoError(t, err)
	require.InDelta(t, DefaultConfidenceThreshold, controller.opts.ConfidenceThreshold, 1e-9)

	explicit := testOptions().WithThreshold(0)
	controller, err = NewController(testDeps(&fakeSession{}, &fakeAuthorizer{status: camera.AuthGranted}), explicit)
	require.NoError(t, err)
	require.InDelta(t, 0.0, controller.opts.ConfidenceThreshold, 1e-9)
}
