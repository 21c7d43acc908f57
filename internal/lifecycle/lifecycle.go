// Package lifecycle tracks the capture controller's setup and run state machines.
package lifecycle

import "fmt"

// SetupState tracks permission and session-configuration progress. It moves
// forward exactly once: from AwaitingActivation into one terminal outcome.
type SetupState string

const (
	SetupAwaitingActivation      SetupState = "awaiting_activation"
	SetupNotAuthorized           SetupState = "not_authorized"
	SetupConfigFailedDevice      SetupState = "config_failed_device"
	SetupConfigFailedInput       SetupState = "config_failed_input"
	SetupConfigFailedAttachInput SetupState = "config_failed_attach_input"
	SetupConfigFailedAttachOut   SetupState = "config_failed_attach_output"
	SetupSucceeded               SetupState = "succeeded"
)

// RunState tracks frame delivery. Entering Running requires SetupSucceeded.
type RunState string

const (
	RunIdle    RunState = "idle"
	RunRunning RunState = "running"
)

// Terminal reports whether a setup state admits no further transitions.
func (s SetupState) Terminal() bool {
	switch s {
	case SetupNotAuthorized,
		SetupConfigFailedDevice,
		SetupConfigFailedInput,
		SetupConfigFailedAttachInput,
		SetupConfigFailedAttachOut,
		SetupSucceeded:
		return true
	default:
		return false
	}
}

// Failed reports whether a setup state is a terminal failure outcome.
func (s SetupState) Failed() bool {
	return s.Terminal() && s != SetupSucceeded
}

// AdvanceSetup applies one setup transition. The first terminal outcome wins:
// advancing out of a terminal state is invalid.
func AdvanceSetup(current SetupState, next SetupState) (SetupState, error) {
	if current == next {
		return current, nil
	}
	if current.Terminal() {
		return current, fmt.Errorf("invalid setup transition: %s --> %s (terminal)", current, next)
	}
	if current != SetupAwaitingActivation {
		return current, fmt.Errorf("unknown setup state %q", current)
	}
	if !next.Terminal() {
		return current, fmt.Errorf("invalid setup transition: %s --> %s", current, next)
	}
	return next, nil
}

// AdvanceRun applies one run transition, enforcing the setup gate on entry
// into Running.
func AdvanceRun(current RunState, next RunState, setup SetupState) (RunState, error) {
	if current == next {
		return current, nil
	}
	switch next {
	case RunRunning:
		if setup != SetupSucceeded {
			return current, fmt.Errorf("cannot run with setup state %q", setup)
		}
		return RunRunning, nil
	case RunIdle:
		return RunIdle, nil
	default:
		return current, fmt.Errorf("unknown run state %q", next)
	}
}
