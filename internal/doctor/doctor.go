// Package doctor runs runtime readiness diagnostics for config, camera, decoder, and tools.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/scancam/scancam/internal/camera"
	"github.com/scancam/scancam/internal/config"
	"github.com/scancam/scancam/internal/history"
	"github.com/scancam/scancam/internal/vision"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(cfg config.Loaded) Report {
	checks := []Check{}

	checks = append(checks, Check{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q", cfg.Path),
	})

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "runtime dir available for control socket", "XDG_RUNTIME_DIR is empty"))

	checks = append(checks, checkCameraSelection(cfg.Config))
	checks = append(checks, checkDecoderReady(cfg.Config))

	if len(cfg.Config.OutputCmd.Argv) > 0 {
		checks = append(checks, checkCommand(cfg.Config.OutputCmd.Argv, "output_cmd"))
	}

	if cfg.Config.Indicator.Enable && cfg.Config.Indicator.Backend == "desktop" {
		checks = append(checks, checkBinary("busctl", "desktop notifications require busctl"))
	}

	if cfg.Config.History.Enable {
		checks = append(checks, checkHistoryPath(cfg.Config))
	}

	return Report{Checks: checks}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkCameraSelection runs live device selection to surface selection/fallback issues.
func checkCameraSelection(cfg config.Config) Check {
	selection, err := camera.SelectDevice(context.Background(), cfg.Camera.Device)
	if err != nil {
		return Check{Name: "camera.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "camera.device", Pass: true, Message: message}
}

// checkDecoderReady dials the configured decoder endpoint and waits for the channel to be ready.
func checkDecoderReady(cfg config.Config) Check {
	endpoint := strings.TrimSpace(cfg.Decoder.GRPC)
	if endpoint == "" {
		return Check{Name: "decoder.ready", Pass: false, Message: "decoder.grpc is empty"}
	}

	timeout := time.Duration(cfg.Decoder.DialTimeoutMS) * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := vision.ProbeReady(ctx, endpoint, timeout); err != nil {
		return Check{Name: "decoder.ready", Pass: false, Message: fmt.Sprintf("probe failed: %v", err)}
	}
	return Check{Name: "decoder.ready", Pass: true, Message: fmt.Sprintf("ready at %s", endpoint)}
}

// checkHistoryPath verifies the history database directory can be created and written.
func checkHistoryPath(cfg config.Config) Check {
	path, err := history.ResolvePath(cfg.History.Path)
	if err != nil {
		return Check{Name: "history.path", Pass: false, Message: err.Error()}
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Check{Name: "history.path", Pass: false, Message: fmt.Sprintf("create %s: %v", dir, err)}
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return Check{Name: "history.path", Pass: false, Message: fmt.Sprintf("directory not writable: %v", err)}
	}
	probe.Close()
	os.Remove(probe.Name())
	return Check{Name: "history.path", Pass: true, Message: fmt.Sprintf("writable %s", path)}
}
