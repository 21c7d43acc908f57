// Package output pipes decoded barcode payloads to a user-configured command.
package output

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/scancam/scancam/internal/config"
)

// Dispatcher runs the configured output command once per surfaced payload.
type Dispatcher struct {
	command config.CommandConfig
	logger  *slog.Logger
}

// NewDispatcher constructs a payload dispatcher from runtime config.
func NewDispatcher(cfg config.Config, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{command: cfg.OutputCmd, logger: logger}
}

// Enabled reports whether an output command is configured.
func (d *Dispatcher) Enabled() bool {
	return len(d.command.Argv) > 0
}

// Dispatch writes payload to the output command's stdin. Empty payloads are
// skipped: the decoder can localize a symbol without decoding it.
func (d *Dispatcher) Dispatch(ctx context.Context, payload string) error {
	if payload == "" || !d.Enabled() {
		return nil
	}

	cmdCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := runCommandWithInput(cmdCtx, d.command.Argv, payload); err != nil {
		return fmt.Errorf("dispatch payload: %w", err)
	}

	if d.logger != nil {
		d.logger.Debug("payload dispatched", "command", d.command.Argv[0], "bytes", len(payload))
	}
	return nil
}

// runCommandWithInput executes argv and optionally writes input to stdin.
func runCommandWithInput(ctx context.Context, argv []string, input string) error {
	if len(argv) == 0 {
		return fmt.Errorf("command argv cannot be empty")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open stdin for %s: %w", argv[0], err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start command %s: %w", argv[0], err)
	}

	if input != "" {
		if _, err := stdin.Write([]byte(input)); err != nil {
			_ = stdin.Close()
			_ = cmd.Wait()
			return fmt.Errorf("write stdin for %s: %w", argv[0], err)
		}
	}
	_ = stdin.Close()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait for %s: %w", argv[0], err)
	}
	return nil
}
