package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/scancam/scancam/internal/camera"
)

// writeDebugFrame persists the raw pixel buffer of a frame whose decode
// failed, when debug.frame_dump is enabled. Dump failures are logged and
// never disturb the decode path.
func (e *Engine) writeDebugFrame(frame camera.Frame) {
	if !e.cfg.DumpFrames || len(frame.Data) == 0 {
		return
	}

	extension := frame.PixelFormat
	if extension == "" {
		extension = "raw"
	}
	file, err := createDebugFile(fmt.Sprintf("frame-%d-%dx%d", frame.Seq, frame.Width, frame.Height), extension)
	if err != nil {
		e.logWarn("unable to create debug frame dump", "error", err.Error())
		return
	}
	defer file.Close()

	if _, err := file.Write(frame.Data); err != nil {
		e.logWarn("unable to write debug frame dump", "frame", frame.Seq, "error", err.Error())
	}
}

// createDebugFile creates timestamped debug artifacts under state/scancam/debug.
func createDebugFile(prefix string, extension string) (*os.File, error) {
	stateDir, err := resolveStateDir()
	if err != nil {
		return nil, err
	}
	debugDir := filepath.Join(stateDir, "scancam", "debug")
	if err := os.MkdirAll(debugDir, 0o700); err != nil {
		return nil, fmt.Errorf("create debug dir: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405.000")
	path := filepath.Join(debugDir, fmt.Sprintf("%s-%s.%s", prefix, timestamp, extension))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open debug file %q: %w", path, err)
	}
	return file, nil
}

// resolveStateDir returns the XDG_STATE_HOME fallback path for debug artifacts.
func resolveStateDir() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); xdg != "" {
		return xdg, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory for state: %w", err)
	}
	return filepath.Join(home, ".local", "state"), nil
}
