// Package indicator surfaces scan feedback through desktop notifications and
// audio cues.
package indicator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/scancam/scancam/internal/config"
)

// Controller is the daemon-facing indicator contract.
type Controller interface {
	ShowScanning(context.Context)
	ShowResult(context.Context, string)
	ShowError(context.Context, string)
	CueScan(context.Context)
	CueError(context.Context)
	Hide(context.Context)
}

// Noop preserves daemon flow when no indicator is wired.
type Noop struct{}

func (Noop) ShowScanning(context.Context)       {}
func (Noop) ShowResult(context.Context, string) {}
func (Noop) ShowError(context.Context, string)  {}
func (Noop) CueScan(context.Context)            {}
func (Noop) CueError(context.Context)           {}
func (Noop) Hide(context.Context)               {}

// Notifier is the concrete indicator used by the scan daemon. It sends
// replaceable freedesktop notifications over DBus and plays synthesized cues.
type Notifier struct {
	cfg    config.IndicatorConfig
	logger *slog.Logger

	mu             sync.Mutex
	notificationID uint32
	soundMu        sync.Mutex
}

// NewNotifier creates an indicator controller from config.
func NewNotifier(cfg config.IndicatorConfig, logger *slog.Logger) *Notifier {
	return &Notifier{cfg: cfg, logger: logger}
}

// ShowScanning signals that the camera is live and hunting for barcodes.
func (n *Notifier) ShowScanning(ctx context.Context) {
	if !n.notificationsEnabled() {
		return
	}
	n.run(ctx, func(ctx context.Context) error {
		return n.notify(ctx, 300000, "Scanning…")
	})
}

// ShowResult surfaces a decoded payload and plays the scan cue.
func (n *Notifier) ShowResult(ctx context.Context, payload string) {
	n.CueScan(ctx)
	if !n.notificationsEnabled() {
		return
	}
	n.run(ctx, func(ctx context.Context) error {
		return n.notify(ctx, 4000, payload)
	})
}

// ShowError displays a scan failure message with a bounded timeout.
func (n *Notifier) ShowError(ctx context.Context, text string) {
	if !n.notificationsEnabled() {
		return
	}
	if text == "" {
		text = "Barcode detection error"
	}
	timeout := n.cfg.ErrorTimeoutMS
	if timeout <= 0 {
		timeout = 1200
	}
	n.run(ctx, func(ctx context.Context) error {
		return n.notify(ctx, timeout, text)
	})
}

// CueScan emits the successful-scan cue.
func (n *Notifier) CueScan(context.Context) {
	n.playCue(cueScan)
}

// CueError emits the failure cue.
func (n *Notifier) CueError(context.Context) {
	n.playCue(cueError)
}

// Hide dismisses the active notification.
func (n *Notifier) Hide(ctx context.Context) {
	if !n.notificationsEnabled() {
		return
	}
	n.run(ctx, n.dismiss)
}

// notificationsEnabled reports whether desktop output is configured on.
func (n *Notifier) notificationsEnabled() bool {
	if !n.cfg.Enable {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(n.cfg.Backend), "desktop")
}

// notify sends a replaceable desktop notification and stores its ID.
func (n *Notifier) notify(ctx context.Context, timeoutMS int, text string) error {
	n.mu.Lock()
	replaceID := n.notificationID
	n.mu.Unlock()

	appName := strings.TrimSpace(n.cfg.DesktopAppName)
	if appName == "" {
		appName = "scancam"
	}

	id, err := desktopNotify(ctx, appName, replaceID, text, timeoutMS)
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.notificationID = id
	n.mu.Unlock()
	return nil
}

// dismiss closes the current notification ID when present.
func (n *Notifier) dismiss(ctx context.Context) error {
	n.mu.Lock()
	id := n.notificationID
	n.notificationID = 0
	n.mu.Unlock()

	if id == 0 {
		return nil
	}
	return desktopDismiss(ctx, id)
}

// run executes an indicator operation with a bounded timeout.
func (n *Notifier) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(ctx, 400*time.Millisecond)
	defer cancel()
	if err := fn(runCtx); err != nil {
		n.log("indicator dispatch failed", err)
	}
}

// playCue serializes cue playback and emits audio asynchronously.
func (n *Notifier) playCue(kind cueKind) {
	if !n.cfg.SoundEnable {
		return
	}
	go func() {
		n.soundMu.Lock()
		defer n.soundMu.Unlock()
		if err := emitCue(kind); err != nil {
			n.log("indicator audio cue failed", err)
		}
	}()
}

// log emits debug-only indicator failures to the runtime logger.
func (n *Notifier) log(message string, err error) {
	if n.logger == nil || err == nil {
		return
	}
	n.logger.Debug(message, "error", err.Error())
}
