package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/scancam/scancam/internal/camera"
	"github.com/scancam/scancam/internal/cli"
	"github.com/scancam/scancam/internal/config"
	"github.com/scancam/scancam/internal/doctor"
	"github.com/scancam/scancam/internal/history"
	"github.com/scancam/scancam/internal/indicator"
	"github.com/scancam/scancam/internal/ipc"
	"github.com/scancam/scancam/internal/logging"
	"github.com/scancam/scancam/internal/metrics"
	"github.com/scancam/scancam/internal/output"
	"github.com/scancam/scancam/internal/scanner"
	"github.com/scancam/scancam/internal/session"
	"github.com/scancam/scancam/internal/version"
	"github.com/scancam/scancam/internal/vision"
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("scancam"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("scancam"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	logRuntime, err := logging.New()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return 1
	}
	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	if formats, _, err := config.BuildSymbologyFilter(cfgLoaded.Config); err == nil {
		logger.Debug("symbology filter plan", "format_count", len(formats), "formats", formats)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandStop:
		return r.forwardOrFail(ctx, "stop")
	case cli.CommandHistory:
		return r.commandHistory(ctx, cfgLoaded.Config)
	case cli.CommandScan:
		return r.commandScan(ctx, cfgLoaded.Config, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := camera.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no camera devices found")
		return 1
	}

	for _, device := range devices {
		availability := "yes"
		if !device.Available {
			availability = "no"
		}
		fmt.Fprintf(
			r.Stdout,
			"id=%s | name=%q | position=%s | available=%s\n",
			device.ID,
			device.Name,
			device.Position,
			availability,
		)
	}

	return 0
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "not running")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, "status")
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		line := fmt.Sprintf("setup=%s run=%s", resp.Setup, resp.Run)
		if resp.Device != "" {
			line += " device=" + resp.Device
		}
		fmt.Fprintln(r.Stdout, line)
		return 0
	}

	fmt.Fprintln(r.Stdout, "not running")
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, command string) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: no active scancam scanner\n")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

func (r Runner) commandHistory(ctx context.Context, cfg config.Config) int {
	if !cfg.History.Enable {
		fmt.Fprintf(r.Stderr, "error: history is disabled in config\n")
		return 1
	}

	path, err := history.ResolvePath(cfg.History.Path)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	store, err := history.Open(path)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	entries, err := store.Recent(ctx, cfg.History.Limit)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(entries) == 0 {
		fmt.Fprintln(r.Stdout, "no scans recorded")
		return 0
	}

	for _, entry := range entries {
		fmt.Fprintf(
			r.Stdout,
			"%s  %-12s  %.2f  %s\n",
			entry.ScannedAt.Format(time.RFC3339),
			entry.Symbology,
			entry.Confidence,
			entry.Payload,
		)
	}
	return 0
}

func (r Runner) commandScan(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8, nil)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			fmt.Fprintln(r.Stderr, "error: scancam scanner already running")
			return 1
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	formats, _, err := config.BuildSymbologyFilter(cfg)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	decoder, err := vision.DialRemote(ctx, vision.RemoteConfig{
		Endpoint:       cfg.Decoder.GRPC,
		DialTimeout:    time.Duration(cfg.Decoder.DialTimeoutMS) * time.Millisecond,
		RequestTimeout: time.Duration(cfg.Decoder.RequestTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: connect decoder: %v\n", err)
		return 1
	}
	defer func() { _ = decoder.Close() }()

	var store *history.Store
	if cfg.History.Enable {
		historyPath, pathErr := history.ResolvePath(cfg.History.Path)
		if pathErr != nil {
			logger.Warn("history disabled", "error", pathErr.Error())
		} else if opened, openErr := history.Open(historyPath); openErr != nil {
			logger.Warn("history disabled", "error", openErr.Error())
		} else {
			store = opened
			defer func() { _ = store.Close() }()
		}
	}

	indicatorCtl := indicator.NewNotifier(cfg.Indicator, logger)
	dispatcher := output.NewDispatcher(cfg, logger)

	daemonCtx, stopDaemon := context.WithCancel(ctx)
	defer stopDaemon()

	sinks := scanSinks{
		logger:     logger,
		indicator:  indicatorCtl,
		store:      store,
		dispatcher: dispatcher,
		stdout:     r.Stdout,
	}

	controller, err := session.NewController(session.Deps{
		Session:    camera.NewCaptureSession(),
		Authorizer: camera.NewNodeAuthorizer(""),
		Decoder:    decoder,
	}, session.Options{
		Logger:      logger,
		Callback:    sinks.handle,
		Device:      cfg.Camera.Device,
		Width:       cfg.Camera.Width,
		Height:      cfg.Camera.Height,
		Symbologies: formats,
		Workers:     cfg.Scan.Workers,
		FrameDepth:  cfg.Camera.FrameDepth,
		DumpFrames:  cfg.Debug.EnableFrameDump,
	}.WithThreshold(cfg.Scan.MinConfidence))
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	if cfg.Debug.MetricsListen != "" {
		go func() {
			if serveErr := metrics.Serve(daemonCtx, cfg.Debug.MetricsListen); serveErr != nil {
				logger.Warn("metrics server failed", "error", serveErr.Error())
			}
		}()
	}

	handler := ipc.HandlerFunc(func(_ context.Context, req ipc.Request) ipc.Response {
		switch req.Command {
		case "status":
			resp := ipc.Response{
				OK:    true,
				Setup: string(controller.SetupState()),
				Run:   string(controller.RunState()),
			}
			if selection := controller.Selection(); selection.Device.ID != "" {
				resp.Device = selection.Device.ID
			}
			return resp
		case "stop":
			stopDaemon()
			return ipc.Response{OK: true, Message: "stopping"}
		default:
			return ipc.Response{OK: false, Error: fmt.Sprintf("unsupported command %q", req.Command)}
		}
	})

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.Serve(serverCtx, listener, handler)
	}()

	if err := controller.Activate(daemonCtx); err != nil {
		serverCancel()
		<-serverErrCh
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	indicatorCtl.ShowScanning(daemonCtx)
	logger.Info("scanner running",
		"device", controller.Selection().Device.ID,
		"socket", socketPath,
	)

	<-daemonCtx.Done()

	if closeErr := controller.Close(); closeErr != nil {
		logger.Warn("capture shutdown", "error", closeErr.Error())
	}
	indicatorCtl.Hide(context.Background())

	serverCancel()
	if serverErr := <-serverErrCh; serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}

	logger.Info("scanner stopped", "frames_dropped", controller.Dropped())
	return 0
}

// scanSinks fans one decode result out to the result consumers. Callbacks
// arrive from scanner workers and may still fire while shutdown is underway,
// so every sink runs on a background context with its own deadline.
type scanSinks struct {
	logger     *slog.Logger
	indicator  indicator.Controller
	store      *history.Store
	dispatcher *output.Dispatcher
	stdout     io.Writer
}

func (s scanSinks) handle(result scanner.Result) {
	ctx := context.Background()

	if result.Err != nil {
		s.logger.Error("decode failed", "frame_seq", result.FrameSeq, "error", result.Err.Error())
		s.indicator.CueError(ctx)
		s.indicator.ShowError(ctx, "")
		return
	}
	if len(result.Observations) == 0 {
		return
	}

	best := result.Observations[0]
	if strings.TrimSpace(best.Payload) == "" {
		return
	}

	s.logger.Info("barcode observed",
		"frame_seq", result.FrameSeq,
		"symbology", best.Symbology,
		"confidence", best.Confidence,
		"decode_latency_ms", result.DecodeLatency.Milliseconds(),
		"observations", len(result.Observations),
	)

	s.indicator.ShowResult(ctx, best.Payload)

	if s.store != nil {
		recorded, err := s.store.Record(ctx, best.Payload, best.Symbology, best.Confidence, time.Now())
		if err != nil {
			s.logger.Warn("record scan failed", "error", err.Error())
		} else if !recorded {
			s.logger.Debug("consecutive duplicate collapsed", "symbology", best.Symbology)
		}
	}

	if s.dispatcher.Enabled() {
		if err := s.dispatcher.Dispatch(ctx, best.Payload); err != nil {
			s.logger.Warn("dispatch scan failed", "error", err.Error())
		}
	}

	fmt.Fprintln(s.stdout, best.Payload)
}

func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, 220*time.Millisecond)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if isSocketMissing(err) {
		return ipc.Response{}, false, nil
	}
	if isConnectionRefused(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}

func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
