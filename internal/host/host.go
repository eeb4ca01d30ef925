// Package host ties an interpreter and stream capture together: it checks the
// interpreter installation, runs a script's entry point and starts forwarding
// the process's standard streams to the log sink.
//
// Failures are reported as negative status codes, each with a single log
// message, so callers that only understand integers can still tell them apart.
package host

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"scripthost/internal/capture"
	"scripthost/internal/interp"
	"scripthost/internal/logsink"
)

const (
	StatusOK                = 0
	StatusHomeMissing       = -1
	StatusLibDynloadMissing = -2
	StatusScriptNotFound    = -3
	StatusNotInitialized    = -4
	StatusExecFailed        = -5
	StatusCleanedUp         = 1
)

// PathChecker reports whether a path exists.
type PathChecker interface {
	Exists(path string) bool
}

// OSPaths checks paths on the local filesystem.
type OSPaths struct{}

func (OSPaths) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Options control when and how capture is started.
type Options struct {
	// EntryPoint is the function called in the script. Defaults to "main".
	EntryPoint string
	// CaptureFirst starts capture before the script runs instead of after.
	CaptureFirst   bool
	StdoutSeverity logsink.Severity
	StderrSeverity logsink.Severity
	// StopTimeout bounds how long Cleanup waits for capture to drain.
	StopTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		EntryPoint:     "main",
		StdoutSeverity: logsink.Debug,
		StderrSeverity: logsink.Error,
		StopTimeout:    2 * time.Second,
	}
}

// Host owns the execution context and the capturer of one process.
type Host struct {
	ictx     *interp.Context
	interp   interp.Interpreter
	capturer *capture.Capturer
	paths    PathChecker
	opts     Options
}

func New(ictx *interp.Context, in interp.Interpreter, capturer *capture.Capturer, paths PathChecker, opts Options) *Host {
	if paths == nil {
		paths = OSPaths{}
	}
	if opts.EntryPoint == "" {
		opts.EntryPoint = "main"
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultOptions().StopTimeout
	}
	return &Host{
		ictx:     ictx,
		interp:   in,
		capturer: capturer,
		paths:    paths,
		opts:     opts,
	}
}

// InitPython checks the interpreter home and its lib-dynload directory and
// points the execution context at them.
func (h *Host) InitPython(home string) int {
	if !h.paths.Exists(home) {
		slog.Error("Interpreter home does not exist, make sure it was installed", "home", home)
		return StatusHomeMissing
	}

	libDynload := filepath.Join(home, interp.LibDynload)
	if !h.paths.Exists(libDynload) {
		slog.Error("Interpreter lib-dynload directory does not exist, make sure it was installed", "path", libDynload)
		return StatusLibDynloadMissing
	}

	h.ictx.Configure(home)
	slog.Debug("Interpreter configured", "search_path", h.ictx.SearchPath())
	return StatusOK
}

// RunScript runs the entry point of file and returns its result code. Capture
// of stderr and then stdout is started after the call, whatever its outcome,
// unless CaptureFirst is set.
func (h *Host) RunScript(ctx context.Context, file string) int {
	if err := h.ictx.Initialize(); err != nil {
		slog.Error("Interpreter has not been initialized", "error", err)
		return StatusNotInitialized
	}

	if !h.paths.Exists(file) {
		slog.Error("Script file could not be found, verify it has been installed", "file", file)
		return StatusScriptNotFound
	}

	if h.opts.CaptureFirst {
		h.startCapture()
	}

	result := h.execute(ctx, file)

	if !h.opts.CaptureFirst {
		h.startCapture()
	}

	slog.Info("Script finished", "file", file, "result", result)
	return result
}

func (h *Host) execute(ctx context.Context, file string) int {
	handle, err := h.interp.LoadScript(file)
	if err != nil {
		slog.Error("Failed to load script", "file", file, "error", err)
		if errors.Is(err, interp.ErrNotFound) {
			return StatusScriptNotFound
		}
		return StatusExecFailed
	}
	defer h.interp.Unload(handle)

	result, err := h.interp.CallFunction(ctx, handle, h.opts.EntryPoint)
	if err != nil {
		slog.Error("Failed to call entry point", "file", file, "function", h.opts.EntryPoint, "error", err)
		if errors.Is(err, interp.ErrNotInitialized) {
			return StatusNotInitialized
		}
		return StatusExecFailed
	}
	return result
}

// startCapture starts both units. Failures are logged and otherwise ignored:
// capture must never stop the script from running.
func (h *Host) startCapture() {
	units := []struct {
		stream   capture.Stream
		severity logsink.Severity
	}{
		{capture.Stderr, h.opts.StderrSeverity},
		{capture.Stdout, h.opts.StdoutSeverity},
	}
	for _, u := range units {
		err := h.capturer.StartCapture(u.stream, u.severity)
		switch {
		case err == nil:
		case errors.Is(err, capture.ErrAlreadyCapturing):
			slog.Debug("Stream already captured", "stream", u.stream)
		default:
			slog.Warn("Failed to start capture", "stream", u.stream, "error", err)
		}
	}
}

// Cleanup stops capture and finalizes the execution context.
func (h *Host) Cleanup(ctx context.Context) int {
	if !h.ictx.IsInitialized() {
		slog.Error("Interpreter has not been initialized")
		return StatusNotInitialized
	}

	stopCtx, cancel := context.WithTimeout(ctx, h.opts.StopTimeout)
	defer cancel()
	if err := h.capturer.Stop(stopCtx); err != nil {
		slog.Warn("Failed to stop capture cleanly", "error", err)
	}

	if err := h.ictx.Finalize(); err != nil {
		slog.Error("Failed to finalize interpreter", "error", err)
		return StatusNotInitialized
	}
	slog.Info("Interpreter finalized")
	return StatusCleanedUp
}

// Capturer exposes the capturer, for status reporting.
func (h *Host) Capturer() *capture.Capturer {
	return h.capturer
}
