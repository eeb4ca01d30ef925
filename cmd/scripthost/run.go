package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"scripthost/internal/auth"
	"scripthost/internal/capture"
	"scripthost/internal/config"
	"scripthost/internal/host"
	"scripthost/internal/interp"
	"scripthost/internal/logging"
	"scripthost/internal/logsink"
	"scripthost/internal/outputlog"
	"scripthost/internal/server"
	"scripthost/internal/sse"
)

var (
	configPath   string
	home         string
	interpreter  string
	captureMode  string
	redirectKind string
	captureFirst bool
	logFile      string
	listenAddr   string
	linger       time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run script",
	Short: "Run a script's main function and forward stdout/stderr to the log",
	Long: `Run calls the main function of the given script file. Afterwards (or before,
with --capture-first) the process's stdout and stderr are redirected and every
complete line written to them is forwarded to the log: stdout lines at DEBUG,
stderr lines at ERROR by default.

Status codes: -1 interpreter home missing, -2 lib-dynload missing,
-3 script not found, -4 interpreter not initialized, -5 execution failed.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRunConfig(cmd)
		if err != nil {
			return err
		}
		return runScript(cmd.Context(), cfg, args[0])
	},
}

func init() {
	addRunFlags(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	cmd.Flags().StringVar(&home, "home", "", "Interpreter home directory (default: $SCRIPTHOST_HOME)")
	cmd.Flags().StringVar(&interpreter, "interpreter", "", "Interpreter binary (default python3)")
	cmd.Flags().StringVar(&captureMode, "mode", "", "Capture read mode: event or poll")
	cmd.Flags().StringVar(&redirectKind, "redirect", "", "Redirect streams into a pipe or a pty")
	cmd.Flags().BoolVar(&captureFirst, "capture-first", false, "Start capture before the script runs")
	cmd.Flags().StringVar(&logFile, "log-file", "", "Also record forwarded lines in this file (outputlog format)")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "Serve /events, /ws and /status on this address")
	cmd.Flags().DurationVar(&linger, "linger", 0, "Keep capturing this long after the script returns")
}

func loadRunConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("home") {
		cfg.Interpreter.Home = home
	}
	if flags.Changed("interpreter") {
		cfg.Interpreter.Binary = interpreter
	}
	if flags.Changed("mode") {
		cfg.Capture.Mode = captureMode
	}
	if flags.Changed("redirect") {
		cfg.Capture.Redirect = redirectKind
	}
	if flags.Changed("capture-first") && captureFirst {
		cfg.Capture.Start = config.StartBeforeRun
	}
	if flags.Changed("log-file") {
		cfg.Log.File = logFile
	}
	if flags.Changed("listen") {
		cfg.Server.Listen = listenAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Interpreter.Home == "" {
		return nil, fmt.Errorf("interpreter home is required (--home or SCRIPTHOST_HOME)")
	}
	return cfg, nil
}

func runScript(parent context.Context, cfg *config.Config, script string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, logOut, err := logging.Setup(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logOut.Close() }()

	sinks := logsink.Multi{logsink.NewSlogSink(logger)}

	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer func() { _ = f.Close() }()
		w := outputlog.NewWriter(f)
		defer w.Close()
		sinks = append(sinks, w)
	}

	hub := sse.NewHub()
	sinks = append(sinks, hub)

	capturer := capture.New(sinks, cfg.Redirector(), cfg.CaptureOptions())

	if cfg.Server.Listen != "" {
		a, err := auth.New(cfg.Server.Token)
		if err != nil {
			return err
		}
		srv := server.New(hub, capturer).WithAuth(a)
		go func() {
			if err := srv.Start(ctx, cfg.Server.Listen); err != nil {
				slog.Error("Server stopped", "error", err)
			}
		}()
	}

	ictx := interp.NewContext()
	in := interp.NewExecInterpreter(ictx, cfg.Interpreter.Binary)
	in.Unbuffered = cfg.Interpreter.Unbuffered

	stdoutSeverity, stderrSeverity := cfg.Severities()
	h := host.New(ictx, in, capturer, host.OSPaths{}, host.Options{
		EntryPoint:     cfg.Interpreter.EntryPoint,
		CaptureFirst:   cfg.Capture.Start == config.StartBeforeRun,
		StdoutSeverity: stdoutSeverity,
		StderrSeverity: stderrSeverity,
		StopTimeout:    cfg.Capture.StopTimeout,
	})

	if status := h.InitPython(cfg.Interpreter.Home); status != host.StatusOK {
		return &exitError{code: status}
	}

	result := h.RunScript(ctx, script)

	if result != host.StatusScriptNotFound && result != host.StatusNotInitialized && linger > 0 {
		slog.Info("Capturing after script exit", "linger", linger)
		select {
		case <-time.After(linger):
		case <-ctx.Done():
		}
	}

	if status := h.Cleanup(context.Background()); status != host.StatusCleanedUp && result == 0 {
		result = status
	}

	if result != 0 {
		return &exitError{code: result}
	}
	return nil
}
