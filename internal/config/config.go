// Package config loads scripthost settings from defaults, an optional YAML
// file and SCRIPTHOST_* environment variables, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"scripthost/internal/auth"
	"scripthost/internal/capture"
	"scripthost/internal/logging"
	"scripthost/internal/logsink"
	"scripthost/internal/outputlog"
)

const (
	StartAfterRun  = "after_run"
	StartBeforeRun = "before_run"

	RedirectPipe = "pipe"
	RedirectPTY  = "pty"
)

type Config struct {
	Interpreter InterpreterConfig `yaml:"interpreter"`
	Capture     CaptureConfig     `yaml:"capture"`
	Log         LogConfig         `yaml:"log"`
	Server      ServerConfig      `yaml:"server"`
}

type InterpreterConfig struct {
	Binary     string `yaml:"binary"`
	Home       string `yaml:"home"`
	EntryPoint string `yaml:"entry_point"`
	Unbuffered bool   `yaml:"unbuffered"`
}

type CaptureConfig struct {
	Start        string        `yaml:"start"`
	Mode         string        `yaml:"mode"`
	Redirect     string        `yaml:"redirect"`
	ChunkSize    int           `yaml:"chunk_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
	StopTimeout  time.Duration `yaml:"stop_timeout"`
	Stdout       StreamConfig  `yaml:"stdout"`
	Stderr       StreamConfig  `yaml:"stderr"`
}

type StreamConfig struct {
	Tag      string `yaml:"tag"`
	Severity string `yaml:"severity"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File, when set, also records every forwarded line in outputlog format.
	File string `yaml:"file"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
	// Token, when set, is required by every server route.
	Token string `yaml:"token"`
}

func Default() *Config {
	return &Config{
		Interpreter: InterpreterConfig{
			Binary:     "python3",
			EntryPoint: "main",
			Unbuffered: true,
		},
		Capture: CaptureConfig{
			Start:        StartAfterRun,
			Mode:         string(capture.ModeEvent),
			Redirect:     RedirectPipe,
			ChunkSize:    capture.DefaultChunkSize,
			PollInterval: capture.DefaultPollInterval,
			StopTimeout:  2 * time.Second,
			Stdout:       StreamConfig{Tag: "stdout", Severity: "debug"},
			Stderr:       StreamConfig{Tag: "stderr", Severity: "error"},
		},
		Log: LogConfig{
			Level:  "debug",
			Format: "text",
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path (if path is
// not empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Interpreter.Binary, "SCRIPTHOST_INTERPRETER")
	setString(&c.Interpreter.Home, "SCRIPTHOST_HOME")
	setString(&c.Interpreter.EntryPoint, "SCRIPTHOST_ENTRY_POINT")
	setString(&c.Capture.Start, "SCRIPTHOST_CAPTURE_START")
	setString(&c.Capture.Mode, "SCRIPTHOST_CAPTURE_MODE")
	setString(&c.Capture.Redirect, "SCRIPTHOST_REDIRECT")
	setString(&c.Log.Level, "SCRIPTHOST_LOG_LEVEL")
	setString(&c.Log.Format, "SCRIPTHOST_LOG_FORMAT")
	setString(&c.Log.File, "SCRIPTHOST_LOG_FILE")
	setString(&c.Server.Listen, "SCRIPTHOST_LISTEN")
	setString(&c.Server.Token, "SCRIPTHOST_TOKEN")

	if v := os.Getenv("SCRIPTHOST_UNBUFFERED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SCRIPTHOST_UNBUFFERED: %w", err)
		}
		c.Interpreter.Unbuffered = b
	}
	if v := os.Getenv("SCRIPTHOST_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SCRIPTHOST_POLL_INTERVAL: %w", err)
		}
		c.Capture.PollInterval = d
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks every enumerated and numeric setting.
func (c *Config) Validate() error {
	var errs []error

	if c.Interpreter.Binary == "" {
		errs = append(errs, errors.New("interpreter.binary must not be empty"))
	}
	if c.Capture.Start != StartAfterRun && c.Capture.Start != StartBeforeRun {
		errs = append(errs, fmt.Errorf("capture.start must be %s or %s, got %q", StartAfterRun, StartBeforeRun, c.Capture.Start))
	}
	if _, err := capture.ParseMode(c.Capture.Mode); err != nil {
		errs = append(errs, fmt.Errorf("capture.mode: %w", err))
	}
	if c.Capture.Redirect != RedirectPipe && c.Capture.Redirect != RedirectPTY {
		errs = append(errs, fmt.Errorf("capture.redirect must be %s or %s, got %q", RedirectPipe, RedirectPTY, c.Capture.Redirect))
	}
	if c.Capture.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("capture.chunk_size must be positive, got %d", c.Capture.ChunkSize))
	}
	if c.Capture.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("capture.poll_interval must be positive, got %s", c.Capture.PollInterval))
	}
	if c.Capture.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("capture.stop_timeout must be positive, got %s", c.Capture.StopTimeout))
	}
	for name, s := range map[string]StreamConfig{"stdout": c.Capture.Stdout, "stderr": c.Capture.Stderr} {
		if _, err := logsink.ParseSeverity(s.Severity); err != nil {
			errs = append(errs, fmt.Errorf("capture.%s.severity: %w", name, err))
		}
		// Empty means the stream name.
		if s.Tag != "" && !outputlog.ValidTag(s.Tag) {
			errs = append(errs, fmt.Errorf("capture.%s.tag %q must match [a-zA-Z0-9_./-]{1,64}", name, s.Tag))
		}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if _, err := auth.New(c.Server.Token); err != nil {
		errs = append(errs, fmt.Errorf("server.token: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// CaptureOptions converts the capture section for capture.New. Call Validate first.
func (c *Config) CaptureOptions() capture.Options {
	mode, _ := capture.ParseMode(c.Capture.Mode)
	return capture.Options{
		Mode:         mode,
		ChunkSize:    c.Capture.ChunkSize,
		PollInterval: c.Capture.PollInterval,
		Tags: map[capture.Stream]string{
			capture.Stdout: c.Capture.Stdout.Tag,
			capture.Stderr: c.Capture.Stderr.Tag,
		},
	}
}

// Redirector returns the redirector selected by capture.redirect.
func (c *Config) Redirector() capture.Redirector {
	if c.Capture.Redirect == RedirectPTY {
		return capture.PTYRedirector{}
	}
	return capture.PipeRedirector{}
}

// Severities returns the stdout and stderr severities. Call Validate first.
func (c *Config) Severities() (stdout, stderr logsink.Severity) {
	stdout, _ = logsink.ParseSeverity(c.Capture.Stdout.Severity)
	stderr, _ = logsink.ParseSeverity(c.Capture.Stderr.Severity)
	return stdout, stderr
}
