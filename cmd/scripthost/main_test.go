package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"scripthost/internal/config"
	"scripthost/internal/logsink"
	"scripthost/internal/outputlog"
)

func writeLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.log")
	f, err := os.Create(path)
	require.NoError(t, err)

	w := outputlog.NewWriter(f)
	w.Write(logsink.Debug, "stdout", "hello\n")
	w.Write(logsink.Error, "stderr", "boom\n")
	w.Write(logsink.Debug, "stdout", "world\n")
	w.Close()
	require.NoError(t, f.Close())
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	logcatTag, logcatSeverity, logcatRaw, logcatFollow = "", "", false, false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestLogcatRaw(t *testing.T) {
	path := writeLog(t)

	out, err := execute(t, "logcat", "--raw", path)
	require.NoError(t, err)
	require.Equal(t, "hello\nboom\nworld\n", out)
}

func TestLogcatTagFilter(t *testing.T) {
	path := writeLog(t)

	out, err := execute(t, "logcat", "--raw", "--tag", "stdout", path)
	require.NoError(t, err)
	require.Equal(t, "hello\nworld\n", out)
}

func TestLogcatSeverityFilter(t *testing.T) {
	path := writeLog(t)

	out, err := execute(t, "logcat", "--severity", "error", path)
	require.NoError(t, err)
	require.Contains(t, out, "stderr: boom\n")
	require.NotContains(t, out, "hello")
}

func TestLogcatBadSeverity(t *testing.T) {
	path := writeLog(t)

	_, err := execute(t, "logcat", "--severity", "loud", path)
	require.Error(t, err)
}

func TestLogcatMissingFile(t *testing.T) {
	_, err := execute(t, "logcat", filepath.Join(t.TempDir(), "missing.log"))
	require.Error(t, err)
}

func newRunFlags(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "run"}
	addRunFlags(cmd)
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func TestLoadRunConfigFlagsOverride(t *testing.T) {
	t.Setenv("SCRIPTHOST_HOME", "/from/env")

	cmd := newRunFlags(t, "--home", "/from/flag", "--mode", "poll", "--capture-first")
	cfg, err := loadRunConfig(cmd)
	require.NoError(t, err)
	require.Equal(t, "/from/flag", cfg.Interpreter.Home)
	require.Equal(t, "poll", cfg.Capture.Mode)
	require.Equal(t, config.StartBeforeRun, cfg.Capture.Start)
}

func TestLoadRunConfigRequiresHome(t *testing.T) {
	t.Setenv("SCRIPTHOST_HOME", "")

	cmd := newRunFlags(t)
	_, err := loadRunConfig(cmd)
	require.Error(t, err)
}

func TestLoadRunConfigInvalidMode(t *testing.T) {
	cmd := newRunFlags(t, "--home", "/x", "--mode", "busy")
	_, err := loadRunConfig(cmd)
	require.Error(t, err)
}

func TestExitError(t *testing.T) {
	var err error = &exitError{code: -3}
	var ee *exitError
	require.True(t, errors.As(err, &ee))
	require.Equal(t, -3, ee.code)
	require.Equal(t, "exited with status -3", err.Error())
}

func TestToken(t *testing.T) {
	out, err := execute(t, "token")
	require.NoError(t, err)
	require.Len(t, out, 65)
}
