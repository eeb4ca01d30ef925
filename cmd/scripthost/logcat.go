package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"scripthost/internal/logsink"
	"scripthost/internal/outputlog"
)

var (
	logcatTag      string
	logcatSeverity string
	logcatRaw      bool
	logcatFollow   bool
)

var logcatCmd = &cobra.Command{
	Use:           "logcat file",
	Short:         "Print lines recorded with run --log-file",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := outputlog.Filter{Tag: logcatTag}
		if logcatSeverity != "" {
			sev, err := logsink.ParseSeverity(logcatSeverity)
			if err != nil {
				return err
			}
			filter.MinSeverity = sev
		}

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer func() { _ = f.Close() }()

		var src io.Reader = f
		if logcatFollow {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			fo, err := outputlog.NewFollower(ctx, f)
			if err != nil {
				return err
			}
			defer func() { _ = fo.Close() }()
			src = fo
		}

		out := cmd.OutOrStdout()
		for rec := range outputlog.NewReader(src).Channel() {
			if rec.Error != nil {
				return fmt.Errorf("%s: %w", args[0], rec.Error)
			}
			if !filter.Match(rec) {
				continue
			}
			if logcatRaw {
				_, _ = out.Write(rec.Line)
				continue
			}
			fmt.Fprintf(out, "%s %-7s %s: %s", rec.Timestamp.Format("15:04:05.000"), rec.Severity, rec.Tag, rec.Line)
			if n := len(rec.Line); n == 0 || rec.Line[n-1] != '\n' {
				fmt.Fprintln(out)
			}
		}
		return nil
	},
}

func init() {
	logcatCmd.Flags().StringVar(&logcatTag, "tag", "", "Only lines with this tag")
	logcatCmd.Flags().StringVar(&logcatSeverity, "severity", "", "Only lines at or above this severity")
	logcatCmd.Flags().BoolVarP(&logcatFollow, "follow", "f", false, "Keep reading as lines are appended")
	logcatCmd.Flags().BoolVar(&logcatRaw, "raw", false, "Print line content only")
}
