package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "scripthost",
	Short: "scripthost - run scripts and forward their output to the log",
	Long: `scripthost runs a script's entry point through an interpreter and forwards
everything the process writes to stdout and stderr, line by line, to the log.`,
}

// exitError carries a script result or host status out of a command.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exited with status %d", e.code)
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(logcatCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.code < 0 {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
