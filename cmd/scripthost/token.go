package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"scripthost/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate an access token for the --listen server",
	Long: `Generate a random access token. Put it in server.token or SCRIPTHOST_TOKEN
before starting run --listen, and pass it to clients as a bearer token.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), auth.GenerateToken())
	},
}
