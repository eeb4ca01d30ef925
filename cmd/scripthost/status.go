package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	statusURL   string
	statusToken string
)

var statusCmd = &cobra.Command{
	Use:           "status",
	Short:         "Show capture status of a running scripthost (started with --listen)",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		url := strings.TrimSuffix(statusURL, "/")
		if !strings.Contains(url, "://") {
			url = "http://" + url
		}

		token := statusToken
		if token == "" {
			token = os.Getenv("SCRIPTHOST_TOKEN")
		}

		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url+"/status", nil)
		if err != nil {
			return err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to query status: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read status: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status request failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
		}

		var pretty bytes.Buffer
		if err := json.Indent(&pretty, body, "", "  "); err != nil {
			return fmt.Errorf("invalid status document: %w", err)
		}
		pretty.WriteByte('\n')
		_, err = cmd.OutOrStdout().Write(pretty.Bytes())
		return err
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusToken, "token", "", "Access token (default: $SCRIPTHOST_TOKEN)")
	statusCmd.Flags().StringVar(&statusURL, "listen", "127.0.0.1:8089", "Address scripthost is listening on")
}
