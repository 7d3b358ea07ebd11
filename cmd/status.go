package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/callrelay/internal/server"
	"github.com/BioHazard786/callrelay/internal/ui"
)

var (
	flagStatusURL      string
	flagStatusWatch    bool
	flagStatusInterval time.Duration
	flagStatusJSON     bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a running server",
	Long: `Fetch /status from a running server and print it.

Examples:
  callrelay status
  callrelay status --url https://signal.example.com --watch
  callrelay status --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		base := strings.TrimRight(flagStatusURL, "/")
		fetch := func(ctx context.Context) (server.Status, error) {
			return fetchStatus(ctx, base)
		}

		if flagStatusWatch {
			if flagStatusInterval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}
			return ui.RunWatch(base, flagStatusInterval, fetch)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		status, err := fetch(ctx)
		if err != nil {
			return err
		}
		if flagStatusJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.StatusView(status))
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&flagStatusURL, "url", "http://localhost:8080", "base URL of the server")
	statusCmd.Flags().BoolVarP(&flagStatusWatch, "watch", "w", false, "keep refreshing until q is pressed")
	statusCmd.Flags().DurationVar(&flagStatusInterval, "interval", 2*time.Second, "refresh interval for --watch")
	statusCmd.Flags().BoolVar(&flagStatusJSON, "json", false, "print raw JSON")
}

func fetchStatus(ctx context.Context, base string) (server.Status, error) {
	var status server.Status
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/status", nil)
	if err != nil {
		return status, fmt.Errorf("invalid server URL: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return status, fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return status, fmt.Errorf("server returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return status, fmt.Errorf("decode status: %w", err)
	}
	return status, nil
}
