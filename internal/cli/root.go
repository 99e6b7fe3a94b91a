// Package cli provides the command-line interface for tripsync.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/tripsync-go/internal/client"
	"github.com/raphaelgruber/tripsync-go/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string

	cfg       config.Config
	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "tripsync",
	Short: "Keep trip itineraries consistent",
	Long: `tripsync talks to a tripsync server to recompute step windows, refresh travel
times between steps, and run AI jobs (task lists, narratives) for a trip.

Long-running work runs as server-side jobs. Start one, then follow its progress
with --wait or 'tripsync jobs <job-id>'.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		url := cfg.ServerURL
		if serverURL != "" {
			url = serverURL
		}
		apiClient = client.New(url, cfg.ClientTimeout)
		return nil
	},
}

// ExecuteContext runs the root command; subcommands receive ctx via cmd.Context().
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default $TRIPSYNC_SERVER_URL)")
}
