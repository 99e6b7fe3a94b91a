package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/tripsync-go/internal/client"
	"github.com/raphaelgruber/tripsync-go/internal/consistency"
)

var syncAfterToggle bool

var syncStepCmd = &cobra.Command{
	Use:   "sync-step <step-id>",
	Short: "Recompute one step's window and its travel links now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := apiClient.SyncStep(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("sync step: %w", err)
		}
		printSync(res)
		return nil
	},
}

var toggleCmd = &cobra.Command{
	Use:   "toggle lodging|activity <id> <true|false>",
	Short: "Activate or deactivate a lodging or activity",
	Long: `Activate or deactivate a lodging or activity. Inactive children are ignored when
step windows are recomputed.

Examples:
  tripsync toggle lodging hostel-1 false
  tripsync toggle activity castle-tour true --sync`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		active, err := strconv.ParseBool(args[2])
		if err != nil {
			return fmt.Errorf("active must be true or false: %w", err)
		}

		var res *client.ToggleResult
		switch args[0] {
		case "lodging":
			res, err = apiClient.SetLodgingActive(cmd.Context(), args[1], active, syncAfterToggle)
		case "activity":
			res, err = apiClient.SetActivityActive(cmd.Context(), args[1], active, syncAfterToggle)
		default:
			return fmt.Errorf("unknown child type %q (want lodging or activity)", args[0])
		}
		if err != nil {
			return fmt.Errorf("toggle %s: %w", args[0], err)
		}

		fmt.Printf("%s %s is now active=%v\n", args[0], args[1], active)
		if res.Sync != nil {
			printSync(res.Sync)
		}
		return nil
	},
}

func init() {
	toggleCmd.Flags().BoolVar(&syncAfterToggle, "sync", false, "re-sync the parent step afterwards")
	rootCmd.AddCommand(syncStepCmd, toggleCmd)
}

func printSync(res *consistency.SyncResult) {
	fmt.Printf("Step %s\n", res.StepID)
	if res.Changed {
		fmt.Printf("  Window: %s → %s  (was %s → %s)\n",
			orDash(string(res.After.Arrival)), orDash(string(res.After.Departure)),
			orDash(string(res.Before.Arrival)), orDash(string(res.Before.Departure)))
	} else {
		fmt.Printf("  Window: %s → %s  (unchanged)\n",
			orDash(string(res.After.Arrival)), orDash(string(res.After.Departure)))
	}
	printLink("Previous", res.Adjacency.Previous)
	printLink("Next", res.Adjacency.Next)
}

func printLink(name string, l *consistency.Link) {
	if l == nil {
		return
	}
	fmt.Printf("  %s: %s → %s  %s", name, l.FromStepID, l.ToStepID, l.Note)
	if l.TravelTimeMinutes != nil {
		fmt.Printf("  travel %d min", *l.TravelTimeMinutes)
	}
	if l.GapMinutes != nil {
		fmt.Printf(", gap %d min", *l.GapMinutes)
	}
	if l.Reason != "" {
		fmt.Printf("  (%s)", l.Reason)
	}
	fmt.Println()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
