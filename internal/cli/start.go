package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/tripsync-go/internal/client"
	"github.com/raphaelgruber/tripsync-go/internal/models"
)

var waitForJob bool

// jobCommands maps CLI verbs onto job kinds.
var jobCommands = []struct {
	use   string
	kind  models.JobKind
	short string
	long  string
}{
	{"resync", models.JobKindResync, "Recompute every step window and travel time of a trip",
		"Recompute each step's arrival/departure from its active lodgings and activities,\nthen refresh travel times and consistency notes between consecutive steps."},
	{"travel", models.JobKindTravelTime, "Refresh travel times between the steps of a trip",
		"Re-query the travel-time provider for every hop and re-classify each step\nwithout changing step windows."},
	{"tasks", models.JobKindTasks, "Generate preparation tasks for a trip",
		"Ask the configured LLM for preparation tasks and add the new ones to the trip."},
	{"narrate", models.JobKindNarrative, "Generate a narrative for every step of a trip",
		"Ask the configured LLM for a short travel-journal paragraph per step."},
}

func init() {
	for _, jc := range jobCommands {
		cmd := &cobra.Command{
			Use:   jc.use + " <trip-id>",
			Short: jc.short,
			Long: jc.long + fmt.Sprintf(`

Examples:
  tripsync %[1]s danube-2026
  tripsync %[1]s danube-2026 --wait`, jc.use),
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return startJob(cmd.Context(), args[0], jc.kind)
			},
		}
		cmd.Flags().BoolVarP(&waitForJob, "wait", "w", false, "follow progress until the job finishes")
		rootCmd.AddCommand(cmd)
	}
}

func startJob(ctx context.Context, tripID string, kind models.JobKind) error {
	job, err := apiClient.StartJob(ctx, tripID, string(kind))
	if err != nil {
		existing, ok := client.IsConflict(err)
		if !ok || existing == "" {
			return fmt.Errorf("start %s job: %w", kind, err)
		}
		fmt.Printf("A %s job is already running for %s: %s\n", kind, tripID, existing)
		if !waitForJob {
			return nil
		}
		if job, err = apiClient.GetJob(ctx, existing); err != nil {
			return fmt.Errorf("get job: %w", err)
		}
	} else {
		fmt.Printf("Started %s job %s (%d units)\n", kind, job.ID, job.Progress.Total)
	}

	if !waitForJob {
		fmt.Printf("Use 'tripsync jobs %s' to check status.\n", job.ID)
		return nil
	}
	return followJob(ctx, job)
}
