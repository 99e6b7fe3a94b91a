package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/tripsync-go/internal/models"
)

var jobsTrip string

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect background jobs",
	Long: `List the jobs of a trip or inspect a specific job by ID.

Examples:
  tripsync jobs --trip danube-2026   # List a trip's jobs, most recent first
  tripsync jobs 3f2a...              # Show details for one job
  tripsync jobs 3f2a... --wait       # Follow a running job`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := apiClient.CancelJob(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("cancel job: %w", err)
		}
		fmt.Printf("Cancellation requested for job %s (status %s)\n", job.ID, job.Status)
		return nil
	},
}

func init() {
	jobsCmd.Flags().StringVar(&jobsTrip, "trip", "", "list jobs of this trip")
	jobsCmd.Flags().BoolVarP(&waitForJob, "wait", "w", false, "follow progress until the job finishes")
	jobsCmd.AddCommand(jobsCancelCmd)
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if len(args) == 1 {
		return showJob(ctx, args[0])
	}
	if jobsTrip == "" {
		return fmt.Errorf("pass a job id or --trip")
	}
	return listJobs(ctx, jobsTrip)
}

func listJobs(ctx context.Context, tripID string) error {
	jobs, err := apiClient.ListJobs(ctx, tripID)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-36s %-12s %-10s %-10s %s\n", "ID", "KIND", "STATUS", "PROGRESS", "CREATED")
	fmt.Println("------------------------------------------------------------------------------------------")

	for _, job := range jobs {
		progress := fmt.Sprintf("%d/%d", job.Progress.Completed, job.Progress.Total)
		created := job.CreatedAt.Local().Format("2006-01-02 15:04:05")
		fmt.Printf("%-36s %-12s %-10s %-10s %s\n", job.ID, job.Kind, job.Status, progress, created)
	}

	return nil
}

func showJob(ctx context.Context, id string) error {
	job, err := apiClient.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if waitForJob && !job.Status.Terminal() {
		return followJob(ctx, job)
	}
	printJob(job)
	return nil
}

func printJob(job *models.Job) {
	fmt.Printf("Job: %s\n", job.ID)
	fmt.Printf("  Kind: %s\n", job.Kind)
	fmt.Printf("  Trip: %s\n", job.TargetID)
	fmt.Printf("  Status: %s\n", job.Status)
	fmt.Printf("  Progress: %d/%d (%d%%)\n", job.Progress.Completed, job.Progress.Total, job.Progress.Percentage)
	fmt.Printf("  Created: %s\n", job.CreatedAt.Format(time.RFC3339))
	if job.StartedAt != nil {
		fmt.Printf("  Started: %s\n", job.StartedAt.Format(time.RFC3339))
	}
	if job.CompletedAt != nil {
		fmt.Printf("  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
		if job.StartedAt != nil {
			fmt.Printf("  Duration: %s\n", job.CompletedAt.Sub(*job.StartedAt).Round(time.Millisecond))
		}
	}

	if job.Error != "" {
		fmt.Printf("  Error: %s\n", job.Error)
	}

	if len(job.Result) > 0 {
		fmt.Println("\nResult:")
		fmt.Print(formatResult(job.Result))
	}
}
