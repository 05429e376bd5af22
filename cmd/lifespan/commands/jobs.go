package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rich13/lifespan-beta-sub017/errors"
	"github.com/rich13/lifespan-beta-sub017/logger"
	"github.com/rich13/lifespan-beta-sub017/maintenance"
)

// JobsCmd represents the jobs command - maintenance job management
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage maintenance jobs",
	Long: `Maintenance job management.

Job management commands:
  lifespan jobs ls              # List jobs
  lifespan jobs status <id>     # Show job details
  lifespan jobs cancel <id>     # Request cancellation of an active job
  lifespan jobs run <handler>   # Enqueue a job for a built-in handler

Built-in handlers:
  spans.bulk-import        - create spans from a JSON manifest (--payload)
  spans.metrics-recompute  - recompute per-span connection counts
  spans.duplicate-cleanup  - remove placeholder duplicates of real spans`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List maintenance jobs",
	Long: `List maintenance jobs, optionally filtered by status.

Status filters: queued, running, completed, cancelled, failed

Examples:
  lifespan jobs ls                    # List all jobs
  lifespan jobs ls --status running   # List only running jobs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		statusFilter, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		return runJobsLs(statusFilter, limit)
	},
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show status of a maintenance job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsStatus(args[0])
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Request cancellation of an active job",
	Long: `Set the cancellation flag on a queued or running job. The worker polls
the flag between chunks, so cancellation takes effect within one chunk and
the job's progress counts are preserved.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsCancel(args[0])
	},
}

var jobsRunCmd = &cobra.Command{
	Use:   "run <handler-name>",
	Short: "Enqueue a job for a built-in handler",
	Long: `Enqueue a maintenance job. The job runs when a worker is active
(see 'lifespan worker').

Examples:
  lifespan jobs run spans.metrics-recompute
  lifespan jobs run spans.bulk-import --payload manifest.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payloadPath, _ := cmd.Flags().GetString("payload")
		return runJobsRun(args[0], payloadPath)
	},
}

func init() {
	jobsLsCmd.Flags().String("status", "", "Filter by status (queued, running, completed, cancelled, failed)")
	jobsLsCmd.Flags().Int("limit", 20, "Maximum number of jobs to display")
	jobsRunCmd.Flags().String("payload", "", "Path to a JSON payload file")

	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsStatusCmd)
	JobsCmd.AddCommand(jobsCancelCmd)
	JobsCmd.AddCommand(jobsRunCmd)
}

func runJobsLs(statusFilter string, limit int) error {
	database, _, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	store := maintenance.NewStore(database, logger.Logger)

	var status *maintenance.Status
	if statusFilter != "" {
		if !maintenance.IsValidStatus(statusFilter) {
			return errors.Newf("unknown status: %s", statusFilter)
		}
		s := maintenance.Status(statusFilter)
		status = &s
	}

	jobs, err := store.ListJobs(context.Background(), status, limit)
	if err != nil {
		return errors.Wrap(err, "failed to list jobs")
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-38s %-11s %-25s %-16s %s\n", "JOB ID", "STATUS", "HANDLER", "PROGRESS", "CREATED")
	for _, job := range jobs {
		progress := fmt.Sprintf("%d/%d (%.0f%%)",
			job.Progress.Processed, job.Progress.Total, job.Progress.Percentage())
		fmt.Printf("%-38s %-11s %-25s %-16s %s\n",
			job.ID,
			job.Status,
			truncate(job.HandlerName, 25),
			progress,
			job.CreatedAt.Format("2006-01-02 15:04"))
	}

	fmt.Printf("\nTotal: %d job(s)\n", len(jobs))
	return nil
}

func runJobsStatus(jobID string) error {
	database, _, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	store := maintenance.NewStore(database, logger.Logger)
	job, err := store.GetJob(context.Background(), jobID)
	if err != nil {
		return errors.Wrap(err, "failed to get job")
	}

	fmt.Printf("Job ID:  %s\n", job.ID)
	fmt.Printf("Handler: %s\n", job.HandlerName)
	fmt.Printf("Status:  %s\n", job.Status)
	if job.CancelRequested {
		fmt.Printf("Cancellation requested\n")
	}
	fmt.Printf("\n")

	fmt.Printf("Progress: %d/%d (%.1f%%)\n",
		job.Progress.Processed, job.Progress.Total, job.Progress.Percentage())
	fmt.Printf("  Created: %d\n", job.Progress.Created)
	fmt.Printf("  Skipped: %d\n", job.Progress.Skipped)
	fmt.Printf("  Errors:  %d\n", job.Progress.Errors)
	fmt.Printf("\n")

	fmt.Printf("Created: %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
	if job.StartedAt != nil {
		fmt.Printf("Started: %s\n", job.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if job.CompletedAt != nil {
		fmt.Printf("Finished: %s\n", job.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	if job.Error != "" {
		fmt.Printf("\nError: %s\n", job.Error)
	}
	return nil
}

func runJobsCancel(jobID string) error {
	database, _, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	store := maintenance.NewStore(database, logger.Logger)
	if err := store.RequestCancel(context.Background(), jobID); err != nil {
		return errors.Wrap(err, "failed to request cancellation")
	}

	fmt.Printf("Cancellation requested for job %s\n", jobID)
	fmt.Println("The job will stop at its next chunk boundary.")
	return nil
}

func runJobsRun(handlerName string, payloadPath string) error {
	database, _, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	var payload []byte
	if payloadPath != "" {
		payload, err = os.ReadFile(payloadPath)
		if err != nil {
			return errors.Wrapf(err, "failed to read payload file %s", payloadPath)
		}
	}

	store := maintenance.NewStore(database, logger.Logger)
	job, err := maintenance.NewJob(handlerName, payload)
	if err != nil {
		return err
	}
	if err := store.CreateJob(context.Background(), job); err != nil {
		return errors.Wrap(err, "failed to enqueue job")
	}

	fmt.Printf("Enqueued job %s (%s)\n", job.ID, job.HandlerName)
	return nil
}
