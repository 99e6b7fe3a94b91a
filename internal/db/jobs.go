package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raphaelgruber/tripsync-go/internal/models"
)

const jobSelect = `SELECT * FROM job`

// CreateJob inserts a pending job together with the lock record for its target and kind.
// Both writes share one transaction, so of two racing creators exactly one commits; the
// loser gets *models.ConflictError naming the job that holds the lock.
func (c *Client) CreateJob(ctx context.Context, job *models.Job) error {
	vars := map[string]any{
		"id":         job.ID,
		"key":        job.LockKey(),
		"target":     job.TargetID,
		"kind":       string(job.Kind),
		"status":     string(job.Status),
		"total":      job.Progress.Total,
		"completed":  job.Progress.Completed,
		"percentage": job.Progress.Percentage,
		"created_at": job.CreatedAt.UTC().Format(time.RFC3339Nano),
	}

	// The lock may be released between a failed create and the lookup; retry then.
	for attempt := 0; attempt < 3; attempt++ {
		err := exec(ctx, c, `
			BEGIN TRANSACTION;
			CREATE type::record("job_lock", $key) SET job = $id;
			CREATE type::record("job", $id) SET
				target_id = $target,
				kind = $kind,
				status = $status,
				total = $total,
				completed = $completed,
				percentage = $percentage,
				created_at = <datetime>$created_at,
				updated_at = <datetime>$created_at;
			COMMIT TRANSACTION;
		`, vars)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrRecordAlreadyExists) && !errors.Is(err, ErrTransactionConflict) {
			return fmt.Errorf("create job: %w", err)
		}

		holder, lookupErr := c.lockHolder(ctx, job.LockKey())
		if lookupErr != nil {
			return fmt.Errorf("create job: %w", lookupErr)
		}
		if holder != "" {
			return &models.ConflictError{ExistingJobID: holder}
		}
	}
	return fmt.Errorf("create job: %w", ErrTransactionConflict)
}

func (c *Client) lockHolder(ctx context.Context, key string) (string, error) {
	rows, err := selectAll[struct {
		Job string `json:"job"`
	}](ctx, c, `SELECT job FROM type::record("job_lock", $key)`, map[string]any{"key": key})
	if err != nil {
		return "", fmt.Errorf("read job lock: %w", err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0].Job, nil
}

// GetJob retrieves a job by ID.
func (c *Client) GetJob(ctx context.Context, id string) (*models.Job, error) {
	rows, err := selectAll[jobRow](ctx, c, `SELECT * FROM type::record("job", $id)`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	job, err := rows[0].model()
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns the target's jobs, most recent first.
func (c *Client) ListJobs(ctx context.Context, targetID string) ([]models.Job, error) {
	rows, err := selectAll[jobRow](ctx, c, jobSelect+` WHERE target_id = $target ORDER BY created_at DESC`,
		map[string]any{"target": targetID})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return convert[jobRow, models.Job](rows)
}

// ListActiveJobs returns every pending or running job.
func (c *Client) ListActiveJobs(ctx context.Context) ([]models.Job, error) {
	rows, err := selectAll[jobRow](ctx, c, jobSelect+` WHERE status IN ["pending", "running"] ORDER BY created_at DESC`, nil)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	return convert[jobRow, models.Job](rows)
}

// MarkRunning moves a pending job to running.
func (c *Client) MarkRunning(ctx context.Context, id string, at time.Time) error {
	rows, err := selectAll[jobRow](ctx, c, `
		UPDATE type::record("job", $id) SET
			status = "running",
			started_at = <datetime>$at,
			updated_at = <datetime>$at
		WHERE status = "pending"
		RETURN AFTER
	`, map[string]any{"id": id, "at": at.UTC().Format(time.RFC3339Nano)})
	if err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	if len(rows) == 0 {
		return c.transitionError(ctx, id)
	}
	return nil
}

// UpdateJobProgress stores progress unless it would move backwards or the job is finished.
func (c *Client) UpdateJobProgress(ctx context.Context, id string, p models.JobProgress) error {
	rows, err := selectAll[jobRow](ctx, c, `
		UPDATE type::record("job", $id) SET
			total = $total,
			completed = $completed,
			percentage = $percentage,
			updated_at = time::now()
		WHERE status IN ["pending", "running"] AND completed <= $completed
		RETURN AFTER
	`, map[string]any{
		"id":         id,
		"total":      p.Total,
		"completed":  p.Completed,
		"percentage": p.Percentage,
	})
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if len(rows) > 0 {
		return nil
	}

	job, err := c.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s is %s: %w", id, job.Status, models.ErrConflict)
	}
	// Stale report; stored progress is already ahead.
	return nil
}

// FinishJob moves a job to a terminal status and releases its lock in one transaction.
func (c *Client) FinishJob(ctx context.Context, id string, status models.JobStatus, result map[string]any, errMsg string, at time.Time) error {
	resultClause := ""
	vars := map[string]any{
		"id":     id,
		"status": string(status),
		"error":  errMsg,
		"at":     at.UTC().Format(time.RFC3339Nano),
	}
	if result != nil {
		resultClause = "result = $result,"
		vars["result"] = result
	}

	err := exec(ctx, c, fmt.Sprintf(`
		BEGIN TRANSACTION;
		LET $job = (SELECT * FROM ONLY type::record("job", $id));
		IF $job = NONE {
			THROW "%s";
		};
		IF $job.status IN ["completed", "failed", "cancelled"] {
			THROW "%s";
		};
		UPDATE type::record("job", $id) SET
			status = $status,
			%s
			error = $error,
			completed_at = <datetime>$at,
			updated_at = <datetime>$at;
		DELETE type::record("job_lock", string::concat($job.kind, ":", $job.target_id)) WHERE job = $id;
		COMMIT TRANSACTION;
	`, throwNotFound, throwTerminal, resultClause), vars)
	if err != nil {
		return fmt.Errorf("finish job %s: %w", id, err)
	}
	return nil
}

// transitionError explains why a conditional update matched nothing.
func (c *Client) transitionError(ctx context.Context, id string) error {
	job, err := c.GetJob(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("job %s is %s: %w", id, job.Status, models.ErrConflict)
}
