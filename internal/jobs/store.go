// Package jobs supervises detached, persisted units of long-running work.
package jobs

import (
	"context"
	"time"

	"github.com/raphaelgruber/tripsync-go/internal/models"
)

// Store persists jobs.
//
// CreateJob must check and insert atomically: when a non-terminal job already holds the
// (target, kind) pair it returns *models.ConflictError naming that job. FinishJob releases
// the pair again and returns models.ErrConflict for jobs that are already terminal.
type Store interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, targetID string) ([]models.Job, error)
	ListActiveJobs(ctx context.Context) ([]models.Job, error)
	MarkRunning(ctx context.Context, id string, at time.Time) error
	UpdateJobProgress(ctx context.Context, id string, progress models.JobProgress) error
	FinishJob(ctx context.Context, id string, status models.JobStatus, result map[string]any, errMsg string, at time.Time) error
}
