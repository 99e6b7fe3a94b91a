// Package service runs trip-level jobs and exposes the operations the HTTP layer calls.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/tripsync-go/internal/consistency"
	"github.com/raphaelgruber/tripsync-go/internal/jobs"
	"github.com/raphaelgruber/tripsync-go/internal/models"
)

// Itinerary is the store the services read and write.
type Itinerary interface {
	consistency.Store
	GetTrip(ctx context.Context, id string) (*models.Trip, error)
	SetStepNarrative(ctx context.Context, stepID, narrative string) error
	SetLodgingActive(ctx context.Context, id string, active bool) (*models.Lodging, error)
	SetActivityActive(ctx context.Context, id string, active bool) (*models.Activity, error)
	ListTasks(ctx context.Context, tripID string) ([]models.Task, error)
	InsertTasks(ctx context.Context, tasks []models.Task) ([]models.Task, error)
}

// Worker is the per-kind body of a trip job.
type Worker interface {
	Kind() models.JobKind
	// Units returns how many progress units a run over the trip will report.
	Units(ctx context.Context, tripID string) (int, error)
	Run(ctx context.Context, tripID string, report jobs.ReportFunc) (any, error)
}

// JobService starts and inspects trip jobs and runs synchronous step syncs.
type JobService struct {
	store      Itinerary
	supervisor *jobs.Supervisor
	engine     *consistency.Engine
	workers    map[models.JobKind]Worker
}

// NewJobService creates a job service. Kinds without a worker are rejected by StartJob.
func NewJobService(store Itinerary, supervisor *jobs.Supervisor, engine *consistency.Engine, workers ...Worker) *JobService {
	s := &JobService{
		store:      store,
		supervisor: supervisor,
		engine:     engine,
		workers:    make(map[models.JobKind]Worker, len(workers)),
	}
	for _, w := range workers {
		s.workers[w.Kind()] = w
	}
	return s
}

// Kinds returns the kinds this service can run.
func (s *JobService) Kinds() []models.JobKind {
	var out []models.JobKind
	for _, k := range models.JobKinds {
		if _, ok := s.workers[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// StartJob creates a job for the trip and runs it detached.
//
// It fails with models.ErrInvalidKind for unknown or unconfigured kinds, models.ErrNotFound
// for unknown trips and *models.ConflictError when the same kind is already active.
func (s *JobService) StartJob(ctx context.Context, tripID, kind string) (*models.Job, error) {
	k, err := models.ParseJobKind(kind)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", kind, err)
	}
	w, ok := s.workers[k]
	if !ok {
		return nil, fmt.Errorf("%s is not configured on this server: %w", k, models.ErrInvalidKind)
	}

	if _, err := s.store.GetTrip(ctx, tripID); err != nil {
		return nil, err
	}

	units, err := w.Units(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("plan %s job: %w", k, err)
	}

	job, err := s.supervisor.CreateJob(ctx, tripID, k, units)
	if err != nil {
		return nil, err
	}

	err = s.supervisor.RunDetached(ctx, job.ID, func(ctx context.Context, report jobs.ReportFunc) (any, error) {
		return w.Run(ctx, tripID, report)
	})
	if err != nil {
		// The job exists but will never run; release its single-flight slot.
		slog.Error("failed to dispatch job", "job_id", job.ID, "error", err)
		if _, cancelErr := s.supervisor.CancelJob(context.WithoutCancel(ctx), job.ID); cancelErr != nil {
			slog.Warn("failed to cancel undispatched job", "job_id", job.ID, "error", cancelErr)
		}
		return nil, fmt.Errorf("dispatch job: %w", err)
	}
	return job, nil
}

// GetJobStatus returns the job as persisted.
func (s *JobService) GetJobStatus(ctx context.Context, jobID string) (*models.Job, error) {
	return s.supervisor.GetStatus(ctx, jobID)
}

// ListJobs returns the trip's jobs, most recent first.
func (s *JobService) ListJobs(ctx context.Context, tripID string) ([]models.Job, error) {
	if _, err := s.store.GetTrip(ctx, tripID); err != nil {
		return nil, err
	}
	return s.supervisor.ListJobs(ctx, tripID)
}

// CancelJob requests cancellation of a non-terminal job.
func (s *JobService) CancelJob(ctx context.Context, jobID string) (*models.Job, error) {
	return s.supervisor.CancelJob(ctx, jobID)
}

// SyncStep recomputes one step immediately.
func (s *JobService) SyncStep(ctx context.Context, stepID string) (*consistency.SyncResult, error) {
	return s.engine.SyncStep(ctx, stepID)
}

// ToggleResult is the outcome of flipping a child's active flag.
type ToggleResult struct {
	Lodging  *models.Lodging          `json:"lodging,omitempty"`
	Activity *models.Activity         `json:"activity,omitempty"`
	Sync     *consistency.SyncResult `json:"sync,omitempty"`
}

// SetLodgingActive flips a lodging and optionally re-syncs its step.
func (s *JobService) SetLodgingActive(ctx context.Context, id string, active, sync bool) (*ToggleResult, error) {
	l, err := s.store.SetLodgingActive(ctx, id, active)
	if err != nil {
		return nil, err
	}
	res := &ToggleResult{Lodging: l}
	if sync {
		if res.Sync, err = s.engine.SyncStep(ctx, l.StepID); err != nil {
			return nil, fmt.Errorf("sync step %s: %w", l.StepID, err)
		}
	}
	return res, nil
}

// SetActivityActive flips an activity and optionally re-syncs its step.
func (s *JobService) SetActivityActive(ctx context.Context, id string, active, sync bool) (*ToggleResult, error) {
	a, err := s.store.SetActivityActive(ctx, id, active)
	if err != nil {
		return nil, err
	}
	res := &ToggleResult{Activity: a}
	if sync {
		if res.Sync, err = s.engine.SyncStep(ctx, a.StepID); err != nil {
			return nil, fmt.Errorf("sync step %s: %w", a.StepID, err)
		}
	}
	return res, nil
}

// allFailed wraps the first unit error when no unit succeeded.
func allFailed(total int, errs []error) error {
	if total == 0 || len(errs) < total {
		return nil
	}
	return fmt.Errorf("%w: %w", models.ErrAllUnitsFailed, errs[0])
}

func errorStrings(errs []error) []string {
	out := make([]string, 0, len(errs))
	for _, err := range errs {
		out = append(out, err.Error())
	}
	return out
}

// interrupted reports whether err comes from the job's own context.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
