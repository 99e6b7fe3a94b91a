package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/raphaelgruber/tripsync-go/internal/metrics"
	"github.com/raphaelgruber/tripsync-go/internal/models"
)

// DefaultMaxConcurrent bounds parallel jobs when Options leaves it unset.
const DefaultMaxConcurrent = 4

// ReportFunc records that completed units of work are done.
type ReportFunc func(completed int)

// WorkFunc is the body of a job. It must stop early when ctx is cancelled.
// The returned value is stored as the job result after a JSON round trip.
type WorkFunc func(ctx context.Context, report ReportFunc) (any, error)

// Options configures a Supervisor.
type Options struct {
	MaxConcurrent int
	Metrics       *metrics.Collector
	Prometheus    *metrics.Prometheus
}

// Supervisor owns every state transition of the jobs it runs.
type Supervisor struct {
	store   Store
	sem     *semaphore.Weighted
	metrics *metrics.Collector
	prom    *metrics.Prometheus

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	running map[string]*run

	now func() time.Time
}

// run is the in-process handle of a detached job.
type run struct {
	kind      models.JobKind
	cancel    context.CancelFunc
	cancelled bool
}

// NewSupervisor creates a supervisor that persists jobs in store.
func NewSupervisor(store Store, opts Options) *Supervisor {
	limit := opts.MaxConcurrent
	if limit <= 0 {
		limit = DefaultMaxConcurrent
	}
	base, stop := context.WithCancel(context.Background())
	return &Supervisor{
		store:   store,
		sem:     semaphore.NewWeighted(int64(limit)),
		metrics: opts.Metrics,
		prom:    opts.Prometheus,
		base:    base,
		stop:    stop,
		running: make(map[string]*run),
		now:     time.Now,
	}
}

// CreateJob persists a pending job for target and kind with units of work.
func (s *Supervisor) CreateJob(ctx context.Context, targetID string, kind models.JobKind, units int) (*models.Job, error) {
	if _, err := models.ParseJobKind(string(kind)); err != nil {
		return nil, fmt.Errorf("%q: %w", kind, err)
	}

	now := s.now().UTC()
	job := &models.Job{
		ID:        uuid.New().String(),
		TargetID:  targetID,
		Kind:      kind,
		Status:    models.JobStatusPending,
		Progress:  models.NewJobProgress(0, units),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		var conflict *models.ConflictError
		if errors.As(err, &conflict) {
			slog.Info("job already active", "target_id", targetID, "kind", kind, "existing_job_id", conflict.ExistingJobID)
		}
		return nil, err
	}

	s.prom.JobCreated(string(kind))
	slog.Info("job created", "job_id", job.ID, "kind", kind, "target_id", targetID, "units", units)
	return job, nil
}

// RunDetached starts work for a pending job without blocking the caller.
//
// The job waits for a free slot in pending state, then becomes running. Progress reported by
// work is persisted in order and never moves backwards. The terminal status is written after
// the last progress update.
func (s *Supervisor) RunDetached(ctx context.Context, jobID string, work WorkFunc) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusPending {
		return fmt.Errorf("job %s is %s: %w", jobID, job.Status, models.ErrConflict)
	}

	runCtx, cancel := context.WithCancel(s.base)
	r := &run{kind: job.Kind, cancel: cancel}

	s.mu.Lock()
	if _, ok := s.running[jobID]; ok {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("job %s already dispatched: %w", jobID, models.ErrConflict)
	}
	s.running[jobID] = r
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.running, jobID)
			s.mu.Unlock()
		}()
		s.execute(runCtx, *job, r, work)
	}()
	return nil
}

func (s *Supervisor) execute(ctx context.Context, job models.Job, r *run, work WorkFunc) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.finish(job, false, nil, s.interruption(r, err))
		return
	}
	defer s.sem.Release(1)

	started := s.now().UTC()
	if err := s.store.MarkRunning(ctx, job.ID, started); err != nil {
		// Cancelled or swept while waiting for a slot.
		slog.Warn("job could not start", "job_id", job.ID, "error", err)
		if !errors.Is(err, models.ErrConflict) {
			s.finish(job, false, nil, err)
		}
		return
	}
	s.prom.JobStarted(string(job.Kind))
	slog.Info("job started", "job_id", job.ID, "kind", job.Kind, "target_id", job.TargetID)

	rec := newRecorder(s.store, job.ID, job.Progress.Total)
	go rec.loop()

	var (
		result any
		err    error
	)
	func() {
		defer func() {
			if p := recover(); p != nil {
				slog.Error("job goroutine panicked", "job_id", job.ID, "panic", p)
				err = fmt.Errorf("internal panic: %v", p)
			}
		}()
		result, err = work(ctx, rec.report)
	}()

	if err == nil {
		rec.report(job.Progress.Total)
	}
	rec.close()

	if err != nil && ctx.Err() != nil {
		err = s.interruption(r, err)
	}
	s.finishStarted(job, started, result, err)
}

// interruption maps a context error onto the reason the job stopped.
func (s *Supervisor) interruption(r *run, err error) error {
	s.mu.Lock()
	cancelled := r.cancelled
	s.mu.Unlock()
	switch {
	case cancelled:
		return errCancelled
	case s.base.Err() != nil:
		return errors.New("interrupted by shutdown")
	}
	return err
}

var errCancelled = errors.New("cancelled")

func (s *Supervisor) finishStarted(job models.Job, started time.Time, result any, err error) {
	s.metrics.RecordTiming(metrics.OpJobRun, s.now().Sub(started))
	status := s.finish(job, true, result, err)
	s.prom.JobFinished(string(job.Kind), string(status), s.now().Sub(started).Seconds(), true)
}

// finish writes the terminal status. Store writes use a fresh context so a cancelled job
// still records why it stopped.
func (s *Supervisor) finish(job models.Job, started bool, result any, err error) models.JobStatus {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status := models.JobStatusCompleted
	var errMsg string
	var payload map[string]any

	switch {
	case errors.Is(err, errCancelled):
		status, errMsg = models.JobStatusCancelled, err.Error()
	case err != nil:
		status, errMsg = models.JobStatusFailed, err.Error()
	default:
		var convErr error
		payload, convErr = toResultMap(result)
		if convErr != nil {
			status, errMsg = models.JobStatusFailed, convErr.Error()
		}
	}

	if dbErr := s.store.FinishJob(ctx, job.ID, status, payload, errMsg, s.now().UTC()); dbErr != nil {
		slog.Warn("failed to persist job completion", "job_id", job.ID, "status", status, "error", dbErr)
	}
	if !started {
		s.prom.JobFinished(string(job.Kind), string(status), 0, false)
	}

	switch status {
	case models.JobStatusCompleted:
		slog.Info("job completed", "job_id", job.ID, "kind", job.Kind, "target_id", job.TargetID)
	case models.JobStatusCancelled:
		slog.Info("job cancelled", "job_id", job.ID, "kind", job.Kind, "target_id", job.TargetID)
	default:
		slog.Error("job failed", "job_id", job.ID, "kind", job.Kind, "target_id", job.TargetID, "error", errMsg)
	}
	return status
}

// GetStatus returns the persisted job.
func (s *Supervisor) GetStatus(ctx context.Context, jobID string) (*models.Job, error) {
	return s.store.GetJob(ctx, jobID)
}

// ListJobs returns the target's jobs, most recent first.
func (s *Supervisor) ListJobs(ctx context.Context, targetID string) ([]models.Job, error) {
	return s.store.ListJobs(ctx, targetID)
}

// CancelJob stops a non-terminal job. Jobs running in this process stop at their next
// cancellation check; jobs owned by nobody here are marked cancelled directly.
func (s *Supervisor) CancelJob(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, fmt.Errorf("job %s is %s: %w", jobID, job.Status, models.ErrConflict)
	}

	s.mu.Lock()
	r, ok := s.running[jobID]
	if ok {
		r.cancelled = true
		r.cancel()
	}
	s.mu.Unlock()

	if !ok {
		if err := s.store.FinishJob(ctx, jobID, models.JobStatusCancelled, nil, errCancelled.Error(), s.now().UTC()); err != nil {
			return nil, err
		}
		s.prom.JobFinished(string(job.Kind), string(models.JobStatusCancelled), 0, false)
		slog.Info("job cancelled", "job_id", jobID, "kind", job.Kind, "target_id", job.TargetID)
	}

	return s.store.GetJob(ctx, jobID)
}

// SweepStale fails active jobs not owned by this process whose last update is older than
// threshold. It returns how many jobs were swept.
func (s *Supervisor) SweepStale(ctx context.Context, threshold time.Duration) (int, error) {
	active, err := s.store.ListActiveJobs(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-threshold)
	swept := 0
	for _, job := range active {
		if s.owns(job.ID) || job.UpdatedAt.After(cutoff) {
			continue
		}
		msg := fmt.Sprintf("stale: no progress for %s", threshold)
		if err := s.store.FinishJob(ctx, job.ID, models.JobStatusFailed, nil, msg, s.now().UTC()); err != nil {
			if errors.Is(err, models.ErrConflict) {
				continue
			}
			return swept, err
		}
		s.prom.JobFinished(string(job.Kind), string(models.JobStatusFailed), 0, false)
		slog.Warn("stale job failed", "job_id", job.ID, "kind", job.Kind, "target_id", job.TargetID,
			"last_update", job.UpdatedAt)
		swept++
	}
	return swept, nil
}

// RecoverInterrupted fails every non-terminal job left behind by a previous process.
// Call it once at startup, before any job is dispatched.
func (s *Supervisor) RecoverInterrupted(ctx context.Context) (int, error) {
	active, err := s.store.ListActiveJobs(ctx)
	if err != nil {
		return 0, err
	}
	if len(active) == 0 {
		slog.Info("no interrupted jobs to recover")
		return 0, nil
	}

	recovered := 0
	for _, job := range active {
		if s.owns(job.ID) {
			continue
		}
		if err := s.store.FinishJob(ctx, job.ID, models.JobStatusFailed, nil, "interrupted by restart", s.now().UTC()); err != nil {
			slog.Warn("failed to recover job", "job_id", job.ID, "error", err)
			continue
		}
		recovered++
	}
	slog.Info("recovered interrupted jobs", "count", recovered)
	return recovered, nil
}

// Shutdown interrupts running jobs and waits for them to record their terminal status.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every dispatched job has finished.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func (s *Supervisor) owns(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[jobID]
	return ok
}

func toResultMap(v any) (map[string]any, error) {
	switch r := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return r, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode job result: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("job result is not an object: %w", err)
	}
	return out, nil
}
