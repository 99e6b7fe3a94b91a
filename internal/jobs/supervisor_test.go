package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/tripsync-go/internal/memstore"
	"github.com/raphaelgruber/tripsync-go/internal/models"
)

// progressLog records every progress write that reaches the store.
type progressLog struct {
	*memstore.Store
	mu     sync.Mutex
	writes []int
}

func (p *progressLog) UpdateJobProgress(ctx context.Context, id string, progress models.JobProgress) error {
	p.mu.Lock()
	p.writes = append(p.writes, progress.Completed)
	p.mu.Unlock()
	return p.Store.UpdateJobProgress(ctx, id, progress)
}

func (p *progressLog) snapshot() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.writes...)
}

func waitForStatus(t *testing.T, s *Supervisor, id string, want models.JobStatus) *models.Job {
	t.Helper()
	var job *models.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = s.GetStatus(context.Background(), id)
		return err == nil && job.Status == want
	}, 2*time.Second, 5*time.Millisecond, "job %s never reached %s", id, want)
	return job
}

func TestCreateJob(t *testing.T) {
	ctx := context.Background()
	s := NewSupervisor(memstore.New(), Options{})

	job, err := s.CreateJob(ctx, "trip-1", models.JobKindResync, 5)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, models.JobProgress{Total: 5}, job.Progress)

	_, err = s.CreateJob(ctx, "trip-1", models.JobKindResync, 5)
	var conflict *models.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, job.ID, conflict.ExistingJobID)
	assert.ErrorIs(t, err, models.ErrConflict)

	// Other kinds and targets are independent.
	_, err = s.CreateJob(ctx, "trip-1", models.JobKindTravelTime, 5)
	require.NoError(t, err)
	_, err = s.CreateJob(ctx, "trip-2", models.JobKindResync, 5)
	require.NoError(t, err)

	_, err = s.CreateJob(ctx, "trip-1", models.JobKind("teleport"), 1)
	assert.ErrorIs(t, err, models.ErrInvalidKind)
}

func TestCreateJob_SingleFlightRace(t *testing.T) {
	ctx := context.Background()
	s := NewSupervisor(memstore.New(), Options{})

	const callers = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   []string
		conflicts []string
	)
	start := make(chan struct{})
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			job, err := s.CreateJob(ctx, "trip-1", models.JobKindTravelTime, 3)
			mu.Lock()
			defer mu.Unlock()
			var conflict *models.ConflictError
			switch {
			case err == nil:
				created = append(created, job.ID)
			case errors.As(err, &conflict):
				conflicts = append(conflicts, conflict.ExistingJobID)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Len(t, created, 1)
	require.Len(t, conflicts, callers-1)
	for _, id := range conflicts {
		assert.Equal(t, created[0], id)
	}
}

func TestRunDetached_Completes(t *testing.T) {
	ctx := context.Background()
	store := &progressLog{Store: memstore.New()}
	s := NewSupervisor(store, Options{})

	job, err := s.CreateJob(ctx, "trip-1", models.JobKindResync, 3)
	require.NoError(t, err)

	type summary struct {
		TotalSteps int `json:"total_steps"`
	}
	err = s.RunDetached(ctx, job.ID, func(ctx context.Context, report ReportFunc) (any, error) {
		for i := 1; i <= 3; i++ {
			report(i)
		}
		return summary{TotalSteps: 3}, nil
	})
	require.NoError(t, err)
	s.Wait()

	got, err := s.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, models.JobProgress{Total: 3, Completed: 3, Percentage: 100}, got.Progress)
	assert.Equal(t, float64(3), got.Result["total_steps"])
	assert.Empty(t, got.Error)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, []int{1, 2, 3}, store.snapshot())

	// A finished job releases its single-flight slot.
	_, err = s.CreateJob(ctx, "trip-1", models.JobKindResync, 3)
	require.NoError(t, err)
}

func TestRunDetached_MonotonicProgress(t *testing.T) {
	ctx := context.Background()
	store := &progressLog{Store: memstore.New()}
	s := NewSupervisor(store, Options{})

	job, err := s.CreateJob(ctx, "trip-1", models.JobKindTravelTime, 4)
	require.NoError(t, err)

	require.NoError(t, s.RunDetached(ctx, job.ID, func(ctx context.Context, report ReportFunc) (any, error) {
		for _, n := range []int{1, 3, 2, 3, 9} {
			report(n)
		}
		return nil, nil
	}))
	s.Wait()

	writes := store.snapshot()
	assert.Equal(t, []int{1, 3, 4}, writes)
	assert.IsNonDecreasing(t, writes)

	got, err := s.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Progress.Completed)
	assert.Nil(t, got.Result)
}

func TestRunDetached_CompletionFillsProgress(t *testing.T) {
	ctx := context.Background()
	s := NewSupervisor(memstore.New(), Options{})

	job, err := s.CreateJob(ctx, "trip-1", models.JobKindTasks, 1)
	require.NoError(t, err)
	require.NoError(t, s.RunDetached(ctx, job.ID, func(context.Context, ReportFunc) (any, error) {
		return map[string]any{"tasks_created": 2}, nil
	}))
	s.Wait()

	got, err := s.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress.Percentage)
	assert.Equal(t, 2, got.Result["tasks_created"])
}

func TestRunDetached_Failure(t *testing.T) {
	ctx := context.Background()
	s := NewSupervisor(memstore.New(), Options{})

	tests := []struct {
		name    string
		work    WorkFunc
		wantErr string
	}{
		{
			name: "returned error keeps partial progress",
			work: func(ctx context.Context, report ReportFunc) (any, error) {
				report(1)
				return nil, errors.New("store unavailable")
			},
			wantErr: "store unavailable",
		},
		{
			name: "panic",
			work: func(ctx context.Context, report ReportFunc) (any, error) {
				report(1)
				panic("boom")
			},
			wantErr: "internal panic: boom",
		},
		{
			name: "unencodable result",
			work: func(ctx context.Context, report ReportFunc) (any, error) {
				report(1)
				return []string{"not", "an", "object"}, nil
			},
			wantErr: "job result is not an object",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := s.CreateJob(ctx, tt.name, models.JobKindNarrative, 4)
			require.NoError(t, err)
			require.NoError(t, s.RunDetached(ctx, job.ID, tt.work))
			s.Wait()

			got, err := s.GetStatus(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, models.JobStatusFailed, got.Status)
			assert.Contains(t, got.Error, tt.wantErr)
			assert.GreaterOrEqual(t, got.Progress.Completed, 1)
		})
	}
}

func TestRunDetached_Rejects(t *testing.T) {
	ctx := context.Background()
	s := NewSupervisor(memstore.New(), Options{})
	noop := func(context.Context, ReportFunc) (any, error) { return nil, nil }

	err := s.RunDetached(ctx, "missing", noop)
	assert.ErrorIs(t, err, models.ErrNotFound)

	job, err := s.CreateJob(ctx, "trip-1", models.JobKindResync, 1)
	require.NoError(t, err)
	require.NoError(t, s.RunDetached(ctx, job.ID, noop))
	s.Wait()

	err = s.RunDetached(ctx, job.ID, noop)
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestCancelJob(t *testing.T) {
	ctx := context.Background()
	s := NewSupervisor(memstore.New(), Options{})

	job, err := s.CreateJob(ctx, "trip-1", models.JobKindResync, 10)
	require.NoError(t, err)

	started := make(chan struct{})
	require.NoError(t, s.RunDetached(ctx, job.ID, func(ctx context.Context, report ReportFunc) (any, error) {
		report(2)
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	<-started

	_, err = s.CancelJob(ctx, job.ID)
	require.NoError(t, err)

	got := waitForStatus(t, s, job.ID, models.JobStatusCancelled)
	assert.Equal(t, 2, got.Progress.Completed)
	assert.Equal(t, "cancelled", got.Error)

	_, err = s.CancelJob(ctx, job.ID)
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = s.CancelJob(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCancelJob_NotDispatched(t *testing.T) {
	ctx := context.Background()
	s := NewSupervisor(memstore.New(), Options{})

	job, err := s.CreateJob(ctx, "trip-1", models.JobKindTasks, 1)
	require.NoError(t, err)

	got, err := s.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, got.Status)

	_, err = s.CreateJob(ctx, "trip-1", models.JobKindTasks, 1)
	assert.NoError(t, err)
}

func TestRunDetached_BoundedConcurrency(t *testing.T) {
	ctx := context.Background()
	s := NewSupervisor(memstore.New(), Options{MaxConcurrent: 1})

	release := make(chan struct{})
	blocking := func(ctx context.Context, report ReportFunc) (any, error) {
		<-release
		return nil, nil
	}

	first, err := s.CreateJob(ctx, "trip-1", models.JobKindResync, 1)
	require.NoError(t, err)
	second, err := s.CreateJob(ctx, "trip-2", models.JobKindResync, 1)
	require.NoError(t, err)

	require.NoError(t, s.RunDetached(ctx, first.ID, blocking))
	waitForStatus(t, s, first.ID, models.JobStatusRunning)
	require.NoError(t, s.RunDetached(ctx, second.ID, blocking))

	time.Sleep(20 * time.Millisecond)
	got, err := s.GetStatus(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status, "second job waits for a slot")

	close(release)
	s.Wait()
	waitForStatus(t, s, second.ID, models.JobStatusCompleted)
}

func TestSweepStale(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	s := NewSupervisor(store, Options{})

	orphan, err := s.CreateJob(ctx, "trip-1", models.JobKindResync, 1)
	require.NoError(t, err)

	release := make(chan struct{})
	owned, err := s.CreateJob(ctx, "trip-2", models.JobKindResync, 1)
	require.NoError(t, err)
	require.NoError(t, s.RunDetached(ctx, owned.ID, func(ctx context.Context, report ReportFunc) (any, error) {
		<-release
		return nil, nil
	}))
	waitForStatus(t, s, owned.ID, models.JobStatusRunning)

	n, err := s.SweepStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n, "fresh jobs are kept")

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = s.SweepStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetStatus(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "stale")

	close(release)
	s.Wait()
	waitForStatus(t, s, owned.ID, models.JobStatusCompleted)
}

func TestRecoverInterrupted(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	previous := NewSupervisor(store, Options{})
	job, err := previous.CreateJob(ctx, "trip-1", models.JobKindNarrative, 3)
	require.NoError(t, err)
	require.NoError(t, store.MarkRunning(ctx, job.ID, time.Now()))

	s := NewSupervisor(store, Options{})
	n, err := s.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "interrupted by restart", got.Error)

	_, err = s.CreateJob(ctx, "trip-1", models.JobKindNarrative, 3)
	assert.NoError(t, err)
}

func TestShutdown(t *testing.T) {
	ctx := context.Background()
	s := NewSupervisor(memstore.New(), Options{})

	job, err := s.CreateJob(ctx, "trip-1", models.JobKindResync, 1)
	require.NoError(t, err)
	require.NoError(t, s.RunDetached(ctx, job.ID, func(ctx context.Context, report ReportFunc) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	waitForStatus(t, s, job.ID, models.JobStatusRunning)

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(shutdownCtx))

	got, err := s.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "interrupted by shutdown", got.Error)
}

func TestListJobs(t *testing.T) {
	ctx := context.Background()
	s := NewSupervisor(memstore.New(), Options{})

	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i, kind := range []models.JobKind{models.JobKindResync, models.JobKindTravelTime, models.JobKindTasks} {
		s.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		job, err := s.CreateJob(ctx, "trip-1", kind, 1)
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	jobs, err := s.ListJobs(ctx, "trip-1")
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, ids[2], jobs[0].ID)
	assert.Equal(t, ids[0], jobs[2].ID)

	jobs, err = s.ListJobs(ctx, "trip-2")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
