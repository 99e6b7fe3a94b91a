package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/tripsync-go/internal/models"
)

// recorder decouples the worker body from progress persistence.
// Reports are delivered over a channel and written in order; stale or out-of-range
// values are dropped so stored progress only grows.
type recorder struct {
	store Store
	jobID string
	total int

	updates chan int
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

func newRecorder(store Store, jobID string, total int) *recorder {
	return &recorder{
		store:   store,
		jobID:   jobID,
		total:   total,
		updates: make(chan int),
		done:    make(chan struct{}),
	}
}

// report is handed to the worker. Calls after close are ignored.
func (r *recorder) report(completed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.updates <- completed
}

// close stops accepting reports and waits for pending writes.
func (r *recorder) close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.updates)
	}
	r.mu.Unlock()
	<-r.done
}

func (r *recorder) loop() {
	defer close(r.done)
	last := 0
	for completed := range r.updates {
		if completed > r.total {
			completed = r.total
		}
		if completed <= last {
			continue
		}
		last = completed

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := r.store.UpdateJobProgress(ctx, r.jobID, models.NewJobProgress(completed, r.total))
		cancel()
		if err != nil {
			slog.Warn("failed to persist job progress", "job_id", r.jobID, "completed", completed, "error", err)
		}
	}
}
