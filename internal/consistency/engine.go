package consistency

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/tripsync-go/internal/metrics"
	"github.com/raphaelgruber/tripsync-go/internal/models"
	"github.com/raphaelgruber/tripsync-go/internal/travel"
)

// Options configures an Engine.
type Options struct {
	WarningThresholdMinutes int
	Metrics                 *metrics.Collector
	Prometheus              *metrics.Prometheus
}

// Engine recomputes step windows and adjacency travel times.
//
// All mutations for one trip are serialized inside the process, so a synchronous
// step sync and a running job cannot interleave read-modify-write cycles on the same steps.
type Engine struct {
	store    Store
	provider travel.Provider
	warning  int
	metrics  *metrics.Collector
	prom     *metrics.Prometheus
	trips    keyedMutex
}

// NewEngine creates a consistency engine.
func NewEngine(store Store, provider travel.Provider, opts Options) *Engine {
	warning := opts.WarningThresholdMinutes
	if warning <= 0 {
		warning = DefaultWarningThresholdMinutes
	}
	return &Engine{
		store:    store,
		provider: provider,
		warning:  warning,
		metrics:  opts.Metrics,
		prom:     opts.Prometheus,
	}
}

// WarningThreshold returns the configured warning slack in minutes.
func (e *Engine) WarningThreshold() int {
	return e.warning
}

// SyncResult is the outcome of a synchronous single-step recomputation.
type SyncResult struct {
	StepID    string          `json:"step_id"`
	Changed   bool            `json:"changed"`
	Before    Window          `json:"before"`
	After     Window          `json:"after"`
	Adjacency AdjacencyResult `json:"adjacency"`
}

// SyncStep recomputes the step window and then refreshes travel to its neighbours.
func (e *Engine) SyncStep(ctx context.Context, stepID string) (*SyncResult, error) {
	defer e.metrics.Since(metrics.OpStepSync)()

	step, unlock, err := e.lockStep(ctx, stepID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	change, err := e.recomputeWindow(ctx, step)
	if err != nil {
		return nil, err
	}

	// Reload so adjacency sees the window just written.
	step, err = e.store.GetStep(ctx, stepID)
	if err != nil {
		return nil, fmt.Errorf("reload step: %w", err)
	}
	adj, err := e.refreshAdjacency(ctx, step)
	if err != nil {
		return nil, err
	}

	return &SyncResult{
		StepID:    stepID,
		Changed:   change.Changed,
		Before:    change.Before,
		After:     change.After,
		Adjacency: *adj,
	}, nil
}

// lockStep loads the step, takes the lock for its trip, and reloads the step under the lock.
func (e *Engine) lockStep(ctx context.Context, stepID string) (*models.Step, func(), error) {
	step, err := e.store.GetStep(ctx, stepID)
	if err != nil {
		return nil, nil, fmt.Errorf("get step %s: %w", stepID, err)
	}

	unlock := e.trips.Lock(step.TripID)
	step, err = e.store.GetStep(ctx, stepID)
	if err != nil {
		unlock()
		return nil, nil, fmt.Errorf("get step %s: %w", stepID, err)
	}
	return step, unlock, nil
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until key is held and returns the matching unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedEntry)
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func logProviderFailure(from, to string, err error, started time.Time) {
	slog.Warn("travel provider failed, marking hop inconsistent",
		"from_step", from, "to_step", to, "error", err, "duration_ms", time.Since(started).Milliseconds())
}
