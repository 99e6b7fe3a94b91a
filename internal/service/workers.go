package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/tripsync-go/internal/consistency"
	"github.com/raphaelgruber/tripsync-go/internal/jobs"
	"github.com/raphaelgruber/tripsync-go/internal/models"
)

// StepDetail describes the window change of one step during a resync.
type StepDetail struct {
	StepID  string             `json:"step_id"`
	Name    string             `json:"name"`
	Changed bool               `json:"changed"`
	Before  consistency.Window `json:"before"`
	After   consistency.Window `json:"after"`
	Note    string             `json:"consistency_note,omitempty"`
}

// ResyncResult summarizes a resync job.
type ResyncResult struct {
	TotalSteps     int          `json:"total_steps"`
	ChangedSteps   int          `json:"changed_steps"`
	UnchangedSteps int          `json:"unchanged_steps"`
	Details        []StepDetail `json:"details"`
	Errors         []string     `json:"errors"`
}

// ResyncWorker recomputes every step window and its travel links.
type ResyncWorker struct {
	store  Itinerary
	engine *consistency.Engine
}

// NewResyncWorker creates a resync worker.
func NewResyncWorker(store Itinerary, engine *consistency.Engine) *ResyncWorker {
	return &ResyncWorker{store: store, engine: engine}
}

func (w *ResyncWorker) Kind() models.JobKind { return models.JobKindResync }

func (w *ResyncWorker) Units(ctx context.Context, tripID string) (int, error) {
	return countSteps(ctx, w.store, tripID)
}

// Run walks the steps in itinerary order. A step's window is recomputed before its links so
// each hop is evaluated again once both ends are final.
func (w *ResyncWorker) Run(ctx context.Context, tripID string, report jobs.ReportFunc) (any, error) {
	steps, err := w.store.ListSteps(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	steps = consistency.OrderSteps(steps)

	slog.Info("starting resync", "trip_id", tripID, "steps", len(steps))

	result := &ResyncResult{TotalSteps: len(steps), Details: []StepDetail{}}
	var errs []error
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		detail, err := w.syncOne(ctx, step)
		if err != nil {
			if interrupted(ctx, err) {
				return result, err
			}
			slog.Warn("resync step failed", "trip_id", tripID, "step_id", step.ID, "error", err)
			errs = append(errs, fmt.Errorf("step %s: %w", step.ID, err))
		} else {
			result.Details = append(result.Details, *detail)
			if detail.Changed {
				result.ChangedSteps++
			} else {
				result.UnchangedSteps++
			}
		}
		report(i + 1)
	}
	result.Errors = errorStrings(errs)

	slog.Info("resync complete", "trip_id", tripID,
		"changed", result.ChangedSteps, "unchanged", result.UnchangedSteps, "errors", len(errs))
	return result, allFailed(len(steps), errs)
}

func (w *ResyncWorker) syncOne(ctx context.Context, step models.Step) (*StepDetail, error) {
	change, err := w.engine.RecomputeWindow(ctx, step.ID)
	if err != nil {
		return nil, fmt.Errorf("recompute window: %w", err)
	}
	adj, err := w.engine.RefreshAdjacency(ctx, step.ID)
	if err != nil {
		return nil, fmt.Errorf("refresh adjacency: %w", err)
	}

	detail := &StepDetail{
		StepID:  step.ID,
		Name:    step.Name,
		Changed: change.Changed,
		Before:  change.Before,
		After:   change.After,
	}
	if adj.Previous != nil {
		detail.Note = string(adj.Previous.Note)
	} else {
		detail.Note = string(models.NoteOK)
	}
	return detail, nil
}

// TravelTimeResult summarizes a travel-time refresh.
type TravelTimeResult struct {
	TotalDistanceKm    float64  `json:"total_distance_km"`
	TotalTravelMinutes int      `json:"total_travel_minutes"`
	InconsistentSteps  int      `json:"inconsistent_steps"`
	Errors             []string `json:"errors"`
}

// TravelTimeWorker refreshes travel links without touching step windows.
type TravelTimeWorker struct {
	store  Itinerary
	engine *consistency.Engine
}

// NewTravelTimeWorker creates a travel-time refresh worker.
func NewTravelTimeWorker(store Itinerary, engine *consistency.Engine) *TravelTimeWorker {
	return &TravelTimeWorker{store: store, engine: engine}
}

func (w *TravelTimeWorker) Kind() models.JobKind { return models.JobKindTravelTime }

func (w *TravelTimeWorker) Units(ctx context.Context, tripID string) (int, error) {
	return countSteps(ctx, w.store, tripID)
}

func (w *TravelTimeWorker) Run(ctx context.Context, tripID string, report jobs.ReportFunc) (any, error) {
	steps, err := w.store.ListSteps(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	steps = consistency.OrderSteps(steps)

	slog.Info("starting travel time refresh", "trip_id", tripID, "steps", len(steps))

	result := &TravelTimeResult{}
	var errs []error
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, err := w.engine.RefreshAdjacency(ctx, step.ID); err != nil {
			if interrupted(ctx, err) {
				return result, err
			}
			slog.Warn("travel refresh failed", "trip_id", tripID, "step_id", step.ID, "error", err)
			errs = append(errs, fmt.Errorf("step %s: %w", step.ID, err))
		}
		report(i + 1)
	}
	result.Errors = errorStrings(errs)

	// Totals come from the stored values: each hop is written by both of its ends.
	final, err := w.store.ListSteps(ctx, tripID)
	if err != nil {
		return result, fmt.Errorf("list steps: %w", err)
	}
	for _, s := range final {
		if s.DistancePreviousStep != nil {
			result.TotalDistanceKm += *s.DistancePreviousStep
		}
		if s.TravelTimePreviousStep != nil {
			result.TotalTravelMinutes += *s.TravelTimePreviousStep
		}
		if !s.IsArrivalTimeConsistent {
			result.InconsistentSteps++
		}
	}

	slog.Info("travel time refresh complete", "trip_id", tripID,
		"distance_km", result.TotalDistanceKm, "minutes", result.TotalTravelMinutes,
		"inconsistent", result.InconsistentSteps)
	return result, allFailed(len(steps), errs)
}

func countSteps(ctx context.Context, store Itinerary, tripID string) (int, error) {
	steps, err := store.ListSteps(ctx, tripID)
	if err != nil {
		return 0, fmt.Errorf("list steps: %w", err)
	}
	return len(steps), nil
}
