package consistency

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/tripsync-go/internal/models"
)

// Window is a step's arrival/departure pair.
type Window struct {
	Arrival   models.Timestamp `json:"arrival"`
	Departure models.Timestamp `json:"departure"`
}

// WindowChange describes a recomputation.
type WindowChange struct {
	StepID  string `json:"step_id"`
	Before  Window `json:"before"`
	After   Window `json:"after"`
	Changed bool   `json:"changed"`
}

// RecomputeWindow sets the step window to the bounding interval of its active children.
//
// Inactive children and unparseable timestamps are ignored. When no active child yields a
// start (or an end), that side of the existing window is left untouched. The step is only
// written when a value actually changes.
func (e *Engine) RecomputeWindow(ctx context.Context, stepID string) (*WindowChange, error) {
	step, unlock, err := e.lockStep(ctx, stepID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return e.recomputeWindow(ctx, step)
}

func (e *Engine) recomputeWindow(ctx context.Context, step *models.Step) (*WindowChange, error) {
	lodgings, err := e.store.ActiveLodgings(ctx, step.ID)
	if err != nil {
		return nil, fmt.Errorf("load lodgings: %w", err)
	}
	activities, err := e.store.ActiveActivities(ctx, step.ID)
	if err != nil {
		return nil, fmt.Errorf("load activities: %w", err)
	}

	var bounds windowBounds
	for _, l := range lodgings {
		if !l.Active {
			continue
		}
		bounds.addStart(l.ArrivalDateTime)
		bounds.addEnd(l.DepartureDateTime)
	}
	for _, a := range activities {
		if !a.Active {
			continue
		}
		bounds.addStart(a.StartDateTime)
		bounds.addEnd(a.EndDateTime)
	}

	before := Window{Arrival: step.ArrivalDateTime, Departure: step.DepartureDateTime}
	after := before
	if bounds.hasStart && !sameInstant(before.Arrival, bounds.start) {
		after.Arrival = models.NewTimestamp(bounds.start)
	}
	if bounds.hasEnd && !sameInstant(before.Departure, bounds.end) {
		after.Departure = models.NewTimestamp(bounds.end)
	}

	change := &WindowChange{StepID: step.ID, Before: before, After: after, Changed: after != before}
	if !change.Changed {
		return change, nil
	}

	if err := e.store.UpdateStepWindow(ctx, step.ID, after.Arrival, after.Departure); err != nil {
		return nil, fmt.Errorf("update step window: %w", err)
	}
	step.ArrivalDateTime = after.Arrival
	step.DepartureDateTime = after.Departure
	return change, nil
}

type windowBounds struct {
	start, end       time.Time
	hasStart, hasEnd bool
}

func (b *windowBounds) addStart(ts models.Timestamp) {
	t, ok := ts.Time()
	if !ok {
		return
	}
	if !b.hasStart || t.Before(b.start) {
		b.start, b.hasStart = t, true
	}
}

func (b *windowBounds) addEnd(ts models.Timestamp) {
	t, ok := ts.Time()
	if !ok {
		return
	}
	if !b.hasEnd || t.After(b.end) {
		b.end, b.hasEnd = t, true
	}
}

// sameInstant reports whether ts already denotes t, whatever its textual layout.
func sameInstant(ts models.Timestamp, t time.Time) bool {
	existing, ok := ts.Time()
	return ok && existing.Equal(t)
}
