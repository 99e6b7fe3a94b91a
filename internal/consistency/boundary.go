package consistency

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/tripsync-go/internal/models"
)

// Which selects the chronologically first or last object of a step.
type Which string

const (
	First Which = "FIRST"
	Last  Which = "LAST"
)

// BoundaryKind identifies the record a boundary was resolved from.
type BoundaryKind string

const (
	BoundaryLodging  BoundaryKind = "lodging"
	BoundaryActivity BoundaryKind = "activity"
	BoundaryStep     BoundaryKind = "step"
)

// Boundary is the uniform descriptor used to anchor travel computation.
// Zero times mean the bound is unknown. An empty address means travel cannot be computed.
type Boundary struct {
	Kind        BoundaryKind `json:"kind"`
	ID          string       `json:"id"`
	Address     string       `json:"address"`
	WindowStart time.Time    `json:"window_start"`
	WindowEnd   time.Time    `json:"window_end"`
}

// ResolveBoundaryObject returns the first or last active child of a step, or the step itself.
func (e *Engine) ResolveBoundaryObject(ctx context.Context, stepID string, which Which) (*Boundary, error) {
	step, err := e.store.GetStep(ctx, stepID)
	if err != nil {
		return nil, fmt.Errorf("get step %s: %w", stepID, err)
	}
	return e.resolveBoundary(ctx, step, which)
}

func (e *Engine) resolveBoundary(ctx context.Context, step *models.Step, which Which) (*Boundary, error) {
	if step.IsPassThrough() {
		return passThroughBoundary(step), nil
	}

	lodgings, err := e.store.ActiveLodgings(ctx, step.ID)
	if err != nil {
		return nil, fmt.Errorf("load lodgings: %w", err)
	}
	activities, err := e.store.ActiveActivities(ctx, step.ID)
	if err != nil {
		return nil, fmt.Errorf("load activities: %w", err)
	}

	lodging, lodgingAt := pickLodging(lodgings, which)
	activity, activityAt := pickActivity(activities, which)

	switch {
	case lodging != nil && activity != nil:
		// Lodging is the default candidate and keeps ties.
		if which == First && !activityAt.Before(lodgingAt) {
			return lodgingBoundary(lodging), nil
		}
		if which == Last && !activityAt.After(lodgingAt) {
			return lodgingBoundary(lodging), nil
		}
		return activityBoundary(activity), nil
	case lodging != nil:
		return lodgingBoundary(lodging), nil
	case activity != nil:
		return activityBoundary(activity), nil
	default:
		return stepBoundary(step), nil
	}
}

// pickLodging returns the active lodging with the earliest arrival (First) or latest
// departure (Last). Lodgings without a parseable instant for that side are skipped.
func pickLodging(lodgings []models.Lodging, which Which) (*models.Lodging, time.Time) {
	var best *models.Lodging
	var bestAt time.Time
	for i := range lodgings {
		l := &lodgings[i]
		if !l.Active {
			continue
		}
		ts := l.ArrivalDateTime
		if which == Last {
			ts = l.DepartureDateTime
		}
		at, ok := ts.Time()
		if !ok {
			continue
		}
		if best == nil || better(which, at, bestAt) {
			best, bestAt = l, at
		}
	}
	return best, bestAt
}

// pickActivity returns the active activity with the earliest start (First) or latest end (Last).
func pickActivity(activities []models.Activity, which Which) (*models.Activity, time.Time) {
	var best *models.Activity
	var bestAt time.Time
	for i := range activities {
		a := &activities[i]
		if !a.Active {
			continue
		}
		ts := a.StartDateTime
		if which == Last {
			ts = a.EndDateTime
		}
		at, ok := ts.Time()
		if !ok {
			continue
		}
		if best == nil || better(which, at, bestAt) {
			best, bestAt = a, at
		}
	}
	return best, bestAt
}

func better(which Which, candidate, current time.Time) bool {
	if which == First {
		return candidate.Before(current)
	}
	return candidate.After(current)
}

func lodgingBoundary(l *models.Lodging) *Boundary {
	start, _ := l.ArrivalDateTime.Time()
	end, _ := l.DepartureDateTime.Time()
	return &Boundary{Kind: BoundaryLodging, ID: l.ID, Address: l.Address, WindowStart: start, WindowEnd: end}
}

func activityBoundary(a *models.Activity) *Boundary {
	start, _ := a.StartDateTime.Time()
	end, _ := a.EndDateTime.Time()
	return &Boundary{Kind: BoundaryActivity, ID: a.ID, Address: a.Address, WindowStart: start, WindowEnd: end}
}

func stepBoundary(s *models.Step) *Boundary {
	start, _ := s.ArrivalDateTime.Time()
	end, _ := s.DepartureDateTime.Time()
	return &Boundary{Kind: BoundaryStep, ID: s.ID, Address: s.Address, WindowStart: start, WindowEnd: end}
}

// passThroughBoundary treats the step as an instant: a missing side borrows the other.
func passThroughBoundary(s *models.Step) *Boundary {
	b := stepBoundary(s)
	if b.WindowStart.IsZero() {
		b.WindowStart = b.WindowEnd
	}
	if b.WindowEnd.IsZero() {
		b.WindowEnd = b.WindowStart
	}
	return b
}
