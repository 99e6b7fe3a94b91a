package consistency

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/raphaelgruber/tripsync-go/internal/models"
)

// Link is the classified hop between two consecutive steps, stored on the later one.
type Link struct {
	FromStepID        string                 `json:"from_step_id"`
	ToStepID          string                 `json:"to_step_id"`
	From              *Boundary              `json:"from,omitempty"`
	To                *Boundary              `json:"to,omitempty"`
	TravelTimeMinutes *int                   `json:"travel_time_minutes"`
	DistanceKm        *float64               `json:"distance_km"`
	GapMinutes        *int                   `json:"gap_minutes,omitempty"`
	Consistent        bool                   `json:"consistent"`
	Note              models.ConsistencyNote `json:"note"`
	Reason            string                 `json:"reason,omitempty"`
}

// AdjacencyResult holds the hops refreshed around a step.
// Previous is nil when the step is the first of its trip, Next when it is the last.
type AdjacencyResult struct {
	StepID   string `json:"step_id"`
	Previous *Link  `json:"previous,omitempty"`
	Next     *Link  `json:"next,omitempty"`
}

// RefreshAdjacency recomputes travel from the previous step into this one and from this
// one into the next step.
//
// Travel-provider failures are not returned: the affected step is marked inconsistent with
// an ERROR note and null travel metrics. Store errors are returned.
func (e *Engine) RefreshAdjacency(ctx context.Context, stepID string) (*AdjacencyResult, error) {
	step, unlock, err := e.lockStep(ctx, stepID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return e.refreshAdjacency(ctx, step)
}

func (e *Engine) refreshAdjacency(ctx context.Context, step *models.Step) (*AdjacencyResult, error) {
	steps, err := e.store.ListSteps(ctx, step.TripID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}

	result := &AdjacencyResult{StepID: step.ID}

	prev := previousStep(steps, step)
	if prev == nil {
		reset := models.StepTravel{Consistent: true, Note: models.NoteOK}
		if step.Travel() != reset {
			if err := e.store.UpdateStepTravel(ctx, step.ID, reset); err != nil {
				return nil, fmt.Errorf("reset step travel: %w", err)
			}
		}
	} else {
		link, err := e.link(ctx, prev, step)
		if err != nil {
			return nil, err
		}
		result.Previous = link
	}

	if next := nextStep(steps, step); next != nil {
		link, err := e.link(ctx, step, next)
		if err != nil {
			return nil, err
		}
		result.Next = link
	}

	return result, nil
}

// link computes and persists the hop from -> to on the to step.
func (e *Engine) link(ctx context.Context, from, to *models.Step) (*Link, error) {
	last, err := e.resolveBoundary(ctx, from, Last)
	if err != nil {
		return nil, fmt.Errorf("resolve last boundary of %s: %w", from.ID, err)
	}
	first, err := e.resolveBoundary(ctx, to, First)
	if err != nil {
		return nil, fmt.Errorf("resolve first boundary of %s: %w", to.ID, err)
	}

	l := &Link{FromStepID: from.ID, ToStepID: to.ID, From: last, To: first, Note: models.NoteError}

	switch {
	case last.Address == "" || first.Address == "":
		l.Reason = "missing address"
		e.prom.ProviderCall("skipped")
	default:
		started := time.Now()
		res, err := e.provider.ComputeTravel(ctx, last.Address, first.Address, last.WindowEnd)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logProviderFailure(from.ID, to.ID, err, started)
			e.prom.ProviderCall("error")
			l.Reason = err.Error()
			break
		}
		e.prom.ProviderCall("ok")

		minutes, km := res.Minutes, res.Kilometers
		l.TravelTimeMinutes = &minutes
		l.DistanceKm = &km

		if last.WindowEnd.IsZero() || first.WindowStart.IsZero() {
			l.Reason = "missing time window"
			break
		}
		// Floor so that a sub-minute overlap stays negative.
		gap := int(math.Floor(first.WindowStart.Sub(last.WindowEnd).Minutes()))
		l.GapMinutes = &gap
		l.Note = Classify(minutes, gap, e.warning)
		l.Consistent = l.Note != models.NoteError
	}

	update := models.StepTravel{
		TravelTimeMinutes: l.TravelTimeMinutes,
		DistanceKm:        l.DistanceKm,
		Consistent:        l.Consistent,
		Note:              l.Note,
	}
	if err := e.store.UpdateStepTravel(ctx, to.ID, update); err != nil {
		return nil, fmt.Errorf("update step travel: %w", err)
	}
	e.prom.ConsistencyNote(string(l.Note))
	return l, nil
}

// previousStep returns the step with the greatest departure strictly before the current
// step's departure. Steps without a departure fall back to their arrival. Ties go to the
// lowest id.
func previousStep(steps []models.Step, current *models.Step) *models.Step {
	ref, ok := departureOf(*current)
	if !ok {
		return nil
	}
	var best *models.Step
	var bestAt time.Time
	for i := range steps {
		s := &steps[i]
		if s.ID == current.ID {
			continue
		}
		at, ok := departureOf(*s)
		if !ok || !at.Before(ref) {
			continue
		}
		if best == nil || at.After(bestAt) || (at.Equal(bestAt) && s.ID < best.ID) {
			best, bestAt = s, at
		}
	}
	return best
}

// nextStep returns the step with the smallest arrival strictly after the current step's
// arrival. Steps without an arrival fall back to their departure. Ties go to the lowest id.
func nextStep(steps []models.Step, current *models.Step) *models.Step {
	ref, ok := arrivalOf(*current)
	if !ok {
		return nil
	}
	var best *models.Step
	var bestAt time.Time
	for i := range steps {
		s := &steps[i]
		if s.ID == current.ID {
			continue
		}
		at, ok := arrivalOf(*s)
		if !ok || !at.After(ref) {
			continue
		}
		if best == nil || at.Before(bestAt) || (at.Equal(bestAt) && s.ID < best.ID) {
			best, bestAt = s, at
		}
	}
	return best
}

func departureOf(s models.Step) (time.Time, bool) {
	if t, ok := s.DepartureDateTime.Time(); ok {
		return t, true
	}
	return s.ArrivalDateTime.Time()
}

func arrivalOf(s models.Step) (time.Time, bool) {
	if t, ok := s.ArrivalDateTime.Time(); ok {
		return t, true
	}
	return s.DepartureDateTime.Time()
}

// OrderSteps sorts steps chronologically by arrival (falling back to departure) and id.
// Steps without any parseable timestamp go last.
func OrderSteps(steps []models.Step) []models.Step {
	out := make([]models.Step, len(steps))
	copy(out, steps)
	sort.SliceStable(out, func(i, j int) bool {
		ti, oki := arrivalOf(out[i])
		tj, okj := arrivalOf(out[j])
		switch {
		case oki && !okj:
			return true
		case !oki && okj:
			return false
		case oki && okj && !ti.Equal(tj):
			return ti.Before(tj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
