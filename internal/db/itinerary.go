package db

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/tripsync-go/internal/models"
)

// GetTrip retrieves a trip by ID.
func (c *Client) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	rows, err := selectAll[tripRow](ctx, c, `SELECT * FROM type::record("trip", $id)`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get trip: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("trip %s: %w", id, models.ErrNotFound)
	}
	trip, err := rows[0].model()
	if err != nil {
		return nil, err
	}
	return &trip, nil
}

// GetStep retrieves a step by ID.
func (c *Client) GetStep(ctx context.Context, id string) (*models.Step, error) {
	rows, err := selectAll[stepRow](ctx, c, `SELECT * FROM type::record("step", $id)`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get step: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("step %s: %w", id, models.ErrNotFound)
	}
	step, err := rows[0].model()
	if err != nil {
		return nil, err
	}
	return &step, nil
}

// ListSteps returns the trip's steps. Callers order them by timestamp.
func (c *Client) ListSteps(ctx context.Context, tripID string) ([]models.Step, error) {
	rows, err := selectAll[stepRow](ctx, c, `
		SELECT * FROM step WHERE trip_id = $trip ORDER BY id
	`, map[string]any{"trip": tripID})
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	return convert[stepRow, models.Step](rows)
}

// ActiveLodgings returns the step's lodgings whose active flag is set.
func (c *Client) ActiveLodgings(ctx context.Context, stepID string) ([]models.Lodging, error) {
	rows, err := selectAll[lodgingRow](ctx, c, `
		SELECT * FROM lodging WHERE step_id = $step AND active = true ORDER BY id
	`, map[string]any{"step": stepID})
	if err != nil {
		return nil, fmt.Errorf("active lodgings: %w", err)
	}
	return convert[lodgingRow, models.Lodging](rows)
}

// ActiveActivities returns the step's activities whose active flag is set.
func (c *Client) ActiveActivities(ctx context.Context, stepID string) ([]models.Activity, error) {
	rows, err := selectAll[activityRow](ctx, c, `
		SELECT * FROM activity WHERE step_id = $step AND active = true ORDER BY id
	`, map[string]any{"step": stepID})
	if err != nil {
		return nil, fmt.Errorf("active activities: %w", err)
	}
	return convert[activityRow, models.Activity](rows)
}

// UpdateStepWindow writes the step's arrival and departure.
func (c *Client) UpdateStepWindow(ctx context.Context, stepID string, arrival, departure models.Timestamp) error {
	rows, err := selectAll[stepRow](ctx, c, `
		UPDATE type::record("step", $id) SET
			arrival_date_time = $arrival,
			departure_date_time = $departure
		RETURN AFTER
	`, map[string]any{
		"id":        stepID,
		"arrival":   string(arrival),
		"departure": string(departure),
	})
	if err != nil {
		return fmt.Errorf("update step window: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("step %s: %w", stepID, models.ErrNotFound)
	}
	return nil
}

// UpdateStepTravel writes the travel fields describing the hop into the step.
func (c *Client) UpdateStepTravel(ctx context.Context, stepID string, t models.StepTravel) error {
	vars := map[string]any{
		"id":         stepID,
		"consistent": t.Consistent,
		"note":       string(t.Note),
		"minutes":    nil,
		"km":         nil,
	}
	if t.TravelTimeMinutes != nil {
		vars["minutes"] = *t.TravelTimeMinutes
	}
	if t.DistanceKm != nil {
		vars["km"] = *t.DistanceKm
	}

	rows, err := selectAll[stepRow](ctx, c, `
		UPDATE type::record("step", $id) SET
			travel_time_previous_step = $minutes,
			distance_previous_step = $km,
			is_arrival_time_consistent = $consistent,
			consistency_note = $note
		RETURN AFTER
	`, vars)
	if err != nil {
		return fmt.Errorf("update step travel: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("step %s: %w", stepID, models.ErrNotFound)
	}
	return nil
}

// SetStepNarrative stores the generated narrative of a step.
func (c *Client) SetStepNarrative(ctx context.Context, stepID, narrative string) error {
	rows, err := selectAll[stepRow](ctx, c, `
		UPDATE type::record("step", $id) SET narrative = $narrative RETURN AFTER
	`, map[string]any{"id": stepID, "narrative": narrative})
	if err != nil {
		return fmt.Errorf("set step narrative: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("step %s: %w", stepID, models.ErrNotFound)
	}
	return nil
}

// SetLodgingActive flips a lodging's active flag.
func (c *Client) SetLodgingActive(ctx context.Context, id string, active bool) (*models.Lodging, error) {
	rows, err := selectAll[lodgingRow](ctx, c, `
		UPDATE type::record("lodging", $id) SET active = $active RETURN AFTER
	`, map[string]any{"id": id, "active": active})
	if err != nil {
		return nil, fmt.Errorf("set lodging active: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("lodging %s: %w", id, models.ErrNotFound)
	}
	l, err := rows[0].model()
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// SetActivityActive flips an activity's active flag.
func (c *Client) SetActivityActive(ctx context.Context, id string, active bool) (*models.Activity, error) {
	rows, err := selectAll[activityRow](ctx, c, `
		UPDATE type::record("activity", $id) SET active = $active RETURN AFTER
	`, map[string]any{"id": id, "active": active})
	if err != nil {
		return nil, fmt.Errorf("set activity active: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("activity %s: %w", id, models.ErrNotFound)
	}
	a, err := rows[0].model()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListTasks returns the trip's tasks in creation order.
func (c *Client) ListTasks(ctx context.Context, tripID string) ([]models.Task, error) {
	rows, err := selectAll[taskRow](ctx, c, `
		SELECT * FROM task WHERE trip_id = $trip ORDER BY created
	`, map[string]any{"trip": tripID})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return convert[taskRow, models.Task](rows)
}

// InsertTasks bulk-inserts tasks of existing trips in one statement.
func (c *Client) InsertTasks(ctx context.Context, tasks []models.Task) ([]models.Task, error) {
	if len(tasks) == 0 {
		return []models.Task{}, nil
	}

	trips := make(map[string]bool)
	content := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		if !trips[t.TripID] {
			if _, err := c.GetTrip(ctx, t.TripID); err != nil {
				return nil, err
			}
			trips[t.TripID] = true
		}
		row := map[string]any{
			"trip_id": t.TripID,
			"title":   t.Title,
			"done":    t.Done,
		}
		optional(row, "description", t.Description)
		optional(row, "due_date", t.DueDate)
		optional(row, "source", t.Source)
		content = append(content, row)
	}

	rows, err := selectAll[taskRow](ctx, c, `INSERT INTO task $tasks`, map[string]any{"tasks": content})
	if err != nil {
		return nil, fmt.Errorf("insert tasks: %w", err)
	}
	return convert[taskRow, models.Task](rows)
}

// --- seeding ---

// SaveTrip creates or replaces a trip.
func (c *Client) SaveTrip(ctx context.Context, t models.Trip) error {
	content := map[string]any{"owner": t.Owner, "name": t.Name}
	optional(content, "description", t.Description)
	optional(content, "start_date", t.StartDate)
	optional(content, "end_date", t.EndDate)
	return c.upsert(ctx, "trip", t.ID, content)
}

// SaveStep creates or replaces a step.
func (c *Client) SaveStep(ctx context.Context, s models.Step) error {
	s = s.WithDefaults()
	content := map[string]any{
		"trip_id":                    s.TripID,
		"name":                       s.Name,
		"kind":                       string(s.Kind),
		"is_arrival_time_consistent": s.IsArrivalTimeConsistent,
	}
	optional(content, "address", s.Address)
	optional(content, "arrival_date_time", string(s.ArrivalDateTime))
	optional(content, "departure_date_time", string(s.DepartureDateTime))
	optional(content, "consistency_note", string(s.ConsistencyNote))
	optional(content, "narrative", s.Narrative)
	if s.TravelTimePreviousStep != nil {
		content["travel_time_previous_step"] = *s.TravelTimePreviousStep
	}
	if s.DistancePreviousStep != nil {
		content["distance_previous_step"] = *s.DistancePreviousStep
	}
	return c.upsert(ctx, "step", s.ID, content)
}

// SaveLodging creates or replaces a lodging.
func (c *Client) SaveLodging(ctx context.Context, l models.Lodging) error {
	content := map[string]any{"step_id": l.StepID, "name": l.Name, "active": l.Active}
	optional(content, "address", l.Address)
	optional(content, "arrival_date_time", string(l.ArrivalDateTime))
	optional(content, "departure_date_time", string(l.DepartureDateTime))
	return c.upsert(ctx, "lodging", l.ID, content)
}

// SaveActivity creates or replaces an activity.
func (c *Client) SaveActivity(ctx context.Context, a models.Activity) error {
	content := map[string]any{"step_id": a.StepID, "name": a.Name, "active": a.Active}
	optional(content, "address", a.Address)
	optional(content, "start_date_time", string(a.StartDateTime))
	optional(content, "end_date_time", string(a.EndDateTime))
	return c.upsert(ctx, "activity", a.ID, content)
}

func (c *Client) upsert(ctx context.Context, table, id string, content map[string]any) error {
	err := exec(ctx, c, `UPSERT type::record($table, $id) CONTENT $content`, map[string]any{
		"table":   table,
		"id":      id,
		"content": content,
	})
	if err != nil {
		return fmt.Errorf("save %s %s: %w", table, id, err)
	}
	return nil
}
