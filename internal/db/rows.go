package db

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/tripsync-go/internal/metrics"
	"github.com/raphaelgruber/tripsync-go/internal/models"
)

// recordIDString safely extracts the string ID from a SurrealDB RecordID.
func recordIDString(id surrealmodels.RecordID) (string, error) {
	s, ok := id.ID.(string)
	if !ok {
		return "", fmt.Errorf("unexpected ID type: %T (expected string)", id.ID)
	}
	return s, nil
}

// selectAll runs a query and decodes the result of its last statement.
func selectAll[T any](ctx context.Context, c *Client, sql string, vars map[string]any) ([]T, error) {
	defer c.metrics.Since(metrics.OpDBQuery)()

	results, err := surrealdb.Query[[]T](ctx, c.db, sql, vars)
	if err != nil {
		return nil, wrapQueryError(err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[len(*results)-1].Result, nil
}

// exec runs statements whose results are not needed.
func exec(ctx context.Context, c *Client, sql string, vars map[string]any) error {
	defer c.metrics.Since(metrics.OpDBQuery)()

	_, err := surrealdb.Query[any](ctx, c.db, sql, vars)
	return wrapQueryError(err)
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

type tripRow struct {
	ID          surrealmodels.RecordID `json:"id"`
	Owner       string                 `json:"owner"`
	Name        string                 `json:"name"`
	Description *string                `json:"description,omitempty"`
	StartDate   *string                `json:"start_date,omitempty"`
	EndDate     *string                `json:"end_date,omitempty"`
}

func (r tripRow) model() (models.Trip, error) {
	id, err := recordIDString(r.ID)
	if err != nil {
		return models.Trip{}, err
	}
	return models.Trip{
		ID:          id,
		Owner:       r.Owner,
		Name:        r.Name,
		Description: deref(r.Description),
		StartDate:   deref(r.StartDate),
		EndDate:     deref(r.EndDate),
	}, nil
}

type stepRow struct {
	ID                      surrealmodels.RecordID `json:"id"`
	TripID                  string                 `json:"trip_id"`
	Name                    string                 `json:"name"`
	Kind                    string                 `json:"kind"`
	Address                 *string                `json:"address,omitempty"`
	ArrivalDateTime         *string                `json:"arrival_date_time,omitempty"`
	DepartureDateTime       *string                `json:"departure_date_time,omitempty"`
	TravelTimePreviousStep  *int                   `json:"travel_time_previous_step,omitempty"`
	DistancePreviousStep    *float64               `json:"distance_previous_step,omitempty"`
	IsArrivalTimeConsistent bool                   `json:"is_arrival_time_consistent"`
	ConsistencyNote         *string                `json:"consistency_note,omitempty"`
	Narrative               *string                `json:"narrative,omitempty"`
}

func (r stepRow) model() (models.Step, error) {
	id, err := recordIDString(r.ID)
	if err != nil {
		return models.Step{}, err
	}
	step := models.Step{
		ID:                      id,
		TripID:                  r.TripID,
		Name:                    r.Name,
		Kind:                    models.StepKind(r.Kind),
		Address:                 deref(r.Address),
		ArrivalDateTime:         models.Timestamp(deref(r.ArrivalDateTime)),
		DepartureDateTime:       models.Timestamp(deref(r.DepartureDateTime)),
		TravelTimePreviousStep:  r.TravelTimePreviousStep,
		DistancePreviousStep:    r.DistancePreviousStep,
		IsArrivalTimeConsistent: r.IsArrivalTimeConsistent,
		ConsistencyNote:         models.ConsistencyNote(deref(r.ConsistencyNote)),
		Narrative:               deref(r.Narrative),
	}
	return step.WithDefaults(), nil
}

type lodgingRow struct {
	ID                surrealmodels.RecordID `json:"id"`
	StepID            string                 `json:"step_id"`
	Name              string                 `json:"name"`
	Address           *string                `json:"address,omitempty"`
	Active            bool                   `json:"active"`
	ArrivalDateTime   *string                `json:"arrival_date_time,omitempty"`
	DepartureDateTime *string                `json:"departure_date_time,omitempty"`
}

func (r lodgingRow) model() (models.Lodging, error) {
	id, err := recordIDString(r.ID)
	if err != nil {
		return models.Lodging{}, err
	}
	return models.Lodging{
		ID:                id,
		StepID:            r.StepID,
		Name:              r.Name,
		Address:           deref(r.Address),
		Active:            r.Active,
		ArrivalDateTime:   models.Timestamp(deref(r.ArrivalDateTime)),
		DepartureDateTime: models.Timestamp(deref(r.DepartureDateTime)),
	}, nil
}

type activityRow struct {
	ID            surrealmodels.RecordID `json:"id"`
	StepID        string                 `json:"step_id"`
	Name          string                 `json:"name"`
	Address       *string                `json:"address,omitempty"`
	Active        bool                   `json:"active"`
	StartDateTime *string                `json:"start_date_time,omitempty"`
	EndDateTime   *string                `json:"end_date_time,omitempty"`
}

func (r activityRow) model() (models.Activity, error) {
	id, err := recordIDString(r.ID)
	if err != nil {
		return models.Activity{}, err
	}
	return models.Activity{
		ID:            id,
		StepID:        r.StepID,
		Name:          r.Name,
		Address:       deref(r.Address),
		Active:        r.Active,
		StartDateTime: models.Timestamp(deref(r.StartDateTime)),
		EndDateTime:   models.Timestamp(deref(r.EndDateTime)),
	}, nil
}

type taskRow struct {
	ID          surrealmodels.RecordID `json:"id"`
	TripID      string                 `json:"trip_id"`
	Title       string                 `json:"title"`
	Description *string                `json:"description,omitempty"`
	DueDate     *string                `json:"due_date,omitempty"`
	Done        bool                   `json:"done"`
	Source      *string                `json:"source,omitempty"`
}

func (r taskRow) model() (models.Task, error) {
	id, err := recordIDString(r.ID)
	if err != nil {
		return models.Task{}, err
	}
	return models.Task{
		ID:          id,
		TripID:      r.TripID,
		Title:       r.Title,
		Description: deref(r.Description),
		DueDate:     deref(r.DueDate),
		Done:        r.Done,
		Source:      deref(r.Source),
	}, nil
}

type jobRow struct {
	ID          surrealmodels.RecordID `json:"id"`
	TargetID    string                 `json:"target_id"`
	Kind        string                 `json:"kind"`
	Status      string                 `json:"status"`
	Total       int                    `json:"total"`
	Completed   int                    `json:"completed"`
	Percentage  int                    `json:"percentage"`
	Result      map[string]any         `json:"result,omitempty"`
	Error       *string                `json:"error,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

func (r jobRow) model() (models.Job, error) {
	id, err := recordIDString(r.ID)
	if err != nil {
		return models.Job{}, err
	}
	return models.Job{
		ID:       id,
		TargetID: r.TargetID,
		Kind:     models.JobKind(r.Kind),
		Status:   models.JobStatus(r.Status),
		Progress: models.JobProgress{
			Total:      r.Total,
			Completed:  r.Completed,
			Percentage: r.Percentage,
		},
		Result:      r.Result,
		Error:       deref(r.Error),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}, nil
}

// convert maps rows onto models, failing on the first malformed id.
func convert[R interface{ model() (M, error) }, M any](rows []R) ([]M, error) {
	out := make([]M, 0, len(rows))
	for _, r := range rows {
		m, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// optional omits empty strings so option<string> fields stay NONE.
func optional(content map[string]any, key, value string) {
	if value != "" {
		content[key] = value
	}
}
