package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/tripsync-go/internal/jobs"
	"github.com/raphaelgruber/tripsync-go/internal/llm"
	"github.com/raphaelgruber/tripsync-go/internal/models"
)

// TaskGenerator produces TASK|title|description|due-date lines for a trip.
type TaskGenerator interface {
	TripTasks(ctx context.Context, tripContext string) (string, error)
}

// NarrativeGenerator writes a paragraph for a step.
type NarrativeGenerator interface {
	StepNarrative(ctx context.Context, stepContext string) (string, error)
}

// TasksResult summarizes a task generation job.
type TasksResult struct {
	TasksCreated int      `json:"tasks_created"`
	Titles       []string `json:"titles"`
}

// TasksWorker asks the AI collaborator for preparation tasks and stores them.
type TasksWorker struct {
	store Itinerary
	gen   TaskGenerator
}

// NewTasksWorker creates a task generation worker.
func NewTasksWorker(store Itinerary, gen TaskGenerator) *TasksWorker {
	return &TasksWorker{store: store, gen: gen}
}

func (w *TasksWorker) Kind() models.JobKind { return models.JobKindTasks }

// Units is always one: the whole trip is a single generation call.
func (w *TasksWorker) Units(context.Context, string) (int, error) { return 1, nil }

func (w *TasksWorker) Run(ctx context.Context, tripID string, report jobs.ReportFunc) (any, error) {
	trip, err := w.store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	steps, err := w.store.ListSteps(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	existing, err := w.store.ListTasks(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	slog.Info("generating tasks", "trip_id", tripID, "steps", len(steps), "existing_tasks", len(existing))

	answer, err := w.gen.TripTasks(ctx, tripContext(trip, steps, existing))
	if err != nil {
		return nil, fmt.Errorf("generate tasks: %w", err)
	}

	tasks := ParseTasks(tripID, answer, existing)
	result := &TasksResult{Titles: []string{}}
	if len(tasks) > 0 {
		created, err := w.store.InsertTasks(ctx, tasks)
		if err != nil {
			return nil, fmt.Errorf("insert tasks: %w", err)
		}
		for _, t := range created {
			result.Titles = append(result.Titles, t.Title)
		}
		result.TasksCreated = len(created)
	}
	report(1)

	slog.Info("task generation complete", "trip_id", tripID, "created", result.TasksCreated)
	return result, nil
}

// ParseTasks extracts tasks from TASK|title|description|due-date lines.
// Lines without a title, titles already present and malformed due dates are dropped.
func ParseTasks(tripID, text string, existing []models.Task) []models.Task {
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[strings.ToLower(strings.TrimSpace(t.Title))] = true
	}

	var tasks []models.Task
	for line := range strings.SplitSeq(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(strings.ToUpper(line), "TASK|") {
			continue
		}
		parts := strings.SplitN(line, "|", 4)
		for len(parts) < 4 {
			parts = append(parts, "")
		}
		title := strings.TrimSpace(parts[1])
		key := strings.ToLower(title)
		if title == "" || seen[key] {
			continue
		}
		seen[key] = true

		due := strings.TrimSpace(parts[3])
		if _, err := time.Parse(time.DateOnly, due); err != nil {
			due = ""
		}
		tasks = append(tasks, models.Task{
			TripID:      tripID,
			Title:       title,
			Description: strings.TrimSpace(parts[2]),
			DueDate:     due,
			Source:      models.TaskSourceAI,
		})
	}
	return tasks
}

// NarrativeResult summarizes a narrative generation job.
type NarrativeResult struct {
	TotalSteps int      `json:"total_steps"`
	Generated  int      `json:"generated"`
	Errors     []string `json:"errors"`
}

// NarrativeWorker writes a narrative for every step of a trip.
type NarrativeWorker struct {
	store Itinerary
	gen   NarrativeGenerator
}

// NewNarrativeWorker creates a narrative generation worker.
func NewNarrativeWorker(store Itinerary, gen NarrativeGenerator) *NarrativeWorker {
	return &NarrativeWorker{store: store, gen: gen}
}

func (w *NarrativeWorker) Kind() models.JobKind { return models.JobKindNarrative }

func (w *NarrativeWorker) Units(ctx context.Context, tripID string) (int, error) {
	return countSteps(ctx, w.store, tripID)
}

// Run generates step by step. A fatal API error (quota, auth) stops the job since every
// remaining call would fail the same way.
func (w *NarrativeWorker) Run(ctx context.Context, tripID string, report jobs.ReportFunc) (any, error) {
	steps, err := w.store.ListSteps(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}

	slog.Info("starting narrative generation", "trip_id", tripID, "steps", len(steps))

	result := &NarrativeResult{TotalSteps: len(steps)}
	var errs []error
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			result.Errors = errorStrings(errs)
			return result, err
		}

		err := w.narrate(ctx, step)
		switch {
		case err == nil:
			result.Generated++
		case errors.Is(err, llm.ErrFatalAPI):
			slog.Error("fatal API error, stopping narrative generation", "trip_id", tripID, "step_id", step.ID, "error", err)
			result.Errors = errorStrings(append(errs, err))
			return result, fmt.Errorf("step %s: %w", step.ID, err)
		case interrupted(ctx, err):
			result.Errors = errorStrings(errs)
			return result, err
		default:
			slog.Warn("narrative failed", "trip_id", tripID, "step_id", step.ID, "error", err)
			errs = append(errs, fmt.Errorf("step %s: %w", step.ID, err))
		}
		report(i + 1)
	}
	result.Errors = errorStrings(errs)

	slog.Info("narrative generation complete", "trip_id", tripID, "generated", result.Generated, "errors", len(errs))
	return result, allFailed(len(steps), errs)
}

func (w *NarrativeWorker) narrate(ctx context.Context, step models.Step) error {
	var (
		lodgings   []models.Lodging
		activities []models.Activity
		err        error
	)
	if !step.IsPassThrough() {
		if lodgings, err = w.store.ActiveLodgings(ctx, step.ID); err != nil {
			return fmt.Errorf("list lodgings: %w", err)
		}
		if activities, err = w.store.ActiveActivities(ctx, step.ID); err != nil {
			return fmt.Errorf("list activities: %w", err)
		}
	}

	text, err := w.gen.StepNarrative(ctx, stepContext(step, lodgings, activities))
	if err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("empty narrative")
	}
	return w.store.SetStepNarrative(ctx, step.ID, text)
}

func tripContext(trip *models.Trip, steps []models.Step, tasks []models.Task) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Name: %s\n", trip.Name)
	if trip.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", trip.Description)
	}
	if trip.StartDate != "" || trip.EndDate != "" {
		fmt.Fprintf(&sb, "Dates: %s to %s\n", trip.StartDate, trip.EndDate)
	}

	sb.WriteString("\nSteps:\n")
	for _, s := range steps {
		fmt.Fprintf(&sb, "- %s", s.Name)
		if s.Address != "" {
			fmt.Fprintf(&sb, " (%s)", s.Address)
		}
		if s.ArrivalDateTime != "" || s.DepartureDateTime != "" {
			fmt.Fprintf(&sb, " arrive %s, depart %s", orDash(s.ArrivalDateTime), orDash(s.DepartureDateTime))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\nExisting tasks:\n")
	if len(tasks) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, t := range tasks {
		fmt.Fprintf(&sb, "- %s\n", t.Title)
	}
	return sb.String()
}

func stepContext(step models.Step, lodgings []models.Lodging, activities []models.Activity) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Name: %s\n", step.Name)
	if step.Address != "" {
		fmt.Fprintf(&sb, "Address: %s\n", step.Address)
	}
	fmt.Fprintf(&sb, "Arrival: %s\nDeparture: %s\n", orDash(step.ArrivalDateTime), orDash(step.DepartureDateTime))
	if step.TravelTimePreviousStep != nil {
		fmt.Fprintf(&sb, "Travel from previous stop: %d min\n", *step.TravelTimePreviousStep)
	}
	if step.ConsistencyNote != "" {
		fmt.Fprintf(&sb, "Consistency note: %s\n", step.ConsistencyNote)
	}
	for _, l := range lodgings {
		fmt.Fprintf(&sb, "Lodging: %s\n", l.Name)
	}
	for _, a := range activities {
		fmt.Fprintf(&sb, "Activity: %s (%s to %s)\n", a.Name, orDash(a.StartDateTime), orDash(a.EndDateTime))
	}
	return sb.String()
}

func orDash(ts models.Timestamp) string {
	if ts == "" {
		return "-"
	}
	return string(ts)
}
