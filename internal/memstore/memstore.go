// Package memstore is an in-process itinerary and job store.
//
// It backs the server when TRIPSYNC_STORE=memory and is the default fixture in tests.
// Records are copied on the way in and out so callers never share memory with the store.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/tripsync-go/internal/models"
)

// Store holds trips, steps, children, tasks and jobs in maps guarded by one mutex.
type Store struct {
	mu         sync.RWMutex
	trips      map[string]models.Trip
	steps      map[string]models.Step
	lodgings   map[string]models.Lodging
	activities map[string]models.Activity
	tasks      map[string][]models.Task
	jobs       map[string]models.Job
	locks      map[string]string // single-flight key -> job id
	now        func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		trips:      make(map[string]models.Trip),
		steps:      make(map[string]models.Step),
		lodgings:   make(map[string]models.Lodging),
		activities: make(map[string]models.Activity),
		tasks:      make(map[string][]models.Task),
		jobs:       make(map[string]models.Job),
		locks:      make(map[string]string),
		now:        time.Now,
	}
}

// PutTrip inserts or replaces a trip.
func (s *Store) PutTrip(t models.Trip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trips[t.ID] = t
}

// PutStep inserts or replaces a step, applying models.Step.WithDefaults.
func (s *Store) PutStep(st models.Step) {
	st = st.WithDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[st.ID] = st
}

// PutLodging inserts or replaces a lodging.
func (s *Store) PutLodging(l models.Lodging) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lodgings[l.ID] = l
}

// PutActivity inserts or replaces an activity.
func (s *Store) PutActivity(a models.Activity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities[a.ID] = a
}

// SaveTrip, SaveStep, SaveLodging and SaveActivity let the store act as a seed target.

func (s *Store) SaveTrip(_ context.Context, t models.Trip) error {
	s.PutTrip(t)
	return nil
}

func (s *Store) SaveStep(_ context.Context, st models.Step) error {
	s.PutStep(st)
	return nil
}

func (s *Store) SaveLodging(_ context.Context, l models.Lodging) error {
	s.PutLodging(l)
	return nil
}

func (s *Store) SaveActivity(_ context.Context, a models.Activity) error {
	s.PutActivity(a)
	return nil
}

// --- itinerary ---

func (s *Store) GetTrip(_ context.Context, id string) (*models.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trips[id]
	if !ok {
		return nil, fmt.Errorf("trip %s: %w", id, models.ErrNotFound)
	}
	return &t, nil
}

func (s *Store) GetStep(_ context.Context, id string) (*models.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.steps[id]
	if !ok {
		return nil, fmt.Errorf("step %s: %w", id, models.ErrNotFound)
	}
	return &st, nil
}

// ListSteps returns the trip's steps ordered by id.
func (s *Store) ListSteps(_ context.Context, tripID string) ([]models.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Step
	for _, st := range s.steps {
		if st.TripID == tripID {
			out = append(out, st)
		}
	}
	slices.SortFunc(out, func(a, b models.Step) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) ActiveLodgings(_ context.Context, stepID string) ([]models.Lodging, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Lodging
	for _, l := range s.lodgings {
		if l.StepID == stepID && l.Active {
			out = append(out, l)
		}
	}
	slices.SortFunc(out, func(a, b models.Lodging) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) ActiveActivities(_ context.Context, stepID string) ([]models.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Activity
	for _, a := range s.activities {
		if a.StepID == stepID && a.Active {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b models.Activity) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) UpdateStepWindow(_ context.Context, stepID string, arrival, departure models.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.steps[stepID]
	if !ok {
		return fmt.Errorf("step %s: %w", stepID, models.ErrNotFound)
	}
	st.ArrivalDateTime = arrival
	st.DepartureDateTime = departure
	s.steps[stepID] = st
	return nil
}

func (s *Store) UpdateStepTravel(_ context.Context, stepID string, t models.StepTravel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.steps[stepID]
	if !ok {
		return fmt.Errorf("step %s: %w", stepID, models.ErrNotFound)
	}
	st.TravelTimePreviousStep = t.TravelTimeMinutes
	st.DistancePreviousStep = t.DistanceKm
	st.IsArrivalTimeConsistent = t.Consistent
	st.ConsistencyNote = t.Note
	s.steps[stepID] = st
	return nil
}

func (s *Store) SetStepNarrative(_ context.Context, stepID, narrative string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.steps[stepID]
	if !ok {
		return fmt.Errorf("step %s: %w", stepID, models.ErrNotFound)
	}
	st.Narrative = narrative
	s.steps[stepID] = st
	return nil
}

func (s *Store) SetLodgingActive(_ context.Context, id string, active bool) (*models.Lodging, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lodgings[id]
	if !ok {
		return nil, fmt.Errorf("lodging %s: %w", id, models.ErrNotFound)
	}
	l.Active = active
	s.lodgings[id] = l
	return &l, nil
}

func (s *Store) SetActivityActive(_ context.Context, id string, active bool) (*models.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.activities[id]
	if !ok {
		return nil, fmt.Errorf("activity %s: %w", id, models.ErrNotFound)
	}
	a.Active = active
	s.activities[id] = a
	return &a, nil
}

func (s *Store) ListTasks(_ context.Context, tripID string) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.tasks[tripID]), nil
}

// InsertTasks stores tasks and assigns ids to those without one.
func (s *Store) InsertTasks(_ context.Context, tasks []models.Task) ([]models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Task, 0, len(tasks))
	for _, t := range tasks {
		if _, ok := s.trips[t.TripID]; !ok {
			return nil, fmt.Errorf("trip %s: %w", t.TripID, models.ErrNotFound)
		}
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		s.tasks[t.TripID] = append(s.tasks[t.TripID], t)
		out = append(out, t)
	}
	return out, nil
}

// --- jobs ---

// CreateJob inserts job unless a non-terminal job holds its single-flight key.
func (s *Store) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := job.LockKey()
	if existing, ok := s.locks[key]; ok {
		return &models.ConflictError{ExistingJobID: existing}
	}
	s.locks[key] = job.ID
	s.jobs[job.ID] = cloneJob(*job)
	return nil
}

func (s *Store) GetJob(_ context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	j = cloneJob(j)
	return &j, nil
}

// ListJobs returns the target's jobs, most recent first.
func (s *Store) ListJobs(_ context.Context, targetID string) ([]models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Job
	for _, j := range s.jobs {
		if j.TargetID == targetID {
			out = append(out, cloneJob(j))
		}
	}
	sortRecentFirst(out)
	return out, nil
}

// ListActiveJobs returns every pending or running job.
func (s *Store) ListActiveJobs(_ context.Context) ([]models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Job
	for _, j := range s.jobs {
		if !j.Status.Terminal() {
			out = append(out, cloneJob(j))
		}
	}
	sortRecentFirst(out)
	return out, nil
}

func (s *Store) MarkRunning(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	if j.Status != models.JobStatusPending {
		return fmt.Errorf("job %s is %s: %w", id, j.Status, models.ErrConflict)
	}
	j.Status = models.JobStatusRunning
	j.StartedAt = &at
	j.UpdatedAt = at
	s.jobs[id] = j
	return nil
}

// UpdateJobProgress stores progress unless it would move backwards or the job is finished.
func (s *Store) UpdateJobProgress(_ context.Context, id string, p models.JobProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	if j.Status.Terminal() {
		return fmt.Errorf("job %s is %s: %w", id, j.Status, models.ErrConflict)
	}
	if p.Completed < j.Progress.Completed {
		return nil
	}
	j.Progress = p
	j.UpdatedAt = s.now()
	s.jobs[id] = j
	return nil
}

// FinishJob moves a job to a terminal status and releases its single-flight key.
func (s *Store) FinishJob(_ context.Context, id string, status models.JobStatus, result map[string]any, errMsg string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	if j.Status.Terminal() {
		return fmt.Errorf("job %s is %s: %w", id, j.Status, models.ErrConflict)
	}
	j.Status = status
	j.Result = result
	j.Error = errMsg
	j.CompletedAt = &at
	j.UpdatedAt = at
	s.jobs[id] = j
	if s.locks[j.LockKey()] == id {
		delete(s.locks, j.LockKey())
	}
	return nil
}

func sortRecentFirst(jobs []models.Job) {
	slices.SortFunc(jobs, func(a, b models.Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
}

func cloneJob(j models.Job) models.Job {
	if j.Result != nil {
		r := make(map[string]any, len(j.Result))
		for k, v := range j.Result {
			r[k] = v
		}
		j.Result = r
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		j.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		j.CompletedAt = &t
	}
	return j
}
