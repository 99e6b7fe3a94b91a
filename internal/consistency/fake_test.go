package consistency

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/raphaelgruber/tripsync-go/internal/models"
	"github.com/raphaelgruber/tripsync-go/internal/travel"
)

type fakeStore struct {
	mu           sync.Mutex
	steps        map[string]*models.Step
	lodgings     map[string][]models.Lodging
	activities   map[string][]models.Activity
	windowWrites int
	travelWrites map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		steps:        make(map[string]*models.Step),
		lodgings:     make(map[string][]models.Lodging),
		activities:   make(map[string][]models.Activity),
		travelWrites: make(map[string]int),
	}
}

func (f *fakeStore) addStep(s models.Step) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.Kind == "" {
		s.Kind = models.StepKindWaypoint
	}
	f.steps[s.ID] = &s
}

func (f *fakeStore) addLodging(l models.Lodging) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lodgings[l.StepID] = append(f.lodgings[l.StepID], l)
}

func (f *fakeStore) addActivity(a models.Activity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activities[a.StepID] = append(f.activities[a.StepID], a)
}

func (f *fakeStore) step(id string) models.Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.steps[id]
}

func (f *fakeStore) GetStep(_ context.Context, id string) (*models.Step, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.steps[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) ListSteps(_ context.Context, tripID string) ([]models.Step, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Step
	for _, s := range f.steps {
		if s.TripID == tripID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeStore) ActiveLodgings(_ context.Context, stepID string) ([]models.Lodging, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Lodging
	for _, l := range f.lodgings[stepID] {
		if l.Active {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeStore) ActiveActivities(_ context.Context, stepID string) ([]models.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Activity
	for _, a := range f.activities[stepID] {
		if a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateStepWindow(_ context.Context, stepID string, arrival, departure models.Timestamp) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.steps[stepID]
	if !ok {
		return models.ErrNotFound
	}
	s.ArrivalDateTime = arrival
	s.DepartureDateTime = departure
	f.windowWrites++
	return nil
}

func (f *fakeStore) UpdateStepTravel(_ context.Context, stepID string, t models.StepTravel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.steps[stepID]
	if !ok {
		return models.ErrNotFound
	}
	s.TravelTimePreviousStep = t.TravelTimeMinutes
	s.DistancePreviousStep = t.DistanceKm
	s.IsArrivalTimeConsistent = t.Consistent
	s.ConsistencyNote = t.Note
	f.travelWrites[stepID]++
	return nil
}

type travelCall struct {
	origin, destination string
	departure           time.Time
}

// fakeProvider answers from a route table keyed by "origin->destination".
type fakeProvider struct {
	mu     sync.Mutex
	routes map[string]travel.Result
	calls  []travelCall
}

func (p *fakeProvider) ComputeTravel(_ context.Context, origin, destination string, departure time.Time) (travel.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, travelCall{origin, destination, departure})
	r, ok := p.routes[origin+"->"+destination]
	if !ok {
		return travel.Result{}, errors.Join(models.ErrProviderFailure, errors.New("no route"))
	}
	return r, nil
}
