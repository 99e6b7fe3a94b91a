package consistency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/tripsync-go/internal/models"
	"github.com/raphaelgruber/tripsync-go/internal/travel"
)

func ts(s string) models.Timestamp { return models.Timestamp(s) }

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return tm
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		travel    int
		gap       int
		threshold int
		want      models.ConsistencyNote
	}{
		{"comfortable slack", 90, 200, 15, models.NoteOK},
		{"slack below threshold", 90, 100, 15, models.NoteWarning},
		{"travel exceeds gap", 90, 60, 15, models.NoteError},
		{"slack equals threshold", 85, 100, 15, models.NoteOK},
		{"exact fit", 100, 100, 15, models.NoteWarning},
		{"negative gap", 0, -5, 15, models.NoteError},
		{"zero threshold exact fit", 30, 30, 0, models.NoteOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.travel, tt.gap, tt.threshold))
		})
	}
}

func TestRecomputeWindow(t *testing.T) {
	ctx := context.Background()

	t.Run("bounding interval of active children", func(t *testing.T) {
		store := newFakeStore()
		store.addStep(models.Step{ID: "s1", TripID: "t1"})
		store.addLodging(models.Lodging{ID: "l1", StepID: "s1", Active: true,
			ArrivalDateTime: ts("2026-06-01T15:00:00Z"), DepartureDateTime: ts("2026-06-03T10:00:00Z")})
		store.addActivity(models.Activity{ID: "a1", StepID: "s1", Active: true,
			StartDateTime: ts("2026-06-01T11:00:00Z"), EndDateTime: ts("2026-06-01T13:00:00Z")})
		store.addActivity(models.Activity{ID: "a2", StepID: "s1", Active: false,
			StartDateTime: ts("2026-05-30T08:00:00Z"), EndDateTime: ts("2026-06-10T08:00:00Z")})

		e := NewEngine(store, &fakeProvider{}, Options{})
		change, err := e.RecomputeWindow(ctx, "s1")
		require.NoError(t, err)

		assert.True(t, change.Changed)
		assert.Equal(t, ts("2026-06-01T11:00:00Z"), change.After.Arrival)
		assert.Equal(t, ts("2026-06-03T10:00:00Z"), change.After.Departure)
		assert.Equal(t, change.After.Arrival, store.step("s1").ArrivalDateTime)
		assert.Equal(t, 1, store.windowWrites)
	})

	t.Run("idempotent", func(t *testing.T) {
		store := newFakeStore()
		store.addStep(models.Step{ID: "s1", TripID: "t1"})
		store.addActivity(models.Activity{ID: "a1", StepID: "s1", Active: true,
			StartDateTime: ts("2026-06-01T11:00"), EndDateTime: ts("2026-06-01T13:00")})

		e := NewEngine(store, &fakeProvider{}, Options{})
		first, err := e.RecomputeWindow(ctx, "s1")
		require.NoError(t, err)
		require.True(t, first.Changed)

		second, err := e.RecomputeWindow(ctx, "s1")
		require.NoError(t, err)
		assert.False(t, second.Changed)
		assert.Equal(t, first.After, second.After)
		assert.Equal(t, 1, store.windowWrites)
	})

	t.Run("same instant in another layout is not a change", func(t *testing.T) {
		store := newFakeStore()
		store.addStep(models.Step{ID: "s1", TripID: "t1",
			ArrivalDateTime: ts("2026-06-01 11:00:00"), DepartureDateTime: ts("2026-06-01T13:00")})
		store.addActivity(models.Activity{ID: "a1", StepID: "s1", Active: true,
			StartDateTime: ts("2026-06-01T11:00:00Z"), EndDateTime: ts("2026-06-01T13:00:00Z")})

		e := NewEngine(store, &fakeProvider{}, Options{})
		change, err := e.RecomputeWindow(ctx, "s1")
		require.NoError(t, err)
		assert.False(t, change.Changed)
		assert.Zero(t, store.windowWrites)
	})

	t.Run("no valid children leaves window untouched", func(t *testing.T) {
		store := newFakeStore()
		store.addStep(models.Step{ID: "s1", TripID: "t1",
			ArrivalDateTime: ts("2026-06-01T09:00:00Z"), DepartureDateTime: ts("2026-06-02T09:00:00Z")})
		store.addActivity(models.Activity{ID: "a1", StepID: "s1", Active: true,
			StartDateTime: ts("soon"), EndDateTime: ts("")})
		store.addLodging(models.Lodging{ID: "l1", StepID: "s1", Active: false,
			ArrivalDateTime: ts("2026-05-01T09:00:00Z"), DepartureDateTime: ts("2026-05-02T09:00:00Z")})

		e := NewEngine(store, &fakeProvider{}, Options{})
		change, err := e.RecomputeWindow(ctx, "s1")
		require.NoError(t, err)
		assert.False(t, change.Changed)
		assert.Equal(t, ts("2026-06-01T09:00:00Z"), store.step("s1").ArrivalDateTime)
		assert.Equal(t, ts("2026-06-02T09:00:00Z"), store.step("s1").DepartureDateTime)
	})

	t.Run("sides are independent", func(t *testing.T) {
		store := newFakeStore()
		store.addStep(models.Step{ID: "s1", TripID: "t1",
			ArrivalDateTime: ts("2026-06-01T09:00:00Z"), DepartureDateTime: ts("2026-06-02T09:00:00Z")})
		store.addActivity(models.Activity{ID: "a1", StepID: "s1", Active: true,
			StartDateTime: ts("2026-06-01T12:00:00Z")})

		e := NewEngine(store, &fakeProvider{}, Options{})
		change, err := e.RecomputeWindow(ctx, "s1")
		require.NoError(t, err)
		assert.True(t, change.Changed)
		assert.Equal(t, ts("2026-06-01T12:00:00Z"), change.After.Arrival)
		assert.Equal(t, ts("2026-06-02T09:00:00Z"), change.After.Departure)
	})

	t.Run("unknown step", func(t *testing.T) {
		e := NewEngine(newFakeStore(), &fakeProvider{}, Options{})
		_, err := e.RecomputeWindow(ctx, "missing")
		require.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestResolveBoundaryObject(t *testing.T) {
	ctx := context.Background()

	store := newFakeStore()
	store.addStep(models.Step{ID: "pass", TripID: "t1", Kind: models.StepKindPassThrough, Address: "Brenner Pass",
		ArrivalDateTime: ts("2026-06-01T10:00:00Z")})
	store.addStep(models.Step{ID: "empty", TripID: "t1", Address: "Innsbruck",
		ArrivalDateTime: ts("2026-06-01T12:00:00Z"), DepartureDateTime: ts("2026-06-02T08:00:00Z")})
	store.addStep(models.Step{ID: "tie", TripID: "t1"})
	store.addLodging(models.Lodging{ID: "l-tie", StepID: "tie", Active: true, Address: "Hotel",
		ArrivalDateTime: ts("2026-06-03T14:00:00Z"), DepartureDateTime: ts("2026-06-05T10:00:00Z")})
	store.addActivity(models.Activity{ID: "a-tie", StepID: "tie", Active: true, Address: "Museum",
		StartDateTime: ts("2026-06-03T14:00:00Z"), EndDateTime: ts("2026-06-05T10:00:00Z")})
	store.addStep(models.Step{ID: "mixed", TripID: "t1"})
	store.addLodging(models.Lodging{ID: "l-mixed", StepID: "mixed", Active: true, Address: "Hotel",
		ArrivalDateTime: ts("2026-06-06T15:00:00Z"), DepartureDateTime: ts("2026-06-08T10:00:00Z")})
	store.addActivity(models.Activity{ID: "a-early", StepID: "mixed", Active: true, Address: "Market",
		StartDateTime: ts("2026-06-06T09:00:00Z"), EndDateTime: ts("2026-06-06T11:00:00Z")})
	store.addActivity(models.Activity{ID: "a-late", StepID: "mixed", Active: true, Address: "Concert",
		StartDateTime: ts("2026-06-08T09:00:00Z"), EndDateTime: ts("2026-06-08T23:00:00Z")})
	store.addActivity(models.Activity{ID: "a-off", StepID: "mixed", Active: false, Address: "Cancelled",
		StartDateTime: ts("2026-06-01T09:00:00Z"), EndDateTime: ts("2026-06-30T09:00:00Z")})

	e := NewEngine(store, &fakeProvider{}, Options{})

	tests := []struct {
		name    string
		step    string
		which   Which
		kind    BoundaryKind
		id      string
		address string
	}{
		{"pass-through first", "pass", First, BoundaryStep, "pass", "Brenner Pass"},
		{"pass-through last", "pass", Last, BoundaryStep, "pass", "Brenner Pass"},
		{"no children falls back to step", "empty", First, BoundaryStep, "empty", "Innsbruck"},
		{"lodging wins first tie", "tie", First, BoundaryLodging, "l-tie", "Hotel"},
		{"lodging wins last tie", "tie", Last, BoundaryLodging, "l-tie", "Hotel"},
		{"earlier activity wins first", "mixed", First, BoundaryActivity, "a-early", "Market"},
		{"later activity wins last", "mixed", Last, BoundaryActivity, "a-late", "Concert"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := e.ResolveBoundaryObject(ctx, tt.step, tt.which)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, b.Kind)
			assert.Equal(t, tt.id, b.ID)
			assert.Equal(t, tt.address, b.Address)
		})
	}

	t.Run("pass-through is an instant", func(t *testing.T) {
		b, err := e.ResolveBoundaryObject(ctx, "pass", First)
		require.NoError(t, err)
		assert.Equal(t, mustTime(t, "2026-06-01T10:00:00Z"), b.WindowStart)
		assert.Equal(t, b.WindowStart, b.WindowEnd)
	})

	t.Run("step fallback window", func(t *testing.T) {
		b, err := e.ResolveBoundaryObject(ctx, "empty", Last)
		require.NoError(t, err)
		assert.Equal(t, mustTime(t, "2026-06-01T12:00:00Z"), b.WindowStart)
		assert.Equal(t, mustTime(t, "2026-06-02T08:00:00Z"), b.WindowEnd)
	})
}

// itinerary builds A (hotel checkout at 09:00) followed by B (activity at 11:00) and C.
func itinerary() *fakeStore {
	store := newFakeStore()
	store.addStep(models.Step{ID: "A", TripID: "t1", Address: "Vienna",
		ArrivalDateTime: ts("2026-05-31T15:00:00Z"), DepartureDateTime: ts("2026-06-01T09:00:00Z")})
	store.addLodging(models.Lodging{ID: "A-hotel", StepID: "A", Active: true, Address: "Hotel Sacher",
		ArrivalDateTime: ts("2026-05-31T15:00:00Z"), DepartureDateTime: ts("2026-06-01T09:00:00Z")})
	store.addStep(models.Step{ID: "B", TripID: "t1", Address: "Bratislava",
		ArrivalDateTime: ts("2026-06-01T11:00:00Z"), DepartureDateTime: ts("2026-06-01T18:00:00Z")})
	store.addActivity(models.Activity{ID: "B-castle", StepID: "B", Active: true, Address: "Bratislava Castle",
		StartDateTime: ts("2026-06-01T11:00:00Z"), EndDateTime: ts("2026-06-01T18:00:00Z")})
	store.addStep(models.Step{ID: "C", TripID: "t1", Address: "Budapest",
		ArrivalDateTime: ts("2026-06-01T19:00:00Z"), DepartureDateTime: ts("2026-06-02T10:00:00Z")})
	store.addStep(models.Step{ID: "other", TripID: "t2", Address: "Paris",
		ArrivalDateTime: ts("2026-06-01T10:00:00Z"), DepartureDateTime: ts("2026-06-01T10:30:00Z")})
	return store
}

func TestRefreshAdjacency(t *testing.T) {
	ctx := context.Background()

	t.Run("previous and next hops", func(t *testing.T) {
		store := itinerary()
		provider := &fakeProvider{routes: map[string]travel.Result{
			"Hotel Sacher->Bratislava Castle": {Minutes: 80, Kilometers: 50},
			"Bratislava Castle->Budapest":     {Minutes: 150, Kilometers: 200},
		}}
		e := NewEngine(store, provider, Options{WarningThresholdMinutes: 15})

		res, err := e.RefreshAdjacency(ctx, "B")
		require.NoError(t, err)

		require.NotNil(t, res.Previous)
		assert.Equal(t, "A", res.Previous.FromStepID)
		assert.Equal(t, BoundaryLodging, res.Previous.From.Kind)
		assert.Equal(t, "A-hotel", res.Previous.From.ID)
		assert.Equal(t, BoundaryActivity, res.Previous.To.Kind)
		assert.Equal(t, models.NoteOK, res.Previous.Note)
		require.NotNil(t, res.Previous.GapMinutes)
		assert.Equal(t, 120, *res.Previous.GapMinutes)

		b := store.step("B")
		require.NotNil(t, b.TravelTimePreviousStep)
		assert.Equal(t, 80, *b.TravelTimePreviousStep)
		assert.InDelta(t, 50.0, *b.DistancePreviousStep, 0.001)
		assert.True(t, b.IsArrivalTimeConsistent)
		assert.Equal(t, models.NoteOK, b.ConsistencyNote)

		require.NotNil(t, res.Next)
		c := store.step("C")
		assert.Equal(t, models.NoteError, c.ConsistencyNote)
		assert.False(t, c.IsArrivalTimeConsistent)
		assert.Equal(t, 150, *c.TravelTimePreviousStep)

		require.Len(t, provider.calls, 2)
		assert.Equal(t, mustTime(t, "2026-06-01T09:00:00Z"), provider.calls[0].departure)
	})

	t.Run("provider failure marks error with null metrics", func(t *testing.T) {
		store := itinerary()
		e := NewEngine(store, &fakeProvider{}, Options{})

		res, err := e.RefreshAdjacency(ctx, "B")
		require.NoError(t, err)
		require.NotNil(t, res.Previous)
		assert.Equal(t, models.NoteError, res.Previous.Note)

		b := store.step("B")
		assert.Nil(t, b.TravelTimePreviousStep)
		assert.Nil(t, b.DistancePreviousStep)
		assert.False(t, b.IsArrivalTimeConsistent)
		assert.Equal(t, models.NoteError, b.ConsistencyNote)
	})

	t.Run("first step is reset", func(t *testing.T) {
		store := itinerary()
		stale := 42
		store.steps["A"].TravelTimePreviousStep = &stale
		store.steps["A"].ConsistencyNote = models.NoteError
		e := NewEngine(store, &fakeProvider{routes: map[string]travel.Result{
			"Hotel Sacher->Bratislava Castle": {Minutes: 80, Kilometers: 50},
		}}, Options{})

		res, err := e.RefreshAdjacency(ctx, "A")
		require.NoError(t, err)
		assert.Nil(t, res.Previous)
		require.NotNil(t, res.Next)
		assert.Equal(t, "B", res.Next.ToStepID)

		a := store.step("A")
		assert.Nil(t, a.TravelTimePreviousStep)
		assert.True(t, a.IsArrivalTimeConsistent)
		assert.Equal(t, models.NoteOK, a.ConsistencyNote)
	})

	t.Run("missing window keeps metrics but flags error", func(t *testing.T) {
		store := newFakeStore()
		store.addStep(models.Step{ID: "A", TripID: "t1", Address: "Vienna",
			ArrivalDateTime: ts("2026-06-01T08:00:00Z")})
		store.addStep(models.Step{ID: "B", TripID: "t1", Kind: models.StepKindPassThrough, Address: "Graz",
			ArrivalDateTime: ts("2026-06-01T12:00:00Z")})
		e := NewEngine(store, &fakeProvider{routes: map[string]travel.Result{
			"Vienna->Graz": {Minutes: 120, Kilometers: 190},
		}}, Options{})

		res, err := e.RefreshAdjacency(ctx, "B")
		require.NoError(t, err)
		assert.Equal(t, "missing time window", res.Previous.Reason)

		b := store.step("B")
		require.NotNil(t, b.TravelTimePreviousStep)
		assert.Equal(t, 120, *b.TravelTimePreviousStep)
		assert.False(t, b.IsArrivalTimeConsistent)
		assert.Equal(t, models.NoteError, b.ConsistencyNote)
	})

	t.Run("sub-minute overlap is an error", func(t *testing.T) {
		store := newFakeStore()
		store.addStep(models.Step{ID: "A", TripID: "t1", Address: "Graz",
			ArrivalDateTime: ts("2026-06-01T08:00:00Z"), DepartureDateTime: ts("2026-06-01T10:00:30Z")})
		store.addStep(models.Step{ID: "B", TripID: "t1", Address: "Graz",
			ArrivalDateTime: ts("2026-06-01T10:00:00Z"), DepartureDateTime: ts("2026-06-01T12:00:00Z")})
		e := NewEngine(store, &fakeProvider{routes: map[string]travel.Result{
			"Graz->Graz": {Minutes: 0, Kilometers: 0},
		}}, Options{WarningThresholdMinutes: 15})

		res, err := e.RefreshAdjacency(ctx, "B")
		require.NoError(t, err)
		require.NotNil(t, res.Previous.GapMinutes)
		assert.Equal(t, -1, *res.Previous.GapMinutes)
		assert.Equal(t, models.NoteError, res.Previous.Note)
		assert.False(t, store.step("B").IsArrivalTimeConsistent)
	})

	t.Run("missing address", func(t *testing.T) {
		store := newFakeStore()
		store.addStep(models.Step{ID: "A", TripID: "t1",
			ArrivalDateTime: ts("2026-06-01T08:00:00Z"), DepartureDateTime: ts("2026-06-01T09:00:00Z")})
		store.addStep(models.Step{ID: "B", TripID: "t1", Address: "Graz",
			ArrivalDateTime: ts("2026-06-01T12:00:00Z")})
		provider := &fakeProvider{}
		e := NewEngine(store, provider, Options{})

		res, err := e.RefreshAdjacency(ctx, "B")
		require.NoError(t, err)
		assert.Equal(t, "missing address", res.Previous.Reason)
		assert.Empty(t, provider.calls)
		assert.Equal(t, models.NoteError, store.step("B").ConsistencyNote)
	})

	t.Run("steps of other trips are ignored", func(t *testing.T) {
		store := itinerary()
		provider := &fakeProvider{routes: map[string]travel.Result{
			"Hotel Sacher->Bratislava Castle": {Minutes: 80, Kilometers: 50},
			"Bratislava Castle->Budapest":     {Minutes: 30, Kilometers: 20},
		}}
		e := NewEngine(store, provider, Options{})

		res, err := e.RefreshAdjacency(ctx, "B")
		require.NoError(t, err)
		assert.Equal(t, "A", res.Previous.FromStepID)
		assert.Equal(t, "C", res.Next.ToStepID)
	})
}

func TestSyncStep(t *testing.T) {
	store := itinerary()
	// Moving the castle visit earlier shrinks the gap after Vienna.
	store.activities["B"][0].StartDateTime = ts("2026-06-01T10:30:00Z")
	e := NewEngine(store, &fakeProvider{routes: map[string]travel.Result{
		"Hotel Sacher->Bratislava Castle": {Minutes: 80, Kilometers: 50},
		"Bratislava Castle->Budapest":     {Minutes: 30, Kilometers: 20},
	}}, Options{WarningThresholdMinutes: 15})

	res, err := e.SyncStep(context.Background(), "B")
	require.NoError(t, err)

	assert.True(t, res.Changed)
	assert.Equal(t, ts("2026-06-01T11:00:00Z"), res.Before.Arrival)
	assert.Equal(t, ts("2026-06-01T10:30:00Z"), res.After.Arrival)
	assert.Equal(t, models.NoteWarning, res.Adjacency.Previous.Note)
	assert.Equal(t, models.NoteWarning, store.step("B").ConsistencyNote)
	assert.Equal(t, models.NoteOK, store.step("C").ConsistencyNote)
}

func TestOrderSteps(t *testing.T) {
	steps := []models.Step{
		{ID: "c", ArrivalDateTime: ts("2026-06-03T10:00:00Z")},
		{ID: "x"},
		{ID: "b", ArrivalDateTime: ts("2026-06-01T10:00:00Z")},
		{ID: "a", ArrivalDateTime: ts("2026-06-01T10:00:00Z")},
	}
	ordered := OrderSteps(steps)

	ids := make([]string, len(ordered))
	for i, s := range ordered {
		ids[i] = s.ID
	}
	assert.Equal(t, []string{"a", "b", "c", "x"}, ids)
	assert.Equal(t, "c", steps[0].ID, "input is not reordered")
}

func TestKeyedMutex(t *testing.T) {
	var km keyedMutex
	var wg sync.WaitGroup
	counter := 0

	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("trip")
			defer unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Empty(t, km.locks)
}
