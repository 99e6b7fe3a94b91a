//go:build integration

// Package db provides integration tests for SurrealDB operations.
package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/raphaelgruber/tripsync-go/internal/consistency"
	"github.com/raphaelgruber/tripsync-go/internal/jobs"
	"github.com/raphaelgruber/tripsync-go/internal/models"
)

var (
	_ consistency.Store = (*Client)(nil)
	_ jobs.Store        = (*Client)(nil)
)

var testDB *Client
var testContainer testcontainers.Container

// TestMain sets up and tears down the SurrealDB container for all tests.
func TestMain(m *testing.M) {
	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := testContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := testDB.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = testContainer.Terminate(ctx)

	os.Exit(code)
}

// seedTrip stores a trip with two steps, a lodging and an activity under a unique prefix.
func seedTrip(t *testing.T, prefix string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, testDB.SaveTrip(ctx, models.Trip{ID: prefix + "-trip", Owner: "ana", Name: "Danube"}))
	require.NoError(t, testDB.SaveStep(ctx, models.Step{
		ID: prefix + "-a", TripID: prefix + "-trip", Name: "Vienna", Address: "Vienna",
		ArrivalDateTime: "2026-06-01T08:00:00Z", DepartureDateTime: "2026-06-01T09:00:00Z",
	}))
	require.NoError(t, testDB.SaveStep(ctx, models.Step{
		ID: prefix + "-b", TripID: prefix + "-trip", Name: "Bratislava", Address: "Bratislava",
	}))
	require.NoError(t, testDB.SaveLodging(ctx, models.Lodging{
		ID: prefix + "-l", StepID: prefix + "-b", Name: "Hotel", Address: "Bratislava", Active: true,
		ArrivalDateTime: "2026-06-01T15:00:00Z", DepartureDateTime: "2026-06-02T10:00:00Z",
	}))
	require.NoError(t, testDB.SaveActivity(ctx, models.Activity{
		ID: prefix + "-x", StepID: prefix + "-b", Name: "Castle", Address: "Bratislava Castle", Active: true,
		StartDateTime: "2026-06-01T11:00:00Z", EndDateTime: "not a date",
	}))
}

// =============================================================================
// CLIENT TESTS
// =============================================================================

func TestInitSchemaIdempotent(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.InitSchema(ctx))
	require.NoError(t, testDB.InitSchema(ctx))
}

// =============================================================================
// ITINERARY TESTS
// =============================================================================

func TestItineraryRoundTrip(t *testing.T) {
	ctx := context.Background()
	seedTrip(t, "rt")

	trip, err := testDB.GetTrip(ctx, "rt-trip")
	require.NoError(t, err)
	assert.Equal(t, "Danube", trip.Name)

	steps, err := testDB.ListSteps(ctx, "rt-trip")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "rt-a", steps[0].ID)
	assert.Equal(t, models.StepKindWaypoint, steps[0].Kind)
	assert.True(t, steps[0].IsArrivalTimeConsistent)
	assert.Equal(t, models.NoteOK, steps[0].ConsistencyNote)

	activities, err := testDB.ActiveActivities(ctx, "rt-b")
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, models.Timestamp("not a date"), activities[0].EndDateTime)

	_, err = testDB.SetLodgingActive(ctx, "rt-l", false)
	require.NoError(t, err)
	lodgings, err := testDB.ActiveLodgings(ctx, "rt-b")
	require.NoError(t, err)
	assert.Empty(t, lodgings)

	_, err = testDB.GetStep(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = testDB.SetActivityActive(ctx, "missing", true)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStepUpdates(t *testing.T) {
	ctx := context.Background()
	seedTrip(t, "up")

	require.NoError(t, testDB.UpdateStepWindow(ctx, "up-b", "2026-06-01T11:00:00Z", "2026-06-02T10:00:00Z"))

	minutes, km := 80, 55.2
	require.NoError(t, testDB.UpdateStepTravel(ctx, "up-b", models.StepTravel{
		TravelTimeMinutes: &minutes, DistanceKm: &km, Consistent: true, Note: models.NoteOK,
	}))
	step, err := testDB.GetStep(ctx, "up-b")
	require.NoError(t, err)
	assert.Equal(t, models.Timestamp("2026-06-01T11:00:00Z"), step.ArrivalDateTime)
	require.NotNil(t, step.TravelTimePreviousStep)
	assert.Equal(t, 80, *step.TravelTimePreviousStep)
	assert.InDelta(t, 55.2, *step.DistancePreviousStep, 0.001)

	// Provider failures store null metrics.
	require.NoError(t, testDB.UpdateStepTravel(ctx, "up-b", models.StepTravel{Note: models.NoteError}))
	step, err = testDB.GetStep(ctx, "up-b")
	require.NoError(t, err)
	assert.Nil(t, step.TravelTimePreviousStep)
	assert.Nil(t, step.DistancePreviousStep)
	assert.False(t, step.IsArrivalTimeConsistent)
	assert.Equal(t, models.NoteError, step.ConsistencyNote)

	require.NoError(t, testDB.SetStepNarrative(ctx, "up-b", "Castles and coffee."))
	step, err = testDB.GetStep(ctx, "up-b")
	require.NoError(t, err)
	assert.Equal(t, "Castles and coffee.", step.Narrative)

	assert.ErrorIs(t, testDB.UpdateStepWindow(ctx, "missing", "", ""), models.ErrNotFound)
}

func TestTasks(t *testing.T) {
	ctx := context.Background()
	seedTrip(t, "tk")

	created, err := testDB.InsertTasks(ctx, []models.Task{
		{TripID: "tk-trip", Title: "Book ferry", DueDate: "2026-05-20", Source: models.TaskSourceAI},
		{TripID: "tk-trip", Title: "Buy vignette"},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.NotEmpty(t, created[0].ID)

	tasks, err := testDB.ListTasks(ctx, "tk-trip")
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	_, err = testDB.InsertTasks(ctx, []models.Task{{TripID: "nope", Title: "x"}})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestEngineAgainstSurrealDB(t *testing.T) {
	ctx := context.Background()
	seedTrip(t, "eng")

	engine := consistency.NewEngine(testDB, stubProvider{minutes: 80, km: 50}, consistency.Options{})
	res, err := engine.SyncStep(ctx, "eng-b")
	require.NoError(t, err)

	assert.True(t, res.Changed)
	assert.Equal(t, models.Timestamp("2026-06-01T11:00:00Z"), res.After.Arrival)
	assert.Equal(t, models.Timestamp("2026-06-02T10:00:00Z"), res.After.Departure)

	step, err := testDB.GetStep(ctx, "eng-b")
	require.NoError(t, err)
	assert.Equal(t, models.NoteOK, step.ConsistencyNote)
	assert.Equal(t, 80, *step.TravelTimePreviousStep)
}

// =============================================================================
// JOB TESTS
// =============================================================================

func newJob(id, target string, kind models.JobKind) *models.Job {
	now := time.Now().UTC()
	return &models.Job{
		ID: id, TargetID: target, Kind: kind, Status: models.JobStatusPending,
		Progress: models.NewJobProgress(0, 4), CreatedAt: now, UpdatedAt: now,
	}
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()

	require.NoError(t, testDB.CreateJob(ctx, newJob("life-1", "life-trip", models.JobKindResync)))

	err := testDB.CreateJob(ctx, newJob("life-2", "life-trip", models.JobKindResync))
	var conflict *models.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "life-1", conflict.ExistingJobID)

	require.NoError(t, testDB.MarkRunning(ctx, "life-1", time.Now()))
	assert.ErrorIs(t, testDB.MarkRunning(ctx, "life-1", time.Now()), models.ErrConflict)

	require.NoError(t, testDB.UpdateJobProgress(ctx, "life-1", models.NewJobProgress(3, 4)))
	require.NoError(t, testDB.UpdateJobProgress(ctx, "life-1", models.NewJobProgress(2, 4)))

	job, err := testDB.GetJob(ctx, "life-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.Equal(t, models.JobProgress{Total: 4, Completed: 3, Percentage: 75}, job.Progress)
	require.NotNil(t, job.StartedAt)

	active, err := testDB.ListActiveJobs(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, active)

	require.NoError(t, testDB.FinishJob(ctx, "life-1", models.JobStatusCompleted,
		map[string]any{"total_steps": 4}, "", time.Now()))
	assert.ErrorIs(t, testDB.FinishJob(ctx, "life-1", models.JobStatusFailed, nil, "late", time.Now()), models.ErrConflict)
	assert.ErrorIs(t, testDB.FinishJob(ctx, "missing", models.JobStatusFailed, nil, "x", time.Now()), models.ErrNotFound)
	assert.ErrorIs(t, testDB.UpdateJobProgress(ctx, "life-1", models.NewJobProgress(4, 4)), models.ErrConflict)

	job, err = testDB.GetJob(ctx, "life-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.EqualValues(t, 4, job.Result["total_steps"])
	require.NotNil(t, job.CompletedAt)

	// The lock is released with the terminal transition.
	require.NoError(t, testDB.CreateJob(ctx, newJob("life-2", "life-trip", models.JobKindResync)))

	list, err := testDB.ListJobs(ctx, "life-trip")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "life-2", list[0].ID)
}

func TestCreateJobSingleFlight(t *testing.T) {
	ctx := context.Background()

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts []string
	)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := testDB.CreateJob(ctx, newJob(fmt.Sprintf("race-%d", i), "race-trip", models.JobKindTravelTime))
			mu.Lock()
			defer mu.Unlock()
			var conflict *models.ConflictError
			switch {
			case err == nil:
				created++
			case errors.As(err, &conflict):
				conflicts = append(conflicts, conflict.ExistingJobID)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, conflicts, callers-1)

	list, err := testDB.ListJobs(ctx, "race-trip")
	require.NoError(t, err)
	require.Len(t, list, 1)
	for _, id := range conflicts {
		assert.Equal(t, list[0].ID, id)
	}
}

func TestSupervisorAgainstSurrealDB(t *testing.T) {
	ctx := context.Background()
	s := jobs.NewSupervisor(testDB, jobs.Options{MaxConcurrent: 2})

	job, err := s.CreateJob(ctx, "sup-trip", models.JobKindNarrative, 3)
	require.NoError(t, err)
	require.NoError(t, s.RunDetached(ctx, job.ID, func(ctx context.Context, report jobs.ReportFunc) (any, error) {
		for i := 1; i <= 3; i++ {
			report(i)
		}
		return map[string]any{"generated": 3}, nil
	}))
	s.Wait()

	got, err := s.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress.Percentage)
}
