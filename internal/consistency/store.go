// Package consistency re-derives step time windows from their children and classifies
// whether consecutive steps of a trip are reachable in time.
package consistency

import (
	"context"

	"github.com/raphaelgruber/tripsync-go/internal/models"
)

// Store is the slice of the itinerary store the engine reads and writes.
// GetStep returns models.ErrNotFound for unknown ids.
type Store interface {
	GetStep(ctx context.Context, id string) (*models.Step, error)
	ListSteps(ctx context.Context, tripID string) ([]models.Step, error)
	ActiveLodgings(ctx context.Context, stepID string) ([]models.Lodging, error)
	ActiveActivities(ctx context.Context, stepID string) ([]models.Activity, error)
	UpdateStepWindow(ctx context.Context, stepID string, arrival, departure models.Timestamp) error
	UpdateStepTravel(ctx context.Context, stepID string, travel models.StepTravel) error
}
