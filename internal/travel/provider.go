// Package travel provides travel-time and geocoding collaborators for the consistency engine.
package travel

import (
	"context"
	"time"
)

// Result is the travel duration and distance between two addresses.
type Result struct {
	Minutes    int     `json:"minutes"`
	Kilometers float64 `json:"kilometers"`
}

// Coordinates is a geocoded position.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Provider computes travel time between two addresses for a departure instant.
type Provider interface {
	ComputeTravel(ctx context.Context, origin, destination string, departure time.Time) (Result, error)
}

// Geocoder resolves an address to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (Coordinates, error)
}
