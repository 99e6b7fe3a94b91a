package travel

import (
	"context"
	"fmt"
	"math"
	"time"
)

const (
	earthRadiusKm = 6371.0

	// roadFactor converts great-circle distance into an approximate road distance.
	roadFactor = 1.3
)

// Estimate derives travel time from geocoded coordinates when no routing API is available.
type Estimate struct {
	geocoder Geocoder
	speedKmh float64
}

var _ Provider = (*Estimate)(nil)

// NewEstimate creates an estimating provider averaging speedKmh on the road.
func NewEstimate(geocoder Geocoder, speedKmh float64) *Estimate {
	if speedKmh <= 0 {
		speedKmh = 60
	}
	return &Estimate{geocoder: geocoder, speedKmh: speedKmh}
}

// ComputeTravel geocodes both addresses and applies the road factor and average speed.
func (e *Estimate) ComputeTravel(ctx context.Context, origin, destination string, _ time.Time) (Result, error) {
	from, err := e.geocoder.Geocode(ctx, origin)
	if err != nil {
		return Result{}, fmt.Errorf("geocode origin: %w", err)
	}
	to, err := e.geocoder.Geocode(ctx, destination)
	if err != nil {
		return Result{}, fmt.Errorf("geocode destination: %w", err)
	}

	km := Haversine(from, to) * roadFactor
	return Result{
		Minutes:    int(math.Round(km / e.speedKmh * 60)),
		Kilometers: math.Round(km*10) / 10,
	}, nil
}

// Haversine returns the great-circle distance in kilometers.
func Haversine(a, b Coordinates) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
