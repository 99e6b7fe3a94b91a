//go:build integration

package db

import (
	"context"
	"time"

	"github.com/raphaelgruber/tripsync-go/internal/travel"
)

type stubProvider struct {
	minutes int
	km      float64
}

func (p stubProvider) ComputeTravel(context.Context, string, string, time.Time) (travel.Result, error) {
	return travel.Result{Minutes: p.minutes, Kilometers: p.km}, nil
}
