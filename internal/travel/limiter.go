package travel

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limited throttles calls to a provider and geocoder so large batches do not exhaust API quota.
// Waiting respects context cancellation.
type Limited struct {
	provider Provider
	geocoder Geocoder
	limiter  *rate.Limiter
}

var (
	_ Provider = (*Limited)(nil)
	_ Geocoder = (*Limited)(nil)
)

// NewLimited wraps provider and geocoder with a shared limiter of rps requests per second.
// Either may be nil if only one capability is needed.
func NewLimited(provider Provider, geocoder Geocoder, rps float64) *Limited {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = max(1, int(rps))
	}
	return &Limited{
		provider: provider,
		geocoder: geocoder,
		limiter:  rate.NewLimiter(limit, burst),
	}
}

func (l *Limited) ComputeTravel(ctx context.Context, origin, destination string, departure time.Time) (Result, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}
	return l.provider.ComputeTravel(ctx, origin, destination, departure)
}

func (l *Limited) Geocode(ctx context.Context, address string) (Coordinates, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return Coordinates{}, err
	}
	return l.geocoder.Geocode(ctx, address)
}
