package travel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/tripsync-go/internal/config"
	"github.com/raphaelgruber/tripsync-go/internal/metrics"
	"github.com/raphaelgruber/tripsync-go/internal/models"
)

// unavailable fails every lookup; links evaluated with it end up in the ERROR state.
type unavailable struct{ reason string }

func (u unavailable) ComputeTravel(context.Context, string, string, time.Time) (Result, error) {
	return Result{}, fmt.Errorf("%w: %s", models.ErrProviderFailure, u.reason)
}

// NewProvider assembles the configured chain: Google routing or the geocode estimate behind a
// shared rate limiter, with a Redis cache in front when TRIPSYNC_REDIS_ADDR is set.
// The returned close function releases the Redis connection.
func NewProvider(ctx context.Context, cfg config.Config, mc *metrics.Collector) (Provider, func() error, error) {
	noop := func() error { return nil }

	if cfg.TravelProvider != config.TravelGoogle && cfg.TravelProvider != config.TravelEstimate {
		return nil, noop, fmt.Errorf("unknown travel provider %q", cfg.TravelProvider)
	}

	google, err := NewGoogleClient(cfg.GoogleMapsAPIKey, cfg.GoogleMapsBaseURL, mc)
	if err != nil {
		slog.Warn("travel provider disabled, every hop will be marked inconsistent", "error", err)
		return unavailable{reason: "no Google Maps API key configured"}, noop, nil
	}
	limited := NewLimited(google, google, cfg.TravelRequestsPerSec)

	var (
		provider Provider = limited
		geocoder Geocoder = limited
		closeFn           = noop
	)
	if cfg.RedisAddr != "" {
		rdb, err := NewRedisClient(ctx, RedisOptions{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return nil, noop, fmt.Errorf("connect to redis %s: %w", cfg.RedisAddr, err)
		}
		cached := NewCached(limited, limited, rdb, cfg.TravelCacheTTL)
		provider, geocoder, closeFn = cached, cached, rdb.Close
		slog.Info("travel cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.TravelCacheTTL)
	}

	if cfg.TravelProvider == config.TravelEstimate {
		provider = NewEstimate(geocoder, cfg.EstimateSpeedKmh)
	}
	slog.Info("travel provider ready", "provider", cfg.TravelProvider, "rps", cfg.TravelRequestsPerSec)
	return provider, closeFn, nil
}
