package travel

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cached memoizes travel results and geocodes in Redis.
// Cache failures are logged and fall through to the wrapped collaborators.
type Cached struct {
	provider Provider
	geocoder Geocoder
	rdb      redis.UniversalClient
	ttl      time.Duration
}

var (
	_ Provider = (*Cached)(nil)
	_ Geocoder = (*Cached)(nil)
)

// RedisOptions configures the cache connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// NewCached wraps provider and geocoder with a Redis cache. Either may be nil.
func NewCached(provider Provider, geocoder Geocoder, rdb redis.UniversalClient, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &Cached{provider: provider, geocoder: geocoder, rdb: rdb, ttl: ttl}
}

// ComputeTravel returns a cached result for the same addresses and departure hour.
func (c *Cached) ComputeTravel(ctx context.Context, origin, destination string, departure time.Time) (Result, error) {
	key := travelKey(origin, destination, departure)

	var cached Result
	if c.load(ctx, key, &cached) {
		return cached, nil
	}

	result, err := c.provider.ComputeTravel(ctx, origin, destination, departure)
	if err != nil {
		return Result{}, err
	}
	c.store(ctx, key, result)
	return result, nil
}

// Geocode returns a cached position for the normalized address.
func (c *Cached) Geocode(ctx context.Context, address string) (Coordinates, error) {
	key := "tripsync:geocode:" + digest(normalize(address))

	var cached Coordinates
	if c.load(ctx, key, &cached) {
		return cached, nil
	}

	coords, err := c.geocoder.Geocode(ctx, address)
	if err != nil {
		return Coordinates{}, err
	}
	c.store(ctx, key, coords)
	return coords, nil
}

func (c *Cached) load(ctx context.Context, key string, out any) bool {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Debug("travel cache read failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		slog.Debug("travel cache entry malformed", "key", key, "error", err)
		return false
	}
	return true
}

func (c *Cached) store(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		slog.Debug("travel cache write failed", "key", key, "error", err)
	}
}

func travelKey(origin, destination string, departure time.Time) string {
	hour := ""
	if !departure.IsZero() {
		hour = departure.UTC().Truncate(time.Hour).Format(time.RFC3339)
	}
	return "tripsync:travel:" + digest(normalize(origin)+"|"+normalize(destination)+"|"+hour)
}

func normalize(address string) string {
	return strings.Join(strings.Fields(strings.ToLower(address)), " ")
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}
