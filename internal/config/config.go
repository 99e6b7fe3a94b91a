package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreSurrealDB = "surrealdb"
	StoreMemory    = "memory"
)

// Travel providers.
const (
	TravelGoogle   = "google"
	TravelEstimate = "estimate"
)

// LLM providers.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Config holds all configuration values.
type Config struct {
	// Store backend: "surrealdb" or "memory"
	Store string

	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Redis travel cache (disabled when RedisAddr is empty)
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	TravelCacheTTL time.Duration

	// Travel-time provider
	TravelProvider       string
	GoogleMapsAPIKey     string
	GoogleMapsBaseURL    string
	TravelRequestsPerSec float64
	EstimateSpeedKmh     float64

	// LLM
	LLMProvider     string
	LLMModel        string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	AWSRegion       string

	// Consistency engine
	WarningThresholdMinutes int

	// Job supervisor
	MaxConcurrentJobs int
	StaleJobAfter     time.Duration
	SweepInterval     time.Duration

	// Server / client
	ServerPort    string
	ServerURL     string
	ClientTimeout time.Duration

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
// If TRIPSYNC_CONFIG names a YAML file of KEY: value pairs, those values are used
// for keys not set in the environment.
func Load() Config {
	file := map[string]string{}
	if path := os.Getenv("TRIPSYNC_CONFIG"); path != "" {
		var err error
		file, err = readFile(path)
		if err != nil {
			slog.Warn("failed to read config file, using environment only", "file", path, "error", err)
			file = map[string]string{}
		}
	}
	get := func(key, defaultVal string) string {
		return getEnv(file, key, defaultVal)
	}

	return Config{
		Store: get("TRIPSYNC_STORE", StoreSurrealDB),

		SurrealDBURL:       get("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: get("SURREALDB_NAMESPACE", "tripsync"),
		SurrealDBDatabase:  get("SURREALDB_DATABASE", "itinerary"),
		SurrealDBUser:      get("SURREALDB_USER", "root"),
		SurrealDBPass:      get("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: get("SURREALDB_AUTH_LEVEL", "root"),

		RedisAddr:      get("TRIPSYNC_REDIS_ADDR", ""),
		RedisPassword:  get("TRIPSYNC_REDIS_PASSWORD", ""),
		RedisDB:        parseInt(get("TRIPSYNC_REDIS_DB", "0"), 0),
		TravelCacheTTL: parseDuration(get("TRIPSYNC_TRAVEL_CACHE_TTL", "6h"), 6*time.Hour),

		TravelProvider:       get("TRIPSYNC_TRAVEL_PROVIDER", TravelGoogle),
		GoogleMapsAPIKey:     get("GOOGLE_MAPS_API_KEY", ""),
		GoogleMapsBaseURL:    get("GOOGLE_MAPS_BASE_URL", "https://maps.googleapis.com"),
		TravelRequestsPerSec: parseFloat(get("TRIPSYNC_TRAVEL_RPS", "10"), 10),
		EstimateSpeedKmh:     parseFloat(get("TRIPSYNC_ESTIMATE_SPEED_KMH", "60"), 60),

		LLMProvider:     get("TRIPSYNC_LLM_PROVIDER", ProviderOllama),
		LLMModel:        get("TRIPSYNC_LLM_MODEL", "llama3.2"),
		OllamaHost:      get("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    get("OPENAI_API_KEY", ""),
		AnthropicAPIKey: get("ANTHROPIC_API_KEY", ""),
		AWSRegion:       get("AWS_REGION", "us-east-1"),

		WarningThresholdMinutes: parseInt(get("TRIPSYNC_WARNING_THRESHOLD_MINUTES", "15"), 15),

		MaxConcurrentJobs: parseInt(get("TRIPSYNC_MAX_CONCURRENT_JOBS", "4"), 4),
		StaleJobAfter:     parseDuration(get("TRIPSYNC_STALE_JOB_AFTER", "30m"), 30*time.Minute),
		SweepInterval:     parseDuration(get("TRIPSYNC_SWEEP_INTERVAL", "1m"), time.Minute),

		ServerPort:    get("TRIPSYNC_SERVER_PORT", "8585"),
		ServerURL:     get("TRIPSYNC_SERVER_URL", "http://localhost:8585"),
		ClientTimeout: parseDuration(get("TRIPSYNC_CLIENT_TIMEOUT", "30s"), 30*time.Second),

		LogFile:  get("TRIPSYNC_LOG_FILE", "/tmp/tripsync.log"),
		LogLevel: parseLogLevel(get("TRIPSYNC_LOG_LEVEL", "INFO")),
	}
}

// readFile loads a flat YAML mapping of configuration keys.
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		values[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return values, nil
}

func getEnv(file map[string]string, key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if val, ok := file[key]; ok && val != "" {
		return val
	}
	return defaultVal
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(s string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
