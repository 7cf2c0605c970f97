// README: Config loader with env defaults for HTTP, Firebase, Redis, Postgres, NATS, ETA and journey settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type ETAConfig struct {
	MapsAPIKey string
	TTL        time.Duration
	Timeout    time.Duration
	// FallbackSpeedMps drives the haversine estimator used when no Maps key is set.
	FallbackSpeedMps float64
}

type LocationConfig struct {
	HistoryLimit         int
	GeofenceRadiusMeters float64
	// Broadcast selects the live mirror: "none", "rtdb" or "nats".
	Broadcast string
}

type JourneyConfig struct {
	EarlyArrivalThreshold time.Duration
	ResolveConcurrency    int
}

type Config struct {
	HTTP struct {
		Addr string
	}
	Firebase struct {
		ProjectID       string
		CredentialsFile string
		DatabaseURL     string
	}
	Redis struct {
		Addr     string
		Password string
	}
	DB struct {
		// DSN is optional; without it the journey event log and location snapshots are disabled.
		DSN string
	}
	NATS struct {
		URL string
	}
	Log struct {
		Level string
		File  string
		JSON  bool
	}
	MetricsEnabled bool
	ETA            ETAConfig
	Location       LocationConfig
	Journey        JourneyConfig
}

func Load() (Config, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	var cfg Config
	var errs []error

	cfg.HTTP.Addr = envOrDefault("SCHOOLRUN_HTTP_ADDR", ":8080")

	cfg.Firebase.ProjectID = os.Getenv("SCHOOLRUN_FIREBASE_PROJECT_ID")
	cfg.Firebase.CredentialsFile = os.Getenv("SCHOOLRUN_FIREBASE_CREDENTIALS")
	cfg.Firebase.DatabaseURL = os.Getenv("SCHOOLRUN_FIREBASE_DATABASE_URL")

	cfg.Redis.Addr = envOrDefault("SCHOOLRUN_REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = os.Getenv("SCHOOLRUN_REDIS_PASSWORD")
	cfg.DB.DSN = os.Getenv("SCHOOLRUN_DB_DSN")
	cfg.NATS.URL = os.Getenv("SCHOOLRUN_NATS_URL")

	cfg.Log.Level = strings.ToLower(envOrDefault("SCHOOLRUN_LOG_LEVEL", "info"))
	cfg.Log.File = os.Getenv("SCHOOLRUN_LOG_FILE")
	cfg.Log.JSON = envOrDefaultBool("SCHOOLRUN_LOG_JSON", true)
	cfg.MetricsEnabled = envOrDefaultBool("SCHOOLRUN_METRICS", true)

	cfg.ETA.MapsAPIKey = os.Getenv("SCHOOLRUN_MAPS_API_KEY")
	cfg.ETA.TTL = envOrDefaultDuration("SCHOOLRUN_ETA_TTL", 5*time.Minute, &errs)
	cfg.ETA.Timeout = envOrDefaultDuration("SCHOOLRUN_ETA_TIMEOUT", 5*time.Second, &errs)
	cfg.ETA.FallbackSpeedMps = envOrDefaultFloat("SCHOOLRUN_ETA_FALLBACK_SPEED_MPS", 8.0, &errs)

	cfg.Location.HistoryLimit = envOrDefaultInt("SCHOOLRUN_LOCATION_HISTORY_LIMIT", 100, &errs)
	cfg.Location.GeofenceRadiusMeters = envOrDefaultFloat("SCHOOLRUN_GEOFENCE_RADIUS_M", 100, &errs)
	cfg.Location.Broadcast = strings.ToLower(envOrDefault("SCHOOLRUN_LOCATION_BROADCAST", "none"))

	cfg.Journey.EarlyArrivalThreshold = envOrDefaultDuration("SCHOOLRUN_EARLY_ARRIVAL_THRESHOLD", 10*time.Minute, &errs)
	cfg.Journey.ResolveConcurrency = envOrDefaultInt("SCHOOLRUN_RESOLVE_CONCURRENCY", 8, &errs)

	if cfg.Firebase.ProjectID == "" {
		errs = append(errs, errors.New("SCHOOLRUN_FIREBASE_PROJECT_ID is required"))
	}
	if cfg.Location.HistoryLimit <= 0 {
		errs = append(errs, errors.New("SCHOOLRUN_LOCATION_HISTORY_LIMIT must be > 0"))
	}
	if cfg.ETA.TTL <= 0 {
		errs = append(errs, errors.New("SCHOOLRUN_ETA_TTL must be > 0"))
	}
	switch cfg.Location.Broadcast {
	case "none", "rtdb", "nats":
	default:
		errs = append(errs, fmt.Errorf("SCHOOLRUN_LOCATION_BROADCAST must be none, rtdb or nats, got %q", cfg.Location.Broadcast))
	}
	if cfg.Location.Broadcast == "nats" && cfg.NATS.URL == "" {
		errs = append(errs, errors.New("SCHOOLRUN_NATS_URL is required when broadcasting over nats"))
	}
	if cfg.Location.Broadcast == "rtdb" && cfg.Firebase.DatabaseURL == "" {
		errs = append(errs, errors.New("SCHOOLRUN_FIREBASE_DATABASE_URL is required when broadcasting over rtdb"))
	}

	return cfg, errors.Join(errs...)
}

func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		default:
			return false
		}
	}
	return def
}

func envOrDefaultInt(key string, def int, errs *[]error) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return def
		}
		return n
	}
	return def
}

func envOrDefaultFloat(key string, def float64, errs *[]error) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return def
		}
		return f
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration, errs *[]error) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return def
		}
		return d
	}
	return def
}
