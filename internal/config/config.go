// Package config aggregates this process's tunables into one surface,
// loaded from the environment the way the teacher's cmd/server/main.go
// loadConfig does (plain os.Getenv with defaults), generalized with a
// handful of typed getEnv variants for the numeric/duration knobs the
// dispatch engine, ETA oracle, and hot-zone controller all need.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/ubi-africa/dispatch-core/internal/dispatch"
	"github.com/ubi-africa/dispatch-core/internal/hotzone"
	"github.com/ubi-africa/dispatch-core/internal/scoring"
)

// Config is the process-wide configuration surface for cmd/dispatchd.
type Config struct {
	Port            string
	Environment     string
	ShutdownTimeout time.Duration

	DatabaseURL string
	RedisURL    string
	JWTSecret   string

	KafkaBrokers   string
	RabbitMQURL    string
	RoadNetworkURL string
	RoadNetworkKey string

	ETADailyCallBudget int
	ZonesFile          string

	Dispatch dispatch.Config
	Scoring  scoring.Weights
	Zones    []hotzone.Zone
}

// Load reads Config from the environment, falling back to this system's
// defaults for anything unset. ZONES_FILE, if set, is read and parsed as
// the hot-zone roster; an empty roster means every pickup falls outside
// a hot zone (CheckAdmission always returns AdmissionNormal).
func Load() (Config, error) {
	cfg := Config{
		Port:            getEnv("PORT", "4010"),
		Environment:     getEnv("NODE_ENV", "development"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),

		KafkaBrokers:   getEnv("KAFKA_BROKERS", ""),
		RabbitMQURL:    getEnv("RABBITMQ_URL", ""),
		RoadNetworkURL: getEnv("ROAD_NETWORK_URL", ""),
		RoadNetworkKey: getEnv("ROAD_NETWORK_API_KEY", ""),

		ETADailyCallBudget: getEnvInt("ETA_DAILY_CALL_BUDGET", 10_000),
		ZonesFile:          getEnv("ZONES_FILE", ""),

		Dispatch: defaultDispatchConfig(),
		Scoring:  scoring.DefaultWeights(),
	}

	if cfg.ZonesFile != "" {
		zones, err := loadZones(cfg.ZonesFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Zones = zones
	}

	return cfg, nil
}

// defaultDispatchConfig starts from dispatch.DefaultConfig and layers on
// environment overrides for the knobs operators tune most often.
func defaultDispatchConfig() dispatch.Config {
	cfg := dispatch.DefaultConfig()
	cfg.BatchSize = getEnvInt("DISPATCH_BATCH_SIZE", cfg.BatchSize)
	cfg.BatchTimeout = getEnvDuration("DISPATCH_BATCH_TIMEOUT", cfg.BatchTimeout)
	cfg.MaxBatches = getEnvInt("DISPATCH_MAX_BATCHES", cfg.MaxBatches)
	cfg.OrderTotalTimeout = getEnvDuration("DISPATCH_ORDER_TOTAL_TIMEOUT", cfg.OrderTotalTimeout)
	cfg.RejectThreshold = getEnvFloat("DISPATCH_REJECT_THRESHOLD", cfg.RejectThreshold)
	cfg.SearchRadiusKm = getEnvFloat("DISPATCH_SEARCH_RADIUS_KM", cfg.SearchRadiusKm)
	return cfg
}

func loadZones(path string) ([]hotzone.Zone, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var zones []hotzone.Zone
	if err := json.Unmarshal(data, &zones); err != nil {
		return nil, err
	}
	return zones, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
