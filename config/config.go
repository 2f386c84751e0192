package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port       string // default: 8080
	AdminToken string // bearer token for the /v1 ops routes

	// Database
	PostgresDSN string

	// Cache / ledger
	RedisAddr string

	// Providers
	OpenAIAPIKey string // captions + vision
	GeminiAPIKey string // premium video (Veo)
	FalAPIKey    string // image + default/fallback video

	// Job queue
	WorkerCount  int           // concurrent claim loops, default: 4
	ClaimLimit   int           // jobs claimed per poll, default: 10
	PollInterval time.Duration // worker poll cadence, default: 2s
	LeaseTimeout time.Duration // RUNNING older than this is considered stuck, default: 10m

	// Scheduler
	TickSpec        string  // robfig/cron spec for scheduler ticks, default: "@every 2m"
	ReapSpec        string  // robfig/cron spec for the stuck-job sweep, default: "@every 1m"
	WindowStartHour int     // active posting window start (UTC hour), default: 8
	WindowHours     int     // active posting window length, default: 15
	PostJitter      float64 // fraction of the posting interval, default: 0.3

	// Pricing
	CostTablePath string // optional YAML override for the model cost table

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"

	// Rate Limiting
	DefaultRateLimitCPM int64 // capability calls per bot per minute, default: 30
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		AdminToken:           os.Getenv("ADMIN_TOKEN"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		FalAPIKey:            os.Getenv("FAL_API_KEY"),
		TickSpec:             getEnv("SCHEDULER_TICK", "@every 2m"),
		ReapSpec:             getEnv("REAPER_TICK", "@every 1m"),
		CostTablePath:        os.Getenv("COST_TABLE_PATH"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	var err error
	if cfg.WorkerCount, err = getEnvInt("WORKER_COUNT", 4); err != nil {
		return nil, err
	}
	if cfg.ClaimLimit, err = getEnvInt("CLAIM_LIMIT", 10); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = getEnvDuration("POLL_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.LeaseTimeout, err = getEnvDuration("LEASE_TIMEOUT", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.WindowStartHour, err = getEnvInt("WINDOW_START_HOUR", 8); err != nil {
		return nil, err
	}
	if cfg.WindowHours, err = getEnvInt("WINDOW_HOURS", 15); err != nil {
		return nil, err
	}
	if cfg.PostJitter, err = getEnvFloat("POST_JITTER", 0.3); err != nil {
		return nil, err
	}

	cpmStr := getEnv("DEFAULT_RATE_LIMIT_CPM", "30")
	cpm, err := strconv.ParseInt(cpmStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_RATE_LIMIT_CPM: %w", err)
	}
	cfg.DefaultRateLimitCPM = cpm

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}
	if cfg.WindowHours <= 0 || cfg.WindowHours > 24 {
		return nil, fmt.Errorf("WINDOW_HOURS must be in 1..24, got %d", cfg.WindowHours)
	}
	if cfg.WindowStartHour < 0 || cfg.WindowStartHour > 23 {
		return nil, fmt.Errorf("WINDOW_START_HOUR must be in 0..23, got %d", cfg.WindowStartHour)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
