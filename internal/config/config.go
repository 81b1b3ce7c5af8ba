// Package config derives runtime configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config lists the tunable parameters for the fleet engine.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string

	// Cache TTLs are deliberately configurable; the defaults carry no
	// deeper meaning than "short".
	CacheListTTL    time.Duration
	CacheHistoryTTL time.Duration

	SimulationInterval time.Duration
}

const (
	defaultPort            = "8080"
	defaultJWTSecret       = "test123"
	defaultCacheListTTL    = 10 * time.Second
	defaultCacheHistoryTTL = 30 * time.Second
	defaultSimInterval     = 2 * time.Second
)

// Load reads configuration from the environment, consulting a .env file
// first if one exists, and falls back to defaults.
func Load() (Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := Config{
		Port:               defaultPort,
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		JWTSecret:          defaultJWTSecret,
		CacheListTTL:       defaultCacheListTTL,
		CacheHistoryTTL:    defaultCacheHistoryTTL,
		SimulationInterval: defaultSimInterval,
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}

	var err error
	if cfg.CacheListTTL, err = durationEnv("FLEET_CACHE_LIST_TTL", cfg.CacheListTTL); err != nil {
		return Config{}, err
	}
	if cfg.CacheHistoryTTL, err = durationEnv("FLEET_CACHE_HISTORY_TTL", cfg.CacheHistoryTTL); err != nil {
		return Config{}, err
	}
	if cfg.SimulationInterval, err = durationEnv("FLEET_SIM_INTERVAL", cfg.SimulationInterval); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}
