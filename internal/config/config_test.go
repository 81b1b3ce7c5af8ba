package config_test

import (
	"testing"
	"time"

	"github.com/fleetmon/fleet-engine/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	for _, name := range []string{
		"PORT", "DATABASE_URL", "REDIS_URL", "JWT_SECRET",
		"FLEET_CACHE_LIST_TTL", "FLEET_CACHE_HISTORY_TTL", "FLEET_SIM_INTERVAL",
	} {
		t.Setenv(name, "")
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.CacheListTTL != 10*time.Second {
		t.Errorf("expected 10s list TTL, got %v", cfg.CacheListTTL)
	}
	if cfg.CacheHistoryTTL != 30*time.Second {
		t.Errorf("expected 30s history TTL, got %v", cfg.CacheHistoryTTL)
	}
	if cfg.SimulationInterval != 2*time.Second {
		t.Errorf("expected 2s simulation interval, got %v", cfg.SimulationInterval)
	}
	if cfg.DatabaseURL != "" || cfg.RedisURL != "" {
		t.Error("expected empty backend URLs by default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("JWT_SECRET", "prod-secret")
	t.Setenv("FLEET_CACHE_LIST_TTL", "1m")
	t.Setenv("FLEET_SIM_INTERVAL", "250ms")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("port override ignored: %q", cfg.Port)
	}
	if cfg.JWTSecret != "prod-secret" {
		t.Errorf("secret override ignored: %q", cfg.JWTSecret)
	}
	if cfg.CacheListTTL != time.Minute {
		t.Errorf("list TTL override ignored: %v", cfg.CacheListTTL)
	}
	if cfg.SimulationInterval != 250*time.Millisecond {
		t.Errorf("interval override ignored: %v", cfg.SimulationInterval)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("FLEET_CACHE_LIST_TTL", "ten seconds")

	if _, err := config.Load(); err == nil {
		t.Fatal("expected an error for an unparseable duration")
	}
}
