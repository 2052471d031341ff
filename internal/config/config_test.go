package config_test

import (
	"testing"
	"time"

	"github.com/ubi-africa/dispatch-core/internal/config"
)

func TestLoad_DefaultsWhenUnset(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Port != "4010" {
		t.Errorf("expected default port 4010, got %s", cfg.Port)
	}
	if cfg.Dispatch.BatchSize != 3 {
		t.Errorf("expected default batch size 3, got %d", cfg.Dispatch.BatchSize)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DISPATCH_BATCH_SIZE", "7")
	t.Setenv("DISPATCH_BATCH_TIMEOUT", "45s")
	t.Setenv("DISPATCH_REJECT_THRESHOLD", "0.5")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("expected overridden port 9090, got %s", cfg.Port)
	}
	if cfg.Dispatch.BatchSize != 7 {
		t.Errorf("expected overridden batch size 7, got %d", cfg.Dispatch.BatchSize)
	}
	if cfg.Dispatch.BatchTimeout != 45*time.Second {
		t.Errorf("expected overridden batch timeout 45s, got %s", cfg.Dispatch.BatchTimeout)
	}
	if cfg.Dispatch.RejectThreshold != 0.5 {
		t.Errorf("expected overridden reject threshold 0.5, got %f", cfg.Dispatch.RejectThreshold)
	}
}
