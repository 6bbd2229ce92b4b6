package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/assistant")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("JWT_SECRET", "secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected port 8080, got %s", cfg.Port)
	}
	if cfg.QueueWorkers != 50 {
		t.Errorf("Expected 50 workers, got %d", cfg.QueueWorkers)
	}
	if cfg.QueueBatch != 100 {
		t.Errorf("Expected batch 100, got %d", cfg.QueueBatch)
	}
	if cfg.QueueRatioGeneral != 1 || cfg.QueueRatioPremium != 2 {
		t.Errorf("Expected ratio 1:2, got %d:%d", cfg.QueueRatioGeneral, cfg.QueueRatioPremium)
	}
	if cfg.MaxTimeout != 300*time.Second {
		t.Errorf("Expected max timeout 300s, got %s", cfg.MaxTimeout)
	}
	if cfg.ResultTTL != 120*time.Second {
		t.Errorf("Expected result ttl 120s, got %s", cfg.ResultTTL)
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("QUEUE_WORKERS", "4")
	t.Setenv("MAX_TIMEOUT", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.QueueWorkers != 4 {
		t.Errorf("Expected 4 workers, got %d", cfg.QueueWorkers)
	}
	if cfg.MaxTimeout != 5*time.Second {
		t.Errorf("Expected 5s, got %s", cfg.MaxTimeout)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("JWT_SECRET", "secret")

	if _, err := Load(); err == nil {
		t.Error("Expected error for missing POSTGRES_DSN")
	}
}

func TestLoad_InvalidRatio(t *testing.T) {
	setRequired(t)
	t.Setenv("QUEUE_RATIO_PREMIUM", "0")

	if _, err := Load(); err == nil {
		t.Error("Expected error for zero ratio weight")
	}
}
