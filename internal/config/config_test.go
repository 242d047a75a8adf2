package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, DefaultBaseURL)
	}
	if cfg.Tenant != "demo" {
		t.Errorf("Tenant = %q, want demo", cfg.Tenant)
	}
	if cfg.Store != StoreSQLite {
		t.Errorf("Store = %q, want sqlite", cfg.Store)
	}
	if cfg.DeviceID != "" {
		t.Errorf("DeviceID = %q, want empty so the station generates one", cfg.DeviceID)
	}
	if cfg.ListenAddr != "127.0.0.1:8090" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.HTTPTimeoutDuration() != 30*time.Second {
		t.Errorf("HTTPTimeoutDuration = %v, want 30s", cfg.HTTPTimeoutDuration())
	}
	if cfg.FallbackTimeoutDuration() != 60*time.Second {
		t.Errorf("FallbackTimeoutDuration = %v, want 60s", cfg.FallbackTimeoutDuration())
	}
	if cfg.FlushIntervalDuration() != 0 {
		t.Errorf("FlushIntervalDuration = %v, want 0", cfg.FlushIntervalDuration())
	}
}

func TestLoad_FromEnv(t *testing.T) {
	os.Clearenv()
	os.Setenv("GATE_BASE_URL", "https://events.example.com")
	os.Setenv("GATE_TENANT", "acme")
	os.Setenv("GATE_STORE", "redis")
	os.Setenv("GATE_REDIS_URL", "redis://localhost:6379/0")
	os.Setenv("GATE_DEVICE_ID", "gate-07")
	os.Setenv("GATE_FLUSH_INTERVAL", "2m")
	os.Setenv("GATE_LOG_LEVEL", "DEBUG")
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseURL != "https://events.example.com" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.Tenant != "acme" {
		t.Errorf("Tenant = %q", cfg.Tenant)
	}
	if cfg.Store != StoreRedis {
		t.Errorf("Store = %q", cfg.Store)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("RedisURL = %q", cfg.RedisURL)
	}
	if cfg.DeviceID != "gate-07" {
		t.Errorf("DeviceID = %q", cfg.DeviceID)
	}
	if cfg.FlushIntervalDuration() != 2*time.Minute {
		t.Errorf("FlushIntervalDuration = %v, want 2m", cfg.FlushIntervalDuration())
	}
	if cfg.LogLevel != "DEBUG" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"relative base url", map[string]string{"GATE_BASE_URL": "events.example.com"}},
		{"ftp base url", map[string]string{"GATE_BASE_URL": "ftp://events.example.com"}},
		{"blank tenant", map[string]string{"GATE_TENANT": "  "}},
		{"tenant with slash", map[string]string{"GATE_TENANT": "a/b"}},
		{"unknown store", map[string]string{"GATE_STORE": "mongo"}},
		{"redis without url", map[string]string{"GATE_STORE": "redis"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.env {
				os.Setenv(k, v)
			}
			defer os.Clearenv()

			if _, err := Load(); err == nil {
				t.Error("Load() want error")
			}
		})
	}
}

func TestDurations_InvalidFallBack(t *testing.T) {
	cfg := &Config{HTTPTimeout: "soon", FallbackTimeout: "-5s", FlushInterval: "never"}
	if cfg.HTTPTimeoutDuration() != 30*time.Second {
		t.Errorf("HTTPTimeoutDuration = %v", cfg.HTTPTimeoutDuration())
	}
	if cfg.FallbackTimeoutDuration() != 60*time.Second {
		t.Errorf("FallbackTimeoutDuration = %v", cfg.FallbackTimeoutDuration())
	}
	if cfg.FlushIntervalDuration() != 0 {
		t.Errorf("FlushIntervalDuration = %v", cfg.FlushIntervalDuration())
	}
}
