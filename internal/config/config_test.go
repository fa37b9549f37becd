package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"STORE_DRIVER", "POLL_SCHEDULE", "DB_OP_TIMEOUT", "DB_MAX_OPEN_CONNS",
		"DISPATCHER_DRAIN_TIMEOUT", "SWEEP_THRESHOLD", "FANOUT_WORKERS",
		"DISPATCHER_WORKERS", "PUSH_TIMEOUT", "TZ_REFRESH_INTERVAL", "SWEEP_ENABLED",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.StoreDriver != "postgres" {
		t.Errorf("StoreDriver: expected postgres, got %q", cfg.StoreDriver)
	}
	if cfg.PollSchedule != "* * * * *" {
		t.Errorf("PollSchedule: expected every minute, got %q", cfg.PollSchedule)
	}
	if cfg.DBOpTimeout != 5*time.Second {
		t.Errorf("DBOpTimeout: expected 5s, got %v", cfg.DBOpTimeout)
	}
	if cfg.DBMaxOpenConns != 25 {
		t.Errorf("DBMaxOpenConns: expected 25, got %d", cfg.DBMaxOpenConns)
	}
	if cfg.DispatcherDrainTimeout != 30*time.Second {
		t.Errorf("DispatcherDrainTimeout: expected 30s, got %v", cfg.DispatcherDrainTimeout)
	}
	if cfg.SweepThreshold != 30*time.Minute {
		t.Errorf("SweepThreshold: expected 30m, got %v", cfg.SweepThreshold)
	}
	if cfg.FanoutWorkers != 8 {
		t.Errorf("FanoutWorkers: expected 8, got %d", cfg.FanoutWorkers)
	}
	if cfg.DispatcherWorkers != 4 {
		t.Errorf("DispatcherWorkers: expected 4, got %d", cfg.DispatcherWorkers)
	}
	if cfg.PushTimeout != 10*time.Second {
		t.Errorf("PushTimeout: expected 10s, got %v", cfg.PushTimeout)
	}
	if cfg.TZRefreshInterval != time.Hour {
		t.Errorf("TZRefreshInterval: expected 1h, got %v", cfg.TZRefreshInterval)
	}
	if !cfg.SweepEnabled {
		t.Error("SweepEnabled: expected true by default")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("STORE_DRIVER", "bolt")
	t.Setenv("POLL_SCHEDULE", "*/5 * * * *")
	t.Setenv("DB_OP_TIMEOUT", "10s")
	t.Setenv("FANOUT_WORKERS", "32")
	t.Setenv("PUSH_RATE_PER_SEC", "100")
	t.Setenv("SWEEP_ENABLED", "false")
	t.Setenv("CORS_ORIGINS", "https://admin.example.com, https://ops.example.com")

	cfg := Load()

	if cfg.StoreDriver != "bolt" {
		t.Errorf("StoreDriver: expected bolt, got %q", cfg.StoreDriver)
	}
	if cfg.PollSchedule != "*/5 * * * *" {
		t.Errorf("PollSchedule: got %q", cfg.PollSchedule)
	}
	if cfg.DBOpTimeout != 10*time.Second {
		t.Errorf("DBOpTimeout: expected 10s, got %v", cfg.DBOpTimeout)
	}
	if cfg.FanoutWorkers != 32 {
		t.Errorf("FanoutWorkers: expected 32, got %d", cfg.FanoutWorkers)
	}
	if cfg.PushRatePerSec != 100 {
		t.Errorf("PushRatePerSec: expected 100, got %d", cfg.PushRatePerSec)
	}
	if cfg.SweepEnabled {
		t.Error("SweepEnabled: expected false")
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://ops.example.com" {
		t.Errorf("CORSOrigins: got %v", cfg.CORSOrigins)
	}
}

func TestLoad_EventBusBufferSizeInvalidFallsBack(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"negative", "-1"},
		{"zero", "0"},
		{"non-numeric", "abc"},
		{"float", "1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("EVENTBUS_BUFFER_SIZE", tt.value)

			cfg := Load()

			if cfg.EventBusBufferSize != 100 {
				t.Errorf("EventBusBufferSize: expected fallback to 100 for %q, got %d", tt.value, cfg.EventBusBufferSize)
			}
		})
	}
}

func TestLoad_PushRateAllowsZero(t *testing.T) {
	t.Setenv("PUSH_RATE_PER_SEC", "0")

	if cfg := Load(); cfg.PushRatePerSec != 0 {
		t.Errorf("PushRatePerSec: expected 0 (unlimited), got %d", cfg.PushRatePerSec)
	}
}

func TestMaskedJSON_MasksSecrets(t *testing.T) {
	cfg := Config{
		DatabaseURL:       "postgres://user:pass@db/pushcron",
		PushGatewayToken:  "gateway-token",
		AdminJWTSecret:    "jwt-secret",
		PushSigningSecret: "hmac-secret",
		DBOpTimeoutStr:    "5s",
	}

	data, err := cfg.MaskedJSON()
	if err != nil {
		t.Fatalf("MaskedJSON failed: %v", err)
	}
	out := string(data)

	for _, secret := range []string{"user:pass", "gateway-token", "jwt-secret", "hmac-secret"} {
		if strings.Contains(out, secret) {
			t.Errorf("MaskedJSON leaked %q: %s", secret, out)
		}
	}
	if !strings.Contains(out, `"database_url": "postgres://***"`) {
		t.Errorf("MaskedJSON should keep URI scheme: %s", out)
	}
	if !strings.Contains(out, `"db_op_timeout": "5s"`) {
		t.Errorf("MaskedJSON missing db_op_timeout: %s", out)
	}
}
