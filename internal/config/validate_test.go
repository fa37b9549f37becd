package config

import (
	"strings"
	"testing"
)

func validConfig() Config {
	return Config{
		StoreDriver:    "postgres",
		DatabaseURL:    "postgres://localhost/pushcron",
		PollSchedule:   "* * * * *",
		PushGatewayURL: "https://push.example.com/v1/send",
		AdminJWTSecret: "secret",
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Errorf("valid config should not return error, got: %v", err)
	}
}

func TestValidate_MissingDatabaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.DatabaseURL = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing DATABASE_URL")
	}
	if !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("error should mention DATABASE_URL: %q", err.Error())
	}
}

func TestValidate_BoltDoesNotNeedDatabaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.StoreDriver = "bolt"
	cfg.DatabaseURL = ""
	cfg.BoltPath = "/tmp/pushcron.db"

	if err := Validate(cfg); err != nil {
		t.Errorf("bolt config should be valid, got: %v", err)
	}
}

func TestValidate_UnknownStoreDriver(t *testing.T) {
	cfg := validConfig()
	cfg.StoreDriver = "mysql"

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "STORE_DRIVER") {
		t.Fatalf("expected STORE_DRIVER error, got %v", err)
	}
}

func TestValidate_InvalidPollSchedule(t *testing.T) {
	cfg := validConfig()
	cfg.PollSchedule = "every minute"

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "POLL_SCHEDULE") {
		t.Fatalf("expected POLL_SCHEDULE error, got %v", err)
	}
}

func TestValidate_InvalidDurations(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr string
	}{
		{"non-parseable", "invalid", "invalid duration"},
		{"negative", "-1s", "must be positive"},
		{"zero", "0s", "must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.PushTimeoutStr = tt.value

			err := Validate(cfg)
			if err == nil {
				t.Fatalf("expected error for push_timeout=%q", tt.value)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_PushGatewayURL(t *testing.T) {
	for _, raw := range []string{"", "push.example.com", "ftp://push.example.com"} {
		cfg := validConfig()
		cfg.PushGatewayURL = raw
		if err := Validate(cfg); err == nil {
			t.Errorf("expected error for PUSH_GATEWAY_URL=%q", raw)
		}
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := Config{StoreDriver: "postgres", PollSchedule: "* * * * *"}

	err := Validate(cfg)
	errs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(errs) != 3 {
		t.Errorf("expected 3 errors (database, gateway, jwt), got %d: %v", len(errs), errs)
	}
	if !strings.HasPrefix(err.Error(), "3 validation errors:") {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestWarnings(t *testing.T) {
	cfg := validConfig()
	cfg.SweepEnabled = true
	cfg.MetricsEnabled = true
	cfg.CircuitBreakerThreshold = 5

	if w := Warnings(cfg); len(w) != 0 {
		t.Errorf("expected no warnings, got %v", w)
	}

	cfg.PollSchedule = "*/30 * * * *"
	cfg.SweepEnabled = false
	w := Warnings(cfg)
	if len(w) != 2 {
		t.Fatalf("expected 2 warnings, got %v", w)
	}
	if !strings.Contains(w[0], "POLL_SCHEDULE") || !strings.Contains(w[0], "30m0s") {
		t.Errorf("unexpected poll warning: %q", w[0])
	}
	if !strings.Contains(w[1], "SWEEP_ENABLED=false") {
		t.Errorf("unexpected sweep warning: %q", w[1])
	}
}
