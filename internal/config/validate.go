package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/djlord-it/pushcron/internal/cron"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	switch cfg.StoreDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			errs = append(errs, ValidationError{Field: "DATABASE_URL", Message: "required when STORE_DRIVER=postgres"})
		}
	case "bolt":
		if cfg.BoltPath == "" {
			errs = append(errs, ValidationError{Field: "BOLT_PATH", Message: "required when STORE_DRIVER=bolt"})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "STORE_DRIVER",
			Message: fmt.Sprintf("must be 'postgres' or 'bolt', got %q", cfg.StoreDriver),
		})
	}

	if _, err := cron.NewParser().Parse(cfg.PollSchedule); err != nil {
		errs = append(errs, ValidationError{Field: "POLL_SCHEDULE", Message: err.Error()})
	}

	if cfg.PushGatewayURL == "" {
		errs = append(errs, ValidationError{Field: "PUSH_GATEWAY_URL", Message: "required"})
	} else if u, err := url.Parse(cfg.PushGatewayURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{Field: "PUSH_GATEWAY_URL", Message: "must be an absolute http(s) URL"})
	}

	if cfg.AdminJWTSecret == "" {
		errs = append(errs, ValidationError{Field: "ADMIN_JWT_SECRET", Message: "required"})
	}

	durations := []struct {
		field string
		value string
	}{
		{"DB_OP_TIMEOUT", cfg.DBOpTimeoutStr},
		{"SWEEP_INTERVAL", cfg.SweepIntervalStr},
		{"SWEEP_THRESHOLD", cfg.SweepThresholdStr},
		{"EVENTBUS_EMIT_TIMEOUT", cfg.EventBusEmitTimeoutStr},
		{"PUSH_TIMEOUT", cfg.PushTimeoutStr},
		{"TZ_REFRESH_INTERVAL", cfg.TZRefreshIntervalStr},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			errs = append(errs, ValidationError{Field: d.field, Message: fmt.Sprintf("invalid duration: %v", err)})
		} else if parsed <= 0 {
			errs = append(errs, ValidationError{Field: d.field, Message: "must be positive"})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Warnings returns non-fatal configuration concerns, for logging at startup.
func Warnings(cfg Config) []string {
	var warnings []string

	if sched, err := cron.NewParser().Parse(cfg.PollSchedule); err == nil {
		gap := cron.MaxGap(sched, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC))
		if gap > time.Minute {
			warnings = append(warnings, fmt.Sprintf(
				"POLL_SCHEDULE=%q polls every %s but schedules match on the exact minute; targets between polls never fire",
				cfg.PollSchedule, gap))
		}
	}

	if !cfg.SweepEnabled {
		warnings = append(warnings, "SWEEP_ENABLED=false: executions interrupted by a crash stay 'running' forever")
	}

	if !cfg.MetricsEnabled {
		warnings = append(warnings, "METRICS_ENABLED=false: no visibility into tick, fan-out or bus saturation")
	}

	if cfg.CircuitBreakerThreshold == 0 {
		warnings = append(warnings, "CIRCUIT_BREAKER_THRESHOLD=0: push gateway outages are retried per device")
	}

	return warnings
}
