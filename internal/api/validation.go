package api

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/djlord-it/pushcron/internal/domain"
)

const maxEventNameLength = 100

// parseTimeOfDay accepts "HH:MM" in 24-hour form.
func parseTimeOfDay(s string) (domain.TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return domain.TimeOfDay{}, &domain.ValidationError{Field: "time", Message: fmt.Sprintf("expected HH:MM, got %q", s)}
	}
	return domain.TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func validateCreateSchedule(req CreateScheduleRequest) (domain.TimeOfDay, error) {
	if req.Time == "" {
		return domain.TimeOfDay{}, &domain.ValidationError{Field: "time", Message: "required"}
	}
	tod, err := parseTimeOfDay(req.Time)
	if err != nil {
		return domain.TimeOfDay{}, err
	}
	if err := validateEventName(req.EventName); err != nil {
		return domain.TimeOfDay{}, err
	}
	return tod, nil
}

func validateEventName(name string) error {
	if name == "" {
		return &domain.ValidationError{Field: "eventName", Message: "required"}
	}
	if len(name) > maxEventNameLength {
		return &domain.ValidationError{Field: "eventName", Message: fmt.Sprintf("must be at most %d characters", maxEventNameLength)}
	}
	if strings.ContainsAny(name, " \t\r\n") {
		return &domain.ValidationError{Field: "eventName", Message: "must not contain whitespace"}
	}
	return nil
}

func validateSend(req SendRequest) error {
	if req.Title == "" {
		return &domain.ValidationError{Field: "title", Message: "required"}
	}
	if req.URL != "" {
		if err := validateLinkURL(req.URL); err != nil {
			return &domain.ValidationError{Field: "url", Message: err.Error()}
		}
	}
	return nil
}

func validateDevice(req DeviceRequest) error {
	if req.FirebaseUID == "" {
		return &domain.ValidationError{Field: "firebaseUid", Message: "required"}
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			return &domain.ValidationError{Field: "timezone", Message: fmt.Sprintf("unknown timezone %q", req.Timezone)}
		}
	}
	return nil
}

func validateLinkURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
