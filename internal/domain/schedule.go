package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TimeOfDay is a wall-clock target with minute granularity.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

func (t TimeOfDay) Validate() error {
	if t.Hour < 0 || t.Hour > 23 {
		return &ValidationError{Field: "time.hour", Message: fmt.Sprintf("must be 0-23, got %d", t.Hour)}
	}
	if t.Minute < 0 || t.Minute > 59 {
		return &ValidationError{Field: "time.minute", Message: fmt.Sprintf("must be 0-59, got %d", t.Minute)}
	}
	return nil
}

// Matches reports whether t falls on this hour and minute.
func (t TimeOfDay) Matches(at time.Time) bool {
	return at.Hour() == t.Hour && at.Minute() == t.Minute
}

// Before orders targets by time of day.
func (t TimeOfDay) Before(other TimeOfDay) bool {
	if t.Hour != other.Hour {
		return t.Hour < other.Hour
	}
	return t.Minute < other.Minute
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Schedule fires its event once per day at Time, either globally (UTC)
// or once in every timezone where local time equals Time.
type Schedule struct {
	ID uuid.UUID `json:"id"`

	Time          TimeOfDay `json:"time"`
	EventName     string    `json:"eventName"`
	Enabled       bool      `json:"enabled"`
	TimezoneAware bool      `json:"timezoneAware"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s Schedule) Validate() error {
	if err := s.Time.Validate(); err != nil {
		return err
	}
	if s.EventName == "" {
		return &ValidationError{Field: "eventName", Message: "required"}
	}
	return nil
}
