package domain

import (
	"time"

	"github.com/google/uuid"
)

// ScheduleFiredEvent is published by the scheduler for every execution it
// creates. EventName is the routing key.
type ScheduleFiredEvent struct {
	ScheduleID    uuid.UUID `json:"scheduleId"`
	ExecutionID   uuid.UUID `json:"executionId"`
	EventName     string    `json:"eventName"`
	ScheduledTime TimeOfDay `json:"scheduledTime"`
	ExecutedAt    time.Time `json:"executedAt"`

	// Set only for timezone-aware schedules.
	Timezone  string     `json:"timezone,omitempty"`
	LocalTime *time.Time `json:"localTime,omitempty"`
}

// HasTimezone reports whether the event targets a single timezone.
func (e ScheduleFiredEvent) HasTimezone() bool {
	return e.Timezone != ""
}
