package domain

import (
	"time"

	"github.com/google/uuid"
)

type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusTimeout   ExecutionStatus = "timeout"
)

// IsTerminal reports whether no further transition is expected.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusTimeout:
		return true
	}
	return false
}

func (s ExecutionStatus) Valid() bool {
	return s == ExecutionStatusRunning || s.IsTerminal()
}

// Execution records one firing of a schedule, per timezone when the
// schedule is timezone-aware.
type Execution struct {
	ID uuid.UUID `json:"id"`

	ScheduleID    uuid.UUID `json:"scheduleId"`
	EventName     string    `json:"eventName"`
	ScheduledTime TimeOfDay `json:"scheduledTime"`
	ExecutedAt    time.Time `json:"executedAt"`

	Timezone  string     `json:"timezone,omitempty"`
	LocalTime *time.Time `json:"localTime,omitempty"`

	Status     ExecutionStatus `json:"status"`
	Error      string          `json:"error,omitempty"`
	DurationMs *int64          `json:"durationMs,omitempty"`

	// IdempotencyKey is unique per (schedule, minute, timezone).
	IdempotencyKey string `json:"idempotencyKey"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ExecutionStats aggregates execution outcomes for reporting.
type ExecutionStats struct {
	Total       int     `json:"total"`
	Running     int     `json:"running"`
	Completed   int     `json:"completed"`
	Failed      int     `json:"failed"`
	Timeout     int     `json:"timeout"`
	SuccessRate float64 `json:"successRate"`
}

// ComputeSuccessRate fills SuccessRate from the terminal counts.
func (s *ExecutionStats) ComputeSuccessRate() {
	finished := s.Completed + s.Failed + s.Timeout
	if finished == 0 {
		s.SuccessRate = 0
		return
	}
	s.SuccessRate = float64(s.Completed) / float64(finished)
}
