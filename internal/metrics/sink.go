package metrics

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/djlord-it/pushcron/internal/circuitbreaker"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// It is the union of the narrow sinks each component declares.
type Sink interface {
	// Scheduler
	TickStarted()
	TickCompleted(duration time.Duration, executionsCreated int, err error)
	TickDrift(drift time.Duration)
	DuplicateExecution()

	// Dispatcher
	EventsInFlightIncr()
	EventsInFlightDecr()
	NotificationOutcome(outcome string)
	TokenEvicted()
	FanoutCompleted(duration time.Duration, sent, failed int)
	ExecutionFinished(status string, duration time.Duration)

	// Push gateway
	PushAttemptCompleted(statusClass string, duration time.Duration)

	// EventBus
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()

	// Sweeper
	StaleExecutionsSwept(count int)

	// Timezone cache
	TimezoneRefresh(entries int, err error)
}

// Outcome constants for NotificationOutcome.
const (
	OutcomeSent   = "sent"
	OutcomeFailed = "failed"
)

// StatusClass constants for PushAttemptCompleted.
const (
	StatusClass2xx             = "2xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassCircuitOpen     = "circuit_open"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps a status code and error to a status class.
func ClassifyStatus(statusCode int, err error) string {
	if err != nil {
		var netErr net.Error
		switch {
		case errors.Is(err, circuitbreaker.ErrCircuitOpen):
			return StatusClassCircuitOpen
		case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
			return StatusClassTimeout
		}
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
			return StatusClassTimeout
		case strings.Contains(msg, "circuit breaker is open"):
			return StatusClassCircuitOpen
		case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"),
			strings.Contains(msg, "network is unreachable"), strings.Contains(msg, "dial"):
			return StatusClassConnectionError
		}
		return StatusClassOtherError
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500:
		return StatusClass5xx
	default:
		return StatusClassOtherError
	}
}
