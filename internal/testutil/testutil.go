// Package testutil holds fixtures shared by pushcron package tests.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/pushcron/internal/domain"
)

// FakeClock is a settable time source. Now is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// TestContext returns a context with a 5-second timeout, cancelled when
// the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// Devices builds n devices in timezone tz, each with a push token.
// Ids are prefix-0 .. prefix-(n-1), owned by user prefix-user.
func Devices(prefix, tz string, n int) []domain.Device {
	out := make([]domain.Device, n)
	for i := range out {
		out[i] = domain.Device{
			DeviceID:    fmt.Sprintf("%s-%d", prefix, i),
			FirebaseUID: prefix + "-user",
			DeviceName:  fmt.Sprintf("device %d", i),
			Timezone:    tz,
			PushToken:   fmt.Sprintf("token-%s-%d", prefix, i),
			UpdatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		}
	}
	return out
}

// FiredEvent builds a ScheduleFiredEvent for eventName at 09:00, scoped
// to tz when tz is non-empty.
func FiredEvent(eventName, tz string, at time.Time) domain.ScheduleFiredEvent {
	ev := domain.ScheduleFiredEvent{
		ScheduleID:    uuid.New(),
		ExecutionID:   uuid.New(),
		EventName:     eventName,
		ScheduledTime: domain.TimeOfDay{Hour: 9, Minute: 0},
		ExecutedAt:    at,
	}
	if tz != "" {
		local := time.Date(at.Year(), at.Month(), at.Day(), 9, 0, 0, 0, time.UTC)
		ev.Timezone = tz
		ev.LocalTime = &local
	}
	return ev
}
