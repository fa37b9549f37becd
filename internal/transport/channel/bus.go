// Package channel is the in-process event bus between the scheduler and
// the dispatcher.
package channel

import (
	"context"
	"errors"
	"time"

	"github.com/djlord-it/pushcron/internal/domain"
)

// DefaultEmitTimeout bounds how long Emit waits for buffer space.
const DefaultEmitTimeout = 5 * time.Second

// ErrBufferFull is returned when the buffer stays full for the whole
// emit timeout.
var ErrBufferFull = errors.New("event bus buffer full")

// MetricsSink receives bus saturation metrics. Methods must not block.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()
}

type Option func(*EventBus)

func WithEmitTimeout(d time.Duration) Option {
	return func(b *EventBus) {
		if d > 0 {
			b.emitTimeout = d
		}
	}
}

func WithMetrics(m MetricsSink) Option {
	return func(b *EventBus) {
		b.metrics = m
	}
}

// EventBus is a bounded channel of ScheduleFiredEvent. Emit never waits
// for a subscriber to process the event, only for buffer space.
type EventBus struct {
	ch          chan domain.ScheduleFiredEvent
	emitTimeout time.Duration
	metrics     MetricsSink
}

func NewEventBus(buffer int, opts ...Option) *EventBus {
	b := &EventBus{
		ch:          make(chan domain.ScheduleFiredEvent, buffer),
		emitTimeout: DefaultEmitTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(cap(b.ch))
	}
	return b
}

// Emit enqueues the event. It returns ErrBufferFull after the emit
// timeout, or ctx.Err() if ctx ends first.
func (b *EventBus) Emit(ctx context.Context, event domain.ScheduleFiredEvent) error {
	select {
	case b.ch <- event:
		b.recordSize()
		return nil
	default:
	}

	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- event:
		b.recordSize()
		return nil
	case <-ctx.Done():
		b.recordError()
		return ctx.Err()
	case <-timer.C:
		b.recordError()
		return ErrBufferFull
	}
}

func (b *EventBus) Channel() <-chan domain.ScheduleFiredEvent {
	return b.ch
}

// Len is the number of buffered events.
func (b *EventBus) Len() int {
	return len(b.ch)
}

func (b *EventBus) recordSize() {
	if b.metrics == nil {
		return
	}
	size := len(b.ch)
	b.metrics.BufferSizeUpdate(size)
	if c := cap(b.ch); c > 0 {
		b.metrics.BufferSaturationUpdate(float64(size) / float64(c))
	}
}

func (b *EventBus) recordError() {
	if b.metrics != nil {
		b.metrics.EmitError()
	}
}
