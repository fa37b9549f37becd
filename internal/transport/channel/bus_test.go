package channel

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/pushcron/internal/domain"
)

func newTestEvent() domain.ScheduleFiredEvent {
	return domain.ScheduleFiredEvent{
		ScheduleID:    uuid.New(),
		ExecutionID:   uuid.New(),
		EventName:     "daily_reminder",
		ScheduledTime: domain.TimeOfDay{Hour: 9, Minute: 0},
		ExecutedAt:    time.Now().UTC(),
	}
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	bus := NewEventBus(10)
	event := newTestEvent()

	ctx := context.Background()
	if err := bus.Emit(ctx, event); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	select {
	case got := <-bus.Channel():
		if got.ExecutionID != event.ExecutionID {
			t.Errorf("ExecutionID = %v, want %v", got.ExecutionID, event.ExecutionID)
		}
		if got.ScheduleID != event.ScheduleID || got.EventName != event.EventName {
			t.Errorf("event mismatch: got %+v, want %+v", got, event)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event on channel")
	}
}

func TestEventBus_BufferFull(t *testing.T) {
	bus := NewEventBus(1, WithEmitTimeout(50*time.Millisecond))

	ctx := context.Background()

	// fill the single slot
	if err := bus.Emit(ctx, newTestEvent()); err != nil {
		t.Fatalf("first Emit failed: %v", err)
	}

	// no consumer, so the next emit times out
	err := bus.Emit(ctx, newTestEvent())
	if err != ErrBufferFull {
		t.Errorf("expected ErrBufferFull, got: %v", err)
	}
	if bus.Len() != 1 {
		t.Errorf("Len = %d, want 1", bus.Len())
	}
}

func TestEventBus_ContextCancelled(t *testing.T) {
	bus := NewEventBus(1, WithEmitTimeout(5*time.Second))

	ctx := context.Background()

	// fill the single slot
	if err := bus.Emit(ctx, newTestEvent()); err != nil {
		t.Fatalf("first Emit failed: %v", err)
	}

	// ctx ends before the emit timeout
	cancelledCtx, cancel := context.WithCancel(context.Background())
	cancel()

	err := bus.Emit(cancelledCtx, newTestEvent())
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
}

func TestEventBus_ConcurrentEmit(t *testing.T) {
	bus := NewEventBus(1000)
	ctx := context.Background()

	const numGoroutines = 10
	const eventsPerGoroutine = 100

	var wg sync.WaitGroup
	var emitErrors atomic.Int64

	// Consumers
	var received atomic.Int64
	done := make(chan struct{})
	go func() {
		for range bus.Channel() {
			received.Add(1)
			if received.Load() >= numGoroutines*eventsPerGoroutine {
				close(done)
				return
			}
		}
	}()

	// Producers
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				if err := bus.Emit(ctx, newTestEvent()); err != nil {
					emitErrors.Add(1)
				}
			}
		}()
	}

	wg.Wait()

	// Wait for all events to be consumed
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Logf("received %d of %d events", received.Load(), numGoroutines*eventsPerGoroutine)
	}

	if emitErrors.Load() > 0 {
		t.Errorf("had %d emit errors", emitErrors.Load())
	}
}

func TestEventBus_WithEmitTimeout(t *testing.T) {
	timeout := 100 * time.Millisecond
	bus := NewEventBus(1, WithEmitTimeout(timeout))

	if bus.emitTimeout != timeout {
		t.Errorf("emitTimeout = %v, want %v", bus.emitTimeout, timeout)
	}
}

func TestEventBus_DefaultEmitTimeout(t *testing.T) {
	bus := NewEventBus(10)

	if bus.emitTimeout != DefaultEmitTimeout {
		t.Errorf("emitTimeout = %v, want %v", bus.emitTimeout, DefaultEmitTimeout)
	}
}

// mockBusMetrics tracks calls to MetricsSink methods.
type mockBusMetrics struct {
	mu                    sync.Mutex
	bufferSizeCalls       []int
	bufferCapacityCalls   []int
	bufferSaturationCalls []float64
	emitErrorCalls        int
}

func (m *mockBusMetrics) BufferSizeUpdate(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bufferSizeCalls = append(m.bufferSizeCalls, size)
}

func (m *mockBusMetrics) BufferCapacitySet(capacity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bufferCapacityCalls = append(m.bufferCapacityCalls, capacity)
}

func (m *mockBusMetrics) BufferSaturationUpdate(saturation float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bufferSaturationCalls = append(m.bufferSaturationCalls, saturation)
}

func (m *mockBusMetrics) EmitError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitErrorCalls++
}

func TestEventBus_WithMetrics(t *testing.T) {
	metrics := &mockBusMetrics{}
	bus := NewEventBus(10, WithMetrics(metrics))

	// BufferCapacitySet should be called on init
	metrics.mu.Lock()
	capCalls := len(metrics.bufferCapacityCalls)
	metrics.mu.Unlock()
	if capCalls != 1 {
		t.Errorf("BufferCapacitySet should be called once on init, got %d calls", capCalls)
	}

	ctx := context.Background()
	if err := bus.Emit(ctx, newTestEvent()); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	metrics.mu.Lock()
	sizeCalls := len(metrics.bufferSizeCalls)
	satCalls := len(metrics.bufferSaturationCalls)
	metrics.mu.Unlock()

	if sizeCalls != 1 {
		t.Errorf("BufferSizeUpdate should be called once after emit, got %d", sizeCalls)
	}
	if satCalls != 1 {
		t.Errorf("BufferSaturationUpdate should be called once after emit, got %d", satCalls)
	}
}

func TestEventBus_MetricsOnBufferFull(t *testing.T) {
	metrics := &mockBusMetrics{}
	bus := NewEventBus(1, WithEmitTimeout(50*time.Millisecond), WithMetrics(metrics))

	ctx := context.Background()

	_ = bus.Emit(ctx, newTestEvent())
	_ = bus.Emit(ctx, newTestEvent())

	metrics.mu.Lock()
	errCalls := metrics.emitErrorCalls
	metrics.mu.Unlock()

	if errCalls != 1 {
		t.Errorf("EmitError should be called once on buffer full, got %d", errCalls)
	}
}

func TestEventBus_ZeroEmitTimeoutKeepsDefault(t *testing.T) {
	bus := NewEventBus(1, WithEmitTimeout(0))

	if bus.emitTimeout != DefaultEmitTimeout {
		t.Errorf("emitTimeout = %v, want default %v", bus.emitTimeout, DefaultEmitTimeout)
	}
}

func TestEventBus_SaturationReported(t *testing.T) {
	metrics := &mockBusMetrics{}
	bus := NewEventBus(4, WithMetrics(metrics))

	for i := 0; i < 2; i++ {
		if err := bus.Emit(context.Background(), newTestEvent()); err != nil {
			t.Fatalf("Emit failed: %v", err)
		}
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	last := metrics.bufferSaturationCalls[len(metrics.bufferSaturationCalls)-1]
	if last != 0.5 {
		t.Errorf("saturation = %v, want 0.5", last)
	}
	if metrics.bufferCapacityCalls[0] != 4 {
		t.Errorf("capacity = %d, want 4", metrics.bufferCapacityCalls[0])
	}
}
