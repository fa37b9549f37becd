package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/pushcron/internal/domain"
	"github.com/djlord-it/pushcron/internal/logger"
	"github.com/djlord-it/pushcron/internal/testutil"
)

// mockStore returns the running executions older than the cutoff.
type mockStore struct {
	mu         sync.Mutex
	executions []domain.Execution
	err        error
	lastCutoff time.Time
}

func (s *mockStore) ListStaleExecutions(ctx context.Context, olderThan time.Time, limit int) ([]domain.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCutoff = olderThan
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.Execution
	for _, e := range s.executions {
		if e.Status == domain.ExecutionStatusRunning && e.CreatedAt.Before(olderThan) {
			out = append(out, e)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

type update struct {
	ID         uuid.UUID
	Status     domain.ExecutionStatus
	DurationMs *int64
}

type mockUpdater struct {
	mu      sync.Mutex
	updates []update
	failFor map[uuid.UUID]bool
}

func (u *mockUpdater) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ExecutionStatus, errMsg string, durationMs *int64) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.failFor[id] {
		return errors.New("write failed")
	}
	u.updates = append(u.updates, update{id, status, durationMs})
	return nil
}

type mockMetrics struct {
	swept []int
}

func (m *mockMetrics) StaleExecutionsSwept(count int) { m.swept = append(m.swept, count) }

var sweepNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func running(age time.Duration) domain.Execution {
	return domain.Execution{
		ID:         uuid.New(),
		ScheduleID: uuid.New(),
		Status:     domain.ExecutionStatusRunning,
		CreatedAt:  sweepNow.Add(-age),
	}
}

func newTestSweeper(store Store, upd ExecutionUpdater) *Sweeper {
	s := New(Config{Interval: time.Hour, Threshold: 30 * time.Minute, BatchSize: 100}, store, upd, logger.Discard())
	s.clock = func() time.Time { return sweepNow }
	return s
}

func TestSweep_MarksStaleExecutionsTimeout(t *testing.T) {
	stale := running(45 * time.Minute)
	store := &mockStore{executions: []domain.Execution{stale, running(5 * time.Minute)}}
	upd := &mockUpdater{}
	m := &mockMetrics{}
	s := newTestSweeper(store, upd).WithMetrics(m)

	if got := s.Sweep(context.Background()); got != 1 {
		t.Fatalf("Sweep = %d, want 1", got)
	}
	if len(upd.updates) != 1 || upd.updates[0].ID != stale.ID {
		t.Fatalf("updates = %+v", upd.updates)
	}
	u := upd.updates[0]
	if u.Status != domain.ExecutionStatusTimeout {
		t.Errorf("status = %s, want timeout", u.Status)
	}
	if u.DurationMs == nil || *u.DurationMs != (45*time.Minute).Milliseconds() {
		t.Errorf("duration = %v, want 45m since creation", u.DurationMs)
	}
	if !store.lastCutoff.Equal(sweepNow.Add(-30 * time.Minute)) {
		t.Errorf("cutoff = %v", store.lastCutoff)
	}
	if len(m.swept) != 1 || m.swept[0] != 1 {
		t.Errorf("metrics = %v", m.swept)
	}
}

func TestSweep_NothingStale(t *testing.T) {
	store := &mockStore{executions: []domain.Execution{running(time.Minute)}}
	upd := &mockUpdater{}
	m := &mockMetrics{}
	s := newTestSweeper(store, upd).WithMetrics(m)

	if got := s.Sweep(context.Background()); got != 0 {
		t.Errorf("Sweep = %d, want 0", got)
	}
	if len(m.swept) != 0 {
		t.Error("metric recorded for an empty sweep")
	}
}

func TestSweep_ExecutionTimesOutOnceThresholdPasses(t *testing.T) {
	clock := testutil.NewFakeClock(sweepNow)
	exec := running(20 * time.Minute)
	store := &mockStore{executions: []domain.Execution{exec}}
	upd := &mockUpdater{}
	s := newTestSweeper(store, upd)
	s.clock = clock.Now

	if got := s.Sweep(context.Background()); got != 0 {
		t.Fatalf("Sweep at 20m = %d, want 0", got)
	}

	clock.Advance(15 * time.Minute)
	if got := s.Sweep(context.Background()); got != 1 {
		t.Fatalf("Sweep at 35m = %d, want 1", got)
	}
	if d := upd.updates[0].DurationMs; d == nil || *d != (35*time.Minute).Milliseconds() {
		t.Errorf("duration = %v, want 35m", d)
	}
}

func TestSweep_SkipsTerminalExecutions(t *testing.T) {
	done := running(time.Hour)
	done.Status = domain.ExecutionStatusCompleted
	upd := &mockUpdater{}
	s := newTestSweeper(staticStore{done}, upd)

	if got := s.Sweep(context.Background()); got != 0 {
		t.Errorf("Sweep = %d, want 0", got)
	}
}

// staticStore returns its executions regardless of filters.
type staticStore []domain.Execution

func (s staticStore) ListStaleExecutions(ctx context.Context, olderThan time.Time, limit int) ([]domain.Execution, error) {
	return s, nil
}

func TestSweep_BatchSizeRespected(t *testing.T) {
	store := &mockStore{}
	for i := 0; i < 10; i++ {
		store.executions = append(store.executions, running(time.Hour))
	}
	upd := &mockUpdater{}
	s := newTestSweeper(store, upd)
	s.config.BatchSize = 3

	if got := s.Sweep(context.Background()); got != 3 {
		t.Errorf("Sweep = %d, want 3", got)
	}
}

func TestSweep_StoreErrorAbortsCycle(t *testing.T) {
	store := &mockStore{err: errors.New("connection refused")}
	upd := &mockUpdater{}
	s := newTestSweeper(store, upd)

	if got := s.Sweep(context.Background()); got != 0 {
		t.Errorf("Sweep = %d, want 0", got)
	}
	if len(upd.updates) != 0 {
		t.Error("no updates expected after a store error")
	}
}

func TestSweep_UpdateErrorContinues(t *testing.T) {
	a, b := running(time.Hour), running(time.Hour)
	store := &mockStore{executions: []domain.Execution{a, b}}
	upd := &mockUpdater{failFor: map[uuid.UUID]bool{a.ID: true}}
	s := newTestSweeper(store, upd)

	if got := s.Sweep(context.Background()); got != 1 {
		t.Errorf("Sweep = %d, want 1", got)
	}
	if len(upd.updates) != 1 || upd.updates[0].ID != b.ID {
		t.Errorf("updates = %+v", upd.updates)
	}
}

func TestSweep_CancelledContextStops(t *testing.T) {
	store := &mockStore{executions: []domain.Execution{running(time.Hour), running(time.Hour)}}
	upd := &mockUpdater{}
	s := newTestSweeper(store, upd)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := s.Sweep(ctx); got != 0 {
		t.Errorf("Sweep = %d with cancelled context, want 0", got)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	store := &mockStore{executions: []domain.Execution{running(time.Hour)}}
	upd := &mockUpdater{}
	s := newTestSweeper(store, upd)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		upd.mu.Lock()
		n := len(upd.updates)
		upd.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("initial sweep did not run")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	s := New(Config{}, &mockStore{}, &mockUpdater{}, logger.Discard())
	if s.config != DefaultConfig() {
		t.Errorf("config = %+v, want %+v", s.config, DefaultConfig())
	}
}
