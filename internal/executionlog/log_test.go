package executionlog

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/pushcron/internal/domain"
)

var errDuplicate = errors.New("duplicate")

type mockStore struct {
	mu         sync.Mutex
	executions map[uuid.UUID]domain.Execution
	keys       map[string]struct{}
	countErr   error
}

func newMockStore() *mockStore {
	return &mockStore{
		executions: make(map[uuid.UUID]domain.Execution),
		keys:       make(map[string]struct{}),
	}
}

func (s *mockStore) InsertExecution(ctx context.Context, exec domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[exec.IdempotencyKey]; ok {
		return errDuplicate
	}
	s.keys[exec.IdempotencyKey] = struct{}{}
	s.executions[exec.ID] = exec
	return nil
}

func (s *mockStore) UpdateExecutionStatus(ctx context.Context, id uuid.UUID, status domain.ExecutionStatus, errMsg string, durationMs *int64, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[id]
	if !ok {
		return &domain.NotFoundError{Kind: "execution", ID: id.String()}
	}
	exec.Status = status
	exec.Error = errMsg
	exec.DurationMs = durationMs
	exec.UpdatedAt = updatedAt
	s.executions[id] = exec
	return nil
}

func (s *mockStore) GetExecution(ctx context.Context, id uuid.UUID) (domain.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[id]
	if !ok {
		return domain.Execution{}, &domain.NotFoundError{Kind: "execution", ID: id.String()}
	}
	return exec, nil
}

func (s *mockStore) ListExecutionsBySchedule(ctx context.Context, scheduleID uuid.UUID, limit, offset int) ([]domain.Execution, error) {
	return s.list(func(e domain.Execution) bool { return e.ScheduleID == scheduleID }, limit, offset), nil
}

func (s *mockStore) ListExecutions(ctx context.Context, status domain.ExecutionStatus, limit, offset int) ([]domain.Execution, error) {
	return s.list(func(e domain.Execution) bool { return status == "" || e.Status == status }, limit, offset), nil
}

func (s *mockStore) list(keep func(domain.Execution) bool, limit, offset int) []domain.Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Execution
	for _, e := range s.executions {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *mockStore) CountExecutionsByStatus(ctx context.Context, since time.Time) (map[domain.ExecutionStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countErr != nil {
		return nil, s.countErr
	}
	counts := make(map[domain.ExecutionStatus]int)
	for _, e := range s.executions {
		if !e.CreatedAt.Before(since) {
			counts[e.Status]++
		}
	}
	return counts, nil
}

func newTestService(store Store, now time.Time) *Service {
	svc := New(store)
	svc.clock = func() time.Time { return now }
	return svc
}

func params(scheduleID uuid.UUID, key string) CreateParams {
	return CreateParams{
		ScheduleID:     scheduleID,
		EventName:      "daily_reminder",
		ScheduledTime:  domain.TimeOfDay{Hour: 9, Minute: 0},
		IdempotencyKey: key,
	}
}

func TestCreate_StartsRunning(t *testing.T) {
	store := newMockStore()
	now := time.Date(2024, 1, 15, 9, 0, 5, 0, time.UTC)
	svc := newTestService(store, now)

	local := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	p := params(uuid.New(), "k1")
	p.Timezone = "Europe/Paris"
	p.LocalTime = &local

	id, err := svc.Create(context.Background(), p)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	exec, err := svc.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if exec.Status != domain.ExecutionStatusRunning {
		t.Errorf("Status = %s, want running", exec.Status)
	}
	if !exec.ExecutedAt.Equal(now) {
		t.Errorf("ExecutedAt = %s, want %s", exec.ExecutedAt, now)
	}
	if exec.Timezone != "Europe/Paris" || exec.LocalTime == nil {
		t.Errorf("timezone fields not persisted: %+v", exec)
	}
}

func TestCreate_RejectsInvalidTime(t *testing.T) {
	svc := newTestService(newMockStore(), time.Now())
	p := params(uuid.New(), "k1")
	p.ScheduledTime = domain.TimeOfDay{Hour: 25}

	_, err := svc.Create(context.Background(), p)
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCreate_DuplicatePassesThroughSentinel(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store, time.Now())

	if _, err := svc.Create(context.Background(), params(uuid.New(), "same")); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	_, err := svc.Create(context.Background(), params(uuid.New(), "same"))
	if !errors.Is(err, errDuplicate) {
		t.Fatalf("expected duplicate sentinel through wrapping, got %v", err)
	}
}

func TestUpdateStatus_RoundTrip(t *testing.T) {
	store := newMockStore()
	now := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	svc := newTestService(store, now)

	id, err := svc.Create(context.Background(), params(uuid.New(), "k1"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	dur := int64(1500)
	if err := svc.UpdateStatus(context.Background(), id, domain.ExecutionStatusFailed, "gateway down", &dur); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	exec, err := svc.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if exec.Status != domain.ExecutionStatusFailed {
		t.Errorf("Status = %s, want failed", exec.Status)
	}
	if exec.Error != "gateway down" {
		t.Errorf("Error = %q", exec.Error)
	}
	if exec.DurationMs == nil || *exec.DurationMs != 1500 {
		t.Errorf("DurationMs = %v, want 1500", exec.DurationMs)
	}
}

func TestUpdateStatus_LastWriterWins(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store, time.Now())

	id, _ := svc.Create(context.Background(), params(uuid.New(), "k1"))

	if err := svc.UpdateStatus(context.Background(), id, domain.ExecutionStatusFailed, "first", nil); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if err := svc.UpdateStatus(context.Background(), id, domain.ExecutionStatusCompleted, "", nil); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	exec, _ := svc.FindByID(context.Background(), id)
	if exec.Status != domain.ExecutionStatusCompleted || exec.Error != "" {
		t.Errorf("expected last write to win, got %s %q", exec.Status, exec.Error)
	}
}

func TestUpdateStatus_Errors(t *testing.T) {
	svc := newTestService(newMockStore(), time.Now())

	err := svc.UpdateStatus(context.Background(), uuid.New(), domain.ExecutionStatusRunning, "", nil)
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Errorf("running target: expected ValidationError, got %v", err)
	}

	err = svc.UpdateStatus(context.Background(), uuid.New(), domain.ExecutionStatusCompleted, "", nil)
	var nfErr *domain.NotFoundError
	if !errors.As(err, &nfErr) {
		t.Errorf("unknown id: expected NotFoundError, got %v", err)
	}
}

func TestFindAll_StatusFilter(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store, time.Now())

	a, _ := svc.Create(context.Background(), params(uuid.New(), "a"))
	_, _ = svc.Create(context.Background(), params(uuid.New(), "b"))
	_ = svc.UpdateStatus(context.Background(), a, domain.ExecutionStatusCompleted, "", nil)

	got, err := svc.FindAll(context.Background(), domain.ExecutionStatusRunning, 10, 0)
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 running execution, got %d", len(got))
	}

	if _, err := svc.FindAll(context.Background(), "emitted", 10, 0); err == nil {
		t.Error("expected error for unknown status filter")
	}
}

func TestFindBySchedule(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store, time.Now())
	scheduleID := uuid.New()

	_, _ = svc.Create(context.Background(), params(scheduleID, "a"))
	_, _ = svc.Create(context.Background(), params(scheduleID, "b"))
	_, _ = svc.Create(context.Background(), params(uuid.New(), "c"))

	got, err := svc.FindBySchedule(context.Background(), scheduleID, 10, 0)
	if err != nil {
		t.Fatalf("FindBySchedule: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 executions for schedule, got %d", len(got))
	}
}

func TestStats(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store, time.Now())

	statuses := []domain.ExecutionStatus{
		domain.ExecutionStatusCompleted,
		domain.ExecutionStatusCompleted,
		domain.ExecutionStatusCompleted,
		domain.ExecutionStatusFailed,
		domain.ExecutionStatusTimeout,
	}
	for i, st := range statuses {
		id, err := svc.Create(context.Background(), params(uuid.New(), string(rune('a'+i))))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		_ = svc.UpdateStatus(context.Background(), id, st, "", nil)
	}
	_, _ = svc.Create(context.Background(), params(uuid.New(), "running"))

	stats, err := svc.Stats(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 6 || stats.Running != 1 || stats.Completed != 3 {
		t.Errorf("unexpected counts: %+v", stats)
	}
	if stats.SuccessRate != 0.6 {
		t.Errorf("SuccessRate = %v, want 0.6", stats.SuccessRate)
	}
}

func TestStats_StoreError(t *testing.T) {
	store := newMockStore()
	store.countErr = errors.New("db down")
	svc := newTestService(store, time.Now())

	if _, err := svc.Stats(context.Background(), time.Time{}); err == nil {
		t.Error("expected error")
	}
}

func TestDurationSince(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := *DurationSince(start, start.Add(2500*time.Millisecond)); got != 2500 {
		t.Errorf("DurationSince = %d, want 2500", got)
	}
	if got := *DurationSince(start, start.Add(-time.Second)); got != 0 {
		t.Errorf("negative duration should clamp to 0, got %d", got)
	}
}
