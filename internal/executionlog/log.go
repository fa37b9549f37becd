// Package executionlog records one Execution per schedule firing and
// serves the reporting reads over them.
package executionlog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/pushcron/internal/domain"
)

// Store persists executions. InsertExecution must return
// scheduler.ErrDuplicateExecution when the idempotency key already exists,
// and UpdateExecutionStatus a *domain.NotFoundError for an unknown id.
type Store interface {
	InsertExecution(ctx context.Context, exec domain.Execution) error
	UpdateExecutionStatus(ctx context.Context, id uuid.UUID, status domain.ExecutionStatus, errMsg string, durationMs *int64, updatedAt time.Time) error
	GetExecution(ctx context.Context, id uuid.UUID) (domain.Execution, error)
	ListExecutionsBySchedule(ctx context.Context, scheduleID uuid.UUID, limit, offset int) ([]domain.Execution, error)
	ListExecutions(ctx context.Context, status domain.ExecutionStatus, limit, offset int) ([]domain.Execution, error)
	CountExecutionsByStatus(ctx context.Context, since time.Time) (map[domain.ExecutionStatus]int, error)
}

// CreateParams describes a new running execution.
type CreateParams struct {
	ScheduleID     uuid.UUID
	EventName      string
	ScheduledTime  domain.TimeOfDay
	ExecutedAt     time.Time
	Timezone       string
	LocalTime      *time.Time
	IdempotencyKey string
}

type Service struct {
	store Store
	clock func() time.Time
}

func New(store Store) *Service {
	return &Service{store: store, clock: time.Now}
}

// Create inserts an execution in status running and returns its id.
// Store errors are wrapped, so errors.Is still matches the duplicate
// sentinel.
func (s *Service) Create(ctx context.Context, p CreateParams) (uuid.UUID, error) {
	if err := p.ScheduledTime.Validate(); err != nil {
		return uuid.Nil, err
	}
	if p.EventName == "" {
		return uuid.Nil, &domain.ValidationError{Field: "eventName", Message: "required"}
	}

	now := s.clock().UTC()
	executedAt := p.ExecutedAt
	if executedAt.IsZero() {
		executedAt = now
	}

	exec := domain.Execution{
		ID:             uuid.New(),
		ScheduleID:     p.ScheduleID,
		EventName:      p.EventName,
		ScheduledTime:  p.ScheduledTime,
		ExecutedAt:     executedAt.UTC(),
		Timezone:       p.Timezone,
		LocalTime:      p.LocalTime,
		Status:         domain.ExecutionStatusRunning,
		IdempotencyKey: p.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.InsertExecution(ctx, exec); err != nil {
		return uuid.Nil, fmt.Errorf("insert execution: %w", err)
	}
	return exec.ID, nil
}

// UpdateStatus moves an execution to a terminal status. Writes are
// unconditional; the last writer wins.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ExecutionStatus, errMsg string, durationMs *int64) error {
	if !status.IsTerminal() {
		return &domain.ValidationError{Field: "status", Message: fmt.Sprintf("%q is not a terminal status", status)}
	}
	if err := s.store.UpdateExecutionStatus(ctx, id, status, errMsg, durationMs, s.clock().UTC()); err != nil {
		return fmt.Errorf("update execution %s: %w", id, err)
	}
	return nil
}

func (s *Service) FindByID(ctx context.Context, id uuid.UUID) (domain.Execution, error) {
	return s.store.GetExecution(ctx, id)
}

func (s *Service) FindBySchedule(ctx context.Context, scheduleID uuid.UUID, limit, offset int) ([]domain.Execution, error) {
	return s.store.ListExecutionsBySchedule(ctx, scheduleID, limit, offset)
}

// FindAll lists executions newest first. An empty status lists all.
func (s *Service) FindAll(ctx context.Context, status domain.ExecutionStatus, limit, offset int) ([]domain.Execution, error) {
	if status != "" && !status.Valid() {
		return nil, &domain.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)}
	}
	return s.store.ListExecutions(ctx, status, limit, offset)
}

// Stats aggregates executions created at or after since. A zero since
// covers the whole log.
func (s *Service) Stats(ctx context.Context, since time.Time) (domain.ExecutionStats, error) {
	counts, err := s.store.CountExecutionsByStatus(ctx, since)
	if err != nil {
		return domain.ExecutionStats{}, fmt.Errorf("count executions: %w", err)
	}

	stats := domain.ExecutionStats{
		Running:   counts[domain.ExecutionStatusRunning],
		Completed: counts[domain.ExecutionStatusCompleted],
		Failed:    counts[domain.ExecutionStatusFailed],
		Timeout:   counts[domain.ExecutionStatusTimeout],
	}
	stats.Total = stats.Running + stats.Completed + stats.Failed + stats.Timeout
	stats.ComputeSuccessRate()
	return stats, nil
}

// DurationSince returns the elapsed milliseconds between start and now,
// in the form UpdateStatus expects.
func DurationSince(start, now time.Time) *int64 {
	ms := now.Sub(start).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return &ms
}
