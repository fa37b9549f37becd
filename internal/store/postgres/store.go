// Package postgres stores schedules, executions and notifications in
// PostgreSQL, and reads the device directory from the same database.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/djlord-it/pushcron/internal/domain"
	"github.com/djlord-it/pushcron/internal/scheduler"
)

//go:embed schema.sql
var schema string

// uniqueViolation is the PostgreSQL error code for a unique constraint.
const uniqueViolation = "23505"

type Store struct {
	db        *sql.DB
	opTimeout time.Duration
	clock     func() time.Time
}

// New returns a store over db. opTimeout bounds every statement; zero
// leaves the caller's context untouched.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout, clock: time.Now}
}

// EnsureSchema creates missing tables and indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// ProbeIdempotencyIndex returns sql.ErrNoRows when the executions table
// lacks the unique index that duplicate detection relies on.
func (s *Store) ProbeIdempotencyIndex(ctx context.Context) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	var one int
	return s.db.QueryRowContext(ctx, queryProbeIdempotencyIndex).Scan(&one)
}

func (s *Store) op(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// Schedules

func (s *Store) GetEnabledSchedules(ctx context.Context) ([]domain.Schedule, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.querySchedules(ctx, queryGetEnabledSchedules)
}

func (s *Store) CreateSchedule(ctx context.Context, sch domain.Schedule) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, queryInsertSchedule,
		sch.ID,
		sch.Time.Hour,
		sch.Time.Minute,
		sch.EventName,
		sch.Enabled,
		sch.TimezoneAware,
		sch.CreatedAt,
		sch.UpdatedAt,
	)
	return err
}

func (s *Store) GetSchedule(ctx context.Context, id uuid.UUID) (domain.Schedule, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	sch, err := scanSchedule(s.db.QueryRowContext(ctx, queryGetSchedule, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Schedule{}, &domain.NotFoundError{Kind: "schedule", ID: id.String()}
	}
	return sch, err
}

func (s *Store) ListSchedules(ctx context.Context, limit, offset int) ([]domain.Schedule, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.querySchedules(ctx, queryListSchedules, limit, offset)
}

func (s *Store) SetScheduleEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, querySetScheduleEnabled, id, enabled, s.clock().UTC())
	if err != nil {
		return err
	}
	return requireRow(res, "schedule", id.String())
}

func (s *Store) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	var deleted uuid.UUID
	err := s.db.QueryRowContext(ctx, queryDeleteSchedule, id).Scan(&deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.NotFoundError{Kind: "schedule", ID: id.String()}
	}
	return err
}

func (s *Store) querySchedules(ctx context.Context, query string, args ...any) ([]domain.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Schedule
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sch)
	}
	return result, rows.Err()
}

// Executions

// InsertExecution returns scheduler.ErrDuplicateExecution when an
// execution with the same idempotency key exists.
func (s *Store) InsertExecution(ctx context.Context, exec domain.Execution) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, queryInsertExecution,
		exec.ID,
		exec.ScheduleID,
		exec.EventName,
		exec.ScheduledTime.Hour,
		exec.ScheduledTime.Minute,
		exec.ExecutedAt,
		nullString(exec.Timezone),
		exec.LocalTime,
		string(exec.Status),
		nullString(exec.Error),
		exec.DurationMs,
		exec.IdempotencyKey,
		exec.CreatedAt,
		exec.UpdatedAt,
	)
	if isDuplicateKeyError(err) {
		return scheduler.ErrDuplicateExecution
	}
	return err
}

func (s *Store) UpdateExecutionStatus(ctx context.Context, id uuid.UUID, status domain.ExecutionStatus, errMsg string, durationMs *int64, updatedAt time.Time) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, queryUpdateExecutionStatus, id, string(status), nullString(errMsg), durationMs, updatedAt)
	if err != nil {
		return err
	}
	return requireRow(res, "execution", id.String())
}

func (s *Store) GetExecution(ctx context.Context, id uuid.UUID) (domain.Execution, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	exec, err := scanExecution(s.db.QueryRowContext(ctx, queryGetExecution, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Execution{}, &domain.NotFoundError{Kind: "execution", ID: id.String()}
	}
	return exec, err
}

func (s *Store) ListExecutionsBySchedule(ctx context.Context, scheduleID uuid.UUID, limit, offset int) ([]domain.Execution, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.queryExecutions(ctx, queryListExecutionsBySchedule, scheduleID, limit, offset)
}

func (s *Store) ListExecutions(ctx context.Context, status domain.ExecutionStatus, limit, offset int) ([]domain.Execution, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.queryExecutions(ctx, queryListExecutions, string(status), limit, offset)
}

func (s *Store) ListStaleExecutions(ctx context.Context, olderThan time.Time, limit int) ([]domain.Execution, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.queryExecutions(ctx, queryListStaleExecutions, olderThan, limit)
}

func (s *Store) CountExecutionsByStatus(ctx context.Context, since time.Time) (map[domain.ExecutionStatus]int, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, queryCountExecutionsByStatus, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.ExecutionStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.ExecutionStatus(status)] = n
	}
	return counts, rows.Err()
}

func (s *Store) queryExecutions(ctx context.Context, query string, args ...any) ([]domain.Execution, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, exec)
	}
	return result, rows.Err()
}

// Notifications

func (s *Store) InsertNotification(ctx context.Context, n domain.Notification) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, queryInsertNotification,
		n.ID,
		n.FirebaseUID,
		nullString(n.DeviceID),
		nullString(n.DeviceName),
		nullString(n.PushToken),
		n.Title,
		n.Body,
		string(n.Type),
		n.Source,
		string(n.Status),
		nullString(n.MessageID),
		nullString(n.Error),
		n.SentBy,
		n.SentAt,
		n.ScheduleID,
		n.ExecutionID,
		n.CreatedAt,
		n.UpdatedAt,
	)
	return err
}

// UpdateNotificationResult finalizes a pending notification. A
// notification that already reached sent or failed is left as is.
func (s *Store) UpdateNotificationResult(ctx context.Context, id uuid.UUID, status domain.NotificationStatus, messageID, errMsg string, sentAt *time.Time, updatedAt time.Time) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, queryUpdateNotificationResult, id, string(status), nullString(messageID), nullString(errMsg), sentAt, updatedAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil || affected > 0 {
		return err
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, queryNotificationExists, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return &domain.NotFoundError{Kind: "notification", ID: id.String()}
	}
	return nil
}

func (s *Store) GetNotification(ctx context.Context, id uuid.UUID) (domain.Notification, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	n, err := scanNotification(s.db.QueryRowContext(ctx, queryGetNotification, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Notification{}, &domain.NotFoundError{Kind: "notification", ID: id.String()}
	}
	return n, err
}

func (s *Store) ListNotifications(ctx context.Context, f domain.NotificationFilter, limit, offset int) ([]domain.Notification, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, queryListNotifications,
		f.FirebaseUID, f.DeviceID, f.ExecutionID, string(f.Status), string(f.Type), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

// Device directory

// UpsertDevice registers or replaces a device for standalone deployments
// that have no separate directory service.
func (s *Store) UpsertDevice(ctx context.Context, d domain.Device) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx, queryUpsertDevice,
		d.DeviceID, d.FirebaseUID, nullString(d.DeviceName), nullString(d.Timezone), nullString(d.PushToken), d.UpdatedAt)
	return err
}

func (s *Store) FindByTimezoneWithToken(ctx context.Context, timezone string) ([]domain.Device, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.queryDevices(ctx, queryFindDevicesByTimezoneWithToken, timezone)
}

func (s *Store) FindAll(ctx context.Context, limit int) ([]domain.Device, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.queryDevices(ctx, queryFindAllDevices, limit)
}

func (s *Store) FindByID(ctx context.Context, deviceID string) (domain.Device, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	d, err := scanDevice(s.db.QueryRowContext(ctx, queryFindDeviceByID, deviceID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Device{}, &domain.NotFoundError{Kind: "device", ID: deviceID}
	}
	return d, err
}

func (s *Store) FindByUser(ctx context.Context, firebaseUID string) ([]domain.Device, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.queryDevices(ctx, queryFindDevicesByUser, firebaseUID)
}

func (s *Store) InvalidateToken(ctx context.Context, deviceID string) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, queryInvalidateToken, deviceID, s.clock().UTC())
	return err
}

func (s *Store) GetUniqueTimezones(ctx context.Context) ([]string, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, queryGetUniqueTimezones)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var tz string
		if err := rows.Scan(&tz); err != nil {
			return nil, err
		}
		result = append(result, tz)
	}
	return result, rows.Err()
}

func (s *Store) queryDevices(ctx context.Context, query string, args ...any) ([]domain.Device, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// isDuplicateKeyError reports whether err is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

func requireRow(res sql.Result, kind, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &domain.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}
