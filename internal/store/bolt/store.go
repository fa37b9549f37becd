// Package bolt is an embedded single-node store backed by bbolt. It holds
// schedules, executions, notifications and a local device directory.
package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/djlord-it/pushcron/internal/domain"
	"github.com/djlord-it/pushcron/internal/scheduler"
)

var (
	bucketSchedules     = []byte("schedules")
	bucketExecutions    = []byte("executions")
	bucketExecutionKeys = []byte("execution_keys")
	bucketNotifications = []byte("notifications")
	bucketDevices       = []byte("devices")
)

type Store struct {
	db    *bolt.DB
	clock func() time.Time
}

// Open creates the file and its parent directory if needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketSchedules, bucketExecutions, bucketExecutionKeys, bucketNotifications, bucketDevices} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, clock: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database file is still usable.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketExecutions) == nil {
			return errors.New("executions bucket missing")
		}
		return nil
	})
}

// Schedules

func (s *Store) GetEnabledSchedules(ctx context.Context) ([]domain.Schedule, error) {
	out, err := listAll[domain.Schedule](ctx, s.db, bucketSchedules, func(sch domain.Schedule) bool { return sch.Enabled })
	sortSchedules(out)
	return out, err
}

func (s *Store) CreateSchedule(ctx context.Context, sch domain.Schedule) error {
	return put(ctx, s.db, bucketSchedules, sch.ID[:], sch)
}

func (s *Store) GetSchedule(ctx context.Context, id uuid.UUID) (domain.Schedule, error) {
	return get[domain.Schedule](ctx, s.db, bucketSchedules, id[:], "schedule", id.String())
}

func (s *Store) ListSchedules(ctx context.Context, limit, offset int) ([]domain.Schedule, error) {
	out, err := listAll[domain.Schedule](ctx, s.db, bucketSchedules, nil)
	if err != nil {
		return nil, err
	}
	sortSchedules(out)
	return page(out, limit, offset), nil
}

func (s *Store) SetScheduleEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	return modify(ctx, s.db, bucketSchedules, id[:], "schedule", id.String(), func(sch *domain.Schedule) bool {
		sch.Enabled = enabled
		sch.UpdatedAt = s.clock().UTC()
		return true
	})
}

// DeleteSchedule removes the schedule; its executions are kept.
func (s *Store) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchedules)
		if b.Get(id[:]) == nil {
			return &domain.NotFoundError{Kind: "schedule", ID: id.String()}
		}
		return b.Delete(id[:])
	})
}

func sortSchedules(out []domain.Schedule) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time != out[j].Time {
			return out[i].Time.Before(out[j].Time)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
}

// Executions

// InsertExecution returns scheduler.ErrDuplicateExecution when the
// idempotency key was already used. Key check and insert share one
// write transaction.
func (s *Store) InsertExecution(ctx context.Context, exec domain.Execution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(exec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		keys := tx.Bucket(bucketExecutionKeys)
		if exec.IdempotencyKey != "" {
			if keys.Get([]byte(exec.IdempotencyKey)) != nil {
				return scheduler.ErrDuplicateExecution
			}
			if err := keys.Put([]byte(exec.IdempotencyKey), exec.ID[:]); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketExecutions).Put(exec.ID[:], payload)
	})
}

func (s *Store) UpdateExecutionStatus(ctx context.Context, id uuid.UUID, status domain.ExecutionStatus, errMsg string, durationMs *int64, updatedAt time.Time) error {
	return modify(ctx, s.db, bucketExecutions, id[:], "execution", id.String(), func(exec *domain.Execution) bool {
		exec.Status = status
		exec.Error = errMsg
		exec.DurationMs = durationMs
		exec.UpdatedAt = updatedAt
		return true
	})
}

func (s *Store) GetExecution(ctx context.Context, id uuid.UUID) (domain.Execution, error) {
	return get[domain.Execution](ctx, s.db, bucketExecutions, id[:], "execution", id.String())
}

func (s *Store) ListExecutionsBySchedule(ctx context.Context, scheduleID uuid.UUID, limit, offset int) ([]domain.Execution, error) {
	out, err := listAll[domain.Execution](ctx, s.db, bucketExecutions, func(e domain.Execution) bool { return e.ScheduleID == scheduleID })
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out)
	return page(out, limit, offset), nil
}

func (s *Store) ListExecutions(ctx context.Context, status domain.ExecutionStatus, limit, offset int) ([]domain.Execution, error) {
	out, err := listAll[domain.Execution](ctx, s.db, bucketExecutions, func(e domain.Execution) bool {
		return status == "" || e.Status == status
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out)
	return page(out, limit, offset), nil
}

func (s *Store) ListStaleExecutions(ctx context.Context, olderThan time.Time, limit int) ([]domain.Execution, error) {
	out, err := listAll[domain.Execution](ctx, s.db, bucketExecutions, func(e domain.Execution) bool {
		return e.Status == domain.ExecutionStatusRunning && e.CreatedAt.Before(olderThan)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, limit, 0), nil
}

func (s *Store) CountExecutionsByStatus(ctx context.Context, since time.Time) (map[domain.ExecutionStatus]int, error) {
	out, err := listAll[domain.Execution](ctx, s.db, bucketExecutions, func(e domain.Execution) bool {
		return !e.CreatedAt.Before(since)
	})
	if err != nil {
		return nil, err
	}
	counts := make(map[domain.ExecutionStatus]int)
	for _, e := range out {
		counts[e.Status]++
	}
	return counts, nil
}

func sortNewestFirst(out []domain.Execution) {
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutedAt.After(out[j].ExecutedAt) })
}

// Notifications

func (s *Store) InsertNotification(ctx context.Context, n domain.Notification) error {
	return put(ctx, s.db, bucketNotifications, n.ID[:], n)
}

// UpdateNotificationResult finalizes a pending notification and leaves
// terminal ones untouched.
func (s *Store) UpdateNotificationResult(ctx context.Context, id uuid.UUID, status domain.NotificationStatus, messageID, errMsg string, sentAt *time.Time, updatedAt time.Time) error {
	return modify(ctx, s.db, bucketNotifications, id[:], "notification", id.String(), func(n *domain.Notification) bool {
		if n.Status != domain.NotificationStatusPending {
			return false
		}
		n.Status = status
		n.MessageID = messageID
		n.Error = errMsg
		n.SentAt = sentAt
		n.UpdatedAt = updatedAt
		return true
	})
}

func (s *Store) GetNotification(ctx context.Context, id uuid.UUID) (domain.Notification, error) {
	return get[domain.Notification](ctx, s.db, bucketNotifications, id[:], "notification", id.String())
}

func (s *Store) ListNotifications(ctx context.Context, f domain.NotificationFilter, limit, offset int) ([]domain.Notification, error) {
	out, err := listAll[domain.Notification](ctx, s.db, bucketNotifications, func(n domain.Notification) bool {
		switch {
		case f.FirebaseUID != "" && n.FirebaseUID != f.FirebaseUID,
			f.DeviceID != "" && n.DeviceID != f.DeviceID,
			f.ExecutionID != nil && (n.ExecutionID == nil || *n.ExecutionID != *f.ExecutionID),
			f.Status != "" && n.Status != f.Status,
			f.Type != "" && n.Type != f.Type:
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

// Device directory

// UpsertDevice registers or replaces a device in the local directory.
func (s *Store) UpsertDevice(ctx context.Context, d domain.Device) error {
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = s.clock().UTC()
	}
	return put(ctx, s.db, bucketDevices, []byte(d.DeviceID), d)
}

func (s *Store) FindByTimezoneWithToken(ctx context.Context, timezone string) ([]domain.Device, error) {
	return listAll[domain.Device](ctx, s.db, bucketDevices, func(d domain.Device) bool {
		return d.Timezone == timezone && d.HasToken()
	})
}

// FindAll returns devices in id order, up to limit.
func (s *Store) FindAll(ctx context.Context, limit int) ([]domain.Device, error) {
	out, err := listAll[domain.Device](ctx, s.db, bucketDevices, nil)
	if err != nil {
		return nil, err
	}
	return page(out, limit, 0), nil
}

func (s *Store) FindByID(ctx context.Context, deviceID string) (domain.Device, error) {
	return get[domain.Device](ctx, s.db, bucketDevices, []byte(deviceID), "device", deviceID)
}

func (s *Store) FindByUser(ctx context.Context, firebaseUID string) ([]domain.Device, error) {
	return listAll[domain.Device](ctx, s.db, bucketDevices, func(d domain.Device) bool { return d.FirebaseUID == firebaseUID })
}

func (s *Store) InvalidateToken(ctx context.Context, deviceID string) error {
	err := modify(ctx, s.db, bucketDevices, []byte(deviceID), "device", deviceID, func(d *domain.Device) bool {
		d.PushToken = ""
		d.UpdatedAt = s.clock().UTC()
		return true
	})
	var nf *domain.NotFoundError
	if errors.As(err, &nf) {
		return nil
	}
	return err
}

func (s *Store) GetUniqueTimezones(ctx context.Context) ([]string, error) {
	devices, err := listAll[domain.Device](ctx, s.db, bucketDevices, func(d domain.Device) bool {
		return d.Timezone != "" && d.HasToken()
	})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, d := range devices {
		if !seen[d.Timezone] {
			seen[d.Timezone] = true
			out = append(out, d.Timezone)
		}
	}
	sort.Strings(out)
	return out, nil
}
