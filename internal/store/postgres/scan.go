package postgres

import (
	"database/sql"

	"github.com/google/uuid"

	"github.com/djlord-it/pushcron/internal/domain"
)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row scanner) (domain.Schedule, error) {
	var sch domain.Schedule
	err := row.Scan(
		&sch.ID,
		&sch.Time.Hour,
		&sch.Time.Minute,
		&sch.EventName,
		&sch.Enabled,
		&sch.TimezoneAware,
		&sch.CreatedAt,
		&sch.UpdatedAt,
	)
	return sch, err
}

func scanExecution(row scanner) (domain.Execution, error) {
	var (
		exec       domain.Execution
		status     string
		timezone   sql.NullString
		localTime  sql.NullTime
		errMsg     sql.NullString
		durationMs sql.NullInt64
	)
	err := row.Scan(
		&exec.ID,
		&exec.ScheduleID,
		&exec.EventName,
		&exec.ScheduledTime.Hour,
		&exec.ScheduledTime.Minute,
		&exec.ExecutedAt,
		&timezone,
		&localTime,
		&status,
		&errMsg,
		&durationMs,
		&exec.IdempotencyKey,
		&exec.CreatedAt,
		&exec.UpdatedAt,
	)
	if err != nil {
		return domain.Execution{}, err
	}
	exec.Status = domain.ExecutionStatus(status)
	exec.Timezone = timezone.String
	exec.Error = errMsg.String
	if localTime.Valid {
		t := localTime.Time
		exec.LocalTime = &t
	}
	if durationMs.Valid {
		d := durationMs.Int64
		exec.DurationMs = &d
	}
	return exec, nil
}

func scanNotification(row scanner) (domain.Notification, error) {
	var (
		n                                     domain.Notification
		typ, status                           string
		deviceID, deviceName, token, msgID, e sql.NullString
		sentAt                                sql.NullTime
		scheduleID, executionID               uuid.NullUUID
	)
	err := row.Scan(
		&n.ID,
		&n.FirebaseUID,
		&deviceID,
		&deviceName,
		&token,
		&n.Title,
		&n.Body,
		&typ,
		&n.Source,
		&status,
		&msgID,
		&e,
		&n.SentBy,
		&sentAt,
		&scheduleID,
		&executionID,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return domain.Notification{}, err
	}
	n.Type = domain.NotificationType(typ)
	n.Status = domain.NotificationStatus(status)
	n.DeviceID, n.DeviceName, n.PushToken = deviceID.String, deviceName.String, token.String
	n.MessageID, n.Error = msgID.String, e.String
	if sentAt.Valid {
		t := sentAt.Time
		n.SentAt = &t
	}
	if scheduleID.Valid {
		id := scheduleID.UUID
		n.ScheduleID = &id
	}
	if executionID.Valid {
		id := executionID.UUID
		n.ExecutionID = &id
	}
	return n, nil
}

func scanDevice(row scanner) (domain.Device, error) {
	var d domain.Device
	err := row.Scan(&d.DeviceID, &d.FirebaseUID, &d.DeviceName, &d.Timezone, &d.PushToken, &d.UpdatedAt)
	return d, err
}

// nullString stores empty strings as NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
