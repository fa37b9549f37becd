package postgres

const scheduleColumns = `id, hour, minute, event_name, enabled, timezone_aware, created_at, updated_at`

const queryGetEnabledSchedules = `
SELECT ` + scheduleColumns + `
FROM schedules
WHERE enabled = true
ORDER BY hour, minute, id
`

const queryInsertSchedule = `
INSERT INTO schedules (` + scheduleColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const queryGetSchedule = `
SELECT ` + scheduleColumns + `
FROM schedules
WHERE id = $1
`

const queryListSchedules = `
SELECT ` + scheduleColumns + `
FROM schedules
ORDER BY hour, minute, id
LIMIT $1 OFFSET $2
`

const querySetScheduleEnabled = `
UPDATE schedules
SET enabled = $2, updated_at = $3
WHERE id = $1
`

// Executions keep their schedule_id after the schedule is deleted.
const queryDeleteSchedule = `
DELETE FROM schedules WHERE id = $1
RETURNING id`

const executionColumns = `id, schedule_id, event_name, scheduled_hour, scheduled_minute, executed_at,
    timezone, local_time, status, error, duration_ms, idempotency_key, created_at, updated_at`

const queryInsertExecution = `
INSERT INTO executions (` + executionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
`

const queryUpdateExecutionStatus = `
UPDATE executions
SET status = $2, error = $3, duration_ms = $4, updated_at = $5
WHERE id = $1
`

const queryGetExecution = `
SELECT ` + executionColumns + `
FROM executions
WHERE id = $1
`

const queryListExecutionsBySchedule = `
SELECT ` + executionColumns + `
FROM executions
WHERE schedule_id = $1
ORDER BY executed_at DESC
LIMIT $2 OFFSET $3
`

// An empty $1 matches every status.
const queryListExecutions = `
SELECT ` + executionColumns + `
FROM executions
WHERE ($1 = '' OR status = $1)
ORDER BY executed_at DESC
LIMIT $2 OFFSET $3
`

const queryCountExecutionsByStatus = `
SELECT status, COUNT(*)
FROM executions
WHERE created_at >= $1
GROUP BY status
`

const queryListStaleExecutions = `
SELECT ` + executionColumns + `
FROM executions
WHERE status = 'running'
  AND created_at < $1
ORDER BY created_at ASC
LIMIT $2
`

const notificationColumns = `id, firebase_uid, device_id, device_name, push_token, title, body, type, source,
    status, message_id, error, sent_by, sent_at, schedule_id, execution_id, created_at, updated_at`

const queryInsertNotification = `
INSERT INTO notifications (` + notificationColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
`

// Only pending notifications change; a terminal record is never rewritten.
const queryUpdateNotificationResult = `
UPDATE notifications
SET status = $2, message_id = $3, error = $4, sent_at = $5, updated_at = $6
WHERE id = $1
  AND status = 'pending'
`

const queryNotificationExists = `
SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1)
`

const queryGetNotification = `
SELECT ` + notificationColumns + `
FROM notifications
WHERE id = $1
`

// Empty filter values match everything.
const queryListNotifications = `
SELECT ` + notificationColumns + `
FROM notifications
WHERE ($1 = '' OR firebase_uid = $1)
  AND ($2 = '' OR device_id = $2)
  AND ($3::uuid IS NULL OR execution_id = $3)
  AND ($4 = '' OR status = $4)
  AND ($5 = '' OR type = $5)
ORDER BY created_at DESC
LIMIT $6 OFFSET $7
`

const deviceColumns = `device_id, firebase_uid, COALESCE(device_name, ''), COALESCE(timezone, ''),
    COALESCE(push_token, ''), updated_at`

// One row per device id, the most recently updated.
const queryFindDevicesByTimezoneWithToken = `
SELECT DISTINCT ON (device_id) ` + deviceColumns + `
FROM devices
WHERE timezone = $1
  AND push_token IS NOT NULL AND push_token <> ''
ORDER BY device_id, updated_at DESC
`

const queryFindAllDevices = `
SELECT ` + deviceColumns + `
FROM devices
ORDER BY device_id
LIMIT $1
`

const queryFindDeviceByID = `
SELECT ` + deviceColumns + `
FROM devices
WHERE device_id = $1
ORDER BY updated_at DESC
LIMIT 1
`

const queryFindDevicesByUser = `
SELECT ` + deviceColumns + `
FROM devices
WHERE firebase_uid = $1
ORDER BY device_id
`

const queryInvalidateToken = `
UPDATE devices
SET push_token = NULL, updated_at = $2
WHERE device_id = $1
`

const queryGetUniqueTimezones = `
SELECT DISTINCT timezone
FROM devices
WHERE timezone IS NOT NULL AND timezone <> ''
  AND push_token IS NOT NULL AND push_token <> ''
ORDER BY timezone
`

// queryProbeIdempotencyIndex returns a row only when the unique index
// backing duplicate detection exists.
const queryProbeIdempotencyIndex = `
SELECT 1 FROM pg_indexes
WHERE tablename = 'executions' AND indexname = 'executions_idempotency_key_key'
`

const queryUpsertDevice = `
INSERT INTO devices (device_id, firebase_uid, device_name, timezone, push_token, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (device_id, firebase_uid) DO UPDATE
SET device_name = EXCLUDED.device_name,
    timezone = EXCLUDED.timezone,
    push_token = EXCLUDED.push_token,
    updated_at = EXCLUDED.updated_at
`
