package domain

import (
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationTypeTest      NotificationType = "test"
	NotificationTypeAdmin     NotificationType = "admin"
	NotificationTypeBroadcast NotificationType = "broadcast"
	NotificationTypeSchedule  NotificationType = "schedule"
)

type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)

// Notification is the audit entry for one send attempt to one device.
type Notification struct {
	ID uuid.UUID `json:"id"`

	FirebaseUID string `json:"firebaseUid"`
	DeviceID    string `json:"deviceId,omitempty"`
	DeviceName  string `json:"deviceName,omitempty"`
	PushToken   string `json:"pushToken,omitempty"`

	Title  string           `json:"title"`
	Body   string           `json:"body"`
	Type   NotificationType `json:"type"`
	Source string           `json:"source"`

	Status    NotificationStatus `json:"status"`
	MessageID string             `json:"messageId,omitempty"`
	Error     string             `json:"error,omitempty"`
	SentBy    string             `json:"sentBy"`
	SentAt    *time.Time         `json:"sentAt,omitempty"`

	ScheduleID  *uuid.UUID `json:"scheduleId,omitempty"`
	ExecutionID *uuid.UUID `json:"executionId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (n Notification) Validate() error {
	if n.FirebaseUID == "" {
		return &ValidationError{Field: "firebaseUid", Message: "required"}
	}
	if n.Title == "" {
		return &ValidationError{Field: "title", Message: "required"}
	}
	switch n.Type {
	case NotificationTypeTest, NotificationTypeAdmin, NotificationTypeBroadcast, NotificationTypeSchedule:
	default:
		return &ValidationError{Field: "type", Message: "unknown notification type " + string(n.Type)}
	}
	return nil
}

// NotificationFilter narrows reporting queries. Zero fields are ignored.
type NotificationFilter struct {
	FirebaseUID string
	DeviceID    string
	ExecutionID *uuid.UUID
	Status      NotificationStatus
	Type        NotificationType
}
