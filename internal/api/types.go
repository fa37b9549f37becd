package api

import (
	"github.com/djlord-it/pushcron/internal/domain"
	"github.com/djlord-it/pushcron/internal/tzcache"
)

// CreateScheduleRequest takes the time of day as "HH:MM".
type CreateScheduleRequest struct {
	Time          string `json:"time"`
	EventName     string `json:"eventName"`
	TimezoneAware bool   `json:"timezoneAware"`
	Enabled       *bool  `json:"enabled,omitempty"` // default true
}

type UpdateScheduleRequest struct {
	Enabled *bool `json:"enabled"`
}

type SendRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
}

type DeviceRequest struct {
	FirebaseUID string `json:"firebaseUid"`
	DeviceName  string `json:"deviceName,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	PushToken   string `json:"pushToken,omitempty"`
}

type ListSchedulesResponse struct {
	Schedules []domain.Schedule `json:"schedules"`
}

type ListExecutionsResponse struct {
	Executions []domain.Execution `json:"executions"`
}

type ListNotificationsResponse struct {
	Notifications []domain.Notification `json:"notifications"`
}

type TimezoneResponse struct {
	Timezone    string  `json:"timezone"`
	OffsetHours float64 `json:"offsetHours"`
}

type ListTimezonesResponse struct {
	Timezones   []TimezoneResponse `json:"timezones"`
	RefreshedAt string             `json:"refreshedAt,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func timezoneResponses(entries []tzcache.Entry) []TimezoneResponse {
	out := make([]TimezoneResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, TimezoneResponse{Timezone: e.Timezone, OffsetHours: e.OffsetHours()})
	}
	return out
}
