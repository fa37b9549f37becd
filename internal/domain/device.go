package domain

import "time"

// Device is owned by the device directory; this service only reads it
// and clears stale push tokens.
type Device struct {
	DeviceID    string    `json:"deviceId"`
	FirebaseUID string    `json:"firebaseUid"`
	DeviceName  string    `json:"deviceName,omitempty"`
	Timezone    string    `json:"timezone,omitempty"`
	PushToken   string    `json:"pushToken,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (d Device) HasToken() bool {
	return d.PushToken != ""
}
