package domain

import "fmt"

// ValidationError rejects malformed input before persistence.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// NotFoundError reports a missing schedule, device, execution or notification.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// TargetingError aborts a batch whose resolved device set is empty.
type TargetingError struct {
	Target string
}

func (e *TargetingError) Error() string {
	return fmt.Sprintf("no target devices with push token for %s", e.Target)
}

// DeliveryError is a single device send failure. It never leaves the
// per-device send step.
type DeliveryError struct {
	DeviceID     string
	TokenInvalid bool
	Err          error
}

func (e *DeliveryError) Error() string {
	if e.TokenInvalid {
		return fmt.Sprintf("deliver to device %s: token invalid: %v", e.DeviceID, e.Err)
	}
	return fmt.Sprintf("deliver to device %s: %v", e.DeviceID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a store failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
