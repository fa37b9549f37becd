package dispatcher

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/djlord-it/pushcron/internal/domain"
)

// Message is the content of an ad hoc send.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
}

func (m Message) validate() error {
	if m.Title == "" {
		return &domain.ValidationError{Field: "title", Message: "required"}
	}
	return nil
}

// testMessage is sent by SendTest regardless of caller input.
var testMessage = Message{
	Title: "Test notification",
	Body:  "Push notifications are working on this device.",
}

// SendToDevice delivers msg to one device.
func (d *Dispatcher) SendToDevice(ctx context.Context, deviceID string, msg Message, sentBy string) (Result, error) {
	if err := msg.validate(); err != nil {
		return Result{}, err
	}
	dev, err := d.directory.FindByID(ctx, deviceID)
	if err != nil {
		return Result{}, err
	}
	targets := selectTargets([]domain.Device{dev}, 1)
	if len(targets) == 0 {
		return Result{}, &domain.TargetingError{Target: "device " + deviceID}
	}
	return d.adhoc(ctx, targets, msg, domain.NotificationTypeAdmin, "admin:device", sentBy)
}

// SendToUser delivers msg to every device of a user that has a token.
func (d *Dispatcher) SendToUser(ctx context.Context, firebaseUID string, msg Message, sentBy string) (Result, error) {
	if err := msg.validate(); err != nil {
		return Result{}, err
	}
	devices, err := d.directory.FindByUser(ctx, firebaseUID)
	if err != nil {
		return Result{}, err
	}
	targets := selectTargets(devices, d.config.GlobalCap)
	if len(targets) == 0 {
		return Result{}, &domain.TargetingError{Target: "user " + firebaseUID}
	}
	return d.adhoc(ctx, targets, msg, domain.NotificationTypeAdmin, "admin:user", sentBy)
}

// Broadcast delivers msg to every device with a token, up to the global cap.
func (d *Dispatcher) Broadcast(ctx context.Context, msg Message, sentBy string) (Result, error) {
	if err := msg.validate(); err != nil {
		return Result{}, err
	}
	devices, err := d.directory.FindAll(ctx, d.config.GlobalCap)
	if err != nil {
		return Result{}, fmt.Errorf("find devices: %w", err)
	}
	targets := selectTargets(devices, d.config.GlobalCap)
	if len(targets) == 0 {
		return Result{}, &domain.TargetingError{Target: "all devices"}
	}
	return d.adhoc(ctx, targets, msg, domain.NotificationTypeBroadcast, "admin:broadcast", sentBy)
}

// SendTest sends a fixed test message to one device.
func (d *Dispatcher) SendTest(ctx context.Context, deviceID, sentBy string) (Result, error) {
	dev, err := d.directory.FindByID(ctx, deviceID)
	if err != nil {
		return Result{}, err
	}
	targets := selectTargets([]domain.Device{dev}, 1)
	if len(targets) == 0 {
		return Result{}, &domain.TargetingError{Target: "device " + deviceID}
	}
	return d.adhoc(ctx, targets, testMessage, domain.NotificationTypeTest, "admin:test", sentBy)
}

func (d *Dispatcher) adhoc(ctx context.Context, targets []domain.Device, msg Message, typ domain.NotificationType, source, sentBy string) (Result, error) {
	res, err := d.fanOut(ctx, targets, Content(msg), sendMeta{
		Type:   typ,
		Source: source,
		SentBy: sentBy,
	})
	d.recordAnalytics(ctx, string(typ), res)
	if err != nil {
		return res, err
	}
	d.log.WithFields(logrus.Fields{
		"type":    typ,
		"sent_by": sentBy,
		"sent":    res.Sent,
		"failed":  res.Failed,
	}).Info("dispatcher: ad hoc send complete")
	return res, nil
}
