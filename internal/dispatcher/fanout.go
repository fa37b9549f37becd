package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/djlord-it/pushcron/internal/domain"
	"github.com/djlord-it/pushcron/internal/push"
)

// Result aggregates one batch. Details is sorted by device id.
type Result struct {
	Sent    int      `json:"sent"`
	Failed  int      `json:"failed"`
	Details []Detail `json:"details"`
}

type Detail struct {
	DeviceID       string                    `json:"deviceId"`
	NotificationID uuid.UUID                 `json:"notificationId"`
	Status         domain.NotificationStatus `json:"status"`
	MessageID      string                    `json:"messageId,omitempty"`
	Error          string                    `json:"error,omitempty"`
}

// sendMeta is copied onto every Notification of a batch.
type sendMeta struct {
	Type        domain.NotificationType
	Source      string
	SentBy      string
	ScheduleID  *uuid.UUID
	ExecutionID *uuid.UUID
}

// aggregator collects per-device outcomes from the fan-out workers.
type aggregator struct {
	mu  sync.Mutex
	res Result
}

func (a *aggregator) add(d Detail) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if d.Status == domain.NotificationStatusSent {
		a.res.Sent++
	} else {
		a.res.Failed++
	}
	a.res.Details = append(a.res.Details, d)
}

func (a *aggregator) result() Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	res := a.res
	res.Details = append([]Detail(nil), a.res.Details...)
	sort.Slice(res.Details, func(i, j int) bool {
		return res.Details[i].DeviceID < res.Details[j].DeviceID
	})
	return res
}

// scheduleTargets resolves the devices for a fired schedule.
func (d *Dispatcher) scheduleTargets(ctx context.Context, event domain.ScheduleFiredEvent) ([]domain.Device, error) {
	if event.HasTimezone() {
		devices, err := d.directory.FindByTimezoneWithToken(ctx, event.Timezone)
		if err != nil {
			return nil, fmt.Errorf("find devices in %s: %w", event.Timezone, err)
		}
		targets := selectTargets(devices, d.config.TimezoneCap)
		if len(targets) == 0 {
			return nil, &domain.TargetingError{Target: "timezone " + event.Timezone}
		}
		return targets, nil
	}

	devices, err := d.directory.FindAll(ctx, d.config.GlobalCap)
	if err != nil {
		return nil, fmt.Errorf("find devices: %w", err)
	}
	targets := selectTargets(devices, d.config.GlobalCap)
	if len(targets) == 0 {
		return nil, &domain.TargetingError{Target: "all devices"}
	}
	return targets, nil
}

// selectTargets keeps devices that have a push token, one per device id
// (the most recently updated), ordered by device id and capped at limit.
func selectTargets(devices []domain.Device, limit int) []domain.Device {
	latest := make(map[string]domain.Device, len(devices))
	for _, dev := range devices {
		if !dev.HasToken() {
			continue
		}
		if prev, ok := latest[dev.DeviceID]; ok && !dev.UpdatedAt.After(prev.UpdatedAt) {
			continue
		}
		latest[dev.DeviceID] = dev
	}

	out := make([]domain.Device, 0, len(latest))
	for _, dev := range latest {
		out = append(out, dev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// fanOut sends content to every device on a bounded worker pool.
// Delivery failures are recorded per device and never abort the batch;
// a store failure does, and is returned with the partial result.
func (d *Dispatcher) fanOut(ctx context.Context, devices []domain.Device, content Content, meta sendMeta) (Result, error) {
	start := d.clock()
	agg := &aggregator{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.config.FanoutWorkers)
	for _, dev := range devices {
		dev := dev
		g.Go(func() error {
			return d.sendOne(gctx, dev, content, meta, agg)
		})
	}
	err := g.Wait()

	res := agg.result()
	if d.metrics != nil {
		d.metrics.FanoutCompleted(d.clock().Sub(start), res.Sent, res.Failed)
	}
	return res, err
}

// sendOne delivers to a single device. It returns an error only when
// the notification record could not be written.
func (d *Dispatcher) sendOne(ctx context.Context, dev domain.Device, content Content, meta sendMeta, agg *aggregator) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	now := d.clock()
	n := domain.Notification{
		ID:          uuid.New(),
		FirebaseUID: dev.FirebaseUID,
		DeviceID:    dev.DeviceID,
		DeviceName:  dev.DeviceName,
		PushToken:   dev.PushToken,
		Title:       content.Title,
		Body:        content.Body,
		Type:        meta.Type,
		Source:      meta.Source,
		Status:      domain.NotificationStatusPending,
		SentBy:      meta.SentBy,
		ScheduleID:  meta.ScheduleID,
		ExecutionID: meta.ExecutionID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := d.notifications.InsertNotification(ctx, n); err != nil {
		return &domain.PersistenceError{Op: "insert notification", Err: err}
	}

	messageID, sendErr := d.send(ctx, dev.PushToken, content)
	if sendErr == nil {
		sentAt := d.clock()
		d.recordResult(ctx, n.ID, domain.NotificationStatusSent, messageID, "", &sentAt)
		agg.add(Detail{DeviceID: dev.DeviceID, NotificationID: n.ID, Status: domain.NotificationStatusSent, MessageID: messageID})
		d.notificationOutcome(domain.NotificationStatusSent)
		return nil
	}

	dErr := &domain.DeliveryError{
		DeviceID:     dev.DeviceID,
		TokenInvalid: errors.Is(sendErr, push.ErrTokenInvalid),
		Err:          sendErr,
	}
	d.recordResult(ctx, n.ID, domain.NotificationStatusFailed, "", dErr.Error(), nil)
	agg.add(Detail{DeviceID: dev.DeviceID, NotificationID: n.ID, Status: domain.NotificationStatusFailed, Error: dErr.Error()})
	d.notificationOutcome(domain.NotificationStatusFailed)

	if dErr.TokenInvalid {
		d.evictToken(ctx, dev)
	}
	d.log.WithFields(logrus.Fields{
		"device_id":       dev.DeviceID,
		"notification_id": n.ID,
		"token_invalid":   dErr.TokenInvalid,
	}).WithError(sendErr).Warn("dispatcher: delivery failed")
	return nil
}

func (d *Dispatcher) send(ctx context.Context, token string, content Content) (string, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit: %w", err)
		}
	}
	return d.gateway.Send(ctx, token, content.Title, content.Body, content.URL)
}

// recordResult finalizes a notification. A failed update is logged; the
// delivery outcome itself is already decided.
func (d *Dispatcher) recordResult(ctx context.Context, id uuid.UUID, status domain.NotificationStatus, messageID, errMsg string, sentAt *time.Time) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusUpdateTimeout)
	defer cancel()

	if err := d.notifications.UpdateNotificationResult(ctx, id, status, messageID, errMsg, sentAt, d.clock()); err != nil {
		d.log.WithField("notification_id", id).WithError(err).Error("dispatcher: failed to update notification")
	}
}

func (d *Dispatcher) evictToken(ctx context.Context, dev domain.Device) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusUpdateTimeout)
	defer cancel()

	if err := d.directory.InvalidateToken(ctx, dev.DeviceID); err != nil {
		d.log.WithField("device_id", dev.DeviceID).WithError(err).Error("dispatcher: failed to invalidate token")
		return
	}
	if d.metrics != nil {
		d.metrics.TokenEvicted()
	}
	d.log.WithField("device_id", dev.DeviceID).Info("dispatcher: stale push token removed")
}

func (d *Dispatcher) notificationOutcome(status domain.NotificationStatus) {
	if d.metrics != nil {
		d.metrics.NotificationOutcome(string(status))
	}
}
