package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/djlord-it/pushcron/internal/domain"
	"github.com/djlord-it/pushcron/internal/executionlog"
)

// Target ceilings per batch.
const (
	DefaultTimezoneCap = 5000
	DefaultGlobalCap   = 10000
)

// DefaultDrainTimeout is the maximum time to wait for buffered events during shutdown.
const DefaultDrainTimeout = 30 * time.Second

const statusUpdateTimeout = 5 * time.Second

// ErrNoRoute is returned for an event name with no registered handler.
var ErrNoRoute = errors.New("no handler for event")

type DeviceDirectory interface {
	FindByTimezoneWithToken(ctx context.Context, timezone string) ([]domain.Device, error)
	FindAll(ctx context.Context, limit int) ([]domain.Device, error)
	FindByID(ctx context.Context, deviceID string) (domain.Device, error)
	FindByUser(ctx context.Context, firebaseUID string) ([]domain.Device, error)
	InvalidateToken(ctx context.Context, deviceID string) error
}

// PushGateway delivers one notification. A revoked token must produce an
// error matching push.ErrTokenInvalid.
type PushGateway interface {
	Send(ctx context.Context, token, title, body, url string) (messageID string, err error)
}

type NotificationStore interface {
	InsertNotification(ctx context.Context, n domain.Notification) error
	// UpdateNotificationResult records the outcome of a pending notification.
	// Implementations leave notifications that are no longer pending untouched.
	UpdateNotificationResult(ctx context.Context, id uuid.UUID, status domain.NotificationStatus, messageID, errMsg string, sentAt *time.Time, updatedAt time.Time) error
}

type ExecutionUpdater interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ExecutionStatus, errMsg string, durationMs *int64) error
}

type AnalyticsSink interface {
	Record(ctx context.Context, key string, at time.Time, sent, failed int)
}

// MetricsSink defines the interface for recording dispatcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	EventsInFlightIncr()
	EventsInFlightDecr()
	NotificationOutcome(outcome string)
	TokenEvicted()
	FanoutCompleted(duration time.Duration, sent, failed int)
	ExecutionFinished(status string, duration time.Duration)
}

type Config struct {
	// Workers is the number of goroutines consuming the event channel.
	Workers int
	// FanoutWorkers bounds concurrent sends within one batch.
	FanoutWorkers int
	// RatePerSec caps gateway sends across all batches; 0 is unlimited.
	RatePerSec   int
	TimezoneCap  int
	GlobalCap    int
	DrainTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:       4,
		FanoutWorkers: 8,
		TimezoneCap:   DefaultTimezoneCap,
		GlobalCap:     DefaultGlobalCap,
		DrainTimeout:  DefaultDrainTimeout,
	}
}

// Handler processes one fired-schedule event.
type Handler func(ctx context.Context, event domain.ScheduleFiredEvent) error

// Router maps event names to handlers, with an optional fallback for
// names that were not registered.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	fallback Handler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

func (r *Router) Handle(eventName string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventName] = h
}

// HandleDefault sets the handler for unregistered event names.
func (r *Router) HandleDefault(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = h
}

func (r *Router) lookup(eventName string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[eventName]; ok {
		return h, true
	}
	return r.fallback, r.fallback != nil
}

type Dispatcher struct {
	config        Config
	router        *Router
	directory     DeviceDirectory
	gateway       PushGateway
	notifications NotificationStore
	executions    ExecutionUpdater
	content       *Catalogue
	limiter       *rate.Limiter
	analytics     AnalyticsSink // optional, nil = disabled
	metrics       MetricsSink   // optional, nil = disabled
	log           logrus.FieldLogger
	clock         func() time.Time
}

func New(config Config, directory DeviceDirectory, gateway PushGateway, notifications NotificationStore, executions ExecutionUpdater, content *Catalogue, log logrus.FieldLogger) *Dispatcher {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.FanoutWorkers <= 0 {
		config.FanoutWorkers = 1
	}
	if config.TimezoneCap <= 0 {
		config.TimezoneCap = DefaultTimezoneCap
	}
	if config.GlobalCap <= 0 {
		config.GlobalCap = DefaultGlobalCap
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultDrainTimeout
	}
	if content == nil {
		content = NewCatalogue(DefaultContent, nil)
	}

	d := &Dispatcher{
		config:        config,
		router:        NewRouter(),
		directory:     directory,
		gateway:       gateway,
		notifications: notifications,
		executions:    executions,
		content:       content,
		log:           log,
		clock:         time.Now,
	}
	if config.RatePerSec > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(config.RatePerSec), config.RatePerSec)
	}
	return d
}

func (d *Dispatcher) WithAnalytics(sink AnalyticsSink) *Dispatcher {
	d.analytics = sink
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

// Router exposes the event routing table for registration.
func (d *Dispatcher) Router() *Router {
	return d.router
}

// Run consumes events with Config.Workers goroutines until ctx is
// cancelled, then drains the remaining buffered events. Batches in
// flight at cancellation keep running; they and the drain share one
// Config.DrainTimeout budget.
func (d *Dispatcher) Run(ctx context.Context, ch <-chan domain.ScheduleFiredEvent) {
	work, cancel := d.shutdownContext(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < d.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.consume(ctx, work, ch)
		}()
	}
	wg.Wait()
	d.drain(work, ch)
}

// DispatchPending delivers the events already buffered in ch with
// Config.Workers goroutines and returns the number handled once ch is
// empty and every batch has finished. Batches run under ctx alone, with
// no drain deadline.
func (d *Dispatcher) DispatchPending(ctx context.Context, ch <-chan domain.ScheduleFiredEvent) int {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		count int
	)
	for i := 0; i < d.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				select {
				case event, ok := <-ch:
					if !ok {
						return
					}
					if err := d.Dispatch(ctx, event); err != nil {
						d.eventLog(event).WithError(err).Error("dispatcher: error")
					}
					mu.Lock()
					count++
					mu.Unlock()
				default:
					return
				}
			}
		}()
	}
	wg.Wait()
	return count
}

// shutdownContext detaches work from ctx and cancels it Config.DrainTimeout
// after ctx is done.
func (d *Dispatcher) shutdownContext(ctx context.Context) (context.Context, context.CancelFunc) {
	work, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		select {
		case <-work.Done():
			return
		case <-ctx.Done():
		}
		timer := time.NewTimer(d.config.DrainTimeout)
		defer timer.Stop()
		select {
		case <-work.Done():
		case <-timer.C:
			cancel()
		}
	}()
	return work, cancel
}

func (d *Dispatcher) consume(ctx, work context.Context, ch <-chan domain.ScheduleFiredEvent) {
	for {
		// Buffered events left after cancellation belong to drain.
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := d.Dispatch(work, event); err != nil {
				d.eventLog(event).WithError(err).Error("dispatcher: error")
			}
		}
	}
}

// drain processes events still buffered after shutdown until ch is
// empty or the shutdown budget in ctx runs out.
func (d *Dispatcher) drain(ctx context.Context, ch <-chan domain.ScheduleFiredEvent) {
	count := 0
	defer func() {
		if count > 0 {
			d.log.WithField("events", count).Info("dispatcher: drain complete")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			d.log.WithField("events", count).Warn("dispatcher: drain timeout")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := d.Dispatch(ctx, event); err != nil {
				d.eventLog(event).WithError(err).Error("dispatcher: drain error")
			}
			count++
		default:
			return
		}
	}
}

// Dispatch routes one event to its handler. An unrouted event fails its
// execution.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.ScheduleFiredEvent) error {
	if d.metrics != nil {
		d.metrics.EventsInFlightIncr()
		defer d.metrics.EventsInFlightDecr()
	}

	h, ok := d.router.lookup(event.EventName)
	if !ok {
		err := fmt.Errorf("%w %q", ErrNoRoute, event.EventName)
		d.finishExecution(ctx, event, d.clock(), domain.ExecutionStatusFailed, err)
		return err
	}
	return h(ctx, event)
}

// HandleScheduleFired fans the event's content out to its target devices
// and closes the execution. Per-device failures still complete the
// execution; only a failure to dispatch at all marks it failed.
func (d *Dispatcher) HandleScheduleFired(ctx context.Context, event domain.ScheduleFiredEvent) error {
	start := d.clock()
	content := d.content.Lookup(event.EventName)

	devices, err := d.scheduleTargets(ctx, event)
	if err != nil {
		d.finishExecution(ctx, event, start, domain.ExecutionStatusFailed, err)
		return err
	}

	scheduleID, executionID := event.ScheduleID, event.ExecutionID
	res, err := d.fanOut(ctx, devices, content, sendMeta{
		Type:        domain.NotificationTypeSchedule,
		Source:      "schedule:" + event.EventName,
		SentBy:      "scheduler",
		ScheduleID:  &scheduleID,
		ExecutionID: &executionID,
	})
	d.recordAnalytics(ctx, event.EventName, res)
	if err != nil {
		d.finishExecution(ctx, event, start, domain.ExecutionStatusFailed, err)
		return err
	}

	d.finishExecution(ctx, event, start, domain.ExecutionStatusCompleted, nil)
	d.eventLog(event).WithFields(logrus.Fields{
		"sent":   res.Sent,
		"failed": res.Failed,
	}).Info("dispatcher: batch complete")
	return nil
}

func (d *Dispatcher) finishExecution(ctx context.Context, event domain.ScheduleFiredEvent, start time.Time, status domain.ExecutionStatus, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusUpdateTimeout)
	defer cancel()

	now := d.clock()
	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}
	if err := d.executions.UpdateStatus(ctx, event.ExecutionID, status, errMsg, executionlog.DurationSince(start, now)); err != nil {
		d.eventLog(event).WithError(err).Error("dispatcher: failed to update execution")
	}
	if d.metrics != nil {
		d.metrics.ExecutionFinished(string(status), now.Sub(start))
	}
}

func (d *Dispatcher) recordAnalytics(ctx context.Context, key string, res Result) {
	if d.analytics == nil || res.Sent+res.Failed == 0 {
		return
	}
	d.analytics.Record(ctx, key, d.clock(), res.Sent, res.Failed)
}

func (d *Dispatcher) eventLog(event domain.ScheduleFiredEvent) logrus.FieldLogger {
	fields := logrus.Fields{
		"execution_id": event.ExecutionID,
		"event":        event.EventName,
	}
	if event.HasTimezone() {
		fields["timezone"] = event.Timezone
	}
	return d.log.WithFields(fields)
}
