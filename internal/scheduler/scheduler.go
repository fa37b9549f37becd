package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/djlord-it/pushcron/internal/domain"
	"github.com/djlord-it/pushcron/internal/executionlog"
	"github.com/djlord-it/pushcron/internal/tzcache"
)

// ErrDuplicateExecution is returned by stores when an execution with the
// same idempotency key already exists.
var ErrDuplicateExecution = errors.New("execution already exists")

// statusUpdateTimeout bounds the failure write made after ctx may already
// be cancelled.
const statusUpdateTimeout = 5 * time.Second

type ScheduleStore interface {
	GetEnabledSchedules(ctx context.Context) ([]domain.Schedule, error)
}

type TimezoneMatcher interface {
	Matching(ctx context.Context, target domain.TimeOfDay, nowUTC time.Time) ([]tzcache.Match, error)
}

type ExecutionLog interface {
	Create(ctx context.Context, p executionlog.CreateParams) (uuid.UUID, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ExecutionStatus, errMsg string, durationMs *int64) error
}

type EventEmitter interface {
	Emit(ctx context.Context, event domain.ScheduleFiredEvent) error
}

// PollSchedule yields the instants at which the scheduler wakes.
type PollSchedule interface {
	Next(after time.Time) time.Time
}

// MetricsSink receives scheduler metrics. Methods must not block.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, executionsCreated int, err error)
	TickDrift(drift time.Duration)
	DuplicateExecution()
}

type Config struct {
	Poll PollSchedule
	// PollSpec is the textual form of Poll, for logging.
	PollSpec string
}

type Scheduler struct {
	config     Config
	schedules  ScheduleStore
	matcher    TimezoneMatcher
	executions ExecutionLog
	emitter    EventEmitter
	log        logrus.FieldLogger
	metrics    MetricsSink
	clock      func() time.Time
}

func New(config Config, schedules ScheduleStore, matcher TimezoneMatcher, executions ExecutionLog, emitter EventEmitter, log logrus.FieldLogger) *Scheduler {
	return &Scheduler{
		config:     config,
		schedules:  schedules,
		matcher:    matcher,
		executions: executions,
		emitter:    emitter,
		log:        log,
		clock:      time.Now,
	}
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// Run ticks at every instant of the poll schedule until ctx is cancelled.
// Ticks run on this goroutine and never overlap; a slow tick delays the
// next wake-up rather than stacking.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.WithField("poll", s.config.PollSpec).Info("scheduler: started")

	for {
		now := s.clock()
		next := s.config.Poll.Next(now)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("scheduler: stopped")
			return ctx.Err()
		case <-timer.C:
		}

		if s.metrics != nil {
			s.metrics.TickDrift(s.clock().Sub(next))
		}
		if err := s.Tick(ctx); err != nil {
			s.log.WithError(err).Error("scheduler: tick error")
		}
	}
}

// Tick evaluates every enabled schedule against the current minute. Only
// the schedule load can fail the tick; errors inside one schedule are
// logged and the remaining schedules still run.
func (s *Scheduler) Tick(ctx context.Context) error {
	start := s.clock()
	if s.metrics != nil {
		s.metrics.TickStarted()
	}

	created, err := s.processTick(ctx, start.UTC())

	if s.metrics != nil {
		s.metrics.TickCompleted(s.clock().Sub(start), created, err)
	}
	return err
}

func (s *Scheduler) processTick(ctx context.Context, now time.Time) (int, error) {
	schedules, err := s.schedules.GetEnabledSchedules(ctx)
	if err != nil {
		return 0, fmt.Errorf("get schedules: %w", err)
	}
	sort.SliceStable(schedules, func(i, j int) bool {
		return schedules[i].Time.Before(schedules[j].Time)
	})

	total := 0
	for _, sch := range schedules {
		if !sch.Enabled {
			continue
		}
		created, err := s.processSchedule(ctx, sch, now)
		total += created
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"schedule_id": sch.ID,
				"event":       sch.EventName,
			}).WithError(err).Error("scheduler: schedule error")
		}
	}
	return total, nil
}

// processSchedule fires one schedule for the current minute. A panic is
// turned into an error, and the execution in flight at that moment is
// marked failed.
func (s *Scheduler) processSchedule(ctx context.Context, sch domain.Schedule, now time.Time) (created int, err error) {
	var inFlight uuid.UUID
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			if inFlight != uuid.Nil {
				s.markFailed(ctx, inFlight, err, now)
			}
		}
	}()

	if !sch.TimezoneAware {
		if !sch.Time.Matches(now) {
			return 0, nil
		}
		ok, err := s.fire(ctx, sch, now, "", nil, &inFlight)
		if ok {
			created++
		}
		return created, err
	}

	matches, err := s.matcher.Matching(ctx, sch.Time, now)
	if err != nil {
		return 0, fmt.Errorf("match timezones: %w", err)
	}

	var errs []error
	for _, m := range matches {
		local := m.LocalTime
		ok, err := s.fire(ctx, sch, now, m.Timezone, &local, &inFlight)
		if ok {
			created++
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("timezone %s: %w", m.Timezone, err))
		}
	}
	return created, errors.Join(errs...)
}

// fire records one execution and publishes its event. It reports whether
// a new execution was created; duplicates are skipped silently.
func (s *Scheduler) fire(ctx context.Context, sch domain.Schedule, now time.Time, timezone string, localTime *time.Time, inFlight *uuid.UUID) (bool, error) {
	executionID, err := s.executions.Create(ctx, executionlog.CreateParams{
		ScheduleID:     sch.ID,
		EventName:      sch.EventName,
		ScheduledTime:  sch.Time,
		ExecutedAt:     now,
		Timezone:       timezone,
		LocalTime:      localTime,
		IdempotencyKey: IdempotencyKey(sch.ID, now, timezone),
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateExecution) {
			if s.metrics != nil {
				s.metrics.DuplicateExecution()
			}
			s.log.WithFields(logrus.Fields{
				"schedule_id": sch.ID,
				"timezone":    timezone,
			}).Debug("scheduler: execution already recorded for this minute")
			return false, nil
		}
		return false, fmt.Errorf("create execution: %w", err)
	}
	*inFlight = executionID

	event := domain.ScheduleFiredEvent{
		ScheduleID:    sch.ID,
		ExecutionID:   executionID,
		EventName:     sch.EventName,
		ScheduledTime: sch.Time,
		ExecutedAt:    now,
		Timezone:      timezone,
		LocalTime:     localTime,
	}

	if err := s.emitter.Emit(ctx, event); err != nil {
		err = fmt.Errorf("publish: %w", err)
		s.markFailed(ctx, executionID, err, now)
		*inFlight = uuid.Nil
		return true, err
	}
	*inFlight = uuid.Nil

	s.log.WithFields(logrus.Fields{
		"schedule_id":  sch.ID,
		"execution_id": executionID,
		"event":        sch.EventName,
		"timezone":     timezone,
	}).Info("scheduler: published")
	return true, nil
}

func (s *Scheduler) markFailed(ctx context.Context, executionID uuid.UUID, cause error, start time.Time) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusUpdateTimeout)
	defer cancel()

	duration := executionlog.DurationSince(start, s.clock().UTC())
	if err := s.executions.UpdateStatus(ctx, executionID, domain.ExecutionStatusFailed, cause.Error(), duration); err != nil {
		s.log.WithField("execution_id", executionID).WithError(err).Error("scheduler: failed to mark execution failed")
	}
}

// IdempotencyKey identifies one firing of a schedule in one minute and,
// for timezone-aware schedules, one timezone.
func IdempotencyKey(scheduleID uuid.UUID, at time.Time, timezone string) string {
	bucket := at.UTC().Truncate(time.Minute).Unix()
	data := fmt.Sprintf("%s|%d|%s", scheduleID.String(), bucket, timezone)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
