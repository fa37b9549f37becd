// Package reconciler closes out executions that never finished.
//
// An execution is stale when it is still running well past the time any
// fan-out could take, typically because the process stopped between
// publishing the event and completing the batch. The sweeper marks such
// executions timeout so they stop counting as in progress.
package reconciler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/djlord-it/pushcron/internal/domain"
	"github.com/djlord-it/pushcron/internal/executionlog"
)

// Store lists running executions created before olderThan, oldest first.
type Store interface {
	ListStaleExecutions(ctx context.Context, olderThan time.Time, limit int) ([]domain.Execution, error)
}

type ExecutionUpdater interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ExecutionStatus, errMsg string, durationMs *int64) error
}

type MetricsSink interface {
	StaleExecutionsSwept(count int)
}

type Config struct {
	// Interval is how often the sweeper runs.
	Interval time.Duration

	// Threshold is the age after which a running execution is stale.
	Threshold time.Duration

	// BatchSize caps the executions swept per cycle.
	BatchSize int
}

func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold: 30 * time.Minute,
		BatchSize: 100,
	}
}

// timeoutMessage is stored as the error of swept executions.
const timeoutMessage = "execution did not complete before sweep threshold"

type Sweeper struct {
	config     Config
	store      Store
	executions ExecutionUpdater
	metrics    MetricsSink
	log        logrus.FieldLogger
	clock      func() time.Time
}

func New(config Config, store Store, executions ExecutionUpdater, log logrus.FieldLogger) *Sweeper {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Threshold <= 0 {
		config.Threshold = def.Threshold
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	return &Sweeper{
		config:     config,
		store:      store,
		executions: executions,
		log:        log,
		clock:      time.Now,
	}
}

func (s *Sweeper) WithMetrics(m MetricsSink) *Sweeper {
	s.metrics = m
	return s
}

// Run sweeps once immediately and then every Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.log.WithFields(logrus.Fields{
		"interval":  s.config.Interval,
		"threshold": s.config.Threshold,
		"batch":     s.config.BatchSize,
	}).Info("sweeper: started")

	s.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper: stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one cycle and returns the number of executions marked timeout.
func (s *Sweeper) Sweep(ctx context.Context) int {
	now := s.clock().UTC()

	stale, err := s.store.ListStaleExecutions(ctx, now.Add(-s.config.Threshold), s.config.BatchSize)
	if err != nil {
		// Retried next interval.
		s.log.WithError(err).Error("sweeper: failed to list stale executions")
		return 0
	}
	if len(stale) == 0 {
		return 0
	}

	swept := 0
	for _, exec := range stale {
		if ctx.Err() != nil {
			s.log.WithField("swept", swept).Warn("sweeper: cycle interrupted")
			break
		}
		if exec.Status != domain.ExecutionStatusRunning {
			continue
		}

		err := s.executions.UpdateStatus(ctx, exec.ID, domain.ExecutionStatusTimeout, timeoutMessage, executionlog.DurationSince(exec.CreatedAt, now))
		if err != nil {
			s.log.WithField("execution_id", exec.ID).WithError(err).Error("sweeper: failed to mark timeout")
			continue
		}
		s.log.WithFields(logrus.Fields{
			"execution_id": exec.ID,
			"schedule_id":  exec.ScheduleID,
			"age":          now.Sub(exec.CreatedAt).Round(time.Second),
		}).Warn("sweeper: execution timed out")
		swept++
	}

	if s.metrics != nil && swept > 0 {
		s.metrics.StaleExecutionsSwept(swept)
	}
	return swept
}
