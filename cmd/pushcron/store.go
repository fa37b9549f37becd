package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/djlord-it/pushcron/internal/api"
	"github.com/djlord-it/pushcron/internal/config"
	"github.com/djlord-it/pushcron/internal/dispatcher"
	"github.com/djlord-it/pushcron/internal/executionlog"
	"github.com/djlord-it/pushcron/internal/reconciler"
	"github.com/djlord-it/pushcron/internal/scheduler"
	"github.com/djlord-it/pushcron/internal/store/bolt"
	"github.com/djlord-it/pushcron/internal/store/postgres"
	"github.com/djlord-it/pushcron/internal/tzcache"
)

// backend is everything the process needs from persistence. Both store
// drivers implement it.
type backend interface {
	scheduler.ScheduleStore
	executionlog.Store
	dispatcher.DeviceDirectory
	dispatcher.NotificationStore
	tzcache.TimezoneSource
	reconciler.Store
	api.ScheduleStore
	api.NotificationReader
	api.DeviceRegistry
}

var (
	_ backend = (*postgres.Store)(nil)
	_ backend = (*bolt.Store)(nil)
)

// openedStore pairs a backend with its health check and cleanup.
type openedStore struct {
	backend
	ping  func(ctx context.Context) error
	close func() error
}

func openStore(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*openedStore, error) {
	switch cfg.StoreDriver {
	case "postgres":
		return openPostgres(ctx, cfg, log)
	case "bolt":
		s, err := bolt.Open(cfg.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("open bolt store: %w", err)
		}
		log.WithField("path", cfg.BoltPath).Info("pushcron: bolt store opened")
		return &openedStore{backend: s, ping: s.Ping, close: s.Close}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func openPostgres(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*openedStore, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.WithFields(logrus.Fields{
		"max_open":      cfg.DBMaxOpenConns,
		"max_idle":      cfg.DBMaxIdleConns,
		"max_lifetime":  cfg.DBConnMaxLifetime,
		"max_idle_time": cfg.DBConnMaxIdleTime,
	}).Info("pushcron: db pool configured")

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s := postgres.New(db, cfg.DBOpTimeout)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := probeIdempotencyIndex(ctx, s); err != nil {
		db.Close()
		return nil, err
	}
	return &openedStore{backend: s, ping: db.PingContext, close: db.Close}, nil
}

type indexProber interface {
	ProbeIdempotencyIndex(ctx context.Context) error
}

// probeIdempotencyIndex refuses to start without the unique index that
// makes a retried tick harmless.
func probeIdempotencyIndex(ctx context.Context, p indexProber) error {
	err := p.ProbeIdempotencyIndex(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.New("executions idempotency index missing: duplicate firings would not be detected")
	}
	if err != nil {
		return fmt.Errorf("probe idempotency index: %w", err)
	}
	return nil
}
