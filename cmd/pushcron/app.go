package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/djlord-it/pushcron/internal/analytics"
	"github.com/djlord-it/pushcron/internal/api"
	"github.com/djlord-it/pushcron/internal/circuitbreaker"
	"github.com/djlord-it/pushcron/internal/config"
	"github.com/djlord-it/pushcron/internal/cron"
	"github.com/djlord-it/pushcron/internal/dispatcher"
	"github.com/djlord-it/pushcron/internal/executionlog"
	"github.com/djlord-it/pushcron/internal/metrics"
	"github.com/djlord-it/pushcron/internal/push"
	"github.com/djlord-it/pushcron/internal/reconciler"
	"github.com/djlord-it/pushcron/internal/scheduler"
	"github.com/djlord-it/pushcron/internal/transport/channel"
	"github.com/djlord-it/pushcron/internal/tzcache"
)

// app holds the wired components of one process.
type app struct {
	cfg        config.Config
	log        logrus.FieldLogger
	store      *openedStore
	redis      *redis.Client // nil when analytics is disabled
	metrics    metrics.Sink  // nil when metrics are disabled
	bus        *channel.EventBus
	timezones  *tzcache.Cache
	executions *executionlog.Service
	scheduler  *scheduler.Scheduler
	dispatcher *dispatcher.Dispatcher
	sweeper    *reconciler.Sweeper
	push       *push.Client
}

// buildApp opens the store and wires every component. reg receives the
// Prometheus collectors when metrics are enabled.
func buildApp(ctx context.Context, cfg config.Config, log logrus.FieldLogger, reg prometheus.Registerer) (*app, error) {
	poll, err := cron.NewParser().Parse(cfg.PollSchedule)
	if err != nil {
		return nil, fmt.Errorf("poll schedule: %w", err)
	}
	content, err := dispatcher.LoadCatalogue(cfg.EventContentFile)
	if err != nil {
		return nil, fmt.Errorf("event content: %w", err)
	}
	pushClient, err := push.New(cfg.PushGatewayURL, cfg.PushGatewayToken, cfg.PushTimeout)
	if err != nil {
		return nil, fmt.Errorf("push gateway: %w", err)
	}

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, store: st}
	if cfg.MetricsEnabled {
		a.metrics = metrics.NewPrometheusSink(reg, log)
	}

	busOpts := []channel.Option{channel.WithEmitTimeout(cfg.EventBusEmitTimeout)}
	if a.metrics != nil {
		busOpts = append(busOpts, channel.WithMetrics(a.metrics))
	}
	a.bus = channel.NewEventBus(cfg.EventBusBufferSize, busOpts...)

	a.timezones = tzcache.New(st, log)
	a.executions = executionlog.New(st)

	a.scheduler = scheduler.New(
		scheduler.Config{Poll: poll, PollSpec: cfg.PollSchedule},
		st,
		a.timezones,
		a.executions,
		a.bus,
		log,
	)

	a.push = pushClient.
		WithCircuitBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)).
		WithSigningSecret(cfg.PushSigningSecret)

	a.dispatcher = dispatcher.New(
		dispatcher.Config{
			Workers:       cfg.DispatcherWorkers,
			FanoutWorkers: cfg.FanoutWorkers,
			RatePerSec:    cfg.PushRatePerSec,
			DrainTimeout:  cfg.DispatcherDrainTimeout,
		},
		st,
		a.push,
		st,
		a.executions,
		content,
		log,
	)
	a.dispatcher.Router().HandleDefault(a.dispatcher.HandleScheduleFired)

	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.dispatcher.WithAnalytics(analytics.NewRedisSink(a.redis, analytics.DefaultRetention, log))
		log.WithField("redis", cfg.RedisAddr).Info("pushcron: analytics enabled")
	}

	a.sweeper = reconciler.New(
		reconciler.Config{
			Interval:  cfg.SweepInterval,
			Threshold: cfg.SweepThreshold,
			BatchSize: cfg.SweepBatchSize,
		},
		st,
		a.executions,
		log,
	)

	if a.metrics != nil {
		a.timezones.WithMetrics(a.metrics)
		a.scheduler.WithMetrics(a.metrics)
		a.push.WithMetrics(a.metrics)
		a.dispatcher.WithMetrics(a.metrics)
		a.sweeper.WithMetrics(a.metrics)
	}

	log.WithField("events", content.Events()).Info("pushcron: event content loaded")
	return a, nil
}

// handler builds the admin API over the wired components.
func (a *app) handler() (http.Handler, error) {
	auth, err := api.NewAuthenticator(a.cfg.AdminJWTSecret)
	if err != nil {
		return nil, err
	}
	h := api.NewHandler(a.store, a.executions, a.store, a.dispatcher, a.log).
		WithDevices(a.store).
		WithTimezones(a.timezones).
		WithAuth(auth).
		WithCORS(a.cfg.CORSOrigins).
		WithHealthCheck("store", a.store.ping).
		WithHealthCheck("push_gateway", a.push.Ping)
	if a.redis != nil {
		h.WithHealthCheck("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
	}
	return h.Routes(), nil
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("pushcron: redis close error")
		}
	}
	if err := a.store.close(); err != nil {
		a.log.WithError(err).Warn("pushcron: store close error")
	}
}
