package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/djlord-it/pushcron/internal/config"
	"github.com/djlord-it/pushcron/internal/logger"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduler, dispatcher and admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if err := config.Validate(cfg); err != nil {
				return invalidConfig(err)
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg config.Config) error {
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	logConfigWarnings(cfg, log)

	startCtx, cancelStart := context.WithTimeout(context.Background(), cfg.DBOpTimeout*4)
	a, err := buildApp(startCtx, cfg, log, prometheus.DefaultRegisterer)
	if err != nil {
		cancelStart()
		return err
	}
	defer a.close()

	if err := a.timezones.Refresh(startCtx); err != nil {
		log.WithError(err).Warn("pushcron: initial timezone refresh failed, retrying on first tick")
	}
	cancelStart()

	apiHandler, err := a.handler()
	if err != nil {
		return err
	}

	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{Addr: ":" + cfg.MetricsPort, Handler: metricsMux}
		go listen(metricsServer, "metrics", log)
	}

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: apiHandler}
	go listen(httpServer, "http", log)

	// Separate contexts so components stop in order: producers first,
	// then the dispatcher drains what they already emitted.
	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	maintenanceCtx, cancelMaintenance := context.WithCancel(context.Background())
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())

	var schedulerWg, maintenanceWg, dispatcherWg sync.WaitGroup

	schedulerWg.Add(1)
	go func() {
		defer schedulerWg.Done()
		_ = a.scheduler.Run(schedulerCtx)
	}()

	maintenanceWg.Add(1)
	go func() {
		defer maintenanceWg.Done()
		a.timezones.Run(maintenanceCtx, cfg.TZRefreshInterval)
	}()

	if cfg.SweepEnabled {
		maintenanceWg.Add(1)
		go func() {
			defer maintenanceWg.Done()
			a.sweeper.Run(maintenanceCtx)
		}()
		log.WithFields(logrus.Fields{
			"interval":  cfg.SweepInterval,
			"threshold": cfg.SweepThreshold,
			"batch":     cfg.SweepBatchSize,
		}).Info("pushcron: sweeper enabled")
	}

	dispatcherWg.Add(1)
	go func() {
		defer dispatcherWg.Done()
		a.dispatcher.Run(dispatcherCtx, a.bus.Channel())
	}()

	log.WithFields(logrus.Fields{
		"version": version,
		"store":   cfg.StoreDriver,
		"poll":    cfg.PollSchedule,
		"http":    cfg.HTTPAddr,
	}).Info("pushcron: started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	log.WithField("signal", received.String()).Info("pushcron: shutting down")

	// Phase 1: no new ticks, so no new events.
	cancelScheduler()
	schedulerWg.Wait()
	log.Info("pushcron: scheduler stopped")

	// Phase 2: sweeper and timezone refresher.
	cancelMaintenance()
	maintenanceWg.Wait()
	log.Info("pushcron: maintenance loops stopped")

	// Phase 3: in-flight batches finish and buffered events drain within
	// DISPATCHER_DRAIN_TIMEOUT.
	cancelDispatcher()
	dispatcherWg.Wait()
	log.Info("pushcron: dispatcher stopped")

	// Phase 4: HTTP servers.
	shutdown(httpServer, "http", cfg, log)
	if metricsServer != nil {
		shutdown(metricsServer, "metrics", cfg, log)
	}

	log.Info("pushcron: stopped")
	return nil
}

func listen(srv *http.Server, name string, log logrus.FieldLogger) {
	log.WithField("addr", srv.Addr).Infof("pushcron: %s server listening", name)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Errorf("pushcron: %s server error", name)
	}
}

func shutdown(srv *http.Server, name string, cfg config.Config, log logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Errorf("pushcron: %s server shutdown error", name)
		return
	}
	log.Infof("pushcron: %s server stopped", name)
}
