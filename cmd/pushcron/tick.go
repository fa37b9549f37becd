package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/djlord-it/pushcron/internal/config"
	"github.com/djlord-it/pushcron/internal/logger"
)

// tickCmd evaluates the current minute once and delivers whatever fired,
// for running from an external scheduler instead of serve.
func tickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduler tick and deliver its notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if err := config.Validate(cfg); err != nil {
				return invalidConfig(err)
			}
			return runTick(cmd.Context(), cfg)
		},
	}
}

func runTick(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	a, err := buildApp(ctx, cfg, log, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.scheduler.Tick(ctx); err != nil {
		return fmt.Errorf("tick: %w", err)
	}

	// Tick emits synchronously, so everything that fired is already
	// buffered; deliver it with the full worker pool and no drain deadline.
	n := a.dispatcher.DispatchPending(ctx, a.bus.Channel())

	log.WithField("events", n).Info("pushcron: tick complete")
	return nil
}
