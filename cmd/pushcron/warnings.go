package main

import (
	"github.com/sirupsen/logrus"

	"github.com/djlord-it/pushcron/internal/config"
)

// logConfigWarnings logs non-fatal configuration concerns once at startup.
func logConfigWarnings(cfg config.Config, log logrus.FieldLogger) {
	for _, w := range config.Warnings(cfg) {
		log.Warn("pushcron: " + w)
	}
	if cfg.RedisAddr == "" {
		log.Info("pushcron: REDIS_ADDR not set; analytics disabled")
	}
	if len(cfg.CORSOrigins) == 0 {
		log.Info("pushcron: CORS_ORIGINS not set; browser clients on other origins are rejected")
	}
}
