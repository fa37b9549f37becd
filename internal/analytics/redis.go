// Package analytics keeps per-event delivery counters in Redis.
package analytics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultRetention is how long a minute bucket is kept.
const DefaultRetention = 7 * 24 * time.Hour

const writeTimeout = 2 * time.Second

type RedisSink struct {
	client    redis.Cmdable
	retention time.Duration
	log       logrus.FieldLogger
}

func NewRedisSink(client redis.Cmdable, retention time.Duration, log logrus.FieldLogger) *RedisSink {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisSink{client: client, retention: retention, log: log}
}

// Record adds sent and failed counts to the minute bucket of at. Errors
// are logged and dropped; analytics never affects delivery.
func (s *RedisSink) Record(ctx context.Context, eventName string, at time.Time, sent, failed int) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := s.write(ctx, eventName, at, sent, failed); err != nil {
		s.log.WithField("event", eventName).WithError(err).Warn("analytics: write failed")
	}
}

func (s *RedisSink) write(ctx context.Context, eventName string, at time.Time, sent, failed int) error {
	key := buildKey(eventName, at)

	pipe := s.client.Pipeline()
	if sent > 0 {
		pipe.HIncrBy(ctx, key, "sent", int64(sent))
	}
	if failed > 0 {
		pipe.HIncrBy(ctx, key, "failed", int64(failed))
	}
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// Counts returns the totals recorded for eventName in the minute of at.
func (s *RedisSink) Counts(ctx context.Context, eventName string, at time.Time) (sent, failed int, err error) {
	vals, err := s.client.HGetAll(ctx, buildKey(eventName, at)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis hgetall: %w", err)
	}
	sent, _ = strconv.Atoi(vals["sent"])
	failed, _ = strconv.Atoi(vals["failed"])
	return sent, failed, nil
}

func buildKey(eventName string, t time.Time) string {
	return fmt.Sprintf("pushcron:e:%s:%s", eventName, t.UTC().Format("200601021504"))
}
