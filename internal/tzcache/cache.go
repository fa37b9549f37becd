// Package tzcache keeps the UTC offsets of every timezone that currently
// has registered devices.
//
// The cache holds an immutable snapshot behind an atomic pointer. Refresh
// builds a complete new snapshot and swaps it in, so a concurrent Matching
// sees either the old or the new set, never a mix.
package tzcache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/djlord-it/pushcron/internal/domain"
)

// TimezoneSource lists the distinct timezone identifiers in use.
type TimezoneSource interface {
	GetUniqueTimezones(ctx context.Context) ([]string, error)
}

// MetricsSink receives cache refresh outcomes. Methods must not block.
type MetricsSink interface {
	TimezoneRefresh(entries int, err error)
}

// Entry is one timezone and its offset from UTC at refresh time.
type Entry struct {
	Timezone string
	Offset   time.Duration
}

// OffsetHours is the offset as fractional hours, e.g. 5.5 for Asia/Kolkata.
func (e Entry) OffsetHours() float64 {
	return e.Offset.Hours()
}

// Match is a timezone whose local time equals the requested target.
type Match struct {
	Timezone  string
	LocalTime time.Time
}

type snapshot struct {
	entries     []Entry
	refreshedAt time.Time
}

type Cache struct {
	source  TimezoneSource
	log     logrus.FieldLogger
	metrics MetricsSink
	clock   func() time.Time

	current atomic.Pointer[snapshot]

	// refreshMu serialises refreshes; readers never take it.
	refreshMu sync.Mutex
}

func New(source TimezoneSource, log logrus.FieldLogger) *Cache {
	c := &Cache{
		source: source,
		log:    log,
		clock:  time.Now,
	}
	c.current.Store(&snapshot{})
	return c
}

// WithMetrics attaches a metrics sink to the cache.
func (c *Cache) WithMetrics(sink MetricsSink) *Cache {
	c.metrics = sink
	return c
}

// Refresh reloads timezones from the source and swaps in a new snapshot.
// On error the previous snapshot stays in place.
func (c *Cache) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	zones, err := c.source.GetUniqueTimezones(ctx)
	if err != nil {
		c.recordRefresh(0, err)
		return fmt.Errorf("get unique timezones: %w", err)
	}

	now := c.clock().UTC()
	entries := make([]Entry, 0, len(zones))
	seen := make(map[string]struct{}, len(zones))
	for _, tz := range zones {
		if tz == "" {
			continue
		}
		if _, dup := seen[tz]; dup {
			continue
		}
		seen[tz] = struct{}{}

		offset, err := Offset(tz, now)
		if err != nil {
			c.log.WithField("timezone", tz).WithError(err).Warn("tzcache: skipping unknown timezone")
			continue
		}
		entries = append(entries, Entry{Timezone: tz, Offset: offset})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timezone < entries[j].Timezone })

	c.current.Store(&snapshot{entries: entries, refreshedAt: now})
	c.recordRefresh(len(entries), nil)
	c.log.WithField("timezones", len(entries)).Debug("tzcache: refreshed")
	return nil
}

// Matching returns every cached timezone whose local wall-clock time at
// nowUTC has the target hour and minute. An empty cache is refreshed
// synchronously first.
func (c *Cache) Matching(ctx context.Context, target domain.TimeOfDay, nowUTC time.Time) ([]Match, error) {
	snap := c.current.Load()
	if len(snap.entries) == 0 {
		if err := c.Refresh(ctx); err != nil {
			return nil, err
		}
		snap = c.current.Load()
	}

	nowUTC = nowUTC.UTC()
	var matches []Match
	for _, e := range snap.entries {
		local := nowUTC.In(time.FixedZone(e.Timezone, int(e.Offset/time.Second)))
		if target.Matches(local) {
			matches = append(matches, Match{
				Timezone:  e.Timezone,
				LocalTime: local.Truncate(time.Minute),
			})
		}
	}
	return matches, nil
}

// Entries returns a copy of the current snapshot.
func (c *Cache) Entries() []Entry {
	snap := c.current.Load()
	out := make([]Entry, len(snap.entries))
	copy(out, snap.entries)
	return out
}

// RefreshedAt is the time of the last successful refresh, zero if none.
func (c *Cache) RefreshedAt() time.Time {
	return c.current.Load().refreshedAt
}

// Run refreshes the cache every interval until ctx is cancelled. Offsets
// are captured at refresh time, so the interval bounds how late a DST
// change is noticed.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.log.WithError(err).Warn("tzcache: periodic refresh failed, keeping previous snapshot")
			}
		}
	}
}

func (c *Cache) recordRefresh(entries int, err error) {
	if c.metrics != nil {
		c.metrics.TimezoneRefresh(entries, err)
	}
}

// Offset resolves an IANA identifier to its UTC offset at the given instant.
func Offset(timezone string, at time.Time) (time.Duration, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return 0, fmt.Errorf("load location %s: %w", timezone, err)
	}
	_, seconds := at.In(loc).Zone()
	return time.Duration(seconds) * time.Second, nil
}
