package tzcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/djlord-it/pushcron/internal/domain"
	"github.com/djlord-it/pushcron/internal/logger"
)

type mockSource struct {
	mu    sync.Mutex
	zones []string
	err   error
	calls int
}

func (s *mockSource) GetUniqueTimezones(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.zones, nil
}

func (s *mockSource) set(zones []string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zones = zones
	s.err = err
}

func (s *mockSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fixed-offset zones avoid DST surprises in assertions.
const (
	tzPlus2  = "Etc/GMT-2" // UTC+2 (POSIX sign inversion)
	tzMinus5 = "Etc/GMT+5" // UTC-5
)

func newTestCache(src *mockSource) *Cache {
	c := New(src, logger.Discard())
	c.clock = func() time.Time { return time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestMatching_OffsetMatch(t *testing.T) {
	src := &mockSource{zones: []string{tzPlus2, tzMinus5, "UTC"}}
	c := newTestCache(src)

	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	matches, err := c.Matching(context.Background(), domain.TimeOfDay{Hour: 14, Minute: 0}, now)
	if err != nil {
		t.Fatalf("Matching: %v", err)
	}

	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d: %+v", len(matches), matches)
	}
	if matches[0].Timezone != tzPlus2 {
		t.Errorf("Timezone = %q, want %q", matches[0].Timezone, tzPlus2)
	}
	if matches[0].LocalTime.Hour() != 14 || matches[0].LocalTime.Minute() != 0 {
		t.Errorf("LocalTime = %s, want 14:00", matches[0].LocalTime)
	}
}

func TestMatching_NoMatchOtherMinute(t *testing.T) {
	src := &mockSource{zones: []string{tzPlus2}}
	c := newTestCache(src)

	now := time.Date(2024, 1, 15, 12, 1, 0, 0, time.UTC)
	matches, err := c.Matching(context.Background(), domain.TimeOfDay{Hour: 14, Minute: 0}, now)
	if err != nil {
		t.Fatalf("Matching: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected no matches at 14:01 local, got %+v", matches)
	}
}

func TestMatching_FractionalOffset(t *testing.T) {
	src := &mockSource{zones: []string{"Asia/Kathmandu", "Asia/Kolkata"}}
	c := newTestCache(src)

	// 03:15 UTC = 08:45 in Kolkata (+05:30) = 09:00 in Kathmandu (+05:45).
	now := time.Date(2024, 1, 15, 3, 15, 0, 0, time.UTC)
	matches, err := c.Matching(context.Background(), domain.TimeOfDay{Hour: 9, Minute: 0}, now)
	if err != nil {
		t.Fatalf("Matching: %v", err)
	}
	if len(matches) != 1 || matches[0].Timezone != "Asia/Kathmandu" {
		t.Fatalf("expected only Asia/Kathmandu, got %+v", matches)
	}

	for _, e := range c.Entries() {
		if e.Timezone == "Asia/Kolkata" && e.OffsetHours() != 5.5 {
			t.Errorf("Kolkata OffsetHours = %v, want 5.5", e.OffsetHours())
		}
	}
}

func TestMatching_EmptyCacheRefreshesOnce(t *testing.T) {
	src := &mockSource{zones: []string{tzPlus2}}
	c := newTestCache(src)

	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	target := domain.TimeOfDay{Hour: 14, Minute: 0}

	if _, err := c.Matching(context.Background(), target, now); err != nil {
		t.Fatalf("Matching: %v", err)
	}
	if _, err := c.Matching(context.Background(), target, now); err != nil {
		t.Fatalf("Matching: %v", err)
	}

	if got := src.callCount(); got != 1 {
		t.Errorf("expected 1 lazy refresh, got %d source calls", got)
	}
}

func TestMatching_EmptyCacheRefreshError(t *testing.T) {
	src := &mockSource{err: errors.New("directory down")}
	c := newTestCache(src)

	_, err := c.Matching(context.Background(), domain.TimeOfDay{Hour: 9}, time.Now())
	if err == nil {
		t.Fatal("expected error when lazy refresh fails")
	}
}

func TestRefresh_FailureKeepsPreviousSnapshot(t *testing.T) {
	src := &mockSource{zones: []string{tzPlus2, tzMinus5}}
	c := newTestCache(src)

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	refreshedAt := c.RefreshedAt()

	src.set(nil, errors.New("directory down"))
	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}

	if got := len(c.Entries()); got != 2 {
		t.Errorf("expected stale snapshot with 2 entries, got %d", got)
	}
	if !c.RefreshedAt().Equal(refreshedAt) {
		t.Error("RefreshedAt changed on failed refresh")
	}
}

func TestRefresh_SkipsUnknownAndDuplicateZones(t *testing.T) {
	src := &mockSource{zones: []string{"Mars/Olympus", tzPlus2, "", tzPlus2}}
	c := newTestCache(src)

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	entries := c.Entries()
	if len(entries) != 1 || entries[0].Timezone != tzPlus2 {
		t.Fatalf("expected only %s, got %+v", tzPlus2, entries)
	}
	if entries[0].Offset != 2*time.Hour {
		t.Errorf("Offset = %s, want 2h", entries[0].Offset)
	}
}

func TestRefresh_ConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	src := &mockSource{zones: []string{tzPlus2, tzMinus5}}
	c := newTestCache(src)
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				n := len(c.Entries())
				if n != 2 && n != 3 {
					t.Errorf("observed torn snapshot with %d entries", n)
					return
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			src.set([]string{tzPlus2, tzMinus5, "UTC"}, nil)
		} else {
			src.set([]string{tzPlus2, tzMinus5}, nil)
		}
		if err := c.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh: %v", err)
		}
	}
	close(stop)
	wg.Wait()
}

func TestOffset_Unknown(t *testing.T) {
	if _, err := Offset("Nowhere/Special", time.Now()); err == nil {
		t.Error("expected error for unknown timezone")
	}
}
