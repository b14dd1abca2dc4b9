package services

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/airquality-harvester/internal/models"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(maxSize int) (*ObservationCache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)}
	return newObservationCache(30*time.Minute, maxSize, zap.NewNop(), clock.Now), clock
}

func TestCacheSetGet(t *testing.T) {
	cache, _ := newTestCache(10)
	entity := hourlyEntities(t, "28079004", 3)[0]

	cache.Set("28079004", entity)

	got, ok := cache.Get("28079004")
	if !ok {
		t.Fatal("Get() missed a fresh entry")
	}
	if diff := cmp.Diff(entity, got); diff != "" {
		t.Errorf("cached entity mismatch (-want +got):\n%s", diff)
	}

	// Stored and returned values are copies.
	entity.Readings["no2"] = 99
	got.Measurand[0] = "changed"
	again, _ := cache.Get("28079004")
	if _, ok := again.Readings["no2"]; ok || again.Measurand[0] == "changed" {
		t.Error("cache shares state with callers")
	}

	if _, ok := cache.Get("28079008"); ok {
		t.Error("Get() hit for a station never stored")
	}
}

func TestCacheExpiry(t *testing.T) {
	cache, clock := newTestCache(10)
	cache.Set("28079004", hourlyEntities(t, "28079004", 0)[0])

	clock.Advance(29 * time.Minute)
	if _, ok := cache.Get("28079004"); !ok {
		t.Fatal("entry expired early")
	}

	clock.Advance(2 * time.Minute)
	if got := cache.Stations(); len(got) != 0 {
		t.Errorf("Stations() = %v, want none after expiry", got)
	}
	if _, ok := cache.Get("28079004"); ok {
		t.Error("Get() returned an expired entry")
	}
	if n := cache.GetStats()["latest_items"]; n != 0 {
		t.Errorf("latest_items = %v, want 0", n)
	}
}

// storeOnExpiry re-stores an entry the first time the cache reads the clock
// after the stored entry has expired, between Get's read and its delete.
type storeOnExpiry struct {
	clock  *fakeClock
	cache  *ObservationCache
	key    string
	fresh  func() *models.Entity
	armed  bool
	stored bool
}

func (s *storeOnExpiry) Now() time.Time {
	if s.armed && !s.stored {
		s.stored = true
		s.cache.Set(s.key, s.fresh())
	}
	return s.clock.Now()
}

func TestCacheGetKeepsEntryStoredAfterExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)}
	hook := &storeOnExpiry{clock: clock, key: "28079004"}
	cache := newObservationCache(30*time.Minute, 10, zap.NewNop(), hook.Now)
	hook.cache = cache

	cache.Set("28079004", hourlyEntities(t, "28079004", 0)[0])
	fresh := hourlyEntities(t, "28079004", 1)[0]
	hook.fresh = func() *models.Entity { return fresh }

	clock.Advance(31 * time.Minute)
	hook.armed = true

	got, ok := cache.Get("28079004")
	if !hook.stored {
		t.Fatal("entry was not re-stored during Get")
	}
	if !ok {
		t.Fatal("Get() dropped an entry stored after the expired one")
	}
	if got.ID != fresh.ID {
		t.Errorf("Get() = %q, want %q", got.ID, fresh.ID)
	}
	if n := cache.GetStats()["latest_items"]; n != 1 {
		t.Errorf("latest_items = %v, want 1", n)
	}

	clock.Advance(31 * time.Minute)
	if _, ok := cache.Get("28079004"); ok {
		t.Error("Get() returned an expired entry")
	}
	if n := cache.GetStats()["latest_items"]; n != 0 {
		t.Errorf("latest_items = %v, want 0", n)
	}
}

func TestCacheCleanup(t *testing.T) {
	cache, clock := newTestCache(10)
	cache.Set("28079004", hourlyEntities(t, "28079004", 0)[0])
	clock.Advance(10 * time.Minute)
	cache.Set("28079008", hourlyEntities(t, "28079008", 0)[0])

	clock.Advance(25 * time.Minute)
	cache.cleanup()

	if diff := cmp.Diff([]string{"28079008"}, cache.Stations()); diff != "" {
		t.Errorf("Stations() mismatch (-want +got):\n%s", diff)
	}
}

func TestCacheEvictsOldest(t *testing.T) {
	cache, clock := newTestCache(2)
	cache.Set("28079004", hourlyEntities(t, "28079004", 0)[0])
	clock.Advance(time.Minute)
	cache.Set("28079008", hourlyEntities(t, "28079008", 0)[0])
	clock.Advance(time.Minute)

	// Overwriting an existing key never evicts.
	cache.Set("28079008", hourlyEntities(t, "28079008", 1)[0])
	if diff := cmp.Diff([]string{"28079004", "28079008"}, cache.Stations()); diff != "" {
		t.Errorf("Stations() after overwrite (-want +got):\n%s", diff)
	}

	cache.Set("28079099", hourlyEntities(t, "28079099", 0)[0])
	if diff := cmp.Diff([]string{"28079008", "28079099"}, cache.Stations()); diff != "" {
		t.Errorf("Stations() after eviction (-want +got):\n%s", diff)
	}
}

func TestCacheLookup(t *testing.T) {
	cache, _ := newTestCache(10)
	cache.Set("28079004", hourlyEntities(t, "28079004", 0)[0])

	tests := []struct {
		code string
		want bool
	}{
		{"28079004", true},
		{"004", true},
		{"04", false},
		{"008", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			e, ok := cache.Lookup(tt.code)
			if ok != tt.want {
				t.Fatalf("Lookup(%q) ok = %v, want %v", tt.code, ok, tt.want)
			}
			if ok && e.StationCode != "28079004" {
				t.Errorf("Lookup(%q) station = %s", tt.code, e.StationCode)
			}
		})
	}
}

func TestCacheStop(t *testing.T) {
	cache := NewObservationCache(time.Minute, 1, zap.NewNop())
	cache.Stop()
	cache.Stop()
}
