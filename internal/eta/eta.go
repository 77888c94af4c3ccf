// Package eta estimates how long an agent needs to reach a pickup point.
package eta

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/pickup-dispatch/internal/geo"
)

// DefaultSpeedMps is roughly 29 km/h, a city average for two-wheelers.
const DefaultSpeedMps = 8.0

type Coord struct {
	Lat float64
	Lon float64
}

// Estimator returns travel time in seconds.
type Estimator interface {
	EstimateSeconds(ctx context.Context, from, to Coord) (float64, error)
}

// StraightLine divides haversine distance by a constant speed.
type StraightLine struct {
	SpeedMps float64
}

func (s StraightLine) EstimateSeconds(_ context.Context, from, to Coord) (float64, error) {
	return Seconds(geo.Haversine(from.Lat, from.Lon, to.Lat, to.Lon), s.SpeedMps), nil
}

// Seconds converts a distance to travel time at speedMps.
func Seconds(distanceMeters, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = DefaultSpeedMps
	}
	return distanceMeters / speedMps
}

// Cache is a small TTL cache for estimates keyed by rounded coordinates.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
	now   func() time.Time
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl, now: time.Now}
}

func keyFor(a, b Coord) string {
	return fmt.Sprintf("%.5f,%.5f->%.5f,%.5f", a.Lat, a.Lon, b.Lat, b.Lon)
}

// Get returns a cached value that has not expired.
func (c *Cache) Get(a, b Coord) (float64, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if c.now().Sub(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

func (c *Cache) Set(a, b Coord, v float64) {
	c.mu.Lock()
	c.store[keyFor(a, b)] = cacheEntry{v: v, ts: c.now()}
	c.mu.Unlock()
}

// WithFallback answers from primary through cache and falls back when
// primary fails.
type WithFallback struct {
	Primary  Estimator
	Fallback Estimator
	Cache    *Cache
}

func (w WithFallback) EstimateSeconds(ctx context.Context, from, to Coord) (float64, error) {
	if w.Cache != nil {
		if v, ok := w.Cache.Get(from, to); ok {
			return v, nil
		}
	}
	v, err := w.Primary.EstimateSeconds(ctx, from, to)
	if err != nil {
		if w.Fallback == nil {
			return 0, err
		}
		return w.Fallback.EstimateSeconds(ctx, from, to)
	}
	if w.Cache != nil {
		w.Cache.Set(from, to, v)
	}
	return v, nil
}
