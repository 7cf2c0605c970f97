// README: TTL cache in front of the ETA provider with lazy eviction and a background sweeper.
package eta

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"schoolrun/internal/apperr"
	"schoolrun/internal/metrics"
	"schoolrun/internal/types"
)

const (
	DefaultTTL     = 5 * time.Minute
	DefaultTimeout = 5 * time.Second
)

type Options struct {
	TTL     time.Duration
	Timeout time.Duration
	Metrics *metrics.Collector
	// Now overrides the clock in tests.
	Now func() time.Time
}

type entry struct {
	est      Estimate
	storedAt time.Time
}

// Cache is safe for concurrent use. Concurrent misses on one key share a single provider call.
type Cache struct {
	provider Provider
	ttl      time.Duration
	timeout  time.Duration
	now      func() time.Time
	metrics  *metrics.Collector

	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
}

func NewCache(provider Provider, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		provider: provider,
		ttl:      opts.TTL,
		timeout:  opts.Timeout,
		now:      opts.Now,
		metrics:  opts.Metrics,
		entries:  make(map[string]entry),
	}
}

func keyFor(origin, destination types.Point) string {
	return origin.String() + "->" + destination.String()
}

// GetETA returns the cached estimate for the pair when it is younger than the TTL,
// otherwise asks the provider. Provider failures surface as apperr.ErrETAUnavailable.
func (c *Cache) GetETA(ctx context.Context, origin, destination types.Point) (Estimate, error) {
	key := keyFor(origin, destination)
	if est, ok := c.lookup(key); ok {
		c.metrics.ETALookup("hit")
		return est, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if est, ok := c.lookup(key); ok {
			return est, nil
		}
		// Shared by every waiter on key, so the first caller's cancellation must not fail the rest.
		return c.fetch(context.WithoutCancel(ctx), key, origin, destination)
	})
	if err != nil {
		c.metrics.ETALookup("error")
		return Estimate{}, err
	}
	c.metrics.ETALookup("miss")
	return v.(Estimate), nil
}

func (c *Cache) lookup(key string) (Estimate, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Estimate{}, false
	}
	if c.now().Sub(e.storedAt) >= c.ttl {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur.storedAt.Equal(e.storedAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return Estimate{}, false
	}
	return e.est, true
}

func (c *Cache) fetch(ctx context.Context, key string, origin, destination types.Point) (Estimate, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	est, err := c.provider.Compute(callCtx, origin, destination)
	c.metrics.ETAObserve(time.Since(start))
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"origin":      origin.String(),
			"destination": destination.String(),
		}).WithError(err).Warn("eta provider failed")
		return Estimate{}, fmt.Errorf("%w: %s: %v", apperr.ErrETAUnavailable, key, err)
	}

	logrus.WithFields(logrus.Fields{
		"key":        key,
		"distance_m": est.DistanceMeters,
		"duration":   est.Duration().String(),
	}).Debug("eta fetched")

	c.mu.Lock()
	c.entries[key] = entry{est: est, storedAt: c.now()}
	c.mu.Unlock()
	return est, nil
}

// Sweep removes entries older than the TTL and returns how many were dropped.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	c.metrics.ETACacheEntries(size, removed)
	return removed
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Run sweeps on a ticker equal to the TTL until ctx is done.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				logrus.WithField("evicted", n).Debug("eta cache sweep")
			}
		}
	}
}
