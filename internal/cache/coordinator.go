package cache

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"tether/internal/metrics"
)

// Default bucket set for the support platform. TTLs and capacities are
// tuned per domain: a session token stays valid for an hour, a ticket
// list is stale after two minutes.
func DefaultBuckets() []BucketConfig {
	return []BucketConfig{
		{Name: "messages", TTL: 60 * time.Second, MaxEntries: 1000, EvictOnExpiry: true},
		{Name: "contacts", TTL: 300 * time.Second, MaxEntries: 500, EvictOnExpiry: true},
		{Name: "tickets", TTL: 120 * time.Second, MaxEntries: 500, EvictOnExpiry: true},
		{Name: "configuration", TTL: 600 * time.Second, MaxEntries: 100, EvictOnExpiry: false},
		{Name: "sessions", TTL: 3600 * time.Second, MaxEntries: 2000, EvictOnExpiry: true},
	}
}

// BucketStats is a point-in-time snapshot of one bucket's counters.
type BucketStats struct {
	Count  int    `json:"count"`
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// lowHitRatioThreshold flags buckets whose configuration likely needs
// re-tuning. Advisory only, the coordinator never adjusts TTLs itself.
const lowHitRatioThreshold = 0.5

// Coordinator exposes unified operations over a fixed set of buckets.
// It is strictly an optimization layer: no operation returns an error,
// a broken or unknown bucket degrades to a permanent miss.
type Coordinator struct {
	buckets map[string]*Bucket
	group   singleflight.Group

	sweepInterval   time.Duration
	monitorInterval time.Duration
	now             func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Coordinator at construction.
type Option func(*Coordinator)

// WithClock replaces the wall clock, letting tests drive expiry
// deterministically.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithSweepInterval sets the janitor period for expired-entry removal.
func WithSweepInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		c.sweepInterval = d
	}
}

// WithMonitorInterval sets the period of the hit-ratio observer.
func WithMonitorInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		c.monitorInterval = d
	}
}

// NewCoordinator builds the bucket set. Bucket configuration is fixed
// for the process lifetime; duplicate or unnamed buckets are rejected
// here so runtime operations never have to fail.
func NewCoordinator(cfgs []BucketConfig, opts ...Option) (*Coordinator, error) {
	if len(cfgs) == 0 {
		return nil, ErrNoBuckets
	}

	c := &Coordinator{
		buckets:         make(map[string]*Bucket, len(cfgs)),
		sweepInterval:   10 * time.Second,
		monitorInterval: time.Minute,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, cfg := range cfgs {
		if cfg.Name == "" {
			return nil, ErrEmptyBucketName
		}
		if _, exists := c.buckets[cfg.Name]; exists {
			return nil, ErrDuplicateBucket
		}
		c.buckets[cfg.Name] = newBucket(cfg, c.now)
	}

	return c, nil
}

// Start launches the janitor and hit-ratio monitor. Both are owned
// goroutines stopped by Stop; nothing in the coordinator relies on
// free-running timers.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrAlreadyRunning
	}
	c.running = true

	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(2)
	go c.runJanitor(ctx)
	go c.runMonitor(ctx)

	return nil
}

// Stop halts the background tasks and waits for them to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	c.wg.Wait()
}

func (c *Coordinator) runJanitor(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) runMonitor(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, name := range c.LowHitBuckets() {
				log.Printf("Cache bucket below %d%% hit ratio, candidate for re-tuning: bucket=%s",
					int(lowHitRatioThreshold*100), name)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Sweep removes expired entries from every bucket. Exposed so tests
// can advance a virtual clock and sweep synchronously.
func (c *Coordinator) Sweep() {
	for _, b := range c.buckets {
		b.sweep()
	}
}

// Get returns the cached value, or absent on unknown bucket, missing
// key, or expiry. It never fails.
func (c *Coordinator) Get(bucket, key string) (value interface{}, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Cache get degraded to miss: bucket=%s key=%s panic=%v", bucket, key, r)
			value, ok = nil, false
		}
	}()

	b, exists := c.buckets[bucket]
	if !exists {
		return nil, false
	}

	value, ok = b.get(key)
	if ok {
		metrics.CacheHits.WithLabelValues(bucket).Inc()
	} else {
		metrics.CacheMisses.WithLabelValues(bucket).Inc()
	}
	return value, ok
}

// Set stores value under key. A zero ttl uses the bucket default. Sets
// into unknown buckets are dropped silently, keeping the cache purely
// advisory for callers.
func (c *Coordinator) Set(bucket, key string, value interface{}, ttl time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Cache set dropped: bucket=%s key=%s panic=%v", bucket, key, r)
		}
	}()

	if b, exists := c.buckets[bucket]; exists {
		b.set(key, value, ttl)
	}
}

// Delete removes key from bucket. No-op when either is unknown.
func (c *Coordinator) Delete(bucket, key string) {
	if b, exists := c.buckets[bucket]; exists {
		b.delete(key)
	}
}

// DeleteByPattern removes every key containing substr from the named
// buckets, or from all buckets when none are named. Used to invalidate
// all cached representations of an entity after a mutation, e.g.
// pattern "ticket:42" after a ticket update.
func (c *Coordinator) DeleteByPattern(buckets []string, substr string) {
	if substr == "" {
		return
	}

	if len(buckets) == 0 {
		for _, b := range c.buckets {
			b.deleteMatching(substr)
		}
		return
	}

	for _, name := range buckets {
		if b, exists := c.buckets[name]; exists {
			b.deleteMatching(substr)
		}
	}
}

// FlushAll clears every bucket. Maintenance paths only.
func (c *Coordinator) FlushAll() {
	for _, b := range c.buckets {
		b.flush()
	}
	log.Printf("Cache flushed: buckets=%d", len(c.buckets))
}

// GetOrLoad returns the cached value or runs load on a miss, storing
// the result. Concurrent misses for the same bucket/key collapse into a
// single load call. A load failure caches nothing and surfaces the
// loader's error unchanged.
func (c *Coordinator) GetOrLoad(bucket, key string, ttl time.Duration, load func() (interface{}, error)) (interface{}, error) {
	if v, ok := c.Get(bucket, key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(bucket+"\x00"+key, func() (interface{}, error) {
		if v, ok := c.Get(bucket, key); ok {
			return v, nil
		}
		v, err := load()
		if err != nil {
			return nil, err
		}
		c.Set(bucket, key, v, ttl)
		return v, nil
	})
	return v, err
}

// Stats snapshots every bucket's counters. Reading stats never touches
// the hit/miss counters themselves.
func (c *Coordinator) Stats() map[string]BucketStats {
	out := make(map[string]BucketStats, len(c.buckets))
	for name, b := range c.buckets {
		out[name] = b.stats()
	}
	return out
}

// LowHitBuckets returns buckets whose hit ratio has fallen under the
// advisory threshold. Buckets with no traffic yet are skipped.
func (c *Coordinator) LowHitBuckets() []string {
	var low []string
	for name, b := range c.buckets {
		s := b.stats()
		total := s.Hits + s.Misses
		if total == 0 {
			continue
		}
		if float64(s.Hits)/float64(total) < lowHitRatioThreshold {
			low = append(low, name)
		}
	}
	return low
}
