package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// BucketConfig describes one cache partition. Buckets are created once
// at coordinator construction and keep this configuration for the
// process lifetime.
type BucketConfig struct {
	Name          string
	TTL           time.Duration
	MaxEntries    int
	EvictOnExpiry bool // expired entries removed by sweep, not only lazily on read
}

type entry struct {
	value      interface{}
	insertedAt time.Time
	ttl        time.Duration // 0 means bucket default
	elem       *list.Element // position in insertion order, value is the key
}

// Bucket is a single TTL-bounded key/value partition. Capacity is
// enforced with oldest-insertion-first eviction; a write never fails.
type Bucket struct {
	name          string
	defaultTTL    time.Duration
	maxEntries    int
	evictOnExpiry bool

	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // keys, oldest insertion at front
	hits    uint64
	misses  uint64

	now func() time.Time
}

func newBucket(cfg BucketConfig, now func() time.Time) *Bucket {
	return &Bucket{
		name:          cfg.Name,
		defaultTTL:    cfg.TTL,
		maxEntries:    cfg.MaxEntries,
		evictOnExpiry: cfg.EvictOnExpiry,
		entries:       make(map[string]*entry),
		order:         list.New(),
		now:           now,
	}
}

func (b *Bucket) expired(e *entry, at time.Time) bool {
	ttl := e.ttl
	if ttl == 0 {
		ttl = b.defaultTTL
	}
	if ttl <= 0 {
		return false
	}
	return !at.Before(e.insertedAt.Add(ttl))
}

// get returns the live value for key. Expired entries count as misses
// and are removed on the spot.
func (b *Bucket) get(key string) (interface{}, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		b.misses++
		return nil, false
	}
	if b.expired(e, b.now()) {
		b.removeLocked(key, e)
		b.misses++
		return nil, false
	}
	b.hits++
	return e.value, true
}

// set inserts or overwrites key. An overwrite counts as a fresh
// insertion for both expiry and eviction ordering. When the bucket is
// full and key is new, the oldest-inserted entry is evicted first.
func (b *Bucket) set(key string, value interface{}, ttl time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	at := b.now()
	if e, ok := b.entries[key]; ok {
		e.value = value
		e.insertedAt = at
		e.ttl = ttl
		b.order.MoveToBack(e.elem)
		return
	}

	if b.maxEntries > 0 && len(b.entries) >= b.maxEntries {
		b.evictOldestLocked()
	}

	e := &entry{value: value, insertedAt: at, ttl: ttl}
	e.elem = b.order.PushBack(key)
	b.entries[key] = e
}

func (b *Bucket) evictOldestLocked() {
	front := b.order.Front()
	if front == nil {
		return
	}
	key := front.Value.(string)
	if e, ok := b.entries[key]; ok {
		b.removeLocked(key, e)
	}
}

func (b *Bucket) removeLocked(key string, e *entry) {
	b.order.Remove(e.elem)
	delete(b.entries, key)
}

// delete removes key. Removing an absent key is a no-op.
func (b *Bucket) delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.entries[key]; ok {
		b.removeLocked(key, e)
	}
}

// deleteMatching removes every key containing substr. Plain substring
// match, no glob or regex semantics.
func (b *Bucket) deleteMatching(substr string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, e := range b.entries {
		if strings.Contains(key, substr) {
			b.removeLocked(key, e)
		}
	}
}

// flush drops every entry but keeps the hit/miss history.
func (b *Bucket) flush() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = make(map[string]*entry)
	b.order.Init()
}

// sweep removes expired entries. Buckets with EvictOnExpiry disabled
// rely on lazy removal during reads instead.
func (b *Bucket) sweep() {
	if !b.evictOnExpiry {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	at := b.now()
	for key, e := range b.entries {
		if b.expired(e, at) {
			b.removeLocked(key, e)
		}
	}
}

// stats reports the bucket counters without touching them.
func (b *Bucket) stats() BucketStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BucketStats{
		Count:  len(b.entries),
		Hits:   b.hits,
		Misses: b.misses,
	}
}
