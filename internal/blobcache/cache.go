// Package blobcache holds fully assembled blob payloads keyed by blob id.
//
// Reads are concurrent; writers (fills and invalidations) are exclusive per
// stripe. Each stripe carries an epoch that every invalidation bumps, so a
// fill that started before a delete can detect it and drop its result.
package blobcache

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"chatvault/internal/models"
)

const (
	DefaultMaxEntries    = 256
	DefaultTTL           = 10 * time.Minute
	DefaultMaxEntryBytes = 32 << 20
	defaultStripes       = 64
)

// Config controls eviction.
type Config struct {
	// MaxEntries bounds the number of cached blobs; <= 0 means unbounded.
	MaxEntries int
	// TTL expires entries after insertion; <= 0 disables expiry.
	TTL time.Duration
	// MaxEntryBytes skips caching larger payloads; <= 0 caches everything.
	MaxEntryBytes int64
	Stripes       int
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		MaxEntries:    DefaultMaxEntries,
		TTL:           DefaultTTL,
		MaxEntryBytes: DefaultMaxEntryBytes,
		Stripes:       defaultStripes,
	}
}

// Entry is one cached blob.
type Entry struct {
	Blob models.Blob
	Data []byte
}

type stripe struct {
	mu    sync.RWMutex
	epoch uint64
}

// Cache is an LRU+TTL cache of assembled blobs with per-key write exclusion.
type Cache struct {
	lru           *expirable.LRU[string, Entry]
	stripes       []stripe
	maxEntryBytes int64
}

// New creates a cache.
func New(cfg Config) *Cache {
	if cfg.Stripes <= 0 {
		cfg.Stripes = defaultStripes
	}
	size := cfg.MaxEntries
	if size < 0 {
		size = 0
	}
	return &Cache{
		lru:           expirable.NewLRU[string, Entry](size, nil, cfg.TTL),
		stripes:       make([]stripe, cfg.Stripes),
		maxEntryBytes: cfg.MaxEntryBytes,
	}
}

func (c *Cache) stripeFor(id string) *stripe {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &c.stripes[h.Sum32()%uint32(len(c.stripes))]
}

// Get returns the cached entry for id.
func (c *Cache) Get(id string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	s := c.stripeFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return c.lru.Get(id)
}

// Epoch returns the current invalidation epoch for id's stripe. Callers read
// it before loading from storage and pass it to PutIfEpoch.
func (c *Cache) Epoch(id string) uint64 {
	if c == nil {
		return 0
	}
	s := c.stripeFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// PutIfEpoch stores entry unless the stripe was invalidated since epoch was
// read or the payload exceeds the per-entry limit. It reports whether the
// entry was stored.
func (c *Cache) PutIfEpoch(id string, entry Entry, epoch uint64) bool {
	if c == nil {
		return false
	}
	if c.maxEntryBytes > 0 && int64(len(entry.Data)) > c.maxEntryBytes {
		return false
	}
	s := c.stripeFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return false
	}
	c.lru.Add(id, entry)
	return true
}

// Invalidate drops id and bumps its stripe epoch.
func (c *Cache) Invalidate(id string) {
	if c == nil {
		return
	}
	s := c.stripeFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	c.invalidateLocked(s, id)
}

// LockForDelete takes id's exclusive lock, invalidates the entry and returns
// the unlock function. Readers of the same stripe wait until it is called.
func (c *Cache) LockForDelete(id string) func() {
	if c == nil {
		return func() {}
	}
	s := c.stripeFor(id)
	s.mu.Lock()
	c.invalidateLocked(s, id)
	return s.mu.Unlock
}

func (c *Cache) invalidateLocked(s *stripe, id string) {
	s.epoch++
	c.lru.Remove(id)
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

