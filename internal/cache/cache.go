// Package cache keeps provider answers, positive and negative, for the whole
// lifetime of a run and persists them at checkpoints.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/UnknownOlympus/meridian/internal/models"
	"golang.org/x/text/unicode/norm"
)

// DefaultCheckpointEvery is the number of writes between two automatic flushes.
const DefaultCheckpointEvery = 10

// Status describes what the cache knows about a key.
type Status int

const (
	// Absent means the key was never resolved.
	Absent Status = iota
	// Positive means the key resolved to a validated result.
	Positive
	// Negative means the key was tried and produced no validated result.
	Negative
)

func (s Status) String() string {
	switch s {
	case Positive:
		return "positive"
	case Negative:
		return "negative"
	default:
		return "absent"
	}
}

// Key identifies a query sent to a provider.
type Key struct {
	Provider string
	Query    string
}

// NewKey builds a key with the query in NFKC form and trimmed.
func NewKey(provider, query string) Key {
	return Key{Provider: provider, Query: strings.TrimSpace(norm.NFKC.String(query))}
}

// String renders the persisted form "<provider>:<query>".
func (k Key) String() string {
	return k.Provider + ":" + k.Query
}

// Snapshot is what a Store receives on flush.
type Snapshot struct {
	// Entries holds every known key. A nil value is a negative entry.
	Entries map[string]*models.GeocodeResult
	// Dirty lists keys written since the previous successful flush.
	Dirty []string
}

// Store is the durable backend of the cache.
type Store interface {
	Load(ctx context.Context) (map[string]*models.GeocodeResult, error)
	Save(ctx context.Context, snap Snapshot) error
}

// Stats are counters collected since the cache was created.
type Stats struct {
	Hits         int64
	NegativeHits int64
	Misses       int64
	Writes       int64
	Flushes      int64
}

// ResultCache is a process wide map of resolved queries. Reads never touch
// the store; writes are flushed every checkpointEvery puts and on Flush.
type ResultCache struct {
	mu      sync.RWMutex
	entries map[string]*models.GeocodeResult
	// dirty maps a key to the write counter of its latest put.
	dirty  map[string]uint64
	writes uint64

	flushMu         sync.Mutex
	store           Store
	checkpointEvery int
	log             *slog.Logger

	hits, negHits, misses, totalWrites, flushes atomic.Int64
}

// New creates an empty cache. A nil store keeps the cache in memory only.
func New(store Store, checkpointEvery int, log *slog.Logger) *ResultCache {
	if checkpointEvery <= 0 {
		checkpointEvery = DefaultCheckpointEvery
	}
	return &ResultCache{
		entries:         make(map[string]*models.GeocodeResult),
		dirty:           make(map[string]uint64),
		store:           store,
		checkpointEvery: checkpointEvery,
		log:             log,
	}
}

// Load replaces the cache content with what the store holds. A store that
// cannot be read leaves the cache empty; the problem is logged, not returned.
func (c *ResultCache) Load(ctx context.Context) {
	if c.store == nil {
		return
	}

	loaded, err := c.store.Load(ctx)
	if err != nil {
		c.log.WarnContext(ctx, "Cache store could not be read, starting with an empty cache", "error", err)
		loaded = nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*models.GeocodeResult, len(loaded))
	for k, v := range loaded {
		c.entries[k] = v
	}
	c.dirty = make(map[string]uint64)
	c.writes = 0

	c.log.InfoContext(ctx, "Cache loaded", "entries", len(c.entries))
}

// Get looks a key up. The result is nil unless the status is Positive.
func (c *ResultCache) Get(key Key) (*models.GeocodeResult, Status) {
	c.mu.RLock()
	res, ok := c.entries[key.String()]
	c.mu.RUnlock()

	switch {
	case !ok:
		c.misses.Add(1)
		return nil, Absent
	case res == nil:
		c.negHits.Add(1)
		return nil, Negative
	default:
		c.hits.Add(1)
		return res, Positive
	}
}

// Put stores a result, or a negative entry when res is nil. Every
// checkpointEvery puts the cache is flushed and a flush error is returned.
func (c *ResultCache) Put(ctx context.Context, key Key, res *models.GeocodeResult) error {
	c.mu.Lock()
	k := key.String()
	c.entries[k] = res
	c.writes++
	c.dirty[k] = c.writes
	checkpoint := c.writes%uint64(c.checkpointEvery) == 0
	c.mu.Unlock()

	c.totalWrites.Add(1)

	if checkpoint {
		return c.Flush(ctx)
	}
	return nil
}

// Flush writes the cache to the store. Concurrent flushes are serialized.
func (c *ResultCache) Flush(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.RLock()
	snap := Snapshot{
		Entries: make(map[string]*models.GeocodeResult, len(c.entries)),
		Dirty:   make([]string, 0, len(c.dirty)),
	}
	for k, v := range c.entries {
		snap.Entries[k] = v
	}
	saved := make(map[string]uint64, len(c.dirty))
	for k, version := range c.dirty {
		snap.Dirty = append(snap.Dirty, k)
		saved[k] = version
	}
	c.mu.RUnlock()

	if len(snap.Dirty) == 0 {
		return nil
	}

	if err := c.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("failed to flush result cache: %w", err)
	}

	// A key put again while the store was saving stays dirty.
	c.mu.Lock()
	for k, version := range saved {
		if c.dirty[k] == version {
			delete(c.dirty, k)
		}
	}
	c.mu.Unlock()

	c.flushes.Add(1)
	c.log.DebugContext(ctx, "Cache flushed", "entries", len(snap.Entries), "dirty", len(snap.Dirty))

	return nil
}

// Len returns the number of entries, negative ones included.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a copy of the counters.
func (c *ResultCache) Stats() Stats {
	return Stats{
		Hits:         c.hits.Load(),
		NegativeHits: c.negHits.Load(),
		Misses:       c.misses.Load(),
		Writes:       c.totalWrites.Load(),
		Flushes:      c.flushes.Load(),
	}
}
