package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/wallet-sync/internal/errors"
	"github.com/wallet-sync/internal/logging"
)

// ErrMiss is returned by Peek when no entry exists
var ErrMiss = errors.New("cache: miss")

// Backend stores encoded entries
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, tags []string, ttl time.Duration) error
	InvalidateTags(ctx context.Context, tags ...string) (int, error)
	Close() error
}

// FetchFunc performs the real backend read on a miss
type FetchFunc func(ctx context.Context) (interface{}, error)

// Stats reports cache effectiveness
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Discarded int64 `json:"discarded"`
	Stale     int64 `json:"stale"`
	Inflight  int   `json:"inflight"`
}

// entry is the stored form: the value plus the generation of each tag when
// it was stored. An entry whose tags were invalidated since is never served,
// even when the backend failed to delete it.
type entry struct {
	Tags []string        `json:"t,omitempty"`
	Gens []uint64        `json:"g,omitempty"`
	Data json.RawMessage `json:"d"`
}

// inflightCall is a fetch shared by concurrent readers of one key
type inflightCall struct {
	tags []string
	done chan struct{}
	data []byte
	err  error
}

// Cache is a read-through cache with tag invalidation. A miss always runs
// the real fetch. A fetch that started before an invalidation of one of its
// tags is returned to its callers but never stored.
type Cache struct {
	backend Backend
	ttl     time.Duration
	logger  *logging.Logger

	// genMu orders stores against invalidations
	genMu sync.RWMutex
	gens  map[string]uint64

	inflightMu sync.Mutex
	inflight   map[string]*inflightCall

	hits      atomic.Int64
	misses    atomic.Int64
	discarded atomic.Int64
	stale     atomic.Int64
}

// New creates a cache over backend
func New(backend Backend, ttl time.Duration, logger *logging.Logger) *Cache {
	return &Cache{
		backend:  backend,
		ttl:      ttl,
		logger:   logger.WithComponent("cache"),
		gens:     make(map[string]uint64),
		inflight: make(map[string]*inflightCall),
	}
}

// Get decodes the entry for key into dest, running fetch on a miss.
// It reports whether the value came from the cache.
func (c *Cache) Get(ctx context.Context, key Key, tags []string, fetch FetchFunc, dest interface{}) (bool, error) {
	k, err := key.String()
	if err != nil {
		return false, apperrors.NewCacheError("key", err)
	}

	data, found, err := c.backend.Get(ctx, k)
	if err != nil {
		// the cache is only a short-circuit; fall through to a real fetch
		c.logger.WithField("key", k).WithError(err).Warn("cache read failed")
	}
	if found {
		if ok := c.decodeEntry(k, data, dest); ok {
			c.hits.Add(1)
			return true, nil
		}
	}
	c.misses.Add(1)

	call, leader := c.join(k, tags)
	if leader {
		c.lead(ctx, k, tags, call, fetch)
	}

	select {
	case <-call.done:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	if call.err != nil {
		return false, call.err
	}
	if err := json.Unmarshal(call.data, dest); err != nil {
		return false, apperrors.NewCacheError("decode", err)
	}
	return false, nil
}

// Peek decodes a cached entry without fetching; ErrMiss when absent
func (c *Cache) Peek(ctx context.Context, key Key, dest interface{}) error {
	k, err := key.String()
	if err != nil {
		return apperrors.NewCacheError("key", err)
	}
	data, found, err := c.backend.Get(ctx, k)
	if err != nil {
		return apperrors.NewCacheError("get", err)
	}
	if !found || !c.decodeEntry(k, data, dest) {
		return ErrMiss
	}
	return nil
}

// decodeEntry decodes a stored entry into dest when it is still current
func (c *Cache) decodeEntry(k string, data []byte, dest interface{}) bool {
	var e entry
	if err := json.Unmarshal(data, &e); err != nil || len(e.Tags) != len(e.Gens) {
		c.logger.WithField("key", k).Warn("discarding undecodable cache entry")
		return false
	}
	c.genMu.RLock()
	current := c.sameGenerations(e.Tags, e.Gens)
	c.genMu.RUnlock()
	if !current {
		c.stale.Add(1)
		c.logger.WithField("key", k).Debug("ignoring entry stored before an invalidation")
		return false
	}
	if err := json.Unmarshal(e.Data, dest); err != nil {
		c.logger.WithField("key", k).Warn("discarding undecodable cache entry")
		return false
	}
	return true
}

func (c *Cache) join(k string, tags []string) (*inflightCall, bool) {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()

	if call, ok := c.inflight[k]; ok {
		return call, false
	}
	call := &inflightCall{tags: tags, done: make(chan struct{})}
	c.inflight[k] = call
	return call, true
}

func (c *Cache) lead(ctx context.Context, k string, tags []string, call *inflightCall, fetch FetchFunc) {
	defer func() {
		c.inflightMu.Lock()
		if c.inflight[k] == call {
			delete(c.inflight, k)
		}
		c.inflightMu.Unlock()
		close(call.done)
	}()

	before := c.generations(tags)

	value, err := fetch(ctx)
	if err != nil {
		call.err = err
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		call.err = apperrors.NewCacheError("encode", err)
		return
	}
	call.data = data

	c.genMu.RLock()
	defer c.genMu.RUnlock()
	if !c.sameGenerations(tags, before) {
		c.discarded.Add(1)
		c.logger.WithField("key", k).Debug("fetch raced an invalidation; not stored")
		return
	}
	stored, err := json.Marshal(entry{Tags: tags, Gens: before, Data: data})
	if err != nil {
		c.logger.WithField("key", k).WithError(err).Warn("failed to encode cache entry")
		return
	}
	if err := c.backend.Set(ctx, k, stored, tags, c.ttl); err != nil {
		c.logger.WithField("key", k).WithError(err).Warn("failed to cache result")
	}
}

func (c *Cache) generations(tags []string) []uint64 {
	c.genMu.RLock()
	defer c.genMu.RUnlock()
	out := make([]uint64, len(tags))
	for i, tag := range tags {
		out[i] = c.gens[tag]
	}
	return out
}

// sameGenerations must be called with genMu held
func (c *Cache) sameGenerations(tags []string, before []uint64) bool {
	for i, tag := range tags {
		if c.gens[tag] != before[i] {
			return false
		}
	}
	return true
}

// Invalidate evicts every entry carrying any of tags. In-flight fetches for
// those tags are detached so later readers start a fresh fetch. Entries the
// backend fails to delete are still never served again.
func (c *Cache) Invalidate(ctx context.Context, tags ...string) error {
	if len(tags) == 0 {
		return nil
	}

	c.genMu.Lock()
	defer c.genMu.Unlock()

	for _, tag := range tags {
		c.gens[tag]++
	}

	c.inflightMu.Lock()
	for k, call := range c.inflight {
		if intersects(call.tags, tags) {
			delete(c.inflight, k)
		}
	}
	c.inflightMu.Unlock()

	removed, err := c.backend.InvalidateTags(ctx, tags...)
	if err != nil {
		return apperrors.NewCacheError("invalidate", err)
	}
	c.logger.WithFields(map[string]interface{}{
		"tags":    tags,
		"removed": removed,
	}).Debug("cache invalidated")
	return nil
}

// Stats returns hit/miss counters
func (c *Cache) Stats() Stats {
	c.inflightMu.Lock()
	inflight := len(c.inflight)
	c.inflightMu.Unlock()
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Discarded: c.discarded.Load(),
		Stale:     c.stale.Load(),
		Inflight:  inflight,
	}
}

// Close closes the backend
func (c *Cache) Close() error {
	return c.backend.Close()
}

// Load is a typed wrapper over Get. Fetch errors are returned unwrapped.
func Load[T any](ctx context.Context, c *Cache, key Key, tags []string, fetch func(ctx context.Context) (T, error)) (T, bool, error) {
	var out T
	cached, err := c.Get(ctx, key, tags, func(ctx context.Context) (interface{}, error) {
		return fetch(ctx)
	}, &out)
	if err != nil {
		var zero T
		return zero, false, err
	}
	return out, cached, nil
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
