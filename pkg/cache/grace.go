package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"BTProxy/pkg/logger"
)

// GraceCache is a keyed cache with a TTL/grace freshness model and at most
// one in-flight computation per key. The entry table is guarded by a coarse
// mutex; each entry carries its own mutex for value and in-flight state.
// Every write goes through to a Store so other replicas and restarts see it.
type GraceCache[V any] struct {
	store Store
	cfg   Config
	log   *logger.Logger

	mu      sync.Mutex
	entries map[string]*entry[V]

	hits        atomic.Int64
	stale       atomic.Int64
	misses      atomic.Int64
	storeErrors atomic.Int64
	inflight    atomic.Int64

	stop      chan struct{}
	closeOnce sync.Once
}

type entry[V any] struct {
	mu sync.Mutex

	key        string
	value      V
	has        bool
	createdAt  time.Time
	ttl        time.Duration
	grace      time.Duration
	lastAccess time.Time
	hits       int64
	size       int
	labels     map[string]string
	flight     *Flight[V]

	// removed is set once the entry left the table; holders must re-resolve.
	removed bool
}

type envelope[V any] struct {
	Value     V                 `json:"value"`
	CreatedAt time.Time         `json:"created_at"`
	TTLMs     int64             `json:"ttl_ms"`
	GraceMs   int64             `json:"grace_ms"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// EntryInfo is the metadata of one entry, as seen by ops tooling.
type EntryInfo struct {
	Key        string            `json:"key"`
	CreatedAt  time.Time         `json:"created_at"`
	TTL        time.Duration     `json:"ttl"`
	Grace      time.Duration     `json:"grace"`
	LastAccess time.Time         `json:"last_access"`
	Hits       int64             `json:"hits"`
	Size       int               `json:"size"`
	Labels     map[string]string `json:"labels,omitempty"`
	InFlight   bool              `json:"inflight"`
	Freshness  Freshness         `json:"-"`
}

// Remaining is the time left before the entry turns stale; negative once stale.
func (i EntryInfo) Remaining(now time.Time) time.Duration {
	return i.CreatedAt.Add(i.TTL).Sub(now)
}

// SetOption customizes a single write.
type SetOption func(*setOptions)

type setOptions struct {
	ttl    time.Duration
	labels map[string]string
}

// WithEntryTTL overrides the cache TTL for one write.
func WithEntryTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) {
		o.ttl = ttl
	}
}

// WithLabels attaches labels to the entry; they survive in-place updates.
func WithLabels(labels map[string]string) SetOption {
	return func(o *setOptions) {
		o.labels = labels
	}
}

// New creates a grace cache over store.
func New[V any](store Store, opts ...Option) *GraceCache[V] {
	cfg := Config{
		TTL:             90 * time.Second,
		Grace:           30 * time.Second,
		MaxEntries:      10000,
		CleanupInterval: time.Minute,
		Now:             time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &GraceCache[V]{
		store:   store,
		cfg:     cfg,
		log:     cfg.Logger.Named("grace_cache"),
		entries: make(map[string]*entry[V]),
		stop:    make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go c.cleanupLoop(cfg.CleanupInterval)
	}
	return c
}

// Backend names the underlying store.
func (c *GraceCache[V]) Backend() string {
	return c.store.Name()
}

// TTL returns the default time-to-live.
func (c *GraceCache[V]) TTL() time.Duration {
	return c.cfg.TTL
}

// Get returns a servable (fresh or stale) value.
func (c *GraceCache[V]) Get(ctx context.Context, key string) (V, bool) {
	v, f := c.Lookup(ctx, key)
	return v, f != Missing
}

// Lookup returns the value with its freshness. Missing carries the zero value.
func (c *GraceCache[V]) Lookup(ctx context.Context, key string) (V, Freshness) {
	e := c.lockLive(key, true)
	defer e.mu.Unlock()

	now := c.cfg.Now()
	f := c.resolve(ctx, e, now)
	c.count(f)
	if f == Missing {
		c.dropIfEmpty(e)
		var zero V
		return zero, Missing
	}
	e.touch(now)
	return e.value, f
}

// Acquire consults freshness and the in-flight marker in one critical
// section. A fresh value is returned with no flight. Otherwise the caller
// either joins the running flight (leader=false) or becomes its leader and
// must call Finish. A stale value, if any, is returned alongside the flight.
func (c *GraceCache[V]) Acquire(ctx context.Context, key string) (V, Freshness, *Flight[V], bool) {
	e := c.lockLive(key, true)
	defer e.mu.Unlock()

	now := c.cfg.Now()
	f := c.resolve(ctx, e, now)
	c.count(f)

	var val V
	if f != Missing {
		e.touch(now)
		val = e.value
	}
	if f == Fresh {
		return val, f, nil, false
	}
	if e.flight != nil {
		return val, f, e.flight, false
	}
	e.flight = newFlight[V]()
	c.inflight.Add(1)
	return val, f, e.flight, true
}

// Finish completes a flight started by Acquire. On success the value is
// stored and the marker cleared under the entry lock, then waiters are
// released. On failure the previous value, if any, is kept.
func (c *GraceCache[V]) Finish(ctx context.Context, key string, fl *Flight[V], v V, err error, opts ...SetOption) {
	e := c.lockLive(key, true)
	if e.flight == fl {
		e.flight = nil
	}
	c.inflight.Add(-1)
	if err == nil {
		so := c.setOptions(opts)
		_ = c.setLocked(ctx, e, v, so.ttl, so.labels, c.cfg.Now())
	}
	c.dropIfEmpty(e)
	e.mu.Unlock()

	fl.resolve(v, err)
}

// Set stores v locally and writes it through. A store failure is returned
// but the local value is already in place.
func (c *GraceCache[V]) Set(ctx context.Context, key string, v V, opts ...SetOption) error {
	e := c.lockLive(key, true)
	defer e.mu.Unlock()

	so := c.setOptions(opts)
	return c.setLocked(ctx, e, v, so.ttl, so.labels, c.cfg.Now())
}

// Update rewrites a servable entry in place under its lock. fn returns the
// new value, a TTL (<= 0 keeps the current one) and whether to write.
// The entry's creation time is reset, so the new TTL counts from now.
func (c *GraceCache[V]) Update(ctx context.Context, key string, fn func(V, EntryInfo) (V, time.Duration, bool)) (bool, error) {
	e := c.lockLive(key, true)
	defer e.mu.Unlock()

	now := c.cfg.Now()
	f := c.resolve(ctx, e, now)
	if f == Missing {
		c.dropIfEmpty(e)
		return false, nil
	}
	nv, ttl, ok := fn(e.value, e.info(f))
	if !ok {
		return false, nil
	}
	if ttl <= 0 {
		ttl = e.ttl
	}
	return true, c.setLocked(ctx, e, nv, ttl, nil, now)
}

// Peek reads an entry without touching access time or counters and without
// adding it to the local table.
func (c *GraceCache[V]) Peek(ctx context.Context, key string) (V, EntryInfo, bool) {
	var zero V
	now := c.cfg.Now()

	if e := c.lockLive(key, false); e != nil {
		defer e.mu.Unlock()
		f := c.resolve(ctx, e, now)
		if f == Missing {
			return zero, EntryInfo{}, false
		}
		return e.value, e.info(f), true
	}

	probe := &entry[V]{key: key}
	c.loadFromStore(ctx, probe)
	f := probe.freshness(now)
	if f == Missing {
		return zero, EntryInfo{}, false
	}
	return probe.value, probe.info(f), true
}

// Delete removes key locally and from the store and reports whether a
// servable entry existed in either. An entry with a running flight keeps
// its slot with the value cleared, so later callers still join that flight.
func (c *GraceCache[V]) Delete(ctx context.Context, key string) bool {
	existed := false
	if e := c.lockLive(key, false); e != nil {
		defer e.mu.Unlock()
		existed = e.has && e.freshness(c.cfg.Now()) != Missing
		if e.flight != nil {
			e.clear()
		} else {
			c.remove(e)
		}
	}

	n, err := c.store.Delete(ctx, key)
	if err != nil {
		c.storeFailed("delete", key, err)
		return existed
	}
	return existed || n > 0
}

// Keys lists keys matching a glob pattern, at most limit (<= 0 means all).
// The store is authoritative; when it fails the local table is listed.
func (c *GraceCache[V]) Keys(ctx context.Context, pattern string, limit int) []string {
	keys, err := c.store.Keys(ctx, pattern, limit)
	if err == nil {
		return keys
	}
	c.storeFailed("keys", pattern, err)

	c.mu.Lock()
	keys = make([]string, 0, len(c.entries))
	for k := range c.entries {
		if MatchPattern(pattern, k) {
			keys = append(keys, k)
		}
	}
	c.mu.Unlock()

	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys
}

// Clear drops every value locally and in the store. Entries with a running
// flight, or busy at the time, keep their slot with the value cleared.
func (c *GraceCache[V]) Clear(ctx context.Context) {
	c.mu.Lock()
	kept := make(map[string]*entry[V])
	for k, e := range c.entries {
		if e.mu.TryLock() {
			idle := e.flight == nil
			if idle {
				e.removed = true
			}
			e.mu.Unlock()
			if idle {
				continue
			}
		}
		kept[k] = e
	}
	c.entries = kept
	c.mu.Unlock()

	for _, e := range kept {
		e.mu.Lock()
		if !e.removed {
			e.clear()
			c.dropIfEmpty(e)
		}
		e.mu.Unlock()
	}

	if err := c.store.Clear(ctx); err != nil {
		c.storeFailed("clear", "*", err)
	}
}

// Stats returns a snapshot of counters.
func (c *GraceCache[V]) Stats() Stats {
	return Stats{
		Hits:        c.hits.Load(),
		Stale:       c.stale.Load(),
		Misses:      c.misses.Load(),
		StoreErrors: c.storeErrors.Load(),
		Entries:     c.Len(),
		InFlight:    int(c.inflight.Load()),
	}
}

// Len is the size of the local entry table.
func (c *GraceCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep drops hard-expired entries that have no running flight and returns
// how many were removed. Busy entries are skipped.
func (c *GraceCache[V]) Sweep() int {
	c.mu.Lock()
	snapshot := make([]*entry[V], 0, len(c.entries))
	for _, e := range c.entries {
		snapshot = append(snapshot, e)
	}
	c.mu.Unlock()

	now := c.cfg.Now()
	removed := 0
	for _, e := range snapshot {
		if !e.mu.TryLock() {
			continue
		}
		if !e.removed && e.flight == nil && e.freshness(now) == Missing {
			c.remove(e)
			removed++
		}
		e.mu.Unlock()
	}
	return removed
}

// Close stops the sweeper. The store is owned by the caller.
func (c *GraceCache[V]) Close() error {
	c.closeOnce.Do(func() { close(c.stop) })
	return nil
}

func (c *GraceCache[V]) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.log.Debug("swept expired entries", logger.Int("count", n))
			}
		case <-c.stop:
			return
		}
	}
}

// lockLive returns the entry for key with its lock held, creating it when
// create is set. It returns nil only when create is false and key is absent.
func (c *GraceCache[V]) lockLive(key string, create bool) *entry[V] {
	for {
		c.mu.Lock()
		e, ok := c.entries[key]
		if !ok {
			if !create {
				c.mu.Unlock()
				return nil
			}
			c.evictLocked()
			e = &entry[V]{key: key}
			c.entries[key] = e
		}
		c.mu.Unlock()

		e.mu.Lock()
		if !e.removed {
			return e
		}
		e.mu.Unlock()
	}
}

// evictLocked makes room for one entry by dropping the least recently used
// idle entry. Caller holds c.mu.
func (c *GraceCache[V]) evictLocked() {
	if c.cfg.MaxEntries <= 0 || len(c.entries) < c.cfg.MaxEntries {
		return
	}
	var victim *entry[V]
	for _, e := range c.entries {
		if !e.mu.TryLock() {
			continue
		}
		if e.flight == nil && (victim == nil || e.lastAccess.Before(victim.lastAccess)) {
			victim = e
		}
		e.mu.Unlock()
	}
	if victim == nil || !victim.mu.TryLock() {
		return
	}
	if victim.flight == nil {
		victim.removed = true
		delete(c.entries, victim.key)
	}
	victim.mu.Unlock()
}

// resolve refreshes e from the store when the local copy is not fresh and
// classifies it. Hard-expired values are cleared. Caller holds e.mu.
func (c *GraceCache[V]) resolve(ctx context.Context, e *entry[V], now time.Time) Freshness {
	f := e.freshness(now)
	if f == Fresh {
		return f
	}
	c.loadFromStore(ctx, e)
	f = e.freshness(now)
	if f == Missing && e.has {
		e.clear()
	}
	return f
}

// loadFromStore adopts the stored envelope when it is newer than the local
// value. Store failures count as a miss.
func (c *GraceCache[V]) loadFromStore(ctx context.Context, e *entry[V]) {
	raw, err := c.store.Get(ctx, e.key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.storeFailed("get", e.key, err)
		}
		return
	}
	var env envelope[V]
	if err := json.Unmarshal(raw, &env); err != nil {
		c.storeFailed("decode", e.key, err)
		return
	}
	if e.has && !env.CreatedAt.After(e.createdAt) {
		return
	}
	e.value = env.Value
	e.has = true
	e.createdAt = env.CreatedAt
	e.ttl = time.Duration(env.TTLMs) * time.Millisecond
	e.grace = time.Duration(env.GraceMs) * time.Millisecond
	e.labels = env.Labels
	e.size = len(raw)
}

func (c *GraceCache[V]) setLocked(ctx context.Context, e *entry[V], v V, ttl time.Duration, labels map[string]string, now time.Time) error {
	if ttl <= 0 {
		ttl = c.cfg.TTL
	}
	e.value = v
	e.has = true
	e.createdAt = now
	e.ttl = ttl
	e.grace = c.cfg.Grace
	e.lastAccess = now
	if labels != nil {
		e.labels = labels
	}

	raw, err := json.Marshal(envelope[V]{
		Value:     v,
		CreatedAt: now,
		TTLMs:     ttl.Milliseconds(),
		GraceMs:   e.grace.Milliseconds(),
		Labels:    e.labels,
	})
	if err != nil {
		return fmt.Errorf("encode entry %s: %w", e.key, err)
	}
	e.size = len(raw)

	if err := c.store.Set(ctx, e.key, raw, e.ttl+e.grace); err != nil {
		c.storeFailed("set", e.key, err)
		return fmt.Errorf("store set %s: %w", e.key, err)
	}
	return nil
}

func (c *GraceCache[V]) setOptions(opts []SetOption) setOptions {
	so := setOptions{ttl: c.cfg.TTL}
	for _, opt := range opts {
		opt(&so)
	}
	return so
}

// dropIfEmpty removes an entry that holds neither a value nor a flight.
// Caller holds e.mu.
func (c *GraceCache[V]) dropIfEmpty(e *entry[V]) {
	if !e.has && e.flight == nil {
		c.remove(e)
	}
}

// remove takes e out of the table. Caller holds e.mu.
func (c *GraceCache[V]) remove(e *entry[V]) {
	e.removed = true
	c.mu.Lock()
	if c.entries[e.key] == e {
		delete(c.entries, e.key)
	}
	c.mu.Unlock()
}

func (c *GraceCache[V]) count(f Freshness) {
	switch f {
	case Fresh:
		c.hits.Add(1)
	case Stale:
		c.stale.Add(1)
	default:
		c.misses.Add(1)
	}
}

func (c *GraceCache[V]) storeFailed(op, key string, err error) {
	c.storeErrors.Add(1)
	c.log.Warn("cache store failure, treating as miss",
		logger.String("op", op),
		logger.String("key", key),
		logger.String("backend", c.store.Name()),
		logger.Error(err),
	)
	if c.cfg.OnStoreError != nil {
		c.cfg.OnStoreError(op)
	}
}

func (e *entry[V]) freshness(now time.Time) Freshness {
	if !e.has {
		return Missing
	}
	return Classify(e.createdAt, now, e.ttl, e.grace)
}

// clear drops the value but keeps access stats and any flight.
func (e *entry[V]) clear() {
	var zero V
	e.value = zero
	e.has = false
	e.labels = nil
	e.size = 0
}

func (e *entry[V]) touch(now time.Time) {
	e.lastAccess = now
	e.hits++
}

func (e *entry[V]) info(f Freshness) EntryInfo {
	return EntryInfo{
		Key:        e.key,
		CreatedAt:  e.createdAt,
		TTL:        e.ttl,
		Grace:      e.grace,
		LastAccess: e.lastAccess,
		Hits:       e.hits,
		Size:       e.size,
		Labels:     e.labels,
		InFlight:   e.flight != nil,
		Freshness:  f,
	}
}
