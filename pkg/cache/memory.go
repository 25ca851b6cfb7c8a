package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryItem struct {
	value    []byte
	expireAt time.Time // zero means no expiry
	access   time.Time
}

func (m *memoryItem) expired(now time.Time) bool {
	return !m.expireAt.IsZero() && !now.Before(m.expireAt)
}

// MemoryStore implements Store in process with LRU eviction.
type MemoryStore struct {
	mutex   sync.RWMutex
	data    map[string]*memoryItem
	maxSize int
	now     func() time.Time
	stop    chan struct{}
	closed  sync.Once
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	cfg := &MemoryConfig{
		MaxSize:         10000,
		CleanupInterval: 5 * time.Minute,
		Now:             time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	ms := &MemoryStore{
		data:    make(map[string]*memoryItem),
		maxSize: cfg.MaxSize,
		now:     cfg.Now,
		stop:    make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go ms.cleanupExpired(cfg.CleanupInterval)
	}
	return ms
}

func (ms *MemoryStore) Name() string { return "memory" }

func (ms *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	now := ms.now()
	item, ok := ms.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if item.expired(now) {
		delete(ms.data, key)
		return nil, ErrCacheMiss
	}
	item.access = now
	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, nil
}

func (ms *MemoryStore) Set(_ context.Context, key string, value []byte, expiration time.Duration) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	now := ms.now()
	if _, exists := ms.data[key]; !exists && ms.maxSize > 0 && len(ms.data) >= ms.maxSize {
		ms.evictLRU()
	}

	var expireAt time.Time
	if expiration > 0 {
		expireAt = now.Add(expiration)
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	ms.data[key] = &memoryItem{value: buf, expireAt: expireAt, access: now}
	return nil
}

func (ms *MemoryStore) Delete(_ context.Context, keys ...string) (int, error) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	now := ms.now()
	n := 0
	for _, key := range keys {
		if item, ok := ms.data[key]; ok {
			if !item.expired(now) {
				n++
			}
			delete(ms.data, key)
		}
	}
	return n, nil
}

func (ms *MemoryStore) Keys(_ context.Context, pattern string, limit int) ([]string, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	now := ms.now()
	keys := make([]string, 0)
	for key, item := range ms.data {
		if item.expired(now) {
			continue
		}
		if MatchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

func (ms *MemoryStore) Clear(_ context.Context) error {
	ms.mutex.Lock()
	ms.data = make(map[string]*memoryItem)
	ms.mutex.Unlock()
	return nil
}

// Len reports the number of stored keys, expired ones included until swept.
func (ms *MemoryStore) Len() int {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()
	return len(ms.data)
}

func (ms *MemoryStore) evictLRU() {
	var oldestKey string
	var oldest time.Time
	for key, item := range ms.data {
		if oldestKey == "" || item.access.Before(oldest) {
			oldestKey = key
			oldest = item.access
		}
	}
	if oldestKey != "" {
		delete(ms.data, oldestKey)
	}
}

func (ms *MemoryStore) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ms.mutex.Lock()
			now := ms.now()
			for key, item := range ms.data {
				if item.expired(now) {
					delete(ms.data, key)
				}
			}
			ms.mutex.Unlock()
		case <-ms.stop:
			return
		}
	}
}

// Close stops the cleanup goroutine.
func (ms *MemoryStore) Close() error {
	ms.closed.Do(func() { close(ms.stop) })
	return nil
}

var _ Store = (*MemoryStore)(nil)
