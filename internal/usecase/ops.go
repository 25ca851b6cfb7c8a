package usecase

import (
	"context"
	"errors"
	"time"

	"BTProxy/internal/domain/models"
	"BTProxy/internal/services/keyer"
	"BTProxy/pkg/cache"
)

// ErrKeyNotFound is returned by targeted ops calls on an absent key.
var ErrKeyNotFound = errors.New("cache key not found")

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// CacheStatus is the global view of the summary cache.
type CacheStatus struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Stale       int64   `json:"stale"`
	HitRate     float64 `json:"hit_rate"`
	Entries     int     `json:"entries"`
	InFlight    int     `json:"inflight"`
	StoreErrors int64   `json:"store_errors"`
	Backend     string  `json:"backend"`
	Uptime      string  `json:"uptime"`
}

// KeyStatus is the metadata of one cached summary.
type KeyStatus struct {
	Key          string            `json:"key"`
	Kind         models.Tier       `json:"kind"`
	N            int               `json:"n"`
	TTLRemaining float64           `json:"ttl_remaining"`
	Stale        bool              `json:"stale"`
	Size         int               `json:"size"`
	CreatedAt    time.Time         `json:"created_at"`
	Labels       map[string]string `json:"labels,omitempty"`
}

type KeyList struct {
	Keys  []string `json:"keys"`
	Count int      `json:"count"`
}

// CacheOpsUseCase is the read-mostly operator surface over the cache.
// Only Purge mutates state.
type CacheOpsUseCase struct {
	cache   *SummaryCache
	started time.Time
	now     func() time.Time
}

func NewCacheOpsUseCase(c *SummaryCache) *CacheOpsUseCase {
	return &CacheOpsUseCase{cache: c, started: time.Now(), now: time.Now}
}

func (uc *CacheOpsUseCase) Status() CacheStatus {
	st := uc.cache.Stats()
	return CacheStatus{
		Hits:        st.Hits,
		Misses:      st.Misses,
		Stale:       st.Stale,
		HitRate:     st.HitRate(),
		Entries:     st.Entries,
		InFlight:    st.InFlight,
		StoreErrors: st.StoreErrors,
		Backend:     uc.cache.Backend(),
		Uptime:      uc.now().Sub(uc.started).Truncate(time.Second).String(),
	}
}

// KeyStatus reads one entry without counting it as a lookup.
func (uc *CacheOpsUseCase) KeyStatus(ctx context.Context, key string) (*KeyStatus, error) {
	sum, info, ok := uc.cache.Peek(ctx, key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	remaining := info.Remaining(uc.now())
	if remaining < 0 {
		remaining = 0
	}
	return &KeyStatus{
		Key:          key,
		Kind:         sum.Kind,
		N:            sum.N,
		TTLRemaining: remaining.Seconds(),
		Stale:        info.Freshness != cache.Fresh,
		Size:         info.Size,
		CreatedAt:    info.CreatedAt,
		Labels:       info.Labels,
	}, nil
}

func (uc *CacheOpsUseCase) Purge(ctx context.Context, key string) error {
	if !uc.cache.Delete(ctx, key) {
		return ErrKeyNotFound
	}
	return nil
}

// ListKeys lists keys matching pattern (summary keys by default), capped
// at MaxListLimit.
func (uc *CacheOpsUseCase) ListKeys(ctx context.Context, pattern string, limit int) KeyList {
	if pattern == "" {
		pattern = keyer.Pattern()
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	keys := uc.cache.Keys(ctx, pattern, limit)
	return KeyList{Keys: keys, Count: len(keys)}
}
