package cache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCacheMiss = errors.New("cache: key not found")
	ErrClosed    = errors.New("cache: store closed")
)

// Store is a keyed byte store the grace cache writes through to. Two
// variants exist: MemoryStore (in-process) and RedisStore (networked).
type Store interface {
	// Get returns ErrCacheMiss when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value; expiration <= 0 keeps it until evicted.
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	// Delete returns how many of keys existed.
	Delete(ctx context.Context, keys ...string) (int, error)
	// Keys lists keys matching a glob pattern, sorted, at most limit (<= 0 means all).
	Keys(ctx context.Context, pattern string, limit int) ([]string, error)
	Clear(ctx context.Context) error
	Name() string
	Close() error
}

// Freshness classifies an entry by age.
type Freshness int

const (
	// Missing covers both absent and hard-expired entries.
	Missing Freshness = iota
	Fresh
	Stale
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "missing"
	}
}

// Classify applies the TTL/grace model: fresh while age < ttl, stale while
// age < ttl+grace, missing after.
func Classify(createdAt, now time.Time, ttl, grace time.Duration) Freshness {
	age := now.Sub(createdAt)
	switch {
	case age < ttl:
		return Fresh
	case age < ttl+grace:
		return Stale
	default:
		return Missing
	}
}

// Stats is a snapshot of lookup counters since the cache was created.
type Stats struct {
	Hits        int64 `json:"hits"`
	Stale       int64 `json:"stale"`
	Misses      int64 `json:"misses"`
	StoreErrors int64 `json:"store_errors"`
	Entries     int   `json:"entries"`
	InFlight    int   `json:"inflight"`
}

// HitRate counts stale serves as hits.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Stale + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits+s.Stale) / float64(total)
}
