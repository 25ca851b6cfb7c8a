package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) Get(context.Context, string) ([]byte, error) { return nil, errStoreDown }
func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errStoreDown
}
func (failingStore) Delete(context.Context, ...string) (int, error)      { return 0, errStoreDown }
func (failingStore) Keys(context.Context, string, int) ([]string, error) { return nil, errStoreDown }
func (failingStore) Clear(context.Context) error                         { return errStoreDown }
func (failingStore) Name() string                                        { return "failing" }
func (failingStore) Close() error                                        { return nil }

func newTestCache(t *testing.T, clock *fakeClock, opts ...Option) (*GraceCache[string], *MemoryStore) {
	t.Helper()
	store := NewMemoryStore(WithMemoryCleanup(0))
	base := []Option{
		WithTTL(10 * time.Second),
		WithGrace(5 * time.Second),
		WithCleanupInterval(0),
		WithClock(clock.Now),
	}
	c := New[string](store, append(base, opts...)...)
	t.Cleanup(func() {
		_ = c.Close()
		_ = store.Close()
	})
	return c, store
}

func TestGraceCacheFreshnessLaw(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c, _ := newTestCache(t, clock)

	require.NoError(t, c.Set(ctx, "k", "v1"))

	clock.Advance(10*time.Second - time.Millisecond)
	v, f := c.Lookup(ctx, "k")
	assert.Equal(t, Fresh, f)
	assert.Equal(t, "v1", v)

	clock.Advance(2 * time.Millisecond)
	v, f = c.Lookup(ctx, "k")
	assert.Equal(t, Stale, f)
	assert.Equal(t, "v1", v)

	clock.Advance(5 * time.Second)
	v, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Empty(t, v)

	st := c.Stats()
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Stale)
	assert.Equal(t, int64(1), st.Misses)
}

func TestGraceCacheSingleFlight(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, newFakeClock())

	const callers = 32
	type acquired struct {
		flight *Flight[string]
		leader bool
	}
	results := make([]acquired, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, f, fl, leader := c.Acquire(ctx, "k")
			assert.Equal(t, Missing, f)
			results[i] = acquired{flight: fl, leader: leader}
		}(i)
	}
	wg.Wait()

	var leaderFlight *Flight[string]
	leaders := 0
	for _, r := range results {
		require.NotNil(t, r.flight)
		if r.leader {
			leaders++
			leaderFlight = r.flight
		}
	}
	require.Equal(t, 1, leaders)
	for _, r := range results {
		assert.Same(t, leaderFlight, r.flight)
	}
	assert.Equal(t, 1, c.Stats().InFlight)

	c.Finish(ctx, "k", leaderFlight, "computed", nil)

	for _, r := range results {
		v, err := r.flight.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, "computed", v)
	}
	assert.Equal(t, 0, c.Stats().InFlight)

	v, f, fl, leader := c.Acquire(ctx, "k")
	assert.Equal(t, Fresh, f)
	assert.Equal(t, "computed", v)
	assert.Nil(t, fl)
	assert.False(t, leader)
}

func TestGraceCacheStaleAcquireStartsOneRefresh(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c, _ := newTestCache(t, clock)

	require.NoError(t, c.Set(ctx, "k", "old"))
	clock.Advance(12 * time.Second)

	v, f, fl, leader := c.Acquire(ctx, "k")
	assert.Equal(t, Stale, f)
	assert.Equal(t, "old", v)
	assert.True(t, leader)

	v2, f2, fl2, leader2 := c.Acquire(ctx, "k")
	assert.Equal(t, Stale, f2)
	assert.Equal(t, "old", v2)
	assert.False(t, leader2)
	assert.Same(t, fl, fl2)

	c.Finish(ctx, "k", fl, "new", nil)
	v, f = c.Lookup(ctx, "k")
	assert.Equal(t, Fresh, f)
	assert.Equal(t, "new", v)
}

func TestGraceCacheFinishErrorKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c, _ := newTestCache(t, clock)

	_, _, fl, leader := c.Acquire(ctx, "missing")
	require.True(t, leader)
	boom := errors.New("boom")
	c.Finish(ctx, "missing", fl, "", boom)

	_, err := fl.Wait(ctx)
	assert.ErrorIs(t, err, boom)
	_, ok := c.Get(ctx, "missing")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestFlightWaitAbandon(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, newFakeClock())

	_, _, fl, leader := c.Acquire(ctx, "k")
	require.True(t, leader)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err := fl.Wait(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	c.Finish(ctx, "k", fl, "done", nil)
	v, err := fl.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "done", v)

	got, ok := c.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "done", got)
}

func TestGraceCacheUpdate(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c, _ := newTestCache(t, clock)

	require.NoError(t, c.Set(ctx, "k", "proxy", WithLabels(map[string]string{"underlying": "SPY"})))
	clock.Advance(3 * time.Second)

	ok, err := c.Update(ctx, "k", func(v string, info EntryInfo) (string, time.Duration, bool) {
		assert.Equal(t, "proxy", v)
		assert.Equal(t, "SPY", info.Labels["underlying"])
		return "verified", time.Minute, true
	})
	require.NoError(t, err)
	assert.True(t, ok)

	v, info, found := c.Peek(ctx, "k")
	require.True(t, found)
	assert.Equal(t, "verified", v)
	assert.Equal(t, time.Minute, info.TTL)
	assert.Equal(t, clock.Now(), info.CreatedAt)
	assert.Equal(t, "SPY", info.Labels["underlying"])

	clock.Advance(30 * time.Second)
	_, f := c.Lookup(ctx, "k")
	assert.Equal(t, Fresh, f)

	ok, err = c.Update(ctx, "absent", func(v string, _ EntryInfo) (string, time.Duration, bool) {
		t.Fatal("fn must not run for absent keys")
		return v, 0, false
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGraceCachePeekHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, newFakeClock())

	require.NoError(t, c.Set(ctx, "k", "v"))
	before := c.Stats()

	_, info, ok := c.Peek(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, int64(0), info.Hits)
	assert.Greater(t, info.Size, 0)

	_, _, ok = c.Peek(ctx, "nope")
	assert.False(t, ok)

	assert.Equal(t, before, c.Stats())
	assert.Equal(t, 1, c.Len())
}

func TestGraceCacheSharedStore(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore(WithMemoryCleanup(0))
	defer store.Close()

	a := New[string](store, WithClock(clock.Now), WithCleanupInterval(0))
	b := New[string](store, WithClock(clock.Now), WithCleanupInterval(0))

	require.NoError(t, a.Set(ctx, "k", "from-a", WithLabels(map[string]string{"strategy": "calendar"})))

	v, f := b.Lookup(ctx, "k")
	assert.Equal(t, Fresh, f)
	assert.Equal(t, "from-a", v)

	_, info, ok := b.Peek(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "calendar", info.Labels["strategy"])
	assert.Equal(t, 90*time.Second, info.TTL)
}

func TestGraceCacheFailOpen(t *testing.T) {
	ctx := context.Background()
	var hooked atomic.Int32
	c := New[string](failingStore{},
		WithCleanupInterval(0),
		WithStoreErrorHook(func(op string) { hooked.Add(1) }),
	)
	defer c.Close()

	_, f := c.Lookup(ctx, "k")
	assert.Equal(t, Missing, f)

	err := c.Set(ctx, "k", "local")
	assert.ErrorIs(t, err, errStoreDown)

	v, ok := c.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "local", v)

	assert.Equal(t, []string{"k"}, c.Keys(ctx, "*", 10))
	assert.True(t, c.Delete(ctx, "k"))

	assert.Greater(t, c.Stats().StoreErrors, int64(0))
	assert.Equal(t, c.Stats().StoreErrors, int64(hooked.Load()))
}

func TestGraceCacheDeleteKeysClear(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, newFakeClock())

	require.NoError(t, c.Set(ctx, "bt:sum:a", "1"))
	require.NoError(t, c.Set(ctx, "bt:sum:b", "2"))
	require.NoError(t, c.Set(ctx, "other", "3"))

	assert.Equal(t, []string{"bt:sum:a", "bt:sum:b"}, c.Keys(ctx, "bt:sum:*", 0))
	assert.Equal(t, []string{"bt:sum:a"}, c.Keys(ctx, "bt:sum:*", 1))

	assert.True(t, c.Delete(ctx, "bt:sum:a"))
	assert.False(t, c.Delete(ctx, "bt:sum:a"))
	_, ok := c.Get(ctx, "bt:sum:a")
	assert.False(t, ok)

	c.Clear(ctx)
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.Keys(ctx, "*", 0))
}

func TestGraceCachePurgeKeepsRunningFlight(t *testing.T) {
	purges := map[string]func(ctx context.Context, c *GraceCache[string]){
		"delete": func(ctx context.Context, c *GraceCache[string]) { c.Delete(ctx, "k") },
		"clear":  func(ctx context.Context, c *GraceCache[string]) { c.Clear(ctx) },
	}
	for name, purge := range purges {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c, _ := newTestCache(t, newFakeClock())

			require.NoError(t, c.Set(ctx, "idle", "x"))
			_, _, lead, leader := c.Acquire(ctx, "k")
			require.True(t, leader)

			purge(ctx, c)

			_, f, joined, leader := c.Acquire(ctx, "k")
			assert.Equal(t, Missing, f)
			assert.False(t, leader)
			assert.Same(t, lead, joined)
			assert.Equal(t, 1, c.Stats().InFlight)

			c.Finish(ctx, "k", lead, "computed", nil)
			v, err := joined.Wait(ctx)
			require.NoError(t, err)
			assert.Equal(t, "computed", v)
			assert.Equal(t, 0, c.Stats().InFlight)

			got, ok := c.Get(ctx, "k")
			assert.True(t, ok)
			assert.Equal(t, "computed", got)
		})
	}
}

func TestGraceCacheDeleteDuringFlightClearsValue(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c, _ := newTestCache(t, clock)

	require.NoError(t, c.Set(ctx, "k", "old"))
	clock.Advance(c.TTL() + time.Second)
	v, f, fl, leader := c.Acquire(ctx, "k")
	require.Equal(t, Stale, f)
	require.Equal(t, "old", v)
	require.True(t, leader)

	assert.True(t, c.Delete(ctx, "k"))

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Finish(ctx, "k", fl, "", errors.New("upstream down"))
	assert.Equal(t, 0, c.Len())
}

func TestGraceCacheSweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c, _ := newTestCache(t, clock)

	require.NoError(t, c.Set(ctx, "a", "1"))
	require.NoError(t, c.Set(ctx, "b", "2"))
	_, _, fl, leader := c.Acquire(ctx, "c")
	require.True(t, leader)

	clock.Advance(16 * time.Second)
	assert.Equal(t, 2, c.Sweep())
	assert.Equal(t, 1, c.Len())

	c.Finish(ctx, "c", fl, "3", nil)
	assert.Equal(t, 0, c.Sweep())
}

func TestGraceCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c, _ := newTestCache(t, clock, WithMaxEntries(2))

	require.NoError(t, c.Set(ctx, "a", "1"))
	clock.Advance(time.Second)
	require.NoError(t, c.Set(ctx, "b", "2"))
	clock.Advance(time.Second)
	_, ok := c.Get(ctx, "a")
	require.True(t, ok)
	clock.Advance(time.Second)

	require.NoError(t, c.Set(ctx, "c", "3"))
	assert.Equal(t, 2, c.Len())

	_, info, ok := c.Peek(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, int64(1), info.Hits)
}

func TestClassify(t *testing.T) {
	t0 := time.Unix(1000, 0)
	ttl, grace := 10*time.Second, 5*time.Second
	assert.Equal(t, Fresh, Classify(t0, t0, ttl, grace))
	assert.Equal(t, Stale, Classify(t0, t0.Add(ttl), ttl, grace))
	assert.Equal(t, Missing, Classify(t0, t0.Add(ttl+grace), ttl, grace))
	assert.Equal(t, "stale", Stale.String())
}

func TestStatsHitRate(t *testing.T) {
	assert.Zero(t, Stats{}.HitRate())
	assert.InDelta(t, 0.75, Stats{Hits: 2, Stale: 1, Misses: 1}.HitRate(), 1e-9)
}
