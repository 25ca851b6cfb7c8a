package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BTProxy/internal/domain/models"
	"BTProxy/pkg/cache"
)

func TestCacheOpsStatus(t *testing.T) {
	ctx := context.Background()
	c := newSummaryCache(t)
	ops := NewCacheOpsUseCase(c)

	seedSummary(t, c, "bt:sum:a", "SPY", models.TierProxy, 10)
	_, _ = c.Get(ctx, "bt:sum:a")
	_, _ = c.Get(ctx, "bt:sum:missing")

	st := ops.Status()
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.Equal(t, 0.5, st.HitRate)
	assert.Equal(t, 1, st.Entries)
	assert.Equal(t, "memory", st.Backend)
	assert.NotEmpty(t, st.Uptime)
}

func TestCacheOpsKeyStatus(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	c := newSummaryCache(t, cache.WithTTL(time.Minute), cache.WithGrace(time.Minute), cache.WithClock(clock.Now))
	ops := NewCacheOpsUseCase(c)
	ops.now = clock.Now

	_, err := ops.KeyStatus(ctx, "bt:sum:nope")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	seedSummary(t, c, "bt:sum:a", "SPY", models.TierProxy, 42)
	before := c.Stats()

	clock.Advance(20 * time.Second)
	ks, err := ops.KeyStatus(ctx, "bt:sum:a")
	require.NoError(t, err)
	assert.Equal(t, 42, ks.N)
	assert.Equal(t, models.TierProxy, ks.Kind)
	assert.Equal(t, 40.0, ks.TTLRemaining)
	assert.False(t, ks.Stale)
	assert.Greater(t, ks.Size, 0)
	assert.Equal(t, "SPY", ks.Labels[LabelUnderlying])
	assert.Equal(t, before, c.Stats(), "status must not count as a lookup")

	clock.Advance(50 * time.Second)
	ks, err = ops.KeyStatus(ctx, "bt:sum:a")
	require.NoError(t, err)
	assert.True(t, ks.Stale)
	assert.Equal(t, 0.0, ks.TTLRemaining)
}

func TestCacheOpsPurge(t *testing.T) {
	ctx := context.Background()
	c := newSummaryCache(t)
	ops := NewCacheOpsUseCase(c)

	seedSummary(t, c, "bt:sum:a", "SPY", models.TierProxy, 10)
	require.NoError(t, ops.Purge(ctx, "bt:sum:a"))
	assert.ErrorIs(t, ops.Purge(ctx, "bt:sum:a"), ErrKeyNotFound)

	_, err := ops.KeyStatus(ctx, "bt:sum:a")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestCacheOpsListKeys(t *testing.T) {
	ctx := context.Background()
	c := newSummaryCache(t)
	ops := NewCacheOpsUseCase(c)

	for i := 0; i < 5; i++ {
		seedSummary(t, c, fmt.Sprintf("bt:sum:%02d", i), "SPY", models.TierProxy, i)
	}
	require.NoError(t, c.Set(ctx, "other:key", models.BacktestSummary{}))

	all := ops.ListKeys(ctx, "", 0)
	assert.Equal(t, 5, all.Count)
	assert.Equal(t, "bt:sum:00", all.Keys[0])

	two := ops.ListKeys(ctx, "bt:sum:*", 2)
	assert.Equal(t, []string{"bt:sum:00", "bt:sum:01"}, two.Keys)
	assert.Equal(t, 2, two.Count)

	everything := ops.ListKeys(ctx, "*", 5000)
	assert.Equal(t, 6, everything.Count)
}
