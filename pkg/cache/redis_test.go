package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T, prefix string) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreFromClient(client, prefix)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStoreGetSet(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t, "btproxy")

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, s.Set(ctx, "bt:sum:aa", []byte(`{"n":1}`), time.Minute))
	assert.True(t, mr.Exists("btproxy:bt:sum:aa"))

	got, err := s.Get(ctx, "bt:sum:aa")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(got))

	mr.FastForward(2 * time.Minute)
	_, err = s.Get(ctx, "bt:sum:aa")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisStoreKeysDeleteClear(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t, "btproxy")
	require.NoError(t, mr.Set("foreign", "x"))

	for _, k := range []string{"bt:sum:02", "bt:sum:01", "other"} {
		require.NoError(t, s.Set(ctx, k, []byte("v"), 0))
	}

	keys, err := s.Keys(ctx, "bt:sum:*", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"bt:sum:01", "bt:sum:02"}, keys)

	keys, err = s.Keys(ctx, "", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"bt:sum:01"}, keys)

	n, err := s.Delete(ctx, "bt:sum:01", "nope")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.Clear(ctx))
	keys, err = s.Keys(ctx, "*", 0)
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.True(t, mr.Exists("foreign"))
}

func TestNewRedisStorePing(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	s, err := NewRedisStore(WithRedisAddr(mr.Host(), port), WithRedisPrefix("t"))
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "redis", s.Name())

	mr.Close()
	_, err = NewRedisStore(WithRedisAddr(mr.Host(), port), WithRedisDialTimeout(100*time.Millisecond))
	assert.Error(t, err)

	lazy, err := NewRedisStore(WithRedisAddr(mr.Host(), port), WithRedisLazyConnect())
	require.NoError(t, err)
	_ = lazy.Close()
}

func TestGraceCacheOverRedisSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t, "btproxy")

	first := New[string](s, WithCleanupInterval(0))
	require.NoError(t, first.Set(ctx, "bt:sum:aa", "summary"))
	_ = first.Close()

	second := New[string](s, WithCleanupInterval(0))
	defer second.Close()
	v, ok := second.Get(ctx, "bt:sum:aa")
	require.True(t, ok)
	assert.Equal(t, "summary", v)
}
