package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestLimiter(rate float64, burst int) (*Limiter, *time.Time) {
	now := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	l := New(rate, burst)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAllowBurstThenRefill(t *testing.T) {
	l, now := newTestLimiter(2, 3)

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("10.0.0.1")
		assert.True(t, ok, "request %d", i)
	}
	ok, wait := l.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, 500*time.Millisecond, wait)

	*now = now.Add(500 * time.Millisecond)
	ok, _ = l.Allow("10.0.0.1")
	assert.True(t, ok)
}

func TestAllowIsPerKey(t *testing.T) {
	l, _ := newTestLimiter(1, 1)

	ok, _ := l.Allow("a")
	assert.True(t, ok)
	ok, _ = l.Allow("a")
	assert.False(t, ok)
	ok, _ = l.Allow("b")
	assert.True(t, ok)
}

func TestRefillCapsAtBurst(t *testing.T) {
	l, now := newTestLimiter(10, 2)
	l.Allow("a")
	*now = now.Add(time.Hour)

	for i := 0; i < 2; i++ {
		ok, _ := l.Allow("a")
		assert.True(t, ok)
	}
	ok, _ := l.Allow("a")
	assert.False(t, ok)
}

func TestSweepDropsIdleFullBuckets(t *testing.T) {
	l, now := newTestLimiter(1, 5)
	l.Allow("idle")
	*now = now.Add(10 * time.Second)
	l.Allow("busy")
	l.Allow("busy")

	assert.Equal(t, 1, l.Sweep(5*time.Second))
	assert.Equal(t, 1, l.Len())
}
