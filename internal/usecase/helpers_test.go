package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"BTProxy/internal/domain/models"
	"BTProxy/pkg/cache"
)

type fakeSim struct {
	calls   atomic.Int32
	horizon atomic.Int32
	release chan struct{}
	err     error
}

func (f *fakeSim) Simulate(ctx context.Context, sig models.Signal, horizonYears int) (models.BacktestSummary, error) {
	n := f.calls.Add(1)
	f.horizon.Store(int32(horizonYears))
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return models.BacktestSummary{}, ctx.Err()
		}
	}
	if f.err != nil {
		return models.BacktestSummary{}, f.err
	}
	return models.BacktestSummary{
		N:            150 + int(n),
		WinRate:      0.6,
		ProfitFactor: 1.8,
		Kind:         models.TierProxy,
		Notes:        "family=" + string(sig.Strategy),
	}, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []models.SummaryEvent
}

func (p *capturePublisher) Publish(_ context.Context, ev models.SummaryEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) Events() []models.SummaryEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.SummaryEvent, len(p.events))
	copy(out, p.events)
	return out
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newSummaryCache(t *testing.T, opts ...cache.Option) *SummaryCache {
	t.Helper()
	store := cache.NewMemoryStore(cache.WithMemoryCleanup(0))
	c := cache.New[models.BacktestSummary](store, append([]cache.Option{cache.WithCleanupInterval(0)}, opts...)...)
	t.Cleanup(func() {
		_ = c.Close()
		_ = store.Close()
	})
	return c
}

func testSignal() models.Signal {
	return models.Signal{
		Strategy:       models.StrategyCalendar,
		Underlying:     "SPY",
		DTE:            21,
		WidthToEM:      1,
		IVRank:         35,
		Front:          models.Days(21),
		Back:           models.Days(49),
		ExitTakeProfit: 0.5,
		ExitStopLoss:   1,
	}
}
