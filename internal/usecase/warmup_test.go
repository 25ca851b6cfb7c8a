package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BTProxy/internal/domain/models"
	"BTProxy/internal/services/keyer"
	"BTProxy/pkg/logger"
)

func TestWarmupHandler(t *testing.T) {
	ctx := context.Background()
	c := newSummaryCache(t)
	sim := &fakeSim{}
	bt := newBacktest(t, c, sim, nil, BacktestConfig{})
	h := NewWarmupHandler("btproxy.warm", bt, logger.Nop())
	assert.Equal(t, "btproxy.warm", h.Topic())

	sig := testSignal()
	sig.Strategy = "CALENDAR"
	payload, err := json.Marshal(models.WarmRequest{Signal: sig})
	require.NoError(t, err)

	require.NoError(t, h.Handle(ctx, payload))
	assert.Equal(t, int32(1), sim.calls.Load())

	sig.Strategy = models.StrategyCalendar
	_, ok := c.Get(ctx, keyer.DeriveKey(sig, 2))
	assert.True(t, ok, "default horizon is two years")
}

func TestWarmupHandlerDropsBadMessages(t *testing.T) {
	ctx := context.Background()
	sim := &fakeSim{}
	h := NewWarmupHandler("warm", newBacktest(t, newSummaryCache(t), sim, nil, BacktestConfig{}), logger.Nop())

	assert.NoError(t, h.Handle(ctx, []byte("{not json")))
	assert.NoError(t, h.Handle(ctx, []byte(`{"signal":{"strategy":"moonshot","underlying":"SPY"}}`)))
	assert.NoError(t, h.Handle(ctx, []byte(`{"signal":{"strategy":"calendar"}}`)))
	assert.Zero(t, sim.calls.Load())
}

func TestWarmupHandlerRetryableError(t *testing.T) {
	boom := errors.New("clickhouse down")
	sim := &fakeSim{err: boom}
	h := NewWarmupHandler("warm", newBacktest(t, newSummaryCache(t), sim, nil, BacktestConfig{}), logger.Nop())

	payload, err := json.Marshal(models.WarmRequest{Signal: testSignal(), HorizonYears: 1})
	require.NoError(t, err)
	assert.ErrorIs(t, h.Handle(context.Background(), payload), boom)
}

func TestWarmupHandlerClampsHorizon(t *testing.T) {
	cases := map[string]struct {
		horizon int
		want    int32
	}{
		"default":  {horizon: 0, want: 2},
		"negative": {horizon: -3, want: 2},
		"in range": {horizon: 5, want: 5},
		"too long": {horizon: 1000000, want: 10},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			sim := &fakeSim{}
			h := NewWarmupHandler("warm", newBacktest(t, newSummaryCache(t), sim, nil, BacktestConfig{}), logger.Nop())

			payload, err := json.Marshal(models.WarmRequest{Signal: testSignal(), HorizonYears: tc.horizon})
			require.NoError(t, err)
			require.NoError(t, h.Handle(context.Background(), payload))
			assert.Equal(t, tc.want, sim.horizon.Load())
		})
	}
}
