package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BTProxy/internal/domain/models"
	"BTProxy/internal/service/ratelimit"
	"BTProxy/internal/services/keyer"
	"BTProxy/internal/usecase"
	xhttp "BTProxy/pkg/http"
	xlogger "BTProxy/pkg/logger"
)

type fakeBacktester struct {
	status  models.CacheStatus
	err     error
	gotSig  models.Signal
	gotHorz int
}

func (f *fakeBacktester) Backtest(_ context.Context, sig models.Signal, h int) (models.BacktestSummary, models.CacheStatus, error) {
	f.gotSig, f.gotHorz = sig, h
	if f.err != nil {
		return models.BacktestSummary{}, models.CacheMiss, f.err
	}
	return models.BacktestSummary{
		Key:          keyer.DeriveKey(sig, h),
		N:            489,
		WinRate:      1,
		ProfitFactor: models.Ratio(math.Inf(1)),
		Kind:         models.TierProxy,
	}, f.status, nil
}

type fakeOps struct {
	entries map[string]*usecase.KeyStatus
	purged  []string
	pattern string
	limit   int
}

func (f *fakeOps) Status() usecase.CacheStatus {
	return usecase.CacheStatus{Hits: 3, Misses: 1, HitRate: 0.75, Entries: len(f.entries), Backend: "memory"}
}

func (f *fakeOps) KeyStatus(_ context.Context, key string) (*usecase.KeyStatus, error) {
	st, ok := f.entries[key]
	if !ok {
		return nil, usecase.ErrKeyNotFound
	}
	return st, nil
}

func (f *fakeOps) Purge(_ context.Context, key string) error {
	if _, ok := f.entries[key]; !ok {
		return usecase.ErrKeyNotFound
	}
	delete(f.entries, key)
	f.purged = append(f.purged, key)
	return nil
}

func (f *fakeOps) ListKeys(_ context.Context, pattern string, limit int) usecase.KeyList {
	f.pattern, f.limit = pattern, limit
	keys := make([]string, 0, len(f.entries))
	for k := range f.entries {
		keys = append(keys, k)
	}
	return usecase.KeyList{Keys: keys, Count: len(keys)}
}

func newEcho(handlers ...xhttp.Handler) *echo.Echo {
	return xhttp.NewServer(handlers, xhttp.WithLogger(xlogger.Nop())).Echo()
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.RemoteAddr = "192.0.2.10:5555"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

const calendarBody = `{"strategy":"CALENDAR","underlying":"spy","dte":21,"iv_rank":41,"front":21,"back":49}`

func TestBacktestRoute(t *testing.T) {
	bt := &fakeBacktester{status: models.CacheMiss}
	e := newEcho(NewBacktestHandler(xlogger.Nop(), bt, nil))

	rec := do(e, http.MethodPost, "/api/backtest", calendarBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))

	var resp struct {
		Data models.BacktestResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.CacheMiss, resp.Data.Cache)
	assert.Equal(t, 489, resp.Data.Summary.N)
	assert.True(t, resp.Data.Summary.ProfitFactor.IsInf())
	assert.Equal(t, rec.Header().Get("X-Cache-Key"), resp.Data.Key)

	assert.Equal(t, models.StrategyCalendar, bt.gotSig.Strategy)
	assert.Equal(t, 2, bt.gotHorz)
	assert.Equal(t, 0.5, bt.gotSig.ExitTakeProfit)
	assert.Equal(t, 1.0, bt.gotSig.ExitStopLoss)
	require.NotNil(t, bt.gotSig.Back)
	assert.Equal(t, 49, *bt.gotSig.Back)
}

func TestBacktestValidation(t *testing.T) {
	e := newEcho(NewBacktestHandler(xlogger.Nop(), &fakeBacktester{}, nil))

	cases := map[string]string{
		"unknown strategy":   `{"strategy":"covered_call","underlying":"SPY","dte":21}`,
		"missing underlying": `{"strategy":"calendar","dte":21}`,
		"horizon too long":   `{"strategy":"calendar","underlying":"SPY","dte":21,"horizon_years":11}`,
		"iv rank over 100":   `{"strategy":"calendar","underlying":"SPY","dte":21,"iv_rank":101}`,
		"malformed":          `{"strategy":`,
		"front leg too long": `{"strategy":"calendar","underlying":"SPY","front":100000,"back":100001}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(e, http.MethodPost, "/api/backtest", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestBacktestErrors(t *testing.T) {
	e := newEcho(NewBacktestHandler(xlogger.Nop(), &fakeBacktester{err: errors.New("clickhouse: connection refused")}, nil))
	rec := do(e, http.MethodPost, "/api/backtest", calendarBody)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	e = newEcho(NewBacktestHandler(xlogger.Nop(), &fakeBacktester{err: context.DeadlineExceeded}, nil))
	rec = do(e, http.MethodPost, "/api/backtest", calendarBody)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestBacktestRateLimited(t *testing.T) {
	limiter := ratelimit.New(0.001, 2)
	e := newEcho(NewBacktestHandler(xlogger.Nop(), &fakeBacktester{status: models.CacheHit}, limiter))

	for i := 0; i < 2; i++ {
		rec := do(e, http.MethodPost, "/api/backtest", calendarBody)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	}
	rec := do(e, http.MethodPost, "/api/backtest", calendarBody)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderRetryAfter))
}

func newOps() *fakeOps {
	return &fakeOps{entries: map[string]*usecase.KeyStatus{
		"bt:sum:00000000000000aa": {
			Key:          "bt:sum:00000000000000aa",
			Kind:         models.TierProxy,
			N:            489,
			TTLRemaining: 42,
			CreatedAt:    time.Unix(1700000000, 0).UTC(),
		},
	}}
}

func TestCacheStatusRoutes(t *testing.T) {
	ops := newOps()
	e := newEcho(NewCacheHandler(xlogger.Nop(), ops))

	rec := do(e, http.MethodGet, "/api/cache/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"hit_rate":0.75`)

	rec = do(e, http.MethodGet, "/api/cache/status?key=bt:sum:00000000000000aa", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ttl_remaining":42`)

	rec = do(e, http.MethodGet, "/api/cache/status?key=bt:sum:ffffffffffffffff", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCachePurgeRoute(t *testing.T) {
	ops := newOps()
	e := newEcho(NewCacheHandler(xlogger.Nop(), ops))

	rec := do(e, http.MethodDelete, "/api/cache/keys/bt:sum:00000000000000aa", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"bt:sum:00000000000000aa"}, ops.purged)

	rec = do(e, http.MethodDelete, "/api/cache/keys/bt:sum:00000000000000aa", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCacheListKeysRoute(t *testing.T) {
	ops := newOps()
	e := newEcho(NewCacheHandler(xlogger.Nop(), ops))

	rec := do(e, http.MethodGet, "/api/cache/keys", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bt:sum:*", ops.pattern)
	assert.Equal(t, 100, ops.limit)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = do(e, http.MethodGet, "/api/cache/keys?pattern=bt:sum:0*&limit=5000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bt:sum:0*", ops.pattern)
	assert.Equal(t, 5000, ops.limit)

	rec = do(e, http.MethodGet, "/api/cache/keys?limit=lots", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
