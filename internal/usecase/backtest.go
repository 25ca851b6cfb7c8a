package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"BTProxy/internal/domain/models"
	domrepo "BTProxy/internal/domain/repository"
	"BTProxy/internal/services/keyer"
	"BTProxy/pkg/cache"
	"BTProxy/pkg/logger"
)

// SummaryCache is the cache instance shared by the orchestrator, the
// promoter and the ops surface.
type SummaryCache = cache.GraceCache[models.BacktestSummary]

// Simulator produces a summary for a signal.
type Simulator interface {
	Simulate(ctx context.Context, sig models.Signal, horizonYears int) (models.BacktestSummary, error)
}

// BacktestConfig is the get-or-compute policy.
type BacktestConfig struct {
	// ServeStale returns a stale value immediately while one refresh runs.
	ServeStale bool
	// WaitTimeout bounds a caller's wait on a running computation; 0 = ctx only.
	WaitTimeout time.Duration
	// ComputeTimeout bounds the detached computation itself.
	ComputeTimeout time.Duration
}

// BacktestUseCase derives the key, serves from cache and runs at most one
// simulation per key at a time.
type BacktestUseCase struct {
	cache   *SummaryCache
	sim     Simulator
	events  domrepo.SummaryEvents
	metrics domrepo.Metrics
	log     *logger.Logger
	cfg     BacktestConfig
	now     func() time.Time
}

func NewBacktestUseCase(c *SummaryCache, sim Simulator, events domrepo.SummaryEvents, metrics domrepo.Metrics, log *logger.Logger, cfg BacktestConfig) *BacktestUseCase {
	if cfg.ComputeTimeout <= 0 {
		cfg.ComputeTimeout = 30 * time.Second
	}
	return &BacktestUseCase{
		cache:   c,
		sim:     sim,
		events:  events,
		metrics: metrics,
		log:     log.Named("backtest"),
		cfg:     cfg,
		now:     time.Now,
	}
}

// Backtest returns the summary for sig and how it was served. Only history
// provider failures and abandoned waits are returned as errors.
func (uc *BacktestUseCase) Backtest(ctx context.Context, sig models.Signal, horizonYears int) (models.BacktestSummary, models.CacheStatus, error) {
	key := keyer.DeriveKey(sig, horizonYears)

	val, fresh, flight, leader := uc.cache.Acquire(ctx, key)
	if fresh == cache.Fresh {
		uc.record(models.CacheHit)
		return val, models.CacheHit, nil
	}

	if leader {
		uc.compute(ctx, key, sig, horizonYears, flight)
	}

	if fresh == cache.Stale && uc.cfg.ServeStale {
		uc.record(models.CacheStale)
		return val, models.CacheStale, nil
	}

	wctx := ctx
	if uc.cfg.WaitTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, uc.cfg.WaitTimeout)
		defer cancel()
	}
	sum, err := flight.Wait(wctx)
	if err != nil {
		return models.BacktestSummary{}, models.CacheMiss, fmt.Errorf("backtest %s: %w", key, err)
	}
	uc.record(models.CacheMiss)
	return sum, models.CacheMiss, nil
}

// compute runs the simulation detached from the caller, so an abandoned
// wait never cancels it.
func (uc *BacktestUseCase) compute(ctx context.Context, key string, sig models.Signal, horizonYears int, flight *cache.Flight[models.BacktestSummary]) {
	base := context.WithoutCancel(ctx)
	go func() {
		cctx, cancel := context.WithTimeout(base, uc.cfg.ComputeTimeout)
		defer cancel()

		var (
			sum models.BacktestSummary
			err error
		)
		start := uc.now()
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("simulation panic: %v", r)
				}
			}()
			sum, err = uc.sim.Simulate(cctx, sig, horizonYears)
		}()
		elapsed := uc.now().Sub(start)

		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
			uc.log.Error("simulation failed", logger.String("key", key), logger.String("underlying", sig.Underlying), logger.Error(err))
		case sum.Diagnostic():
			outcome = "degenerate"
		}
		if uc.metrics != nil {
			uc.metrics.RecordSimulation(outcome, elapsed)
		}

		if err == nil {
			sum.Key = key
		}
		uc.cache.Finish(base, key, flight, sum, err, cache.WithLabels(Labels(sig)))
		if err != nil {
			return
		}

		uc.log.Debug("summary computed",
			logger.String("key", key),
			logger.Int("n", sum.N),
			logger.Duration("elapsed_ms", elapsed),
		)
		uc.publish(base, models.SummaryEvent{
			Type:       models.EventSummaryComputed,
			Key:        key,
			Kind:       sum.Kind,
			N:          sum.N,
			Underlying: sig.Underlying,
			Strategy:   sig.Strategy,
			At:         uc.now(),
		})
	}()
}

func (uc *BacktestUseCase) publish(ctx context.Context, ev models.SummaryEvent) {
	if uc.events == nil {
		return
	}
	if err := uc.events.Publish(ctx, ev); err != nil {
		uc.log.Warn("publish summary event", logger.String("key", ev.Key), logger.String("type", string(ev.Type)), logger.Error(err))
	}
}

func (uc *BacktestUseCase) record(status models.CacheStatus) {
	if uc.metrics != nil {
		uc.metrics.RecordLookup(status)
	}
}

// Labels are the entry labels the promoter filters on.
func Labels(sig models.Signal) map[string]string {
	return map[string]string{
		LabelUnderlying: normalizeSymbol(sig.Underlying),
		LabelStrategy:   strings.ToLower(string(sig.Strategy)),
	}
}

const (
	LabelUnderlying = "underlying"
	LabelStrategy   = "strategy"
)
