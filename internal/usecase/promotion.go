package usecase

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"BTProxy/internal/domain/models"
	domrepo "BTProxy/internal/domain/repository"
	"BTProxy/internal/services/keyer"
	"BTProxy/pkg/cache"
	"BTProxy/pkg/logger"
)

// PromotionConfig tunes the tiering pass.
type PromotionConfig struct {
	// MinSamples is exclusive: n must exceed it.
	MinSamples     int
	TTLMultiplier  int
	ChainCoverage  float64
	WinRateHaircut float64
	// Underlyings restricts promotion to these symbols; empty means all.
	Underlyings []string
}

// PromoteUseCase upgrades heavily sampled proxy/eod summaries in place.
type PromoteUseCase struct {
	cache   *SummaryCache
	events  domrepo.SummaryEvents
	metrics domrepo.Metrics
	log     *logger.Logger
	cfg     PromotionConfig
	allow   map[string]struct{}
	now     func() time.Time
}

func NewPromoteUseCase(c *SummaryCache, events domrepo.SummaryEvents, metrics domrepo.Metrics, log *logger.Logger, cfg PromotionConfig) *PromoteUseCase {
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 100
	}
	if cfg.TTLMultiplier <= 0 {
		cfg.TTLMultiplier = 80
	}
	if cfg.ChainCoverage <= 0 || cfg.ChainCoverage > 1 {
		cfg.ChainCoverage = 0.8
	}
	if cfg.WinRateHaircut < 0 || cfg.WinRateHaircut >= 1 {
		cfg.WinRateHaircut = 0.05
	}
	allow := make(map[string]struct{}, len(cfg.Underlyings))
	for _, u := range cfg.Underlyings {
		if s := normalizeSymbol(u); s != "" {
			allow[s] = struct{}{}
		}
	}
	return &PromoteUseCase{
		cache:   c,
		events:  events,
		metrics: metrics,
		log:     log.Named("promoter"),
		cfg:     cfg,
		allow:   allow,
		now:     time.Now,
	}
}

// RunOnce scans summary keys and promotes eligible entries. Each rewrite
// holds the entry lock, so it never interleaves with a live write.
func (uc *PromoteUseCase) RunOnce(ctx context.Context) (int, error) {
	keys := uc.cache.Keys(ctx, keyer.Pattern(), 0)
	ttl := uc.cache.TTL() * time.Duration(uc.cfg.TTLMultiplier)

	promoted := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return promoted, err
		}

		var (
			before models.BacktestSummary
			after  models.BacktestSummary
			labels map[string]string
		)
		ok, err := uc.cache.Update(ctx, key, func(cur models.BacktestSummary, info cache.EntryInfo) (models.BacktestSummary, time.Duration, bool) {
			if !uc.eligible(cur, info.Labels) {
				return cur, 0, false
			}
			before, labels = cur, info.Labels
			after = uc.Promote(cur)
			return after, ttl, true
		})
		if err != nil {
			uc.log.Warn("promotion write", logger.String("key", key), logger.Error(err))
		}
		if !ok {
			continue
		}

		promoted++
		uc.log.Debug("promoted summary",
			logger.String("key", key),
			logger.Int("n_before", before.N),
			logger.Int("n_after", after.N),
		)
		if uc.events != nil {
			ev := models.SummaryEvent{
				Type:       models.EventSummaryPromoted,
				Key:        key,
				Kind:       after.Kind,
				N:          after.N,
				Underlying: labels[LabelUnderlying],
				Strategy:   models.Strategy(labels[LabelStrategy]),
				At:         uc.now(),
			}
			if err := uc.events.Publish(ctx, ev); err != nil {
				uc.log.Warn("publish promotion event", logger.String("key", key), logger.Error(err))
			}
		}
	}

	if uc.metrics != nil {
		uc.metrics.RecordPromotion(promoted)
	}
	if promoted > 0 {
		uc.log.Info("promotion pass", logger.Int("scanned", len(keys)), logger.Int("promoted", promoted))
	}
	return promoted, nil
}

// Run repeats RunOnce every interval until ctx ends.
func (uc *PromoteUseCase) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := uc.RunOnce(ctx); err != nil && ctx.Err() == nil {
				uc.log.Error("promotion pass failed", logger.Error(err))
			}
		}
	}
}

// Promote returns the verified/chain form of a proxy summary.
func (uc *PromoteUseCase) Promote(s models.BacktestSummary) models.BacktestSummary {
	out := s
	out.N = int(math.Floor(float64(s.N) * uc.cfg.ChainCoverage))
	out.WinRate = clamp01(s.WinRate * (1 - uc.cfg.WinRateHaircut))
	out.Kind = models.TierVerified
	out.Notes = fmt.Sprintf("%s: promoted from %s n=%d", models.TierVerified, models.TierProxy, s.N)
	return out
}

func (uc *PromoteUseCase) eligible(s models.BacktestSummary, labels map[string]string) bool {
	if s.Kind != models.TierProxy || s.N <= uc.cfg.MinSamples {
		return false
	}
	if len(uc.allow) == 0 {
		return true
	}
	_, ok := uc.allow[normalizeSymbol(labels[LabelUnderlying])]
	return ok
}

func clamp01(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
