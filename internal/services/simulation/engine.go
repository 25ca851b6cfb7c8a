package simulation

import (
	"context"
	"errors"
	"fmt"
	"math"

	"BTProxy/internal/domain/models"
	"BTProxy/internal/domain/repository"
	"BTProxy/internal/services/keyer"
	"BTProxy/pkg/logger"
)

const (
	TradingDaysPerYear = 252

	// minExtraBars is the history needed beyond the front leg.
	minExtraBars = 5

	debitFloor      = 0.5
	debitEMFraction = 0.20
	channelEM       = 0.7
	expiryDriftEM   = 0.6
	expiryWinDebit  = 0.25
	expiryLossDebit = 0.5
)

const (
	NoteInvalidTermStructure = "invalid term structure"
	NoteInsufficientHistory  = "Insufficient history"
	NoteNoTrades             = "No trades generated"
)

// Engine runs the proxy end-of-day backtest of a signal over daily history.
type Engine struct {
	history repository.HistoryProvider
	log     *logger.Logger
}

func NewEngine(history repository.HistoryProvider, log *logger.Logger) *Engine {
	return &Engine{history: history, log: log.Named("simulation")}
}

// Simulate fetches 252*horizonYears bars and runs the path walk. Invalid
// parameters and short history yield a zero-sample summary, not an error;
// only provider failures are returned as errors.
func (e *Engine) Simulate(ctx context.Context, sig models.Signal, horizonYears int) (models.BacktestSummary, error) {
	key := keyer.DeriveKey(sig, horizonYears)
	front, back := sig.TermStructure()
	if back <= front || front <= 0 {
		e.log.Debug("degenerate signal", logger.String("key", key), logger.Int("front", front), logger.Int("back", back))
		return diagnostic(key, fmt.Sprintf("%s (front=%d back=%d)", NoteInvalidTermStructure, front, back)), nil
	}

	days := TradingDaysPerYear * horizonYears
	bars, err := e.history.GetHistory(ctx, sig.Underlying, days)
	if err != nil && !errors.Is(err, repository.ErrNoHistory) {
		return models.BacktestSummary{}, fmt.Errorf("fetch history %s: %w", sig.Underlying, err)
	}

	sum := Run(sig, bars)
	sum.Key = key
	if sum.Diagnostic() {
		e.log.Debug("diagnostic summary", logger.String("key", key), logger.String("notes", sum.Notes), logger.Int("bars", len(bars)))
	}
	return sum, nil
}

// Run is the pure path walk over bars (oldest first). For every entry day i
// the position resolves on the first later day whose close sits inside the
// channel S +/- 0.7em (win +tp) or at/through S +/- em (loss -sl). The
// containment check runs first each day. Untriggered positions settle at
// expiry on drift.
func Run(sig models.Signal, bars []models.HistoryBar) models.BacktestSummary {
	front, back := sig.TermStructure()
	if back <= front || front <= 0 {
		return diagnostic("", fmt.Sprintf("%s (front=%d back=%d)", NoteInvalidTermStructure, front, back))
	}
	if front > len(bars)-minExtraBars {
		return diagnostic("", fmt.Sprintf("%s: %d bars, need front+%d (front=%d)", NoteInsufficientHistory, len(bars), minExtraBars, front))
	}

	entries := len(bars) - front - 1
	pnl := make([]float64, 0, entries)
	holds := make([]float64, 0, entries)
	var eq Equity

	for i := 0; i < entries; i++ {
		p, hold := walk(bars, i, front, sig.ExitTakeProfit, sig.ExitStopLoss)
		pnl = append(pnl, p)
		holds = append(holds, float64(hold))
		eq.Add(p)
	}

	if len(pnl) == 0 {
		return diagnostic("", NoteNoTrades)
	}

	avg := Mean(pnl)
	return models.BacktestSummary{
		N:            len(pnl),
		WinRate:      WinRate(pnl),
		AvgPnL:       avg,
		MedianPnL:    Median(pnl),
		MaxDrawdown:  eq.MaxDrawdown(),
		ProfitFactor: models.Ratio(ProfitFactor(pnl)),
		Expectancy:   avg,
		HoldMedDays:  Median(holds),
		Kind:         models.TierProxy,
		Notes:        fmt.Sprintf("family=%s front=%d back=%d", sig.Strategy, front, back),
	}
}

// walk resolves the position opened at bar i.
func walk(bars []models.HistoryBar, i, front int, tpFrac, slMult float64) (float64, int) {
	s := bars[i].Close
	em := ExpectedMove(s, bars[i].IV30, front)
	debit := math.Max(debitFloor, debitEMFraction*em)
	tp := tpFrac * debit
	sl := slMult * debit

	lower := s - channelEM*em
	upper := s + channelEM*em

	for j := 1; j <= front; j++ {
		c := bars[i+j].Close
		if lower < c && c < upper {
			return tp, j
		}
		if c >= s+em || c <= s-em {
			return -sl, j
		}
	}

	drift := math.Abs(bars[i+front].Close - s)
	if drift <= expiryDriftEM*em {
		return expiryWinDebit * debit, front
	}
	return -expiryLossDebit * debit, front
}

// ExpectedMove is the one-sigma move over days calendar days: S*iv*sqrt(days/365).
func ExpectedMove(spot, iv float64, days int) float64 {
	return spot * iv * math.Sqrt(float64(days)/365)
}

func diagnostic(key, notes string) models.BacktestSummary {
	return models.BacktestSummary{
		Key:   key,
		Kind:  models.TierProxy,
		Notes: notes,
	}
}
