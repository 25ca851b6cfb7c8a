package simulation

import (
	"math"
	"sort"
)

// profitFactorFloor keeps the denominator away from zero when losses are tiny.
const profitFactorFloor = 1e-9

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Median averages the two middle values for even lengths. Input is not modified.
func Median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

// WinRate is the fraction of strictly positive results.
func WinRate(pnl []float64) float64 {
	if len(pnl) == 0 {
		return 0
	}
	wins := 0
	for _, p := range pnl {
		if p > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(pnl))
}

// ProfitFactor is gross wins over gross loss magnitude; +Inf with no losing trade.
func ProfitFactor(pnl []float64) float64 {
	wins, losses := 0.0, 0.0
	hasLoss := false
	for _, p := range pnl {
		switch {
		case p > 0:
			wins += p
		case p < 0:
			losses += p
			hasLoss = true
		}
	}
	if !hasLoss {
		return math.Inf(1)
	}
	return wins / math.Max(profitFactorFloor, math.Abs(losses))
}

// Equity tracks cumulative P&L and the worst peak-to-trough decline.
type Equity struct {
	value float64
	peak  float64
	worst float64 // min(value - peak), <= 0
}

// Add books one trade result.
func (e *Equity) Add(pnl float64) {
	e.value += pnl
	if e.value > e.peak {
		e.peak = e.value
	}
	if dd := e.value - e.peak; dd < e.worst {
		e.worst = dd
	}
}

// Value is the cumulative P&L.
func (e *Equity) Value() float64 { return e.value }

// MaxDrawdown is the magnitude of the worst decline.
func (e *Equity) MaxDrawdown() float64 { return math.Abs(e.worst) }
