package models

import (
	"fmt"
	"math"
	"strings"
)

// Strategy identifies an options strategy family.
type Strategy string

const (
	StrategyCalendar       Strategy = "calendar"
	StrategyDoubleCalendar Strategy = "double_calendar"
	StrategyDiagonal       Strategy = "diagonal"
	StrategyDoubleDiagonal Strategy = "double_diagonal"
	StrategyIronCondor     Strategy = "iron_condor"
	StrategyIronFly        Strategy = "iron_fly"
	StrategyButterfly      Strategy = "butterfly"
	StrategyStrangle       Strategy = "strangle"
	StrategyStraddle       Strategy = "straddle"
	StrategyVertical       Strategy = "vertical"
)

var strategies = map[Strategy]struct{}{
	StrategyCalendar:       {},
	StrategyDoubleCalendar: {},
	StrategyDiagonal:       {},
	StrategyDoubleDiagonal: {},
	StrategyIronCondor:     {},
	StrategyIronFly:        {},
	StrategyButterfly:      {},
	StrategyStrangle:       {},
	StrategyStraddle:       {},
	StrategyVertical:       {},
}

// ParseStrategy accepts any case ("DOUBLE_DIAGONAL", "double_diagonal").
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := strategies[st]; !ok {
		return "", fmt.Errorf("unknown strategy %q", s)
	}
	return st, nil
}

// Signal is an immutable description of one strategy instance to backtest.
type Signal struct {
	Strategy       Strategy `json:"strategy"`
	Underlying     string   `json:"underlying"`
	DTE            float64  `json:"dte"`
	WidthToEM      float64  `json:"width_to_em"`
	IVRank         float64  `json:"iv_rank"`
	Front          *int     `json:"front,omitempty"`
	Back           *int     `json:"back,omitempty"`
	ExitTakeProfit float64  `json:"exit_take_profit"`
	ExitStopLoss   float64  `json:"exit_stop_loss"`
}

// TermStructure resolves the front/back day counts used by the simulation.
// Single-expiry signals carry no legs: front falls back to the rounded DTE
// and back to front+1.
func (s Signal) TermStructure() (front, back int) {
	if s.Front != nil {
		front = *s.Front
	} else {
		front = int(math.Round(s.DTE))
	}
	if s.Back != nil {
		back = *s.Back
	} else {
		back = front + 1
	}
	return front, back
}

// Days returns a pointer to n, for building optional leg fields.
func Days(n int) *int { return &n }

// HistoryBar is one trading day of an underlying: close and 30-day implied vol.
type HistoryBar struct {
	Close float64 `json:"close"`
	IV30  float64 `json:"iv30"`
}
