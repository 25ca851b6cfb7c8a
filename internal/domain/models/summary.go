package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Tier tags the fidelity of a summary.
type Tier string

const (
	TierProxy    Tier = "proxy/eod"
	TierVerified Tier = "verified/chain"
)

// CacheStatus reports how a backtest request was served.
type CacheStatus string

const (
	CacheHit   CacheStatus = "HIT"
	CacheMiss  CacheStatus = "MISS"
	CacheStale CacheStatus = "STALE"
)

// BacktestSummary is the cached artifact of one simulation run.
// N == 0 is a diagnostic result; Notes say why.
type BacktestSummary struct {
	Key          string  `json:"key"`
	N            int     `json:"n"`
	WinRate      float64 `json:"win_rate"`
	AvgPnL       float64 `json:"avg_pnl"`
	MedianPnL    float64 `json:"median_pnl"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	ProfitFactor Ratio   `json:"profit_factor"`
	Expectancy   float64 `json:"expectancy"`
	HoldMedDays  float64 `json:"hold_med_days"`
	Kind         Tier    `json:"kind"`
	Notes        string  `json:"notes"`
}

// Diagnostic reports whether the summary carries no trades.
func (s BacktestSummary) Diagnostic() bool { return s.N == 0 }

// Ratio is a float64 whose JSON form tolerates +/-Inf ("Infinity", "-Infinity").
type Ratio float64

func (r Ratio) MarshalJSON() ([]byte, error) {
	f := float64(r)
	switch {
	case math.IsInf(f, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Infinity"`), nil
	case math.IsNaN(f):
		return []byte(`"NaN"`), nil
	}
	return json.Marshal(f)
}

func (r *Ratio) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		switch s {
		case "Infinity", "+Infinity", "inf":
			*r = Ratio(math.Inf(1))
		case "-Infinity", "-inf":
			*r = Ratio(math.Inf(-1))
		case "NaN":
			*r = Ratio(math.NaN())
		default:
			return fmt.Errorf("invalid ratio %q", s)
		}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*r = Ratio(f)
	return nil
}

// IsInf reports whether the ratio is positive infinity.
func (r Ratio) IsInf() bool { return math.IsInf(float64(r), 1) }

// SummaryEventType names a lifecycle event of a cached summary.
type SummaryEventType string

const (
	EventSummaryComputed SummaryEventType = "summary.computed"
	EventSummaryPromoted SummaryEventType = "summary.promoted"
)

// SummaryEvent is published when a summary is computed or promoted.
type SummaryEvent struct {
	Type       SummaryEventType `json:"type"`
	Key        string           `json:"key"`
	Kind       Tier             `json:"kind"`
	N          int              `json:"n"`
	Underlying string           `json:"underlying,omitempty"`
	Strategy   Strategy         `json:"strategy,omitempty"`
	At         time.Time        `json:"at"`
}
