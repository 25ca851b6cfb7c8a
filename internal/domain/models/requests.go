package models

// Requests for the backtest and cache ops HTTP endpoints.

type BacktestRequest struct {
	Strategy       string  `json:"strategy" validate:"required,strategy"`
	Underlying     string  `json:"underlying" validate:"required,max=16"`
	DTE            float64 `json:"dte" validate:"gte=0,lte=730"`
	WidthToEM      float64 `json:"width_to_em" default:"1" validate:"gte=0"`
	IVRank         float64 `json:"iv_rank" validate:"gte=0,lte=100"`
	Front          *int    `json:"front,omitempty" validate:"omitempty,gte=1,lte=730"`
	Back           *int    `json:"back,omitempty" validate:"omitempty,gte=1,lte=730"`
	ExitTakeProfit float64 `json:"exit_take_profit" default:"0.5" validate:"gt=0,lte=10"`
	ExitStopLoss   float64 `json:"exit_stop_loss" default:"1" validate:"gt=0,lte=10"`
	HorizonYears   int     `json:"horizon_years" default:"2" validate:"gte=1,lte=10"`
}

// Signal converts the request into a domain signal.
func (r *BacktestRequest) Signal() (Signal, error) {
	st, err := ParseStrategy(r.Strategy)
	if err != nil {
		return Signal{}, err
	}
	return Signal{
		Strategy:       st,
		Underlying:     r.Underlying,
		DTE:            r.DTE,
		WidthToEM:      r.WidthToEM,
		IVRank:         r.IVRank,
		Front:          r.Front,
		Back:           r.Back,
		ExitTakeProfit: r.ExitTakeProfit,
		ExitStopLoss:   r.ExitStopLoss,
	}, nil
}

type BacktestResponse struct {
	Key     string          `json:"key"`
	Cache   CacheStatus     `json:"cache"`
	Summary BacktestSummary `json:"summary"`
}

type ListKeysRequest struct {
	Pattern string `query:"pattern" default:"bt:sum:*"`
	Limit   int    `query:"limit" default:"100" validate:"gte=0"`
}

// WarmRequest is the payload of a cache-warm message.
type WarmRequest struct {
	Signal       Signal `json:"signal"`
	HorizonYears int    `json:"horizon_years"`
}
