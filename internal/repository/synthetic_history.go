package repository

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"

	"BTProxy/internal/domain/models"
)

// SyntheticHistory generates a deterministic daily random walk per symbol.
// Same symbol, same series; the last `days` bars are returned. For local
// runs without a market data store.
type SyntheticHistory struct {
	length int
}

// NewSyntheticHistory creates a generator producing length bars per symbol.
func NewSyntheticHistory(length int) *SyntheticHistory {
	if length <= 0 {
		length = 2520
	}
	return &SyntheticHistory{length: length}
}

func (s *SyntheticHistory) GetHistory(ctx context.Context, symbol string, days int) ([]models.HistoryBar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	symbol = normalizeSymbol(symbol)
	if symbol == "" || days <= 0 {
		return nil, nil
	}
	return tail(s.series(symbol), days), nil
}

func (s *SyntheticHistory) series(symbol string) []models.HistoryBar {
	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol))
	seed := h.Sum64()
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))

	price := 50 + float64(seed%450)
	longIV := 0.15 + float64(seed%20)/100
	iv := longIV

	out := make([]models.HistoryBar, s.length)
	for i := range out {
		// mean-reverting vol, log-normal price step at that vol
		iv += 0.05*(longIV-iv) + 0.01*rng.NormFloat64()
		iv = math.Min(math.Max(iv, 0.05), 1.5)
		price *= math.Exp(iv/math.Sqrt(252)*rng.NormFloat64() - 0.5*iv*iv/252)
		out[i] = models.HistoryBar{Close: price, IV30: iv}
	}
	return out
}
