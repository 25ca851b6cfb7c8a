package repository

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"

	"BTProxy/internal/domain/models"
	domrepo "BTProxy/internal/domain/repository"
)

// fetchFunc reads the last days bars of an already normalized symbol.
type fetchFunc func(ctx context.Context, symbol string, days int) ([]models.HistoryBar, error)

// coalescer collapses identical concurrent history reads into one backend
// call. Callers get their own copy of the shared slice.
type coalescer struct {
	group singleflight.Group
}

func (c *coalescer) do(ctx context.Context, symbol string, days int, fetch fetchFunc) ([]models.HistoryBar, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" || days <= 0 {
		return nil, domrepo.ErrNoHistory
	}

	key := fmt.Sprintf("%s:%d", symbol, days)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		bars, err := fetch(ctx, symbol, days)
		if err != nil {
			return nil, err
		}
		if len(bars) == 0 {
			return nil, domrepo.ErrNoHistory
		}
		return bars, nil
	})
	if err != nil {
		return nil, err
	}

	shared := v.([]models.HistoryBar)
	out := make([]models.HistoryBar, len(shared))
	copy(out, shared)
	return out, nil
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// reverse flips a newest-first result into oldest-first.
func reverse(bars []models.HistoryBar) {
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
}

// tail returns the last n bars.
func tail(bars []models.HistoryBar, n int) []models.HistoryBar {
	if n >= len(bars) {
		return bars
	}
	return bars[len(bars)-n:]
}
