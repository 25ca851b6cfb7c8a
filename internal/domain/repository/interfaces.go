package repository

import (
	"context"
	"errors"
	"time"

	"BTProxy/internal/domain/models"
)

// ErrNoHistory is returned by providers that know nothing about a symbol.
var ErrNoHistory = errors.New("history: no data for symbol")

// HistoryProvider supplies daily bars, oldest first. The last `days` bars
// are returned; fewer when the source is shorter.
type HistoryProvider interface {
	GetHistory(ctx context.Context, symbol string, days int) ([]models.HistoryBar, error)
}

// SummaryEvents publishes summary lifecycle events.
type SummaryEvents interface {
	Publish(ctx context.Context, ev models.SummaryEvent) error
	Close() error
}

type Metrics interface {
	RecordLookup(status models.CacheStatus)
	RecordSimulation(outcome string, d time.Duration)
	RecordPromotion(count int)
	RecordStoreError(op string)
}
