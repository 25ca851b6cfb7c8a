package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"BTProxy/internal/domain/models"
	applogger "BTProxy/pkg/logger"
	"BTProxy/pkg/postgres"
)

// PostgresSchema creates the daily history table read by PGHistory.
var PostgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS daily_iv_history (
        symbol TEXT NOT NULL,
        date   DATE NOT NULL,
        close  DOUBLE PRECISION NOT NULL,
        iv30   DOUBLE PRECISION NOT NULL,
        PRIMARY KEY (symbol, date)
    )`,
}

// PGHistory implements HistoryProvider backed by Postgres.
type PGHistory struct {
	pool *postgres.Pool
	l    *applogger.Logger
	sf   coalescer
}

func NewPGHistory(pool *postgres.Pool, l *applogger.Logger) *PGHistory {
	return &PGHistory{pool: pool, l: l.Named("postgres_history")}
}

func (s *PGHistory) GetHistory(ctx context.Context, symbol string, days int) ([]models.HistoryBar, error) {
	return s.sf.do(ctx, symbol, days, s.query)
}

func (s *PGHistory) query(ctx context.Context, symbol string, days int) ([]models.HistoryBar, error) {
	const q = `
        SELECT close, iv30
        FROM daily_iv_history
        WHERE symbol = $1
        ORDER BY date DESC
        LIMIT $2
    `
	rows, err := s.pool.Query(ctx, q, symbol, days)
	if err != nil {
		s.l.Error("postgres get_history query error", applogger.String("symbol", symbol), applogger.Error(err))
		return nil, fmt.Errorf("get history: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.HistoryBar, error) {
		var b models.HistoryBar
		err := row.Scan(&b.Close, &b.IV30)
		return b, err
	})
	if err != nil {
		s.l.Error("postgres get_history scan error", applogger.String("symbol", symbol), applogger.Error(err))
		return nil, fmt.Errorf("scan bars: %w", err)
	}

	reverse(out)
	return out, nil
}
