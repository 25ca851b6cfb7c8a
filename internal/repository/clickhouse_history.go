package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"BTProxy/internal/domain/models"
	pkgch "BTProxy/pkg/clickhouse"
	applogger "BTProxy/pkg/logger"
)

// ClickHouseSchema creates the daily history table read by CHHistory.
var ClickHouseSchema = []string{
	`CREATE TABLE IF NOT EXISTS daily_iv_history (
        symbol LowCardinality(String),
        date   Date,
        close  Float64,
        iv30   Float64
    ) ENGINE = ReplacingMergeTree
    ORDER BY (symbol, date)`,
}

// CHHistory implements HistoryProvider backed by ClickHouse.
type CHHistory struct {
	db *sql.DB
	l  *applogger.Logger
	sf coalescer
}

func NewCHHistory(ch *pkgch.Client, l *applogger.Logger) *CHHistory {
	return &CHHistory{db: ch.DB(), l: l.Named("clickhouse_history")}
}

func (s *CHHistory) GetHistory(ctx context.Context, symbol string, days int) ([]models.HistoryBar, error) {
	return s.sf.do(ctx, symbol, days, s.query)
}

func (s *CHHistory) query(ctx context.Context, symbol string, days int) ([]models.HistoryBar, error) {
	start := time.Now()
	const q = `
        SELECT close, iv30
        FROM daily_iv_history FINAL
        WHERE symbol = ?
        ORDER BY date DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, q, symbol, days)
	if err != nil {
		s.l.Error("clickhouse get_history query error",
			applogger.String("symbol", symbol),
			applogger.Int("days", days),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("get history: %w", err)
	}
	defer rows.Close()

	out := make([]models.HistoryBar, 0, days)
	for rows.Next() {
		var b models.HistoryBar
		if err := rows.Scan(&b.Close, &b.IV30); err != nil {
			s.l.Error("clickhouse get_history scan error",
				applogger.String("symbol", symbol),
				applogger.Error(err),
			)
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		s.l.Error("clickhouse get_history rows error",
			applogger.String("symbol", symbol),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("rows: %w", err)
	}

	reverse(out)
	s.l.Debug("clickhouse get_history",
		applogger.String("symbol", symbol),
		applogger.Int("rows", len(out)),
		applogger.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}
