package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// Option configures the pool.
type Option func(*pgxpool.Config)

// WithMaxConns bounds the pool size.
func WithMaxConns(max, min int32) Option {
	return func(c *pgxpool.Config) {
		if max > 0 {
			c.MaxConns = max
		}
		if min >= 0 && min <= c.MaxConns {
			c.MinConns = min
		}
	}
}

// WithConnLifetime sets max connection lifetime and idle time.
func WithConnLifetime(lifetime, idle time.Duration) Option {
	return func(c *pgxpool.Config) {
		if lifetime > 0 {
			c.MaxConnLifetime = lifetime
		}
		if idle > 0 {
			c.MaxConnIdleTime = idle
		}
	}
}

// ParseConfig parses dsn and applies opts without connecting.
func ParseConfig(dsn string, opts ...Option) (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	for _, opt := range opts {
		opt(config)
	}
	return config, nil
}

// NewPool creates a new Postgres connection pool and verifies it with a ping.
func NewPool(ctx context.Context, dsn string, opts ...Option) (*Pool, error) {
	config, err := ParseConfig(dsn, opts...)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// InitSchema runs idempotent DDL statements.
func (p *Pool) InitSchema(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := p.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	p.Pool.Close()
	return nil
}
