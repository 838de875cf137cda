package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions tunes the pool and the session settings applied to every
// connection it opens.
type PoolOptions struct {
	MaxConns int
	// LockTimeout bounds how long a statement waits for a row lock.
	LockTimeout time.Duration
	// IdleInTxTimeout makes the server end sessions that sit idle inside an
	// open transaction.
	IdleInTxTimeout time.Duration
}

// NewPool constructs a pgx connection pool using the provided connection string.
func NewPool(ctx context.Context, connString string, opts PoolOptions) (*pgxpool.Pool, error) {
	if connString == "" {
		return nil, fmt.Errorf("db: empty connection string")
	}

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("db: parse config: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = int32(opts.MaxConns)
	}
	cfg.MaxConnIdleTime = 30 * time.Second
	cfg.MaxConnLifetime = 5 * time.Minute

	settings := sessionSettings(opts)
	if len(settings) > 0 {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			for _, stmt := range settings {
				if _, err := conn.Exec(ctx, stmt); err != nil {
					return fmt.Errorf("db: %s: %w", stmt, err)
				}
			}
			return nil
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db: connect pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	return pool, nil
}

func sessionSettings(opts PoolOptions) []string {
	var out []string
	if opts.LockTimeout > 0 {
		out = append(out, fmt.Sprintf("SET lock_timeout = %d", opts.LockTimeout.Milliseconds()))
	}
	if opts.IdleInTxTimeout > 0 {
		out = append(out, fmt.Sprintf("SET idle_in_transaction_session_timeout = %d", opts.IdleInTxTimeout.Milliseconds()))
	}
	return out
}
