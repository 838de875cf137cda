package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Harness owns a migrated database for one test run: the container (when one
// was started), the pgx pool and the schema teardown.
type Harness struct {
	container *PGContainer
	pool      *pgxpool.Pool
	dsn       string
	teardown  func(context.Context) error
}

// NewHarness starts (or reuses, see StartPostgres16) a Postgres 16 database
// and applies the migrations. A reused database gets an isolated schema.
func NewHarness(ctx context.Context, overrideDSN string) (*Harness, error) {
	pgC, dsn, err := StartPostgres16(ctx, overrideDSN)
	if err != nil {
		return nil, fmt.Errorf("start postgres: %w", err)
	}

	isolate := pgC.C == nil
	pool, teardown, err := ApplyMigrations(ctx, dsn, isolate)
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, err
	}

	return &Harness{
		container: pgC,
		pool:      pool,
		dsn:       dsn,
		teardown:  teardown,
	}, nil
}

// Pool exposes the migrated pgx pool.
func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// NewPool opens a second pool on the same database and schema, tagged with
// appName so chaos can target it without touching the harness pool.
func (h *Harness) NewPool(ctx context.Context, appName string) (*pgxpool.Pool, error) {
	cfg := h.pool.Config()
	cfg.ConnConfig.RuntimeParams["application_name"] = appName
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s pool: %w", appName, err)
	}
	return pool, nil
}

// DSN returns the connection string for direct connections (e.g., chaos).
func (h *Harness) DSN() string {
	return h.dsn
}

// Close drops the isolated schema and stops the container.
func (h *Harness) Close(ctx context.Context) error {
	if h.pool != nil {
		h.pool.Close()
	}
	var err error
	if h.teardown != nil {
		err = h.teardown(ctx)
	}
	if termErr := h.container.Terminate(ctx); termErr != nil && err == nil {
		err = termErr
	}
	return err
}

// Reset truncates the ledger tables to give the next epoch a clean slate.
func (h *Harness) Reset(ctx context.Context) error {
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reset begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `TRUNCATE TABLE outbox, jobs, contracts, profiles RESTART IDENTITY CASCADE`); err != nil {
		return fmt.Errorf("reset truncate: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reset commit: %w", err)
	}
	return nil
}
