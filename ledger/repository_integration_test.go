package ledger_test

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"gigflow/ledger"
	"gigflow/test/infra"
)

// openPostgres applies migrations into a throwaway schema of DATABASE_URL.
func openPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, cleanup, err := infra.ApplyMigrations(ctx, dsn, true)
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = cleanup(ctx)
	})
	return pool
}

func seedProfile(t *testing.T, pool *pgxpool.Pool, typ ledger.ProfileType, balance int64) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(), `
		INSERT INTO profiles (first_name, last_name, profession, type, balance)
		VALUES ('Test', $1, 'Tester', $1, $2) RETURNING id
	`, string(typ), balance).Scan(&id)
	require.NoError(t, err)
	return id
}

func seedContract(t *testing.T, pool *pgxpool.Pool, clientID, contractorID int64, status ledger.ContractStatus) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(), `
		INSERT INTO contracts (terms, status, client_id, contractor_id)
		VALUES ('terms', $1, $2, $3) RETURNING id
	`, string(status), clientID, contractorID).Scan(&id)
	require.NoError(t, err)
	return id
}

func seedJob(t *testing.T, pool *pgxpool.Pool, contractID, price int64) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(), `
		INSERT INTO jobs (description, price, contract_id) VALUES ('work', $1, $2) RETURNING id
	`, price, contractID).Scan(&id)
	require.NoError(t, err)
	return id
}

func pgBalance(t *testing.T, pool *pgxpool.Pool, id int64) int64 {
	t.Helper()
	var balance int64
	require.NoError(t, pool.QueryRow(context.Background(), `SELECT balance FROM profiles WHERE id = $1`, id).Scan(&balance))
	return balance
}

func TestRepository_PayJob_Integration(t *testing.T) {
	pool := openPostgres(t)
	ctx := context.Background()
	svc := ledger.NewService(ledger.NewRepository(pool), nil)

	client := seedProfile(t, pool, ledger.ProfileTypeClient, 500)
	contractor := seedProfile(t, pool, ledger.ProfileTypeContractor, 0)
	contract := seedContract(t, pool, client, contractor, ledger.ContractStatusInProgress)
	job := seedJob(t, pool, contract, 200)

	require.NoError(t, svc.PayJob(ctx, job, client))
	require.ErrorIs(t, svc.PayJob(ctx, job, client), ledger.ErrAlreadyPaid)
	require.ErrorIs(t, svc.PayJob(ctx, job, contractor), ledger.ErrNotFound)

	require.Equal(t, int64(300), pgBalance(t, pool, client))
	require.Equal(t, int64(200), pgBalance(t, pool, contractor))

	var events int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE topic = $1 AND (payload->>'job_id')::bigint = $2`, ledger.TopicJobPaid, job).Scan(&events))
	require.Equal(t, 1, events)

	// The schema refuses to reopen a paid job even outside the engine.
	_, err := pool.Exec(ctx, `UPDATE jobs SET paid = false WHERE id = $1`, job)
	require.Error(t, err)
}

func TestRepository_ConcurrentPayJob_Integration(t *testing.T) {
	pool := openPostgres(t)
	ctx := context.Background()
	svc := ledger.NewService(ledger.NewRepository(pool), nil)

	client := seedProfile(t, pool, ledger.ProfileTypeClient, 1000)
	contractor := seedProfile(t, pool, ledger.ProfileTypeContractor, 0)
	job := seedJob(t, pool, seedContract(t, pool, client, contractor, ledger.ContractStatusInProgress), 400)

	var wins atomic.Int64
	var g errgroup.Group
	for i := 0; i < 12; i++ {
		g.Go(func() error {
			err := svc.PayJob(ctx, job, client)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ledger.ErrAlreadyPaid):
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, int64(1), wins.Load())
	require.Equal(t, int64(600), pgBalance(t, pool, client))
	require.Equal(t, int64(400), pgBalance(t, pool, contractor))
}

func TestRepository_OpposingDeposits_Integration(t *testing.T) {
	pool := openPostgres(t)
	ctx := context.Background()
	svc := ledger.NewService(ledger.NewRepository(pool), nil)

	a := seedProfile(t, pool, ledger.ProfileTypeClient, 10_000)
	b := seedProfile(t, pool, ledger.ProfileTypeClient, 10_000)
	contractor := seedProfile(t, pool, ledger.ProfileTypeContractor, 0)
	seedJob(t, pool, seedContract(t, pool, a, contractor, ledger.ContractStatusInProgress), 1_000_000)
	seedJob(t, pool, seedContract(t, pool, b, contractor, ledger.ContractStatusInProgress), 1_000_000)

	var g errgroup.Group
	for i := 0; i < 40; i++ {
		g.Go(func() error {
			if i%2 == 0 {
				return svc.Deposit(ctx, a, b, 25)
			}
			return svc.Deposit(ctx, b, a, 25)
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, int64(10_000), pgBalance(t, pool, a))
	require.Equal(t, int64(10_000), pgBalance(t, pool, b))
}
