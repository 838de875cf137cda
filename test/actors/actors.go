package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"gigflow/ledger"
)

// Ledger is the engine surface the money-moving actors drive.
type Ledger interface {
	PayJob(ctx context.Context, jobID, payerProfileID int64) error
	Deposit(ctx context.Context, sourceProfileID, destProfileID, amount int64) error
}

// tolerated reports whether err is an outcome the engine may legitimately
// return under contention: a rejection, a hidden row or a store fault.
func tolerated(err error) bool {
	if _, ok := ledger.IsRejection(err); ok {
		return true
	}
	return errors.Is(err, ledger.ErrNotFound) || errors.Is(err, ledger.ErrStoreUnavailable)
}

func done(ctx context.Context, stop <-chan struct{}) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-stop:
		return true, nil
	default:
		return false, nil
	}
}

// Payer races other payers on unpaid jobs. One in ten attempts uses a
// foreign client to exercise the not-found path.
func Payer(ctx context.Context, pool *pgxpool.Pool, engine Ledger, stop <-chan struct{}) error {
	for {
		if stopped, err := done(ctx, stop); stopped {
			return err
		}

		var jobID, clientID int64
		err := pool.QueryRow(ctx, `
			SELECT j.id, c.client_id
			FROM jobs j
			JOIN contracts c ON c.id = j.contract_id
			WHERE j.paid IS NOT TRUE
			ORDER BY random()
			LIMIT 1
		`).Scan(&jobID, &clientID)
		if err != nil {
			// no unpaid job yet, or chaos terminated this backend
			time.Sleep(20 * time.Millisecond)
			continue
		}
		if rand.Intn(10) == 0 {
			clientID++
		}

		if err := engine.PayJob(ctx, jobID, clientID); err != nil && !tolerated(err) {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("payer job %d client %d: %w", jobID, clientID, err)
		}
		time.Sleep(time.Duration(5+rand.Intn(15)) * time.Millisecond)
	}
}

// Depositor moves small amounts between random clients in both directions,
// so opposing transfers contend for the same pair of rows.
func Depositor(ctx context.Context, engine Ledger, clientIDs []int64, stop <-chan struct{}) error {
	if len(clientIDs) < 2 {
		return errors.New("depositor needs at least two clients")
	}
	for {
		if stopped, err := done(ctx, stop); stopped {
			return err
		}

		from := clientIDs[rand.Intn(len(clientIDs))]
		to := clientIDs[rand.Intn(len(clientIDs))]
		amount := int64(1 + rand.Intn(50))
		if rand.Intn(20) == 0 {
			amount = 0
		}

		if err := engine.Deposit(ctx, from, to, amount); err != nil && !tolerated(err) {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("depositor %d->%d amount %d: %w", from, to, amount, err)
		}
		time.Sleep(time.Duration(5+rand.Intn(15)) * time.Millisecond)
	}
}

// JobCreator keeps the unpaid backlog alive by adding jobs to random contracts.
func JobCreator(ctx context.Context, pool *pgxpool.Pool, contractIDs []int64, stop <-chan struct{}) error {
	for {
		if stopped, err := done(ctx, stop); stopped {
			return err
		}

		contractID := contractIDs[rand.Intn(len(contractIDs))]
		_, _ = pool.Exec(ctx, `INSERT INTO jobs (description, price, contract_id) VALUES ('stress', $1, $2)`,
			int64(1+rand.Intn(300)), contractID)
		time.Sleep(time.Duration(30+rand.Intn(40)) * time.Millisecond)
	}
}

// ContractFlipper moves contracts between new and in_progress so payments
// race with status changes.
func ContractFlipper(ctx context.Context, pool *pgxpool.Pool, contractIDs []int64, stop <-chan struct{}) error {
	for {
		if stopped, err := done(ctx, stop); stopped {
			return err
		}

		contractID := contractIDs[rand.Intn(len(contractIDs))]
		_, _ = pool.Exec(ctx, `
			UPDATE contracts
			SET status = CASE WHEN status = 'new' THEN 'in_progress' ELSE 'new' END, updated_at = now()
			WHERE id = $1 AND status <> 'terminated'
		`, contractID)
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}
