package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository is the PostgreSQL Store. Rows read through it are locked with
// SELECT ... FOR UPDATE for the lifetime of the transaction.
type Repository struct {
	pool TxBeginner
}

func NewRepository(pool TxBeginner) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapPGError("commit tx", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetProfile(ctx context.Context, id int64) (Profile, error) {
	const query = `
		SELECT id, first_name, last_name, profession, type, balance
		FROM profiles
		WHERE id = $1
		FOR UPDATE
	`

	var p Profile
	if err := t.tx.QueryRow(ctx, query, id).Scan(&p.ID, &p.FirstName, &p.LastName, &p.Profession, &p.Type, &p.Balance); err != nil {
		return Profile{}, mapPGError("get profile", err)
	}
	return p, nil
}

func (t *pgTx) GetJobWithContract(ctx context.Context, jobID, clientID int64) (JobWithContract, error) {
	const query = `
		SELECT j.id, j.description, j.price, COALESCE(j.paid, false), j.payment_date, j.contract_id,
		       c.id, c.terms, c.status, c.client_id, c.contractor_id
		FROM jobs j
		JOIN contracts c ON c.id = j.contract_id
		WHERE j.id = $1 AND c.client_id = $2
		FOR UPDATE OF j
		FOR SHARE OF c
	`

	var jc JobWithContract
	err := t.tx.QueryRow(ctx, query, jobID, clientID).Scan(
		&jc.Job.ID,
		&jc.Job.Description,
		&jc.Job.Price,
		&jc.Job.Paid,
		&jc.Job.PaymentDate,
		&jc.Job.ContractID,
		&jc.Contract.ID,
		&jc.Contract.Terms,
		&jc.Contract.Status,
		&jc.Contract.ClientID,
		&jc.Contract.ContractorID,
	)
	if err != nil {
		return JobWithContract{}, mapPGError("get job with contract", err)
	}
	return jc, nil
}

func (t *pgTx) SumUnpaidJobPrices(ctx context.Context, clientID int64, status ContractStatus) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(j.price), 0)::bigint
		FROM jobs j
		JOIN contracts c ON c.id = j.contract_id
		WHERE j.paid IS NOT TRUE
		  AND c.client_id = $1
		  AND c.status = $2
	`

	var total int64
	if err := t.tx.QueryRow(ctx, query, clientID, string(status)).Scan(&total); err != nil {
		return 0, mapPGError("sum unpaid jobs", err)
	}
	return total, nil
}

func (t *pgTx) SaveProfile(ctx context.Context, p Profile) error {
	const query = `
		UPDATE profiles
		SET balance = $2,
		    updated_at = now()
		WHERE id = $1
	`

	tag, err := t.tx.Exec(ctx, query, p.ID, p.Balance)
	if err != nil {
		return mapPGError("save profile", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) SaveJob(ctx context.Context, j Job) error {
	const query = `
		UPDATE jobs
		SET paid = $2,
		    payment_date = $3,
		    updated_at = now()
		WHERE id = $1 AND paid IS NOT TRUE
	`

	tag, err := t.tx.Exec(ctx, query, j.ID, j.Paid, j.PaymentDate)
	if err != nil {
		return mapPGError("save job", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyPaid
	}
	return nil
}

func (t *pgTx) EnqueueEvent(ctx context.Context, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ledger: marshal outbox payload: %w", err)
	}

	const query = `INSERT INTO outbox (id, topic, payload) VALUES ($1, $2, $3::jsonb)`
	if _, err := t.tx.Exec(ctx, query, uuid.NewString(), topic, body); err != nil {
		return mapPGError("enqueue outbox", err)
	}
	return nil
}

func mapPGError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23514" {
		return fmt.Errorf("%w: %s: %s", ErrInvariantViolation, op, pgErr.Message)
	}

	return fmt.Errorf("ledger: %s: %w", op, err)
}
