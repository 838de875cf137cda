package contract

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"gigflow/ledger"
)

// ErrNotFound hides contracts the caller is not a party to.
var ErrNotFound = errors.New("contract: not found")

// Querier is satisfied by pgxpool.Pool.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository serves the read side of contracts and jobs for a profile.
type Repository struct {
	db Querier
}

func NewRepository(db Querier) *Repository {
	return &Repository{db: db}
}

// GetForProfile returns the contract if profileID is its client or contractor.
func (r *Repository) GetForProfile(ctx context.Context, contractID, profileID int64) (ledger.Contract, error) {
	const query = `
		SELECT id, terms, status, client_id, contractor_id
		FROM contracts
		WHERE id = $1 AND (client_id = $2 OR contractor_id = $2)
	`

	var c ledger.Contract
	err := r.db.QueryRow(ctx, query, contractID, profileID).Scan(&c.ID, &c.Terms, &c.Status, &c.ClientID, &c.ContractorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Contract{}, ErrNotFound
		}
		return ledger.Contract{}, fmt.Errorf("contract: get: %w", err)
	}
	return c, nil
}

// ListActive returns the profile's contracts that are not terminated.
func (r *Repository) ListActive(ctx context.Context, profileID int64) ([]ledger.Contract, error) {
	const query = `
		SELECT id, terms, status, client_id, contractor_id
		FROM contracts
		WHERE (client_id = $1 OR contractor_id = $1)
		  AND status <> 'terminated'
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, query, profileID)
	if err != nil {
		return nil, fmt.Errorf("contract: list active: %w", err)
	}
	defer rows.Close()

	contracts := make([]ledger.Contract, 0)
	for rows.Next() {
		var c ledger.Contract
		if err := rows.Scan(&c.ID, &c.Terms, &c.Status, &c.ClientID, &c.ContractorID); err != nil {
			return nil, fmt.Errorf("contract: scan contract: %w", err)
		}
		contracts = append(contracts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contract: list active: %w", err)
	}
	return contracts, nil
}

// ListUnpaidJobs returns unpaid jobs under the profile's in-progress contracts.
func (r *Repository) ListUnpaidJobs(ctx context.Context, profileID int64) ([]ledger.Job, error) {
	const query = `
		SELECT j.id, j.description, j.price, COALESCE(j.paid, false), j.payment_date, j.contract_id
		FROM jobs j
		JOIN contracts c ON c.id = j.contract_id
		WHERE j.paid IS NOT TRUE
		  AND c.status = 'in_progress'
		  AND (c.client_id = $1 OR c.contractor_id = $1)
		ORDER BY j.id
	`

	rows, err := r.db.Query(ctx, query, profileID)
	if err != nil {
		return nil, fmt.Errorf("contract: list unpaid jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]ledger.Job, 0)
	for rows.Next() {
		var j ledger.Job
		if err := rows.Scan(&j.ID, &j.Description, &j.Price, &j.Paid, &j.PaymentDate, &j.ContractID); err != nil {
			return nil, fmt.Errorf("contract: scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contract: list unpaid jobs: %w", err)
	}
	return jobs, nil
}
