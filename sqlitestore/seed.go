package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"

	"gigflow/ledger"
)

// CreateProfile inserts p. A zero ID lets the database assign one.
func (s *Store) CreateProfile(ctx context.Context, p ledger.Profile) (ledger.Profile, error) {
	var id any
	if p.ID != 0 {
		id = p.ID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, first_name, last_name, profession, type, balance)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, p.FirstName, p.LastName, p.Profession, string(p.Type), p.Balance)
	if err != nil {
		return ledger.Profile{}, fmt.Errorf("sqlitestore: create profile: %w", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return ledger.Profile{}, fmt.Errorf("sqlitestore: create profile: %w", err)
	}
	return p, nil
}

func (s *Store) CreateContract(ctx context.Context, c ledger.Contract) (ledger.Contract, error) {
	var id any
	if c.ID != 0 {
		id = c.ID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO contracts (id, terms, status, client_id, contractor_id)
		VALUES (?, ?, ?, ?, ?)
	`, id, c.Terms, string(c.Status), c.ClientID, c.ContractorID)
	if err != nil {
		return ledger.Contract{}, fmt.Errorf("sqlitestore: create contract: %w", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return ledger.Contract{}, fmt.Errorf("sqlitestore: create contract: %w", err)
	}
	return c, nil
}

func (s *Store) CreateJob(ctx context.Context, j ledger.Job) (ledger.Job, error) {
	var id, paymentDate any
	if j.ID != 0 {
		id = j.ID
	}
	if j.PaymentDate != nil {
		paymentDate = j.PaymentDate.UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, description, price, paid, payment_date, contract_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, j.Description, j.Price, j.Paid, paymentDate, j.ContractID)
	if err != nil {
		return ledger.Job{}, fmt.Errorf("sqlitestore: create job: %w", err)
	}
	if j.ID, err = res.LastInsertId(); err != nil {
		return ledger.Job{}, fmt.Errorf("sqlitestore: create job: %w", err)
	}
	return j, nil
}

// Profile reads a profile outside any transaction.
func (s *Store) Profile(ctx context.Context, id int64) (ledger.Profile, error) {
	var p ledger.Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, profession, type, balance
		FROM profiles WHERE id = ?
	`, id).Scan(&p.ID, &p.FirstName, &p.LastName, &p.Profession, &p.Type, &p.Balance)
	if err != nil {
		return ledger.Profile{}, mapError("read profile", err)
	}
	return p, nil
}

// Job reads a job outside any transaction.
func (s *Store) Job(ctx context.Context, id int64) (ledger.Job, error) {
	var (
		j           ledger.Job
		paid        sql.NullBool
		paymentDate sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, description, price, paid, payment_date, contract_id
		FROM jobs WHERE id = ?
	`, id).Scan(&j.ID, &j.Description, &j.Price, &paid, &paymentDate, &j.ContractID)
	if err != nil {
		return ledger.Job{}, mapError("read job", err)
	}
	j.Paid = paid.Valid && paid.Bool
	if paymentDate.Valid {
		ts := paymentDate.Time.UTC()
		j.PaymentDate = &ts
	}
	return j, nil
}

// TotalBalance sums every profile balance.
func (s *Store) TotalBalance(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(balance), 0) FROM profiles`).Scan(&total); err != nil {
		return 0, fmt.Errorf("sqlitestore: total balance: %w", err)
	}
	return total, nil
}
