// Package sqlitestore is an embedded ledger.Store backed by a single SQLite
// file. Writers are serialized: every transaction starts with BEGIN IMMEDIATE
// over one shared connection, so the reservation taken by a read is the same
// as a row lock held until commit.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"gigflow/ledger"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema. The call
// is idempotent.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}

	// One writer at a time; a second connection would only ever see SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: connect: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the handle for fixtures and direct assertions.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Transaction(ctx context.Context, fn func(tx ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapError("commit tx", err)
	}
	return nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) GetProfile(ctx context.Context, id int64) (ledger.Profile, error) {
	const query = `
		SELECT id, first_name, last_name, profession, type, balance
		FROM profiles
		WHERE id = ?
	`

	var p ledger.Profile
	if err := t.tx.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.FirstName, &p.LastName, &p.Profession, &p.Type, &p.Balance); err != nil {
		return ledger.Profile{}, mapError("get profile", err)
	}
	return p, nil
}

func (t *sqliteTx) GetJobWithContract(ctx context.Context, jobID, clientID int64) (ledger.JobWithContract, error) {
	const query = `
		SELECT j.id, j.description, j.price, j.paid, j.payment_date, j.contract_id,
		       c.id, c.terms, c.status, c.client_id, c.contractor_id
		FROM jobs j
		JOIN contracts c ON c.id = j.contract_id
		WHERE j.id = ? AND c.client_id = ?
	`

	var (
		jc          ledger.JobWithContract
		paid        sql.NullBool
		paymentDate sql.NullTime
	)
	err := t.tx.QueryRowContext(ctx, query, jobID, clientID).Scan(
		&jc.Job.ID,
		&jc.Job.Description,
		&jc.Job.Price,
		&paid,
		&paymentDate,
		&jc.Job.ContractID,
		&jc.Contract.ID,
		&jc.Contract.Terms,
		&jc.Contract.Status,
		&jc.Contract.ClientID,
		&jc.Contract.ContractorID,
	)
	if err != nil {
		return ledger.JobWithContract{}, mapError("get job with contract", err)
	}

	jc.Job.Paid = paid.Valid && paid.Bool
	if paymentDate.Valid {
		ts := paymentDate.Time.UTC()
		jc.Job.PaymentDate = &ts
	}
	return jc, nil
}

func (t *sqliteTx) SumUnpaidJobPrices(ctx context.Context, clientID int64, status ledger.ContractStatus) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(j.price), 0)
		FROM jobs j
		JOIN contracts c ON c.id = j.contract_id
		WHERE (j.paid IS NULL OR j.paid = 0)
		  AND c.client_id = ?
		  AND c.status = ?
	`

	var total int64
	if err := t.tx.QueryRowContext(ctx, query, clientID, string(status)).Scan(&total); err != nil {
		return 0, mapError("sum unpaid jobs", err)
	}
	return total, nil
}

func (t *sqliteTx) SaveProfile(ctx context.Context, p ledger.Profile) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE profiles SET balance = ? WHERE id = ?`, p.Balance, p.ID)
	if err != nil {
		return mapError("save profile", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (t *sqliteTx) SaveJob(ctx context.Context, j ledger.Job) error {
	var paymentDate any
	if j.PaymentDate != nil {
		paymentDate = j.PaymentDate.UTC()
	}

	const query = `
		UPDATE jobs
		SET paid = ?, payment_date = ?
		WHERE id = ? AND (paid IS NULL OR paid = 0)
	`
	res, err := t.tx.ExecContext(ctx, query, j.Paid, paymentDate, j.ID)
	if err != nil {
		return mapError("save job", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrAlreadyPaid
	}
	return nil
}

func (t *sqliteTx) EnqueueEvent(ctx context.Context, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal outbox payload: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, `INSERT INTO outbox (id, topic, payload) VALUES (?, ?, ?)`, uuid.NewString(), topic, string(body)); err != nil {
		return mapError("enqueue outbox", err)
	}
	return nil
}

func mapError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrNotFound
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %s: %s", ledger.ErrInvariantViolation, op, sqliteErr.Error())
	}

	return fmt.Errorf("sqlitestore: %s: %w", op, err)
}

// Event is an outbox row as written by the engine.
type Event struct {
	ID        string
	Topic     string
	Payload   map[string]any
	CreatedAt time.Time
}

// Events returns outbox rows for topic in insertion order. An empty topic
// returns every row.
func (s *Store) Events(ctx context.Context, topic string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic, payload, created_at
		FROM outbox
		WHERE ? = '' OR topic = ?
		ORDER BY seq
	`, topic, topic)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e   Event
			raw string
		)
		if err := rows.Scan(&e.ID, &e.Topic, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &e.Payload); err != nil {
			return nil, fmt.Errorf("sqlitestore: decode event %s: %w", e.ID, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
