package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"gigflow/logger"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Options struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	return o
}

// BatchResult counts what one ProcessBatch call did.
type BatchResult struct {
	Published int
	Retrying  int
	Dead      int
}

func (b BatchResult) Total() int { return b.Published + b.Retrying + b.Dead }

// Relay moves committed outbox rows to a Publisher. Rows are claimed with
// FOR UPDATE SKIP LOCKED so several relays can share one table.
type Relay struct {
	pool TxBeginner
	pub  Publisher
	log  *logger.Logger
	opts Options
}

func NewRelay(pool TxBeginner, pub Publisher, log *logger.Logger, opts Options) *Relay {
	if log == nil {
		log = logger.Nop()
	}
	return &Relay{
		pool: pool,
		pub:  pub,
		log:  log.With("service", "OutboxRelay"),
		opts: opts.withDefaults(),
	}
}

// Run polls until ctx is cancelled. A full batch that left nothing pending is
// followed immediately by another so a backlog drains without waiting for the
// next tick. Rows that failed and stay pending wait for the tick.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	r.log.Info("outbox relay started", "interval", r.opts.Interval, "batch_size", r.opts.BatchSize)
	for {
		res, err := r.ProcessBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.Warn("outbox batch failed", "error", err)
		}
		if err == nil && res.Retrying == 0 && res.Total() == r.opts.BatchSize {
			continue
		}

		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessBatch claims up to BatchSize pending rows, publishes each and records
// the outcome in the same transaction.
func (r *Relay) ProcessBatch(ctx context.Context) (BatchResult, error) {
	var res BatchResult

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	msgs, err := claimPending(ctx, tx, r.opts.BatchSize)
	if err != nil {
		return res, err
	}

	for _, msg := range msgs {
		pubErr := r.pub.Publish(ctx, msg)
		if pubErr == nil {
			if _, err := tx.Exec(ctx, `
				UPDATE outbox
				SET status = 'processed', attempts = attempts + 1, last_attempt = now(), processed_at = now(), last_error = NULL
				WHERE id = $1
			`, msg.ID); err != nil {
				return BatchResult{}, fmt.Errorf("outbox: mark processed: %w", err)
			}
			res.Published++
			continue
		}

		status := StatusPending
		if msg.Attempts+1 >= r.opts.MaxAttempts {
			status = StatusDead
		}
		if _, err := tx.Exec(ctx, `
			UPDATE outbox
			SET status = $2, attempts = attempts + 1, last_attempt = now(), last_error = $3
			WHERE id = $1
		`, msg.ID, status, pubErr.Error()); err != nil {
			return BatchResult{}, fmt.Errorf("outbox: record failure: %w", err)
		}

		if status == StatusDead {
			res.Dead++
			r.log.Error("outbox message dead-lettered", "id", msg.ID, "topic", msg.Topic, "attempts", msg.Attempts+1, "error", pubErr)
		} else {
			res.Retrying++
			r.log.Warn("outbox publish failed", "id", msg.ID, "topic", msg.Topic, "attempts", msg.Attempts+1, "error", pubErr)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return BatchResult{}, fmt.Errorf("outbox: commit tx: %w", err)
	}
	return res, nil
}

func claimPending(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error) {
	rows, err := tx.Query(ctx, `
		SELECT id::text, topic, payload::text, status, attempts, created_at
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim pending: %w", err)
	}
	defer rows.Close()

	msgs := make([]Message, 0, limit)
	for rows.Next() {
		var (
			m       Message
			payload string
		)
		if err := rows.Scan(&m.ID, &m.Topic, &payload, &m.Status, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan message: %w", err)
		}
		m.Payload = []byte(payload)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: iterate pending: %w", err)
	}
	return msgs, nil
}
