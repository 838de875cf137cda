package report

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	DefaultClientLimit = 2
	MaxClientLimit     = 100

	dateLayout = "2006-01-02"
)

var (
	ErrInvalidRange = errors.New("report: invalid date range")
	ErrInvalidLimit = errors.New("report: invalid limit")
)

// Range is a half-open UTC interval [Start, End).
type Range struct {
	Start time.Time
	End   time.Time
}

// ParseRange reads YYYY-MM-DD bounds. The end date is inclusive, so the
// returned range stops at midnight after it.
func ParseRange(start, end string) (Range, error) {
	s, err := time.ParseInLocation(dateLayout, strings.TrimSpace(start), time.UTC)
	if err != nil {
		return Range{}, ErrInvalidRange
	}
	e, err := time.ParseInLocation(dateLayout, strings.TrimSpace(end), time.UTC)
	if err != nil {
		return Range{}, ErrInvalidRange
	}
	if e.Before(s) {
		return Range{}, ErrInvalidRange
	}
	return Range{Start: s, End: e.AddDate(0, 0, 1)}, nil
}

type ProfessionEarnings struct {
	Profession    string `json:"profession"`
	TotalEarnings int64  `json:"total_earnings"`
}

type ClientSpend struct {
	ID       int64  `json:"id"`
	Paid     int64  `json:"paid"`
	FullName string `json:"fullName"`
}

// Querier is satisfied by pgxpool.Pool.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository aggregates paid jobs for the admin reports.
type Repository struct {
	db Querier
}

func NewRepository(db Querier) *Repository {
	return &Repository{db: db}
}

// BestProfession returns the contractor profession that earned the most from
// jobs paid within r. ok is false when nothing was paid in the range.
func (r *Repository) BestProfession(ctx context.Context, rng Range) (ProfessionEarnings, bool, error) {
	const query = `
		SELECT p.profession, SUM(j.price)::bigint AS total_earnings
		FROM jobs j
		JOIN contracts c ON c.id = j.contract_id
		JOIN profiles p ON p.id = c.contractor_id
		WHERE j.paid IS TRUE
		  AND j.payment_date >= $1
		  AND j.payment_date < $2
		GROUP BY p.profession
		ORDER BY total_earnings DESC, p.profession
		LIMIT 1
	`

	var out ProfessionEarnings
	err := r.db.QueryRow(ctx, query, rng.Start, rng.End).Scan(&out.Profession, &out.TotalEarnings)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProfessionEarnings{}, false, nil
		}
		return ProfessionEarnings{}, false, fmt.Errorf("report: best profession: %w", err)
	}
	return out, true, nil
}

// BestClients returns the clients who paid the most for jobs paid within r,
// highest first.
func (r *Repository) BestClients(ctx context.Context, rng Range, limit int) ([]ClientSpend, error) {
	if limit <= 0 {
		limit = DefaultClientLimit
	}
	if limit > MaxClientLimit {
		limit = MaxClientLimit
	}

	const query = `
		SELECT p.id, p.first_name, p.last_name, SUM(j.price)::bigint AS paid
		FROM jobs j
		JOIN contracts c ON c.id = j.contract_id
		JOIN profiles p ON p.id = c.client_id
		WHERE j.paid IS TRUE
		  AND j.payment_date >= $1
		  AND j.payment_date < $2
		GROUP BY p.id, p.first_name, p.last_name
		ORDER BY paid DESC, p.id
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, rng.Start, rng.End, limit)
	if err != nil {
		return nil, fmt.Errorf("report: best clients: %w", err)
	}
	defer rows.Close()

	clients := make([]ClientSpend, 0, limit)
	for rows.Next() {
		var (
			c           ClientSpend
			first, last string
		)
		if err := rows.Scan(&c.ID, &first, &last, &c.Paid); err != nil {
			return nil, fmt.Errorf("report: scan client: %w", err)
		}
		c.FullName = first + " " + last
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("report: best clients: %w", err)
	}
	return clients, nil
}

// ParseLimit reads the optional limit query value.
func ParseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultClientLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, ErrInvalidLimit
	}
	return n, nil
}
