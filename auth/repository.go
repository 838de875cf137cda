package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"gigflow/ledger"
)

// ErrProfileNotFound signals that the profile does not exist.
var ErrProfileNotFound = errors.New("auth: profile not found")

// Repository handles data access for identity resolution.
type Repository interface {
	GetProfileByID(ctx context.Context, profileID int64) (ledger.CallerProfile, error)
}

// Querier is satisfied by pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	db Querier
}

func NewRepository(db Querier) *PGRepository {
	return &PGRepository{db: db}
}

func (r *PGRepository) GetProfileByID(ctx context.Context, profileID int64) (ledger.CallerProfile, error) {
	const selectSQL = `
		SELECT id, type
		FROM profiles
		WHERE id = $1
	`

	var p ledger.CallerProfile
	if err := r.db.QueryRow(ctx, selectSQL, profileID).Scan(&p.ID, &p.Type); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.CallerProfile{}, ErrProfileNotFound
		}
		return ledger.CallerProfile{}, fmt.Errorf("auth: get profile by id: %w", err)
	}
	return p, nil
}
