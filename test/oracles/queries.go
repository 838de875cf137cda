package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a query that must return no rows while the ledger is consistent.
type Oracle struct {
	Name string
	SQL  string
	Args []any
}

// All returns the ledger oracles. expectedTotal is the sum of all balances at
// seed time; no operation may create or destroy money.
func All(expectedTotal int64) []Oracle {
	return []Oracle{
		{
			Name: "O1_non_negative_balance",
			SQL:  `SELECT id, balance FROM profiles WHERE balance < 0`,
		},
		{
			Name: "O2_conserved_total",
			SQL: `SELECT COALESCE(SUM(balance), 0) AS total FROM profiles
                  HAVING COALESCE(SUM(balance), 0) <> $1`,
			Args: []any{expectedTotal},
		},
		{
			Name: "O3_paid_job_has_payment_date",
			SQL: `SELECT id FROM jobs
                  WHERE (paid IS TRUE AND payment_date IS NULL)
                     OR (paid IS NOT TRUE AND payment_date IS NOT NULL)`,
		},
		{
			Name: "O4_one_payment_event_per_paid_job",
			SQL: `SELECT job_id, paid, events FROM job_paid_event_counts
                  WHERE (paid IS TRUE AND events <> 1)
                     OR (paid IS NOT TRUE AND events <> 0)`,
		},
		{
			Name: "O5_outbox_not_stale",
			SQL: `SELECT id, topic, attempts FROM outbox
                  WHERE status = 'pending'
                    AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O6_paid_job_trigger_present",
			SQL: `SELECT 'missing_jobs_paid_immutable_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'jobs_paid_immutable')`,
		},
		{
			Name: "O7_contract_party_types",
			SQL: `SELECT c.id FROM contracts c
                  JOIN profiles cl ON cl.id = c.client_id
                  JOIN profiles co ON co.id = c.contractor_id
                  WHERE cl.type <> 'client' OR co.type <> 'contractor'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool, expectedTotal int64) (string, string, error) {
	for _, o := range All(expectedTotal) {
		rows, err := pool.Query(ctx, o.SQL, o.Args...)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
