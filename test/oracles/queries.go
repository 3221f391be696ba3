// Package oracles holds the SQL invariants a stress run must never violate.
// Each query returns rows only when its invariant is broken.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"pactflow/escrow"
)

type Oracle struct {
	Name string
	SQL  string
	Args []any
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_vault_covers_stake",
			SQL: `WITH staked AS (
                      SELECT denomination, SUM(stake) AS total FROM pacts GROUP BY denomination)
                  SELECT s.denomination, s.total, COALESCE(b.amount, 0) AS vault
                  FROM staked s
                  LEFT JOIN balances b ON b.account = $1 AND b.denomination = s.denomination
                  WHERE COALESCE(b.amount, 0) <> s.total`,
			Args: []any{escrow.DefaultVault.Hex()},
		},
		{
			Name: "O2_closed_pacts_hold_nothing",
			SQL:  `SELECT id, state, stake FROM pacts WHERE state IN ('RETRACTED', 'ENDED') AND stake <> 0`,
		},
		{
			Name: "O3_timeline_seq_gapless",
			SQL: `WITH seqs AS (
                      SELECT pact_id, seq,
                             LAG(seq) OVER (PARTITION BY pact_id ORDER BY seq) AS prev
                      FROM timeline_events)
                  SELECT * FROM seqs WHERE (prev IS NULL AND seq <> 1) OR (prev IS NOT NULL AND seq <> prev + 1)`,
		},
		{
			Name: "O4_arbitrated_has_panel",
			SQL: `SELECT p.id, p.state FROM pacts p
                  WHERE p.state IN ('ARBITRATED', 'DISPUTE_RESOLVED')
                    AND (NOT p.panel_accepted
                         OR NOT EXISTS (SELECT 1 FROM arbitrators a WHERE a.pact_id = p.id))`,
		},
		{
			Name: "O5_signed_flags",
			SQL: `SELECT id, state FROM pacts
                  WHERE state NOT IN ('DEPLOYED', 'PAYER_SIGNED', 'PAYEE_SIGNED', 'RETRACTED')
                    AND NOT (payer_signed AND payee_signed)`,
		},
		{
			Name: "O6_outbox_stale",
			SQL: `SELECT id FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O7_non_negative_balances",
			SQL:  `SELECT account, denomination, amount FROM balances WHERE amount < 0`,
		},
		{
			Name: "O8_timeline_append_only_guard",
			SQL: `SELECT 'missing_append_only_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'timeline_events_append_only')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample
// row text) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL, o.Args...)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
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
