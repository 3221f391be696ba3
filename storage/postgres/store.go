// Package postgres is the PostgreSQL backend: every pact operation runs in
// one pgx transaction with the pact row locked FOR UPDATE.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"pactflow/delegation"
	"pactflow/dispute"
	"pactflow/pact"
	"pactflow/storage"
	"pactflow/types"
)

var _ storage.Backend = (*Store)(nil)

// Pool is the subset of *pgxpool.Pool the store uses.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// querier is satisfied by both the pool and a pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool  Pool
	close func()
}

// New wraps pool. The caller keeps ownership unless closer is given.
func New(pool Pool, closer ...func()) *Store {
	s := &Store{pool: pool, close: func() {}}
	if len(closer) > 0 && closer[0] != nil {
		s.close = closer[0]
	}
	return s
}

func (s *Store) Close() error {
	s.close()
	return nil
}

func (s *Store) Begin(ctx context.Context) (pact.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

const pactColumns = `id, creator, name, payer, payee, interval_seconds, amount::text, denomination,
    external_ref, state, payer_signed, payee_signed, stake::text, last_paid_at,
    last_pay_amount::text, resumed_at, active_seconds, dispute_raised, proposed_amount::text,
    proposer, panel_pending, panel_accepted, created_at, updated_at`

func scanPact(row pgx.Row) (storage.PactRow, error) {
	var r storage.PactRow
	err := row.Scan(
		&r.ID, &r.Creator, &r.Name, &r.Payer, &r.Payee, &r.Interval, &r.Amount, &r.Denomination,
		&r.ExternalRef, &r.State, &r.PayerSigned, &r.PayeeSigned, &r.Stake, &r.LastPaidAt,
		&r.LastPayAmount, &r.ResumedAt, &r.ActiveSeconds, &r.DisputeRaised, &r.ProposedAmount,
		&r.Proposer, &r.PanelPending, &r.PanelAccepted, &r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

func loadPact(ctx context.Context, q querier, id types.Hash, lock bool) (pact.Pact, error) {
	query := `SELECT ` + pactColumns + ` FROM pacts WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	row, err := scanPact(q.QueryRow(ctx, query, id.Hex()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pact.Pact{}, pact.ErrNotFound
		}
		return pact.Pact{}, fmt.Errorf("postgres: select pact: %w", err)
	}
	seats, err := loadPanels(ctx, q, []string{row.ID})
	if err != nil {
		return pact.Pact{}, err
	}
	return row.Decode(seats[row.ID])
}

func loadPanels(ctx context.Context, q querier, ids []string) (map[string][]dispute.Arbitrator, error) {
	rows, err := q.Query(ctx, `
SELECT pact_id, address, resolved
FROM arbitrators
WHERE pact_id = ANY($1)
ORDER BY pact_id, position`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: select arbitrators: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]dispute.Arbitrator, len(ids))
	for rows.Next() {
		var (
			pactID, addr string
			resolved     bool
		)
		if err := rows.Scan(&pactID, &addr, &resolved); err != nil {
			return nil, fmt.Errorf("postgres: scan arbitrator: %w", err)
		}
		a, err := types.ParseAddress(addr)
		if err != nil {
			return nil, fmt.Errorf("postgres: decode arbitrator: %w", err)
		}
		out[pactID] = append(out[pactID], dispute.Arbitrator{Address: a, Resolved: resolved})
	}
	return out, rows.Err()
}

func (s *Store) GetPact(ctx context.Context, id types.Hash) (pact.Pact, error) {
	return loadPact(ctx, s.pool, id, false)
}

func (s *Store) ListPacts(ctx context.Context, filter pact.ListFilter) ([]pact.Pact, int, error) {
	party := ""
	if !filter.Party.IsZero() {
		party = filter.Party.Hex()
	}
	const where = `
WHERE ($1 = '' OR payer = $1 OR payee = $1 OR creator = $1)
  AND ($2 = '' OR state = $2)`

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pacts`+where, party, string(filter.State)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres: count pacts: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT `+pactColumns+` FROM pacts`+where+`
ORDER BY created_at DESC, id
LIMIT $3 OFFSET $4`, party, string(filter.State), filter.Limit(), filter.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: list pacts: %w", err)
	}
	var list []storage.PactRow
	for rows.Next() {
		r, err := scanPact(rows)
		if err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("postgres: scan pact: %w", err)
		}
		list = append(list, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("postgres: iterate pacts: %w", err)
	}

	ids := make([]string, 0, len(list))
	for _, r := range list {
		ids = append(ids, r.ID)
	}
	seats, err := loadPanels(ctx, s.pool, ids)
	if err != nil {
		return nil, 0, err
	}

	out := make([]pact.Pact, 0, len(list))
	for _, r := range list {
		p, err := r.Decode(seats[r.ID])
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, nil
}

func (s *Store) Timeline(ctx context.Context, id types.Hash) ([]pact.TimelineEvent, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, seq, type, actor, payload, created_at
FROM timeline_events
WHERE pact_id = $1
ORDER BY seq`, id.Hex())
	if err != nil {
		return nil, fmt.Errorf("postgres: select timeline: %w", err)
	}
	defer rows.Close()

	var out []pact.TimelineEvent
	for rows.Next() {
		var (
			e     pact.TimelineEvent
			actor string
		)
		if err := rows.Scan(&e.ID, &e.Seq, &e.Type, &actor, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan timeline event: %w", err)
		}
		if e.Actor, err = types.ParseAddress(actor); err != nil {
			return nil, fmt.Errorf("postgres: decode actor: %w", err)
		}
		e.PactID = id
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Delegations(ctx context.Context, id types.Hash) ([]delegation.Record, error) {
	rows, err := s.pool.Query(ctx, `
SELECT principal, delegate, authorized, updated_at
FROM delegations
WHERE pact_id = $1
ORDER BY principal, delegate`, id.Hex())
	if err != nil {
		return nil, fmt.Errorf("postgres: select delegations: %w", err)
	}
	defer rows.Close()

	var out []delegation.Record
	for rows.Next() {
		var (
			rec                 delegation.Record
			principal, delegate string
		)
		if err := rows.Scan(&principal, &delegate, &rec.Authorized, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan delegation: %w", err)
		}
		if rec.Principal, err = types.ParseAddress(principal); err != nil {
			return nil, fmt.Errorf("postgres: decode principal: %w", err)
		}
		if rec.Delegate, err = types.ParseAddress(delegate); err != nil {
			return nil, fmt.Errorf("postgres: decode delegate: %w", err)
		}
		rec.PactID = id
		rec.UpdatedAt = rec.UpdatedAt.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Balance(ctx context.Context, account types.Address, denom types.Denomination) (*uint256.Int, error) {
	var amount string
	err := s.pool.QueryRow(ctx, `SELECT amount::text FROM balances WHERE account = $1 AND denomination = $2`,
		account.Hex(), denom.String()).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: select balance: %w", err)
	}
	return types.ParseAmount(amount)
}

func (s *Store) Credit(ctx context.Context, account types.Address, denom types.Denomination, amount *uint256.Int) error {
	return credit(ctx, s.pool, account, denom, amount)
}

func credit(ctx context.Context, q querier, account types.Address, denom types.Denomination, amount *uint256.Int) error {
	_, err := q.Exec(ctx, `
INSERT INTO balances (account, denomination, amount)
VALUES ($1, $2, $3::numeric)
ON CONFLICT (account, denomination) DO UPDATE SET amount = balances.amount + EXCLUDED.amount`,
		account.Hex(), denom.String(), types.FormatAmount(amount))
	if err != nil {
		return fmt.Errorf("postgres: credit %s: %w", account, err)
	}
	return nil
}
