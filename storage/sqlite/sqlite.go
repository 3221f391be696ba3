// Package sqlite is the embedded single-file backend. A single connection
// serializes every transaction, which gives pact operations the same
// isolation the PostgreSQL backend gets from row locks.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/holiman/uint256"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"pactflow/delegation"
	"pactflow/dispute"
	"pactflow/pact"
	"pactflow/storage"
	"pactflow/types"
)

// Ensure Store implements storage.Backend
var _ storage.Backend = (*Store)(nil)

type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and applies the schema.
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for auxiliary repositories sharing the file.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Begin(ctx context.Context) (pact.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const pactColumns = `id, creator, name, payer, payee, interval_seconds, amount, denomination,
    external_ref, state, payer_signed, payee_signed, stake, last_paid_at, last_pay_amount,
    resumed_at, active_seconds, dispute_raised, proposed_amount, proposer, panel_pending,
    panel_accepted, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanPact(row scanner) (storage.PactRow, error) {
	var (
		r                    storage.PactRow
		lastPaid, resumed    sql.NullInt64
		proposed, proposer   sql.NullString
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&r.ID, &r.Creator, &r.Name, &r.Payer, &r.Payee, &r.Interval, &r.Amount, &r.Denomination,
		&r.ExternalRef, &r.State, &r.PayerSigned, &r.PayeeSigned, &r.Stake, &lastPaid, &r.LastPayAmount,
		&resumed, &r.ActiveSeconds, &r.DisputeRaised, &proposed, &proposer, &r.PanelPending,
		&r.PanelAccepted, &createdAt, &updatedAt,
	)
	if err != nil {
		return r, err
	}
	r.LastPaidAt = fromNullNanos(lastPaid)
	r.ResumedAt = fromNullNanos(resumed)
	if proposed.Valid {
		r.ProposedAmount = &proposed.String
	}
	if proposer.Valid {
		r.Proposer = &proposer.String
	}
	r.CreatedAt = fromNanos(createdAt)
	r.UpdatedAt = fromNanos(updatedAt)
	return r, nil
}

func loadPact(ctx context.Context, q queryer, id types.Hash) (pact.Pact, error) {
	row, err := scanPact(q.QueryRowContext(ctx, `SELECT `+pactColumns+` FROM pacts WHERE id = ?`, id.Hex()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return pact.Pact{}, pact.ErrNotFound
		}
		return pact.Pact{}, fmt.Errorf("failed to get pact: %w", err)
	}
	members, err := loadPanel(ctx, q, row.ID)
	if err != nil {
		return pact.Pact{}, err
	}
	return row.Decode(members)
}

func loadPanel(ctx context.Context, q queryer, pactID string) ([]dispute.Arbitrator, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT address, resolved FROM arbitrators WHERE pact_id = ? ORDER BY position`, pactID)
	if err != nil {
		return nil, fmt.Errorf("failed to get arbitrators: %w", err)
	}
	defer rows.Close()

	var members []dispute.Arbitrator
	for rows.Next() {
		var (
			addr     string
			resolved bool
		)
		if err := rows.Scan(&addr, &resolved); err != nil {
			return nil, fmt.Errorf("failed to scan arbitrator: %w", err)
		}
		a, err := types.ParseAddress(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to decode arbitrator: %w", err)
		}
		members = append(members, dispute.Arbitrator{Address: a, Resolved: resolved})
	}
	return members, rows.Err()
}

func (s *Store) GetPact(ctx context.Context, id types.Hash) (pact.Pact, error) {
	return loadPact(ctx, s.db, id)
}

func (s *Store) ListPacts(ctx context.Context, filter pact.ListFilter) ([]pact.Pact, int, error) {
	party := ""
	if !filter.Party.IsZero() {
		party = filter.Party.Hex()
	}
	state := string(filter.State)
	const where = ` WHERE (? = '' OR payer = ? OR payee = ? OR creator = ?) AND (? = '' OR state = ?)`
	args := []any{party, party, party, party, state, state}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pacts`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count pacts: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pactColumns+` FROM pacts`+where+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		append(args, filter.Limit(), filter.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list pacts: %w", err)
	}
	var list []storage.PactRow
	for rows.Next() {
		r, err := scanPact(rows)
		if err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("failed to scan pact: %w", err)
		}
		list = append(list, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate pacts: %w", err)
	}

	out := make([]pact.Pact, 0, len(list))
	for _, r := range list {
		members, err := loadPanel(ctx, s.db, r.ID)
		if err != nil {
			return nil, 0, err
		}
		p, err := r.Decode(members)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, nil
}

func (s *Store) Timeline(ctx context.Context, id types.Hash) ([]pact.TimelineEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, seq, type, actor, payload, created_at
FROM timeline_events
WHERE pact_id = ?
ORDER BY seq`, id.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to get timeline: %w", err)
	}
	defer rows.Close()

	var out []pact.TimelineEvent
	for rows.Next() {
		var (
			e       pact.TimelineEvent
			actor   string
			payload string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Seq, &e.Type, &actor, &payload, &created); err != nil {
			return nil, fmt.Errorf("failed to scan timeline event: %w", err)
		}
		if e.Actor, err = types.ParseAddress(actor); err != nil {
			return nil, fmt.Errorf("failed to decode actor: %w", err)
		}
		e.PactID = id
		e.Payload = []byte(payload)
		e.CreatedAt = fromNanos(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Delegations(ctx context.Context, id types.Hash) ([]delegation.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT principal, delegate, authorized, updated_at
FROM delegations
WHERE pact_id = ?
ORDER BY principal, delegate`, id.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to get delegations: %w", err)
	}
	defer rows.Close()

	var out []delegation.Record
	for rows.Next() {
		var (
			rec                 delegation.Record
			principal, delegate string
			updated             int64
		)
		if err := rows.Scan(&principal, &delegate, &rec.Authorized, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan delegation: %w", err)
		}
		if rec.Principal, err = types.ParseAddress(principal); err != nil {
			return nil, fmt.Errorf("failed to decode principal: %w", err)
		}
		if rec.Delegate, err = types.ParseAddress(delegate); err != nil {
			return nil, fmt.Errorf("failed to decode delegate: %w", err)
		}
		rec.PactID = id
		rec.UpdatedAt = fromNanos(updated)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Balance(ctx context.Context, account types.Address, denom types.Denomination) (*uint256.Int, error) {
	return balance(ctx, s.db, account, denom)
}

func (s *Store) Credit(ctx context.Context, account types.Address, denom types.Denomination, amount *uint256.Int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := credit(ctx, tx, account, denom, amount); err != nil {
		return err
	}
	return tx.Commit()
}

func balance(ctx context.Context, q queryer, account types.Address, denom types.Denomination) (*uint256.Int, error) {
	var amount string
	err := q.QueryRowContext(ctx, `SELECT amount FROM balances WHERE account = ? AND denomination = ?`,
		account.Hex(), denom.String()).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return types.ParseAmount(amount)
}

func credit(ctx context.Context, q queryer, account types.Address, denom types.Denomination, amount *uint256.Int) error {
	cur, err := balance(ctx, q, account, denom)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(cur, amount)
	if overflow {
		return fmt.Errorf("failed to credit %s: balance overflow", account)
	}
	return putBalance(ctx, q, account, denom, next)
}

func putBalance(ctx context.Context, q queryer, account types.Address, denom types.Denomination, amount *uint256.Int) error {
	_, err := q.ExecContext(ctx, `
INSERT INTO balances (account, denomination, amount) VALUES (?, ?, ?)
ON CONFLICT (account, denomination) DO UPDATE SET amount = excluded.amount`,
		account.Hex(), denom.String(), amount.Dec())
	if err != nil {
		return fmt.Errorf("failed to write balance: %w", err)
	}
	return nil
}

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func toNullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
