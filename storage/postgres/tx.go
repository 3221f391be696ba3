package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"pactflow/delegation"
	"pactflow/escrow"
	"pactflow/outbox"
	"pactflow/pact"
	"pactflow/storage"
	"pactflow/types"
)

// ErrDuplicatePact signals the pacts primary key guardrail.
var ErrDuplicatePact = errors.New("postgres: duplicate pact id")

// Tx implements pact.Tx on a pgx transaction.
type Tx struct {
	tx pgx.Tx
}

var _ pact.Tx = (*Tx)(nil)

func (t *Tx) Commit(ctx context.Context) error { return t.tx.Commit(ctx) }

func (t *Tx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func (t *Tx) NextNonce(ctx context.Context) (uint64, error) {
	var n int64
	err := t.tx.QueryRow(ctx, `
INSERT INTO counters (name, value) VALUES ('pact_nonce', 1)
ON CONFLICT (name) DO UPDATE SET value = counters.value + 1
RETURNING value`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: bump nonce: %w", err)
	}
	return uint64(n), nil
}

func (t *Tx) InsertPact(ctx context.Context, p *pact.Pact) error {
	r := storage.EncodePact(p)
	_, err := t.tx.Exec(ctx, `
INSERT INTO pacts (id, creator, name, payer, payee, interval_seconds, amount, denomination,
    external_ref, state, payer_signed, payee_signed, stake, last_paid_at, last_pay_amount,
    resumed_at, active_seconds, dispute_raised, proposed_amount, proposer, panel_pending,
    panel_accepted, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12, $13::numeric, $14, $15::numeric,
    $16, $17, $18, $19::numeric, $20, $21, $22, $23, $24)`,
		r.ID, r.Creator, r.Name, r.Payer, r.Payee, r.Interval, r.Amount, r.Denomination,
		r.ExternalRef, r.State, r.PayerSigned, r.PayeeSigned, r.Stake, r.LastPaidAt, r.LastPayAmount,
		r.ResumedAt, r.ActiveSeconds, r.DisputeRaised, r.ProposedAmount, r.Proposer, r.PanelPending,
		r.PanelAccepted, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicatePact
		}
		return fmt.Errorf("postgres: insert pact: %w", err)
	}
	return t.writePanel(ctx, p)
}

func (t *Tx) LockPact(ctx context.Context, id types.Hash) (*pact.Pact, error) {
	p, err := loadPact(ctx, t.tx, id, true)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *Tx) UpdatePact(ctx context.Context, p *pact.Pact) error {
	r := storage.EncodePact(p)
	tag, err := t.tx.Exec(ctx, `
UPDATE pacts
SET state = $2,
    payer_signed = $3,
    payee_signed = $4,
    stake = $5::numeric,
    last_paid_at = $6,
    last_pay_amount = $7::numeric,
    resumed_at = $8,
    active_seconds = $9,
    dispute_raised = $10,
    proposed_amount = $11::numeric,
    proposer = $12,
    panel_pending = $13,
    panel_accepted = $14,
    updated_at = $15
WHERE id = $1`,
		r.ID, r.State, r.PayerSigned, r.PayeeSigned, r.Stake, r.LastPaidAt, r.LastPayAmount,
		r.ResumedAt, r.ActiveSeconds, r.DisputeRaised, r.ProposedAmount, r.Proposer,
		r.PanelPending, r.PanelAccepted, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update pact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pact.ErrNotFound
	}
	return t.writePanel(ctx, p)
}

// writePanel replaces the arbitrator seats with the pact's current panel.
func (t *Tx) writePanel(ctx context.Context, p *pact.Pact) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM arbitrators WHERE pact_id = $1`, p.ID.Hex()); err != nil {
		return fmt.Errorf("postgres: clear arbitrators: %w", err)
	}
	for i, m := range p.Dispute.Members {
		_, err := t.tx.Exec(ctx, `
INSERT INTO arbitrators (pact_id, position, address, resolved)
VALUES ($1, $2, $3, $4)`, p.ID.Hex(), i, m.Address.Hex(), m.Resolved)
		if err != nil {
			return fmt.Errorf("postgres: insert arbitrator: %w", err)
		}
	}
	return nil
}

func (t *Tx) AppendTimeline(ctx context.Context, e pact.TimelineEvent) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO timeline_events (pact_id, seq, type, actor, payload, created_at)
SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4::jsonb, $5
FROM timeline_events
WHERE pact_id = $1`,
		e.PactID.Hex(), e.Type, e.Actor.Hex(), e.Payload, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("postgres: insert timeline event: %w", err)
	}
	return nil
}

func (t *Tx) EnqueueOutbox(ctx context.Context, m outbox.Message) error {
	status := m.Status
	if status == "" {
		status = outbox.StatusPending
	}
	_, err := t.tx.Exec(ctx, `
INSERT INTO outbox (id, topic, payload, status, attempts, created_at)
VALUES ($1, $2, $3::jsonb, $4, $5, $6)`,
		m.ID, m.Topic, m.Payload, string(status), m.Attempts, m.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("postgres: insert outbox: %w", err)
	}
	return nil
}

func (t *Tx) IsDelegate(ctx context.Context, pactID types.Hash, principal, delegate types.Address) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `
SELECT authorized FROM delegations
WHERE pact_id = $1 AND principal = $2 AND delegate = $3`,
		pactID.Hex(), principal.Hex(), delegate.Hex()).Scan(&ok)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres: select delegation: %w", err)
	}
	return ok, nil
}

func (t *Tx) SetDelegate(ctx context.Context, rec delegation.Record) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO delegations (pact_id, principal, delegate, authorized, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (pact_id, principal, delegate)
DO UPDATE SET authorized = EXCLUDED.authorized, updated_at = EXCLUDED.updated_at`,
		rec.PactID.Hex(), rec.Principal.Hex(), rec.Delegate.Hex(), rec.Authorized, rec.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("postgres: upsert delegation: %w", err)
	}
	return nil
}

// Transfer debits and credits host balances inside the transaction.
func (t *Tx) Transfer(ctx context.Context, tr escrow.Transfer) error {
	amount := types.FormatAmount(tr.Amount)
	tag, err := t.tx.Exec(ctx, `
UPDATE balances
SET amount = amount - $3::numeric
WHERE account = $1 AND denomination = $2 AND amount >= $3::numeric`,
		tr.From.Hex(), tr.Denomination.String(), amount)
	if err != nil {
		return fmt.Errorf("postgres: debit %s: %w", tr.From, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s cannot cover %s", storage.ErrInsufficientBalance, tr.From, amount)
	}
	return credit(ctx, t.tx, tr.To, tr.Denomination, tr.Amount)
}

func (t *Tx) RecordEntry(ctx context.Context, e escrow.Entry) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO escrow_entries (pact_id, kind, denomination, counterparty, amount, created_at)
VALUES ($1, $2, $3, $4, $5::numeric, $6)`,
		e.PactID.Hex(), string(e.Kind), e.Denomination.String(), e.Counterparty.Hex(),
		types.FormatAmount(e.Amount), e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("postgres: insert escrow entry: %w", err)
	}
	return nil
}
