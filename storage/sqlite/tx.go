package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pactflow/delegation"
	"pactflow/escrow"
	"pactflow/outbox"
	"pactflow/pact"
	"pactflow/storage"
	"pactflow/types"
)

// Tx implements pact.Tx on a database/sql transaction.
type Tx struct {
	tx *sql.Tx
}

var _ pact.Tx = (*Tx)(nil)

func (t *Tx) Commit(context.Context) error { return t.tx.Commit() }

func (t *Tx) Rollback(context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func (t *Tx) NextNonce(ctx context.Context) (uint64, error) {
	var n int64
	err := t.tx.QueryRowContext(ctx, `
INSERT INTO counters (name, value) VALUES ('pact_nonce', 1)
ON CONFLICT (name) DO UPDATE SET value = value + 1
RETURNING value`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to bump nonce: %w", err)
	}
	return uint64(n), nil
}

func (t *Tx) InsertPact(ctx context.Context, p *pact.Pact) error {
	r := storage.EncodePact(p)
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO pacts (`+pactColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Creator, r.Name, r.Payer, r.Payee, r.Interval, r.Amount, r.Denomination,
		r.ExternalRef, r.State, r.PayerSigned, r.PayeeSigned, r.Stake, toNullNanos(r.LastPaidAt), r.LastPayAmount,
		toNullNanos(r.ResumedAt), r.ActiveSeconds, r.DisputeRaised, nullString(r.ProposedAmount), nullString(r.Proposer),
		r.PanelPending, r.PanelAccepted, toNanos(r.CreatedAt), toNanos(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert pact: %w", err)
	}
	return t.writePanel(ctx, p)
}

// LockPact reads inside the transaction; the single connection keeps it exclusive.
func (t *Tx) LockPact(ctx context.Context, id types.Hash) (*pact.Pact, error) {
	p, err := loadPact(ctx, t.tx, id)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *Tx) UpdatePact(ctx context.Context, p *pact.Pact) error {
	r := storage.EncodePact(p)
	res, err := t.tx.ExecContext(ctx, `
UPDATE pacts
SET state = ?, payer_signed = ?, payee_signed = ?, stake = ?, last_paid_at = ?, last_pay_amount = ?,
    resumed_at = ?, active_seconds = ?, dispute_raised = ?, proposed_amount = ?, proposer = ?,
    panel_pending = ?, panel_accepted = ?, updated_at = ?
WHERE id = ?`,
		r.State, r.PayerSigned, r.PayeeSigned, r.Stake, toNullNanos(r.LastPaidAt), r.LastPayAmount,
		toNullNanos(r.ResumedAt), r.ActiveSeconds, r.DisputeRaised, nullString(r.ProposedAmount), nullString(r.Proposer),
		r.PanelPending, r.PanelAccepted, toNanos(r.UpdatedAt), r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update pact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pact.ErrNotFound
	}
	return t.writePanel(ctx, p)
}

func (t *Tx) writePanel(ctx context.Context, p *pact.Pact) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM arbitrators WHERE pact_id = ?`, p.ID.Hex()); err != nil {
		return fmt.Errorf("failed to clear arbitrators: %w", err)
	}
	for i, m := range p.Dispute.Members {
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO arbitrators (pact_id, position, address, resolved) VALUES (?, ?, ?, ?)`,
			p.ID.Hex(), i, m.Address.Hex(), m.Resolved); err != nil {
			return fmt.Errorf("failed to insert arbitrator: %w", err)
		}
	}
	return nil
}

func (t *Tx) AppendTimeline(ctx context.Context, e pact.TimelineEvent) error {
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO timeline_events (pact_id, seq, type, actor, payload, created_at)
SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?
FROM timeline_events
WHERE pact_id = ?`,
		e.PactID.Hex(), e.Type, e.Actor.Hex(), string(e.Payload), toNanos(e.CreatedAt), e.PactID.Hex())
	if err != nil {
		return fmt.Errorf("failed to insert timeline event: %w", err)
	}
	return nil
}

func (t *Tx) EnqueueOutbox(ctx context.Context, m outbox.Message) error {
	status := m.Status
	if status == "" {
		status = outbox.StatusPending
	}
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO outbox (id, topic, payload, status, attempts, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.Topic, string(m.Payload), string(status), m.Attempts, toNanos(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert outbox message: %w", err)
	}
	return nil
}

func (t *Tx) IsDelegate(ctx context.Context, pactID types.Hash, principal, delegate types.Address) (bool, error) {
	var ok bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT authorized FROM delegations WHERE pact_id = ? AND principal = ? AND delegate = ?`,
		pactID.Hex(), principal.Hex(), delegate.Hex()).Scan(&ok)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get delegation: %w", err)
	}
	return ok, nil
}

func (t *Tx) SetDelegate(ctx context.Context, rec delegation.Record) error {
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO delegations (pact_id, principal, delegate, authorized, updated_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (pact_id, principal, delegate)
DO UPDATE SET authorized = excluded.authorized, updated_at = excluded.updated_at`,
		rec.PactID.Hex(), rec.Principal.Hex(), rec.Delegate.Hex(), rec.Authorized, toNanos(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to write delegation: %w", err)
	}
	return nil
}

func (t *Tx) Transfer(ctx context.Context, tr escrow.Transfer) error {
	from, err := balance(ctx, t.tx, tr.From, tr.Denomination)
	if err != nil {
		return err
	}
	if from.Lt(tr.Amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", storage.ErrInsufficientBalance, tr.From, from.Dec(), tr.Amount.Dec())
	}
	if err := putBalance(ctx, t.tx, tr.From, tr.Denomination, from.Sub(from, tr.Amount)); err != nil {
		return err
	}
	return credit(ctx, t.tx, tr.To, tr.Denomination, tr.Amount)
}

func (t *Tx) RecordEntry(ctx context.Context, e escrow.Entry) error {
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO escrow_entries (pact_id, kind, denomination, counterparty, amount, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		e.PactID.Hex(), string(e.Kind), e.Denomination.String(), e.Counterparty.Hex(),
		types.FormatAmount(e.Amount), toNanos(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert escrow entry: %w", err)
	}
	return nil
}
