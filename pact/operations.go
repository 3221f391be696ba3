package pact

import (
	"context"
	"fmt"

	"pactflow/escrow"
	"pactflow/types"
)

// StartOrPause resumes (or first starts) work when resume is true and pauses
// it otherwise. Only the payer or a payer delegate may call it.
func (s *Service) StartOrPause(ctx context.Context, id types.Hash, caller types.Address, resume bool) (Pact, error) {
	op := "pause"
	if resume {
		op = "start"
	}
	return s.apply(ctx, op, id, caller, func(ctx context.Context, tx Tx, p *Pact, m *mutation) error {
		if err := actFor(ctx, tx, p, p.Terms.Payer, caller, "payer delegate only"); err != nil {
			return err
		}

		if resume {
			switch p.State {
			case StateAllSigned:
				m.event = "PACT_STARTED"
			case StatePaused:
				m.event = "PACT_RESUMED"
			default:
				return fmt.Errorf("%w: cannot resume from %s", ErrWrongState, p.State)
			}
			now := m.now
			p.ResumedAt = &now
			return p.advance(StateActive)
		}

		if p.State != StateActive {
			return fmt.Errorf("%w: cannot pause from %s", ErrNotActive, p.State)
		}
		p.ActiveSeconds = p.activeSeconds(m.now)
		p.ResumedAt = nil
		m.event = "PACT_PAUSED"
		m.set("active_seconds", p.ActiveSeconds)
		return p.advance(StatePaused)
	})
}

// ApprovePayment pays one period's amount from the caller to the payee
// through the vault and starts a new accrual cycle.
func (s *Service) ApprovePayment(ctx context.Context, req PaymentRequest) (Pact, error) {
	return s.apply(ctx, "approve_payment", req.PactID, req.Caller, func(ctx context.Context, tx Tx, p *Pact, m *mutation) error {
		if err := actFor(ctx, tx, p, p.Terms.Payer, req.Caller, "payer delegate only"); err != nil {
			return err
		}
		if p.State != StateActive {
			return fmt.Errorf("%w: %s", ErrNotActive, p.State)
		}

		acct := p.account()
		receipt, err := s.ledger.Settle(ctx, tx, acct, req.Caller, req.Funds, p.Terms.Payee, p.Terms.Amount)
		if err != nil {
			return err
		}
		m.moved(string(escrow.EntryPayout), receipt)

		now := m.now
		p.LastPaidAt = &now
		p.LastPayAmount = p.Terms.Amount.Clone()
		p.ActiveSeconds = 0
		p.ResumedAt = &now

		m.event = "PAYMENT_APPROVED"
		m.set("amount", p.Terms.Amount.Dec())
		return p.advance(StateActive)
	})
}

// Terminate ends a running pact. The payer side terminates and receives the
// prorated unused stake; the payee side resigns and nothing is refunded.
func (s *Service) Terminate(ctx context.Context, id types.Hash, caller types.Address) (Pact, error) {
	return s.apply(ctx, "terminate", id, caller, func(ctx context.Context, tx Tx, p *Pact, m *mutation) error {
		side, err := sideOf(ctx, tx, p, caller)
		if err != nil {
			return err
		}
		if side == SideNone {
			return fmt.Errorf("%w: parties and delegates only", ErrUnauthorized)
		}
		if !p.State.Running() {
			return fmt.Errorf("%w: %s", ErrNotActive, p.State)
		}

		active := p.activeSeconds(m.now)
		p.ActiveSeconds = active
		p.ResumedAt = nil
		m.set("side", string(side))
		m.set("active_seconds", active)

		if side == SidePayee {
			m.event = "PACT_RESIGNED"
			return p.advance(StateResigned)
		}

		refund := Prorate(p.Stake, active, p.Terms.Interval)
		acct := p.account()
		receipt, err := s.ledger.Refund(ctx, tx, acct, p.Terms.Payer, refund)
		if err != nil {
			return err
		}
		p.Stake = acct.Staked
		if !refund.IsZero() {
			m.moved(string(escrow.EntryRefund), receipt)
		}
		m.event = "PACT_TERMINATED"
		m.set("refund", refund.Dec())
		return p.advance(StateTerminated)
	})
}
