package pact

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"pactflow/dispute"
	"pactflow/escrow"
	"pactflow/types"
)

// FullAndFinal records a settlement offer after the pact stopped running.
// The first side's offer moves to FNF_PAYER or FNF_PAYEE, the other side's
// offer settles. Extra is paid to the counterparty now and may be zero.
func (s *Service) FullAndFinal(ctx context.Context, req SettlementRequest) (Pact, error) {
	return s.apply(ctx, "full_and_final", req.PactID, req.Caller, func(ctx context.Context, tx Tx, p *Pact, m *mutation) error {
		side, err := sideOf(ctx, tx, p, req.Caller)
		if err != nil {
			return err
		}
		if side == SideNone {
			return fmt.Errorf("%w: parties and delegates only", ErrUnauthorized)
		}

		var next State
		switch p.State {
		case StateTerminated, StateResigned, StateArbitrated:
			next = StateFNFPayer
			if side == SidePayee {
				next = StateFNFPayee
			}
		case StateFNFPayer:
			if side != SidePayee {
				return fmt.Errorf("%w: payer offer already recorded", ErrWrongState)
			}
			next = StateFNFSettled
		case StateFNFPayee:
			if side != SidePayer {
				return fmt.Errorf("%w: payee offer already recorded", ErrWrongState)
			}
			next = StateFNFSettled
		default:
			return fmt.Errorf("%w: no settlement from %s", ErrWrongState, p.State)
		}

		extra := types.CloneAmount(req.Extra)
		if !extra.IsZero() {
			acct := p.account()
			receipt, err := s.ledger.Settle(ctx, tx, acct, req.Caller, req.Funds, p.counterparty(side), extra)
			if err != nil {
				return err
			}
			m.moved(string(escrow.EntryPayout), receipt)
		}

		if p.State == StateArbitrated {
			p.Dispute = dispute.Panel{}
			m.set("panel_closed", true)
		}
		m.event = "FNF_OFFERED"
		if next == StateFNFSettled {
			m.event = "FNF_SETTLED"
		}
		m.set("side", string(side))
		m.set("extra", extra.Dec())
		return p.advance(next)
	})
}

// Dispute contests the payer's settlement offer and records the amount the
// payee side suggests instead.
func (s *Service) Dispute(ctx context.Context, id types.Hash, caller types.Address, suggested *uint256.Int) (Pact, error) {
	return s.apply(ctx, "dispute", id, caller, func(ctx context.Context, tx Tx, p *Pact, m *mutation) error {
		if err := actFor(ctx, tx, p, p.Terms.Payee, caller, "payee delegate only"); err != nil {
			return err
		}
		if p.State != StateFNFPayer {
			return fmt.Errorf("%w: only the payer's offer can be disputed, pact is %s", ErrWrongState, p.State)
		}
		p.Dispute = dispute.Raise(suggested)
		m.event = "DISPUTE_RAISED"
		m.set("proposed_amount", types.FormatAmount(p.Dispute.ProposedAmount))
		return p.advance(StateDisputed)
	})
}

// ProposeArbitrators records a panel proposal. A pending proposal may be
// replaced until the other party accepts one.
func (s *Service) ProposeArbitrators(ctx context.Context, id types.Hash, caller types.Address, members []types.Address) (Pact, error) {
	return s.apply(ctx, "propose_arbitrators", id, caller, func(ctx context.Context, tx Tx, p *Pact, m *mutation) error {
		if p.principal(caller) == SideNone {
			return fmt.Errorf("%w: principals only", ErrUnauthorized)
		}
		if p.Dispute.Accepted {
			return ErrAlreadyAccepted
		}
		if p.State != StateDisputed {
			return fmt.Errorf("%w: no open dispute, pact is %s", ErrWrongState, p.State)
		}
		if err := p.Dispute.Propose(caller, members, p.Terms.Payer, p.Terms.Payee); err != nil {
			return panelError(err)
		}

		addrs := make([]string, 0, len(members))
		for _, a := range p.Dispute.Addresses() {
			addrs = append(addrs, a.Hex())
		}
		m.event = "ARBITRATORS_PROPOSED"
		m.set("arbitrators", addrs)
		return p.advance(p.State)
	})
}

// RespondArbitrators lets the party that did not propose accept or reject
// the pending panel. Acceptance locks it and moves the pact to ARBITRATED.
func (s *Service) RespondArbitrators(ctx context.Context, id types.Hash, caller types.Address, accept bool) (Pact, error) {
	return s.apply(ctx, "respond_arbitrators", id, caller, func(ctx context.Context, tx Tx, p *Pact, m *mutation) error {
		if p.principal(caller) == SideNone {
			return fmt.Errorf("%w: principals only", ErrUnauthorized)
		}
		if p.Dispute.Accepted {
			return ErrAlreadyAccepted
		}
		if p.State != StateDisputed {
			return fmt.Errorf("%w: no open dispute, pact is %s", ErrWrongState, p.State)
		}
		if err := p.Dispute.Respond(caller, accept); err != nil {
			return panelError(err)
		}

		m.set("accepted", accept)
		if !accept {
			m.event = "ARBITRATORS_REJECTED"
			return p.advance(p.State)
		}
		m.event = "ARBITRATORS_ACCEPTED"
		return p.advance(StateArbitrated)
	})
}

// ArbitratorResolve counts the caller's resolution. Calls from outside the
// panel and repeated calls change nothing and succeed.
func (s *Service) ArbitratorResolve(ctx context.Context, id types.Hash, caller types.Address) (Pact, error) {
	return s.apply(ctx, "arbitrator_resolve", id, caller, func(ctx context.Context, tx Tx, p *Pact, m *mutation) error {
		if p.State != StateArbitrated {
			return fmt.Errorf("%w: pact is %s", ErrWrongState, p.State)
		}
		out := p.Dispute.Resolve(caller)
		if !out.Counted {
			s.logger.Debug("arbitrator resolve ignored", "pact_id", p.ID.Hex(), "caller", caller.Hex(), "member", out.Member)
			m.noop = true
			return nil
		}

		m.event = "ARBITRATOR_RESOLVED"
		m.set("resolved", out.Resolved)
		m.set("panel_size", out.Size)
		if out.Majority {
			return p.advance(StateDisputeResolved)
		}
		return p.advance(p.State)
	})
}

// ReclaimStake pays the remaining stake to recipient once the pact settled
// or its dispute resolved, and ends the pact.
func (s *Service) ReclaimStake(ctx context.Context, id types.Hash, caller, recipient types.Address) (Pact, error) {
	return s.apply(ctx, "reclaim_stake", id, caller, func(ctx context.Context, tx Tx, p *Pact, m *mutation) error {
		if caller != p.Terms.Payer {
			return fmt.Errorf("%w: payer only", ErrUnauthorized)
		}
		switch p.State {
		case StateFNFSettled, StateDisputeResolved:
		case StateDisputed, StateArbitrated:
			return fmt.Errorf("%w: dispute unresolved", ErrDisputed)
		default:
			return fmt.Errorf("%w: cannot reclaim from %s", ErrWrongState, p.State)
		}
		if recipient.IsZero() {
			return fmt.Errorf("%w: recipient required", ErrInvalidTerms)
		}

		amount := types.CloneAmount(p.Stake)
		acct := p.account()
		receipt, err := s.ledger.Refund(ctx, tx, acct, recipient, amount)
		if err != nil {
			return err
		}
		p.Stake = acct.Staked
		if !amount.IsZero() {
			m.moved(string(escrow.EntryRefund), receipt)
		}
		m.event = "STAKE_RECLAIMED"
		m.set("recipient", recipient.Hex())
		m.set("amount", amount.Dec())
		return p.advance(StateEnded)
	})
}

func panelError(err error) error {
	switch {
	case errors.Is(err, dispute.ErrAlreadyAccepted):
		return fmt.Errorf("%w: %w", ErrAlreadyAccepted, err)
	case errors.Is(err, dispute.ErrSelfResponse):
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	case errors.Is(err, dispute.ErrNoProposal), errors.Is(err, dispute.ErrNotRaised):
		return fmt.Errorf("%w: %w", ErrWrongState, err)
	case errors.Is(err, dispute.ErrEmptyPanel), errors.Is(err, dispute.ErrInvalidMember):
		return fmt.Errorf("%w: %w", ErrInvalidTerms, err)
	default:
		return err
	}
}
