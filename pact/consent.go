package pact

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"pactflow/delegation"
	"pactflow/escrow"
	"pactflow/sigcodec"
	"pactflow/types"
)

// Sign records one party's consent. The payer's signature also deposits one
// pay period as stake plus the deposit commission.
func (s *Service) Sign(ctx context.Context, req SignRequest) (Pact, error) {
	return s.apply(ctx, "sign", req.PactID, req.Signer, func(ctx context.Context, tx Tx, p *Pact, m *mutation) error {
		side := p.principal(req.Signer)
		switch {
		case side == SideNone:
			return fmt.Errorf("%w: signer is not a party", ErrUnauthorized)
		case side == SidePayer && p.PayerSigned, side == SidePayee && p.PayeeSigned:
			return fmt.Errorf("%w: %s", ErrAlreadySigned, side)
		}
		if p.State != StateDeployed && p.State != StatePayerSigned && p.State != StatePayeeSigned {
			return fmt.Errorf("%w: cannot sign in %s", ErrWrongState, p.State)
		}

		digest, err := sigcodec.Digest(s.sigVersion, p.Material(req.Timestamp))
		if err != nil {
			return err
		}
		if err := sigcodec.Verify(digest, req.Signature, req.Signer); err != nil {
			return err
		}

		next := StatePayerSigned
		if side == SidePayee {
			next = StatePayeeSigned
		}
		if (side == SidePayer && p.PayeeSigned) || (side == SidePayee && p.PayerSigned) {
			next = StateAllSigned
		}

		if side == SidePayer {
			acct := p.account()
			receipt, err := s.ledger.Deposit(ctx, tx, acct, req.Signer, req.Funds, p.Terms.Amount)
			if errors.Is(err, escrow.ErrInsufficientAmount) {
				return fmt.Errorf("%w: %w", ErrInsufficientStake, err)
			}
			if err != nil {
				return err
			}
			p.Stake = acct.Staked
			p.PayerSigned = true
			m.moved(string(escrow.EntryDeposit), receipt)
		} else {
			p.PayeeSigned = true
		}

		if err := p.advance(next); err != nil {
			return err
		}
		m.event = "PACT_SIGNED"
		m.set("side", string(side))
		m.set("timestamp", req.Timestamp)
		m.set("digest", digest.Hex())
		return nil
	})
}

// Retract withdraws the payer's consent before the payee signs. The stake is
// refunded; the deposit commission is kept.
func (s *Service) Retract(ctx context.Context, id types.Hash, caller types.Address) (Pact, error) {
	return s.apply(ctx, "retract", id, caller, func(ctx context.Context, tx Tx, p *Pact, m *mutation) error {
		if caller != p.Terms.Payer {
			return fmt.Errorf("%w: payer only", ErrUnauthorized)
		}
		if p.State != StatePayerSigned {
			return fmt.Errorf("%w: cannot retract in %s", ErrWrongState, p.State)
		}
		acct := p.account()
		receipt, err := s.ledger.Refund(ctx, tx, acct, p.Terms.Payer, p.Stake)
		if err != nil {
			return err
		}
		p.Stake = acct.Staked
		m.moved(string(escrow.EntryRefund), receipt)
		m.event = "PACT_RETRACTED"
		return p.advance(StateRetracted)
	})
}

// Delegate authorizes or revokes a batch of delegates for the calling
// principal. At least one party must have signed. An address acts for at
// most one side, so one already authorized by the counterparty is refused.
func (s *Service) Delegate(ctx context.Context, req DelegateRequest) (Pact, error) {
	return s.apply(ctx, "delegate", req.PactID, req.Caller, func(ctx context.Context, tx Tx, p *Pact, m *mutation) error {
		side := p.principal(req.Caller)
		if side == SideNone {
			return fmt.Errorf("%w: principals only", ErrUnauthorized)
		}
		if !p.PayerSigned && !p.PayeeSigned {
			return fmt.Errorf("%w: pact has no signature yet", ErrWrongState)
		}
		if req.Authorized {
			other := p.counterparty(side)
			for _, d := range req.Delegates {
				held, err := tx.IsDelegate(ctx, p.ID, other, d)
				if err != nil {
					return fmt.Errorf("pact: delegate lookup: %w", err)
				}
				if held {
					return fmt.Errorf("%w: %w: %s already acts for %s", ErrInvalidTerms, delegation.ErrInvalidList, d.Hex(), other.Hex())
				}
			}
		}
		records, err := delegation.Apply(ctx, tx, p.ID, req.Caller, req.Delegates, req.Authorized, m.now)
		if errors.Is(err, delegation.ErrInvalidList) {
			return fmt.Errorf("%w: %w", ErrInvalidTerms, err)
		}
		if err != nil {
			return err
		}

		delegates := make([]string, 0, len(records))
		for _, rec := range records {
			delegates = append(delegates, rec.Delegate.Hex())
		}
		m.event = "DELEGATES_UPDATED"
		m.set("side", string(side))
		m.set("delegates", delegates)
		m.set("authorized", req.Authorized)
		return p.advance(p.State)
	})
}

// Delegations lists every delegation record written for the pact.
func (s *Service) Delegations(ctx context.Context, id types.Hash) ([]delegation.Record, error) {
	return s.store.Delegations(ctx, id)
}

// SignatureVersion is the digest layout parties must sign.
func (s *Service) SignatureVersion() string { return s.sigVersion }

// DepositQuote is what the payer must attach when signing.
func (s *Service) DepositQuote(amount *uint256.Int) (total, commission *uint256.Int) {
	return s.ledger.DepositQuote(amount)
}
