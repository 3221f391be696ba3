package pact

import (
	"context"
	"errors"
	"fmt"

	"pactflow/delegation"
	"pactflow/types"
)

// Side is the principal a caller acts for.
type Side string

const (
	SideNone  Side = ""
	SidePayer Side = "payer"
	SidePayee Side = "payee"
)

// principal returns the side when caller is the payer or payee itself.
func (p *Pact) principal(caller types.Address) Side {
	switch caller {
	case p.Terms.Payer:
		return SidePayer
	case p.Terms.Payee:
		return SidePayee
	default:
		return SideNone
	}
}

func (p *Pact) counterparty(side Side) types.Address {
	if side == SidePayer {
		return p.Terms.Payee
	}
	return p.Terms.Payer
}

// sideOf resolves caller to a side. Principals match before delegates.
func sideOf(ctx context.Context, tx Tx, p *Pact, caller types.Address) (Side, error) {
	if side := p.principal(caller); side != SideNone {
		return side, nil
	}
	if caller.IsZero() {
		return SideNone, nil
	}
	for _, side := range []Side{SidePayer, SidePayee} {
		principal := p.Terms.Payer
		if side == SidePayee {
			principal = p.Terms.Payee
		}
		ok, err := tx.IsDelegate(ctx, p.ID, principal, caller)
		if err != nil {
			return SideNone, fmt.Errorf("pact: delegate lookup: %w", err)
		}
		if ok {
			return side, nil
		}
	}
	return SideNone, nil
}

// actFor authorizes caller as principal or one of its delegates.
func actFor(ctx context.Context, tx Tx, p *Pact, principal, caller types.Address, msg string) error {
	err := delegation.Authorize(ctx, tx, p.ID, principal, caller)
	if errors.Is(err, delegation.ErrUnauthorized) {
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	}
	return err
}
