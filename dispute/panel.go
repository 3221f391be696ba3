// Package dispute implements the arbitration panel of a disputed pact:
// proposal by one party, acceptance by the other, and strict-majority
// resolution by the accepted members.
package dispute

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"pactflow/types"
)

var (
	ErrNotRaised       = errors.New("dispute: not raised")
	ErrEmptyPanel      = errors.New("dispute: empty arbitrator list")
	ErrInvalidMember   = errors.New("dispute: invalid arbitrator")
	ErrAlreadyAccepted = errors.New("dispute: panel already accepted")
	ErrNoProposal      = errors.New("dispute: no pending proposal")
	ErrSelfResponse    = errors.New("dispute: proposer cannot respond to its own proposal")
)

// Raise opens a dispute over the given settlement amount.
func Raise(amount *uint256.Int) Panel {
	return Panel{Raised: true, ProposedAmount: types.CloneAmount(amount)}
}

// Propose records a panel. A pending proposal may be replaced by either
// party until one is accepted.
func (p *Panel) Propose(proposer types.Address, members []types.Address, parties ...types.Address) error {
	if !p.Raised {
		return ErrNotRaised
	}
	if p.Accepted {
		return ErrAlreadyAccepted
	}
	if len(members) == 0 {
		return ErrEmptyPanel
	}

	seen := make(map[types.Address]struct{}, len(members))
	seats := make([]Arbitrator, 0, len(members))
	for _, m := range members {
		if m.IsZero() {
			return fmt.Errorf("%w: zero address", ErrInvalidMember)
		}
		for _, party := range parties {
			if m == party {
				return fmt.Errorf("%w: %s is a party to the pact", ErrInvalidMember, m)
			}
		}
		if _, dup := seen[m]; dup {
			return fmt.Errorf("%w: %s listed twice", ErrInvalidMember, m)
		}
		seen[m] = struct{}{}
		seats = append(seats, Arbitrator{Address: m})
	}

	p.Proposer = proposer
	p.Members = seats
	p.Pending = true
	return nil
}

// Respond accepts or rejects the pending proposal. Rejection discards it.
func (p *Panel) Respond(responder types.Address, accept bool) error {
	if p.Accepted {
		return ErrAlreadyAccepted
	}
	if !p.Pending {
		return ErrNoProposal
	}
	if responder == p.Proposer {
		return ErrSelfResponse
	}
	if !accept {
		p.Pending = false
		p.Members = nil
		p.Proposer = types.ZeroAddress
		return nil
	}
	p.Pending = false
	p.Accepted = true
	return nil
}

// Resolve marks caller's seat as resolved. Callers without a seat and
// repeated calls change nothing.
func (p *Panel) Resolve(caller types.Address) Outcome {
	out := Outcome{Size: len(p.Members), Resolved: p.ResolvedCount()}
	if !p.Accepted {
		return out
	}
	for i := range p.Members {
		if p.Members[i].Address != caller {
			continue
		}
		out.Member = true
		if !p.Members[i].Resolved {
			p.Members[i].Resolved = true
			out.Counted = true
			out.Resolved++
		}
		break
	}
	out.Majority = p.HasMajority()
	return out
}

func (p Panel) ResolvedCount() int {
	n := 0
	for _, m := range p.Members {
		if m.Resolved {
			n++
		}
	}
	return n
}

// HasMajority is true once more than half of an accepted panel resolved.
func (p Panel) HasMajority() bool {
	return p.Accepted && len(p.Members) > 0 && p.ResolvedCount()*2 > len(p.Members)
}

func (p Panel) Status() Status {
	switch {
	case !p.Raised:
		return StatusNone
	case p.HasMajority():
		return StatusResolved
	case p.Accepted:
		return StatusArbitrated
	case p.Pending:
		return StatusProposed
	default:
		return StatusOpen
	}
}

// Addresses lists the seats in order.
func (p Panel) Addresses() []types.Address {
	out := make([]types.Address, 0, len(p.Members))
	for _, m := range p.Members {
		out = append(out, m.Address)
	}
	return out
}

// Clone deep-copies the panel.
func (p Panel) Clone() Panel {
	c := p
	c.ProposedAmount = types.CloneAmount(p.ProposedAmount)
	if p.Members != nil {
		c.Members = append([]Arbitrator(nil), p.Members...)
	}
	return c
}
