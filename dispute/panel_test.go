package dispute

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"pactflow/types"
)

var (
	payer = types.MustAddress("0x000000000000000000000000000000000000a001")
	payee = types.MustAddress("0x000000000000000000000000000000000000b001")
	arb1  = types.MustAddress("0x000000000000000000000000000000000000c001")
	arb2  = types.MustAddress("0x000000000000000000000000000000000000c002")
	arb3  = types.MustAddress("0x000000000000000000000000000000000000c003")
)

func acceptedPanel(t *testing.T, members ...types.Address) Panel {
	t.Helper()
	p := Raise(uint256.NewInt(40))
	if err := p.Propose(payer, members, payer, payee); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := p.Respond(payee, true); err != nil {
		t.Fatalf("accept: %v", err)
	}
	return p
}

func TestPropose_Validation(t *testing.T) {
	cases := []struct {
		name    string
		members []types.Address
		want    error
	}{
		{"empty", nil, ErrEmptyPanel},
		{"zero", []types.Address{arb1, types.ZeroAddress}, ErrInvalidMember},
		{"party", []types.Address{arb1, payee}, ErrInvalidMember},
		{"duplicate", []types.Address{arb1, arb1}, ErrInvalidMember},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Raise(uint256.NewInt(1))
			if err := p.Propose(payer, tc.members, payer, payee); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if p.Pending {
				t.Fatalf("rejected proposal must not be pending")
			}
		})
	}

	var closed Panel
	if err := closed.Propose(payer, []types.Address{arb1}); !errors.Is(err, ErrNotRaised) {
		t.Fatalf("expected ErrNotRaised, got %v", err)
	}
}

func TestRespond(t *testing.T) {
	p := Raise(uint256.NewInt(40))
	if err := p.Respond(payee, true); !errors.Is(err, ErrNoProposal) {
		t.Fatalf("expected ErrNoProposal, got %v", err)
	}
	if err := p.Propose(payer, []types.Address{arb1, arb2}, payer, payee); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := p.Respond(payer, true); !errors.Is(err, ErrSelfResponse) {
		t.Fatalf("expected ErrSelfResponse, got %v", err)
	}

	if err := p.Respond(payee, false); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if p.Pending || p.Accepted || len(p.Members) != 0 {
		t.Fatalf("rejection must clear the proposal: %+v", p)
	}
	if p.Status() != StatusOpen {
		t.Fatalf("expected open status, got %s", p.Status())
	}

	if err := p.Propose(payee, []types.Address{arb3}, payer, payee); err != nil {
		t.Fatalf("re-propose by the other side: %v", err)
	}
	if err := p.Respond(payer, true); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if p.Status() != StatusArbitrated {
		t.Fatalf("expected arbitrated, got %s", p.Status())
	}
	if err := p.Propose(payer, []types.Address{arb1}, payer, payee); !errors.Is(err, ErrAlreadyAccepted) {
		t.Fatalf("expected ErrAlreadyAccepted, got %v", err)
	}
	if err := p.Respond(payee, true); !errors.Is(err, ErrAlreadyAccepted) {
		t.Fatalf("expected ErrAlreadyAccepted, got %v", err)
	}
}

func TestResolve_TwoMemberPanelNeedsBoth(t *testing.T) {
	p := acceptedPanel(t, arb1, arb2)

	out := p.Resolve(arb1)
	if !out.Counted || out.Majority {
		t.Fatalf("one of two must not be a majority: %+v", out)
	}
	out = p.Resolve(arb1)
	if out.Counted || out.Resolved != 1 {
		t.Fatalf("second resolve by the same member must be a no-op: %+v", out)
	}
	out = p.Resolve(payer)
	if out.Member || out.Counted {
		t.Fatalf("non-member resolve must be ignored: %+v", out)
	}
	out = p.Resolve(arb2)
	if !out.Majority || p.Status() != StatusResolved {
		t.Fatalf("both members must resolve the dispute: %+v", out)
	}
}

func TestResolve_ThreeMemberMajority(t *testing.T) {
	p := acceptedPanel(t, arb1, arb2, arb3)
	p.Resolve(arb3)
	if p.HasMajority() {
		t.Fatalf("1 of 3 is not a majority")
	}
	if out := p.Resolve(arb1); !out.Majority {
		t.Fatalf("2 of 3 must be a majority: %+v", out)
	}
}

func TestResolve_BeforeAcceptance(t *testing.T) {
	p := Raise(uint256.NewInt(1))
	_ = p.Propose(payer, []types.Address{arb1}, payer, payee)
	if out := p.Resolve(arb1); out.Counted {
		t.Fatalf("pending panel cannot resolve")
	}
}

func TestClone_IsDeep(t *testing.T) {
	p := acceptedPanel(t, arb1, arb2)
	c := p.Clone()
	c.Resolve(arb1)
	c.ProposedAmount.SetUint64(1)
	if p.ResolvedCount() != 0 || p.ProposedAmount.Uint64() != 40 {
		t.Fatalf("clone shares state with original")
	}
}
