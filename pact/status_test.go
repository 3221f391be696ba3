package pact

import (
	"errors"
	"fmt"
	"testing"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to State }{
		{StateDeployed, StatePayerSigned},
		{StateDeployed, StatePayeeSigned},
		{StatePayerSigned, StateAllSigned},
		{StatePayerSigned, StateRetracted},
		{StatePayeeSigned, StateAllSigned},
		{StateAllSigned, StateActive},
		{StateActive, StatePaused},
		{StatePaused, StateActive},
		{StatePaused, StateTerminated},
		{StateActive, StateResigned},
		{StateTerminated, StateFNFPayer},
		{StateResigned, StateFNFPayee},
		{StateFNFPayer, StateDisputed},
		{StateFNFPayee, StateFNFSettled},
		{StateDisputed, StateArbitrated},
		{StateArbitrated, StateDisputeResolved},
		{StateArbitrated, StateFNFPayer},
		{StateFNFSettled, StateEnded},
		{StateDisputeResolved, StateEnded},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Fatalf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	rejected := []struct{ from, to State }{
		{StateDeployed, StateAllSigned},
		{StateDeployed, StateActive},
		{StatePayeeSigned, StateRetracted},
		{StateAllSigned, StateRetracted},
		{StateActive, StateFNFPayer},
		{StateFNFPayee, StateDisputed},
		{StateDisputed, StateDisputeResolved},
		{StateDisputed, StateEnded},
		{StateArbitrated, StateEnded},
		{StateRetracted, StateRetracted},
		{StateEnded, StateEnded},
		{StateEnded, StateDeployed},
	}
	for _, tc := range rejected {
		if CanTransition(tc.from, tc.to) {
			t.Fatalf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestTransitionTableCoversEveryState(t *testing.T) {
	for _, s := range States {
		if _, ok := transitions[s]; !ok {
			t.Fatalf("state %s missing from transition table", s)
		}
		for _, next := range transitions[s] {
			if _, ok := transitions[next]; !ok {
				t.Fatalf("%s -> %s targets an unknown state", s, next)
			}
		}
		if s.Terminal() != (len(transitions[s]) == 0) {
			t.Fatalf("state %s: terminal=%v but has %d edges", s, s.Terminal(), len(transitions[s]))
		}
	}
}

func TestAdvance_RejectsUnlistedEdge(t *testing.T) {
	p := &Pact{State: StateDisputed}
	err := p.advance(StateEnded)
	if !errors.Is(err, ErrWrongState) {
		t.Fatalf("expected ErrWrongState, got %v", err)
	}
	if p.State != StateDisputed {
		t.Fatalf("state changed to %s on rejected edge", p.State)
	}
}

func TestParseState(t *testing.T) {
	s, err := ParseState(" fnf_payer ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s != StateFNFPayer {
		t.Fatalf("expected %s, got %s", StateFNFPayer, s)
	}
	if _, err := ParseState("SUSPENDED"); err == nil {
		t.Fatalf("expected error for unknown state")
	}
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrNotFound, "not_found"},
		{fmt.Errorf("%w: payer delegate only", ErrUnauthorized), "unauthorized"},
		{fmt.Errorf("%w: %w", ErrInsufficientStake, ErrInsufficientAmount), "insufficient_stake"},
		{ErrDenominationMismatch, "denomination_mismatch"},
		{ErrDisputed, "disputed"},
		{errors.New("boom"), "internal"},
	}
	for _, tc := range cases {
		if got := ErrorCode(tc.err); got != tc.want {
			t.Fatalf("ErrorCode(%v): want %q, got %q", tc.err, tc.want, got)
		}
	}
}

func TestListFilter_Defaults(t *testing.T) {
	f := ListFilter{Page: 3, PageSize: 500}
	if f.Limit() != 20 || f.Offset() != 40 {
		t.Fatalf("unexpected limit/offset %d/%d", f.Limit(), f.Offset())
	}
	f = ListFilter{}
	if f.Limit() != 20 || f.Offset() != 0 {
		t.Fatalf("unexpected defaults %d/%d", f.Limit(), f.Offset())
	}
}
