package pact

import (
	"fmt"
	"strings"
)

// State is the lifecycle position of a pact.
type State string

const (
	StateDeployed        State = "DEPLOYED"
	StateRetracted       State = "RETRACTED"
	StatePayerSigned     State = "PAYER_SIGNED"
	StatePayeeSigned     State = "PAYEE_SIGNED"
	StateAllSigned       State = "ALL_SIGNED"
	StateActive          State = "ACTIVE"
	StatePaused          State = "PAUSED"
	StateTerminated      State = "TERMINATED"
	StateResigned        State = "RESIGNED"
	StateFNFPayer        State = "FNF_PAYER"
	StateFNFPayee        State = "FNF_PAYEE"
	StateDisputed        State = "DISPUTED"
	StateArbitrated      State = "ARBITRATED"
	StateFNFSettled      State = "FNF_SETTLED"
	StateDisputeResolved State = "DISPUTE_RESOLVED"
	StateEnded           State = "ENDED"
)

// States lists every state in declaration order.
var States = []State{
	StateDeployed, StateRetracted, StatePayerSigned, StatePayeeSigned, StateAllSigned,
	StateActive, StatePaused, StateTerminated, StateResigned, StateFNFPayer, StateFNFPayee,
	StateDisputed, StateArbitrated, StateFNFSettled, StateDisputeResolved, StateEnded,
}

// transitions is the complete edge set; anything absent is rejected.
// Self-edges mark operations that keep the state but still mutate the pact
// (payments, delegation, panel proposals and votes).
var transitions = map[State][]State{
	StateDeployed:        {StatePayerSigned, StatePayeeSigned},
	StatePayerSigned:     {StateAllSigned, StateRetracted, StatePayerSigned},
	StatePayeeSigned:     {StateAllSigned, StatePayeeSigned},
	StateAllSigned:       {StateActive, StateAllSigned},
	StateActive:          {StatePaused, StateTerminated, StateResigned, StateActive},
	StatePaused:          {StateActive, StateTerminated, StateResigned, StatePaused},
	StateTerminated:      {StateFNFPayer, StateFNFPayee, StateTerminated},
	StateResigned:        {StateFNFPayer, StateFNFPayee, StateResigned},
	StateFNFPayer:        {StateFNFSettled, StateDisputed, StateFNFPayer},
	StateFNFPayee:        {StateFNFSettled, StateFNFPayee},
	StateDisputed:        {StateArbitrated, StateDisputed},
	StateArbitrated:      {StateDisputeResolved, StateFNFPayer, StateFNFPayee, StateArbitrated},
	StateFNFSettled:      {StateEnded, StateFNFSettled},
	StateDisputeResolved: {StateEnded, StateDisputeResolved},
	StateRetracted:       nil,
	StateEnded:           nil,
}

// CanTransition reports whether from -> to is an enumerated edge.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal states accept no further operation.
func (s State) Terminal() bool {
	return s == StateRetracted || s == StateEnded
}

// Signed is true once both parties consented.
func (s State) Signed() bool {
	switch s {
	case StateDeployed, StatePayerSigned, StatePayeeSigned, StateRetracted:
		return false
	default:
		return true
	}
}

// Running covers the states where work accrues or is suspended.
func (s State) Running() bool {
	return s == StateActive || s == StatePaused
}

func (s State) String() string { return string(s) }

func ParseState(v string) (State, error) {
	s := State(strings.ToUpper(strings.TrimSpace(v)))
	if _, ok := transitions[s]; !ok {
		return "", fmt.Errorf("pact: unknown state %q", v)
	}
	return s, nil
}
