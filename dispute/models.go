package dispute

import (
	"github.com/holiman/uint256"

	"pactflow/types"
)

// Status summarises where a pact's dispute stands.
type Status string

const (
	StatusNone       Status = "none"
	StatusOpen       Status = "open"
	StatusProposed   Status = "proposed"
	StatusArbitrated Status = "arbitrated"
	StatusResolved   Status = "resolved"
)

// Arbitrator is one panel seat.
type Arbitrator struct {
	Address  types.Address
	Resolved bool
}

// Panel holds the dispute fields of a pact: the settlement amount the payee
// asked for, the proposed or accepted arbitrators and who proposed them.
type Panel struct {
	Raised         bool
	ProposedAmount *uint256.Int
	Proposer       types.Address
	Members        []Arbitrator
	Pending        bool
	Accepted       bool
}

// Outcome reports what a resolve call changed.
type Outcome struct {
	Member   bool
	Counted  bool
	Majority bool
	Resolved int
	Size     int
}
