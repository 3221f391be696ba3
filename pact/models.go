package pact

import (
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"pactflow/dispute"
	"pactflow/escrow"
	"pactflow/sigcodec"
	"pactflow/types"
)

// Terms are fixed at creation and covered by both signatures.
type Terms struct {
	Name         string
	Payer        types.Address
	Payee        types.Address
	Interval     uint64
	Amount       *uint256.Int
	Denomination types.Denomination
	ExternalRef  string
}

func (t Terms) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: display name required", ErrInvalidTerms)
	}
	if t.Amount == nil || t.Amount.IsZero() {
		return fmt.Errorf("%w: pay amount must be positive", ErrInvalidTerms)
	}
	if t.Interval == 0 {
		return fmt.Errorf("%w: pay interval must be positive", ErrInvalidTerms)
	}
	if t.Payer.IsZero() || t.Payee.IsZero() {
		return fmt.Errorf("%w: payer and payee required", ErrInvalidTerms)
	}
	if t.Payer == t.Payee {
		return fmt.Errorf("%w: payer and payee must differ", ErrInvalidTerms)
	}
	if err := t.Denomination.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTerms, err)
	}
	return nil
}

// Pact mirrors the pacts table plus its arbitrator rows.
type Pact struct {
	ID            types.Hash
	Creator       types.Address
	Terms         Terms
	State         State
	PayerSigned   bool
	PayeeSigned   bool
	Stake         *uint256.Int
	LastPaidAt    *time.Time
	LastPayAmount *uint256.Int
	ResumedAt     *time.Time
	ActiveSeconds uint64
	Dispute       dispute.Panel
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Material is what a party signs at the given timestamp.
func (p Pact) Material(timestamp int64) sigcodec.Material {
	return sigcodec.Material{
		Name:         p.Terms.Name,
		PactID:       p.ID,
		Payee:        p.Terms.Payee,
		Payer:        p.Terms.Payer,
		Interval:     p.Terms.Interval,
		Amount:       p.Terms.Amount,
		Denomination: p.Terms.Denomination,
		ExternalRef:  p.Terms.ExternalRef,
		Timestamp:    timestamp,
	}
}

// Clone deep-copies every pointer field.
func (p Pact) Clone() Pact {
	c := p
	c.Terms.Amount = types.CloneAmount(p.Terms.Amount)
	c.Stake = types.CloneAmount(p.Stake)
	c.LastPayAmount = types.CloneAmount(p.LastPayAmount)
	if p.LastPaidAt != nil {
		t := *p.LastPaidAt
		c.LastPaidAt = &t
	}
	if p.ResumedAt != nil {
		t := *p.ResumedAt
		c.ResumedAt = &t
	}
	c.Dispute = p.Dispute.Clone()
	return c
}

func (p *Pact) account() *escrow.Account {
	return &escrow.Account{
		PactID:       p.ID,
		Denomination: p.Terms.Denomination,
		Staked:       types.CloneAmount(p.Stake),
		InFlight:     new(uint256.Int),
	}
}

// advance moves the pact along an enumerated edge.
func (p *Pact) advance(to State) error {
	if !CanTransition(p.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrWrongState, p.State, to)
	}
	p.State = to
	return nil
}

// TimelineEvent captures an immutable business event for a pact.
type TimelineEvent struct {
	ID        int64
	PactID    types.Hash
	Seq       int
	Type      string
	Actor     types.Address
	Payload   []byte
	CreatedAt time.Time
}

// ListFilter selects pacts where Party is payer, payee or creator.
type ListFilter struct {
	Party    types.Address
	State    State
	Page     int
	PageSize int
}

func (f *ListFilter) normalize() {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 || f.PageSize > 100 {
		f.PageSize = 20
	}
}

// Offset is the row offset for the page.
func (f ListFilter) Offset() int {
	f.normalize()
	return (f.Page - 1) * f.PageSize
}

// Limit is the page size after defaults.
func (f ListFilter) Limit() int {
	f.normalize()
	return f.PageSize
}

// SignRequest carries one party's consent.
type SignRequest struct {
	PactID    types.Hash
	Signer    types.Address
	Signature []byte
	Timestamp int64
	Funds     types.Funds
}

// DelegateRequest sets or clears a batch of delegates for the caller.
type DelegateRequest struct {
	PactID     types.Hash
	Caller     types.Address
	Delegates  []types.Address
	Authorized bool
}

// PaymentRequest approves one pay period.
type PaymentRequest struct {
	PactID types.Hash
	Caller types.Address
	Funds  types.Funds
}

// SettlementRequest is a full-and-final offer; Extra is paid to the
// counterparty now and may be zero.
type SettlementRequest struct {
	PactID types.Hash
	Caller types.Address
	Extra  *uint256.Int
	Funds  types.Funds
}

const (
	OutboxTopicPactCreated = "pact.created"
	OutboxTopicPactUpdated = "pact.state_changed"
	OutboxTopicEscrowMoved = "pact.escrow_moved"
)
