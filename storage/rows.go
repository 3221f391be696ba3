package storage

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"pactflow/dispute"
	"pactflow/pact"
	"pactflow/types"
)

// PactRow is the column form of a pact. Amounts travel as decimal strings so
// both NUMERIC and TEXT columns round-trip 256-bit values.
type PactRow struct {
	ID             string
	Creator        string
	Name           string
	Payer          string
	Payee          string
	Interval       int64
	Amount         string
	Denomination   string
	ExternalRef    string
	State          string
	PayerSigned    bool
	PayeeSigned    bool
	Stake          string
	LastPaidAt     *time.Time
	LastPayAmount  string
	ResumedAt      *time.Time
	ActiveSeconds  int64
	DisputeRaised  bool
	ProposedAmount *string
	Proposer       *string
	PanelPending   bool
	PanelAccepted  bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EncodePact flattens p into columns. Arbitrator seats are stored separately.
func EncodePact(p *pact.Pact) PactRow {
	row := PactRow{
		ID:            p.ID.Hex(),
		Creator:       p.Creator.Hex(),
		Name:          p.Terms.Name,
		Payer:         p.Terms.Payer.Hex(),
		Payee:         p.Terms.Payee.Hex(),
		Interval:      int64(p.Terms.Interval),
		Amount:        types.FormatAmount(p.Terms.Amount),
		Denomination:  p.Terms.Denomination.String(),
		ExternalRef:   p.Terms.ExternalRef,
		State:         string(p.State),
		PayerSigned:   p.PayerSigned,
		PayeeSigned:   p.PayeeSigned,
		Stake:         types.FormatAmount(p.Stake),
		LastPaidAt:    utcPtr(p.LastPaidAt),
		LastPayAmount: types.FormatAmount(p.LastPayAmount),
		ResumedAt:     utcPtr(p.ResumedAt),
		ActiveSeconds: int64(p.ActiveSeconds),
		DisputeRaised: p.Dispute.Raised,
		PanelPending:  p.Dispute.Pending,
		PanelAccepted: p.Dispute.Accepted,
		CreatedAt:     p.CreatedAt.UTC(),
		UpdatedAt:     p.UpdatedAt.UTC(),
	}
	if p.Dispute.Raised {
		amount := types.FormatAmount(p.Dispute.ProposedAmount)
		row.ProposedAmount = &amount
	}
	if !p.Dispute.Proposer.IsZero() {
		proposer := p.Dispute.Proposer.Hex()
		row.Proposer = &proposer
	}
	return row
}

// Decode rebuilds the pact from its columns and arbitrator seats.
func (r PactRow) Decode(members []dispute.Arbitrator) (pact.Pact, error) {
	var (
		p   pact.Pact
		err error
	)
	if p.ID, err = types.ParseHash(r.ID); err != nil {
		return pact.Pact{}, fmt.Errorf("storage: decode pact id: %w", err)
	}
	if p.Creator, err = types.ParseAddress(r.Creator); err != nil {
		return pact.Pact{}, fmt.Errorf("storage: decode creator: %w", err)
	}
	if p.Terms.Payer, err = types.ParseAddress(r.Payer); err != nil {
		return pact.Pact{}, fmt.Errorf("storage: decode payer: %w", err)
	}
	if p.Terms.Payee, err = types.ParseAddress(r.Payee); err != nil {
		return pact.Pact{}, fmt.Errorf("storage: decode payee: %w", err)
	}
	if p.Terms.Denomination, err = types.ParseDenomination(r.Denomination); err != nil {
		return pact.Pact{}, fmt.Errorf("storage: decode denomination: %w", err)
	}
	if p.State, err = pact.ParseState(r.State); err != nil {
		return pact.Pact{}, fmt.Errorf("storage: decode state: %w", err)
	}

	amounts := []struct {
		dst **uint256.Int
		src string
	}{
		{&p.Terms.Amount, r.Amount},
		{&p.Stake, r.Stake},
		{&p.LastPayAmount, r.LastPayAmount},
	}
	for _, a := range amounts {
		if *a.dst, err = parseAmount(a.src); err != nil {
			return pact.Pact{}, err
		}
	}

	p.Terms.Name = r.Name
	p.Terms.Interval = uint64(r.Interval)
	p.Terms.ExternalRef = r.ExternalRef
	p.PayerSigned = r.PayerSigned
	p.PayeeSigned = r.PayeeSigned
	p.LastPaidAt = utcPtr(r.LastPaidAt)
	p.ResumedAt = utcPtr(r.ResumedAt)
	p.ActiveSeconds = uint64(r.ActiveSeconds)
	p.CreatedAt = r.CreatedAt.UTC()
	p.UpdatedAt = r.UpdatedAt.UTC()

	p.Dispute = dispute.Panel{
		Raised:   r.DisputeRaised,
		Pending:  r.PanelPending,
		Accepted: r.PanelAccepted,
		Members:  members,
	}
	if r.ProposedAmount != nil {
		if p.Dispute.ProposedAmount, err = parseAmount(*r.ProposedAmount); err != nil {
			return pact.Pact{}, err
		}
	}
	if r.Proposer != nil {
		if p.Dispute.Proposer, err = types.ParseAddress(*r.Proposer); err != nil {
			return pact.Pact{}, fmt.Errorf("storage: decode proposer: %w", err)
		}
	}
	return p, nil
}

func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := types.ParseAmount(s)
	if err != nil {
		return nil, fmt.Errorf("storage: decode amount %q: %w", s, err)
	}
	return v, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
