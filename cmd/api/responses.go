package main

import (
	"encoding/json"
	"time"

	"pactflow/delegation"
	"pactflow/pact"
	"pactflow/types"
)

type arbitratorResponse struct {
	Address  string `json:"address"`
	Resolved bool   `json:"resolved"`
}

type disputeResponse struct {
	Status         string               `json:"status"`
	ProposedAmount string               `json:"proposed_amount"`
	Proposer       string               `json:"proposer,omitempty"`
	Pending        bool                 `json:"pending"`
	Accepted       bool                 `json:"accepted"`
	Arbitrators    []arbitratorResponse `json:"arbitrators"`
}

type pactResponse struct {
	ID            string           `json:"id"`
	Creator       string           `json:"creator"`
	Name          string           `json:"name"`
	Payer         string           `json:"payer"`
	Payee         string           `json:"payee"`
	Interval      uint64           `json:"interval"`
	Amount        string           `json:"amount"`
	Denomination  string           `json:"denomination"`
	ExternalRef   string           `json:"external_ref"`
	State         string           `json:"state"`
	PayerSigned   bool             `json:"payer_signed"`
	PayeeSigned   bool             `json:"payee_signed"`
	Stake         string           `json:"stake"`
	LastPaidAt    *string          `json:"last_paid_at"`
	LastPayAmount string           `json:"last_pay_amount"`
	ResumedAt     *string          `json:"resumed_at"`
	ActiveSeconds uint64           `json:"active_seconds"`
	Dispute       *disputeResponse `json:"dispute,omitempty"`
	CreatedAt     string           `json:"created_at"`
	UpdatedAt     string           `json:"updated_at"`
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func toPactResponse(p pact.Pact) pactResponse {
	resp := pactResponse{
		ID:            p.ID.Hex(),
		Creator:       p.Creator.Hex(),
		Name:          p.Terms.Name,
		Payer:         p.Terms.Payer.Hex(),
		Payee:         p.Terms.Payee.Hex(),
		Interval:      p.Terms.Interval,
		Amount:        types.FormatAmount(p.Terms.Amount),
		Denomination:  p.Terms.Denomination.String(),
		ExternalRef:   p.Terms.ExternalRef,
		State:         string(p.State),
		PayerSigned:   p.PayerSigned,
		PayeeSigned:   p.PayeeSigned,
		Stake:         types.FormatAmount(p.Stake),
		LastPaidAt:    formatTime(p.LastPaidAt),
		LastPayAmount: types.FormatAmount(p.LastPayAmount),
		ResumedAt:     formatTime(p.ResumedAt),
		ActiveSeconds: p.ActiveSeconds,
		CreatedAt:     p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     p.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if p.Dispute.Raised {
		d := &disputeResponse{
			Status:         string(p.Dispute.Status()),
			ProposedAmount: types.FormatAmount(p.Dispute.ProposedAmount),
			Pending:        p.Dispute.Pending,
			Accepted:       p.Dispute.Accepted,
			Arbitrators:    make([]arbitratorResponse, 0, len(p.Dispute.Members)),
		}
		if !p.Dispute.Proposer.IsZero() {
			d.Proposer = p.Dispute.Proposer.Hex()
		}
		for _, m := range p.Dispute.Members {
			d.Arbitrators = append(d.Arbitrators, arbitratorResponse{Address: m.Address.Hex(), Resolved: m.Resolved})
		}
		resp.Dispute = d
	}
	return resp
}

type listResponse struct {
	Items    []pactResponse `json:"items"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

type timelineEventResponse struct {
	Seq       int             `json:"seq"`
	Type      string          `json:"type"`
	Actor     string          `json:"actor"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt string          `json:"created_at"`
}

func toTimelineResponse(events []pact.TimelineEvent) []timelineEventResponse {
	out := make([]timelineEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, timelineEventResponse{
			Seq:       e.Seq,
			Type:      e.Type,
			Actor:     e.Actor.Hex(),
			Payload:   json.RawMessage(e.Payload),
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}

type delegationResponse struct {
	Principal  string `json:"principal"`
	Delegate   string `json:"delegate"`
	Authorized bool   `json:"authorized"`
	UpdatedAt  string `json:"updated_at"`
}

func toDelegationResponse(recs []delegation.Record) []delegationResponse {
	out := make([]delegationResponse, 0, len(recs))
	for _, r := range recs {
		out = append(out, delegationResponse{
			Principal:  r.Principal.Hex(),
			Delegate:   r.Delegate.Hex(),
			Authorized: r.Authorized,
			UpdatedAt:  r.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}

type digestResponse struct {
	Digest    string `json:"digest"`
	Timestamp int64  `json:"timestamp"`
	Version   string `json:"version"`
	Deposit   string `json:"deposit"`
}
