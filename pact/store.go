package pact

import (
	"context"

	"pactflow/delegation"
	"pactflow/escrow"
	"pactflow/outbox"
	"pactflow/types"
)

// Store abstracts the persistent backend. Begin opens the unit of work that
// every transition runs in; the read methods run outside of it.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	GetPact(ctx context.Context, id types.Hash) (Pact, error)
	ListPacts(ctx context.Context, filter ListFilter) ([]Pact, int, error)
	Timeline(ctx context.Context, id types.Hash) ([]TimelineEvent, error)
	Delegations(ctx context.Context, id types.Hash) ([]delegation.Record, error)
}

// Tx is one atomic call boundary. Host transfers, journal lines, delegation
// writes, timeline and outbox rows all join it, so a rollback leaves no
// trace of a failed operation.
type Tx interface {
	escrow.Host
	delegation.Store

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	NextNonce(ctx context.Context) (uint64, error)
	InsertPact(ctx context.Context, p *Pact) error
	// LockPact loads the pact and holds it until the transaction ends.
	LockPact(ctx context.Context, id types.Hash) (*Pact, error)
	UpdatePact(ctx context.Context, p *Pact) error
	AppendTimeline(ctx context.Context, e TimelineEvent) error
	EnqueueOutbox(ctx context.Context, m outbox.Message) error
}
