package pact

import (
	"context"
	"errors"
	"sort"

	"github.com/holiman/uint256"

	"pactflow/delegation"
	"pactflow/escrow"
	"pactflow/outbox"
	"pactflow/types"
)

type balanceKey struct {
	account types.Address
	denom   string
}

type delegateKey struct {
	pactID    types.Hash
	principal types.Address
	delegate  types.Address
}

// fakeState is everything a fakeTx may change; Begin copies it and Commit
// swaps the copy back in.
type fakeState struct {
	nonce     uint64
	pacts     map[types.Hash]Pact
	balances  map[balanceKey]*uint256.Int
	delegates map[delegateKey]delegation.Record
	entries   []escrow.Entry
	events    []TimelineEvent
	outbox    []outbox.Message
}

func (s fakeState) clone() fakeState {
	c := fakeState{
		nonce:     s.nonce,
		pacts:     make(map[types.Hash]Pact, len(s.pacts)),
		balances:  make(map[balanceKey]*uint256.Int, len(s.balances)),
		delegates: make(map[delegateKey]delegation.Record, len(s.delegates)),
		entries:   append([]escrow.Entry(nil), s.entries...),
		events:    append([]TimelineEvent(nil), s.events...),
		outbox:    append([]outbox.Message(nil), s.outbox...),
	}
	for k, v := range s.pacts {
		c.pacts[k] = v.Clone()
	}
	for k, v := range s.balances {
		c.balances[k] = v.Clone()
	}
	for k, v := range s.delegates {
		c.delegates[k] = v
	}
	return c
}

type fakeStore struct {
	state    fakeState
	tx       *fakeTx
	failTo   types.Address
	beginErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{state: fakeState{}.clone()}
}

func (f *fakeStore) credit(acct types.Address, d types.Denomination, amount uint64) {
	f.state.balances[balanceKey{acct, d.String()}] = uint256.NewInt(amount)
}

func (f *fakeStore) balance(acct types.Address, d types.Denomination) uint64 {
	v, ok := f.state.balances[balanceKey{acct, d.String()}]
	if !ok {
		return 0
	}
	return v.Uint64()
}

func (f *fakeStore) Begin(ctx context.Context) (Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	f.tx = &fakeTx{store: f, state: f.state.clone()}
	return f.tx, nil
}

func (f *fakeStore) GetPact(ctx context.Context, id types.Hash) (Pact, error) {
	p, ok := f.state.pacts[id]
	if !ok {
		return Pact{}, ErrNotFound
	}
	return p.Clone(), nil
}

func (f *fakeStore) ListPacts(ctx context.Context, filter ListFilter) ([]Pact, int, error) {
	var out []Pact
	for _, p := range f.state.pacts {
		if !filter.Party.IsZero() && p.Terms.Payer != filter.Party && p.Terms.Payee != filter.Party && p.Creator != filter.Party {
			continue
		}
		if filter.State != "" && p.State != filter.State {
			continue
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	lo := filter.Offset()
	if lo > total {
		lo = total
	}
	hi := lo + filter.Limit()
	if hi > total {
		hi = total
	}
	return out[lo:hi], total, nil
}

func (f *fakeStore) Timeline(ctx context.Context, id types.Hash) ([]TimelineEvent, error) {
	var out []TimelineEvent
	for _, e := range f.state.events {
		if e.PactID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) Delegations(ctx context.Context, id types.Hash) ([]delegation.Record, error) {
	var out []delegation.Record
	for k, rec := range f.state.delegates {
		if k.pactID == id {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeStore) eventTypes(id types.Hash) []string {
	var out []string
	for _, e := range f.state.events {
		if e.PactID == id {
			out = append(out, e.Type)
		}
	}
	return out
}

type fakeTx struct {
	store     *fakeStore
	state     fakeState
	committed bool
	rolled    bool
}

func (f *fakeTx) Commit(context.Context) error {
	if f.rolled {
		return errors.New("fakeTx: commit after rollback")
	}
	f.committed = true
	f.store.state = f.state
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if !f.committed {
		f.rolled = true
	}
	return nil
}

func (f *fakeTx) NextNonce(context.Context) (uint64, error) {
	f.state.nonce++
	return f.state.nonce, nil
}

func (f *fakeTx) InsertPact(_ context.Context, p *Pact) error {
	if _, ok := f.state.pacts[p.ID]; ok {
		return errors.New("fakeTx: duplicate pact")
	}
	f.state.pacts[p.ID] = p.Clone()
	return nil
}

func (f *fakeTx) LockPact(_ context.Context, id types.Hash) (*Pact, error) {
	p, ok := f.state.pacts[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := p.Clone()
	return &c, nil
}

func (f *fakeTx) UpdatePact(_ context.Context, p *Pact) error {
	f.state.pacts[p.ID] = p.Clone()
	return nil
}

func (f *fakeTx) AppendTimeline(_ context.Context, e TimelineEvent) error {
	seq := 0
	for _, ev := range f.state.events {
		if ev.PactID == e.PactID && ev.Seq > seq {
			seq = ev.Seq
		}
	}
	e.ID = int64(len(f.state.events) + 1)
	e.Seq = seq + 1
	f.state.events = append(f.state.events, e)
	return nil
}

func (f *fakeTx) EnqueueOutbox(_ context.Context, m outbox.Message) error {
	f.state.outbox = append(f.state.outbox, m)
	return nil
}

func (f *fakeTx) IsDelegate(_ context.Context, pactID types.Hash, principal, delegate types.Address) (bool, error) {
	rec, ok := f.state.delegates[delegateKey{pactID, principal, delegate}]
	return ok && rec.Authorized, nil
}

func (f *fakeTx) SetDelegate(_ context.Context, rec delegation.Record) error {
	f.state.delegates[delegateKey{rec.PactID, rec.Principal, rec.Delegate}] = rec
	return nil
}

func (f *fakeTx) Transfer(_ context.Context, t escrow.Transfer) error {
	if !f.store.failTo.IsZero() && t.To == f.store.failTo {
		return errors.New("recipient rejected value")
	}
	from := balanceKey{t.From, t.Denomination.String()}
	cur, ok := f.state.balances[from]
	if !ok || cur.Lt(t.Amount) {
		return errors.New("insufficient host balance")
	}
	f.state.balances[from] = new(uint256.Int).Sub(cur, t.Amount)
	to := balanceKey{t.To, t.Denomination.String()}
	if f.state.balances[to] == nil {
		f.state.balances[to] = new(uint256.Int)
	}
	f.state.balances[to] = new(uint256.Int).Add(f.state.balances[to], t.Amount)
	return nil
}

func (f *fakeTx) RecordEntry(_ context.Context, e escrow.Entry) error {
	f.state.entries = append(f.state.entries, e)
	return nil
}
