// Package storagetest is the behavioural suite every storage.Backend must
// pass. Backends call Run from their own tests with a factory that returns
// an empty store.
package storagetest

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pactflow/escrow"
	"pactflow/outbox"
	"pactflow/pact"
	"pactflow/sigcodec"
	"pactflow/storage"
	"pactflow/types"
)

// Factory returns an empty backend; cleanup is registered on t.
type Factory func(t *testing.T) storage.Backend

var (
	sink   = types.MustAddress("0x00000000000000000000000000000000000051c1")
	arbOne = types.MustAddress("0x0000000000000000000000000000000000000a01")
	arbTwo = types.MustAddress("0x0000000000000000000000000000000000000a02")
	helper = types.MustAddress("0x000000000000000000000000000000000000d001")
)

// Run executes the suite.
func Run(t *testing.T, factory Factory) {
	t.Run("lifecycle", func(t *testing.T) { testLifecycle(t, newEnv(t, factory)) })
	t.Run("failed transfer rolls back", func(t *testing.T) { testRollback(t, newEnv(t, factory)) })
	t.Run("arbitration", func(t *testing.T) { testArbitration(t, newEnv(t, factory)) })
	t.Run("delegations", func(t *testing.T) { testDelegations(t, newEnv(t, factory)) })
	t.Run("list", func(t *testing.T) { testList(t, newEnv(t, factory)) })
	t.Run("outbox", func(t *testing.T) { testOutbox(t, newEnv(t, factory)) })
	t.Run("balances", func(t *testing.T) { testBalances(t, newEnv(t, factory)) })
}

type env struct {
	t        *testing.T
	ctx      context.Context
	backend  storage.Backend
	svc      *pact.Service
	now      time.Time
	payerKey *secp256k1.PrivateKey
	payeeKey *secp256k1.PrivateKey
	payer    types.Address
	payee    types.Address
}

func key(b byte) *secp256k1.PrivateKey {
	var raw [32]byte
	raw[31] = b
	return secp256k1.PrivKeyFromBytes(raw[:])
}

func newEnv(t *testing.T, factory Factory) *env {
	t.Helper()
	ledger, err := escrow.NewLedger(escrow.Config{Sink: sink, Rate: escrow.PerCent(1)})
	require.NoError(t, err)

	e := &env{
		t:        t,
		ctx:      context.Background(),
		backend:  factory(t),
		now:      time.Unix(1_700_000_000, 0).UTC(),
		payerKey: key(1),
		payeeKey: key(2),
	}
	e.payer = sigcodec.AddressOf(e.payerKey.PubKey())
	e.payee = sigcodec.AddressOf(e.payeeKey.PubKey())

	ids := 0
	e.svc = pact.NewService(e.backend, ledger).
		WithClock(func() time.Time { return e.now }).
		WithIDGenerator(func() string {
			ids++
			return "msg-" + strconv.Itoa(ids)
		})
	return e
}

func (e *env) credit(acct types.Address, amount uint64) {
	e.t.Helper()
	require.NoError(e.t, e.backend.Credit(e.ctx, acct, types.Native(), uint256.NewInt(amount)))
}

func (e *env) balance(acct types.Address) uint64 {
	e.t.Helper()
	v, err := e.backend.Balance(e.ctx, acct, types.Native())
	require.NoError(e.t, err)
	return v.Uint64()
}

func (e *env) create() pact.Pact {
	e.t.Helper()
	p, err := e.svc.Create(e.ctx, e.payer, pact.Terms{
		Name:         "Website Redesign",
		Payer:        e.payer,
		Payee:        e.payee,
		Interval:     86400,
		Amount:       uint256.NewInt(100),
		Denomination: types.Native(),
		ExternalRef:  "ipfs://bafy-terms",
	})
	require.NoError(e.t, err)
	return p
}

func (e *env) sign(id types.Hash, signer types.Address, k *secp256k1.PrivateKey, funds types.Funds) (pact.Pact, error) {
	digest, err := e.svc.Digest(e.ctx, id, e.now.Unix())
	require.NoError(e.t, err)
	return e.svc.Sign(e.ctx, pact.SignRequest{
		PactID:    id,
		Signer:    signer,
		Signature: sigcodec.SignDigest(k, digest),
		Timestamp: e.now.Unix(),
		Funds:     funds,
	})
}

// terminated runs a pact for a quarter interval and terminates it, leaving 25 staked.
func (e *env) terminated() pact.Pact {
	e.t.Helper()
	p := e.create()
	_, err := e.sign(p.ID, e.payer, e.payerKey, types.NativeFunds(101))
	require.NoError(e.t, err)
	_, err = e.sign(p.ID, e.payee, e.payeeKey, types.NoFunds())
	require.NoError(e.t, err)
	_, err = e.svc.StartOrPause(e.ctx, p.ID, e.payer, true)
	require.NoError(e.t, err)
	e.now = e.now.Add(6 * time.Hour)
	p, err = e.svc.Terminate(e.ctx, p.ID, e.payer)
	require.NoError(e.t, err)
	require.Equal(e.t, pact.StateTerminated, p.State)
	return p
}

func (e *env) eventTypes(id types.Hash) []string {
	e.t.Helper()
	events, err := e.backend.Timeline(e.ctx, id)
	require.NoError(e.t, err)
	out := make([]string, 0, len(events))
	for i, ev := range events {
		require.Equal(e.t, i+1, ev.Seq, "timeline sequence must be gapless")
		out = append(out, ev.Type)
	}
	return out
}

func testLifecycle(t *testing.T, e *env) {
	e.credit(e.payer, 1_000_000)
	p := e.terminated()

	stored, err := e.backend.GetPact(e.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, pact.StateTerminated, stored.State)
	assert.Equal(t, uint64(25), stored.Stake.Uint64())
	assert.Equal(t, uint64(21600), stored.ActiveSeconds)
	assert.True(t, stored.PayerSigned && stored.PayeeSigned)
	assert.Equal(t, p.Terms.Name, stored.Terms.Name)
	assert.Equal(t, p.CreatedAt.Unix(), stored.CreatedAt.Unix())
	assert.Nil(t, stored.ResumedAt)

	assert.Equal(t, uint64(1_000_000-101+75), e.balance(e.payer))
	assert.Equal(t, uint64(25), e.balance(escrow.DefaultVault))
	assert.Equal(t, uint64(1), e.balance(sink))

	assert.Equal(t, []string{"PACT_CREATED", "PACT_SIGNED", "PACT_SIGNED", "PACT_STARTED", "PACT_TERMINATED"}, e.eventTypes(p.ID))

	_, err = e.backend.GetPact(e.ctx, types.MustHash("0x"+strings.Repeat("ab", 32)))
	require.ErrorIs(t, err, pact.ErrNotFound)
}

func testRollback(t *testing.T, e *env) {
	e.credit(e.payer, 50)
	p := e.create()

	_, err := e.sign(p.ID, e.payer, e.payerKey, types.NativeFunds(101))
	require.ErrorIs(t, err, pact.ErrTransferFailed)

	stored, err := e.backend.GetPact(e.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, pact.StateDeployed, stored.State)
	assert.False(t, stored.PayerSigned)
	assert.True(t, stored.Stake.IsZero())
	assert.Equal(t, uint64(50), e.balance(e.payer))
	assert.Zero(t, e.balance(escrow.DefaultVault))
	assert.Equal(t, []string{"PACT_CREATED"}, e.eventTypes(p.ID))
}

func testArbitration(t *testing.T, e *env) {
	e.credit(e.payer, 1_000_000)
	p := e.terminated()

	_, err := e.svc.FullAndFinal(e.ctx, pact.SettlementRequest{PactID: p.ID, Caller: e.payer})
	require.NoError(t, err)
	_, err = e.svc.Dispute(e.ctx, p.ID, e.payee, uint256.NewInt(40))
	require.NoError(t, err)
	_, err = e.svc.ProposeArbitrators(e.ctx, p.ID, e.payee, []types.Address{arbOne, arbTwo})
	require.NoError(t, err)
	_, err = e.svc.RespondArbitrators(e.ctx, p.ID, e.payer, true)
	require.NoError(t, err)

	_, err = e.svc.ArbitratorResolve(e.ctx, p.ID, arbOne)
	require.NoError(t, err)

	stored, err := e.backend.GetPact(e.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, pact.StateArbitrated, stored.State)
	require.Len(t, stored.Dispute.Members, 2)
	assert.Equal(t, arbOne, stored.Dispute.Members[0].Address)
	assert.True(t, stored.Dispute.Members[0].Resolved)
	assert.False(t, stored.Dispute.Members[1].Resolved)
	assert.True(t, stored.Dispute.Accepted)
	assert.Equal(t, e.payee, stored.Dispute.Proposer)
	assert.Equal(t, uint64(40), stored.Dispute.ProposedAmount.Uint64())

	_, err = e.svc.ArbitratorResolve(e.ctx, p.ID, arbTwo)
	require.NoError(t, err)
	p, err = e.svc.ReclaimStake(e.ctx, p.ID, e.payer, helper)
	require.NoError(t, err)
	assert.Equal(t, pact.StateEnded, p.State)

	assert.Equal(t, uint64(25), e.balance(helper))
	assert.Zero(t, e.balance(escrow.DefaultVault))
}

func testDelegations(t *testing.T, e *env) {
	p := e.create()
	_, err := e.sign(p.ID, e.payee, e.payeeKey, types.NoFunds())
	require.NoError(t, err)

	_, err = e.svc.Delegate(e.ctx, pact.DelegateRequest{
		PactID: p.ID, Caller: e.payee, Delegates: []types.Address{helper, arbOne}, Authorized: true,
	})
	require.NoError(t, err)
	e.now = e.now.Add(time.Minute)
	_, err = e.svc.Delegate(e.ctx, pact.DelegateRequest{
		PactID: p.ID, Caller: e.payee, Delegates: []types.Address{arbOne}, Authorized: false,
	})
	require.NoError(t, err)

	recs, err := e.backend.Delegations(e.ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	got := map[types.Address]bool{}
	for _, r := range recs {
		assert.Equal(t, e.payee, r.Principal)
		got[r.Delegate] = r.Authorized
	}
	assert.True(t, got[helper])
	assert.False(t, got[arbOne])
}

func testList(t *testing.T, e *env) {
	var ids []types.Hash
	for i := 0; i < 3; i++ {
		ids = append(ids, e.create().ID)
		e.now = e.now.Add(time.Second)
	}
	_, err := e.sign(ids[0], e.payee, e.payeeKey, types.NoFunds())
	require.NoError(t, err)

	list, total, err := e.backend.ListPacts(e.ctx, pact.ListFilter{Party: e.payee, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].ID, "newest first")

	list, total, err = e.backend.ListPacts(e.ctx, pact.ListFilter{Party: e.payee, PageSize: 2, Page: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, list, 1)
	assert.Equal(t, ids[0], list[0].ID)

	list, total, err = e.backend.ListPacts(e.ctx, pact.ListFilter{State: pact.StatePayeeSigned})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)

	_, total, err = e.backend.ListPacts(e.ctx, pact.ListFilter{Party: helper})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func testOutbox(t *testing.T, e *env) {
	p := e.create()

	var seen []outbox.Message
	batch, err := e.backend.ProcessPending(e.ctx, 10, func(_ context.Context, m outbox.Message) error {
		seen = append(seen, m)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Processed)
	require.Len(t, seen, 1)
	assert.Equal(t, pact.OutboxTopicPactCreated, seen[0].Topic)
	assert.Contains(t, string(seen[0].Payload), p.ID.Hex())

	batch, err = e.backend.ProcessPending(e.ctx, 10, func(context.Context, outbox.Message) error { return nil })
	require.NoError(t, err)
	assert.Zero(t, batch.Processed)

	_, err = e.sign(p.ID, e.payee, e.payeeKey, types.NoFunds())
	require.NoError(t, err)
	failing := func(context.Context, outbox.Message) error { return errors.New("broker down") }
	for i := 1; i < outbox.MaxAttempts; i++ {
		batch, err = e.backend.ProcessPending(e.ctx, 10, failing)
		require.NoError(t, err)
		assert.Equal(t, 1, batch.Failed)
	}
	batch, err = e.backend.ProcessPending(e.ctx, 10, failing)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Dead)

	batch, err = e.backend.ProcessPending(e.ctx, 10, failing)
	require.NoError(t, err)
	assert.Equal(t, outbox.Batch{}, batch, "dead messages are parked")
}

func testBalances(t *testing.T, e *env) {
	assert.Zero(t, e.balance(helper))
	e.credit(helper, 10)
	e.credit(helper, 5)
	assert.Equal(t, uint64(15), e.balance(helper))

	big, err := types.ParseAmount("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	require.NoError(t, err)
	token := types.Token(arbTwo)
	require.NoError(t, e.backend.Credit(e.ctx, arbOne, token, big))
	got, err := e.backend.Balance(e.ctx, arbOne, token)
	require.NoError(t, err)
	assert.True(t, got.Eq(big), "256-bit balances must round-trip")
	assert.Zero(t, e.balance(arbOne), "denominations are separate")
}
