// Package actors drives pact lifecycles concurrently against one backend.
// Actors tolerate every operation error: rejected operations are the point
// of the exercise and the oracles judge what was committed.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/holiman/uint256"

	"pactflow/outbox"
	"pactflow/pact"
	"pactflow/sigcodec"
	"pactflow/storage"
	"pactflow/types"
)

// Party is a signing identity.
type Party struct {
	Key  *secp256k1.PrivateKey
	Addr types.Address
}

// Stats counts what the actors achieved; rejected counts taxonomy errors,
// failed counts everything else (mostly connections killed by chaos).
type Stats struct {
	Ended    atomic.Int64
	Resolved atomic.Int64
	Rejected atomic.Int64
	Failed   atomic.Int64
}

func (s *Stats) String() string {
	return fmt.Sprintf("ended=%d resolved=%d rejected=%d failed=%d",
		s.Ended.Load(), s.Resolved.Load(), s.Rejected.Load(), s.Failed.Load())
}

// World is the state every actor shares.
type World struct {
	Service *pact.Service
	Store   storage.Backend
	Parties []Party
	Panel   []Party
	Stats   *Stats
}

// NewWorld creates n funded parties and a two-member arbitration panel.
func NewWorld(ctx context.Context, svc *pact.Service, store storage.Backend, n int) (*World, error) {
	w := &World{Service: svc, Store: store, Stats: &Stats{}}
	funding := new(uint256.Int).Lsh(uint256.NewInt(1), 120)
	for i := 0; i < n+2; i++ {
		key, addr, err := sigcodec.GenerateKey()
		if err != nil {
			return nil, err
		}
		p := Party{Key: key, Addr: addr}
		if i >= n {
			w.Panel = append(w.Panel, p)
			continue
		}
		if err := store.Credit(ctx, addr, types.Native(), funding); err != nil {
			return nil, fmt.Errorf("fund %s: %w", addr, err)
		}
		w.Parties = append(w.Parties, p)
	}
	return w, nil
}

func (w *World) pair(rng *rand.Rand) (Party, Party) {
	i := rng.Intn(len(w.Parties))
	j := rng.Intn(len(w.Parties) - 1)
	if j >= i {
		j++
	}
	return w.Parties[i], w.Parties[j]
}

// note classifies err; it reports false when the actor should give up on
// the current pact.
func (w *World) note(err error) bool {
	switch {
	case err == nil:
		return true
	case pact.ErrorCode(err) == "internal":
		w.Stats.Failed.Add(1)
	default:
		w.Stats.Rejected.Add(1)
	}
	return false
}

func done(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (w *World) sign(ctx context.Context, id types.Hash, p Party, funds types.Funds) error {
	ts := time.Now().Unix()
	digest, err := w.Service.Digest(ctx, id, ts)
	if err != nil {
		return err
	}
	_, err = w.Service.Sign(ctx, pact.SignRequest{
		PactID:    id,
		Signer:    p.Addr,
		Signature: sigcodec.SignDigest(p.Key, digest),
		Timestamp: ts,
		Funds:     funds,
	})
	return err
}

// Open creates a pact and takes it to ACTIVE.
func (w *World) Open(ctx context.Context, rng *rand.Rand, payer, payee Party) (pact.Pact, bool) {
	amount := uint256.NewInt(uint64(100 + rng.Intn(10_000)))
	p, err := w.Service.Create(ctx, payer.Addr, pact.Terms{
		Name:         fmt.Sprintf("stress %d", rng.Int63()),
		Payer:        payer.Addr,
		Payee:        payee.Addr,
		Interval:     uint64(60 + rng.Intn(3600)),
		Amount:       amount,
		Denomination: types.Native(),
	})
	if !w.note(err) {
		return pact.Pact{}, false
	}
	deposit, _ := w.Service.DepositQuote(amount)
	order := []func() error{
		func() error {
			return w.sign(ctx, p.ID, payer, types.Funds{Denomination: types.Native(), Amount: deposit})
		},
		func() error {
			return w.sign(ctx, p.ID, payee, types.NoFunds())
		},
	}
	if rng.Intn(2) == 0 {
		order[0], order[1] = order[1], order[0]
	}
	for _, sign := range order {
		if !w.note(sign()) {
			return p, false
		}
	}
	p, err = w.Service.StartOrPause(ctx, p.ID, payer.Addr, true)
	return p, w.note(err)
}

func (w *World) pay(ctx context.Context, p pact.Pact, payer Party) bool {
	charge := w.Service.Ledger().Quote(p.Terms.Amount).Charge
	_, err := w.Service.ApprovePayment(ctx, pact.PaymentRequest{
		PactID: p.ID,
		Caller: payer.Addr,
		Funds:  types.Funds{Denomination: types.Native(), Amount: charge},
	})
	return w.note(err)
}

func (w *World) offer(ctx context.Context, id types.Hash, caller types.Address) bool {
	_, err := w.Service.FullAndFinal(ctx, pact.SettlementRequest{PactID: id, Caller: caller, Extra: new(uint256.Int), Funds: types.NoFunds()})
	return w.note(err)
}

// Lifecycle runs pacts from creation through settlement to ENDED.
func Lifecycle(ctx context.Context, w *World, rng *rand.Rand, stop <-chan struct{}) error {
	for !done(ctx, stop) {
		payer, payee := w.pair(rng)
		p, ok := w.Open(ctx, rng, payer, payee)
		if !ok {
			time.Sleep(20 * time.Millisecond)
			continue
		}
		for i := rng.Intn(3); i > 0 && ok; i-- {
			ok = w.pay(ctx, p, payer)
		}
		terminator := payer
		if rng.Intn(2) == 0 {
			terminator = payee
		}
		if _, err := w.Service.Terminate(ctx, p.ID, terminator.Addr); !w.note(err) {
			continue
		}
		if !w.offer(ctx, p.ID, payee.Addr) || !w.offer(ctx, p.ID, payer.Addr) {
			continue
		}
		if _, err := w.Service.ReclaimStake(ctx, p.ID, payer.Addr, payer.Addr); w.note(err) {
			w.Stats.Ended.Add(1)
		}
		time.Sleep(time.Duration(5+rng.Intn(20)) * time.Millisecond)
	}
	return ctxErr(ctx)
}

// Disputer takes pacts through a dispute and a two-member arbitration.
func Disputer(ctx context.Context, w *World, rng *rand.Rand, stop <-chan struct{}) error {
	for !done(ctx, stop) {
		payer, payee := w.pair(rng)
		p, ok := w.Open(ctx, rng, payer, payee)
		if !ok {
			time.Sleep(20 * time.Millisecond)
			continue
		}
		steps := []func() error{
			func() error {
				_, err := w.Service.Terminate(ctx, p.ID, payer.Addr)
				return err
			},
			func() error {
				_, err := w.Service.FullAndFinal(ctx, pact.SettlementRequest{PactID: p.ID, Caller: payer.Addr, Extra: new(uint256.Int), Funds: types.NoFunds()})
				return err
			},
			func() error {
				_, err := w.Service.Dispute(ctx, p.ID, payee.Addr, uint256.NewInt(50))
				return err
			},
			func() error {
				_, err := w.Service.ProposeArbitrators(ctx, p.ID, payer.Addr, []types.Address{w.Panel[0].Addr, w.Panel[1].Addr})
				return err
			},
			func() error {
				_, err := w.Service.RespondArbitrators(ctx, p.ID, payee.Addr, true)
				return err
			},
			func() error {
				_, err := w.Service.ArbitratorResolve(ctx, p.ID, w.Panel[0].Addr)
				return err
			},
			func() error {
				_, err := w.Service.ArbitratorResolve(ctx, p.ID, w.Panel[1].Addr)
				return err
			},
		}
		for _, step := range steps {
			if ok = w.note(step()); !ok {
				break
			}
		}
		if !ok {
			continue
		}
		w.Stats.Resolved.Add(1)
		if _, err := w.Service.ReclaimStake(ctx, p.ID, payer.Addr, payer.Addr); w.note(err) {
			w.Stats.Ended.Add(1)
		}
		time.Sleep(time.Duration(10+rng.Intn(30)) * time.Millisecond)
	}
	return ctxErr(ctx)
}

// Contender fires random operations at one shared pact so that concurrent
// callers queue on its row lock.
func Contender(ctx context.Context, w *World, id types.Hash, payer, payee Party, rng *rand.Rand, stop <-chan struct{}) error {
	for !done(ctx, stop) {
		p, err := w.Service.Get(ctx, id)
		if !w.note(err) {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		switch rng.Intn(4) {
		case 0:
			_, err = w.Service.StartOrPause(ctx, id, payer.Addr, false)
			w.note(err)
		case 1:
			_, err = w.Service.StartOrPause(ctx, id, payer.Addr, true)
			w.note(err)
		case 2:
			w.pay(ctx, p, payer)
		default:
			_, err = w.Service.Delegate(ctx, pact.DelegateRequest{
				PactID:     id,
				Caller:     payee.Addr,
				Delegates:  []types.Address{w.Panel[rng.Intn(len(w.Panel))].Addr},
				Authorized: rng.Intn(2) == 0,
			})
			w.note(err)
		}
		time.Sleep(time.Duration(rng.Intn(15)) * time.Millisecond)
	}
	return ctxErr(ctx)
}

// flakyPublisher fails a fraction of deliveries so messages retry and some
// go dead.
type flakyPublisher struct {
	rng     *rand.Rand
	failPct int
}

func (f *flakyPublisher) Publish(_ context.Context, m outbox.Message) error {
	if f.rng.Intn(100) < f.failPct {
		return fmt.Errorf("downstream rejected %s", m.ID)
	}
	return nil
}

// OutboxWorker relays pending messages through a publisher that fails
// failPct percent of the time.
func OutboxWorker(ctx context.Context, w *World, rng *rand.Rand, failPct int, stop <-chan struct{}) error {
	relay := outbox.NewRelay(w.Store, &flakyPublisher{rng: rng, failPct: failPct}).WithBatchSize(10)
	for !done(ctx, stop) {
		if _, err := relay.RunOnce(ctx); err != nil {
			w.Stats.Failed.Add(1)
		}
		time.Sleep(time.Duration(20+rng.Intn(40)) * time.Millisecond)
	}
	return ctxErr(ctx)
}
