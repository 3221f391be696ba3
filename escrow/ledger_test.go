package escrow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"pactflow/types"
)

var (
	sink   = types.MustAddress("0x00000000000000000000000000000000000051c1")
	payer  = types.MustAddress("0x000000000000000000000000000000000000a001")
	payee  = types.MustAddress("0x000000000000000000000000000000000000b001")
	pactID = types.MustHash("0x0101010101010101010101010101010101010101010101010101010101010101")
)

type balanceKey struct {
	account types.Address
	denom   string
}

type fakeHost struct {
	balances map[balanceKey]*uint256.Int
	entries  []Entry
	failTo   types.Address
}

func newFakeHost() *fakeHost {
	return &fakeHost{balances: make(map[balanceKey]*uint256.Int)}
}

func (h *fakeHost) credit(acct types.Address, d types.Denomination, amount uint64) {
	h.balances[balanceKey{acct, d.String()}] = uint256.NewInt(amount)
}

func (h *fakeHost) balance(acct types.Address, d types.Denomination) uint64 {
	v, ok := h.balances[balanceKey{acct, d.String()}]
	if !ok {
		return 0
	}
	return v.Uint64()
}

func (h *fakeHost) Transfer(_ context.Context, t Transfer) error {
	if !h.failTo.IsZero() && t.To == h.failTo {
		return errors.New("recipient rejected value")
	}
	from := balanceKey{t.From, t.Denomination.String()}
	cur, ok := h.balances[from]
	if !ok || cur.Lt(t.Amount) {
		return errors.New("insufficient host balance")
	}
	h.balances[from] = new(uint256.Int).Sub(cur, t.Amount)
	to := balanceKey{t.To, t.Denomination.String()}
	if h.balances[to] == nil {
		h.balances[to] = new(uint256.Int)
	}
	h.balances[to] = new(uint256.Int).Add(h.balances[to], t.Amount)
	return nil
}

func (h *fakeHost) RecordEntry(_ context.Context, e Entry) error {
	h.entries = append(h.entries, e)
	return nil
}

func newTestLedger(t *testing.T, policy Policy) *Ledger {
	t.Helper()
	l, err := NewLedger(Config{Sink: sink, Rate: PerCent(1), Policy: policy})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return l.WithClock(func() time.Time { return time.Unix(1_700_000_000, 0) })
}

func TestNewLedger_Validation(t *testing.T) {
	if _, err := NewLedger(Config{Rate: PerCent(1)}); err == nil {
		t.Fatalf("expected missing sink to fail")
	}
	if _, err := NewLedger(Config{Sink: sink, Rate: Rate{Numerator: 1}}); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected ErrInvalidRate, got %v", err)
	}
	if _, err := NewLedger(Config{Sink: sink, Vault: sink, Rate: PerCent(1)}); err == nil {
		t.Fatalf("expected vault == sink to fail")
	}
}

func TestNewLedger_DefaultPolicyKeepsGross(t *testing.T) {
	if p, err := ParsePolicy(""); err != nil || p != PolicyPayee {
		t.Fatalf("expected empty policy to parse as payee, got %q %v", p, err)
	}

	l := newTestLedger(t, "")
	if l.Config().Policy != PolicyPayee {
		t.Fatalf("expected payee default, got %q", l.Config().Policy)
	}
	host := newFakeHost()
	host.credit(payer, types.Native(), 1_000)
	acct := &Account{PactID: pactID, Denomination: types.Native()}

	rec, err := l.Settle(context.Background(), host, acct, payer, types.NativeFunds(100), payee, uint256.NewInt(100))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if sum := new(uint256.Int).Add(rec.Net, rec.Commission); !sum.Eq(rec.Gross) || rec.Charge.Uint64() != 100 {
		t.Fatalf("expected net + commission == gross == charge, got %+v", rec)
	}
	if got := host.balance(payee, types.Native()); got != 99 {
		t.Fatalf("expected payee balance 99, got %d", got)
	}
	if got := host.balance(payer, types.Native()); got != 900 {
		t.Fatalf("expected payer balance 900, got %d", got)
	}
}

func TestDeposit_StakePlusCommission(t *testing.T) {
	l := newTestLedger(t, PolicyPayer)
	host := newFakeHost()
	host.credit(payer, types.Native(), 1_000)
	acct := &Account{PactID: pactID, Denomination: types.Native()}

	rec, err := l.Deposit(context.Background(), host, acct, payer, types.NativeFunds(101), uint256.NewInt(100))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if acct.Staked.Uint64() != 100 {
		t.Fatalf("expected stake 100, got %s", acct.Staked.Dec())
	}
	if rec.Commission.Uint64() != 1 || rec.Charge.Uint64() != 101 {
		t.Fatalf("unexpected receipt %+v", rec)
	}
	if got := host.balance(payer, types.Native()); got != 899 {
		t.Fatalf("expected payer balance 899, got %d", got)
	}
	if got := host.balance(l.Config().Vault, types.Native()); got != 100 {
		t.Fatalf("expected vault balance 100, got %d", got)
	}
	if got := host.balance(sink, types.Native()); got != 1 {
		t.Fatalf("expected sink balance 1, got %d", got)
	}
	if len(host.entries) != 2 || host.entries[0].Kind != EntryDeposit || host.entries[1].Kind != EntryCommission {
		t.Fatalf("unexpected journal %+v", host.entries)
	}
}

func TestDeposit_Rejections(t *testing.T) {
	l := newTestLedger(t, PolicyPayer)
	token := types.MustAddress("0x00000000000000000000000000000000000070c0")

	t.Run("underpaid", func(t *testing.T) {
		host := newFakeHost()
		host.credit(payer, types.Native(), 1_000)
		acct := &Account{PactID: pactID, Denomination: types.Native()}
		_, err := l.Deposit(context.Background(), host, acct, payer, types.NativeFunds(100), uint256.NewInt(100))
		if !errors.Is(err, ErrInsufficientAmount) {
			t.Fatalf("expected ErrInsufficientAmount, got %v", err)
		}
		if !acct.Staked.IsZero() {
			t.Fatalf("stake must be untouched")
		}
	})

	t.Run("native for token pact", func(t *testing.T) {
		host := newFakeHost()
		acct := &Account{PactID: pactID, Denomination: types.Token(token)}
		_, err := l.Deposit(context.Background(), host, acct, payer, types.NativeFunds(500), uint256.NewInt(100))
		if !errors.Is(err, ErrDenominationMismatch) {
			t.Fatalf("expected ErrDenominationMismatch, got %v", err)
		}
	})

	t.Run("host balance short", func(t *testing.T) {
		host := newFakeHost()
		host.credit(payer, types.Native(), 50)
		acct := &Account{PactID: pactID, Denomination: types.Native()}
		_, err := l.Deposit(context.Background(), host, acct, payer, types.NativeFunds(101), uint256.NewInt(100))
		if !errors.Is(err, ErrTransferFailed) {
			t.Fatalf("expected ErrTransferFailed, got %v", err)
		}
		if !acct.Staked.IsZero() {
			t.Fatalf("stake must be restored after a failed transfer, got %s", acct.Staked.Dec())
		}
	})
}

func TestSettle_Policies(t *testing.T) {
	cases := []struct {
		policy     Policy
		attach     uint64
		wantCharge uint64
		wantNet    uint64
	}{
		{PolicyPayer, 1_000, 1_010, 1_000},
		{PolicyPayee, 1_000, 1_000, 990},
		{PolicyShared, 1_005, 1_005, 995},
	}
	for _, tc := range cases {
		t.Run(string(tc.policy), func(t *testing.T) {
			l := newTestLedger(t, tc.policy)
			host := newFakeHost()
			host.credit(payer, types.Native(), 5_000)
			acct := &Account{PactID: pactID, Denomination: types.Native()}

			rec, err := l.Settle(context.Background(), host, acct, payer, types.NativeFunds(tc.attach+100), payee, uint256.NewInt(1_000))
			if err != nil {
				t.Fatalf("settle: %v", err)
			}
			if rec.Charge.Uint64() != tc.wantCharge || rec.Net.Uint64() != tc.wantNet || rec.Commission.Uint64() != 10 {
				t.Fatalf("unexpected receipt charge=%s net=%s commission=%s", rec.Charge.Dec(), rec.Net.Dec(), rec.Commission.Dec())
			}
			if got := host.balance(payee, types.Native()); got != tc.wantNet {
				t.Fatalf("expected payee %d, got %d", tc.wantNet, got)
			}
			if got := host.balance(sink, types.Native()); got != 10 {
				t.Fatalf("expected sink 10, got %d", got)
			}
			if !acct.InFlight.IsZero() {
				t.Fatalf("in-flight must drain, got %s", acct.InFlight.Dec())
			}
			if got := host.balance(l.Config().Vault, types.Native()); got != 0 {
				t.Fatalf("vault must hold nothing for a pass-through payment, got %d", got)
			}
		})
	}
}

func TestPayout_RecipientFailureRestoresAccounting(t *testing.T) {
	l := newTestLedger(t, PolicyPayee)
	host := newFakeHost()
	host.credit(payer, types.Native(), 5_000)
	acct := &Account{PactID: pactID, Denomination: types.Native()}
	if err := l.Collect(context.Background(), host, acct, payer, types.NativeFunds(1_000), uint256.NewInt(1_000)); err != nil {
		t.Fatalf("collect: %v", err)
	}

	host.failTo = payee
	if _, err := l.Payout(context.Background(), host, acct, payee, uint256.NewInt(1_000)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if acct.InFlight.Uint64() != 1_000 {
		t.Fatalf("in-flight must be restored, got %s", acct.InFlight.Dec())
	}
}

func TestRefund(t *testing.T) {
	l := newTestLedger(t, PolicyPayer)
	host := newFakeHost()
	host.credit(payer, types.Native(), 1_000)
	acct := &Account{PactID: pactID, Denomination: types.Native()}
	if _, err := l.Deposit(context.Background(), host, acct, payer, types.NativeFunds(101), uint256.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if _, err := l.Refund(context.Background(), host, acct, payer, uint256.NewInt(101)); !errors.Is(err, ErrInsufficientStake) {
		t.Fatalf("expected ErrInsufficientStake, got %v", err)
	}
	rec, err := l.Refund(context.Background(), host, acct, payer, uint256.NewInt(60))
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if !rec.Commission.IsZero() || acct.Staked.Uint64() != 40 {
		t.Fatalf("unexpected refund result: commission=%s stake=%s", rec.Commission.Dec(), acct.Staked.Dec())
	}
	if got := host.balance(payer, types.Native()); got != 959 {
		t.Fatalf("expected payer 959, got %d", got)
	}
}

func TestSettle_ZeroAmountMovesNothing(t *testing.T) {
	l := newTestLedger(t, PolicyPayer)
	host := newFakeHost()
	acct := &Account{PactID: pactID, Denomination: types.Native()}
	rec, err := l.Settle(context.Background(), host, acct, payer, types.NoFunds(), payee, new(uint256.Int))
	if err != nil {
		t.Fatalf("settle zero: %v", err)
	}
	if !rec.Net.IsZero() || len(host.entries) != 0 {
		t.Fatalf("zero settlement must not touch the host")
	}
}
