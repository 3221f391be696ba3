// Package escrow moves pact funds between parties, the escrow vault and the
// commission sink, keeping each pact's staked and in-flight balances in
// step with the host transfers.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"pactflow/types"
)

var (
	ErrDenominationMismatch = errors.New("escrow: denomination mismatch")
	ErrInsufficientAmount   = errors.New("escrow: insufficient amount")
	ErrInsufficientStake    = errors.New("escrow: insufficient stake")
	ErrTransferFailed       = errors.New("escrow: transfer failed")
)

// EntryKind labels a journal line.
type EntryKind string

const (
	EntryDeposit    EntryKind = "deposit"
	EntryCollect    EntryKind = "collect"
	EntryCommission EntryKind = "commission"
	EntryPayout     EntryKind = "payout"
	EntryRefund     EntryKind = "refund"
)

// Transfer is one movement of value on the host.
type Transfer struct {
	Denomination types.Denomination
	From         types.Address
	To           types.Address
	Amount       *uint256.Int
}

// Entry is the per-pact journal line written next to every transfer.
type Entry struct {
	PactID       types.Hash
	Kind         EntryKind
	Denomination types.Denomination
	Counterparty types.Address
	Amount       *uint256.Int
	CreatedAt    time.Time
}

// Host is the atomic value-transfer primitive plus the journal. Both calls
// must join the caller's transaction so a later failure undoes them.
type Host interface {
	Transfer(ctx context.Context, t Transfer) error
	RecordEntry(ctx context.Context, e Entry) error
}

// Account is the ledger's view of one pact.
type Account struct {
	PactID       types.Hash
	Denomination types.Denomination
	Staked       *uint256.Int
	InFlight     *uint256.Int
}

func (a *Account) normalize() {
	if a.Staked == nil {
		a.Staked = new(uint256.Int)
	}
	if a.InFlight == nil {
		a.InFlight = new(uint256.Int)
	}
}

func (a *Account) snapshot() (staked, inFlight *uint256.Int) {
	return a.Staked.Clone(), a.InFlight.Clone()
}

func (a *Account) restore(staked, inFlight *uint256.Int) {
	a.Staked, a.InFlight = staked, inFlight
}

// Receipt reports what a ledger operation moved.
type Receipt struct {
	Recipient  types.Address
	Gross      *uint256.Int
	Charge     *uint256.Int
	Net        *uint256.Int
	Commission *uint256.Int
}

// Config is process-wide and read-only after construction.
type Config struct {
	Sink   types.Address
	Vault  types.Address
	Rate   Rate
	Policy Policy
}

// DefaultVault is the escrow account used when none is configured.
var DefaultVault = types.MustAddress("0x7061637466c06f772e7661756c740000000000aa")

type Ledger struct {
	cfg Config
	now func() time.Time
}

func NewLedger(cfg Config) (*Ledger, error) {
	if cfg.Sink.IsZero() {
		return nil, fmt.Errorf("escrow: commission sink required")
	}
	if err := cfg.Rate.Validate(); err != nil {
		return nil, err
	}
	if cfg.Vault.IsZero() {
		cfg.Vault = DefaultVault
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyPayee
	}
	if cfg.Vault == cfg.Sink {
		return nil, fmt.Errorf("escrow: vault and sink must differ")
	}
	return &Ledger{cfg: cfg, now: time.Now}, nil
}

// WithClock stamps journal entries with the provided clock.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	if now != nil {
		l.now = now
	}
	return l
}

func (l *Ledger) Config() Config { return l.cfg }

// DepositQuote is what a party must attach to stake amount: the stake plus
// the commission, which the depositor always bears.
func (l *Ledger) DepositQuote(amount *uint256.Int) (total, commission *uint256.Int) {
	commission = l.cfg.Rate.Of(amount)
	return new(uint256.Int).Add(amount, commission), commission
}

// Quote splits a pass-through payment of gross under the configured policy.
func (l *Ledger) Quote(gross *uint256.Int) Split {
	return l.cfg.Policy.Split(gross, l.cfg.Rate)
}

// Deposit pulls amount plus commission from from, forwards the commission to
// the sink and adds amount to the stake.
func (l *Ledger) Deposit(ctx context.Context, host Host, acct *Account, from types.Address, funds types.Funds, amount *uint256.Int) (Receipt, error) {
	acct.normalize()
	total, commission := l.DepositQuote(amount)
	if err := checkFunds(acct, funds, total); err != nil {
		return Receipt{}, err
	}

	staked, inFlight := acct.snapshot()
	acct.Staked = new(uint256.Int).Add(acct.Staked, amount)

	if err := l.move(ctx, host, acct, from, l.cfg.Vault, total, EntryDeposit, amount); err != nil {
		acct.restore(staked, inFlight)
		return Receipt{}, err
	}
	if err := l.move(ctx, host, acct, l.cfg.Vault, l.cfg.Sink, commission, EntryCommission, commission); err != nil {
		acct.restore(staked, inFlight)
		return Receipt{}, err
	}

	return Receipt{
		Recipient:  l.cfg.Vault,
		Gross:      amount.Clone(),
		Charge:     total,
		Net:        amount.Clone(),
		Commission: commission,
	}, nil
}

// Collect pulls amount from from into the pact's in-flight balance.
func (l *Ledger) Collect(ctx context.Context, host Host, acct *Account, from types.Address, funds types.Funds, amount *uint256.Int) error {
	acct.normalize()
	if err := checkFunds(acct, funds, amount); err != nil {
		return err
	}
	staked, inFlight := acct.snapshot()
	acct.InFlight = new(uint256.Int).Add(acct.InFlight, amount)
	if err := l.move(ctx, host, acct, from, l.cfg.Vault, amount, EntryCollect, amount); err != nil {
		acct.restore(staked, inFlight)
		return err
	}
	return nil
}

// Payout releases one pass-through payment of gross from the in-flight
// balance: the commission to the sink and the net leg to recipient.
func (l *Ledger) Payout(ctx context.Context, host Host, acct *Account, recipient types.Address, gross *uint256.Int) (Receipt, error) {
	acct.normalize()
	split := l.Quote(gross)
	if acct.InFlight.Lt(split.Charge) {
		return Receipt{}, fmt.Errorf("%w: in flight %s, need %s", ErrInsufficientAmount, acct.InFlight.Dec(), split.Charge.Dec())
	}

	staked, inFlight := acct.snapshot()
	acct.InFlight = new(uint256.Int).Sub(acct.InFlight, split.Charge)

	if err := l.move(ctx, host, acct, l.cfg.Vault, l.cfg.Sink, split.Commission, EntryCommission, split.Commission); err != nil {
		acct.restore(staked, inFlight)
		return Receipt{}, err
	}
	if err := l.move(ctx, host, acct, l.cfg.Vault, recipient, split.Net, EntryPayout, split.Net); err != nil {
		acct.restore(staked, inFlight)
		return Receipt{}, err
	}

	return Receipt{
		Recipient:  recipient,
		Gross:      split.Gross,
		Charge:     split.Charge,
		Net:        split.Net,
		Commission: split.Commission,
	}, nil
}

// Settle is Collect followed by Payout: from pays gross to recipient through
// the vault with the commission taken per policy.
func (l *Ledger) Settle(ctx context.Context, host Host, acct *Account, from types.Address, funds types.Funds, recipient types.Address, gross *uint256.Int) (Receipt, error) {
	split := l.Quote(gross)
	if err := l.Collect(ctx, host, acct, from, funds, split.Charge); err != nil {
		return Receipt{}, err
	}
	return l.Payout(ctx, host, acct, recipient, gross)
}

// Refund returns amount of stake to recipient without commission.
func (l *Ledger) Refund(ctx context.Context, host Host, acct *Account, recipient types.Address, amount *uint256.Int) (Receipt, error) {
	acct.normalize()
	if amount == nil {
		amount = new(uint256.Int)
	}
	if acct.Staked.Lt(amount) {
		return Receipt{}, fmt.Errorf("%w: staked %s, requested %s", ErrInsufficientStake, acct.Staked.Dec(), amount.Dec())
	}

	staked, inFlight := acct.snapshot()
	acct.Staked = new(uint256.Int).Sub(acct.Staked, amount)
	if err := l.move(ctx, host, acct, l.cfg.Vault, recipient, amount, EntryRefund, amount); err != nil {
		acct.restore(staked, inFlight)
		return Receipt{}, err
	}

	return Receipt{
		Recipient:  recipient,
		Gross:      amount.Clone(),
		Charge:     amount.Clone(),
		Net:        amount.Clone(),
		Commission: new(uint256.Int),
	}, nil
}

func (l *Ledger) move(ctx context.Context, host Host, acct *Account, from, to types.Address, amount *uint256.Int, kind EntryKind, journal *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	if to.IsZero() {
		return fmt.Errorf("%w: zero recipient", ErrTransferFailed)
	}
	t := Transfer{Denomination: acct.Denomination, From: from, To: to, Amount: amount.Clone()}
	if err := host.Transfer(ctx, t); err != nil {
		return fmt.Errorf("%w: %s %s -> %s: %w", ErrTransferFailed, amount.Dec(), from, to, err)
	}

	counterparty := to
	if to == l.cfg.Vault {
		counterparty = from
	}
	entry := Entry{
		PactID:       acct.PactID,
		Kind:         kind,
		Denomination: acct.Denomination,
		Counterparty: counterparty,
		Amount:       journal.Clone(),
		CreatedAt:    l.now().UTC(),
	}
	if err := host.RecordEntry(ctx, entry); err != nil {
		return fmt.Errorf("escrow: record %s entry: %w", kind, err)
	}
	return nil
}

func checkFunds(acct *Account, funds types.Funds, required *uint256.Int) error {
	if required == nil || required.IsZero() {
		return nil
	}
	if funds.Denomination != acct.Denomination {
		return fmt.Errorf("%w: pact settles in %s, got %s", ErrDenominationMismatch, acct.Denomination, funds.Denomination)
	}
	if funds.Amount == nil || funds.Amount.Lt(required) {
		return fmt.Errorf("%w: attached %s, need %s", ErrInsufficientAmount, types.FormatAmount(funds.Amount), required.Dec())
	}
	return nil
}
