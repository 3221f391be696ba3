// Package storage holds what the SQL backends share: the backend contract
// and the column codec for pact rows.
package storage

import (
	"context"
	"errors"

	"github.com/holiman/uint256"

	"pactflow/outbox"
	"pactflow/pact"
	"pactflow/types"
)

// ErrInsufficientBalance is returned by Transfer when the source account
// cannot cover the amount.
var ErrInsufficientBalance = errors.New("storage: insufficient balance")

// Faucet seeds host balances outside of any pact.
type Faucet interface {
	Credit(ctx context.Context, account types.Address, denom types.Denomination, amount *uint256.Int) error
}

// Balances reads host balances.
type Balances interface {
	Balance(ctx context.Context, account types.Address, denom types.Denomination) (*uint256.Int, error)
}

// Backend is everything the API process needs from a store.
type Backend interface {
	pact.Store
	Faucet
	Balances
	outbox.Source
	Close() error
}
