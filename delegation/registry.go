// Package delegation records which addresses may act for a pact principal.
package delegation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pactflow/types"
)

var (
	// ErrUnauthorized is returned when the caller is neither the principal nor one of its delegates.
	ErrUnauthorized = errors.New("delegation: unauthorized")
	// ErrInvalidList is returned for an empty batch or one holding the zero address or the principal itself.
	ErrInvalidList = errors.New("delegation: invalid delegate list")
)

// Record is one (pact, principal, delegate) authorization.
type Record struct {
	PactID     types.Hash
	Principal  types.Address
	Delegate   types.Address
	Authorized bool
	UpdatedAt  time.Time
}

// Store is the persistence the registry needs; implementations join the
// caller's transaction.
type Store interface {
	IsDelegate(ctx context.Context, pactID types.Hash, principal, delegate types.Address) (bool, error)
	SetDelegate(ctx context.Context, rec Record) error
}

// Authorize succeeds when caller is principal or an authorized delegate of it.
func Authorize(ctx context.Context, s Store, pactID types.Hash, principal, caller types.Address) error {
	if caller.IsZero() {
		return ErrUnauthorized
	}
	if caller == principal {
		return nil
	}
	ok, err := s.IsDelegate(ctx, pactID, principal, caller)
	if err != nil {
		return fmt.Errorf("delegation: lookup: %w", err)
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

// Apply sets authorized for every delegate in the batch. Duplicates in the
// batch are written once.
func Apply(ctx context.Context, s Store, pactID types.Hash, principal types.Address, delegates []types.Address, authorized bool, now time.Time) ([]Record, error) {
	if len(delegates) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidList)
	}
	seen := make(map[types.Address]struct{}, len(delegates))
	out := make([]Record, 0, len(delegates))
	for _, d := range delegates {
		if d.IsZero() {
			return nil, fmt.Errorf("%w: zero address", ErrInvalidList)
		}
		if d == principal {
			return nil, fmt.Errorf("%w: principal cannot delegate to itself", ErrInvalidList)
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, Record{
			PactID:     pactID,
			Principal:  principal,
			Delegate:   d,
			Authorized: authorized,
			UpdatedAt:  now,
		})
	}
	for _, rec := range out {
		if err := s.SetDelegate(ctx, rec); err != nil {
			return nil, fmt.Errorf("delegation: set %s: %w", rec.Delegate, err)
		}
	}
	return out, nil
}
