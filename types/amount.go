package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// ErrInvalidAmount is returned for amounts that are not base-10 unsigned 256-bit integers.
var ErrInvalidAmount = errors.New("types: invalid amount")

// ParseAmount reads a decimal amount in the denomination's smallest unit.
func ParseAmount(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return v, nil
}

// Amount returns a fresh integer holding n.
func Amount(n uint64) *uint256.Int { return uint256.NewInt(n) }

// Zero returns a fresh zero amount.
func Zero() *uint256.Int { return new(uint256.Int) }

// CloneAmount copies v, treating nil as zero.
func CloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}

// FormatAmount renders nil as "0".
func FormatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
