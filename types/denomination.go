package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// ErrInvalidDenomination is returned for unknown or malformed denominations.
var ErrInvalidDenomination = errors.New("types: invalid denomination")

// Kind separates the host's native value unit from fungible tokens.
type Kind uint8

const (
	KindNative Kind = iota
	KindToken
)

// Denomination names the asset a pact is settled in.
type Denomination struct {
	Kind  Kind
	Token Address
}

// Native is the host's own value unit.
func Native() Denomination { return Denomination{Kind: KindNative} }

// Token is a fungible token identified by its contract address.
func Token(addr Address) Denomination { return Denomination{Kind: KindToken, Token: addr} }

func (d Denomination) Validate() error {
	switch d.Kind {
	case KindNative:
		if !d.Token.IsZero() {
			return fmt.Errorf("%w: native carries token address", ErrInvalidDenomination)
		}
		return nil
	case KindToken:
		if d.Token.IsZero() {
			return fmt.Errorf("%w: token address required", ErrInvalidDenomination)
		}
		return nil
	default:
		return fmt.Errorf("%w: kind %d", ErrInvalidDenomination, d.Kind)
	}
}

// String is the canonical key used for storage and digests: "native" or "token:0x...".
func (d Denomination) String() string {
	if d.Kind == KindToken {
		return "token:" + d.Token.Hex()
	}
	return "native"
}

func ParseDenomination(s string) (Denomination, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "" || s == "native":
		return Native(), nil
	case strings.HasPrefix(s, "token:"):
		addr, err := ParseAddress(strings.TrimPrefix(s, "token:"))
		if err != nil {
			return Denomination{}, fmt.Errorf("%w: %v", ErrInvalidDenomination, err)
		}
		if addr.IsZero() {
			return Denomination{}, fmt.Errorf("%w: zero token", ErrInvalidDenomination)
		}
		return Token(addr), nil
	default:
		return Denomination{}, fmt.Errorf("%w: %q", ErrInvalidDenomination, s)
	}
}

func (d Denomination) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Denomination) UnmarshalText(text []byte) error {
	parsed, err := ParseDenomination(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Funds is the value attached to a call: native value sent along, or a token allowance.
type Funds struct {
	Denomination Denomination
	Amount       *uint256.Int
}

// NoFunds is the zero attachment.
func NoFunds() Funds { return Funds{Amount: new(uint256.Int)} }

func NativeFunds(amount uint64) Funds {
	return Funds{Denomination: Native(), Amount: uint256.NewInt(amount)}
}

func TokenFunds(token Address, amount uint64) Funds {
	return Funds{Denomination: Token(token), Amount: uint256.NewInt(amount)}
}

func (f Funds) IsZero() bool { return f.Amount == nil || f.Amount.IsZero() }
