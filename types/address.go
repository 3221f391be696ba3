package types

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidAddress is returned when an address string is not 0x followed by 40 hex characters.
	ErrInvalidAddress = errors.New("types: invalid address")
	// ErrInvalidHash is returned when a hash string is not 0x followed by 64 hex characters.
	ErrInvalidHash = errors.New("types: invalid hash")
)

// AddressLength is the byte length of an account identity.
const AddressLength = 20

// Address identifies a party, delegate, arbitrator or host account.
type Address [AddressLength]byte

// ZeroAddress is never a valid party.
var ZeroAddress Address

// ParseAddress accepts mixed-case hex and always yields the canonical form.
func ParseAddress(s string) (Address, error) {
	var a Address
	raw, err := decodeHex(s, AddressLength)
	if err != nil {
		return a, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	copy(a[:], raw)
	return a, nil
}

// MustAddress panics on malformed input; intended for constants and tests.
func MustAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// BytesToAddress keeps the last 20 bytes of b.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

func (a Address) IsZero() bool { return a == ZeroAddress }

// Hex renders the lower-case 0x form used in every digest and storage row.
func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

func (a Address) String() string { return a.Hex() }

func (a Address) MarshalText() ([]byte, error) { return []byte(a.Hex()), nil }

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// HashLength is the byte length of digests and pact identifiers.
const HashLength = 32

// Hash is a keccak-256 output.
type Hash [HashLength]byte

func ParseHash(s string) (Hash, error) {
	var h Hash
	raw, err := decodeHex(s, HashLength)
	if err != nil {
		return h, fmt.Errorf("%w: %q", ErrInvalidHash, s)
	}
	copy(h[:], raw)
	return h, nil
}

func MustHash(s string) Hash {
	h, err := ParseHash(s)
	if err != nil {
		panic(err)
	}
	return h
}

func (h Hash) IsZero() bool { return h == Hash{} }

func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

func (h Hash) String() string { return h.Hex() }

func (h Hash) MarshalText() ([]byte, error) { return []byte(h.Hex()), nil }

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func decodeHex(s string, size int) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return nil, errors.New("missing 0x prefix")
	}
	s = s[2:]
	if len(s) != size*2 {
		return nil, fmt.Errorf("want %d hex chars, got %d", size*2, len(s))
	}
	return hex.DecodeString(strings.ToLower(s))
}
