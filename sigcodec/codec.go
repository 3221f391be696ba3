// Package sigcodec builds the canonical signing digest of a pact's material
// terms and recovers signer identities from secp256k1 signatures over it.
//
// Digests are versioned. A version fixes the field order, the framing and
// the normalisation rules; a new layout must be registered under a new
// version string rather than changing an existing one.
package sigcodec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"

	"pactflow/types"
)

var (
	// ErrInvalidSignature covers malformed signatures, failed recovery and signer mismatch.
	ErrInvalidSignature = errors.New("sigcodec: invalid signature")
	// ErrUnknownVersion is returned for digest versions that were never registered.
	ErrUnknownVersion = errors.New("sigcodec: unknown digest version")
)

// VersionV1 is the length-prefixed keccak layout.
const VersionV1 = "pact-sig-v1"

// Material is everything a party consents to when signing a pact.
type Material struct {
	Name         string
	PactID       types.Hash
	Payee        types.Address
	Payer        types.Address
	Interval     uint64
	Amount       *uint256.Int
	Denomination types.Denomination
	ExternalRef  string
	Timestamp    int64
}

// Encoder turns Material into the exact byte string that gets hashed.
type Encoder interface {
	Version() string
	Encode(m Material) []byte
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Encoder{VersionV1: v1Encoder{}}
)

// Register adds an encoder; an existing version is never replaced.
func Register(enc Encoder) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[enc.Version()]; ok {
		return fmt.Errorf("sigcodec: version %q already registered", enc.Version())
	}
	registry[enc.Version()] = enc
	return nil
}

// Lookup returns the encoder registered for version.
func Lookup(version string) (Encoder, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	enc, ok := registry[version]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVersion, version)
	}
	return enc, nil
}

// Digest hashes the versioned encoding of m with keccak-256.
func Digest(version string, m Material) (types.Hash, error) {
	enc, err := Lookup(version)
	if err != nil {
		return types.Hash{}, err
	}
	return Keccak256(enc.Encode(m)), nil
}

// Keccak256 is the legacy (pre-NIST) keccak used by the host ledger.
func Keccak256(parts ...[]byte) types.Hash {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	var out types.Hash
	h.Sum(out[:0])
	return out
}

type v1Encoder struct{}

func (v1Encoder) Version() string { return VersionV1 }

// Encode writes every field as a 4-byte big-endian length followed by its
// bytes. Names, identities and the denomination are lower-cased so that
// signing and verification paths cannot disagree on case.
func (v1Encoder) Encode(m Material) []byte {
	amount := new(uint256.Int)
	if m.Amount != nil {
		amount = m.Amount
	}
	amountBytes := amount.Bytes32()

	var interval, ts [8]byte
	binary.BigEndian.PutUint64(interval[:], m.Interval)
	binary.BigEndian.PutUint64(ts[:], uint64(m.Timestamp))

	var buf []byte
	for _, field := range [][]byte{
		[]byte(VersionV1),
		[]byte(strings.ToLower(strings.TrimSpace(m.Name))),
		[]byte(m.PactID.Hex()),
		[]byte(m.Payee.Hex()),
		[]byte(m.Payer.Hex()),
		interval[:],
		amountBytes[:],
		[]byte(strings.ToLower(m.Denomination.String())),
		[]byte(m.ExternalRef),
		ts[:],
	} {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(field)))
		buf = append(buf, l[:]...)
		buf = append(buf, field...)
	}
	return buf
}
