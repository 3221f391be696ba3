package sigcodec

import (
	"fmt"
	"strconv"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"pactflow/types"
)

// SignatureLength is r || s || v.
const SignatureLength = 65

const personalPrefix = "\x19Ethereum Signed Message:\n"

// PersonalHash applies the signed-message prefix wallets add before signing.
func PersonalHash(msg []byte) types.Hash {
	return Keccak256([]byte(personalPrefix+strconv.Itoa(len(msg))), msg)
}

// Sign produces an r||s||v signature (v in {27,28}) over the personal hash of msg.
func Sign(key *secp256k1.PrivateKey, msg []byte) []byte {
	hash := PersonalHash(msg)
	compact := ecdsa.SignCompact(key, hash[:], false)
	sig := make([]byte, SignatureLength)
	copy(sig, compact[1:])
	sig[64] = compact[0]
	return sig
}

// SignDigest signs a pact digest the way wallets sign a 32-byte message.
func SignDigest(key *secp256k1.PrivateKey, digest types.Hash) []byte {
	return Sign(key, digest[:])
}

// Recover returns the identity that produced sig over msg. Both 0/1 and
// 27/28 recovery ids are accepted.
func Recover(msg, sig []byte) (types.Address, error) {
	if len(sig) != SignatureLength {
		return types.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	v := sig[64]
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return types.Address{}, fmt.Errorf("%w: recovery id %d", ErrInvalidSignature, sig[64])
	}

	compact := make([]byte, SignatureLength)
	compact[0] = v
	copy(compact[1:], sig[:64])

	hash := PersonalHash(msg)
	pub, _, err := ecdsa.RecoverCompact(compact, hash[:])
	if err != nil {
		return types.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return AddressOf(pub), nil
}

// Verify checks that expected signed the pact digest.
func Verify(digest types.Hash, sig []byte, expected types.Address) error {
	signer, err := Recover(digest[:], sig)
	if err != nil {
		return err
	}
	if signer != expected {
		return fmt.Errorf("%w: recovered %s, expected %s", ErrInvalidSignature, signer, expected)
	}
	return nil
}

// AddressOf derives the account identity from a public key: the last 20
// bytes of keccak-256 over the uncompressed X||Y coordinates.
func AddressOf(pub *secp256k1.PublicKey) types.Address {
	raw := pub.SerializeUncompressed()
	h := Keccak256(raw[1:])
	return types.BytesToAddress(h[12:])
}

// GenerateKey returns a fresh key and its address.
func GenerateKey() (*secp256k1.PrivateKey, types.Address, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, types.Address{}, fmt.Errorf("sigcodec: generate key: %w", err)
	}
	return key, AddressOf(key.PubKey()), nil
}
