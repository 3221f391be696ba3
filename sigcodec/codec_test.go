package sigcodec

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pactflow/types"
)

func testMaterial() Material {
	return Material{
		Name:         "Website Redesign",
		PactID:       types.MustHash("0x5c1f4b2a9e0d3c6b8a7f1e2d3c4b5a69788796a5b4c3d2e1f0a9b8c7d6e5f401"),
		Payee:        types.MustAddress("0x2B5AD5c4795c026514f8317c7a215E218DcCD6cF"),
		Payer:        types.MustAddress("0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"),
		Interval:     86400,
		Amount:       uint256.NewInt(100),
		Denomination: types.Native(),
		ExternalRef:  "ipfs://bafy-terms",
		Timestamp:    1_700_000_000,
	}
}

func TestAddressOf_KnownKey(t *testing.T) {
	var raw [32]byte
	raw[31] = 1
	key := secp256k1.PrivKeyFromBytes(raw[:])

	assert.Equal(t, "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf", AddressOf(key.PubKey()).Hex())
}

func TestDigest_DeterministicAndCaseInsensitive(t *testing.T) {
	m := testMaterial()
	d1, err := Digest(VersionV1, m)
	require.NoError(t, err)
	d2, err := Digest(VersionV1, m)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	upper := m
	upper.Name = "WEBSITE REDESIGN"
	d3, err := Digest(VersionV1, upper)
	require.NoError(t, err)
	assert.Equal(t, d1, d3, "display name case must not change the digest")
}

func TestDigest_EveryFieldIsBound(t *testing.T) {
	base, err := Digest(VersionV1, testMaterial())
	require.NoError(t, err)

	mutations := map[string]func(*Material){
		"name":      func(m *Material) { m.Name = "Other" },
		"pact":      func(m *Material) { m.PactID[0] ^= 0xff },
		"payee":     func(m *Material) { m.Payee[19] ^= 0x01 },
		"payer":     func(m *Material) { m.Payer[19] ^= 0x01 },
		"interval":  func(m *Material) { m.Interval++ },
		"amount":    func(m *Material) { m.Amount = uint256.NewInt(101) },
		"denom":     func(m *Material) { m.Denomination = types.Token(m.Payee) },
		"reference": func(m *Material) { m.ExternalRef = "ipfs://other" },
		"timestamp": func(m *Material) { m.Timestamp++ },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			m := testMaterial()
			mutate(&m)
			d, err := Digest(VersionV1, m)
			require.NoError(t, err)
			assert.NotEqual(t, base, d)
		})
	}
}

func TestDigest_UnknownVersion(t *testing.T) {
	_, err := Digest("pact-sig-v0", testMaterial())
	require.ErrorIs(t, err, ErrUnknownVersion)
}

func TestRegister_RefusesExistingVersion(t *testing.T) {
	require.Error(t, Register(v1Encoder{}))
}

func TestSignAndVerify(t *testing.T) {
	key, addr, err := GenerateKey()
	require.NoError(t, err)

	digest, err := Digest(VersionV1, testMaterial())
	require.NoError(t, err)
	sig := SignDigest(key, digest)
	require.Len(t, sig, SignatureLength)

	require.NoError(t, Verify(digest, sig, addr))

	t.Run("zero based recovery id", func(t *testing.T) {
		alt := append([]byte(nil), sig...)
		alt[64] -= 27
		require.NoError(t, Verify(digest, alt, addr))
	})

	t.Run("wrong signer", func(t *testing.T) {
		_, other, err := GenerateKey()
		require.NoError(t, err)
		require.ErrorIs(t, Verify(digest, sig, other), ErrInvalidSignature)
	})

	t.Run("mismatched terms", func(t *testing.T) {
		m := testMaterial()
		m.Amount = uint256.NewInt(1)
		other, err := Digest(VersionV1, m)
		require.NoError(t, err)
		require.ErrorIs(t, Verify(other, sig, addr), ErrInvalidSignature)
	})

	t.Run("malformed", func(t *testing.T) {
		require.ErrorIs(t, Verify(digest, sig[:64], addr), ErrInvalidSignature)
		bad := append([]byte(nil), sig...)
		bad[64] = 35
		require.ErrorIs(t, Verify(digest, bad, addr), ErrInvalidSignature)
	})
}

func TestRecover_PlainMessage(t *testing.T) {
	key, addr, err := GenerateKey()
	require.NoError(t, err)

	msg := []byte("pactflow login nonce 42")
	got, err := Recover(msg, Sign(key, msg))
	require.NoError(t, err)
	assert.Equal(t, addr, got)
}
