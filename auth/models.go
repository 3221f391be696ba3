package auth

import (
	"fmt"
	"time"

	"pactflow/types"
)

// Challenge is a single-use login nonce bound to one address.
type Challenge struct {
	Address   types.Address
	Nonce     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Message is the exact text the wallet signs.
func (c Challenge) Message() string {
	return fmt.Sprintf("pactflow login\naddress: %s\nnonce: %s\nexpires: %s",
		c.Address.Hex(), c.Nonce, c.ExpiresAt.UTC().Format(time.RFC3339))
}

// ChallengeRequest asks for a nonce for Address.
type ChallengeRequest struct {
	Address types.Address `json:"address"`
}

// LoginRequest carries the signature over Challenge.Message, 0x-hex encoded.
type LoginRequest struct {
	Address   types.Address `json:"address"`
	Signature string        `json:"signature"`
}
