// Package auth authenticates callers by a signed login challenge and issues
// bearer tokens whose subject is the caller's address.
package auth

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"pactflow/sigcodec"
	"pactflow/types"
)

var (
	// ErrInvalidCredentials covers unknown, expired or wrongly signed challenges.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrInvalidToken       = errors.New("auth: invalid token")
)

const issuer = "pactflow"

// Service handles authentication business logic.
type Service struct {
	repo         Repository
	jwtSecret    []byte
	tokenTTL     time.Duration
	challengeTTL time.Duration
	now          func() time.Time
	nonce        func() string
}

// LoginResult bundles the token and the authenticated address.
type LoginResult struct {
	Token     string
	Address   types.Address
	ExpiresAt time.Time
}

// NewService creates a new authentication service.
func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:         repo,
		jwtSecret:    []byte(jwtSecret),
		tokenTTL:     24 * time.Hour,
		challengeTTL: 5 * time.Minute,
		now:          time.Now,
		nonce:        uuid.NewString,
	}
}

func (s *Service) WithTokenTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.tokenTTL = ttl
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Challenge issues a fresh nonce for address, replacing any earlier one.
func (s *Service) Challenge(ctx context.Context, address types.Address) (Challenge, error) {
	if address.IsZero() {
		return Challenge{}, fmt.Errorf("auth: address required")
	}
	now := s.now().UTC().Truncate(time.Second)
	c := Challenge{
		Address:   address,
		Nonce:     s.nonce(),
		ExpiresAt: now.Add(s.challengeTTL),
		CreatedAt: now,
	}
	if err := s.repo.SaveChallenge(ctx, c); err != nil {
		return Challenge{}, err
	}
	return c, nil
}

// Login consumes the outstanding challenge and, when signature recovers to
// address, returns a signed token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	sig, err := decodeSignature(req.Signature)
	if err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}
	c, err := s.repo.TakeChallenge(ctx, req.Address)
	if err != nil {
		if errors.Is(err, ErrChallengeNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if !s.now().Before(c.ExpiresAt) {
		return LoginResult{}, fmt.Errorf("%w: challenge expired", ErrInvalidCredentials)
	}
	signer, err := sigcodec.Recover([]byte(c.Message()), sig)
	if err != nil || signer != req.Address {
		return LoginResult{}, ErrInvalidCredentials
	}

	expires := s.now().Add(s.tokenTTL)
	token, err := s.generateToken(req.Address, expires)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}
	return LoginResult{Token: token, Address: req.Address, ExpiresAt: expires.UTC()}, nil
}

// VerifyToken validates a token and returns the caller address.
func (s *Service) VerifyToken(tokenString string) (types.Address, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return types.Address{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	addr, err := types.ParseAddress(claims.Subject)
	if err != nil {
		return types.Address{}, fmt.Errorf("%w: subject: %v", ErrInvalidToken, err)
	}
	return addr, nil
}

func (s *Service) generateToken(address types.Address, expires time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   address.Hex(),
		IssuedAt:  jwt.NewNumericDate(s.now()),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

func decodeSignature(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	return hex.DecodeString(s)
}
