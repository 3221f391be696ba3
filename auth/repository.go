package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"pactflow/types"
)

// ErrChallengeNotFound signals that no outstanding challenge exists.
var ErrChallengeNotFound = errors.New("auth: challenge not found")

// Repository stores outstanding challenges; Take consumes one.
type Repository interface {
	SaveChallenge(ctx context.Context, c Challenge) error
	TakeChallenge(ctx context.Context, address types.Address) (Challenge, error)
}

// PgxQuerier is the part of *pgxpool.Pool the repository needs.
type PgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool PgxQuerier
}

func NewRepository(pool PgxQuerier) *PGRepository {
	return &PGRepository{pool: pool}
}

// SaveChallenge replaces any outstanding challenge for the address.
func (r *PGRepository) SaveChallenge(ctx context.Context, c Challenge) error {
	const upsertSQL = `
		INSERT INTO auth_challenges (address, nonce, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE
		SET nonce = EXCLUDED.nonce, expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at
		RETURNING address
	`
	var addr string
	if err := r.pool.QueryRow(ctx, upsertSQL, c.Address.Hex(), c.Nonce, c.ExpiresAt.UTC(), c.CreatedAt.UTC()).Scan(&addr); err != nil {
		return fmt.Errorf("auth: save challenge: %w", err)
	}
	return nil
}

func (r *PGRepository) TakeChallenge(ctx context.Context, address types.Address) (Challenge, error) {
	const deleteSQL = `
		DELETE FROM auth_challenges
		WHERE address = $1
		RETURNING nonce, expires_at, created_at
	`
	c := Challenge{Address: address}
	err := r.pool.QueryRow(ctx, deleteSQL, address.Hex()).Scan(&c.Nonce, &c.ExpiresAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Challenge{}, ErrChallengeNotFound
		}
		return Challenge{}, fmt.Errorf("auth: take challenge: %w", err)
	}
	c.ExpiresAt = c.ExpiresAt.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

// SQLRepository implements Repository on database/sql (the SQLite backend).
type SQLRepository struct {
	db *sql.DB
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) SaveChallenge(ctx context.Context, c Challenge) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO auth_challenges (address, nonce, expires_at, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (address) DO UPDATE
		SET nonce = excluded.nonce, expires_at = excluded.expires_at, created_at = excluded.created_at
	`, c.Address.Hex(), c.Nonce, c.ExpiresAt.UTC().UnixNano(), c.CreatedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("auth: save challenge: %w", err)
	}
	return nil
}

func (r *SQLRepository) TakeChallenge(ctx context.Context, address types.Address) (Challenge, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Challenge{}, fmt.Errorf("auth: begin: %w", err)
	}
	defer tx.Rollback()

	c := Challenge{Address: address}
	var expires, createdAt int64
	err = tx.QueryRowContext(ctx,
		`SELECT nonce, expires_at, created_at FROM auth_challenges WHERE address = ?`,
		address.Hex()).Scan(&c.Nonce, &expires, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Challenge{}, ErrChallengeNotFound
	}
	if err != nil {
		return Challenge{}, fmt.Errorf("auth: take challenge: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM auth_challenges WHERE address = ?`, address.Hex()); err != nil {
		return Challenge{}, fmt.Errorf("auth: delete challenge: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Challenge{}, fmt.Errorf("auth: commit: %w", err)
	}
	c.ExpiresAt = time.Unix(0, expires).UTC()
	c.CreatedAt = time.Unix(0, createdAt).UTC()
	return c, nil
}

// MemoryRepository keeps challenges in process; used by tests and single-node dev runs.
type MemoryRepository struct {
	mu         sync.Mutex
	challenges map[types.Address]Challenge
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{challenges: make(map[types.Address]Challenge)}
}

func (r *MemoryRepository) SaveChallenge(_ context.Context, c Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.challenges[c.Address] = c
	return nil
}

func (r *MemoryRepository) TakeChallenge(_ context.Context, address types.Address) (Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.challenges[address]
	if !ok {
		return Challenge{}, ErrChallengeNotFound
	}
	delete(r.challenges, address)
	return c, nil
}
