package postgres

import (
	"context"
	"fmt"

	"pactflow/outbox"
)

// ProcessPending claims up to limit pending messages with SKIP LOCKED so
// concurrent relays never hand out the same row.
func (s *Store) ProcessPending(ctx context.Context, limit int, handle outbox.Handler) (outbox.Batch, error) {
	var b outbox.Batch

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return b, fmt.Errorf("postgres: begin outbox tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
SELECT id, topic, payload, attempts, created_at
FROM outbox
WHERE status = 'pending'
ORDER BY created_at, id
LIMIT $1
FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return b, fmt.Errorf("postgres: claim outbox: %w", err)
	}
	var claimed []outbox.Message
	for rows.Next() {
		m := outbox.Message{Status: outbox.StatusPending}
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Attempts, &m.CreatedAt); err != nil {
			rows.Close()
			return b, fmt.Errorf("postgres: scan outbox: %w", err)
		}
		claimed = append(claimed, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return b, fmt.Errorf("postgres: iterate outbox: %w", err)
	}

	for _, m := range claimed {
		if herr := handle(ctx, m); herr != nil {
			status := outbox.StatusPending
			if m.Attempts+1 >= outbox.MaxAttempts {
				status = outbox.StatusDead
				b.Dead++
			} else {
				b.Failed++
			}
			if _, err := tx.Exec(ctx, `
UPDATE outbox SET attempts = attempts + 1, last_error = $2, status = $3 WHERE id = $1`,
				m.ID, herr.Error(), string(status)); err != nil {
				return outbox.Batch{}, fmt.Errorf("postgres: record outbox failure: %w", err)
			}
			continue
		}
		if _, err := tx.Exec(ctx, `
UPDATE outbox SET status = 'processed', processed_at = now() WHERE id = $1`, m.ID); err != nil {
			return outbox.Batch{}, fmt.Errorf("postgres: mark outbox processed: %w", err)
		}
		b.Processed++
	}

	if err := tx.Commit(ctx); err != nil {
		return outbox.Batch{}, fmt.Errorf("postgres: commit outbox tx: %w", err)
	}
	return b, nil
}
