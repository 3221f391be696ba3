package sqlite

import (
	"context"
	"fmt"
	"time"

	"pactflow/outbox"
)

func (s *Store) ProcessPending(ctx context.Context, limit int, handle outbox.Handler) (outbox.Batch, error) {
	var b outbox.Batch

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return b, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
SELECT id, topic, payload, attempts, created_at
FROM outbox
WHERE status = 'pending'
ORDER BY created_at, id
LIMIT ?`, limit)
	if err != nil {
		return b, fmt.Errorf("failed to claim outbox: %w", err)
	}
	var claimed []outbox.Message
	for rows.Next() {
		m := outbox.Message{Status: outbox.StatusPending}
		var (
			payload string
			created int64
		)
		if err := rows.Scan(&m.ID, &m.Topic, &payload, &m.Attempts, &created); err != nil {
			rows.Close()
			return b, fmt.Errorf("failed to scan outbox message: %w", err)
		}
		m.Payload = []byte(payload)
		m.CreatedAt = fromNanos(created)
		claimed = append(claimed, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return b, fmt.Errorf("failed to iterate outbox: %w", err)
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
			if _, err := tx.ExecContext(ctx,
				`UPDATE outbox SET attempts = attempts + 1, last_error = ?, status = ? WHERE id = ?`,
				herr.Error(), string(status), m.ID); err != nil {
				return outbox.Batch{}, fmt.Errorf("failed to record outbox failure: %w", err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE outbox SET status = 'processed', processed_at = ? WHERE id = ?`,
			toNanos(time.Now()), m.ID); err != nil {
			return outbox.Batch{}, fmt.Errorf("failed to mark outbox processed: %w", err)
		}
		b.Processed++
	}

	if err := tx.Commit(); err != nil {
		return outbox.Batch{}, fmt.Errorf("failed to commit outbox: %w", err)
	}
	return b, nil
}
