package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Handler delivers one message. An error leaves the message pending for a
// later attempt until MaxAttempts is reached.
type Handler func(ctx context.Context, m Message) error

// Batch summarises one pass over the pending messages.
type Batch struct {
	Processed int
	Failed    int
	Dead      int
}

// Source claims pending messages oldest first, hands each to handle and
// records the outcome in the same transaction.
type Source interface {
	ProcessPending(ctx context.Context, limit int, handle Handler) (Batch, error)
}

// Publisher fans a message out to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, m Message) error
}

// Observer counts delivery outcomes.
type Observer interface {
	ObservePublish(result string, n int)
}

type Relay struct {
	source    Source
	publisher Publisher
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	observer  Observer
}

func NewRelay(source Source, publisher Publisher) *Relay {
	return &Relay{
		source:    source,
		publisher: publisher,
		interval:  time.Second,
		batchSize: 100,
		logger:    slog.Default(),
	}
}

func (r *Relay) WithInterval(d time.Duration) *Relay {
	if d > 0 {
		r.interval = d
	}
	return r
}

func (r *Relay) WithBatchSize(n int) *Relay {
	if n > 0 {
		r.batchSize = n
	}
	return r
}

func (r *Relay) WithLogger(logger *slog.Logger) *Relay {
	if logger != nil {
		r.logger = logger
	}
	return r
}

func (r *Relay) WithObserver(o Observer) *Relay {
	r.observer = o
	return r
}

// RunOnce drains at most one batch.
func (r *Relay) RunOnce(ctx context.Context) (Batch, error) {
	b, err := r.source.ProcessPending(ctx, r.batchSize, r.publisher.Publish)
	if err != nil {
		return b, fmt.Errorf("outbox: process pending: %w", err)
	}
	if r.observer != nil {
		r.observer.ObservePublish("processed", b.Processed)
		r.observer.ObservePublish("failed", b.Failed)
		r.observer.ObservePublish("dead", b.Dead)
	}
	if b.Processed+b.Failed+b.Dead > 0 {
		r.logger.Info("outbox batch relayed", "processed", b.Processed, "failed", b.Failed, "dead", b.Dead)
	}
	return b, nil
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// another pass.
func (r *Relay) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		b, err := r.RunOnce(ctx)
		switch {
		case errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			r.logger.Error("outbox relay pass failed", "error", err)
		}

		next := r.interval
		if b.Processed+b.Failed+b.Dead >= r.batchSize {
			next = 0
		}
		timer.Reset(next)
	}
}
