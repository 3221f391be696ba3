package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ChannelPrefix namespaces pub/sub channels: pactflow.<topic>.
const ChannelPrefix = "pactflow."

// Envelope is the wire form published downstream.
type Envelope struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func envelope(m Message) ([]byte, error) {
	payload := json.RawMessage(m.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	b, err := json.Marshal(Envelope{ID: m.ID, Topic: m.Topic, Payload: payload, CreatedAt: m.CreatedAt.UTC()})
	if err != nil {
		return nil, fmt.Errorf("outbox: marshal envelope: %w", err)
	}
	return b, nil
}

// LogPublisher writes every message to the structured log.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, m Message) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "outbox message", "id", m.ID, "topic", m.Topic, "payload", string(m.Payload))
	return nil
}

// RedisPublisher publishes each message on the pactflow.<topic> channel.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// NewRedisPublisherFromURL parses a redis:// URL.
func NewRedisPublisherFromURL(url string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("outbox: parse redis url: %w", err)
	}
	return NewRedisPublisher(redis.NewClient(opts)), nil
}

func (p *RedisPublisher) Publish(ctx context.Context, m Message) error {
	body, err := envelope(m)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, ChannelPrefix+m.Topic, body).Err(); err != nil {
		return fmt.Errorf("outbox: redis publish %s: %w", m.Topic, err)
	}
	return nil
}

func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
