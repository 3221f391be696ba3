package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSource mirrors the SQL backends' bookkeeping in memory.
type memSource struct {
	msgs []Message
}

func (s *memSource) ProcessPending(ctx context.Context, limit int, handle Handler) (Batch, error) {
	var b Batch
	for i := range s.msgs {
		if b.Processed+b.Failed+b.Dead >= limit {
			break
		}
		m := &s.msgs[i]
		if m.Status != StatusPending {
			continue
		}
		if err := handle(ctx, *m); err != nil {
			m.Attempts++
			if m.Attempts >= MaxAttempts {
				m.Status = StatusDead
				b.Dead++
			} else {
				b.Failed++
			}
			continue
		}
		m.Status = StatusProcessed
		b.Processed++
	}
	return b, nil
}

type recordingPublisher struct {
	topics []string
	fail   map[string]bool
}

func (p *recordingPublisher) Publish(_ context.Context, m Message) error {
	if p.fail[m.Topic] {
		return errors.New("broker unavailable")
	}
	p.topics = append(p.topics, m.Topic)
	return nil
}

type countingObserver map[string]int

func (o countingObserver) ObservePublish(result string, n int) { o[result] += n }

func pending(id, topic string) Message {
	return Message{ID: id, Topic: topic, Payload: []byte(`{"pact_id":"0x01"}`), Status: StatusPending, CreatedAt: time.Unix(1_700_000_000, 0)}
}

func TestRelay_RunOnce(t *testing.T) {
	src := &memSource{msgs: []Message{
		pending("1", "pact.created"),
		pending("2", "pact.state_changed"),
		pending("3", "pact.escrow_moved"),
	}}
	pub := &recordingPublisher{fail: map[string]bool{"pact.escrow_moved": true}}
	obs := countingObserver{}
	relay := NewRelay(src, pub).WithBatchSize(10).WithObserver(obs)

	b, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Batch{Processed: 2, Failed: 1}, b)
	assert.Equal(t, []string{"pact.created", "pact.state_changed"}, pub.topics)
	assert.Equal(t, 2, obs["processed"])
	assert.Equal(t, 1, obs["failed"])
}

func TestRelay_ParksDeadMessages(t *testing.T) {
	src := &memSource{msgs: []Message{pending("1", "pact.escrow_moved")}}
	pub := &recordingPublisher{fail: map[string]bool{"pact.escrow_moved": true}}
	relay := NewRelay(src, pub)

	for i := 0; i < MaxAttempts; i++ {
		_, err := relay.RunOnce(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, StatusDead, src.msgs[0].Status)
	assert.Equal(t, MaxAttempts, src.msgs[0].Attempts)

	b, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, b.Processed+b.Failed+b.Dead)
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	src := &memSource{msgs: []Message{pending("1", "pact.created")}}
	pub := &recordingPublisher{}
	relay := NewRelay(src, pub).WithInterval(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, relay.Run(ctx))
	assert.Equal(t, []string{"pact.created"}, pub.topics)
}

func TestEnvelope(t *testing.T) {
	body, err := envelope(pending("42", "pact.created"))
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, "42", env.ID)
	assert.JSONEq(t, `{"pact_id":"0x01"}`, string(env.Payload))
}

// TestRedisPublisher_Integration requires a running Redis.
func TestRedisPublisher_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}
	defer client.Close()

	sub := client.Subscribe(ctx, ChannelPrefix+"pact.created")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewRedisPublisher(client)
	require.NoError(t, pub.Publish(ctx, pending("7", "pact.created")))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, ChannelPrefix+"pact.created", msg.Channel)
	assert.Contains(t, msg.Payload, `"id":"7"`)
}
