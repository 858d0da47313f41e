package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/mobelieve/mexc-triarb/internal/domain"
)

const (
	// executionStreamMaxLen caps the execution stream (XADD MAXLEN ~).
	executionStreamMaxLen int64 = 10000
	payloadField                = "payload"
	subscriberBuffer            = 128
)

// SignalBus carries cycle lines over Pub/Sub for live viewers and appends
// executions to a capped stream so a restarted dashboard can replay them.
type SignalBus struct {
	rdb    *redis.Client
	maxLen int64
}

// NewSignalBus creates a SignalBus on c.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying(), maxLen: executionStreamMaxLen}
}

// Publish fans payload out to the current subscribers of channel. Nothing is
// kept for late subscribers.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns the payloads published on channel until ctx is done,
// then closes the returned channel. Channels containing glob characters
// ("ch:*") are pattern subscriptions.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}
	// The first reply confirms the subscription.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuffer)
	go sb.forward(ctx, pubsub, out)
	return out, nil
}

func (sb *SignalBus) forward(ctx context.Context, pubsub *redis.PubSub, out chan<- []byte) {
	defer close(out)
	defer pubsub.Close()

	in := pubsub.Channel()
	for {
		var msg *redis.Message
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			msg = m
		}
		select {
		case out <- []byte(msg.Payload):
		case <-ctx.Done():
			return
		}
	}
}

// StreamAppend adds payload to stream, trimming it to roughly the last
// ten thousand entries.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: sb.maxLen,
		Approx: true,
		Values: map[string]any{payloadField: payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries after lastID ("0" for the start of
// the stream) without blocking. Entries without a payload are skipped.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	res, err := sb.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var out []domain.StreamMessage
	for _, s := range res {
		for _, m := range s.Messages {
			if data, ok := payloadBytes(m.Values[payloadField]); ok {
				out = append(out, domain.StreamMessage{ID: m.ID, Payload: data})
			}
		}
	}
	return out, nil
}

func payloadBytes(v any) ([]byte, bool) {
	switch p := v.(type) {
	case string:
		return []byte(p), true
	case []byte:
		return p, true
	default:
		return nil, false
	}
}

var _ domain.SignalBus = (*SignalBus)(nil)
