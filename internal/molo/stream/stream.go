// Package stream publishes raw inbound payloads to an append-only message
// stream so future workers can consume traffic without touching the bot.
//
// Publishing is strictly fire-and-forget: the bot calls Append alongside
// handling a message, and a failed append is logged and forgotten, never
// allowed to delay or break the reply.
package stream

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultStreamName matches the stream the n8n workers read from.
const DefaultStreamName = "incoming_whatsapp_messages"

// Appender publishes a payload to a named stream.
type Appender interface {
	Append(ctx context.Context, streamName string, payload []byte) error
}

// RedisAppender publishes payloads as Redis Stream entries (XADD).
type RedisAppender struct {
	client *redis.Client
}

// NewRedisAppender creates a RedisAppender on an existing client.
func NewRedisAppender(client *redis.Client) *RedisAppender {
	return &RedisAppender{client: client}
}

// Append adds the payload to the stream. Each entry carries a generated
// message ID alongside the raw data so consumers can deduplicate.
func (a *RedisAppender) Append(ctx context.Context, streamName string, payload []byte) error {
	err := a.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamName,
		Values: map[string]interface{}{
			"id":   uuid.NewString(),
			"data": string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("stream: xadd %s: %w", streamName, err)
	}
	return nil
}

// Noop discards every payload. Used when no Redis is configured.
type Noop struct{}

// Append does nothing.
func (Noop) Append(_ context.Context, _ string, _ []byte) error { return nil }
