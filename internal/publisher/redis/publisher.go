// Package redis implements a Redis Streams publisher.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// Publisher appends JSON payloads to a Redis stream named after the topic.
type Publisher struct {
	client goredis.Cmdable
	maxLen int64
}

// New creates a Publisher. maxLen caps each stream approximately; zero means unbounded.
func New(client goredis.Cmdable, maxLen int64) *Publisher {
	return &Publisher{client: client, maxLen: maxLen}
}

// Publish marshals the payload and XADDs it to the topic stream.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.client == nil {
		return "", fmt.Errorf("redis publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	args := &goredis.XAddArgs{
		Stream: topic,
		Values: map[string]any{"payload": string(data)},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", topic, err)
	}
	return id, nil
}
