// Package redisinbox records processed message ids in Redis with a retention TTL.
package redisinbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "strom:inbox:"
	defaultTTL = 7 * 24 * time.Hour
)

// Inbox is a Redis-backed processed-message set.
type Inbox struct {
	client *redis.Client
	ttl    time.Duration
}

// New wraps client. A non-positive ttl falls back to seven days.
func New(client *redis.Client, ttl time.Duration) (*Inbox, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Inbox{client: client, ttl: ttl}, nil
}

// Dial connects to addr and verifies it with a ping.
func Dial(ctx context.Context, addr string, ttl time.Duration) (*Inbox, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return New(client, ttl)
}

// Close closes the client.
func (i *Inbox) Close() error {
	return i.client.Close()
}

// Seen reports whether consumer already processed messageID.
func (i *Inbox) Seen(ctx context.Context, consumer, messageID string) (bool, error) {
	n, err := i.client.Exists(ctx, key(consumer, messageID)).Result()
	if err != nil {
		return false, fmt.Errorf("read inbox: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed records messageID for consumer. Repeats keep the first timestamp.
func (i *Inbox) MarkProcessed(ctx context.Context, consumer, messageID string) error {
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	if err := i.client.SetNX(ctx, key(consumer, messageID), stamp, i.ttl).Err(); err != nil {
		return fmt.Errorf("write inbox: %w", err)
	}
	return nil
}

func key(consumer, messageID string) string {
	return keyPrefix + consumer + ":" + messageID
}
