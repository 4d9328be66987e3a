package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Counter caches unread counts per recipient. A missing entry means
// "unknown", never zero; readers fall back to the store.
type Counter interface {
	Incr(ctx context.Context, recipientID uuid.UUID) error
	Decr(ctx context.Context, recipientID uuid.UUID) error
	Get(ctx context.Context, recipientID uuid.UUID) (count int64, ok bool, err error)
	Set(ctx context.Context, recipientID uuid.UUID, count int64) error
}

// healedTTL bounds how long a recount can stay stale if it raced a
// concurrent insert.
const healedTTL = 15 * time.Minute

type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func unreadKey(recipientID uuid.UUID) string {
	return fmt.Sprintf("notifications:unread:%s", recipientID)
}

// An absent key stays absent so the next read recounts from the store
// instead of starting from 1.
var incrScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return redis.call("INCR", KEYS[1])
end
return -1
`)

var decrScript = redis.NewScript(`
local val = tonumber(redis.call("GET", KEYS[1]))
if val and val > 0 then
  return redis.call("DECR", KEYS[1])
end
return 0
`)

func (c *RedisCounter) Incr(ctx context.Context, recipientID uuid.UUID) error {
	if err := incrScript.Run(ctx, c.client, []string{unreadKey(recipientID)}).Err(); err != nil {
		return fmt.Errorf("incr unread counter: %w", err)
	}
	return nil
}

func (c *RedisCounter) Decr(ctx context.Context, recipientID uuid.UUID) error {
	if err := decrScript.Run(ctx, c.client, []string{unreadKey(recipientID)}).Err(); err != nil {
		return fmt.Errorf("decr unread counter: %w", err)
	}
	return nil
}

func (c *RedisCounter) Get(ctx context.Context, recipientID uuid.UUID) (int64, bool, error) {
	n, err := c.client.Get(ctx, unreadKey(recipientID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get unread counter: %w", err)
	}
	return n, true, nil
}

func (c *RedisCounter) Set(ctx context.Context, recipientID uuid.UUID, count int64) error {
	if err := c.client.Set(ctx, unreadKey(recipientID), count, healedTTL).Err(); err != nil {
		return fmt.Errorf("set unread counter: %w", err)
	}
	return nil
}

type MemoryCounter struct {
	mu     sync.Mutex
	counts map[uuid.UUID]int64
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[uuid.UUID]int64)}
}

func (c *MemoryCounter) Incr(_ context.Context, recipientID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.counts[recipientID]; ok {
		c.counts[recipientID] = n + 1
	}
	return nil
}

func (c *MemoryCounter) Decr(_ context.Context, recipientID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.counts[recipientID]; ok && n > 0 {
		c.counts[recipientID] = n - 1
	}
	return nil
}

func (c *MemoryCounter) Get(_ context.Context, recipientID uuid.UUID) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.counts[recipientID]
	return n, ok, nil
}

func (c *MemoryCounter) Set(_ context.Context, recipientID uuid.UUID, count int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[recipientID] = count
	return nil
}
