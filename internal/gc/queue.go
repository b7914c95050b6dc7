package gc

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Queue is the worklist of blob ids orphaned by recent deletes. Entries are
// hints: the collector re-checks the counter before reclaiming, so duplicate
// or stale ids are harmless.
type Queue interface {
	Push(ctx context.Context, blobIDs ...string) error
	Pop(ctx context.Context, max int) ([]string, error)
}

// MemoryQueue is an in-process worklist.
type MemoryQueue struct {
	mu  sync.Mutex
	ids []string
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Push(ctx context.Context, blobIDs ...string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, blobIDs...)
	return nil
}

func (q *MemoryQueue) Pop(ctx context.Context, max int) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if max <= 0 || max > len(q.ids) {
		max = len(q.ids)
	}
	out := make([]string, max)
	copy(out, q.ids[:max])
	q.ids = q.ids[max:]
	return out, nil
}

// Len reports queued entries.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

// RedisQueue shares the worklist between server replicas through a Redis list.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// DefaultRedisKey is the list used when no key is configured.
const DefaultRedisKey = "tally:gc:orphaned"

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Push(ctx context.Context, blobIDs ...string) error {
	if len(blobIDs) == 0 {
		return nil
	}
	values := make([]any, len(blobIDs))
	for i, id := range blobIDs {
		values[i] = id
	}
	return q.client.LPush(ctx, q.key, values...).Err()
}

func (q *RedisQueue) Pop(ctx context.Context, max int) ([]string, error) {
	if max <= 0 {
		max = 100
	}
	ids, err := q.client.RPopCount(ctx, q.key, max).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return ids, err
}
