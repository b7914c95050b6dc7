package gc

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	tallytest "tally/internal/testutil"
)

func TestMemoryQueuePopOrder(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	if err := q.Push(ctx, "a", "b", "c"); err != nil {
		t.Fatalf("push: %v", err)
	}
	got, err := q.Pop(ctx, 2)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected pop: %v", got)
	}
	got, _ = q.Pop(ctx, 10)
	if len(got) != 1 || got[0] != "c" {
		t.Fatalf("unexpected second pop: %v", got)
	}
	got, _ = q.Pop(ctx, 10)
	if len(got) != 0 {
		t.Fatalf("expected empty pop, got %v", got)
	}
}

func TestRedisQueue(t *testing.T) {
	tallytest.SkipIfNotIntegration(t)
	if *tallytest.RedisAddr == "" {
		t.Skip("set -redis-addr to run")
	}
	client := redis.NewClient(&redis.Options{
		Addr:        *tallytest.RedisAddr,
		DialTimeout: 2 * time.Second,
		ReadTimeout: 2 * time.Second,
	})
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	key := "tally:gc:test:" + time.Now().Format("150405.000000")
	t.Cleanup(func() { client.Del(context.Background(), key) })

	q := NewRedisQueue(client, key)
	got, err := q.Pop(ctx, 5)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty pop, got %v %v", got, err)
	}
	if err := q.Push(ctx, "bl-1", "bl-2"); err != nil {
		t.Fatalf("push: %v", err)
	}
	got, err = q.Pop(ctx, 5)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if len(got) != 2 || got[0] != "bl-1" || got[1] != "bl-2" {
		t.Fatalf("expected fifo order, got %v", got)
	}
}
