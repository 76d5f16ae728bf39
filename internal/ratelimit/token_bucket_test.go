package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestBucket(t *testing.T, capacity int) (*TokenBucket, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewTokenBucket(client, "analyzer", capacity, 1, time.Minute), mr
}

func TestTokenBucketCapacity(t *testing.T) {
	ctx := context.Background()
	bucket, mr := newTestBucket(t, 2)

	allowed, _, err := bucket.Allow(ctx, "enqueue:client-a")
	if err != nil || !allowed {
		t.Fatalf("expected first request allowed, got allowed=%v err=%v", allowed, err)
	}
	allowed, _, _ = bucket.Allow(ctx, "enqueue:client-a")
	if !allowed {
		t.Fatal("expected second request allowed")
	}
	allowed, _, _ = bucket.Allow(ctx, "enqueue:client-a")
	if allowed {
		t.Fatal("expected third request rejected at capacity 2")
	}

	if !mr.Exists("analyzer:enqueue:client-a") {
		t.Fatal("bucket state not stored under the configured prefix")
	}

	// Refill is not testable against miniredis.FastForward: elapsed time is
	// passed into the script from Go's clock, not Redis's.
}

func TestTokenBucketKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	bucket, _ := newTestBucket(t, 1)

	if allowed, _, _ := bucket.Allow(ctx, "enqueue:client-a"); !allowed {
		t.Fatal("expected client-a allowed")
	}
	if allowed, _, _ := bucket.Allow(ctx, "enqueue:client-a"); allowed {
		t.Fatal("expected client-a exhausted")
	}
	if allowed, _, _ := bucket.Allow(ctx, "enqueue:client-b"); !allowed {
		t.Fatal("client-b must not share client-a's bucket")
	}
}
