package auth

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestLoginThrottle_LocalLimiter(t *testing.T) {
	th := NewLoginThrottle(nil, 3, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !th.Allow(ctx, "1.2.3.4") {
			t.Fatalf("attempt %d should pass", i+1)
		}
	}
	if th.Allow(ctx, "1.2.3.4") {
		t.Fatalf("fourth attempt should be throttled")
	}
	if !th.Allow(ctx, "5.6.7.8") {
		t.Fatalf("other clients must not share the bucket")
	}
}

func TestLoginThrottle_FallsBackWhenRedisDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()
	th := NewLoginThrottle(rdb, 1, nil)
	ctx := context.Background()

	if !th.Allow(ctx, "ip") {
		t.Fatalf("first attempt should pass on local limiter")
	}
	if th.Allow(ctx, "ip") {
		t.Fatalf("second attempt should be throttled locally")
	}
}
