package utils

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// unreachableRedis returns a client whose every command fails fast.
func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisConfigDefaults(t *testing.T) {
	c := RedisConfig{PoolSize: -1}.withDefaults()
	if c.PoolSize != 10 || c.IOTimeout != 500*time.Millisecond || c.PingTimeout != 2*time.Second {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

func TestHitFixedWindow_ValidatesArgs(t *testing.T) {
	rdb := unreachableRedis(t)
	ctx := context.Background()
	if _, err := HitFixedWindow(ctx, rdb, "", 1, time.Second); err == nil {
		t.Fatalf("expected key error")
	}
	if _, err := HitFixedWindow(ctx, rdb, "k", 0, time.Second); err == nil {
		t.Fatalf("expected limit error")
	}
	if _, err := HitFixedWindow(ctx, rdb, "k", 1, 0); err == nil {
		t.Fatalf("expected window error")
	}
}

func TestHitFixedWindow_SurfacesConnectionErrors(t *testing.T) {
	ok, err := HitFixedWindow(context.Background(), unreachableRedis(t), "login:1.2.3.4", 5, time.Minute)
	if err == nil || ok {
		t.Fatalf("expected connection error, got ok=%v err=%v", ok, err)
	}
}

func TestAcquireLock_ValidatesArgs(t *testing.T) {
	rdb := unreachableRedis(t)
	if _, err := AcquireLock(context.Background(), rdb, "lock", "", time.Second); err == nil {
		t.Fatalf("expected token error")
	}
	if _, err := AcquireLock(context.Background(), rdb, "lock", "me", 0); err == nil {
		t.Fatalf("expected ttl error")
	}
	if _, err := AcquireLock(context.Background(), rdb, "lock", "me", time.Second); err == nil {
		t.Fatalf("expected connection error")
	}
}
