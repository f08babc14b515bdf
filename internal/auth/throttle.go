package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ats-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Throttle limits login attempts per key (client IP).
type Throttle interface {
	Allow(ctx context.Context, key string) bool
}

// LoginThrottle is a fixed-window limiter shared across replicas through
// Redis. When Redis is unavailable it degrades to a per-process token bucket
// with the same average rate.
type LoginThrottle struct {
	rdb    redis.Scripter
	limit  int
	window time.Duration
	log    *slog.Logger

	limiters sync.Map // key -> *rate.Limiter
}

const loginThrottlePrefix = "login:attempts:"

func NewLoginThrottle(rdb redis.Scripter, limitPerMinute int, log *slog.Logger) *LoginThrottle {
	if limitPerMinute <= 0 {
		limitPerMinute = 10
	}
	if log == nil {
		log = slog.Default()
	}
	return &LoginThrottle{rdb: rdb, limit: limitPerMinute, window: time.Minute, log: log}
}

func (t *LoginThrottle) Allow(ctx context.Context, key string) bool {
	if t.rdb != nil {
		ok, err := utils.HitFixedWindow(ctx, t.rdb, loginThrottlePrefix+key, t.limit, t.window)
		if err == nil {
			return ok
		}
		t.log.Warn("login throttle redis unavailable, using local limiter", "err", err)
	}
	return t.localLimiter(key).Allow()
}

func (t *LoginThrottle) localLimiter(key string) *rate.Limiter {
	if l, ok := t.limiters.Load(key); ok {
		return l.(*rate.Limiter)
	}
	every := rate.Every(t.window / time.Duration(t.limit))
	l, _ := t.limiters.LoadOrStore(key, rate.NewLimiter(every, t.limit))
	return l.(*rate.Limiter)
}
