package audit

import (
	"context"
	"log/slog"
	"time"

	"ats-platform/internal/metrics"
	"ats-platform/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes janitor runs across replicas.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// RedisLocker implements Locker with SET NX PX and an owner token.
type RedisLocker struct {
	rdb *redis.Client
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker { return &RedisLocker{rdb: rdb} }

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := utils.AcquireLock(ctx, l.rdb, key, token, ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	release := func() {
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = utils.ReleaseLock(rctx, l.rdb, key, token)
	}
	return release, true, nil
}

const janitorLockKey = "audit:janitor:lock"

// Janitor purges expired entries on a fixed interval. Only one replica purges
// per tick when a Locker is configured; a lock error skips the tick.
type Janitor struct {
	svc      *Service
	locker   Locker
	days     int
	interval time.Duration
	log      *slog.Logger
}

func NewJanitor(svc *Service, locker Locker, retentionDays int, interval time.Duration, log *slog.Logger) *Janitor {
	if retentionDays < 1 {
		retentionDays = DefaultRetentionDays
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Janitor{svc: svc, locker: locker, days: retentionDays, interval: interval, log: log}
}

// Run purges once immediately and then on every tick until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single purge and reports whether it ran.
func (j *Janitor) RunOnce(ctx context.Context) bool {
	if j.locker != nil {
		release, ok, err := j.locker.TryLock(ctx, janitorLockKey, j.interval/2)
		if err != nil {
			j.log.Warn("audit janitor lock failed, skipping run", "err", err)
			return false
		}
		if !ok {
			j.log.Debug("audit janitor lock held elsewhere, skipping run")
			return false
		}
		defer release()
	}

	res, err := j.svc.Purge(ctx, j.days)
	if err != nil {
		j.log.Error("audit janitor purge failed", "err", err)
		return false
	}
	metrics.AuditPurged.Add(float64(res.DeletedCount))
	j.log.Info("audit janitor purged entries",
		"deleted", res.DeletedCount,
		"cutoff", res.CutoffDate.Format(time.RFC3339),
	)
	return true
}
