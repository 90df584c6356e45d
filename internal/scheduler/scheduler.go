// Package scheduler is the boundary to the delayed-task queue. Tasks are
// kept in a Redis sorted set scored by ETA, with an opaque ULID handle per
// task and a handle -> payload hash. A task fires when a poller claims it;
// cancellation is best-effort removal before that happens.
package scheduler

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/relaypoint/outreach-engine/internal/util"
)

const (
	tasksKey    = "sched:tasks"
	payloadsKey = "sched:payloads"
)

// TaskScheduler is the external delayed-task scheduler interface. Submit
// returns an opaque handle; Cancel of an unknown or already-fired handle is
// not an error.
type TaskScheduler interface {
	Submit(ctx context.Context, payload string, eta time.Time) (string, error)
	Cancel(ctx context.Context, handle string) error
}

type RedisScheduler struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewRedisScheduler(rdb *redis.Client, log *zap.Logger) *RedisScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisScheduler{rdb: rdb, log: log}
}

var _ TaskScheduler = (*RedisScheduler)(nil)

// Submit enqueues the payload at eta. An eta in the past is accepted and
// fires on the next poll tick.
func (s *RedisScheduler) Submit(ctx context.Context, payload string, eta time.Time) (string, error) {
	handle := util.New()

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, payloadsKey, handle, payload)
	pipe.ZAdd(ctx, tasksKey, redis.Z{Score: float64(eta.UnixMilli()), Member: handle})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}

	s.log.Debug("task submitted",
		zap.String("handle", handle),
		zap.Time("eta", eta),
	)
	return handle, nil
}

// Cancel removes the task if it is still pending. Cancelling twice, or
// cancelling a handle whose job already fired, is logged and ignored.
func (s *RedisScheduler) Cancel(ctx context.Context, handle string) error {
	removed, err := s.rdb.ZRem(ctx, tasksKey, handle).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		s.log.Info("cancel of missing or fired task", zap.String("handle", handle))
	}
	return s.rdb.HDel(ctx, payloadsKey, handle).Err()
}
