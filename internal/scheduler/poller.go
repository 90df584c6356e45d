package scheduler

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// FireFunc handles one due task. The payload is whatever was passed to
// Submit (here: a delivery id).
type FireFunc func(ctx context.Context, payload string)

// Poller claims due tasks and hands them to the fire callback. A task is
// claimed by removing its handle from the sorted set; exactly one poller
// wins the removal, which gives the per-job execution guarantee the
// executor relies on.
type Poller struct {
	rdb  *redis.Client
	fire FireFunc
	log  *zap.Logger

	Interval   time.Duration
	ClaimBatch int
	Workers    int
}

func NewPoller(rdb *redis.Client, fire FireFunc, log *zap.Logger) *Poller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{
		rdb:        rdb,
		fire:       fire,
		log:        log,
		Interval:   500 * time.Millisecond,
		ClaimBatch: 100,
		Workers:    16,
	}
}

// Run blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	if p.Interval <= 0 {
		p.Interval = 500 * time.Millisecond
	}
	if p.ClaimBatch <= 0 {
		p.ClaimBatch = 100
	}
	if p.Workers <= 0 {
		p.Workers = 16
	}

	jobs := make(chan string, p.Workers*2)
	for i := 0; i < p.Workers; i++ {
		go p.runWorker(ctx, jobs)
	}

	tick := time.NewTicker(p.Interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			close(jobs)
			return ctx.Err()
		case <-tick.C:
			p.drainDue(ctx, jobs)
		}
	}
}

func (p *Poller) runWorker(ctx context.Context, jobs <-chan string) {
	for payload := range jobs {
		p.fire(ctx, payload)
	}
}

func (p *Poller) drainDue(ctx context.Context, jobs chan<- string) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	handles, err := p.rdb.ZRangeByScore(ctx, tasksKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: int64(p.ClaimBatch),
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			p.log.Error("poll due tasks", zap.Error(err))
		}
		return
	}

	for _, handle := range handles {
		removed, err := p.rdb.ZRem(ctx, tasksKey, handle).Result()
		if err != nil {
			p.log.Error("claim task", zap.String("handle", handle), zap.Error(err))
			continue
		}
		if removed == 0 {
			// lost the claim race to another poller, or cancelled under us
			continue
		}

		payload, err := p.rdb.HGet(ctx, payloadsKey, handle).Result()
		if err == redis.Nil {
			p.log.Warn("claimed task without payload", zap.String("handle", handle))
			continue
		}
		if err != nil {
			p.log.Error("load task payload", zap.String("handle", handle), zap.Error(err))
			continue
		}
		_ = p.rdb.HDel(ctx, payloadsKey, handle).Err()

		select {
		case jobs <- payload:
		case <-ctx.Done():
			return
		}
	}
}
