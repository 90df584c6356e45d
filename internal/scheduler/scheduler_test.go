package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestScheduler(t *testing.T) (*RedisScheduler, *redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisScheduler(rdb, nil), rdb, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestSchedulerSubmit(t *testing.T) {
	s, rdb, cleanup := setupTestScheduler(t)
	defer cleanup()
	ctx := context.Background()

	eta := time.Now().Add(time.Hour)
	handle, err := s.Submit(ctx, "delivery-1", eta)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if handle == "" {
		t.Fatal("handle must not be empty")
	}

	score, err := rdb.ZScore(ctx, tasksKey, handle).Result()
	if err != nil {
		t.Fatalf("ZScore: %v", err)
	}
	if int64(score) != eta.UnixMilli() {
		t.Errorf("score = %d, want %d", int64(score), eta.UnixMilli())
	}

	payload, err := rdb.HGet(ctx, payloadsKey, handle).Result()
	if err != nil {
		t.Fatalf("HGet: %v", err)
	}
	if payload != "delivery-1" {
		t.Errorf("payload = %q, want %q", payload, "delivery-1")
	}
}

func TestSchedulerSubmitUniqueHandles(t *testing.T) {
	s, _, cleanup := setupTestScheduler(t)
	defer cleanup()
	ctx := context.Background()

	eta := time.Now()
	h1, err := s.Submit(ctx, "delivery-1", eta)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h2, err := s.Submit(ctx, "delivery-1", eta)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if h1 == h2 {
		t.Error("same payload must still get distinct handles")
	}
}

func TestSchedulerCancel(t *testing.T) {
	s, rdb, cleanup := setupTestScheduler(t)
	defer cleanup()
	ctx := context.Background()

	handle, err := s.Submit(ctx, "delivery-1", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := s.Cancel(ctx, handle); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if n, _ := rdb.Exists(ctx, tasksKey).Result(); n != 0 {
		if err := rdb.ZScore(ctx, tasksKey, handle).Err(); err != redis.Nil {
			t.Error("cancelled task still in sorted set")
		}
	}
	if err := rdb.HGet(ctx, payloadsKey, handle).Err(); err != redis.Nil {
		t.Error("cancelled task payload still present")
	}

	// cancelling again is not an error
	if err := s.Cancel(ctx, handle); err != nil {
		t.Errorf("second Cancel: %v", err)
	}
}

func TestPollerFiresDueTasks(t *testing.T) {
	s, rdb, cleanup := setupTestScheduler(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := s.Submit(ctx, "due-1", time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := s.Submit(ctx, "due-2", time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	futureHandle, err := s.Submit(ctx, "future", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	fired := make(chan string, 4)
	p := NewPoller(rdb, func(ctx context.Context, payload string) {
		fired <- payload
	}, nil)

	jobs := make(chan string, 4)
	go func() {
		for payload := range jobs {
			p.fire(ctx, payload)
		}
	}()
	p.drainDue(ctx, jobs)
	close(jobs)

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case payload := <-fired:
			got[payload] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for due tasks")
		}
	}
	if !got["due-1"] || !got["due-2"] {
		t.Errorf("fired = %v, want due-1 and due-2", got)
	}
	select {
	case payload := <-fired:
		t.Errorf("unexpected fire of %q", payload)
	default:
	}

	// the future task is untouched
	if err := rdb.ZScore(ctx, tasksKey, futureHandle).Err(); err != nil {
		t.Errorf("future task missing from sorted set: %v", err)
	}
}

func TestPollerSkipsCancelledTask(t *testing.T) {
	s, rdb, cleanup := setupTestScheduler(t)
	defer cleanup()
	ctx := context.Background()

	handle, err := s.Submit(ctx, "due-1", time.Now().Add(-time.Second))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := s.Cancel(ctx, handle); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	p := NewPoller(rdb, func(ctx context.Context, payload string) {
		t.Errorf("cancelled task fired with payload %q", payload)
	}, nil)

	jobs := make(chan string, 1)
	p.drainDue(ctx, jobs)
	select {
	case payload := <-jobs:
		t.Errorf("cancelled task enqueued: %q", payload)
	default:
	}
}
