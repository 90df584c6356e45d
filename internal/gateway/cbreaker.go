package gateway

import (
	"sync"
	"time"
)

// MicroBreaker is a per-provider circuit breaker. It opens after a run of
// consecutive failures, stays open for a cooldown, then admits a single
// probe; the probe's outcome decides between closing and reopening.
type MicroBreaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration

	failures  int       // consecutive failures while closed
	openUntil time.Time // zero means closed
	probing   bool      // a half-open probe is in flight
}

func NewMicroBreaker(threshold int, cooldown time.Duration) *MicroBreaker {
	return &MicroBreaker{threshold: threshold, cooldown: cooldown}
}

// Ready reports whether a call would currently be admitted. Used to skip a
// provider during selection without consuming the probe slot.
func (b *MicroBreaker) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openUntil.IsZero() {
		return true
	}
	if time.Now().Before(b.openUntil) {
		return false
	}
	return !b.probing
}

// TryAcquire admits the call, claiming the single probe slot when the
// cooldown has elapsed.
func (b *MicroBreaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openUntil.IsZero() {
		return true
	}
	if time.Now().Before(b.openUntil) || b.probing {
		return false
	}
	b.probing = true
	return true
}

func (b *MicroBreaker) OnSuccess() {
	b.mu.Lock()
	b.failures = 0
	b.openUntil = time.Time{}
	b.probing = false
	b.mu.Unlock()
}

func (b *MicroBreaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.probing {
		// failed probe, reopen for another cooldown
		b.probing = false
		b.openUntil = time.Now().Add(b.cooldown)
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.failures = 0
		b.openUntil = time.Now().Add(b.cooldown)
	}
}
