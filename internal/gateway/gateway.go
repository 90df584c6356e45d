// Package gateway is the client for the external messaging provider(s).
package gateway

import (
	"context"
	"fmt"
	"sync/atomic"
)

var ErrNoHealthy = fmt.Errorf("no healthy providers")
var ErrNoAcquire = fmt.Errorf("provider not acquired")

// SendResult carries the provider's acknowledgement for a delivered message.
type SendResult struct {
	ProviderMessageID string
}

// Gateway sends one outbound message. Failure reasons are preserved
// verbatim: the executor records them on the Failed terminal state.
type Gateway interface {
	Send(ctx context.Context, toAddress, text string) (SendResult, error)
}

// MultiProvider round-robins across healthy providers with bounded attempts.
type MultiProvider struct {
	providers         []Provider
	roundRobinCounter atomic.Uint64
	maxAttempts       int
}

func NewMultiProvider(provs []Provider, maxAttempts int) *MultiProvider {
	if maxAttempts < 1 {
		maxAttempts = 2
	}
	return &MultiProvider{providers: provs, maxAttempts: maxAttempts}
}

var _ Gateway = (*MultiProvider)(nil)

func (g *MultiProvider) selectProvider() (Provider, error) {
	healthy := make([]Provider, 0, len(g.providers))
	for _, p := range g.providers {
		if p.Ready() {
			healthy = append(healthy, p)
		}
	}

	if len(healthy) == 0 {
		return nil, ErrNoHealthy
	}

	x := g.roundRobinCounter.Add(1)
	idx := int((x - 1) % uint64(len(healthy)))

	return healthy[idx], nil
}

func (g *MultiProvider) tryOnce(ctx context.Context, to, text string) (SendResult, error) {
	p, err := g.selectProvider()
	if err != nil {
		return SendResult{}, err
	}

	if !p.Acquire() {
		return SendResult{}, ErrNoAcquire
	}

	return p.Send(ctx, to, text)
}

func (g *MultiProvider) Send(ctx context.Context, to, text string) (SendResult, error) {
	var last error
	for i := 0; i < g.maxAttempts; i++ {
		res, err := g.tryOnce(ctx, to, text)
		if err == nil {
			return res, nil
		}
		last = err
	}

	if last == nil {
		last = fmt.Errorf("send failed")
	}

	return SendResult{}, last
}
