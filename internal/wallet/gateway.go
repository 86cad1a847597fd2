package wallet

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// completedCacheSize bounds how many terminal outcomes are retained for
// idempotent re-awaits.
const completedCacheSize = 512

// Gateway mediates between the lifecycle controller and a wallet provider.
// One goroutine blocks in AwaitResult per outstanding payload; the provider's
// callback path resolves it through Resolve.
type Gateway struct {
	provider ProviderClient
	deadline time.Duration

	mu      sync.Mutex
	waiting map[string]chan Outcome
	done    *lru.Cache[string, Outcome]
}

// NewGateway builds a gateway over provider. deadline bounds each
// AwaitResult; zero means five minutes.
func NewGateway(provider ProviderClient, deadline time.Duration) (*Gateway, error) {
	if deadline <= 0 {
		deadline = 5 * time.Minute
	}
	done, err := lru.New[string, Outcome](completedCacheSize)
	if err != nil {
		return nil, err
	}
	return &Gateway{
		provider: provider,
		deadline: deadline,
		waiting:  make(map[string]chan Outcome),
		done:     done,
	}, nil
}

// PrepareSign registers tx with the provider and opens a rendezvous for its
// outcome.
func (g *Gateway) PrepareSign(ctx context.Context, tx map[string]any, account string, network NetworkTag) (*PendingSignature, error) {
	ref, err := g.provider.CreatePayload(ctx, tx, account, network)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.waiting[ref] = make(chan Outcome, 1)
	g.mu.Unlock()
	return &PendingSignature{PayloadRef: ref, Provider: g.provider.Provider()}, nil
}

// Resolve delivers the terminal outcome for payloadRef. It is called by the
// provider's webhook/callback transport.
func (g *Gateway) Resolve(payloadRef string, outcome Outcome) error {
	g.mu.Lock()
	ch, ok := g.waiting[payloadRef]
	if ok {
		delete(g.waiting, payloadRef)
	}
	g.mu.Unlock()
	if !ok {
		if _, seen := g.done.Get(payloadRef); seen {
			return nil // already terminal, keep the first outcome
		}
		return ErrUnknownPayload
	}
	g.done.Add(payloadRef, outcome)
	ch <- outcome
	return nil
}

// AwaitResult blocks until payloadRef reaches a terminal outcome. The
// deadline elapsing records and returns an expired outcome; callers must not
// hold a database transaction across this call.
func (g *Gateway) AwaitResult(ctx context.Context, payloadRef string) (*Outcome, error) {
	if out, ok := g.done.Get(payloadRef); ok {
		return &out, nil
	}
	g.mu.Lock()
	ch, ok := g.waiting[payloadRef]
	g.mu.Unlock()
	if !ok {
		return nil, ErrUnknownPayload
	}

	timer := time.NewTimer(g.deadline)
	defer timer.Stop()

	select {
	case out := <-ch:
		return &out, nil
	case <-timer.C:
		expired := Outcome{Status: StatusExpired}
		g.mu.Lock()
		delete(g.waiting, payloadRef)
		g.mu.Unlock()
		g.done.Add(payloadRef, expired)
		return &expired, nil
	case <-ctx.Done():
		return nil, ErrAwaitCancelled
	}
}

var _ Signer = (*Gateway)(nil)
