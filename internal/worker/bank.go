package worker

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

// ErrExternalDeclined marks a legitimate settlement failure from the
// external system. It becomes a failed transaction, never a retry.
var ErrExternalDeclined = errors.New("external bank declined the transaction")

// Gateway models the third-party banking system the worker talks to.
type Gateway interface {
	// Connect performs the network round trip; it is the only blocking
	// step on the critical path.
	Connect(ctx context.Context) error
	// Settle resolves the settlement outcome of the call: nil on
	// success, ErrExternalDeclined on a decline.
	Settle(ctx context.Context) error
}

// SimulatedBank stands in for a real bank: a bounded random delay per
// call and a weighted random outcome.
type SimulatedBank struct {
	minDelay    time.Duration
	maxDelay    time.Duration
	successRate float64

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSimulatedBank(minDelay, maxDelay time.Duration, successRate float64) *SimulatedBank {
	return &SimulatedBank{
		minDelay:    minDelay,
		maxDelay:    maxDelay,
		successRate: successRate,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (b *SimulatedBank) Connect(ctx context.Context) error {
	b.mu.Lock()
	delay := b.minDelay
	if b.maxDelay > b.minDelay {
		delay += time.Duration(b.rnd.Int63n(int64(b.maxDelay - b.minDelay)))
	}
	b.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func (b *SimulatedBank) Settle(_ context.Context) error {
	b.mu.Lock()
	roll := b.rnd.Float64()
	b.mu.Unlock()
	if roll < b.successRate {
		return nil
	}
	return ErrExternalDeclined
}
