package dex

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

const (
	DefaultBreakerThreshold = 5
	DefaultBreakerCooldown  = 30 * time.Second
)

// ErrProviderSuspended marks a venue skipped because its breaker is open.
var ErrProviderSuspended = errors.New("provider suspended after repeated failures")

// ProviderBreaker keeps a per-venue failure budget so a dead venue stops
// eating a full quote timeout on every fan-out. An open breaker closes
// again once the cooldown passes and the next fan-out probes the venue.
type ProviderBreaker struct {
	states    *xsync.Map[string, *breakerState]
	threshold int64
	cooldown  time.Duration
}

type breakerState struct {
	failures    atomic.Int64
	lastFailure atomic.Int64
	open        atomic.Bool
}

func NewProviderBreaker(threshold int, cooldown time.Duration) *ProviderBreaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultBreakerCooldown
	}
	return &ProviderBreaker{
		states:    xsync.NewMap[string, *breakerState](),
		threshold: int64(threshold),
		cooldown:  cooldown,
	}
}

func (b *ProviderBreaker) IsOpen(provider string) bool {
	state, ok := b.states.Load(provider)
	if !ok || !state.open.Load() {
		return false
	}

	lastFailure := time.Unix(0, state.lastFailure.Load())
	if time.Since(lastFailure) > b.cooldown {
		state.open.Store(false)
		state.failures.Store(0)
		return false
	}
	return true
}

func (b *ProviderBreaker) RecordSuccess(provider string) {
	if state, ok := b.states.Load(provider); ok {
		state.failures.Store(0)
		state.open.Store(false)
	}
}

func (b *ProviderBreaker) RecordFailure(provider string) {
	state, _ := b.states.LoadOrStore(provider, &breakerState{})
	state.lastFailure.Store(time.Now().UnixNano())
	if state.failures.Add(1) >= b.threshold {
		state.open.Store(true)
	}
}
