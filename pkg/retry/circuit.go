package retry

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a provider circuit is open and its
// cooldown has not elapsed.
var ErrCircuitOpen = errors.New("provider_circuit_open")

const (
	defaultFailureThreshold = 5
	defaultCooldown         = 30 * time.Second
)

// Breaker is a per-provider circuit. Consecutive failures reaching the
// threshold open it for a cooldown window; any success closes it and resets
// the failure count.
type Breaker struct {
	mu        sync.Mutex
	failures  int
	openUntil time.Time

	provider  string
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// NewBreaker creates a breaker for the named provider. Zero threshold or
// cooldown select the defaults.
func NewBreaker(provider string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &Breaker{
		provider:  provider,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow returns ErrCircuitOpen while the circuit is open.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.openUntil.IsZero() && b.now().Before(b.openUntil) {
		return ErrCircuitOpen
	}
	return nil
}

// RecordFailure counts a consecutive failure, opening the circuit when the
// threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = b.now().Add(b.cooldown)
	}
}

// RecordSuccess resets the failure count and closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.openUntil = time.Time{}
}

// Execute runs fn under circuit protection. Cancellation is not counted as
// a provider failure.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		b.RecordFailure()
		return err
	}

	b.RecordSuccess()
	return nil
}

// BreakerStats is a point-in-time snapshot for diagnostics.
type BreakerStats struct {
	Provider  string
	Failures  int
	Open      bool
	OpenUntil time.Time
}

// Stats returns the current snapshot.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BreakerStats{
		Provider:  b.provider,
		Failures:  b.failures,
		Open:      !b.openUntil.IsZero() && b.now().Before(b.openUntil),
		OpenUntil: b.openUntil,
	}
}

// BreakerRegistry holds one breaker per provider id.
type BreakerRegistry struct {
	mu        sync.RWMutex
	breakers  map[string]*Breaker
	threshold int
	cooldown  time.Duration
}

// NewBreakerRegistry creates a registry whose breakers share the given
// threshold and cooldown.
func NewBreakerRegistry(threshold int, cooldown time.Duration) *BreakerRegistry {
	return &BreakerRegistry{
		breakers:  make(map[string]*Breaker),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Get returns the breaker for providerID, creating it on first use.
func (r *BreakerRegistry) Get(providerID string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[providerID]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check after acquiring the write lock.
	if b, ok := r.breakers[providerID]; ok {
		return b
	}
	b = NewBreaker(providerID, r.threshold, r.cooldown)
	r.breakers[providerID] = b
	return b
}

// OpenProviders returns the ids of all currently open circuits.
func (r *BreakerRegistry) OpenProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var open []string
	for id, b := range r.breakers {
		if b.Stats().Open {
			open = append(open, id)
		}
	}
	return open
}
