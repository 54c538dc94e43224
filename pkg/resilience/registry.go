package resilience

import (
	"sync"

	"github.com/penserai/acteon/pkg/acteon"
	"github.com/penserai/acteon/pkg/logger"
)

// Registry owns one CircuitBreaker per provider and resolves a provider's
// fallback chain when its breaker is open (spec.md §4.F).
type Registry struct {
	mu        sync.Mutex
	breakers  map[string]*CircuitBreaker
	fallbacks map[string]string // provider -> fallback_provider
	defaults  Config
	logger    logger.Logger
}

func NewRegistry(defaults Config, log logger.Logger) *Registry {
	if log == nil {
		log = logger.NoOpLogger{}
	}
	return &Registry{
		breakers:  make(map[string]*CircuitBreaker),
		fallbacks: make(map[string]string),
		defaults:  defaults,
		logger:    log,
	}
}

// SetFallback declares that provider falls back to fallback when open.
func (r *Registry) SetFallback(provider, fallback string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[provider] = fallback
}

// Breaker returns (creating on first use) the named provider's breaker.
func (r *Registry) Breaker(provider string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[provider]; ok {
		return cb
	}
	cfg := r.defaults
	cfg.Name = provider
	cb := NewCircuitBreaker(cfg)
	r.breakers[provider] = cb
	return cb
}

// Resolve walks provider's fallback chain, returning the first provider
// whose breaker currently admits requests (Closed or HalfOpen), along
// with the chain of provider names visited before it (empty if provider
// itself was admitted). Cycles are defended against with a visited set;
// an exhausted or cyclic chain reports ok=false and chain holds every
// provider visited, for CircuitOpenOutcome.FallbackChain.
func (r *Registry) Resolve(provider string) (resolved string, chain []string, ok bool) {
	visited := make(map[string]bool)
	current := provider

	for {
		if visited[current] {
			// Cycle: report the chain walked (excluding the repeat) as open.
			return "", chain, false
		}
		visited[current] = true

		cb := r.Breaker(current)
		if cb.State() != StateOpen {
			return current, chain, true
		}
		chain = append(chain, current)

		r.mu.Lock()
		next, hasFallback := r.fallbacks[current]
		r.mu.Unlock()
		if !hasFallback {
			return "", chain, false
		}
		current = next
	}
}

// ExhaustedOutcome builds the CircuitOpen outcome for a Resolve that
// returned ok=false, tagging it with the provider the walk started from.
func ExhaustedOutcome(provider string, chain []string) acteon.CircuitOpenOutcome {
	return acteon.CircuitOpenOutcome{Provider: provider, FallbackChain: chain}
}
