package resilience_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penserai/acteon/pkg/resilience"
)

func tripOpen(r *resilience.Registry, provider string) {
	cb := r.Breaker(provider)
	cb.Allow()
	cb.RecordResult(errors.New("boom"))
}

func TestRegistryResolveReturnsProviderWhenClosed(t *testing.T) {
	r := resilience.NewRegistry(resilience.DefaultConfig(""), nil)
	resolved, chain, ok := r.Resolve("pagerduty")
	assert.True(t, ok)
	assert.Equal(t, "pagerduty", resolved)
	assert.Empty(t, chain)
}

func TestRegistryResolveWalksFallbackChain(t *testing.T) {
	cfg := resilience.DefaultConfig("")
	cfg.FailureThreshold = 1
	r := resilience.NewRegistry(cfg, nil)
	r.SetFallback("pagerduty", "opsgenie")
	r.SetFallback("opsgenie", "slack")

	tripOpen(r, "pagerduty")
	tripOpen(r, "opsgenie")

	resolved, chain, ok := r.Resolve("pagerduty")
	require.True(t, ok)
	assert.Equal(t, "slack", resolved)
	assert.Equal(t, []string{"pagerduty", "opsgenie"}, chain)
}

func TestRegistryResolveExhaustedChainReturnsFalse(t *testing.T) {
	cfg := resilience.DefaultConfig("")
	cfg.FailureThreshold = 1
	r := resilience.NewRegistry(cfg, nil)
	r.SetFallback("pagerduty", "opsgenie")

	tripOpen(r, "pagerduty")
	tripOpen(r, "opsgenie")

	_, chain, ok := r.Resolve("pagerduty")
	assert.False(t, ok)
	assert.Equal(t, []string{"pagerduty", "opsgenie"}, chain)

	outcome := resilience.ExhaustedOutcome("pagerduty", chain)
	assert.Equal(t, "pagerduty", outcome.Provider)
	assert.Equal(t, chain, outcome.FallbackChain)
}

func TestRegistryResolveDefendsAgainstCycles(t *testing.T) {
	cfg := resilience.DefaultConfig("")
	cfg.FailureThreshold = 1
	r := resilience.NewRegistry(cfg, nil)
	r.SetFallback("a", "b")
	r.SetFallback("b", "a")

	tripOpen(r, "a")
	tripOpen(r, "b")

	_, _, ok := r.Resolve("a")
	assert.False(t, ok, "a cyclic fallback chain must terminate, not loop forever")
}
