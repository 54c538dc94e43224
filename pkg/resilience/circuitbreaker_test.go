package resilience_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penserai/acteon/pkg/resilience"
)

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := resilience.DefaultConfig("pagerduty")
	cfg.FailureThreshold = 3
	cb := resilience.NewCircuitBreaker(cfg)

	for i := 0; i < 3; i++ {
		require.True(t, cb.Allow())
		cb.RecordResult(errors.New("boom"))
	}

	assert.Equal(t, resilience.StateOpen, cb.State())
	assert.False(t, cb.Allow(), "open breaker must reject immediately")
}

func TestCircuitBreakerNonRetryableErrorDoesNotCount(t *testing.T) {
	cfg := resilience.DefaultConfig("pagerduty")
	cfg.FailureThreshold = 2
	cfg.ErrorClassifier = func(error) bool { return false } // nothing counts
	cb := resilience.NewCircuitBreaker(cfg)

	for i := 0; i < 5; i++ {
		require.True(t, cb.Allow())
		cb.RecordResult(errors.New("client error"))
	}
	assert.Equal(t, resilience.StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenSingleProbe(t *testing.T) {
	cfg := resilience.DefaultConfig("pagerduty")
	cfg.FailureThreshold = 1
	cfg.RecoveryTimeout = 10 * time.Millisecond
	cb := resilience.NewCircuitBreaker(cfg)

	require.True(t, cb.Allow())
	cb.RecordResult(errors.New("boom"))
	require.Equal(t, resilience.StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	// First Allow() after the timeout claims the probe slot and flips to
	// HalfOpen; a concurrent second Allow() must be rejected.
	require.True(t, cb.Allow())
	assert.Equal(t, resilience.StateHalfOpen, cb.State())
	assert.False(t, cb.Allow(), "only one probe may be in flight")
}

func TestCircuitBreakerHalfOpenSuccessCloses(t *testing.T) {
	cfg := resilience.DefaultConfig("pagerduty")
	cfg.FailureThreshold = 1
	cfg.SuccessThreshold = 2
	cfg.RecoveryTimeout = 10 * time.Millisecond
	cb := resilience.NewCircuitBreaker(cfg)

	require.True(t, cb.Allow())
	cb.RecordResult(errors.New("boom"))
	time.Sleep(20 * time.Millisecond)

	require.True(t, cb.Allow())
	cb.RecordResult(nil)
	assert.Equal(t, resilience.StateHalfOpen, cb.State(), "needs a second success to close")

	require.True(t, cb.Allow())
	cb.RecordResult(nil)
	assert.Equal(t, resilience.StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cfg := resilience.DefaultConfig("pagerduty")
	cfg.FailureThreshold = 1
	cfg.RecoveryTimeout = 10 * time.Millisecond
	cb := resilience.NewCircuitBreaker(cfg)

	require.True(t, cb.Allow())
	cb.RecordResult(errors.New("boom"))
	time.Sleep(20 * time.Millisecond)

	require.True(t, cb.Allow())
	cb.RecordResult(errors.New("boom again"))
	assert.Equal(t, resilience.StateOpen, cb.State())
}
