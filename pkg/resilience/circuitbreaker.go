// Package resilience implements the gateway's per-provider circuit
// breaker and its fallback-chain registry (spec.md §4.F). The breaker
// itself is adapted from the teacher's resilience.CircuitBreaker: the
// same state enum, MetricsCollector interface, ErrorClassifier hook, and
// atomic-state/mutex-transition shape, simplified from the teacher's
// sliding-window error-rate model to the consecutive-failure/
// consecutive-success counters and single in-flight probe the spec calls
// for.
package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/penserai/acteon/pkg/acteonerr"
	"github.com/penserai/acteon/pkg/logger"
)

// CircuitState is one of Closed, Open, HalfOpen.
type CircuitState int32

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MetricsCollector is the circuit breaker's monitoring hook.
type MetricsCollector interface {
	RecordSuccess(provider string)
	RecordFailure(provider string)
	RecordStateChange(provider string, from, to CircuitState)
	RecordRejection(provider string)
}

type noopMetrics struct{}

func (noopMetrics) RecordSuccess(string)                      {}
func (noopMetrics) RecordFailure(string)                      {}
func (noopMetrics) RecordStateChange(string, CircuitState, CircuitState) {}
func (noopMetrics) RecordRejection(string)                    {}

// ErrorClassifier decides whether an error should count toward the
// breaker's failure threshold. Non-retryable (client) errors must not
// trip the breaker (spec.md §4.F: "only retryable failures increment").
type ErrorClassifier func(error) bool

// DefaultErrorClassifier counts everything acteonerr.IsRetryable reports
// as retryable, plus any error the classifier doesn't otherwise recognize
// as a pure client error.
func DefaultErrorClassifier(err error) bool {
	if err == nil {
		return false
	}
	if acteonerr.IsNotFound(err) || acteonerr.IsConfiguration(err) {
		return false
	}
	return true
}

// Config configures one provider's breaker.
type Config struct {
	Name              string
	FailureThreshold  int           // consecutive failures to trip Open
	SuccessThreshold  int           // consecutive HalfOpen successes to close
	RecoveryTimeout   time.Duration // time in Open before a probe is admitted
	ErrorClassifier   ErrorClassifier
	Logger            logger.Logger
	Metrics           MetricsCollector
}

func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
		ErrorClassifier:  DefaultErrorClassifier,
		Logger:           logger.NoOpLogger{},
		Metrics:          noopMetrics{},
	}
}

// CircuitBreaker is a single provider's Closed/Open/HalfOpen state
// machine, per spec.md §4.F.
type CircuitBreaker struct {
	config Config

	mu              sync.Mutex
	state           CircuitState
	openedAt        time.Time
	consecutiveFail int
	halfOpenSucc    int
	probeInFlight   atomic.Bool
}

func NewCircuitBreaker(config Config) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultErrorClassifier
	}
	if config.Logger == nil {
		config.Logger = logger.NoOpLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = noopMetrics{}
	}
	return &CircuitBreaker{config: config, state: StateClosed}
}

func (cb *CircuitBreaker) Name() string { return cb.config.Name }

// Allow reports whether a request may proceed right now, transitioning
// Open→HalfOpen and claiming the single probe slot as a side effect when
// the recovery timeout has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		// Exactly one probe in flight; everything else is rejected until
		// it resolves.
		return cb.probeInFlight.CompareAndSwap(false, true)
	case StateOpen:
		if time.Since(cb.openedAt) < cb.config.RecoveryTimeout {
			cb.config.Metrics.RecordRejection(cb.config.Name)
			return false
		}
		cb.transition(StateHalfOpen)
		cb.halfOpenSucc = 0
		cb.probeInFlight.Store(true)
		return true
	default:
		return false
	}
}

// RecordResult reports the outcome of a request that Allow let through.
// err should be the classified error causing failure, or nil for success.
func (cb *CircuitBreaker) RecordResult(err error) {
	if cb.config.ErrorClassifier(err) {
		cb.recordFailure()
		return
	}
	if err != nil {
		// Non-retryable error: neither success nor a breaker-relevant
		// failure. HalfOpen still must release its probe slot.
		cb.mu.Lock()
		if cb.state == StateHalfOpen {
			cb.probeInFlight.Store(false)
		}
		cb.mu.Unlock()
		return
	}
	cb.recordSuccess()
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.config.Metrics.RecordSuccess(cb.config.Name)

	switch cb.state {
	case StateClosed:
		cb.consecutiveFail = 0
	case StateHalfOpen:
		cb.probeInFlight.Store(false)
		cb.halfOpenSucc++
		if cb.halfOpenSucc >= cb.config.SuccessThreshold {
			cb.transition(StateClosed)
			cb.consecutiveFail = 0
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.config.Metrics.RecordFailure(cb.config.Name)

	switch cb.state {
	case StateClosed:
		cb.consecutiveFail++
		if cb.consecutiveFail >= cb.config.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.probeInFlight.Store(false)
		cb.transition(StateOpen)
	}
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to == StateOpen {
		cb.openedAt = time.Now()
	}
	cb.config.Metrics.RecordStateChange(cb.config.Name, from, to)
	cb.config.Logger.Info("circuit breaker state change", map[string]interface{}{
		"provider": cb.config.Name, "from": from.String(), "to": to.String(),
	})
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Do runs fn only if Allow() admits it, recording the result against the
// breaker; ctx is accepted for symmetry with the Executor interface and
// future cancellation-aware probes, though the breaker itself doesn't
// block.
func (cb *CircuitBreaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if !cb.Allow() {
		return acteonerr.New("resilience.Do", acteonerr.KindCircuitOpen, acteonerr.ErrCircuitOpen).WithID(cb.config.Name)
	}
	err := fn(ctx)
	cb.RecordResult(err)
	return err
}
