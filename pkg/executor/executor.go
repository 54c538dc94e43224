// Package executor implements the Action Executor (spec.md §4.G): bounded
// concurrency, per-attempt timeout, and retry-with-backoff around a
// pluggable Provider invocation. Retry/backoff is adapted from the
// teacher's resilience.Retry; bounded fan-out for batch execution is
// adapted from orchestration.WorkflowExecutor.BatchCall's panic-safe
// indexed-goroutine pattern.
package executor

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	"github.com/penserai/acteon/pkg/acteon"
	"github.com/penserai/acteon/pkg/acteonerr"
	"github.com/penserai/acteon/pkg/logger"
)

// Provider invokes one action against a concrete downstream integration
// (PagerDuty, Slack, a webhook, ...). Implementations live outside this
// module (spec.md §6); err should wrap acteonerr sentinels, or implement
// RetryableError, so the executor can classify it correctly.
type Provider interface {
	Invoke(ctx context.Context, action acteon.Action) (map[string]interface{}, error)
}

// RetryableError lets a Provider mark an error as retryable/non-retryable
// explicitly; errors that don't implement it are treated as retryable
// (network/timeout-shaped failures are the common case) unless they wrap
// an acteonerr configuration or not-found error.
type RetryableError interface {
	error
	Retryable() bool
}

// Config configures one Executor instance.
type Config struct {
	MaxConcurrency  int
	MaxRetries      int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BackoffFactor   float64
	PerAttemptTimeout time.Duration
	Logger          logger.Logger
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrency:    50,
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffFactor:     2.0,
		PerAttemptTimeout: 10 * time.Second,
		Logger:            logger.NoOpLogger{},
	}
}

// Executor runs a Provider invocation under the configured bounds.
type Executor struct {
	config Config
	sem    chan struct{}
	logger logger.Logger
}

func NewExecutor(config Config) *Executor {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 50
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 100 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 5 * time.Second
	}
	if config.BackoffFactor <= 0 {
		config.BackoffFactor = 2.0
	}
	if config.PerAttemptTimeout <= 0 {
		config.PerAttemptTimeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = logger.NoOpLogger{}
	}
	return &Executor{
		config: config,
		sem:    make(chan struct{}, config.MaxConcurrency),
		logger: config.Logger,
	}
}

// Execute runs provider.Invoke(action), retrying retryable failures with
// exponential backoff up to MaxRetries, bounded to MaxConcurrency
// in-flight invocations across the whole Executor.
func (e *Executor) Execute(ctx context.Context, provider Provider, action acteon.Action) acteon.Outcome {
	e.sem <- struct{}{}
	defer func() { <-e.sem }()

	var lastErr error
	delay := e.config.InitialBackoff

	for attempt := 1; attempt <= e.config.MaxRetries+1; attempt++ {
		select {
		case <-ctx.Done():
			return acteon.FailedOutcome{Error: acteon.ActionError{
				Code: "context_canceled", Message: ctx.Err().Error(), Retryable: false, Attempts: attempt - 1,
			}}
		default:
		}

		response, err := e.invokeOnce(ctx, provider, action)
		if err == nil {
			return acteon.ExecutedOutcome{Response: response}
		}
		lastErr = err

		if !isRetryable(err) || attempt > e.config.MaxRetries {
			return acteon.FailedOutcome{Error: acteon.ActionError{
				Code: "provider_error", Message: err.Error(), Retryable: isRetryable(err), Attempts: attempt,
			}}
		}

		e.logger.Warn("provider invocation failed, retrying", map[string]interface{}{
			"provider": action.Provider, "attempt": attempt, "error": err.Error(),
		})

		jitter := time.Duration(float64(delay) * 0.1 * math.Sin(float64(attempt)))
		sleepFor := delay + jitter
		timer := time.NewTimer(sleepFor)
		select {
		case <-ctx.Done():
			timer.Stop()
			return acteon.FailedOutcome{Error: acteon.ActionError{
				Code: "context_canceled", Message: ctx.Err().Error(), Retryable: false, Attempts: attempt,
			}}
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * e.config.BackoffFactor)
		if delay > e.config.MaxBackoff {
			delay = e.config.MaxBackoff
		}
	}

	return acteon.FailedOutcome{Error: acteon.ActionError{
		Code: "max_retries_exceeded", Message: fmt.Sprintf("%v", lastErr), Retryable: true, Attempts: e.config.MaxRetries + 1,
	}}
}

func (e *Executor) invokeOnce(ctx context.Context, provider Provider, action acteon.Action) (resp map[string]interface{}, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.config.PerAttemptTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider %s panicked: %v\n%s", action.Provider, r, debug.Stack())
		}
	}()

	return provider.Invoke(attemptCtx, action)
}

// isRetryable defaults to "retryable" (network/timeout-shaped failures are
// the common case) unless the error explicitly opts out via
// RetryableError or is a recognized client/configuration error.
func isRetryable(err error) bool {
	if re, ok := err.(RetryableError); ok {
		return re.Retryable()
	}
	if acteonerr.IsConfiguration(err) || acteonerr.IsNotFound(err) {
		return false
	}
	return true
}

// BatchResult pairs one action with its Outcome for ExecuteBatch.
type BatchResult struct {
	Action  acteon.Action
	Outcome acteon.Outcome
}

// ExecuteBatch runs Execute for every (provider, action) pair concurrently
// (bounded by the same semaphore as single Execute calls) and returns
// results in the input order.
func (e *Executor) ExecuteBatch(ctx context.Context, items []struct {
	Provider Provider
	Action   acteon.Action
}) []BatchResult {
	results := make([]BatchResult, len(items))
	done := make(chan int, len(items))

	for i, item := range items {
		go func(idx int, provider Provider, action acteon.Action) {
			defer func() { done <- idx }()
			results[idx] = BatchResult{Action: action, Outcome: e.Execute(ctx, provider, action)}
		}(i, item.Provider, item.Action)
	}
	for range items {
		<-done
	}
	return results
}
