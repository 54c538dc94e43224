package executor_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penserai/acteon/pkg/acteon"
	"github.com/penserai/acteon/pkg/executor"
)

type fakeProvider struct {
	calls      atomic.Int32
	failTimes  int32
	permanent  bool
	panicOnce  bool
	panicked   atomic.Bool
}

func (p *fakeProvider) Invoke(ctx context.Context, action acteon.Action) (map[string]interface{}, error) {
	n := p.calls.Add(1)
	if p.panicOnce && n == 1 && !p.panicked.Load() {
		p.panicked.Store(true)
		panic("boom")
	}
	if p.permanent {
		return nil, errors.New("permanently broken")
	}
	if n <= p.failTimes {
		return nil, errors.New("transient failure")
	}
	return map[string]interface{}{"ok": true}, nil
}

func fastConfig() executor.Config {
	cfg := executor.DefaultConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.PerAttemptTimeout = time.Second
	return cfg
}

func TestExecuteSucceedsOnFirstTry(t *testing.T) {
	p := &fakeProvider{}
	e := executor.NewExecutor(fastConfig())
	outcome := e.Execute(context.Background(), p, acteon.Action{Provider: "pagerduty"})
	executed, ok := outcome.(acteon.ExecutedOutcome)
	require.True(t, ok)
	assert.Equal(t, true, executed.Response["ok"])
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	p := &fakeProvider{failTimes: 2}
	cfg := fastConfig()
	cfg.MaxRetries = 3
	e := executor.NewExecutor(cfg)
	outcome := e.Execute(context.Background(), p, acteon.Action{Provider: "pagerduty"})
	_, ok := outcome.(acteon.ExecutedOutcome)
	require.True(t, ok, "should succeed within MaxRetries")
	assert.Equal(t, int32(3), p.calls.Load())
}

func TestExecuteFailsAfterMaxRetries(t *testing.T) {
	p := &fakeProvider{permanent: true}
	cfg := fastConfig()
	cfg.MaxRetries = 2
	e := executor.NewExecutor(cfg)
	outcome := e.Execute(context.Background(), p, acteon.Action{Provider: "pagerduty"})
	failed, ok := outcome.(acteon.FailedOutcome)
	require.True(t, ok)
	assert.Equal(t, 3, failed.Error.Attempts)
}

func TestExecuteRecoversFromProviderPanic(t *testing.T) {
	p := &fakeProvider{panicOnce: true}
	cfg := fastConfig()
	cfg.MaxRetries = 2
	e := executor.NewExecutor(cfg)
	outcome := e.Execute(context.Background(), p, acteon.Action{Provider: "pagerduty"})
	_, ok := outcome.(acteon.ExecutedOutcome)
	assert.True(t, ok, "a panic on one attempt must not crash the executor, and the retry should succeed")
}

func TestExecuteBatchRunsConcurrentlyAndPreservesOrder(t *testing.T) {
	e := executor.NewExecutor(fastConfig())
	items := make([]struct {
		Provider executor.Provider
		Action   acteon.Action
	}, 5)
	for i := range items {
		items[i].Provider = &fakeProvider{}
		items[i].Action = acteon.Action{ID: string(rune('a' + i)), Provider: "pagerduty"}
	}

	results := e.ExecuteBatch(context.Background(), items)
	require.Len(t, results, 5)
	for i, r := range results {
		assert.Equal(t, items[i].Action.ID, r.Action.ID)
		_, ok := r.Outcome.(acteon.ExecutedOutcome)
		assert.True(t, ok)
	}
}
