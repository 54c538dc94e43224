package gateway_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penserai/acteon/pkg/acteon"
	"github.com/penserai/acteon/pkg/audit"
	"github.com/penserai/acteon/pkg/chain"
	"github.com/penserai/acteon/pkg/dispatch"
	"github.com/penserai/acteon/pkg/executor"
	"github.com/penserai/acteon/pkg/gateway"
	"github.com/penserai/acteon/pkg/lock"
	"github.com/penserai/acteon/pkg/rules"
	"github.com/penserai/acteon/pkg/state"
	"github.com/penserai/acteon/pkg/stream"
	"github.com/penserai/acteon/pkg/tasktracker"
)

type fakeProvider struct{}

func (fakeProvider) Invoke(ctx context.Context, action acteon.Action) (map[string]interface{}, error) {
	return map[string]interface{}{"ok": true}, nil
}

func allowRule() acteon.Rule {
	return acteon.Rule{
		Name: "allow-all", Enabled: true, Priority: 1,
		Condition: rules.Lit{V: rules.Bool(true)},
		Action:    acteon.RuleAction{Kind: acteon.RuleActionAllow},
	}
}

func newTestGateway(t *testing.T) *gateway.Gateway {
	t.Helper()
	store := state.NewInMemoryStore()
	lk := lock.NewInMemoryLock()
	engine := rules.NewRuleEngine([]acteon.Rule{allowRule()})
	exec := executor.NewExecutor(executor.DefaultConfig())
	lookup := func(name string) (executor.Provider, bool) { return fakeProvider{}, name == "pagerduty" }
	auditStore := audit.NewInMemoryStore(true)
	bus := stream.New(16)
	tracker := tasktracker.New(nil)

	d := dispatch.New(
		dispatch.DefaultConfig(), store, lk, nil, engine, nil, exec, lookup,
		nil, nil, nil, nil,
		auditStore, bus, tracker,
		nil, dispatch.PolicyResolver{}, nil,
	)
	dlq := chain.NewInMemoryDLQ()
	return gateway.New(d, dlq, nil)
}

func TestGatewayDispatchDelegatesToDispatcher(t *testing.T) {
	gw := newTestGateway(t)
	action := acteon.Action{ID: "a1", Namespace: "ns", Tenant: "t1", Provider: "pagerduty", ActionType: "incident.created"}

	out, err := gw.Dispatch(context.Background(), action, "tester")
	require.NoError(t, err)
	require.NotNil(t, out)
}

func TestGatewayDispatchBatchCollectsPerActionResults(t *testing.T) {
	gw := newTestGateway(t)
	actions := []acteon.Action{
		{ID: "a1", Namespace: "ns", Tenant: "t1", Provider: "pagerduty", ActionType: "incident.created"},
		{ID: "a2", Namespace: "ns", Tenant: "t1", Provider: "pagerduty", ActionType: "incident.created"},
	}

	results := gw.DispatchBatch(context.Background(), actions, "tester")
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}
}

func TestGatewayDLQReflectsUnderlyingSink(t *testing.T) {
	dlq := chain.NewInMemoryDLQ()
	gw := gateway.New(nil, dlq, nil)

	assert.True(t, gw.DLQIsEmpty())
	assert.Equal(t, 0, gw.DLQLen())

	require.NoError(t, dlq.Push(context.Background(), acteon.DeadLetterEntry{ChainID: "c1", StepName: "s1"}))
	assert.False(t, gw.DLQIsEmpty())
	assert.Equal(t, 1, gw.DLQLen())

	drained := gw.DLQDrain()
	require.Len(t, drained, 1)
	assert.True(t, gw.DLQIsEmpty())
}

func TestGatewayDLQNilSinkReportsEmpty(t *testing.T) {
	gw := gateway.New(nil, nil, nil)
	assert.True(t, gw.DLQIsEmpty())
	assert.Equal(t, 0, gw.DLQLen())
	assert.Nil(t, gw.DLQDrain())
}

func TestGatewayShutdownClosesTracker(t *testing.T) {
	gw := newTestGateway(t)
	assert.NoError(t, gw.Shutdown(context.Background()))
}
