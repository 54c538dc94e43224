package chain_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penserai/acteon/pkg/acteon"
	"github.com/penserai/acteon/pkg/chain"
	"github.com/penserai/acteon/pkg/executor"
	"github.com/penserai/acteon/pkg/lock"
	"github.com/penserai/acteon/pkg/state"
)

type fakeProvider struct {
	fail bool
	resp map[string]interface{}
}

func (p *fakeProvider) Invoke(ctx context.Context, action acteon.Action) (map[string]interface{}, error) {
	if p.fail {
		return nil, assert.AnError
	}
	if p.resp != nil {
		return p.resp, nil
	}
	return map[string]interface{}{"ok": true}, nil
}

func newTestExecutor(t *testing.T, configs []acteon.ChainConfig, providers map[string]executor.Provider) (*chain.Executor, state.Store) {
	t.Helper()
	store := state.NewInMemoryStore()
	lk := lock.NewInMemoryLock()
	exec := executor.NewExecutor(executor.DefaultConfig())
	lookup := func(name string) (executor.Provider, bool) {
		p, ok := providers[name]
		return p, ok
	}
	ex, err := chain.NewExecutor(store, lk, nil, nil, exec, lookup, nil, nil, nil, configs)
	require.NoError(t, err)
	return ex, store
}

func twoStepChain() acteon.ChainConfig {
	return acteon.ChainConfig{
		Name: "refund_flow",
		Steps: []acteon.StepConfig{
			{Name: "charge_reverse", Provider: "billing", ActionType: "reverse"},
			{Name: "notify_customer", Provider: "email", ActionType: "send"},
		},
	}
}

func TestStartCreatesRunningChain(t *testing.T) {
	ex, _ := newTestExecutor(t, []acteon.ChainConfig{twoStepChain()}, map[string]executor.Provider{
		"billing": &fakeProvider{}, "email": &fakeProvider{},
	})
	origin := acteon.Action{Namespace: "ns", Tenant: "t1", ID: "a1"}
	out, err := ex.Start(context.Background(), origin, "refund_flow")
	require.NoError(t, err)
	assert.NotEmpty(t, out.ChainID)
	assert.Equal(t, 2, out.TotalSteps)
	assert.Equal(t, "charge_reverse", out.FirstStep)
}

func TestAdvanceRunsStepsSequentiallyToCompletion(t *testing.T) {
	ex, store := newTestExecutor(t, []acteon.ChainConfig{twoStepChain()}, map[string]executor.Provider{
		"billing": &fakeProvider{}, "email": &fakeProvider{},
	})
	origin := acteon.Action{Namespace: "ns", Tenant: "t1", ID: "a1"}
	out, err := ex.Start(context.Background(), origin, "refund_flow")
	require.NoError(t, err)

	require.NoError(t, ex.Advance(context.Background(), out.ChainID))
	require.NoError(t, ex.Advance(context.Background(), out.ChainID))

	raw, found, err := store.Get(context.Background(), "chain:state:"+out.ChainID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, raw, `"Status":"completed"`)
}

func TestAdvanceAbortsOnStepFailure(t *testing.T) {
	ex, store := newTestExecutor(t, []acteon.ChainConfig{twoStepChain()}, map[string]executor.Provider{
		"billing": &fakeProvider{fail: true}, "email": &fakeProvider{},
	})
	origin := acteon.Action{Namespace: "ns", Tenant: "t1", ID: "a1"}
	out, err := ex.Start(context.Background(), origin, "refund_flow")
	require.NoError(t, err)

	require.NoError(t, ex.Advance(context.Background(), out.ChainID))
	// Re-advance is a no-op once the chain is terminal.
	require.NoError(t, ex.Advance(context.Background(), out.ChainID))

	raw, found, err := store.Get(context.Background(), "chain:state:"+out.ChainID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, raw, `"Status":"failed"`)
}

func TestAdvanceIsIdempotentOnTerminalChain(t *testing.T) {
	ex, _ := newTestExecutor(t, []acteon.ChainConfig{twoStepChain()}, map[string]executor.Provider{
		"billing": &fakeProvider{}, "email": &fakeProvider{},
	})
	origin := acteon.Action{Namespace: "ns", Tenant: "t1", ID: "a1"}
	out, err := ex.Start(context.Background(), origin, "refund_flow")
	require.NoError(t, err)
	require.NoError(t, ex.Advance(context.Background(), out.ChainID))
	require.NoError(t, ex.Advance(context.Background(), out.ChainID))
	// A third advance call on a completed chain must be a harmless no-op.
	require.NoError(t, ex.Advance(context.Background(), out.ChainID))
}

func TestBranchRouting(t *testing.T) {
	cfg := acteon.ChainConfig{
		Name: "branching",
		Steps: []acteon.StepConfig{
			{Name: "check", Provider: "billing", ActionType: "check", Branches: []acteon.BranchCondition{
				{Field: "success", Operator: acteon.BranchEq, Value: true, Target: "happy"},
			}, DefaultNext: "sad"},
			{Name: "happy", Provider: "email", ActionType: "send"},
			{Name: "sad", Provider: "email", ActionType: "send_apology"},
		},
	}
	ex, store := newTestExecutor(t, []acteon.ChainConfig{cfg}, map[string]executor.Provider{
		"billing": &fakeProvider{}, "email": &fakeProvider{},
	})
	origin := acteon.Action{Namespace: "ns", Tenant: "t1", ID: "a1"}
	out, err := ex.Start(context.Background(), origin, "branching")
	require.NoError(t, err)

	require.NoError(t, ex.Advance(context.Background(), out.ChainID))

	raw, found, err := store.Get(context.Background(), "chain:state:"+out.ChainID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, raw, `"happy"`)
}

func TestCancelMarksChainCancelled(t *testing.T) {
	ex, store := newTestExecutor(t, []acteon.ChainConfig{twoStepChain()}, map[string]executor.Provider{
		"billing": &fakeProvider{}, "email": &fakeProvider{},
	})
	origin := acteon.Action{Namespace: "ns", Tenant: "t1", ID: "a1"}
	out, err := ex.Start(context.Background(), origin, "refund_flow")
	require.NoError(t, err)

	require.NoError(t, ex.Cancel(context.Background(), out.ChainID, "operator request", "alice"))

	raw, found, err := store.Get(context.Background(), "chain:state:"+out.ChainID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, raw, `"cancelled"`)
}

func TestDlqStepPushesEntryAndFailsChain(t *testing.T) {
	cfg := acteon.ChainConfig{
		Name: "with_dlq",
		Steps: []acteon.StepConfig{
			{Name: "charge", Provider: "billing", ActionType: "charge", OnFailure: acteon.StepOnFailureDlq},
		},
	}
	store := state.NewInMemoryStore()
	lk := lock.NewInMemoryLock()
	exec := executor.NewExecutor(executor.DefaultConfig())
	dlq := chain.NewInMemoryDLQ()
	lookup := func(name string) (executor.Provider, bool) {
		if name == "billing" {
			return &fakeProvider{fail: true}, true
		}
		return nil, false
	}
	ex, err := chain.NewExecutor(store, lk, nil, nil, exec, lookup, dlq, nil, nil, []acteon.ChainConfig{cfg})
	require.NoError(t, err)

	origin := acteon.Action{Namespace: "ns", Tenant: "t1", ID: "a1"}
	out, err := ex.Start(context.Background(), origin, "with_dlq")
	require.NoError(t, err)
	require.NoError(t, ex.Advance(context.Background(), out.ChainID))

	entries := dlq.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "charge", entries[0].StepName)

	raw, found, err := store.Get(context.Background(), "chain:state:"+out.ChainID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, raw, `"Status":"failed"`)
}

func TestSkipOnFailureAdvancesPastFailedStep(t *testing.T) {
	cfg := acteon.ChainConfig{
		Name: "skip_flow",
		Steps: []acteon.StepConfig{
			{Name: "best_effort_notify", Provider: "slack", ActionType: "send", OnFailure: acteon.StepOnFailureSkip},
			{Name: "finalize", Provider: "email", ActionType: "send"},
		},
	}
	ex, store := newTestExecutor(t, []acteon.ChainConfig{cfg}, map[string]executor.Provider{
		"slack": &fakeProvider{fail: true}, "email": &fakeProvider{},
	})
	origin := acteon.Action{Namespace: "ns", Tenant: "t1", ID: "a1"}
	out, err := ex.Start(context.Background(), origin, "skip_flow")
	require.NoError(t, err)

	require.NoError(t, ex.Advance(context.Background(), out.ChainID))
	require.NoError(t, ex.Advance(context.Background(), out.ChainID))

	raw, found, err := store.Get(context.Background(), "chain:state:"+out.ChainID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, raw, `"Status":"completed"`)
}

func TestSubChainPausesParentUntilResumed(t *testing.T) {
	parent := acteon.ChainConfig{
		Name: "parent_flow",
		Steps: []acteon.StepConfig{
			{Name: "delegate", SubChain: "child_flow"},
		},
	}
	childCfg := acteon.ChainConfig{
		Name: "child_flow",
		Steps: []acteon.StepConfig{
			{Name: "do_refund", Provider: "billing", ActionType: "refund"},
		},
	}
	ex, store := newTestExecutor(t, []acteon.ChainConfig{parent, childCfg}, map[string]executor.Provider{
		"billing": &fakeProvider{},
	})
	origin := acteon.Action{Namespace: "ns", Tenant: "t1", ID: "a1"}
	out, err := ex.Start(context.Background(), origin, "parent_flow")
	require.NoError(t, err)

	require.NoError(t, ex.Advance(context.Background(), out.ChainID))

	raw, found, err := store.Get(context.Background(), "chain:state:"+out.ChainID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, raw, `"waiting_sub_chain"`)

	var parentState acteon.ChainState
	require.NoError(t, json.Unmarshal([]byte(raw), &parentState))
	require.Len(t, parentState.ChildChainIDs, 1)
	childID := parentState.ChildChainIDs[0]

	require.NoError(t, ex.Advance(context.Background(), childID))

	childRaw, found, err := store.Get(context.Background(), "chain:state:"+childID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, childRaw, `"completed"`)

	require.NoError(t, ex.ResumeFromSubChain(context.Background(), childID))

	parentRaw, found, err := store.Get(context.Background(), "chain:state:"+out.ChainID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, parentRaw, `"completed"`)
}

func TestValidateConfigRejectsEmptyChain(t *testing.T) {
	err := chain.ValidateConfig(acteon.ChainConfig{Name: "empty"})
	assert.Error(t, err)
}

func TestValidateConfigRejectsUnknownBranchTarget(t *testing.T) {
	cfg := acteon.ChainConfig{
		Name: "bad",
		Steps: []acteon.StepConfig{
			{Name: "a", Provider: "p", ActionType: "t", Branches: []acteon.BranchCondition{
				{Field: "success", Operator: acteon.BranchEq, Value: true, Target: "nonexistent"},
			}},
		},
	}
	assert.Error(t, chain.ValidateConfig(cfg))
}

func TestValidateGraphDetectsSubChainCycle(t *testing.T) {
	configs := map[string]acteon.ChainConfig{
		"a": {Name: "a", Steps: []acteon.StepConfig{{Name: "s1", SubChain: "b"}}},
		"b": {Name: "b", Steps: []acteon.StepConfig{{Name: "s1", SubChain: "a"}}},
	}
	assert.Error(t, chain.ValidateGraph(configs))
}

func TestParallelAllJoinRequiresEverySubStep(t *testing.T) {
	cfg := acteon.ChainConfig{
		Name: "fanout",
		Steps: []acteon.StepConfig{
			{Name: "notify_all", Parallel: &acteon.ParallelGroup{
				Steps: []acteon.StepConfig{
					{Name: "slack", Provider: "slack", ActionType: "send"},
					{Name: "email", Provider: "email", ActionType: "send"},
				},
				Join: acteon.ParallelJoinAll, OnFailure: acteon.ParallelBestEffort, MaxConcurrency: 2,
			}},
		},
	}
	ex, store := newTestExecutor(t, []acteon.ChainConfig{cfg}, map[string]executor.Provider{
		"slack": &fakeProvider{}, "email": &fakeProvider{},
	})
	origin := acteon.Action{Namespace: "ns", Tenant: "t1", ID: "a1"}
	out, err := ex.Start(context.Background(), origin, "fanout")
	require.NoError(t, err)
	require.NoError(t, ex.Advance(context.Background(), out.ChainID))

	raw, found, err := store.Get(context.Background(), "chain:state:"+out.ChainID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, raw, `"completed"`)
}
