package rules_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penserai/acteon/pkg/acteon"
	"github.com/penserai/acteon/pkg/rules"
	"github.com/penserai/acteon/pkg/state"
)

func severityField() rules.Expr {
	return rules.Field{Base: rules.Field{Base: rules.Ident{Name: "action"}, Name: "payload"}, Name: "severity"}
}

func TestRuleEngineFirstMatchWins(t *testing.T) {
	denyRule := acteon.Rule{
		Name: "deny-critical", Enabled: true, Priority: 10,
		Condition: rules.Binary{Op: rules.OpEq, L: severityField(), R: rules.Lit{V: rules.String("critical")}},
		Action:    acteon.RuleAction{Kind: acteon.RuleActionDeny},
	}
	allowRule := acteon.Rule{
		Name: "allow-all", Enabled: true, Priority: 20,
		Condition: rules.Lit{V: rules.Bool(true)},
		Action:    acteon.RuleAction{Kind: acteon.RuleActionAllow},
	}
	engine := rules.NewRuleEngine([]acteon.Rule{allowRule, denyRule})
	ec := rules.NewEvalContext(context.Background(), testAction(), state.NewInMemoryStore(), nil)

	v, err := engine.Evaluate(ec)
	require.NoError(t, err)
	deny, ok := v.(acteon.DenyVerdict)
	require.True(t, ok, "lower-priority rule must win even though it is listed second")
	assert.Equal(t, "deny-critical", deny.Rule)
}

func TestRuleEngineDefaultsToAllowWhenNoRuleMatches(t *testing.T) {
	rule := acteon.Rule{
		Name: "never", Enabled: true, Priority: 1,
		Condition: rules.Lit{V: rules.Bool(false)},
		Action:    acteon.RuleAction{Kind: acteon.RuleActionDeny},
	}
	engine := rules.NewRuleEngine([]acteon.Rule{rule})
	ec := rules.NewEvalContext(context.Background(), testAction(), state.NewInMemoryStore(), nil)

	v, err := engine.Evaluate(ec)
	require.NoError(t, err)
	_, ok := v.(acteon.AllowVerdict)
	assert.True(t, ok)
}

func TestRuleEngineSkipsDisabledRules(t *testing.T) {
	disabled := acteon.Rule{
		Name: "disabled-deny", Enabled: false, Priority: 1,
		Condition: rules.Lit{V: rules.Bool(true)},
		Action:    acteon.RuleAction{Kind: acteon.RuleActionDeny},
	}
	engine := rules.NewRuleEngine([]acteon.Rule{disabled})
	ec := rules.NewEvalContext(context.Background(), testAction(), state.NewInMemoryStore(), nil)

	v, err := engine.Evaluate(ec)
	require.NoError(t, err)
	_, ok := v.(acteon.AllowVerdict)
	assert.True(t, ok)
}

func TestRuleEngineErrorInOneRuleDoesNotAbortWalk(t *testing.T) {
	broken := acteon.Rule{
		Name: "broken", Enabled: true, Priority: 1,
		Condition: rules.Ident{Name: "nonexistent_ident"},
		Action:    acteon.RuleAction{Kind: acteon.RuleActionDeny},
	}
	fallback := acteon.Rule{
		Name: "fallback-allow", Enabled: true, Priority: 2,
		Condition: rules.Lit{V: rules.Bool(true)},
		Action:    acteon.RuleAction{Kind: acteon.RuleActionAllow},
	}
	engine := rules.NewRuleEngine([]acteon.Rule{broken, fallback})
	ec := rules.NewEvalContext(context.Background(), testAction(), state.NewInMemoryStore(), nil)

	v, err := engine.Evaluate(ec)
	require.NoError(t, err)
	allow, ok := v.(acteon.AllowVerdict)
	require.True(t, ok)
	assert.Equal(t, "fallback-allow", allow.Rule)
}

func TestEvaluateWithTraceRecordsEveryRule(t *testing.T) {
	r1 := acteon.Rule{Name: "r1", Enabled: true, Priority: 1, Condition: rules.Lit{V: rules.Bool(false)}, Action: acteon.RuleAction{Kind: acteon.RuleActionDeny}}
	r2 := acteon.Rule{Name: "r2", Enabled: true, Priority: 2, Condition: rules.Lit{V: rules.Bool(true)}, Action: acteon.RuleAction{Kind: acteon.RuleActionAllow}}
	r3 := acteon.Rule{Name: "r3", Enabled: false, Priority: 3, Condition: rules.Lit{V: rules.Bool(true)}, Action: acteon.RuleAction{Kind: acteon.RuleActionDeny}}
	engine := rules.NewRuleEngine([]acteon.Rule{r1, r2, r3})
	ec := rules.NewEvalContext(context.Background(), testAction(), state.NewInMemoryStore(), nil)

	v, trace := engine.EvaluateWithTrace(ec)
	require.Len(t, trace, 3)
	assert.Equal(t, rules.TraceNotMatched, trace[0].Status)
	assert.Equal(t, rules.TraceMatched, trace[1].Status)
	assert.Equal(t, rules.TraceSkippedDisabled, trace[2].Status)
	_, ok := v.(acteon.AllowVerdict)
	assert.True(t, ok)
}

func TestRulesVersionChangesWithRuleSet(t *testing.T) {
	r1 := acteon.Rule{Name: "r1", Version: 1, Enabled: true}
	v1 := rules.RulesVersion([]acteon.Rule{r1})

	r1Updated := acteon.Rule{Name: "r1", Version: 2, Enabled: true}
	v2 := rules.RulesVersion([]acteon.Rule{r1Updated})

	assert.NotEqual(t, v1, v2)

	v1Again := rules.RulesVersion([]acteon.Rule{r1})
	assert.Equal(t, v1, v1Again, "fingerprint must be deterministic for the same rule set")
}

func TestRulesVersionIsOrderIndependent(t *testing.T) {
	r1 := acteon.Rule{Name: "a", Version: 1, Enabled: true}
	r2 := acteon.Rule{Name: "b", Version: 1, Enabled: true}
	v1 := rules.RulesVersion([]acteon.Rule{r1, r2})
	v2 := rules.RulesVersion([]acteon.Rule{r2, r1})
	assert.Equal(t, v1, v2)
}
