package rules_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penserai/acteon/pkg/acteon"
	"github.com/penserai/acteon/pkg/rules"
	"github.com/penserai/acteon/pkg/state"
)

func testAction() acteon.Action {
	return acteon.Action{
		ID:         "action-1",
		Namespace:  "ns",
		Tenant:     "tenant",
		Provider:   "pagerduty",
		ActionType: "alert.created",
		Payload: map[string]interface{}{
			"severity": "critical",
			"text":     "database is down",
		},
		Metadata: map[string]string{"region": "us-east-1"},
	}
}

func newCtx(t *testing.T, store *state.InMemoryStore) *rules.EvalContext {
	t.Helper()
	if store == nil {
		store = state.NewInMemoryStore()
	}
	return rules.NewEvalContext(context.Background(), testAction(), store, map[string]interface{}{"threshold": 5})
}

func TestFieldAccessReadsActionPayload(t *testing.T) {
	ec := newCtx(t, nil)
	expr := rules.Field{Base: rules.Field{Base: rules.Ident{Name: "action"}, Name: "payload"}, Name: "severity"}
	v, err := expr.Eval(ec)
	require.NoError(t, err)
	assert.Equal(t, "critical", v.S)
}

func TestFieldAccessMissingKeyIsNullNotError(t *testing.T) {
	ec := newCtx(t, nil)
	expr := rules.Field{Base: rules.Field{Base: rules.Ident{Name: "action"}, Name: "payload"}, Name: "nonexistent"}
	v, err := expr.Eval(ec)
	require.NoError(t, err)
	assert.Equal(t, rules.KindNull, v.Kind)
}

func TestBinaryEqOnFields(t *testing.T) {
	ec := newCtx(t, nil)
	expr := rules.Binary{
		Op: rules.OpEq,
		L:  rules.Field{Base: rules.Field{Base: rules.Ident{Name: "action"}, Name: "payload"}, Name: "severity"},
		R:  rules.Lit{V: rules.String("critical")},
	}
	v, err := expr.Eval(ec)
	require.NoError(t, err)
	assert.True(t, v.Truthy())
}

func TestAndShortCircuitsWithoutEvaluatingRight(t *testing.T) {
	ec := newCtx(t, nil)
	// Ident("missing") would error if evaluated; And must skip it once the
	// left side is false.
	expr := rules.Binary{
		Op: rules.OpAnd,
		L:  rules.Lit{V: rules.Bool(false)},
		R:  rules.Ident{Name: "missing"},
	}
	v, err := expr.Eval(ec)
	require.NoError(t, err)
	assert.False(t, v.Truthy())
}

func TestOrShortCircuits(t *testing.T) {
	ec := newCtx(t, nil)
	expr := rules.Binary{
		Op: rules.OpOr,
		L:  rules.Lit{V: rules.Bool(true)},
		R:  rules.Ident{Name: "missing"},
	}
	v, err := expr.Eval(ec)
	require.NoError(t, err)
	assert.True(t, v.Truthy())
}

func TestDivisionByZeroErrors(t *testing.T) {
	ec := newCtx(t, nil)
	expr := rules.Binary{Op: rules.OpDiv, L: rules.Lit{V: rules.Int(1)}, R: rules.Lit{V: rules.Int(0)}}
	_, err := expr.Eval(ec)
	assert.Error(t, err)
}

func TestContainsIsSubstringOnly(t *testing.T) {
	ec := newCtx(t, nil)
	expr := rules.Binary{Op: rules.OpContains, L: rules.Lit{V: rules.String("database is down")}, R: rules.Lit{V: rules.String("down")}}
	v, err := expr.Eval(ec)
	require.NoError(t, err)
	assert.True(t, v.Truthy())
}

func TestInListMembership(t *testing.T) {
	ec := newCtx(t, nil)
	expr := rules.Binary{
		Op: rules.OpIn,
		L:  rules.Lit{V: rules.String("critical")},
		R:  rules.ListLit{Items: []rules.Expr{rules.Lit{V: rules.String("warning")}, rules.Lit{V: rules.String("critical")}}},
	}
	v, err := expr.Eval(ec)
	require.NoError(t, err)
	assert.True(t, v.Truthy())
}

func TestTimeMapShape(t *testing.T) {
	ec := newCtx(t, nil)
	ec.Now = func() time.Time { return time.Date(2026, 7, 31, 14, 30, 0, 0, time.UTC) }
	expr := rules.Field{Base: rules.Ident{Name: "time"}, Name: "hour"}
	v, err := expr.Eval(ec)
	require.NoError(t, err)
	assert.Equal(t, int64(14), v.I)
}

func TestStateTimeSinceMissingKeyIsMaxInt(t *testing.T) {
	ec := newCtx(t, nil)
	expr := rules.StateTimeSince{ID: rules.Lit{V: rules.String("never-seen")}}
	v, err := expr.Eval(ec)
	require.NoError(t, err)
	assert.Equal(t, int64(9223372036854775807), v.I)
}

func TestStateCounterDefaultsToZero(t *testing.T) {
	ec := newCtx(t, nil)
	expr := rules.StateCounter{ID: rules.Lit{V: rules.String("missing-counter")}}
	v, err := expr.Eval(ec)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.I)
}

func TestAllAndAnyVariadic(t *testing.T) {
	ec := newCtx(t, nil)
	all := rules.All{Exprs: []rules.Expr{rules.Lit{V: rules.Bool(true)}, rules.Lit{V: rules.Bool(true)}}}
	v, err := all.Eval(ec)
	require.NoError(t, err)
	assert.True(t, v.Truthy())

	any := rules.Any{Exprs: []rules.Expr{rules.Lit{V: rules.Bool(false)}, rules.Lit{V: rules.Bool(true)}}}
	v, err = any.Eval(ec)
	require.NoError(t, err)
	assert.True(t, v.Truthy())
}

func TestTernary(t *testing.T) {
	ec := newCtx(t, nil)
	expr := rules.Ternary{
		Cond: rules.Lit{V: rules.Bool(true)},
		Then: rules.Lit{V: rules.String("yes")},
		Else: rules.Lit{V: rules.String("no")},
	}
	v, err := expr.Eval(ec)
	require.NoError(t, err)
	assert.Equal(t, "yes", v.S)
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	if text == "database is down" || text == "outage" {
		return []float64{1, 0}, nil
	}
	return []float64{0, 1}, nil
}

func TestSemanticMatchUsesCosineSimilarity(t *testing.T) {
	ec := newCtx(t, nil)
	ec.Embedding = fakeEmbedder{}
	expr := rules.SemanticMatch{
		Topic:     rules.Lit{V: rules.String("outage")},
		Threshold: rules.Lit{V: rules.Float(0.9)},
	}
	v, err := expr.Eval(ec)
	require.NoError(t, err)
	assert.True(t, v.Truthy())
}

func TestSemanticMatchWithoutProviderErrors(t *testing.T) {
	ec := newCtx(t, nil)
	expr := rules.SemanticMatch{Topic: rules.Lit{V: rules.String("x")}, Threshold: rules.Lit{V: rules.Float(0.5)}}
	_, err := expr.Eval(ec)
	assert.Error(t, err)
}
