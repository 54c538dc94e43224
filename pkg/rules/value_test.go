package rules_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/penserai/acteon/pkg/rules"
)

func TestValueTruthy(t *testing.T) {
	assert.False(t, rules.Null().Truthy())
	assert.False(t, rules.Int(0).Truthy())
	assert.True(t, rules.Int(1).Truthy())
	assert.False(t, rules.String("").Truthy())
	assert.True(t, rules.String("x").Truthy())
	assert.False(t, rules.List(nil).Truthy())
	assert.True(t, rules.List([]rules.Value{rules.Bool(false)}).Truthy())
}

func TestFromAnyPromotesIntegralFloats(t *testing.T) {
	v := rules.FromAny(float64(3))
	assert.Equal(t, rules.KindInt, v.Kind)
	assert.Equal(t, int64(3), v.I)

	v2 := rules.FromAny(float64(3.5))
	assert.Equal(t, rules.KindFloat, v2.Kind)
}

func TestEqualCrossesIntFloat(t *testing.T) {
	assert.True(t, rules.Equal(rules.Int(2), rules.Float(2.0)))
	assert.False(t, rules.Equal(rules.Int(2), rules.String("2")))
}
