// Package rules implements the gateway's typed expression language and
// rule engine (spec.md §4.C/§4.D). There is no teacher equivalent for the
// expression tree itself; it is grounded on the teacher's general
// conventions (constructor shape, doc-comment density) and
// on original_source/crates/rules/rules/src/engine/executor.rs for exact
// evaluation semantics.
package rules

import (
	"fmt"
	"strings"
)

// ValueKind tags which field of Value is populated.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
)

// Value is the expression evaluator's runtime value domain: Null, Bool,
// Int, Float, String, List, or Map.
type Value struct {
	Kind ValueKind
	B    bool
	I    int64
	F    float64
	S    string
	L    []Value
	M    map[string]Value
}

func Null() Value               { return Value{Kind: KindNull} }
func Bool(b bool) Value         { return Value{Kind: KindBool, B: b} }
func Int(i int64) Value         { return Value{Kind: KindInt, I: i} }
func Float(f float64) Value     { return Value{Kind: KindFloat, F: f} }
func String(s string) Value     { return Value{Kind: KindString, S: s} }
func List(l []Value) Value      { return Value{Kind: KindList, L: l} }
func Map(m map[string]Value) Value { return Value{Kind: KindMap, M: m} }

// FromAny converts a loosely-typed Go value (as decoded from JSON-like
// payload/metadata maps) into a Value.
func FromAny(v interface{}) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(x)
	case int:
		return Int(int64(x))
	case int64:
		return Int(x)
	case float64:
		// JSON numbers decode as float64; keep integral values as Int so
		// StateCounter-style comparisons behave naturally.
		if x == float64(int64(x)) {
			return Int(int64(x))
		}
		return Float(x)
	case float32:
		return Float(float64(x))
	case string:
		return String(x)
	case []interface{}:
		l := make([]Value, len(x))
		for i, e := range x {
			l[i] = FromAny(e)
		}
		return List(l)
	case []Value:
		return List(x)
	case map[string]interface{}:
		m := make(map[string]Value, len(x))
		for k, e := range x {
			m[k] = FromAny(e)
		}
		return Map(m)
	case map[string]string:
		m := make(map[string]Value, len(x))
		for k, e := range x {
			m[k] = String(e)
		}
		return Map(m)
	case Value:
		return x
	default:
		return String(fmt.Sprintf("%v", x))
	}
}

// Truthy implements the spec's truthiness rule: non-zero numbers,
// non-empty strings/lists/maps, and true are truthy; null/0/""/empty
// containers are falsy.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindNull:
		return false
	case KindBool:
		return v.B
	case KindInt:
		return v.I != 0
	case KindFloat:
		return v.F != 0
	case KindString:
		return v.S != ""
	case KindList:
		return len(v.L) > 0
	case KindMap:
		return len(v.M) > 0
	default:
		return false
	}
}

func (v Value) IsNumeric() bool { return v.Kind == KindInt || v.Kind == KindFloat }

func (v Value) AsFloat() float64 {
	if v.Kind == KindInt {
		return float64(v.I)
	}
	return v.F
}

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%v", v.B)
	case KindInt:
		return fmt.Sprintf("%d", v.I)
	case KindFloat:
		return fmt.Sprintf("%v", v.F)
	case KindString:
		return v.S
	case KindList:
		parts := make([]string, len(v.L))
		for i, e := range v.L {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		return "{map}"
	default:
		return ""
	}
}

// Equal implements value equality across types, per spec.md §4.C's Eq/Ne.
func Equal(a, b Value) bool {
	if a.IsNumeric() && b.IsNumeric() {
		return a.AsFloat() == b.AsFloat()
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindBool:
		return a.B == b.B
	case KindString:
		return a.S == b.S
	case KindList:
		if len(a.L) != len(b.L) {
			return false
		}
		for i := range a.L {
			if !Equal(a.L[i], b.L[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.M) != len(b.M) {
			return false
		}
		for k, av := range a.M {
			bv, ok := b.M[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
