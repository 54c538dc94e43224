package chain

import (
	"strconv"
	"strings"

	"github.com/penserai/acteon/pkg/acteon"
)

// resolveTemplate substitutes {{origin.*}}, {{prev.*}}, {{steps.NAME.*}},
// {{chain_id}}, and {{step_index}} placeholders found in tmpl's string
// leaves against origin, the previous step's result (may be nil), the
// accumulated named step results, and the chain's own identity.
func resolveTemplate(tmpl map[string]interface{}, origin acteon.Action, prev *acteon.StepResult, named map[string]acteon.StepResult, chainID string, stepIndex int) map[string]interface{} {
	out := make(map[string]interface{}, len(tmpl))
	for k, v := range tmpl {
		out[k] = resolveValue(v, origin, prev, named, chainID, stepIndex)
	}
	return out
}

func resolveValue(v interface{}, origin acteon.Action, prev *acteon.StepResult, named map[string]acteon.StepResult, chainID string, stepIndex int) interface{} {
	switch t := v.(type) {
	case string:
		return resolveString(t, origin, prev, named, chainID, stepIndex)
	case map[string]interface{}:
		return resolveTemplate(t, origin, prev, named, chainID, stepIndex)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = resolveValue(e, origin, prev, named, chainID, stepIndex)
		}
		return out
	default:
		return v
	}
}

// resolveString substitutes placeholders in s. A string that is *exactly*
// one placeholder resolves to the underlying value's native type (so
// `"{{prev.body.amount}}"` can yield a number); placeholders embedded in
// a larger string are stringified in place.
func resolveString(s string, origin acteon.Action, prev *acteon.StepResult, named map[string]acteon.StepResult, chainID string, stepIndex int) interface{} {
	if strings.HasPrefix(s, "{{") && strings.HasSuffix(s, "}}") && strings.Count(s, "{{") == 1 {
		path := strings.TrimSpace(s[2 : len(s)-2])
		val, ok := lookupPath(path, origin, prev, named, chainID, stepIndex)
		if ok {
			return val
		}
		return s
	}

	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "{{")
		if start == -1 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end == -1 {
			b.WriteString(rest)
			break
		}
		end += start
		b.WriteString(rest[:start])
		path := strings.TrimSpace(rest[start+2 : end])
		if val, ok := lookupPath(path, origin, prev, named, chainID, stepIndex); ok {
			b.WriteString(stringify(val))
		}
		rest = rest[end+2:]
	}
	return b.String()
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return toStringFallback(t)
	}
}

func toStringFallback(v interface{}) string {
	switch t := v.(type) {
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func lookupPath(path string, origin acteon.Action, prev *acteon.StepResult, named map[string]acteon.StepResult, chainID string, stepIndex int) (interface{}, bool) {
	switch {
	case path == "chain_id":
		return chainID, true
	case path == "step_index":
		return stepIndex, true
	case path == "origin" || strings.HasPrefix(path, "origin."):
		return lookupAction(strings.TrimPrefix(path, "origin"), origin)
	case path == "prev" || strings.HasPrefix(path, "prev."):
		if prev == nil {
			return nil, false
		}
		return lookupStepResult(strings.TrimPrefix(path, "prev"), *prev)
	case strings.HasPrefix(path, "steps."):
		rest := strings.TrimPrefix(path, "steps.")
		dot := strings.IndexByte(rest, '.')
		var name, sub string
		if dot == -1 {
			name = rest
		} else {
			name = rest[:dot]
			sub = rest[dot:]
		}
		sr, ok := named[name]
		if !ok {
			return nil, false
		}
		return lookupStepResult(sub, sr)
	default:
		return nil, false
	}
}

func lookupAction(dotted string, a acteon.Action) (interface{}, bool) {
	dotted = strings.TrimPrefix(dotted, ".")
	if dotted == "" {
		return a, true
	}
	switch {
	case dotted == "id":
		return a.ID, true
	case dotted == "namespace":
		return a.Namespace, true
	case dotted == "tenant":
		return a.Tenant, true
	case dotted == "provider":
		return a.Provider, true
	case dotted == "action_type":
		return a.ActionType, true
	case strings.HasPrefix(dotted, "payload."):
		return lookupMapPath(a.Payload, strings.TrimPrefix(dotted, "payload."))
	default:
		return nil, false
	}
}

func lookupStepResult(dotted string, sr acteon.StepResult) (interface{}, bool) {
	dotted = strings.TrimPrefix(dotted, ".")
	if dotted == "" {
		return sr, true
	}
	switch {
	case dotted == "success":
		return sr.Success, true
	case dotted == "error":
		return sr.Error, true
	case dotted == "body":
		return sr.Body, true
	case strings.HasPrefix(dotted, "body."):
		return lookupMapPath(sr.Body, strings.TrimPrefix(dotted, "body."))
	default:
		return nil, false
	}
}

func lookupMapPath(m map[string]interface{}, dotted string) (interface{}, bool) {
	if m == nil {
		return nil, false
	}
	parts := strings.Split(dotted, ".")
	var cur interface{} = m
	for _, p := range parts {
		asMap, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := asMap[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// resolveFieldPath resolves a BranchCondition.Field ("success", "body",
// or dotted "body.a.b.c") against a StepResult.
func resolveFieldPath(field string, sr acteon.StepResult) (interface{}, bool) {
	switch {
	case field == "success":
		return sr.Success, true
	case field == "body":
		return sr.Body, true
	case strings.HasPrefix(field, "body."):
		return lookupMapPath(sr.Body, strings.TrimPrefix(field, "body."))
	default:
		return nil, false
	}
}
