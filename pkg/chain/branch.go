package chain

import (
	"fmt"

	"github.com/penserai/acteon/pkg/acteon"
)

// resolveNextStep implements spec.md §4.L's pure resolve_next_step: branch
// evaluation in declaration order (first match wins), else default_next,
// else sequential advance. idx is the step that just ran; stepNameIndex
// is the gateway-lifetime name->index cache for config.
func resolveNextStep(cfg acteon.ChainConfig, stepNameIndex map[string]int, idx int, result acteon.StepResult, log func(msg string, fields map[string]interface{})) (int, bool) {
	step := cfg.Steps[idx]

	for _, b := range step.Branches {
		if branchMatches(b, result) {
			if next, ok := stepNameIndex[b.Target]; ok {
				return next, true
			}
		}
	}

	if len(step.Branches) > 0 && log != nil {
		log("chain: branches defined but none matched, falling through to default/sequential", map[string]interface{}{
			"chain": cfg.Name, "step": step.Name,
		})
	}

	if step.DefaultNext != "" {
		if next, ok := stepNameIndex[step.DefaultNext]; ok {
			return next, true
		}
	}

	next := idx + 1
	if next >= len(cfg.Steps) {
		return 0, false
	}
	return next, true
}

func branchMatches(b acteon.BranchCondition, result acteon.StepResult) bool {
	actual, ok := resolveFieldPath(b.Field, result)
	if !ok {
		// exists is false when the field can't be resolved; every other
		// operator also has nothing to compare against.
		return false
	}
	switch b.Operator {
	case acteon.BranchExists:
		return true
	case acteon.BranchEq:
		return fmt.Sprint(actual) == fmt.Sprint(b.Value)
	case acteon.BranchNeq:
		return fmt.Sprint(actual) != fmt.Sprint(b.Value)
	case acteon.BranchContains:
		return containsValue(actual, b.Value)
	case acteon.BranchGt, acteon.BranchLt, acteon.BranchGte, acteon.BranchLte:
		return compareNumeric(actual, b.Value, b.Operator)
	default:
		return false
	}
}

func containsValue(actual, want interface{}) bool {
	switch a := actual.(type) {
	case string:
		s, ok := want.(string)
		return ok && (s == "" || stringContains(a, s))
	case []interface{}:
		for _, e := range a {
			if fmt.Sprint(e) == fmt.Sprint(want) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func stringContains(haystack, needle string) bool {
	return len(needle) == 0 || (len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func compareNumeric(actual, want interface{}, op acteon.BranchOperator) bool {
	a, ok1 := toFloat(actual)
	w, ok2 := toFloat(want)
	if !ok1 || !ok2 {
		return false
	}
	switch op {
	case acteon.BranchGt:
		return a > w
	case acteon.BranchLt:
		return a < w
	case acteon.BranchGte:
		return a >= w
	case acteon.BranchLte:
		return a <= w
	default:
		return false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
