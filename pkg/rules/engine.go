package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/penserai/acteon/pkg/acteon"
)

// RuleEngine evaluates a priority-ordered set of rules against an
// EvalContext, first-match-wins, defaulting to Allow when nothing matches
// (spec.md §4.D).
type RuleEngine struct {
	rules []acteon.Rule
}

// NewRuleEngine sorts rules by Priority ascending (lower evaluates first);
// rules sharing a priority keep their input order (stable sort).
func NewRuleEngine(rules []acteon.Rule) *RuleEngine {
	sorted := make([]acteon.Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	return &RuleEngine{rules: sorted}
}

func (e *RuleEngine) Rules() []acteon.Rule { return e.rules }

// Evaluate walks rules in priority order, skipping disabled rules, and
// returns the first matching rule's Verdict. An evaluation error on one
// rule's condition does not abort the walk; it is treated as non-match so
// a single malformed rule cannot take down dispatch (spec.md §7).
func (e *RuleEngine) Evaluate(ec *EvalContext) (acteon.Verdict, error) {
	for _, r := range e.rules {
		if !r.Enabled {
			continue
		}
		matched, err := evalRuleCondition(r, ec)
		if err != nil {
			continue
		}
		if matched {
			return r.ToVerdict(), nil
		}
	}
	return acteon.AllowVerdict{}, nil
}

func evalRuleCondition(r acteon.Rule, ec *EvalContext) (bool, error) {
	expr, ok := r.Condition.(Expr)
	if !ok {
		return false, fmt.Errorf("rule %q: Condition is not a rules.Expr", r.Name)
	}
	effective := ec
	if r.Timezone != "" {
		effective = ec.WithTimezone(r.Timezone)
	}
	v, err := expr.Eval(effective)
	if err != nil {
		return false, err
	}
	return v.Truthy(), nil
}

// TraceEntry records one rule's fate during EvaluateWithTrace.
type TraceEntry struct {
	Rule    string
	Status  TraceStatus
	Verdict acteon.Verdict `json:"-"`
	Error   string
}

type TraceStatus string

const (
	TraceMatched         TraceStatus = "matched"
	TraceNotMatched      TraceStatus = "not_matched"
	TraceSkippedDisabled TraceStatus = "skipped_disabled"
	TraceError           TraceStatus = "error"
)

// EvaluateWithTrace runs every enabled rule (not stopping at the first
// match) and records each one's outcome, for dry-run / explain endpoints
// (spec.md §4.D, §6). The returned Verdict is still first-match-wins.
func (e *RuleEngine) EvaluateWithTrace(ec *EvalContext) (acteon.Verdict, []TraceEntry) {
	trace := make([]TraceEntry, 0, len(e.rules))
	var result acteon.Verdict
	matched := false

	for _, r := range e.rules {
		if !r.Enabled {
			trace = append(trace, TraceEntry{Rule: r.Name, Status: TraceSkippedDisabled})
			continue
		}
		ok, err := evalRuleCondition(r, ec)
		if err != nil {
			trace = append(trace, TraceEntry{Rule: r.Name, Status: TraceError, Error: err.Error()})
			continue
		}
		if !ok {
			trace = append(trace, TraceEntry{Rule: r.Name, Status: TraceNotMatched})
			continue
		}
		v := r.ToVerdict()
		trace = append(trace, TraceEntry{Rule: r.Name, Status: TraceMatched, Verdict: v})
		if !matched {
			result = v
			matched = true
		}
	}
	if !matched {
		result = acteon.AllowVerdict{}
	}
	return result, trace
}

// RulesVersion fingerprints the active rule set so callers can detect a
// reload without diffing full rule bodies: it hashes (name, version,
// enabled) across all rules in their stored (pre-sort) order sensitivity
// removed by sorting on name for determinism.
func RulesVersion(rules []acteon.Rule) string {
	sorted := make([]acteon.Rule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	h := sha256.New()
	for _, r := range sorted {
		fmt.Fprintf(h, "%s|%d|%v\n", r.Name, r.Version, r.Enabled)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
