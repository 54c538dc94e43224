package dispatch

import (
	"context"

	"github.com/penserai/acteon/pkg/acteon"
)

// Evaluator is the optional LLM guardrail (spec.md §4.H step 5): a second
// opinion consulted after rule evaluation, for verdicts a rule alone
// shouldn't be trusted to finalize. Concrete implementations (an LLM
// API call, a local classifier) live outside this module (spec.md §6).
type Evaluator interface {
	Evaluate(ctx context.Context, action acteon.Action, policy string) (allowed bool, reason string, err error)
}

// PolicyResolver picks the guardrail policy string for a matched verdict:
// rule metadata, then a per-action-type map, then a global default.
type PolicyResolver struct {
	ByActionType map[string]string
	Default      string
}

// Resolve implements the three-tier lookup of spec.md §4.H step 5.
func (p PolicyResolver) Resolve(action acteon.Action, ruleMetadata map[string]string) string {
	if ruleMetadata != nil {
		if v, ok := ruleMetadata["guardrail_policy"]; ok && v != "" {
			return v
		}
	}
	if p.ByActionType != nil {
		if v, ok := p.ByActionType[action.ActionType]; ok && v != "" {
			return v
		}
	}
	return p.Default
}

// ruleMetadataFor looks up the metadata of the rule a verdict says
// matched, or nil when the verdict carries no rule name (e.g. the
// default Allow(None) verdict).
func ruleMetadataFor(rules []acteon.Rule, ruleName string) map[string]string {
	if ruleName == "" {
		return nil
	}
	for _, r := range rules {
		if r.Name == ruleName {
			return r.Metadata
		}
	}
	return nil
}

// verdictRuleName extracts the matched rule name carried by v, if any.
func verdictRuleName(v acteon.Verdict) string {
	switch t := v.(type) {
	case acteon.AllowVerdict:
		return t.Rule
	case acteon.DenyVerdict:
		return t.Rule
	case acteon.SuppressVerdict:
		return t.Rule
	case acteon.RerouteVerdict:
		return t.Rule
	case acteon.ThrottleVerdict:
		return t.Rule
	case acteon.ModifyVerdict:
		return t.Rule
	case acteon.StateMachineVerdict:
		return t.Rule
	case acteon.GroupVerdict:
		return t.Rule
	case acteon.RequestApprovalVerdict:
		return t.Rule
	case acteon.ChainVerdict:
		return t.Rule
	case acteon.ScheduleVerdict:
		return t.Rule
	default:
		return ""
	}
}

// isFinalDeny reports whether v is already Deny or Suppress, in which
// case the guardrail step is skipped (spec.md §4.H step 5).
func isFinalDeny(v acteon.Verdict) bool {
	switch v.(type) {
	case acteon.DenyVerdict, acteon.SuppressVerdict:
		return true
	default:
		return false
	}
}
