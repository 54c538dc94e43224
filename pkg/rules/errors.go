package rules

import "errors"

// Sentinel errors returned by Expr.Eval. RuleEngine does not wrap them:
// Evaluate treats a rule that errors as not matching, and
// EvaluateWithTrace records the error text in that rule's trace entry.
var (
	acteonErrUnknownIdentifier   = errors.New("rules: unknown identifier")
	acteonErrTypeMismatch        = errors.New("rules: type mismatch")
	acteonErrDivByZero           = errors.New("rules: division by zero")
	acteonErrRegexCompile        = errors.New("rules: invalid regex")
	acteonErrNoEmbeddingProvider = errors.New("rules: semantic_match requires an embedding provider")
)
