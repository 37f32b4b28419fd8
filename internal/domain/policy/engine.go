package policy

import "context"

// Engine evaluates tool calls against the loaded rule set.
//
// Evaluation is a pure function of the rule set and the input: no side
// effects, deterministic results, so decisions are testable in isolation.
type Engine interface {
	// Evaluate returns the decision for one tool call. Matching is
	// most-specific-first; an explicit Deny match always wins regardless
	// of rank; no matching rule yields ActionRequireApproval.
	Evaluate(ctx context.Context, in Input) (Decision, error)
}

// RuleSource provides the rules an Engine compiles at load time.
// Interface owned by domain per hexagonal architecture.
type RuleSource interface {
	// Rules returns all active rules.
	Rules(ctx context.Context) ([]Rule, error)
}
