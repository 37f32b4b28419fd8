// Package policy contains domain types for tool call authorization.
package policy

import "time"

// Action represents the result of a policy rule evaluation.
type Action string

const (
	// ActionAutoApprove permits the tool call without human review.
	ActionAutoApprove Action = "auto_approve"
	// ActionRequireApproval blocks the tool call pending human approval.
	ActionRequireApproval Action = "require_approval"
	// ActionDeny blocks the tool call outright.
	ActionDeny Action = "deny"
)

// IsValid returns true if the action is a known decision value.
func (a Action) IsValid() bool {
	switch a {
	case ActionAutoApprove, ActionRequireApproval, ActionDeny:
		return true
	default:
		return false
	}
}

// Rule defines a single authorization rule over tool calls.
type Rule struct {
	// ID is the unique identifier for this rule.
	ID string
	// Name is a human-readable name for this rule.
	Name string
	// Priority breaks ties between rules of equal specificity
	// (higher = evaluated first).
	Priority int
	// ToolMatch is a glob pattern to match tool names (e.g., "git_*").
	// An exact name is always more specific than any glob.
	ToolMatch string
	// Condition is a CEL expression over the call's arguments and metadata.
	// Empty means the rule matches on ToolMatch alone. A condition that
	// fails to evaluate (malformed argument shapes) makes the rule
	// non-matching rather than erroring the evaluation.
	Condition string
	// Action is the decision when this rule matches.
	Action Action
	// CreatedAt is when the rule was created (UTC).
	CreatedAt time.Time
}

// Decision represents the outcome of policy evaluation for a tool call.
type Decision struct {
	// Action is the decided action. When no rule matches, this is
	// ActionRequireApproval: the engine fails toward human review, never
	// toward auto-execution.
	Action Action
	// RuleID is the ID of the rule that produced this decision, empty for
	// the no-match default.
	RuleID string
	// RuleName is the human-readable name of the deciding rule.
	RuleName string
	// Reason explains why the decision was made.
	Reason string
}

// Input is the evaluation context for one tool call.
type Input struct {
	// Tool is the name of the tool being invoked.
	Tool string
	// Arguments are the validated arguments of the call.
	Arguments map[string]any
	// Risk is the classified risk level of the tool.
	Risk string
	// Mutates is the catalog's mutates flag for the tool.
	Mutates bool
	// RequestTime is when the call was proposed.
	RequestTime time.Time
}
