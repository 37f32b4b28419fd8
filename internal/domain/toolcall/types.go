// Package toolcall contains domain types for the tool call lifecycle.
//
// A ToolCall is owned by the approval coordinator for its whole lifetime.
// Everything else (audit entries, pending-approval views) references a call
// by ID and receives copies, never the owned record.
package toolcall

import (
	"errors"
	"time"
)

// State is the lifecycle state of a tool call.
type State string

const (
	// StateProposed is the initial state after catalog validation.
	StateProposed State = "proposed"
	// StateDryRun means the dry-run simulation has been recorded and the
	// call is awaiting a policy decision.
	StateDryRun State = "dry_run"
	// StateAutoApproved means policy allowed the call without human review.
	StateAutoApproved State = "auto_approved"
	// StatePendingApproval means the call is blocked on a human decision.
	StatePendingApproval State = "pending_approval"
	// StateApproved means a human approved the call and a token was issued.
	StateApproved State = "approved"
	// StateExecuting means the token was consumed and execution has begun.
	StateExecuting State = "executing"
	// StateExecuted is terminal: execution completed successfully.
	StateExecuted State = "executed"
	// StateFailed is terminal: policy evaluation, snapshot creation, or
	// execution failed.
	StateFailed State = "failed"
	// StateRejected is terminal: a human rejected or revoked the call.
	StateRejected State = "rejected"
	// StateDenied is terminal: policy denied the call outright.
	StateDenied State = "denied"
	// StateExpired is terminal: the call or its token aged out before use.
	StateExpired State = "expired"
)

// transitions lists the legal edges of the state machine. The only backward
// edge is Approved -> Rejected, which models revocation before execution
// has started.
var transitions = map[State][]State{
	StateProposed:        {StateDryRun},
	StateDryRun:          {StateAutoApproved, StatePendingApproval, StateDenied, StateFailed},
	StateAutoApproved:    {StateExecuting},
	StatePendingApproval: {StateApproved, StateRejected, StateExpired},
	StateApproved:        {StateExecuting, StateRejected, StateExpired},
	StateExecuting:       {StateExecuted, StateFailed},
}

// CanTransition reports whether the edge from s to next is legal.
func (s State) CanTransition(next State) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s is a terminal state.
func (s State) Terminal() bool {
	switch s {
	case StateExecuted, StateFailed, StateRejected, StateDenied, StateExpired:
		return true
	default:
		return false
	}
}

// Sentinel errors for lifecycle operations.
var (
	// ErrNotFound is returned when no call exists for the given ID.
	ErrNotFound = errors.New("tool call not found")
	// ErrStateConflict is returned when an operation is illegal in the
	// call's current state.
	ErrStateConflict = errors.New("state conflict")
	// ErrTokenInvalid is returned when a token does not belong to the call.
	ErrTokenInvalid = errors.New("approval token invalid")
	// ErrTokenExpired is returned when a token's expiry has passed.
	ErrTokenExpired = errors.New("approval token expired")
	// ErrTokenConsumed is returned when a token has already been used.
	ErrTokenConsumed = errors.New("approval token already consumed")
)

// Prediction is the advisory dry-run preview attached to a call before any
// approval decision. It is best-effort and never checked against the actual
// execution outcome.
type Prediction struct {
	// Summary is a one-line description of what the tool would do.
	Summary string `json:"summary"`
	// Effects lists the predicted side effects, one per line.
	Effects []string `json:"effects,omitempty"`
	// Diff is a unified diff preview for content-changing operations.
	Diff string `json:"diff,omitempty"`
}

// Result is the payload reported by the execution gateway.
type Result struct {
	// Summary is a one-line description of the outcome.
	Summary string `json:"summary"`
	// Data carries tool-specific output (file content, exit code, stdout).
	Data map[string]any `json:"data,omitempty"`
}

// Token is a single-use, time-boxed credential binding one approval to
// exactly one tool call. Consumption is atomic with the transition to
// StateExecuting and is guarded by the coordinator's per-call lock.
type Token struct {
	// ID is the token identifier presented back on execute.
	ID string
	// CallID is the tool call this token was issued for.
	CallID string
	// IssuedAt is when the token was created (UTC).
	IssuedAt time.Time
	// ExpiresAt is when the token stops validating (UTC).
	ExpiresAt time.Time
	// Consumed is set exactly once, under the per-call lock.
	Consumed bool
}

// ExpiredAt reports whether the token is past its expiry at the given time.
func (t Token) ExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// ToolCall is one requested tool invocation moving through the pipeline.
type ToolCall struct {
	// ID is the unique identifier assigned at propose time.
	ID string
	// Tool is the catalog name of the requested tool.
	Tool string
	// Arguments is the argument mapping validated against the catalog schema.
	Arguments map[string]any
	// Risk is the classified risk level of the tool (LOW..CRITICAL).
	Risk string
	// Mutates mirrors the catalog's mutates flag for this tool.
	Mutates bool
	// CreatedAt is when the call was proposed (UTC).
	CreatedAt time.Time
	// UpdatedAt is when the call last changed state (UTC).
	UpdatedAt time.Time
	// State is the current lifecycle state.
	State State
	// Prediction is the dry-run preview, set before the policy decision.
	Prediction *Prediction
	// SnapshotID references the checkpoint taken before a mutating execution.
	SnapshotID string
	// Result is the execution payload, set in StateExecuted.
	Result *Result
	// FailureCause explains StateFailed, StateRejected, or StateDenied.
	FailureCause string
}

// Clone returns a deep copy safe to hand outside the coordinator.
func (c *ToolCall) Clone() ToolCall {
	out := *c
	if c.Arguments != nil {
		out.Arguments = make(map[string]any, len(c.Arguments))
		for k, v := range c.Arguments {
			out.Arguments[k] = v
		}
	}
	if c.Prediction != nil {
		p := *c.Prediction
		p.Effects = append([]string(nil), c.Prediction.Effects...)
		out.Prediction = &p
	}
	if c.Result != nil {
		r := *c.Result
		if c.Result.Data != nil {
			r.Data = make(map[string]any, len(c.Result.Data))
			for k, v := range c.Result.Data {
				r.Data[k] = v
			}
		}
		out.Result = &r
	}
	return out
}
