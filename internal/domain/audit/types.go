// Package audit contains domain types for the append-only audit log.
//
// Every state transition of a tool call (other than the initial proposal)
// produces exactly one Entry. Entries are immutable once appended and carry
// a hash chain so retroactive tampering is detectable.
package audit

import (
	"strings"
	"time"
)

// Transition names recorded in audit entries. Each corresponds to one edge
// of the tool call state machine, plus the pre-policy rejections that never
// create a call record beyond a single denial entry.
const (
	// TransitionProposalRejected records a ValidationError or UnknownTool
	// rejection before the call ever reached the policy engine.
	TransitionProposalRejected = "proposal_rejected"
	// TransitionDryRun records the dry-run preview being attached.
	TransitionDryRun = "dry_run"
	// TransitionAutoApproved records a policy AutoApprove decision.
	TransitionAutoApproved = "auto_approved"
	// TransitionPendingApproval records a policy RequireApproval decision.
	TransitionPendingApproval = "pending_approval"
	// TransitionDenied records a policy Deny decision (terminal).
	TransitionDenied = "denied"
	// TransitionApproved records a human approval and token issuance.
	TransitionApproved = "approved"
	// TransitionRejected records a human rejection or revocation (terminal).
	TransitionRejected = "rejected"
	// TransitionExecuteRefused records a failed execute attempt (bad or
	// expired token). The call's state is unchanged.
	TransitionExecuteRefused = "execute_refused"
	// TransitionExecuting records token consumption and execution start.
	TransitionExecuting = "executing"
	// TransitionExecuted records a successful execution (terminal).
	TransitionExecuted = "executed"
	// TransitionFailed records a snapshot or execution failure (terminal).
	TransitionFailed = "failed"
	// TransitionExpired records a stale call swept to Expired (terminal).
	TransitionExpired = "expired"
)

// Outcome values for the Result field, used by byResult queries.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeRefused = "refused"
)

// ActorType constants identify who drove a transition.
const (
	ActorTypeHuman  = "human"
	ActorTypeSystem = "system"
)

// Actor identifies who performed a transition.
type Actor struct {
	// ID is the actor identifier (approver ID, or "coordinator").
	ID string `json:"id"`
	// Type is "human" or "system".
	Type string `json:"type"`
}

// SystemActor is the actor recorded for transitions the pipeline drives
// itself (dry-run, policy decisions, execution outcomes).
var SystemActor = Actor{ID: "coordinator", Type: ActorTypeSystem}

// Entry is one immutable, ordered record of a state transition.
type Entry struct {
	// Seq is the monotonically increasing sequence number, assigned by the
	// audit writer at append time.
	Seq uint64 `json:"seq"`
	// Timestamp is when the transition happened (UTC).
	Timestamp time.Time `json:"timestamp"`
	// CallID references the tool call; the entry never owns the call.
	CallID string `json:"call_id"`
	// Tool is the catalog name of the call's tool.
	Tool string `json:"tool"`
	// Transition is the transition name (see constants above).
	Transition string `json:"transition"`
	// Actor identifies who drove the transition.
	Actor Actor `json:"actor"`
	// Summary is a human-readable description of what happened.
	Summary string `json:"summary,omitempty"`
	// Arguments is the redacted argument mapping, recorded once on the
	// dry_run and proposal_rejected entries.
	Arguments map[string]any `json:"arguments,omitempty"`
	// SnapshotID references the checkpoint taken before a mutating
	// execution; set on the executing/executed entries.
	SnapshotID string `json:"snapshot_id,omitempty"`
	// Result is the outcome class: "ok", "error", or "refused".
	Result string `json:"result"`
	// PrevHash is the hex hash of the previous entry ("" for the first).
	PrevHash string `json:"prev_hash"`
	// Hash is the hex hash over PrevHash plus this entry's content.
	Hash string `json:"hash"`
}

// sensitiveKeywords lists substrings that mark an argument key sensitive.
// Comparison is case-insensitive.
var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey",
	"credential", "auth", "private_key", "privatekey",
}

// RedactSensitiveArgs returns a copy of args with sensitive values masked.
// A key is sensitive if it contains any of the sensitiveKeywords
// (case-insensitive). Values are replaced with "***REDACTED***".
func RedactSensitiveArgs(args map[string]any) map[string]any {
	if len(args) == 0 {
		return args
	}
	redacted := make(map[string]any, len(args))
	for k, v := range args {
		if isSensitiveKey(k) {
			redacted[k] = "***REDACTED***"
		} else {
			redacted[k] = v
		}
	}
	return redacted
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
