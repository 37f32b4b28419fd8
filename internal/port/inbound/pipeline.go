// Package inbound declares the surface the pipeline exposes to callers
// (the agent dispatcher and any approval UI).
package inbound

import (
	"context"

	"github.com/toolward/toolward/internal/domain/audit"
	"github.com/toolward/toolward/internal/domain/toolcall"
)

// Pipeline is the tool-call approval surface. The coordinator implements it;
// transports and UIs consume it.
type Pipeline interface {
	// Propose validates, dry-runs, and policy-checks a tool call,
	// returning its ID. Auto-approved calls are executed before Propose
	// returns.
	Propose(ctx context.Context, name string, args map[string]any) (string, error)

	// Approve issues a single-use token for a pending call.
	Approve(ctx context.Context, callID, actorID string) (toolcall.Token, error)

	// Reject terminates a pending or approved (not yet executing) call.
	Reject(ctx context.Context, callID, actorID, reason string) error

	// Execute consumes the token and runs the call through the snapshot
	// gate and execution gateway.
	Execute(ctx context.Context, callID, tokenID string) (toolcall.Result, error)

	// Get returns a copy of the call record.
	Get(ctx context.Context, callID string) (toolcall.ToolCall, error)

	// ListPending returns copies of all calls awaiting approval.
	ListPending(ctx context.Context) []toolcall.ToolCall

	// AuditLog returns audit entries matching the filter.
	AuditLog(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
}
