// Package outbound declares the collaborator ports the pipeline requires.
// Adapters implement these; the coordinator only sees the interfaces.
package outbound

import (
	"context"

	"github.com/toolward/toolward/internal/domain/toolcall"
)

// DryRunSimulator produces the advisory preview recorded on a call before
// any approval decision. Predictions are best-effort and non-binding; the
// pipeline never verifies them against actual execution effects.
type DryRunSimulator interface {
	// Simulate predicts the effects of running the tool with the given
	// arguments, without committing any of them.
	Simulate(ctx context.Context, name string, args map[string]any) (toolcall.Prediction, error)
}

// ExecutionGateway runs an approved tool call. How the process is isolated
// at the OS level is the gateway's concern, not the pipeline's.
type ExecutionGateway interface {
	// Execute runs the tool and returns its result payload. Errors are
	// terminal for the call; the pipeline never retries automatically.
	Execute(ctx context.Context, name string, args map[string]any) (toolcall.Result, error)
}
