package outbound

import (
	"context"

	"github.com/toolward/toolward/internal/domain/snapshot"
)

// SnapshotService creates and restores reversible checkpoints. Create is
// invoked by the snapshot gate before a mutating execution; Restore backs
// the snapshot_restore tool.
type SnapshotService interface {
	// Create captures the given paths and returns the snapshot record.
	// Any error wraps snapshot.ErrFailure.
	Create(ctx context.Context, paths []string, label string) (snapshot.Snapshot, error)

	// Restore writes captured content back to the original paths. When
	// targets is non-empty, only files under those paths are restored.
	// Returns the restored paths.
	Restore(ctx context.Context, id string, targets []string) ([]string, error)

	// Get returns a snapshot record by ID.
	Get(ctx context.Context, id string) (snapshot.Snapshot, error)

	// List returns all snapshot records, newest first.
	List(ctx context.Context) ([]snapshot.Snapshot, error)
}
