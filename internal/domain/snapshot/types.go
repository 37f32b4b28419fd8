// Package snapshot contains domain types for reversible checkpoints taken
// before mutating tool calls execute.
package snapshot

import (
	"errors"
	"time"
)

// ErrFailure wraps any snapshot creation error. The snapshot gate is
// fail-closed: a mutating call never executes without its checkpoint.
var ErrFailure = errors.New("snapshot failure")

// ErrNotFound is returned when no snapshot exists for the given ID.
var ErrNotFound = errors.New("snapshot not found")

// FileSnapshot records one captured file within a snapshot.
type FileSnapshot struct {
	// Path is the original file path.
	Path string `json:"path"`
	// StoredPath is where the content copy lives inside the snapshot dir.
	StoredPath string `json:"stored_path"`
	// SHA256 is the hex content fingerprint.
	SHA256 string `json:"sha256"`
	// Size is the content length in bytes.
	Size int64 `json:"size"`
}

// Snapshot is a reversible checkpoint over a set of paths.
type Snapshot struct {
	// ID is the unique snapshot identifier.
	ID string `json:"id"`
	// Label describes why the snapshot was taken (usually the call ID).
	Label string `json:"label"`
	// CreatedAt is when the snapshot was taken (UTC).
	CreatedAt time.Time `json:"created_at"`
	// Paths is the declared affected path set.
	Paths []string `json:"paths"`
	// Files maps original paths to their captured copies.
	Files map[string]FileSnapshot `json:"files"`
}
