package audit

import (
	"context"
	"errors"
	"time"
)

// ErrWriteFailure wraps a failed append. The state transition that triggered
// the append is aborted and surfaced to the caller: an unaudited approval or
// execution is never acceptable.
var ErrWriteFailure = errors.New("audit write failure")

// Store persists audit entries. The audit service is the single logical
// writer; implementations only need Append to be safe for the serialized
// writes it performs, while queries may run concurrently.
type Store interface {
	// Append durably stores one entry, synchronously.
	Append(ctx context.Context, e Entry) error

	// Query returns entries matching the filter in sequence order.
	Query(ctx context.Context, f Filter) ([]Entry, error)

	// Last returns the highest-sequence entry, or nil on an empty log.
	// Used to resume the hash chain across process restarts.
	Last(ctx context.Context) (*Entry, error)

	// Close releases resources.
	Close() error
}

// Filter specifies query parameters for audit log reads. Zero values mean
// "no constraint".
type Filter struct {
	// CallID filters by tool call ID.
	CallID string
	// Tool filters by tool name.
	Tool string
	// Transition filters by transition name.
	Transition string
	// Result filters by outcome class ("ok", "error", "refused").
	Result string
	// Since bounds the time range from below (inclusive).
	Since time.Time
	// Until bounds the time range from above (exclusive).
	Until time.Time
	// Limit caps the number of returned entries (0 = no cap).
	Limit int
}

// Matches reports whether the entry satisfies the filter, ignoring Limit.
func (f Filter) Matches(e Entry) bool {
	if f.CallID != "" && e.CallID != f.CallID {
		return false
	}
	if f.Tool != "" && e.Tool != f.Tool {
		return false
	}
	if f.Transition != "" && e.Transition != f.Transition {
		return false
	}
	if f.Result != "" && e.Result != f.Result {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.Timestamp.Before(f.Until) {
		return false
	}
	return true
}
