// Package memory provides in-memory adapter implementations, used in tests
// and for ephemeral sessions that opt out of durable auditing.
package memory

import (
	"context"
	"sync"

	"github.com/toolward/toolward/internal/domain/audit"
)

// AuditStore is an in-memory audit.Store. Entries live only as long as the
// process; sessions that need a tamper-evident record across restarts use
// the sqlite store instead.
type AuditStore struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

var _ audit.Store = (*AuditStore)(nil)

// NewAuditStore creates an empty in-memory store.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

// Append stores one entry.
func (s *AuditStore) Append(_ context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

// Query returns entries matching the filter in sequence order.
func (s *AuditStore) Query(_ context.Context, f audit.Filter) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Entry
	for _, e := range s.entries {
		if !f.Matches(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// Last returns the most recently appended entry, or nil on an empty log.
func (s *AuditStore) Last(_ context.Context) (*audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return nil, nil
	}
	last := s.entries[len(s.entries)-1]
	return &last, nil
}

// Close is a no-op for the in-memory store.
func (s *AuditStore) Close() error {
	return nil
}
