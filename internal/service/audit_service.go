package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/toolward/toolward/internal/domain/audit"
)

// defaultRecentCacheSize bounds the in-memory view of recent entries.
const defaultRecentCacheSize = 1000

// AuditService is the single logical writer for the audit log. It assigns
// sequence numbers, chains entry hashes, and appends synchronously to the
// durable store. A bounded ring of recent entries serves UI reads; the
// durable store remains the system of record.
type AuditService struct {
	store  audit.Store
	logger *slog.Logger

	mu       sync.Mutex // serializes appends; readers never take it
	nextSeq  uint64
	lastHash string

	recent *entryRing
}

// NewAuditService creates the audit writer, resuming the sequence and hash
// chain from the store's last entry so restarts never fork the chain.
func NewAuditService(ctx context.Context, store audit.Store, logger *slog.Logger) (*AuditService, error) {
	last, err := store.Last(ctx)
	if err != nil {
		return nil, fmt.Errorf("read last audit entry: %w", err)
	}

	s := &AuditService{
		store:   store,
		logger:  logger,
		nextSeq: 1,
		recent:  newEntryRing(defaultRecentCacheSize),
	}
	if last != nil {
		s.nextSeq = last.Seq + 1
		s.lastHash = last.Hash
	}

	logger.Info("audit service initialized", "next_seq", s.nextSeq, "resumed", last != nil)
	return s, nil
}

// Record assigns the next sequence number, chains the hash, and durably
// appends the entry. On store failure the sequence and chain state are left
// untouched and the error wraps audit.ErrWriteFailure so the caller aborts
// the state transition that triggered the append.
func (s *AuditService) Record(ctx context.Context, e audit.Entry) (audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.Seq = s.nextSeq
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.PrevHash = s.lastHash

	hash, err := audit.ComputeHash(e)
	if err != nil {
		return audit.Entry{}, fmt.Errorf("%w: %v", audit.ErrWriteFailure, err)
	}
	e.Hash = hash

	if err := s.store.Append(ctx, e); err != nil {
		return audit.Entry{}, fmt.Errorf("%w: %v", audit.ErrWriteFailure, err)
	}

	s.nextSeq++
	s.lastHash = e.Hash
	s.recent.add(e)

	return e, nil
}

// Query reads matching entries from the durable store.
func (s *AuditService) Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	return s.store.Query(ctx, f)
}

// Recent returns up to n of the most recently appended entries, newest
// first, from the bounded in-memory view.
func (s *AuditService) Recent(n int) []audit.Entry {
	return s.recent.recent(n)
}

// Verify reads the full log from the store and checks the hash chain.
// Returns the sequence number of the first bad entry, or 0 when intact.
func (s *AuditService) Verify(ctx context.Context) (uint64, error) {
	entries, err := s.store.Query(ctx, audit.Filter{})
	if err != nil {
		return 0, fmt.Errorf("read audit log: %w", err)
	}
	return audit.VerifyChain(entries)
}

// entryRing is a fixed-size ring buffer of recent audit entries. It is a
// responsiveness cache only, never the system of record.
type entryRing struct {
	mu      sync.RWMutex
	entries []audit.Entry
	size    int
	head    int
	count   int
}

func newEntryRing(size int) *entryRing {
	if size <= 0 {
		size = defaultRecentCacheSize
	}
	return &entryRing{
		entries: make([]audit.Entry, size),
		size:    size,
	}
}

func (r *entryRing) add(e audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.head] = e
	r.head = (r.head + 1) % r.size
	if r.count < r.size {
		r.count++
	}
}

// recent returns the last n entries, newest first.
func (r *entryRing) recent(n int) []audit.Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || r.count == 0 {
		return nil
	}
	if n > r.count {
		n = r.count
	}

	out := make([]audit.Entry, n)
	for i := 0; i < n; i++ {
		idx := (r.head - 1 - i + r.size) % r.size
		out[i] = r.entries[idx]
	}
	return out
}
