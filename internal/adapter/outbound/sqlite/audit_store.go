// Package sqlite provides the durable audit store backed by an embedded
// SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/toolward/toolward/internal/domain/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	seq         INTEGER PRIMARY KEY,
	timestamp   TEXT NOT NULL,
	call_id     TEXT NOT NULL,
	tool        TEXT NOT NULL,
	transition  TEXT NOT NULL,
	actor_id    TEXT NOT NULL,
	actor_type  TEXT NOT NULL,
	summary     TEXT NOT NULL DEFAULT '',
	arguments   TEXT,
	snapshot_id TEXT NOT NULL DEFAULT '',
	result      TEXT NOT NULL,
	prev_hash   TEXT NOT NULL,
	hash        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_call_id ON audit_entries(call_id);
CREATE INDEX IF NOT EXISTS idx_audit_tool ON audit_entries(tool);
CREATE INDEX IF NOT EXISTS idx_audit_transition ON audit_entries(transition);
`

// AuditStore persists audit entries in a SQLite database file. Appends are
// synchronous; an entry is on disk before the triggering transition commits.
type AuditStore struct {
	db *sql.DB
}

var _ audit.Store = (*AuditStore)(nil)

// NewAuditStore opens (and if needed creates) the database at path and
// applies the schema. Use ":memory:" for an ephemeral database in tests.
func NewAuditStore(path string) (*AuditStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	// The audit service is the single writer; one connection avoids
	// SQLITE_BUSY churn between its appends and concurrent queries.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply audit schema: %w", err)
	}
	return &AuditStore{db: db}, nil
}

// Append durably stores one entry.
func (s *AuditStore) Append(ctx context.Context, e audit.Entry) error {
	var args any
	if len(e.Arguments) > 0 {
		raw, err := json.Marshal(e.Arguments)
		if err != nil {
			return fmt.Errorf("marshal arguments: %w", err)
		}
		args = string(raw)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries
			(seq, timestamp, call_id, tool, transition, actor_id, actor_type,
			 summary, arguments, snapshot_id, result, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Seq, e.Timestamp.UTC().Format(time.RFC3339Nano), e.CallID, e.Tool,
		e.Transition, e.Actor.ID, e.Actor.Type, e.Summary, args,
		e.SnapshotID, e.Result, e.PrevHash, e.Hash,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Query returns entries matching the filter in sequence order.
func (s *AuditStore) Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	var (
		conds []string
		args  []any
	)
	if f.CallID != "" {
		conds = append(conds, "call_id = ?")
		args = append(args, f.CallID)
	}
	if f.Tool != "" {
		conds = append(conds, "tool = ?")
		args = append(args, f.Tool)
	}
	if f.Transition != "" {
		conds = append(conds, "transition = ?")
		args = append(args, f.Transition)
	}
	if f.Result != "" {
		conds = append(conds, "result = ?")
		args = append(args, f.Result)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}
	if !f.Until.IsZero() {
		conds = append(conds, "timestamp < ?")
		args = append(args, f.Until.UTC().Format(time.RFC3339Nano))
	}

	query := "SELECT seq, timestamp, call_id, tool, transition, actor_id, actor_type, summary, arguments, snapshot_id, result, prev_hash, hash FROM audit_entries"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY seq ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}

// Last returns the highest-sequence entry, or nil on an empty log.
func (s *AuditStore) Last(ctx context.Context) (*audit.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, timestamp, call_id, tool, transition, actor_id, actor_type,
		       summary, arguments, snapshot_id, result, prev_hash, hash
		FROM audit_entries ORDER BY seq DESC LIMIT 1`)

	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// Close closes the underlying database.
func (s *AuditStore) Close() error {
	return s.db.Close()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (audit.Entry, error) {
	var (
		e       audit.Entry
		ts      string
		rawArgs sql.NullString
	)
	err := sc.Scan(&e.Seq, &ts, &e.CallID, &e.Tool, &e.Transition,
		&e.Actor.ID, &e.Actor.Type, &e.Summary, &rawArgs,
		&e.SnapshotID, &e.Result, &e.PrevHash, &e.Hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return audit.Entry{}, err
		}
		return audit.Entry{}, fmt.Errorf("scan audit entry: %w", err)
	}

	e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return audit.Entry{}, fmt.Errorf("parse audit timestamp: %w", err)
	}
	if rawArgs.Valid && rawArgs.String != "" {
		if err := json.Unmarshal([]byte(rawArgs.String), &e.Arguments); err != nil {
			return audit.Entry{}, fmt.Errorf("unmarshal audit arguments: %w", err)
		}
	}
	return e, nil
}
