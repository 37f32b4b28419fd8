// Package fsnap implements the snapshot service on the local filesystem.
//
// Each snapshot gets its own directory under the configured root:
//
//	<root>/<snapshot-id>/index.json   snapshot record
//	<root>/<snapshot-id>/files/<sha>  content-addressed file copies
//
// Content addressing deduplicates identical files within a snapshot and
// makes the copies self-verifying on restore.
package fsnap

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/toolward/toolward/internal/domain/snapshot"
	"github.com/toolward/toolward/internal/port/outbound"
)

const indexFile = "index.json"

// Service stores snapshots under a root directory.
type Service struct {
	root   string
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex // serializes create/restore; reads are lock-free
}

var _ outbound.SnapshotService = (*Service)(nil)

// NewService creates the snapshot service, creating the root directory if
// needed.
func NewService(root string, logger *slog.Logger) (*Service, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create snapshot root: %v", snapshot.ErrFailure, err)
	}
	return &Service{
		root:   root,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Create captures the given paths. Files are copied by content hash; a
// declared path that does not exist yet (a file about to be created) is
// recorded in the path set with no file entry, so restore knows to remove
// it. Directories are captured recursively.
func (s *Service) Create(ctx context.Context, paths []string, label string) (snapshot.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := snapshot.Snapshot{
		ID:        uuid.New().String(),
		Label:     label,
		CreatedAt: s.now(),
		Paths:     append([]string(nil), paths...),
		Files:     make(map[string]snapshot.FileSnapshot),
	}

	dir := filepath.Join(s.root, snap.ID)
	filesDir := filepath.Join(dir, "files")
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("%w: create snapshot dir: %v", snapshot.ErrFailure, err)
	}

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			os.RemoveAll(dir)
			return snapshot.Snapshot{}, fmt.Errorf("%w: %v", snapshot.ErrFailure, err)
		}
		if err := s.capturePath(p, filesDir, &snap); err != nil {
			os.RemoveAll(dir)
			return snapshot.Snapshot{}, err
		}
	}

	if err := s.writeIndex(dir, snap); err != nil {
		os.RemoveAll(dir)
		return snapshot.Snapshot{}, err
	}

	s.logger.Info("snapshot created",
		"snapshot_id", snap.ID, "label", label, "files", len(snap.Files))
	return snap, nil
}

// capturePath captures one declared path, walking directories recursively.
func (s *Service) capturePath(path, filesDir string, snap *snapshot.Snapshot) error {
	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return nil // path will be created by the call; nothing to capture
	}
	if err != nil {
		return fmt.Errorf("%w: stat %s: %v", snapshot.ErrFailure, path, err)
	}

	if !info.IsDir() {
		return s.captureFile(path, filesDir, info, snap)
	}

	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: walk %s: %v", snapshot.ErrFailure, p, err)
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return fmt.Errorf("%w: stat %s: %v", snapshot.ErrFailure, p, err)
		}
		return s.captureFile(p, filesDir, fi, snap)
	})
}

// captureFile copies one regular file into the content-addressed store.
func (s *Service) captureFile(path, filesDir string, info fs.FileInfo, snap *snapshot.Snapshot) error {
	if !info.Mode().IsRegular() {
		return nil
	}

	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", snapshot.ErrFailure, path, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filesDir, "capture-*")
	if err != nil {
		return fmt.Errorf("%w: temp file: %v", snapshot.ErrFailure, err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%w: copy %s: %v", snapshot.ErrFailure, path, err)
	}

	sum := hex.EncodeToString(h.Sum(nil))
	stored := filepath.Join(filesDir, sum)
	if _, serr := os.Stat(stored); os.IsNotExist(serr) {
		if err := os.Rename(tmp.Name(), stored); err != nil {
			return fmt.Errorf("%w: store %s: %v", snapshot.ErrFailure, path, err)
		}
	}

	snap.Files[path] = snapshot.FileSnapshot{
		Path:       path,
		StoredPath: stored,
		SHA256:     sum,
		Size:       size,
	}
	return nil
}

func (s *Service) writeIndex(dir string, snap snapshot.Snapshot) error {
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal index: %v", snapshot.ErrFailure, err)
	}
	if err := os.WriteFile(filepath.Join(dir, indexFile), raw, 0o644); err != nil {
		return fmt.Errorf("%w: write index: %v", snapshot.ErrFailure, err)
	}
	return nil
}

// Restore writes captured content back to the original paths. When targets
// is non-empty only files under those paths are restored. Files that were
// declared but absent at capture time are removed, undoing their creation.
// Returns the restored (or removed) paths.
func (s *Service) Restore(ctx context.Context, id string, targets []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var restored []string
	for _, p := range snap.Paths {
		if !pathSelected(p, targets) {
			continue
		}
		fsn, captured := snap.Files[p]
		if !captured {
			// Absent at capture: remove whatever the call created, if a
			// single file; directories declared-but-absent are left alone.
			if info, serr := os.Lstat(p); serr == nil && info.Mode().IsRegular() {
				if err := os.Remove(p); err != nil {
					return restored, fmt.Errorf("%w: remove %s: %v", snapshot.ErrFailure, p, err)
				}
				restored = append(restored, p)
			}
			continue
		}
		if err := restoreFile(fsn); err != nil {
			return restored, err
		}
		restored = append(restored, p)
	}

	// Captured files under a declared directory path.
	for p, fsn := range snap.Files {
		if containsString(restored, p) || !pathSelected(p, targets) {
			continue
		}
		if containsString(snap.Paths, p) {
			continue
		}
		if err := restoreFile(fsn); err != nil {
			return restored, err
		}
		restored = append(restored, p)
	}

	sort.Strings(restored)
	s.logger.Info("snapshot restored", "snapshot_id", id, "paths", len(restored))
	return restored, nil
}

func restoreFile(fsn snapshot.FileSnapshot) error {
	src, err := os.Open(fsn.StoredPath)
	if err != nil {
		return fmt.Errorf("%w: open stored copy for %s: %v", snapshot.ErrFailure, fsn.Path, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(fsn.Path), 0o755); err != nil {
		return fmt.Errorf("%w: create parent of %s: %v", snapshot.ErrFailure, fsn.Path, err)
	}
	dst, err := os.Create(fsn.Path)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", snapshot.ErrFailure, fsn.Path, err)
	}

	h := sha256.New()
	_, err = io.Copy(io.MultiWriter(dst, h), src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%w: restore %s: %v", snapshot.ErrFailure, fsn.Path, err)
	}
	if sum := hex.EncodeToString(h.Sum(nil)); sum != fsn.SHA256 {
		return fmt.Errorf("%w: stored copy for %s is corrupt (hash mismatch)", snapshot.ErrFailure, fsn.Path)
	}
	return nil
}

// Get returns a snapshot record by ID.
func (s *Service) Get(_ context.Context, id string) (snapshot.Snapshot, error) {
	raw, err := os.ReadFile(filepath.Join(s.root, id, indexFile))
	if os.IsNotExist(err) {
		return snapshot.Snapshot{}, fmt.Errorf("%w: %s", snapshot.ErrNotFound, id)
	}
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("%w: read index for %s: %v", snapshot.ErrFailure, id, err)
	}

	var snap snapshot.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("%w: parse index for %s: %v", snapshot.ErrFailure, id, err)
	}
	return snap, nil
}

// List returns all snapshot records, newest first. Directories without a
// readable index are skipped with a warning rather than failing the list.
func (s *Service) List(ctx context.Context) ([]snapshot.Snapshot, error) {
	dirs, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("%w: read snapshot root: %v", snapshot.ErrFailure, err)
	}

	var out []snapshot.Snapshot
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		snap, err := s.Get(ctx, d.Name())
		if err != nil {
			s.logger.Warn("skipping unreadable snapshot", "dir", d.Name(), "error", err)
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes a snapshot and its stored file copies. Deleting an unknown
// ID returns snapshot.ErrNotFound.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(s.root, id)); err != nil {
		return fmt.Errorf("%w: delete %s: %v", snapshot.ErrFailure, id, err)
	}
	s.logger.Info("snapshot deleted", "snapshot_id", id)
	return nil
}

// pathSelected reports whether p falls under any of the targets. An empty
// target list selects everything.
func pathSelected(p string, targets []string) bool {
	if len(targets) == 0 {
		return true
	}
	cp := filepath.Clean(p)
	for _, t := range targets {
		ct := filepath.Clean(t)
		if cp == ct || strings.HasPrefix(cp, ct+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
