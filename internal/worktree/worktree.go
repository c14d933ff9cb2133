// Package worktree provides the filesystem-like layer the Git core checks
// files out to: a thin path → blob mapping persisted in a blob store, with
// just enough stat bookkeeping (size, mtime) for the core's change
// detection to short-circuit.
package worktree

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rybkr/kvgit/internal/blobstore"
	"github.com/rybkr/kvgit/internal/gitcore"
)

const (
	// dataPrefix holds file contents, one key per path.
	dataPrefix = "files/"
	// metaPrefix holds the per-file stat record.
	metaPrefix = "filemeta/"
)

// fileMeta is the stat record stored next to each file's content.
type fileMeta struct {
	Mode    gitcore.FileMode `json:"mode"`
	Size    int64            `json:"size"`
	MtimeNs int64            `json:"mtimeNs"`
}

// StoreWorktree implements gitcore.Worktree over a blob store. It can share
// a store with a repository (the key prefixes do not collide with the
// core's) or live in a separate one.
type StoreWorktree struct {
	store blobstore.Store
	now   func() time.Time
}

// New creates a worktree over store.
func New(store blobstore.Store) *StoreWorktree {
	return &StoreWorktree{store: store, now: time.Now}
}

// NewWithClock creates a worktree with an injected clock, for tests that
// need deterministic mtimes.
func NewWithClock(store blobstore.Store, now func() time.Time) *StoreWorktree {
	return &StoreWorktree{store: store, now: now}
}

// ReadFile returns the content of the file at path.
func (w *StoreWorktree) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := gitcore.ValidatePath(path); err != nil {
		return nil, err
	}
	data, err := w.store.Get(ctx, dataPrefix+path)
	if err != nil {
		if errors.Is(err, blobstore.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: file %s", gitcore.ErrNotFound, path)
		}
		return nil, fmt.Errorf("worktree: reading %s: %w", path, err)
	}
	return data, nil
}

// WriteFile creates or replaces the file at path and refreshes its stat
// record.
func (w *StoreWorktree) WriteFile(ctx context.Context, path string, data []byte, mode gitcore.FileMode) error {
	if err := gitcore.ValidatePath(path); err != nil {
		return err
	}
	if !mode.IsFile() {
		return fmt.Errorf("%w: mode %s for file %s", gitcore.ErrInvalidName, mode, path)
	}

	if err := w.store.Set(ctx, dataPrefix+path, data); err != nil {
		return fmt.Errorf("worktree: writing %s: %w", path, err)
	}
	meta := fileMeta{Mode: mode, Size: int64(len(data)), MtimeNs: w.now().UnixNano()}
	return w.writeMeta(ctx, path, meta)
}

// Remove deletes the file at path. Removing a missing file is not an error.
func (w *StoreWorktree) Remove(ctx context.Context, path string) error {
	if err := gitcore.ValidatePath(path); err != nil {
		return err
	}
	if err := w.store.Delete(ctx, dataPrefix+path); err != nil {
		return fmt.Errorf("worktree: removing %s: %w", path, err)
	}
	if err := w.store.Delete(ctx, metaPrefix+path); err != nil {
		return fmt.Errorf("worktree: removing %s meta: %w", path, err)
	}
	return nil
}

// Stat returns the stat record for the file at path.
func (w *StoreWorktree) Stat(ctx context.Context, path string) (gitcore.WorktreeFile, error) {
	if err := gitcore.ValidatePath(path); err != nil {
		return gitcore.WorktreeFile{}, err
	}
	meta, err := w.readMeta(ctx, path)
	if err != nil {
		return gitcore.WorktreeFile{}, err
	}
	return gitcore.WorktreeFile{
		Path:    path,
		Mode:    meta.Mode,
		Size:    meta.Size,
		MtimeNs: meta.MtimeNs,
	}, nil
}

// Walk calls fn for every file. Files whose meta record is missing (the
// mapping layer may be mid-write) or whose key is not a valid path are
// skipped; any other error, including a meta record that does not decode,
// ends the walk.
func (w *StoreWorktree) Walk(ctx context.Context, fn func(gitcore.WorktreeFile) error) error {
	keys, err := w.store.List(ctx, metaPrefix)
	if err != nil {
		return fmt.Errorf("worktree: listing files: %w", err)
	}
	for _, key := range keys {
		path := strings.TrimPrefix(key, metaPrefix)
		file, err := w.Stat(ctx, path)
		if err != nil {
			if errors.Is(err, gitcore.ErrNotFound) || errors.Is(err, gitcore.ErrInvalidName) {
				continue
			}
			return err
		}
		if err := fn(file); err != nil {
			return err
		}
	}
	return nil
}

// readMeta loads and decodes a stat record.
func (w *StoreWorktree) readMeta(ctx context.Context, path string) (fileMeta, error) {
	raw, err := w.store.Get(ctx, metaPrefix+path)
	if err != nil {
		if errors.Is(err, blobstore.ErrKeyNotFound) {
			return fileMeta{}, fmt.Errorf("%w: file %s", gitcore.ErrNotFound, path)
		}
		return fileMeta{}, fmt.Errorf("worktree: reading %s meta: %w", path, err)
	}
	var meta fileMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return fileMeta{}, fmt.Errorf("%w: stat record for %s", gitcore.ErrCorrupt, path)
	}
	return meta, nil
}

// writeMeta encodes and stores a stat record.
func (w *StoreWorktree) writeMeta(ctx context.Context, path string, meta fileMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("worktree: encoding %s meta: %w", path, err)
	}
	if err := w.store.Set(ctx, metaPrefix+path, raw); err != nil {
		return fmt.Errorf("worktree: writing %s meta: %w", path, err)
	}
	return nil
}
