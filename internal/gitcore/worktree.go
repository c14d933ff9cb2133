package gitcore

import (
	"context"
)

// WorktreeFile is the stat record the core needs from the working tree:
// enough to short-circuit content hashing when nothing changed.
type WorktreeFile struct {
	Path    string   `json:"path"`
	Mode    FileMode `json:"mode"`
	Size    int64    `json:"size"`
	MtimeNs int64    `json:"mtimeNs"`
}

// statMatches reports whether an index entry's cached stat info still
// describes the file, allowing the status walk to skip re-hashing.
func (f WorktreeFile) statMatches(entry IndexEntry) bool {
	return f.Size == entry.Size && f.MtimeNs == entry.MtimeNs && f.Mode == entry.Mode
}

// Worktree is the filesystem-like layer the core checks files out to and
// stages files from. It is a thin path → blob mapping maintained outside
// the core (browser filesystem, disk, memory); paths are relative and
// slash-separated. All calls may suspend at the underlying storage.
type Worktree interface {
	// ReadFile returns the content of the file at path, or ErrNotFound.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile creates or replaces the file at path.
	WriteFile(ctx context.Context, path string, data []byte, mode FileMode) error

	// Remove deletes the file at path. Removing a missing file is not an
	// error.
	Remove(ctx context.Context, path string) error

	// Stat returns the file's stat record, or ErrNotFound.
	Stat(ctx context.Context, path string) (WorktreeFile, error)

	// Walk calls fn for every file, in unspecified order. Returning an
	// error from fn aborts the walk with that error.
	Walk(ctx context.Context, fn func(WorktreeFile) error) error
}
