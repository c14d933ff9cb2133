package gitcore

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/rybkr/kvgit/internal/blobstore"
)

// testSignature is a fixed identity so object hashes are deterministic
// across runs.
func testSignature() Signature {
	return NewSignature("A", "a@x", time.Unix(1700000000, 0).In(time.FixedZone("+0000", 0)))
}

func newTestODB(t *testing.T) *ObjectDB {
	t.Helper()
	return NewObjectDB(blobstore.NewMemoryStore(), SHA1)
}

func putBlob(t *testing.T, odb *ObjectDB, data string) Hash {
	t.Helper()
	hash, err := odb.PutBlob(context.Background(), []byte(data))
	if err != nil {
		t.Fatalf("PutBlob failed: %v", err)
	}
	return hash
}

func putTree(t *testing.T, odb *ObjectDB, entries ...TreeEntry) Hash {
	t.Helper()
	hash, err := odb.Put(context.Background(), &Tree{Entries: entries})
	if err != nil {
		t.Fatalf("Put tree failed: %v", err)
	}
	return hash
}

// putCommit stores a commit with the fixed test signature; the message
// doubles as a uniquifier.
func putCommit(t *testing.T, odb *ObjectDB, tree Hash, message string, parents ...Hash) Hash {
	t.Helper()
	hash, err := odb.Put(context.Background(), &Commit{
		Tree:      tree,
		Parents:   parents,
		Author:    testSignature(),
		Committer: testSignature(),
		Message:   message,
	})
	if err != nil {
		t.Fatalf("Put commit failed: %v", err)
	}
	return hash
}

// fakeWorktree is an in-memory Worktree for tests; mtimes advance by one
// microsecond per write so stat short-circuiting is observable.
type fakeWorktree struct {
	files map[string]*fakeFile
	clock int64
}

type fakeFile struct {
	data    []byte
	mode    FileMode
	mtimeNs int64
}

func newFakeWorktree() *fakeWorktree {
	return &fakeWorktree{files: make(map[string]*fakeFile), clock: 1000}
}

func (w *fakeWorktree) write(path, content string) {
	w.clock += 1000
	w.files[path] = &fakeFile{data: []byte(content), mode: ModeRegular, mtimeNs: w.clock}
}

func (w *fakeWorktree) ReadFile(_ context.Context, path string) ([]byte, error) {
	f, ok := w.files[path]
	if !ok {
		return nil, fmt.Errorf("%w: file %s", ErrNotFound, path)
	}
	return f.data, nil
}

func (w *fakeWorktree) WriteFile(_ context.Context, path string, data []byte, mode FileMode) error {
	w.clock += 1000
	w.files[path] = &fakeFile{data: data, mode: mode, mtimeNs: w.clock}
	return nil
}

func (w *fakeWorktree) Remove(_ context.Context, path string) error {
	delete(w.files, path)
	return nil
}

func (w *fakeWorktree) Stat(_ context.Context, path string) (WorktreeFile, error) {
	f, ok := w.files[path]
	if !ok {
		return WorktreeFile{}, fmt.Errorf("%w: file %s", ErrNotFound, path)
	}
	return WorktreeFile{Path: path, Mode: f.mode, Size: int64(len(f.data)), MtimeNs: f.mtimeNs}, nil
}

func (w *fakeWorktree) Walk(_ context.Context, fn func(WorktreeFile) error) error {
	paths := make([]string, 0, len(w.files))
	for path := range w.files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		file, _ := w.Stat(context.Background(), path)
		if err := fn(file); err != nil {
			return err
		}
	}
	return nil
}

// newTestRepo initializes a repository over fresh in-memory storage with
// the fixed test identity.
func newTestRepo(t *testing.T) (*Repository, *fakeWorktree) {
	t.Helper()
	wt := newFakeWorktree()
	repo, err := Init(context.Background(), blobstore.NewMemoryStore(), wt, Config{
		UserName:  "A",
		UserEmail: "a@x",
	})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return repo, wt
}

// commitFile writes, stages, and commits a single file, returning the
// commit hash.
func commitFile(t *testing.T, repo *Repository, wt *fakeWorktree, path, content, message string) Hash {
	t.Helper()
	ctx := context.Background()
	wt.write(path, content)
	if err := repo.Add(ctx, []string{path}, AddOptions{}); err != nil {
		t.Fatalf("Add(%s) failed: %v", path, err)
	}
	hash, err := repo.Commit(ctx, message, CommitOptions{})
	if err != nil {
		t.Fatalf("Commit(%q) failed: %v", message, err)
	}
	return hash
}
