// Package gitcore implements a client-side Git core — object model,
// content-addressed object database, reference store, index, status, merge
// and diff engines — entirely against an abstract key/value blob store, so
// it can run in constrained environments such as browsers.
package gitcore

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rybkr/kvgit/internal/blobstore"
)

// Store keys owned by the repository besides objects/ and refs.
const (
	configKey = "config"
	indexKey  = "index"

	headRef      = "HEAD"
	mergeHeadRef = "MERGE_HEAD"

	branchPrefix = "refs/heads/"
	tagPrefix    = "refs/tags/"
)

// Repository ties the subsystems together and enforces the cross-step
// invariants of multi-step operations. At most one writer runs at a time
// (mu); readers work against the object database and a ref snapshot taken
// at entry. Every mutation becomes visible at its final ref write.
type Repository struct {
	store  blobstore.Store
	odb    *ObjectDB
	refs   *RefStore
	wt     Worktree
	config Config
	logger *slog.Logger

	ignores *IgnoreList

	mu sync.Mutex
}

// Init creates a new repository in store: config, empty index, and HEAD
// pointing at the unborn default branch. It fails with ErrAlreadyExists if
// the store already holds a repository. wt may be nil for a bare
// repository (cfg.Bare is then forced true).
func Init(ctx context.Context, store blobstore.Store, wt Worktree, cfg Config) (*Repository, error) {
	cfg = cfg.withDefaults()
	if wt == nil {
		cfg.Bare = true
	}

	exists, err := store.Exists(ctx, configKey)
	if err != nil {
		return nil, fmt.Errorf("init: probing store: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: repository already initialized", ErrAlreadyExists)
	}
	if err := ValidateRefName(branchPrefix + cfg.DefaultBranch); err != nil {
		return nil, err
	}

	if err := store.Set(ctx, configKey, cfg.encode()); err != nil {
		return nil, fmt.Errorf("init: writing config: %w", err)
	}

	repo := newRepository(store, wt, cfg)

	emptyIndex := NewIndex(cfg.HashAlgorithm)
	if err := repo.saveIndex(ctx, emptyIndex); err != nil {
		return nil, fmt.Errorf("init: writing index: %w", err)
	}

	if err := repo.refs.WriteSymbolic(ctx, headRef, branchPrefix+cfg.DefaultBranch); err != nil {
		return nil, fmt.Errorf("init: writing HEAD: %w", err)
	}

	return repo, nil
}

// Open loads an existing repository from store, failing with ErrNotARepo
// when no config is present.
func Open(ctx context.Context, store blobstore.Store, wt Worktree) (*Repository, error) {
	data, err := store.Get(ctx, configKey)
	if err != nil {
		if errors.Is(err, blobstore.ErrKeyNotFound) {
			return nil, ErrNotARepo
		}
		return nil, fmt.Errorf("open: reading config: %w", err)
	}
	cfg, err := parseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if cfg.Bare {
		wt = nil
	}
	return newRepository(store, wt, cfg), nil
}

func newRepository(store blobstore.Store, wt Worktree, cfg Config) *Repository {
	return &Repository{
		store:  store,
		odb:    NewObjectDB(store, cfg.HashAlgorithm),
		refs:   NewRefStore(store),
		wt:     wt,
		config: cfg,
		logger: slog.Default(),
	}
}

// SetLogger replaces the repository's logger (slog.Default() initially).
func (r *Repository) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// SetIgnorePatterns installs the ignore rules applied by Add and Status.
// The filesystem layer reads .gitignore-style files and hands the lines in.
func (r *Repository) SetIgnorePatterns(lines []string) {
	r.ignores = NewIgnoreList(lines)
}

// Config returns the repository configuration.
func (r *Repository) Config() Config { return r.config }

// Objects returns the object database.
func (r *Repository) Objects() *ObjectDB { return r.odb }

// Refs returns the reference store.
func (r *Repository) Refs() *RefStore { return r.refs }

// Worktree returns the working tree, nil for bare repositories.
func (r *Repository) Worktree() Worktree { return r.wt }

// requireWorktree guards operations that touch the working tree.
func (r *Repository) requireWorktree() error {
	if r.wt == nil {
		return ErrBareRepo
	}
	return nil
}

// loadIndex reads the staged index from the store. A missing index (never
// saved) is an empty one.
func (r *Repository) loadIndex(ctx context.Context) (*Index, error) {
	data, err := r.store.Get(ctx, indexKey)
	if err != nil {
		if errors.Is(err, blobstore.ErrKeyNotFound) {
			return NewIndex(r.config.HashAlgorithm), nil
		}
		return nil, fmt.Errorf("loading index: %w", err)
	}
	idx, err := DecodeIndex(data, r.config.HashAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("loading index: %w", err)
	}
	return idx, nil
}

// saveIndex writes the index out atomically (the store's Set is atomic per
// key) and marks it clean.
func (r *Repository) saveIndex(ctx context.Context, idx *Index) error {
	data, err := idx.Encode()
	if err != nil {
		return fmt.Errorf("saving index: %w", err)
	}
	if err := r.store.Set(ctx, indexKey, data); err != nil {
		return fmt.Errorf("saving index: %w", err)
	}
	idx.markClean()
	return nil
}

// HeadState describes the current checkout pointer: on a branch (possibly
// unborn, Hash zero) or detached at a commit.
type HeadState struct {
	Branch   string `json:"branch,omitempty"`
	Hash     Hash   `json:"hash,omitempty"`
	Detached bool   `json:"detached"`
}

// Head reports the current HEAD state.
func (r *Repository) Head(ctx context.Context) (HeadState, error) {
	ref, err := r.refs.Read(ctx, headRef)
	if err != nil {
		return HeadState{}, fmt.Errorf("reading HEAD: %w", err)
	}

	if !ref.IsSymbolic() {
		return HeadState{Hash: ref.Target, Detached: true}, nil
	}

	branch := strings.TrimPrefix(ref.SymbolicTarget, branchPrefix)
	state := HeadState{Branch: branch}
	target, err := r.refs.Resolve(ctx, headRef)
	switch {
	case errors.Is(err, ErrNotFound):
		// Unborn branch: no commits yet.
		return state, nil
	case err != nil:
		return HeadState{}, err
	}
	state.Hash = target
	return state, nil
}

// headTree returns the root tree of the HEAD commit, zero when unborn.
func (r *Repository) headTree(ctx context.Context) (Hash, error) {
	head, err := r.Head(ctx)
	if err != nil {
		return "", err
	}
	if head.Hash.IsZero() {
		return "", nil
	}
	commit, err := r.odb.GetCommit(ctx, head.Hash)
	if err != nil {
		return "", err
	}
	return commit.Tree, nil
}

// ResolveRevision maps a revision expression to a commit hash. Accepted
// forms: "HEAD", a branch name, a tag name (annotated tags peel to their
// target commit), a full ref name, or a full hex hash.
func (r *Repository) ResolveRevision(ctx context.Context, rev string) (Hash, error) {
	if rev == "" {
		return "", fmt.Errorf("%w: empty revision", ErrInvalidName)
	}

	if rev == headRef {
		head, err := r.Head(ctx)
		if err != nil {
			return "", err
		}
		if head.Hash.IsZero() {
			return "", fmt.Errorf("%w: HEAD is unborn", ErrNotFound)
		}
		return head.Hash, nil
	}

	// Exact ref, branch, then tag.
	candidates := []string{rev, branchPrefix + rev, tagPrefix + rev}
	if !strings.HasPrefix(rev, "refs/") && !reservedRefNames[rev] {
		candidates = candidates[1:]
	}
	for _, name := range candidates {
		target, err := r.refs.Resolve(ctx, name)
		if err == nil {
			return r.peel(ctx, target)
		}
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrInvalidName) {
			return "", err
		}
	}

	// A full hash, if such an object exists.
	if hash, err := NewHash(rev); err == nil {
		ok, err := r.odb.Has(ctx, hash)
		if err != nil {
			return "", err
		}
		if ok {
			return r.peel(ctx, hash)
		}
	}

	return "", fmt.Errorf("%w: revision %q", ErrNotFound, rev)
}

// peel follows annotated tags until a non-tag object is reached.
func (r *Repository) peel(ctx context.Context, hash Hash) (Hash, error) {
	for depth := 0; depth < maxSymrefDepth; depth++ {
		obj, err := r.odb.Get(ctx, hash)
		if err != nil {
			return "", err
		}
		tag, isTag := obj.(*Tag)
		if !isTag {
			return hash, nil
		}
		hash = tag.Object
	}
	return "", fmt.Errorf("%w: tag chain too deep at %s", ErrRefTooDeep, hash.Short())
}

// AddOptions controls staging behavior.
type AddOptions struct {
	// Force stages files that the ignore rules would exclude.
	Force bool
	// UpdateOnly refreshes entries already in the index and never adds
	// new paths.
	UpdateOnly bool
}

// Add resolves path patterns against the working tree, hashes each
// surviving file into the object database, and upserts index entries with
// fresh stat info. A pattern is an exact path, a directory prefix, or a
// glob; "." matches everything.
func (r *Repository) Add(ctx context.Context, patterns []string, opts AddOptions) error {
	if err := r.requireWorktree(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	idx, err := r.loadIndex(ctx)
	if err != nil {
		return err
	}

	staged := 0
	walkErr := r.wt.Walk(ctx, func(file WorktreeFile) error {
		if !matchesAnyPattern(file.Path, patterns) {
			return nil
		}
		_, tracked := idx.Get(file.Path)
		if opts.UpdateOnly && !tracked {
			return nil
		}
		// Ignore rules never hide files that are already tracked.
		if !opts.Force && !tracked && r.ignores.Ignored(file.Path, false) {
			return nil
		}

		data, err := r.wt.ReadFile(ctx, file.Path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", file.Path, err)
		}
		blobHash, err := r.odb.PutBlob(ctx, data)
		if err != nil {
			return fmt.Errorf("storing blob for %s: %w", file.Path, err)
		}

		mode := file.Mode
		if !mode.IsFile() {
			mode = ModeRegular
		}
		staged++
		return idx.Upsert(IndexEntry{
			Path:    file.Path,
			Mode:    mode,
			Hash:    blobHash,
			Size:    file.Size,
			MtimeNs: file.MtimeNs,
			CtimeNs: file.MtimeNs,
		})
	})
	if walkErr != nil {
		if ctx.Err() != nil {
			return cancelled(ctx.Err())
		}
		return fmt.Errorf("add: %w", walkErr)
	}

	if staged == 0 && !opts.UpdateOnly {
		return fmt.Errorf("%w: no paths matched", ErrNotFound)
	}
	return r.saveIndex(ctx, idx)
}

// matchesAnyPattern reports whether path is selected by one of the add
// patterns.
func matchesAnyPattern(path string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pattern := range patterns {
		pattern = strings.TrimSuffix(pattern, "/")
		if pattern == "" || pattern == "." {
			return true
		}
		if pattern == path || strings.HasPrefix(path, pattern+"/") {
			return true
		}
		if matchGlob(pattern, path) {
			return true
		}
	}
	return false
}

// RemoveOptions controls Remove.
type RemoveOptions struct {
	// Cached removes the path from the index only, leaving the working
	// tree file in place.
	Cached bool
}

// Remove unstages a path and, unless Cached, deletes the working-tree file.
func (r *Repository) Remove(ctx context.Context, path string, opts RemoveOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	idx, err := r.loadIndex(ctx)
	if err != nil {
		return err
	}
	if !idx.Remove(path) {
		return fmt.Errorf("%w: path %s is not staged", ErrNotFound, path)
	}
	if !opts.Cached {
		if err := r.requireWorktree(); err != nil {
			return err
		}
		if err := r.wt.Remove(ctx, path); err != nil {
			return fmt.Errorf("removing %s: %w", path, err)
		}
	}
	return r.saveIndex(ctx, idx)
}

// CommitOptions controls commit creation.
type CommitOptions struct {
	// Author and Committer default to the configured user identity at the
	// current time.
	Author    *Signature
	Committer *Signature
	// AllowEmpty permits a commit whose tree matches its parent's.
	AllowEmpty bool
}

// Commit materializes the index into a tree, writes a commit object, and
// advances HEAD (the branch ref when on a branch, HEAD itself when
// detached) with a compare-and-set against the head observed at entry.
func (r *Repository) Commit(ctx context.Context, message string, opts CommitOptions) (Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", cancelled(err)
	}

	head, err := r.Head(ctx)
	if err != nil {
		return "", err
	}

	idx, err := r.loadIndex(ctx)
	if err != nil {
		return "", err
	}
	treeHash, err := idx.WriteTree(ctx, r.odb)
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	var parents []Hash
	if !head.Hash.IsZero() {
		parents = []Hash{head.Hash}
		if !opts.AllowEmpty {
			parentCommit, err := r.odb.GetCommit(ctx, head.Hash)
			if err != nil {
				return "", err
			}
			if parentCommit.Tree == treeHash {
				return "", ErrNothingToCommit
			}
		}
	} else if idx.Len() == 0 && !opts.AllowEmpty {
		return "", ErrNothingToCommit
	}

	commitHash, err := r.writeCommit(ctx, treeHash, parents, message, opts)
	if err != nil {
		return "", err
	}

	if err := r.advanceHead(ctx, head, commitHash); err != nil {
		return "", err
	}

	// Commit leaves the index clean with fresh stats already recorded.
	if idx.Dirty() {
		if err := r.saveIndex(ctx, idx); err != nil {
			return "", err
		}
	}
	return commitHash, nil
}

// writeCommit builds and stores a commit object.
func (r *Repository) writeCommit(ctx context.Context, tree Hash, parents []Hash, message string, opts CommitOptions) (Hash, error) {
	author := r.defaultSignature()
	if opts.Author != nil {
		author = *opts.Author
	}
	committer := author
	if opts.Committer != nil {
		committer = *opts.Committer
	}

	commit := &Commit{
		Tree:      tree,
		Parents:   parents,
		Author:    author,
		Committer: committer,
		Message:   message,
	}
	hash, err := r.odb.Put(ctx, commit)
	if err != nil {
		return "", fmt.Errorf("storing commit: %w", err)
	}
	return hash, nil
}

// defaultSignature builds a signature from the configured identity at the
// current instant.
func (r *Repository) defaultSignature() Signature {
	return NewSignature(r.config.UserName, r.config.UserEmail, time.Now())
}

// advanceHead moves the branch ref (or detached HEAD) from the head
// observed at operation entry to commit. The CAS makes the ref write the
// linearization point: losing it means a concurrent writer won.
func (r *Repository) advanceHead(ctx context.Context, head HeadState, commit Hash) error {
	expected := head.Hash
	if head.Detached {
		return r.refs.Write(ctx, headRef, commit, &expected)
	}
	if expected.IsZero() {
		expected = r.config.HashAlgorithm.Zero()
	}
	return r.refs.Write(ctx, branchPrefix+head.Branch, commit, &expected)
}

// Status computes the working-tree status. The index may be refreshed
// opportunistically (stat-only changes), so Status takes the writer lock.
func (r *Repository) Status(ctx context.Context) (*Status, error) {
	if err := r.requireWorktree(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}

	idx, err := r.loadIndex(ctx)
	if err != nil {
		return nil, err
	}
	tree, err := r.headTree(ctx)
	if err != nil {
		return nil, err
	}

	status, err := ComputeStatus(ctx, r.odb, idx, tree, r.wt, r.ignores)
	if err != nil {
		return nil, err
	}
	if idx.Dirty() {
		if err := r.saveIndex(ctx, idx); err != nil {
			return nil, err
		}
	}
	return status, nil
}

// commitHeap is a max-heap of commits sorted by committer date (newest first).
type commitHeap []*Commit

func (h commitHeap) Len() int { return len(h) }

func (h commitHeap) Less(i, j int) bool {
	return h[i].Committer.When.After(h[j].Committer.When)
}

func (h commitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *commitHeap) Push(x any) {
	*h = append(*h, x.(*Commit)) //nolint:errcheck // heap only stores *Commit
}

func (h *commitHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Log walks from HEAD through parents in reverse chronological order.
// If maxCount <= 0 all reachable commits are returned.
func (r *Repository) Log(ctx context.Context, maxCount int) ([]*Commit, error) {
	head, err := r.Head(ctx)
	if err != nil {
		return nil, err
	}
	if head.Hash.IsZero() {
		return nil, nil
	}
	return r.LogFrom(ctx, head.Hash, maxCount)
}

// LogFrom walks from the given commit through parents, newest first.
func (r *Repository) LogFrom(ctx context.Context, start Hash, maxCount int) ([]*Commit, error) {
	startCommit, err := r.odb.GetCommit(ctx, start)
	if err != nil {
		return nil, err
	}

	visited := map[Hash]bool{start: true}
	h := &commitHeap{}
	heap.Init(h)
	heap.Push(h, startCommit)

	var result []*Commit
	for h.Len() > 0 {
		if maxCount > 0 && len(result) >= maxCount {
			break
		}
		c := heap.Pop(h).(*Commit) //nolint:errcheck // heap only stores *Commit
		result = append(result, c)

		for _, parentHash := range c.Parents {
			if visited[parentHash] {
				continue
			}
			visited[parentHash] = true
			parent, err := r.odb.GetCommit(ctx, parentHash)
			if err != nil {
				return nil, err
			}
			heap.Push(h, parent)
		}
	}
	return result, nil
}

// CreateBranch creates a branch at the given commit (HEAD when `at` is
// zero). An existing branch of the same name fails with ErrAlreadyExists.
func (r *Repository) CreateBranch(ctx context.Context, name string, at Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if at.IsZero() {
		head, err := r.Head(ctx)
		if err != nil {
			return err
		}
		if head.Hash.IsZero() {
			return fmt.Errorf("%w: cannot branch from unborn HEAD", ErrNotFound)
		}
		at = head.Hash
	}

	mustNotExist := r.config.HashAlgorithm.Zero()
	err := r.refs.Write(ctx, branchPrefix+name, at, &mustNotExist)
	if errors.Is(err, ErrRefUpdateConflict) {
		return fmt.Errorf("%w: branch %s", ErrAlreadyExists, name)
	}
	return err
}

// DeleteBranch removes a branch. The currently checked-out branch cannot
// be deleted.
func (r *Repository) DeleteBranch(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	head, err := r.Head(ctx)
	if err != nil {
		return err
	}
	if !head.Detached && head.Branch == name {
		return fmt.Errorf("%w: branch %s is checked out", ErrRefUpdateConflict, name)
	}
	if _, err := r.refs.Read(ctx, branchPrefix+name); err != nil {
		return err
	}
	return r.refs.Delete(ctx, branchPrefix+name)
}

// Branches lists all branches sorted by name.
func (r *Repository) Branches(ctx context.Context) ([]Ref, error) {
	return r.refs.List(ctx, branchPrefix)
}

// CreateTag creates a tag at the given commit (HEAD when `at` is zero).
// With a message an annotated tag object is created; otherwise the tag is
// a lightweight ref.
func (r *Repository) CreateTag(ctx context.Context, name string, at Hash, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if at.IsZero() {
		head, err := r.Head(ctx)
		if err != nil {
			return err
		}
		if head.Hash.IsZero() {
			return fmt.Errorf("%w: cannot tag unborn HEAD", ErrNotFound)
		}
		at = head.Hash
	}

	target := at
	if message != "" {
		tag := &Tag{
			Object:  at,
			ObjType: CommitObject,
			Name:    name,
			Tagger:  r.defaultSignature(),
			Message: message,
		}
		tagHash, err := r.odb.Put(ctx, tag)
		if err != nil {
			return fmt.Errorf("storing tag object: %w", err)
		}
		target = tagHash
	}

	mustNotExist := r.config.HashAlgorithm.Zero()
	err := r.refs.Write(ctx, tagPrefix+name, target, &mustNotExist)
	if errors.Is(err, ErrRefUpdateConflict) {
		return fmt.Errorf("%w: tag %s", ErrAlreadyExists, name)
	}
	return err
}

// DeleteTag removes a tag ref (the tag object, if any, stays in the
// object database).
func (r *Repository) DeleteTag(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.refs.Read(ctx, tagPrefix+name); err != nil {
		return err
	}
	return r.refs.Delete(ctx, tagPrefix+name)
}

// Tags lists all tag refs sorted by name.
func (r *Repository) Tags(ctx context.Context) ([]Ref, error) {
	return r.refs.List(ctx, tagPrefix)
}

// CheckoutOptions controls checkout behavior.
type CheckoutOptions struct {
	// Force discards local modifications instead of refusing.
	Force bool
	// Detach checks out the commit directly even when rev names a branch.
	Detach bool
}

// Checkout switches HEAD to a branch or commit and synchronizes the
// working tree and index with the target commit's tree. A dirty working
// tree refuses the checkout unless forced.
func (r *Repository) Checkout(ctx context.Context, rev string, opts CheckoutOptions) error {
	if err := r.requireWorktree(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	// A branch name checks out symbolically unless detaching.
	branch := ""
	if !opts.Detach {
		if _, err := r.refs.Read(ctx, branchPrefix+rev); err == nil {
			branch = rev
		}
	}

	target, err := r.ResolveRevision(ctx, rev)
	if err != nil {
		return err
	}
	commit, err := r.odb.GetCommit(ctx, target)
	if err != nil {
		return err
	}

	if !opts.Force {
		clean, err := r.isClean(ctx)
		if err != nil {
			return err
		}
		if !clean {
			return ErrDirtyWorkingTree
		}
	}

	if err := r.materializeTree(ctx, commit.Tree); err != nil {
		return err
	}

	if branch != "" {
		return r.refs.WriteSymbolic(ctx, headRef, branchPrefix+branch)
	}
	return r.refs.Write(ctx, headRef, target, nil)
}

// isClean computes whether HEAD, index, and working tree all agree.
func (r *Repository) isClean(ctx context.Context) (bool, error) {
	idx, err := r.loadIndex(ctx)
	if err != nil {
		return false, err
	}
	tree, err := r.headTree(ctx)
	if err != nil {
		return false, err
	}
	status, err := ComputeStatus(ctx, r.odb, idx, tree, r.wt, r.ignores)
	if err != nil {
		return false, err
	}
	return status.IsClean(), nil
}

// materializeTree writes a commit tree into the working tree, removes
// tracked files absent from it, and rebuilds the index to match.
func (r *Repository) materializeTree(ctx context.Context, tree Hash) error {
	entries, err := flattenTreeEntries(ctx, r.odb, tree, "")
	if err != nil {
		return err
	}

	oldIdx, err := r.loadIndex(ctx)
	if err != nil {
		return err
	}

	// Remove tracked paths that the target tree no longer has.
	for _, entry := range oldIdx.Entries() {
		if _, keep := entries[entry.Path]; !keep {
			if err := r.wt.Remove(ctx, entry.Path); err != nil {
				return fmt.Errorf("removing %s: %w", entry.Path, err)
			}
		}
	}

	newIdx := NewIndex(r.config.HashAlgorithm)
	for path, entry := range entries {
		data, err := r.odb.GetBlob(ctx, entry.ID)
		if err != nil {
			return fmt.Errorf("checkout %s: %w", path, err)
		}
		if err := r.wt.WriteFile(ctx, path, data, entry.Mode); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		stat, err := r.wt.Stat(ctx, path)
		if err != nil {
			return fmt.Errorf("stat %s after write: %w", path, err)
		}
		if err := newIdx.Upsert(IndexEntry{
			Path:    path,
			Mode:    entry.Mode,
			Hash:    entry.ID,
			Size:    stat.Size,
			MtimeNs: stat.MtimeNs,
			CtimeNs: stat.MtimeNs,
		}); err != nil {
			return err
		}
	}
	return r.saveIndex(ctx, newIdx)
}

// TreeAt walks from a commit's root tree through a slash-separated
// directory path (e.g. "src/util") and returns the tree at that location.
// An empty dirPath returns the root tree itself.
func (r *Repository) TreeAt(ctx context.Context, commitHash Hash, dirPath string) (*Tree, error) {
	commit, err := r.odb.GetCommit(ctx, commitHash)
	if err != nil {
		return nil, err
	}

	current := commit.Tree
	dirPath = strings.Trim(dirPath, "/")
	if dirPath == "" {
		return r.odb.GetTree(ctx, current)
	}

	for _, component := range strings.Split(dirPath, "/") {
		tree, err := r.odb.GetTree(ctx, current)
		if err != nil {
			return nil, err
		}
		entry, found := tree.Lookup(component)
		if !found {
			return nil, fmt.Errorf("%w: path component %q", ErrNotFound, component)
		}
		if !entry.Mode.IsDir() {
			return nil, fmt.Errorf("%w: path component %q", ErrNotDir, component)
		}
		current = entry.ID
	}
	return r.odb.GetTree(ctx, current)
}

// ReadBlobAt returns the content of path in the given commit, reading
// purely from the object database. The working tree is never touched.
func (r *Repository) ReadBlobAt(ctx context.Context, commitHash Hash, path string) ([]byte, error) {
	commit, err := r.odb.GetCommit(ctx, commitHash)
	if err != nil {
		return nil, err
	}
	return readBlobAtPath(ctx, r.odb, commit.Tree, path)
}

// MergeOptions controls merge behavior.
type MergeOptions struct {
	// NoFF forces a merge commit even when a fast-forward is possible.
	NoFF bool
	// Message overrides the default merge commit message.
	Message string
}

// MergeOutcome reports what a merge did.
type MergeOutcome struct {
	// AlreadyUpToDate means theirs was already reachable from HEAD.
	AlreadyUpToDate bool
	// FastForward means the branch ref moved with no new commit.
	FastForward bool
	// Commit is the merge commit (or fast-forward target) when the merge
	// completed.
	Commit Hash
	// Conflicts is non-empty when the merge stopped; no commit was
	// created and MERGE_HEAD is set for a later resolution.
	Conflicts []Conflict
}

// Merge merges the given revision into the current branch. Fast-forwards
// move the ref unless NoFF; otherwise a three-way tree merge runs and
// either a merge commit with parents (ours, theirs) is created or the
// conflicts are reported with marker text materialized into the working
// tree.
func (r *Repository) Merge(ctx context.Context, rev string, opts MergeOptions) (*MergeOutcome, error) {
	if err := r.requireWorktree(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}

	head, err := r.Head(ctx)
	if err != nil {
		return nil, err
	}
	if head.Detached {
		return nil, fmt.Errorf("%w: merge requires a branch checkout", ErrInvalidName)
	}
	if head.Hash.IsZero() {
		return nil, fmt.Errorf("%w: cannot merge into unborn HEAD", ErrNotFound)
	}

	theirs, err := r.ResolveRevision(ctx, rev)
	if err != nil {
		return nil, err
	}
	ours := head.Hash

	clean, err := r.isClean(ctx)
	if err != nil {
		return nil, err
	}
	if !clean {
		return nil, ErrDirtyWorkingTree
	}

	// Nothing to do when theirs is already behind us.
	behind, err := IsAncestor(ctx, r.odb, theirs, ours)
	if err != nil {
		return nil, err
	}
	if behind {
		return &MergeOutcome{AlreadyUpToDate: true, Commit: ours}, nil
	}

	ff, err := CanFastForward(ctx, r.odb, ours, theirs)
	if err != nil {
		return nil, err
	}
	if ff && !opts.NoFF {
		if err := r.refs.Write(ctx, branchPrefix+head.Branch, theirs, &ours); err != nil {
			return nil, err
		}
		theirCommit, err := r.odb.GetCommit(ctx, theirs)
		if err != nil {
			return nil, err
		}
		if err := r.materializeTree(ctx, theirCommit.Tree); err != nil {
			return nil, err
		}
		return &MergeOutcome{FastForward: true, Commit: theirs}, nil
	}

	base, err := MergeBase(ctx, r.odb, ours, theirs)
	if err != nil {
		return nil, err
	}

	baseTree, err := r.commitTree(ctx, base)
	if err != nil {
		return nil, err
	}
	oursTree, err := r.commitTree(ctx, ours)
	if err != nil {
		return nil, err
	}
	theirsTree, err := r.commitTree(ctx, theirs)
	if err != nil {
		return nil, err
	}

	result, err := MergeTrees(ctx, r.odb, baseTree, oursTree, theirsTree)
	if err != nil {
		return nil, err
	}

	if len(result.Conflicts) > 0 {
		// Record the in-progress merge and materialize conflict markers
		// so the user can resolve them in place.
		if err := r.refs.Write(ctx, mergeHeadRef, theirs, nil); err != nil {
			return nil, err
		}
		for _, conflict := range result.Conflicts {
			if len(conflict.MergedText) == 0 {
				continue
			}
			mode := ModeRegular
			if conflict.Ours != nil {
				mode = conflict.Ours.Mode
			}
			if err := r.wt.WriteFile(ctx, conflict.Path, conflict.MergedText, mode); err != nil {
				return nil, fmt.Errorf("writing conflict markers to %s: %w", conflict.Path, err)
			}
		}
		return &MergeOutcome{Conflicts: result.Conflicts}, nil
	}

	message := opts.Message
	if message == "" {
		message = fmt.Sprintf("Merge %s into %s\n", rev, head.Branch)
	}
	mergeCommit, err := r.writeCommit(ctx, result.Tree, []Hash{ours, theirs}, message, CommitOptions{})
	if err != nil {
		return nil, err
	}
	if err := r.refs.Write(ctx, branchPrefix+head.Branch, mergeCommit, &ours); err != nil {
		return nil, err
	}
	if err := r.materializeTree(ctx, result.Tree); err != nil {
		return nil, err
	}
	_ = r.refs.Delete(ctx, mergeHeadRef)
	return &MergeOutcome{Commit: mergeCommit}, nil
}

// commitTree returns the root tree hash of a commit.
func (r *Repository) commitTree(ctx context.Context, commitHash Hash) (Hash, error) {
	commit, err := r.odb.GetCommit(ctx, commitHash)
	if err != nil {
		return "", err
	}
	return commit.Tree, nil
}

// DiffCommits computes the tree-level diff between two commits.
func (r *Repository) DiffCommits(ctx context.Context, oldRev, newRev string) ([]DiffEntry, error) {
	oldHash, err := r.ResolveRevision(ctx, oldRev)
	if err != nil {
		return nil, err
	}
	newHash, err := r.ResolveRevision(ctx, newRev)
	if err != nil {
		return nil, err
	}
	oldTree, err := r.commitTree(ctx, oldHash)
	if err != nil {
		return nil, err
	}
	newTree, err := r.commitTree(ctx, newHash)
	if err != nil {
		return nil, err
	}
	return DiffTrees(ctx, r.odb, oldTree, newTree)
}
