package gitcore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
)

// Status places every interesting path into at most one staged set and at
// most one working-tree set. The sets are pairwise disjoint within each
// dimension and sorted for deterministic output.
type Status struct {
	// Working tree vs index.
	Untracked       []string `json:"untracked"`
	Modified        []string `json:"modified"`
	UnstagedDeleted []string `json:"unstagedDeleted"`

	// Index vs HEAD tree.
	StagedAdded    []string `json:"stagedAdded"`
	StagedModified []string `json:"stagedModified"`
	StagedDeleted  []string `json:"stagedDeleted"`
}

// IsClean reports whether nothing differs between HEAD, index, and
// working tree.
func (s *Status) IsClean() bool {
	return len(s.Untracked) == 0 && len(s.Modified) == 0 && len(s.UnstagedDeleted) == 0 &&
		len(s.StagedAdded) == 0 && len(s.StagedModified) == 0 && len(s.StagedDeleted) == 0
}

// ComputeStatus compares the HEAD tree, the index, and the working tree.
// headTree may be zero for a repository with no commits. Files whose cached
// stat info matches the index are assumed unchanged without re-hashing;
// files whose stat differs but whose content hash still matches get their
// stat info refreshed in the index opportunistically.
func ComputeStatus(ctx context.Context, odb *ObjectDB, idx *Index, headTree Hash, wt Worktree, ignores *IgnoreList) (*Status, error) {
	status := &Status{}

	// Step 1: flatten the HEAD tree into a path → hash map.
	head := make(map[string]Hash)
	if !headTree.IsZero() {
		var err error
		head, err = flattenTree(ctx, odb, headTree, "")
		if err != nil {
			return nil, fmt.Errorf("ComputeStatus: flattening HEAD tree: %w", err)
		}
	}

	// Steps 2–3: index vs HEAD → staged sets.
	for _, entry := range idx.Entries() {
		headHash, inHead := head[entry.Path]
		switch {
		case !inHead:
			status.StagedAdded = append(status.StagedAdded, entry.Path)
		case headHash != entry.Hash:
			status.StagedModified = append(status.StagedModified, entry.Path)
		}
	}
	for path := range head {
		if _, inIndex := idx.Get(path); !inIndex {
			status.StagedDeleted = append(status.StagedDeleted, path)
		}
	}

	// Step 4: walk the working tree for untracked and modified files.
	hasher := NewHasher(odb.Algorithm())
	seen := make(map[string]bool)
	walkErr := wt.Walk(ctx, func(file WorktreeFile) error {
		if ignores.Ignored(file.Path, false) {
			return nil
		}
		seen[file.Path] = true

		entry, tracked := idx.Get(file.Path)
		if !tracked {
			status.Untracked = append(status.Untracked, file.Path)
			return nil
		}
		if file.statMatches(entry) {
			return nil
		}

		// Stat differs: re-hash to find out whether content really changed.
		data, err := wt.ReadFile(ctx, file.Path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", file.Path, err)
		}
		if hasher.HashObject(BlobObject, data) != entry.Hash {
			status.Modified = append(status.Modified, file.Path)
			return nil
		}

		// Content unchanged; refresh the cached stat so the next walk
		// short-circuits.
		entry.Size = file.Size
		entry.MtimeNs = file.MtimeNs
		entry.Mode = file.Mode
		return idx.Upsert(entry)
	})
	if walkErr != nil {
		return nil, fmt.Errorf("ComputeStatus: walking worktree: %w", walkErr)
	}

	// Step 5: index entries with no working-tree file.
	for _, entry := range idx.Entries() {
		if !seen[entry.Path] {
			status.UnstagedDeleted = append(status.UnstagedDeleted, entry.Path)
		}
	}

	for _, set := range [][]string{
		status.Untracked, status.Modified, status.UnstagedDeleted,
		status.StagedAdded, status.StagedModified, status.StagedDeleted,
	} {
		sort.Strings(set)
	}
	return status, nil
}

// flattenTree recursively walks the tree at treeHash and returns a map of
// every blob path (relative, slash-separated) to its hash. prefix
// accumulates the directory path during recursion and starts empty.
func flattenTree(ctx context.Context, odb *ObjectDB, treeHash Hash, prefix string) (map[string]Hash, error) {
	result := make(map[string]Hash)

	tree, err := odb.GetTree(ctx, treeHash)
	if err != nil {
		return nil, fmt.Errorf("flattenTree: reading tree %s: %w", treeHash, err)
	}

	for _, entry := range tree.Entries {
		fullPath := entry.Name
		if prefix != "" {
			fullPath = prefix + "/" + entry.Name
		}

		if entry.Mode.IsDir() {
			sub, err := flattenTree(ctx, odb, entry.ID, fullPath)
			if err != nil {
				return nil, err
			}
			maps.Copy(result, sub)
		} else {
			result[fullPath] = entry.ID
		}
	}

	return result, nil
}

// readBlobAtPath walks from a root tree through a slash-separated file path
// and returns the blob content at the leaf. It never touches the working
// tree.
func readBlobAtPath(ctx context.Context, odb *ObjectDB, rootTree Hash, path string) ([]byte, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	current := rootTree
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		tree, err := odb.GetTree(ctx, current)
		if err != nil {
			return nil, err
		}
		entry, found := tree.Lookup(segment)
		if !found {
			return nil, fmt.Errorf("%w: path %s", ErrNotFound, path)
		}

		last := i == len(segments)-1
		switch {
		case last && entry.Mode.IsDir():
			return nil, fmt.Errorf("%w: path %s", ErrIsDir, path)
		case last:
			return odb.GetBlob(ctx, entry.ID)
		case !entry.Mode.IsDir():
			return nil, fmt.Errorf("%w: path component %s", ErrNotDir, segment)
		}
		current = entry.ID
	}
	return nil, errors.New("unreachable")
}
