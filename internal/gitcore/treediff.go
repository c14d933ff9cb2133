package gitcore

import (
	"context"
	"fmt"
	"sort"
)

// DiffStatus represents the type of change applied to a file in a tree diff.
type DiffStatus int

const (
	// DiffStatusAdded represents a diff addition.
	DiffStatusAdded DiffStatus = iota
	// DiffStatusModified represents a diff modification.
	DiffStatusModified
	// DiffStatusDeleted represents a diff deletion.
	DiffStatusDeleted
)

// String returns the string representation of a DiffStatus.
func (s DiffStatus) String() string {
	switch s {
	case DiffStatusAdded:
		return "added"
	case DiffStatusModified:
		return "modified"
	case DiffStatusDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// DiffEntry represents a single file change between two trees.
type DiffEntry struct {
	Path    string     `json:"path"`
	Status  DiffStatus `json:"status"`
	OldHash Hash       `json:"oldHash,omitempty"`
	NewHash Hash       `json:"newHash,omitempty"`
	OldMode FileMode   `json:"oldMode,omitempty"`
	NewMode FileMode   `json:"newMode,omitempty"`
}

// DiffStats summarizes a set of file diffs.
type DiffStats struct {
	FilesChanged int `json:"filesChanged"`
	Insertions   int `json:"insertions"`
	Deletions    int `json:"deletions"`
}

// DiffTrees recursively compares two trees and returns the changed files,
// sorted by path. Either hash may be zero, meaning the empty tree (root
// commits diff against nothing).
func DiffTrees(ctx context.Context, odb *ObjectDB, oldTree, newTree Hash) ([]DiffEntry, error) {
	entries, err := diffTreeLevel(ctx, odb, oldTree, newTree, "")
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// diffTreeLevel compares one directory level, recursing into subtrees.
func diffTreeLevel(ctx context.Context, odb *ObjectDB, oldHash, newHash Hash, prefix string) ([]DiffEntry, error) {
	oldTree, err := treeOrEmpty(ctx, odb, oldHash)
	if err != nil {
		return nil, fmt.Errorf("diffing trees: old side: %w", err)
	}
	newTree, err := treeOrEmpty(ctx, odb, newHash)
	if err != nil {
		return nil, fmt.Errorf("diffing trees: new side: %w", err)
	}

	entries := make([]DiffEntry, 0)
	for _, name := range collectNames(oldTree, newTree) {
		oldEntry := findEntry(oldTree, name)
		newEntry := findEntry(newTree, name)

		path := name
		if prefix != "" {
			path = prefix + "/" + name
		}

		sub, err := diffEntryPair(ctx, odb, oldEntry, newEntry, path)
		if err != nil {
			return nil, err
		}
		entries = append(entries, sub...)
	}
	return entries, nil
}

// diffEntryPair classifies one (old, new) entry pair, expanding directory
// sides into their contained files.
func diffEntryPair(ctx context.Context, odb *ObjectDB, oldEntry, newEntry *TreeEntry, path string) ([]DiffEntry, error) {
	switch {
	case oldEntry == nil && newEntry == nil:
		return nil, nil

	case oldEntry == nil:
		if newEntry.Mode.IsDir() {
			return diffTreeLevel(ctx, odb, "", newEntry.ID, path)
		}
		return []DiffEntry{{
			Path: path, Status: DiffStatusAdded,
			NewHash: newEntry.ID, NewMode: newEntry.Mode,
		}}, nil

	case newEntry == nil:
		if oldEntry.Mode.IsDir() {
			return diffTreeLevel(ctx, odb, oldEntry.ID, "", path)
		}
		return []DiffEntry{{
			Path: path, Status: DiffStatusDeleted,
			OldHash: oldEntry.ID, OldMode: oldEntry.Mode,
		}}, nil

	case oldEntry.ID == newEntry.ID && oldEntry.Mode == newEntry.Mode:
		return nil, nil

	case oldEntry.Mode.IsDir() && newEntry.Mode.IsDir():
		return diffTreeLevel(ctx, odb, oldEntry.ID, newEntry.ID, path)

	case oldEntry.Mode.IsDir() != newEntry.Mode.IsDir():
		// Type changed (file <-> directory): delete one side, add the other.
		deleted, err := diffEntryPair(ctx, odb, oldEntry, nil, path)
		if err != nil {
			return nil, err
		}
		added, err := diffEntryPair(ctx, odb, nil, newEntry, path)
		if err != nil {
			return nil, err
		}
		return append(deleted, added...), nil

	default:
		return []DiffEntry{{
			Path: path, Status: DiffStatusModified,
			OldHash: oldEntry.ID, NewHash: newEntry.ID,
			OldMode: oldEntry.Mode, NewMode: newEntry.Mode,
		}}, nil
	}
}

// FileDiff loads two blobs (zero hash = absent side) and diffs them.
func FileDiff(ctx context.Context, odb *ObjectDB, oldBlob, newBlob Hash, opts DiffOptions) (*Diff, error) {
	var oldData, newData []byte
	var err error
	if !oldBlob.IsZero() {
		oldData, err = odb.GetBlob(ctx, oldBlob)
		if err != nil {
			return nil, fmt.Errorf("reading old blob %s: %w", oldBlob, err)
		}
	}
	if !newBlob.IsZero() {
		newData, err = odb.GetBlob(ctx, newBlob)
		if err != nil {
			return nil, fmt.Errorf("reading new blob %s: %w", newBlob, err)
		}
	}
	return DiffFiles(oldData, newData, opts), nil
}

// flattenTreeEntries walks the tree at treeHash and returns every file
// entry keyed by its full slash-separated path.
func flattenTreeEntries(ctx context.Context, odb *ObjectDB, treeHash Hash, prefix string) (map[string]TreeEntry, error) {
	result := make(map[string]TreeEntry)
	if treeHash.IsZero() {
		return result, nil
	}

	tree, err := odb.GetTree(ctx, treeHash)
	if err != nil {
		return nil, fmt.Errorf("flattening tree %s: %w", treeHash, err)
	}

	for _, entry := range tree.Entries {
		fullPath := entry.Name
		if prefix != "" {
			fullPath = prefix + "/" + entry.Name
		}
		if entry.Mode.IsDir() {
			sub, err := flattenTreeEntries(ctx, odb, entry.ID, fullPath)
			if err != nil {
				return nil, err
			}
			for p, e := range sub {
				result[p] = e
			}
		} else {
			result[fullPath] = entry
		}
	}
	return result, nil
}
