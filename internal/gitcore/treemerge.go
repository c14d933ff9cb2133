package gitcore

import (
	"context"
	"fmt"
	"sort"
)

// ConflictKind classifies a merge conflict.
type ConflictKind string

const (
	// ConflictContent means both sides changed the same text incompatibly.
	ConflictContent ConflictKind = "ContentConflict"
	// ConflictBinary means at least one side of a content conflict is binary.
	ConflictBinary ConflictKind = "BinaryConflict"
	// ConflictAdd means both sides added the same path with different content.
	ConflictAdd ConflictKind = "AddConflict"
	// ConflictDelete means one side deleted a path the other modified.
	ConflictDelete ConflictKind = "DeleteConflict"
)

// Conflict records one unmergeable path. The entry pointers are nil for
// sides where the path is absent. For content conflicts, MergedText holds
// the synthesized text with conflict markers.
type Conflict struct {
	Path       string       `json:"path"`
	Kind       ConflictKind `json:"kind"`
	Base       *TreeEntry   `json:"base,omitempty"`
	Ours       *TreeEntry   `json:"ours,omitempty"`
	Theirs     *TreeEntry   `json:"theirs,omitempty"`
	IsBinary   bool         `json:"isBinary"`
	MergedText []byte       `json:"-"`
}

// TreeMergeResult is either a merged tree (no conflicts) or a non-empty
// conflict list (Tree is zero).
type TreeMergeResult struct {
	Tree      Hash
	Conflicts []Conflict
}

// MergeTrees performs a three-way merge of two trees against their common
// base tree. Any of the three hashes may be zero, meaning the empty tree.
// Cleanly merged subtrees and blobs are stored in the object database as
// the merge proceeds; objects written before a conflict is discovered
// remain (they are unreachable garbage, reclaimable later).
func MergeTrees(ctx context.Context, odb *ObjectDB, base, ours, theirs Hash) (*TreeMergeResult, error) {
	baseTree, err := treeOrEmpty(ctx, odb, base)
	if err != nil {
		return nil, err
	}
	oursTree, err := treeOrEmpty(ctx, odb, ours)
	if err != nil {
		return nil, err
	}
	theirsTree, err := treeOrEmpty(ctx, odb, theirs)
	if err != nil {
		return nil, err
	}

	hash, conflicts, err := mergeTreeLevel(ctx, odb, baseTree, oursTree, theirsTree, "")
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Path < conflicts[j].Path })
		return &TreeMergeResult{Conflicts: conflicts}, nil
	}
	return &TreeMergeResult{Tree: hash}, nil
}

// treeOrEmpty loads a tree, treating the zero hash as the empty tree.
func treeOrEmpty(ctx context.Context, odb *ObjectDB, hash Hash) (*Tree, error) {
	if hash.IsZero() {
		return &Tree{Entries: make([]TreeEntry, 0)}, nil
	}
	return odb.GetTree(ctx, hash)
}

// entryEqual compares two optional tree entries by identity and mode.
func entryEqual(a, b *TreeEntry) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID && a.Mode == b.Mode
}

// mergeTreeLevel merges one directory level and recurses into
// subdirectories. It returns the stored hash of the merged level; when any
// conflict occurs at or below this level the hash is zero.
func mergeTreeLevel(ctx context.Context, odb *ObjectDB, base, ours, theirs *Tree, prefix string) (Hash, []Conflict, error) {
	names := collectNames(base, ours, theirs)
	merged := &Tree{Entries: make([]TreeEntry, 0, len(names))}
	conflicts := make([]Conflict, 0)

	for _, name := range names {
		b := findEntry(base, name)
		o := findEntry(ours, name)
		t := findEntry(theirs, name)

		path := name
		if prefix != "" {
			path = prefix + "/" + name
		}

		switch {
		case entryEqual(o, t):
			// Unchanged, both deleted, or both made the same change.
			if o != nil {
				merged.Entries = append(merged.Entries, *o)
			}

		case entryEqual(b, t):
			// Only ours changed (possibly a deletion).
			if o != nil {
				merged.Entries = append(merged.Entries, *o)
			}

		case entryEqual(b, o):
			// Only theirs changed (possibly a deletion).
			if t != nil {
				merged.Entries = append(merged.Entries, *t)
			}

		case o != nil && t != nil && o.Mode.IsDir() && t.Mode.IsDir():
			// Both sides have a directory here: recurse.
			subHash, subConflicts, err := mergeSubtrees(ctx, odb, b, o, t, path)
			if err != nil {
				return "", nil, err
			}
			conflicts = append(conflicts, subConflicts...)
			if len(subConflicts) == 0 {
				merged.Entries = append(merged.Entries, TreeEntry{Mode: ModeDir, Name: name, ID: subHash})
			}

		case o == nil || t == nil:
			// One side deleted what the other changed.
			conflicts = append(conflicts, Conflict{
				Path: path, Kind: ConflictDelete, Base: b, Ours: o, Theirs: t,
			})

		case o.Mode.IsDir() != t.Mode.IsDir():
			// File on one side, directory on the other.
			kind := ConflictContent
			if b == nil {
				kind = ConflictAdd
			}
			conflicts = append(conflicts, Conflict{
				Path: path, Kind: kind, Base: b, Ours: o, Theirs: t,
			})

		default:
			// Both sides have distinct file content: try a line merge.
			entry, conflict, err := mergeFileEntry(ctx, odb, b, o, t, path, name)
			if err != nil {
				return "", nil, err
			}
			if conflict != nil {
				conflicts = append(conflicts, *conflict)
			} else {
				merged.Entries = append(merged.Entries, *entry)
			}
		}
	}

	if len(conflicts) > 0 {
		return "", conflicts, nil
	}
	hash, err := odb.Put(ctx, merged)
	if err != nil {
		return "", nil, fmt.Errorf("storing merged tree %q: %w", prefix, err)
	}
	return hash, nil, nil
}

// mergeSubtrees recurses into a directory present on both sides. The base
// side contributes its subtree only when it is also a directory there.
func mergeSubtrees(ctx context.Context, odb *ObjectDB, b, o, t *TreeEntry, path string) (Hash, []Conflict, error) {
	var baseHash, oursHash, theirsHash Hash
	if b != nil && b.Mode.IsDir() {
		baseHash = b.ID
	}
	oursHash = o.ID
	theirsHash = t.ID

	baseTree, err := treeOrEmpty(ctx, odb, baseHash)
	if err != nil {
		return "", nil, err
	}
	oursTree, err := odb.GetTree(ctx, oursHash)
	if err != nil {
		return "", nil, err
	}
	theirsTree, err := odb.GetTree(ctx, theirsHash)
	if err != nil {
		return "", nil, err
	}
	return mergeTreeLevel(ctx, odb, baseTree, oursTree, theirsTree, path)
}

// mergeFileEntry merges two conflicting file versions through the content
// merger. A clean merge stores the merged blob and returns its entry; an
// unresolved merge returns a conflict carrying the marker text.
func mergeFileEntry(ctx context.Context, odb *ObjectDB, b, o, t *TreeEntry, path, name string) (*TreeEntry, *Conflict, error) {
	var baseData []byte
	if b != nil && b.Mode.IsFile() {
		var err error
		baseData, err = odb.GetBlob(ctx, b.ID)
		if err != nil {
			return nil, nil, err
		}
	}
	oursData, err := odb.GetBlob(ctx, o.ID)
	if err != nil {
		return nil, nil, err
	}
	theirsData, err := odb.GetBlob(ctx, t.ID)
	if err != nil {
		return nil, nil, err
	}

	result := MergeContent(baseData, oursData, theirsData)
	if result.IsBinary {
		return nil, &Conflict{
			Path: path, Kind: ConflictBinary, Base: b, Ours: o, Theirs: t, IsBinary: true,
		}, nil
	}
	if result.HasConflict {
		kind := ConflictContent
		if b == nil {
			kind = ConflictAdd
		}
		return nil, &Conflict{
			Path: path, Kind: kind, Base: b, Ours: o, Theirs: t, MergedText: result.Text,
		}, nil
	}

	blobHash, err := odb.PutBlob(ctx, result.Text)
	if err != nil {
		return nil, nil, fmt.Errorf("storing merged blob %q: %w", path, err)
	}

	// Keep ours' mode unless only theirs changed it.
	mode := o.Mode
	if b != nil && o.Mode == b.Mode && t.Mode != b.Mode {
		mode = t.Mode
	}
	return &TreeEntry{Mode: mode, Name: name, ID: blobHash}, nil, nil
}

// collectNames returns the union of entry names across the three trees,
// sorted.
func collectNames(trees ...*Tree) []string {
	seen := make(map[string]bool)
	names := make([]string, 0)
	for _, tree := range trees {
		if tree == nil {
			continue
		}
		for _, entry := range tree.Entries {
			if !seen[entry.Name] {
				seen[entry.Name] = true
				names = append(names, entry.Name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// findEntry returns a pointer to the named entry, or nil.
func findEntry(tree *Tree, name string) *TreeEntry {
	if tree == nil {
		return nil
	}
	for i := range tree.Entries {
		if tree.Entries[i].Name == name {
			return &tree.Entries[i]
		}
	}
	return nil
}
