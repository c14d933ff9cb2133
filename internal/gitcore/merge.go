package gitcore

import (
	"context"
	"fmt"
)

// CollectAncestors walks the commit graph from start (inclusive) and
// returns the set of every reachable commit.
func CollectAncestors(ctx context.Context, odb *ObjectDB, start Hash) (map[Hash]bool, error) {
	ancestors := make(map[Hash]bool)
	queue := []Hash{start}
	ancestors[start] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		commit, err := odb.GetCommit(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("collecting ancestors of %s: %w", start.Short(), err)
		}
		for _, parent := range commit.Parents {
			if !ancestors[parent] {
				ancestors[parent] = true
				queue = append(queue, parent)
			}
		}
	}
	return ancestors, nil
}

// MergeBase finds a lowest common ancestor of two commits: every commit
// reachable from ours is collected, then a breadth-first walk from theirs
// returns the first commit in that set. With multiple candidate bases
// (criss-cross histories) the first one discovered is returned; callers
// must not rely on which. Disconnected histories fail with
// ErrNoCommonAncestor.
func MergeBase(ctx context.Context, odb *ObjectDB, ours, theirs Hash) (Hash, error) {
	if ours == theirs {
		return ours, nil
	}

	ourAncestors, err := CollectAncestors(ctx, odb, ours)
	if err != nil {
		return "", err
	}

	visited := map[Hash]bool{theirs: true}
	queue := []Hash{theirs}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if ourAncestors[current] {
			return current, nil
		}

		commit, err := odb.GetCommit(ctx, current)
		if err != nil {
			return "", fmt.Errorf("walking ancestors of %s: %w", theirs.Short(), err)
		}
		for _, parent := range commit.Parents {
			if !visited[parent] {
				visited[parent] = true
				queue = append(queue, parent)
			}
		}
	}

	return "", fmt.Errorf("%w: between %s and %s", ErrNoCommonAncestor, ours.Short(), theirs.Short())
}

// IsAncestor reports whether ancestor is reachable from tip (a commit is
// its own ancestor).
func IsAncestor(ctx context.Context, odb *ObjectDB, ancestor, tip Hash) (bool, error) {
	if ancestor == tip {
		return true, nil
	}

	visited := map[Hash]bool{tip: true}
	queue := []Hash{tip}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current == ancestor {
			return true, nil
		}

		commit, err := odb.GetCommit(ctx, current)
		if err != nil {
			return false, fmt.Errorf("walking ancestors of %s: %w", tip.Short(), err)
		}
		for _, parent := range commit.Parents {
			if !visited[parent] {
				visited[parent] = true
				queue = append(queue, parent)
			}
		}
	}
	return false, nil
}

// CanFastForward reports whether advancing a ref from `from` to `to`
// requires no merge commit.
func CanFastForward(ctx context.Context, odb *ObjectDB, from, to Hash) (bool, error) {
	return IsAncestor(ctx, odb, from, to)
}
