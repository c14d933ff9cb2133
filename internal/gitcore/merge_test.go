package gitcore

import (
	"context"
	"errors"
	"testing"
)

// buildChain stores n commits in a line on top of parent (zero for a root)
// and returns them oldest-first.
func buildChain(t *testing.T, odb *ObjectDB, parent Hash, n int, label string) []Hash {
	t.Helper()
	tree := putTree(t, odb)
	chain := make([]Hash, 0, n)
	for i := 0; i < n; i++ {
		var parents []Hash
		if !parent.IsZero() {
			parents = []Hash{parent}
		}
		parent = putCommit(t, odb, tree, label+string(rune('0'+i)), parents...)
		chain = append(chain, parent)
	}
	return chain
}

func TestMergeBase_LinearHistory(t *testing.T) {
	odb := newTestODB(t)
	chain := buildChain(t, odb, "", 4, "linear")
	ctx := context.Background()

	// The older commit IS the base of (older, newer).
	base, err := MergeBase(ctx, odb, chain[1], chain[3])
	if err != nil {
		t.Fatalf("MergeBase failed: %v", err)
	}
	if base != chain[1] {
		t.Errorf("base: got %s, want %s", base.Short(), chain[1].Short())
	}
}

func TestMergeBase_SameCommit(t *testing.T) {
	odb := newTestODB(t)
	chain := buildChain(t, odb, "", 1, "solo")

	base, err := MergeBase(context.Background(), odb, chain[0], chain[0])
	if err != nil {
		t.Fatalf("MergeBase failed: %v", err)
	}
	if base != chain[0] {
		t.Errorf("base: got %s", base.Short())
	}
}

func TestMergeBase_ForkedHistory(t *testing.T) {
	odb := newTestODB(t)
	ctx := context.Background()

	trunk := buildChain(t, odb, "", 2, "trunk")
	fork := trunk[1]
	left := buildChain(t, odb, fork, 2, "left")
	right := buildChain(t, odb, fork, 3, "right")

	base, err := MergeBase(ctx, odb, left[1], right[2])
	if err != nil {
		t.Fatalf("MergeBase failed: %v", err)
	}
	if base != fork {
		t.Errorf("base: got %s, want fork %s", base.Short(), fork.Short())
	}
}

func TestMergeBase_MergeCommitAncestry(t *testing.T) {
	odb := newTestODB(t)
	ctx := context.Background()
	tree := putTree(t, odb)

	root := putCommit(t, odb, tree, "root")
	a := putCommit(t, odb, tree, "a", root)
	b := putCommit(t, odb, tree, "b", root)
	merge := putCommit(t, odb, tree, "merge", a, b)
	c := putCommit(t, odb, tree, "c", b)

	// The base of the merge commit and a commit on b's line is b.
	base, err := MergeBase(ctx, odb, merge, c)
	if err != nil {
		t.Fatalf("MergeBase failed: %v", err)
	}
	if base != b {
		t.Errorf("base: got %s, want %s", base.Short(), b.Short())
	}
}

func TestMergeBase_CrissCrossReturnsSomeValidBase(t *testing.T) {
	odb := newTestODB(t)
	ctx := context.Background()
	tree := putTree(t, odb)

	root := putCommit(t, odb, tree, "root")
	a1 := putCommit(t, odb, tree, "a1", root)
	b1 := putCommit(t, odb, tree, "b1", root)
	a2 := putCommit(t, odb, tree, "a2", a1, b1)
	b2 := putCommit(t, odb, tree, "b2", b1, a1)

	base, err := MergeBase(ctx, odb, a2, b2)
	if err != nil {
		t.Fatalf("MergeBase failed: %v", err)
	}
	// Either a1 or b1 is acceptable; the base must be an ancestor of both
	// tips.
	for _, tip := range []Hash{a2, b2} {
		ok, err := IsAncestor(ctx, odb, base, tip)
		if err != nil {
			t.Fatalf("IsAncestor failed: %v", err)
		}
		if !ok {
			t.Errorf("base %s is not an ancestor of %s", base.Short(), tip.Short())
		}
	}
}

func TestMergeBase_DisconnectedHistories(t *testing.T) {
	odb := newTestODB(t)
	left := buildChain(t, odb, "", 2, "isolated-l")
	right := buildChain(t, odb, "", 2, "isolated-r")

	_, err := MergeBase(context.Background(), odb, left[1], right[1])
	if !errors.Is(err, ErrNoCommonAncestor) {
		t.Errorf("got %v, want ErrNoCommonAncestor", err)
	}
}

func TestMergeBase_MissingObject(t *testing.T) {
	odb := newTestODB(t)
	chain := buildChain(t, odb, "", 1, "only")
	missing := testHash('f')

	if _, err := MergeBase(context.Background(), odb, chain[0], missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestIsAncestor(t *testing.T) {
	odb := newTestODB(t)
	ctx := context.Background()

	trunk := buildChain(t, odb, "", 3, "t")
	side := buildChain(t, odb, trunk[0], 2, "s")

	tests := []struct {
		ancestor, tip Hash
		want          bool
	}{
		{trunk[0], trunk[2], true},
		{trunk[0], trunk[0], true}, // reflexive
		{trunk[2], trunk[0], false},
		{trunk[0], side[1], true},
		{trunk[1], side[1], false}, // side forked before trunk[1]
	}
	for i, tt := range tests {
		got, err := IsAncestor(ctx, odb, tt.ancestor, tt.tip)
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		if got != tt.want {
			t.Errorf("case %d: IsAncestor(%s, %s) = %v, want %v",
				i, tt.ancestor.Short(), tt.tip.Short(), got, tt.want)
		}
	}
}

func TestCanFastForward_AgreesWithIsAncestor(t *testing.T) {
	odb := newTestODB(t)
	ctx := context.Background()

	trunk := buildChain(t, odb, "", 2, "m")
	feature := buildChain(t, odb, trunk[1], 2, "f")

	ff, err := CanFastForward(ctx, odb, trunk[1], feature[1])
	if err != nil {
		t.Fatalf("CanFastForward failed: %v", err)
	}
	if !ff {
		t.Error("expected fast-forward from trunk tip to feature tip")
	}

	ff, err = CanFastForward(ctx, odb, feature[1], trunk[1])
	if err != nil {
		t.Fatalf("CanFastForward failed: %v", err)
	}
	if ff {
		t.Error("reverse direction must not fast-forward")
	}
}

func TestCollectAncestors(t *testing.T) {
	odb := newTestODB(t)
	chain := buildChain(t, odb, "", 3, "ca")

	ancestors, err := CollectAncestors(context.Background(), odb, chain[2])
	if err != nil {
		t.Fatalf("CollectAncestors failed: %v", err)
	}
	if len(ancestors) != 3 {
		t.Errorf("ancestors: got %d, want 3", len(ancestors))
	}
	for _, c := range chain {
		if !ancestors[c] {
			t.Errorf("missing ancestor %s", c.Short())
		}
	}
}
