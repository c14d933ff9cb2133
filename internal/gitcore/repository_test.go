package gitcore

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rybkr/kvgit/internal/blobstore"
)

func TestInit_CreatesHeadIndexConfig(t *testing.T) {
	store := blobstore.NewMemoryStore()
	ctx := context.Background()

	repo, err := Init(ctx, store, newFakeWorktree(), Config{})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	head, err := repo.Head(ctx)
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if head.Branch != "main" || head.Detached || !head.Hash.IsZero() {
		t.Errorf("head after init: %+v", head)
	}

	for _, key := range []string{"config", "index", "HEAD"} {
		ok, err := store.Exists(ctx, key)
		if err != nil || !ok {
			t.Errorf("key %s missing after init (%v)", key, err)
		}
	}

	// A second init on the same store must refuse.
	if _, err := Init(ctx, store, newFakeWorktree(), Config{}); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("second init: got %v, want ErrAlreadyExists", err)
	}
}

func TestOpen_RoundTripsConfig(t *testing.T) {
	store := blobstore.NewMemoryStore()
	ctx := context.Background()

	if _, err := Init(ctx, store, newFakeWorktree(), Config{
		HashAlgorithm: SHA256,
		UserName:      "A",
		UserEmail:     "a@x",
		DefaultBranch: "trunk",
	}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	repo, err := Open(ctx, store, newFakeWorktree())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	cfg := repo.Config()
	if cfg.HashAlgorithm != SHA256 || cfg.DefaultBranch != "trunk" || cfg.UserName != "A" {
		t.Errorf("config after open: %+v", cfg)
	}
}

func TestOpen_EmptyStoreIsNotARepo(t *testing.T) {
	if _, err := Open(context.Background(), blobstore.NewMemoryStore(), nil); !errors.Is(err, ErrNotARepo) {
		t.Errorf("got %v, want ErrNotARepo", err)
	}
}

func TestRepository_InitAddCommit(t *testing.T) {
	repo, wt := newTestRepo(t)
	ctx := context.Background()

	wt.write("README", "hi\n")
	if err := repo.Add(ctx, []string{"README"}, AddOptions{}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	// The staged blob has the well-known git hash for "hi\n".
	idx, err := repo.loadIndex(ctx)
	if err != nil {
		t.Fatalf("loadIndex failed: %v", err)
	}
	entry, found := idx.Get("README")
	if !found {
		t.Fatal("README not staged")
	}
	if entry.Hash != Hash("45b983be36b73c0788dc9cbcb76cbb80fc7bb057") {
		t.Errorf("staged blob hash: %s", entry.Hash)
	}

	sig := testSignature()
	commitHash, err := repo.Commit(ctx, "first\n", CommitOptions{Author: &sig})
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	commit, err := repo.Objects().GetCommit(ctx, commitHash)
	if err != nil {
		t.Fatalf("GetCommit failed: %v", err)
	}
	if len(commit.Parents) != 0 {
		t.Errorf("root commit has parents: %v", commit.Parents)
	}
	if commit.Message != "first\n" {
		t.Errorf("message: %q", commit.Message)
	}

	// HEAD and the branch both resolve to the commit.
	head, err := repo.Head(ctx)
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if head.Hash != commitHash || head.Branch != "main" {
		t.Errorf("head: %+v", head)
	}
	branchTip, err := repo.Refs().Resolve(ctx, "refs/heads/main")
	if err != nil || branchTip != commitHash {
		t.Errorf("branch tip: %s (%v)", branchTip, err)
	}

	status, err := repo.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !status.IsClean() {
		t.Errorf("status after commit: %+v", status)
	}
}

func TestRepository_CommitIsDeterministic(t *testing.T) {
	// Two repositories fed identical content and signatures produce the
	// same commit hash.
	hashes := make([]Hash, 2)
	for i := range hashes {
		repo, wt := newTestRepo(t)
		ctx := context.Background()
		wt.write("README", "hi\n")
		if err := repo.Add(ctx, []string{"README"}, AddOptions{}); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		sig := testSignature()
		hash, err := repo.Commit(ctx, "first\n", CommitOptions{Author: &sig, Committer: &sig})
		if err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		hashes[i] = hash
	}
	if hashes[0] != hashes[1] {
		t.Errorf("commit hashes differ: %s vs %s", hashes[0], hashes[1])
	}
}

func TestRepository_ModifyAndDiff(t *testing.T) {
	repo, wt := newTestRepo(t)
	ctx := context.Background()

	commitFile(t, repo, wt, "README", "hi\n", "first\n")
	wt.write("README", "hello\n")

	status, err := repo.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(status.Modified) != 1 || status.Modified[0] != "README" {
		t.Errorf("modified: %v", status.Modified)
	}

	d := DiffText("hi\n", "hello\n", DiffOptions{})
	if len(d.Hunks) != 1 {
		t.Fatalf("hunks: %d", len(d.Hunks))
	}
	applied, ok := Apply("hi\n", d)
	if !ok || applied != "hello\n" {
		t.Errorf("apply: %q %v", applied, ok)
	}
}

func TestRepository_NothingToCommit(t *testing.T) {
	repo, wt := newTestRepo(t)
	ctx := context.Background()

	commitFile(t, repo, wt, "a", "1\n", "first\n")
	if _, err := repo.Commit(ctx, "empty\n", CommitOptions{}); !errors.Is(err, ErrNothingToCommit) {
		t.Errorf("got %v, want ErrNothingToCommit", err)
	}
	if _, err := repo.Commit(ctx, "empty\n", CommitOptions{AllowEmpty: true}); err != nil {
		t.Errorf("AllowEmpty commit failed: %v", err)
	}
}

func TestRepository_AddIgnoreAndForce(t *testing.T) {
	repo, wt := newTestRepo(t)
	ctx := context.Background()
	repo.SetIgnorePatterns([]string{"*.log"})

	wt.write("keep.go", "package x\n")
	wt.write("noise.log", "zzz\n")

	if err := repo.Add(ctx, nil, AddOptions{}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	idx, _ := repo.loadIndex(ctx)
	if _, found := idx.Get("noise.log"); found {
		t.Error("ignored file staged without force")
	}
	if _, found := idx.Get("keep.go"); !found {
		t.Error("normal file not staged")
	}

	if err := repo.Add(ctx, []string{"noise.log"}, AddOptions{Force: true}); err != nil {
		t.Fatalf("forced Add failed: %v", err)
	}
	idx, _ = repo.loadIndex(ctx)
	if _, found := idx.Get("noise.log"); !found {
		t.Error("forced add did not stage ignored file")
	}
}

func TestRepository_AddUpdateOnly(t *testing.T) {
	repo, wt := newTestRepo(t)
	ctx := context.Background()

	commitFile(t, repo, wt, "tracked", "v1\n", "first\n")
	wt.write("tracked", "v2\n")
	wt.write("newfile", "n\n")

	if err := repo.Add(ctx, nil, AddOptions{UpdateOnly: true}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	idx, _ := repo.loadIndex(ctx)
	if _, found := idx.Get("newfile"); found {
		t.Error("update-only add staged a new path")
	}
	entry, _ := idx.Get("tracked")
	if want := NewHasher(SHA1).HashObject(BlobObject, []byte("v2\n")); entry.Hash != want {
		t.Errorf("tracked entry not refreshed: %+v", entry)
	}
}

func TestRepository_RemoveStagesDeletion(t *testing.T) {
	repo, wt := newTestRepo(t)
	ctx := context.Background()

	commitFile(t, repo, wt, "doomed", "bye\n", "first\n")
	if err := repo.Remove(ctx, "doomed", RemoveOptions{}); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	status, err := repo.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(status.StagedDeleted) != 1 || status.StagedDeleted[0] != "doomed" {
		t.Errorf("stagedDeleted: %+v", status)
	}
	if _, err := wt.Stat(ctx, "doomed"); !errors.Is(err, ErrNotFound) {
		t.Error("worktree file survived Remove")
	}
}

func TestRepository_BranchCreateListDelete(t *testing.T) {
	repo, wt := newTestRepo(t)
	ctx := context.Background()

	first := commitFile(t, repo, wt, "a", "1\n", "first\n")

	if err := repo.CreateBranch(ctx, "feature", ""); err != nil {
		t.Fatalf("CreateBranch failed: %v", err)
	}
	if err := repo.CreateBranch(ctx, "feature", ""); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate branch: got %v, want ErrAlreadyExists", err)
	}

	branches, err := repo.Branches(ctx)
	if err != nil {
		t.Fatalf("Branches failed: %v", err)
	}
	if len(branches) != 2 {
		t.Fatalf("branches: %+v", branches)
	}
	if branches[0].Name != "refs/heads/feature" || branches[0].Target != first {
		t.Errorf("branch[0]: %+v", branches[0])
	}

	// The checked-out branch refuses deletion; the other deletes fine.
	if err := repo.DeleteBranch(ctx, "main"); err == nil {
		t.Error("deleted the checked-out branch")
	}
	if err := repo.DeleteBranch(ctx, "feature"); err != nil {
		t.Errorf("DeleteBranch failed: %v", err)
	}
}

func TestRepository_TagsLightweightAndAnnotated(t *testing.T) {
	repo, wt := newTestRepo(t)
	ctx := context.Background()

	first := commitFile(t, repo, wt, "a", "1\n", "first\n")

	if err := repo.CreateTag(ctx, "v1", "", ""); err != nil {
		t.Fatalf("lightweight tag failed: %v", err)
	}
	if err := repo.CreateTag(ctx, "v2", "", "release v2\n"); err != nil {
		t.Fatalf("annotated tag failed: %v", err)
	}

	tags, err := repo.Tags(ctx)
	if err != nil {
		t.Fatalf("Tags failed: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("tags: %+v", tags)
	}

	// Lightweight points straight at the commit.
	if tags[0].Name != "refs/tags/v1" || tags[0].Target != first {
		t.Errorf("v1: %+v", tags[0])
	}
	// Annotated points at a tag object that peels to the commit.
	tagObj, err := repo.Objects().GetTag(ctx, tags[1].Target)
	if err != nil {
		t.Fatalf("GetTag failed: %v", err)
	}
	if tagObj.Object != first || tagObj.Name != "v2" {
		t.Errorf("tag object: %+v", tagObj)
	}

	// Both tag forms resolve to the commit as revisions.
	for _, rev := range []string{"v1", "v2"} {
		hash, err := repo.ResolveRevision(ctx, rev)
		if err != nil || hash != first {
			t.Errorf("ResolveRevision(%s): %s, %v", rev, hash, err)
		}
	}
}

func TestRepository_CheckoutBranchAndDetached(t *testing.T) {
	repo, wt := newTestRepo(t)
	ctx := context.Background()

	first := commitFile(t, repo, wt, "f", "one\n", "first\n")
	second := commitFile(t, repo, wt, "f", "two\n", "second\n")

	// Detached checkout of the first commit restores old content.
	if err := repo.Checkout(ctx, string(first), CheckoutOptions{}); err != nil {
		t.Fatalf("Checkout failed: %v", err)
	}
	head, _ := repo.Head(ctx)
	if !head.Detached || head.Hash != first {
		t.Errorf("head: %+v", head)
	}
	data, err := wt.ReadFile(ctx, "f")
	if err != nil || string(data) != "one\n" {
		t.Errorf("worktree content: %q (%v)", data, err)
	}

	// Back to the branch.
	if err := repo.Checkout(ctx, "main", CheckoutOptions{}); err != nil {
		t.Fatalf("Checkout main failed: %v", err)
	}
	head, _ = repo.Head(ctx)
	if head.Detached || head.Branch != "main" || head.Hash != second {
		t.Errorf("head: %+v", head)
	}
	data, _ = wt.ReadFile(ctx, "f")
	if string(data) != "two\n" {
		t.Errorf("worktree content: %q", data)
	}
}

func TestRepository_CheckoutRefusesDirtyTree(t *testing.T) {
	repo, wt := newTestRepo(t)
	ctx := context.Background()

	first := commitFile(t, repo, wt, "f", "one\n", "first\n")
	commitFile(t, repo, wt, "f", "two\n", "second\n")
	wt.write("f", "local edits\n")

	err := repo.Checkout(ctx, string(first), CheckoutOptions{})
	if !errors.Is(err, ErrDirtyWorkingTree) {
		t.Errorf("got %v, want ErrDirtyWorkingTree", err)
	}

	if err := repo.Checkout(ctx, string(first), CheckoutOptions{Force: true}); err != nil {
		t.Errorf("forced checkout failed: %v", err)
	}
	data, _ := wt.ReadFile(ctx, "f")
	if string(data) != "one\n" {
		t.Errorf("content after forced checkout: %q", data)
	}
}

func TestRepository_CheckoutRemovesVanishedFiles(t *testing.T) {
	repo, wt := newTestRepo(t)
	ctx := context.Background()

	commitFile(t, repo, wt, "keep", "k\n", "first\n")
	commitFile(t, repo, wt, "extra", "e\n", "second\n")

	if err := repo.Checkout(ctx, "HEAD", CheckoutOptions{Detach: true}); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	// Move back to the first commit: "extra" must disappear.
	log, err := repo.Log(ctx, 0)
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	firstCommit := log[len(log)-1]
	if err := repo.Checkout(ctx, string(firstCommit.ID), CheckoutOptions{}); err != nil {
		t.Fatalf("checkout first failed: %v", err)
	}
	if _, err := wt.Stat(ctx, "extra"); !errors.Is(err, ErrNotFound) {
		t.Error("file from newer commit survived checkout of older commit")
	}
}

func TestRepository_FastForwardMerge(t *testing.T) {
	repo, wt := newTestRepo(t)
	ctx := context.Background()

	mainTip := commitFile(t, repo, wt, "base", "b\n", "first\n")
	if err := repo.CreateBranch(ctx, "feature", ""); err != nil {
		t.Fatalf("CreateBranch failed: %v", err)
	}
	if err := repo.Checkout(ctx, "feature", CheckoutOptions{}); err != nil {
		t.Fatalf("Checkout failed: %v", err)
	}
	commitFile(t, repo, wt, "f1", "1\n", "feat 1\n")
	featureTip := commitFile(t, repo, wt, "f2", "2\n", "feat 2\n")

	ff, err := CanFastForward(ctx, repo.Objects(), mainTip, featureTip)
	if err != nil || !ff {
		t.Fatalf("CanFastForward: %v %v", ff, err)
	}

	if err := repo.Checkout(ctx, "main", CheckoutOptions{}); err != nil {
		t.Fatalf("Checkout main failed: %v", err)
	}
	outcome, err := repo.Merge(ctx, "feature", MergeOptions{})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !outcome.FastForward || outcome.Commit != featureTip || len(outcome.Conflicts) != 0 {
		t.Errorf("outcome: %+v", outcome)
	}

	head, _ := repo.Head(ctx)
	if head.Hash != featureTip {
		t.Errorf("main after merge: %+v", head)
	}
	if _, err := wt.Stat(ctx, "f2"); err != nil {
		t.Error("fast-forward did not materialize feature files")
	}
}

func TestRepository_MergeCreatesMergeCommit(t *testing.T) {
	repo, wt := newTestRepo(t)
	ctx := context.Background()

	commitFile(t, repo, wt, "shared", "s\n", "first\n")
	mainTip := commitFile(t, repo, wt, "mainfile", "m\n", "on main\n")

	if err := repo.CreateBranch(ctx, "topic", ""); err != nil {
		t.Fatal(err)
	}
	if err := repo.Checkout(ctx, "topic", CheckoutOptions{}); err != nil {
		t.Fatal(err)
	}
	topicTip := commitFile(t, repo, wt, "topicfile", "t\n", "on topic\n")

	// Diverge main so no fast-forward is possible.
	if err := repo.Checkout(ctx, "main", CheckoutOptions{}); err != nil {
		t.Fatal(err)
	}
	mainTip = commitFile(t, repo, wt, "mainfile2", "m2\n", "more main\n")

	outcome, err := repo.Merge(ctx, "topic", MergeOptions{})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if outcome.FastForward || len(outcome.Conflicts) != 0 || outcome.Commit.IsZero() {
		t.Fatalf("outcome: %+v", outcome)
	}

	mergeCommit, err := repo.Objects().GetCommit(ctx, outcome.Commit)
	if err != nil {
		t.Fatalf("GetCommit failed: %v", err)
	}
	if len(mergeCommit.Parents) != 2 || mergeCommit.Parents[0] != mainTip || mergeCommit.Parents[1] != topicTip {
		t.Errorf("merge parents: %v", mergeCommit.Parents)
	}

	// Both sides' files are present.
	for _, path := range []string{"mainfile2", "topicfile", "shared"} {
		if _, err := wt.Stat(ctx, path); err != nil {
			t.Errorf("missing %s after merge", path)
		}
	}
}

func TestRepository_MergeContentConflict(t *testing.T) {
	repo, wt := newTestRepo(t)
	ctx := context.Background()

	commitFile(t, repo, wt, "file", "a\nb\nc\n", "base\n")
	if err := repo.CreateBranch(ctx, "other", ""); err != nil {
		t.Fatal(err)
	}
	commitFile(t, repo, wt, "file", "a\nB\nc\n", "ours\n")

	if err := repo.Checkout(ctx, "other", CheckoutOptions{}); err != nil {
		t.Fatal(err)
	}
	commitFile(t, repo, wt, "file", "a\nB'\nc\n", "theirs\n")
	if err := repo.Checkout(ctx, "main", CheckoutOptions{}); err != nil {
		t.Fatal(err)
	}

	before, _ := repo.Head(ctx)
	outcome, err := repo.Merge(ctx, "other", MergeOptions{})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if len(outcome.Conflicts) != 1 || outcome.Conflicts[0].Kind != ConflictContent {
		t.Fatalf("conflicts: %+v", outcome.Conflicts)
	}

	// No merge commit: the branch did not move.
	after, _ := repo.Head(ctx)
	if after.Hash != before.Hash {
		t.Errorf("branch moved despite conflict: %s -> %s", before.Hash.Short(), after.Hash.Short())
	}

	// Conflict markers are materialized in the working tree.
	data, err := wt.ReadFile(ctx, "file")
	if err != nil {
		t.Fatalf("reading conflicted file: %v", err)
	}
	want := "a\n<<<<<<< HEAD\nB\n=======\nB'\n>>>>>>> MERGE\nc\n"
	if string(data) != want {
		t.Errorf("conflict file:\n%q\nwant:\n%q", data, want)
	}

	// MERGE_HEAD records the in-progress merge.
	if _, err := repo.Refs().Read(ctx, "MERGE_HEAD"); err != nil {
		t.Errorf("MERGE_HEAD missing: %v", err)
	}
}

func TestRepository_MergeDeleteModifyConflict(t *testing.T) {
	repo, wt := newTestRepo(t)
	ctx := context.Background()

	commitFile(t, repo, wt, "x", "1", "base\n")
	if err := repo.CreateBranch(ctx, "modifier", ""); err != nil {
		t.Fatal(err)
	}

	// Ours (main) deletes x.
	if err := repo.Remove(ctx, "x", RemoveOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Commit(ctx, "delete x\n", CommitOptions{}); err != nil {
		t.Fatal(err)
	}

	// Theirs modifies x.
	if err := repo.Checkout(ctx, "modifier", CheckoutOptions{}); err != nil {
		t.Fatal(err)
	}
	commitFile(t, repo, wt, "x", "2", "modify x\n")
	if err := repo.Checkout(ctx, "main", CheckoutOptions{}); err != nil {
		t.Fatal(err)
	}

	outcome, err := repo.Merge(ctx, "modifier", MergeOptions{})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if len(outcome.Conflicts) != 1 {
		t.Fatalf("conflicts: %+v", outcome.Conflicts)
	}
	conflict := outcome.Conflicts[0]
	if conflict.Path != "x" || conflict.Kind != ConflictDelete {
		t.Errorf("conflict: %+v", conflict)
	}
}

func TestRepository_MergeAlreadyUpToDate(t *testing.T) {
	repo, wt := newTestRepo(t)
	ctx := context.Background()

	commitFile(t, repo, wt, "a", "1\n", "first\n")
	if err := repo.CreateBranch(ctx, "behind", ""); err != nil {
		t.Fatal(err)
	}
	commitFile(t, repo, wt, "a", "2\n", "second\n")

	outcome, err := repo.Merge(ctx, "behind", MergeOptions{})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !outcome.AlreadyUpToDate {
		t.Errorf("outcome: %+v", outcome)
	}
}

func TestRepository_ReadBlobAt(t *testing.T) {
	repo, wt := newTestRepo(t)
	ctx := context.Background()

	first := commitFile(t, repo, wt, "dir/file.txt", "version one\n", "first\n")
	commitFile(t, repo, wt, "dir/file.txt", "version two\n", "second\n")

	// Reading at the old commit returns old content and leaves the
	// working tree alone.
	data, err := repo.ReadBlobAt(ctx, first, "dir/file.txt")
	if err != nil {
		t.Fatalf("ReadBlobAt failed: %v", err)
	}
	if string(data) != "version one\n" {
		t.Errorf("content: %q", data)
	}

	current, err := wt.ReadFile(ctx, "dir/file.txt")
	if err != nil || !bytes.Equal(current, []byte("version two\n")) {
		t.Errorf("working tree disturbed: %q (%v)", current, err)
	}

	if _, err := repo.ReadBlobAt(ctx, first, "no/such/file"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing path: got %v, want ErrNotFound", err)
	}
}

func TestRepository_TreeAt(t *testing.T) {
	repo, wt := newTestRepo(t)
	ctx := context.Background()

	commit := commitFile(t, repo, wt, "src/util/helper.go", "package util\n", "first\n")

	tree, err := repo.TreeAt(ctx, commit, "src/util")
	if err != nil {
		t.Fatalf("TreeAt failed: %v", err)
	}
	if _, found := tree.Lookup("helper.go"); !found {
		t.Errorf("helper.go missing from tree: %+v", tree.Entries)
	}

	root, err := repo.TreeAt(ctx, commit, "")
	if err != nil {
		t.Fatalf("TreeAt root failed: %v", err)
	}
	if _, found := root.Lookup("src"); !found {
		t.Errorf("src missing from root tree")
	}

	if _, err := repo.TreeAt(ctx, commit, "src/util/helper.go"); !errors.Is(err, ErrNotDir) {
		t.Errorf("file as dir: got %v, want ErrNotDir", err)
	}
	if _, err := repo.TreeAt(ctx, commit, "absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing dir: got %v, want ErrNotFound", err)
	}
}

func TestRepository_LogNewestFirst(t *testing.T) {
	repo, wt := newTestRepo(t)
	ctx := context.Background()

	commitFile(t, repo, wt, "a", "1\n", "first\n")
	commitFile(t, repo, wt, "a", "2\n", "second\n")
	third := commitFile(t, repo, wt, "a", "3\n", "third\n")

	log, err := repo.Log(ctx, 0)
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if len(log) != 3 {
		t.Fatalf("log length: %d", len(log))
	}
	if log[0].ID != third {
		t.Errorf("newest first: got %s", log[0].ID.Short())
	}

	limited, err := repo.Log(ctx, 2)
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited log length: %d", len(limited))
	}
}

func TestRepository_DiffCommits(t *testing.T) {
	repo, wt := newTestRepo(t)
	ctx := context.Background()

	first := commitFile(t, repo, wt, "a", "1\n", "first\n")
	wt.write("b", "new\n")
	wt.write("a", "1 changed\n")
	if err := repo.Add(ctx, nil, AddOptions{}); err != nil {
		t.Fatal(err)
	}
	second, err := repo.Commit(ctx, "second\n", CommitOptions{})
	if err != nil {
		t.Fatal(err)
	}

	entries, err := repo.DiffCommits(ctx, string(first), string(second))
	if err != nil {
		t.Fatalf("DiffCommits failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries: %+v", entries)
	}
	if entries[0].Path != "a" || entries[0].Status != DiffStatusModified {
		t.Errorf("entry a: %+v", entries[0])
	}
	if entries[1].Path != "b" || entries[1].Status != DiffStatusAdded {
		t.Errorf("entry b: %+v", entries[1])
	}
}

func TestRepository_CancelledContext(t *testing.T) {
	repo, wt := newTestRepo(t)
	wt.write("f", "x\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := repo.Add(ctx, nil, AddOptions{}); !errors.Is(err, ErrCancelled) && !errors.Is(err, context.Canceled) {
		t.Errorf("Add with cancelled context: got %v", err)
	}
	if _, err := repo.Commit(ctx, "m\n", CommitOptions{}); !errors.Is(err, ErrCancelled) && !errors.Is(err, context.Canceled) {
		t.Errorf("Commit with cancelled context: got %v", err)
	}
}

func TestRepository_BareRefusesWorktreeOps(t *testing.T) {
	store := blobstore.NewMemoryStore()
	ctx := context.Background()

	repo, err := Init(ctx, store, nil, Config{})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if !repo.Config().Bare {
		t.Error("nil worktree did not force bare")
	}
	if err := repo.Add(ctx, nil, AddOptions{}); !errors.Is(err, ErrBareRepo) {
		t.Errorf("Add on bare: got %v", err)
	}
	if _, err := repo.Status(ctx); !errors.Is(err, ErrBareRepo) {
		t.Errorf("Status on bare: got %v", err)
	}
}

func TestRepository_DetachedCommitAdvancesHead(t *testing.T) {
	repo, wt := newTestRepo(t)
	ctx := context.Background()

	first := commitFile(t, repo, wt, "f", "1\n", "first\n")
	if err := repo.Checkout(ctx, string(first), CheckoutOptions{}); err != nil {
		t.Fatal(err)
	}

	wt.write("f", "detached work\n")
	if err := repo.Add(ctx, nil, AddOptions{}); err != nil {
		t.Fatal(err)
	}
	detachedCommit, err := repo.Commit(ctx, "detached\n", CommitOptions{})
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	head, _ := repo.Head(ctx)
	if !head.Detached || head.Hash != detachedCommit {
		t.Errorf("head: %+v", head)
	}

	// main did not move.
	mainTip, err := repo.Refs().Resolve(ctx, "refs/heads/main")
	if err != nil || mainTip != first {
		t.Errorf("main tip: %s (%v)", mainTip, err)
	}
}

func TestRepository_CommitTimesUseConfigIdentity(t *testing.T) {
	repo, wt := newTestRepo(t)
	ctx := context.Background()

	hash := commitFile(t, repo, wt, "f", "1\n", "first\n")
	commit, err := repo.Objects().GetCommit(ctx, hash)
	if err != nil {
		t.Fatal(err)
	}
	if commit.Author.Name != "A" || commit.Author.Email != "a@x" {
		t.Errorf("author: %+v", commit.Author)
	}
	if time.Since(commit.Author.When) > time.Minute {
		t.Errorf("author time implausible: %v", commit.Author.When)
	}
}
