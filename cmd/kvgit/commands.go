package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rybkr/kvgit/internal/blobstore"
	"github.com/rybkr/kvgit/internal/gitcore"
	"github.com/rybkr/kvgit/internal/termcolor"
	"github.com/rybkr/kvgit/internal/worktree"
)

// gitDateFormat formats a time.Time the same way git log does.
func gitDateFormat(t time.Time) string {
	return t.Format("Mon Jan 2 15:04:05 2006 -0700")
}

func fatal(err error) int {
	fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
	return 128
}

func runInit(ctx context.Context, storeDir string, args []string) int {
	cfg := gitcore.Config{
		UserName:  os.Getenv("KVGIT_AUTHOR_NAME"),
		UserEmail: os.Getenv("KVGIT_AUTHOR_EMAIL"),
	}
	bare := false
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--bare":
			bare = true
		case "--branch":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "kvgit init: --branch needs a value")
				return 2
			}
			cfg.DefaultBranch = args[i+1]
			i++
		case "--hash":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "kvgit init: --hash needs a value")
				return 2
			}
			algo, err := gitcore.ParseAlgorithm(args[i+1])
			if err != nil {
				return fatal(err)
			}
			cfg.HashAlgorithm = algo
			i++
		default:
			fmt.Fprintf(os.Stderr, "kvgit init: unknown flag %q\n", args[i])
			return 2
		}
	}
	cfg.Bare = bare

	store, err := blobstore.NewDiskStore(storeDir, nil)
	if err != nil {
		return fatal(err)
	}
	var wt gitcore.Worktree
	if !bare {
		wt = worktree.New(store)
	}
	repo, err := gitcore.Init(ctx, store, wt, cfg)
	if err != nil {
		return fatal(err)
	}
	fmt.Printf("Initialized empty repository in %s (branch %s, %s)\n",
		storeDir, repo.Config().DefaultBranch, repo.Config().HashAlgorithm)
	return 0
}

func runAdd(ctx context.Context, repo *gitcore.Repository, args []string) int {
	opts := gitcore.AddOptions{}
	paths := make([]string, 0, len(args))
	for _, arg := range args {
		switch arg {
		case "--force", "-f":
			opts.Force = true
		case "--update", "-u":
			opts.UpdateOnly = true
		default:
			paths = append(paths, arg)
		}
	}
	if len(paths) == 0 && !opts.UpdateOnly {
		fmt.Fprintln(os.Stderr, "kvgit add: nothing specified (use '.' for everything)")
		return 2
	}
	if err := repo.Add(ctx, paths, opts); err != nil {
		return fatal(err)
	}
	return 0
}

func runRm(ctx context.Context, repo *gitcore.Repository, args []string) int {
	opts := gitcore.RemoveOptions{}
	paths := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == "--cached" {
			opts.Cached = true
		} else {
			paths = append(paths, arg)
		}
	}
	if len(paths) != 1 {
		fmt.Fprintln(os.Stderr, "kvgit rm: exactly one path required")
		return 2
	}
	if err := repo.Remove(ctx, paths[0], opts); err != nil {
		return fatal(err)
	}
	return 0
}

func runCommit(ctx context.Context, repo *gitcore.Repository, args []string) int {
	message := ""
	opts := gitcore.CommitOptions{}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-m", "--message":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "kvgit commit: -m needs a value")
				return 2
			}
			message = args[i+1]
			i++
		case "--allow-empty":
			opts.AllowEmpty = true
		default:
			fmt.Fprintf(os.Stderr, "kvgit commit: unknown flag %q\n", args[i])
			return 2
		}
	}
	if message == "" {
		fmt.Fprintln(os.Stderr, "kvgit commit: a message is required (-m)")
		return 2
	}
	if !strings.HasSuffix(message, "\n") {
		message += "\n"
	}

	hash, err := repo.Commit(ctx, message, opts)
	if err != nil {
		return fatal(err)
	}

	head, err := repo.Head(ctx)
	if err != nil {
		return fatal(err)
	}
	where := head.Branch
	if head.Detached {
		where = "detached HEAD"
	}
	fmt.Printf("[%s %s] %s", where, hash.Short(), message)
	return 0
}

func runStatus(ctx context.Context, repo *gitcore.Repository, args []string, cw *termcolor.Writer) int {
	porcelain := false
	for _, arg := range args {
		if arg == "-s" || arg == "--porcelain" {
			porcelain = true
		}
	}

	status, err := repo.Status(ctx)
	if err != nil {
		return fatal(err)
	}
	head, err := repo.Head(ctx)
	if err != nil {
		return fatal(err)
	}

	if porcelain {
		return printPorcelain(status)
	}
	return printLongStatus(head, status, cw)
}

func printPorcelain(status *gitcore.Status) int {
	type row struct {
		x, y byte
		path string
	}
	rows := make(map[string]*row)
	get := func(path string) *row {
		if r, ok := rows[path]; ok {
			return r
		}
		r := &row{x: ' ', y: ' ', path: path}
		rows[path] = r
		return r
	}

	for _, p := range status.StagedAdded {
		get(p).x = 'A'
	}
	for _, p := range status.StagedModified {
		get(p).x = 'M'
	}
	for _, p := range status.StagedDeleted {
		get(p).x = 'D'
	}
	for _, p := range status.Modified {
		get(p).y = 'M'
	}
	for _, p := range status.UnstagedDeleted {
		get(p).y = 'D'
	}
	for _, p := range status.Untracked {
		r := get(p)
		r.x, r.y = '?', '?'
	}

	paths := make([]string, 0, len(rows))
	for p := range rows {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		r := rows[p]
		fmt.Printf("%c%c %s\n", r.x, r.y, r.path)
	}
	return 0
}

func printLongStatus(head gitcore.HeadState, status *gitcore.Status, cw *termcolor.Writer) int {
	if head.Detached {
		fmt.Printf("HEAD detached at %s\n", head.Hash.Short())
	} else {
		fmt.Printf("On branch %s\n", head.Branch)
	}

	if status.IsClean() {
		fmt.Println("nothing to commit, working tree clean")
		return 0
	}

	printSet := func(header string, color func(string) string, entries []string, label string) {
		if len(entries) == 0 {
			return
		}
		fmt.Printf("\n%s\n", header)
		for _, path := range entries {
			if label != "" {
				fmt.Printf("\t%s\n", color(label+path))
			} else {
				fmt.Printf("\t%s\n", color(path))
			}
		}
	}

	printSet("Changes to be committed:", cw.Green, status.StagedAdded, "new file:   ")
	printSet("", cw.Green, status.StagedModified, "modified:   ")
	printSet("", cw.Green, status.StagedDeleted, "deleted:    ")
	printSet("Changes not staged for commit:", cw.Red, status.Modified, "modified:   ")
	printSet("", cw.Red, status.UnstagedDeleted, "deleted:    ")
	printSet("Untracked files:", cw.Red, status.Untracked, "")
	return 0
}

func runLog(ctx context.Context, repo *gitcore.Repository, args []string, cw *termcolor.Writer) int {
	oneline := false
	maxCount := 0
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--oneline":
			oneline = true
		case arg == "-n" && i+1 < len(args):
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				fmt.Fprintf(os.Stderr, "kvgit log: bad count %q\n", args[i+1])
				return 2
			}
			maxCount = n
			i++
		case strings.HasPrefix(arg, "-n"):
			n, err := strconv.Atoi(arg[2:])
			if err != nil {
				fmt.Fprintf(os.Stderr, "kvgit log: bad count %q\n", arg[2:])
				return 2
			}
			maxCount = n
		}
	}

	commits, err := repo.Log(ctx, maxCount)
	if err != nil {
		return fatal(err)
	}

	for _, c := range commits {
		if oneline {
			fmt.Printf("%s %s\n", cw.Yellow(c.ID.Short()), c.Summary())
			continue
		}
		fmt.Printf("%s\n", cw.Yellow("commit "+string(c.ID)))
		fmt.Printf("Author: %s <%s>\n", c.Author.Name, c.Author.Email)
		fmt.Printf("Date:   %s\n\n", gitDateFormat(c.Author.When))
		for _, line := range strings.Split(strings.TrimRight(c.Message, "\n"), "\n") {
			fmt.Printf("    %s\n", line)
		}
		fmt.Println()
	}
	return 0
}

func runDiff(ctx context.Context, repo *gitcore.Repository, args []string, cw *termcolor.Writer) int {
	stat := false
	revs := make([]string, 0, 2)
	for _, arg := range args {
		if arg == "--stat" {
			stat = true
		} else {
			revs = append(revs, arg)
		}
	}
	if len(revs) != 2 {
		fmt.Fprintln(os.Stderr, "kvgit diff: two revisions required")
		return 2
	}

	entries, err := repo.DiffCommits(ctx, revs[0], revs[1])
	if err != nil {
		return fatal(err)
	}

	if stat {
		for _, entry := range entries {
			fmt.Printf(" %s %s\n", entry.Status, entry.Path)
		}
		fmt.Printf(" %d files changed\n", len(entries))
		return 0
	}

	for _, entry := range entries {
		d, err := gitcore.FileDiff(ctx, repo.Objects(), entry.OldHash, entry.NewHash, gitcore.DiffOptions{})
		if err != nil {
			return fatal(err)
		}
		oldPath, newPath := entry.Path, entry.Path
		if entry.Status == gitcore.DiffStatusAdded {
			oldPath = ""
		}
		if entry.Status == gitcore.DiffStatusDeleted {
			newPath = ""
		}
		out, err := gitcore.FormatDiff(d, gitcore.FormatOptions{
			Style:   gitcore.StyleUnified,
			OldPath: oldPath,
			NewPath: newPath,
		})
		if err != nil {
			return fatal(err)
		}
		printColoredDiff(out, cw)
	}
	return 0
}

// printColoredDiff applies per-line add/delete/hunk coloring to unified output.
func printColoredDiff(out string, cw *termcolor.Writer) {
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+"):
			fmt.Println(cw.Green(line))
		case strings.HasPrefix(line, "-"):
			fmt.Println(cw.Red(line))
		case strings.HasPrefix(line, "@@"):
			fmt.Println(cw.Cyan(line))
		default:
			fmt.Println(line)
		}
	}
}

func runBranch(ctx context.Context, repo *gitcore.Repository, args []string, cw *termcolor.Writer) int {
	if len(args) >= 2 && (args[0] == "-d" || args[0] == "--delete") {
		if err := repo.DeleteBranch(ctx, args[1]); err != nil {
			return fatal(err)
		}
		fmt.Printf("Deleted branch %s\n", args[1])
		return 0
	}
	if len(args) == 1 {
		if err := repo.CreateBranch(ctx, args[0], ""); err != nil {
			return fatal(err)
		}
		return 0
	}

	branches, err := repo.Branches(ctx)
	if err != nil {
		return fatal(err)
	}
	head, err := repo.Head(ctx)
	if err != nil {
		return fatal(err)
	}

	for _, ref := range branches {
		name := strings.TrimPrefix(ref.Name, "refs/heads/")
		if !head.Detached && name == head.Branch {
			fmt.Printf("* %s\n", cw.Green(name))
		} else {
			fmt.Printf("  %s\n", name)
		}
	}
	return 0
}

func runCheckout(ctx context.Context, repo *gitcore.Repository, args []string) int {
	opts := gitcore.CheckoutOptions{}
	rev := ""
	for _, arg := range args {
		switch arg {
		case "--force", "-f":
			opts.Force = true
		case "--detach":
			opts.Detach = true
		default:
			rev = arg
		}
	}
	if rev == "" {
		fmt.Fprintln(os.Stderr, "kvgit checkout: a revision is required")
		return 2
	}
	if err := repo.Checkout(ctx, rev, opts); err != nil {
		return fatal(err)
	}

	head, err := repo.Head(ctx)
	if err != nil {
		return fatal(err)
	}
	if head.Detached {
		fmt.Printf("HEAD is now at %s\n", head.Hash.Short())
	} else {
		fmt.Printf("Switched to branch '%s'\n", head.Branch)
	}
	return 0
}

func runTag(ctx context.Context, repo *gitcore.Repository, args []string) int {
	message := ""
	var names []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-d", "--delete":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "kvgit tag: -d needs a name")
				return 2
			}
			if err := repo.DeleteTag(ctx, args[i+1]); err != nil {
				return fatal(err)
			}
			fmt.Printf("Deleted tag %s\n", args[i+1])
			return 0
		case "-m", "--message":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "kvgit tag: -m needs a value")
				return 2
			}
			message = args[i+1]
			i++
		default:
			names = append(names, args[i])
		}
	}

	if len(names) == 0 {
		tags, err := repo.Tags(ctx)
		if err != nil {
			return fatal(err)
		}
		for _, ref := range tags {
			fmt.Println(strings.TrimPrefix(ref.Name, "refs/tags/"))
		}
		return 0
	}

	if err := repo.CreateTag(ctx, names[0], "", message); err != nil {
		return fatal(err)
	}
	return 0
}

func runMerge(ctx context.Context, repo *gitcore.Repository, args []string, cw *termcolor.Writer) int {
	opts := gitcore.MergeOptions{}
	rev := ""
	for _, arg := range args {
		if arg == "--no-ff" {
			opts.NoFF = true
		} else {
			rev = arg
		}
	}
	if rev == "" {
		fmt.Fprintln(os.Stderr, "kvgit merge: a revision is required")
		return 2
	}

	outcome, err := repo.Merge(ctx, rev, opts)
	if err != nil {
		return fatal(err)
	}

	switch {
	case outcome.AlreadyUpToDate:
		fmt.Println("Already up to date.")
	case outcome.FastForward:
		fmt.Printf("Fast-forward to %s\n", outcome.Commit.Short())
	case len(outcome.Conflicts) > 0:
		for _, conflict := range outcome.Conflicts {
			fmt.Printf("%s %s (%s)\n", cw.Red("CONFLICT:"), conflict.Path, conflict.Kind)
		}
		fmt.Println("Automatic merge failed; fix conflicts and commit the result.")
		return 1
	default:
		fmt.Printf("Merge made commit %s\n", outcome.Commit.Short())
	}
	return 0
}

func runCatFile(ctx context.Context, repo *gitcore.Repository, args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "kvgit cat-file: usage: cat-file (-t|-s|-p) <object>")
		return 2
	}
	mode, rev := args[0], args[1]

	hash, err := repo.ResolveRevision(ctx, rev)
	if err != nil {
		return fatal(err)
	}
	obj, err := repo.Objects().Get(ctx, hash)
	if err != nil {
		return fatal(err)
	}

	switch mode {
	case "-t":
		fmt.Println(obj.Type())
	case "-s":
		framed, err := gitcore.EncodeObject(obj)
		if err != nil {
			return fatal(err)
		}
		fmt.Println(len(framed))
	case "-p":
		printObject(obj)
	default:
		fmt.Fprintf(os.Stderr, "kvgit cat-file: unknown mode %q\n", mode)
		return 2
	}
	return 0
}

func printObject(obj gitcore.Object) {
	switch o := obj.(type) {
	case *gitcore.Blob:
		os.Stdout.Write(o.Data)
	case *gitcore.Tree:
		for _, entry := range o.Entries {
			kind := "blob"
			if entry.Mode.IsDir() {
				kind = "tree"
			}
			fmt.Printf("%s %s %s\t%s\n", entry.Mode, kind, entry.ID, entry.Name)
		}
	case *gitcore.Commit:
		fmt.Printf("tree %s\n", o.Tree)
		for _, parent := range o.Parents {
			fmt.Printf("parent %s\n", parent)
		}
		fmt.Printf("author %s\ncommitter %s\n\n%s", o.Author, o.Committer, o.Message)
	case *gitcore.Tag:
		fmt.Printf("object %s\ntype %s\ntag %s\ntagger %s\n\n%s", o.Object, o.ObjType, o.Name, o.Tagger, o.Message)
	}
}
