// Command kvgit is a Git CLI whose repository lives entirely in a key/value
// blob store directory, exercising the same core the browser builds use.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/rybkr/kvgit/internal/blobstore"
	"github.com/rybkr/kvgit/internal/cli"
	"github.com/rybkr/kvgit/internal/gitcore"
	"github.com/rybkr/kvgit/internal/termcolor"
	"github.com/rybkr/kvgit/internal/worktree"
)

// Build-time variables set via -ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	gf, args := parseGlobalFlags(os.Args[1:])

	for _, a := range args {
		if a == "--version" {
			printVersion()
			os.Exit(0)
		}
	}

	cw := termcolor.NewWriter(os.Stdout, gf.colorMode)

	app := cli.NewApp("kvgit", version)
	app.Stderr = os.Stderr

	ctx := context.Background()

	// repo is assigned after dispatch determines that the matched command
	// needs it (NeedsRepo). Closures capture the pointer variable, which
	// is populated before they execute.
	var repo *gitcore.Repository

	app.Register(&cli.Command{
		Name:     "init",
		Summary:  "Create an empty repository",
		Usage:    "kvgit init [--bare] [--branch <name>] [--hash sha1|sha256]",
		Examples: []string{"kvgit init", "kvgit init --branch trunk --hash sha256"},
		Run:      func(args []string) int { return runInit(ctx, gf.storeDir, args) },
	})

	app.Register(&cli.Command{
		Name:      "add",
		Summary:   "Stage file contents for the next commit",
		Usage:     "kvgit add [--force] [--update] <path>...",
		Examples:  []string{"kvgit add README.md", "kvgit add ."},
		NeedsRepo: true,
		Run:       func(args []string) int { return runAdd(ctx, repo, args) },
	})

	app.Register(&cli.Command{
		Name:      "rm",
		Summary:   "Remove a file from the index and working tree",
		Usage:     "kvgit rm [--cached] <path>",
		NeedsRepo: true,
		Run:       func(args []string) int { return runRm(ctx, repo, args) },
	})

	app.Register(&cli.Command{
		Name:      "commit",
		Summary:   "Record the staged snapshot",
		Usage:     "kvgit commit -m <message> [--allow-empty]",
		Examples:  []string{`kvgit commit -m "first"`},
		NeedsRepo: true,
		Run:       func(args []string) int { return runCommit(ctx, repo, args) },
	})

	app.Register(&cli.Command{
		Name:      "status",
		Summary:   "Show working tree status",
		Usage:     "kvgit status [-s|--porcelain]",
		NeedsRepo: true,
		Run:       func(args []string) int { return runStatus(ctx, repo, args, cw) },
	})

	app.Register(&cli.Command{
		Name:      "log",
		Summary:   "Show commit history",
		Usage:     "kvgit log [--oneline] [-n <count>]",
		Examples:  []string{"kvgit log", "kvgit log --oneline -n5"},
		NeedsRepo: true,
		Run:       func(args []string) int { return runLog(ctx, repo, args, cw) },
	})

	app.Register(&cli.Command{
		Name:      "diff",
		Summary:   "Show changes between two commits",
		Usage:     "kvgit diff [--stat] <rev1> <rev2>",
		Examples:  []string{"kvgit diff main feature"},
		NeedsRepo: true,
		Run:       func(args []string) int { return runDiff(ctx, repo, args, cw) },
	})

	app.Register(&cli.Command{
		Name:      "branch",
		Summary:   "List, create, or delete branches",
		Usage:     "kvgit branch [<name>] | branch -d <name>",
		NeedsRepo: true,
		Run:       func(args []string) int { return runBranch(ctx, repo, args, cw) },
	})

	app.Register(&cli.Command{
		Name:      "checkout",
		Summary:   "Switch branches or restore a commit's tree",
		Usage:     "kvgit checkout [--force] [--detach] <rev>",
		NeedsRepo: true,
		Run:       func(args []string) int { return runCheckout(ctx, repo, args) },
	})

	app.Register(&cli.Command{
		Name:      "tag",
		Summary:   "List or create tags",
		Usage:     "kvgit tag [-m <message>] [<name>] | tag -d <name>",
		NeedsRepo: true,
		Run:       func(args []string) int { return runTag(ctx, repo, args) },
	})

	app.Register(&cli.Command{
		Name:      "merge",
		Summary:   "Merge a branch into the current branch",
		Usage:     "kvgit merge [--no-ff] <rev>",
		NeedsRepo: true,
		Run:       func(args []string) int { return runMerge(ctx, repo, args, cw) },
	})

	app.Register(&cli.Command{
		Name:      "cat-file",
		Summary:   "Show object content, type, or size",
		Usage:     "kvgit cat-file (-t|-s|-p) <object>",
		Examples:  []string{"kvgit cat-file -p HEAD"},
		NeedsRepo: true,
		Run:       func(args []string) int { return runCatFile(ctx, repo, args) },
	})

	app.Register(&cli.Command{
		Name:    "version",
		Summary: "Show version information",
		Usage:   "kvgit version",
		Run:     func([]string) int { printVersion(); return 0 },
	})

	// Load the repository only when the matched command needs it.
	if len(args) > 0 {
		cmd := app.Lookup(args[0])
		if cmd != nil && cmd.NeedsRepo {
			var err error
			repo, err = openRepo(ctx, gf.storeDir)
			if err != nil {
				if errors.Is(err, gitcore.ErrNotARepo) {
					fmt.Fprintf(os.Stderr, "fatal: not a kvgit repository: %s (run 'kvgit init')\n", gf.storeDir)
				} else {
					fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
				}
				os.Exit(128)
			}
		}
	}

	os.Exit(app.Run(args, cw))
}

// openRepo opens the disk-backed store and worktree at storeDir.
func openRepo(ctx context.Context, storeDir string) (*gitcore.Repository, error) {
	store, err := blobstore.NewDiskStore(storeDir, nil)
	if err != nil {
		return nil, err
	}
	repo, err := gitcore.Open(ctx, store, worktree.New(store))
	if err != nil {
		return nil, err
	}
	loadIgnoreFile(ctx, repo)
	return repo, nil
}

// loadIgnoreFile installs .gitignore patterns from the working tree, if any.
func loadIgnoreFile(ctx context.Context, repo *gitcore.Repository) {
	wt := repo.Worktree()
	if wt == nil {
		return
	}
	data, err := wt.ReadFile(ctx, ".gitignore")
	if err != nil {
		return
	}
	repo.SetIgnorePatterns(strings.Split(string(data), "\n"))
}

func printVersion() {
	fmt.Printf("kvgit %s\n", version)
	fmt.Printf("  commit:     %s\n", commit)
	fmt.Printf("  built:      %s\n", buildDate)
	fmt.Printf("  go version: %s\n", runtime.Version())
	fmt.Printf("  platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
}
