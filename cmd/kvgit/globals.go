package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rybkr/kvgit/internal/termcolor"
)

// defaultStoreDir is where the blob store lives unless overridden by
// --store or KVGIT_STORE.
const defaultStoreDir = ".kvgit"

type globalFlags struct {
	colorMode termcolor.ColorMode
	storeDir  string
}

// parseGlobalFlags extracts --color, --no-color, and --store from anywhere
// in args, returning the parsed flags and the remaining arguments.
func parseGlobalFlags(args []string) (globalFlags, []string) {
	gf := globalFlags{colorMode: termcolor.ColorAuto, storeDir: defaultStoreDir}
	if env := os.Getenv("KVGIT_STORE"); env != "" {
		gf.storeDir = env
	}
	var remaining []string

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if arg == "--no-color" {
			gf.colorMode = termcolor.ColorNever
			continue
		}

		if arg == "--color" && i+1 < len(args) {
			mode, err := termcolor.ParseColorMode(args[i+1])
			if err != nil {
				fmt.Fprintf(os.Stderr, "kvgit: %v\n", err)
				os.Exit(1)
			}
			gf.colorMode = mode
			i++
			continue
		}

		if val, ok := strings.CutPrefix(arg, "--color="); ok {
			mode, err := termcolor.ParseColorMode(val)
			if err != nil {
				fmt.Fprintf(os.Stderr, "kvgit: %v\n", err)
				os.Exit(1)
			}
			gf.colorMode = mode
			continue
		}

		if arg == "--store" && i+1 < len(args) {
			gf.storeDir = args[i+1]
			i++
			continue
		}

		if val, ok := strings.CutPrefix(arg, "--store="); ok {
			gf.storeDir = val
			continue
		}

		remaining = append(remaining, arg)
	}

	return gf, remaining
}
