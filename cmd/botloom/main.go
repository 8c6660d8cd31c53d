// Package main is the entry point for the botloom CLI.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/botloom/internal/cli"
)

// Build-time variables
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	root := cli.NewRootCommand()
	root.Version = fmt.Sprintf("%s (commit: %s)", version, commit)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
