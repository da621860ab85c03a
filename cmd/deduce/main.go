// deduce runs the deduction engine: a live observer session that records and
// revises probabilistic deductions, plus a slower audit pass over the
// transcript.
//
// Usage:
//
//	deduce live  [--config=<path>]
//	deduce audit [--config=<path>]
//	deduce show  [--json] [--transcript=<n>]
//	deduce reset
package main

import (
	"context"
	"fmt"
	"io"
	"os"
)

// version is set at build time via -ldflags.
var version = "dev"

func runMain(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, deps appDeps) int {
	root := newRootCmd(deps)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "deduce: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr, defaultAppDeps()))
}
