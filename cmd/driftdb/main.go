// Command driftdb operates a driftdb database from the shell.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/driftdb/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
