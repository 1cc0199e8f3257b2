package main

import (
	"fmt"
	"os"

	"github.com/systemshift/reqgraph/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, cli.Describe(err))
		os.Exit(cli.GetExitCode(err))
	}
}
