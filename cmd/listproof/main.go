package main

import (
	"fmt"
	"os"

	"github.com/roach88/listproof/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "listproof:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
