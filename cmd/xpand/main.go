// Command xpand expands, annotates and recompiles a Rust binary target.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/xpand/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		if !cli.IsReported(err) {
			fmt.Fprintln(os.Stderr, "xpand:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
