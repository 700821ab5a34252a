// Command treesync replays sync scenarios, checks them against golden
// traces, hashes data and inspects persisted state.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/treesync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
