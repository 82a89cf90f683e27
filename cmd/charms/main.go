// Command charms verifies, normalizes and proves charms spells.
package main

import (
	"fmt"
	"os"

	"github.com/bitsnark/charms/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
