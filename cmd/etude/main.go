// Command etude is the practice ledger CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/etude/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	code := cli.GetExitCode(err)

	// Rejections and failed checks are already on stdout in the chosen
	// format; usage and setup errors are not.
	var exitErr *cli.ExitError
	if err != nil && (!errors.As(err, &exitErr) || code == cli.ExitCommandError) {
		fmt.Fprintf(os.Stderr, "etude: %v\n", err)
	}
	os.Exit(code)
}
