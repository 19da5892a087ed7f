// Command bricoler is the TaskSched/PtyDriver CLI.
package main

import (
	"os"

	"github.com/markjdb/bricoler/internal/pty"
)

func main() {
	// A self-reexec of this binary for the PTY bootstrap child (see
	// internal/pty's package doc) must be recognized before cobra ever
	// touches os.Args.
	if pty.IsBootstrapInvocation(os.Args) {
		pty.RunBootstrap(os.Args)
		return
	}
	Execute()
}
