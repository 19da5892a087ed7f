// Package logging wires bricoler's components to a single structured
// logger, constructor-injected rather than accessed as a package global.
package logging

import (
	"io"
	"os"

	"github.com/ternarybob/arbor"
)

// New builds a console logger. Quiet lowers the level to warn-and-above,
// matching the CLI's "quietness flag derived from whether stdout is a
// terminal" (spec.md §4.7).
func New(quiet bool, out io.Writer) arbor.ILogger {
	if out == nil {
		out = os.Stderr
	}
	level := arbor.LevelInfo
	if quiet {
		level = arbor.LevelWarn
	}
	return arbor.NewLogger(
		arbor.WithLevel(level),
		arbor.WithConsole(out),
	)
}
