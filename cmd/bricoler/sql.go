package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newSQLCmd stubs the "sql" surface: SPEC_FULL.md §10 treats querying
// the JobDB through a SQL-like frontend as out of scope for this
// scheduler core.
func newSQLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sql",
		Short: "Query the JobDB (not implemented)",
		Long:  "A SQL-like JobDB query frontend is out of scope for this scheduler core.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("sql: %w", errNotImplemented)
		},
	}
}
