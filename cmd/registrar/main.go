// Command registrar runs the centralized membership and ring-assembly
// service described in spec.md §4.1. Command structure (a cobra root plus
// a serve subcommand reading flags) is grounded on ZTAP's cmd/root.go and
// cmd/metrics.go.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "registrar",
	Short: "Centralized membership and ring-assembly service for ring leader election",
	Long: `registrar tracks which nodes are alive, assembles them into a
unidirectional ring ordered by ascending UID, and gates elections so at
most one runs at a time.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
