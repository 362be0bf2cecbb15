// Command node runs a single ring election participant: it registers with
// a registrar, serves the Node RPC and health surfaces, and drives an
// interactive operator console. Command structure is grounded on ZTAP's
// cmd/root.go.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "node",
	Short: "A participating node in a ring leader election",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
