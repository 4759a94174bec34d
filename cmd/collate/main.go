// collate merges consecutive event records that share a correlation key into
// composite records.
//
// Usage:
//
//	collate run --config collate.yaml [paths...]
//	collate validate --config collate.yaml
//
// Records are read from the given files (or stdin) and emitted as NDJSON on
// stdout. SIGINT or SIGTERM stops reading; held records are still flushed.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "collate",
		Short: "Merge correlated event records",
		Long: `collate folds consecutive records of a stream that share a unique field
value into the first record of the group, collecting selected fields of every
record into an array on the survivor.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(validateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
