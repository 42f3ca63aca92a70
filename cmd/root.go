// Package cmd defines and implements the CLI commands for the kbcrawl
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kbcrawl",
		Short: "A concurrent crawler for the team knowledge base",
		Long: `kbcrawl walks the connected knowledge base - the ticket tracker, the
wiki and the shared file storage - starting from a set of seed items,
following cross-references between services, and exports the collected
content as flat documents for retrieval indexing.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newCrawlCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
