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
		Use:   "citecrawler",
		Short: "Collects PubMed citations for dbSNP identifiers.",
		Long: `citecrawler looks up the PubMed articles that cite each rs identifier in a
backlog file and appends them to a tab-separated report. Interrupted runs
resume from the report without repeating completed lookups.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newCrawlCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "citecrawler:", err)
		os.Exit(1)
	}
}
