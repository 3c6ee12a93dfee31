// Package main provides the entry point for the codedup CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/codedup/cmd/codedup/commands"
	"github.com/Sumatoshi-tech/codedup/pkg/version"
)

func main() {
	globals := &commands.Globals{}

	rootCmd := &cobra.Command{
		Use:   "codedup",
		Short: "Codedup - duplicate and near-duplicate code detection",
		Long: `Codedup indexes source-code corpora and finds duplicated code.

Commands:
  hash      Index a repository or directory into the store
  query     Find duplicates of and documents similar to one input
  report    Enumerate all duplicate clusters and similar components`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&globals.ConfigPath, "config", "", "config file path (default: .codedup.yaml in CWD or $HOME)")
	rootCmd.PersistentFlags().BoolVarP(&globals.Verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&globals.Quiet, "quiet", "q", false, "suppress progress output")

	rootCmd.AddCommand(commands.NewHashCommand(globals))
	rootCmd.AddCommand(commands.NewQueryCommand(globals))
	rootCmd.AddCommand(commands.NewReportCommand(globals))
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "codedup %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
