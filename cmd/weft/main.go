// cmd/weft/main.go
//
// Entry point for the weft CLI. Every subcommand resolves the project
// directory, loads weft.yaml and works on the runs directory it names.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "weft",
		Short: "Resumable dependency-graph workflow engine",
		Long: "weft runs a pipeline of dependent nodes with bounded parallelism,\n" +
			"persisting a snapshot after every transition so an interrupted run\n" +
			"can be resumed without redoing completed work.",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		Version: version,
	}
	root.PersistentFlags().StringVar(&opts.projectDir, "project", "", "project directory holding weft.yaml (defaults to cwd)")

	root.AddCommand(
		newInitCmd(opts),
		newRunCmd(opts),
		newResumeCmd(opts),
		newStatusCmd(opts),
		newListCmd(opts),
		newWatchCmd(opts),
		newValidateCmd(opts),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
