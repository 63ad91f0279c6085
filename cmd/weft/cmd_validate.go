package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kingrea/weft/internal/workflow"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [pipeline | -]",
		Short: "Check a pipeline definition without running it",
		Long:  "Check a pipeline definition without running it. A pipeline of \"-\" reads YAML from stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			explicit := ""
			if len(args) == 1 {
				explicit = args[0]
			}
			var (
				path string
				def  workflow.Definition
				err  error
			)
			if explicit == "-" {
				path = "stdin"
				def, err = workflow.LoadDefinitionReader(cmd.InOrStdin())
			} else {
				cfg, cfgErr := opts.loadConfig()
				if cfgErr != nil {
					return cfgErr
				}
				path = pipelinePath(cfg, explicit)
				def, err = workflow.LoadDefinitionFile(path)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: pipeline %s is valid (%d nodes, %d expansions)\n",
				path, def.ID, len(def.Nodes), len(def.Expansions))
			return nil
		},
	}
}
