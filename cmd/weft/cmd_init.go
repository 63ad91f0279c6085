package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kingrea/weft/internal/config"
)

func newInitCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default weft.yaml into the project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := opts.project()
			if err != nil {
				return err
			}
			if err := config.Init(dir); err != nil {
				return err
			}
			cfg, err := config.Load(dir)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config: %s\nRuns:   %s\n", cfg.ProjectConfigPath(), cfg.RunsDir())
			return nil
		},
	}
}
