package main

import (
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kingrea/weft/internal/logging"
	"github.com/kingrea/weft/internal/tui"
	"github.com/kingrea/weft/internal/workspace"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <run-id>",
		Short: "Follow a run in a live terminal view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			root := filepath.Join(cfg.RunsDir(), args[0])
			statePath := filepath.Join(root, workspace.StateFile)
			logPath := filepath.Join(root, workspace.LogsDir, logging.FileName)

			updates, err := workspace.WatchState(cmd.Context(), statePath)
			if err != nil {
				return err
			}
			p := tea.NewProgram(
				tui.NewWatcher(statePath, logPath, updates),
				tea.WithAltScreen(),
				tea.WithContext(cmd.Context()),
			)
			_, err = p.Run()
			return err
		},
	}
}
