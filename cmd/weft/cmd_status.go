package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kingrea/weft/internal/tui"
	"github.com/kingrea/weft/internal/workspace"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the persisted state of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			snapshot, err := workspace.ReadState(filepath.Join(cfg.RunsDir(), args[0], workspace.StateFile))
			if err != nil {
				return fmt.Errorf("load state: %w", err)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(snapshot)
			}
			fmt.Fprintln(out, tui.RenderSummary(snapshot))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw snapshot")
	return cmd
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List runs in the runs directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			entries, err := os.ReadDir(cfg.RunsDir())
			if err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("read runs dir: %w", err)
			}
			type row struct {
				id      string
				summary string
				updated string
			}
			var rows []row
			for _, entry := range entries {
				if !entry.IsDir() {
					continue
				}
				snapshot, err := workspace.ReadState(filepath.Join(cfg.RunsDir(), entry.Name(), workspace.StateFile))
				if err != nil {
					rows = append(rows, row{id: entry.Name(), summary: "no snapshot"})
					continue
				}
				rows = append(rows, row{
					id:      entry.Name(),
					summary: snapshot.Counts().String(),
					updated: snapshot.UpdatedAt.UTC().Format("2006-01-02 15:04:05"),
				})
			}
			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintf(out, "No runs in %s\n", cfg.RunsDir())
				return nil
			}
			sort.Slice(rows, func(i, j int) bool { return rows[i].updated > rows[j].updated })
			for _, r := range rows {
				fmt.Fprintf(out, "%-36s  %-19s  %s\n", r.id, r.updated, r.summary)
			}
			return nil
		},
	}
}
