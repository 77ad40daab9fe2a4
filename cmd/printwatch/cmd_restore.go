package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/HerbHall/printwatch/internal/backup"
)

func newRestoreCmd() *cobra.Command {
	var (
		input, dataDir string
		force          bool
	)
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a backup archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := backup.Restore(cmd.Context(), input, dataDir, force)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restore complete: %s restored to %s (backup from %s)\n",
				m.Database, dataDir, m.CreatedAt.Format("2006-01-02 15:04"))
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "backup archive to restore (required)")
	cmd.Flags().StringVar(&dataDir, "data-dir", ".", "target directory for restored files")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}
