package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/HerbHall/printwatch/internal/backup"
	"github.com/HerbHall/printwatch/internal/config"
)

func newBackupCmd(root *rootOptions) *cobra.Command {
	var output, dbPath string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the database and config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dbPath == "" {
				v, err := config.Load(root.configPath)
				if err != nil {
					return err
				}
				dbPath = v.GetString("database.path")
			}
			if output == "" {
				output = fmt.Sprintf("printwatch-backup-%s.tar.gz", time.Now().Format("20060102-150405"))
			}
			m, err := backup.Backup(cmd.Context(), dbPath, root.configPath, output)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup created: %s (database %s, version %s)\n", output, m.Database, m.Version)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file path (default: printwatch-backup-{timestamp}.tar.gz)")
	cmd.Flags().StringVar(&dbPath, "db", "", "database path (default: database.path from config)")
	return cmd
}
