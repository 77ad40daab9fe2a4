// Command printwatch runs the printer fleet status monitor.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "printwatch",
		Short:         "Monitor the status of a rented printer fleet",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to configuration file")

	root.AddCommand(
		newServeCmd(opts),
		newBackupCmd(opts),
		newRestoreCmd(),
		newVersionCmd(),
	)
	return root
}
