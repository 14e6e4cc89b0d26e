package main

import (
	"github.com/spf13/cobra"
)

// rootOptions holds global flags shared by all subcommands.
type rootOptions struct {
	ConfigPath string
	LogLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "synckitd",
		Short: "Tri-node sync daemon",
		Long: `synckitd hosts the in-process event bus, the tri-node sync
session and the WebSocket stream gateway.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to TOML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override configured log level (debug|info|warn|error)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newBootCommand(opts))
	cmd.AddCommand(newValidateCommand(opts))

	return cmd
}
