package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "feedgate",
		Short:        "Real-time event gateway for the social feed",
		Long:         "feedgate pushes feed, notification, chat and presence events to connected clients and keeps client views consistent through resync.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml, toml or json)")

	rootCmd.AddCommand(
		newServeCmd(&configPath),
		newTokenCmd(&configPath),
		newWatchCmd(),
	)
	return rootCmd
}
