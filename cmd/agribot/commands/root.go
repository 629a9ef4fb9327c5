// Package commands implements the AgriBot CLI using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agribot",
		Short: "AgriBot - WhatsApp advisory assistant for farmers",
		Long: `AgriBot is a WhatsApp advisory service for Indian farmers. It receives
messages through a WPPConnect webhook, aggregates typing bursts, and answers
questions about crops, market prices, weather, and government schemes in the
farmer's own language, by voice or text.

Examples:
  agribot serve
  agribot serve --config agribot.yaml`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")

	return rootCmd
}
