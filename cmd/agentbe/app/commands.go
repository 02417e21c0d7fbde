// Package app provides the cobra command tree for the agentbe CLI.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentbe/agentbe-go/pkg/logger"
)

const (
	// FormatText renders mcp command output as aligned columns.
	FormatText = "text"
	// FormatJSON renders mcp command output as indented JSON.
	FormatJSON = "json"
)

var rootCmd = &cobra.Command{
	Use:               "agentbe",
	DisableAutoGenTag: true,
	Short:             "Agent backend client - chat with an agent over a sandboxed filesystem/exec backend",
	Long: `agentbe is a client library and CLI for driving an AI agent against one of three
backend targets: an in-memory sandbox, the local filesystem, or a remote daemon reached
over SSH-over-WebSocket. It exposes a uniform file/exec surface to the agent through MCP
and drives an interactive, tool-calling chat loop on top of it.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates the root agentbe command with all subcommands wired.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Set the debug key in the CLI configuration (debug logging is enabled by DEBUG_LOGS=true)")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to an agentbe configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newMCPCommand())

	rootCmd.SilenceUsage = true
	return rootCmd
}
