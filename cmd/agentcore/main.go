// Command agentcore is a minimal CLI exercising the public agent API
// directly against an in-process runtime.Manager: start a session, send it
// a prompt, or run the JSON-RPC surface as a long-lived server.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main so tests can exercise command wiring without
// exiting the process.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentcore",
		Short: "agentcore - coding-agent runtime core",
		Long: `agentcore drives the session store, agent loop, tool runner, and
supervision topology described in this repository's specification directly
from the command line, and can optionally expose them over JSON-RPC.`,
	}
	rootCmd.AddCommand(
		buildSessionCmd(),
		buildPromptCmd(),
		buildServeCmd(),
	)
	return rootCmd
}
