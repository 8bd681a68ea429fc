// Package main provides the CLI entry point for the finagent gateway.
//
// finagent fronts LLM-backed financial analysis agents with a session
// relay, exposing them over HTTP polling and WebSocket streaming.
//
// # Basic Usage
//
// Start the server:
//
//	finagent serve --config finagent.yaml
//
// Chat interactively against a running server:
//
//	finagent chat --host 127.0.0.1 --port 8000
//
// # Environment Variables
//
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - FMP_API_KEY: Financial Modeling Prep API key for finance data tools
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "finagent",
		Short:        "finagent - financial analysis agent gateway",
		Long:         "finagent runs financial analysis agents behind a session relay,\nreachable over HTTP polling and WebSocket streaming.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildChatCmd(),
		buildSessionsCmd(),
	)

	return rootCmd
}
