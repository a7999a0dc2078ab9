// Package main provides the CLI entry point for the outdial call worker.
//
// Outdial places automated outbound phone calls through a LiveKit SIP trunk,
// drives each call with an LLM-generated dialogue, and hands the audio to a
// media bridge over a websocket.
//
// # Basic Usage
//
// Start the worker:
//
//	outdial serve --config outdial.yaml
//
// Place a single call from the CLI:
//
//	outdial call --config outdial.yaml --to +15550100
//
// Validate a configuration file:
//
//	outdial config validate --config outdial.yaml
//
// # Environment Variables
//
// Config values may reference environment variables with ${VAR} syntax, so
// API keys and SIP credentials stay out of the file:
//
//   - OPENAI_API_KEY: OpenAI API key
//   - ANTHROPIC_API_KEY: Anthropic API key
//   - LIVEKIT_API_KEY / LIVEKIT_API_SECRET: gateway credentials
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "outdial",
		Short: "Outdial - automated outbound call worker",
		Long: `Outdial places outbound phone calls through a LiveKit SIP trunk and runs
each call as an LLM-driven conversation: greeting, turn handling, silence
escalation, transfer to a human, and clean teardown.

A media bridge owns the room audio (STT and TTS); this worker connects to it
over a websocket and drives the call session state.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildCallCmd(),
		buildConfigCmd(),
		buildRecentCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}
