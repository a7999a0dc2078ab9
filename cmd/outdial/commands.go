// commands.go contains all cobra command definitions and their flag
// configurations. Each command builder creates a command and wires it to its
// handler in handlers.go.
package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "outdial.yaml"

// buildServeCmd creates the "serve" command that starts the call worker.
// This is the primary command for running outdial in production.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the outdial call worker",
		Long: `Start the worker: connect to the media bridge, accept dial jobs, and run
each accepted job as one call session until shutdown.

The worker will:
1. Load configuration from the specified file (or outdial.yaml)
2. Open the call summary store when one is configured
3. Connect to the LiveKit gateway and the media bridge
4. Accept job requests from the bridge and place the outbound calls
5. Serve Prometheus metrics when enabled

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  outdial serve

  # Start with custom config
  outdial serve --config /etc/outdial/production.yaml

  # Start with debug logging
  outdial serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

// buildCallCmd creates the "call" command that places one call from the CLI.
func buildCallCmd() *cobra.Command {
	var (
		configPath string
		to         string
		transferTo string
		room       string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "call",
		Short: "Place a single outbound call",
		Long: `Place one call and run it to completion. The worker stack is brought up for
just this call and torn down when it ends.`,
		Example: `  # Call a number
  outdial call --to +15550100

  # Call with a transfer target for the "talk to a person" path
  outdial call --to +15550100 --transfer-to +15550199`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if to == "" {
				return fmt.Errorf("--to is required")
			}
			return runCall(cmd.Context(), configPath, callRequest{
				Destination: to,
				TransferTo:  transferTo,
				Room:        room,
				Debug:       debug,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	cmd.Flags().StringVar(&to, "to", "", "Destination number in E.164 form (required)")
	cmd.Flags().StringVar(&transferTo, "transfer-to", "", "Number a mid-call transfer hands off to")
	cmd.Flags().StringVar(&room, "room", "", "Room name override (defaults to the configured prefix plus a random id)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(buildConfigValidateCmd(), buildConfigSchemaCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd)
		},
	}
}

// buildRecentCmd creates the "recent" command that lists stored call
// summaries.
func buildRecentCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show recently completed calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecent(cmd.Context(), configPath, limit)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of calls to show")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "outdial %s\ncommit: %s\nbuilt:  %s\n", version, commit, date)
		},
	}
}
