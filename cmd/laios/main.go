package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "laios",
		Short: "laios - a local-first autonomous agent runtime",
		Long: `laios plans, executes, and reflects on goals through a bounded
Planner -> Executor -> Reflector -> Replanner loop, gating risky tool calls
by trust level and routing LLM calls across a fallback/round-robin provider
roster.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildSessionCmd(),
		buildGoalCmd(),
		buildToolsCmd(),
		buildPluginsCmd(),
		buildDoctorCmd(),
	)

	return rootCmd
}
