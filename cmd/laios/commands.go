package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Serve Command
// =============================================================================

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		workspace  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the laios runtime and block until shutdown",
		Long: `Load configuration, wire the planner/executor/reflector/router stack and
the built-in tool registry, then block until SIGINT/SIGTERM.

This is the process a supervisor (systemd, docker) keeps running; goal
execution against it happens through whatever transport is configured
separately (CLI "goal run" drives the same stack in-process for local use).`,
		Example: `  # Start with the default config (laios.yaml)
  laios serve

  # Start with a custom config and workspace root
  laios serve --config /etc/laios/production.yaml --workspace /srv/laios`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, workspace)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root the filesystem/shell tools are scoped to")
	return cmd
}

// =============================================================================
// Session Command
// =============================================================================

func buildSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage interactive conversational sessions",
	}
	cmd.AddCommand(buildSessionStartCmd())
	return cmd
}

func buildSessionStartCmd() *cobra.Command {
	var (
		configPath string
		workspace  string
		userID     string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start an interactive session, reading turns from stdin",
		Long: `Create a session and read messages from stdin, one per line, printing the
runtime's reply after each turn. Ends on EOF or an empty line.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionStart(cmd, configPath, workspace, userID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root the filesystem/shell tools are scoped to")
	cmd.Flags().StringVar(&userID, "user", "cli-user", "User ID to attach to the session")
	return cmd
}

// =============================================================================
// Goal Command
// =============================================================================

func buildGoalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goal",
		Short: "Plan and execute a goal through the replanning loop",
	}
	cmd.AddCommand(buildGoalRunCmd())
	return cmd
}

func buildGoalRunCmd() *cobra.Command {
	var (
		configPath string
		workspace  string
		userID     string
		priority   int
	)

	cmd := &cobra.Command{
		Use:   "run <description>",
		Short: "Run a goal to completion and print its final state",
		Long: `Create a session, submit a goal description, and drive it through
Planner -> Executor -> Reflector -> Replanner until it completes or the
replan budget (agent.max_replans) is exhausted.`,
		Example: `  laios goal run "summarize the README and write it to SUMMARY.md"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGoalRun(cmd, configPath, workspace, userID, args[0], priority)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root the filesystem/shell tools are scoped to")
	cmd.Flags().StringVar(&userID, "user", "cli-user", "User ID to attach to the session")
	cmd.Flags().IntVar(&priority, "priority", 0, "Goal priority")
	return cmd
}

// =============================================================================
// Tools Command
// =============================================================================

func buildToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the built-in tool registry",
	}
	cmd.AddCommand(buildToolsListCmd())
	return cmd
}

func buildToolsListCmd() *cobra.Command {
	var (
		configPath string
		workspace  string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered tools and the permissions they require",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsList(cmd, configPath, workspace)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root the filesystem/shell tools are scoped to")
	return cmd
}

// =============================================================================
// Plugins Command
// =============================================================================

func buildPluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect the plugin registry",
	}
	cmd.AddCommand(buildPluginsListCmd())
	return cmd
}

func buildPluginsListCmd() *cobra.Command {
	var (
		configPath string
		workspace  string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List loaded plugins and their enabled state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPluginsList(cmd, configPath, workspace)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root the filesystem/shell tools are scoped to")
	return cmd
}

// =============================================================================
// Doctor Command
// =============================================================================

func buildDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate a configuration file",
		Long: `Load and validate the configuration file, reporting every aggregated
issue (not just the first) without starting the runtime.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	return cmd
}
