package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/laios/laios/internal/config"
	"github.com/laios/laios/pkg/models"
)

func runServe(cmd *cobra.Command, configPath, workspace string) error {
	rt, err := buildRuntime(configPath, workspace)
	if err != nil {
		return err
	}
	defer rt.mem.Close()

	metricsAddr := fmt.Sprintf("%s:%d", rt.cfg.Server.Host, rt.cfg.Server.MetricsPort)
	metricsSrv := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.HandlerFor(rt.metrics.Gatherer(), promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("metrics server stopped", "error", err)
		}
	}()

	rt.logger.Info("laios runtime ready",
		"version", version,
		"trust_level", rt.cfg.Agent.TrustLevel,
		"llm_default_provider", rt.cfg.LLM.DefaultProvider,
		"memory_backend", rt.cfg.Memory.Backend,
		"metrics_addr", metricsAddr,
	)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		rt.logger.Warn("metrics server shutdown", "error", err)
	}

	rt.logger.Info("shutdown signal received")
	return nil
}

func runSessionStart(cmd *cobra.Command, configPath, workspace, userID string) error {
	rt, err := buildRuntime(configPath, workspace)
	if err != nil {
		return err
	}
	defer rt.mem.Close()

	session := rt.controller.CreateSession(userID)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session %s started, type a message (empty line to exit)\n", session.ID)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		reply, err := rt.controller.ProcessMessage(cmd.Context(), session.ID, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, reply)
	}
	return rt.controller.ShutdownSession(session.ID)
}

func runGoalRun(cmd *cobra.Command, configPath, workspace, userID, description string, priority int) error {
	rt, err := buildRuntime(configPath, workspace)
	if err != nil {
		return err
	}
	defer rt.mem.Close()

	session := rt.controller.CreateSession(userID)
	defer rt.controller.ShutdownSession(session.ID)

	goal := models.Goal{
		ID:          uuid.NewString(),
		Description: description,
		Priority:    priority,
		CreatedAt:   time.Now(),
	}

	result, err := rt.controller.ExecuteGoal(cmd.Context(), session.ID, goal)
	if err != nil {
		return fmt.Errorf("execute goal: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func runToolsList(cmd *cobra.Command, configPath, workspace string) error {
	rt, err := buildRuntime(configPath, workspace)
	if err != nil {
		return err
	}
	defer rt.mem.Close()

	out := cmd.OutOrStdout()
	for _, name := range rt.registry.List() {
		tool, _ := rt.registry.Get(name)
		fmt.Fprintf(out, "%-16s %-12s %s\n", tool.Name(), tool.Category(), tool.Description())
		for _, perm := range tool.RequiredPermissions() {
			fmt.Fprintf(out, "  requires: %s\n", perm)
		}
	}
	return nil
}

func runPluginsList(cmd *cobra.Command, configPath, workspace string) error {
	rt, err := buildRuntime(configPath, workspace)
	if err != nil {
		return err
	}
	defer rt.mem.Close()

	out := cmd.OutOrStdout()
	metas := rt.plugins.List()
	if len(metas) == 0 {
		fmt.Fprintln(out, "no plugins loaded")
		return nil
	}
	for _, m := range metas {
		fmt.Fprintf(out, "%-20s v%-10s enabled=%-5v %s\n", m.Name, m.Version, m.Enabled, m.Description)
	}
	return nil
}

func runDoctor(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		var verr *config.ValidationError
		if ok := asValidationError(err, &verr); ok {
			fmt.Fprintln(out, "configuration is invalid:")
			for _, issue := range verr.Issues {
				fmt.Fprintf(out, "  - %s\n", issue)
			}
			return fmt.Errorf("%d validation issue(s)", len(verr.Issues))
		}
		return fmt.Errorf("load config: %w", err)
	}

	fmt.Fprintf(out, "configuration OK: %s\n", configPath)
	fmt.Fprintf(out, "  trust_level:      %s\n", cfg.Agent.TrustLevel)
	fmt.Fprintf(out, "  llm.strategy:     %s\n", cfg.LLM.Strategy)
	fmt.Fprintf(out, "  llm.providers:    %d configured\n", len(cfg.LLM.Providers))
	fmt.Fprintf(out, "  memory.backend:   %s\n", cfg.Memory.Backend)
	if cfg.Version != 0 {
		if verr := config.ValidateVersion(cfg.Version); verr != nil {
			fmt.Fprintf(out, "  version:          %v\n", verr)
		} else {
			fmt.Fprintf(out, "  version:          %d (current)\n", cfg.Version)
		}
	}
	return nil
}

func asValidationError(err error, target **config.ValidationError) bool {
	ve, ok := err.(*config.ValidationError)
	if ok {
		*target = ve
	}
	return ok
}
