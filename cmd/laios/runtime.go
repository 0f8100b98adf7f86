// Package main provides the laios CLI entry point: a small command-line
// surface for running the agent runtime (serve, session, goal), inspecting
// its tool registry and plugin set, and validating configuration (doctor).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/laios/laios/internal/config"
	"github.com/laios/laios/internal/controller"
	"github.com/laios/laios/internal/eventbus"
	"github.com/laios/laios/internal/executor"
	"github.com/laios/laios/internal/hardening"
	"github.com/laios/laios/internal/llmrouter"
	"github.com/laios/laios/internal/llmrouter/providers"
	"github.com/laios/laios/internal/memory"
	runtimemetrics "github.com/laios/laios/internal/metrics"
	"github.com/laios/laios/internal/planner"
	"github.com/laios/laios/internal/pluginreg"
	"github.com/laios/laios/internal/reflector"
	"github.com/laios/laios/internal/registry"
	"github.com/laios/laios/internal/tools/filesystem"
	"github.com/laios/laios/internal/tools/shell"
	"github.com/laios/laios/pkg/models"
)

// defaultConfigPath is where laios looks for its config file when --config
// is not given, mirroring the teacher's profile.DefaultConfigPath for a
// single-binary, single-config deployment rather than a profile directory.
func defaultConfigPath() string {
	if v := os.Getenv("LAIOS_CONFIG"); v != "" {
		return v
	}
	return "laios.yaml"
}

// runtime bundles everything wired from a loaded Config: the tool
// registry, plugin registry, event bus, memory store, and the controller
// sitting on top of the planner/executor/reflector/router stack.
type runtime struct {
	cfg        *config.Config
	controller *controller.Controller
	registry   *registry.Registry
	plugins    *pluginreg.Registry
	bus        *eventbus.Bus
	mem        memory.Memory
	logger     *slog.Logger
	metrics    *runtimemetrics.Registry
}

// buildRuntime loads configPath and wires every runtime component from it.
// workspaceRoot scopes the built-in filesystem/shell tools; an empty value
// defaults to the current working directory.
func buildRuntime(configPath, workspaceRoot string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	bus := eventbus.New(eventbus.WithLogger(logger))

	reg := registry.New()
	if err := registerBuiltinTools(reg, workspaceRoot); err != nil {
		return nil, fmt.Errorf("register built-in tools: %w", err)
	}

	mem, err := buildMemory(cfg.Memory)
	if err != nil {
		return nil, fmt.Errorf("build memory store: %w", err)
	}

	mreg := runtimemetrics.New()

	router, err := buildRouter(cfg.LLM, mreg)
	if err != nil {
		return nil, fmt.Errorf("build LLM router: %w", err)
	}

	plan := planner.New(router, reg, planner.DefaultConfig())

	execConfig := executor.DefaultConfig()
	execConfig.MaxWorkers = cfg.Agent.MaxWorkers
	execConfig.Logger = logger
	execConfig.Metrics = mreg
	execConfig.RateLimit = hardening.RateLimitConfig{
		Enabled:           cfg.Hardening.RateLimit.Enabled,
		RequestsPerSecond: cfg.Hardening.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.Hardening.RateLimit.BurstSize,
	}
	execConfig.Breaker = hardening.BreakerConfig{
		FailureThreshold: cfg.Hardening.CircuitBreaker.FailureThreshold,
		SuccessThreshold: cfg.Hardening.CircuitBreaker.SuccessThreshold,
		Timeout:          cfg.Hardening.CircuitBreaker.Timeout,
	}
	exec := executor.New(reg, execConfig)

	criteria := reflector.ReflectionCriteria{
		MinSuccessRate:             cfg.Reflection.MinSuccessRate,
		MaxExecutionTimeMultiplier: cfg.Reflection.MaxExecutionTimeMultiplier,
		RequireAllTasksComplete:    cfg.Reflection.RequireAllTasksComplete,
		CheckOutputQuality:         cfg.Reflection.CheckOutputQuality,
	}
	refl := reflector.New(router, criteria, cfg.Reflection.EnableLLM, logger)

	plugins := pluginreg.New(bus)

	ctrlConfig := controller.Config{
		TrustLevel: models.TrustLevel(cfg.Agent.TrustLevel),
		MaxReplans: cfg.Agent.MaxReplans,
		ResourceLimits: executor.ResourceLimits{
			TimeoutSeconds:  cfg.Agent.ResourceLimits.TimeoutSeconds,
			MemoryLimitMB:   cfg.Agent.ResourceLimits.MemoryLimitMB,
			CPULimitPercent: cfg.Agent.ResourceLimits.CPULimitPercent,
		},
	}
	ctrl := controller.New(plan, exec, refl, router, reg, cliApproval(logger), ctrlConfig, logger)

	return &runtime{
		cfg:        cfg,
		controller: ctrl,
		registry:   reg,
		plugins:    plugins,
		bus:        bus,
		mem:        mem,
		logger:     logger,
		metrics:    mreg,
	}, nil
}

// cliApproval auto-approves every gated task and logs it, standing in for
// an interactive approval prompt or a remote operator channel.
func cliApproval(logger *slog.Logger) controller.ApprovalFunc {
	return func(ctx context.Context, task *models.Task, perms []models.Permission) (bool, error) {
		logger.Warn("auto-approving gated task", "task_id", task.ID, "tool", task.ToolName, "permissions", perms)
		return true, nil
	}
}

func registerBuiltinTools(reg *registry.Registry, workspaceRoot string) error {
	tools := []models.Tool{
		filesystem.NewReadTool(workspaceRoot, 0),
		filesystem.NewWriteTool(workspaceRoot),
		filesystem.NewEditTool(workspaceRoot),
		shell.NewExecTool(workspaceRoot, 0),
	}
	for _, tool := range tools {
		if err := reg.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

func buildMemory(cfg config.MemoryConfig) (memory.Memory, error) {
	switch cfg.Backend {
	case "sqlite":
		return memory.NewSQLiteStore(cfg.Path)
	default:
		return memory.NewInMemoryStore(), nil
	}
}

func buildRouter(cfg config.LLMConfig, mreg *runtimemetrics.Registry) (*llmrouter.Router, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("llm.providers is empty")
	}

	var ordered []llmrouter.Provider
	if p, ok := cfg.Providers[cfg.DefaultProvider]; ok {
		provider, err := buildProvider(p)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", cfg.DefaultProvider, err)
		}
		ordered = append(ordered, provider)
	}
	for name, p := range cfg.Providers {
		if name == cfg.DefaultProvider {
			continue
		}
		provider, err := buildProvider(p)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
		ordered = append(ordered, provider)
	}

	strategy := llmrouter.Strategy(cfg.Strategy)
	if strategy == "" {
		strategy = llmrouter.StrategyFallback
	}
	return llmrouter.New(ordered, strategy, llmrouter.WithMetrics(mreg)), nil
}

func buildProvider(p config.LLMProviderConfig) (llmrouter.Provider, error) {
	switch p.Type {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       p.APIKey,
			BaseURL:      p.BaseURL,
			DefaultModel: p.DefaultModel,
		})
	case "openai":
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       p.APIKey,
			BaseURL:      p.BaseURL,
			DefaultModel: p.DefaultModel,
		})
	case "ollama":
		return providers.NewOllamaProvider(providers.OllamaConfig{
			BaseURL:      p.BaseURL,
			DefaultModel: p.DefaultModel,
		}), nil
	case "azure":
		return providers.NewAzureProvider(providers.AzureConfig{
			Endpoint:     p.BaseURL,
			APIKey:       p.APIKey,
			APIVersion:   p.APIVersion,
			DefaultModel: p.DefaultModel,
		})
	case "copilot-proxy":
		return providers.NewCopilotProxyProvider(providers.CopilotProxyConfig{
			BaseURL:      p.BaseURL,
			DefaultModel: p.DefaultModel,
		})
	case "openrouter":
		return providers.NewOpenRouterProvider(providers.OpenRouterConfig{
			APIKey:       p.APIKey,
			DefaultModel: p.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("unknown provider type %q", p.Type)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
