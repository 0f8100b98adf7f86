// Package config loads and validates the runtime's YAML configuration:
// the LLM provider roster, agent trust/replanning budget, reflection
// criteria, hardening (circuit breaker/rate limiter) tuning, memory
// backend selection, and logging. Layout mirrors the teacher's
// internal/config package: one nested struct per concern, defaults
// applied after decode, validation producing a single aggregated error.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration structure for the runtime.
type Config struct {
	// Version is the config file format version. Files written before
	// this field existed omit it; Load treats a zero value as
	// unversioned rather than invalid, so ValidateVersion is only
	// meaningful for files that set it explicitly.
	Version    int              `yaml:"version"`
	Server     ServerConfig     `yaml:"server"`
	LLM        LLMConfig        `yaml:"llm"`
	Agent      AgentConfig      `yaml:"agent"`
	Reflection ReflectionConfig `yaml:"reflection"`
	Hardening  HardeningConfig  `yaml:"hardening"`
	Memory     MemoryConfig     `yaml:"memory"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig configures the listen host and ports. cmd/laios serve binds
// only the metrics listener (Host:MetricsPort); HTTPPort is not bound by
// any command.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// LLMConfig configures the provider roster and routing strategy.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Strategy        string                       `yaml:"strategy"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

// LLMProviderConfig configures one named LLM provider instance.
type LLMProviderConfig struct {
	// Type selects the provider implementation: "anthropic", "openai",
	// "ollama", "azure", "copilot-proxy", or "openrouter".
	Type    string `yaml:"type"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	// APIVersion is only consulted by the "azure" provider type.
	APIVersion   string `yaml:"api_version"`
	DefaultModel string `yaml:"default_model"`
}

// AgentConfig configures the controller's trust level, replanning
// budget, and per-task resource limits.
type AgentConfig struct {
	// TrustLevel is "AUTONOMOUS", "BALANCED", or "SUPERVISED".
	TrustLevel string `yaml:"trust_level"`
	MaxReplans int    `yaml:"max_replans"`

	ResourceLimits ResourceLimitsConfig `yaml:"resource_limits"`
	MaxWorkers     int                  `yaml:"max_workers"`
}

// ResourceLimitsConfig bounds one task execution.
type ResourceLimitsConfig struct {
	TimeoutSeconds  float64 `yaml:"timeout_seconds"`
	MemoryLimitMB   int     `yaml:"memory_limit_mb"`
	CPULimitPercent float64 `yaml:"cpu_limit_percent"`
}

// ReflectionConfig configures how the reflector judges task and plan
// outcomes.
type ReflectionConfig struct {
	MinSuccessRate             float64 `yaml:"min_success_rate"`
	MaxExecutionTimeMultiplier float64 `yaml:"max_execution_time_multiplier"`
	RequireAllTasksComplete    bool    `yaml:"require_all_tasks_complete"`
	CheckOutputQuality         bool    `yaml:"check_output_quality"`
	EnableLLM                  bool    `yaml:"enable_llm"`
}

// HardeningConfig configures the defensive layer wrapping tool and
// provider calls.
type HardeningConfig struct {
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Sanitizer      SanitizerConfig      `yaml:"sanitizer"`
}

// CircuitBreakerConfig configures the breaker the executor builds for each
// tool name; every tool gets the same settings and provider calls are not
// wrapped by a breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// RateLimitConfig configures the default per-key token bucket.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

// SanitizerConfig configures input sanitization for shell- and
// path-adjacent tool parameters.
type SanitizerConfig struct {
	Enabled       bool     `yaml:"enabled"`
	AllowedRoots  []string `yaml:"allowed_roots"`
	MaxParamBytes int      `yaml:"max_param_bytes"`
}

// MemoryConfig selects and configures the episodic/long-term memory
// backend.
type MemoryConfig struct {
	// Backend is "in_memory" or "sqlite".
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures the package-level slog.Logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads, expands, decodes, defaults, and validates the config file
// at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyLLMDefaults(&cfg.LLM)
	applyAgentDefaults(&cfg.Agent)
	applyReflectionDefaults(&cfg.Reflection)
	applyHardeningDefaults(&cfg.Hardening)
	applyMemoryDefaults(&cfg.Memory)
	applyLoggingDefaults(&cfg.Logging)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8080
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
	if cfg.Strategy == "" {
		cfg.Strategy = "fallback"
	}
}

func applyAgentDefaults(cfg *AgentConfig) {
	if cfg.TrustLevel == "" {
		cfg.TrustLevel = "BALANCED"
	}
	if cfg.MaxReplans == 0 {
		cfg.MaxReplans = 1
	}
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.ResourceLimits.TimeoutSeconds == 0 {
		cfg.ResourceLimits.TimeoutSeconds = 30
	}
	if cfg.ResourceLimits.MemoryLimitMB == 0 {
		cfg.ResourceLimits.MemoryLimitMB = 512
	}
	if cfg.ResourceLimits.CPULimitPercent == 0 {
		cfg.ResourceLimits.CPULimitPercent = 100
	}
}

func applyReflectionDefaults(cfg *ReflectionConfig) {
	if cfg.MinSuccessRate == 0 {
		cfg.MinSuccessRate = 0.8
	}
	if cfg.MaxExecutionTimeMultiplier == 0 {
		cfg.MaxExecutionTimeMultiplier = 2.0
	}
}

func applyHardeningDefaults(cfg *HardeningConfig) {
	if cfg.CircuitBreaker.FailureThreshold == 0 {
		cfg.CircuitBreaker.FailureThreshold = 5
	}
	if cfg.CircuitBreaker.SuccessThreshold == 0 {
		cfg.CircuitBreaker.SuccessThreshold = 1
	}
	if cfg.CircuitBreaker.Timeout == 0 {
		cfg.CircuitBreaker.Timeout = 30 * time.Second
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 10.0
	}
	if cfg.RateLimit.BurstSize == 0 {
		cfg.RateLimit.BurstSize = 20
	}
	if cfg.Sanitizer.MaxParamBytes == 0 {
		cfg.Sanitizer.MaxParamBytes = 65536
	}
}

func applyMemoryDefaults(cfg *MemoryConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "in_memory"
	}
	if cfg.Backend == "sqlite" && cfg.Path == "" {
		cfg.Path = "laios.db"
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	if value := strings.TrimSpace(os.Getenv("LAIOS_HOST")); value != "" {
		cfg.Server.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("LAIOS_HTTP_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("LAIOS_TRUST_LEVEL")); value != "" {
		cfg.Agent.TrustLevel = value
	}
	if value := strings.TrimSpace(os.Getenv("LAIOS_LOG_LEVEL")); value != "" {
		cfg.Logging.Level = value
	}
}

// ValidationError aggregates every problem found while validating a
// Config so the caller reports them all at once instead of one at a time.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	var issues []string

	if !validTrustLevel(cfg.Agent.TrustLevel) {
		issues = append(issues, "agent.trust_level must be \"AUTONOMOUS\", \"BALANCED\", or \"SUPERVISED\"")
	}
	if cfg.Agent.MaxReplans < 0 {
		issues = append(issues, "agent.max_replans must be >= 0")
	}
	if cfg.Agent.ResourceLimits.TimeoutSeconds <= 0 {
		issues = append(issues, "agent.resource_limits.timeout_seconds must be > 0")
	}

	if cfg.Reflection.MinSuccessRate < 0 || cfg.Reflection.MinSuccessRate > 1 {
		issues = append(issues, "reflection.min_success_rate must be between 0 and 1")
	}
	if cfg.Reflection.MaxExecutionTimeMultiplier <= 0 {
		issues = append(issues, "reflection.max_execution_time_multiplier must be > 0")
	}

	if !validLLMStrategy(cfg.LLM.Strategy) {
		issues = append(issues, "llm.strategy must be \"fallback\" or \"round_robin\"")
	}
	defaultProvider := strings.TrimSpace(cfg.LLM.DefaultProvider)
	if defaultProvider != "" {
		if _, ok := cfg.LLM.Providers[defaultProvider]; !ok {
			issues = append(issues, fmt.Sprintf("llm.providers missing entry for default_provider %q", defaultProvider))
		}
	}
	for name, p := range cfg.LLM.Providers {
		if !validProviderType(p.Type) {
			issues = append(issues, fmt.Sprintf("llm.providers[%s].type must be \"anthropic\", \"openai\", \"ollama\", \"azure\", \"copilot-proxy\", or \"openrouter\"", name))
		}
	}

	if !validMemoryBackend(cfg.Memory.Backend) {
		issues = append(issues, "memory.backend must be \"in_memory\" or \"sqlite\"")
	}

	if pluginIssues := pluginValidationIssues(cfg); len(pluginIssues) > 0 {
		issues = append(issues, pluginIssues...)
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func validTrustLevel(level string) bool {
	switch level {
	case "AUTONOMOUS", "BALANCED", "SUPERVISED":
		return true
	default:
		return false
	}
}

func validLLMStrategy(strategy string) bool {
	switch strategy {
	case "fallback", "round_robin":
		return true
	default:
		return false
	}
}

func validProviderType(t string) bool {
	switch t {
	case "anthropic", "openai", "ollama", "azure", "copilot-proxy", "openrouter":
		return true
	default:
		return false
	}
}

func validMemoryBackend(backend string) bool {
	switch backend {
	case "in_memory", "sqlite":
		return true
	default:
		return false
	}
}
