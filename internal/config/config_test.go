package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "laios.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: anthropic
  providers:
    anthropic:
      type: anthropic
      api_key: test-key
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "BALANCED", cfg.Agent.TrustLevel)
	assert.Equal(t, 1, cfg.Agent.MaxReplans)
	assert.Equal(t, 0.8, cfg.Reflection.MinSuccessRate)
	assert.Equal(t, "in_memory", cfg.Memory.Backend)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  nonexistent_field: true
llm:
  default_provider: anthropic
  providers:
    anthropic:
      type: anthropic
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingDefaultProvider(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: openai
  providers:
    anthropic:
      type: anthropic
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_provider")
}

func TestLoadRejectsInvalidTrustLevel(t *testing.T) {
	path := writeConfig(t, `
agent:
  trust_level: OMNISCIENT
llm:
  default_provider: anthropic
  providers:
    anthropic:
      type: anthropic
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trust_level")
}

func TestLoadRejectsInvalidProviderType(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: anthropic
  providers:
    anthropic:
      type: magic
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "providers[anthropic].type")
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("LAIOS_TEST_API_KEY", "env-supplied-key")
	path := writeConfig(t, `
llm:
  default_provider: anthropic
  providers:
    anthropic:
      type: anthropic
      api_key: ${LAIOS_TEST_API_KEY}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-supplied-key", cfg.LLM.Providers["anthropic"].APIKey)
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	require.NoError(t, os.WriteFile(basePath, []byte(`
agent:
  trust_level: SUPERVISED
`), 0o644))

	mainPath := filepath.Join(dir, "laios.yaml")
	require.NoError(t, os.WriteFile(mainPath, []byte(`
$include: base.yaml
llm:
  default_provider: anthropic
  providers:
    anthropic:
      type: anthropic
`), 0o644))

	cfg, err := Load(mainPath)
	require.NoError(t, err)
	assert.Equal(t, "SUPERVISED", cfg.Agent.TrustLevel)
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "a.yaml")
	bPath := filepath.Join(dir, "b.yaml")
	require.NoError(t, os.WriteFile(aPath, []byte("$include: b.yaml\n"), 0o644))
	require.NoError(t, os.WriteFile(bPath, []byte("$include: a.yaml\n"), 0o644))

	_, err := Load(aPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestEnvOverrideWinsOverFile(t *testing.T) {
	t.Setenv("LAIOS_TRUST_LEVEL", "AUTONOMOUS")
	path := writeConfig(t, `
agent:
  trust_level: SUPERVISED
llm:
  default_provider: anthropic
  providers:
    anthropic:
      type: anthropic
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "AUTONOMOUS", cfg.Agent.TrustLevel)
}

func TestLoadRejectsInvalidSuccessRate(t *testing.T) {
	path := writeConfig(t, `
reflection:
  min_success_rate: 1.5
llm:
  default_provider: anthropic
  providers:
    anthropic:
      type: anthropic
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_success_rate")
}
