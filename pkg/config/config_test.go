package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflowhq/stepflow/pkg/config"
)

func TestLoad_DefaultsAndEnvExpansion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := `
llm:
  base_url: https://api.example.com/v1
  api_key: ${TEST_STEPFLOW_API_KEY}
  model: gpt-4o-mini
database:
  driver: sqlite
  dsn: ./data.db
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	t.Setenv("TEST_STEPFLOW_API_KEY", "sk-test-123")

	cfg, err := config.Load(config.LoaderOptions{Path: path})
	require.NoError(t, err)

	assert.Equal(t, "sk-test-123", cfg.LLM.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "keyword", cfg.Router.Strategy)
	assert.Equal(t, ":8080", cfg.Server.Address)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := `
llm:
  base_url: https://api.example.com/v1
  api_key: from-file
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	t.Setenv("STEPFLOW_LLM__API_KEY", "from-env")

	cfg, err := config.Load(config.LoaderOptions{Path: path})
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.LLM.APIKey)
}

func TestLoad_MissingRequiredFieldFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  model: gpt-4o\n"), 0o644))

	_, err := config.Load(config.LoaderOptions{Path: path})
	require.Error(t, err)
}
