package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heavyforge/heavyforge/internal/config"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	clearEnv(t, "DEFAULT_MODEL", "SESSION_TIMEOUT_MINUTES", "RATE_LIMIT_REQUESTS_PER_MINUTE")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.DefaultModel)
	assert.Equal(t, 30*time.Minute, cfg.SessionTimeout)
	assert.Equal(t, 60, cfg.RateLimitRequestsPerMinute)
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	clearEnv(t, "DEFAULT_MODEL", "MAX_AGENTS_PER_WORKFLOW")
	os.Setenv("DEFAULT_MODEL", "claude-sonnet")
	os.Setenv("MAX_AGENTS_PER_WORKFLOW", "5")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet", cfg.DefaultModel)
	assert.Equal(t, 5, cfg.MaxAgentsPerWorkflow)
}

func TestLoad_ExpandsDefaultSyntax(t *testing.T) {
	clearEnv(t, "DATABASE_URL", "SOME_VAR")
	os.Setenv("DATABASE_URL", "${SOME_VAR:-sqlite://local.db}")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite://local.db", cfg.DatabaseURL)
}

func TestLoad_ProviderAPIKeys(t *testing.T) {
	clearEnv(t, "ANTHROPIC_API_KEY")
	os.Setenv("ANTHROPIC_API_KEY", "sk-test-123")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", cfg.ProviderAPIKeys["anthropic"])
}

func TestValidate_RejectsUnsupportedJWTAlgorithm(t *testing.T) {
	clearEnv(t, "JWT_ALGORITHM")
	os.Setenv("JWT_ALGORITHM", "none")

	_, err := config.Load()
	require.Error(t, err)
}

func TestLoadExtraYAML_MissingFileIsNotAnError(t *testing.T) {
	cfg := &config.Config{}
	err := cfg.LoadExtraYAML("/nonexistent/path/does-not-exist.yaml")
	require.NoError(t, err)
	assert.Nil(t, cfg.Extra)
}

func TestLoadExtraYAML_ExpandsEnvVars(t *testing.T) {
	clearEnv(t, "TEAM_SIZE")
	os.Setenv("TEAM_SIZE", "3")

	dir := t.TempDir()
	path := dir + "/extra.yaml"
	require.NoError(t, os.WriteFile(path, []byte("team_size: ${TEAM_SIZE}\n"), 0o644))

	cfg := &config.Config{}
	require.NoError(t, cfg.LoadExtraYAML(path))
	assert.Equal(t, 3, cfg.Extra["team_size"])
}
