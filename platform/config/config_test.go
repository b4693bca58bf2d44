package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvDefault(t *testing.T) {
	os.Unsetenv("ANTBOX_TEST_KEY")
	assert.Equal(t, "fallback", GetEnv("ANTBOX_TEST_KEY", "fallback"))
	os.Setenv("ANTBOX_TEST_KEY", "value")
	defer os.Unsetenv("ANTBOX_TEST_KEY")
	assert.Equal(t, "value", GetEnv("ANTBOX_TEST_KEY", "fallback"))
}

func TestGetEnvBool(t *testing.T) {
	os.Setenv("ANTBOX_TEST_BOOL", "yes")
	defer os.Unsetenv("ANTBOX_TEST_BOOL")
	assert.True(t, GetEnvBool("ANTBOX_TEST_BOOL", false))
	assert.True(t, GetEnvBool("ANTBOX_TEST_BOOL_MISSING", true))
}

func TestGetEnvIntAndDuration(t *testing.T) {
	os.Setenv("ANTBOX_TEST_INT", "42")
	defer os.Unsetenv("ANTBOX_TEST_INT")
	assert.Equal(t, 42, GetEnvInt("ANTBOX_TEST_INT", 0))

	os.Setenv("ANTBOX_TEST_DURATION", "5s")
	defer os.Unsetenv("ANTBOX_TEST_DURATION")
	assert.Equal(t, 5*time.Second, GetEnvDuration("ANTBOX_TEST_DURATION", time.Second))
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	require.Len(t, cfg.Tenants, 1)
	assert.Equal(t, "default", cfg.Tenants[0].ID)
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "antbox.yaml")
	content := []byte("bind_addr: \":9090\"\nlog_level: debug\ntenants:\n  - id: acme\n    feature_cache_ttl: 5m\n    rate_limit_window: 10s\n    rate_limit_max_in_flight: 5\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.BindAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	require.Len(t, cfg.Tenants, 1)
	assert.Equal(t, "acme", cfg.Tenants[0].ID)
}

func TestLoadFromPathOrDefaultMissing(t *testing.T) {
	cfg := LoadFromPathOrDefault("/nonexistent/antbox.yaml")
	assert.Equal(t, Default().BindAddr, cfg.BindAddr)
}

func TestTenantByIDFallsBackToDefault(t *testing.T) {
	cfg := Default()
	tenant := cfg.TenantByID("missing")
	assert.Equal(t, "default", tenant.ID)
}
