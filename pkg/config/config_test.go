package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgerun/forge/pkg/domain"
)

func writeForgeYAML(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "forge.yaml"), []byte(content), 0o644))
}

func TestInitialize_LoadsBuiltinRolesWhenYAMLEmpty(t *testing.T) {
	dir := t.TempDir()
	writeForgeYAML(t, dir, "roles: {}\nresource_pools: {}\n")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Contains(t, cfg.Roles, domain.RolePlanner)
	assert.Contains(t, cfg.Roles, domain.RoleExecutor)
	assert.Contains(t, cfg.ResourcePools, "cpu")
	assert.Equal(t, DefaultDataDir, cfg.DataDir)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
}

func TestInitialize_UserRoleOverridesBuiltin(t *testing.T) {
	dir := t.TempDir()
	writeForgeYAML(t, dir, `
roles:
  executor:
    max_retries: 9
    priority: 5
resource_pools:
  cpu:
    capacity: 100
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	executor, err := cfg.GetRole(domain.RoleExecutor)
	require.NoError(t, err)
	assert.Equal(t, 9, executor.MaxRetries)
	assert.Equal(t, 5, executor.Priority)

	pool, err := cfg.GetResourcePool("cpu")
	require.NoError(t, err)
	assert.Equal(t, 100.0, pool.Capacity)

	// untouched built-in pool survives the merge
	_, err = cfg.GetResourcePool("memory")
	require.NoError(t, err)
}

func TestInitialize_ExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("FORGE_EVENTS_URL", "nats://example:4222")
	dir := t.TempDir()
	writeForgeYAML(t, dir, `
roles: {}
resource_pools: {}
system:
  events_url: "${FORGE_EVENTS_URL}"
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "nats://example:4222", cfg.EventsURL)
}

func TestInitialize_LoadsDotEnvBeforeExpansion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FORGE_EVENTS_URL=nats://dotenv:4222\n"), 0o644))
	writeForgeYAML(t, dir, `
roles: {}
resource_pools: {}
system:
  events_url: "${FORGE_EVENTS_URL}"
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "nats://dotenv:4222", cfg.EventsURL)
}

func TestInitialize_ParsesRetryDurations(t *testing.T) {
	dir := t.TempDir()
	writeForgeYAML(t, dir, `
roles: {}
resource_pools: {}
retry:
  base_delay: "2s"
  max_delay: "90s"
  max_retries: 7
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2*1e9, float64(cfg.RetryBaseDelay))
	assert.Equal(t, 90*1e9, float64(cfg.RetryMaxDelay))
	assert.Equal(t, 7, cfg.RetryMaxCount)
}

func TestInitialize_FailsWhenForgeYAMLMissing(t *testing.T) {
	dir := t.TempDir()

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
}

func TestInitialize_FailsValidationWhenPoolCapacityNonPositive(t *testing.T) {
	dir := t.TempDir()
	writeForgeYAML(t, dir, `
roles: {}
resource_pools:
  cpu:
    capacity: 0
`)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
}

func TestInitialize_FailsValidationWhenRetryMaxBelowBase(t *testing.T) {
	dir := t.TempDir()
	writeForgeYAML(t, dir, `
roles: {}
resource_pools: {}
retry:
  base_delay: "30s"
  max_delay: "5s"
`)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
}

func TestInitialize_FailsValidationWhenLogLevelUnknown(t *testing.T) {
	dir := t.TempDir()
	writeForgeYAML(t, dir, `
roles: {}
resource_pools: {}
system:
  log_level: "verbose"
`)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
}

func TestConfig_GetRoleNotFound(t *testing.T) {
	dir := t.TempDir()
	writeForgeYAML(t, dir, "roles: {}\nresource_pools: {}\n")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	_, err = cfg.GetRole(domain.RoleName("nonexistent"))
	assert.ErrorIs(t, err, ErrRoleNotFound)
}

func TestConfig_GetResourcePoolNotFound(t *testing.T) {
	dir := t.TempDir()
	writeForgeYAML(t, dir, "roles: {}\nresource_pools: {}\n")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	_, err = cfg.GetResourcePool("nonexistent")
	assert.ErrorIs(t, err, ErrResourcePoolNotFound)
}

func TestConfig_ConfigDirAndStats(t *testing.T) {
	dir := t.TempDir()
	writeForgeYAML(t, dir, "roles: {}\nresource_pools: {}\n")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.ConfigDir())
	stats := cfg.Stats()
	assert.True(t, stats.Roles >= 5)
	assert.True(t, stats.ResourcePools >= 3)
}

func TestMergeRoles_UserOverridesBuiltinByName(t *testing.T) {
	builtin := map[string]RoleYAML{"executor": {MaxRetries: 3}}
	user := map[string]RoleYAML{"executor": {MaxRetries: 10}, "custom": {MaxRetries: 1}}

	merged := mergeRoles(builtin, user)
	assert.Equal(t, 10, merged["executor"].MaxRetries)
	assert.Equal(t, 1, merged["custom"].MaxRetries)
}

func TestMergePools_UserOverridesBuiltinByName(t *testing.T) {
	builtin := map[string]PoolYAML{"cpu": {Capacity: 400}}
	user := map[string]PoolYAML{"cpu": {Capacity: 800}, "gpu": {Capacity: 4}}

	merged := mergePools(builtin, user)
	assert.Equal(t, 800.0, merged["cpu"].Capacity)
	assert.Equal(t, 4.0, merged["gpu"].Capacity)
}
