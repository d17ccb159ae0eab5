package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/forgerun/forge/pkg/domain"
)

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load forge.yaml from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge built-in + user-defined roles and resource pools
//  5. Apply default values
//  6. Validate all configuration
//  7. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("configuration initialized", "roles", stats.Roles, "resource_pools", stats.ResourcePools)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	// Optional .env alongside forge.yaml feeds the ${VAR} expansion below.
	if err := godotenv.Load(filepath.Join(configDir, ".env")); err != nil && !os.IsNotExist(err) {
		return nil, NewLoadError(".env", err)
	}

	loader := &configLoader{configDir: configDir}

	yamlCfg, err := loader.loadForgeYAML()
	if err != nil {
		return nil, NewLoadError("forge.yaml", err)
	}

	roles := mergeRoles(toRoleYAMLMap(builtinRoles()), yamlCfg.Roles)
	pools := mergePools(DefaultResourcePools(), yamlCfg.ResourcePools)

	quota := DefaultQuota()
	if yamlCfg.DefaultQuota != nil {
		if err := mergo.Merge(&quota, *yamlCfg.DefaultQuota, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge default quota: %w", err)
		}
	}

	retryBase, retryMax, retryCount := resolveRetryPolicy(yamlCfg.Retry)
	dataDir, logLevel, checkpointInterval, eventsURL := resolveSystem(yamlCfg.System)

	return &Config{
		configDir:           configDir,
		Roles:               toDomainRoles(roles),
		ResourcePools:       toDomainPools(pools),
		DefaultQuota:        toDomainQuota(quota),
		RetryBaseDelay:      retryBase,
		RetryMaxDelay:       retryMax,
		RetryMaxCount:       retryCount,
		PluginTemplatePaths: yamlCfg.PluginTemplatePaths,
		DataDir:             dataDir,
		LogLevel:            logLevel,
		CheckpointInterval:  checkpointInterval,
		EventsURL:           eventsURL,
	}, nil
}

func validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

func (l *configLoader) loadForgeYAML() (*YAMLConfig, error) {
	var cfg YAMLConfig
	cfg.Roles = make(map[string]RoleYAML)
	cfg.ResourcePools = make(map[string]PoolYAML)

	if err := l.loadYAML("forge.yaml", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolveRetryPolicy resolves the scheduler's backoff policy from
// forge.yaml, applying built-in defaults for anything unset or
// unparseable.
func resolveRetryPolicy(r *RetryYAML) (base, max time.Duration, count int) {
	base, max, count = DefaultRetryBaseDelay, DefaultRetryMaxDelay, DefaultRetryMaxCount
	if r == nil {
		return
	}
	if r.BaseDelay != "" {
		if d, err := time.ParseDuration(r.BaseDelay); err == nil {
			base = d
		} else {
			slog.Warn("invalid retry.base_delay, using default", "value", r.BaseDelay, "error", err)
		}
	}
	if r.MaxDelay != "" {
		if d, err := time.ParseDuration(r.MaxDelay); err == nil {
			max = d
		} else {
			slog.Warn("invalid retry.max_delay, using default", "value", r.MaxDelay, "error", err)
		}
	}
	if r.MaxRetries > 0 {
		count = r.MaxRetries
	}
	return
}

// resolveSystem resolves ambient infrastructure settings, applying
// built-in defaults for anything the YAML leaves unset.
func resolveSystem(s *SystemYAML) (dataDir, logLevel string, checkpointInterval time.Duration, eventsURL string) {
	dataDir, logLevel, checkpointInterval = DefaultDataDir, DefaultLogLevel, DefaultCheckpointPeriod
	if s == nil {
		return
	}
	if s.DataDir != "" {
		dataDir = s.DataDir
	}
	if s.LogLevel != "" {
		logLevel = s.LogLevel
	}
	if s.CheckpointInterval != "" {
		if d, err := time.ParseDuration(s.CheckpointInterval); err == nil {
			checkpointInterval = d
		} else {
			slog.Warn("invalid system.checkpoint_interval, using default", "value", s.CheckpointInterval, "error", err)
		}
	}
	eventsURL = s.EventsURL
	return
}

func toRoleYAMLMap(roles map[domain.RoleName]domain.Role) map[string]RoleYAML {
	out := make(map[string]RoleYAML, len(roles))
	for name, r := range roles {
		out[string(name)] = RoleYAML{
			MaxRetries:           r.MaxRetries,
			AllowedGoalTypes:     r.AllowedGoalTypes,
			AllowedPlugins:       r.AllowedPlugins,
			RequiredCapabilities: r.RequiredCapabilities,
			Priority:             r.Priority,
			CanSpawnAgents:       r.CanSpawnAgents,
			CanModifyGoals:       r.CanModifyGoals,
			CanOverridePlugins:   r.CanOverridePlugins,
		}
	}
	return out
}

func toDomainRoles(roles map[string]RoleYAML) map[domain.RoleName]domain.Role {
	out := make(map[domain.RoleName]domain.Role, len(roles))
	for name, r := range roles {
		out[domain.RoleName(name)] = domain.Role{
			Name:                 domain.RoleName(name),
			MaxRetries:           r.MaxRetries,
			AllowedGoalTypes:     r.AllowedGoalTypes,
			AllowedPlugins:       r.AllowedPlugins,
			RequiredCapabilities: r.RequiredCapabilities,
			Priority:             r.Priority,
			CanSpawnAgents:       r.CanSpawnAgents,
			CanModifyGoals:       r.CanModifyGoals,
			CanOverridePlugins:   r.CanOverridePlugins,
		}
	}
	return out
}

func toDomainPools(pools map[string]PoolYAML) map[string]domain.ResourcePool {
	out := make(map[string]domain.ResourcePool, len(pools))
	for name, p := range pools {
		out[name] = domain.ResourcePool{Name: name, Capacity: p.Capacity}
	}
	return out
}

func toDomainQuota(q QuotaYAML) domain.Quota {
	return domain.Quota{
		CPUPercent:  q.CPUPercent,
		MemoryMB:    q.MemoryMB,
		Threads:     q.Threads,
		FileHandles: q.FileHandles,
		Connections: q.Connections,
	}
}

// builtinRoles are the roles every runtime has even when forge.yaml
// declares none: a planner that decomposes goals, an executor that runs
// plugins, a refiner and tester for the synthesis loop, and a
// supervisor with elevated recovery permissions.
func builtinRoles() map[domain.RoleName]domain.Role {
	return map[domain.RoleName]domain.Role{
		domain.RolePlanner: {
			Name:           domain.RolePlanner,
			MaxRetries:     2,
			Priority:       0,
			CanSpawnAgents: true,
			CanModifyGoals: true,
			AllowedPlugins: []string{"*"},
		},
		domain.RoleExecutor: {
			Name:           domain.RoleExecutor,
			MaxRetries:     domain.DefaultMaxRetries,
			Priority:       1,
			AllowedPlugins: []string{"*"},
		},
		domain.RoleRefiner: {
			Name:               domain.RoleRefiner,
			MaxRetries:         3,
			Priority:           1,
			CanOverridePlugins: true,
			AllowedPlugins:     []string{"*"},
		},
		domain.RoleTester: {
			Name:           domain.RoleTester,
			MaxRetries:     1,
			Priority:       1,
			AllowedPlugins: []string{"*"},
		},
		domain.RoleSupervisor: {
			Name:               domain.RoleSupervisor,
			MaxRetries:         1,
			Priority:           0,
			CanSpawnAgents:     true,
			CanModifyGoals:     true,
			CanOverridePlugins: true,
			AllowedPlugins:     []string{"*"},
		},
	}
}
