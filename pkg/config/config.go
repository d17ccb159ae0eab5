package config

import (
	"time"

	"github.com/forgerun/forge/pkg/domain"
)

// Config is the fully resolved, validated configuration ready for use:
// built-in defaults merged under user YAML, durations parsed, role/pool
// maps turned into the plain domain values callers consume directly.
// Mirrors the teacher's umbrella *Config returned by Initialize().
type Config struct {
	configDir string

	Roles           map[domain.RoleName]domain.Role
	ResourcePools   map[string]domain.ResourcePool
	DefaultQuota    domain.Quota
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	RetryMaxCount   int
	PluginTemplatePaths []string
	DataDir         string
	LogLevel        string
	CheckpointInterval time.Duration
	EventsURL       string
}

// Initialize is defined in loader.go.

// Stats summarizes loaded configuration for startup logging.
type Stats struct {
	Roles         int
	ResourcePools int
}

func (c *Config) Stats() Stats {
	return Stats{Roles: len(c.Roles), ResourcePools: len(c.ResourcePools)}
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetRole retrieves a role definition by name.
func (c *Config) GetRole(name domain.RoleName) (domain.Role, error) {
	r, ok := c.Roles[name]
	if !ok {
		return domain.Role{}, NewValidationError("role", string(name), "", ErrRoleNotFound)
	}
	return r, nil
}

// GetResourcePool retrieves a named resource pool's starting state.
func (c *Config) GetResourcePool(name string) (domain.ResourcePool, error) {
	p, ok := c.ResourcePools[name]
	if !ok {
		return domain.ResourcePool{}, NewValidationError("resource_pool", name, "", ErrResourcePoolNotFound)
	}
	return p, nil
}
