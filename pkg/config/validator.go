package config

import (
	"fmt"
)

// validLogLevels are the levels the slog handler accepts.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validator validates configuration comprehensively with clear error messages
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *Validator) ValidateAll() error {
	if err := v.validateRoles(); err != nil {
		return fmt.Errorf("role validation failed: %w", err)
	}

	if err := v.validateResourcePools(); err != nil {
		return fmt.Errorf("resource pool validation failed: %w", err)
	}

	if err := v.validateQuota(); err != nil {
		return fmt.Errorf("default quota validation failed: %w", err)
	}

	if err := v.validateRetry(); err != nil {
		return fmt.Errorf("retry policy validation failed: %w", err)
	}

	if err := v.validateSystem(); err != nil {
		return fmt.Errorf("system validation failed: %w", err)
	}

	return nil
}

func (v *Validator) validateRoles() error {
	if len(v.cfg.Roles) == 0 {
		return fmt.Errorf("at least one role must be defined")
	}

	for name, role := range v.cfg.Roles {
		if role.MaxRetries < 0 {
			return NewValidationError("role", string(name), "max_retries", fmt.Errorf("must be non-negative"))
		}

		for _, pluginID := range role.AllowedPlugins {
			if pluginID == "" {
				return NewValidationError("role", string(name), "allowed_plugins", fmt.Errorf("plugin id cannot be empty"))
			}
		}

		for _, capability := range role.RequiredCapabilities {
			if capability == "" {
				return NewValidationError("role", string(name), "required_capabilities", fmt.Errorf("capability name cannot be empty"))
			}
		}
	}

	return nil
}

func (v *Validator) validateResourcePools() error {
	if len(v.cfg.ResourcePools) == 0 {
		return fmt.Errorf("at least one resource pool must be defined")
	}

	for name, pool := range v.cfg.ResourcePools {
		if pool.Capacity <= 0 {
			return NewValidationError("resource_pool", name, "capacity", fmt.Errorf("must be positive, got %v", pool.Capacity))
		}
	}

	return nil
}

func (v *Validator) validateQuota() error {
	q := v.cfg.DefaultQuota

	if q.CPUPercent < 0 {
		return NewValidationError("default_quota", "", "cpu_percent", fmt.Errorf("must be non-negative"))
	}
	if q.MemoryMB < 0 {
		return NewValidationError("default_quota", "", "memory_mb", fmt.Errorf("must be non-negative"))
	}
	if q.Threads < 0 {
		return NewValidationError("default_quota", "", "threads", fmt.Errorf("must be non-negative"))
	}
	if q.FileHandles < 0 {
		return NewValidationError("default_quota", "", "file_handles", fmt.Errorf("must be non-negative"))
	}
	if q.Connections < 0 {
		return NewValidationError("default_quota", "", "connections", fmt.Errorf("must be non-negative"))
	}

	return nil
}

func (v *Validator) validateRetry() error {
	if v.cfg.RetryBaseDelay <= 0 {
		return NewValidationError("retry", "", "base_delay", fmt.Errorf("must be positive, got %v", v.cfg.RetryBaseDelay))
	}
	if v.cfg.RetryMaxDelay <= 0 {
		return NewValidationError("retry", "", "max_delay", fmt.Errorf("must be positive, got %v", v.cfg.RetryMaxDelay))
	}
	if v.cfg.RetryMaxDelay < v.cfg.RetryBaseDelay {
		return NewValidationError("retry", "", "max_delay", fmt.Errorf("must be at least base_delay, got max=%v base=%v", v.cfg.RetryMaxDelay, v.cfg.RetryBaseDelay))
	}
	if v.cfg.RetryMaxCount < 0 {
		return NewValidationError("retry", "", "max_retries", fmt.Errorf("must be non-negative"))
	}

	return nil
}

func (v *Validator) validateSystem() error {
	if v.cfg.DataDir == "" {
		return NewValidationError("system", "", "data_dir", fmt.Errorf("required"))
	}
	if !validLogLevels[v.cfg.LogLevel] {
		return NewValidationError("system", "", "log_level", fmt.Errorf("invalid log level: %s", v.cfg.LogLevel))
	}
	if v.cfg.CheckpointInterval <= 0 {
		return NewValidationError("system", "", "checkpoint_interval", fmt.Errorf("must be positive, got %v", v.cfg.CheckpointInterval))
	}

	return nil
}
