package config

// YAMLConfig is the on-disk shape of forge.yaml: the static, non-goal-
// specific parts of the runtime. Anything goal-specific (a goal's own
// tasks, or the agents spawned to run them) is runtime state, not
// configuration.
type YAMLConfig struct {
	Roles               map[string]RoleYAML `yaml:"roles"`
	ResourcePools        map[string]PoolYAML `yaml:"resource_pools"`
	DefaultQuota         *QuotaYAML          `yaml:"default_quota"`
	Retry                *RetryYAML          `yaml:"retry"`
	PluginTemplatePaths  []string            `yaml:"plugin_template_paths"`
	System               *SystemYAML         `yaml:"system"`
}

// RoleYAML is one agent role definition as it appears in forge.yaml.
type RoleYAML struct {
	MaxRetries           int      `yaml:"max_retries,omitempty"`
	AllowedGoalTypes     []string `yaml:"allowed_goal_types,omitempty"`
	AllowedPlugins       []string `yaml:"allowed_plugins,omitempty"`
	RequiredCapabilities []string `yaml:"required_capabilities,omitempty"`
	Priority             int      `yaml:"priority,omitempty"`
	CanSpawnAgents       bool     `yaml:"can_spawn_agents,omitempty"`
	CanModifyGoals       bool     `yaml:"can_modify_goals,omitempty"`
	CanOverridePlugins   bool     `yaml:"can_override_plugins,omitempty"`
}

// PoolYAML is one named resource pool's capacity.
type PoolYAML struct {
	Capacity float64 `yaml:"capacity" validate:"required,gt=0"`
}

// QuotaYAML is the default per-agent resource quota applied when a role
// or spawn request does not override it.
type QuotaYAML struct {
	CPUPercent  float64 `yaml:"cpu_percent,omitempty"`
	MemoryMB    float64 `yaml:"memory_mb,omitempty"`
	Threads     int     `yaml:"threads,omitempty"`
	FileHandles int     `yaml:"file_handles,omitempty"`
	Connections int     `yaml:"connections,omitempty"`
}

// RetryYAML overrides the scheduler's exponential backoff policy.
type RetryYAML struct {
	BaseDelay  string `yaml:"base_delay,omitempty"` // parsed with time.ParseDuration
	MaxDelay   string `yaml:"max_delay,omitempty"`
	MaxRetries int    `yaml:"max_retries,omitempty"`
}

// SystemYAML groups ambient infrastructure settings that are not tied
// to any one component.
type SystemYAML struct {
	DataDir            string `yaml:"data_dir,omitempty"`
	LogLevel            string `yaml:"log_level,omitempty"`
	CheckpointInterval  string `yaml:"checkpoint_interval,omitempty"`
	EventsURL           string `yaml:"events_url,omitempty"` // NATS server URL; empty disables events
}
