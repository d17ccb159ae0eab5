package config

import "time"

// Built-in defaults applied when forge.yaml omits a value, mirroring the
// teacher's built-in-then-user-override resolution order.
const (
	DefaultRetryBaseDelay   = time.Second
	DefaultRetryMaxDelay    = 60 * time.Second
	DefaultRetryMaxCount    = 3
	DefaultCheckpointPeriod = 30 * time.Second
	DefaultDataDir          = "./data"
	DefaultLogLevel         = "info"
)

// DefaultQuota seeds Config.DefaultQuota, which forge.yaml can override
// per axis. The runtime passes it to the planner as the quota for goal
// decomposition calls; agent spawns do not read it.
func DefaultQuota() QuotaYAML {
	return QuotaYAML{
		CPUPercent:  50,
		MemoryMB:    512,
		Threads:     16,
		FileHandles: 64,
		Connections: 16,
	}
}

// DefaultResourcePools seeds the pools every runtime needs even when
// forge.yaml declares none.
func DefaultResourcePools() map[string]PoolYAML {
	return map[string]PoolYAML{
		"cpu":     {Capacity: 400},
		"memory":  {Capacity: 8192},
		"agents":  {Capacity: 32},
	}
}
