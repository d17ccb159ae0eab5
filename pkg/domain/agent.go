package domain

import "time"

// AgentStatus is the lifecycle status of a spawned Agent.
type AgentStatus string

const (
	AgentIdle       AgentStatus = "idle"
	AgentBusy       AgentStatus = "busy"
	AgentError      AgentStatus = "error"
	AgentFailed     AgentStatus = "failed"
	AgentTerminated AgentStatus = "terminated"
)

// RoleName enumerates the agent roles spec.md §3 defines.
type RoleName string

const (
	RolePlanner    RoleName = "planner"
	RoleExecutor   RoleName = "executor"
	RoleRefiner    RoleName = "refiner"
	RoleTester     RoleName = "tester"
	RoleSupervisor RoleName = "supervisor"
)

// Quota bounds an owner's resource consumption on every axis the Resource
// Monitor samples.
type Quota struct {
	CPUPercent  float64
	MemoryMB    float64
	Threads     int
	FileHandles int
	Connections int
}

// Role is the named set of permissions and capability requirements for an
// agent (spec.md §3).
type Role struct {
	Name                RoleName
	MaxRetries          int
	AllowedGoalTypes    []string // empty means "any"
	AllowedPlugins      []string // "*" or explicit plugin ids
	RequiredCapabilities []string
	Priority            int // lower = higher priority
	CanSpawnAgents      bool
	CanModifyGoals      bool
	CanOverridePlugins  bool
}

// AllowsPlugin reports whether the role permits invoking the given plugin.
func (r Role) AllowsPlugin(pluginID string) bool {
	for _, p := range r.AllowedPlugins {
		if p == "*" || p == pluginID {
			return true
		}
	}
	return false
}

// Agent is a worker process bound to a role, a goal, and a resource quota.
type Agent struct {
	ID               string
	Role             RoleName
	Capabilities     []string
	Quota            Quota
	Status           AgentStatus
	CurrentTasks     map[string]bool
	MaxConcurrent    int
	LastHeartbeat    time.Time
	GoalID           string
	CreatedAt        time.Time
	ConsecutiveFails int
}

// HasCapacity reports whether the agent can accept another task.
func (a *Agent) HasCapacity() bool {
	max := a.MaxConcurrent
	if max <= 0 {
		max = 1
	}
	return len(a.CurrentTasks) < max
}
