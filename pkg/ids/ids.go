// Package ids defines the shared identifier vocabulary used across every
// component of the orchestration runtime. No component reaches into
// another component's fields directly; components only ever exchange these
// typed IDs (and the messages in pkg/domain built from them) across channel
// boundaries.
package ids

import "github.com/google/uuid"

// GoalID identifies a user-submitted goal.
type GoalID string

// TaskID identifies an atomic work unit within a goal's decomposition.
type TaskID string

// AgentID identifies a spawned worker agent.
type AgentID string

// PluginID identifies a registered plugin (capability implementation).
type PluginID string

// AttemptID identifies a single terminal run of a task.
type AttemptID string

// CapabilityGapID identifies a discovered capability gap under synthesis.
type CapabilityGapID string

// CorrelationID identifies one sandbox execution call end-to-end, used to
// attribute resource samples and wire-protocol envelopes to a single call.
type CorrelationID string

// NewGoalID mints a new random goal ID.
func NewGoalID() GoalID { return GoalID("goal-" + uuid.NewString()) }

// NewTaskID mints a new random task ID.
func NewTaskID() TaskID { return TaskID("task-" + uuid.NewString()) }

// NewAgentID mints a new random agent ID.
func NewAgentID() AgentID { return AgentID("agent-" + uuid.NewString()) }

// NewPluginID mints a new random plugin ID.
func NewPluginID() PluginID { return PluginID("plugin-" + uuid.NewString()) }

// NewAttemptID mints a new random attempt ID.
func NewAttemptID() AttemptID { return AttemptID("attempt-" + uuid.NewString()) }

// NewCapabilityGapID mints a new random capability gap ID.
func NewCapabilityGapID() CapabilityGapID { return CapabilityGapID("gap-" + uuid.NewString()) }

// NewCorrelationID mints a new random correlation ID for a sandbox call.
func NewCorrelationID() CorrelationID { return CorrelationID(uuid.NewString()) }

// OwnerKind distinguishes the three things a resource quota/sample can be
// attributed to, per the Resource Monitor contract (C1): a plugin id, an
// agent id, or the literal "system".
type OwnerKind string

const (
	OwnerKindPlugin OwnerKind = "plugin"
	OwnerKindAgent  OwnerKind = "agent"
	OwnerKindSystem OwnerKind = "system"
)

// OwnerID is the key the Resource Monitor samples and enforces quotas
// against: (owner_id, resource) -> RollingWindow.
type OwnerID struct {
	Kind OwnerKind
	ID   string
}

// SystemOwner is the well-known owner id for runtime-wide resource usage.
var SystemOwner = OwnerID{Kind: OwnerKindSystem, ID: "system"}

func (o OwnerID) String() string {
	return string(o.Kind) + ":" + o.ID
}

// PluginOwner builds the owner id for a plugin.
func PluginOwner(id PluginID) OwnerID { return OwnerID{Kind: OwnerKindPlugin, ID: string(id)} }

// AgentOwner builds the owner id for an agent.
func AgentOwner(id AgentID) OwnerID { return OwnerID{Kind: OwnerKindAgent, ID: string(id)} }
