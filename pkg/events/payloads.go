package events

// ResourceSamplePayload is the payload of PublishResourceSample: one
// Resource Monitor sample for an owner.
type ResourceSamplePayload struct {
	OwnerKind string  `json:"owner_kind"` // "plugin", "agent", or "system"
	OwnerID   string  `json:"owner_id"`
	Axis      string  `json:"axis"`
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"` // RFC3339Nano
}

// QuotaViolationPayload is the payload of PublishQuotaViolation: an owner
// exceeding its quota on a resource axis enough times within the rolling
// window to trip spec.md §4.1's violation threshold.
type QuotaViolationPayload struct {
	OwnerKind string  `json:"owner_kind"`
	OwnerID   string  `json:"owner_id"`
	Axis      string  `json:"axis"`
	Value     float64 `json:"value"`
	Quota     float64 `json:"quota"`
	Timestamp string  `json:"timestamp"`
}

// GoalStatusPayload is the payload of PublishGoalStatus: a goal lifecycle
// transition.
type GoalStatusPayload struct {
	GoalID     string `json:"goal_id"`
	Status     string `json:"status"`
	Confidence float64 `json:"confidence,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// TaskStatusPayload is the payload of PublishTaskStatus: a task lifecycle
// transition.
type TaskStatusPayload struct {
	TaskID     string `json:"task_id"`
	GoalID     string `json:"goal_id"`
	Status     string `json:"status"`
	ClaimedBy  string `json:"claimed_by,omitempty"`
	RetryCount int    `json:"retry_count,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// AgentStatusPayload is the payload of PublishAgentStatus: an agent being
// spawned, changing status, or being terminated.
type AgentStatusPayload struct {
	AgentID   string `json:"agent_id"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// CapabilityGapPayload is the payload of PublishCapabilityGap: a
// capability gap entering plugin synthesis, or its synthesis resolving.
type CapabilityGapPayload struct {
	Name      string `json:"name"`
	GoalID    string `json:"goal_id"`
	Status    string `json:"status"` // "synthesizing", "resolved", "failed"
	Timestamp string `json:"timestamp"`
}
