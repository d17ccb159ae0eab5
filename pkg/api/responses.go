package api

import "time"

// CreateGoalResponse is returned by POST /goals.
type CreateGoalResponse struct {
	GoalID string `json:"goal_id"`
	Status string `json:"status"`
}

// TaskSummary is one entry of GetGoalResponse's per-task status list.
type TaskSummary struct {
	TaskID     string `json:"task_id"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	ClaimedBy  string `json:"claimed_by,omitempty"`
	RetryCount int    `json:"retry_count"`
	Error      string `json:"error,omitempty"`
}

// GetGoalResponse is returned by GET /goals/{id}.
type GetGoalResponse struct {
	GoalID      string        `json:"goal_id"`
	Description string        `json:"description"`
	Status      string        `json:"status"`
	Priority    int           `json:"priority"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Tasks       []TaskSummary `json:"tasks"`
}

// CancelGoalResponse is returned by POST /goals/{id}/cancel.
type CancelGoalResponse struct {
	GoalID string `json:"goal_id"`
	Status string `json:"status"`
}

// AgentSummary is one entry of ListAgentsResponse.
type AgentSummary struct {
	AgentID       string   `json:"agent_id"`
	Role          string   `json:"role"`
	Status        string   `json:"status"`
	GoalID        string   `json:"goal_id,omitempty"`
	Capabilities  []string `json:"capabilities,omitempty"`
	CurrentTasks  int      `json:"current_tasks"`
	MaxConcurrent int      `json:"max_concurrent"`
}

// ListAgentsResponse is returned by GET /agents.
type ListAgentsResponse struct {
	Agents []AgentSummary `json:"agents"`
}

// UptimeResponse is returned by GET /uptime.
type UptimeResponse struct {
	StartTime     time.Time `json:"start_time"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	Status        string    `json:"status"`
	GoalsTotal    int       `json:"goals_total"`
	GoalsActive   int       `json:"goals_active"`
}

// AxisUsage is one resource axis' current/peak/average reading.
type AxisUsage struct {
	Current float64 `json:"current"`
	Peak    float64 `json:"peak"`
	Average float64 `json:"average"`
}

// OwnerUsage is one owner's usage across every sampled axis.
type OwnerUsage struct {
	OwnerKind string               `json:"owner_kind"`
	OwnerID   string               `json:"owner_id"`
	Usage     map[string]AxisUsage `json:"usage"`
}

// SystemStatsResponse is returned by GET /system/stats.
type SystemStatsResponse struct {
	Owners []OwnerUsage `json:"owners"`
}
