package domain

import "time"

// TaskStatus is the lifecycle status of a Task (spec.md §3).
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskClaimed   TaskStatus = "claimed"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskReleased  TaskStatus = "released"
	TaskTimeout   TaskStatus = "timeout"
	TaskBlocked   TaskStatus = "blocked"
	TaskCancelled TaskStatus = "cancelled"
)

// DefaultMaxRetries and DefaultTimeout are the scheduler's defaults when a
// task descriptor does not override them (spec.md §3).
const (
	DefaultMaxRetries = 3
	DefaultTimeout    = 30 * time.Minute
)

// Task is an atomic work unit within a goal's decomposition.
type Task struct {
	ID          string
	GoalID      string
	Type        string
	Config      map[string]interface{}
	DependsOn   []string
	Priority    int
	Status      TaskStatus
	ClaimedBy   string // agent id, empty if unclaimed
	ClaimedAt   *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	NotBefore   time.Time // zero means claimable immediately; set by a retry's backoff
	RetryCount  int
	MaxRetries  int
	Timeout     time.Duration
	Error       string
	Attempts    []Attempt
	Critical    bool
	Capabilities []string
}

// AttemptStatus mirrors the terminal statuses an Attempt can end in.
type AttemptStatus string

const (
	AttemptCompleted AttemptStatus = "completed"
	AttemptFailed    AttemptStatus = "failed"
	AttemptTimeout   AttemptStatus = "timeout"
	AttemptReleased  AttemptStatus = "released"
	AttemptCancelled AttemptStatus = "cancelled"
)

// Attempt is one terminal run of a task. The attempt list on a Task is
// append-only; the scheduler never rewrites an old attempt.
type Attempt struct {
	Version         int
	StartedAt       time.Time
	EndedAt         time.Time
	Status          AttemptStatus
	Error           string
	ExecutionTime   time.Duration
	ResourcePeaks   map[string]float64
	PluginID        string
	PluginVersion   string
	AgentID         string
	StructuredOutput map[string]interface{}
}

// IsTerminal reports whether a task status cannot accept further
// processing without an explicit retry/reassignment.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}
