// Package domain holds the data model shared by every component: Goal,
// Decomposition, Task, Attempt, Agent, Role, Plugin, VersionConstraint,
// CapabilityGap, and ResourcePool, plus the invariants spec.md §3 pins to
// them. Components only mutate the records they own (the scheduler mutates
// tasks, the registry mutates plugins, the agent manager mutates agents);
// everyone else treats these as read-only values received over a channel.
package domain

import "time"

// GoalStatus is the lifecycle status of a Goal.
type GoalStatus string

const (
	GoalPending   GoalStatus = "pending"
	GoalScheduled GoalStatus = "scheduled"
	GoalRunning   GoalStatus = "running"
	GoalCompleted GoalStatus = "completed"
	GoalFailed    GoalStatus = "failed"
	GoalCancelled GoalStatus = "cancelled"
)

// IsTerminal reports whether a goal status cannot accept further
// orchestration (mirrors TaskStatus.IsTerminal in task.go).
func (s GoalStatus) IsTerminal() bool {
	switch s {
	case GoalCompleted, GoalFailed, GoalCancelled:
		return true
	default:
		return false
	}
}

// Goal is a user-submitted high-level objective.
type Goal struct {
	ID             string
	Description    string
	Priority       int // higher runs first
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Deadline       *time.Time
	Status         GoalStatus
	Decomposition  *Decomposition
	CriticalTaskID map[string]bool // task ids whose failure (after retries) fails the goal
}

// PredicateKind enumerates the kinds of success criteria a decomposition can
// declare.
type PredicateKind string

const (
	PredicateThreshold PredicateKind = "threshold"
	PredicateExact     PredicateKind = "exact"
	PredicatePattern   PredicateKind = "pattern"
	PredicateCustom    PredicateKind = "custom"
)

// SuccessPredicate is one entry of a Decomposition's success_criteria list.
type SuccessPredicate struct {
	Kind      PredicateKind
	Field     string      // dotted path into a task's structured output
	Threshold float64     // used when Kind == PredicateThreshold
	Expected  interface{} // used when Kind == PredicateExact
	Pattern   string      // used when Kind == PredicatePattern (regexp)
	Custom    func(output map[string]interface{}) bool
}

// Decomposition is the ordered plan produced for a Goal: tasks, their
// dependency edges, required resources/capabilities, and success criteria.
type Decomposition struct {
	Tasks                []TaskDescriptor
	Dependencies         map[string][]string // task id -> depends-on task ids
	RequiredResources    map[string]float64  // resource name -> amount
	SuccessCriteria      []SuccessPredicate
	RequiredCapabilities map[string]bool
	CapabilityGaps       []CapabilityGap // gaps needing synthesis, with their test cases
	Confidence           float64
}

// TaskDescriptor is the planner's description of one task before it is
// registered with the scheduler.
type TaskDescriptor struct {
	ID           string
	Type         string
	Config       map[string]interface{}
	DependsOn    []string
	Priority     int // 0 means "inherit goal priority"
	MaxRetries   int // 0 means "use scheduler default"
	Timeout      time.Duration
	Capabilities []string
	Critical     bool
}
