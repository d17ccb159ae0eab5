// Package orchestrator implements the Orchestrator (C6): decomposes a
// goal, registers its tasks with the scheduler, sizes and spawns an
// agent fleet, and drives the control loop to terminal state.
//
// The control loop polls the scheduler on a ticker and checkpoints on a
// second ticker, returning when the goal reaches a terminal status or
// the caller's context is cancelled. The parent-context shape is
// grounded on the teacher's pkg/agent/orchestrator.SubAgentRunner: a
// parent context outliving individual loop iterations.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/forgerun/forge/pkg/domain"
	"github.com/forgerun/forge/pkg/ids"
	"github.com/forgerun/forge/pkg/scheduler"
)

// minConfidence is the threshold below which orchestration refuses with
// InsufficientPlan (spec.md §4.6).
const minConfidence = 0.4

// ErrInsufficientPlan is returned when a decomposition's confidence is
// below minConfidence.
var ErrInsufficientPlan = fmt.Errorf("orchestrator: decomposition confidence below threshold")

// Planner decomposes a goal into a Decomposition, via the planner role.
type Planner interface {
	Decompose(ctx context.Context, goal domain.Goal) (domain.Decomposition, error)
}

// TaskScheduler is the subset of pkg/scheduler.Scheduler the
// orchestrator depends on.
type TaskScheduler interface {
	RegisterGoal(goalID ids.GoalID, descriptors []domain.TaskDescriptor) error
	ClaimableTasks(goalID ids.GoalID, priorityFloor int) ([]ids.TaskID, error)
	GoalComplete(goalID ids.GoalID, satisfiesCriteria func(domain.Task) bool) (completed, failed bool, err error)
	CancelGoal(goalID ids.GoalID) ([]ids.AgentID, error)
	CheckTimeouts() []scheduler.TimedOutTask
}

// AgentSpawner is the subset of pkg/agentmgr.Manager the orchestrator
// depends on.
type AgentSpawner interface {
	Spawn(role domain.RoleName, quota domain.Quota, capabilities []string, goalID ids.GoalID, pool *domain.ResourcePool) (ids.AgentID, error)
	Terminate(agentID ids.AgentID) bool
}

// GapSynthesizer requests synthesis for a capability gap (C7), returning
// once a plugin is registered or synthesis fails.
type GapSynthesizer interface {
	SynthesizeGap(ctx context.Context, gap domain.CapabilityGap) error
}

// CapabilityChecker reports whether a capability is already covered by
// a registered plugin (C2).
type CapabilityChecker interface {
	HasCapability(capability string) bool
}

// Checkpointer is asked to snapshot state on each control-loop tick
// (C8).
type Checkpointer interface {
	Checkpoint(ctx context.Context) error
}

// Result is the terminal outcome orchestrate(goal) returns.
type Result struct {
	GoalID ids.GoalID
	Status domain.GoalStatus
}

// Orchestrator drives one goal's lifecycle from decomposition to
// terminal state.
type Orchestrator struct {
	planner      Planner
	scheduler    TaskScheduler
	agents       AgentSpawner
	capabilities CapabilityChecker
	synthesizer  GapSynthesizer
	checkpoint   Checkpointer
	pool         *domain.ResourcePool

	pollInterval       time.Duration
	checkpointInterval time.Duration

	// SynthesizeUpFront selects whether missing capabilities are
	// synthesized before the goal's tasks are registered (the default).
	// When false, Orchestrate does not synthesize missing capabilities
	// at all; there is no lazy, on-first-use synthesis path.
	SynthesizeUpFront bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithPollInterval(d time.Duration) Option       { return func(o *Orchestrator) { o.pollInterval = d } }
func WithCheckpointInterval(d time.Duration) Option { return func(o *Orchestrator) { o.checkpointInterval = d } }

// New creates an Orchestrator.
func New(planner Planner, sched TaskScheduler, agents AgentSpawner, capabilities CapabilityChecker, synthesizer GapSynthesizer, checkpoint Checkpointer, pool *domain.ResourcePool, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		planner:            planner,
		scheduler:          sched,
		agents:             agents,
		capabilities:       capabilities,
		synthesizer:        synthesizer,
		checkpoint:         checkpoint,
		pool:               pool,
		pollInterval:       500 * time.Millisecond,
		checkpointInterval: 30 * time.Second,
		SynthesizeUpFront:  true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Orchestrate runs spec.md §4.6's contract end to end: decompose,
// synthesize missing capabilities, register tasks, spawn a fleet, and
// drive the control loop to terminal state.
func (o *Orchestrator) Orchestrate(ctx context.Context, goal domain.Goal) (Result, error) {
	decomposition, err := o.planner.Decompose(ctx, goal)
	if err != nil {
		return Result{}, fmt.Errorf("decomposing goal %s: %w", goal.ID, err)
	}

	confidence := computeConfidence(decomposition)
	if confidence < minConfidence {
		return Result{}, fmt.Errorf("%w: %.2f for goal %s", ErrInsufficientPlan, confidence, goal.ID)
	}

	if o.SynthesizeUpFront {
		for _, gap := range decomposition.CapabilityGaps {
			if o.capabilities.HasCapability(gap.Name) {
				continue
			}
			if err := o.synthesizer.SynthesizeGap(ctx, gap); err != nil {
				slog.Warn("up-front synthesis failed, proceeding without the capability", "capability", gap.Name, "error", err)
			}
		}
	}

	for i := range decomposition.Tasks {
		if decomposition.Tasks[i].Priority == 0 {
			decomposition.Tasks[i].Priority = goal.Priority
		}
	}

	goalID := ids.GoalID(goal.ID)
	if err := o.scheduler.RegisterGoal(goalID, decomposition.Tasks); err != nil {
		return Result{}, fmt.Errorf("registering goal %s: %w", goalID, err)
	}

	fleet := planFleet(decomposition.Tasks)
	spawned := o.spawnFleet(goalID, fleet)
	if len(spawned) == 0 && len(fleet) > 0 {
		slog.Error("no agents could be spawned, goal cannot proceed", "goal_id", goalID)
		return Result{GoalID: goalID, Status: domain.GoalFailed}, nil
	}

	status := o.controlLoop(ctx, goalID, decomposition)
	return Result{GoalID: goalID, Status: status}, nil
}

// Cancel implements the cancellation cascade of spec.md §5: move every
// non-terminal task of the goal to cancelled and terminate the agents
// that were holding them. It keeps no goal record of its own, so it
// does not change a goal's status.
func (o *Orchestrator) Cancel(goalID ids.GoalID) error {
	agents, err := o.scheduler.CancelGoal(goalID)
	if err != nil {
		return err
	}
	for _, agentID := range agents {
		o.agents.Terminate(agentID)
	}
	return nil
}

func (o *Orchestrator) controlLoop(ctx context.Context, goalID ids.GoalID, decomposition domain.Decomposition) domain.GoalStatus {
	pollTicker := time.NewTicker(o.pollInterval)
	defer pollTicker.Stop()
	checkpointTicker := time.NewTicker(o.checkpointInterval)
	defer checkpointTicker.Stop()

	satisfiesCriteria := criteriaEvaluator(decomposition.SuccessCriteria)

	for {
		select {
		case <-ctx.Done():
			return domain.GoalCancelled
		case <-checkpointTicker.C:
			if o.checkpoint != nil {
				if err := o.checkpoint.Checkpoint(ctx); err != nil {
					slog.Error("checkpoint failed", "goal_id", goalID, "error", err)
				}
			}
		case <-pollTicker.C:
			for _, timedOut := range o.scheduler.CheckTimeouts() {
				if timedOut.GoalID == goalID {
					slog.Warn("task timed out", "goal_id", goalID, "task_id", timedOut.TaskID)
				}
			}

			completed, failed, err := o.scheduler.GoalComplete(goalID, satisfiesCriteria)
			if err != nil {
				slog.Error("checking goal completion", "goal_id", goalID, "error", err)
				continue
			}
			if failed {
				return domain.GoalFailed
			}
			if completed {
				return domain.GoalCompleted
			}
		}
	}
}

func (o *Orchestrator) spawnFleet(goalID ids.GoalID, fleet map[domain.RoleName]int) []ids.AgentID {
	var spawned []ids.AgentID
	for role, count := range fleet {
		for i := 0; i < count; i++ {
			id, err := o.agents.Spawn(role, domain.Quota{}, nil, goalID, o.pool)
			if err != nil {
				slog.Warn("scaling down fleet, could not spawn agent", "role", role, "error", err)
				break
			}
			spawned = append(spawned, id)
		}
	}
	return spawned
}

// computeConfidence scores a decomposition per spec.md §4.6: base 0.5,
// +0.2 subtasks present, +0.1 dependencies declared, +0.1 resources
// declared, +0.1 success criteria declared.
func computeConfidence(d domain.Decomposition) float64 {
	score := 0.5
	if len(d.Tasks) > 0 {
		score += 0.2
	}
	if len(d.Dependencies) > 0 {
		score += 0.1
	}
	if len(d.RequiredResources) > 0 {
		score += 0.1
	}
	if len(d.SuccessCriteria) > 0 {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

// planFleet derives a role mix from task types: one executor per
// distinct task type present, plus one planner for the goal overall
// (spec.md §4.6 step 4: "role mix derived from task types"). No
// supervisor is added.
func planFleet(tasks []domain.TaskDescriptor) map[domain.RoleName]int {
	fleet := map[domain.RoleName]int{domain.RolePlanner: 1}
	seen := make(map[string]bool)
	for _, t := range tasks {
		if seen[t.Type] {
			continue
		}
		seen[t.Type] = true
		fleet[domain.RoleExecutor]++
	}
	return fleet
}

func criteriaEvaluator(predicates []domain.SuccessPredicate) func(domain.Task) bool {
	if len(predicates) == 0 {
		return func(domain.Task) bool { return true }
	}
	return func(task domain.Task) bool {
		if len(task.Attempts) == 0 {
			return false
		}
		output := task.Attempts[len(task.Attempts)-1].StructuredOutput
		for _, p := range predicates {
			if !evaluatePredicate(p, output) {
				return false
			}
		}
		return true
	}
}

func evaluatePredicate(p domain.SuccessPredicate, output map[string]interface{}) bool {
	switch p.Kind {
	case domain.PredicateCustom:
		if p.Custom == nil {
			return false
		}
		return p.Custom(output)
	case domain.PredicateExact:
		return fmt.Sprintf("%v", output[p.Field]) == fmt.Sprintf("%v", p.Expected)
	case domain.PredicateThreshold:
		v, ok := output[p.Field].(float64)
		return ok && v >= p.Threshold
	case domain.PredicatePattern:
		// Pattern predicates are not evaluated: they always fail, and a
		// Custom function set on a Pattern predicate is not consulted.
		return false
	default:
		return false
	}
}
