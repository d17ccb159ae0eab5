package runtime

import (
	"context"
	"fmt"

	"github.com/forgerun/forge/pkg/agentmgr"
	"github.com/forgerun/forge/pkg/domain"
	"github.com/forgerun/forge/pkg/ids"
	"github.com/forgerun/forge/pkg/registry"
	"github.com/forgerun/forge/pkg/scheduler"
	"github.com/forgerun/forge/pkg/snapshot"
)

// GoalSource is satisfied by the component that owns goal records — the
// API facade (pkg/api.Server.Goals) — bound in after both it and the
// orchestrator exist, since the orchestrator (and therefore this
// Checkpointer) is constructed before the facade that wraps it.
type GoalSource interface {
	Goals() []domain.Goal
}

// Checkpointer composes the Task Scheduler, Plugin Registry, and Agent
// Manager's own read accessors with a late-bound GoalSource into
// pkg/snapshot.Capture, satisfying pkg/orchestrator.Checkpointer without
// pkg/snapshot importing pkg/scheduler, pkg/registry, pkg/agentmgr, or
// pkg/api directly.
type Checkpointer struct {
	store     *snapshot.Store
	scheduler *scheduler.Scheduler
	registry  *registry.Registry
	agents    *agentmgr.Manager

	goals GoalSource
}

// Bind attaches the goal-owning component once it is constructed. Until
// called, Checkpoint still runs and still persists tasks/plugins/agents;
// it simply reports no goals.
func (c *Checkpointer) Bind(goals GoalSource) {
	c.goals = goals
}

// Checkpoint implements pkg/orchestrator.Checkpointer, invoked on every
// control-loop tick at the configured checkpoint interval.
func (c *Checkpointer) Checkpoint(ctx context.Context) error {
	state := snapshot.Capture(c, taskSource{c.scheduler, c}, c.registry, agentSource{c.agents})
	if _, err := c.store.Save(state); err != nil {
		return fmt.Errorf("runtime: checkpoint: %w", err)
	}
	return nil
}

// Goals implements snapshot.GoalSource by delegating to the bound
// component, or reporting none before one is bound.
func (c *Checkpointer) Goals() []domain.Goal {
	if c.goals == nil {
		return nil
	}
	return c.goals.Goals()
}

// taskSource flattens every goal's tasks into the single list
// pkg/snapshot.TaskSource expects, since pkg/scheduler indexes tasks
// per-goal rather than in one global list.
type taskSource struct {
	scheduler *scheduler.Scheduler
	goals     GoalSource
}

func (t taskSource) Tasks() []domain.Task {
	var out []domain.Task
	for _, g := range t.goals.Goals() {
		tasks, err := t.scheduler.Tasks(ids.GoalID(g.ID))
		if err != nil {
			continue
		}
		out = append(out, tasks...)
	}
	return out
}

// agentSource adapts agentmgr.Manager.Fleet to the Agents() name
// pkg/snapshot.AgentSource expects.
type agentSource struct {
	agents *agentmgr.Manager
}

func (a agentSource) Agents() []domain.Agent {
	return a.agents.Fleet()
}
