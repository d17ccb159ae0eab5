package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgerun/forge/pkg/agentmgr"
	"github.com/forgerun/forge/pkg/domain"
	"github.com/forgerun/forge/pkg/ids"
	"github.com/forgerun/forge/pkg/registry"
	"github.com/forgerun/forge/pkg/scheduler"
	"github.com/forgerun/forge/pkg/snapshot"
)

// fakeGoalSource stands in for pkg/api.Server.Goals for the tests in
// this package, so Checkpointer's wiring can be exercised without
// constructing a full HTTP facade.
type fakeGoalSource struct {
	goals []domain.Goal
}

func (f fakeGoalSource) Goals() []domain.Goal {
	return f.goals
}

func newCheckpointFixture(t *testing.T) (*Checkpointer, ids.GoalID) {
	t.Helper()

	sched := scheduler.New(time.Second)
	goalID := ids.NewGoalID()
	require.NoError(t, sched.RegisterGoal(goalID, []domain.TaskDescriptor{
		{ID: "t1", Type: "fetch"},
	}))

	reg := registry.New(sched)
	roles := map[domain.RoleName]domain.Role{}
	agents := agentmgr.New(roles, nil, nil, sched)

	store, err := snapshot.NewStore(t.TempDir())
	require.NoError(t, err)

	return &Checkpointer{store: store, scheduler: sched, registry: reg, agents: agents}, goalID
}

func TestCheckpointer_GoalsReportsNoneBeforeBind(t *testing.T) {
	c, _ := newCheckpointFixture(t)
	assert.Empty(t, c.Goals())
}

func TestCheckpointer_GoalsDelegatesAfterBind(t *testing.T) {
	c, goalID := newCheckpointFixture(t)
	c.Bind(fakeGoalSource{goals: []domain.Goal{{ID: string(goalID), Status: domain.GoalRunning}}})

	goals := c.Goals()
	require.Len(t, goals, 1)
	assert.Equal(t, string(goalID), goals[0].ID)
}

func TestCheckpointer_CheckpointPersistsState(t *testing.T) {
	c, goalID := newCheckpointFixture(t)
	c.Bind(fakeGoalSource{goals: []domain.Goal{{ID: string(goalID), Status: domain.GoalRunning}}})

	require.NoError(t, c.Checkpoint(context.Background()))

	state, err := c.store.Latest()
	require.NoError(t, err)
	require.Len(t, state.Goals, 1)
	assert.Equal(t, string(goalID), state.Goals[0].ID)
	require.Len(t, state.Tasks, 1)
	assert.Equal(t, "t1", state.Tasks[0].ID)
}

func TestTaskSource_FlattensTasksAcrossGoals(t *testing.T) {
	sched := scheduler.New(time.Second)
	goalA := ids.NewGoalID()
	goalB := ids.NewGoalID()
	require.NoError(t, sched.RegisterGoal(goalA, []domain.TaskDescriptor{{ID: "a1", Type: "fetch"}}))
	require.NoError(t, sched.RegisterGoal(goalB, []domain.TaskDescriptor{{ID: "b1", Type: "fetch"}}))

	src := taskSource{
		scheduler: sched,
		goals: fakeGoalSource{goals: []domain.Goal{
			{ID: string(goalA)},
			{ID: string(goalB)},
		}},
	}

	tasks := src.Tasks()
	require.Len(t, tasks, 2)
	taskIDs := []string{tasks[0].ID, tasks[1].ID}
	assert.Contains(t, taskIDs, "a1")
	assert.Contains(t, taskIDs, "b1")
}

func TestTaskSource_SkipsUnknownGoal(t *testing.T) {
	sched := scheduler.New(time.Second)
	src := taskSource{
		scheduler: sched,
		goals:     fakeGoalSource{goals: []domain.Goal{{ID: string(ids.NewGoalID())}}},
	}
	assert.Empty(t, src.Tasks())
}

func TestAgentSource_DelegatesToFleet(t *testing.T) {
	roles := map[domain.RoleName]domain.Role{
		"executor": {Name: "executor"},
	}
	mgr := agentmgr.New(roles, nil, nil, nil)
	_, err := mgr.Spawn("executor", domain.Quota{CPUPercent: 10}, nil, ids.NewGoalID(), nil)
	require.NoError(t, err)

	src := agentSource{agents: mgr}
	agents := src.Agents()
	require.Len(t, agents, 1)
	assert.Equal(t, domain.RoleName("executor"), agents[0].Role)
}

func TestNoopRefiner_AlwaysFails(t *testing.T) {
	_, err := noopRefiner{}.Refine(context.Background(), "package main", nil)
	assert.Error(t, err)
}
