package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgerun/forge/pkg/domain"
	"github.com/forgerun/forge/pkg/ids"
	"github.com/forgerun/forge/pkg/orchestrator"
	"github.com/forgerun/forge/pkg/scheduler"
)

type stubPlanner struct {
	decomposition domain.Decomposition
}

func (p *stubPlanner) Decompose(ctx context.Context, goal domain.Goal) (domain.Decomposition, error) {
	return p.decomposition, nil
}

type stubScheduler struct{}

func (stubScheduler) RegisterGoal(ids.GoalID, []domain.TaskDescriptor) error { return nil }
func (stubScheduler) ClaimableTasks(ids.GoalID, int) ([]ids.TaskID, error)   { return nil, nil }
func (stubScheduler) GoalComplete(ids.GoalID, func(domain.Task) bool) (bool, bool, error) {
	return true, false, nil
}
func (stubScheduler) CancelGoal(ids.GoalID) ([]ids.AgentID, error)   { return nil, nil }
func (stubScheduler) CheckTimeouts() []scheduler.TimedOutTask        { return nil }

type stubAgents struct{}

func (stubAgents) Spawn(domain.RoleName, domain.Quota, []string, ids.GoalID, *domain.ResourcePool) (ids.AgentID, error) {
	return "agent-1", nil
}
func (stubAgents) Terminate(ids.AgentID) bool { return true }

type stubCapabilities struct{}

func (stubCapabilities) HasCapability(string) bool { return true }

type stubSynthesizer struct{}

func (stubSynthesizer) SynthesizeGap(context.Context, domain.CapabilityGap) error { return nil }

func TestOrchestratorAdapter_OrchestrateConvertsResultType(t *testing.T) {
	planner := &stubPlanner{decomposition: domain.Decomposition{
		Tasks:      []domain.TaskDescriptor{{ID: "t1", Type: "noop"}},
		Confidence: 1.0,
	}}
	orch := orchestrator.New(planner, stubScheduler{}, stubAgents{}, stubCapabilities{}, stubSynthesizer{}, nil, nil)

	adapter := orchestratorAdapter{orch: orch}
	goal := domain.Goal{ID: string(ids.NewGoalID()), Description: "test"}

	result, err := adapter.Orchestrate(context.Background(), goal)
	require.NoError(t, err)
	assert.Equal(t, domain.GoalCompleted, result.Status)
	assert.Equal(t, goal.ID, string(result.GoalID))
}

func TestOrchestratorAdapter_CancelDelegates(t *testing.T) {
	orch := orchestrator.New(&stubPlanner{}, stubScheduler{}, stubAgents{}, stubCapabilities{}, stubSynthesizer{}, nil, nil)
	adapter := orchestratorAdapter{orch: orch}
	assert.NoError(t, adapter.Cancel(ids.NewGoalID()))
}
