package planner

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgerun/forge/pkg/domain"
	"github.com/forgerun/forge/pkg/sandbox"
)

type fakeResolver struct {
	plugins []domain.Plugin
	err     error
}

func (f *fakeResolver) Resolve(capability string, constraint domain.VersionConstraint) ([]domain.Plugin, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.plugins, nil
}

type fakeExecutor struct {
	output  []byte
	execErr *sandbox.ExecutionError
}

func (f *fakeExecutor) Execute(ctx context.Context, req sandbox.Request) (sandbox.Result, *sandbox.ExecutionError) {
	if f.execErr != nil {
		return sandbox.Result{}, f.execErr
	}
	return sandbox.Result{Output: f.output}, nil
}

func TestAgentPlanner_DecomposeParsesOutput(t *testing.T) {
	out := decompositionOutput{
		Tasks: []domain.TaskDescriptor{
			{ID: "t1", Type: "fetch"},
		},
		Dependencies:         map[string][]string{"t2": {"t1"}},
		RequiredCapabilities: []string{"http.fetch"},
		CapabilityGaps: []capabilityGapOutput{
			{Name: "http.fetch", TestCases: []domain.TestCase{{ID: "case-1"}}},
		},
		Confidence: 0.9,
	}
	body, err := json.Marshal(out)
	require.NoError(t, err)

	resolver := &fakeResolver{plugins: []domain.Plugin{{Name: "decomposer", Version: "1.0.0"}}}
	executor := &fakeExecutor{output: body}
	p := New(resolver, executor, domain.Quota{})

	decomposition, err := p.Decompose(context.Background(), domain.Goal{ID: "goal-1", Description: "fetch a page"})
	require.NoError(t, err)

	require.Len(t, decomposition.Tasks, 1)
	assert.Equal(t, "t1", decomposition.Tasks[0].ID)
	assert.True(t, decomposition.RequiredCapabilities["http.fetch"])
	require.Len(t, decomposition.CapabilityGaps, 1)
	assert.Equal(t, "http.fetch", decomposition.CapabilityGaps[0].Name)
	assert.NotEmpty(t, decomposition.CapabilityGaps[0].ID)
	assert.Equal(t, domain.GapIdentified, decomposition.CapabilityGaps[0].Status)
	assert.Equal(t, 0.9, decomposition.Confidence)
}

func TestAgentPlanner_DecomposeNoPluginRegistered(t *testing.T) {
	resolver := &fakeResolver{}
	executor := &fakeExecutor{}
	p := New(resolver, executor, domain.Quota{})

	_, err := p.Decompose(context.Background(), domain.Goal{ID: "goal-1"})
	assert.Error(t, err)
}

func TestAgentPlanner_DecomposeExecutionFailure(t *testing.T) {
	resolver := &fakeResolver{plugins: []domain.Plugin{{Name: "decomposer", Version: "1.0.0"}}}
	executor := &fakeExecutor{execErr: &sandbox.ExecutionError{Kind: sandbox.FailureTimeout, Message: "too slow"}}
	p := New(resolver, executor, domain.Quota{})

	_, err := p.Decompose(context.Background(), domain.Goal{ID: "goal-1"})
	assert.Error(t, err)
}
