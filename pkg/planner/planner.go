// Package planner implements goal decomposition for the Orchestrator
// (C6 step 1, spec.md §4.6: "decompose goal via the planner role;
// obtain tasks + dependencies + success criteria + required
// capabilities"). The distilled spec leaves the decomposition
// mechanism itself to the implementer (§9 notes the source sometimes
// decomposes inside the orchestrator and sometimes inside a planner
// agent, and assumes planner-role here); this package resolves it the
// same way every other task reaches a capability: through the Plugin
// Registry (C2) and the Sandbox Executor (C3), so a goal's
// decomposition is itself just a call to a registered
// "goal.decompose" capability plugin under quota, exactly like any
// other task in the system.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/forgerun/forge/pkg/domain"
	"github.com/forgerun/forge/pkg/ids"
	"github.com/forgerun/forge/pkg/sandbox"
)

// Capability is the well-known capability tag a decomposition plugin
// registers under.
const Capability = "goal.decompose"

// defaultTimeout bounds a decomposition call when the caller does not
// override it.
const defaultTimeout = 2 * time.Minute

// Resolver is the subset of pkg/registry.Registry the planner depends
// on: find a plugin offering the decompose capability.
type Resolver interface {
	Resolve(capability string, constraint domain.VersionConstraint) ([]domain.Plugin, error)
}

// Executor is the subset of pkg/sandbox.Executor the planner depends
// on: run the resolved plugin under quota.
type Executor interface {
	Execute(ctx context.Context, req sandbox.Request) (sandbox.Result, *sandbox.ExecutionError)
}

// goalInput is the JSON envelope passed to a decompose plugin's stdin,
// per the plugin wire protocol (spec.md §6).
type goalInput struct {
	GoalID      string `json:"goal_id"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
}

// decompositionOutput mirrors domain.Decomposition's JSON-serializable
// fields; a decompose plugin returns this shape as its structured
// output.
type decompositionOutput struct {
	Tasks                []domain.TaskDescriptor `json:"tasks"`
	Dependencies         map[string][]string     `json:"dependencies"`
	RequiredResources    map[string]float64      `json:"required_resources"`
	RequiredCapabilities []string                `json:"required_capabilities"`
	CapabilityGaps       []capabilityGapOutput   `json:"capability_gaps"`
	Confidence           float64                 `json:"confidence"`
}

// capabilityGapOutput is one entry of decompositionOutput.CapabilityGaps:
// a required capability the decompose plugin already knows has no
// registered implementation, with the test cases C7 should validate a
// synthesized candidate against.
type capabilityGapOutput struct {
	Name                  string             `json:"name"`
	Description           string             `json:"description"`
	RequiredSkills        []string           `json:"required_skills"`
	Priority              int                `json:"priority"`
	TestCases             []domain.TestCase  `json:"test_cases"`
	PermittedDependencies []string           `json:"permitted_dependencies"`
}

// AgentPlanner is the Planner the Orchestrator depends on (C6).
type AgentPlanner struct {
	registry Resolver
	executor Executor
	quota    domain.Quota
	timeout  time.Duration
}

// New creates an AgentPlanner. quota bounds the decompose plugin call
// the same way any other task is bounded.
func New(registry Resolver, executor Executor, quota domain.Quota) *AgentPlanner {
	return &AgentPlanner{registry: registry, executor: executor, quota: quota, timeout: defaultTimeout}
}

// Decompose implements pkg/orchestrator.Planner.
func (p *AgentPlanner) Decompose(ctx context.Context, goal domain.Goal) (domain.Decomposition, error) {
	candidates, err := p.registry.Resolve(Capability, domain.VersionConstraint{})
	if err != nil {
		return domain.Decomposition{}, fmt.Errorf("resolving planner plugin: %w", err)
	}
	if len(candidates) == 0 {
		return domain.Decomposition{}, fmt.Errorf("no plugin registered for capability %q", Capability)
	}
	plugin := candidates[0]

	input, err := json.Marshal(goalInput{GoalID: goal.ID, Description: goal.Description, Priority: goal.Priority})
	if err != nil {
		return domain.Decomposition{}, fmt.Errorf("encoding goal input: %w", err)
	}

	result, execErr := p.executor.Execute(ctx, sandbox.Request{
		CorrelationID: ids.NewCorrelationID(),
		Caller:        ids.AgentOwner(ids.AgentID("planner")),
		Plugin:        plugin,
		Input:         input,
		Quota:         p.quota,
		Timeout:       p.timeout,
	})
	if execErr != nil {
		return domain.Decomposition{}, fmt.Errorf("running decompose plugin %s: %w", plugin.Name, execErr)
	}

	var out decompositionOutput
	if err := json.Unmarshal(result.Output, &out); err != nil {
		return domain.Decomposition{}, fmt.Errorf("decoding decomposition output: %w", err)
	}

	requiredCaps := make(map[string]bool, len(out.RequiredCapabilities))
	for _, c := range out.RequiredCapabilities {
		requiredCaps[c] = true
	}

	gaps := make([]domain.CapabilityGap, 0, len(out.CapabilityGaps))
	for _, g := range out.CapabilityGaps {
		gaps = append(gaps, domain.CapabilityGap{
			ID:                    string(ids.NewCapabilityGapID()),
			Name:                  g.Name,
			Description:           g.Description,
			RequiredSkills:        g.RequiredSkills,
			Priority:              g.Priority,
			Status:                domain.GapIdentified,
			TestCases:             g.TestCases,
			PermittedDependencies: g.PermittedDependencies,
			CreatedAt:             time.Now().UTC(),
		})
	}

	return domain.Decomposition{
		Tasks:                out.Tasks,
		Dependencies:         out.Dependencies,
		RequiredResources:    out.RequiredResources,
		RequiredCapabilities: requiredCaps,
		CapabilityGaps:       gaps,
		Confidence:           out.Confidence,
	}, nil
}
