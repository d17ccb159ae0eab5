// Package synth implements the Plugin Synthesis / Test / Refine loop
// (C7): template match, fill, AST-validate, materialize, sandbox test,
// bounded refine, and register.
//
// Grounded on theRebelliousNerd-codenerd's internal/autopoiesis package:
// text/template-based code generation (tool_templates.go) and go/parser
// + go/ast structural validation (tool_validation.go), re-purposed from
// one-shot tool generation into a requirement-driven, test-verified,
// refine-capable plugin synthesis pipeline.
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/forgerun/forge/pkg/domain"
	"github.com/forgerun/forge/pkg/ids"
	"github.com/forgerun/forge/pkg/sandbox"
)

// defaultMaxRefinementIterations bounds the refine loop (spec.md §4.7).
const defaultMaxRefinementIterations = 3

// Requirement names the capability to synthesize a plugin for.
type Requirement struct {
	Capability           string
	TestCases            []domain.TestCase
	PermittedDependencies []string
}

// FailureKind enumerates the synthesis pipeline's failure modes.
type FailureKind string

const (
	FailureNoTemplate         FailureKind = "no_template"
	FailureValidationFailed   FailureKind = "validation_failed"
	FailureTestFailed         FailureKind = "test_failed"
	FailureRefinementExhausted FailureKind = "refinement_exhausted"
	FailureRegistryReject     FailureKind = "registry_reject"
)

// SynthesisError carries the failure kind plus any structured findings.
type SynthesisError struct {
	Kind     FailureKind
	Message  string
	Findings []string
	CaseIDs  []string
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synth: %s: %s", e.Kind, e.Message)
}

// Registrar is the subset of pkg/registry.Registry synth depends on,
// injected to avoid a direct import cycle risk and to keep synth
// testable without a live registry.
type Registrar interface {
	Register(p domain.Plugin) (ids.PluginID, error)
}

// Refiner asks the refiner role for a minimal diff against the current
// candidate source, given the failing test cases. Implemented by
// whatever drives agent/LLM interaction; synth only orchestrates.
type Refiner interface {
	Refine(ctx context.Context, currentSource string, failures []CaseResult) (newSource string, err error)
}

// Sandbox is the subset of pkg/sandbox.Executor synth needs to run test
// cases against a candidate.
type Sandbox interface {
	Execute(ctx context.Context, req sandbox.Request) (sandbox.Result, *sandbox.ExecutionError)
}

// CaseResult is one test case's outcome during the test/refine stages.
type CaseResult struct {
	CaseID   string
	Passed   bool
	Output   json.RawMessage
	Duration time.Duration
	Peaks    map[string]float64
	Error    string
}

// Synthesizer drives the pipeline described in spec.md §4.7.
type Synthesizer struct {
	templates  *TemplateSet
	validator  *Validator
	sandboxEx  Sandbox
	registrar  Registrar
	refiner    Refiner

	maxRefinements int

	mu    sync.Mutex
	cache map[string]ids.PluginID // requirement signature -> registered plugin
}

// New creates a Synthesizer.
func New(templates *TemplateSet, validator *Validator, sandboxEx Sandbox, registrar Registrar, refiner Refiner) *Synthesizer {
	return &Synthesizer{
		templates:      templates,
		validator:      validator,
		sandboxEx:      sandboxEx,
		registrar:      registrar,
		refiner:        refiner,
		maxRefinements: defaultMaxRefinementIterations,
		cache:          make(map[string]ids.PluginID),
	}
}

// SynthesizeGap adapts a domain.CapabilityGap into a Requirement and runs
// the pipeline, satisfying the orchestrator's GapSynthesizer interface.
func (s *Synthesizer) SynthesizeGap(ctx context.Context, gap domain.CapabilityGap) error {
	_, err := s.Synthesize(ctx, Requirement{
		Capability:            gap.Name,
		TestCases:             gap.TestCases,
		PermittedDependencies: gap.PermittedDependencies,
	})
	if err != nil {
		return err
	}
	return nil
}

// Synthesize runs the full pipeline for one requirement.
func (s *Synthesizer) Synthesize(ctx context.Context, req Requirement) (ids.PluginID, *SynthesisError) {
	signature := requirementSignature(req)

	s.mu.Lock()
	if cached, ok := s.cache[signature]; ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	tmpl, ok := s.templates.Match(req)
	if !ok {
		return "", &SynthesisError{Kind: FailureNoTemplate, Message: "no template scored a non-zero match"}
	}

	source, err := s.templates.Fill(tmpl, req)
	if err != nil {
		return "", &SynthesisError{Kind: FailureValidationFailed, Message: "fill: " + err.Error()}
	}

	candidate := domain.Plugin{
		Name:         "synth-" + req.Capability,
		Version:      "0.0.1",
		Capabilities: []string{req.Capability},
		Status:       domain.PluginLoaded,
		Mode:         domain.SandboxInProcess,
		Trusted:      true,
		Source:       source,
	}

	for i := 0; ; i++ {
		findings := s.validator.Validate(candidate.Source)
		if findings.HasFatal() {
			if i >= s.maxRefinements || s.refiner == nil {
				return "", &SynthesisError{Kind: FailureValidationFailed, Message: "fatal findings after refinement budget", Findings: findings.Messages()}
			}
			refined, refErr := s.refiner.Refine(ctx, candidate.Source, nil)
			if refErr != nil {
				return "", &SynthesisError{Kind: FailureRefinementExhausted, Message: refErr.Error()}
			}
			candidate.Source = refined
			continue
		}

		results, allPassed := s.runTestCases(ctx, candidate, req.TestCases)
		if allPassed {
			id, regErr := s.register(candidate, req)
			if regErr != nil {
				return "", &SynthesisError{Kind: FailureRegistryReject, Message: regErr.Error()}
			}
			s.mu.Lock()
			s.cache[signature] = id
			s.mu.Unlock()
			return id, nil
		}

		if i >= s.maxRefinements || s.refiner == nil {
			return "", &SynthesisError{Kind: FailureRefinementExhausted, Message: "test cases still failing after refinement budget", CaseIDs: failingCaseIDs(results)}
		}

		refined, refErr := s.refiner.Refine(ctx, candidate.Source, results)
		if refErr != nil {
			return "", &SynthesisError{Kind: FailureRefinementExhausted, Message: refErr.Error()}
		}
		candidate.Source = refined
	}
}

func (s *Synthesizer) runTestCases(ctx context.Context, candidate domain.Plugin, cases []domain.TestCase) ([]CaseResult, bool) {
	var results []CaseResult
	allPassed := true
	for _, tc := range cases {
		input, _ := json.Marshal(tc.Input)
		timeout := tc.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}

		res, execErr := s.sandboxEx.Execute(ctx, sandbox.Request{
			CorrelationID: ids.NewCorrelationID(),
			Plugin:        candidate,
			Input:         input,
			Timeout:       timeout,
		})
		if execErr != nil {
			allPassed = false
			results = append(results, CaseResult{CaseID: tc.ID, Passed: false, Error: execErr.Error()})
			continue
		}

		passed := deepEqualJSON(res.Output, tc.Expected)
		if !passed {
			allPassed = false
		}
		results = append(results, CaseResult{CaseID: tc.ID, Passed: passed, Output: res.Output, Duration: res.Duration})
	}
	return results, allPassed
}

func (s *Synthesizer) register(candidate domain.Plugin, req Requirement) (ids.PluginID, error) {
	return s.registrar.Register(candidate)
}

func failingCaseIDs(results []CaseResult) []string {
	var ids []string
	for _, r := range results {
		if !r.Passed {
			ids = append(ids, r.CaseID)
		}
	}
	return ids
}

// deepEqualJSON implements spec.md §4.7's structural equality rule:
// output deep-equals expected; for dicts, every expected key present
// and matching; for lists, same length and pairwise match.
func deepEqualJSON(output json.RawMessage, expected interface{}) bool {
	var got interface{}
	if err := json.Unmarshal(output, &got); err != nil {
		return false
	}
	return deepEqualValue(got, expected)
}

func deepEqualValue(got, expected interface{}) bool {
	switch exp := expected.(type) {
	case map[string]interface{}:
		gotMap, ok := got.(map[string]interface{})
		if !ok {
			return false
		}
		for k, expVal := range exp {
			gotVal, present := gotMap[k]
			if !present || !deepEqualValue(gotVal, expVal) {
				return false
			}
		}
		return true
	case []interface{}:
		gotSlice, ok := got.([]interface{})
		if !ok || len(gotSlice) != len(exp) {
			return false
		}
		for i := range exp {
			if !deepEqualValue(gotSlice[i], exp[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(got, expected)
	}
}

func requirementSignature(req Requirement) string {
	b, _ := json.Marshal(struct {
		Capability string
		Deps       []string
		Cases      []domain.TestCase
	}{req.Capability, req.PermittedDependencies, req.TestCases})
	return string(b)
}
