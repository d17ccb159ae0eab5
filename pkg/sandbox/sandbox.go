// Package sandbox implements the Sandbox Executor (C3): isolated
// execution of a plugin call under quota, with two-level
// timeout/cancellation and a failure taxonomy the Task Scheduler uses
// to decide retries.
//
// Two isolation modes select per plugin (domain.SandboxMode): container
// mode runs the plugin as a Docker container, grounded on
// streamspace-dev-streamspace's agents/docker-agent (container create/
// start/stop/remove via github.com/docker/docker/client +
// github.com/docker/go-connections/nat); in-process mode interprets
// trusted plugin source with github.com/traefik/yaegi, grounded on
// theRebelliousNerd-codenerd's internal/autopoiesis/yaegi_executor.go.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/forgerun/forge/pkg/domain"
	"github.com/forgerun/forge/pkg/ids"
	"github.com/forgerun/forge/pkg/resource"
)

// FailureKind is the sandbox's own failure taxonomy (spec.md §4.3),
// distinct from (and mapped onto) domain.ErrorKind so the scheduler can
// make its retry decision.
type FailureKind string

const (
	FailureTimeout       FailureKind = "timeout"
	FailureQuotaExceeded FailureKind = "quota_exceeded"
	FailurePluginError   FailureKind = "plugin_error"
	FailureCancelled     FailureKind = "cancel_requested"
	FailureInternal      FailureKind = "internal_error"
)

// ExecutionError wraps a sandbox failure with its taxonomy kind and,
// for QuotaExceeded, the offending axis.
type ExecutionError struct {
	Kind    FailureKind
	Axis    resource.Axis
	Message string
	Cause   error
}

func (e *ExecutionError) Error() string {
	if e.Axis != "" {
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.Axis, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// AsRuntimeError maps a sandbox failure onto the runtime-wide
// RuntimeError taxonomy so the scheduler's retry policy (spec.md §4.4:
// retryable = timeout, quota, transient plugin error) can act on it
// without importing pkg/sandbox.
func (e *ExecutionError) AsRuntimeError() *domain.RuntimeError {
	kind := domain.ErrKindFatal
	switch e.Kind {
	case FailureTimeout, FailureQuotaExceeded:
		kind = domain.ErrKindTransient
	case FailurePluginError:
		kind = domain.ErrKindPlugin
	case FailureCancelled:
		kind = domain.ErrKindInput
	case FailureInternal:
		kind = domain.ErrKindFatal
	}
	return domain.NewError(kind, e.Message, e.Cause)
}

// Request is one call into the sandbox. Every call carries a
// correlation id used to attribute resource samples and wire-protocol
// envelopes end-to-end (spec.md §4.3).
type Request struct {
	CorrelationID ids.CorrelationID
	Caller        ids.OwnerID
	Plugin        domain.Plugin
	Input         json.RawMessage
	Quota         domain.Quota
	Timeout       time.Duration
}

// Result is a successful sandbox call outcome.
type Result struct {
	CorrelationID ids.CorrelationID
	Output        json.RawMessage
	Peaks         map[resource.Axis]float64
	Duration      time.Duration
}

// backend is implemented by the container and in-process runners.
type backend interface {
	run(ctx context.Context, req Request) (json.RawMessage, error)
}

// Executor dispatches calls to the correct backend by the plugin's
// declared sandbox mode, serializing calls per-plugin unless the
// plugin declares max_concurrent > 1 (spec.md §4.3 "Ordering").
type Executor struct {
	container backend
	inProcess backend
	monitor   *resource.Monitor

	mu    sync.Mutex
	gates map[ids.PluginID]chan struct{} // buffered to MaxConcurrent, acts as a semaphore
}

// New creates an Executor. Either backend may be nil if that mode is
// not configured (e.g. no Docker daemon reachable); calls to a plugin
// declaring the unavailable mode fail with FailureInternal.
func New(container, inProcess backend, monitor *resource.Monitor) *Executor {
	return &Executor{
		container: container,
		inProcess: inProcess,
		monitor:   monitor,
		gates:     make(map[ids.PluginID]chan struct{}),
	}
}

// Execute runs one plugin call end-to-end: acquires the per-plugin
// ordering gate, applies the soft/hard timeout split, dispatches to the
// selected backend, and attributes peak resource usage to the result.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, *ExecutionError) {
	release, err := e.acquireGate(ctx, req.Plugin)
	if err != nil {
		return Result{}, err
	}
	defer release()

	backend, err := e.selectBackend(req.Plugin)
	if err != nil {
		return Result{}, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = domain.DefaultTimeout
	}
	softDeadline := time.Duration(float64(timeout) * 0.8)

	hardCtx, hardCancel := context.WithTimeout(ctx, timeout)
	defer hardCancel()
	softCtx, softCancel := context.WithTimeout(hardCtx, softDeadline)
	defer softCancel()

	owner := pluginOwner(req.Plugin)
	start := time.Now()
	output, runErr := backend.run(softCtx, req)
	duration := time.Since(start)

	if runErr != nil {
		return Result{}, classifyFailure(runErr, hardCtx)
	}

	peaks := map[resource.Axis]float64{}
	if e.monitor != nil {
		usage := e.monitor.GetUsage(owner)
		peaks = usage.Peak
	}

	return Result{
		CorrelationID: req.CorrelationID,
		Output:        output,
		Peaks:         peaks,
		Duration:      duration,
	}, nil
}

func (e *Executor) selectBackend(p domain.Plugin) (backend, *ExecutionError) {
	switch p.Mode {
	case domain.SandboxInProcess:
		if !p.Trusted {
			return nil, &ExecutionError{Kind: FailureInternal, Message: "in-process mode requires a trusted plugin"}
		}
		if e.inProcess == nil {
			return nil, &ExecutionError{Kind: FailureInternal, Message: "in-process backend not configured"}
		}
		return e.inProcess, nil
	case domain.SandboxContainer, "":
		if e.container == nil {
			return nil, &ExecutionError{Kind: FailureInternal, Message: "container backend not configured"}
		}
		return e.container, nil
	default:
		return nil, &ExecutionError{Kind: FailureInternal, Message: "unknown sandbox mode " + string(p.Mode)}
	}
}

// acquireGate enforces per-plugin serialization unless the plugin
// declares max_concurrent > 1.
func (e *Executor) acquireGate(ctx context.Context, p domain.Plugin) (func(), *ExecutionError) {
	limit := p.ResourceLimits.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}

	e.mu.Lock()
	gate, ok := e.gates[ids.PluginID(p.ID)]
	if !ok {
		gate = make(chan struct{}, limit)
		e.gates[ids.PluginID(p.ID)] = gate
	}
	e.mu.Unlock()

	select {
	case gate <- struct{}{}:
		return func() { <-gate }, nil
	case <-ctx.Done():
		return nil, &ExecutionError{Kind: FailureCancelled, Message: "cancelled while waiting for plugin slot", Cause: ctx.Err()}
	}
}

func pluginOwner(p domain.Plugin) ids.OwnerID {
	return ids.PluginOwner(ids.PluginID(p.ID))
}

func classifyFailure(err error, hardCtx context.Context) *ExecutionError {
	if execErr, ok := err.(*ExecutionError); ok {
		return execErr
	}
	if hardCtx.Err() == context.DeadlineExceeded || err == context.DeadlineExceeded {
		return &ExecutionError{Kind: FailureTimeout, Message: "plugin call exceeded its deadline", Cause: err}
	}
	if hardCtx.Err() == context.Canceled {
		return &ExecutionError{Kind: FailureCancelled, Message: "plugin call cancelled", Cause: err}
	}
	return &ExecutionError{Kind: FailurePluginError, Message: err.Error(), Cause: err}
}
