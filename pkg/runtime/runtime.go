// Package runtime builds and owns the single composition root every
// entrypoint is handed explicitly: one runtime.Runtime value holding
// every long-lived component, constructed once in main and threaded
// into the HTTP facade and CLI commands by parameter rather than
// through package-level singletons (spec.md §9's "Global mutable
// state" REDESIGN FLAG).
//
// Grounded on cmd/tarsy/main.go's own composition style: config loaded
// once via config.Initialize, then every service constructed and wired
// by explicit local value in func main, no init()-time globals. Runtime
// formalizes that same style into a named struct so cmd/forge's main
// and its CLI subcommands share one instance instead of re-deriving the
// wiring in each command.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	dockerclient "github.com/docker/docker/client"

	"github.com/forgerun/forge/pkg/agentmgr"
	"github.com/forgerun/forge/pkg/config"
	"github.com/forgerun/forge/pkg/domain"
	"github.com/forgerun/forge/pkg/events"
	"github.com/forgerun/forge/pkg/orchestrator"
	"github.com/forgerun/forge/pkg/planner"
	"github.com/forgerun/forge/pkg/registry"
	"github.com/forgerun/forge/pkg/resource"
	"github.com/forgerun/forge/pkg/sandbox"
	"github.com/forgerun/forge/pkg/scheduler"
	"github.com/forgerun/forge/pkg/snapshot"
	"github.com/forgerun/forge/pkg/synth"
)

// Runtime holds every component the orchestration engine needs,
// constructed once by New and threaded explicitly into the API facade
// and CLI commands. Nothing here is a package-level variable; a second
// call to New produces a fully independent Runtime, which is what makes
// the tests in this package possible without global state bleeding
// between them.
type Runtime struct {
	Config *config.Config
	Events *events.Publisher

	Monitor      *resource.Monitor
	Registry     *registry.Registry
	Sandbox      *sandbox.Executor
	Scheduler    *scheduler.Scheduler
	Agents       *agentmgr.Manager
	Planner      *planner.AgentPlanner
	Synth        *synth.Synthesizer
	Snapshots    *snapshot.Store
	Orchestrator *orchestrator.Orchestrator

	checkpoint *Checkpointer
}

// DockerHost is the Docker Engine API endpoint the sandbox's container
// backend dials. Empty uses the client library's own DOCKER_HOST/
// default-socket resolution.
type DockerHost string

// defaultHeartbeatInterval is the Agent Manager's heartbeat cadence,
// shared with the scheduler's monitorInterval (its stale-claim sweep
// fires at 2x this) per spec.md §4.4/§4.5.
const defaultHeartbeatInterval = 30 * time.Second

// New wires every component from resolved configuration, in dependency
// order: the resource monitor first (everything else samples into it),
// then the task scheduler and the plugin registry (which uses the
// scheduler as its reference checker), the sandbox executor, the agent
// manager, the planner and synthesizer that round-trip through the
// registry and executor, the snapshot store and its checkpoint adapter,
// and finally the orchestrator tying all of it together.
//
// A Docker daemon is optional: if dialing dockerHost fails, the sandbox
// runs with its container backend disabled (nil) and only in-process
// (Yaegi) plugins are usable, logged as a warning rather than a fatal
// startup error, since a capability-synthesis-only deployment never
// needs containers.
func New(ctx context.Context, cfg *config.Config, dockerHost DockerHost) (*Runtime, error) {
	pub, err := events.Connect(cfg.EventsURL)
	if err != nil {
		slog.Warn("events publisher unavailable, continuing without telemetry", "error", err)
		pub = nil
	}

	monitor := resource.New(resource.NewProcessSampler(cfg.DataDir))

	sched := scheduler.New(defaultHeartbeatInterval)
	reg := registry.New(sched) // *scheduler.Scheduler satisfies registry.ReferenceChecker

	inProcessBackend := sandbox.NewInProcessBackend(nil)

	containerBackend, cbErr := newContainerBackend(ctx, dockerHost)
	var sbx *sandbox.Executor
	if cbErr != nil {
		// Passing the nil *ContainerBackend directly would wrap a non-nil
		// interface holding a nil pointer, breaking Executor's own
		// `e.container == nil` guard; pass the untyped literal instead so
		// the sandbox sees a genuinely nil backend.
		slog.Warn("docker unavailable, sandbox will only run in-process plugins", "error", cbErr)
		sbx = sandbox.New(nil, inProcessBackend, monitor)
	} else {
		sbx = sandbox.New(containerBackend, inProcessBackend, monitor)
	}

	agents := agentmgr.New(cfg.Roles, monitor, nil, sched)

	plan := planner.New(reg, sbx, cfg.DefaultQuota)

	validator := synth.NewValidator(nil)
	synthesizer := synth.New(synth.NewTemplateSet(), validator, sbx, reg, noopRefiner{})

	store, err := snapshot.NewStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("runtime: creating snapshot store: %w", err)
	}
	checkpoint := &Checkpointer{store: store, scheduler: sched, registry: reg, agents: agents}

	// The "agents" pool (config.DefaultResourcePools) is the pool the
	// orchestrator's spawns are charged against. Spawn charges the spawn
	// quota's CPUPercent, and the orchestrator spawns with a zero quota,
	// so this pool does not limit how many agents it spawns.
	var pool *domain.ResourcePool
	if p, ok := cfg.ResourcePools["agents"]; ok {
		poolCopy := p
		pool = &poolCopy
	}

	orch := orchestrator.New(plan, sched, agents, reg, synthesizer, checkpoint, pool,
		orchestrator.WithCheckpointInterval(cfg.CheckpointInterval))

	return &Runtime{
		Config:       cfg,
		Events:       pub,
		Monitor:      monitor,
		Registry:     reg,
		Sandbox:      sbx,
		Scheduler:    sched,
		Agents:       agents,
		Planner:      plan,
		Synth:        synthesizer,
		Snapshots:    store,
		Orchestrator: orch,
		checkpoint:   checkpoint,
	}, nil
}

// BindGoalSource attaches the component that owns goal records (the API
// facade) to the checkpoint adapter, once that component exists. The
// orchestrator is constructed before the facade (the facade needs the
// orchestrator to wrap), so this binding happens a step later than the
// rest of New's wiring rather than at construction time.
func (r *Runtime) BindGoalSource(goals GoalSource) {
	r.checkpoint.Bind(goals)
}

// Start begins every background loop: resource sampling, the
// scheduler's stale-claim sweep, and the agent manager's heartbeat and
// quota watches. Callers stop them via Stop (or by cancelling ctx for
// the sampling/watch loops, which select on it directly).
func (r *Runtime) Start(ctx context.Context) {
	r.Monitor.Start(ctx)
	r.Scheduler.StartStaleClaimSweep(ctx, r.Agents.IsStale)
	r.Agents.StartQuotaWatch(ctx)
	r.Agents.StartHeartbeatWatch(ctx, defaultHeartbeatInterval)
}

// Stop halts every background loop that owns its own goroutines rather
// than merely selecting on ctx.
func (r *Runtime) Stop() {
	r.Monitor.Stop()
	r.Scheduler.StopSweep()
	r.Agents.Stop()
}

func newContainerBackend(ctx context.Context, host DockerHost) (*sandbox.ContainerBackend, error) {
	opts := []dockerclient.Opt{dockerclient.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, dockerclient.WithHost(string(host)))
	}
	cli, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("pinging docker daemon: %w", err)
	}
	return sandbox.NewContainerBackend(cli, "forge-sandbox", nil), nil
}

// noopRefiner is the Refiner of last resort: it reports that it cannot
// improve a candidate. No library in the example pack's dependency
// surface offers LLM-backed code repair that is actually wired into
// this module's go.mod (the teacher's own refiner talks to a
// tarsy-specific gRPC service over generated protobuf that does not
// travel with the rest of the stack), so a production deployment
// supplies its own synth.Refiner; this one keeps the synthesis pipeline
// usable out of the box for templates that pass on the first try.
type noopRefiner struct{}

func (noopRefiner) Refine(ctx context.Context, currentSource string, failures []synth.CaseResult) (string, error) {
	return "", fmt.Errorf("runtime: no refiner configured, %d test case(s) still failing", len(failures))
}
