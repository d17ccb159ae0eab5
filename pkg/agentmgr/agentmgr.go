// Package agentmgr implements the Agent Manager (C5): role-gated agent
// spawn/terminate, heartbeat tracking, resource-quota binding via the
// Resource Monitor, and recovery/reassignment when an agent goes quiet
// or blows its quota.
//
// Grounded on the teacher's pkg/agent.AgentFactory (role/config-driven
// construction via an injected factory interface to avoid import
// cycles) and pkg/queue.WorkerPool's cancel-registry + graceful-then-
// forced shutdown shape.
package agentmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/forgerun/forge/pkg/domain"
	"github.com/forgerun/forge/pkg/ids"
	"github.com/forgerun/forge/pkg/resource"
)

// consecutiveFailureThreshold disables further spawns of a role after
// this many recovery failures of its agents (spec.md §4.5). The count
// grows until ResetRoleFailures clears it; it has no time window and a
// successful agent does not reset it.
const consecutiveFailureThreshold = 3

// Errors.
var (
	ErrAgentNotFound         = fmt.Errorf("agentmgr: agent not found")
	ErrRoleNotFound          = fmt.Errorf("agentmgr: role not found")
	ErrMissingCapabilities   = fmt.Errorf("agentmgr: required capabilities not supplied")
	ErrInsufficientResources = fmt.Errorf("agentmgr: insufficient resources")
	ErrRoleDisabled          = fmt.Errorf("agentmgr: role disabled after repeated failures")
	ErrRoleForbidsOperation  = fmt.Errorf("agentmgr: role forbids this operation")
)

// Terminator is given a chance at cooperative shutdown before the
// manager forces termination. It may be nil, in which case Terminate
// only updates the manager's own records; pkg/runtime passes nil.
type Terminator interface {
	// Stop asks the agent to end gracefully; returns once it has, or the
	// context deadline (the grace period) elapses.
	Stop(ctx context.Context, agentID ids.AgentID) error
	// Kill forces termination when Stop did not complete in time.
	Kill(agentID ids.AgentID)
}

// TaskReassigner is invoked during recovery to move an agent's tasks
// back to the scheduler's pending pool, avoiding a direct dependency on
// pkg/scheduler.
type TaskReassigner interface {
	ReassignAgentTasks(agentID ids.AgentID)
}

// Manager owns the agent roster, role catalog, and recovery loop.
type Manager struct {
	mu     sync.RWMutex
	agents map[ids.AgentID]*domain.Agent
	roles  map[domain.RoleName]domain.Role

	roleFailures map[domain.RoleName]int
	roleDisabled map[domain.RoleName]bool

	monitor       *resource.Monitor
	terminator    Terminator
	reassigner    TaskReassigner
	gracePeriod   time.Duration
	heartbeatTTL  time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithGracePeriod overrides the graceful-stop grace period (default 5s).
func WithGracePeriod(d time.Duration) Option { return func(m *Manager) { m.gracePeriod = d } }

// WithHeartbeatTTL overrides the staleness tolerance (default 60s, twice
// the runtime's 30s heartbeat interval, per spec.md §4.4's reassignment
// rule).
func WithHeartbeatTTL(d time.Duration) Option { return func(m *Manager) { m.heartbeatTTL = d } }

// New creates a Manager. roles is the static role catalog (pkg/config
// owns loading it from YAML).
func New(roles map[domain.RoleName]domain.Role, monitor *resource.Monitor, terminator Terminator, reassigner TaskReassigner, opts ...Option) *Manager {
	m := &Manager{
		agents:       make(map[ids.AgentID]*domain.Agent),
		roles:        roles,
		roleFailures: make(map[domain.RoleName]int),
		roleDisabled: make(map[domain.RoleName]bool),
		monitor:      monitor,
		terminator:   terminator,
		reassigner:   reassigner,
		gracePeriod:  5 * time.Second,
		heartbeatTTL: 60 * time.Second,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Spawn loads the role record, computes the effective capability set,
// rejects if required capabilities are missing, checks resource
// availability against the pool, and registers the quota with C1.
func (m *Manager) Spawn(role domain.RoleName, quota domain.Quota, capabilities []string, goalID ids.GoalID, pool *domain.ResourcePool) (ids.AgentID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.roleDisabled[role] {
		return "", fmt.Errorf("%w: %s", ErrRoleDisabled, role)
	}
	roleDef, ok := m.roles[role]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrRoleNotFound, role)
	}
	for _, required := range roleDef.RequiredCapabilities {
		if !contains(capabilities, required) {
			return "", fmt.Errorf("%w: missing %s", ErrMissingCapabilities, required)
		}
	}

	if pool != nil && quota.CPUPercent > pool.Available() {
		return "", fmt.Errorf("%w: requested %.2f, available %.2f", ErrInsufficientResources, quota.CPUPercent, pool.Available())
	}

	id := ids.NewAgentID()
	agent := &domain.Agent{
		ID:            string(id),
		Role:          role,
		Capabilities:  capabilities,
		Quota:         quota,
		Status:        domain.AgentIdle,
		CurrentTasks:  make(map[string]bool),
		MaxConcurrent: 1,
		LastHeartbeat: timeNow(),
		GoalID:        string(goalID),
		CreatedAt:     timeNow(),
	}
	m.agents[id] = agent

	if m.monitor != nil {
		m.monitor.SetQuota(ids.AgentOwner(id), quota)
	}
	if pool != nil {
		pool.Used += quota.CPUPercent
	}
	return id, nil
}

// Terminate attempts graceful shutdown, then forces it after the grace
// period.
func (m *Manager) Terminate(agentID ids.AgentID) bool {
	m.mu.Lock()
	agent, ok := m.agents[agentID]
	m.mu.Unlock()
	if !ok {
		return false
	}

	if m.terminator != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.gracePeriod)
		defer cancel()
		if err := m.terminator.Stop(ctx, agentID); err != nil {
			slog.Warn("graceful stop did not complete in time, forcing", "agent_id", agentID, "error", err)
			m.terminator.Kill(agentID)
		}
	}

	m.mu.Lock()
	agent.Status = domain.AgentTerminated
	m.mu.Unlock()

	if m.monitor != nil {
		m.monitor.ClearQuota(ids.AgentOwner(agentID))
	}
	return true
}

// Heartbeat records liveness for an agent.
func (m *Manager) Heartbeat(agentID ids.AgentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	agent.LastHeartbeat = timeNow()
	return nil
}

// Status returns a copy of the agent's current record.
func (m *Manager) Status(agentID ids.AgentID) (domain.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agent, ok := m.agents[agentID]
	if !ok {
		return domain.Agent{}, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return *agent, nil
}

// Fleet returns a snapshot of every known agent, for the API facade's
// GET /agents endpoint.
func (m *Manager) Fleet() []domain.Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Agent, 0, len(m.agents))
	for _, agent := range m.agents {
		out = append(out, *agent)
	}
	return out
}

// RouteTask is invoked by the scheduler once it has claimed a task to
// this agent; it enforces role policy (AllowsPlugin is checked by the
// caller against the task's resolved plugin before calling RouteTask)
// and tracks the agent's in-flight task set.
func (m *Manager) RouteTask(agentID ids.AgentID, taskID ids.TaskID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	if !agent.HasCapacity() {
		return fmt.Errorf("agentmgr: agent %s at capacity", agentID)
	}
	agent.CurrentTasks[string(taskID)] = true
	agent.Status = domain.AgentBusy
	return nil
}

// ReleaseTask removes a task from the agent's in-flight set once it
// reaches a terminal state.
func (m *Manager) ReleaseTask(agentID ids.AgentID, taskID ids.TaskID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[agentID]
	if !ok {
		return
	}
	delete(agent.CurrentTasks, string(taskID))
	if len(agent.CurrentTasks) == 0 {
		agent.Status = domain.AgentIdle
	}
}

// IsStale reports whether the agent's heartbeat is older than the
// configured TTL, used by the scheduler's stale-claim sweep.
func (m *Manager) IsStale(agentID ids.AgentID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agent, ok := m.agents[agentID]
	if !ok {
		return true
	}
	return timeNow().Sub(agent.LastHeartbeat) > m.heartbeatTTL
}

// RoleAllows checks a role-flag gate (e.g. CanModifyGoals,
// CanOverridePlugins) before an operation the agent requested.
func (m *Manager) RoleAllows(agentID ids.AgentID, flag func(domain.Role) bool) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agent, ok := m.agents[agentID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	roleDef, ok := m.roles[agent.Role]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrRoleNotFound, agent.Role)
	}
	return flag(roleDef), nil
}

// Recover implements spec.md §4.5's recovery procedure for an agent
// that exceeded quota or missed its heartbeat window: reassign its
// tasks, attempt graceful stop, force if needed, and record the
// failure against its role's rolling history.
func (m *Manager) Recover(agentID ids.AgentID) {
	if m.reassigner != nil {
		m.reassigner.ReassignAgentTasks(agentID)
	}

	m.Terminate(agentID)

	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[agentID]
	if !ok {
		return
	}
	agent.ConsecutiveFails++
	m.roleFailures[agent.Role]++
	if m.roleFailures[agent.Role] >= consecutiveFailureThreshold {
		m.roleDisabled[agent.Role] = true
		slog.Error("role disabled after repeated agent failures", "role", agent.Role, "failures", m.roleFailures[agent.Role])
	}
}

// ResetRoleFailures clears a role's failure streak, e.g. after operator
// intervention re-enables spawning.
func (m *Manager) ResetRoleFailures(role domain.RoleName) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roleFailures[role] = 0
	m.roleDisabled[role] = false
}

// StartQuotaWatch drains the Resource Monitor's event channel and
// triggers Recover for any agent owner that trips a quota violation,
// matching spec.md §4.5's "If an agent exceeds its quota... the manager
// [recovers it]."
func (m *Manager) StartQuotaWatch(ctx context.Context) {
	if m.monitor == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case ev, ok := <-m.monitor.Events():
				if !ok {
					return
				}
				if ev.Owner.Kind != ids.OwnerKindAgent {
					continue
				}
				slog.Warn("agent exceeded quota, recovering", "agent_id", ev.Owner.ID, "axis", ev.Axis, "value", ev.Value, "quota", ev.Quota)
				m.Recover(ids.AgentID(ev.Owner.ID))
			}
		}
	}()
}

// StartHeartbeatWatch periodically scans for stale agents and recovers
// them, grounded on the same ticker-loop shape as pkg/resource.Monitor
// and pkg/scheduler's stale-claim sweep.
func (m *Manager) StartHeartbeatWatch(ctx context.Context, interval time.Duration) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				for _, id := range m.staleAgentIDs() {
					m.Recover(id)
				}
			}
		}
	}()
}

func (m *Manager) staleAgentIDs() []ids.AgentID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stale []ids.AgentID
	for id, agent := range m.agents {
		if agent.Status == domain.AgentTerminated {
			continue
		}
		if timeNow().Sub(agent.LastHeartbeat) > m.heartbeatTTL {
			stale = append(stale, id)
		}
	}
	return stale
}

// Stop halts the background watch loops.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func timeNow() time.Time { return time.Now().UTC() }
