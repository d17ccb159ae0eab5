// Package scheduler implements the Task Scheduler (C4): the dependency-
// ordered claim/release state machine for tasks within a goal, retry
// with exponential backoff, and stale-claim reassignment.
//
// State handling and the background stale-claim sweep are grounded on
// the teacher's pkg/queue.WorkerPool / orphan.go: a ticker-driven
// background goroutine, a mutex-guarded in-memory index instead of
// ent/Postgres queries, idempotent periodic recovery.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/forgerun/forge/pkg/domain"
	"github.com/forgerun/forge/pkg/ids"
)

// Backoff policy constants (spec.md §4.4).
const (
	backoffBase   = time.Second
	backoffFactor = 2
	backoffCap    = 60 * time.Second
)

// ErrTaskNotFound, ErrAlreadyClaimed, ErrInvalidTransition are the
// scheduler's sentinel errors.
var (
	ErrTaskNotFound      = fmt.Errorf("scheduler: task not found")
	ErrGoalNotFound      = fmt.Errorf("scheduler: goal not found")
	ErrAlreadyClaimed    = fmt.Errorf("scheduler: task already claimed")
	ErrInvalidTransition = fmt.Errorf("scheduler: invalid task transition")
	ErrCyclicDependency  = fmt.Errorf("scheduler: dependency graph has a cycle")
)

type goalState struct {
	id       ids.GoalID
	taskIDs  []ids.TaskID
	critical map[ids.TaskID]bool
}

// Scheduler holds the in-memory task graph. All mutation is linearized
// through the Scheduler's own mutex; contention is low
// enough (task counts are bounded by goal decomposition, not request
// volume) that a single RWMutex is the right tool, matching the
// teacher's preference for straightforward locking over sharding.
type Scheduler struct {
	mu    sync.RWMutex
	tasks map[ids.TaskID]*domain.Task
	goals map[ids.GoalID]*goalState

	monitorInterval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates an empty Scheduler. monitorInterval is the Agent
// Manager's heartbeat cadence; reassignment triggers at 2x it
// (spec.md §4.4).
func New(monitorInterval time.Duration) *Scheduler {
	if monitorInterval <= 0 {
		monitorInterval = 30 * time.Second
	}
	return &Scheduler{
		tasks:           make(map[ids.TaskID]*domain.Task),
		goals:           make(map[ids.GoalID]*goalState),
		monitorInterval: monitorInterval,
		stopCh:          make(chan struct{}),
	}
}

// RegisterGoal installs a goal's task descriptors and dependency edges.
// Rejects cyclic dependency graphs.
func (s *Scheduler) RegisterGoal(goalID ids.GoalID, descriptors []domain.TaskDescriptor) error {
	if err := checkAcyclic(descriptors); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	gs := &goalState{id: goalID, critical: make(map[ids.TaskID]bool)}
	for _, d := range descriptors {
		taskID := ids.TaskID(d.ID)
		if taskID == "" {
			taskID = ids.NewTaskID()
		}
		task := &domain.Task{
			ID:           string(taskID),
			GoalID:       string(goalID),
			Type:         d.Type,
			Config:       d.Config,
			DependsOn:    d.DependsOn,
			Priority:     d.Priority,
			Status:       domain.TaskPending,
			CreatedAt:    timeNow(),
			MaxRetries:   d.MaxRetries,
			Timeout:      d.Timeout,
			Critical:     d.Critical,
			Capabilities: d.Capabilities,
		}
		if task.MaxRetries == 0 {
			task.MaxRetries = domain.DefaultMaxRetries
		}
		if task.Timeout == 0 {
			task.Timeout = domain.DefaultTimeout
		}
		s.tasks[taskID] = task
		gs.taskIDs = append(gs.taskIDs, taskID)
		gs.critical[taskID] = d.Critical
	}
	s.recomputeBlocked(gs)
	s.goals[goalID] = gs
	return nil
}

// AddDependency adds an edge after registration (e.g. a decomposition
// revision). Recomputes the blocked status of the dependent task.
func (s *Scheduler) AddDependency(taskID, dependsOn ids.TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	task.DependsOn = append(task.DependsOn, string(dependsOn))
	s.applyBlockedPolicy(task)
	return nil
}

// ClaimableTasks returns pending, unblocked tasks for a goal at or above
// priority_floor, ordered by priority then creation time then task id
// (spec.md §4.4 tie-breaking).
func (s *Scheduler) ClaimableTasks(goalID ids.GoalID, priorityFloor int) ([]ids.TaskID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gs, ok := s.goals[goalID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGoalNotFound, goalID)
	}

	now := timeNow()
	var claimable []*domain.Task
	for _, taskID := range gs.taskIDs {
		task := s.tasks[taskID]
		if task.Status != domain.TaskPending {
			continue
		}
		if task.Priority < priorityFloor {
			continue
		}
		if s.isBlocked(task) {
			continue
		}
		if !task.NotBefore.IsZero() && now.Before(task.NotBefore) {
			continue
		}
		claimable = append(claimable, task)
	}

	sort.Slice(claimable, func(i, j int) bool {
		a, b := claimable[i], claimable[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	out := make([]ids.TaskID, len(claimable))
	for i, t := range claimable {
		out[i] = ids.TaskID(t.ID)
	}
	return out, nil
}

// Claim atomically transitions a task pending -> claimed for exactly
// one agent; losers observe ErrAlreadyClaimed.
func (s *Scheduler) Claim(taskID ids.TaskID, agentID ids.AgentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status != domain.TaskPending {
		return fmt.Errorf("%w: %s", ErrAlreadyClaimed, taskID)
	}
	now := timeNow()
	task.Status = domain.TaskClaimed
	task.ClaimedBy = string(agentID)
	task.ClaimedAt = &now
	return nil
}

// Start transitions claimed -> running.
func (s *Scheduler) Start(taskID ids.TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status != domain.TaskClaimed {
		return fmt.Errorf("%w: start requires claimed, got %s", ErrInvalidTransition, task.Status)
	}
	now := timeNow()
	task.Status = domain.TaskRunning
	task.StartedAt = &now
	return nil
}

// Complete records a successful terminal attempt.
func (s *Scheduler) Complete(taskID ids.TaskID, attempt domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	now := timeNow()
	attempt.Status = domain.AttemptCompleted
	task.Status = domain.TaskCompleted
	task.CompletedAt = &now
	task.Attempts = append(task.Attempts, attempt)
	s.unblockDependents(task)
	return nil
}

// Fail applies the retry policy: retryable errors under max_retries move
// the task back to pending with exponential backoff; otherwise the task
// stays failed and its dependents move to blocked (spec.md §4.4).
func (s *Scheduler) Fail(taskID ids.TaskID, runtimeErr *domain.RuntimeError, attempt domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	attempt.Status = domain.AttemptFailed
	attempt.Error = runtimeErr.Error()
	task.Attempts = append(task.Attempts, attempt)
	task.Error = runtimeErr.Error()

	if runtimeErr.Retryable() && task.RetryCount < task.MaxRetries {
		task.RetryCount++
		task.Status = domain.TaskPending
		task.ClaimedBy = ""
		task.ClaimedAt = nil
		task.StartedAt = nil
		backoff := computeBackoff(task.RetryCount)
		task.NotBefore = timeNow().Add(backoff)
		slog.Info("task retry scheduled", "task_id", taskID, "retry_count", task.RetryCount, "backoff", backoff)
		return nil
	}

	task.Status = domain.TaskFailed
	s.blockDependents(task)
	return nil
}

// Reassign is permitted only from claimed or running; it resets the
// claim and increments the attempt counter, keeping attempt history.
func (s *Scheduler) Reassign(taskID ids.TaskID, newAgentID ids.AgentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status != domain.TaskClaimed && task.Status != domain.TaskRunning {
		return fmt.Errorf("%w: reassign requires claimed or running, got %s", ErrInvalidTransition, task.Status)
	}
	task.RetryCount++
	task.ClaimedBy = string(newAgentID)
	now := timeNow()
	task.ClaimedAt = &now
	task.StartedAt = nil
	task.Status = domain.TaskClaimed
	return nil
}

// CancelGoal moves every non-terminal task of a goal to cancelled and
// returns the set of agents that were claiming them, so the caller
// (the orchestrator) can instruct the Agent Manager to terminate those
// agents — the cancellation cascade of spec.md §5.
func (s *Scheduler) CancelGoal(goalID ids.GoalID) ([]ids.AgentID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gs, ok := s.goals[goalID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGoalNotFound, goalID)
	}

	seen := make(map[ids.AgentID]bool)
	var agents []ids.AgentID
	for _, taskID := range gs.taskIDs {
		task := s.tasks[taskID]
		if task.Status.IsTerminal() {
			continue
		}
		if task.ClaimedBy != "" && !seen[ids.AgentID(task.ClaimedBy)] {
			seen[ids.AgentID(task.ClaimedBy)] = true
			agents = append(agents, ids.AgentID(task.ClaimedBy))
		}
		task.Status = domain.TaskCancelled
	}
	return agents, nil
}

// Tasks returns a snapshot of every task registered under goalID, for
// status reporting (e.g. the API facade's per-task goal summary).
func (s *Scheduler) Tasks(goalID ids.GoalID) ([]domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gs, ok := s.goals[goalID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGoalNotFound, goalID)
	}

	out := make([]domain.Task, 0, len(gs.taskIDs))
	for _, taskID := range gs.taskIDs {
		out = append(out, *s.tasks[taskID])
	}
	return out, nil
}

// CheckTimeouts returns (goal_id, task_id) pairs for running tasks whose
// elapsed time exceeds their declared timeout.
func (s *Scheduler) CheckTimeouts() []TimedOutTask {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := timeNow()
	var out []TimedOutTask
	for _, task := range s.tasks {
		if task.Status != domain.TaskRunning || task.StartedAt == nil {
			continue
		}
		if now.Sub(*task.StartedAt) > task.Timeout {
			out = append(out, TimedOutTask{GoalID: ids.GoalID(task.GoalID), TaskID: ids.TaskID(task.ID)})
		}
	}
	return out
}

// TimedOutTask is one entry returned by CheckTimeouts.
type TimedOutTask struct {
	GoalID ids.GoalID
	TaskID ids.TaskID
}

// PluginReferenced implements registry.ReferenceChecker: true if any
// task's attempt history references the plugin and the task is not yet
// terminal, i.e. it may still retry against that plugin.
func (s *Scheduler) PluginReferenced(pluginID ids.PluginID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, task := range s.tasks {
		if task.Status.IsTerminal() {
			continue
		}
		for _, a := range task.Attempts {
			if a.PluginID == string(pluginID) {
				return true
			}
		}
	}
	return false
}

// ReassignAgentTasks implements agentmgr.TaskReassigner: every task
// currently claimed or running under agentID returns to pending with
// its retry count bumped and its claim cleared, the same release the
// stale-claim sweep performs but triggered immediately by the Agent
// Manager's recovery path instead of waiting for the next sweep tick.
func (s *Scheduler) ReassignAgentTasks(agentID ids.AgentID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range s.tasks {
		if (task.Status != domain.TaskClaimed && task.Status != domain.TaskRunning) || task.ClaimedBy != string(agentID) {
			continue
		}
		slog.Warn("reassigning task off recovering agent", "task_id", task.ID, "agent_id", agentID)
		task.Status = domain.TaskPending
		task.RetryCount++
		task.ClaimedBy = ""
		task.ClaimedAt = nil
		task.StartedAt = nil
	}
}

// GoalComplete reports whether a goal has reached terminal state: every
// task terminal and at least one terminal attempt per task satisfying
// its success criteria (spec.md §4.4). The success-criteria check
// itself is the orchestrator's concern (it owns SuccessPredicate
// evaluation); here we only gate on task status plus the supplied
// predicate function.
func (s *Scheduler) GoalComplete(goalID ids.GoalID, satisfiesCriteria func(domain.Task) bool) (completed, failed bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gs, ok := s.goals[goalID]
	if !ok {
		return false, false, fmt.Errorf("%w: %s", ErrGoalNotFound, goalID)
	}

	allTerminal := true
	for _, taskID := range gs.taskIDs {
		task := s.tasks[taskID]
		if !task.Status.IsTerminal() {
			allTerminal = false
			continue
		}
		if task.Status == domain.TaskFailed && gs.critical[taskID] {
			failed = true
		}
		if task.Status == domain.TaskCompleted && satisfiesCriteria != nil && !satisfiesCriteria(*task) {
			failed = failed || gs.critical[taskID]
		}
	}
	if failed {
		return false, true, nil
	}
	return allTerminal, false, nil
}

func (s *Scheduler) isBlocked(task *domain.Task) bool {
	if task.Status != domain.TaskPending && task.Status != domain.TaskBlocked {
		return false
	}
	for _, depID := range task.DependsOn {
		dep, ok := s.tasks[ids.TaskID(depID)]
		if !ok || dep.Status != domain.TaskCompleted {
			return true
		}
	}
	return false
}

func (s *Scheduler) applyBlockedPolicy(task *domain.Task) {
	if task.Status != domain.TaskPending && task.Status != domain.TaskBlocked {
		return
	}
	if s.isBlocked(task) {
		task.Status = domain.TaskBlocked
	} else if task.Status == domain.TaskBlocked {
		task.Status = domain.TaskPending
	}
}

func (s *Scheduler) recomputeBlocked(gs *goalState) {
	for _, taskID := range gs.taskIDs {
		s.applyBlockedPolicy(s.tasks[taskID])
	}
}

// blockDependents moves direct dependents of a failed task to blocked
// with an explanatory error, per spec.md §4.4: "they do not
// automatically fail."
func (s *Scheduler) blockDependents(failedTask *domain.Task) {
	for _, t := range s.tasks {
		if t.GoalID != failedTask.GoalID {
			continue
		}
		for _, dep := range t.DependsOn {
			if dep == failedTask.ID && (t.Status == domain.TaskPending || t.Status == domain.TaskBlocked) {
				t.Status = domain.TaskBlocked
				t.Error = fmt.Sprintf("blocked: dependency %s failed", failedTask.ID)
			}
		}
	}
}

// unblockDependents re-evaluates dependents of a newly completed task.
func (s *Scheduler) unblockDependents(completedTask *domain.Task) {
	for _, t := range s.tasks {
		if t.GoalID != completedTask.GoalID {
			continue
		}
		for _, dep := range t.DependsOn {
			if dep == completedTask.ID {
				s.applyBlockedPolicy(t)
			}
		}
	}
}

func computeBackoff(retryCount int) time.Duration {
	d := backoffBase
	for i := 1; i < retryCount; i++ {
		d *= backoffFactor
		if d > backoffCap {
			return backoffCap
		}
	}
	return d
}

func checkAcyclic(descriptors []domain.TaskDescriptor) error {
	adjacency := make(map[string][]string, len(descriptors))
	for _, d := range descriptors {
		adjacency[d.ID] = d.DependsOn
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(descriptors))

	var visit func(string) error
	visit = func(id string) error {
		switch color[id] {
		case gray:
			return fmt.Errorf("%w: at %s", ErrCyclicDependency, id)
		case black:
			return nil
		}
		color[id] = gray
		for _, dep := range adjacency[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}

	for _, d := range descriptors {
		if err := visit(d.ID); err != nil {
			return err
		}
	}
	return nil
}

func timeNow() time.Time { return time.Now().UTC() }

// StartStaleClaimSweep runs a background loop that reassigns tasks
// whose claiming agent's heartbeat is stale beyond 2x monitorInterval,
// grounded on the teacher's queue.WorkerPool.runOrphanDetection ticker
// loop. isStale is supplied by the Agent Manager, which owns heartbeat
// bookkeeping.
func (s *Scheduler) StartStaleClaimSweep(ctx context.Context, isStale func(agentID ids.AgentID) bool) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(2 * s.monitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.sweepStaleClaims(isStale)
			}
		}
	}()
}

func (s *Scheduler) sweepStaleClaims(isStale func(agentID ids.AgentID) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range s.tasks {
		if (task.Status != domain.TaskClaimed && task.Status != domain.TaskRunning) || task.ClaimedBy == "" {
			continue
		}
		if isStale(ids.AgentID(task.ClaimedBy)) {
			slog.Warn("reassigning task off stale agent", "task_id", task.ID, "agent_id", task.ClaimedBy)
			task.Status = domain.TaskPending
			task.RetryCount++
			task.ClaimedBy = ""
			task.ClaimedAt = nil
			task.StartedAt = nil
		}
	}
}

// StopSweep halts the stale-claim sweep.
func (s *Scheduler) StopSweep() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}
