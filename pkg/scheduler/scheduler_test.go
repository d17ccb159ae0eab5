package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgerun/forge/pkg/domain"
	"github.com/forgerun/forge/pkg/ids"
)

func twoTaskLinearGoal() (ids.GoalID, []domain.TaskDescriptor) {
	goalID := ids.NewGoalID()
	descs := []domain.TaskDescriptor{
		{ID: "t1", Type: "fetch", Critical: true},
		{ID: "t2", Type: "summarize", DependsOn: []string{"t1"}, Critical: true},
	}
	return goalID, descs
}

func TestScheduler_ClaimableTasksRespectsDependencies(t *testing.T) {
	s := New(time.Second)
	goalID, descs := twoTaskLinearGoal()
	require.NoError(t, s.RegisterGoal(goalID, descs))

	claimable, err := s.ClaimableTasks(goalID, 0)
	require.NoError(t, err)
	require.Len(t, claimable, 1)
	assert.Equal(t, ids.TaskID("t1"), claimable[0])
}

func TestScheduler_CompleteUnblocksDependent(t *testing.T) {
	s := New(time.Second)
	goalID, descs := twoTaskLinearGoal()
	require.NoError(t, s.RegisterGoal(goalID, descs))

	require.NoError(t, s.Claim("t1", "agent-1"))
	require.NoError(t, s.Start("t1"))
	require.NoError(t, s.Complete("t1", domain.Attempt{AgentID: "agent-1"}))

	claimable, err := s.ClaimableTasks(goalID, 0)
	require.NoError(t, err)
	require.Len(t, claimable, 1)
	assert.Equal(t, ids.TaskID("t2"), claimable[0])
}

func TestScheduler_ClaimSecondCallFails(t *testing.T) {
	s := New(time.Second)
	goalID, descs := twoTaskLinearGoal()
	require.NoError(t, s.RegisterGoal(goalID, descs))

	require.NoError(t, s.Claim("t1", "agent-1"))
	err := s.Claim("t1", "agent-2")
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestScheduler_FailRetriesRetryableError(t *testing.T) {
	s := New(time.Second)
	goalID, descs := twoTaskLinearGoal()
	require.NoError(t, s.RegisterGoal(goalID, descs))
	require.NoError(t, s.Claim("t1", "agent-1"))
	require.NoError(t, s.Start("t1"))

	transientErr := domain.NewError(domain.ErrKindTransient, "timed out", nil)
	require.NoError(t, s.Fail("t1", transientErr, domain.Attempt{AgentID: "agent-1"}))

	task := s.tasks[ids.TaskID("t1")]
	assert.Equal(t, domain.TaskPending, task.Status)
	assert.False(t, task.NotBefore.IsZero())
}

func TestScheduler_FailAppliesExponentialBackoffBeforeReclaim(t *testing.T) {
	s := New(time.Second)
	goalID, descs := twoTaskLinearGoal()
	require.NoError(t, s.RegisterGoal(goalID, descs))
	require.NoError(t, s.Claim("t1", "agent-1"))
	require.NoError(t, s.Start("t1"))

	transientErr := domain.NewError(domain.ErrKindTransient, "timed out", nil)
	require.NoError(t, s.Fail("t1", transientErr, domain.Attempt{AgentID: "agent-1"}))

	claimable, err := s.ClaimableTasks(goalID, 0)
	require.NoError(t, err)
	assert.Empty(t, claimable, "task must not be reclaimable before its backoff elapses")

	s.tasks[ids.TaskID("t1")].NotBefore = time.Now().UTC().Add(-time.Millisecond)

	claimable, err = s.ClaimableTasks(goalID, 0)
	require.NoError(t, err)
	require.Len(t, claimable, 1)
	assert.Equal(t, ids.TaskID("t1"), claimable[0])
}

func TestComputeBackoff_DoublesUpToCap(t *testing.T) {
	assert.Equal(t, backoffBase, computeBackoff(1))
	assert.Equal(t, 2*backoffBase, computeBackoff(2))
	assert.Equal(t, 4*backoffBase, computeBackoff(3))
	assert.Equal(t, backoffCap, computeBackoff(10))
}

func TestScheduler_FailExhaustsRetriesAndBlocksDependents(t *testing.T) {
	s := New(time.Second)
	goalID, descs := twoTaskLinearGoal()
	descs[0].MaxRetries = 0
	require.NoError(t, s.RegisterGoal(goalID, descs))
	require.NoError(t, s.Claim("t1", "agent-1"))
	require.NoError(t, s.Start("t1"))

	fatalErr := domain.NewError(domain.ErrKindFatal, "unrecoverable", nil)
	require.NoError(t, s.Fail("t1", fatalErr, domain.Attempt{AgentID: "agent-1"}))

	completed, failed, err := s.GoalComplete(goalID, nil)
	require.NoError(t, err)
	assert.True(t, failed)
	assert.False(t, completed)
	assert.Equal(t, domain.TaskBlocked, s.tasks["t2"].Status)
}

func TestScheduler_ReassignRequiresClaimedOrRunning(t *testing.T) {
	s := New(time.Second)
	goalID, descs := twoTaskLinearGoal()
	require.NoError(t, s.RegisterGoal(goalID, descs))

	err := s.Reassign("t1", "agent-2")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, s.Claim("t1", "agent-1"))
	require.NoError(t, s.Reassign("t1", "agent-2"))
}

func TestScheduler_GoalCompleteRequiresAllTerminal(t *testing.T) {
	s := New(time.Second)
	goalID, descs := twoTaskLinearGoal()
	require.NoError(t, s.RegisterGoal(goalID, descs))

	completed, failed, err := s.GoalComplete(goalID, nil)
	require.NoError(t, err)
	assert.False(t, completed)
	assert.False(t, failed)
}

func TestScheduler_CheckTimeoutsDetectsOverdueTask(t *testing.T) {
	s := New(time.Second)
	goalID := ids.NewGoalID()
	descs := []domain.TaskDescriptor{{ID: "t1", Type: "slow", Timeout: 10 * time.Millisecond}}
	require.NoError(t, s.RegisterGoal(goalID, descs))
	require.NoError(t, s.Claim("t1", "agent-1"))
	require.NoError(t, s.Start("t1"))

	time.Sleep(20 * time.Millisecond)
	timedOut := s.CheckTimeouts()
	require.Len(t, timedOut, 1)
	assert.Equal(t, ids.TaskID("t1"), timedOut[0].TaskID)
}

func TestScheduler_RegisterGoalRejectsCycles(t *testing.T) {
	s := New(time.Second)
	descs := []domain.TaskDescriptor{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	}
	err := s.RegisterGoal(ids.NewGoalID(), descs)
	assert.ErrorIs(t, err, ErrCyclicDependency)
}

func TestScheduler_StaleClaimSweepReassignsTask(t *testing.T) {
	s := New(5 * time.Millisecond)
	goalID, descs := twoTaskLinearGoal()
	require.NoError(t, s.RegisterGoal(goalID, descs))
	require.NoError(t, s.Claim("t1", "agent-1"))

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for i := 0; i < 50; i++ {
			<-ticker.C
			s.sweepStaleClaims(func(ids.AgentID) bool { return true })
		}
		close(done)
	}()
	<-done

	claimable, err := s.ClaimableTasks(goalID, 0)
	require.NoError(t, err)
	assert.Contains(t, claimable, ids.TaskID("t1"))
}

func TestScheduler_TasksReturnsGoalSnapshot(t *testing.T) {
	s := New(time.Second)
	goalID, descs := twoTaskLinearGoal()
	require.NoError(t, s.RegisterGoal(goalID, descs))

	tasks, err := s.Tasks(goalID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	seen := map[string]bool{}
	for _, task := range tasks {
		seen[task.ID] = true
		assert.Equal(t, string(goalID), task.GoalID)
	}
	assert.True(t, seen["t1"])
	assert.True(t, seen["t2"])
}

func TestScheduler_TasksUnknownGoal(t *testing.T) {
	s := New(time.Second)
	_, err := s.Tasks(ids.NewGoalID())
	assert.ErrorIs(t, err, ErrGoalNotFound)
}

func TestScheduler_ReassignAgentTasksReleasesOnlyThatAgent(t *testing.T) {
	s := New(time.Second)
	goalID, descs := twoTaskLinearGoal()
	require.NoError(t, s.RegisterGoal(goalID, descs))
	require.NoError(t, s.Claim("t1", "agent-1"))

	other := ids.GoalID("goal-other")
	require.NoError(t, s.RegisterGoal(other, []domain.TaskDescriptor{{ID: "t3", Type: "fetch"}}))
	require.NoError(t, s.Claim("t3", "agent-2"))

	s.ReassignAgentTasks("agent-1")

	claimable, err := s.ClaimableTasks(goalID, 0)
	require.NoError(t, err)
	assert.Contains(t, claimable, ids.TaskID("t1"))

	tasks, err := s.Tasks(other)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "agent-2", tasks[0].ClaimedBy, "reassigning agent-1 must not touch agent-2's claim")
}
