package snapshot

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgerun/forge/pkg/domain"
)

func TestStore_SaveThenLatestRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	state := State{
		Goals: []domain.Goal{{ID: "goal-1", Status: domain.GoalRunning}},
		Tasks: []domain.Task{{ID: "t1", Status: domain.TaskCompleted}, {ID: "t2", Status: domain.TaskRunning}},
	}

	_, err = store.Save(state)
	require.NoError(t, err)

	loaded, err := store.Latest()
	require.NoError(t, err)
	assert.Equal(t, snapshotFormatVersion, loaded.Version)
	require.Len(t, loaded.Tasks, 2)
	assert.Equal(t, domain.TaskRunning, loaded.Tasks[1].Status)
}

func TestStore_LatestFailsWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	_, err = store.Latest()
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStore_RetainsOnlyTwoMostRecentSnapshots(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	base := time.Now()
	for i := 0; i < 4; i++ {
		state := State{TakenAt: base.Add(time.Duration(i) * time.Second)}
		_, err := store.Save(state)
		require.NoError(t, err)
	}

	files, err := store.sortedSnapshots()
	require.NoError(t, err)
	assert.Len(t, files, retainCount)
}

func TestStore_LatestReturnsMostRecentByTimestamp(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	older := time.Now()
	newer := older.Add(time.Hour)

	_, err = store.Save(State{TakenAt: older, Goals: []domain.Goal{{ID: "old"}}})
	require.NoError(t, err)
	_, err = store.Save(State{TakenAt: newer, Goals: []domain.Goal{{ID: "new"}}})
	require.NoError(t, err)

	loaded, err := store.Latest()
	require.NoError(t, err)
	require.Len(t, loaded.Goals, 1)
	assert.Equal(t, "new", loaded.Goals[0].ID)
}

func TestReconcileTasks_RunningAndClaimedBecomePendingWithIncrementedRetry(t *testing.T) {
	tasks := []domain.Task{
		{ID: "t1", Status: domain.TaskCompleted, RetryCount: 0},
		{ID: "t2", Status: domain.TaskRunning, RetryCount: 1, ClaimedBy: "agent-1"},
		{ID: "t3", Status: domain.TaskClaimed, RetryCount: 0, ClaimedBy: "agent-2"},
	}

	reconciled := ReconcileTasks(tasks)

	assert.Equal(t, domain.TaskCompleted, reconciled[0].Status)
	assert.Equal(t, 0, reconciled[0].RetryCount)

	assert.Equal(t, domain.TaskPending, reconciled[1].Status)
	assert.Equal(t, 2, reconciled[1].RetryCount)
	assert.Empty(t, reconciled[1].ClaimedBy)

	assert.Equal(t, domain.TaskPending, reconciled[2].Status)
	assert.Equal(t, 1, reconciled[2].RetryCount)
	assert.Empty(t, reconciled[2].ClaimedBy)
}

type fakeGoalSource struct{ goals []domain.Goal }

func (f fakeGoalSource) Goals() []domain.Goal { return f.goals }

type fakeTaskSource struct{ tasks []domain.Task }

func (f fakeTaskSource) Tasks() []domain.Task { return f.tasks }

type fakePluginSource struct{ plugins []domain.Plugin }

func (f fakePluginSource) Plugins() []domain.Plugin { return f.plugins }

type fakeAgentSource struct{ agents []domain.Agent }

func (f fakeAgentSource) Agents() []domain.Agent { return f.agents }

func TestCapture_AssemblesStateFromSources(t *testing.T) {
	state := Capture(
		fakeGoalSource{goals: []domain.Goal{{ID: "g1"}}},
		fakeTaskSource{tasks: []domain.Task{{ID: "t1"}}},
		fakePluginSource{plugins: []domain.Plugin{{ID: "p1"}}},
		fakeAgentSource{agents: []domain.Agent{{ID: "a1"}}},
	)

	assert.Len(t, state.Goals, 1)
	assert.Len(t, state.Tasks, 1)
	assert.Len(t, state.Plugins, 1)
	assert.Len(t, state.Agents, 1)
	assert.Equal(t, snapshotFormatVersion, state.Version)
}
