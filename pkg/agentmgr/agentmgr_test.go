package agentmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgerun/forge/pkg/domain"
	"github.com/forgerun/forge/pkg/ids"
	"github.com/forgerun/forge/pkg/resource"
)

type fakeSampler struct{}

func (fakeSampler) Sample(ids.OwnerID) (map[resource.Axis]float64, error) { return nil, nil }

type fakeTerminator struct {
	stopErr    error
	stopped    []ids.AgentID
	killed     []ids.AgentID
}

func (f *fakeTerminator) Stop(ctx context.Context, agentID ids.AgentID) error {
	f.stopped = append(f.stopped, agentID)
	return f.stopErr
}
func (f *fakeTerminator) Kill(agentID ids.AgentID) { f.killed = append(f.killed, agentID) }

type fakeReassigner struct{ reassigned []ids.AgentID }

func (f *fakeReassigner) ReassignAgentTasks(agentID ids.AgentID) {
	f.reassigned = append(f.reassigned, agentID)
}

func testerRole() map[domain.RoleName]domain.Role {
	return map[domain.RoleName]domain.Role{
		domain.RoleExecutor: {
			Name:                domain.RoleExecutor,
			RequiredCapabilities: []string{"http.fetch"},
			AllowedPlugins:      []string{"*"},
		},
	}
}

func TestManager_SpawnRejectsMissingCapabilities(t *testing.T) {
	m := New(testerRole(), nil, nil, nil)
	_, err := m.Spawn(domain.RoleExecutor, domain.Quota{}, nil, "goal-1", nil)
	assert.ErrorIs(t, err, ErrMissingCapabilities)
}

func TestManager_SpawnSucceedsAndRegistersQuota(t *testing.T) {
	mon := resource.New(fakeSampler{})
	m := New(testerRole(), mon, nil, nil)

	id, err := m.Spawn(domain.RoleExecutor, domain.Quota{CPUPercent: 10}, []string{"http.fetch"}, "goal-1", nil)
	require.NoError(t, err)

	status, err := m.Status(id)
	require.NoError(t, err)
	assert.Equal(t, domain.AgentIdle, status.Status)
}

func TestManager_SpawnRejectsInsufficientResources(t *testing.T) {
	m := New(testerRole(), nil, nil, nil)
	pool := &domain.ResourcePool{Capacity: 5}
	_, err := m.Spawn(domain.RoleExecutor, domain.Quota{CPUPercent: 10}, []string{"http.fetch"}, "goal-1", pool)
	assert.ErrorIs(t, err, ErrInsufficientResources)
}

func TestManager_RouteTaskAndRelease(t *testing.T) {
	m := New(testerRole(), nil, nil, nil)
	id, err := m.Spawn(domain.RoleExecutor, domain.Quota{}, []string{"http.fetch"}, "goal-1", nil)
	require.NoError(t, err)

	require.NoError(t, m.RouteTask(id, "task-1"))
	status, _ := m.Status(id)
	assert.Equal(t, domain.AgentBusy, status.Status)

	m.ReleaseTask(id, "task-1")
	status, _ = m.Status(id)
	assert.Equal(t, domain.AgentIdle, status.Status)
}

func TestManager_TerminateForcesKillOnGracefulFailure(t *testing.T) {
	term := &fakeTerminator{stopErr: assertError{"still running"}}
	m := New(testerRole(), nil, term, nil, WithGracePeriod(10*time.Millisecond))
	id, _ := m.Spawn(domain.RoleExecutor, domain.Quota{}, []string{"http.fetch"}, "goal-1", nil)

	ok := m.Terminate(id)
	assert.True(t, ok)
	assert.Len(t, term.killed, 1)
}

func TestManager_RecoverDisablesRoleAfterThreeFailures(t *testing.T) {
	reassigner := &fakeReassigner{}
	m := New(testerRole(), nil, nil, reassigner)

	var lastID ids.AgentID
	for i := 0; i < 3; i++ {
		id, err := m.Spawn(domain.RoleExecutor, domain.Quota{}, []string{"http.fetch"}, "goal-1", nil)
		require.NoError(t, err)
		lastID = id
		m.Recover(id)
	}
	assert.Len(t, reassigner.reassigned, 3)

	_, err := m.Spawn(domain.RoleExecutor, domain.Quota{}, []string{"http.fetch"}, "goal-1", nil)
	assert.ErrorIs(t, err, ErrRoleDisabled)
	_ = lastID
}

func TestManager_IsStaleDetectsMissedHeartbeat(t *testing.T) {
	m := New(testerRole(), nil, nil, nil, WithHeartbeatTTL(5*time.Millisecond))
	id, _ := m.Spawn(domain.RoleExecutor, domain.Quota{}, []string{"http.fetch"}, "goal-1", nil)

	assert.False(t, m.IsStale(id))
	time.Sleep(10 * time.Millisecond)
	assert.True(t, m.IsStale(id))

	require.NoError(t, m.Heartbeat(id))
	assert.False(t, m.IsStale(id))
}

func TestManager_FleetReturnsSnapshot(t *testing.T) {
	m := New(testerRole(), nil, nil, nil)
	id, err := m.Spawn(domain.RoleExecutor, domain.Quota{}, []string{"http.fetch"}, "goal-1", nil)
	require.NoError(t, err)

	fleet := m.Fleet()
	require.Len(t, fleet, 1)
	assert.Equal(t, string(id), fleet[0].ID)
	assert.Equal(t, domain.RoleExecutor, fleet[0].Role)

	fleet[0].Status = domain.AgentError
	status, err := m.Status(id)
	require.NoError(t, err)
	assert.Equal(t, domain.AgentIdle, status.Status, "Fleet must return copies, not live agent records")
}

type assertError struct{ msg string }

func (a assertError) Error() string { return a.msg }
