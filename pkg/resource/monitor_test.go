package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgerun/forge/pkg/domain"
	"github.com/forgerun/forge/pkg/ids"
)

type fakeSampler struct{}

func (fakeSampler) Sample(owner ids.OwnerID) (map[Axis]float64, error) {
	return nil, nil
}

func TestMonitor_SampleAndUsage(t *testing.T) {
	m := New(fakeSampler{})
	owner := ids.PluginOwner("p1")

	m.Sample(owner, AxisCPU, 10)
	m.Sample(owner, AxisCPU, 20)
	m.Sample(owner, AxisCPU, 30)

	usage := m.GetUsage(owner)
	assert.Equal(t, 30.0, usage.Current[AxisCPU])
	assert.Equal(t, 30.0, usage.Peak[AxisCPU])
	assert.InDelta(t, 20.0, usage.Average[AxisCPU], 0.001)
}

func TestMonitor_QuotaTripsAfterThreeViolations(t *testing.T) {
	m := New(fakeSampler{})
	owner := ids.AgentOwner("a1")
	m.SetQuota(owner, domain.Quota{CPUPercent: 50})

	m.Sample(owner, AxisCPU, 90)
	m.Sample(owner, AxisCPU, 91)
	select {
	case <-m.Events():
		t.Fatal("quota event fired before threshold reached")
	default:
	}

	m.Sample(owner, AxisCPU, 92)
	select {
	case ev := <-m.Events():
		assert.Equal(t, AxisCPU, ev.Axis)
		assert.Equal(t, owner, ev.Owner)
		assert.Equal(t, 50.0, ev.Quota)
	case <-time.After(time.Second):
		t.Fatal("expected quota exceeded event after 3 violations")
	}
}

func TestMonitor_ViolationCounterResetsOnGoodSample(t *testing.T) {
	m := New(fakeSampler{})
	owner := ids.AgentOwner("a2")
	m.SetQuota(owner, domain.Quota{CPUPercent: 50})

	m.Sample(owner, AxisCPU, 90)
	m.Sample(owner, AxisCPU, 91)
	m.Sample(owner, AxisCPU, 10) // under quota, resets the streak
	m.Sample(owner, AxisCPU, 92)

	select {
	case <-m.Events():
		t.Fatal("quota event should not fire, violation streak was reset")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMonitor_SubscribeReceivesSamples(t *testing.T) {
	m := New(fakeSampler{})
	owner := ids.PluginOwner("p2")
	ch, cancel := m.Subscribe(owner)
	defer cancel()

	m.Sample(owner, AxisMemory, 128)

	select {
	case values := <-ch:
		assert.Equal(t, 128.0, values[AxisMemory])
	case <-time.After(time.Second):
		t.Fatal("expected a sample on the subscription channel")
	}
}

func TestMonitor_SubscribeCancelClosesChannel(t *testing.T) {
	m := New(fakeSampler{})
	owner := ids.PluginOwner("p3")
	ch, cancel := m.Subscribe(owner)
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestMonitor_ClearQuotaStopsEnforcement(t *testing.T) {
	m := New(fakeSampler{})
	owner := ids.AgentOwner("a3")
	m.SetQuota(owner, domain.Quota{CPUPercent: 50})
	m.ClearQuota(owner)

	m.Sample(owner, AxisCPU, 99)
	m.Sample(owner, AxisCPU, 99)
	m.Sample(owner, AxisCPU, 99)

	select {
	case <-m.Events():
		t.Fatal("no quota should be enforced after ClearQuota")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMonitor_StartStopDoesNotPanic(t *testing.T) {
	m := New(fakeSampler{}, WithCadence(5*time.Millisecond))
	require.NotNil(t, m)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	m.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	m.Stop()
}

func TestMonitor_ReportCoversEverySampledOwner(t *testing.T) {
	m := New(fakeSampler{})
	plugin := ids.PluginOwner("p1")
	agent := ids.AgentOwner("a1")

	m.Sample(plugin, AxisCPU, 10)
	m.Sample(agent, AxisMemory, 512)

	report := m.Report()
	require.Len(t, report, 2)
	assert.Equal(t, 10.0, report[plugin].Current[AxisCPU])
	assert.Equal(t, 512.0, report[agent].Current[AxisMemory])
}
