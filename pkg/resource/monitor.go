// Package resource implements the Resource Monitor (C1): it samples
// CPU/memory/disk/thread/file-handle usage per owner (a plugin, an agent,
// or the literal "system"), enforces per-owner quotas, and exposes a
// subscribable stream of samples. It never kills an owner itself — callers
// (the Sandbox Executor for plugins, the Agent Manager for agents) decide
// how to react to a QuotaExceeded event.
//
// Sampling is grounded on github.com/shirou/gopsutil/v4, already part of
// the teacher's module graph and an exact fit for host/process metrics.
package resource

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/forgerun/forge/pkg/domain"
	"github.com/forgerun/forge/pkg/ids"
)

// Axis is one of the resource dimensions the monitor tracks.
type Axis string

const (
	AxisCPU         Axis = "cpu_percent"
	AxisMemory      Axis = "memory_mb"
	AxisDisk        Axis = "disk_mb"
	AxisThreads     Axis = "threads"
	AxisFileHandles Axis = "file_handles"
	AxisConnections Axis = "connections"
)

var allAxes = []Axis{AxisCPU, AxisMemory, AxisDisk, AxisThreads, AxisFileHandles, AxisConnections}

// Sampler abstracts the source of point-in-time measurements for an owner,
// so tests can inject a fake without touching the real OS. The production
// implementation (ProcessSampler) reads from gopsutil.
type Sampler interface {
	Sample(owner ids.OwnerID) (map[Axis]float64, error)
}

// QuotaExceeded is raised after three violations (default) within a window
// of N samples (default 3) on the same axis, per spec.md §4.1. The monitor
// only records and reports it; it never acts on it.
type QuotaExceeded struct {
	Owner ids.OwnerID
	Axis  Axis
	Value float64
	Quota float64
}

// Monitor maintains (owner, resource) -> RollingWindow, enforces quotas,
// and fans samples out to subscribers.
type Monitor struct {
	mu          sync.RWMutex
	windows     map[ids.OwnerID]map[Axis]*rollingWindow
	quotas      map[ids.OwnerID]domain.Quota
	violations  map[ids.OwnerID]map[Axis]int
	subscribers map[ids.OwnerID][]chan map[Axis]float64

	sampler           Sampler
	cadence           time.Duration
	violationsToTrip  int
	violationWindow   int
	events            chan QuotaExceeded

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Monitor at construction time.
type Option func(*Monitor)

// WithCadence overrides the default 1s sampling cadence.
func WithCadence(d time.Duration) Option {
	return func(m *Monitor) { m.cadence = d }
}

// WithViolationThreshold overrides the default "3 violations trip an
// event" policy.
func WithViolationThreshold(n int) Option {
	return func(m *Monitor) { m.violationsToTrip = n }
}

// New creates a Monitor backed by the given Sampler.
func New(sampler Sampler, opts ...Option) *Monitor {
	m := &Monitor{
		windows:          make(map[ids.OwnerID]map[Axis]*rollingWindow),
		quotas:           make(map[ids.OwnerID]domain.Quota),
		violations:       make(map[ids.OwnerID]map[Axis]int),
		subscribers:      make(map[ids.OwnerID][]chan map[Axis]float64),
		sampler:          sampler,
		cadence:          time.Second,
		violationsToTrip: 3,
		violationWindow:  3,
		events:           make(chan QuotaExceeded, 64),
		stopCh:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Events returns the channel of QuotaExceeded notifications. Consumers
// (Sandbox Executor, Agent Manager) drain it to decide how to respond.
func (m *Monitor) Events() <-chan QuotaExceeded { return m.events }

// Start runs the sampling loop until the context is cancelled or Stop is
// called. Sampling is single-threaded from the monitor's perspective;
// owners being sampled are never blocked.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cadence)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.sampleAll()
			}
		}
	}()
}

// Stop halts the sampling loop.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Monitor) owners() []ids.OwnerID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ids.OwnerID, 0, len(m.windows))
	for o := range m.windows {
		out = append(out, o)
	}
	return out
}

func (m *Monitor) sampleAll() {
	for _, owner := range m.owners() {
		if err := m.sampleOne(owner); err != nil {
			// A dropped sample is tolerated; the monitor never fails the
			// whole process (spec.md §4.1).
			slog.Warn("resource sample dropped", "owner", owner.String(), "error", err)
		}
	}
}

func (m *Monitor) sampleOne(owner ids.OwnerID) error {
	values, err := m.sampler.Sample(owner)
	if err != nil {
		return err
	}
	m.record(owner, values)
	return nil
}

// record stores one point per axis, checks quota, and fans the sample out
// to subscribers. Exported indirectly via Sample() for synthetic/test use.
func (m *Monitor) record(owner ids.OwnerID, values map[Axis]float64) {
	m.mu.Lock()
	windows, ok := m.windows[owner]
	if !ok {
		windows = make(map[Axis]*rollingWindow)
		m.windows[owner] = windows
	}
	quota, hasQuota := m.quotas[owner]
	subs := append([]chan map[Axis]float64(nil), m.subscribers[owner]...)
	m.mu.Unlock()

	for _, axis := range allAxes {
		v, present := values[axis]
		if !present {
			continue
		}
		m.mu.Lock()
		w, ok := windows[axis]
		if !ok {
			w = newRollingWindow()
			windows[axis] = w
		}
		m.mu.Unlock()
		w.add(v)

		if hasQuota {
			if exceeded, limit := axisExceeds(axis, v, quota); exceeded {
				m.recordViolation(owner, axis, v, limit)
			} else {
				m.resetViolation(owner, axis)
			}
		}
	}

	for _, sub := range subs {
		select {
		case sub <- values:
		default:
			// Backpressure: the monitor drops older unread samples on
			// overflow rather than blocking sampling (spec.md §5).
			select {
			case <-sub:
			default:
			}
			select {
			case sub <- values:
			default:
			}
		}
	}
}

// Sample injects a synthetic measurement for an owner and axis. Production
// callers rely on the sampling loop; this is also how the Sandbox Executor
// attributes a plugin call's peaks to the monitor in-band.
func (m *Monitor) Sample(owner ids.OwnerID, axis Axis, value float64) {
	m.record(owner, map[Axis]float64{axis: value})
}

func axisExceeds(axis Axis, value float64, quota domain.Quota) (bool, float64) {
	switch axis {
	case AxisCPU:
		return quota.CPUPercent > 0 && value > quota.CPUPercent, quota.CPUPercent
	case AxisMemory:
		return quota.MemoryMB > 0 && value > quota.MemoryMB, quota.MemoryMB
	case AxisThreads:
		return quota.Threads > 0 && value > float64(quota.Threads), float64(quota.Threads)
	case AxisFileHandles:
		return quota.FileHandles > 0 && value > float64(quota.FileHandles), float64(quota.FileHandles)
	case AxisConnections:
		return quota.Connections > 0 && value > float64(quota.Connections), float64(quota.Connections)
	default:
		return false, 0
	}
}

func (m *Monitor) recordViolation(owner ids.OwnerID, axis Axis, value, limit float64) {
	m.mu.Lock()
	if m.violations[owner] == nil {
		m.violations[owner] = make(map[Axis]int)
	}
	m.violations[owner][axis]++
	count := m.violations[owner][axis]
	trip := count >= m.violationsToTrip
	if trip {
		m.violations[owner][axis] = 0
	}
	m.mu.Unlock()

	if trip {
		select {
		case m.events <- QuotaExceeded{Owner: owner, Axis: axis, Value: value, Quota: limit}:
		default:
			slog.Warn("quota event dropped, subscriber too slow", "owner", owner.String(), "axis", axis)
		}
	}
}

func (m *Monitor) resetViolation(owner ids.OwnerID, axis Axis) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.violations[owner] != nil {
		m.violations[owner][axis] = 0
	}
}

// SetQuota registers (or replaces) the quota for an owner and ensures its
// windows exist so Usage/Subscribe work immediately.
func (m *Monitor) SetQuota(owner ids.OwnerID, quota domain.Quota) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotas[owner] = quota
	if _, ok := m.windows[owner]; !ok {
		m.windows[owner] = make(map[Axis]*rollingWindow)
	}
}

// ClearQuota removes a quota registration, e.g. on agent terminate/plugin
// unload.
func (m *Monitor) ClearQuota(owner ids.OwnerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.quotas, owner)
	delete(m.violations, owner)
}

// Usage is the derived view returned by get_usage(owner): current reading,
// peak, and average per axis.
type Usage struct {
	Current map[Axis]float64
	Peak    map[Axis]float64
	Average map[Axis]float64
}

// GetUsage implements get_usage(owner).
func (m *Monitor) GetUsage(owner ids.OwnerID) Usage {
	m.mu.RLock()
	windows := m.windows[owner]
	snapshot := make(map[Axis]*rollingWindow, len(windows))
	for k, v := range windows {
		snapshot[k] = v
	}
	m.mu.RUnlock()

	usage := Usage{
		Current: make(map[Axis]float64, len(snapshot)),
		Peak:    make(map[Axis]float64, len(snapshot)),
		Average: make(map[Axis]float64, len(snapshot)),
	}
	for axis, w := range snapshot {
		usage.Current[axis] = w.last()
		usage.Peak[axis] = w.peak()
		usage.Average[axis] = w.average()
	}
	return usage
}

// Report returns the current Usage for every owner the monitor has ever
// sampled, for the API facade's GET /system/stats endpoint.
func (m *Monitor) Report() map[ids.OwnerID]Usage {
	out := make(map[ids.OwnerID]Usage)
	for _, owner := range m.owners() {
		out[owner] = m.GetUsage(owner)
	}
	return out
}

// Subscribe implements subscribe(owner) -> stream of samples. The returned
// channel is closed by calling the returned cancel function.
func (m *Monitor) Subscribe(owner ids.OwnerID) (<-chan map[Axis]float64, func()) {
	ch := make(chan map[Axis]float64, 32)
	m.mu.Lock()
	m.subscribers[owner] = append(m.subscribers[owner], ch)
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subscribers[owner]
		for i, s := range subs {
			if s == ch {
				m.subscribers[owner] = append(subs[:i], subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}
