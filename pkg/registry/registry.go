// Package registry implements the Plugin Registry (C2): a versioned
// catalog of plugins, their capabilities, dependencies, and lifecycle
// state. It never executes a plugin itself — that is the Sandbox
// Executor's job (pkg/sandbox) — it only resolves capability ->
// candidate plugin and tracks scores.
//
// Thread-safety and map-copy-on-read follow the teacher's
// pkg/config.MCPServerRegistry: a single RWMutex guarding a map, Get/Has
// style accessors, defensive copies on read.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/forgerun/forge/pkg/domain"
	"github.com/forgerun/forge/pkg/ids"
)

// ErrPluginNotFound is returned by operations referencing an unknown
// plugin id.
var ErrPluginNotFound = fmt.Errorf("registry: plugin not found")

// ErrDuplicateNameVersion is returned by Register when (name, version)
// already exists, per spec.md §4.2's invariant.
var ErrDuplicateNameVersion = fmt.Errorf("registry: duplicate (name, version)")

// ErrPluginReferenced is returned by Unregister when a task still
// references the plugin.
var ErrPluginReferenced = fmt.Errorf("registry: plugin still referenced")

// ErrInvalidTransition is returned when a lifecycle transition is not
// permitted from the plugin's current status.
var ErrInvalidTransition = fmt.Errorf("registry: invalid lifecycle transition")

// minHealthScore is the default rolling success-rate threshold a plugin
// must clear to be returned by Resolve (spec.md §4.2).
const minHealthScore = 0.7

// scoreAlpha is the EMA smoothing factor for UpdateScore. Resolved Open
// Question: spec.md leaves the update formula unspecified; grounded on
// the teacher's pkg/agent/controller EMA-based confidence scoring.
const scoreAlpha = 0.3

// ReferenceChecker is asked, at Unregister time, whether any task still
// references the plugin. Implemented by pkg/scheduler; injected here so
// the registry never imports the scheduler package directly.
type ReferenceChecker interface {
	PluginReferenced(pluginID ids.PluginID) bool
}

// Registry is the in-memory plugin catalog.
type Registry struct {
	mu      sync.RWMutex
	plugins map[ids.PluginID]*domain.Plugin
	byName  map[string][]ids.PluginID // name -> all versions, for lookup

	refChecker ReferenceChecker
}

// New creates an empty Registry. refChecker may be nil until the
// scheduler is wired in; Unregister then skips the reference check.
func New(refChecker ReferenceChecker) *Registry {
	return &Registry{
		plugins:    make(map[ids.PluginID]*domain.Plugin),
		byName:     make(map[string][]ids.PluginID),
		refChecker: refChecker,
	}
}

// Register validates uniqueness of (name, version), computes a content
// hash if not already set, and records the plugin as "loaded".
func (r *Registry) Register(p domain.Plugin) (ids.PluginID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existingID := range r.byName[p.Name] {
		existing := r.plugins[existingID]
		if existing.Version == p.Version {
			return "", fmt.Errorf("%w: %s@%s", ErrDuplicateNameVersion, p.Name, p.Version)
		}
	}

	id := ids.NewPluginID()
	p.ID = string(id)
	if p.ContentHash == "" {
		p.ContentHash = contentHash(p)
	}
	p.Status = domain.PluginLoaded
	p.UpdatedAt = timeNow()

	r.plugins[id] = &p
	r.byName[p.Name] = append(r.byName[p.Name], id)
	return id, nil
}

// Unregister transitions a plugin to "unloaded". It fails if any task
// still references it. Attempt history tied to the plugin is never
// deleted; only the plugin's status changes.
func (r *Registry) Unregister(id ids.PluginID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.plugins[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	if r.refChecker != nil && r.refChecker.PluginReferenced(id) {
		return fmt.Errorf("%w: %s", ErrPluginReferenced, id)
	}
	p.Status = domain.PluginUnloaded
	p.UpdatedAt = timeNow()
	return nil
}

// Get returns a copy of the plugin record.
func (r *Registry) Get(id ids.PluginID) (domain.Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[id]
	if !ok {
		return domain.Plugin{}, fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	return *p, nil
}

// Resolve returns plugins offering the given capability, filtered by
// constraints and the health threshold, ranked by score then recency.
func (r *Registry) Resolve(capability string, constraint domain.VersionConstraint) ([]domain.Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []domain.Plugin
	for _, p := range r.plugins {
		if p.Status == domain.PluginUnloaded || p.Status == domain.PluginError {
			continue
		}
		if !p.HasCapability(capability) {
			continue
		}
		if !satisfiesConstraint(p.Version, constraint) {
			continue
		}
		if p.Score.SuccessRate < minHealthScore && p.Score.TotalRuns > 0 {
			continue
		}
		candidates = append(candidates, *p)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score.SuccessRate != candidates[j].Score.SuccessRate {
			return candidates[i].Score.SuccessRate > candidates[j].Score.SuccessRate
		}
		return candidates[i].UpdatedAt.After(candidates[j].UpdatedAt)
	})
	return candidates, nil
}

// HasCapability reports whether any loaded, healthy plugin offers the
// given capability, regardless of version. Used by the orchestrator to
// decide whether a capability gap needs synthesis before scheduling.
func (r *Registry) HasCapability(capability string) bool {
	candidates, err := r.Resolve(capability, domain.VersionConstraint{})
	return err == nil && len(candidates) > 0
}

// Plugins returns a copy of every registered plugin, for the snapshot
// store's periodic checkpoint and the API facade's inventory views.
func (r *Registry) Plugins() []domain.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, *p)
	}
	return out
}

// DependenciesSatisfied reports whether every dependency of plugin_id
// resolves to at least one registered, compatible plugin.
func (r *Registry) DependenciesSatisfied(id ids.PluginID) (bool, []string, error) {
	r.mu.RLock()
	p, ok := r.plugins[id]
	r.mu.RUnlock()
	if !ok {
		return false, nil, fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}

	var missing []string
	for _, dep := range p.Dependencies {
		found := false
		r.mu.RLock()
		for _, candidateID := range r.byName[dep.PluginName] {
			candidate := r.plugins[candidateID]
			if candidate.Status == domain.PluginUnloaded {
				continue
			}
			if satisfiesConstraint(candidate.Version, dep.Constraint) {
				found = true
				break
			}
		}
		r.mu.RUnlock()
		if !found {
			missing = append(missing, dep.PluginName)
		}
	}
	return len(missing) == 0, missing, nil
}

// UpdateScore applies an EMA update to the plugin's rolling success rate
// and mean duration after one execution outcome.
func (r *Registry) UpdateScore(id ids.PluginID, success bool, duration time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.plugins[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}

	outcome := 0.0
	if success {
		outcome = 1.0
	}
	if p.Score.TotalRuns == 0 {
		p.Score.SuccessRate = outcome
		p.Score.MeanDurationMS = float64(duration.Milliseconds())
	} else {
		p.Score.SuccessRate = scoreAlpha*outcome + (1-scoreAlpha)*p.Score.SuccessRate
		p.Score.MeanDurationMS = scoreAlpha*float64(duration.Milliseconds()) + (1-scoreAlpha)*p.Score.MeanDurationMS
	}
	if p.Score.SuccessRate < 0 {
		p.Score.SuccessRate = 0
	}
	if p.Score.SuccessRate > 1 {
		p.Score.SuccessRate = 1
	}
	p.Score.TotalRuns++
	p.UpdatedAt = timeNow()
	return nil
}

// Transition drives the plugin lifecycle state machine:
//
//	unloaded -> loaded -> initialized -> running -> (paused <-> running) -> stopped -> unloaded
//
// Errors from any transition move to "error"; "error" returns to
// "unloaded" only via an explicit Reset.
func (r *Registry) Transition(id ids.PluginID, to domain.PluginStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.plugins[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	if !validTransition(p.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, to)
	}
	p.Status = to
	p.UpdatedAt = timeNow()
	return nil
}

// Reset returns an errored plugin to "unloaded", the only permitted exit
// from the error state.
func (r *Registry) Reset(id ids.PluginID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plugins[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	if p.Status != domain.PluginError {
		return fmt.Errorf("%w: reset only valid from error, got %s", ErrInvalidTransition, p.Status)
	}
	p.Status = domain.PluginUnloaded
	p.UpdatedAt = timeNow()
	return nil
}

func validTransition(from, to domain.PluginStatus) bool {
	if to == domain.PluginError {
		return from != domain.PluginUnloaded
	}
	switch from {
	case domain.PluginUnloaded:
		return to == domain.PluginLoaded
	case domain.PluginLoaded:
		return to == domain.PluginInitialized
	case domain.PluginInitialized:
		return to == domain.PluginRunning
	case domain.PluginRunning:
		return to == domain.PluginPaused || to == domain.PluginStopped
	case domain.PluginPaused:
		return to == domain.PluginRunning || to == domain.PluginStopped
	case domain.PluginStopped:
		return to == domain.PluginUnloaded
	default:
		return false
	}
}

func timeNow() time.Time { return time.Now().UTC() }

func contentHash(p domain.Plugin) string {
	h := fnv1a(p.Name + "@" + p.Version + ":" + p.Source)
	return fmt.Sprintf("%016x", h)
}
