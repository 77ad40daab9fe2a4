// Package registry manages plugin registration, dependency ordering and
// lifecycle for the printwatch server.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/HerbHall/printwatch/pkg/plugin"
)

// Registry manages the lifecycle of all registered plugins.
type Registry struct {
	mu       sync.RWMutex
	plugins  map[string]plugin.Plugin
	regOrder []string
	order    []string // dependency order, set by Validate
	disabled map[string]string
	started  []string
	logger   *zap.Logger
}

// New creates an empty plugin registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		plugins:  make(map[string]plugin.Plugin),
		disabled: make(map[string]string),
		logger:   logger,
	}
}

// Register adds a plugin to the registry.
func (r *Registry) Register(p plugin.Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := p.Info()
	if info.Name == "" {
		return fmt.Errorf("plugin has empty name")
	}
	if _, exists := r.plugins[info.Name]; exists {
		return fmt.Errorf("plugin %q already registered", info.Name)
	}

	r.plugins[info.Name] = p
	r.regOrder = append(r.regOrder, info.Name)
	r.logger.Info("plugin registered",
		zap.String("name", info.Name),
		zap.String("version", info.Version),
	)
	return nil
}

// Disable marks a registered plugin as disabled before Validate runs, for
// example because its configuration turns it off.
func (r *Registry) Disable(name, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plugins[name]; ok {
		r.disabled[name] = reason
	}
}

// Validate checks API versions and dependencies, disables optional plugins
// that cannot run, and computes the initialization order. It fails when a
// required plugin cannot run or the dependency graph has a cycle.
func (r *Registry) Validate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.regOrder {
		info := r.plugins[name].Info()
		if info.APIVersion < plugin.APIVersionMin || info.APIVersion > plugin.APIVersionCurrent {
			reason := fmt.Sprintf("unsupported API version %d (supported %d-%d)",
				info.APIVersion, plugin.APIVersionMin, plugin.APIVersionCurrent)
			if err := r.disableLocked(name, reason); err != nil {
				return err
			}
		}
	}

	// Cascade until no more plugins are disabled by missing dependencies.
	for changed := true; changed; {
		changed = false
		for _, name := range r.regOrder {
			if _, off := r.disabled[name]; off {
				continue
			}
			for _, dep := range r.plugins[name].Info().Dependencies {
				_, exists := r.plugins[dep]
				_, depOff := r.disabled[dep]
				if exists && !depOff {
					continue
				}
				reason := fmt.Sprintf("dependency %q unavailable", dep)
				if err := r.disableLocked(name, reason); err != nil {
					return err
				}
				changed = true
				break
			}
		}
	}

	order, err := r.topoSortLocked()
	if err != nil {
		return err
	}
	r.order = order
	return nil
}

func (r *Registry) disableLocked(name, reason string) error {
	if r.plugins[name].Info().Required {
		return fmt.Errorf("required plugin %q: %s", name, reason)
	}
	r.disabled[name] = reason
	r.logger.Warn("plugin disabled", zap.String("name", name), zap.String("reason", reason))
	return nil
}

// topoSortLocked orders enabled plugins so dependencies come first. Ties
// keep registration order.
func (r *Registry) topoSortLocked() ([]string, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int)
	var order []string

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle: %v", append(path, name))
		}
		state[name] = visiting
		for _, dep := range r.plugins[name].Info().Dependencies {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = done
		order = append(order, name)
		return nil
	}

	for _, name := range r.regOrder {
		if _, off := r.disabled[name]; off {
			continue
		}
		if err := visit(name, nil); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// InitAll initializes enabled plugins in dependency order. An optional
// plugin that fails to initialize is disabled; a required one aborts.
func (r *Registry) InitAll(ctx context.Context, deps func(name string) plugin.Dependencies) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var initialized []string
	for _, name := range r.order {
		if _, off := r.disabled[name]; off {
			continue
		}
		r.logger.Info("initializing plugin", zap.String("name", name))
		if err := r.plugins[name].Init(ctx, deps(name)); err != nil {
			if r.plugins[name].Info().Required {
				return fmt.Errorf("initialize plugin %q: %w", name, err)
			}
			r.disabled[name] = err.Error()
			r.logger.Warn("optional plugin failed to initialize",
				zap.String("name", name),
				zap.Error(err),
			)
			continue
		}
		initialized = append(initialized, name)
	}
	r.order = initialized
	return nil
}

// StartAll starts initialized plugins in dependency order.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		r.logger.Info("starting plugin", zap.String("name", name))
		if err := r.plugins[name].Start(ctx); err != nil {
			return fmt.Errorf("start plugin %q: %w", name, err)
		}
		r.started = append(r.started, name)
	}
	return nil
}

// StopAll stops started plugins in reverse order.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.started) - 1; i >= 0; i-- {
		name := r.started[i]
		r.logger.Info("stopping plugin", zap.String("name", name))
		if err := r.plugins[name].Stop(ctx); err != nil {
			r.logger.Error("failed to stop plugin", zap.String("name", name), zap.Error(err))
		}
	}
	r.started = nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) (plugin.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// IsDisabled reports whether the named plugin has been disabled.
func (r *Registry) IsDisabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, off := r.disabled[name]
	return off
}

// All returns the enabled plugins, in dependency order once Validate has run.
func (r *Registry) All() []plugin.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := r.order
	if names == nil {
		names = r.regOrder
	}
	result := make([]plugin.Plugin, 0, len(names))
	for _, name := range names {
		if _, off := r.disabled[name]; off {
			continue
		}
		result = append(result, r.plugins[name])
	}
	return result
}

// Status describes one registered plugin for the API.
type Status struct {
	plugin.PluginInfo
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason,omitempty"`
}

// Statuses returns every registered plugin with its enabled state, sorted
// by name.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Status, 0, len(r.plugins))
	for name, p := range r.plugins {
		reason, off := r.disabled[name]
		out = append(out, Status{PluginInfo: p.Info(), Enabled: !off, Reason: reason})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AllRoutes returns the routes of every enabled HTTPProvider, keyed by
// plugin name.
func (r *Registry) AllRoutes() map[string][]plugin.Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make(map[string][]plugin.Route)
	for _, name := range r.order {
		if _, off := r.disabled[name]; off {
			continue
		}
		hp, ok := r.plugins[name].(plugin.HTTPProvider)
		if !ok {
			continue
		}
		if pr := hp.Routes(); len(pr) > 0 {
			routes[name] = pr
		}
	}
	return routes
}

// Subscriptions returns the declared bus subscriptions of every enabled
// EventSubscriber.
func (r *Registry) Subscriptions() []plugin.Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var subs []plugin.Subscription
	for _, name := range r.order {
		if es, ok := r.plugins[name].(plugin.EventSubscriber); ok {
			subs = append(subs, es.Subscriptions()...)
		}
	}
	return subs
}

// HealthChecks returns the health of every enabled HealthChecker.
func (r *Registry) HealthChecks(ctx context.Context) map[string]plugin.HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]plugin.HealthStatus)
	for _, name := range r.order {
		if hc, ok := r.plugins[name].(plugin.HealthChecker); ok {
			out[name] = hc.Health(ctx)
		}
	}
	return out
}
