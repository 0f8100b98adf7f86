// Package pluginreg implements the plugin + event substrate: dependency
// ordered loading, and lifecycle hook dispatch (chained for parameter- and
// message-rewriting hooks, broadcast for the rest). A plugin declares only
// the capabilities it needs by implementing the matching optional
// interface — PluginRegistry checks for each with a type assertion rather
// than relying on reflection, per the spec's redesign note.
package pluginreg

import (
	"context"
	"fmt"

	"github.com/laios/laios/internal/eventbus"
	"github.com/laios/laios/internal/laioserr"
)

// Plugin is the identity every plugin must declare.
type Plugin interface {
	Name() string
	Version() string
	Description() string
	Dependencies() []string
	Tags() []string
}

// Loader plugins run setup when loaded, given a Context with shared services.
type Loader interface {
	OnLoad(ctx context.Context, pctx *Context) error
}

// Unloader plugins run teardown when unloaded.
type Unloader interface {
	OnUnload() error
}

// SessionStarter plugins observe session creation.
type SessionStarter interface {
	OnSessionStart(sessionID, userID string)
}

// SessionEnder plugins observe session close.
type SessionEnder interface {
	OnSessionEnd(sessionID string)
}

// BeforeTasker plugins may rewrite task parameters before dispatch. A nil
// returned map means "no change".
type BeforeTasker interface {
	OnBeforeTask(taskID, toolName string, params map[string]any) (map[string]any, error)
}

// AfterTasker plugins observe task completion. Return values are ignored.
type AfterTasker interface {
	OnAfterTask(taskID, toolName string, success bool, result any)
}

// Messenger plugins may rewrite message content. An empty string return
// means "no change".
type Messenger interface {
	OnMessage(sessionID, role, content string) (string, error)
}

// Context is the set of shared services handed to a plugin's OnLoad.
type Context struct {
	EventBus *eventbus.Bus
	Extra    map[string]any
}

type entry struct {
	plugin  Plugin
	enabled bool
	loaded  bool
}

// Registry loads plugins in dependency order and dispatches their hooks.
type Registry struct {
	bus     *eventbus.Bus
	pending []Plugin
	loaded  []*entry // in load order
	byName  map[string]*entry
}

// New creates a Registry that emits plugin.loaded/plugin.unloaded on bus.
func New(bus *eventbus.Bus) *Registry {
	return &Registry{bus: bus, byName: make(map[string]*entry)}
}

// Add queues a plugin for the next LoadAll call.
func (r *Registry) Add(p Plugin) error {
	if p == nil || p.Name() == "" {
		return fmt.Errorf("%w: plugin must have a name", laioserr.ErrInvalidTool)
	}
	r.pending = append(r.pending, p)
	return nil
}

// LoadAll computes a dependency-respecting topological order over all
// pending plugins and calls OnLoad on each Loader in that order. A
// dependency cycle or a missing dependency fails the whole batch with
// ErrDependency and loads nothing.
func (r *Registry) LoadAll(ctx context.Context, pctx *Context) error {
	order, err := topoSort(r.pending)
	if err != nil {
		return err
	}

	for _, p := range order {
		e := &entry{plugin: p, enabled: true}
		if loader, ok := p.(Loader); ok {
			if err := loader.OnLoad(ctx, pctx); err != nil {
				return fmt.Errorf("plugin %q failed to load: %w", p.Name(), err)
			}
		}
		e.loaded = true
		r.loaded = append(r.loaded, e)
		r.byName[p.Name()] = e
		r.emit("plugin.loaded", map[string]any{"name": p.Name(), "version": p.Version()})
	}
	r.pending = nil
	return nil
}

// UnloadAll calls OnUnload on every loaded plugin in reverse load order.
func (r *Registry) UnloadAll() {
	for i := len(r.loaded) - 1; i >= 0; i-- {
		e := r.loaded[i]
		if unloader, ok := e.plugin.(Unloader); ok {
			_ = unloader.OnUnload()
		}
		r.emit("plugin.unloaded", map[string]any{"name": e.plugin.Name()})
	}
	r.loaded = nil
	r.byName = make(map[string]*entry)
}

func (r *Registry) emit(topic string, data map[string]any) {
	if r.bus != nil {
		r.bus.Emit(topic, data)
	}
}

// Enable re-activates a loaded plugin's hooks.
func (r *Registry) Enable(name string) bool {
	e, ok := r.byName[name]
	if !ok {
		return false
	}
	e.enabled = true
	return true
}

// Disable deactivates a loaded plugin's hooks without unloading it.
func (r *Registry) Disable(name string) bool {
	e, ok := r.byName[name]
	if !ok {
		return false
	}
	e.enabled = false
	return true
}

// Meta describes one loaded plugin for listing purposes.
type Meta struct {
	Name        string
	Version     string
	Description string
	Tags        []string
	Enabled     bool
}

// List returns metadata for every loaded plugin, in load order.
func (r *Registry) List() []Meta {
	out := make([]Meta, 0, len(r.loaded))
	for _, e := range r.loaded {
		out = append(out, Meta{
			Name:        e.plugin.Name(),
			Version:     e.plugin.Version(),
			Description: e.plugin.Description(),
			Tags:        e.plugin.Tags(),
			Enabled:     e.enabled,
		})
	}
	return out
}

// DispatchBeforeTask chains every enabled BeforeTasker's transform over
// params, in load order. A nil return from a hook means "no change"; the
// final mapping is what the caller should pass to the tool.
func (r *Registry) DispatchBeforeTask(taskID, toolName string, params map[string]any) (map[string]any, error) {
	working := params
	for _, e := range r.loaded {
		if !e.enabled {
			continue
		}
		hook, ok := e.plugin.(BeforeTasker)
		if !ok {
			continue
		}
		next, err := hook.OnBeforeTask(taskID, toolName, working)
		if err != nil {
			return working, fmt.Errorf("plugin %q on_before_task: %w", e.plugin.Name(), err)
		}
		if next != nil {
			working = next
		}
	}
	return working, nil
}

// DispatchAfterTask broadcasts task completion to every enabled AfterTasker.
func (r *Registry) DispatchAfterTask(taskID, toolName string, success bool, result any) {
	for _, e := range r.loaded {
		if !e.enabled {
			continue
		}
		if hook, ok := e.plugin.(AfterTasker); ok {
			hook.OnAfterTask(taskID, toolName, success, result)
		}
	}
}

// DispatchSessionStart broadcasts session creation to every enabled SessionStarter.
func (r *Registry) DispatchSessionStart(sessionID, userID string) {
	for _, e := range r.loaded {
		if !e.enabled {
			continue
		}
		if hook, ok := e.plugin.(SessionStarter); ok {
			hook.OnSessionStart(sessionID, userID)
		}
	}
}

// DispatchSessionEnd broadcasts session close to every enabled SessionEnder.
func (r *Registry) DispatchSessionEnd(sessionID string) {
	for _, e := range r.loaded {
		if !e.enabled {
			continue
		}
		if hook, ok := e.plugin.(SessionEnder); ok {
			hook.OnSessionEnd(sessionID)
		}
	}
}

// DispatchMessage chains every enabled Messenger's transform over content,
// in load order. An empty-string return means "no change".
func (r *Registry) DispatchMessage(sessionID, role, content string) (string, error) {
	working := content
	for _, e := range r.loaded {
		if !e.enabled {
			continue
		}
		hook, ok := e.plugin.(Messenger)
		if !ok {
			continue
		}
		next, err := hook.OnMessage(sessionID, role, working)
		if err != nil {
			return working, fmt.Errorf("plugin %q on_message: %w", e.plugin.Name(), err)
		}
		if next != "" {
			working = next
		}
	}
	return working, nil
}

// topoSort computes a valid load order over plugins by Dependencies(),
// using a depth-first search with three-color marking. It fails with
// ErrDependency naming either a
// cycle or the missing dependencies.
func topoSort(plugins []Plugin) ([]Plugin, error) {
	byName := make(map[string]Plugin, len(plugins))
	for _, p := range plugins {
		byName[p.Name()] = p
	}

	var missing []string
	for _, p := range plugins {
		for _, dep := range p.Dependencies() {
			if _, ok := byName[dep]; !ok {
				missing = append(missing, dep)
			}
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing dependencies: %v", laioserr.ErrDependency, missing)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(plugins))
	var order []Plugin
	var stack []string

	var visit func(p Plugin) error
	visit = func(p Plugin) error {
		name := p.Name()
		switch color[name] {
		case black:
			return nil
		case gray:
			cycle := append(append([]string{}, stack...), name)
			return fmt.Errorf("%w: dependency cycle: %v", laioserr.ErrDependency, cycle)
		}
		color[name] = gray
		stack = append(stack, name)
		for _, dep := range p.Dependencies() {
			if err := visit(byName[dep]); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		order = append(order, p)
		return nil
	}

	for _, p := range plugins {
		if err := visit(p); err != nil {
			return nil, err
		}
	}
	return order, nil
}
