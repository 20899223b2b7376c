// Package registry maps qualified "<plugin>.<name>" action and trigger
// names to the definitions plugins contribute, with concurrency-safe
// register/unregister against live lookups from executor worker goroutines.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/openweavr/workflow-engine/common"
	"github.com/openweavr/workflow-engine/pkg/logger"
)

// ActionContext is handed to an action's Execute function. Config has
// already been interpolated; Steps is a snapshot of completed dependency
// outputs; Env is the merged process/workflow environment view.
type ActionContext struct {
	WorkflowName string
	RunID        string
	StepID       string
	Config       common.Input
	Trigger      common.Input
	Steps        map[string]common.Output
	Env          common.EnvMap
	Log          func(msg string, keyvals ...any)
}

// ActionFunc executes a single step invocation and returns its output.
type ActionFunc func(ctx context.Context, actx ActionContext) (common.Output, error)

// ActionDef is one action a plugin contributes.
type ActionDef struct {
	Name        string
	Description string
	Schema      map[string]any
	Execute     ActionFunc
}

// EmitFunc is handed to a trigger's Setup so it can push events to the
// Trigger Manager. It may be called any number of times, from any thread,
// until the returned TeardownFunc has returned.
type EmitFunc func(payload map[string]any)

// TeardownFunc releases the resources a trigger's Setup installed.
type TeardownFunc func() error

// SetupFunc installs a long-lived subscription (poll, socket, watch) and
// returns a TeardownFunc to release it.
type SetupFunc func(ctx context.Context, config map[string]any, emit EmitFunc) (TeardownFunc, error)

// TriggerDef is one trigger a plugin contributes.
type TriggerDef struct {
	Name        string
	Description string
	Schema      map[string]any
	Setup       SetupFunc
}

// Hooks are process-wide lifecycle callbacks for a plugin.
type Hooks struct {
	OnLoad   func() error
	OnUnload func() error
}

// Plugin bundles a named set of actions and triggers, with optional
// lifecycle hooks.
type Plugin struct {
	Name        string
	Version     string
	Description string
	Actions     []ActionDef
	Triggers    []TriggerDef
	Hooks       *Hooks
}

// Registry is the in-memory, concurrency-safe plugin catalogue. The zero
// value is not usable; construct with New.
type Registry struct {
	mu       sync.RWMutex
	plugins  map[string]*Plugin
	actions  map[string]*ActionDef
	triggers map[string]*TriggerDef
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		plugins:  make(map[string]*Plugin),
		actions:  make(map[string]*ActionDef),
		triggers: make(map[string]*TriggerDef),
	}
}

// Register adds plugin's actions and triggers under the
// "<plugin>.<name>" qualified namespace. It fails if a plugin with the
// same name is already registered. If the plugin declares an OnLoad hook
// and it returns an error, registration is rolled back.
func (r *Registry) Register(p *Plugin) error {
	if p == nil || p.Name == "" {
		return fmt.Errorf("registry: plugin must have a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[p.Name]; exists {
		return fmt.Errorf("registry: plugin %q already registered", p.Name)
	}

	for _, a := range p.Actions {
		r.actions[qualify(p.Name, a.Name)] = cloneAction(a)
	}
	for _, t := range p.Triggers {
		r.triggers[qualify(p.Name, t.Name)] = cloneTrigger(t)
	}
	r.plugins[p.Name] = p

	if p.Hooks != nil && p.Hooks.OnLoad != nil {
		if err := p.Hooks.OnLoad(); err != nil {
			r.removeLocked(p.Name)
			return fmt.Errorf("registry: plugin %q onLoad failed: %w", p.Name, err)
		}
	}

	logger.Info("plugin registered", "plugin", p.Name, "actions", len(p.Actions), "triggers", len(p.Triggers))
	return nil
}

// Unregister removes plugin and every action/trigger it contributed. It is
// a no-op if the plugin isn't registered. OnUnload errors are logged, not
// returned: teardown must not leave the registry in a half-removed state.
func (r *Registry) Unregister(pluginName string) {
	r.mu.Lock()
	p, ok := r.plugins[pluginName]
	if !ok {
		r.mu.Unlock()
		return
	}
	r.removeLocked(pluginName)
	r.mu.Unlock()

	if p.Hooks != nil && p.Hooks.OnUnload != nil {
		if err := p.Hooks.OnUnload(); err != nil {
			logger.Error("plugin onUnload failed", "plugin", pluginName, "error", err)
		}
	}
	logger.Info("plugin unregistered", "plugin", pluginName)
}

func (r *Registry) removeLocked(pluginName string) {
	prefix := pluginName + "."
	for k := range r.actions {
		if strings.HasPrefix(k, prefix) {
			delete(r.actions, k)
		}
	}
	for k := range r.triggers {
		if strings.HasPrefix(k, prefix) {
			delete(r.triggers, k)
		}
	}
	delete(r.plugins, pluginName)
}

// GetPlugin returns the plugin registered under name.
func (r *Registry) GetPlugin(name string) (*Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// GetAction resolves a qualified action name.
func (r *Registry) GetAction(qualifiedName string) (*ActionDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[qualifiedName]
	return a, ok
}

// GetTrigger resolves a qualified trigger name.
func (r *Registry) GetTrigger(qualifiedName string) (*TriggerDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.triggers[qualifiedName]
	return t, ok
}

// ListActions returns every registered qualified action name, sorted.
func (r *Registry) ListActions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.actions)
}

// ListTriggers returns every registered qualified trigger name, sorted.
func (r *Registry) ListTriggers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.triggers)
}

func qualify(pluginName, name string) string {
	return pluginName + "." + name
}

func cloneAction(a ActionDef) *ActionDef {
	cp := a
	return &cp
}

func cloneTrigger(t TriggerDef) *TriggerDef {
	cp := t
	return &cp
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
