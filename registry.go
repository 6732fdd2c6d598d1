package toolscope

import (
	"slices"
	"sync"
)

// Registry maps tool names to tools. Every Dispatcher owns exactly one; registries are never shared
// between requests. Safe for concurrent use.
type Registry struct {
	tools       map[string]Tool // wrapped with middlewares, used for execution
	rawTools    map[string]Tool // unwrapped, used by Use() to re-apply middlewares from scratch
	mu          sync.RWMutex
	middlewares []Middleware
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]Tool),
		rawTools: make(map[string]Tool),
	}
}

// Register adds a tool. Stored middlewares (see Use) are applied to the tool before registration.
// If a tool with the same name already exists, it is replaced.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return ErrNilHandler
	}
	name := t.Name()
	if name == "" {
		return errEmptyToolID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rawTools[name] = t
	r.tools[name] = r.wrap(t)
	return nil
}

// RegisterMany registers tools in order; it stops at the first invalid tool.
func (r *Registry) RegisterMany(tools ...Tool) error {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Has reports whether a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Get returns the tool with the given name (after middlewares are applied), or (nil, false) if not found.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// All returns all registered tools (e.g. for exporting to LLM providers), sorted by name.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := r.sortedNamesLocked()
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		out = append(out, r.tools[name])
	}
	return out
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedNamesLocked()
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Clear removes every tool. Middlewares stay configured.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.tools)
	clear(r.rawTools)
}

func (r *Registry) sortedNamesLocked() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// wrap applies the stored middlewares (onion order: first is outermost). Caller holds r.mu.
func (r *Registry) wrap(t Tool) Tool {
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		t = r.middlewares[i](t)
	}
	return t
}
