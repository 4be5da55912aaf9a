package flow

import "sync"

// Registry caches active flow contexts for fast lookup. Durability comes
// from the Store; the registry may lose state on restart without losing
// the fallback trail.
type Registry interface {
	Put(fc Context)
	Get(flowID string) (Context, bool)
	Delete(flowID string)
}

// MemoryRegistry is a mutex-guarded map of flow contexts.
type MemoryRegistry struct {
	mu    sync.RWMutex
	flows map[string]Context
}

// NewMemoryRegistry constructs an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{flows: make(map[string]Context)}
}

func (r *MemoryRegistry) Put(fc Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Steps are copied so later appends by the orchestrator do not alias
	// the cached snapshot.
	fc.Steps = append([]ProcessingStep(nil), fc.Steps...)
	r.flows[fc.ID] = fc
}

func (r *MemoryRegistry) Get(flowID string) (Context, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fc, ok := r.flows[flowID]
	if !ok {
		return Context{}, false
	}
	// Same isolation on the way out: callers must not be able to reach the
	// cached snapshot through the returned slice.
	fc.Steps = append([]ProcessingStep(nil), fc.Steps...)
	return fc, true
}

func (r *MemoryRegistry) Delete(flowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flows, flowID)
}

// Len reports the number of cached flows (for inspection and tests).
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.flows)
}

// MultiRegistry writes to a primary registry and mirrors to a secondary
// best-effort cache (e.g. Redis). Reads hit the primary first.
type MultiRegistry struct {
	primary   Registry
	secondary Registry
}

// NewMultiRegistry constructs a registry that mirrors writes.
func NewMultiRegistry(primary, secondary Registry) *MultiRegistry {
	return &MultiRegistry{primary: primary, secondary: secondary}
}

func (m *MultiRegistry) Put(fc Context) {
	m.primary.Put(fc)
	if m.secondary != nil {
		m.secondary.Put(fc)
	}
}

func (m *MultiRegistry) Get(flowID string) (Context, bool) {
	if fc, ok := m.primary.Get(flowID); ok {
		return fc, true
	}
	if m.secondary != nil {
		return m.secondary.Get(flowID)
	}
	return Context{}, false
}

func (m *MultiRegistry) Delete(flowID string) {
	m.primary.Delete(flowID)
	if m.secondary != nil {
		m.secondary.Delete(flowID)
	}
}

// Len reports the primary's flow count when it exposes one.
func (m *MultiRegistry) Len() int {
	type counter interface{ Len() int }
	if c, ok := m.primary.(counter); ok {
		return c.Len()
	}
	return 0
}
