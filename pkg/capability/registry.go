package capability

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound reports that no capability could be resolved for a
// device. It is fatal at setup time and never silently mapped to the
// fallback capability.
var ErrNotFound = errors.New("capability not found")

// Capability pairs a descriptor with its parser factory. Instances are
// immutable once registered.
type Capability struct {
	Descriptor
	newParser ParserFactory
}

// NewParser returns a fresh parser for this capability.
func (c *Capability) NewParser() Parser {
	return c.newParser()
}

// Registry holds the capabilities known to one engine instance.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Capability
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Capability)}
}

// Register adds a capability. IDs must be unique and the factory
// non-nil.
func (r *Registry) Register(desc Descriptor, factory ParserFactory) error {
	if desc.ID == "" {
		return fmt.Errorf("capability descriptor is missing id")
	}
	if factory == nil {
		return fmt.Errorf("capability %q has no parser factory", desc.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[desc.ID]; exists {
		return fmt.Errorf("capability %q is already registered", desc.ID)
	}
	r.entries[desc.ID] = &Capability{Descriptor: desc, newParser: factory}
	return nil
}

// Lookup finds a capability by ID. The fallback capability is reachable
// here and only here.
func (r *Registry) Lookup(id string) (*Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.entries[id]
	return c, ok
}

// Candidates returns every registered capability except the fallback,
// ordered by descending priority with ties broken by ID. The slice is
// the caller's to keep.
func (r *Registry) Candidates() []*Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Capability, 0, len(r.entries))
	for id, c := range r.entries {
		if id == FallbackID {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Match evaluates body against every candidate and returns the best
// scoring capability with its binding. Priority breaks confidence ties
// via the candidate ordering. The fallback never matches here.
func (r *Registry) Match(body []byte) (*Capability, Binding, bool) {
	var best *Capability
	bestConfidence := 0.0

	for _, c := range r.Candidates() {
		confidence, ok := c.Match(body)
		if !ok {
			continue
		}
		if confidence > bestConfidence {
			best = c
			bestConfidence = confidence
		}
	}
	if best == nil {
		return nil, Binding{}, false
	}
	return best, Binding{
		CapabilityID: best.ID,
		Method:       MethodBodyMatch,
		Confidence:   bestConfidence,
	}, true
}
