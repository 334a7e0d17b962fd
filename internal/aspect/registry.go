package aspect

import (
	"fmt"
	"sync"

	"loom/internal/layer"
)

// Registry collects the transformation classes of one pipeline
// configuration. It is populated before the orchestrator is built and read
// concurrently by apply workers afterwards.
type Registry struct {
	mu      sync.RWMutex
	classes []*Class
	byName  map[string]int // name -> index into classes
}

// NewRegistry creates an empty class registry.
func NewRegistry() *Registry {
	return &Registry{
		classes: make([]*Class, 0),
		byName:  make(map[string]int),
	}
}

// Add registers a class. Names are NFC-normalized; a second class with the
// same name is rejected.
func (r *Registry) Add(c *Class) error {
	if c == nil {
		return fmt.Errorf("aspect: nil class")
	}
	c.Name = layer.Normalize(c.Name)
	if c.Name == "" {
		return fmt.Errorf("aspect: class without a name")
	}
	if c.Transformation == nil && c.Transformer == "" {
		return fmt.Errorf("aspect: class %q has neither a transformation nor a transformer", c.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[c.Name]; dup {
		return fmt.Errorf("aspect: class %q registered twice", c.Name)
	}
	r.byName[c.Name] = len(r.classes)
	r.classes = append(r.classes, c)
	return nil
}

// MustAdd is Add for static setups; it panics on error.
func (r *Registry) MustAdd(c *Class) *Registry {
	if err := r.Add(c); err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the class called name.
func (r *Registry) Lookup(name string) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byName[layer.Normalize(name)]
	if !ok {
		return nil, false
	}
	return r.classes[i], true
}

// All returns all classes in registration order.
func (r *Registry) All() []*Class {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Class(nil), r.classes...)
}

// Len returns the number of classes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.classes)
}

// Specs converts the registry into layer declarations for layer.Sort.
func (r *Registry) Specs() []layer.ClassSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]layer.ClassSpec, len(r.classes))
	for i, c := range r.classes {
		out[i] = layer.ClassSpec{
			Name:          c.Name,
			Layers:        append([]string(nil), c.Layers...),
			ExplicitOrder: c.ExplicitOrder,
			Transformer:   c.Transformer,
			Span:          c.Span,
		}
	}
	return out
}
