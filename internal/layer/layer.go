package layer

import (
	"fmt"

	"golang.org/x/text/unicode/norm"

	"loom/internal/source"
)

// DefaultName is the layer name used by classes that declare no layers.
const DefaultName = "default"

// ID identifies a layer: the owning transformation class plus the layer name.
type ID struct {
	Class string
	Name  string
}

func (id ID) String() string {
	return id.Class + "/" + id.Name
}

// Layer is one statically ordered bucket of transformations. Layers are
// created once per pipeline configuration and never change afterwards.
type Layer struct {
	ID ID
	// Order is the position in the static topological sort. Distinct layers
	// never share an Order.
	Order int
	// Index is the position of the layer inside its class.
	Index int
	// ExplicitOrder is the author's ordering hint (0 = none). It only feeds
	// the unordered-layers diagnostic.
	ExplicitOrder int
	// Transformer names the opaque low-level transformer the layer is
	// delegated to. Empty for cooperating layers.
	Transformer string
}

func (l Layer) String() string {
	return fmt.Sprintf("%s#%d", l.ID, l.Order)
}

// LowLevel reports whether the layer is executed by an external transformer.
func (l Layer) LowLevel() bool { return l.Transformer != "" }

// ClassSpec declares the layers of one transformation class.
type ClassSpec struct {
	Name          string
	Layers        []string // in class order; empty means a single default layer
	ExplicitOrder int
	Transformer   string
	Span          source.Span
}

// Constraint requires every layer of Before to run before every layer of After.
type Constraint struct {
	Before string
	After  string
	Span   source.Span
}

// Normalize returns the NFC form of a class or layer name so that names
// typed differently in different files compare equal.
func Normalize(name string) string {
	return norm.NFC.String(name)
}

// Order is the result of Sort: the total static order of all layers.
type Order struct {
	layers  []Layer
	byID    map[ID]int
	byClass map[string][]int
	batches [][]ID
}

// Len returns the number of layers.
func (o *Order) Len() int { return len(o.layers) }

// Layers returns the layers in execution order.
func (o *Order) Layers() []Layer {
	return append([]Layer(nil), o.layers...)
}

// Lookup finds a layer by id.
func (o *Order) Lookup(id ID) (Layer, bool) {
	i, ok := o.byID[id]
	if !ok {
		return Layer{}, false
	}
	return o.layers[i], true
}

// OfClass returns the layers of class in execution order.
func (o *Order) OfClass(class string) []Layer {
	idx := o.byClass[Normalize(class)]
	out := make([]Layer, len(idx))
	for i, j := range idx {
		out[i] = o.layers[j]
	}
	return out
}

// First returns the first layer of class.
func (o *Order) First(class string) (Layer, bool) {
	idx := o.byClass[Normalize(class)]
	if len(idx) == 0 {
		return Layer{}, false
	}
	return o.layers[idx[0]], true
}

// Batches returns waves of layers with no ordering between them.
func (o *Order) Batches() [][]ID {
	out := make([][]ID, len(o.batches))
	for i, b := range o.batches {
		out[i] = append([]ID(nil), b...)
	}
	return out
}
