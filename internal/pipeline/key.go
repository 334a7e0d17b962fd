package pipeline

import (
	"cmp"
	"fmt"

	"fortio.org/safecast"

	"loom/internal/layer"
)

// Phase distinguishes source discovery from transformation application.
type Phase uint8

const (
	PhaseDiscover Phase = iota + 1
	PhaseApply
)

func (p Phase) String() string {
	switch p {
	case PhaseDiscover:
		return "discover"
	case PhaseApply:
		return "apply"
	}
	return "unknown"
}

// StepKey addresses one WorkUnit.
type StepKey struct {
	Layer       layer.Layer
	TypeDepth   uint16 // enclosing types of the target
	DeclDepth   uint16 // enclosing declarations of the target
	Phase       Phase
	AdviceDepth uint16 // nesting of same-position contributions
}

// DiscoverKey is the key of the unit that evaluates sources of l's class.
func DiscoverKey(l layer.Layer) StepKey {
	return StepKey{Layer: l, Phase: PhaseDiscover}
}

// ApplyKey is the key of the unit applying l to targets at the given depth.
func ApplyKey(l layer.Layer, typeDepth, declDepth, adviceDepth int) StepKey {
	return StepKey{
		Layer:       l,
		TypeDepth:   depth16(typeDepth),
		DeclDepth:   depth16(declDepth),
		Phase:       PhaseApply,
		AdviceDepth: depth16(adviceDepth),
	}
}

func depth16(v int) uint16 {
	out, err := safecast.Conv[uint16](v)
	if err != nil {
		panic(fmt.Errorf("step depth overflow: %w", err))
	}
	return out
}

func (k StepKey) String() string {
	if k.Phase == PhaseDiscover {
		return fmt.Sprintf("%s discover", k.Layer.ID)
	}
	return fmt.Sprintf("%s %d.%d apply+%d", k.Layer.ID, k.TypeDepth, k.DeclDepth, k.AdviceDepth)
}

// Compare is the step order: layer order, then type depth, declaration
// depth, phase and advice depth. Keys compare equal only when they are the
// same key; two different layers sharing an order panic.
func Compare(a, b StepKey) int {
	if a.Layer.ID != b.Layer.ID {
		if a.Layer.Order == b.Layer.Order {
			assertf("layers %s and %s share order %d", a.Layer.ID, b.Layer.ID, a.Layer.Order)
		}
		return cmp.Compare(a.Layer.Order, b.Layer.Order)
	}
	if a.Layer != b.Layer {
		assertf("layer %s seen with two definitions (%v, %v)", a.Layer.ID, a.Layer, b.Layer)
	}
	return cmp.Or(
		cmp.Compare(a.TypeDepth, b.TypeDepth),
		cmp.Compare(a.DeclDepth, b.DeclDepth),
		cmp.Compare(a.Phase, b.Phase),
		cmp.Compare(a.AdviceDepth, b.AdviceDepth),
	)
}

// Less reports whether k sorts before other.
func (k StepKey) Less(other StepKey) bool {
	return Compare(k, other) < 0
}
