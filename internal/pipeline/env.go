package pipeline

import (
	"fmt"

	"loom/internal/aspect"
	"loom/internal/diag"
	"loom/internal/layer"
	"loom/internal/observ"
	"loom/internal/source"
)

// Env is the state shared by all stages of one Execute call.
type Env struct {
	Options  Options
	Registry *aspect.Registry
	Order    *layer.Order
	Acc      *Accumulator
	Overflow *OverflowSink
	Counters *observ.Counters

	lastLayer *layer.Layer
	warned    map[[2]layer.ID]bool
}

// NewEnv builds an environment with a fresh accumulator and overflow sink.
// A nil counters value gets a private instance.
func NewEnv(opts Options, reg *aspect.Registry, order *layer.Order, counters *observ.Counters) *Env {
	if counters == nil {
		counters = &observ.Counters{}
	}
	return &Env{
		Options:  opts,
		Registry: reg,
		Order:    order,
		Acc:      NewAccumulator(opts.maxDiagnostics()),
		Overflow: NewOverflowSink(),
		Counters: counters,
		warned:   make(map[[2]layer.ID]bool),
	}
}

// enterLayer tracks layer transitions. In strict mode a transition that
// contradicts the authors' explicit order is reported once per pair; the
// static order still wins.
func (e *Env) enterLayer(l layer.Layer) {
	prev := e.lastLayer
	cur := l
	e.lastLayer = &cur
	if !e.Options.Strict || prev == nil || prev.ID.Class == l.ID.Class {
		return
	}
	if prev.ExplicitOrder <= 0 || l.ExplicitOrder <= 0 || l.ExplicitOrder >= prev.ExplicitOrder {
		return
	}
	pair := [2]layer.ID{prev.ID, l.ID}
	if e.warned[pair] {
		return
	}
	e.warned[pair] = true
	diag.ReportWarning(e.Acc, diag.OrdUnorderedLayers, source.Span{},
		fmt.Sprintf("layer %s (explicit order %d) runs after %s (explicit order %d)",
			l.ID, l.ExplicitOrder, prev.ID, prev.ExplicitOrder)).
		Emit()
}
