package pipeline

import (
	"context"

	"loom/internal/aspect"
	"loom/internal/decl"
	"loom/internal/diag"
	"loom/internal/layer"
)

// Placed is an instance bound to one layer.
type Placed struct {
	Layer    layer.Layer
	Instance aspect.Instance
}

// Weave is the input of one low-level stage.
type Weave struct {
	Stage     Stage
	Instances []Placed // in discovery order
	Reporter  diag.Reporter
}

// Transformer executes a low-level stage in a single call. The scheduler
// does not look inside: the returned snapshot replaces the input as a
// whole. Returning the input unchanged is allowed.
type Transformer interface {
	Transform(ctx context.Context, in *decl.Snapshot, w *Weave) (*decl.Snapshot, error)
}

// TransformerFunc adapts a function to Transformer.
type TransformerFunc func(ctx context.Context, in *decl.Snapshot, w *Weave) (*decl.Snapshot, error)

func (f TransformerFunc) Transform(ctx context.Context, in *decl.Snapshot, w *Weave) (*decl.Snapshot, error) {
	return f(ctx, in, w)
}
