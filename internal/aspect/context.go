package aspect

import (
	"loom/internal/decl"
	"loom/internal/diag"
	"loom/internal/layer"
)

// Host receives everything a transformation produces besides edits. The
// pipeline implements it per instance; implementations are goroutine-safe.
type Host interface {
	Report(d diag.Diagnostic)
	Suppress(s diag.Suppression)
	AddFix(f diag.Fix)
	// AddAspect proposes a new instance. view is the snapshot the target
	// must be resolved against (the caller's working copy).
	AddAspect(view *decl.Snapshot, inst Instance)
	AddSource(src Source)
}

// Context is what a transformation sees while it runs.
type Context struct {
	Instance Instance
	Layer    layer.Layer
	// IndexWithinType is the position of the instance among the instances of
	// the same layer in its declaring type.
	IndexWithinType int
	// Editor is a working copy restricted to the declaring type of the
	// target. It is discarded unless the outcome is OutcomeApplied.
	Editor *decl.Editor

	host Host
}

// NewContext binds a context to host.
func NewContext(inst Instance, l layer.Layer, index int, ed *decl.Editor, host Host) *Context {
	return &Context{Instance: inst, Layer: l, IndexWithinType: index, Editor: ed, host: host}
}

// Target returns the current state of the target declaration.
func (c *Context) Target() *decl.Decl {
	d, _ := c.Editor.Lookup(c.Instance.Target)
	return d
}

// Report forwards a diagnostic. Diagnostics without a declaration are bound
// to the target so that suppressions apply.
func (c *Context) Report(d diag.Diagnostic) {
	if d.Decl == "" {
		d.Decl = string(c.Instance.Target)
	}
	c.host.Report(d)
}

// Suppress silences code on id and its members.
func (c *Context) Suppress(code diag.Code, id decl.ID) {
	c.host.Suppress(diag.Suppression{Code: code, Decl: string(id)})
}

// AddFix publishes a code fix for the target.
func (c *Context) AddFix(title string, edits ...diag.FixEdit) {
	c.host.AddFix(diag.Fix{Title: title, Decl: string(c.Instance.Target), Edits: edits})
}

// AddAspect requests an instance of class on target. Targets are resolved in
// the working copy, so members added by this transformation are visible.
func (c *Context) AddAspect(class string, target decl.ID, args map[string]string) {
	c.host.AddAspect(c.Editor.View(), Instance{
		Class:  layer.Normalize(class),
		Target: target,
		Args:   args,
		Origin: c.Instance.String(),
	})
}

// AddSource registers a new source; its class must not have started yet.
func (c *Context) AddSource(src Source) {
	c.host.AddSource(src)
}
