// Package aspect describes transformation classes, their instances and the
// sources that request them. It knows nothing about scheduling: the pipeline
// package drives classes through their layers.
package aspect

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"loom/internal/decl"
	"loom/internal/source"
)

// Outcome classifies the result of one transformation instance.
type Outcome uint8

const (
	// OutcomeApplied commits the instance's edits.
	OutcomeApplied Outcome = iota + 1
	// OutcomeIgnored discards the edits without reporting an error.
	OutcomeIgnored
	// OutcomeError discards the edits; the failure is reported.
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeError:
		return "error"
	}
	return "unknown"
}

// Transformation is the user-authored code of a class. It is invoked once per
// instance and layer. Returning a non-nil error implies OutcomeError.
type Transformation interface {
	Apply(ctx context.Context, c *Context) (Outcome, error)
}

// TransformationFunc adapts a function to Transformation.
type TransformationFunc func(ctx context.Context, c *Context) (Outcome, error)

func (f TransformationFunc) Apply(ctx context.Context, c *Context) (Outcome, error) {
	return f(ctx, c)
}

// Class is a registered transformation class.
type Class struct {
	Name          string
	Layers        []string // empty: one default layer
	ExplicitOrder int
	// Transformer delegates every layer of the class to a low-level
	// transformer; Transformation is not used then.
	Transformer    string
	Transformation Transformation
	// Eligible decides whether d is a legal target; nil accepts everything.
	Eligible func(d *decl.Decl) bool
	Span     source.Span
}

// IsEligible applies the class eligibility hook.
func (c *Class) IsEligible(d *decl.Decl) bool {
	if d == nil {
		return false
	}
	return c.Eligible == nil || c.Eligible(d)
}

// Instance is one application of a class to a target declaration.
type Instance struct {
	Class  string
	Target decl.ID
	Args   map[string]string // read-only after creation
	// Origin names whatever produced the instance: a source name or the
	// instance that contributed it.
	Origin    string
	Inherited bool
	Required  bool
}

func (i Instance) String() string {
	return i.Class + "@" + string(i.Target)
}

// Arg returns an argument or def when missing.
func (i Instance) Arg(name, def string) string {
	if v, ok := i.Args[name]; ok {
		return v
	}
	return def
}

// ArgsString renders args sorted by key, used in traces and reports.
func (i Instance) ArgsString() string {
	if len(i.Args) == 0 {
		return ""
	}
	keys := slices.Sorted(maps.Keys(i.Args))
	parts := make([]string, len(keys))
	for n, k := range keys {
		parts[n] = fmt.Sprintf("%s=%s", k, i.Args[k])
	}
	return strings.Join(parts, ",")
}

// RequestKind tells discovery how to treat a request.
type RequestKind uint8

const (
	RequestExplicit RequestKind = iota + 1
	// RequestInheritable applies to the target and to every type derived
	// from it, including types that do not exist yet.
	RequestInheritable
	// RequestRequired forces an instance; an ineligible target is an error.
	RequestRequired
	// RequestExclude excludes the target and all nested declarations.
	RequestExclude
)

func (k RequestKind) String() string {
	switch k {
	case RequestExplicit:
		return "explicit"
	case RequestInheritable:
		return "inheritable"
	case RequestRequired:
		return "required"
	case RequestExclude:
		return "exclude"
	}
	return "unknown"
}

// ParseRequestKind converts the textual form used in scenario files.
func ParseRequestKind(s string) (RequestKind, bool) {
	switch strings.ToLower(s) {
	case "", "explicit":
		return RequestExplicit, true
	case "inheritable", "inherit":
		return RequestInheritable, true
	case "required":
		return RequestRequired, true
	case "exclude":
		return RequestExclude, true
	}
	return 0, false
}

// Request asks for one instance of the source's class.
type Request struct {
	Kind   RequestKind
	Target decl.ID
	Args   map[string]string
	Span   source.Span
}

// Source produces requests for one class against a snapshot.
type Source interface {
	Name() string
	Class() string
	Requests(ctx context.Context, snap *decl.Snapshot) ([]Request, error)
}

// StaticSource is a Source with a fixed request list.
type StaticSource struct {
	SourceName string
	ClassName  string
	Items      []Request
}

func (s *StaticSource) Name() string  { return s.SourceName }
func (s *StaticSource) Class() string { return s.ClassName }

func (s *StaticSource) Requests(context.Context, *decl.Snapshot) ([]Request, error) {
	return slices.Clone(s.Items), nil
}
