package pipeline

import (
	"context"
	"sync"
	"testing"

	"loom/internal/aspect"
	"loom/internal/decl"
	"loom/internal/diag"
	"loom/internal/layer"
	"loom/internal/observ"
	"loom/internal/source"
)

// shopSnapshot builds:
//
//	shop                 namespace
//	shop.Order           type
//	shop.Order.Total     method
//	shop.Order.Tax       method
//	shop.Order.Line      type
//	shop.Order.Line.Qty  field
//	shop.Cart            type
//	shop.Cart.Add        method
//	shop.RushOrder       type : shop.Order
func shopSnapshot(t *testing.T) *decl.Snapshot {
	t.Helper()
	e := decl.Empty().Edit("")
	at := func(start uint32) decl.Origin {
		return decl.Origin{Path: "shop.cs", Span: source.Span{File: 1, Start: start, End: start + 5}}
	}
	add := func(parent decl.ID, kind decl.Kind, name string, start uint32) decl.ID {
		id, err := e.AddMember(parent, kind, name, at(start))
		if err != nil {
			t.Fatalf("AddMember(%s, %s): %v", parent, name, err)
		}
		return id
	}
	ns := add("", decl.KindNamespace, "shop", 0)
	order := add(ns, decl.KindType, "Order", 10)
	add(order, decl.KindMethod, "Total", 30)
	add(order, decl.KindMethod, "Tax", 20)
	line := add(order, decl.KindType, "Line", 60)
	add(line, decl.KindField, "Qty", 70)
	cart := add(ns, decl.KindType, "Cart", 100)
	add(cart, decl.KindMethod, "Add", 110)
	rush := add(ns, decl.KindType, "RushOrder", 130)
	if err := e.AddBase(rush, order); err != nil {
		t.Fatalf("AddBase: %v", err)
	}
	return e.Commit()
}

func xf(fn func(ctx context.Context, c *aspect.Context) (aspect.Outcome, error)) aspect.Transformation {
	return aspect.TransformationFunc(fn)
}

// tagger tags every target with tag and applies.
func tagger(tag string) aspect.Transformation {
	return xf(func(_ context.Context, c *aspect.Context) (aspect.Outcome, error) {
		if err := c.Editor.AddTag(c.Instance.Target, tag); err != nil {
			return aspect.OutcomeError, err
		}
		return aspect.OutcomeApplied, nil
	})
}

func newTestEnv(t *testing.T, opts Options, classes ...*aspect.Class) *Env {
	t.Helper()
	reg := aspect.NewRegistry()
	for _, c := range classes {
		if err := reg.Add(c); err != nil {
			t.Fatalf("register %s: %v", c.Name, err)
		}
	}
	bag := diag.NewBag(0)
	order, err := layer.Sort(reg.Specs(), opts.Constraints, diag.BagReporter{Bag: bag})
	if err != nil {
		t.Fatalf("layer.Sort: %v (%v)", err, bag.Items())
	}
	return NewEnv(opts, reg, order, &observ.Counters{})
}

func firstStage(t *testing.T, env *Env) []layer.Layer {
	t.Helper()
	stages := BuildStages(env.Order.Layers())
	if len(stages) == 0 {
		t.Fatalf("no stages")
	}
	return stages[0].Layers
}

func mustLayer(t *testing.T, env *Env, class string) layer.Layer {
	t.Helper()
	l, ok := env.Order.First(class)
	if !ok {
		t.Fatalf("no layer for class %q", class)
	}
	return l
}

func hasTag(t *testing.T, s *decl.Snapshot, id decl.ID, tag string) bool {
	t.Helper()
	d, ok := s.Lookup(id)
	if !ok {
		t.Fatalf("declaration %s missing", id)
	}
	return d.HasTag(tag)
}

func countCode(items []diag.Diagnostic, code diag.Code) int {
	n := 0
	for _, d := range items {
		if d.Code == code {
			n++
		}
	}
	return n
}

func allDiagnostics(env *Env) []diag.Diagnostic {
	items, _ := env.Acc.Diagnostics()
	return items
}

// recorder collects strings from concurrent transformations.
type recorder struct {
	mu    sync.Mutex
	items []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, s)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.items...)
}
