package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"loom/internal/aspect"
	"loom/internal/decl"
	"loom/internal/diag"
)

func runStage(t *testing.T, env *Env, snap *decl.Snapshot, seed func(*Scheduler)) (*Scheduler, *decl.Snapshot) {
	t.Helper()
	sch := NewScheduler(env, firstStage(t, env))
	seed(sch)
	out, err := sch.Run(context.Background(), snap)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return sch, out
}

func addInstance(t *testing.T, sch *Scheduler, env *Env, snap *decl.Snapshot, class string, target decl.ID) {
	t.Helper()
	if !sch.AddInstance(mustLayer(t, env, class), aspect.Instance{Class: class, Target: target, Origin: "test"}, snap) {
		t.Fatalf("AddInstance(%s, %s) rejected", class, target)
	}
}

func TestSchedulerSingleLeafInstance(t *testing.T) {
	snap := shopSnapshot(t)
	env := newTestEnv(t, Options{}, &aspect.Class{Name: "audit", Transformation: tagger("audited")})

	sch, out := runStage(t, env, snap, func(s *Scheduler) {
		addInstance(t, s, env, snap, "audit", "shop.Order.Line.Qty")
	})

	if sch.Created() != 1 {
		t.Fatalf("expected 1 unit, got %d", sch.Created())
	}
	if len(sch.History()) != 1 {
		t.Fatalf("expected 1 snapshot transition, got %d", len(sch.History()))
	}
	if env.Overflow.Len() != 0 {
		t.Fatalf("expected empty overflow, got %d", env.Overflow.Len())
	}
	if !hasTag(t, out, "shop.Order.Line.Qty", "audited") {
		t.Fatalf("target not tagged")
	}
	if hasTag(t, snap, "shop.Order.Line.Qty", "audited") {
		t.Fatalf("input snapshot was modified")
	}
	if out.Version() != snap.Version()+1 {
		t.Fatalf("version: got %d, want %d", out.Version(), snap.Version()+1)
	}
}

func TestSchedulerExecutesInKeyOrder(t *testing.T) {
	snap := shopSnapshot(t)
	env := newTestEnv(t, Options{},
		&aspect.Class{Name: "audit", Transformation: tagger("audited")},
		&aspect.Class{Name: "log", Transformation: tagger("logged")},
	)
	src := &aspect.StaticSource{SourceName: "attrs", ClassName: "audit", Items: []aspect.Request{
		{Kind: aspect.RequestExplicit, Target: "shop.Order.Line.Qty"},
		{Kind: aspect.RequestExplicit, Target: "shop.Order.Total"},
		{Kind: aspect.RequestExplicit, Target: "shop.Order"},
	}}
	sch, out := runStage(t, env, snap, func(s *Scheduler) {
		addInstance(t, s, env, snap, "log", "shop")
		addInstance(t, s, env, snap, "log", "shop.Cart.Add")
		if !s.AddSource(src) {
			t.Fatalf("source rejected")
		}
	})

	steps := sch.Steps()
	for i := 1; i < len(steps); i++ {
		if Compare(steps[i-1], steps[i]) >= 0 {
			t.Fatalf("steps out of order: %s then %s", steps[i-1], steps[i])
		}
	}
	var names []string
	for _, k := range steps {
		names = append(names, k.String())
	}
	want := []string{
		"audit/default discover",
		"audit/default 0.1 apply+0",
		"audit/default 1.2 apply+0",
		"audit/default 2.3 apply+0",
		"log/default 0.0 apply+0",
		"log/default 1.2 apply+0",
	}
	if !slices.Equal(names, want) {
		t.Fatalf("steps:\n got %v\nwant %v", names, want)
	}
	for _, id := range []decl.ID{"shop.Order", "shop.Order.Total", "shop.Order.Line.Qty"} {
		if !hasTag(t, out, id, "audited") {
			t.Fatalf("%s not audited", id)
		}
	}
	if !hasTag(t, out, "shop.Cart.Add", "logged") {
		t.Fatalf("shop.Cart.Add not logged")
	}
}

func TestSchedulerChildAcceptedParentRejected(t *testing.T) {
	snap := shopSnapshot(t)
	env := newTestEnv(t, Options{}, &aspect.Class{
		Name: "log",
		Transformation: xf(func(_ context.Context, c *aspect.Context) (aspect.Outcome, error) {
			if c.Instance.Target == "shop.Order.Line" {
				c.AddAspect("log", "shop.Order.Line.Qty", nil)
				c.AddAspect("log", "shop.Order", nil)
			}
			return aspect.OutcomeApplied, c.Editor.AddTag(c.Instance.Target, "logged")
		}),
	})

	sch, out := runStage(t, env, snap, func(s *Scheduler) {
		addInstance(t, s, env, snap, "log", "shop.Order.Line")
	})

	if sch.Created() != 2 {
		t.Fatalf("expected 2 units, got %d", sch.Created())
	}
	if !hasTag(t, out, "shop.Order.Line.Qty", "logged") {
		t.Fatalf("child contribution did not execute")
	}
	if hasTag(t, out, "shop.Order", "logged") {
		t.Fatalf("late contribution to the parent was applied")
	}
	items := allDiagnostics(env)
	if n := countCode(items, diag.SchPlacementTooLate); n != 1 {
		t.Fatalf("expected 1 placement diagnostic, got %d: %v", n, items)
	}
	if got := env.Counters.Rejected.Load(); got != 1 {
		t.Fatalf("rejected counter: %d", got)
	}
}

func TestSchedulerFiltersChildContributions(t *testing.T) {
	snap := shopSnapshot(t)
	env := newTestEnv(t, Options{},
		&aspect.Class{
			Name: "parent",
			Transformation: xf(func(_ context.Context, c *aspect.Context) (aspect.Outcome, error) {
				c.AddAspect("zmethod", "shop.Order.Line", nil)
				c.AddAspect("zmethod", "shop.Order.Total", nil)
				c.AddAspect("zmethod", "shop.Cart.Add", nil)
				return aspect.OutcomeApplied, nil
			}),
		},
		&aspect.Class{
			Name:           "zmethod",
			Transformation: tagger("method"),
			Eligible:       func(d *decl.Decl) bool { return d.Kind == decl.KindMethod },
		},
	)
	env.Acc.exclude("shop.Cart")

	_, out := runStage(t, env, snap, func(s *Scheduler) {
		addInstance(t, s, env, snap, "parent", "shop.Order")
	})

	if !hasTag(t, out, "shop.Order.Total", "method") {
		t.Fatalf("eligible child contribution was dropped")
	}
	if hasTag(t, out, "shop.Order.Line", "method") {
		t.Fatalf("ineligible type was transformed")
	}
	if hasTag(t, out, "shop.Cart.Add", "method") {
		t.Fatalf("member of an excluded type was transformed")
	}
	items := allDiagnostics(env)
	if n := countCode(items, diag.DscIneligible); n != 1 {
		t.Fatalf("expected 1 ineligible diagnostic, got %d: %v", n, items)
	}
	for _, d := range items {
		if d.Code != diag.DscIneligible {
			continue
		}
		if d.Decl != "shop.Order.Line" || len(d.Notes) != 1 || d.Notes[0].Msg != "contributed by parent@shop.Order" {
			t.Fatalf("ineligible diagnostic: %+v", d)
		}
	}
}

func TestSchedulerEmptyWorkKeepsSnapshot(t *testing.T) {
	snap := shopSnapshot(t)
	env := newTestEnv(t, Options{}, &aspect.Class{
		Name: "noop",
		Transformation: xf(func(context.Context, *aspect.Context) (aspect.Outcome, error) {
			return aspect.OutcomeApplied, nil
		}),
	})

	_, out := runStage(t, env, snap, func(*Scheduler) {})
	if out != snap {
		t.Fatalf("run without units must return the input snapshot")
	}

	sch, out := runStage(t, env, snap, func(s *Scheduler) {
		addInstance(t, s, env, snap, "noop", "shop.Order")
		addInstance(t, s, env, snap, "noop", "shop.Cart")
	})
	if out != snap {
		t.Fatalf("units without edits must return the input snapshot")
	}
	if len(sch.History()) != 0 {
		t.Fatalf("unexpected history: %d", len(sch.History()))
	}
}

func TestSchedulerParallelGroupsCommute(t *testing.T) {
	run := func(first decl.ID) *decl.Snapshot {
		snap := shopSnapshot(t)
		gate := make(chan struct{})
		env := newTestEnv(t, Options{Jobs: 2}, &aspect.Class{
			Name: "audit",
			Transformation: xf(func(_ context.Context, c *aspect.Context) (aspect.Outcome, error) {
				// the second group waits until the first one has finished editing
				if c.Instance.Target != first {
					<-gate
				}
				if _, err := c.Editor.AddMember(c.Instance.Target, decl.KindMethod, "Audit", decl.Origin{Synthesized: true}); err != nil {
					return aspect.OutcomeError, err
				}
				if err := c.Editor.AddTag(c.Instance.Target, "audited"); err != nil {
					return aspect.OutcomeError, err
				}
				if c.Instance.Target == first {
					close(gate)
				}
				return aspect.OutcomeApplied, nil
			}),
		})
		_, out := runStage(t, env, snap, func(s *Scheduler) {
			addInstance(t, s, env, snap, "audit", "shop.Order")
			addInstance(t, s, env, snap, "audit", "shop.Cart")
		})
		return out
	}

	a := run("shop.Order")
	b := run("shop.Cart")
	if !a.Equal(b) {
		t.Fatalf("completion order changed the result")
	}
	if a.Version() != b.Version() {
		t.Fatalf("versions differ: %d vs %d", a.Version(), b.Version())
	}
	for _, id := range []decl.ID{"shop.Order.Audit", "shop.Cart.Audit"} {
		if !a.Has(id) {
			t.Fatalf("%s missing", id)
		}
	}
}

func TestSchedulerErrorRollsBackEditsOnly(t *testing.T) {
	snap := shopSnapshot(t)
	env := newTestEnv(t, Options{},
		&aspect.Class{
			Name: "audit",
			Transformation: xf(func(_ context.Context, c *aspect.Context) (aspect.Outcome, error) {
				if err := c.Editor.AddTag(c.Instance.Target, "half-done"); err != nil {
					return aspect.OutcomeError, err
				}
				c.Report(diag.NewWarning(diag.XfmInfo, c.Target().Origin.Span, "audit is incomplete"))
				c.AddAspect("log", "shop.Order.Total", nil)
				return aspect.OutcomeError, fmt.Errorf("cannot audit %s", c.Instance.Target)
			}),
		},
		&aspect.Class{Name: "log", Transformation: tagger("logged")},
	)

	_, out := runStage(t, env, snap, func(s *Scheduler) {
		addInstance(t, s, env, snap, "audit", "shop.Order")
	})

	if hasTag(t, out, "shop.Order", "half-done") {
		t.Fatalf("edits of a failed instance were committed")
	}
	if !hasTag(t, out, "shop.Order.Total", "logged") {
		t.Fatalf("contribution of a failed instance was dropped")
	}
	items := allDiagnostics(env)
	if countCode(items, diag.XfmInfo) != 1 || countCode(items, diag.XfmFailed) != 1 {
		t.Fatalf("unexpected diagnostics: %v", items)
	}
	outcomes := env.Acc.Outcomes()
	if len(outcomes) != 2 || outcomes[0].Outcome != aspect.OutcomeError || outcomes[1].Outcome != aspect.OutcomeApplied {
		t.Fatalf("unexpected outcomes: %+v", outcomes)
	}
}

func TestSchedulerIgnoredInstanceContributesChild(t *testing.T) {
	snap := shopSnapshot(t)
	env := newTestEnv(t, Options{}, &aspect.Class{
		Name: "cache",
		Transformation: xf(func(_ context.Context, c *aspect.Context) (aspect.Outcome, error) {
			if err := c.Editor.AddTag(c.Instance.Target, "cached"); err != nil {
				return aspect.OutcomeError, err
			}
			if c.Instance.Target == "shop.Order" {
				c.AddAspect("cache", "shop.Order.Total", nil)
				return aspect.OutcomeIgnored, nil
			}
			return aspect.OutcomeApplied, nil
		}),
	})

	_, out := runStage(t, env, snap, func(s *Scheduler) {
		addInstance(t, s, env, snap, "cache", "shop.Order")
	})

	if hasTag(t, out, "shop.Order", "cached") {
		t.Fatalf("ignored instance left edits behind")
	}
	if !hasTag(t, out, "shop.Order.Total", "cached") {
		t.Fatalf("child of an ignored instance did not run")
	}
	if items := allDiagnostics(env); len(items) != 0 {
		t.Fatalf("ignored outcome must not report: %v", items)
	}
}

func TestSchedulerOverflowToLaterStage(t *testing.T) {
	snap := shopSnapshot(t)
	env := newTestEnv(t, Options{},
		&aspect.Class{
			Name: "audit",
			Transformation: xf(func(_ context.Context, c *aspect.Context) (aspect.Outcome, error) {
				c.AddAspect("weave", c.Instance.Target, map[string]string{"mode": "il"})
				return aspect.OutcomeApplied, nil
			}),
		},
		&aspect.Class{Name: "weave", Transformer: "il"},
	)
	if got := len(firstStage(t, env)); got != 1 {
		t.Fatalf("first stage should hold only the audit layer, got %d", got)
	}

	sch, _ := runStage(t, env, snap, func(s *Scheduler) {
		addInstance(t, s, env, snap, "audit", "shop.Order")
	})

	if sch.Created() != 1 {
		t.Fatalf("weave work leaked into the audit scheduler: %d units", sch.Created())
	}
	entries := env.Overflow.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 overflow entry, got %d", len(entries))
	}
	e := entries[0]
	if e.IsSource() || e.Layer.ID.Class != "weave" || e.Instance.Target != "shop.Order" || e.Instance.Arg("mode", "") != "il" {
		t.Fatalf("unexpected overflow entry: %+v", e)
	}
	if got := env.Counters.Overflowed.Load(); got != 1 {
		t.Fatalf("overflowed counter: %d", got)
	}
}

func TestSchedulerAdviceDepth(t *testing.T) {
	snap := shopSnapshot(t)
	sibling := map[decl.ID]decl.ID{"shop.Order": "shop.Cart", "shop.Cart": "shop.Order"}
	env := newTestEnv(t, Options{MaxAdviceDepth: 2}, &aspect.Class{
		Name: "log",
		Transformation: xf(func(_ context.Context, c *aspect.Context) (aspect.Outcome, error) {
			c.AddAspect("log", sibling[c.Instance.Target], nil)
			return aspect.OutcomeApplied, nil
		}),
	})

	sch, _ := runStage(t, env, snap, func(s *Scheduler) {
		addInstance(t, s, env, snap, "log", "shop.Order")
	})

	var names []string
	for _, k := range sch.Steps() {
		names = append(names, k.String())
	}
	want := []string{
		"log/default 0.1 apply+0",
		"log/default 0.1 apply+1",
		"log/default 0.1 apply+2",
	}
	if !slices.Equal(names, want) {
		t.Fatalf("steps:\n got %v\nwant %v", names, want)
	}
	if n := countCode(allDiagnostics(env), diag.SchAdviceDepthExceeded); n != 1 {
		t.Fatalf("expected 1 advice depth diagnostic, got %d", n)
	}
}

func TestSchedulerIndexWithinType(t *testing.T) {
	snap := shopSnapshot(t)
	rec := &recorder{}
	env := newTestEnv(t, Options{}, &aspect.Class{
		Name: "log",
		Transformation: xf(func(_ context.Context, c *aspect.Context) (aspect.Outcome, error) {
			rec.add(fmt.Sprintf("%s#%d", c.Instance.Target, c.IndexWithinType))
			return aspect.OutcomeApplied, nil
		}),
	})

	runStage(t, env, snap, func(s *Scheduler) {
		addInstance(t, s, env, snap, "log", "shop.Order.Total")
		addInstance(t, s, env, snap, "log", "shop.Order.Tax")
	})

	// Tax is declared before Total in the source file
	want := []string{"shop.Order.Tax#0", "shop.Order.Total#1"}
	if got := rec.list(); !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSchedulerPanicAndScopeViolation(t *testing.T) {
	snap := shopSnapshot(t)
	env := newTestEnv(t, Options{},
		&aspect.Class{
			Name: "boom",
			Transformation: xf(func(context.Context, *aspect.Context) (aspect.Outcome, error) {
				panic("boom")
			}),
		},
		&aspect.Class{
			Name: "reach",
			Transformation: xf(func(_ context.Context, c *aspect.Context) (aspect.Outcome, error) {
				return aspect.OutcomeApplied, c.Editor.AddTag("shop.Cart", "touched")
			}),
		},
	)

	_, out := runStage(t, env, snap, func(s *Scheduler) {
		addInstance(t, s, env, snap, "boom", "shop.Order")
		addInstance(t, s, env, snap, "reach", "shop.Order.Total")
	})

	if hasTag(t, out, "shop.Cart", "touched") {
		t.Fatalf("edit outside the declaring type was committed")
	}
	items := allDiagnostics(env)
	if countCode(items, diag.XfmPanicked) != 1 {
		t.Fatalf("expected a panic diagnostic: %v", items)
	}
	if countCode(items, diag.XfmScopeViolation) != 1 {
		t.Fatalf("expected a scope diagnostic: %v", items)
	}
	for _, o := range env.Acc.Outcomes() {
		if o.Outcome != aspect.OutcomeError {
			t.Fatalf("%s: outcome %s", o.Instance, o.Outcome)
		}
	}
}

func TestSchedulerCancellation(t *testing.T) {
	snap := shopSnapshot(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env := newTestEnv(t, Options{}, &aspect.Class{
		Name: "stop",
		Transformation: xf(func(_ context.Context, c *aspect.Context) (aspect.Outcome, error) {
			cancel()
			return aspect.OutcomeApplied, c.Editor.AddTag(c.Instance.Target, "seen")
		}),
	})
	sch := NewScheduler(env, firstStage(t, env))
	addInstance(t, sch, env, snap, "stop", "shop.Order")
	addInstance(t, sch, env, snap, "stop", "shop.Order.Total")

	out, err := sch.Run(ctx, snap)
	if out != nil {
		t.Fatalf("cancelled run returned a snapshot")
	}
	if !errors.Is(err, ErrCancelled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected error: %v", err)
	}
	if sch.Pending() != 1 {
		t.Fatalf("expected the second unit to stay pending, got %d", sch.Pending())
	}
}

func TestSchedulerRejectsUnknownTargets(t *testing.T) {
	snap := shopSnapshot(t)
	env := newTestEnv(t, Options{}, &aspect.Class{Name: "log", Transformation: tagger("logged")})
	sch := NewScheduler(env, firstStage(t, env))

	if sch.AddInstance(mustLayer(t, env, "log"), aspect.Instance{Class: "log", Target: "shop.Missing"}, snap) {
		t.Fatalf("instance on a missing target accepted")
	}
	if n := countCode(allDiagnostics(env), diag.SchTargetMissing); n != 1 {
		t.Fatalf("expected a missing target diagnostic, got %d", n)
	}
}
