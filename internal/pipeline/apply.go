package pipeline

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"golang.org/x/sync/errgroup"

	"loom/internal/aspect"
	"loom/internal/decl"
	"loom/internal/diag"
	"loom/internal/trace"
)

// runApply executes one apply unit. Instances are grouped by declaring type;
// groups run in parallel against the same input snapshot and their deltas
// are replayed onto it in group order once all workers are done.
func (s *Scheduler) runApply(ctx context.Context, key StepKey, instances []aspect.Instance, input *decl.Snapshot) (*decl.Snapshot, error) {
	groups := make(map[decl.ID][]aspect.Instance)
	for _, inst := range instances {
		if !input.Has(inst.Target) {
			// цель исчезла: её создал откатанный экземпляр
			diag.ReportWarning(s.env.Acc, diag.SchTargetMissing, input.SpanOf(inst.Target),
				fmt.Sprintf("%s skipped at %s: target no longer exists", inst, key)).
				OnDecl(string(inst.Target)).
				Emit()
			continue
		}
		root := input.DeclaringType(inst.Target)
		groups[root] = append(groups[root], inst)
	}
	if len(groups) == 0 {
		return input, nil
	}
	roots := slices.Sorted(maps.Keys(groups))

	deltas := make([]decl.Delta, len(roots))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.env.Options.jobs())
	for i, root := range roots {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			delta, err := s.applyGroup(gctx, key, root, groups[root], input)
			if err != nil {
				return err
			}
			deltas[i] = delta
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out, err := input.Apply(deltas...)
	if err != nil {
		assertf("merging %s: %v", key, err)
	}
	return out, nil
}

// applyGroup runs the instances of one declaring type in position order over
// a private growing snapshot and returns the committed edits.
func (s *Scheduler) applyGroup(ctx context.Context, key StepKey, root decl.ID, instances []aspect.Instance, input *decl.Snapshot) (decl.Delta, error) {
	sortByPosition(input, instances)
	cur := input
	var delta decl.Delta
	for idx, inst := range instances {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ed := cur.Edit(root)
		if s.invoke(ctx, key, idx, inst, ed) == aspect.OutcomeApplied && ed.Changed() {
			delta = append(delta, ed.Delta()...)
			cur = ed.Commit()
		}
	}
	return delta, nil
}

// invoke runs one transformation and records its outcome. Diagnostics and
// contributions made by the instance are kept whatever the outcome.
func (s *Scheduler) invoke(ctx context.Context, key StepKey, idx int, inst aspect.Instance, ed *decl.Editor) aspect.Outcome {
	s.env.Counters.Instances.Add(1)
	span := trace.Begin(s.tracer, trace.ScopeInstance, "instance:"+inst.String(), s.step).
		WithExtra("index", strconv.Itoa(idx))
	record := InstanceOutcome{Key: key, Instance: inst, Index: idx}

	class, ok := s.env.Registry.Lookup(inst.Class)
	if !ok || class.Transformation == nil {
		record.Outcome = aspect.OutcomeError
		record.Message = fmt.Sprintf("class %q has no transformation", inst.Class)
		diag.ReportError(s.env.Acc, diag.XfmUnknownClass, ed.View().SpanOf(inst.Target), record.Message).
			OnDecl(string(inst.Target)).
			Emit()
		s.env.Acc.addOutcome(record)
		span.End(record.Outcome.String())
		return record.Outcome
	}

	target := ed.View().SpanOf(inst.Target)
	host := &instanceHost{
		s:   s,
		c:   contribution{from: &key, by: inst.String(), bySpan: target},
		acc: s.env.Acc,
	}
	outcome, panicked, err := runTransformation(ctx, class.Transformation, aspect.NewContext(inst, key.Layer, idx, ed, host))
	switch {
	case panicked:
		outcome = aspect.OutcomeError
		diag.ReportError(s.env.Acc, diag.XfmPanicked, target,
			fmt.Sprintf("%s panicked at %s: %v", inst, key, err)).
			OnDecl(string(inst.Target)).
			Emit()
	case errors.Is(err, decl.ErrOutOfScope):
		outcome = aspect.OutcomeError
		diag.ReportError(s.env.Acc, diag.XfmScopeViolation, target,
			fmt.Sprintf("%s edited outside %s: %v", inst, ed.Scope(), err)).
			OnDecl(string(inst.Target)).
			Emit()
	case err != nil || outcome == aspect.OutcomeError:
		outcome = aspect.OutcomeError
		msg := fmt.Sprintf("%s failed at %s", inst, key)
		if err != nil {
			msg += ": " + err.Error()
		}
		diag.ReportError(s.env.Acc, diag.XfmFailed, target, msg).
			OnDecl(string(inst.Target)).
			Emit()
	case outcome != aspect.OutcomeApplied && outcome != aspect.OutcomeIgnored:
		err = fmt.Errorf("invalid outcome %d", outcome)
		outcome = aspect.OutcomeError
		diag.ReportError(s.env.Acc, diag.XfmFailed, target,
			fmt.Sprintf("%s returned %v", inst, err)).
			OnDecl(string(inst.Target)).
			Emit()
	}
	record.Outcome = outcome
	if err != nil {
		record.Message = err.Error()
	}
	s.env.Acc.addOutcome(record)
	span.End(outcome.String())
	return outcome
}

// runTransformation converts panics of user code into errors. Broken
// scheduler invariants keep unwinding.
func runTransformation(ctx context.Context, t aspect.Transformation, c *aspect.Context) (outcome aspect.Outcome, panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			if ae, ok := r.(*AssertionError); ok {
				panic(ae)
			}
			outcome, panicked, err = aspect.OutcomeError, true, fmt.Errorf("%v", r)
		}
	}()
	outcome, err = t.Apply(ctx, c)
	return outcome, false, err
}

// instanceHost routes the side effects of one instance.
type instanceHost struct {
	s   *Scheduler
	c   contribution
	acc *Accumulator
}

func (h *instanceHost) Report(d diag.Diagnostic)   { h.acc.Report(d) }
func (h *instanceHost) Suppress(s diag.Suppression) { h.acc.Suppress(s) }
func (h *instanceHost) AddFix(f diag.Fix)           { h.acc.AddFix(f) }

func (h *instanceHost) AddAspect(view *decl.Snapshot, inst aspect.Instance) {
	h.s.contributeClass(h.c, view, inst)
}

func (h *instanceHost) AddSource(src aspect.Source) {
	h.s.contributeSource(h.c, src)
}
