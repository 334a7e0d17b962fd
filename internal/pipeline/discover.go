package pipeline

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"loom/internal/aspect"
	"loom/internal/decl"
	"loom/internal/diag"
	"loom/internal/source"
)

// discovery is the result of evaluating sources against one snapshot.
type discovery struct {
	// instances are schedulable now: concrete, required and instances
	// inherited by types that already exist.
	instances []aspect.Instance
	// inheritable must also reach derived types materialized later.
	inheritable []aspect.Instance
}

type pendingRequest struct {
	src   aspect.Source
	class *aspect.Class
	req   aspect.Request
}

// discover evaluates sources. Exclusions of every source are applied before
// any request is resolved, and persist for the rest of the run.
func discover(ctx context.Context, env *Env, snap *decl.Snapshot, sources []aspect.Source) (discovery, error) {
	sources = slices.Clone(sources)
	slices.SortStableFunc(sources, func(a, b aspect.Source) int {
		return cmp.Or(strings.Compare(a.Class(), b.Class()), strings.Compare(a.Name(), b.Name()))
	})

	var pending []pendingRequest
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return discovery{}, err
		}
		class, ok := env.Registry.Lookup(src.Class())
		if !ok {
			diag.ReportError(env.Acc, diag.DscUnknownClass, source.Span{},
				fmt.Sprintf("source %q references unknown class %q", src.Name(), src.Class())).
				Emit()
			continue
		}
		reqs, err := src.Requests(ctx, snap)
		if err != nil {
			if ctx.Err() != nil {
				return discovery{}, ctx.Err()
			}
			diag.ReportError(env.Acc, diag.DscSourceFailed, source.Span{},
				fmt.Sprintf("source %q failed: %v", src.Name(), err)).
				Emit()
			continue
		}
		for _, req := range reqs {
			if req.Kind == aspect.RequestExclude {
				env.Acc.exclude(req.Target)
				continue
			}
			pending = append(pending, pendingRequest{src: src, class: class, req: req})
		}
	}

	var out discovery
	// one instance per class and target; a direct request replaces an
	// inherited instance recorded before it
	seen := make(map[string]int)
	add := func(inst aspect.Instance) {
		key := inst.Class + "\x00" + string(inst.Target)
		if i, dup := seen[key]; dup {
			if out.instances[i].Inherited && !inst.Inherited {
				out.instances[i] = inst
			}
			return
		}
		seen[key] = len(out.instances)
		out.instances = append(out.instances, inst)
	}

	for _, p := range pending {
		req := p.req
		d, ok := snap.Lookup(req.Target)
		if !ok {
			diag.ReportWarning(env.Acc, diag.DscTargetNotFound, req.Span,
				fmt.Sprintf("source %q targets unknown declaration %q", p.src.Name(), req.Target)).
				Emit()
			continue
		}
		if env.Acc.isExcluded(snap, req.Target) {
			continue
		}
		if !p.class.IsEligible(d) {
			if req.Kind == aspect.RequestRequired {
				diag.ReportError(env.Acc, diag.DscRequiredIneligible, d.Origin.Span,
					fmt.Sprintf("%s %q cannot receive required class %q", d.Kind, d.ID, p.class.Name)).
					OnDecl(string(d.ID)).
					WithNote(req.Span, "required by source "+p.src.Name()).
					Emit()
			} else {
				diag.ReportWarning(env.Acc, diag.DscIneligible, d.Origin.Span,
					fmt.Sprintf("%s %q is not eligible for class %q", d.Kind, d.ID, p.class.Name)).
					OnDecl(string(d.ID)).
					Emit()
			}
			continue
		}

		inst := aspect.Instance{
			Class:    p.class.Name,
			Target:   req.Target,
			Args:     req.Args,
			Origin:   p.src.Name(),
			Required: req.Kind == aspect.RequestRequired,
		}
		add(inst)
		if req.Kind != aspect.RequestInheritable {
			continue
		}
		out.inheritable = append(out.inheritable, inst)
		for _, id := range snap.Derived(req.Target) {
			if derived, ok := inheritedInstance(env, snap, p.class, inst, id); ok {
				add(derived)
			}
		}
	}
	return out, nil
}

// inheritedInstance builds the instance inherited by derived type id, unless
// it is excluded, ineligible or already covered.
func inheritedInstance(env *Env, snap *decl.Snapshot, class *aspect.Class, base aspect.Instance, id decl.ID) (aspect.Instance, bool) {
	d, ok := snap.Lookup(id)
	if !ok || env.Acc.isExcluded(snap, id) || !class.IsEligible(d) {
		return aspect.Instance{}, false
	}
	if !env.Acc.cover(class.Name, id) {
		return aspect.Instance{}, false
	}
	return aspect.Instance{
		Class:     base.Class,
		Target:    id,
		Args:      base.Args,
		Origin:    base.String(),
		Inherited: true,
	}, true
}

// runDiscover executes a discover unit. It never changes the snapshot.
func (s *Scheduler) runDiscover(ctx context.Context, key StepKey, sources []aspect.Source, input *decl.Snapshot) (*decl.Snapshot, error) {
	found, err := discover(ctx, s.env, input, sources)
	if err != nil {
		return nil, err
	}
	for _, inst := range found.instances {
		c := contribution{from: &key, by: inst.Origin, bySpan: input.SpanOf(inst.Target)}
		s.contributeClass(c, input, inst)
	}
	for _, inst := range found.inheritable {
		s.env.Acc.addInheritable(inst)
	}
	return input, nil
}
