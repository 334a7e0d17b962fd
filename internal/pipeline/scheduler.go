package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/btree"

	"loom/internal/aspect"
	"loom/internal/decl"
	"loom/internal/diag"
	"loom/internal/layer"
	"loom/internal/source"
	"loom/internal/trace"
)

// ErrCancelled wraps the context error of an aborted run.
var ErrCancelled = errors.New("pipeline cancelled")

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}

// contribution describes who is proposing work.
type contribution struct {
	from   *StepKey // nil for work seeded by the stage driver
	by     string
	bySpan source.Span
}

// Scheduler executes the WorkUnits of one high-level stage in key order over
// a single evolving snapshot. Contributions may arrive from apply workers
// while a unit runs; everything else happens on the Run goroutine.
type Scheduler struct {
	env      *Env
	layers   []layer.Layer
	owned    map[layer.ID]bool
	maxOrder int

	mu      sync.Mutex
	index   *btree.BTreeG[*unit]
	cursor  StepKey
	started bool
	created int

	current *decl.Snapshot
	history []*decl.Snapshot
	steps   []StepKey

	tracer trace.Tracer
	step   uint64 // span of the executing unit
}

// NewScheduler creates a scheduler owning layers (a consecutive range of the
// static order).
func NewScheduler(env *Env, layers []layer.Layer) *Scheduler {
	s := &Scheduler{
		env:      env,
		layers:   append([]layer.Layer(nil), layers...),
		owned:    make(map[layer.ID]bool, len(layers)),
		maxOrder: -1,
		index:    btree.NewG(16, unitLess),
		tracer:   trace.Nop,
	}
	for _, l := range layers {
		s.owned[l.ID] = true
		s.maxOrder = max(s.maxOrder, l.Order)
	}
	return s
}

// Owns reports whether l belongs to this scheduler.
func (s *Scheduler) Owns(id layer.ID) bool { return s.owned[id] }

// AddInstance seeds an instance for layer l, resolving its target in view.
func (s *Scheduler) AddInstance(l layer.Layer, inst aspect.Instance, view *decl.Snapshot) bool {
	return s.contributeInstance(contribution{by: inst.Origin}, view, inst, l)
}

// AddSource seeds a source for the discover step of its class.
func (s *Scheduler) AddSource(src aspect.Source) bool {
	return s.contributeSource(contribution{by: src.Name()}, src)
}

// History returns the snapshots derived during Run, oldest first.
func (s *Scheduler) History() []*decl.Snapshot {
	return append([]*decl.Snapshot(nil), s.history...)
}

// Executed returns the number of units run so far.
func (s *Scheduler) Executed() int { return len(s.steps) }

// Steps returns the keys of executed units in execution order.
func (s *Scheduler) Steps() []StepKey {
	return append([]StepKey(nil), s.steps...)
}

// Created returns the number of units ever created.
func (s *Scheduler) Created() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created
}

// Pending returns the number of units not yet executed.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	s.index.Ascend(func(u *unit) bool {
		if !u.consumed {
			n++
		}
		return true
	})
	return n
}

// Run executes units in ascending key order until none is left. Each unit
// sees the snapshot produced by its predecessor. Cancellation is checked
// between units; a cancelled run returns no snapshot.
func (s *Scheduler) Run(ctx context.Context, snap *decl.Snapshot) (*decl.Snapshot, error) {
	s.current = snap
	s.tracer = trace.FromContext(ctx)
	parent := trace.CurrentSpan(ctx)

	var prev *StepKey
	for {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err)
		}
		u, insts, srcs := s.next()
		if u == nil {
			break
		}
		if s.env.Options.Strict && prev != nil && Compare(*prev, u.key) >= 0 {
			assertf("step %s executed after %s", u.key, *prev)
		}
		key := u.key
		prev = &key
		s.env.enterLayer(key.Layer)

		span := trace.Begin(s.tracer, trace.ScopeStep, "step:"+key.String(), parent)
		s.step = span.ID()

		var (
			out *decl.Snapshot
			err error
		)
		switch key.Phase {
		case PhaseDiscover:
			out, err = s.runDiscover(ctx, key, srcs, s.current)
		case PhaseApply:
			out, err = s.runApply(ctx, key, insts, s.current)
		default:
			assertf("unit %s has no phase", key)
		}
		if err != nil {
			span.End("cancelled")
			return nil, cancelled(err)
		}
		s.steps = append(s.steps, key)
		s.env.Counters.Units.Add(1)
		if out != s.current {
			s.history = append(s.history, out)
			s.current = out
		}
		span.WithExtra("version", strconv.FormatUint(out.Version(), 10)).End("")
	}
	return s.current, nil
}

// next moves the cursor to the lowest unit after it and consumes it.
func (s *Scheduler) next() (*unit, []aspect.Instance, []aspect.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *unit
	visit := func(u *unit) bool {
		if s.started && Compare(u.key, s.cursor) <= 0 {
			return true
		}
		found = u
		return false
	}
	if s.started {
		s.index.AscendGreaterOrEqual(&unit{key: s.cursor}, visit)
	} else {
		s.index.Ascend(visit)
	}
	if found == nil {
		return nil, nil, nil
	}
	s.cursor = found.key
	s.started = true
	insts, srcs := found.take()
	return found, insts, srcs
}

// unitFor returns the unit for key, creating it. Callers hold s.mu.
func (s *Scheduler) unitFor(key StepKey) *unit {
	probe := &unit{key: key}
	if u, ok := s.index.Get(probe); ok {
		return u
	}
	s.index.ReplaceOrInsert(probe)
	s.created++
	return probe
}

// contributeClass contributes inst to every layer of its class. Excluded
// targets are dropped silently, ineligible ones with a warning.
func (s *Scheduler) contributeClass(c contribution, view *decl.Snapshot, inst aspect.Instance) {
	layers := s.env.Order.OfClass(inst.Class)
	class, known := s.env.Registry.Lookup(inst.Class)
	if len(layers) == 0 || !known {
		diag.ReportError(s.env.Acc, diag.XfmUnknownClass, c.bySpan,
			fmt.Sprintf("%s requests unknown class %q", c.by, inst.Class)).
			OnDecl(string(inst.Target)).
			Emit()
		return
	}
	if d, ok := view.Lookup(inst.Target); ok {
		if s.env.Acc.isExcluded(view, inst.Target) {
			trace.Point(s.tracer, trace.ScopeStep, "excluded", inst.String(), s.step)
			return
		}
		if !class.IsEligible(d) {
			b := diag.ReportWarning(s.env.Acc, diag.DscIneligible, d.Origin.Span,
				fmt.Sprintf("%s %q is not eligible for class %q", d.Kind, d.ID, class.Name)).
				OnDecl(string(d.ID))
			if c.by != "" {
				b = b.WithNote(c.bySpan, "contributed by "+c.by)
			}
			b.Emit()
			return
		}
	}
	for _, l := range layers {
		s.contributeInstance(c, view, inst, l)
	}
}

func (s *Scheduler) contributeInstance(c contribution, view *decl.Snapshot, inst aspect.Instance, l layer.Layer) bool {
	d, ok := view.Lookup(inst.Target)
	if !ok {
		diag.ReportError(s.env.Acc, diag.SchTargetMissing, c.bySpan,
			fmt.Sprintf("%s targets unknown declaration %q", inst, inst.Target)).
			Emit()
		return false
	}
	key := ApplyKey(l, view.TypeDepth(inst.Target), view.Depth(inst.Target), 0)
	if f := c.from; f != nil && f.Phase == PhaseApply && f.Layer.ID == l.ID &&
		f.TypeDepth == key.TypeDepth && f.DeclDepth == key.DeclDepth {
		advice := int(f.AdviceDepth) + 1
		if advice > s.env.Options.maxAdviceDepth() {
			diag.ReportError(s.env.Acc, diag.SchAdviceDepthExceeded, d.Origin.Span,
				fmt.Sprintf("%s nests more than %d contributions at %s", inst, s.env.Options.maxAdviceDepth(), *f)).
				OnDecl(string(inst.Target)).
				WithNote(c.bySpan, "contributed by "+c.by).
				Emit()
			s.env.Counters.Rejected.Add(1)
			return false
		}
		key.AdviceDepth = depth16(advice)
	}

	if !s.owned[l.ID] {
		if l.Order > s.maxOrder {
			s.env.Overflow.PutInstance(l, inst)
			s.env.Counters.Overflowed.Add(1)
			trace.Point(s.tracer, trace.ScopeStep, "overflow", inst.String()+" -> "+l.ID.String(), s.step)
			return true
		}
		s.rejectLate(c, d, inst, key, "stage of layer "+l.ID.String()+" already ran")
		return false
	}

	s.mu.Lock()
	if s.started && Compare(key, s.cursor) <= 0 {
		cursor := s.cursor
		s.mu.Unlock()
		s.rejectLate(c, d, inst, key, "step "+cursor.String()+" is executing")
		return false
	}
	s.unitFor(key).addInstance(inst)
	s.mu.Unlock()
	return true
}

func (s *Scheduler) contributeSource(c contribution, src aspect.Source) bool {
	first, ok := s.env.Order.First(src.Class())
	if !ok {
		diag.ReportError(s.env.Acc, diag.DscUnknownClass, c.bySpan,
			fmt.Sprintf("source %q references unknown class %q", src.Name(), src.Class())).
			Emit()
		return false
	}
	if !s.owned[first.ID] {
		if first.Order > s.maxOrder {
			s.env.Overflow.PutSource(first, src)
			s.env.Counters.Overflowed.Add(1)
			return true
		}
		s.rejectSourceLate(c, src, DiscoverKey(first))
		return false
	}
	key := DiscoverKey(first)
	s.mu.Lock()
	if s.started && Compare(key, s.cursor) <= 0 {
		s.mu.Unlock()
		s.rejectSourceLate(c, src, key)
		return false
	}
	s.unitFor(key).addSource(src)
	s.mu.Unlock()
	return true
}

func (s *Scheduler) rejectLate(c contribution, d *decl.Decl, inst aspect.Instance, key StepKey, why string) {
	s.env.Counters.Rejected.Add(1)
	trace.Point(s.tracer, trace.ScopeStep, "reject", inst.String()+" @ "+key.String(), s.step)
	b := diag.ReportError(s.env.Acc, diag.SchPlacementTooLate, d.Origin.Span,
		fmt.Sprintf("%s cannot be placed at %s: %s", inst, key, why)).
		OnDecl(string(inst.Target))
	if c.by != "" {
		b = b.WithNote(c.bySpan, "contributed by "+c.by)
	}
	b.Emit()
}

func (s *Scheduler) rejectSourceLate(c contribution, src aspect.Source, key StepKey) {
	s.env.Counters.Rejected.Add(1)
	b := diag.ReportError(s.env.Acc, diag.SchPlacementTooLate, c.bySpan,
		fmt.Sprintf("source %q cannot be evaluated: %s already passed", src.Name(), key))
	if c.by != "" && c.by != src.Name() {
		b = b.WithNote(c.bySpan, "contributed by "+c.by)
	}
	b.Emit()
}
