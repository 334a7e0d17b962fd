package pipeline

import (
	"context"
	"fmt"
	"strconv"

	"loom/internal/aspect"
	"loom/internal/decl"
	"loom/internal/diag"
	"loom/internal/layer"
	"loom/internal/observ"
	"loom/internal/source"
	"loom/internal/trace"
)

// StageKind tells how a stage executes.
type StageKind uint8

const (
	// StageHighLevel runs cooperating layers through one Scheduler.
	StageHighLevel StageKind = iota + 1
	// StageLowLevel hands all instances to one external Transformer call.
	StageLowLevel
)

func (k StageKind) String() string {
	switch k {
	case StageHighLevel:
		return "high-level"
	case StageLowLevel:
		return "low-level"
	}
	return "unknown"
}

// Stage is a maximal run of consecutive layers executed together.
type Stage struct {
	Index       int
	Kind        StageKind
	Layers      []layer.Layer
	Transformer string // StageLowLevel only
}

// Name identifies the stage in traces, timings and halt reports.
func (s Stage) Name() string {
	if len(s.Layers) == 0 {
		return fmt.Sprintf("stage %d", s.Index)
	}
	first, last := s.Layers[0].ID, s.Layers[len(s.Layers)-1].ID
	if first == last {
		return fmt.Sprintf("stage %d [%s]", s.Index, first)
	}
	return fmt.Sprintf("stage %d [%s..%s]", s.Index, first, last)
}

// Owns reports whether the stage contains layer id.
func (s Stage) Owns(id layer.ID) bool {
	for _, l := range s.Layers {
		if l.ID == id {
			return true
		}
	}
	return false
}

func (s Stage) lastOrder() int {
	if len(s.Layers) == 0 {
		return -1
	}
	return s.Layers[len(s.Layers)-1].Order
}

// BuildStages groups statically ordered layers. Consecutive layers sharing a
// transformer form one low-level stage; every other run of consecutive
// layers forms one high-level stage.
func BuildStages(layers []layer.Layer) []Stage {
	var stages []Stage
	for _, l := range layers {
		kind := StageHighLevel
		if l.LowLevel() {
			kind = StageLowLevel
		}
		if n := len(stages); n > 0 {
			last := &stages[n-1]
			if last.Kind == kind && last.Transformer == l.Transformer {
				last.Layers = append(last.Layers, l)
				continue
			}
		}
		stages = append(stages, Stage{
			Index:       len(stages) + 1,
			Kind:        kind,
			Layers:      []layer.Layer{l},
			Transformer: l.Transformer,
		})
	}
	return stages
}

// StageReport summarizes one executed stage.
type StageReport struct {
	Name      string    `json:"name" msgpack:"name"`
	Kind      StageKind `json:"kind" msgpack:"kind"`
	Units     int       `json:"units" msgpack:"units"`
	Instances int       `json:"instances" msgpack:"instances"`
	Changed   bool      `json:"changed" msgpack:"changed"`
	Failed    bool      `json:"failed" msgpack:"failed"`
	Steps     []string  `json:"steps,omitempty" msgpack:"steps,omitempty"`
}

// stageDriver sequences stages over the evolving snapshot.
type stageDriver struct {
	env          *Env
	stages       []Stage
	transformers map[string]Transformer
	timer        *observ.Timer
}

type driveResult struct {
	snapshot *decl.Snapshot
	history  []*decl.Snapshot
	stages   []StageReport
	halted   string
}

// run executes all stages. A stage that reports an unsuppressed error halts
// the run; its output is discarded and later stages do not run. Cancellation
// aborts with an error and no snapshot.
func (d *stageDriver) run(ctx context.Context, snap *decl.Snapshot) (driveResult, error) {
	tracer := trace.FromContext(ctx)
	parent := trace.CurrentSpan(ctx)
	res := driveResult{snapshot: snap}

	for _, st := range d.stages {
		if err := ctx.Err(); err != nil {
			return driveResult{}, cancelled(err)
		}
		mark := d.env.Acc.Mark()
		timing := d.timer.Begin(st.Name())
		span := trace.Begin(tracer, trace.ScopeStage, st.Name(), parent).
			WithExtra("kind", st.Kind.String())
		stageCtx := trace.WithSpan(ctx, span)

		var (
			out    *decl.Snapshot
			hist   []*decl.Snapshot
			report StageReport
			err    error
		)
		switch st.Kind {
		case StageHighLevel:
			out, hist, report, err = d.runHighLevel(stageCtx, st, res.snapshot)
		case StageLowLevel:
			out, report, err = d.runLowLevel(stageCtx, st, res.snapshot)
			if err == nil && out != res.snapshot {
				hist = []*decl.Snapshot{out}
			}
		}
		if err != nil {
			span.End("cancelled")
			d.timer.End(timing, "cancelled")
			return driveResult{}, err
		}
		d.env.Counters.Stages.Add(1)
		report.Name = st.Name()
		report.Kind = st.Kind
		report.Changed = out != res.snapshot

		if d.env.Acc.ErrorsSince(mark) {
			report.Failed = true
			res.stages = append(res.stages, report)
			res.halted = st.Name()
			diag.ReportInfo(d.env.Acc, diag.StgFailed, source.Span{},
				fmt.Sprintf("%s failed; %d later stage(s) skipped", st.Name(), len(d.stages)-st.Index)).
				Emit()
			span.End("failed")
			d.timer.End(timing, "failed")
			break
		}

		res.stages = append(res.stages, report)
		res.history = append(res.history, hist...)
		d.propagateInherited(out, st)
		res.snapshot = out
		span.WithExtra("units", strconv.Itoa(report.Units)).End("")
		d.timer.End(timing, fmt.Sprintf("%d units, %d instances", report.Units, report.Instances))
	}
	return res, nil
}

func (d *stageDriver) runHighLevel(ctx context.Context, st Stage, snap *decl.Snapshot) (*decl.Snapshot, []*decl.Snapshot, StageReport, error) {
	before := d.env.Counters.Instances.Load()
	sch := NewScheduler(d.env, st.Layers)
	for _, e := range d.env.Overflow.Take(st.Owns) {
		if e.IsSource() {
			sch.AddSource(e.Source)
			continue
		}
		sch.AddInstance(e.Layer, e.Instance, snap)
	}
	out, err := sch.Run(ctx, snap)
	if err != nil {
		return nil, nil, StageReport{}, err
	}
	report := StageReport{
		Units:     sch.Executed(),
		Instances: int(d.env.Counters.Instances.Load() - before),
	}
	for _, k := range sch.Steps() {
		report.Steps = append(report.Steps, k.String())
	}
	return out, sch.History(), report, nil
}

func (d *stageDriver) runLowLevel(ctx context.Context, st Stage, snap *decl.Snapshot) (*decl.Snapshot, StageReport, error) {
	for _, l := range st.Layers {
		d.env.enterLayer(l)
	}
	var (
		placed  []Placed
		sources []aspect.Source
	)
	for _, e := range d.env.Overflow.Take(st.Owns) {
		if e.IsSource() {
			sources = append(sources, e.Source)
			continue
		}
		placed = append(placed, Placed{Layer: e.Layer, Instance: e.Instance})
	}
	found, err := discover(ctx, d.env, snap, sources)
	if err != nil {
		return nil, StageReport{}, cancelled(err)
	}
	for _, inst := range found.inheritable {
		d.env.Acc.addInheritable(inst)
	}
	for _, inst := range found.instances {
		placed = append(placed, d.place(st, snap, inst)...)
	}
	if len(placed) == 0 {
		return snap, StageReport{}, nil
	}
	report := StageReport{Units: 1, Instances: len(placed)}

	t := d.transformers[st.Transformer]
	if t == nil {
		diag.ReportError(d.env.Acc, diag.StgTransformerMissing, source.Span{},
			fmt.Sprintf("%s: no transformer %q", st.Name(), st.Transformer)).Emit()
		return snap, report, nil
	}
	d.env.Counters.Units.Add(1)
	d.env.Counters.Instances.Add(int64(len(placed)))
	out, err := t.Transform(ctx, snap, &Weave{Stage: st, Instances: placed, Reporter: d.env.Acc})
	if err != nil {
		if ctx.Err() != nil {
			return nil, StageReport{}, cancelled(ctx.Err())
		}
		diag.ReportError(d.env.Acc, diag.StgTransformerFailed, source.Span{},
			fmt.Sprintf("%s: transformer %q failed: %v", st.Name(), st.Transformer, err)).Emit()
		d.recordLowLevel(placed, aspect.OutcomeError, err.Error())
		return snap, report, nil
	}
	if out == nil {
		out = snap
	}
	d.recordLowLevel(placed, aspect.OutcomeApplied, "")
	return out, report, nil
}

func (d *stageDriver) recordLowLevel(placed []Placed, outcome aspect.Outcome, msg string) {
	for i, p := range placed {
		d.env.Acc.addOutcome(InstanceOutcome{
			Key:      layerKey(p.Layer),
			Instance: p.Instance,
			Index:    i,
			Outcome:  outcome,
			Message:  msg,
		})
	}
}

// place spreads an instance discovered by a low-level stage over the layers
// of its class: this stage's layers directly, later layers via overflow.
func (d *stageDriver) place(st Stage, snap *decl.Snapshot, inst aspect.Instance) []Placed {
	var out []Placed
	for _, l := range d.env.Order.OfClass(inst.Class) {
		switch {
		case st.Owns(l.ID):
			out = append(out, Placed{Layer: l, Instance: inst})
		case l.Order > st.lastOrder():
			d.env.Overflow.PutInstance(l, inst)
			d.env.Counters.Overflowed.Add(1)
		default:
			d.env.Counters.Rejected.Add(1)
			diag.ReportError(d.env.Acc, diag.SchPlacementTooLate, snap.SpanOf(inst.Target),
				fmt.Sprintf("%s cannot be placed at %s: its stage already ran", inst, l.ID)).
				OnDecl(string(inst.Target)).
				Emit()
		}
	}
	return out
}

// propagateInherited hands inheritable instances to derived types that
// appeared in snap and routes them to the layers after stage st.
func (d *stageDriver) propagateInherited(snap *decl.Snapshot, st Stage) {
	for _, base := range d.env.Acc.Inheritable() {
		class, ok := d.env.Registry.Lookup(base.Class)
		if !ok {
			continue
		}
		for _, id := range snap.Derived(base.Target) {
			inst, ok := inheritedInstance(d.env, snap, class, base, id)
			if !ok {
				continue
			}
			for _, l := range d.env.Order.OfClass(base.Class) {
				if l.Order <= st.lastOrder() {
					continue
				}
				d.env.Overflow.PutInstance(l, inst)
				d.env.Counters.Overflowed.Add(1)
			}
		}
	}
}
