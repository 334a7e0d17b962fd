package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"loom/internal/aspect"
	"loom/internal/decl"
	"loom/internal/diag"
	"loom/internal/layer"
	"loom/internal/observ"
	"loom/internal/source"
	"loom/internal/trace"
)

// SetupError is returned by New when the layer configuration is unusable.
type SetupError struct {
	Err         error
	Diagnostics []diag.Diagnostic
}

func (e *SetupError) Error() string {
	var sb strings.Builder
	sb.WriteString("pipeline setup failed")
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	for _, d := range e.Diagnostics {
		if d.Severity >= diag.SevError {
			fmt.Fprintf(&sb, "\n  %s: %s", d.Code.ID(), d.Message)
		}
	}
	return sb.String()
}

func (e *SetupError) Unwrap() error { return e.Err }

// Orchestrator is the entry point of the pipeline. The static layer order
// and the stages are computed once by New; Execute runs them for every
// incoming snapshot.
type Orchestrator struct {
	opts         Options
	registry     *aspect.Registry
	order        *layer.Order
	stages       []Stage
	transformers map[string]Transformer
	counters     *observ.Counters
}

// New computes the layer order of registry and validates the stages.
// counters is owned by the caller and may be shared between orchestrators;
// nil disables counting.
func New(opts Options, registry *aspect.Registry, transformers map[string]Transformer, counters *observ.Counters) (*Orchestrator, error) {
	if counters == nil {
		counters = &observ.Counters{}
	}
	bag := diag.NewBag(0)
	order, err := layer.Sort(registry.Specs(), opts.Constraints, diag.BagReporter{Bag: bag})
	if err != nil {
		return nil, &SetupError{Err: err, Diagnostics: bag.Items()}
	}
	stages := BuildStages(order.Layers())
	for _, st := range stages {
		if st.Kind == StageLowLevel && transformers[st.Transformer] == nil {
			bag.Add(diag.NewError(diag.StgTransformerMissing, source.Span{},
				fmt.Sprintf("%s needs transformer %q, none registered", st.Name(), st.Transformer)))
		}
	}
	if bag.HasErrors() {
		return nil, &SetupError{Err: fmt.Errorf("missing transformers"), Diagnostics: bag.Items()}
	}
	counters.Initializations.Add(1)
	return &Orchestrator{
		opts:         opts,
		registry:     registry,
		order:        order,
		stages:       stages,
		transformers: transformers,
		counters:     counters,
	}, nil
}

// Layers returns the static layer order.
func (o *Orchestrator) Layers() []layer.Layer { return o.order.Layers() }

// Order returns the static order.
func (o *Orchestrator) Order() *layer.Order { return o.order }

// Stages returns the stage plan.
func (o *Orchestrator) Stages() []Stage { return append([]Stage(nil), o.stages...) }

// Execute runs every stage over snap with the given initial sources. The
// returned error is non-nil only for cancellation; failures of user code are
// diagnostics in the Result.
func (o *Orchestrator) Execute(ctx context.Context, snap *decl.Snapshot, sources []aspect.Source) (*Result, error) {
	o.counters.Executions.Add(1)
	runID := uuid.New()
	env := NewEnv(o.opts, o.registry, o.order, o.counters)
	timer := observ.NewTimer()

	tracer := trace.FromContext(ctx)
	span := trace.Begin(tracer, trace.ScopePipeline, "pipeline", trace.CurrentSpan(ctx)).
		WithExtra("run", runID.String())
	ctx = trace.WithSpan(ctx, span)

	for _, src := range sources {
		first, ok := o.order.First(src.Class())
		if !ok {
			diag.ReportError(env.Acc, diag.DscUnknownClass, source.Span{},
				fmt.Sprintf("source %q references unknown class %q", src.Name(), src.Class())).
				Emit()
			continue
		}
		env.Overflow.PutSource(first, src)
	}

	driver := &stageDriver{env: env, stages: o.stages, transformers: o.transformers, timer: timer}
	run, err := driver.run(ctx, snap)
	if err != nil {
		span.End("cancelled")
		return nil, err
	}

	diags, suppressed := env.Acc.Diagnostics()
	res := &Result{
		RunID:        runID,
		Snapshot:     run.snapshot,
		History:      run.history,
		Diagnostics:  diags,
		Suppressed:   suppressed,
		Dropped:      env.Acc.Dropped(),
		Suppressions: env.Acc.Suppressions(),
		Fixes:        env.Acc.Fixes(),
		Inheritable:  env.Acc.Inheritable(),
		Outcomes:     env.Acc.Outcomes(),
		Stages:       run.stages,
		Pending:      env.Overflow.Len(),
		Timings:      timer.Report(),
		Counters:     o.counters.Snapshot(),
		Halted:       run.halted,
	}
	detail := "ok"
	if res.Halted != "" {
		detail = "halted at " + res.Halted
	}
	span.End(detail)
	return res, nil
}
