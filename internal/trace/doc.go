// Package trace provides the tracing subsystem of the loom pipeline.
//
// The pipeline does not log through a general-purpose logger. Instead every
// orchestrator run, stage, scheduler step and transformation instance is
// recorded as a span so slow or hanging runs can be diagnosed after the fact.
//
// # Usage
//
//	loom run --trace=- --trace-level=step scenario.toml
//
// # Tracers
//
//   - Nop: zero-overhead tracer used when tracing is disabled
//   - StreamTracer: immediate write to a file or stderr (text or NDJSON)
//   - RingTracer: circular buffer dumped when a run aborts
//   - MultiTracer: fan-out to several tracers
//
// # Levels and scopes
//
// Levels (off, error, stage, step, debug) select which scopes are emitted:
//
//   - ScopePipeline: one orchestrator Execute call
//   - ScopeStage: one StageDriver stage
//   - ScopeStep: one scheduler WorkUnit (a StepKey)
//   - ScopeInstance: one transformation instance inside an apply unit
//
// # Context propagation
//
//	ctx = trace.WithTracer(ctx, tracer)
//	span := trace.Begin(trace.FromContext(ctx), trace.ScopeStage, "stage:0", parentID)
//	defer span.End("")
package trace
