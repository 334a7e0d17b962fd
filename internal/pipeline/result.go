package pipeline

import (
	"github.com/google/uuid"

	"loom/internal/aspect"
	"loom/internal/decl"
	"loom/internal/diag"
	"loom/internal/observ"
)

// Result is everything one Execute call produced.
type Result struct {
	RunID uuid.UUID
	// Snapshot is the output of the last successful stage.
	Snapshot *decl.Snapshot
	// History lists every snapshot derived during the run, oldest first.
	History      []*decl.Snapshot
	Diagnostics  []diag.Diagnostic // unsuppressed, sorted
	Suppressed   int
	Dropped      int // over the diagnostics cap
	Suppressions []diag.Suppression
	Fixes        []diag.Fix
	// Inheritable instances must follow their target into derived types of
	// later runs or dependent projects.
	Inheritable []aspect.Instance
	Outcomes    []InstanceOutcome
	Stages      []StageReport
	Pending     int // overflow entries no stage consumed (only after a halt)
	Timings     observ.Report
	Counters    observ.CounterSnapshot
	// Halted names the failed stage; empty when every stage ran.
	Halted string
}

// HasErrors reports whether an error diagnostic survived suppression.
func (r *Result) HasErrors() bool {
	for _, d := range r.Diagnostics {
		if d.Severity >= diag.SevError {
			return true
		}
	}
	return false
}

// Count returns how many instances ended with outcome.
func (r *Result) Count(outcome aspect.Outcome) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Outcome == outcome {
			n++
		}
	}
	return n
}
