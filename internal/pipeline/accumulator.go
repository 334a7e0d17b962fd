package pipeline

import (
	"slices"
	"strings"
	"sync"

	"loom/internal/aspect"
	"loom/internal/decl"
	"loom/internal/diag"
	"loom/internal/layer"
)

// InstanceOutcome records how one instance ended at one step.
type InstanceOutcome struct {
	Key      StepKey
	Instance aspect.Instance
	Index    int // IndexWithinType
	Outcome  aspect.Outcome
	Message  string
}

// Accumulator collects everything a run produces besides snapshots. It is
// append-only and goroutine-safe; rolling back an instance never removes
// what the instance reported here.
type Accumulator struct {
	bag      *diag.Bag
	reporter diag.Reporter

	mu           sync.Mutex
	errs         []diag.Diagnostic // every error, independent of the bag cap
	suppressions []diag.Suppression
	fixes        []diag.Fix
	outcomes     []InstanceOutcome
	inheritable  []aspect.Instance
	excluded     map[decl.ID]struct{}
	covered      map[string]struct{} // class + "\x00" + target of inherited instances
}

// NewAccumulator creates an accumulator keeping at most maxDiagnostics
// diagnostics (<= 0: unlimited). Duplicate diagnostics are dropped.
func NewAccumulator(maxDiagnostics int) *Accumulator {
	a := &Accumulator{
		bag:      diag.NewBag(maxDiagnostics),
		excluded: make(map[decl.ID]struct{}),
		covered:  make(map[string]struct{}),
	}
	a.reporter = diag.NewDedupReporter(accSink{a})
	return a
}

type accSink struct{ a *Accumulator }

func (s accSink) Report(d diag.Diagnostic) {
	if d.Severity >= diag.SevError {
		s.a.mu.Lock()
		s.a.errs = append(s.a.errs, d)
		s.a.mu.Unlock()
	}
	s.a.bag.Add(d)
}

// Report implements diag.Reporter.
func (a *Accumulator) Report(d diag.Diagnostic) {
	a.reporter.Report(d)
}

// Suppress records a suppression. It applies to diagnostics reported before
// and after it.
func (a *Accumulator) Suppress(s diag.Suppression) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !slices.Contains(a.suppressions, s) {
		a.suppressions = append(a.suppressions, s)
	}
}

// AddFix records a standalone code fix.
func (a *Accumulator) AddFix(f diag.Fix) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fixes = append(a.fixes, f)
}

func (a *Accumulator) addOutcome(o InstanceOutcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes = append(a.outcomes, o)
}

func (a *Accumulator) addInheritable(inst aspect.Instance) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inheritable = append(a.inheritable, inst)
}

func (a *Accumulator) exclude(id decl.ID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.excluded[id] = struct{}{}
}

// isExcluded reports whether id or one of its ancestors was excluded.
func (a *Accumulator) isExcluded(snap *decl.Snapshot, id decl.ID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.excluded) == 0 {
		return false
	}
	if _, ok := a.excluded[id]; ok {
		return true
	}
	for _, anc := range snap.Ancestors(id) {
		if _, ok := a.excluded[anc]; ok {
			return true
		}
	}
	return false
}

// cover marks class as inherited onto target; false when already covered.
func (a *Accumulator) cover(class string, target decl.ID) bool {
	key := class + "\x00" + string(target)
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.covered[key]; ok {
		return false
	}
	a.covered[key] = struct{}{}
	return true
}

// Mark returns a position for ErrorsSince.
func (a *Accumulator) Mark() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.errs)
}

// ErrorsSince reports whether an unsuppressed error was reported after mark.
func (a *Accumulator) ErrorsSince(mark int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := mark; i < len(a.errs); i++ {
		if !a.suppressedLocked(&a.errs[i]) {
			return true
		}
	}
	return false
}

func (a *Accumulator) suppressedLocked(d *diag.Diagnostic) bool {
	for _, s := range a.suppressions {
		if s.Suppressed(d) {
			return true
		}
	}
	return false
}

// Diagnostics returns the unsuppressed diagnostics in deterministic order
// plus the number of suppressed ones.
func (a *Accumulator) Diagnostics() ([]diag.Diagnostic, int) {
	out := diag.NewBag(0)
	for _, d := range a.bag.Items() {
		out.Add(d)
	}
	suppressed := 0
	a.mu.Lock()
	out.Filter(func(d *diag.Diagnostic) bool {
		if a.suppressedLocked(d) {
			suppressed++
			return false
		}
		return true
	})
	a.mu.Unlock()
	out.Sort()
	return out.Items(), suppressed
}

// Dropped returns how many diagnostics exceeded the cap.
func (a *Accumulator) Dropped() int { return a.bag.Dropped() }

// Suppressions returns recorded suppressions.
func (a *Accumulator) Suppressions() []diag.Suppression {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.suppressions)
}

// Fixes returns recorded standalone fixes.
func (a *Accumulator) Fixes() []diag.Fix {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.fixes)
}

// Inheritable returns instances waiting to be propagated to derived types.
func (a *Accumulator) Inheritable() []aspect.Instance {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.inheritable)
}

// Outcomes returns per-instance outcomes in step order; instances of one
// step are ordered by target, class and index.
func (a *Accumulator) Outcomes() []InstanceOutcome {
	a.mu.Lock()
	out := slices.Clone(a.outcomes)
	a.mu.Unlock()
	slices.SortStableFunc(out, func(x, y InstanceOutcome) int {
		if c := Compare(x.Key, y.Key); c != 0 {
			return c
		}
		if c := strings.Compare(string(x.Instance.Target), string(y.Instance.Target)); c != 0 {
			return c
		}
		if c := strings.Compare(x.Instance.Class, y.Instance.Class); c != 0 {
			return c
		}
		return x.Index - y.Index
	})
	return out
}

// layerKey is the key recorded for instances of low-level stages.
func layerKey(l layer.Layer) StepKey {
	return StepKey{Layer: l, Phase: PhaseApply}
}
