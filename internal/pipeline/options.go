package pipeline

import (
	"runtime"

	"loom/internal/layer"
)

const (
	// DefaultMaxDiagnostics caps the diagnostics kept per run.
	DefaultMaxDiagnostics = 1000
	// DefaultMaxAdviceDepth bounds contributions nested at one position.
	DefaultMaxAdviceDepth = 16
)

// Options configure an orchestrator.
type Options struct {
	// Jobs limits the per-type fan-out of apply units; <= 0 uses GOMAXPROCS.
	Jobs int
	// Strict enables key-order assertions and the unordered-layers warning.
	Strict bool
	// MaxDiagnostics caps the diagnostic bag; 0 uses the default, < 0 keeps
	// everything.
	MaxDiagnostics int
	// MaxAdviceDepth bounds AdviceDepth; <= 0 uses the default.
	MaxAdviceDepth int
	// Constraints order whole classes relative to each other.
	Constraints []layer.Constraint
}

func (o Options) jobs() int {
	if o.Jobs <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return o.Jobs
}

func (o Options) maxDiagnostics() int {
	switch {
	case o.MaxDiagnostics == 0:
		return DefaultMaxDiagnostics
	case o.MaxDiagnostics < 0:
		return 0
	}
	return o.MaxDiagnostics
}

func (o Options) maxAdviceDepth() int {
	if o.MaxAdviceDepth <= 0 {
		return DefaultMaxAdviceDepth
	}
	return o.MaxAdviceDepth
}
