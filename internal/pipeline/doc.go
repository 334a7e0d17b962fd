// Package pipeline schedules transformation instances over an evolving
// declaration snapshot.
//
// The static layer order (package layer) is turned into stages. A
// low-level stage hands all of its instances to one opaque Transformer. A
// high-level stage runs one Scheduler: an ordered, dynamically growing
// index of WorkUnits keyed by StepKey. Units execute strictly in key order
// on a single goroutine; an apply unit fans out per declaring type and joins
// the per-type deltas before the next unit starts. Work contributed for
// layers of later stages is parked in the OverflowSink.
//
// Snapshots are never mutated. Every executed unit either returns its input
// snapshot unchanged or derives exactly one new snapshot from it.
package pipeline
