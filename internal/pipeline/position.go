package pipeline

import (
	"cmp"
	"slices"
	"strings"

	"loom/internal/aspect"
	"loom/internal/decl"
)

// sortByPosition orders the instances of one declaring type. The position
// decides IndexWithinType, which later layers can observe, so the order must
// not depend on contribution timing.
func sortByPosition(snap *decl.Snapshot, instances []aspect.Instance) {
	slices.SortStableFunc(instances, func(a, b aspect.Instance) int {
		return comparePosition(snap, a, b)
	})
}

func comparePosition(snap *decl.Snapshot, a, b aspect.Instance) int {
	if a.Target != b.Target {
		da, okA := snap.Lookup(a.Target)
		db, okB := snap.Lookup(b.Target)
		if okA && okB {
			if c := compareOrigin(da.Origin, db.Origin); c != 0 {
				return c
			}
		}
	}
	return cmp.Or(
		strings.Compare(string(a.Target), string(b.Target)),
		strings.Compare(a.Class, b.Class),
		compareBool(a.Inherited, b.Inherited),
		strings.Compare(a.Origin, b.Origin),
		strings.Compare(a.ArgsString(), b.ArgsString()),
	)
}

// compareOrigin: source declarations first (by path, then span start),
// synthesized ones after them by structural signature.
func compareOrigin(a, b decl.Origin) int {
	if a.Synthesized != b.Synthesized {
		return compareBool(a.Synthesized, b.Synthesized)
	}
	if a.Synthesized {
		return strings.Compare(a.Signature, b.Signature)
	}
	return cmp.Or(
		strings.Compare(a.Path, b.Path),
		cmp.Compare(a.Span.Start, b.Span.Start),
	)
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}
