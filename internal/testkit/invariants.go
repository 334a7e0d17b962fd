// Package testkit holds structural checks shared by tests of packages that
// produce declaration snapshots.
package testkit

import (
	"fmt"
	"slices"

	"loom/internal/decl"
)

// CheckSnapshotInvariants runs a minimal set of structural invariants:
// 1) every id is its parent id plus its name, and the parent lists it as a member
// 2) every member exists and points back to the declaring node
// 3) bases exist and are types, and none is the declaration itself
// 4) spans are well formed and synthesized declarations have no path
// 5) a depth-first walk from the roots reaches every declaration
func CheckSnapshotInvariants(snap *decl.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}
	var err error
	walked := 0
	snap.Walk(func(d *decl.Decl) bool {
		if err != nil {
			return false
		}
		walked++
		err = checkDecl(snap, d)
		return err == nil
	})
	if err != nil {
		return err
	}
	// 5) every declaration hangs off a root
	if walked != snap.Len() {
		return fmt.Errorf("%d of %d declarations are unreachable from the roots", snap.Len()-walked, snap.Len())
	}
	return nil
}

func checkDecl(snap *decl.Snapshot, d *decl.Decl) error {
	id := d.ID

	// 1) id shape and parent link
	if d.Parent.Child(d.Name) != id {
		return fmt.Errorf("%s: inconsistent id (parent %q, name %q)", id, d.Parent, d.Name)
	}
	if d.Parent != "" {
		p, ok := snap.Lookup(d.Parent)
		if !ok {
			return fmt.Errorf("%s: parent %s missing", id, d.Parent)
		}
		if !slices.Contains(p.Members, id) {
			return fmt.Errorf("%s: not a member of %s", id, d.Parent)
		}
	}

	// 2) members
	seen := make(map[decl.ID]bool, len(d.Members))
	for _, m := range d.Members {
		if seen[m] {
			return fmt.Errorf("%s: member %s listed twice", id, m)
		}
		seen[m] = true
		md, ok := snap.Lookup(m)
		if !ok {
			return fmt.Errorf("%s: member %s missing", id, m)
		}
		if md.Parent != id {
			return fmt.Errorf("%s: member %s has parent %s", id, m, md.Parent)
		}
	}

	// 3) bases
	for _, b := range d.Bases {
		if b == id {
			return fmt.Errorf("%s inherits from itself", id)
		}
		bd, ok := snap.Lookup(b)
		if !ok {
			return fmt.Errorf("%s: base %s missing", id, b)
		}
		if bd.Kind != decl.KindType {
			return fmt.Errorf("%s: base %s is a %s", id, b, bd.Kind)
		}
	}

	// 4) origin
	if d.Origin.Span.End < d.Origin.Span.Start {
		return fmt.Errorf("%s: span %d-%d is reversed", id, d.Origin.Span.Start, d.Origin.Span.End)
	}
	if d.Origin.Synthesized && d.Origin.Path != "" {
		return fmt.Errorf("%s: synthesized declaration has path %s", id, d.Origin.Path)
	}
	return nil
}
