package decl

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrNotFound is returned when an edit targets an unknown declaration.
	ErrNotFound = errors.New("declaration not found")
	// ErrDuplicate is returned when a declaration with the same id exists.
	ErrDuplicate = errors.New("duplicate declaration")
	// ErrOutOfScope is returned when an edit leaves the editor's subtree.
	ErrOutOfScope = errors.New("edit outside editor scope")
	// ErrInvalidName is returned for empty names or names containing '.'.
	ErrInvalidName = errors.New("invalid declaration name")
)

// OpKind enumerates replayable edit operations.
type OpKind uint8

const (
	OpAdd OpKind = iota + 1
	OpTag
	OpBase
)

// Op is one recorded edit.
type Op struct {
	Kind   OpKind
	Target ID    // parent for OpAdd, declaration otherwise
	Decl   *Decl // OpAdd: the new declaration (without members)
	Value  string
}

// Delta is the ordered list of edits performed by one editor. Deltas of
// editors scoped to disjoint subtrees commute.
type Delta []Op

// Editor is a mutable working copy of a Snapshot. Edits never touch the
// base snapshot; Commit derives a new one. An editor scoped to a declaration
// rejects edits outside that subtree.
type Editor struct {
	base  *Snapshot
	view  *Snapshot
	scope ID
	ops   Delta
}

// Edit opens an editor over s restricted to scope ("" = whole graph).
func (s *Snapshot) Edit(scope ID) *Editor {
	return &Editor{base: s, view: s, scope: scope}
}

// View returns the uncommitted state as a read-only snapshot. It carries the
// base version until Commit.
func (e *Editor) View() *Snapshot { return e.view }

// Lookup reads the working copy.
func (e *Editor) Lookup(id ID) (*Decl, bool) { return e.view.Lookup(id) }

// Scope returns the subtree the editor is restricted to.
func (e *Editor) Scope() ID { return e.scope }

// Delta returns the edits recorded so far.
func (e *Editor) Delta() Delta { return slices.Clone(e.ops) }

// Changed reports whether any edit was recorded.
func (e *Editor) Changed() bool { return len(e.ops) > 0 }

// AddMember declares name under parent ("" declares a root) and returns its id.
func (e *Editor) AddMember(parent ID, kind Kind, name string, origin Origin) (ID, error) {
	if name == "" || strings.ContainsRune(name, '.') {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if err := e.check(parent); err != nil && parent != "" {
		return "", err
	}
	if parent == "" && e.scope != "" {
		return "", fmt.Errorf("%w: root %q outside %q", ErrOutOfScope, name, e.scope)
	}
	id := parent.Child(name)
	if e.view.Has(id) {
		return "", fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	if origin.Synthesized && origin.Signature == "" {
		origin.Signature = kind.String() + " " + name
	}
	d := &Decl{ID: id, Parent: parent, Kind: kind, Name: name, Origin: origin}
	e.apply(Op{Kind: OpAdd, Target: parent, Decl: d})
	return id, nil
}

// AddTag attaches tag to id. Tagging twice is a no-op and records nothing.
func (e *Editor) AddTag(id ID, tag string) error {
	if err := e.check(id); err != nil {
		return err
	}
	d, _ := e.view.Lookup(id)
	if d.HasTag(tag) {
		return nil
	}
	e.apply(Op{Kind: OpTag, Target: id, Value: tag})
	return nil
}

// AddBase records that type id inherits from base.
func (e *Editor) AddBase(id, base ID) error {
	if err := e.check(id); err != nil {
		return err
	}
	d, _ := e.view.Lookup(id)
	if slices.Contains(d.Bases, base) {
		return nil
	}
	e.apply(Op{Kind: OpBase, Target: id, Value: string(base)})
	return nil
}

// Commit derives the new snapshot. Without edits the base itself is
// returned, so empty work is observable as pointer identity.
func (e *Editor) Commit() *Snapshot {
	if len(e.ops) == 0 {
		return e.base
	}
	return &Snapshot{version: e.base.version + 1, decls: e.view.decls, roots: e.view.roots}
}

// Apply replays deltas onto s and returns the derived snapshot (s itself when
// the deltas are empty).
func (s *Snapshot) Apply(deltas ...Delta) (*Snapshot, error) {
	e := s.Edit("")
	for _, delta := range deltas {
		for _, op := range delta {
			if err := e.replay(op); err != nil {
				return nil, err
			}
		}
	}
	return e.Commit(), nil
}

func (e *Editor) replay(op Op) error {
	switch op.Kind {
	case OpAdd:
		if op.Decl == nil {
			return fmt.Errorf("replay: add without declaration")
		}
		if op.Target != "" && !e.view.Has(op.Target) {
			return fmt.Errorf("replay %s: parent %w", op.Decl.ID, ErrNotFound)
		}
		if e.view.Has(op.Decl.ID) {
			return fmt.Errorf("replay: %w: %s", ErrDuplicate, op.Decl.ID)
		}
	case OpTag, OpBase:
		if !e.view.Has(op.Target) {
			return fmt.Errorf("replay %s: %w", op.Target, ErrNotFound)
		}
	default:
		return fmt.Errorf("replay: unknown op %d", op.Kind)
	}
	e.apply(op)
	return nil
}

func (e *Editor) check(id ID) error {
	if !e.view.Has(id) {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if !id.Within(e.scope) {
		return fmt.Errorf("%w: %s not in %s", ErrOutOfScope, id, e.scope)
	}
	return nil
}

// apply mutates the working copy; preconditions are checked by callers.
func (e *Editor) apply(op Op) {
	decls := e.view.decls
	roots := e.view.roots
	switch op.Kind {
	case OpAdd:
		d := op.Decl.clone()
		d.Members = nil
		decls = decls.Set(d.ID, d)
		if op.Target == "" {
			roots = append(slices.Clone(roots), d.ID)
		} else {
			parent, _ := decls.Get(op.Target)
			parent = parent.clone()
			parent.Members = append(parent.Members, d.ID)
			decls = decls.Set(parent.ID, parent)
		}
	case OpTag:
		d, _ := decls.Get(op.Target)
		d = d.clone()
		d.Tags = append(d.Tags, op.Value)
		slices.Sort(d.Tags)
		decls = decls.Set(d.ID, d)
	case OpBase:
		d, _ := decls.Get(op.Target)
		d = d.clone()
		d.Bases = append(d.Bases, ID(op.Value))
		decls = decls.Set(d.ID, d)
	}
	e.ops = append(e.ops, op)
	e.view = &Snapshot{version: e.base.version, decls: decls, roots: roots}
}
