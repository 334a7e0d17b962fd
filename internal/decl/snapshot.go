package decl

import (
	"slices"

	"github.com/benbjohnson/immutable"

	"loom/internal/source"
)

// Snapshot is an immutable, versioned view of the declaration graph.
//
// Declarations live in a persistent hash map, so deriving a new snapshot
// shares all untouched nodes with its predecessor. A Snapshot is safe for
// concurrent readers; the pipeline fans out over one input snapshot from
// many goroutines.
type Snapshot struct {
	version uint64
	decls   *immutable.Map[ID, *Decl]
	roots   []ID
}

// Empty returns the version-0 snapshot with no declarations.
func Empty() *Snapshot {
	return &Snapshot{decls: immutable.NewMap[ID, *Decl](idHasher{})}
}

// Version is incremented for every derived snapshot.
func (s *Snapshot) Version() uint64 { return s.version }

// Len returns the number of declarations.
func (s *Snapshot) Len() int { return s.decls.Len() }

// Lookup returns the declaration with id. The result must not be modified.
func (s *Snapshot) Lookup(id ID) (*Decl, bool) {
	if id == "" {
		return nil, false
	}
	return s.decls.Get(id)
}

// Has reports whether id exists.
func (s *Snapshot) Has(id ID) bool {
	_, ok := s.Lookup(id)
	return ok
}

// Roots returns top-level declarations in declaration order.
func (s *Snapshot) Roots() []ID {
	return slices.Clone(s.roots)
}

// Children returns the members of id in declaration order.
func (s *Snapshot) Children(id ID) []ID {
	d, ok := s.Lookup(id)
	if !ok {
		return nil
	}
	return slices.Clone(d.Members)
}

// Ancestors returns the enclosing declarations of id, nearest first.
func (s *Snapshot) Ancestors(id ID) []ID {
	var out []ID
	d, ok := s.Lookup(id)
	for ok && d.Parent != "" {
		out = append(out, d.Parent)
		d, ok = s.Lookup(d.Parent)
	}
	return out
}

// Depth is the number of enclosing declarations (roots have depth 0).
// Unknown ids report -1.
func (s *Snapshot) Depth(id ID) int {
	if !s.Has(id) {
		return -1
	}
	return len(s.Ancestors(id))
}

// TypeDepth is the number of enclosing type declarations: 0 for a top-level
// type, 1 for its methods, 2 for methods of a nested type. Unknown ids
// report -1.
func (s *Snapshot) TypeDepth(id ID) int {
	if !s.Has(id) {
		return -1
	}
	n := 0
	for _, a := range s.Ancestors(id) {
		if d, ok := s.Lookup(a); ok && d.Kind == KindType {
			n++
		}
	}
	return n
}

// DeclaringType returns the outermost type enclosing id (or id itself when
// it is a top-level type). Declarations outside any type are their own
// declaring unit. Two different results are disjoint subtrees.
func (s *Snapshot) DeclaringType(id ID) ID {
	d, ok := s.Lookup(id)
	if !ok {
		return id
	}
	result := id
	if d.Kind != KindType {
		result = ""
	}
	for _, a := range s.Ancestors(id) {
		if ad, ok := s.Lookup(a); ok && ad.Kind == KindType {
			result = a
		}
	}
	if result == "" {
		return id
	}
	return result
}

// Derived returns every type that inherits from base directly or
// transitively, sorted by id.
func (s *Snapshot) Derived(base ID) []ID {
	direct := make(map[ID][]ID)
	itr := s.decls.Iterator()
	for !itr.Done() {
		id, d, _ := itr.Next()
		for _, b := range d.Bases {
			direct[b] = append(direct[b], id)
		}
	}

	seen := map[ID]bool{base: true}
	queue := []ID{base}
	var out []ID
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range direct[cur] {
			if seen[next] {
				continue
			}
			seen[next] = true
			out = append(out, next)
			queue = append(queue, next)
		}
	}
	slices.Sort(out)
	return out
}

// IDs returns all declaration ids sorted.
func (s *Snapshot) IDs() []ID {
	out := make([]ID, 0, s.decls.Len())
	itr := s.decls.Iterator()
	for !itr.Done() {
		id, _, _ := itr.Next()
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Walk visits declarations depth-first in declaration order. Returning false
// from fn skips the subtree.
func (s *Snapshot) Walk(fn func(*Decl) bool) {
	var visit func(id ID)
	visit = func(id ID) {
		d, ok := s.Lookup(id)
		if !ok || !fn(d) {
			return
		}
		for _, m := range d.Members {
			visit(m)
		}
	}
	for _, r := range s.roots {
		visit(r)
	}
}

// Equal reports structural equality of two snapshots (versions ignored).
func (s *Snapshot) Equal(other *Snapshot) bool {
	if s == other {
		return true
	}
	if s == nil || other == nil || s.Len() != other.Len() || !slices.Equal(s.roots, other.roots) {
		return false
	}
	itr := s.decls.Iterator()
	for !itr.Done() {
		id, a, _ := itr.Next()
		b, ok := other.Lookup(id)
		if !ok || !sameDecl(a, b) {
			return false
		}
	}
	return true
}

func sameDecl(a, b *Decl) bool {
	if a == b {
		return true
	}
	return a.ID == b.ID && a.Parent == b.Parent && a.Kind == b.Kind && a.Name == b.Name &&
		a.Origin == b.Origin && slices.Equal(a.Bases, b.Bases) &&
		slices.Equal(a.Tags, b.Tags) && slices.Equal(a.Members, b.Members)
}

// SpanOf returns the source span of id, or the zero span.
func (s *Snapshot) SpanOf(id ID) source.Span {
	if d, ok := s.Lookup(id); ok {
		return d.Origin.Span
	}
	return source.Span{}
}
