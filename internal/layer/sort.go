package layer

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"fortio.org/safecast"

	"loom/internal/diag"
	"loom/internal/source"
)

var (
	// ErrCycle is returned when ordering constraints cannot be satisfied.
	ErrCycle = errors.New("layer ordering cycle")
	// ErrInvalid is returned when class or constraint declarations are broken.
	ErrInvalid = errors.New("invalid layer declarations")
)

type nodeID uint32

type node struct {
	id    ID
	class int // index into classes
	index int
}

type graph struct {
	nodes []node
	edges [][]nodeID // edges[from] = []to
	indeg []int
}

type topo struct {
	order   []nodeID
	batches [][]nodeID
	cyclic  bool
	cycles  []nodeID
}

// Sort computes the static layer order. Layers of one class keep their
// declared sequence; constraints order whole classes. Ties between
// unconstrained layers are broken by class name and then by position in the
// class, so the result is reproducible for the same input.
//
// Problems are reported to r. A non-nil error means the order is unusable.
func Sort(classes []ClassSpec, constraints []Constraint, r diag.Reporter) (*Order, error) {
	if r == nil {
		r = diag.NopReporter{}
	}
	specs, invalid := normalizeClasses(classes, r)
	g := buildGraph(specs)
	if !addConstraints(g, specs, constraints, r) {
		invalid = true
	}

	t := toposortKahn(g)
	if t.cyclic {
		reportCycles(g, specs, t, r)
		return nil, fmt.Errorf("%w: %d layers unresolved", ErrCycle, len(t.cycles))
	}
	if invalid {
		return nil, ErrInvalid
	}

	out := &Order{
		layers:  make([]Layer, 0, len(t.order)),
		byID:    make(map[ID]int, len(t.order)),
		byClass: make(map[string][]int, len(specs)),
	}
	for pos, nid := range t.order {
		n := g.nodes[int(nid)]
		spec := specs[n.class]
		out.layers = append(out.layers, Layer{
			ID:            n.id,
			Order:         pos,
			Index:         n.index,
			ExplicitOrder: spec.ExplicitOrder,
			Transformer:   spec.Transformer,
		})
		out.byID[n.id] = pos
		out.byClass[n.id.Class] = append(out.byClass[n.id.Class], pos)
	}
	for _, batch := range t.batches {
		ids := make([]ID, len(batch))
		for i, nid := range batch {
			ids[i] = g.nodes[int(nid)].id
		}
		out.batches = append(out.batches, ids)
	}
	return out, nil
}

// normalizeClasses applies NFC, fills default layers, drops duplicates and
// sorts classes by name.
func normalizeClasses(classes []ClassSpec, r diag.Reporter) ([]ClassSpec, bool) {
	invalid := false
	seen := make(map[string]source.Span, len(classes))
	out := make([]ClassSpec, 0, len(classes))
	for _, c := range classes {
		c.Name = Normalize(c.Name)
		if c.Name == "" {
			diag.ReportError(r, diag.OrdDuplicateLayer, c.Span, "transformation class without a name").Emit()
			invalid = true
			continue
		}
		if prev, dup := seen[c.Name]; dup {
			diag.ReportError(r, diag.OrdDuplicateLayer, c.Span,
				fmt.Sprintf("class %q is declared twice", c.Name)).
				WithNote(prev, "previous declaration").
				Emit()
			invalid = true
			continue
		}
		seen[c.Name] = c.Span

		names := c.Layers
		if len(names) == 0 {
			names = []string{DefaultName}
		}
		layers := make([]string, 0, len(names))
		used := make(map[string]struct{}, len(names))
		for _, name := range names {
			name = Normalize(name)
			if _, dup := used[name]; dup || name == "" {
				diag.ReportError(r, diag.OrdDuplicateLayer, c.Span,
					fmt.Sprintf("class %q declares layer %q twice", c.Name, name)).Emit()
				invalid = true
				continue
			}
			used[name] = struct{}{}
			layers = append(layers, name)
		}
		c.Layers = layers
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b ClassSpec) int { return strings.Compare(a.Name, b.Name) })
	return out, invalid
}

func buildGraph(specs []ClassSpec) *graph {
	g := &graph{}
	for ci, c := range specs {
		for li, name := range c.Layers {
			g.nodes = append(g.nodes, node{id: ID{Class: c.Name, Name: name}, class: ci, index: li})
		}
	}
	g.edges = make([][]nodeID, len(g.nodes))
	g.indeg = make([]int, len(g.nodes))
	for i := 1; i < len(g.nodes); i++ {
		if g.nodes[i].class == g.nodes[i-1].class {
			g.addEdge(toNodeID(i-1), toNodeID(i))
		}
	}
	return g
}

func (g *graph) addEdge(from, to nodeID) {
	if slices.Contains(g.edges[int(from)], to) {
		return
	}
	g.edges[int(from)] = append(g.edges[int(from)], to)
	g.indeg[int(to)]++
}

// classBounds returns the first and last node of class ci.
func (g *graph) classBounds(ci int) (first, last nodeID) {
	found := false
	for i, n := range g.nodes {
		if n.class != ci {
			continue
		}
		if !found {
			first = toNodeID(i)
			found = true
		}
		last = toNodeID(i)
	}
	return first, last
}

func addConstraints(g *graph, specs []ClassSpec, constraints []Constraint, r diag.Reporter) bool {
	ok := true
	index := make(map[string]int, len(specs))
	for i, c := range specs {
		index[c.Name] = i
	}
	for _, c := range constraints {
		before, after := Normalize(c.Before), Normalize(c.After)
		bi, okB := index[before]
		ai, okA := index[after]
		switch {
		case !okB || !okA:
			missing := before
			if okB {
				missing = after
			}
			diag.ReportError(r, diag.OrdUnknownClass, c.Span,
				fmt.Sprintf("ordering constraint references unknown class %q", missing)).Emit()
			ok = false
			continue
		case bi == ai:
			diag.ReportError(r, diag.OrdSelfConstraint, c.Span,
				fmt.Sprintf("class %q is ordered relative to itself", before)).Emit()
			ok = false
			continue
		}
		_, last := g.classBounds(bi)
		first, _ := g.classBounds(ai)
		g.addEdge(last, first)
	}
	return ok
}

func toposortKahn(g *graph) *topo {
	nodeCount := len(g.nodes)
	indeg := make([]int, nodeCount)
	copy(indeg, g.indeg)

	t := &topo{
		order:   make([]nodeID, 0, nodeCount),
		batches: make([][]nodeID, 0),
	}

	current := make([]nodeID, 0, nodeCount)
	for i := range nodeCount {
		if indeg[i] == 0 {
			current = append(current, toNodeID(i))
		}
	}

	visited := 0
	for len(current) > 0 {
		batch := make([]nodeID, len(current))
		copy(batch, current)
		t.batches = append(t.batches, batch)

		next := make([]nodeID, 0)
		for _, id := range batch {
			t.order = append(t.order, id)
			visited++
			for _, to := range g.edges[int(id)] {
				indeg[int(to)]--
				if indeg[int(to)] == 0 {
					next = append(next, to)
				}
			}
		}
		// node ids follow (class name, index), so sorting ids is the tie-break
		slices.Sort(next)
		current = next
	}

	if visited != nodeCount {
		t.cyclic = true
		for i := range nodeCount {
			if indeg[i] > 0 {
				t.cycles = append(t.cycles, toNodeID(i))
			}
		}
	}
	return t
}

func reportCycles(g *graph, specs []ClassSpec, t *topo, r diag.Reporter) {
	var classes []int
	for _, nid := range t.cycles {
		ci := g.nodes[int(nid)].class
		if !slices.Contains(classes, ci) {
			classes = append(classes, ci)
		}
	}
	names := make([]string, len(classes))
	for i, ci := range classes {
		names[i] = specs[ci].Name
	}
	summary := strings.Join(names, " -> ")
	for _, ci := range classes {
		msg := fmt.Sprintf("class %q participates in an ordering cycle: %s", specs[ci].Name, summary)
		diag.ReportError(r, diag.OrdLayerCycle, specs[ci].Span, msg).Emit()
	}
}

func toNodeID(i int) nodeID {
	id, err := safecast.Conv[nodeID](i)
	if err != nil {
		panic(fmt.Errorf("layer id overflow: %w", err))
	}
	return id
}
