// Package graph resolves $ref edges between dictionary entries and records
// cycles as strongly connected components.
package graph

import (
	"fmt"
	"sort"

	"github.com/reoring/openrpc2proto/diag"
	"github.com/reoring/openrpc2proto/spec"
)

type visitState uint8

const (
	stateVisiting visitState = iota + 1
	stateDone
)

// Graph is the reference graph of one VersionedSpec. Nodes are dictionary
// names; an edge A→B means A's schema contains a $ref to B.
type Graph struct {
	vs     *spec.VersionedSpec
	index  map[string]int
	edges  map[string][]string
	order  []string // breadth-first visit order
	sccs   [][]string
	sccOf  map[string]int
	cyclic map[string]bool
	back   [][2]string
}

// Build resolves every reference breadth-first, starting from the method
// roots and then from any dictionary entry not reached that way.
func Build(vs *spec.VersionedSpec) (*Graph, error) {
	g := &Graph{
		vs:     vs,
		index:  make(map[string]int, len(vs.Names)),
		edges:  make(map[string][]string, len(vs.Names)),
		sccOf:  make(map[string]int, len(vs.Names)),
		cyclic: map[string]bool{},
	}
	for i, n := range vs.Names {
		g.index[n] = i
	}

	seen := map[string]bool{}
	var queue []string
	enqueue := func(from string, refs []*spec.Ref) error {
		for _, r := range refs {
			if _, ok := vs.Schemas[r.Target]; !ok {
				return &diag.Error{
					Code:    diag.CodeUnresolvedReference,
					Type:    from,
					Path:    r.Pointer,
					Message: fmt.Sprintf("$ref target %q not found", r.Target),
				}
			}
			if !seen[r.Target] {
				seen[r.Target] = true
				queue = append(queue, r.Target)
			}
		}
		return nil
	}
	drain := func() error {
		for len(queue) > 0 {
			name := queue[0]
			queue = queue[1:]
			g.order = append(g.order, name)
			refs := spec.Refs(vs.Schemas[name])
			g.edges[name] = distinctTargets(refs)
			if err := enqueue(name, refs); err != nil {
				return err
			}
		}
		return nil
	}

	for i := range vs.Methods {
		m := &vs.Methods[i]
		for _, root := range m.Roots() {
			if err := enqueue(m.Name, spec.Refs(root)); err != nil {
				return nil, diag.InNamespace(err, m.Namespace)
			}
		}
	}
	if err := drain(); err != nil {
		return nil, err
	}
	for _, name := range vs.Names {
		if seen[name] {
			continue
		}
		seen[name] = true
		queue = append(queue, name)
		if err := drain(); err != nil {
			return nil, err
		}
	}

	g.detectBackEdges()
	g.tarjan()
	return g, nil
}

func distinctTargets(refs []*spec.Ref) []string {
	var out []string
	dup := map[string]bool{}
	for _, r := range refs {
		if !dup[r.Target] {
			dup[r.Target] = true
			out = append(out, r.Target)
		}
	}
	return out
}

// detectBackEdges runs a three-color depth-first traversal and records every
// edge that closes a cycle.
func (g *Graph) detectBackEdges() {
	states := make(map[string]visitState, len(g.vs.Names))
	var visit func(name string)
	visit = func(name string) {
		states[name] = stateVisiting
		for _, next := range g.edges[name] {
			switch states[next] {
			case stateVisiting:
				g.back = append(g.back, [2]string{name, next})
			case 0:
				visit(next)
			}
		}
		states[name] = stateDone
	}
	for _, name := range g.vs.Names {
		if states[name] == 0 {
			visit(name)
		}
	}
}

// tarjan computes strongly connected components. Components are emitted
// with dependencies first, which is the order the mapper needs.
func (g *Graph) tarjan() {
	idx := 0
	index := map[string]int{}
	low := map[string]int{}
	onStack := map[string]bool{}
	var stack []string

	var strong func(v string)
	strong = func(v string) {
		index[v] = idx
		low[v] = idx
		idx++
		stack = append(stack, v)
		onStack[v] = true
		for _, w := range g.edges[v] {
			if _, ok := index[w]; !ok {
				strong(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], index[w])
			}
		}
		if low[v] != index[v] {
			return
		}
		var comp []string
		for {
			n := len(stack) - 1
			w := stack[n]
			stack = stack[:n]
			onStack[w] = false
			comp = append(comp, w)
			if w == v {
				break
			}
		}
		sort.Slice(comp, func(i, j int) bool { return g.index[comp[i]] < g.index[comp[j]] })
		id := len(g.sccs)
		for _, w := range comp {
			g.sccOf[w] = id
		}
		g.sccs = append(g.sccs, comp)
	}
	for _, name := range g.vs.Names {
		if _, ok := index[name]; !ok {
			strong(name)
		}
	}

	for _, e := range g.back {
		for _, w := range g.sccs[g.sccOf[e[1]]] {
			g.cyclic[w] = true
		}
	}
}

// Resolve returns the schema node registered under name.
func (g *Graph) Resolve(name string) (spec.Node, bool) {
	n, ok := g.vs.Schemas[name]
	return n, ok
}

// IsCyclic reports whether name lies on a reference cycle (self references
// included).
func (g *Graph) IsCyclic(name string) bool { return g.cyclic[name] }

// Edges returns the distinct targets referenced by name, in first-seen order.
func (g *Graph) Edges(name string) []string { return g.edges[name] }

// Component returns the members of name's strongly connected component.
func (g *Graph) Component(name string) []string {
	id, ok := g.sccOf[name]
	if !ok {
		return nil
	}
	return g.sccs[id]
}

// Components returns every strongly connected component, dependencies first.
func (g *Graph) Components() [][]string { return g.sccs }

// TopologicalOrder lists every dictionary name so that a type comes after
// the types it references, except within a cycle. Members of one component
// are adjacent and ordered by declaration.
func (g *Graph) TopologicalOrder() []string {
	out := make([]string, 0, len(g.vs.Names))
	for _, c := range g.sccs {
		out = append(out, c...)
	}
	return out
}

// VisitOrder is the breadth-first order in which names were first resolved.
func (g *Graph) VisitOrder() []string { return g.order }

// Reachable returns the names reachable from roots (roots included), in
// topological order.
func (g *Graph) Reachable(roots ...string) []string {
	seen := map[string]bool{}
	queue := append([]string(nil), roots...)
	for _, r := range roots {
		seen[r] = true
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, next := range g.edges[n] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	var out []string
	for _, n := range g.TopologicalOrder() {
		if seen[n] {
			out = append(out, n)
		}
	}
	return out
}

// Targets returns the distinct dictionary names referenced inside n.
func Targets(n spec.Node) []string { return distinctTargets(spec.Refs(n)) }
