// Package flow builds and represents the per-method control flow graph the
// taint engine propagates over. Node structure is fixed once built; only the
// per-node taint states are written afterwards, by the propagation engine.
package flow

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/panbanda/augur/pkg/methodctx"
	"github.com/panbanda/augur/pkg/taint/catalog"
	"github.com/panbanda/augur/pkg/taint/qualifier"
)

// NodeKind classifies a flow graph node.
type NodeKind string

const (
	KindEntry     NodeKind = "entry"
	KindStatement NodeKind = "statement"
	KindBranch    NodeKind = "branch"
	KindMerge     NodeKind = "merge"
	KindCall      NodeKind = "call"
	KindReturn    NodeKind = "return"
	KindExit      NodeKind = "exit"
)

// EdgeLabel distinguishes control flow paths out of a node.
type EdgeLabel string

const (
	EdgeNormal    EdgeLabel = "normal"
	EdgeTrue      EdgeLabel = "true"
	EdgeFalse     EdgeLabel = "false"
	EdgeException EdgeLabel = "exception"
)

// Edge is a labeled successor reference.
type Edge struct {
	To    int       `json:"to"`
	Label EdgeLabel `json:"label"`
}

// State maps variable names to their taint qualifiers at a program point.
type State map[string]qualifier.Qualifier

// Clone returns an independent copy of the state.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Join merges another state into a fresh copy using the lattice join for
// variables present on both sides; variables defined on only one path keep
// that path's qualifier.
func (s State) Join(other State) State {
	out := s.Clone()
	for k, v := range other {
		if cur, ok := out[k]; ok {
			out[k] = qualifier.Join(cur, v)
		} else {
			out[k] = v
		}
	}
	return out
}

// Equal reports whether two states assign identical qualifiers.
func (s State) Equal(other State) bool {
	if len(s) != len(other) {
		return false
	}
	for k, v := range s {
		if other[k] != v {
			return false
		}
	}
	return true
}

// Node is one vertex in the flow graph. Preds/Succs are fixed at build time;
// In/Out are written during fixpoint propagation.
type Node struct {
	ID   int                  `json:"id"`
	Kind NodeKind             `json:"kind"`
	Stmt *methodctx.Statement `json:"stmt,omitempty"`

	// Call metadata, populated for KindCall when the callee is recognized.
	Callee      string           `json:"callee,omitempty"`
	SinkKind    catalog.SinkKind `json:"sink_kind,omitempty"`
	IsSanitizer bool             `json:"is_sanitizer,omitempty"`
	IsSource    bool             `json:"is_source,omitempty"`

	Preds []int  `json:"preds"`
	Succs []Edge `json:"succs"`

	In  State `json:"-"`
	Out State `json:"-"`
}

// IsSink reports whether the node is a recognized sensitive operation.
func (n *Node) IsSink() bool {
	return n.SinkKind != ""
}

// Graph owns the flow nodes and edges for exactly one method.
type Graph struct {
	Method string  `json:"method"`
	Nodes  []*Node `json:"nodes"`
	Entry  int     `json:"entry"`
	Exits  []int   `json:"exits"`
}

// Node returns the node with the given ID, or nil when out of range.
func (g *Graph) Node(id int) *Node {
	if id < 0 || id >= len(g.Nodes) {
		return nil
	}
	return g.Nodes[id]
}

// add appends a node and returns its ID.
func (g *Graph) add(kind NodeKind, stmt *methodctx.Statement) int {
	n := &Node{ID: len(g.Nodes), Kind: kind, Stmt: stmt}
	g.Nodes = append(g.Nodes, n)
	return n.ID
}

// connect adds a labeled edge and maintains the predecessor list.
func (g *Graph) connect(from, to int, label EdgeLabel) {
	src := g.Nodes[from]
	for _, e := range src.Succs {
		if e.To == to && e.Label == label {
			return
		}
	}
	src.Succs = append(src.Succs, Edge{To: to, Label: label})
	g.Nodes[to].Preds = append(g.Nodes[to].Preds, from)
}

// ReachableFrom returns the set of node IDs reachable from start by
// following successor edges, including start itself.
func (g *Graph) ReachableFrom(start int) *roaring.Bitmap {
	seen := roaring.New()
	stack := []int{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen.Contains(uint32(id)) {
			continue
		}
		seen.Add(uint32(id))
		for _, e := range g.Nodes[id].Succs {
			stack = append(stack, e.To)
		}
	}
	return seen
}

// ReachingSet returns the set of node IDs from which target is reachable,
// including target itself. Used for sanitizer-on-path queries.
func (g *Graph) ReachingSet(target int) *roaring.Bitmap {
	seen := roaring.New()
	stack := []int{target}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen.Contains(uint32(id)) {
			continue
		}
		seen.Add(uint32(id))
		stack = append(stack, g.Nodes[id].Preds...)
	}
	return seen
}

// SanitizerBetween reports whether any sanitizer call node lies on some path
// into target (intersection of the nodes reaching target with sanitizer
// nodes reachable from entry).
func (g *Graph) SanitizerBetween(target int) bool {
	reaching := g.ReachingSet(target)
	for _, n := range g.Nodes {
		if n.IsSanitizer && reaching.Contains(uint32(n.ID)) && n.ID != target {
			return true
		}
	}
	return false
}

// CallNodes returns every call node in ID order.
func (g *Graph) CallNodes() []*Node {
	var out []*Node
	for _, n := range g.Nodes {
		if n.Kind == KindCall {
			out = append(out, n)
		}
	}
	return out
}

// Summary holds per-graph counts carried into method results.
type Summary struct {
	Nodes      int `json:"nodes"`
	Branches   int `json:"branches"`
	Merges     int `json:"merges"`
	Calls      int `json:"calls"`
	Sinks      int `json:"sinks"`
	Sanitizers int `json:"sanitizers"`
	Sources    int `json:"sources"`
}

// Summarize computes node-kind counts for reporting.
func (g *Graph) Summarize() Summary {
	var s Summary
	s.Nodes = len(g.Nodes)
	for _, n := range g.Nodes {
		switch n.Kind {
		case KindBranch:
			s.Branches++
		case KindMerge:
			s.Merges++
		case KindCall:
			s.Calls++
		}
		if n.IsSink() {
			s.Sinks++
		}
		if n.IsSanitizer {
			s.Sanitizers++
		}
		if n.IsSource {
			s.Sources++
		}
	}
	return s
}
