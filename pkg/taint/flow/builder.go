package flow

import (
	"fmt"

	"github.com/panbanda/augur/pkg/methodctx"
	"github.com/panbanda/augur/pkg/taint/catalog"
)

// Builder converts a method's flat statement list into a flow graph.
// Catalog lookups tag call nodes with their security relevance at build
// time so later phases never re-resolve callees.
type Builder struct {
	cat *catalog.Catalog
}

// NewBuilder creates a flow graph builder using the given catalog.
func NewBuilder(cat *catalog.Catalog) *Builder {
	if cat == nil {
		cat = catalog.Builtin()
	}
	return &Builder{cat: cat}
}

// pending is a dangling edge waiting for its destination node.
type pending struct {
	from  int
	label EdgeLabel
}

// Build constructs the flow graph for one method. A malformed statement
// sequence (unterminated block, stray end) fails this method only.
func (b *Builder) Build(m *methodctx.Method) (*Graph, error) {
	if err := methodctx.Validate(m.Statements); err != nil {
		return nil, fmt.Errorf("build flow graph for %s: %w", m.Name, err)
	}

	g := &Graph{Method: m.ID}
	entry := g.add(KindEntry, nil)
	g.Entry = entry

	var returns []int
	frontier, idx, err := b.seq(g, m.Statements, 0, []pending{{entry, EdgeNormal}}, &returns)
	if err != nil {
		return nil, err
	}
	if idx != len(m.Statements) {
		return nil, fmt.Errorf("build flow graph for %s: unexpected block marker at statement %d", m.Name, idx)
	}

	exit := g.add(KindExit, nil)
	for _, p := range frontier {
		g.connect(p.from, exit, p.label)
	}
	for _, r := range returns {
		g.connect(r, exit, EdgeNormal)
	}
	// Calls may raise; give every call node an exception path to exit.
	for _, n := range g.Nodes {
		if n.Kind == KindCall {
			g.connect(n.ID, exit, EdgeException)
		}
	}
	g.Exits = []int{exit}
	return g, nil
}

// seq builds nodes for statements starting at index i until it reaches an
// else/end marker (left unconsumed) or the end of the list. It returns the
// dangling frontier and the index it stopped at.
func (b *Builder) seq(g *Graph, stmts []methodctx.Statement, i int, frontier []pending, returns *[]int) ([]pending, int, error) {
	for i < len(stmts) {
		s := &stmts[i]
		switch s.Kind {
		case methodctx.StmtElse, methodctx.StmtEnd:
			return frontier, i, nil

		case methodctx.StmtIf:
			var err error
			frontier, i, err = b.branch(g, stmts, i, frontier, returns)
			if err != nil {
				return nil, i, err
			}

		case methodctx.StmtLoop:
			var err error
			frontier, i, err = b.loop(g, stmts, i, frontier, returns)
			if err != nil {
				return nil, i, err
			}

		case methodctx.StmtReturn:
			id := b.stmtNode(g, s)
			attach(g, frontier, id)
			*returns = append(*returns, id)
			frontier = nil
			i++

		default:
			id := b.stmtNode(g, s)
			attach(g, frontier, id)
			frontier = []pending{{id, EdgeNormal}}
			i++
		}
	}
	return frontier, i, nil
}

// branch builds an if/else diamond: branch node, both arms, merge node.
func (b *Builder) branch(g *Graph, stmts []methodctx.Statement, i int, frontier []pending, returns *[]int) ([]pending, int, error) {
	s := &stmts[i]
	branch := g.add(KindBranch, s)
	attach(g, frontier, branch)
	i++

	trueFront, i, err := b.seq(g, stmts, i, []pending{{branch, EdgeTrue}}, returns)
	if err != nil {
		return nil, i, err
	}

	falseFront := []pending{{branch, EdgeFalse}}
	if i < len(stmts) && stmts[i].Kind == methodctx.StmtElse {
		i++
		falseFront, i, err = b.seq(g, stmts, i, []pending{{branch, EdgeFalse}}, returns)
		if err != nil {
			return nil, i, err
		}
	}

	if i >= len(stmts) || stmts[i].Kind != methodctx.StmtEnd {
		return nil, i, fmt.Errorf("unterminated branch opened at line %d", s.Line)
	}
	i++ // consume end

	merge := g.add(KindMerge, nil)
	attach(g, trueFront, merge)
	attach(g, falseFront, merge)
	return []pending{{merge, EdgeNormal}}, i, nil
}

// loop builds a loop head with a back edge from the body and a false edge
// continuing past the loop.
func (b *Builder) loop(g *Graph, stmts []methodctx.Statement, i int, frontier []pending, returns *[]int) ([]pending, int, error) {
	s := &stmts[i]
	head := g.add(KindBranch, s)
	attach(g, frontier, head)
	i++

	bodyFront, i, err := b.seq(g, stmts, i, []pending{{head, EdgeTrue}}, returns)
	if err != nil {
		return nil, i, err
	}
	if i >= len(stmts) || stmts[i].Kind != methodctx.StmtEnd {
		return nil, i, fmt.Errorf("unterminated loop opened at line %d", s.Line)
	}
	i++ // consume end

	for _, p := range bodyFront {
		g.connect(p.from, head, EdgeNormal) // back edge
	}
	return []pending{{head, EdgeFalse}}, i, nil
}

// stmtNode creates the node for a non-control statement and tags call
// metadata from the catalog.
func (b *Builder) stmtNode(g *Graph, s *methodctx.Statement) int {
	kind := KindStatement
	switch {
	case s.Kind == methodctx.StmtReturn:
		kind = KindReturn
	case s.Kind == methodctx.StmtCall || s.Callee != "":
		kind = KindCall
	}

	id := g.add(kind, s)
	n := g.Nodes[id]
	if s.Callee != "" {
		n.Callee = s.Callee
		if sink, ok := b.cat.LookupSink(s.Callee); ok {
			n.SinkKind = sink.Kind
		}
		if _, ok := b.cat.LookupSanitizer(s.Callee); ok {
			n.IsSanitizer = true
		}
		if _, ok := b.cat.LookupSource(s.Callee); ok {
			n.IsSource = true
		}
	}
	return id
}

func attach(g *Graph, frontier []pending, to int) {
	for _, p := range frontier {
		g.connect(p.from, to, p.label)
	}
}
