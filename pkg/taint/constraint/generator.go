package constraint

import (
	"fmt"

	"github.com/panbanda/augur/pkg/methodctx"
	"github.com/panbanda/augur/pkg/taint/catalog"
	"github.com/panbanda/augur/pkg/taint/flow"
	"github.com/panbanda/augur/pkg/taint/qualifier"
)

// LibraryBehavior decides what to assume about callees the catalog does not
// know.
type LibraryBehavior string

const (
	// Conservative treats unknown call results as Tainted.
	Conservative LibraryBehavior = "conservative"
	// Optimistic treats unknown call results as Untainted.
	Optimistic LibraryBehavior = "optimistic"
)

// Generator walks a flow graph in structural order and emits the type
// constraints the solver and propagation engine consume. This is a single
// linear pass, not a fixpoint.
type Generator struct {
	cat    *catalog.Catalog
	policy LibraryBehavior
}

// NewGenerator creates a constraint generator.
func NewGenerator(cat *catalog.Catalog, policy LibraryBehavior) *Generator {
	if cat == nil {
		cat = catalog.Builtin()
	}
	if policy == "" {
		policy = Conservative
	}
	return &Generator{cat: cat, policy: policy}
}

// Generate emits constraints for a method's parameters and flow graph nodes.
func (g *Generator) Generate(gr *flow.Graph, params []methodctx.Param) []Constraint {
	var out []Constraint

	for _, p := range params {
		if p.Source.Tainted() {
			out = append(out, Constraint{
				Kind:     Equality,
				LHS:      VarRef(p.Name),
				RHS:      LitRef(qualifier.Tainted),
				Evidence: fmt.Sprintf("parameter source: %s", p.Source),
			})
		}
	}

	for _, n := range gr.Nodes {
		if n.Stmt == nil {
			continue
		}
		out = append(out, g.nodeConstraints(n)...)
	}
	return out
}

func (g *Generator) nodeConstraints(n *flow.Node) []Constraint {
	s := n.Stmt
	var out []Constraint

	// Assignment result constraints.
	if s.Kind == methodctx.StmtAssign && s.Target != "" {
		out = append(out, g.assignConstraints(s)...)
	}

	// Flow constraints for taint reaching a sink.
	if n.IsSink() {
		sink, _ := g.cat.LookupSink(n.Callee)
		for _, pos := range sink.CheckedArgs(len(s.Args)) {
			if pos >= len(s.Args) || s.Args[pos] == "" {
				continue
			}
			out = append(out, Constraint{
				Kind:     Flow,
				LHS:      VarRef(s.Args[pos]),
				RHS:      LitRef(qualifier.Untainted),
				Line:     s.Line,
				Evidence: fmt.Sprintf("sink: %s (%s)", n.Callee, n.SinkKind),
			})
		}
	}
	return out
}

func (g *Generator) assignConstraints(s *methodctx.Statement) []Constraint {
	var out []Constraint

	if s.Callee == "" {
		// Plain assignment: x = y is an equality; multi-source expressions
		// emit a flow constraint per contributing variable.
		switch len(s.Sources) {
		case 0:
			out = append(out, Constraint{
				Kind:     Equality,
				LHS:      VarRef(s.Target),
				RHS:      LitRef(qualifier.Untainted),
				Line:     s.Line,
				Evidence: "literal value",
			})
		case 1:
			out = append(out, Constraint{
				Kind: Equality,
				LHS:  VarRef(s.Target),
				RHS:  VarRef(s.Sources[0]),
				Line: s.Line,
			})
		default:
			for _, src := range s.Sources {
				out = append(out, Constraint{
					Kind: Flow,
					LHS:  VarRef(src),
					RHS:  VarRef(s.Target),
					Line: s.Line,
				})
			}
		}
		return out
	}

	// Call result assignment: the catalog decides the result qualifier.
	if _, ok := g.cat.LookupSanitizer(s.Callee); ok {
		return append(out, Constraint{
			Kind:     Equality,
			LHS:      VarRef(s.Target),
			RHS:      LitRef(qualifier.Untainted),
			Line:     s.Line,
			Evidence: fmt.Sprintf("sanitizer: %s", s.Callee),
		})
	}
	if src, ok := g.cat.LookupSource(s.Callee); ok {
		return append(out, Constraint{
			Kind:     Equality,
			LHS:      VarRef(s.Target),
			RHS:      LitRef(qualifier.Tainted),
			Line:     s.Line,
			Evidence: fmt.Sprintf("source: %s (%s)", s.Callee, src.Kind),
		})
	}
	if poly, ok := g.cat.LookupPoly(s.Callee); ok {
		// Poly results depend on arguments at the call site; the
		// propagation engine instantiates them. For inference, each
		// designated argument flows into the result.
		for _, pos := range poly.DesignatedArgs(len(s.Args)) {
			if pos >= len(s.Args) || s.Args[pos] == "" {
				continue
			}
			out = append(out, Constraint{
				Kind:     Flow,
				LHS:      VarRef(s.Args[pos]),
				RHS:      VarRef(s.Target),
				Line:     s.Line,
				Evidence: fmt.Sprintf("poly: %s (%s)", s.Callee, poly.Rule),
			})
		}
		return out
	}

	lit := qualifier.Tainted
	if g.policy == Optimistic {
		lit = qualifier.Untainted
	}
	return append(out, Constraint{
		Kind:     Equality,
		LHS:      VarRef(s.Target),
		RHS:      LitRef(lit),
		Line:     s.Line,
		Evidence: fmt.Sprintf("unknown callee %s (%s policy)", s.Callee, g.policy),
	})
}
