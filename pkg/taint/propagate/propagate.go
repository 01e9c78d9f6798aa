// Package propagate runs the forward taint dataflow fixpoint over a method's
// flow graph. Node input state is the lattice join of all predecessor output
// states; output state applies the node's statement semantics. The engine
// terminates because states only grow under join and transfer functions are
// deterministic over the input state.
package propagate

import (
	"fmt"

	"github.com/panbanda/augur/pkg/methodctx"
	"github.com/panbanda/augur/pkg/taint/catalog"
	"github.com/panbanda/augur/pkg/taint/constraint"
	"github.com/panbanda/augur/pkg/taint/flow"
	"github.com/panbanda/augur/pkg/taint/qualifier"
)

// Step is one taint propagation event, kept for violation evidence.
type Step struct {
	Node     int                 `json:"node"`
	Line     uint32              `json:"line"`
	Variable string              `json:"variable"`
	Result   qualifier.Qualifier `json:"result"`
	Note     string              `json:"note"`
}

// SinkHit is a tainted value reaching a recognized sink after convergence.
// The violation detector turns hits into security issues.
type SinkHit struct {
	Node     int              `json:"node"`
	Callee   string           `json:"callee"`
	Kind     catalog.SinkKind `json:"kind"`
	Line     uint32           `json:"line"`
	Variable string           `json:"variable"`

	// PartiallySanitized is set when a sanitizer appears on some path into
	// the sink but the joined state is still tainted (a branch was missed).
	PartiallySanitized bool `json:"partially_sanitized"`

	Trace []Step `json:"trace,omitempty"`
}

// Outcome carries everything the fixpoint produced for one method.
type Outcome struct {
	Iterations int        `json:"iterations"`
	Steps      []Step     `json:"steps,omitempty"`
	Hits       []SinkHit  `json:"hits,omitempty"`
	Exit       flow.State `json:"exit,omitempty"`
}

// Engine applies transfer functions using a callee catalog and a library
// behavior policy for unknown calls.
type Engine struct {
	cat    *catalog.Catalog
	policy constraint.LibraryBehavior
}

// New creates a propagation engine. A nil catalog uses the builtin one.
func New(cat *catalog.Catalog, policy constraint.LibraryBehavior) *Engine {
	if cat == nil {
		cat = catalog.Builtin()
	}
	if policy == "" {
		policy = constraint.Conservative
	}
	return &Engine{cat: cat, policy: policy}
}

// Run executes the fixpoint. Parameter qualifiers seed the entry state; the
// solver's inferred map, when present, is joined in so low-confidence
// inferences never weaken a known tainted source. Hits and steps are
// collected in node ID order, so output is deterministic for a given graph.
func (e *Engine) Run(g *flow.Graph, params []methodctx.Param, inferred map[string]qualifier.Qualifier) (*Outcome, error) {
	seed := e.seed(params, inferred)

	for _, n := range g.Nodes {
		n.In, n.Out = flow.State{}, flow.State{}
	}
	entry := g.Nodes[g.Entry]
	entry.In = seed.Clone()
	entry.Out = seed.Clone()

	work := map[int]bool{}
	for _, edge := range entry.Succs {
		work[edge.To] = true
	}

	maxIter := iterationBound(g, len(seed))
	iter := 0
	for len(work) > 0 {
		iter++
		if iter > maxIter {
			return nil, fmt.Errorf("propagation did not converge for %s after %d iterations", g.Method, maxIter)
		}

		id := popSmallest(work)
		n := g.Nodes[id]

		in := flow.State{}
		for _, p := range n.Preds {
			in = in.Join(g.Nodes[p].Out)
		}
		out := e.transfer(n, in)

		n.In = in
		if !out.Equal(n.Out) {
			n.Out = out
			for _, edge := range n.Succs {
				work[edge.To] = true
			}
		}
	}

	res := &Outcome{Iterations: iter}
	res.Steps = e.collectSteps(g, params)
	res.Hits = e.collectHits(g, res.Steps)
	if len(g.Exits) > 0 {
		res.Exit = g.Nodes[g.Exits[0]].In
	}
	return res, nil
}

// seed builds the entry state from parameter sources joined with any
// solver-inferred qualifiers.
func (e *Engine) seed(params []methodctx.Param, inferred map[string]qualifier.Qualifier) flow.State {
	seed := flow.State{}
	for _, p := range params {
		q := qualifier.Untainted
		if p.Source.Tainted() {
			q = qualifier.Tainted
		}
		if iq, ok := inferred[p.Name]; ok && iq.IsConcrete() {
			q = qualifier.Join(q, iq)
		}
		seed[p.Name] = q
	}
	return seed
}

// transfer applies one node's statement semantics to its input state. Only
// assignments write state; calls without a result, branches and merges pass
// state through unchanged.
func (e *Engine) transfer(n *flow.Node, in flow.State) flow.State {
	out := in.Clone()
	s := n.Stmt
	if s == nil || s.Kind != methodctx.StmtAssign || s.Target == "" {
		return out
	}
	out[s.Target] = e.resultQualifier(s, in)
	return out
}

// resultQualifier computes the qualifier an assignment's target receives.
func (e *Engine) resultQualifier(s *methodctx.Statement, in flow.State) qualifier.Qualifier {
	if s.Callee == "" {
		if len(s.Sources) == 0 {
			return qualifier.Untainted
		}
		qs := make([]qualifier.Qualifier, 0, len(s.Sources))
		for _, src := range s.Sources {
			qs = append(qs, valueOf(in, src))
		}
		return qualifier.JoinAll(qs...)
	}

	if _, ok := e.cat.LookupSanitizer(s.Callee); ok {
		return qualifier.Untainted
	}
	if _, ok := e.cat.LookupSource(s.Callee); ok {
		return qualifier.Tainted
	}
	if poly, ok := e.cat.LookupPoly(s.Callee); ok {
		var args []qualifier.Qualifier
		for _, pos := range poly.DesignatedArgs(len(s.Args)) {
			if pos >= len(s.Args) {
				continue
			}
			args = append(args, valueOf(in, s.Args[pos]))
		}
		return qualifier.Instantiate(qualifier.PolyTaint, poly.Rule, args)
	}

	if e.policy == constraint.Optimistic {
		return qualifier.Untainted
	}
	return qualifier.Tainted
}

// valueOf reads a variable's qualifier from the state. Literal arguments
// (empty name) and never-assigned variables read as Untainted.
func valueOf(in flow.State, name string) qualifier.Qualifier {
	if name == "" {
		return qualifier.Untainted
	}
	if q, ok := in[name]; ok {
		return q
	}
	return qualifier.Untainted
}

// collectSteps walks the converged graph once, in node ID order, and emits
// a step per qualifier-producing event.
func (e *Engine) collectSteps(g *flow.Graph, params []methodctx.Param) []Step {
	var steps []Step
	for _, p := range params {
		if !p.Source.Tainted() {
			continue
		}
		steps = append(steps, Step{
			Node:     g.Entry,
			Variable: p.Name,
			Result:   qualifier.Tainted,
			Note:     fmt.Sprintf("parameter source: %s", p.Source),
		})
	}
	for _, n := range g.Nodes {
		s := n.Stmt
		if s == nil || s.Kind != methodctx.StmtAssign || s.Target == "" {
			continue
		}
		steps = append(steps, Step{
			Node:     n.ID,
			Line:     s.Line,
			Variable: s.Target,
			Result:   n.Out[s.Target],
			Note:     e.describe(s),
		})
	}
	return steps
}

func (e *Engine) describe(s *methodctx.Statement) string {
	if s.Callee == "" {
		return "assignment"
	}
	if san, ok := e.cat.LookupSanitizer(s.Callee); ok {
		return fmt.Sprintf("sanitizer: %s", san.Name)
	}
	if src, ok := e.cat.LookupSource(s.Callee); ok {
		return fmt.Sprintf("source: %s (%s)", src.Name, src.Kind)
	}
	if poly, ok := e.cat.LookupPoly(s.Callee); ok {
		return fmt.Sprintf("poly: %s (%s)", poly.Name, poly.Rule)
	}
	return fmt.Sprintf("call: %s (%s policy)", s.Callee, e.policy)
}

// collectHits checks every sink node's converged input state.
func (e *Engine) collectHits(g *flow.Graph, steps []Step) []SinkHit {
	var hits []SinkHit
	for _, n := range g.Nodes {
		if !n.IsSink() || n.Stmt == nil {
			continue
		}
		sink, ok := e.cat.LookupSink(n.Callee)
		if !ok {
			continue
		}
		for _, pos := range sink.CheckedArgs(len(n.Stmt.Args)) {
			if pos >= len(n.Stmt.Args) || n.Stmt.Args[pos] == "" {
				continue
			}
			arg := n.Stmt.Args[pos]
			if n.In[arg] != qualifier.Tainted {
				continue
			}
			// The trace runs source to sink: the def chain of the argument,
			// closed by the step where taint reaches the sink itself.
			trace := buildTrace(g, steps, arg, n.ID)
			trace = append(trace, Step{
				Node:     n.ID,
				Line:     n.Stmt.Line,
				Variable: arg,
				Result:   qualifier.Tainted,
				Note:     fmt.Sprintf("reaches sink: %s (%s)", n.Callee, n.SinkKind),
			})
			hits = append(hits, SinkHit{
				Node:               n.ID,
				Callee:             n.Callee,
				Kind:               n.SinkKind,
				Line:               n.Stmt.Line,
				Variable:           arg,
				PartiallySanitized: g.SanitizerBetween(n.ID),
				Trace:              trace,
			})
		}
	}
	return hits
}

// buildTrace filters the step list down to the backward def chain of the
// sink argument, in source-to-sink order.
func buildTrace(g *flow.Graph, steps []Step, arg string, sinkNode int) []Step {
	relevant := map[string]bool{arg: true}
	var rev []Step
	for i := len(steps) - 1; i >= 0; i-- {
		st := steps[i]
		if st.Node > sinkNode || !relevant[st.Variable] {
			continue
		}
		rev = append(rev, st)
		n := g.Node(st.Node)
		if n == nil || n.Stmt == nil {
			continue
		}
		for _, src := range n.Stmt.Sources {
			if src != "" {
				relevant[src] = true
			}
		}
		for _, a := range n.Stmt.Args {
			if a != "" {
				relevant[a] = true
			}
		}
	}
	trace := make([]Step, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		trace = append(trace, rev[i])
	}
	return trace
}

// iterationBound caps the worklist per the monotone-lattice argument:
// each variable at each node can climb the lattice a bounded number of times.
func iterationBound(g *flow.Graph, seeded int) int {
	vars := seeded
	for _, n := range g.Nodes {
		if n.Stmt != nil && n.Stmt.Target != "" {
			vars++
		}
	}
	return (len(g.Nodes) + 1) * (3*vars + 3)
}

func popSmallest(work map[int]bool) int {
	min := -1
	for id := range work {
		if min < 0 || id < min {
			min = id
		}
	}
	delete(work, min)
	return min
}
