package flow

import (
	"testing"

	"github.com/panbanda/augur/pkg/methodctx"
	"github.com/panbanda/augur/pkg/taint/catalog"
)

func method(name string, stmts ...methodctx.Statement) *methodctx.Method {
	return &methodctx.Method{
		ID:         "test.go:" + name + ":1",
		Name:       name,
		Statements: stmts,
	}
}

func TestBuildStraightLine(t *testing.T) {
	m := method("straight",
		methodctx.Statement{Kind: methodctx.StmtAssign, Target: "x", Sources: []string{"y"}, Line: 2},
		methodctx.Statement{Kind: methodctx.StmtCall, Callee: "db.query", Args: []string{"x"}, Line: 3},
	)

	g, err := NewBuilder(catalog.Builtin()).Build(m)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if g.Nodes[g.Entry].Kind != KindEntry {
		t.Errorf("entry node kind = %s, want entry", g.Nodes[g.Entry].Kind)
	}
	if len(g.Exits) != 1 {
		t.Fatalf("len(Exits) = %d, want 1", len(g.Exits))
	}
	if g.Nodes[g.Exits[0]].Kind != KindExit {
		t.Errorf("exit node kind = %s, want exit", g.Nodes[g.Exits[0]].Kind)
	}

	calls := g.CallNodes()
	if len(calls) != 1 {
		t.Fatalf("len(CallNodes) = %d, want 1", len(calls))
	}
	if calls[0].Callee != "db.query" {
		t.Errorf("Callee = %q, want db.query", calls[0].Callee)
	}
	if calls[0].SinkKind != catalog.SinkQuery {
		t.Errorf("SinkKind = %q, want %q", calls[0].SinkKind, catalog.SinkQuery)
	}
}

func TestBuildBranchAndMerge(t *testing.T) {
	m := method("branchy",
		methodctx.Statement{Kind: methodctx.StmtIf, Line: 2},
		methodctx.Statement{Kind: methodctx.StmtAssign, Target: "x", Callee: "sanitize", Args: []string{"p"}, Line: 3},
		methodctx.Statement{Kind: methodctx.StmtElse, Line: 4},
		methodctx.Statement{Kind: methodctx.StmtAssign, Target: "x", Sources: []string{"p"}, Line: 5},
		methodctx.Statement{Kind: methodctx.StmtEnd, Line: 6},
		methodctx.Statement{Kind: methodctx.StmtCall, Callee: "db.query", Args: []string{"x"}, Line: 7},
	)

	g, err := NewBuilder(catalog.Builtin()).Build(m)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	sum := g.Summarize()
	if sum.Branches != 1 {
		t.Errorf("Branches = %d, want 1", sum.Branches)
	}
	if sum.Merges != 1 {
		t.Errorf("Merges = %d, want 1", sum.Merges)
	}
	if sum.Sanitizers != 1 {
		t.Errorf("Sanitizers = %d, want 1", sum.Sanitizers)
	}
	if sum.Sinks != 1 {
		t.Errorf("Sinks = %d, want 1", sum.Sinks)
	}

	// The merge node must have two predecessors (one per arm).
	var merge *Node
	for _, n := range g.Nodes {
		if n.Kind == KindMerge {
			merge = n
		}
	}
	if merge == nil {
		t.Fatal("no merge node built")
	}
	if len(merge.Preds) != 2 {
		t.Errorf("merge preds = %d, want 2", len(merge.Preds))
	}
}

func TestBuildLoopBackEdge(t *testing.T) {
	m := method("loopy",
		methodctx.Statement{Kind: methodctx.StmtLoop, Line: 2},
		methodctx.Statement{Kind: methodctx.StmtAssign, Target: "x", Sources: []string{"x"}, Line: 3},
		methodctx.Statement{Kind: methodctx.StmtEnd, Line: 4},
	)

	g, err := NewBuilder(nil).Build(m)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	var head *Node
	for _, n := range g.Nodes {
		if n.Kind == KindBranch {
			head = n
		}
	}
	if head == nil {
		t.Fatal("no loop head built")
	}
	// Loop head has the entry edge plus the back edge from the body.
	if len(head.Preds) != 2 {
		t.Errorf("loop head preds = %d, want 2", len(head.Preds))
	}
}

func TestBuildMalformedSequence(t *testing.T) {
	m := method("broken",
		methodctx.Statement{Kind: methodctx.StmtIf, Line: 2},
		methodctx.Statement{Kind: methodctx.StmtAssign, Target: "x", Line: 3},
		// missing end marker
	)

	if _, err := NewBuilder(nil).Build(m); err == nil {
		t.Fatal("Build should fail on unterminated block")
	}
}

func TestBuildReturnRoutesToExit(t *testing.T) {
	m := method("early",
		methodctx.Statement{Kind: methodctx.StmtIf, Line: 2},
		methodctx.Statement{Kind: methodctx.StmtReturn, Line: 3},
		methodctx.Statement{Kind: methodctx.StmtEnd, Line: 4},
		methodctx.Statement{Kind: methodctx.StmtAssign, Target: "x", Line: 5},
	)

	g, err := NewBuilder(nil).Build(m)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	exit := g.Nodes[g.Exits[0]]
	foundReturnPred := false
	for _, p := range exit.Preds {
		if g.Nodes[p].Kind == KindReturn {
			foundReturnPred = true
		}
	}
	if !foundReturnPred {
		t.Error("return node is not a predecessor of exit")
	}
}

func TestReachability(t *testing.T) {
	m := method("reach",
		methodctx.Statement{Kind: methodctx.StmtAssign, Target: "c", Callee: "sanitize", Args: []string{"p"}, Line: 2},
		methodctx.Statement{Kind: methodctx.StmtCall, Callee: "db.query", Args: []string{"c"}, Line: 3},
	)

	g, err := NewBuilder(catalog.Builtin()).Build(m)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	reachable := g.ReachableFrom(g.Entry)
	if int(reachable.GetCardinality()) != len(g.Nodes) {
		t.Errorf("reachable from entry = %d nodes, want %d", reachable.GetCardinality(), len(g.Nodes))
	}

	var sink *Node
	for _, n := range g.Nodes {
		if n.IsSink() {
			sink = n
		}
	}
	if sink == nil {
		t.Fatal("no sink node")
	}
	if !g.SanitizerBetween(sink.ID) {
		t.Error("SanitizerBetween should find the sanitizer preceding the sink")
	}
}

func TestStateJoin(t *testing.T) {
	a := State{"x": "tainted", "y": "untainted"}
	b := State{"x": "untainted", "z": "untainted"}

	j := a.Join(b)
	if j["x"] != "tainted" {
		t.Errorf("join x = %s, want tainted", j["x"])
	}
	if j["y"] != "untainted" || j["z"] != "untainted" {
		t.Errorf("one-sided variables should keep their qualifier, got y=%s z=%s", j["y"], j["z"])
	}
	// Join must not mutate its receiver.
	if len(a) != 2 {
		t.Errorf("Join mutated receiver, len = %d", len(a))
	}
}
