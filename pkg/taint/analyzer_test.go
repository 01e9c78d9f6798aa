package taint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panbanda/augur/pkg/config"
	"github.com/panbanda/augur/pkg/methodctx"
	"github.com/panbanda/augur/pkg/taint/violation"
)

func testAnalyzer() *Analyzer {
	return NewAnalyzer(config.DefaultConfig().Taint, nil)
}

func testMethod(name string, stmts ...methodctx.Statement) *methodctx.Method {
	return &methodctx.Method{
		ID:   "handlers_test.go:" + name + ":1",
		File: "handlers_test.go",
		Name: name,
		Params: []methodctx.Param{
			{Name: "param", Source: methodctx.SourceUserInput},
		},
		Statements: stmts,
	}
}

func TestTaintedParamToSinkReportsOneIssue(t *testing.T) {
	m := testMethod("direct",
		methodctx.Statement{Kind: methodctx.StmtCall, Callee: "db.query", Args: []string{"param"}, Line: 2},
	)

	res := testAnalyzer().Analyze(context.Background(), m)

	require.False(t, res.Failed, "error: %s", res.Error)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, "sql-injection", res.Issues[0].Type)
	assert.Equal(t, violation.Critical, res.Issues[0].Severity)
	assert.Less(t, res.SecurityScore, 100.0)
	assert.Equal(t, 1, res.TaintedParams)

	// The evidence path runs source to sink: the tainted parameter seed,
	// then the step where taint reaches the query.
	require.Len(t, res.Issues[0].Evidence, 2)
	assert.Contains(t, res.Issues[0].Evidence[0].Note, "parameter source")
	assert.Contains(t, res.Issues[0].Evidence[1].Note, "db.query")
}

func TestSanitizedParamReportsNoIssue(t *testing.T) {
	m := testMethod("cleaned",
		methodctx.Statement{Kind: methodctx.StmtAssign, Target: "clean", Callee: "sanitize", Args: []string{"param"}, Line: 2},
		methodctx.Statement{Kind: methodctx.StmtCall, Callee: "db.query", Args: []string{"clean"}, Line: 3},
	)

	res := testAnalyzer().Analyze(context.Background(), m)

	require.False(t, res.Failed)
	assert.Empty(t, res.Issues)
	assert.Equal(t, 100.0, res.SecurityScore)
	assert.Equal(t, 1, res.Graph.Sanitizers)
}

func TestPolyHelperRules(t *testing.T) {
	m := testMethod("poly",
		methodctx.Statement{Kind: methodctx.StmtAssign, Target: "safe", Line: 2},
		methodctx.Statement{Kind: methodctx.StmtAssign, Target: "viaAny", Callee: "concat", Args: []string{"param", "safe"}, Line: 3},
		methodctx.Statement{Kind: methodctx.StmtAssign, Target: "viaAll", Callee: "coalesce", Args: []string{"param", "safe"}, Line: 4},
		methodctx.Statement{Kind: methodctx.StmtCall, Callee: "db.query", Args: []string{"viaAny"}, Line: 5},
		methodctx.Statement{Kind: methodctx.StmtCall, Callee: "db.query", Args: []string{"viaAll"}, Line: 6},
	)

	res := testAnalyzer().Analyze(context.Background(), m)

	require.False(t, res.Failed)
	// Only the rule-any result stays tainted with one untainted argument.
	require.Len(t, res.Issues, 1)
	assert.Equal(t, "viaAny", res.Issues[0].Evidence[len(res.Issues[0].Evidence)-1].Variable)
}

func TestBranchMergeBeforeSink(t *testing.T) {
	// One arm sanitizes, the other does not. The merge joins to tainted and
	// exactly one issue is reported at the sink.
	m := testMethod("merged",
		methodctx.Statement{Kind: methodctx.StmtIf, Line: 2},
		methodctx.Statement{Kind: methodctx.StmtAssign, Target: "x", Callee: "sanitize", Args: []string{"param"}, Line: 3},
		methodctx.Statement{Kind: methodctx.StmtElse, Line: 4},
		methodctx.Statement{Kind: methodctx.StmtAssign, Target: "x", Sources: []string{"param"}, Line: 5},
		methodctx.Statement{Kind: methodctx.StmtEnd, Line: 6},
		methodctx.Statement{Kind: methodctx.StmtCall, Callee: "db.query", Args: []string{"x"}, Line: 7},
	)

	res := testAnalyzer().Analyze(context.Background(), m)

	require.False(t, res.Failed)
	require.Len(t, res.Issues, 1)
	assert.True(t, res.Issues[0].PartiallySanitized)
	assert.Contains(t, res.Issues[0].Recommendation, "every path")
}

func TestMalformedMethodFailsAlone(t *testing.T) {
	m := testMethod("broken",
		methodctx.Statement{Kind: methodctx.StmtIf, Line: 2},
		// missing end marker
	)

	res := testAnalyzer().Analyze(context.Background(), m)

	assert.True(t, res.Failed)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, 0.0, res.SecurityScore)
}

func TestCancelledContextFailsMethod(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := testMethod("cancelled",
		methodctx.Statement{Kind: methodctx.StmtCall, Callee: "db.query", Args: []string{"param"}, Line: 2},
	)
	res := testAnalyzer().Analyze(ctx, m)

	assert.True(t, res.Failed)
	assert.Contains(t, res.Error, "context canceled")
}

func TestInferredTypesAreConcrete(t *testing.T) {
	m := testMethod("inferred",
		methodctx.Statement{Kind: methodctx.StmtAssign, Target: "x", Sources: []string{"param"}, Line: 2},
		methodctx.Statement{Kind: methodctx.StmtAssign, Target: "y", Callee: "concat", Args: []string{"x", "param"}, Line: 3},
		methodctx.Statement{Kind: methodctx.StmtCall, Callee: "render", Args: []string{"y"}, Line: 4},
	)

	res := testAnalyzer().Analyze(context.Background(), m)

	require.False(t, res.Failed)
	for v, q := range res.InferredTypes {
		assert.True(t, q.IsConcrete(), "%s resolved to %s", v, q)
	}
}

func TestLowConfidenceWarning(t *testing.T) {
	cfg := config.DefaultConfig().Taint
	cfg.ConfidenceThreshold = 0.9

	// Conflicting assignments leave x at confidence 0.5, below threshold.
	m := testMethod("shaky",
		methodctx.Statement{Kind: methodctx.StmtIf, Line: 2},
		methodctx.Statement{Kind: methodctx.StmtAssign, Target: "x", Callee: "sanitize", Args: []string{"param"}, Line: 3},
		methodctx.Statement{Kind: methodctx.StmtElse, Line: 4},
		methodctx.Statement{Kind: methodctx.StmtAssign, Target: "x", Callee: "getParameter", Args: []string{}, Line: 5},
		methodctx.Statement{Kind: methodctx.StmtEnd, Line: 6},
	)

	res := NewAnalyzer(cfg, nil).Analyze(context.Background(), m)

	require.False(t, res.Failed)
	assert.NotEmpty(t, res.Warnings)
}
