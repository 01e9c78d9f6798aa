package violation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panbanda/augur/pkg/taint/catalog"
	"github.com/panbanda/augur/pkg/taint/propagate"
	"github.com/panbanda/augur/pkg/taint/qualifier"
)

func hit(callee string, kind catalog.SinkKind, variable string) propagate.SinkHit {
	return propagate.SinkHit{
		Node:     3,
		Callee:   callee,
		Kind:     kind,
		Line:     10,
		Variable: variable,
		Trace: []propagate.Step{
			{Node: 0, Variable: variable, Result: qualifier.Tainted, Note: "parameter source: user-input"},
			{Node: 3, Line: 10, Variable: variable, Result: qualifier.Tainted, Note: "reaches sink: " + callee},
		},
	}
}

func TestDetectSeverityBySinkKind(t *testing.T) {
	cases := []struct {
		kind     catalog.SinkKind
		severity Severity
		typ      string
		cwe      string
	}{
		{catalog.SinkExec, Critical, "command-injection", "CWE-78"},
		{catalog.SinkQuery, Critical, "sql-injection", "CWE-89"},
		{catalog.SinkHTML, Medium, "cross-site-scripting", "CWE-79"},
		{catalog.SinkLog, Low, "log-injection", "CWE-117"},
	}

	for _, tc := range cases {
		issues := Detect("a.go:m:1", []propagate.SinkHit{hit("f", tc.kind, "p")})
		require.Len(t, issues, 1, "kind %s", tc.kind)
		assert.Equal(t, tc.severity, issues[0].Severity)
		assert.Equal(t, tc.typ, issues[0].Type)
		assert.Equal(t, tc.cwe, issues[0].CWE)
		assert.NotEmpty(t, issues[0].Recommendation)
	}
}

func TestDetectDeduplicatesByPathSignature(t *testing.T) {
	// The same source reaching the same sink through an identical trace is
	// one underlying flow even when reported from overlapping paths.
	h := hit("db.query", catalog.SinkQuery, "param")
	issues := Detect("a.go:m:1", []propagate.SinkHit{h, h})

	require.Len(t, issues, 1)
	assert.Equal(t, "param (parameter source: user-input)", issues[0].Source)
}

func TestDetectDistinctVariablesStayDistinct(t *testing.T) {
	issues := Detect("a.go:m:1", []propagate.SinkHit{
		hit("db.query", catalog.SinkQuery, "a"),
		hit("db.query", catalog.SinkQuery, "b"),
	})

	require.Len(t, issues, 2)
	assert.NotEqual(t, issues[0].Signature, issues[1].Signature)
}

func TestDetectPartialSanitizationNote(t *testing.T) {
	h := hit("db.query", catalog.SinkQuery, "x")
	h.PartiallySanitized = true

	issues := Detect("a.go:m:1", []propagate.SinkHit{h})
	require.Len(t, issues, 1)
	assert.True(t, issues[0].PartiallySanitized)
	assert.Contains(t, issues[0].Recommendation, "every path")
}

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, Critical.Rank(), High.Rank())
	assert.Greater(t, High.Rank(), Medium.Rank())
	assert.Greater(t, Medium.Rank(), Low.Rank())
	assert.Greater(t, Low.Rank(), Severity("").Rank())
}
