package models

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/panbanda/augur/pkg/taint/flow"
	"github.com/panbanda/augur/pkg/taint/violation"
)

func resultWith(id string, score float64, issues ...violation.Issue) MethodAnalysisResult {
	return MethodAnalysisResult{
		MethodID:      id,
		SecurityScore: score,
		Issues:        issues,
	}
}

func TestScoreIssues(t *testing.T) {
	assert.Equal(t, 100.0, ScoreIssues(nil))
	assert.Equal(t, 60.0, ScoreIssues([]violation.Issue{{Severity: violation.Critical}}))
	assert.Equal(t, 75.0, ScoreIssues([]violation.Issue{{Severity: violation.High}}))

	// The floor is zero no matter how many findings pile up.
	many := make([]violation.Issue, 5)
	for i := range many {
		many[i] = violation.Issue{Severity: violation.Critical}
	}
	assert.Equal(t, 0.0, ScoreIssues(many))
}

func TestNewReportSortsAndSummarizes(t *testing.T) {
	results := []MethodAnalysisResult{
		resultWith("b.go:second:1", 75, violation.Issue{Severity: violation.High, Recommendation: "use parameterized queries"}),
		resultWith("a.go:first:1", 60, violation.Issue{Severity: violation.Critical, Recommendation: "allowlist commands"}),
		{MethodID: "c.go:broken:1", Failed: true, Error: "unterminated branch"},
	}

	r := NewReport(results)

	assert.Equal(t, "a.go:first:1", r.Results[0].MethodID)
	assert.Equal(t, 3, r.Summary.TotalMethods)
	assert.Equal(t, 2, r.Summary.AnalyzedMethods)
	assert.Equal(t, 1, r.Summary.FailedMethods)
	assert.Equal(t, 1, r.Summary.Critical)
	assert.Equal(t, 1, r.Summary.High)
	assert.Equal(t, 2, r.Summary.TotalIssues)

	// Critical recommendation outranks the high one.
	assert.Equal(t, []string{"allowlist commands", "use parameterized queries"}, r.Recommendations)
}

func TestReportMetrics(t *testing.T) {
	results := []MethodAnalysisResult{
		{
			MethodID:      "a.go:tainted:1",
			SecurityScore: 60,
			TaintedParams: 1,
			Graph:         flow.Summary{Sinks: 1, Sanitizers: 1},
		},
		{
			MethodID:      "b.go:clean:1",
			SecurityScore: 100,
			Graph:         flow.Summary{},
		},
	}

	r := NewReport(results)

	assert.InDelta(t, 0.5, r.Metrics.TaintCoverage, 1e-9)
	assert.InDelta(t, 1.0, r.Metrics.SanitizerCoverage, 1e-9)
	assert.InDelta(t, 0.5, r.Metrics.SinkCoverage, 1e-9)
	assert.InDelta(t, 80.0, r.Metrics.MeanScore, 1e-9)
	assert.Greater(t, r.Metrics.StdDevScore, 0.0)
}

func TestReportMetricsEmpty(t *testing.T) {
	r := NewReport(nil)
	assert.Equal(t, 0.0, r.Metrics.TaintCoverage)
	assert.Equal(t, 0.0, r.Metrics.MeanScore)
}

func TestLowConfidence(t *testing.T) {
	res := MethodAnalysisResult{Warnings: []string{"search depth 10 exhausted"}}
	assert.True(t, res.LowConfidence())

	var clean MethodAnalysisResult
	assert.False(t, clean.LowConfidence())
}

func TestIssuesBySeverity(t *testing.T) {
	r := NewReport([]MethodAnalysisResult{
		resultWith("a.go:m:1", 60,
			violation.Issue{Severity: violation.Critical},
			violation.Issue{Severity: violation.Low},
		),
	})

	assert.Len(t, r.IssuesBySeverity(violation.Critical), 1)
	assert.Len(t, r.IssuesBySeverity(violation.Medium), 0)
}
