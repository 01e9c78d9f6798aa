package models

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/panbanda/augur/pkg/taint/flow"
	"github.com/panbanda/augur/pkg/taint/qualifier"
	"github.com/panbanda/augur/pkg/taint/violation"
)

// Score penalties per issue severity. A method starts at 100 and loses
// points per finding, floored at 0.
const (
	CriticalPenalty = 40.0
	HighPenalty     = 25.0
	MediumPenalty   = 10.0
	LowPenalty      = 5.0
)

// MethodAnalysisResult is the per-method output of the taint pipeline and
// the unit of caching and parallel task output.
type MethodAnalysisResult struct {
	MethodID string `json:"method_id"`
	File     string `json:"file"`
	Name     string `json:"name"`
	Language string `json:"language,omitempty"`

	Graph         flow.Summary                   `json:"graph"`
	TaintedParams int                            `json:"tainted_params"`
	Issues        []violation.Issue              `json:"issues,omitempty"`
	InferredTypes map[string]qualifier.Qualifier `json:"inferred_types,omitempty"`
	Confidence    map[string]float64             `json:"confidence,omitempty"`
	Warnings      []string                       `json:"warnings,omitempty"`

	// SecurityScore is in [0,100]; 100 means no findings.
	SecurityScore float64 `json:"security_score"`

	ContentHash   string `json:"content_hash,omitempty"`
	SignatureHash string `json:"signature_hash,omitempty"`

	CacheHit   bool   `json:"cache_hit,omitempty"`
	Failed     bool   `json:"failed,omitempty"`
	Error      string `json:"error,omitempty"`
	Iterations int    `json:"iterations,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// LowConfidence reports whether the method carries solver warnings.
func (r *MethodAnalysisResult) LowConfidence() bool {
	return len(r.Warnings) > 0
}

// ScoreIssues computes a security score from findings.
func ScoreIssues(issues []violation.Issue) float64 {
	score := 100.0
	for _, is := range issues {
		switch is.Severity {
		case violation.Critical:
			score -= CriticalPenalty
		case violation.High:
			score -= HighPenalty
		case violation.Medium:
			score -= MediumPenalty
		case violation.Low:
			score -= LowPenalty
		}
	}
	if score < 0 {
		return 0
	}
	return score
}

// ReportSummary aggregates counts across all analyzed methods.
type ReportSummary struct {
	TotalMethods    int `json:"total_methods"`
	AnalyzedMethods int `json:"analyzed_methods"`
	FailedMethods   int `json:"failed_methods"`
	CacheHits       int `json:"cache_hits"`
	LowConfidence   int `json:"low_confidence"`

	TotalIssues int `json:"total_issues"`
	Critical    int `json:"critical"`
	High        int `json:"high"`
	Medium      int `json:"medium"`
	Low         int `json:"low"`
}

// ReportMetrics holds coverage ratios and score statistics.
type ReportMetrics struct {
	// TaintCoverage is the share of methods carrying at least one taint
	// source (tainted parameter or recognized source call).
	TaintCoverage float64 `json:"taint_coverage"`
	// SanitizerCoverage is the share of taint-carrying methods that call a
	// sanitizer at least once.
	SanitizerCoverage float64 `json:"sanitizer_coverage"`
	// SinkCoverage is the share of methods containing a recognized sink.
	SinkCoverage float64 `json:"sink_coverage"`

	MeanScore   float64 `json:"mean_score"`
	StdDevScore float64 `json:"stddev_score"`
	P50Score    float64 `json:"p50_score"`
	P90Score    float64 `json:"p90_score"`
}

// Report is the aggregate security analysis output for one run.
type Report struct {
	GeneratedAt     time.Time              `json:"generated_at"`
	Results         []MethodAnalysisResult `json:"results"`
	Summary         ReportSummary          `json:"summary"`
	Metrics         ReportMetrics          `json:"metrics"`
	Recommendations []string               `json:"recommendations,omitempty"`
}

// NewReport sorts results by method ID and computes summary, metrics, and
// recommendations. Sorting makes report output independent of worker
// completion order.
func NewReport(results []MethodAnalysisResult) *Report {
	sort.Slice(results, func(i, j int) bool {
		return results[i].MethodID < results[j].MethodID
	})

	r := &Report{
		GeneratedAt: time.Now().UTC(),
		Results:     results,
	}
	r.computeSummary()
	r.computeMetrics()
	r.computeRecommendations()
	return r
}

func (r *Report) computeSummary() {
	s := &r.Summary
	s.TotalMethods = len(r.Results)
	for _, res := range r.Results {
		if res.Failed {
			s.FailedMethods++
			continue
		}
		s.AnalyzedMethods++
		if res.CacheHit {
			s.CacheHits++
		}
		if res.LowConfidence() {
			s.LowConfidence++
		}
		for _, is := range res.Issues {
			s.TotalIssues++
			switch is.Severity {
			case violation.Critical:
				s.Critical++
			case violation.High:
				s.High++
			case violation.Medium:
				s.Medium++
			case violation.Low:
				s.Low++
			}
		}
	}
}

func (r *Report) computeMetrics() {
	m := &r.Metrics

	var analyzed, tainted, sanitized, sinks int
	var scores []float64
	for _, res := range r.Results {
		if res.Failed {
			continue
		}
		analyzed++
		scores = append(scores, res.SecurityScore)

		carriesTaint := res.TaintedParams > 0 || res.Graph.Sources > 0
		if carriesTaint {
			tainted++
			if res.Graph.Sanitizers > 0 {
				sanitized++
			}
		}
		if res.Graph.Sinks > 0 {
			sinks++
		}
	}
	if analyzed == 0 {
		return
	}

	m.TaintCoverage = float64(tainted) / float64(analyzed)
	m.SinkCoverage = float64(sinks) / float64(analyzed)
	if tainted > 0 {
		m.SanitizerCoverage = float64(sanitized) / float64(tainted)
	}

	sort.Float64s(scores)
	m.MeanScore = stat.Mean(scores, nil)
	if len(scores) > 1 {
		m.StdDevScore = stat.StdDev(scores, nil)
	}
	m.P50Score = stat.Quantile(0.5, stat.Empirical, scores, nil)
	m.P90Score = stat.Quantile(0.9, stat.Empirical, scores, nil)
}

// computeRecommendations collects distinct issue recommendations ordered by
// the worst severity that produced them.
func (r *Report) computeRecommendations() {
	type rec struct {
		text string
		rank int
	}
	seen := map[string]int{}
	var recs []rec
	for _, res := range r.Results {
		for _, is := range res.Issues {
			rank := is.Severity.Rank()
			if prev, ok := seen[is.Recommendation]; ok {
				if rank > prev {
					seen[is.Recommendation] = rank
					for i := range recs {
						if recs[i].text == is.Recommendation {
							recs[i].rank = rank
						}
					}
				}
				continue
			}
			seen[is.Recommendation] = rank
			recs = append(recs, rec{text: is.Recommendation, rank: rank})
		}
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].rank > recs[j].rank })
	for _, rc := range recs {
		r.Recommendations = append(r.Recommendations, rc.text)
	}
}

// IssuesBySeverity returns all issues at the given severity across methods,
// in report order.
func (r *Report) IssuesBySeverity(sev violation.Severity) []violation.Issue {
	var out []violation.Issue
	for _, res := range r.Results {
		for _, is := range res.Issues {
			if is.Severity == sev {
				out = append(out, is)
			}
		}
	}
	return out
}
