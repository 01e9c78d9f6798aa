// Package violation turns converged sink hits into security issues with
// severity, evidence, remediation guidance, and CWE/OWASP tags.
package violation

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/panbanda/augur/pkg/taint/catalog"
	"github.com/panbanda/augur/pkg/taint/propagate"
)

// Severity ranks an issue. Sink criticality decides it: injection into
// command execution and queries is critical, output sinks rank medium,
// logging sinks low.
type Severity string

const (
	Critical Severity = "critical"
	High     Severity = "high"
	Medium   Severity = "medium"
	Low      Severity = "low"
)

// Rank orders severities for sorting and summary buckets; higher is worse.
func (s Severity) Rank() int {
	switch s {
	case Critical:
		return 4
	case High:
		return 3
	case Medium:
		return 2
	case Low:
		return 1
	}
	return 0
}

// Issue is an immutable finding owned by the method result that contains it.
type Issue struct {
	Type     string           `json:"type"`
	Severity Severity         `json:"severity"`
	Method   string           `json:"method"`
	Line     uint32           `json:"line"`
	Sink     string           `json:"sink"`
	SinkKind catalog.SinkKind `json:"sink_kind"`
	Source   string           `json:"source"`

	Evidence       []propagate.Step `json:"evidence,omitempty"`
	Recommendation string           `json:"recommendation"`
	CWE            string           `json:"cwe,omitempty"`
	OWASP          string           `json:"owasp,omitempty"`

	PartiallySanitized bool `json:"partially_sanitized,omitempty"`

	// Signature identifies the underlying flow so overlapping paths report
	// once. It hashes (source, sink, path).
	Signature uint64 `json:"signature"`
}

// classification is the per-sink-kind issue profile.
type classification struct {
	typ            string
	severity       Severity
	cwe            string
	owasp          string
	recommendation string
}

var classifications = map[catalog.SinkKind]classification{
	catalog.SinkExec: {
		typ:            "command-injection",
		severity:       Critical,
		cwe:            "CWE-78",
		owasp:          "A03:2021",
		recommendation: "never pass user-controlled data to command execution; use an allowlist of fixed commands and pass data as arguments",
	},
	catalog.SinkQuery: {
		typ:            "sql-injection",
		severity:       Critical,
		cwe:            "CWE-89",
		owasp:          "A03:2021",
		recommendation: "use parameterized queries or a query builder instead of interpolating user input",
	},
	catalog.SinkHTML: {
		typ:            "cross-site-scripting",
		severity:       Medium,
		cwe:            "CWE-79",
		owasp:          "A03:2021",
		recommendation: "HTML-escape user-controlled data before writing it to output",
	},
	catalog.SinkLog: {
		typ:            "log-injection",
		severity:       Low,
		cwe:            "CWE-117",
		owasp:          "A09:2021",
		recommendation: "strip newlines and control characters from user input before logging",
	},
}

// Detect converts sink hits for one method into deduplicated issues. Hits
// arrive in node ID order, so output order is deterministic.
func Detect(methodID string, hits []propagate.SinkHit) []Issue {
	var issues []Issue
	seen := map[uint64]bool{}
	for _, h := range hits {
		cls, ok := classifications[h.Kind]
		if !ok {
			cls = classification{
				typ:            "tainted-sink",
				severity:       Medium,
				recommendation: "sanitize user-controlled data before it reaches this operation",
			}
		}

		sig := signature(h)
		if seen[sig] {
			continue
		}
		seen[sig] = true

		issue := Issue{
			Type:               cls.typ,
			Severity:           cls.severity,
			Method:             methodID,
			Line:               h.Line,
			Sink:               h.Callee,
			SinkKind:           h.Kind,
			Source:             sourceOf(h),
			Evidence:           h.Trace,
			Recommendation:     cls.recommendation,
			CWE:                cls.cwe,
			OWASP:              cls.owasp,
			PartiallySanitized: h.PartiallySanitized,
			Signature:          sig,
		}
		if h.PartiallySanitized {
			issue.Recommendation += "; a sanitizer runs on one branch only, every path into the sink must sanitize"
		}
		issues = append(issues, issue)
	}
	return issues
}

// sourceOf names where the tainted data entered, preferring the earliest
// trace step over the raw variable name.
func sourceOf(h propagate.SinkHit) string {
	if len(h.Trace) > 0 {
		return fmt.Sprintf("%s (%s)", h.Trace[0].Variable, h.Trace[0].Note)
	}
	return h.Variable
}

// signature hashes the source, sink, and propagation path so one underlying
// flow reported through overlapping paths collapses to a single issue.
func signature(h propagate.SinkHit) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(sourceOf(h))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(h.Callee)
	_, _ = d.WriteString("\x00")
	for _, st := range h.Trace {
		_, _ = d.WriteString(st.Variable)
		_, _ = d.WriteString(strconv.Itoa(st.Node))
		_, _ = d.WriteString(string(st.Result))
	}
	return d.Sum64()
}
