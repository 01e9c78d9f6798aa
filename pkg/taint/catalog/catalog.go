// Package catalog holds the registry of recognized taint sources, sinks,
// sanitizers, and poly-taint helpers. A built-in catalog covers the common
// test-suite APIs; JSON policy packs can extend it and are validated against
// an embedded schema before merging.
package catalog

import (
	"strings"

	"github.com/panbanda/augur/pkg/taint/qualifier"
)

// SinkKind classifies sink criticality; violation severity derives from it.
type SinkKind string

const (
	SinkExec  SinkKind = "command-exec"
	SinkQuery SinkKind = "db-query"
	SinkHTML  SinkKind = "html-output"
	SinkLog   SinkKind = "log-write"
)

// SourceKind classifies where tainted data enters.
type SourceKind string

const (
	SourceUserInput SourceKind = "user-input"
	SourceDatabase  SourceKind = "db-read"
	SourceNetwork   SourceKind = "network"
	SourceFile      SourceKind = "file"
)

// Sink describes a recognized sensitive operation.
type Sink struct {
	Name string   `json:"name"`
	Kind SinkKind `json:"kind"`
	// Args lists the argument positions checked for taint; empty means all.
	Args []int `json:"args,omitempty"`
}

// Source describes a recognized taint-introducing call.
type Source struct {
	Name string     `json:"name"`
	Kind SourceKind `json:"kind"`
}

// Sanitizer describes a call recognized as removing taint from its result.
type Sanitizer struct {
	Name string `json:"name"`
	// For names the sink categories the sanitizer protects; empty means all.
	For []SinkKind `json:"for,omitempty"`
}

// PolyHelper describes a call whose result qualifier depends on its
// arguments, per the given propagation rule.
type PolyHelper struct {
	Name string `json:"name"`
	// Args lists the designated argument positions; empty means all.
	Args []int                     `json:"args,omitempty"`
	Rule qualifier.PropagationRule `json:"rule"`
}

// Catalog is the merged registry consulted during analysis. Lookup is by the
// final dotted segment of the callee so that `db.query`, `conn.db.query` and
// `query` all resolve consistently.
type Catalog struct {
	sources    map[string]Source
	sinks      map[string]Sink
	sanitizers map[string]Sanitizer
	poly       map[string]PolyHelper
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{
		sources:    make(map[string]Source),
		sinks:      make(map[string]Sink),
		sanitizers: make(map[string]Sanitizer),
		poly:       make(map[string]PolyHelper),
	}
}

// Builtin returns the default catalog covering common test-suite APIs.
func Builtin() *Catalog {
	c := New()

	for _, s := range []Source{
		{Name: "getParameter", Kind: SourceUserInput},
		{Name: "readLine", Kind: SourceUserInput},
		{Name: "userInput", Kind: SourceUserInput},
		{Name: "FormValue", Kind: SourceUserInput},
		{Name: "PostFormValue", Kind: SourceUserInput},
		{Name: "fetchRow", Kind: SourceDatabase},
		{Name: "queryRow", Kind: SourceDatabase},
		{Name: "QueryRow", Kind: SourceDatabase},
		{Name: "recv", Kind: SourceNetwork},
		{Name: "ReadAll", Kind: SourceNetwork},
		{Name: "readBody", Kind: SourceNetwork},
		{Name: "ReadFile", Kind: SourceFile},
	} {
		c.AddSource(s)
	}

	for _, s := range []Sink{
		{Name: "exec", Kind: SinkExec},
		{Name: "execCommand", Kind: SinkExec},
		{Name: "Command", Kind: SinkExec},
		{Name: "system", Kind: SinkExec},
		{Name: "popen", Kind: SinkExec},
		{Name: "query", Kind: SinkQuery},
		{Name: "Query", Kind: SinkQuery},
		{Name: "Exec", Kind: SinkQuery},
		{Name: "executeQuery", Kind: SinkQuery},
		{Name: "rawQuery", Kind: SinkQuery},
		{Name: "innerHTML", Kind: SinkHTML},
		{Name: "write", Kind: SinkHTML},
		{Name: "render", Kind: SinkHTML},
		{Name: "send", Kind: SinkHTML},
		{Name: "log", Kind: SinkLog},
		{Name: "Printf", Kind: SinkLog},
		{Name: "println", Kind: SinkLog},
	} {
		c.AddSink(s)
	}

	for _, s := range []Sanitizer{
		{Name: "sanitize"},
		{Name: "escape"},
		{Name: "escapeHtml", For: []SinkKind{SinkHTML}},
		{Name: "EscapeString", For: []SinkKind{SinkHTML}},
		{Name: "escapeSql", For: []SinkKind{SinkQuery}},
		{Name: "parameterize", For: []SinkKind{SinkQuery}},
		{Name: "validate"},
		{Name: "validateInput"},
		{Name: "quote"},
		{Name: "Atoi"},
		{Name: "parseInt"},
		{Name: "ParseInt"},
		{Name: "toInt"},
	} {
		c.AddSanitizer(s)
	}

	for _, p := range []PolyHelper{
		{Name: "concat", Rule: qualifier.RuleAny},
		{Name: "join", Rule: qualifier.RuleAny},
		{Name: "format", Rule: qualifier.RuleAny},
		{Name: "sprintf", Rule: qualifier.RuleAny},
		{Name: "Sprintf", Rule: qualifier.RuleAny},
		{Name: "coalesce", Rule: qualifier.RuleAll},
	} {
		c.AddPoly(p)
	}

	return c
}

// AddSource registers a source; later additions override earlier ones.
func (c *Catalog) AddSource(s Source) { c.sources[key(s.Name)] = s }

// AddSink registers a sink.
func (c *Catalog) AddSink(s Sink) { c.sinks[key(s.Name)] = s }

// AddSanitizer registers a sanitizer.
func (c *Catalog) AddSanitizer(s Sanitizer) { c.sanitizers[key(s.Name)] = s }

// AddPoly registers a poly-taint helper.
func (c *Catalog) AddPoly(p PolyHelper) { c.poly[key(p.Name)] = p }

// LookupSource resolves a callee against registered sources.
func (c *Catalog) LookupSource(callee string) (Source, bool) {
	s, ok := c.sources[key(callee)]
	return s, ok
}

// LookupSink resolves a callee against registered sinks.
func (c *Catalog) LookupSink(callee string) (Sink, bool) {
	s, ok := c.sinks[key(callee)]
	return s, ok
}

// LookupSanitizer resolves a callee against registered sanitizers.
func (c *Catalog) LookupSanitizer(callee string) (Sanitizer, bool) {
	s, ok := c.sanitizers[key(callee)]
	return s, ok
}

// LookupPoly resolves a callee against registered poly-taint helpers.
func (c *Catalog) LookupPoly(callee string) (PolyHelper, bool) {
	p, ok := c.poly[key(callee)]
	return p, ok
}

// Known reports whether the callee appears anywhere in the catalog.
// Unknown callees fall under the library-behavior policy.
func (c *Catalog) Known(callee string) bool {
	k := key(callee)
	if _, ok := c.sources[k]; ok {
		return true
	}
	if _, ok := c.sinks[k]; ok {
		return true
	}
	if _, ok := c.sanitizers[k]; ok {
		return true
	}
	_, ok := c.poly[k]
	return ok
}

// SanitizesFor reports whether the sanitizer protects against the sink kind.
func (s Sanitizer) SanitizesFor(kind SinkKind) bool {
	if len(s.For) == 0 {
		return true
	}
	for _, k := range s.For {
		if k == kind {
			return true
		}
	}
	return false
}

// CheckedArgs returns the argument positions a sink inspects, defaulting to
// every position when unspecified.
func (s Sink) CheckedArgs(argc int) []int {
	if len(s.Args) > 0 {
		return s.Args
	}
	all := make([]int, argc)
	for i := range all {
		all[i] = i
	}
	return all
}

// DesignatedArgs returns the poly helper's designated positions, defaulting
// to every position.
func (p PolyHelper) DesignatedArgs(argc int) []int {
	if len(p.Args) > 0 {
		return p.Args
	}
	all := make([]int, argc)
	for i := range all {
		all[i] = i
	}
	return all
}

// key normalizes a callee to its final dotted segment.
func key(callee string) string {
	if i := strings.LastIndexByte(callee, '.'); i >= 0 {
		callee = callee[i+1:]
	}
	return callee
}
