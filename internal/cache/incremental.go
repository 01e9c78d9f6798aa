package cache

import (
	"sort"
	"strings"

	"github.com/panbanda/augur/pkg/methodctx"
	"github.com/panbanda/augur/pkg/models"
)

// ChangeKind classifies what changed in a method since it was last cached.
type ChangeKind string

const (
	// ChangeUnseen means no cache record exists; the method must be analyzed.
	ChangeUnseen ChangeKind = "unseen"
	// ChangeNone means the raw content hash matches; the cached result holds.
	ChangeNone ChangeKind = "unchanged"
	// ChangeComment means only comments or whitespace moved; still a cache hit.
	ChangeComment ChangeKind = "comment"
	// ChangeBody means the method body changed; this method re-analyzes.
	ChangeBody ChangeKind = "body"
	// ChangeSignature means the declaration changed; direct callers
	// re-analyze too.
	ChangeSignature ChangeKind = "signature"
)

// RequiresAnalysis reports whether the kind invalidates the cached result.
func (k ChangeKind) RequiresAnalysis() bool {
	return k == ChangeUnseen || k == ChangeBody || k == ChangeSignature
}

// MethodChange pairs a method key with its detected change kind.
type MethodChange struct {
	MethodKey string     `json:"method_key"`
	Kind      ChangeKind `json:"kind"`
}

// Update is the per-run incremental plan computed from hash comparison.
type Update struct {
	Changes            []MethodChange `json:"changes"`
	AffectedMethods    []string       `json:"affected_methods"`
	ReanalysisRequired bool           `json:"reanalysis_required"`
}

// Incremental layers method change detection over the file-backed cache.
type Incremental struct {
	cache *Cache
}

// NewIncremental wraps a cache for incremental method analysis.
func NewIncremental(c *Cache) *Incremental {
	return &Incremental{cache: c}
}

// MethodKey identifies a method across runs. Line numbers are excluded so
// edits above a method do not churn its key.
func MethodKey(m *methodctx.Method) string {
	return m.File + ":" + m.Name
}

// NormalizeBody strips comments and whitespace so a comment-only edit hashes
// identically to the original.
func NormalizeBody(src string) string {
	var b strings.Builder
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "//") || strings.HasPrefix(line, "#") ||
			strings.HasPrefix(line, "/*") || strings.HasPrefix(line, "*") {
			continue
		}
		if idx := strings.Index(line, "//"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// Classify compares a method against its cached record. For ChangeNone and
// ChangeComment the stored result is returned and can be reused as-is.
func (i *Incremental) Classify(m *methodctx.Method) (ChangeKind, *models.MethodAnalysisResult) {
	rec, ok := i.cache.Get(MethodKey(m))
	if !ok {
		// Absent or corrupted: either way the method is analyzed fresh.
		return ChangeUnseen, nil
	}

	if rec.ContentHash == HashBytes([]byte(m.Body)) {
		return ChangeNone, &rec.Result
	}
	if rec.SignatureHash != HashBytes([]byte(m.Signature)) {
		return ChangeSignature, nil
	}
	if rec.BodyHash == HashBytes([]byte(NormalizeBody(m.Body))) {
		return ChangeComment, &rec.Result
	}
	return ChangeBody, nil
}

// Store saves a method's analysis result along with the hashes Classify
// compares on the next run.
func (i *Incremental) Store(m *methodctx.Method, res models.MethodAnalysisResult) error {
	return i.cache.Put(MethodKey(m), Record{
		SignatureHash: HashBytes([]byte(m.Signature)),
		BodyHash:      HashBytes([]byte(NormalizeBody(m.Body))),
		ContentHash:   HashBytes([]byte(m.Body)),
		Result:        res,
	})
}

// Plan classifies every method and expands signature changes to their direct
// callers. The callers map is keyed by method key.
func (i *Incremental) Plan(methods []*methodctx.Method, callers map[string][]string) *Update {
	u := &Update{}
	affected := map[string]bool{}

	for _, m := range methods {
		kind, _ := i.Classify(m)
		key := MethodKey(m)
		u.Changes = append(u.Changes, MethodChange{MethodKey: key, Kind: kind})

		if kind.RequiresAnalysis() {
			u.ReanalysisRequired = true
			affected[key] = true
		}
		if kind == ChangeSignature {
			for _, caller := range callers[key] {
				affected[caller] = true
			}
		}
	}

	for key := range affected {
		u.AffectedMethods = append(u.AffectedMethods, key)
	}
	sort.Strings(u.AffectedMethods)
	return u
}

// DirectCallers maps each method key to the keys of methods that call it by
// name. Callee names resolve on their final dotted segment, matching the
// catalog's resolution.
func DirectCallers(methods []*methodctx.Method) map[string][]string {
	byName := map[string][]string{}
	for _, m := range methods {
		byName[m.Name] = append(byName[m.Name], MethodKey(m))
	}

	out := map[string][]string{}
	for _, m := range methods {
		callerKey := MethodKey(m)
		seen := map[string]bool{}
		for _, s := range m.Statements {
			if s.Callee == "" {
				continue
			}
			name := s.Callee
			if idx := strings.LastIndexByte(name, '.'); idx >= 0 {
				name = name[idx+1:]
			}
			for _, calleeKey := range byName[name] {
				if calleeKey == callerKey || seen[calleeKey] {
					continue
				}
				seen[calleeKey] = true
				out[calleeKey] = append(out[calleeKey], callerKey)
			}
		}
	}
	return out
}
