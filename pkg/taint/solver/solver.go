// Package solver resolves taint qualifiers for variables the direct
// constraint rules leave ambiguous. It applies unit propagation first, then
// a bounded greedy search that maximizes the satisfied-constraint count,
// recording every candidate attempt for auditability.
package solver

import (
	"fmt"
	"sort"

	"github.com/panbanda/augur/pkg/taint/constraint"
	"github.com/panbanda/augur/pkg/taint/qualifier"
)

// DefaultMaxDepth bounds the number of search attempts when the caller does
// not configure a depth.
const DefaultMaxDepth = 100

// Attempt records one candidate assignment tried during search.
type Attempt struct {
	Variable  string              `json:"variable"`
	Candidate qualifier.Qualifier `json:"candidate"`
	Satisfied int                 `json:"satisfied"`
	Violated  int                 `json:"violated"`
	Chosen    bool                `json:"chosen"`
	Reason    string              `json:"reason"`
}

// Result is the inference state produced for one method. It is discarded
// once the method's analysis completes; nothing here is shared across
// methods.
type Result struct {
	TypeMap    map[string]qualifier.Qualifier `json:"type_map"`
	Confidence map[string]float64             `json:"confidence"`
	History    []Attempt                      `json:"history,omitempty"`
	Warnings   []string                       `json:"warnings,omitempty"`
	Exhausted  bool                           `json:"exhausted,omitempty"`
}

// LowConfidence returns the variables whose confidence falls below the
// threshold, sorted by name.
func (r *Result) LowConfidence(threshold float64) []string {
	var out []string
	for v, c := range r.Confidence {
		if c < threshold {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// Solver runs greedy constraint resolution with a configurable depth bound.
type Solver struct {
	maxDepth int
}

// New creates a solver. A non-positive depth falls back to DefaultMaxDepth.
func New(maxDepth int) *Solver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Solver{maxDepth: maxDepth}
}

// Solve resolves every variable referenced by the constraint list to a
// concrete qualifier. Variables pinned by a single literal equality skip the
// search entirely; conflicting pins are handed to the search. When the depth
// bound is exhausted, remaining variables default to Tainted at confidence 0
// and a warning is attached rather than failing the method.
func (s *Solver) Solve(cs []constraint.Constraint) *Result {
	res := &Result{
		TypeMap:    map[string]qualifier.Qualifier{},
		Confidence: map[string]float64{},
	}
	vars := constraint.Variables(cs)

	pinned, contested := directPins(cs)
	for v, q := range pinned {
		res.TypeMap[v] = q
	}
	propagateEqualities(cs, res.TypeMap, contested)

	depth := 0
	for _, v := range vars {
		if _, ok := res.TypeMap[v]; ok {
			continue
		}
		if depth >= s.maxDepth {
			res.TypeMap[v] = qualifier.Tainted
			res.Confidence[v] = 0
			res.Exhausted = true
			continue
		}

		best := qualifier.Tainted
		bestSat, bestVio := -1, 0
		chosenAt := -1
		// Tainted is tried first so a strict improvement test breaks ties
		// conservatively.
		for _, cand := range []qualifier.Qualifier{qualifier.Tainted, qualifier.Untainted} {
			if depth >= s.maxDepth {
				break
			}
			depth++
			res.TypeMap[v] = cand
			sat, vio := score(cs, res.TypeMap, v)
			res.History = append(res.History, Attempt{
				Variable:  v,
				Candidate: cand,
				Satisfied: sat,
				Violated:  vio,
				Reason:    fmt.Sprintf("%s = %s satisfies %d of %d referencing constraints", v, cand, sat, sat+vio),
			})
			if sat > bestSat {
				best, bestSat, bestVio = cand, sat, vio
				chosenAt = len(res.History) - 1
			}
		}
		if chosenAt >= 0 {
			res.History[chosenAt].Chosen = true
		}
		res.TypeMap[v] = best
		res.Confidence[v] = confidence(bestSat, bestSat+bestVio)
	}

	// Pinned and propagated variables still get a confidence score from the
	// constraints that reference them.
	for _, v := range vars {
		if _, ok := res.Confidence[v]; ok {
			continue
		}
		sat, vio := score(cs, res.TypeMap, v)
		res.Confidence[v] = confidence(sat, sat+vio)
	}

	if res.Exhausted {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"search depth %d exhausted before full resolution; unresolved variables default to %s", s.maxDepth, qualifier.Tainted))
	}
	return res
}

// directPins collects variables pinned by literal equality constraints.
// A variable pinned to two different literals is contested and left for the
// search phase.
func directPins(cs []constraint.Constraint) (map[string]qualifier.Qualifier, map[string]bool) {
	pinned := map[string]qualifier.Qualifier{}
	contested := map[string]bool{}
	for _, c := range cs {
		if c.Kind != constraint.Equality {
			continue
		}
		var name string
		var lit qualifier.Qualifier
		switch {
		case !c.LHS.IsLit() && c.RHS.IsLit():
			name, lit = c.LHS.Var, c.RHS.Lit
		case c.LHS.IsLit() && !c.RHS.IsLit():
			name, lit = c.RHS.Var, c.LHS.Lit
		default:
			continue
		}
		if prev, ok := pinned[name]; ok && prev != lit {
			contested[name] = true
			continue
		}
		pinned[name] = lit
	}
	for name := range contested {
		delete(pinned, name)
	}
	return pinned, contested
}

// propagateEqualities copies qualifiers across variable-to-variable equality
// constraints until nothing changes. A propagation conflict unbinds both
// sides and marks them contested.
func propagateEqualities(cs []constraint.Constraint, typeMap map[string]qualifier.Qualifier, contested map[string]bool) {
	for changed := true; changed; {
		changed = false
		for _, c := range cs {
			if c.Kind != constraint.Equality || c.LHS.IsLit() || c.RHS.IsLit() {
				continue
			}
			l, lok := typeMap[c.LHS.Var]
			r, rok := typeMap[c.RHS.Var]
			switch {
			case lok && !rok && !contested[c.RHS.Var]:
				typeMap[c.RHS.Var] = l
				changed = true
			case rok && !lok && !contested[c.LHS.Var]:
				typeMap[c.LHS.Var] = r
				changed = true
			case lok && rok && l != r:
				contested[c.LHS.Var] = true
				contested[c.RHS.Var] = true
				delete(typeMap, c.LHS.Var)
				delete(typeMap, c.RHS.Var)
				changed = true
			}
		}
	}
}

// score counts satisfied and violated constraints referencing v under the
// current assignment.
func score(cs []constraint.Constraint, assign map[string]qualifier.Qualifier, v string) (sat, vio int) {
	for _, c := range cs {
		if !c.References(v) {
			continue
		}
		if c.Satisfied(assign) {
			sat++
		} else {
			vio++
		}
	}
	return sat, vio
}

func confidence(sat, total int) float64 {
	if total <= 0 {
		return 0
	}
	c := float64(sat) / float64(total)
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
