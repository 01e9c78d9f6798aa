// Package constraint defines the type constraints generated from a flow
// graph and consumed by the inference solver. Constraints are created once
// and never mutated.
package constraint

import (
	"fmt"

	"github.com/panbanda/augur/pkg/taint/qualifier"
)

// Kind distinguishes the three constraint forms.
type Kind string

const (
	// Equality requires both sides to carry the same qualifier.
	Equality Kind = "equality"
	// Subtype requires the left side to be usable where the right side is
	// expected.
	Subtype Kind = "subtype"
	// Flow records data movement into a context; satisfied under the same
	// rule as Subtype but kept distinct for evidence reporting.
	Flow Kind = "flow"
)

// Ref is one side of a constraint: either a variable name or a literal
// qualifier.
type Ref struct {
	Var string              `json:"var,omitempty"`
	Lit qualifier.Qualifier `json:"lit,omitempty"`
}

// VarRef references a variable by name.
func VarRef(name string) Ref { return Ref{Var: name} }

// LitRef references a literal qualifier.
func LitRef(q qualifier.Qualifier) Ref { return Ref{Lit: q} }

// IsLit reports whether the ref is a literal qualifier.
func (r Ref) IsLit() bool { return r.Var == "" }

func (r Ref) String() string {
	if r.IsLit() {
		return string(r.Lit)
	}
	return r.Var
}

// Constraint ties a relation between two refs to a source location.
type Constraint struct {
	Kind     Kind   `json:"kind"`
	LHS      Ref    `json:"lhs"`
	RHS      Ref    `json:"rhs"`
	Line     uint32 `json:"line"`
	Evidence string `json:"evidence,omitempty"`
}

func (c Constraint) String() string {
	op := "=="
	switch c.Kind {
	case Subtype:
		op = "<:"
	case Flow:
		op = "~>"
	}
	return fmt.Sprintf("%s %s %s @%d", c.LHS, op, c.RHS, c.Line)
}

// References reports whether the constraint mentions the variable.
func (c Constraint) References(name string) bool {
	return c.LHS.Var == name || c.RHS.Var == name
}

// Satisfied evaluates the constraint under an assignment of qualifiers to
// variables. Variables absent from the assignment make the constraint
// vacuously satisfied; the solver only scores constraints whose variables
// are all bound.
func (c Constraint) Satisfied(assign map[string]qualifier.Qualifier) bool {
	lhs, ok := resolve(c.LHS, assign)
	if !ok {
		return true
	}
	rhs, ok := resolve(c.RHS, assign)
	if !ok {
		return true
	}
	switch c.Kind {
	case Equality:
		return lhs == rhs
	default: // Subtype, Flow
		return qualifier.IsSubtype(lhs, rhs)
	}
}

func resolve(r Ref, assign map[string]qualifier.Qualifier) (qualifier.Qualifier, bool) {
	if r.IsLit() {
		return r.Lit, true
	}
	q, ok := assign[r.Var]
	return q, ok
}

// Variables returns the distinct variable names referenced by a constraint
// list, in first-appearance order.
func Variables(cs []Constraint) []string {
	var names []string
	seen := map[string]bool{}
	for _, c := range cs {
		for _, r := range []Ref{c.LHS, c.RHS} {
			if r.Var != "" && !seen[r.Var] {
				seen[r.Var] = true
				names = append(names, r.Var)
			}
		}
	}
	return names
}
