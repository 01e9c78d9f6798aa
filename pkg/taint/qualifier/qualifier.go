// Package qualifier defines the three-element taint lattice used by the
// flow analysis: Tainted, Untainted, and PolyTaint. Join and subtype checks
// are pure and total; every other taint package builds on them.
package qualifier

// Qualifier is a taint label attached to a value.
type Qualifier string

const (
	// Tainted marks data that may carry unvalidated external input.
	Tainted Qualifier = "tainted"
	// Untainted marks data proven safe for sensitive operations.
	Untainted Qualifier = "untainted"
	// PolyTaint is parameter-dependent: it resolves to whichever qualifier
	// its designated arguments carry at a call site.
	PolyTaint Qualifier = "polytaint"
)

// PropagationRule controls how PolyTaint instantiates over multiple arguments.
type PropagationRule string

const (
	// RuleAny taints the result if any designated argument is tainted.
	RuleAny PropagationRule = "any"
	// RuleAll taints the result only if all designated arguments are tainted.
	RuleAll PropagationRule = "all"
)

// IsConcrete reports whether q is a fully resolved qualifier.
func (q Qualifier) IsConcrete() bool {
	return q == Tainted || q == Untainted
}

// Valid reports whether q is one of the three known qualifiers.
func (q Qualifier) Valid() bool {
	return q == Tainted || q == Untainted || q == PolyTaint
}

// Join returns the least upper bound of two qualifiers. Taint is monotonic:
// once any contributing path is tainted the merged value stays tainted.
// PolyTaint joined with a concrete qualifier stays PolyTaint until it is
// instantiated at a call site (Instantiate).
func Join(a, b Qualifier) Qualifier {
	if a == b {
		return a
	}
	if a == PolyTaint || b == PolyTaint {
		return PolyTaint
	}
	// Tainted vs Untainted: conservative merge.
	return Tainted
}

// JoinAll folds Join over a set of qualifiers. An empty set joins to
// Untainted, the bottom of the concrete ordering.
func JoinAll(qs ...Qualifier) Qualifier {
	out := Untainted
	for i, q := range qs {
		if i == 0 {
			out = q
			continue
		}
		out = Join(out, q)
	}
	return out
}

// IsSubtype reports whether a may flow into a context requiring b.
// Untainted flows anywhere; Tainted flows only into Tainted or PolyTaint
// contexts. The relation is reflexive and total.
func IsSubtype(a, b Qualifier) bool {
	if a == b {
		return true
	}
	if b == PolyTaint {
		return true
	}
	return a == Untainted
}

// Instantiate resolves PolyTaint against the qualifiers of the designated
// arguments at a call site. Concrete qualifiers pass through unchanged.
func Instantiate(q Qualifier, rule PropagationRule, args []Qualifier) Qualifier {
	if q != PolyTaint {
		return q
	}
	if len(args) == 0 {
		// Nothing to depend on: resolve conservatively.
		return Tainted
	}
	switch rule {
	case RuleAll:
		for _, a := range args {
			if a != Tainted {
				return Untainted
			}
		}
		return Tainted
	default: // RuleAny
		for _, a := range args {
			if a == Tainted {
				return Tainted
			}
		}
		return Untainted
	}
}

// Strength orders qualifiers by taint strength for comparisons and sorting:
// Untainted < Tainted < PolyTaint (unresolved is treated as strongest since
// it may still become Tainted).
func Strength(q Qualifier) int {
	switch q {
	case Untainted:
		return 0
	case Tainted:
		return 1
	default:
		return 2
	}
}
