package qualifier

import "testing"

var all = []Qualifier{Tainted, Untainted, PolyTaint}

func TestJoinTotalAndCommutative(t *testing.T) {
	for _, a := range all {
		for _, b := range all {
			ab := Join(a, b)
			ba := Join(b, a)
			if !ab.Valid() {
				t.Errorf("Join(%s, %s) = %q, not a valid qualifier", a, b, ab)
			}
			if ab != ba {
				t.Errorf("Join(%s, %s) = %s but Join(%s, %s) = %s", a, b, ab, b, a, ba)
			}
		}
	}
}

func TestJoinNeverLosesTaint(t *testing.T) {
	for _, a := range all {
		for _, b := range all {
			joined := Join(a, b)
			if Strength(joined) < Strength(a) && a != PolyTaint {
				t.Errorf("Join(%s, %s) = %s weaker than %s", a, b, joined, a)
			}
			if Strength(joined) < Strength(b) && b != PolyTaint {
				t.Errorf("Join(%s, %s) = %s weaker than %s", a, b, joined, b)
			}
		}
	}
}

func TestJoinIdempotent(t *testing.T) {
	for _, a := range all {
		if Join(a, a) != a {
			t.Errorf("Join(%s, %s) = %s, want %s", a, a, Join(a, a), a)
		}
	}
}

func TestJoinTaintedUntainted(t *testing.T) {
	if got := Join(Tainted, Untainted); got != Tainted {
		t.Errorf("Join(Tainted, Untainted) = %s, want Tainted", got)
	}
	if got := Join(Untainted, Tainted); got != Tainted {
		t.Errorf("Join(Untainted, Tainted) = %s, want Tainted", got)
	}
}

func TestIsSubtype(t *testing.T) {
	tests := []struct {
		a, b Qualifier
		want bool
	}{
		{Untainted, Untainted, true},
		{Tainted, Tainted, true},
		{PolyTaint, PolyTaint, true},
		{Untainted, Tainted, true},
		{Tainted, Untainted, false},
		{Untainted, PolyTaint, true},
		{Tainted, PolyTaint, true},
		{PolyTaint, Tainted, false},
		{PolyTaint, Untainted, false},
	}
	for _, tt := range tests {
		if got := IsSubtype(tt.a, tt.b); got != tt.want {
			t.Errorf("IsSubtype(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestInstantiateRuleAny(t *testing.T) {
	got := Instantiate(PolyTaint, RuleAny, []Qualifier{Tainted, Untainted})
	if got != Tainted {
		t.Errorf("Instantiate(any, [tainted untainted]) = %s, want tainted", got)
	}
	got = Instantiate(PolyTaint, RuleAny, []Qualifier{Untainted, Untainted})
	if got != Untainted {
		t.Errorf("Instantiate(any, [untainted untainted]) = %s, want untainted", got)
	}
}

func TestInstantiateRuleAll(t *testing.T) {
	got := Instantiate(PolyTaint, RuleAll, []Qualifier{Tainted, Untainted})
	if got != Untainted {
		t.Errorf("Instantiate(all, [tainted untainted]) = %s, want untainted", got)
	}
	got = Instantiate(PolyTaint, RuleAll, []Qualifier{Tainted, Tainted})
	if got != Tainted {
		t.Errorf("Instantiate(all, [tainted tainted]) = %s, want tainted", got)
	}
}

func TestInstantiateConcretePassThrough(t *testing.T) {
	for _, q := range []Qualifier{Tainted, Untainted} {
		if got := Instantiate(q, RuleAny, []Qualifier{Untainted}); got != q {
			t.Errorf("Instantiate(%s) = %s, want unchanged", q, got)
		}
	}
}

func TestInstantiateNoArgs(t *testing.T) {
	if got := Instantiate(PolyTaint, RuleAny, nil); got != Tainted {
		t.Errorf("Instantiate(PolyTaint, any, nil) = %s, want tainted default", got)
	}
}

func TestJoinAll(t *testing.T) {
	if got := JoinAll(); got != Untainted {
		t.Errorf("JoinAll() = %s, want untainted", got)
	}
	if got := JoinAll(Untainted, Untainted, Tainted); got != Tainted {
		t.Errorf("JoinAll(u,u,t) = %s, want tainted", got)
	}
	if got := JoinAll(Untainted, Untainted); got != Untainted {
		t.Errorf("JoinAll(u,u) = %s, want untainted", got)
	}
}
