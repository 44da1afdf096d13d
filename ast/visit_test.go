// Copyright 2025 kernelgen Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ast

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// testNest builds
//
//	for i {
//	  t = W[i]*q;
//	  for j {
//	    A[j] += t*B[i][j];
//	  }
//	}
func testNest() (*Block, *For, *For) {
	inner := &For{Dim: "j", Size: 3, Body: &Block{Stmts: []Stmt{
		&Incr{LHS: NewSymbol("A", "j"), RHS: &Prod{Left: NewSymbol("t"), Right: NewSymbol("B", "i", "j")}},
	}}}
	outer := &For{Dim: "i", Size: 4, Body: &Block{Stmts: []Stmt{
		&Assign{LHS: NewSymbol("t"), RHS: &Prod{Left: NewSymbol("W", "i"), Right: NewSymbol("q")}},
		inner,
	}}}
	return &Block{Stmts: []Stmt{outer}}, outer, inner
}

func TestSymbols(t *testing.T) {
	root, _, _ := testNest()
	var names []string
	for _, s := range Symbols(root) {
		names = append(names, s.Name)
	}
	want := []string{"t", "W", "q", "A", "t", "B"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("Symbols() order mismatch (-want +got):\n%s", diff)
	}
}

func TestSymbolDeps(t *testing.T) {
	root, _, _ := testNest()
	deps := SymbolDeps(root)
	want := map[string][]string{
		"t": {"i"},
		"W": {"i"},
		"A": {"j"},
		"B": {"i", "j"},
	}
	if diff := cmp.Diff(want, deps); diff != "" {
		t.Errorf("SymbolDeps() mismatch (-want +got):\n%s", diff)
	}
	if _, ok := deps["q"]; ok {
		t.Errorf("scalar read q should have no dependency entry")
	}
}

func TestIsPerfect(t *testing.T) {
	_, outer, inner := testNest()
	if IsPerfect(outer) {
		t.Errorf("outer loop has a leading statement, want not perfect")
	}
	if !IsPerfect(inner) {
		t.Errorf("innermost loop must be perfect")
	}

	perfect := &For{Dim: "i", Size: 2, Body: &Block{Stmts: []Stmt{
		&FlatBlock{Text: "\n"},
		&For{Dim: "j", Size: 2, Body: &Block{Stmts: []Stmt{&Empty{}}}},
	}}}
	if !IsPerfect(perfect) {
		t.Errorf("whitespace between loops must not break perfection")
	}
}

func TestNestShape(t *testing.T) {
	root, outer, inner := testNest()
	if got := NestDepth(outer); got != 2 {
		t.Errorf("NestDepth = %d, want 2", got)
	}
	if got := InnerLoops(outer); len(got) != 1 || got[0] != inner {
		t.Errorf("InnerLoops = %v, want the j loop only", got)
	}
	nests := NestLoops(root)
	if len(nests) != 2 {
		t.Fatalf("NestLoops returned %d entries, want 2", len(nests))
	}
	if nests[0].Loop != outer || nests[0].Parent != root {
		t.Errorf("first nest entry should be the outer loop under the root block")
	}
	if nests[1].Loop != inner || nests[1].Parent != outer.Body {
		t.Errorf("second nest entry should be the inner loop under the outer body")
	}
}

func TestReplace(t *testing.T) {
	e := Expr(&Sum{
		Left:  &Prod{Left: NewSymbol("a"), Right: NewSymbol("b")},
		Right: &Prod{Left: NewSymbol("a"), Right: NewSymbol("b")},
	})
	counts := make(map[string]int)
	e = Replace(e, map[string]Expr{"a*b": NewSymbol("T", "i")}, counts)
	if got := e.String(); got != "T[i] + T[i]" {
		t.Errorf("Replace result = %q, want %q", got, "T[i] + T[i]")
	}
	if counts["T[i]"] != 2 {
		t.Errorf("replacement count = %d, want 2", counts["T[i]"])
	}
}

func TestReplaceOutermostFirst(t *testing.T) {
	// The matched subtree must not be searched again for nested matches.
	e := Expr(&Prod{Left: NewSymbol("a"), Right: NewSymbol("b")})
	counts := make(map[string]int)
	e = Replace(e, map[string]Expr{
		"a*b": NewSymbol("T"),
		"a":   NewSymbol("U"),
	}, counts)
	if got := e.String(); got != "T" {
		t.Errorf("Replace result = %q, want %q", got, "T")
	}
}

func TestSwap(t *testing.T) {
	b := Expr(NewSymbol("b"))
	root := &Sum{Left: NewSymbol("a"), Right: &Prod{Left: b, Right: NewSymbol("c")}}
	if !Swap(root, b, NewSymbol("d")) {
		t.Fatalf("Swap did not find the target node")
	}
	if got := root.String(); got != "a + d*c" {
		t.Errorf("after Swap = %q, want %q", got, "a + d*c")
	}
	if Swap(root, b, NewSymbol("e")) {
		t.Errorf("Swap matched an already removed node")
	}
}

func TestPrune(t *testing.T) {
	isZero := func(e Expr) bool {
		l, ok := e.(*Literal)
		return ok && l.Value == 0
	}
	tests := []struct {
		name string
		expr Expr
		want string
	}{
		{"sum left", &Sum{Left: &Literal{}, Right: NewSymbol("a")}, "a"},
		{"sub right survives negated", &Sub{Left: &Literal{}, Right: NewSymbol("a")}, "-a"},
		{"prod collapses", &Prod{Left: NewSymbol("a"), Right: &Literal{}}, "a"},
		{"nested", &Sum{Left: &Prod{Left: &Literal{}, Right: &Literal{}}, Right: NewSymbol("b")}, "b"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Prune(tc.expr, isZero)
			if got == nil || got.String() != tc.want {
				t.Errorf("Prune = %v, want %q", got, tc.want)
			}
		})
	}
	if got := Prune(&Literal{}, isZero); got != nil {
		t.Errorf("pruning the whole tree should return nil, got %v", got)
	}
}

func TestFlattenSum(t *testing.T) {
	// a - (b - c) + -d flattens to +a, -b, +c, -d.
	e := &Sum{
		Left: &Sub{
			Left:  NewSymbol("a"),
			Right: &Par{Inner: &Sub{Left: NewSymbol("b"), Right: NewSymbol("c")}},
		},
		Right: &Neg{X: NewSymbol("d")},
	}
	got := FlattenSum(e)
	want := []struct {
		name string
		neg  bool
	}{{"a", false}, {"b", true}, {"c", false}, {"d", true}}
	if len(got) != len(want) {
		t.Fatalf("FlattenSum returned %d addends, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].E.String() != w.name || got[i].Neg != w.neg {
			t.Errorf("addend %d = (%s, neg=%v), want (%s, neg=%v)",
				i, got[i].E, got[i].Neg, w.name, w.neg)
		}
	}
	if back := MakeSignedSum(got); back.String() != "a - b + c - d" {
		t.Errorf("MakeSignedSum = %q, want %q", back, "a - b + c - d")
	}
}

func TestFlattenProd(t *testing.T) {
	e := &Prod{
		Left:  &Par{Inner: &Prod{Left: NewSymbol("a"), Right: NewSymbol("b")}},
		Right: NewSymbol("c"),
	}
	got := FlattenProd(e)
	if len(got) != 3 {
		t.Fatalf("FlattenProd returned %d factors, want 3", len(got))
	}
	if back := MakeProd(got); back.String() != "a*b*c" {
		t.Errorf("MakeProd = %q, want %q", back, "a*b*c")
	}
}

func TestBlockSurgery(t *testing.T) {
	s1, s2, s3 := Stmt(&Empty{}), Stmt(&Empty{}), Stmt(&Empty{})
	b := &Block{Stmts: []Stmt{s1, s3}}

	if !b.InsertBefore(s3, s2) {
		t.Fatalf("InsertBefore did not find the marker")
	}
	if b.IndexOf(s2) != 1 {
		t.Errorf("s2 at index %d, want 1", b.IndexOf(s2))
	}

	s4 := Stmt(&Empty{})
	if !b.InsertAfter(s3, s4) {
		t.Fatalf("InsertAfter did not find the marker")
	}
	if b.IndexOf(s4) != 3 {
		t.Errorf("s4 at index %d, want 3", b.IndexOf(s4))
	}

	if !b.Remove(s1) || b.IndexOf(s1) != -1 {
		t.Errorf("Remove(s1) failed")
	}

	// nil marker appends.
	s5 := Stmt(&Empty{})
	b.InsertBefore(nil, s5)
	if b.IndexOf(s5) != len(b.Stmts)-1 {
		t.Errorf("nil-marker insert should append")
	}
}

func TestUpdateRank(t *testing.T) {
	stmt := &Assign{
		LHS: NewSymbol("f"),
		RHS: &Prod{
			Left:  NewSymbol("W", "i"),
			Right: &Symbol{Name: "g", Rank: []string{"j"}, Offset: []Offset{{Scale: 1, Add: 1}}},
		},
	}
	UpdateRank(stmt, map[string][]string{"f": {"i"}, "g": {"i"}})
	if got := stmt.String(); got != "f[i] = W[i]*g[i][j + 1];" {
		t.Errorf("UpdateRank result = %q", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := &Incr{
		LHS: NewSymbol("A", "j"),
		RHS: &Prod{Left: NewSymbol("B", "i", "j"), Right: NewSymbol("c")},
	}
	clone := CloneStmt(orig).(*Incr)
	clone.LHS.Name = "X"
	clone.RHS.(*Prod).Left.(*Symbol).Rank[0] = "k"
	if orig.LHS.Name != "A" || orig.RHS.(*Prod).Left.(*Symbol).Rank[0] != "i" {
		t.Errorf("mutating a clone leaked into the original: %s", orig)
	}
}
