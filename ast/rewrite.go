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

// Tree surgery. Whole-expression rewrites are collected into a map keyed by
// rendered form and applied in a single pass, so callers never mutate a child
// list while iterating it; single-node surgery goes through Swap, which
// matches by node identity.

// Replace returns e with every subtree whose rendered form appears in repl
// substituted by a fresh clone of the mapped expression. Replacement counts
// are accumulated into counts, keyed by the rendered form of the inserted
// expression. Matching is outermost-first: a replaced subtree is not searched
// again.
func Replace(e Expr, repl map[string]Expr, counts map[string]int) Expr {
	if e == nil {
		return nil
	}
	if r, ok := repl[e.String()]; ok {
		c := CloneExpr(r)
		if counts != nil {
			counts[r.String()]++
		}
		return c
	}
	switch t := e.(type) {
	case *Par:
		t.Inner = Replace(t.Inner, repl, counts)
	case *Neg:
		t.X = Replace(t.X, repl, counts)
	case *Sum:
		t.Left = Replace(t.Left, repl, counts)
		t.Right = Replace(t.Right, repl, counts)
	case *Sub:
		t.Left = Replace(t.Left, repl, counts)
		t.Right = Replace(t.Right, repl, counts)
	case *Prod:
		t.Left = Replace(t.Left, repl, counts)
		t.Right = Replace(t.Right, repl, counts)
	case *Div:
		t.Left = Replace(t.Left, repl, counts)
		t.Right = Replace(t.Right, repl, counts)
	case *FunCall:
		for i, a := range t.Args {
			t.Args[i] = Replace(a, repl, counts)
		}
	}
	return e
}

// Swap substitutes the single subtree identical (by pointer) to old with new,
// and reports whether it was found. The root itself is not a candidate; the
// caller owns that slot.
func Swap(root Expr, old, new Expr) bool {
	swapIn := func(slot *Expr) bool {
		if *slot == old {
			*slot = new
			return true
		}
		return Swap(*slot, old, new)
	}
	switch t := root.(type) {
	case *Par:
		return swapIn(&t.Inner)
	case *Neg:
		return swapIn(&t.X)
	case *Sum:
		return swapIn(&t.Left) || swapIn(&t.Right)
	case *Sub:
		return swapIn(&t.Left) || swapIn(&t.Right)
	case *Prod:
		return swapIn(&t.Left) || swapIn(&t.Right)
	case *Div:
		return swapIn(&t.Left) || swapIn(&t.Right)
	case *FunCall:
		for i := range t.Args {
			if swapIn(&t.Args[i]) {
				return true
			}
		}
	}
	return false
}

// Prune removes every subtree for which drop returns true, collapsing the
// orphaned operator: the surviving operand of a sum or product takes the
// operator's place, and a surviving right operand of a subtraction is
// negated. Returns nil when the whole expression is dropped.
func Prune(e Expr, drop func(Expr) bool) Expr {
	if e == nil || drop(e) {
		return nil
	}
	both := func(l, r Expr, rebuild func(l, r Expr) Expr, negRight bool) Expr {
		pl, pr := Prune(l, drop), Prune(r, drop)
		switch {
		case pl == nil && pr == nil:
			return nil
		case pl == nil:
			if negRight {
				return &Neg{X: pr}
			}
			return pr
		case pr == nil:
			return pl
		default:
			return rebuild(pl, pr)
		}
	}
	switch t := e.(type) {
	case *Par:
		inner := Prune(t.Inner, drop)
		if inner == nil {
			return nil
		}
		t.Inner = inner
		return t
	case *Neg:
		x := Prune(t.X, drop)
		if x == nil {
			return nil
		}
		t.X = x
		return t
	case *Sum:
		return both(t.Left, t.Right, func(l, r Expr) Expr { return &Sum{Left: l, Right: r} }, false)
	case *Sub:
		return both(t.Left, t.Right, func(l, r Expr) Expr { return &Sub{Left: l, Right: r} }, true)
	case *Prod:
		return both(t.Left, t.Right, func(l, r Expr) Expr { return &Prod{Left: l, Right: r} }, false)
	case *Div:
		return both(t.Left, t.Right, func(l, r Expr) Expr { return &Div{Left: l, Right: r} }, false)
	}
	return e
}

// SignedExpr is an addend with its sign in a flattened sum.
type SignedExpr struct {
	E   Expr
	Neg bool
}

// FlattenSum flattens chains of additions and subtractions (through
// parentheses and unary minus) into signed addends, left to right.
func FlattenSum(e Expr) []SignedExpr {
	var out []SignedExpr
	var walk func(e Expr, neg bool)
	walk = func(e Expr, neg bool) {
		switch t := e.(type) {
		case *Sum:
			walk(t.Left, neg)
			walk(t.Right, neg)
		case *Sub:
			walk(t.Left, neg)
			walk(t.Right, !neg)
		case *Par:
			walk(t.Inner, neg)
		case *Neg:
			walk(t.X, !neg)
		default:
			out = append(out, SignedExpr{E: e, Neg: neg})
		}
	}
	walk(e, false)
	return out
}

// FlattenProd flattens chains of multiplications (through parentheses) into
// their multiplicands, left to right.
func FlattenProd(e Expr) []Expr {
	var out []Expr
	var walk func(e Expr)
	walk = func(e Expr) {
		switch t := e.(type) {
		case *Prod:
			walk(t.Left)
			walk(t.Right)
		case *Par:
			walk(t.Inner)
		default:
			out = append(out, e)
		}
	}
	walk(e)
	return out
}

// MakeSum folds expressions into a left-leaning sum chain. Returns nil for no
// operands and the operand itself for one.
func MakeSum(exprs []Expr) Expr {
	var acc Expr
	for _, e := range exprs {
		if acc == nil {
			acc = e
		} else {
			acc = &Sum{Left: acc, Right: e}
		}
	}
	return acc
}

// MakeProd folds expressions into a left-leaning product chain.
func MakeProd(exprs []Expr) Expr {
	var acc Expr
	for _, e := range exprs {
		if acc == nil {
			acc = e
		} else {
			acc = &Prod{Left: acc, Right: e}
		}
	}
	return acc
}

// MakeSignedSum folds signed addends into a sum/difference chain.
func MakeSignedSum(terms []SignedExpr) Expr {
	var acc Expr
	for _, t := range terms {
		switch {
		case acc == nil && t.Neg:
			acc = &Neg{X: t.E}
		case acc == nil:
			acc = t.E
		case t.Neg:
			acc = &Sub{Left: acc, Right: t.E}
		default:
			acc = &Sum{Left: acc, Right: t.E}
		}
	}
	return acc
}

// MakeFor wraps statements in a fresh loop with the same iteration space as
// model. Pragmas are not carried over; they mark the original loop, not its
// derivatives.
func MakeFor(stmts []Stmt, model *For) *For {
	return &For{Dim: model.Dim, Size: model.Size, Body: &Block{Stmts: stmts}}
}

// IndexOf returns the position of s in the block by identity, or -1.
func (b *Block) IndexOf(s Stmt) int {
	for i, t := range b.Stmts {
		if t == s {
			return i
		}
	}
	return -1
}

// InsertBefore inserts stmts immediately before marker and reports whether
// the marker was found. A nil marker appends.
func (b *Block) InsertBefore(marker Stmt, stmts ...Stmt) bool {
	if marker == nil {
		b.Stmts = append(b.Stmts, stmts...)
		return true
	}
	i := b.IndexOf(marker)
	if i < 0 {
		return false
	}
	rest := append([]Stmt(nil), b.Stmts[i:]...)
	b.Stmts = append(append(b.Stmts[:i:i], stmts...), rest...)
	return true
}

// InsertAfter inserts stmts immediately after marker and reports whether the
// marker was found.
func (b *Block) InsertAfter(marker Stmt, stmts ...Stmt) bool {
	i := b.IndexOf(marker)
	if i < 0 {
		return false
	}
	rest := append([]Stmt(nil), b.Stmts[i+1:]...)
	b.Stmts = append(append(b.Stmts[:i+1:i+1], stmts...), rest...)
	return true
}

// Remove deletes s from the block by identity and reports whether it was
// present.
func (b *Block) Remove(s Stmt) bool {
	i := b.IndexOf(s)
	if i < 0 {
		return false
	}
	b.Stmts = append(b.Stmts[:i], b.Stmts[i+1:]...)
	return true
}

// UpdateRank prepends the recorded dimensions to every reference of the given
// symbol names under root. Used by scalar expansion after precomputation.
func UpdateRank(root Node, expanded map[string][]string) {
	walkSymbols(root, func(s *Symbol) {
		dims, ok := expanded[s.Name]
		if !ok {
			return
		}
		s.Rank = append(append([]string(nil), dims...), s.Rank...)
		if len(s.Offset) > 0 {
			pad := make([]Offset, len(dims))
			for i := range pad {
				pad[i] = Offset{Scale: 1}
			}
			s.Offset = append(pad, s.Offset...)
		}
	})
}
