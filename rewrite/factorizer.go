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

package rewrite

import (
	"sort"
	"strings"

	"github.com/ajroetker/kernelgen/ast"
)

// Factorizer collects the addends of an expanded expression into groups
// sharing a common factor, rewriting a + b*x + c*x into a + (b + c)*x. It is
// the inverse-shaped companion of expansion: expansion exposes the addends,
// factorization shrinks the operation count by grouping them.
type Factorizer struct {
	stmt  ast.Stmt
	meta  *MetaExpr
	decls map[string]*ast.Decl

	should func(*ast.Symbol) bool
}

// NewFactorizer builds a factorizer for one target statement.
func NewFactorizer(stmt ast.Stmt, meta *MetaExpr, decls map[string]*ast.Decl) *Factorizer {
	return &Factorizer{stmt: stmt, meta: meta, decls: decls}
}

// Factorize groups the target expression's addends on common factors chosen
// by the strategy. The expression must have a non-trivial domain; otherwise
// the call is a no-op.
func (f *Factorizer) Factorize(mode FactorizeMode) error {
	if !f.meta.Dimensioned() {
		debugf("expression has no domain, skipping factorization")
		return nil
	}
	f.should = mode.predicate(f.stmt, f.meta, f.decls)
	if f.should == nil {
		warnf("don't know how to factorize with strategy %q, skipping", mode)
		return nil
	}
	ast.SetRHS(f.stmt, f.factorize(ast.RHS(f.stmt)))
	return nil
}

// term is one addend split into grouped-on operands and residual factors.
type term struct {
	neg      bool
	operands []ast.Expr
	factors  []ast.Expr
}

// render rebuilds the term's product in source order, for duplicate
// detection.
func (t *term) render() string {
	all := append(append([]ast.Expr(nil), t.operands...), t.factors...)
	sign := ""
	if t.neg {
		sign = "-"
	}
	return sign + ast.MakeProd(all).String()
}

// key identifies the group a term belongs to, insensitive to operand order.
func (t *term) key() string {
	rs := make([]string, len(t.operands))
	for i, op := range t.operands {
		rs[i] = op.String()
	}
	sort.Strings(rs)
	return strings.Join(rs, "*")
}

// residual is the term stripped of its operands, defaulting to the unit
// literal so bare operands still group.
func (t *term) residual() ast.Expr {
	if len(t.factors) == 0 {
		return &ast.Literal{Value: 1}
	}
	return ast.MakeProd(cloneAll(t.factors))
}

func cloneAll(exprs []ast.Expr) []ast.Expr {
	out := make([]ast.Expr, len(exprs))
	for i, e := range exprs {
		out[i] = ast.CloneExpr(e)
	}
	return out
}

func (f *Factorizer) factorize(node ast.Expr) ast.Expr {
	switch t := node.(type) {
	case *ast.Symbol, *ast.Literal:
		return node
	case *ast.Par:
		t.Inner = f.factorize(t.Inner)
		return t
	case *ast.Neg:
		t.X = f.factorize(t.X)
		return t
	case *ast.FunCall:
		for i, a := range t.Args {
			t.Args[i] = f.factorize(a)
		}
		return t
	case *ast.Prod:
		t.Left = f.factorize(t.Left)
		t.Right = f.factorize(t.Right)
		return t
	case *ast.Div:
		t.Left = f.factorize(t.Left)
		t.Right = f.factorize(t.Right)
		return t
	case *ast.Sum, *ast.Sub:
		return f.factorizeChain(node)
	}
	return node
}

// factorizeChain flattens a sum chain, splits each addend into a term, folds
// syntactically identical terms into a multiplicity, and groups terms sharing
// the same operands.
func (f *Factorizer) factorizeChain(node ast.Expr) ast.Expr {
	addends := ast.FlattenSum(node)

	terms := make([]*term, 0, len(addends))
	for _, a := range addends {
		inner := f.factorize(a.E)
		t := &term{neg: a.Neg}
		for _, fac := range ast.FlattenProd(inner) {
			if s, ok := fac.(*ast.Symbol); ok && f.should(s) {
				t.operands = append(t.operands, fac)
			} else {
				t.factors = append(t.factors, fac)
			}
		}
		terms = append(terms, t)
	}

	// Identical addends collapse into one term with a literal multiplicity.
	byRender := make(map[string]*term)
	var uniq []*term
	mult := make(map[*term]int)
	for _, t := range terms {
		r := t.render()
		if prev, ok := byRender[r]; ok {
			mult[prev]++
			continue
		}
		byRender[r] = t
		mult[t] = 1
		uniq = append(uniq, t)
	}
	for _, t := range uniq {
		if n := mult[t]; n > 1 {
			t.factors = append([]ast.Expr{&ast.Literal{Value: float64(n)}}, t.factors...)
		}
	}

	// Group on operands, preserving first-seen order.
	type group struct {
		operands  []ast.Expr
		residuals []ast.SignedExpr
	}
	groups := make(map[string]*group)
	var order []string
	var out []ast.SignedExpr
	flush := make(map[string]int)

	for _, t := range uniq {
		if len(t.operands) == 0 {
			out = append(out, ast.SignedExpr{E: t.residual(), Neg: t.neg})
			continue
		}
		k := t.key()
		g, ok := groups[k]
		if !ok {
			g = &group{operands: t.operands}
			groups[k] = g
			order = append(order, k)
			out = append(out, ast.SignedExpr{})
			flush[k] = len(out) - 1
		}
		g.residuals = append(g.residuals, ast.SignedExpr{E: t.residual(), Neg: t.neg})
	}

	for _, k := range order {
		g := groups[k]
		var e ast.Expr
		if len(g.residuals) == 1 && !g.residuals[0].Neg && isUnit(g.residuals[0].E) {
			e = ast.MakeProd(cloneAll(g.operands))
		} else if len(g.residuals) == 1 && !g.residuals[0].Neg {
			e = ast.MakeProd(append(cloneAll(g.operands), g.residuals[0].E))
		} else {
			e = &ast.Prod{
				Left:  ast.MakeProd(cloneAll(g.operands)),
				Right: &ast.Par{Inner: ast.MakeSignedSum(g.residuals)},
			}
		}
		out[flush[k]] = ast.SignedExpr{E: e}
	}

	return ast.MakeSignedSum(out)
}

func isUnit(e ast.Expr) bool {
	l, ok := e.(*ast.Literal)
	return ok && l.Value == 1
}
