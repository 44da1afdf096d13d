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
	"fmt"

	"github.com/ajroetker/kernelgen/ast"
)

// Expander distributes products over sums, splitting the expression into
// addends of the form expandable*groupable. Where the expandable factor is a
// previously hoisted temporary, the groupable factor is folded into the
// temporary's definition instead, keeping the distributed expression small.
type Expander struct {
	stmt    ast.Stmt
	meta    *MetaExpr
	header  *ast.Block
	decls   map[string]*ast.Decl
	hoisted *Tracker
	graph   *Graph
	exprID  int

	should  func(*ast.Symbol) bool
	symbols map[string][]string

	// cache maps temporary-name|factor-render pairs to the symbol carrying
	// the folded definition, so the same fold is reused across addends.
	cache map[string]*ast.Symbol
	count int
}

// NewExpander builds an expander for one target statement. header is the
// block enclosing the whole loop nest, used for symbol dependence analysis.
func NewExpander(stmt ast.Stmt, meta *MetaExpr, header *ast.Block, decls map[string]*ast.Decl,
	hoisted *Tracker, graph *Graph, session *Session) *Expander {
	return &Expander{
		stmt:    stmt,
		meta:    meta,
		header:  header,
		decls:   decls,
		hoisted: hoisted,
		graph:   graph,
		exprID:  session.ID(stmt),
		cache:   make(map[string]*ast.Symbol),
	}
}

// Expand rewrites the target expression into a sum of products. The
// expression must have a non-trivial domain; otherwise the call is a no-op.
func (e *Expander) Expand(mode ExpandMode) error {
	if !e.meta.Dimensioned() {
		debugf("expression has no domain, skipping expansion")
		return nil
	}
	e.should = mode.predicate(e.stmt, e.meta, e.decls)
	if e.should == nil {
		warnf("don't know how to expand with strategy %q, skipping", mode)
		return nil
	}
	e.symbols = ast.SymbolDeps(e.header)
	rhs, err := e.expand(ast.RHS(e.stmt))
	if err != nil {
		return err
	}
	ast.SetRHS(e.stmt, rhs)
	return nil
}

// expandable reports whether a subtree belongs to the expandable group: it
// references at least one symbol, every referenced symbol matches the
// strategy predicate, and it contains no opaque arithmetic.
func (e *Expander) expandable(x ast.Expr) bool {
	if opaque(x) {
		return false
	}
	syms := ast.Symbols(x)
	if len(syms) == 0 {
		return false
	}
	for _, s := range syms {
		if !e.should(s) {
			return false
		}
	}
	return true
}

// opaque reports whether x contains arithmetic that distributes only as a
// unit: divisions and calls group, they are never split into addends.
func opaque(x ast.Expr) bool {
	switch t := x.(type) {
	case *ast.Div, *ast.FunCall:
		return true
	case *ast.Par:
		return opaque(t.Inner)
	case *ast.Neg:
		return opaque(t.X)
	case *ast.Sum:
		return opaque(t.Left) || opaque(t.Right)
	case *ast.Sub:
		return opaque(t.Left) || opaque(t.Right)
	case *ast.Prod:
		return opaque(t.Left) || opaque(t.Right)
	}
	return false
}

func (e *Expander) expand(node ast.Expr) (ast.Expr, error) {
	switch t := node.(type) {
	case *ast.Symbol, *ast.Literal:
		return node, nil

	case *ast.Par:
		inner, err := e.expand(t.Inner)
		if err != nil {
			return nil, err
		}
		t.Inner = inner
		return t, nil

	case *ast.Neg:
		x, err := e.expand(t.X)
		if err != nil {
			return nil, err
		}
		t.X = x
		return t, nil

	case *ast.FunCall:
		for i, a := range t.Args {
			x, err := e.expand(a)
			if err != nil {
				return nil, err
			}
			t.Args[i] = x
		}
		return t, nil

	case *ast.Sum:
		return e.expandSides(&t.Left, &t.Right, node)
	case *ast.Sub:
		return e.expandSides(&t.Left, &t.Right, node)
	case *ast.Div:
		return e.expandSides(&t.Left, &t.Right, node)

	case *ast.Prod:
		left, err := e.expand(t.Left)
		if err != nil {
			return nil, err
		}
		right, err := e.expand(t.Right)
		if err != nil {
			return nil, err
		}
		t.Left, t.Right = left, right

		var exp, grp ast.Expr
		expLeft := false
		switch {
		case e.expandable(left) && e.expandable(right):
			// Both sides qualify; distribute the left over the right.
			exp, grp, expLeft = left, right, true
		case e.expandable(left):
			exp, grp, expLeft = left, right, true
		case e.expandable(right):
			exp, grp = right, left
		default:
			return t, nil
		}

		expTerms := ast.FlattenSum(exp)
		grpTerms := ast.FlattenSum(grp)
		if len(expTerms) == 1 && len(grpTerms) == 1 {
			return t, nil
		}

		// A hoisted temporary folds only when every groupable addend may
		// move into its definition; a partial fold would leave the other
		// addends referencing the rewritten value.
		allow := make(map[string]bool)
		for _, et := range expTerms {
			sym, ok := et.E.(*ast.Symbol)
			if !ok {
				continue
			}
			rec, ok := e.hoisted.Lookup(sym.Name)
			if !ok {
				continue
			}
			all := true
			for _, gt := range grpTerms {
				if !e.canFoldInto(rec, gt.E) {
					all = false
					break
				}
			}
			allow[sym.Name] = all
		}

		var terms []ast.SignedExpr
		for _, gt := range grpTerms {
			for _, et := range expTerms {
				prod := e.fuse(et.E, gt.E, expLeft, allow)
				terms = append(terms, ast.SignedExpr{E: prod, Neg: et.Neg != gt.Neg})
			}
		}
		sum := ast.MakeSignedSum(terms)
		if len(terms) > 1 {
			return &ast.Par{Inner: sum}, nil
		}
		return sum, nil
	}
	return nil, fmt.Errorf("expansion: unexpected node %T", node)
}

func (e *Expander) expandSides(left, right *ast.Expr, node ast.Expr) (ast.Expr, error) {
	l, err := e.expand(*left)
	if err != nil {
		return nil, err
	}
	r, err := e.expand(*right)
	if err != nil {
		return nil, err
	}
	*left, *right = l, r
	return node, nil
}

// fuse builds one distributed addend. When the expandable factor is a hoisted
// temporary whose definition can legally absorb every groupable addend, the
// addend collapses to a bare symbol reference; otherwise it is a product
// preserving the source operand order.
func (e *Expander) fuse(exp, grp ast.Expr, expLeft bool, allow map[string]bool) ast.Expr {
	if sym, ok := exp.(*ast.Symbol); ok && allow[sym.Name] {
		if folded, ok := e.fold(sym, grp); ok {
			return folded
		}
	}
	if expLeft {
		return &ast.Prod{Left: ast.CloneExpr(exp), Right: ast.CloneExpr(grp)}
	}
	return &ast.Prod{Left: ast.CloneExpr(grp), Right: ast.CloneExpr(exp)}
}

// canFoldInto reports whether grp may move into rec's definition: it must not
// vary over any dimension the temporary does not span. A rank-less scalar
// written inside an enclosing loop varies with that loop all the same, so the
// check runs on full symbol dependence, not rank.
func (e *Expander) canFoldInto(rec *HoistRecord, grp ast.Expr) bool {
	for _, s := range ast.Symbols(grp) {
		deps := e.symbols[s.Name]
		if len(deps) == 0 {
			deps = s.Rank
		}
		for _, d := range deps {
			if e.meta.LoopFromDim(d) != nil && !containsDim(rec.Sym.Rank, d) {
				return false
			}
		}
	}
	return true
}

// fold absorbs grp into the hoisted definition of expSym, if it has one and
// grp is computable at the definition's site. When another live binding
// depends on the current definition, the fold forks a fresh temporary next to
// it instead of rewriting in place.
func (e *Expander) fold(expSym *ast.Symbol, grp ast.Expr) (ast.Expr, bool) {
	rec, ok := e.hoisted.Lookup(expSym.Name)
	if !ok || !e.canFoldInto(rec, grp) {
		return nil, false
	}

	key := expSym.Name + "|" + grp.String()
	if sym, ok := e.cache[key]; ok {
		return renameRef(expSym, sym.Name), true
	}

	if e.graph.HasDep(expSym.Name) {
		name := fmt.Sprintf("%s_EXP_%d_%d", depTag(rec.Sym.Rank), e.exprID, e.count)
		e.count++
		sym := &ast.Symbol{Name: name, Rank: append([]string(nil), rec.Sym.Rank...)}
		decl := &ast.Decl{
			Type:  rec.Decl.Type,
			Name:  name,
			Sizes: append([]int(nil), rec.Decl.Sizes...),
			Scope: rec.Decl.Scope,
		}
		base := rec.Expr.Inner
		if rec.pristine != nil {
			base = rec.pristine
		}
		def := &ast.Par{Inner: &ast.Prod{
			Left:  parWrap(ast.CloneExpr(base)),
			Right: ast.CloneExpr(grp),
		}}
		assign := &ast.Assign{LHS: ast.CloneSymbol(sym), RHS: def}

		if rec.Loop != nil {
			rec.Place.InsertBefore(rec.Loop, decl)
			if body := containingBlock(rec.Loop, rec.Def); body != nil {
				body.InsertAfter(rec.Def, assign)
			}
		} else {
			rec.Place.InsertBefore(rec.Def, decl)
			rec.Place.InsertAfter(rec.Def, assign)
		}

		e.decls[name] = decl
		e.hoisted.Add(name, &HoistRecord{
			Expr: def, Decl: decl, Def: assign,
			Loop: rec.Loop, Place: rec.Place, Sym: sym,
		})
		e.graph.AddDependency(sym, def.Inner, false)
		e.cache[key] = sym
		return renameRef(expSym, name), true
	}

	// In-place fold. The rewritten definition now has a live consumer at the
	// use site, so any later fold of this temporary must fork instead.
	if rec.pristine == nil {
		rec.pristine = ast.CloneExpr(rec.Expr.Inner)
	}
	rec.Expr.Inner = &ast.Prod{
		Left:  parWrap(rec.Expr.Inner),
		Right: ast.CloneExpr(grp),
	}
	e.graph.AddDependency(rec.Sym, grp, true)
	e.cache[key] = rec.Sym
	return renameRef(expSym, rec.Sym.Name), true
}

// renameRef clones a use-site reference, keeping its rank and offsets but
// pointing it at name.
func renameRef(ref *ast.Symbol, name string) *ast.Symbol {
	s := ast.CloneSymbol(ref)
	s.Name = name
	return s
}

func containsDim(dims []string, d string) bool {
	for _, e := range dims {
		if e == d {
			return true
		}
	}
	return false
}

// containingBlock finds the block within loop that directly holds s.
func containingBlock(loop *ast.For, s ast.Stmt) *ast.Block {
	if loop.Body.IndexOf(s) >= 0 {
		return loop.Body
	}
	for _, t := range loop.Body.Stmts {
		if inner, ok := t.(*ast.For); ok {
			if b := containingBlock(inner, s); b != nil {
				return b
			}
		}
	}
	return nil
}
