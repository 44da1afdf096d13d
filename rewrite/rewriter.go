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

	"github.com/ajroetker/kernelgen/ast"
)

// Rewriter drives the expression-level transforms for a single target
// statement: loop-invariant code motion, expansion, factorization, and
// reassociation. All transforms share the hoisting bookkeeping, so a
// temporary minted by one pass is visible to the next.
type Rewriter struct {
	stmt   ast.Stmt
	meta   *MetaExpr
	header *ast.Block
	decls  map[string]*ast.Decl

	hoisted *Tracker
	graph   *Graph
	session *Session

	hoister    *Hoister
	expander   *Expander
	factorizer *Factorizer
}

// NewRewriter builds a rewriter for one target statement. header is the block
// enclosing the whole loop nest; decls indexes the kernel's declarations by
// name and is extended as temporaries are minted. Tracker, graph and session
// are shared across the rewriters of a kernel.
func NewRewriter(stmt ast.Stmt, meta *MetaExpr, header *ast.Block, decls map[string]*ast.Decl,
	hoisted *Tracker, graph *Graph, session *Session) *Rewriter {
	r := &Rewriter{
		stmt:    stmt,
		meta:    meta,
		header:  header,
		decls:   decls,
		hoisted: hoisted,
		graph:   graph,
		session: session,
	}
	r.hoister = NewHoister(stmt, meta, header, decls, hoisted, graph, session)
	r.expander = NewExpander(stmt, meta, header, decls, hoisted, graph, session)
	r.factorizer = NewFactorizer(stmt, meta, decls)
	return r
}

// Licm hoists loop-invariant subexpressions out of the target expression.
func (r *Rewriter) Licm(opts LicmOptions) error {
	return r.hoister.Licm(opts)
}

// Expand distributes products over sums in the target expression.
func (r *Rewriter) Expand(mode ExpandMode) error {
	return r.expander.Expand(mode)
}

// Factorize groups the target expression's addends on common factors.
func (r *Rewriter) Factorize(mode FactorizeMode) error {
	return r.factorizer.Factorize(mode)
}

// Reassociate reorders the multiplicands of every product chain in the target
// expression by increasing dimensionality, so scalar factors multiply first.
// The sort is stable; factors of equal dimensionality keep their order.
func (r *Rewriter) Reassociate() {
	ast.SetRHS(r.stmt, reassociate(ast.RHS(r.stmt)))
}

func reassociate(e ast.Expr) ast.Expr {
	switch t := e.(type) {
	case *ast.Par:
		t.Inner = reassociate(t.Inner)
		return t
	case *ast.Neg:
		t.X = reassociate(t.X)
		return t
	case *ast.Sum:
		t.Left = reassociate(t.Left)
		t.Right = reassociate(t.Right)
		return t
	case *ast.Sub:
		t.Left = reassociate(t.Left)
		t.Right = reassociate(t.Right)
		return t
	case *ast.Div:
		t.Left = reassociate(t.Left)
		t.Right = reassociate(t.Right)
		return t
	case *ast.FunCall:
		for i, a := range t.Args {
			t.Args[i] = reassociate(a)
		}
		return t
	case *ast.Prod:
		facs := ast.FlattenProd(t)
		for i, f := range facs {
			facs[i] = reassociate(f)
		}
		sort.SliceStable(facs, func(i, j int) bool {
			return dimensionality(facs[i]) < dimensionality(facs[j])
		})
		return ast.MakeProd(facs)
	}
	return e
}

// dimensionality is the number of distinct loop dimensions a subtree's symbol
// references vary over.
func dimensionality(e ast.Expr) int {
	dims := make(map[string]bool)
	for _, s := range ast.Symbols(e) {
		for _, d := range s.Rank {
			dims[d] = true
		}
	}
	return len(dims)
}
