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

// Package optimize orchestrates the rewriting passes over one loop nest and
// its target expressions, and implements the loop-nest transforms that
// interact with them: precomputation, zero-region elimination, unrolling,
// permutation, fission, dense linear algebra lowering, and parallel-region
// extraction. A LoopOptimizer owns its nest exclusively; all transforms
// mutate the shared tree in place.
package optimize

import (
	"fmt"

	"github.com/ajroetker/kernelgen/ast"
	"github.com/ajroetker/kernelgen/linalg"
	"github.com/ajroetker/kernelgen/rewrite"
)

// TargetExpr pairs a target statement with its loop-nest bookkeeping.
// Target expressions are an ordered slice, not a map, so every transform
// iterates them deterministically.
type TargetExpr struct {
	Stmt ast.Stmt
	Meta *rewrite.MetaExpr
}

// ZeroScheduler restructures iteration spaces around statically known
// zero-valued array regions. It may change the bounds of the nest's loops and
// returns the resulting nonzero-region map.
type ZeroScheduler interface {
	Reschedule(loop *ast.For, decls map[string]*ast.Decl) (map[string][]ast.Span, error)
}

// LoopOptimizer owns one loop nest, its enclosing block, the kernel's
// declarations, and the target expressions within the nest.
type LoopOptimizer struct {
	loop   *ast.For
	header *ast.Block
	decls  map[string]*ast.Decl
	exprs  []TargetExpr

	hoisted *rewrite.Tracker
	graph   *rewrite.Graph
	session *rewrite.Session

	// Fissioner splits expressions for Split. Defaults to SumFissioner.
	Fissioner Fissioner

	nonzero map[string][]ast.Span
}

// New builds an optimizer for the nest rooted at loop, contained in header.
func New(loop *ast.For, header *ast.Block, decls map[string]*ast.Decl, exprs []TargetExpr) *LoopOptimizer {
	return &LoopOptimizer{
		loop:      loop,
		header:    header,
		decls:     decls,
		exprs:     exprs,
		hoisted:   rewrite.NewTracker(),
		graph:     rewrite.NewGraph(),
		session:   rewrite.NewSession(),
		Fissioner: SumFissioner{},
	}
}

// Exprs returns the current target expressions, including any added by
// transforms such as Unroll and Split.
func (o *LoopOptimizer) Exprs() []TargetExpr {
	return o.exprs
}

// Hoisted returns the names of the temporaries minted so far, in creation
// order.
func (o *LoopOptimizer) Hoisted() []string {
	return o.hoisted.Names()
}

// Rewrite runs the expression rewriting pipeline at the given optimization
// level. Level 0 is a no-op; level 1 applies loop-invariant code motion to
// every expression; level 2 additionally expands and factorizes dimensioned
// expressions and re-hoists the result with placement merging and temporary
// compaction.
func (o *LoopOptimizer) Rewrite(level int) error {
	if level <= 0 {
		return nil
	}
	o.session.Reset()
	for _, e := range o.exprs {
		r := rewrite.NewRewriter(e.Stmt, e.Meta, o.header, o.decls, o.hoisted, o.graph, o.session)
		if err := r.Licm(rewrite.LicmOptions{}); err != nil {
			return fmt.Errorf("rewrite: %w", err)
		}
		if level < 2 || !e.Meta.Dimensioned() {
			continue
		}
		if err := r.Expand(rewrite.ExpandStandard); err != nil {
			return fmt.Errorf("rewrite: %w", err)
		}
		if err := r.Factorize(rewrite.FactorizeStandard); err != nil {
			return fmt.Errorf("rewrite: %w", err)
		}
		err := r.Licm(rewrite.LicmOptions{MergeAndSimplify: true, CompactTemps: true})
		if err != nil {
			return fmt.Errorf("rewrite: %w", err)
		}
	}
	return nil
}

// EliminateZeros delegates to the zero-region scheduler. It is a no-op unless
// at least one declaration carries nonzero-region metadata. The resulting
// region map is retained and available through NonzeroRegions.
func (o *LoopOptimizer) EliminateZeros(sched ZeroScheduler) error {
	any := false
	for _, d := range o.decls {
		if len(d.Nonzero) > 0 {
			any = true
			break
		}
	}
	if !any {
		debugf("no nonzero-region metadata, skipping zero elimination")
		return nil
	}
	regions, err := sched.Reschedule(o.loop, o.decls)
	if err != nil {
		return fmt.Errorf("eliminate zeros: %w", err)
	}
	o.nonzero = regions
	return nil
}

// NonzeroRegions returns the region map recorded by EliminateZeros, or nil.
func (o *LoopOptimizer) NonzeroRegions() map[string][]ast.Span {
	return o.nonzero
}

// Precompute hoists the statements of a non-perfect outer loop that precede
// the target expressions' loops into a separate loop over the outer
// dimension, scalar-expanding every symbol they define so one value is kept
// per outer iteration. The new loop is inserted immediately before the nest.
// Mode 1 leaves statements produced by earlier hoisting in place instead of
// precomputing them again. A perfect nest is left untouched.
func (o *LoopOptimizer) Precompute(mode int) error {
	if ast.IsPerfect(o.loop) {
		debugf("loop nest already perfect, skipping precomputation")
		return nil
	}

	keep := make(map[ast.Stmt]bool)
	if mode == 1 {
		for _, name := range o.hoisted.Names() {
			if rec, ok := o.hoisted.Lookup(name); ok {
				keep[rec.Def] = true
				keep[rec.Decl] = true
				if rec.Loop != nil {
					keep[rec.Loop] = true
				}
			}
		}
	}

	domain := o.domainLoop()
	outer := o.loop

	// Storage rank prefix for every symbol written by a hoisted statement.
	expanded := make(map[string][]string)
	var moved []ast.Stmt
	var body []ast.Stmt
	var headerDecls []ast.Stmt

	for _, s := range outer.Body.Stmts {
		if f, ok := s.(*ast.For); ok && f == domain {
			break
		}
		if keep[s] {
			continue
		}
		switch t := s.(type) {
		case *ast.Decl:
			expanded[t.Name] = []string{outer.Dim}
			decl := ast.CloneStmt(t).(*ast.Decl)
			decl.Sizes = append([]int{outer.Size}, decl.Sizes...)
			init := decl.Init
			decl.Init = nil
			headerDecls = append(headerDecls, decl)
			if init != nil {
				// Rank expansion below turns the scalar reference into one
				// slot per outer iteration.
				body = append(body, &ast.Assign{LHS: ast.NewSymbol(t.Name), RHS: init})
			}
			o.decls[t.Name] = decl
			moved = append(moved, s)

		case *ast.Assign:
			o.expandOnce(t.LHS.Name, outer, expanded)
			body = append(body, s)
			moved = append(moved, s)

		case *ast.Incr:
			o.expandOnce(t.LHS.Name, outer, expanded)
			body = append(body, s)
			moved = append(moved, s)

		case *ast.For:
			for _, w := range writtenSymbols(t) {
				o.expandOnce(w, outer, expanded)
			}
			body = append(body, s)
			moved = append(moved, s)

		case *ast.FlatBlock, *ast.Empty:
			// Spacing; leave in place.

		default:
			return fmt.Errorf("precompute: unexpected node %T", s)
		}
	}
	if len(moved) == 0 {
		return nil
	}

	for _, s := range moved {
		outer.Body.Remove(s)
	}

	// References in both the precompute loop and the remaining nest pick up
	// the new leading dimension.
	pre := ast.MakeFor(body, outer)
	ast.UpdateRank(pre, expanded)
	ast.UpdateRank(outer, expanded)

	code := append(headerDecls, pre, &ast.FlatBlock{Text: "\n"})
	o.header.InsertBefore(outer, code...)
	return nil
}

// expandOnce records the scalar expansion of name along the outer dimension
// and prepends the extent to its local declaration's storage, at most once
// even when several moved statements write the same symbol.
func (o *LoopOptimizer) expandOnce(name string, outer *ast.For, expanded map[string][]string) {
	if _, done := expanded[name]; done {
		return
	}
	expanded[name] = []string{outer.Dim}
	d, ok := o.decls[name]
	if !ok || d.Scope == ast.ScopeExternal {
		return
	}
	d.Sizes = append([]int{outer.Size}, d.Sizes...)
}

// domainLoop returns the loop, directly inside the nest's outermost loop,
// that leads to the target expressions.
func (o *LoopOptimizer) domainLoop() *ast.For {
	inner := make(map[*ast.For]bool)
	for _, e := range o.exprs {
		for _, l := range e.Meta.Loops {
			inner[l] = true
		}
	}
	for _, s := range o.loop.Body.Stmts {
		if f, ok := s.(*ast.For); ok && inner[f] {
			return f
		}
	}
	return nil
}

// writtenSymbols returns the names assigned or incremented anywhere under n.
func writtenSymbols(n ast.Node) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(n ast.Node)
	walk = func(n ast.Node) {
		switch t := n.(type) {
		case *ast.Assign:
			if !seen[t.LHS.Name] {
				seen[t.LHS.Name] = true
				out = append(out, t.LHS.Name)
			}
		case *ast.Incr:
			if !seen[t.LHS.Name] {
				seen[t.LHS.Name] = true
				out = append(out, t.LHS.Name)
			}
		case *ast.For:
			walk(t.Body)
		case *ast.Block:
			for _, s := range t.Stmts {
				walk(s)
			}
		}
	}
	walk(n)
	return out
}

// Blas lowers the nest onto a dense linear algebra library call. Only an
// exactly depth-3 nest is eligible; anything else is a no-op returning nil.
func (o *LoopOptimizer) Blas(lib linalg.Library) *linalg.Result {
	if ast.NestDepth(o.loop) != 3 {
		debugf("nest depth %d not eligible for blas lowering", ast.NestDepth(o.loop))
		return nil
	}
	return linalg.Transform(o.loop, o.header, o.decls, lib)
}
