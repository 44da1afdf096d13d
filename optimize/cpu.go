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

package optimize

import (
	"fmt"
	"sort"

	"golang.org/x/sys/cpu"

	"github.com/ajroetker/kernelgen/ast"
	"github.com/ajroetker/kernelgen/rewrite"
)

// DefaultUnrollFactor derives an unroll factor from the widest vector
// extension the host CPU reports: 8 under AVX-512, 4 under AVX2 or NEON,
// otherwise 2. Used when a requested factor is zero.
func DefaultUnrollFactor() int {
	switch {
	case cpu.X86.HasAVX512F:
		return 8
	case cpu.X86.HasAVX2 || cpu.ARM64.HasASIMD:
		return 4
	default:
		return 2
	}
}

// Unroll unrolls the given dimensions by the given factors. For each targeted
// dimension, every expression whose domain includes a perfectly nested loop
// over it is cloned factor-1 times with incremented iteration offsets, the
// clones become new target expressions, and the loop's trip count grows by
// factor-1 exactly once. A zero factor requests DefaultUnrollFactor.
func (o *LoopOptimizer) Unroll(factors map[string]int) error {
	dims := make([]string, 0, len(factors))
	for d := range factors {
		dims = append(dims, d)
	}
	sort.Strings(dims)

	for _, dim := range dims {
		u := factors[dim]
		if u == 0 {
			u = DefaultUnrollFactor()
		}
		if u < 2 {
			continue
		}
		bumped := make(map[*ast.For]bool)
		for _, e := range append([]TargetExpr(nil), o.exprs...) {
			loop := e.Meta.LoopFromDim(dim)
			if loop == nil || !containsDim(e.Meta.Domain(), dim) || !ast.IsPerfect(loop) {
				continue
			}
			marker := e.Stmt
			for k := 1; k < u; k++ {
				clone := ast.CloneStmt(e.Stmt)
				shiftDim(clone, dim, k)
				e.Meta.Parent.InsertAfter(marker, clone)
				marker = clone
				o.exprs = append(o.exprs, TargetExpr{Stmt: clone, Meta: e.Meta})
			}
			if !bumped[loop] {
				loop.Size += u - 1
				bumped[loop] = true
			}
		}
	}
	return nil
}

// shiftDim adds k to the iteration offset of every reference along dim.
func shiftDim(n ast.Node, dim string, k int) {
	for _, s := range ast.Symbols(n) {
		for i, d := range s.Rank {
			if d != dim {
				continue
			}
			if len(s.Offset) == 0 {
				s.Offset = make([]ast.Offset, len(s.Rank))
				for j := range s.Offset {
					s.Offset[j] = ast.Offset{Scale: 1}
				}
			}
			s.Offset[i].Add += k
		}
	}
}

// Permute swaps the outermost and innermost loops of a perfect nest. With
// transpose set, two-dimensional arrays referenced only inside the innermost
// loop have their declared extents and reference index order swapped as well,
// so storage layout follows the new iteration order. A non-perfect nest is
// left untouched.
func (o *LoopOptimizer) Permute(transpose bool) error {
	if !ast.IsPerfect(o.loop) {
		debugf("loop nest not perfect, skipping permutation")
		return nil
	}
	chain := perfectChain(o.loop)
	if len(chain) < 2 {
		return nil
	}
	outer, inner := chain[0], chain[len(chain)-1]
	outer.Dim, inner.Dim = inner.Dim, outer.Dim
	outer.Size, inner.Size = inner.Size, outer.Size
	if !transpose {
		return nil
	}

	innerRefs := make(map[string]int)
	for _, s := range ast.Symbols(inner.Body) {
		innerRefs[s.Name]++
	}
	allRefs := make(map[string]int)
	for _, s := range ast.Symbols(o.header) {
		allRefs[s.Name]++
	}

	names := make([]string, 0, len(o.decls))
	for name := range o.decls {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		d := o.decls[name]
		if len(d.Sizes) != 2 || innerRefs[name] == 0 || innerRefs[name] != allRefs[name] {
			continue
		}
		d.Sizes[0], d.Sizes[1] = d.Sizes[1], d.Sizes[0]
		for _, s := range ast.Symbols(o.header) {
			if s.Name != name || len(s.Rank) != 2 {
				continue
			}
			s.Rank[0], s.Rank[1] = s.Rank[1], s.Rank[0]
			if len(s.Offset) == 2 {
				s.Offset[0], s.Offset[1] = s.Offset[1], s.Offset[0]
			}
		}
	}
	return nil
}

func containsDim(dims []string, d string) bool {
	for _, e := range dims {
		if e == d {
			return true
		}
	}
	return false
}

// perfectChain returns the loops of a perfect nest, outermost first.
func perfectChain(l *ast.For) []*ast.For {
	chain := []*ast.For{l}
	for {
		var inner *ast.For
		for _, s := range l.Body.Stmts {
			if f, ok := s.(*ast.For); ok {
				inner = f
			}
		}
		if inner == nil {
			return chain
		}
		chain = append(chain, inner)
		l = inner
	}
}

// Fissioner splits one target expression into independent chunks of at most
// cut addends. The first chunk must rewrite stmt in place; remainder chunks
// are returned as new target expressions already inserted into header.
type Fissioner interface {
	Fission(stmt ast.Stmt, meta *rewrite.MetaExpr, header *ast.Block, cut int) ([]TargetExpr, error)
}

// Split partitions every target expression into groups of cut addends, each
// remainder group re-emitted as an accumulation over a duplicated loop nest.
// New expressions join the optimizer's target list.
func (o *LoopOptimizer) Split(cut int) error {
	if cut < 1 {
		return nil
	}
	for _, e := range append([]TargetExpr(nil), o.exprs...) {
		added, err := o.Fissioner.Fission(e.Stmt, e.Meta, o.header, cut)
		if err != nil {
			return fmt.Errorf("split: %w", err)
		}
		o.exprs = append(o.exprs, added...)
	}
	return nil
}

// SumFissioner splits on sum associativity: the flattened addends of the
// expression are chunked, the first chunk stays in the original statement,
// and every further chunk accumulates into the output over a fresh copy of
// the enclosing loop nest inserted after the original one.
type SumFissioner struct{}

// Fission implements Fissioner.
func (SumFissioner) Fission(stmt ast.Stmt, meta *rewrite.MetaExpr, header *ast.Block, cut int) ([]TargetExpr, error) {
	lhs := ast.LHS(stmt)
	rhs := ast.RHS(stmt)
	if lhs == nil || rhs == nil {
		return nil, fmt.Errorf("fission: unexpected node %T", stmt)
	}
	addends := ast.FlattenSum(rhs)
	if len(addends) <= cut {
		return nil, nil
	}

	ast.SetRHS(stmt, ast.MakeSignedSum(addends[:cut]))

	var out []TargetExpr
	after := ast.Stmt(meta.OutLoop())
	for start := cut; start < len(addends); start += cut {
		end := start + cut
		if end > len(addends) {
			end = len(addends)
		}
		next := &ast.Incr{LHS: ast.CloneSymbol(lhs), RHS: ast.MakeSignedSum(addends[start:end])}

		loops := make([]*ast.For, len(meta.Loops))
		parent := header
		inner := []ast.Stmt{next}
		for i := len(meta.Loops) - 1; i >= 0; i-- {
			loops[i] = ast.MakeFor(inner, meta.Loops[i])
			inner = []ast.Stmt{loops[i]}
		}
		if len(loops) > 0 {
			parent = loops[len(loops)-1].Body
		}

		newMeta := &rewrite.MetaExpr{
			Loops:  loops,
			Parent: parent,
			Type:   meta.Type,
		}
		for _, dl := range meta.DomainLoops {
			for i, l := range meta.Loops {
				if l == dl {
					newMeta.DomainLoops = append(newMeta.DomainLoops, loops[i])
				}
			}
		}

		if len(loops) > 0 {
			header.InsertAfter(after, loops[0])
			after = loops[0]
		} else {
			header.InsertAfter(stmt, next)
		}
		out = append(out, TargetExpr{Stmt: next, Meta: newMeta})
	}
	return out, nil
}
