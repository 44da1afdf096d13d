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

import "sort"

// Symbols collects every symbol occurrence under n, left to right.
func Symbols(n Node) []*Symbol {
	var out []*Symbol
	walkSymbols(n, func(s *Symbol) { out = append(out, s) })
	return out
}

// walkSymbols visits every symbol occurrence under n.
func walkSymbols(n Node, visit func(*Symbol)) {
	switch t := n.(type) {
	case *Symbol:
		visit(t)
	case *Literal, *FlatBlock, *Empty, nil:
	case *Par:
		walkSymbols(t.Inner, visit)
	case *Neg:
		walkSymbols(t.X, visit)
	case *Sum:
		walkSymbols(t.Left, visit)
		walkSymbols(t.Right, visit)
	case *Sub:
		walkSymbols(t.Left, visit)
		walkSymbols(t.Right, visit)
	case *Prod:
		walkSymbols(t.Left, visit)
		walkSymbols(t.Right, visit)
	case *Div:
		walkSymbols(t.Left, visit)
		walkSymbols(t.Right, visit)
	case *FunCall:
		for _, a := range t.Args {
			walkSymbols(a, visit)
		}
	case *Assign:
		visit(t.LHS)
		walkSymbols(t.RHS, visit)
	case *Incr:
		visit(t.LHS)
		walkSymbols(t.RHS, visit)
	case *Decl:
		if t.Init != nil {
			walkSymbols(t.Init, visit)
		}
	case *For:
		walkSymbols(t.Body, visit)
	case *Block:
		for _, s := range t.Stmts {
			walkSymbols(s, visit)
		}
	}
}

// SymbolDeps computes, for every symbol name under root, the set of loop
// dimensions its value varies over: the dimensions it is indexed by, plus the
// dimensions of every loop enclosing a write to it (a scalar assigned inside
// a loop varies with that loop even though its rank is empty). Dimension
// lists are ordered by loop nest order, then by name for dimensions that
// never appear as a loop in root.
func SymbolDeps(root Node) map[string][]string {
	deps := make(map[string]map[string]bool)
	order := make(map[string]int)
	add := func(name, dim string) {
		if dim == "" {
			return
		}
		set := deps[name]
		if set == nil {
			set = make(map[string]bool)
			deps[name] = set
		}
		set[dim] = true
	}

	var walk func(n Node, loops []string)
	walk = func(n Node, loops []string) {
		switch t := n.(type) {
		case *Symbol:
			for _, d := range t.Rank {
				add(t.Name, d)
			}
		case *Assign:
			for _, d := range loops {
				add(t.LHS.Name, d)
			}
			walk(t.LHS, loops)
			walk(t.RHS, loops)
		case *Incr:
			for _, d := range loops {
				add(t.LHS.Name, d)
			}
			walk(t.LHS, loops)
			walk(t.RHS, loops)
		case *Decl:
			if t.Init != nil {
				for _, d := range loops {
					add(t.Name, d)
				}
				walk(t.Init, loops)
			}
		case *For:
			if _, seen := order[t.Dim]; !seen {
				order[t.Dim] = len(order)
			}
			walk(t.Body, append(loops, t.Dim))
		case *Block:
			for _, s := range t.Stmts {
				walk(s, loops)
			}
		case *Par:
			walk(t.Inner, loops)
		case *Neg:
			walk(t.X, loops)
		case *Sum:
			walk(t.Left, loops)
			walk(t.Right, loops)
		case *Sub:
			walk(t.Left, loops)
			walk(t.Right, loops)
		case *Prod:
			walk(t.Left, loops)
			walk(t.Right, loops)
		case *Div:
			walk(t.Left, loops)
			walk(t.Right, loops)
		case *FunCall:
			for _, a := range t.Args {
				walk(a, loops)
			}
		}
	}
	walk(root, nil)

	out := make(map[string][]string, len(deps))
	for name, set := range deps {
		dims := make([]string, 0, len(set))
		for d := range set {
			dims = append(dims, d)
		}
		sort.Slice(dims, func(i, j int) bool {
			oi, iok := order[dims[i]]
			oj, jok := order[dims[j]]
			if iok && jok {
				return oi < oj
			}
			if iok != jok {
				return iok
			}
			return dims[i] < dims[j]
		})
		out[name] = dims
	}
	return out
}

// ignorable reports whether a statement is irrelevant to loop-nest shape.
func ignorable(s Stmt) bool {
	switch t := s.(type) {
	case *Empty:
		return true
	case *FlatBlock:
		for _, r := range t.Text {
			if r != ' ' && r != '\n' && r != '\t' {
				return false
			}
		}
		return true
	}
	return false
}

// IsPerfect reports whether the nest rooted at l is perfect: every loop body
// consists solely of its single nested loop, down to the innermost loop,
// whose body may hold arbitrary statements.
func IsPerfect(l *For) bool {
	for {
		var inner *For
		fors, others := 0, 0
		for _, s := range l.Body.Stmts {
			if f, ok := s.(*For); ok {
				fors++
				inner = f
			} else if !ignorable(s) {
				others++
			}
		}
		if fors == 0 {
			return true
		}
		if fors > 1 || others > 0 {
			return false
		}
		l = inner
	}
}

// InnerLoops returns, in pre-order, the loops under l (l included) that
// contain no nested loop.
func InnerLoops(l *For) []*For {
	var out []*For
	var walk func(f *For)
	walk = func(f *For) {
		nested := false
		for _, s := range f.Body.Stmts {
			if g, ok := s.(*For); ok {
				nested = true
				walk(g)
			}
		}
		if !nested {
			out = append(out, f)
		}
	}
	walk(l)
	return out
}

// NestDepth returns the maximum loop nesting depth of the nest rooted at l.
func NestDepth(l *For) int {
	max := 0
	for _, s := range l.Body.Stmts {
		if f, ok := s.(*For); ok {
			if d := NestDepth(f); d > max {
				max = d
			}
		}
	}
	return max + 1
}

// LoopParent pairs a loop with the block that contains it.
type LoopParent struct {
	Loop   *For
	Parent *Block
}

// NestLoops returns every loop under root paired with its parent block, in
// pre-order. The root block is the parent of top-level loops.
func NestLoops(root *Block) []LoopParent {
	var out []LoopParent
	var walk func(b *Block)
	walk = func(b *Block) {
		for _, s := range b.Stmts {
			if f, ok := s.(*For); ok {
				out = append(out, LoopParent{Loop: f, Parent: b})
				walk(f.Body)
			}
		}
	}
	walk(root)
	return out
}
