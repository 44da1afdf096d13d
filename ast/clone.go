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

// CloneSymbol returns a deep copy of a symbol reference.
func CloneSymbol(s *Symbol) *Symbol {
	c := &Symbol{Name: s.Name}
	if len(s.Rank) > 0 {
		c.Rank = append([]string(nil), s.Rank...)
	}
	if len(s.Offset) > 0 {
		c.Offset = append([]Offset(nil), s.Offset...)
	}
	return c
}

// CloneExpr returns a deep copy of an expression tree.
func CloneExpr(e Expr) Expr {
	switch t := e.(type) {
	case *Symbol:
		return CloneSymbol(t)
	case *Literal:
		return &Literal{Value: t.Value}
	case *Par:
		return &Par{Inner: CloneExpr(t.Inner)}
	case *Neg:
		return &Neg{X: CloneExpr(t.X)}
	case *Sum:
		return &Sum{Left: CloneExpr(t.Left), Right: CloneExpr(t.Right)}
	case *Sub:
		return &Sub{Left: CloneExpr(t.Left), Right: CloneExpr(t.Right)}
	case *Prod:
		return &Prod{Left: CloneExpr(t.Left), Right: CloneExpr(t.Right)}
	case *Div:
		return &Div{Left: CloneExpr(t.Left), Right: CloneExpr(t.Right)}
	case *FunCall:
		args := make([]Expr, len(t.Args))
		for i, a := range t.Args {
			args[i] = CloneExpr(a)
		}
		return &FunCall{Name: t.Name, Args: args}
	}
	return e
}

// CloneStmt returns a deep copy of a statement tree.
func CloneStmt(s Stmt) Stmt {
	switch t := s.(type) {
	case *Assign:
		return &Assign{LHS: CloneSymbol(t.LHS), RHS: CloneExpr(t.RHS)}
	case *Incr:
		return &Incr{LHS: CloneSymbol(t.LHS), RHS: CloneExpr(t.RHS)}
	case *Decl:
		c := &Decl{
			Type:        t.Type,
			Name:        t.Name,
			Scope:       t.Scope,
			StaticConst: t.StaticConst,
		}
		if len(t.Sizes) > 0 {
			c.Sizes = append([]int(nil), t.Sizes...)
		}
		if len(t.Nonzero) > 0 {
			c.Nonzero = append([]Span(nil), t.Nonzero...)
		}
		if t.Init != nil {
			c.Init = CloneExpr(t.Init)
		}
		return c
	case *For:
		c := &For{Dim: t.Dim, Size: t.Size, Body: CloneBlock(t.Body)}
		if len(t.Pragmas) > 0 {
			c.Pragmas = append([]string(nil), t.Pragmas...)
		}
		return c
	case *Block:
		return CloneBlock(t)
	case *FlatBlock:
		return &FlatBlock{Text: t.Text}
	case *Empty:
		return &Empty{}
	}
	return s
}

// CloneBlock returns a deep copy of a block.
func CloneBlock(b *Block) *Block {
	c := &Block{Stmts: make([]Stmt, len(b.Stmts))}
	for i, s := range b.Stmts {
		c.Stmts[i] = CloneStmt(s)
	}
	return c
}
