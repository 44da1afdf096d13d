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

// Package ast defines the expression and statement tree for small numerical
// kernels: straight-line arithmetic nested in rectangular loop nests. The
// node set is closed; transforms dispatch over it with exhaustive type
// switches and treat any other shape as a grammar violation.
package ast

import "fmt"

// Node is implemented by every tree node.
type Node interface {
	fmt.Stringer
	node()
}

// Expr is implemented by expression nodes.
type Expr interface {
	Node
	exprNode()
}

// Stmt is implemented by statement nodes.
type Stmt interface {
	Node
	stmtNode()
}

// Scope classifies where a declaration lives.
type Scope int

const (
	// ScopeExternal marks declarations owned by the caller (kernel arguments,
	// global tables).
	ScopeExternal Scope = iota

	// ScopeLocal marks declarations introduced inside the kernel, including
	// every hoisted temporary.
	ScopeLocal
)

// Offset is an affine index adjustment for one rank dimension: the effective
// index is Scale*dim + Add.
type Offset struct {
	Scale int
	Add   int
}

// Span is a contiguous nonzero region of one array dimension.
type Span struct {
	Start int
	Size  int
}

// Symbol is a reference to a scalar or array variable. Rank lists the loop
// dimensions the reference is indexed over, outermost first; an empty rank is
// a scalar reference. Offset, when present, aligns with Rank entry by entry.
// Two symbols are the same variable only if both name and rank match.
type Symbol struct {
	Name   string
	Rank   []string
	Offset []Offset
}

// Literal is a numeric constant.
type Literal struct {
	Value float64
}

// Par is an explicitly parenthesized expression.
type Par struct {
	Inner Expr
}

// Neg is unary minus.
type Neg struct {
	X Expr
}

// Sum is binary addition.
type Sum struct {
	Left, Right Expr
}

// Sub is binary subtraction.
type Sub struct {
	Left, Right Expr
}

// Prod is binary multiplication.
type Prod struct {
	Left, Right Expr
}

// Div is binary division.
type Div struct {
	Left, Right Expr
}

// FunCall is a call to an opaque scalar function.
type FunCall struct {
	Name string
	Args []Expr
}

// Assign writes RHS to LHS.
type Assign struct {
	LHS *Symbol
	RHS Expr
}

// Incr accumulates RHS into LHS.
type Incr struct {
	LHS *Symbol
	RHS Expr
}

// Decl declares a variable. Sizes holds the static extent of each array
// dimension (empty for scalars). Nonzero, when set, records the statically
// known nonzero regions per dimension for the zero-region scheduler.
type Decl struct {
	Type        string
	Name        string
	Sizes       []int
	Init        Expr
	Scope       Scope
	StaticConst bool
	Nonzero     []Span
}

// For is a rectangular loop: Dim runs from 0 to Size-1 with unit stride.
type For struct {
	Dim     string
	Size    int
	Body    *Block
	Pragmas []string
}

// Block is an ordered sequence of statements.
type Block struct {
	Stmts []Stmt
}

// FlatBlock is opaque passthrough text, emitted verbatim.
type FlatBlock struct {
	Text string
}

// Empty is a statement with no effect.
type Empty struct{}

func (*Symbol) node()  {}
func (*Literal) node() {}
func (*Par) node()     {}
func (*Neg) node()     {}
func (*Sum) node()     {}
func (*Sub) node()     {}
func (*Prod) node()    {}
func (*Div) node()     {}
func (*FunCall) node() {}

func (*Symbol) exprNode()  {}
func (*Literal) exprNode() {}
func (*Par) exprNode()     {}
func (*Neg) exprNode()     {}
func (*Sum) exprNode()     {}
func (*Sub) exprNode()     {}
func (*Prod) exprNode()    {}
func (*Div) exprNode()     {}
func (*FunCall) exprNode() {}

func (*Assign) node()    {}
func (*Incr) node()      {}
func (*Decl) node()      {}
func (*For) node()       {}
func (*Block) node()     {}
func (*FlatBlock) node() {}
func (*Empty) node()     {}

func (*Assign) stmtNode()    {}
func (*Incr) stmtNode()      {}
func (*Decl) stmtNode()      {}
func (*For) stmtNode()       {}
func (*Block) stmtNode()     {}
func (*FlatBlock) stmtNode() {}
func (*Empty) stmtNode()     {}

// NewSymbol returns a symbol reference over the given dimensions.
func NewSymbol(name string, rank ...string) *Symbol {
	return &Symbol{Name: name, Rank: rank}
}

// Sym returns the declared symbol reference for this declaration: scalar for
// scalar declarations, otherwise ranked over the declared dimensions by
// position (used only for size bookkeeping, not iteration).
func (d *Decl) Sym() *Symbol {
	return &Symbol{Name: d.Name}
}

// IsScalar reports whether the declaration has no array dimensions.
func (d *Decl) IsScalar() bool {
	return len(d.Sizes) == 0
}

// Pragma reports whether the loop carries the given pragma, compared by
// exact string match.
func (f *For) Pragma(p string) bool {
	for _, q := range f.Pragmas {
		if q == p {
			return true
		}
	}
	return false
}

// LHS returns the target symbol of an Assign or Incr statement, or nil.
func LHS(s Stmt) *Symbol {
	switch t := s.(type) {
	case *Assign:
		return t.LHS
	case *Incr:
		return t.LHS
	}
	return nil
}

// RHS returns the expression of an Assign or Incr statement, or nil.
func RHS(s Stmt) Expr {
	switch t := s.(type) {
	case *Assign:
		return t.RHS
	case *Incr:
		return t.RHS
	}
	return nil
}

// SetRHS replaces the expression of an Assign or Incr statement. It reports
// whether the statement was of a writable kind.
func SetRHS(s Stmt, e Expr) bool {
	switch t := s.(type) {
	case *Assign:
		t.RHS = e
		return true
	case *Incr:
		t.RHS = e
		return true
	}
	return false
}
