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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ajroetker/kernelgen/ast"
)

// nestJI wraps stmt in for i(3) { for j(4) { stmt } } with i as the domain,
// so standard-mode strategies target the i-indexed operands.
func nestJI(stmt ast.Stmt) (*ast.Block, *MetaExpr) {
	jLoop := &ast.For{Dim: "j", Size: 4, Body: &ast.Block{Stmts: []ast.Stmt{stmt}}}
	iLoop := &ast.For{Dim: "i", Size: 3, Body: &ast.Block{Stmts: []ast.Stmt{jLoop}}}
	header := &ast.Block{Stmts: []ast.Stmt{iLoop}}
	meta := &MetaExpr{
		Loops:       []*ast.For{iLoop, jLoop},
		DomainLoops: []*ast.For{iLoop},
		Parent:      jLoop.Body,
		Type:        "double",
	}
	return header, meta
}

func prodOf(factors ...ast.Expr) ast.Expr {
	return ast.MakeProd(factors)
}

func TestFactorizeGroupsCommonOperand(t *testing.T) {
	// A[i]*B[j] + A[i]*C[j] regroups as A[i]*(B[j] + C[j]).
	stmt := &ast.Assign{
		LHS: ast.NewSymbol("out", "i"),
		RHS: &ast.Sum{
			Left:  prodOf(ast.NewSymbol("A", "i"), ast.NewSymbol("B", "j")),
			Right: prodOf(ast.NewSymbol("A", "i"), ast.NewSymbol("C", "j")),
		},
	}
	_, meta := nestJI(stmt)
	f := NewFactorizer(stmt, meta, map[string]*ast.Decl{})
	require.NoError(t, f.Factorize(FactorizeStandard))
	require.Equal(t, "A[i]*(B[j] + C[j])", ast.RHS(stmt).String())
}

func TestFactorizeMultiplicity(t *testing.T) {
	// Identical addends collapse into a literal multiplicity.
	stmt := &ast.Assign{
		LHS: ast.NewSymbol("out", "i"),
		RHS: &ast.Sum{
			Left:  prodOf(ast.NewSymbol("A", "i"), ast.NewSymbol("B", "j")),
			Right: prodOf(ast.NewSymbol("A", "i"), ast.NewSymbol("B", "j")),
		},
	}
	_, meta := nestJI(stmt)
	f := NewFactorizer(stmt, meta, map[string]*ast.Decl{})
	require.NoError(t, f.Factorize(FactorizeStandard))
	require.Equal(t, "A[i]*2*B[j]", ast.RHS(stmt).String())
}

func TestFactorizeSigns(t *testing.T) {
	stmt := &ast.Assign{
		LHS: ast.NewSymbol("out", "i"),
		RHS: &ast.Sub{
			Left:  prodOf(ast.NewSymbol("A", "i"), ast.NewSymbol("B", "j")),
			Right: prodOf(ast.NewSymbol("A", "i"), ast.NewSymbol("C", "j")),
		},
	}
	_, meta := nestJI(stmt)
	f := NewFactorizer(stmt, meta, map[string]*ast.Decl{})
	require.NoError(t, f.Factorize(FactorizeStandard))
	require.Equal(t, "A[i]*(B[j] - C[j])", ast.RHS(stmt).String())
}

func TestFactorizeBareOperand(t *testing.T) {
	// A bare operand addend contributes the unit literal to its group.
	stmt := &ast.Assign{
		LHS: ast.NewSymbol("out", "i"),
		RHS: &ast.Sum{
			Left:  prodOf(ast.NewSymbol("A", "i"), ast.NewSymbol("B", "j")),
			Right: ast.NewSymbol("A", "i"),
		},
	}
	_, meta := nestJI(stmt)
	f := NewFactorizer(stmt, meta, map[string]*ast.Decl{})
	require.NoError(t, f.Factorize(FactorizeStandard))
	require.Equal(t, "A[i]*(B[j] + 1)", ast.RHS(stmt).String())
}

func TestFactorizePassthrough(t *testing.T) {
	// Addends without a grouped operand survive unchanged, in position.
	stmt := &ast.Assign{
		LHS: ast.NewSymbol("out", "i"),
		RHS: &ast.Sum{
			Left: &ast.Sum{
				Left:  prodOf(ast.NewSymbol("A", "i"), ast.NewSymbol("B", "j")),
				Right: prodOf(ast.NewSymbol("A", "i"), ast.NewSymbol("C", "j")),
			},
			Right: prodOf(ast.NewSymbol("D", "j"), ast.NewSymbol("E", "j")),
		},
	}
	_, meta := nestJI(stmt)
	f := NewFactorizer(stmt, meta, map[string]*ast.Decl{})
	require.NoError(t, f.Factorize(FactorizeStandard))
	require.Equal(t, "A[i]*(B[j] + C[j]) + D[j]*E[j]", ast.RHS(stmt).String())
}

func TestFactorizeImmutable(t *testing.T) {
	stmt := &ast.Assign{
		LHS: ast.NewSymbol("out", "i"),
		RHS: &ast.Sum{
			Left:  prodOf(ast.NewSymbol("K"), ast.NewSymbol("B", "j")),
			Right: prodOf(ast.NewSymbol("K"), ast.NewSymbol("C", "j")),
		},
	}
	_, meta := nestJI(stmt)
	decls := map[string]*ast.Decl{
		"K": {Type: "double", Name: "K", StaticConst: true},
	}
	f := NewFactorizer(stmt, meta, decls)
	require.NoError(t, f.Factorize(FactorizeImmutable))
	require.Equal(t, "K*(B[j] + C[j])", ast.RHS(stmt).String())
}

func TestExpandFactorizeRoundTrip(t *testing.T) {
	stmt := &ast.Assign{
		LHS: ast.NewSymbol("out", "i"),
		RHS: prodOf(ast.NewSymbol("A", "i"),
			sumOf(ast.NewSymbol("B", "j"), ast.NewSymbol("C", "j"))),
	}
	header, meta := nestJI(stmt)
	decls := map[string]*ast.Decl{}

	e := NewExpander(stmt, meta, header, decls, NewTracker(), NewGraph(), NewSession())
	require.NoError(t, e.Expand(ExpandStandard))
	require.Equal(t, "(A[i]*B[j] + A[i]*C[j])", ast.RHS(stmt).String())

	f := NewFactorizer(stmt, meta, decls)
	require.NoError(t, f.Factorize(FactorizeStandard))
	require.Equal(t, "(A[i]*(B[j] + C[j]))", ast.RHS(stmt).String(),
		"factorizing a standard expansion recovers the original grouping")
}

func TestFactorizeSemanticEquivalence(t *testing.T) {
	stmt := &ast.Incr{
		LHS: ast.NewSymbol("out", "i"),
		RHS: &ast.Sub{
			Left: &ast.Sum{
				Left:  prodOf(ast.NewSymbol("A", "i"), ast.NewSymbol("B", "j")),
				Right: prodOf(ast.NewSymbol("A", "i"), ast.NewSymbol("C", "j")),
			},
			Right: prodOf(ast.NewSymbol("A", "i"), ast.NewSymbol("B", "j")),
		},
	}
	header, meta := nestJI(stmt)
	original := ast.CloneBlock(header)

	inputs := store{}
	for i := 0; i < 3; i++ {
		inputs.set("A", indexOf(i), 0.5*float64(i)-1)
	}
	for j := 0; j < 4; j++ {
		inputs.set("B", indexOf(j), 1.5*float64(j)+0.25)
		inputs.set("C", indexOf(j), -0.5*float64(j)+3)
	}

	f := NewFactorizer(stmt, meta, map[string]*ast.Decl{})
	require.NoError(t, f.Factorize(FactorizeStandard))

	want := run(t, original, inputs)
	got := run(t, header, inputs)
	for i := 0; i < 3; i++ {
		require.InDelta(t, want.get("out", indexOf(i)), got.get("out", indexOf(i)), 1e-12)
	}
}
