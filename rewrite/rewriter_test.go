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

func TestReassociateScalarsFirst(t *testing.T) {
	stmt := &ast.Assign{
		LHS: ast.NewSymbol("out", "j"),
		RHS: &ast.Prod{
			Left:  &ast.Prod{Left: ast.NewSymbol("A", "i", "j"), Right: ast.NewSymbol("q")},
			Right: ast.NewSymbol("B", "i"),
		},
	}
	header, meta, _, _ := nestIJ(stmt)
	r := NewRewriter(stmt, meta, header, map[string]*ast.Decl{}, NewTracker(), NewGraph(), NewSession())
	r.Reassociate()
	require.Equal(t, "q*B[i]*A[i][j]", ast.RHS(stmt).String())
}

func TestReassociateIsStable(t *testing.T) {
	// Equal-dimensionality factors keep their source order.
	stmt := &ast.Assign{
		LHS: ast.NewSymbol("out", "j"),
		RHS: &ast.Prod{
			Left:  &ast.Prod{Left: ast.NewSymbol("B", "i"), Right: ast.NewSymbol("C", "i")},
			Right: ast.NewSymbol("q"),
		},
	}
	header, meta, _, _ := nestIJ(stmt)
	r := NewRewriter(stmt, meta, header, map[string]*ast.Decl{}, NewTracker(), NewGraph(), NewSession())
	r.Reassociate()
	require.Equal(t, "q*B[i]*C[i]", ast.RHS(stmt).String())
}

func TestReassociateDescendsIntoSums(t *testing.T) {
	stmt := &ast.Assign{
		LHS: ast.NewSymbol("out", "j"),
		RHS: &ast.Sum{
			Left:  &ast.Prod{Left: ast.NewSymbol("A", "i", "j"), Right: ast.NewSymbol("q")},
			Right: ast.NewSymbol("D", "j"),
		},
	}
	header, meta, _, _ := nestIJ(stmt)
	r := NewRewriter(stmt, meta, header, map[string]*ast.Decl{}, NewTracker(), NewGraph(), NewSession())
	r.Reassociate()
	require.Equal(t, "q*A[i][j] + D[j]", ast.RHS(stmt).String())
}

// TestRewritePipeline drives hoisting, expansion and factorization through the
// facade over one kernel and checks the result computes the same values.
func TestRewritePipeline(t *testing.T) {
	stmt := &ast.Incr{
		LHS: ast.NewSymbol("A", "j"),
		RHS: &ast.Prod{
			Left:  sumOf(ast.NewSymbol("B", "i"), ast.NewSymbol("C", "i")),
			Right: sumOf(ast.NewSymbol("D", "j"), ast.NewSymbol("E", "j")),
		},
	}
	header, meta, _, _ := nestIJ(stmt)
	original := ast.CloneBlock(header)

	decls := map[string]*ast.Decl{}
	r := NewRewriter(stmt, meta, header, decls, NewTracker(), NewGraph(), NewSession())
	require.NoError(t, r.Licm(LicmOptions{}))
	require.NoError(t, r.Expand(ExpandStandard))
	require.NoError(t, r.Factorize(FactorizeStandard))

	inputs := store{}
	for i := 0; i < 3; i++ {
		inputs.set("B", indexOf(i), float64(i)+0.5)
		inputs.set("C", indexOf(i), 2*float64(i)-1)
	}
	for j := 0; j < 4; j++ {
		inputs.set("D", indexOf(j), 0.25*float64(j)+1)
		inputs.set("E", indexOf(j), -float64(j)+2)
	}
	want := run(t, original, inputs)
	got := run(t, header, inputs)
	for j := 0; j < 4; j++ {
		require.InDelta(t, want.get("A", indexOf(j)), got.get("A", indexOf(j)), 1e-12)
	}
}
