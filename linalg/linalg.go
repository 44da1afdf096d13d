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

// Package linalg recognizes depth-3 loop nests computing dense matrix
// products and lowers them onto a linear algebra library call.
package linalg

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"

	"github.com/ajroetker/kernelgen/ast"
)

// Library selects the call form of the lowered matrix product.
type Library int

const (
	// MKL emits a CBLAS dgemm call.
	MKL Library = iota

	// ATLAS emits the same CBLAS call form as MKL.
	ATLAS

	// Eigen emits a mapped-matrix product expression.
	Eigen
)

// String returns the library name.
func (l Library) String() string {
	switch l {
	case MKL:
		return "mkl"
	case ATLAS:
		return "atlas"
	case Eigen:
		return "eigen"
	default:
		return fmt.Sprintf("Library(%d)", int(l))
	}
}

// Result describes a recognized and lowered matrix product
// C[M][N] += op(A)[M][K] * op(B)[K][N].
type Result struct {
	M, N, K        int
	TransA, TransB blas.Transpose
	Call           string
}

// Transform recognizes the matrix-product shape in the nest rooted at loop
// and, on a match, replaces the nest within header by the library call text,
// returning the lowering description. A nest of any other shape returns nil
// and is left untouched.
func Transform(loop *ast.For, header *ast.Block, decls map[string]*ast.Decl, lib Library) *Result {
	m := match(loop)
	if m == nil {
		return nil
	}

	r := &Result{
		M:      m.i.Size,
		N:      m.j.Size,
		K:      m.k.Size,
		TransA: m.transA,
		TransB: m.transB,
	}
	r.Call = callText(lib, r, m)

	if i := header.IndexOf(loop); i >= 0 {
		header.Stmts[i] = &ast.FlatBlock{Text: r.Call}
	}
	return r
}

// gemm is the recognized nest: loops i, j, k and the operand references.
type gemm struct {
	i, j, k        *ast.For
	a, b, c        *ast.Symbol
	transA, transB blas.Transpose
}

// match checks for a perfect depth-3 nest whose innermost statement is
// C[i][j] += A[i][k]*B[k][j], allowing the transposed layouts A[k][i] and
// B[j][k].
func match(loop *ast.For) *gemm {
	if !ast.IsPerfect(loop) || ast.NestDepth(loop) != 3 {
		return nil
	}
	i := loop
	j := soleLoop(i.Body)
	k := soleLoop(j.Body)
	if j == nil || k == nil {
		return nil
	}

	var incr *ast.Incr
	for _, s := range k.Body.Stmts {
		switch t := s.(type) {
		case *ast.Incr:
			if incr != nil {
				return nil
			}
			incr = t
		case *ast.FlatBlock, *ast.Empty:
		default:
			return nil
		}
	}
	if incr == nil {
		return nil
	}

	c := incr.LHS
	if !ranked(c, i.Dim, j.Dim) {
		return nil
	}
	prod, ok := unwrap(incr.RHS).(*ast.Prod)
	if !ok {
		return nil
	}
	a, ok := unwrap(prod.Left).(*ast.Symbol)
	if !ok {
		return nil
	}
	b, ok := unwrap(prod.Right).(*ast.Symbol)
	if !ok {
		return nil
	}

	m := &gemm{i: i, j: j, k: k, a: a, b: b, c: c}
	switch {
	case ranked(a, i.Dim, k.Dim):
		m.transA = blas.NoTrans
	case ranked(a, k.Dim, i.Dim):
		m.transA = blas.Trans
	default:
		return nil
	}
	switch {
	case ranked(b, k.Dim, j.Dim):
		m.transB = blas.NoTrans
	case ranked(b, j.Dim, k.Dim):
		m.transB = blas.Trans
	default:
		return nil
	}
	return m
}

func soleLoop(b *ast.Block) *ast.For {
	var out *ast.For
	for _, s := range b.Stmts {
		if f, ok := s.(*ast.For); ok {
			if out != nil {
				return nil
			}
			out = f
		}
	}
	return out
}

func unwrap(e ast.Expr) ast.Expr {
	for {
		p, ok := e.(*ast.Par)
		if !ok {
			return e
		}
		e = p.Inner
	}
}

// ranked reports whether s is indexed exactly by the two given dimensions, in
// order and without offsets.
func ranked(s *ast.Symbol, d0, d1 string) bool {
	if len(s.Rank) != 2 || s.Rank[0] != d0 || s.Rank[1] != d1 {
		return false
	}
	for _, o := range s.Offset {
		if o.Scale != 1 || o.Add != 0 {
			return false
		}
	}
	return true
}

func callText(lib Library, r *Result, m *gemm) string {
	if lib == Eigen {
		return fmt.Sprintf("M_%s.noalias() += M_%s%s*M_%s%s;",
			m.c.Name, m.a.Name, eigenTrans(r.TransA), m.b.Name, eigenTrans(r.TransB))
	}
	// Leading dimensions follow row-major storage of the declared arrays.
	lda := r.K
	if r.TransA == blas.Trans {
		lda = r.M
	}
	ldb := r.N
	if r.TransB == blas.Trans {
		ldb = r.K
	}
	return fmt.Sprintf(
		"cblas_dgemm(CblasRowMajor, %s, %s, %d, %d, %d, 1.0, %s, %d, %s, %d, 1.0, %s, %d);",
		cblasTrans(r.TransA), cblasTrans(r.TransB),
		r.M, r.N, r.K, m.a.Name, lda, m.b.Name, ldb, m.c.Name, r.N)
}

func cblasTrans(t blas.Transpose) string {
	if t == blas.Trans {
		return "CblasTrans"
	}
	return "CblasNoTrans"
}

func eigenTrans(t blas.Transpose) string {
	if t == blas.Trans {
		return ".transpose()"
	}
	return ""
}

// Reference executes the recognized product via blas64, accumulating into c.
// Tests use it to check a lowering against direct interpretation of the
// original nest.
func (r *Result) Reference(a, b, c blas64.General) blas64.General {
	blas64.Gemm(r.TransA, r.TransB, 1, a, b, 1, c)
	return c
}
