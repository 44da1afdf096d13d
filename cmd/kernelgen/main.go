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

// kernelgen runs the optimization pipeline over a built-in demo kernel and
// prints the kernel before and after, for inspecting what each pass does.
//
// Usage:
//
//	kernelgen [-level n] [-unroll n] [-split n] [-permute] [-blas lib] [-extract]
//
// The optimization level defaults to KERNELGEN_LEVEL (or 2). Set
// KERNELGEN_DEBUG for per-pass diagnostics.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/xyproto/env/v2"

	"github.com/ajroetker/kernelgen/ast"
	"github.com/ajroetker/kernelgen/linalg"
	"github.com/ajroetker/kernelgen/optimize"
	"github.com/ajroetker/kernelgen/rewrite"
)

var (
	flagLevel   = flag.Int("level", env.Int("KERNELGEN_LEVEL", 2), "expression rewriting level (0-2)")
	flagUnroll  = flag.Int("unroll", 0, "unroll the first domain dimension by this factor (0 = off)")
	flagSplit   = flag.Int("split", 0, "split expressions into chunks of this many addends (0 = off)")
	flagPermute = flag.Bool("permute", false, "permute the outermost and innermost loops")
	flagBlas    = flag.String("blas", "", "lower a depth-3 product nest to this library (mkl, atlas, eigen)")
	flagExtract = flag.Bool("extract", false, "extract data-parallel loops marked with the itspace pragma")
	flagGemm    = flag.Bool("gemm", false, "use the plain matrix-product demo kernel instead of the assembly kernel")
)

func main() {
	flag.Parse()

	header, loop, decls, exprs := demoKernel(*flagGemm, *flagExtract)

	fmt.Println("// input")
	fmt.Println(header.String())

	o := optimize.New(loop, header, decls, exprs)
	if err := o.Rewrite(*flagLevel); err != nil {
		fmt.Fprintf(os.Stderr, "kernelgen: %v\n", err)
		os.Exit(1)
	}
	if *flagUnroll > 1 && len(exprs) > 0 {
		dims := exprs[0].Meta.Domain()
		if len(dims) > 0 {
			if err := o.Unroll(map[string]int{dims[0]: *flagUnroll}); err != nil {
				fmt.Fprintf(os.Stderr, "kernelgen: %v\n", err)
				os.Exit(1)
			}
		}
	}
	if *flagSplit > 0 {
		if err := o.Split(*flagSplit); err != nil {
			fmt.Fprintf(os.Stderr, "kernelgen: %v\n", err)
			os.Exit(1)
		}
	}
	if *flagPermute {
		if err := o.Permute(true); err != nil {
			fmt.Fprintf(os.Stderr, "kernelgen: %v\n", err)
			os.Exit(1)
		}
	}
	if *flagBlas != "" {
		lib, ok := parseLibrary(*flagBlas)
		if !ok {
			fmt.Fprintf(os.Stderr, "kernelgen: unknown blas library %q\n", *flagBlas)
			os.Exit(2)
		}
		if r := o.Blas(lib); r != nil {
			fmt.Printf("// lowered %dx%dx%d product\n", r.M, r.N, r.K)
		}
	}
	if *flagExtract {
		dims, syms := o.Extract()
		if len(dims) > 0 {
			fmt.Printf("// extracted dimensions %v over %d references\n", dims, len(syms))
		}
	}

	fmt.Println("// output")
	fmt.Println(header.String())
}

func parseLibrary(s string) (linalg.Library, bool) {
	switch s {
	case "mkl":
		return linalg.MKL, true
	case "atlas":
		return linalg.ATLAS, true
	case "eigen":
		return linalg.Eigen, true
	}
	return 0, false
}

// demoKernel builds the kernel the pipeline runs over. The default is a small
// element-assembly kernel: a reduction over quadrature points i of a rank-2
// outer product in test/trial functions j, k, scaled by a per-point weight.
// With gemm set it is a plain matrix product instead.
func demoKernel(gemm, markParallel bool) (*ast.Block, *ast.For, map[string]*ast.Decl, []optimize.TargetExpr) {
	if gemm {
		return gemmKernel()
	}

	stmt := &ast.Incr{
		LHS: ast.NewSymbol("A", "j", "k"),
		RHS: &ast.Prod{
			Left: &ast.Prod{
				Left:  ast.NewSymbol("B", "i", "j"),
				Right: ast.NewSymbol("C", "i", "k"),
			},
			Right: &ast.Par{Inner: &ast.Sum{
				Left:  ast.NewSymbol("f"),
				Right: ast.NewSymbol("det"),
			}},
		},
	}
	kLoop := &ast.For{Dim: "k", Size: 3, Body: &ast.Block{Stmts: []ast.Stmt{stmt}}}
	jLoop := &ast.For{Dim: "j", Size: 3, Body: &ast.Block{Stmts: []ast.Stmt{kLoop}}}
	fDecl := &ast.Decl{Type: "double", Name: "f", Scope: ast.ScopeLocal}
	fInit := &ast.Assign{
		LHS: ast.NewSymbol("f"),
		RHS: &ast.Prod{Left: ast.NewSymbol("W", "i"), Right: ast.NewSymbol("det")},
	}
	iLoop := &ast.For{Dim: "i", Size: 4, Body: &ast.Block{Stmts: []ast.Stmt{fDecl, fInit, jLoop}}}
	if markParallel {
		jLoop.Pragmas = []string{optimize.ItSpacePragma}
	}

	decls := map[string]*ast.Decl{
		"A":   {Type: "double", Name: "A", Sizes: []int{3, 3}, Scope: ast.ScopeExternal},
		"B":   {Type: "double", Name: "B", Sizes: []int{4, 3}, Scope: ast.ScopeExternal, StaticConst: true},
		"C":   {Type: "double", Name: "C", Sizes: []int{4, 3}, Scope: ast.ScopeExternal, StaticConst: true},
		"W":   {Type: "double", Name: "W", Sizes: []int{4}, Scope: ast.ScopeExternal},
		"det": {Type: "double", Name: "det", Scope: ast.ScopeExternal},
		"f":   fDecl,
	}
	header := &ast.Block{Stmts: []ast.Stmt{iLoop}}
	meta := &rewrite.MetaExpr{
		Loops:       []*ast.For{iLoop, jLoop, kLoop},
		DomainLoops: []*ast.For{jLoop, kLoop},
		Parent:      kLoop.Body,
		Type:        "double",
	}
	return header, iLoop, decls, []optimize.TargetExpr{{Stmt: stmt, Meta: meta}}
}

func gemmKernel() (*ast.Block, *ast.For, map[string]*ast.Decl, []optimize.TargetExpr) {
	stmt := &ast.Incr{
		LHS: ast.NewSymbol("C", "i", "j"),
		RHS: &ast.Prod{
			Left:  ast.NewSymbol("A", "i", "k"),
			Right: ast.NewSymbol("B", "k", "j"),
		},
	}
	kLoop := &ast.For{Dim: "k", Size: 8, Body: &ast.Block{Stmts: []ast.Stmt{stmt}}}
	jLoop := &ast.For{Dim: "j", Size: 6, Body: &ast.Block{Stmts: []ast.Stmt{kLoop}}}
	iLoop := &ast.For{Dim: "i", Size: 4, Body: &ast.Block{Stmts: []ast.Stmt{jLoop}}}

	decls := map[string]*ast.Decl{
		"A": {Type: "double", Name: "A", Sizes: []int{4, 8}, Scope: ast.ScopeExternal},
		"B": {Type: "double", Name: "B", Sizes: []int{8, 6}, Scope: ast.ScopeExternal},
		"C": {Type: "double", Name: "C", Sizes: []int{4, 6}, Scope: ast.ScopeExternal},
	}
	header := &ast.Block{Stmts: []ast.Stmt{iLoop}}
	meta := &rewrite.MetaExpr{
		Loops:       []*ast.For{iLoop, jLoop, kLoop},
		DomainLoops: []*ast.For{iLoop, jLoop},
		Parent:      kLoop.Body,
		Type:        "double",
	}
	return header, iLoop, decls, []optimize.TargetExpr{{Stmt: stmt, Meta: meta}}
}
