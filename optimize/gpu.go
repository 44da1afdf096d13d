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

import "github.com/ajroetker/kernelgen/ast"

// ItSpacePragma marks a loop as fully data-parallel, eligible for extraction
// into an explicit parallel index space. Compared by exact string match; the
// text is an interop surface with whatever marks loops upstream and must not
// change.
const ItSpacePragma = "#pragma kernelgen itspace"

// Extract removes every loop carrying ItSpacePragma, splicing its body into
// the parent in its place, and returns the removed dimensions together with
// every symbol still referencing one of them. The caller re-materializes the
// removed dimensions as a parallel iteration space.
func (o *LoopOptimizer) Extract() ([]string, []*ast.Symbol) {
	var dims []string
	for {
		spliced := false
		for _, lp := range ast.NestLoops(o.header) {
			if !lp.Loop.Pragma(ItSpacePragma) {
				continue
			}
			i := lp.Parent.IndexOf(lp.Loop)
			rest := append([]ast.Stmt(nil), lp.Parent.Stmts[i+1:]...)
			lp.Parent.Stmts = append(append(lp.Parent.Stmts[:i:i], lp.Loop.Body.Stmts...), rest...)
			dims = append(dims, lp.Loop.Dim)
			spliced = true
			break
		}
		if !spliced {
			break
		}
	}
	if len(dims) == 0 {
		return nil, nil
	}

	removed := make(map[string]bool, len(dims))
	for _, d := range dims {
		removed[d] = true
	}
	var syms []*ast.Symbol
	for _, s := range ast.Symbols(o.header) {
		for _, d := range s.Rank {
			if removed[d] {
				syms = append(syms, s)
				break
			}
		}
	}
	return dims, syms
}
