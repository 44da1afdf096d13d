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

import "github.com/ajroetker/kernelgen/ast"

// MetaExpr describes a target expression's position in its loop nest. Loops
// lists the enclosing loops outermost first; DomainLoops is the subset whose
// dimensions index the expression's output tensor. The hoister updates the
// bookkeeping when it restructures the nest; everything else treats a
// MetaExpr as read-only.
type MetaExpr struct {
	Loops       []*ast.For
	DomainLoops []*ast.For

	// Parent is the block directly containing the target statement.
	Parent *ast.Block

	// Type is the element type of generated temporaries.
	Type string
}

// Dims returns the dimensions of all enclosing loops, outermost first.
func (m *MetaExpr) Dims() []string {
	dims := make([]string, len(m.Loops))
	for i, l := range m.Loops {
		dims[i] = l.Dim
	}
	return dims
}

// Domain returns the dimensions indexing the expression's output.
func (m *MetaExpr) Domain() []string {
	dims := make([]string, len(m.DomainLoops))
	for i, l := range m.DomainLoops {
		dims[i] = l.Dim
	}
	return dims
}

// Dimensioned reports whether the expression has a non-trivial domain, which
// makes it eligible for expansion and factorization.
func (m *MetaExpr) Dimensioned() bool {
	return len(m.DomainLoops) > 0
}

// OutLoop returns the outermost enclosing loop, or nil for a bare statement.
func (m *MetaExpr) OutLoop() *ast.For {
	if len(m.Loops) == 0 {
		return nil
	}
	return m.Loops[0]
}

// LoopFromDim returns the enclosing loop realizing dim, or nil.
func (m *MetaExpr) LoopFromDim(dim string) *ast.For {
	for _, l := range m.Loops {
		if l.Dim == dim {
			return l
		}
	}
	return nil
}

// NextLoopAfter returns the loop nested directly inside dim's loop, or nil
// when dim is innermost.
func (m *MetaExpr) NextLoopAfter(dim string) *ast.For {
	for i, l := range m.Loops {
		if l.Dim == dim && i+1 < len(m.Loops) {
			return m.Loops[i+1]
		}
	}
	return nil
}

// PerfectLoops returns the enclosing loops that root a perfect nest.
func (m *MetaExpr) PerfectLoops() []*ast.For {
	var out []*ast.For
	for _, l := range m.Loops {
		if ast.IsPerfect(l) {
			out = append(out, l)
		}
	}
	return out
}

// ReplaceLoop substitutes old with new in the loop bookkeeping. Called by
// nest transforms that rebuild a loop in place.
func (m *MetaExpr) ReplaceLoop(old, new *ast.For) {
	for i, l := range m.Loops {
		if l == old {
			m.Loops[i] = new
		}
	}
	for i, l := range m.DomainLoops {
		if l == old {
			m.DomainLoops[i] = new
		}
	}
}
