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
	"strconv"
	"strings"
	"testing"

	"github.com/ajroetker/kernelgen/ast"
)

// store is a tiny interpreter state: symbol name to cell values, keyed by the
// comma-joined concrete indices ("" for scalars). Equivalence tests run the
// original and the transformed kernel over the same inputs and compare
// outputs.
type store map[string]map[string]float64

func (st store) set(name, key string, v float64) {
	cells := st[name]
	if cells == nil {
		cells = make(map[string]float64)
		st[name] = cells
	}
	cells[key] = v
}

func (st store) get(name, key string) float64 {
	return st[name][key]
}

func (st store) clone() store {
	out := make(store, len(st))
	for name, cells := range st {
		c := make(map[string]float64, len(cells))
		for k, v := range cells {
			c[k] = v
		}
		out[name] = c
	}
	return out
}

func indexKey(t *testing.T, s *ast.Symbol, env map[string]int) string {
	t.Helper()
	if len(s.Rank) == 0 {
		return ""
	}
	parts := make([]string, len(s.Rank))
	for i, d := range s.Rank {
		idx, ok := env[d]
		if !ok {
			t.Fatalf("reference %s indexed by %q outside its loop", s, d)
		}
		if i < len(s.Offset) {
			o := s.Offset[i]
			if o.Scale == 0 {
				idx = o.Add
			} else {
				idx = o.Scale*idx + o.Add
			}
		}
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, ",")
}

func evalExpr(t *testing.T, e ast.Expr, env map[string]int, st store) float64 {
	t.Helper()
	switch x := e.(type) {
	case *ast.Symbol:
		return st.get(x.Name, indexKey(t, x, env))
	case *ast.Literal:
		return x.Value
	case *ast.Par:
		return evalExpr(t, x.Inner, env, st)
	case *ast.Neg:
		return -evalExpr(t, x.X, env, st)
	case *ast.Sum:
		return evalExpr(t, x.Left, env, st) + evalExpr(t, x.Right, env, st)
	case *ast.Sub:
		return evalExpr(t, x.Left, env, st) - evalExpr(t, x.Right, env, st)
	case *ast.Prod:
		return evalExpr(t, x.Left, env, st) * evalExpr(t, x.Right, env, st)
	case *ast.Div:
		return evalExpr(t, x.Left, env, st) / evalExpr(t, x.Right, env, st)
	}
	t.Fatalf("eval: unexpected node %T", e)
	return 0
}

func evalStmt(t *testing.T, s ast.Stmt, env map[string]int, st store) {
	t.Helper()
	switch x := s.(type) {
	case *ast.Assign:
		st.set(x.LHS.Name, indexKey(t, x.LHS, env), evalExpr(t, x.RHS, env, st))
	case *ast.Incr:
		key := indexKey(t, x.LHS, env)
		st.set(x.LHS.Name, key, st.get(x.LHS.Name, key)+evalExpr(t, x.RHS, env, st))
	case *ast.Decl:
		if x.Init != nil {
			st.set(x.Name, "", evalExpr(t, x.Init, env, st))
		}
	case *ast.For:
		for v := 0; v < x.Size; v++ {
			env[x.Dim] = v
			evalBlock(t, x.Body, env, st)
		}
		delete(env, x.Dim)
	case *ast.Block:
		evalBlock(t, x, env, st)
	case *ast.FlatBlock, *ast.Empty:
	default:
		t.Fatalf("eval: unexpected statement %T", s)
	}
}

func evalBlock(t *testing.T, b *ast.Block, env map[string]int, st store) {
	t.Helper()
	for _, s := range b.Stmts {
		evalStmt(t, s, env, st)
	}
}

// run executes a whole kernel over a copy of the inputs and returns the final
// state.
func run(t *testing.T, header *ast.Block, inputs store) store {
	t.Helper()
	st := inputs.clone()
	evalBlock(t, header, map[string]int{}, st)
	return st
}
