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
	"fmt"
	"strings"

	"github.com/ajroetker/kernelgen/ast"
)

// Expansion and factorization strategies are a closed enum rather than
// caller-supplied closures, so the strategy space stays enumerable in tests
// and an unknown mode is a recoverable warning instead of surprising
// behavior.

// ExpandMode selects the expansion strategy.
type ExpandMode int

const (
	// ExpandStandard expands along the loop dimension appearing in the most
	// distinct arrays of the expression, to make factorization effective.
	ExpandStandard ExpandMode = iota

	// ExpandFull expands aggressively over every static-constant symbol.
	ExpandFull
)

// String returns the strategy name.
func (m ExpandMode) String() string {
	switch m {
	case ExpandStandard:
		return "standard"
	case ExpandFull:
		return "full"
	default:
		return fmt.Sprintf("ExpandMode(%d)", int(m))
	}
}

// FactorizeMode selects the factorization strategy.
type FactorizeMode int

const (
	// FactorizeStandard groups on the loop dimension appearing the most in
	// the expression's arrays.
	FactorizeStandard FactorizeMode = iota

	// FactorizeImmutable groups static-constant symbols together.
	FactorizeImmutable
)

// String returns the strategy name.
func (m FactorizeMode) String() string {
	switch m {
	case FactorizeStandard:
		return "standard"
	case FactorizeImmutable:
		return "immutable"
	default:
		return fmt.Sprintf("FactorizeMode(%d)", int(m))
	}
}

// predicate returns the leaf predicate for an expansion mode, or nil for an
// unknown or inapplicable mode.
func (m ExpandMode) predicate(stmt ast.Stmt, meta *MetaExpr, decls map[string]*ast.Decl) func(*ast.Symbol) bool {
	switch m {
	case ExpandStandard:
		return dominantRankPredicate(stmt, meta)
	case ExpandFull:
		return staticConstPredicate(decls)
	default:
		return nil
	}
}

// predicate returns the leaf predicate for a factorization mode, or nil.
func (m FactorizeMode) predicate(stmt ast.Stmt, meta *MetaExpr, decls map[string]*ast.Decl) func(*ast.Symbol) bool {
	switch m {
	case FactorizeStandard:
		return dominantRankPredicate(stmt, meta)
	case FactorizeImmutable:
		return staticConstPredicate(decls)
	default:
		return nil
	}
}

// dominantRankPredicate picks the domain-filtered rank tuple occurring most
// often among the expression's array references, and matches symbols whose
// rank covers it. Returns nil when the expression references no arrays.
func dominantRankPredicate(stmt ast.Stmt, meta *MetaExpr) func(*ast.Symbol) bool {
	domain := make(map[string]bool)
	for _, d := range meta.Domain() {
		domain[d] = true
	}

	counts := make(map[string]int)
	tuples := make(map[string][]string)
	var order []string
	for _, s := range ast.Symbols(ast.RHS(stmt)) {
		if len(s.Rank) == 0 {
			continue
		}
		var filtered []string
		for _, d := range s.Rank {
			if domain[d] {
				filtered = append(filtered, d)
			}
		}
		if len(filtered) == 0 {
			continue
		}
		key := strings.Join(filtered, ",")
		if _, ok := counts[key]; !ok {
			order = append(order, key)
			tuples[key] = filtered
		}
		counts[key]++
	}
	if len(order) == 0 {
		return nil
	}

	best := order[0]
	for _, key := range order[1:] {
		if counts[key] > counts[best] {
			best = key
		}
	}
	dimension := tuples[best]

	return func(s *ast.Symbol) bool {
		rank := make(map[string]bool, len(s.Rank))
		for _, d := range s.Rank {
			rank[d] = true
		}
		for _, d := range dimension {
			if !rank[d] {
				return false
			}
		}
		return true
	}
}

// staticConstPredicate matches symbols declared static const.
func staticConstPredicate(decls map[string]*ast.Decl) func(*ast.Symbol) bool {
	return func(s *ast.Symbol) bool {
		d, ok := decls[s.Name]
		return ok && d.StaticConst
	}
}
