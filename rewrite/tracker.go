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

// HoistRecord describes one hoisted temporary: where its value is computed
// and where later transforms may graft onto it.
type HoistRecord struct {
	// Expr is the defining expression, always parenthesized. The expander
	// rewrites Expr.Inner in place when it folds a factor into the
	// definition.
	Expr *ast.Par

	// Decl is the temporary's declaration.
	Decl *ast.Decl

	// Def is the defining assignment statement.
	Def ast.Stmt

	// Loop is the wrapping loop evaluating the definition, nil for scalar
	// placements.
	Loop *ast.For

	// Place is the block the declaration (and loop, if any) were inserted
	// into.
	Place *ast.Block

	// Sym is a reference symbol carrying the temporary's name and rank.
	Sym *ast.Symbol

	// pristine holds a copy of the original defining expression, taken just
	// before the first in-place fold. Later forks derive from it so they do
	// not compound factors already absorbed by the definition.
	pristine ast.Expr
}

// Tracker is an insertion-ordered map from a hoisted temporary's name to its
// record. Records are updated in place as later rounds re-express or relocate
// a temporary, and are never deleted within a session.
type Tracker struct {
	order []string
	recs  map[string]*HoistRecord
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{recs: make(map[string]*HoistRecord)}
}

// Add registers a record under name. Re-adding an existing name replaces the
// record in place, keeping its original position.
func (t *Tracker) Add(name string, r *HoistRecord) {
	if _, ok := t.recs[name]; !ok {
		t.order = append(t.order, name)
	}
	t.recs[name] = r
}

// Lookup returns the record for name.
func (t *Tracker) Lookup(name string) (*HoistRecord, bool) {
	r, ok := t.recs[name]
	return r, ok
}

// UpdatePlacement records where a temporary's definition ended up.
func (t *Tracker) UpdatePlacement(name string, loop *ast.For, place *ast.Block) {
	if r, ok := t.recs[name]; ok {
		r.Loop = loop
		r.Place = place
	}
}

// Names returns the tracked names in insertion order.
func (t *Tracker) Names() []string {
	return t.order
}

// Len returns the number of tracked temporaries.
func (t *Tracker) Len() int {
	return len(t.order)
}

// FindByExpr returns, in insertion order, the first record whose defining
// expression renders as render and whose reference symbol has the given rank.
// Used for temporary compaction: a new extraction matching an existing
// definition reuses it instead of minting a fresh temporary.
func (t *Tracker) FindByExpr(render string, rank []string) (string, *HoistRecord, bool) {
	for _, name := range t.order {
		r := t.recs[name]
		if r.Expr == nil || r.Expr.String() != render {
			continue
		}
		if !sameDims(r.Sym.Rank, rank) {
			continue
		}
		return name, r, true
	}
	return "", nil, false
}

func sameDims(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
