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
	"sort"
	"strings"

	"github.com/ajroetker/kernelgen/ast"
)

// LicmOptions tunes one loop-invariant code motion pass.
type LicmOptions struct {
	// NRankTemps allows a single n-dimensional temporary for a subtree
	// crossing n loops, instead of extracting each side separately.
	NRankTemps bool

	// OuterOnly restricts extraction to subtrees invariant in everything but
	// the outermost expression dimension (or invariant outright).
	OuterOnly bool

	// MergeAndSimplify merges extractions destined for the same placement
	// point into a single wrapping loop.
	MergeAndSimplify bool

	// CompactTemps reuses an existing temporary whose definition and rank
	// match a new extraction, instead of minting a fresh one.
	CompactTemps bool
}

// hoistClass classifies a subtree during extraction.
type hoistClass int

const (
	// classInvariant marks a subtree with a known (possibly empty) dimension
	// dependency and no hoisting opportunity inside it.
	classInvariant hoistClass = iota

	// classSearch marks a candidate boundary: an invariant subtree combined
	// with something that is not, where combining further may still yield a
	// hoistable tree.
	classSearch

	// classHoisted marks a subtree already decided; it is excluded from
	// further combination.
	classHoisted
)

// Hoister implements generalized loop-invariant code motion for a single
// assignment or increment statement. Invariant subtrees are relocated to the
// shallowest loop level that is still correct, minimizing recomputation and
// temporary storage. Repeated Licm calls on the same Hoister continue the
// round numbering, keeping temporary names unique.
type Hoister struct {
	stmt    ast.Stmt
	meta    *MetaExpr
	header  *ast.Block
	decls   map[string]*ast.Decl
	hoisted *Tracker
	graph   *Graph

	exprID int
	round  int

	// Per-pass state.
	symbols   map[string][]string
	extracted bool
	opts      LicmOptions
}

// NewHoister builds a hoister for one target statement.
func NewHoister(stmt ast.Stmt, meta *MetaExpr, header *ast.Block, decls map[string]*ast.Decl,
	hoisted *Tracker, graph *Graph, session *Session) *Hoister {
	return &Hoister{
		stmt:    stmt,
		meta:    meta,
		header:  header,
		decls:   decls,
		hoisted: hoisted,
		graph:   graph,
		exprID:  session.ID(stmt),
	}
}

// extraction is one bucket of subtrees sharing a dependency tuple.
type extraction struct {
	dims  []string
	exprs []ast.Expr
}

// extractions accumulates buckets in deterministic first-seen order.
type extractions struct {
	keys    []string
	buckets map[string]*extraction
}

func newExtractions() *extractions {
	return &extractions{buckets: make(map[string]*extraction)}
}

func (x *extractions) add(dims []string, e ast.Expr) {
	key := strings.Join(dims, ",")
	b, ok := x.buckets[key]
	if !ok {
		b = &extraction{dims: dims}
		x.buckets[key] = b
		x.keys = append(x.keys, key)
	}
	b.exprs = append(b.exprs, e)
}

// symbolDeps returns the loop dimensions a symbol reference varies over,
// preferring dependencies recorded for temporaries over the raw rank.
func (h *Hoister) symbolDeps(s *ast.Symbol) []string {
	if dep, ok := h.symbols[s.Name]; ok {
		return dep
	}
	return s.Rank
}

// filterDims drops dimensions that do not pertain to the expression's nest.
func (h *Hoister) filterDims(dep []string) []string {
	dims := h.meta.Dims()
	var out []string
	for _, d := range dep {
		for _, e := range dims {
			if d == e {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

func unionDims(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, d := range b {
		found := false
		for _, e := range out {
			if d == e {
				found = true
				break
			}
		}
		if !found {
			out = append(out, d)
		}
	}
	return out
}

// hoistCandidate queues a subtree for extraction. Bare leaves are never
// worth a temporary, and outer-only mode rejects anything not invariant in
// exactly the outermost dimension (or everything).
func (h *Hoister) hoistCandidate(e ast.Expr, dep []string, out *extractions) {
	extract := true
	switch e.(type) {
	case *ast.Symbol, *ast.Literal:
		extract = false
	}
	if extract && h.opts.OuterOnly && len(dep) > 0 {
		dims := h.meta.Dims()
		if len(dims) > 0 && !(len(dep) == 1 && dep[0] == dims[0]) {
			extract = false
		}
	}
	if extract {
		out.add(dep, e)
		h.extracted = true
	}
}

// extract classifies node bottom-up and queues maximal invariant subtrees.
// It returns the subtree's dependency tuple and classification.
func (h *Hoister) extract(node ast.Expr, out *extractions) ([]string, hoistClass, error) {
	switch t := node.(type) {
	case *ast.Symbol:
		return h.symbolDeps(t), classInvariant, nil

	case *ast.Literal:
		return nil, classInvariant, nil

	case *ast.Par:
		return h.extract(t.Inner, out)

	case *ast.Neg:
		return h.extract(t.X, out)

	case *ast.FunCall:
		var dep []string
		invariant := true
		type argInfo struct {
			arg  ast.Expr
			dep  []string
			info hoistClass
		}
		args := make([]argInfo, 0, len(t.Args))
		for _, a := range t.Args {
			d, info, err := h.extract(a, out)
			if err != nil {
				return nil, 0, err
			}
			dep = unionDims(dep, d)
			if info != classInvariant {
				invariant = false
			}
			args = append(args, argInfo{a, d, info})
		}
		if invariant {
			return dep, classInvariant, nil
		}
		// Extract the still-invariant arguments individually; the call
		// itself cannot move.
		for _, a := range args {
			if a.info == classInvariant {
				h.hoistCandidate(a.arg, h.filterDims(a.dep), out)
			}
		}
		return nil, classHoisted, nil

	case *ast.Sum:
		return h.extractBinary(t.Left, t.Right, out)
	case *ast.Sub:
		return h.extractBinary(t.Left, t.Right, out)
	case *ast.Prod:
		return h.extractBinaryWide(node, t.Left, t.Right, out)
	case *ast.Div:
		return h.extractBinaryWide(node, t.Left, t.Right, out)
	}
	return nil, 0, fmt.Errorf("licm: unexpected node %T", node)
}

// extractBinary handles additive nodes; a spanning multi-dimension temporary
// is never profitable for a bare sum, so the node itself is not a candidate.
func (h *Hoister) extractBinary(left, right ast.Expr, out *extractions) ([]string, hoistClass, error) {
	return h.combine(nil, left, right, out)
}

// extractBinaryWide handles multiplicative nodes, where a subtree spanning
// two disjoint dimensions may be extracted whole if NRankTemps is enabled.
func (h *Hoister) extractBinaryWide(node, left, right ast.Expr, out *extractions) ([]string, hoistClass, error) {
	return h.combine(node, left, right, out)
}

func (h *Hoister) combine(node, left, right ast.Expr, out *extractions) ([]string, hoistClass, error) {
	depL, infoL, err := h.extract(left, out)
	if err != nil {
		return nil, 0, err
	}
	depR, infoR, err := h.extract(right, out)
	if err != nil {
		return nil, 0, err
	}

	depL = h.filterDims(depL)
	depR = h.filterDims(depR)
	depN := unionDims(depL, depR)

	switch {
	case infoL == classSearch && infoR == classSearch:
		if !sameDims(depL, depR) {
			// E.g. (A[i]*alpha + D[i])*(B[j]*beta + C[j])
			h.hoistCandidate(left, depL, out)
			h.hoistCandidate(right, depR, out)
			return nil, classHoisted, nil
		}
		// E.g. (A[i]*alpha) + (B[i]*beta)
		return depL, classSearch, nil

	case infoL == classSearch && infoR == classInvariant,
		infoL == classInvariant && infoR == classSearch:
		// E.g. (A[i] + B[i])*C[j], A[i]*(B[j] + C[j])
		h.hoistCandidate(left, depL, out)
		h.hoistCandidate(right, depR, out)
		return nil, classHoisted, nil

	case infoL == classInvariant && infoR == classInvariant:
		switch {
		case sameDims(depL, depR):
			// E.g. alpha*beta, A[i] + B[i]
			return depL, classInvariant, nil
		case len(depL) > 0 && len(depR) == 0:
			// E.g. A[i]*alpha
			h.hoistCandidate(right, depR, out)
			return depL, classSearch, nil
		case len(depR) > 0 && len(depL) == 0:
			// E.g. alpha*A[i]
			h.hoistCandidate(left, depL, out)
			return depR, classSearch, nil
		case subsetDims(depL, depR):
			// E.g. A[i]*B[i,j]
			return depR, classSearch, nil
		case subsetDims(depR, depL):
			// E.g. A[i,j]*B[i]
			return depL, classSearch, nil
		default:
			// E.g. A[i]*B[j]
			if h.opts.NRankTemps && node != nil {
				h.hoistCandidate(node, depN, out)
			} else {
				h.hoistCandidate(left, depL, out)
				h.hoistCandidate(right, depR, out)
			}
			return nil, classHoisted, nil
		}

	default:
		// At least one side is already hoisted; rescue the other.
		if infoR == classInvariant || infoR == classSearch {
			h.hoistCandidate(right, depR, out)
		} else if infoL == classInvariant || infoL == classSearch {
			h.hoistCandidate(left, depL, out)
		}
		return nil, classHoisted, nil
	}
}

func subsetDims(a, b []string) bool {
	for _, d := range a {
		found := false
		for _, e := range b {
			if d == e {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// placement describes where one group of extractions is realized.
type placement struct {
	wrapDims []string
	wrap     []*ast.For
	place    *ast.Block
	marker   ast.Stmt // insertion point: new code goes immediately before it
	decls    []ast.Stmt
	assigns  []ast.Stmt
	names    []string
	seq      int
}

// placeFor decides the shallowest legal realization point for a dependency
// tuple: scalar or vector temporary, before the nest or within the loop
// realizing the first dependency dimension.
func (h *Hoister) placeFor(dep []string) (place *ast.Block, wrap []*ast.For, marker ast.Stmt) {
	dims := h.meta.Dims()
	switch {
	case len(dep) == 0:
		// Scalar, outside the loop nest.
		return h.header, nil, h.meta.OutLoop()

	case len(dep) == 1 && h.meta.OutLoop() != nil && ast.IsPerfect(h.meta.OutLoop()):
		// Vector, outside the loop nest.
		return h.header, []*ast.For{h.meta.LoopFromDim(dep[0])}, h.meta.OutLoop()

	case len(dep) == 1 && len(dims) > 1:
		// Scalar, at the top of the loop imposing the dependency.
		body := h.meta.LoopFromDim(dep[0]).Body
		if next := h.meta.NextLoopAfter(dep[0]); next != nil {
			return body, nil, next
		}
		return body, nil, lastStmt(body)

	case len(dep) == 1:
		// Scalar, at the bottom of the loop imposing the dependency.
		body := h.meta.LoopFromDim(dep[0]).Body
		return body, nil, lastStmt(body)

	default:
		// Vector, within the outermost loop imposing the dependency,
		// wrapped in loops for the remaining dimensions.
		body := h.meta.LoopFromDim(dep[0]).Body
		wrap = make([]*ast.For, 0, len(dep)-1)
		for _, d := range dep[1:] {
			wrap = append(wrap, h.meta.LoopFromDim(d))
		}
		if next := h.meta.NextLoopAfter(dep[0]); next != nil {
			return body, wrap, next
		}
		return body, wrap, lastStmt(body)
	}
}

func lastStmt(b *ast.Block) ast.Stmt {
	if len(b.Stmts) == 0 {
		return nil
	}
	return b.Stmts[len(b.Stmts)-1]
}

func depTag(dep []string) string {
	if len(dep) == 0 {
		return "CONST"
	}
	return strings.ToUpper(strings.Join(dep, "_"))
}

// parWrap returns e parenthesized, reusing an existing outer Par instead of
// stacking a second one.
func parWrap(e ast.Expr) *ast.Par {
	if p, ok := e.(*ast.Par); ok {
		return p
	}
	return &ast.Par{Inner: e}
}

// Licm performs generalized loop-invariant code motion on the target
// statement, iterating classify-and-extract to a fixpoint. All loops in the
// nest except the outermost must be perfect; otherwise the call is a no-op.
func (h *Hoister) Licm(opts LicmOptions) error {
	for _, l := range h.meta.Loops[min(1, len(h.meta.Loops)):] {
		if !ast.IsPerfect(l) {
			debugf("loop nest unsuitable for generalized licm, skipping")
			return nil
		}
	}

	h.symbols = ast.SymbolDeps(h.header)
	h.opts = opts
	h.extracted = false

	var placements []*placement
	findPlacement := func(wrapDims []string, place *ast.Block, marker ast.Stmt) *placement {
		if opts.MergeAndSimplify {
			for _, p := range placements {
				if p.place == place && p.marker == marker && sameDims(p.wrapDims, wrapDims) {
					return p
				}
			}
		}
		p := &placement{wrapDims: wrapDims, place: place, marker: marker, seq: len(placements)}
		placements = append(placements, p)
		return p
	}

	for {
		out := newExtractions()
		dep, info, err := h.extract(ast.RHS(h.stmt), out)
		if err != nil {
			return err
		}
		// A root that is itself invariant in some inner dimension never hits
		// a binary extraction rule; once nothing else is left to extract,
		// offer the whole expression.
		if !h.extracted && (info == classInvariant || info == classSearch) {
			dep = h.filterDims(dep)
			if len(dep) < len(h.meta.Dims()) {
				h.hoistCandidate(ast.RHS(h.stmt), dep, out)
			}
		}
		if !h.extracted {
			break
		}
		h.extracted = false
		h.round++

		repl := make(map[string]ast.Expr)
		counts := make(map[string]int)
		type pending struct {
			sym *ast.Symbol
			sub ast.Expr
			dep []string
		}
		var news []pending

		for _, key := range out.keys {
			bucket := out.buckets[key]
			dep := bucket.dims

			// Collapse syntactically identical extractions.
			var uniq []ast.Expr
			seen := make(map[string]bool)
			for _, e := range bucket.exprs {
				r := e.String()
				if !seen[r] {
					seen[r] = true
					uniq = append(uniq, e)
				}
			}

			place, wrap, marker := h.placeFor(dep)
			wrapDims := make([]string, len(wrap))
			wrapSizes := make([]int, len(wrap))
			for i, l := range wrap {
				wrapDims[i] = l.Dim
				wrapSizes[i] = l.Size
			}

			var group *placement
			idx := 0
			for _, sub := range uniq {
				def := parWrap(ast.CloneExpr(sub))

				if opts.CompactTemps {
					if name, rec, ok := h.hoisted.FindByExpr(def.String(), wrapDims); ok {
						repl[sub.String()] = rec.Sym
						h.symbols[name] = dep
						continue
					}
				}

				name := fmt.Sprintf("%s_%d_%d_%d", depTag(dep), h.exprID, h.round, idx)
				idx++
				sym := &ast.Symbol{Name: name, Rank: append([]string(nil), wrapDims...)}
				decl := &ast.Decl{
					Type:  h.meta.Type,
					Name:  name,
					Sizes: append([]int(nil), wrapSizes...),
					Scope: ast.ScopeLocal,
				}
				assign := &ast.Assign{LHS: ast.CloneSymbol(sym), RHS: def}

				h.decls[name] = decl
				repl[sub.String()] = sym
				h.hoisted.Add(name, &HoistRecord{Expr: def, Decl: decl, Def: assign, Sym: sym})
				h.symbols[name] = dep
				news = append(news, pending{sym: sym, sub: sub, dep: dep})

				if group == nil {
					group = findPlacement(wrapDims, place, marker)
					if len(group.wrap) == 0 {
						group.wrap = wrap
					}
				}
				group.decls = append(group.decls, decl)
				group.assigns = append(group.assigns, assign)
				group.names = append(group.names, name)
			}
		}

		ast.SetRHS(h.stmt, ast.Replace(ast.RHS(h.stmt), repl, counts))
		for _, p := range news {
			h.graph.AddDependency(p.sym, p.sub, counts[p.sym.String()] > 1)
		}
	}

	// Materialize, sorted by placement key for deterministic layout.
	sort.SliceStable(placements, func(i, j int) bool {
		ki := strings.Join(placements[i].wrapDims, ",")
		kj := strings.Join(placements[j].wrapDims, ",")
		if ki != kj {
			return ki < kj
		}
		return placements[i].seq < placements[j].seq
	})
	for _, p := range placements {
		code := append([]ast.Stmt(nil), p.decls...)
		var recLoop *ast.For
		if len(p.wrap) > 0 {
			inner := p.assigns
			for i := len(p.wrap) - 1; i >= 0; i-- {
				recLoop = ast.MakeFor(inner, p.wrap[i])
				inner = []ast.Stmt{recLoop}
			}
			code = append(code, recLoop)
		} else {
			code = append(code, p.assigns...)
		}
		code = append(code, &ast.FlatBlock{Text: "\n"})
		p.place.InsertBefore(p.marker, code...)
		for _, name := range p.names {
			h.hoisted.UpdatePlacement(name, recLoop, p.place)
		}
	}
	return nil
}
