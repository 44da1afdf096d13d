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

// Graph tracks which expressions produced which temporaries. Before a
// transform rewrites a temporary's definition in place, it asks the graph
// whether another live binding would be corrupted: the temporary is either
// referenced more than once at its use sites, or some other temporary was
// derived from it.
type Graph struct {
	// producers maps a consumer symbol name to the names of the symbols its
	// defining expression reads.
	producers map[string]map[string]bool

	// multi marks consumers whose value is referenced more than once.
	multi map[string]bool

	// consumedBy counts, per symbol name, how many other definitions read it.
	consumedBy map[string]int
}

// NewGraph returns an empty dependency graph.
func NewGraph() *Graph {
	return &Graph{
		producers:  make(map[string]map[string]bool),
		multi:      make(map[string]bool),
		consumedBy: make(map[string]int),
	}
}

// AddDependency records that consumer was derived from producer. multi marks
// the consumer as referenced more than once at its use sites.
func (g *Graph) AddDependency(consumer *ast.Symbol, producer ast.Expr, multi bool) {
	name := consumer.Name
	set := g.producers[name]
	if set == nil {
		set = make(map[string]bool)
		g.producers[name] = set
	}
	for _, s := range ast.Symbols(producer) {
		if s.Name == name || set[s.Name] {
			continue
		}
		set[s.Name] = true
		g.consumedBy[s.Name]++
	}
	if multi {
		g.multi[name] = true
	}
}

// HasDep reports whether rewriting the definition of name in place would
// break another live binding: name is multiply referenced, or another
// definition was derived from it.
func (g *Graph) HasDep(name string) bool {
	return g.multi[name] || g.consumedBy[name] > 0
}

// Reset drops all recorded dependencies.
func (g *Graph) Reset() {
	g.producers = make(map[string]map[string]bool)
	g.multi = make(map[string]bool)
	g.consumedBy = make(map[string]int)
}
