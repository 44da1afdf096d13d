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

// Package rewrite implements the expression rewriting engine: generalized
// loop-invariant code motion, expansion of products over sums, and
// factorization of common terms. Transforms mutate the target statement and
// its loop nest in place and keep the hoist tracker and dependency graph
// consistent so later rounds, and later transforms, see correct state.
package rewrite

import "github.com/ajroetker/kernelgen/ast"

// Session hands out stable integer identifiers for target statements within
// one compilation unit. Identifiers feed generated temporary names, so two
// statements never collide and repeated transforms of one statement agree on
// its id. A Session is not safe for concurrent use; each compilation unit
// gets its own.
type Session struct {
	ids  map[ast.Stmt]int
	next int
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{ids: make(map[ast.Stmt]int)}
}

// ID returns the stable identifier for stmt, assigning the next free one on
// first encounter.
func (s *Session) ID(stmt ast.Stmt) int {
	if id, ok := s.ids[stmt]; ok {
		return id
	}
	id := s.next
	s.next++
	s.ids[stmt] = id
	return id
}

// Reset forgets every assigned identifier. Call between independent
// compilation units; temporary names are only unique within one session.
func (s *Session) Reset() {
	s.ids = make(map[ast.Stmt]int)
	s.next = 0
}
