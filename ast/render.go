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

package ast

import (
	"fmt"
	"strconv"
	"strings"
)

// The rendered form is load-bearing: it is the canonical key used to
// deduplicate extracted subexpressions and to drive rewrite maps, so it must
// be deterministic and injective up to structural equality.

const (
	precAdd  = 1
	precMul  = 2
	precUnit = 3
)

func precedence(e Expr) int {
	switch e.(type) {
	case *Sum, *Sub:
		return precAdd
	case *Prod, *Div:
		return precMul
	default:
		return precUnit
	}
}

// renderChild renders a subexpression, parenthesizing when its precedence is
// too low for the surrounding operator. Right operands of - and / bind one
// level tighter.
func renderChild(e Expr, min int) string {
	if precedence(e) < min {
		return "(" + e.String() + ")"
	}
	return e.String()
}

func (s *Symbol) String() string {
	if len(s.Rank) == 0 {
		return s.Name
	}
	var sb strings.Builder
	sb.WriteString(s.Name)
	for i, r := range s.Rank {
		sb.WriteByte('[')
		if i < len(s.Offset) {
			sb.WriteString(s.Offset[i].render(r))
		} else {
			sb.WriteString(r)
		}
		sb.WriteByte(']')
	}
	return sb.String()
}

func (o Offset) render(dim string) string {
	idx := dim
	switch o.Scale {
	case 0:
		return strconv.Itoa(o.Add)
	case 1:
	default:
		idx = fmt.Sprintf("%d*%s", o.Scale, dim)
	}
	if o.Add == 0 {
		return idx
	}
	if o.Add < 0 {
		return fmt.Sprintf("%s - %d", idx, -o.Add)
	}
	return fmt.Sprintf("%s + %d", idx, o.Add)
}

func (l *Literal) String() string {
	return strconv.FormatFloat(l.Value, 'g', -1, 64)
}

func (p *Par) String() string {
	return "(" + p.Inner.String() + ")"
}

func (n *Neg) String() string {
	return "-" + renderChild(n.X, precUnit)
}

func (s *Sum) String() string {
	return renderChild(s.Left, precAdd) + " + " + renderChild(s.Right, precAdd)
}

func (s *Sub) String() string {
	return renderChild(s.Left, precAdd) + " - " + renderChild(s.Right, precAdd+1)
}

func (p *Prod) String() string {
	return renderChild(p.Left, precMul) + "*" + renderChild(p.Right, precMul)
}

func (d *Div) String() string {
	return renderChild(d.Left, precMul) + "/" + renderChild(d.Right, precMul+1)
}

func (f *FunCall) String() string {
	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		args[i] = a.String()
	}
	return f.Name + "(" + strings.Join(args, ", ") + ")"
}

func (a *Assign) String() string {
	return a.LHS.String() + " = " + a.RHS.String() + ";"
}

func (i *Incr) String() string {
	return i.LHS.String() + " += " + i.RHS.String() + ";"
}

func (d *Decl) String() string {
	var sb strings.Builder
	if d.StaticConst {
		sb.WriteString("static const ")
	}
	sb.WriteString(d.Type)
	sb.WriteByte(' ')
	sb.WriteString(d.Name)
	for _, n := range d.Sizes {
		fmt.Fprintf(&sb, "[%d]", n)
	}
	if d.Init != nil {
		sb.WriteString(" = ")
		sb.WriteString(d.Init.String())
	}
	sb.WriteByte(';')
	return sb.String()
}

func (f *For) String() string {
	var sb strings.Builder
	f.render(&sb, 0)
	return sb.String()
}

func (b *Block) String() string {
	var sb strings.Builder
	b.render(&sb, 0)
	return sb.String()
}

func (fb *FlatBlock) String() string {
	return fb.Text
}

func (*Empty) String() string {
	return ";"
}

func writeIndent(sb *strings.Builder, depth int) {
	for i := 0; i < depth; i++ {
		sb.WriteString("  ")
	}
}

func (f *For) render(sb *strings.Builder, depth int) {
	for _, p := range f.Pragmas {
		writeIndent(sb, depth)
		sb.WriteString(p)
		sb.WriteByte('\n')
	}
	writeIndent(sb, depth)
	fmt.Fprintf(sb, "for (int %s = 0; %s < %d; %s++) {\n", f.Dim, f.Dim, f.Size, f.Dim)
	f.Body.render(sb, depth+1)
	writeIndent(sb, depth)
	sb.WriteString("}")
}

func (b *Block) render(sb *strings.Builder, depth int) {
	for _, s := range b.Stmts {
		switch t := s.(type) {
		case *For:
			t.render(sb, depth)
			sb.WriteByte('\n')
		case *Block:
			t.render(sb, depth)
		case *FlatBlock:
			if strings.TrimSpace(t.Text) == "" {
				sb.WriteString(t.Text)
				continue
			}
			writeIndent(sb, depth)
			sb.WriteString(t.Text)
			sb.WriteByte('\n')
		default:
			writeIndent(sb, depth)
			sb.WriteString(s.String())
			sb.WriteByte('\n')
		}
	}
}
