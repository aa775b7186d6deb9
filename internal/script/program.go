// Copyright 2025 Tom Barlow
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

// Package script implements the debuggable interpreter for a small
// line-oriented language. Each source line is one statement;
// expressions use the expr grammar; blocks open with if, else, while
// or def and close with end. The interpreter satisfies the
// internal/runtime interfaces so the debug engine can trace it.
package script

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	rt "github.com/tombee/debugd/internal/runtime"
)

type stmtKind int

const (
	stmtAssign stmtKind = iota
	stmtExpr
	stmtIf
	stmtElse
	stmtWhile
	stmtDef
	stmtReturn
	stmtPass
	stmtEnd
)

// stmt is one compiled statement. target is an absolute statement
// index: for if it is the start of the false branch, for else and def
// the closing end, for a loop end the while head, and -1 when no jump
// applies.
type stmt struct {
	kind   stmtKind
	line   int
	text   string
	name   string
	params []string
	expr   *vm.Program
	target int
}

// Program is a compiled script.
type Program struct {
	filename string
	stmts    []stmt
}

// Filename reports the source file the program was compiled from.
func (p *Program) Filename() string { return p.filename }

var (
	assignRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*=([^=].*)$`)
	defRe    = regexp.MustCompile(`^def\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(([^)]*)\)\s*$`)
)

type block struct {
	kind    stmtKind
	idx     int
	elseIdx int
}

// Compile parses src into a Program. Unterminated blocks and
// malformed statements are reported as *runtime.SyntaxError.
func Compile(filename, src string) (*Program, error) {
	return compile(filename, src, false)
}

// CompileInteractive parses console input. It reports
// runtime.ErrIncomplete while the input ends inside an open block, so
// the caller can collect further lines.
func CompileInteractive(src string) (*Program, error) {
	return compile("<console>", src, true)
}

func compile(filename, src string, interactive bool) (*Program, error) {
	p := &Program{filename: filename}
	var stack []block

	syntaxErr := func(line int, format string, args ...any) error {
		return &rt.SyntaxError{
			Filename: filename,
			Line:     line,
			Column:   1,
			Message:  fmt.Sprintf(format, args...),
		}
	}
	compileExpr := func(line int, code string) (*vm.Program, error) {
		prog, err := expr.Compile(code, compileOpts...)
		if err != nil {
			return nil, syntaxErr(line, "%s", exprErrMessage(err))
		}
		return prog, nil
	}

	for n, raw := range strings.Split(src, "\n") {
		lineno := n + 1
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := len(p.stmts)
		st := stmt{line: lineno, text: line, target: -1}

		word := line
		if i := strings.IndexAny(line, " \t"); i >= 0 {
			word = line[:i]
		}

		switch word {
		case "if", "while":
			cond, err := compileExpr(lineno, strings.TrimSpace(line[len(word):]))
			if err != nil {
				return nil, err
			}
			st.expr = cond
			if word == "if" {
				st.kind = stmtIf
			} else {
				st.kind = stmtWhile
			}
			stack = append(stack, block{kind: st.kind, idx: idx, elseIdx: -1})

		case "else":
			if line != "else" {
				return nil, syntaxErr(lineno, "unexpected text after else")
			}
			if len(stack) == 0 || stack[len(stack)-1].kind != stmtIf || stack[len(stack)-1].elseIdx >= 0 {
				return nil, syntaxErr(lineno, "else outside if")
			}
			st.kind = stmtElse
			stack[len(stack)-1].elseIdx = idx

		case "end":
			if line != "end" {
				return nil, syntaxErr(lineno, "unexpected text after end")
			}
			if len(stack) == 0 {
				return nil, syntaxErr(lineno, "end without open block")
			}
			st.kind = stmtEnd
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			switch top.kind {
			case stmtIf:
				if top.elseIdx >= 0 {
					p.stmts[top.idx].target = top.elseIdx + 1
					p.stmts[top.elseIdx].target = idx
				} else {
					p.stmts[top.idx].target = idx
				}
			case stmtWhile:
				p.stmts[top.idx].target = idx + 1
				st.target = top.idx
			case stmtDef:
				p.stmts[top.idx].target = idx
			}

		case "def":
			m := defRe.FindStringSubmatch(line)
			if m == nil {
				return nil, syntaxErr(lineno, "malformed def")
			}
			st.kind = stmtDef
			st.name = m[1]
			if args := strings.TrimSpace(m[2]); args != "" {
				for _, p := range strings.Split(args, ",") {
					st.params = append(st.params, strings.TrimSpace(p))
				}
			}
			stack = append(stack, block{kind: stmtDef, idx: idx, elseIdx: -1})

		case "return":
			st.kind = stmtReturn
			if rest := strings.TrimSpace(line[len(word):]); rest != "" {
				val, err := compileExpr(lineno, rest)
				if err != nil {
					return nil, err
				}
				st.expr = val
			}

		case "pass":
			if line != "pass" {
				return nil, syntaxErr(lineno, "unexpected text after pass")
			}
			st.kind = stmtPass

		default:
			if m := assignRe.FindStringSubmatch(line); m != nil {
				rhs, err := compileExpr(lineno, strings.TrimSpace(m[2]))
				if err != nil {
					return nil, err
				}
				st.kind = stmtAssign
				st.name = m[1]
				st.expr = rhs
			} else {
				val, err := compileExpr(lineno, line)
				if err != nil {
					return nil, err
				}
				st.kind = stmtExpr
				st.expr = val
			}
		}
		p.stmts = append(p.stmts, st)
	}

	if len(stack) > 0 {
		if interactive {
			return nil, rt.ErrIncomplete
		}
		open := p.stmts[stack[len(stack)-1].idx]
		return nil, syntaxErr(open.line, "block opened here is never closed")
	}
	return p, nil
}

// exprErrMessage strips the source snippet expr embeds in its errors,
// keeping the first line only.
func exprErrMessage(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return msg
}
