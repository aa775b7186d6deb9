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

package script

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/tombee/debugd/internal/hostio"
	rt "github.com/tombee/debugd/internal/runtime"
)

// DefaultMaxDepth is the call recursion limit until overridden.
const DefaultMaxDepth = 1000

// Function is a user-defined function value.
type Function struct {
	name   string
	params []string
	entry  int
	end    int
	prog   *Program
}

// String renders the value for variable display.
func (f *Function) String() string {
	return f.Signature()
}

// Signature implements runtime.Callable.
func (f *Function) Signature() string {
	return fmt.Sprintf("function %s(%s)", f.name, strings.Join(f.params, ", "))
}

// Frame is one activation record. It implements runtime.Frame.
type Frame struct {
	interp *Interp
	fn     *Function
	file   string
	line   int
	locals map[string]any
	args   string
	parent *Frame
	depth  int
	pc     int
}

func (f *Frame) Filename() string { return f.file }
func (f *Frame) Line() int        { return f.line }

func (f *Frame) Function() string {
	if f.fn == nil {
		return ""
	}
	return f.fn.name
}

func (f *Frame) Locals() map[string]any  { return f.locals }
func (f *Frame) Globals() map[string]any { return f.interp.globals }

func (f *Frame) Parent() rt.Frame {
	if f.parent == nil {
		return nil
	}
	return f.parent
}

func (f *Frame) Depth() int         { return f.depth }
func (f *Frame) ArgsString() string { return f.args }

// Config carries interpreter construction options.
type Config struct {
	// Stdout receives program output; defaults to os.Stdout.
	Stdout io.Writer

	// Hooks handles host interaction; defaults to hostio.Default().
	Hooks hostio.Hooks
}

// Interp runs compiled programs. It implements runtime.Interp.
type Interp struct {
	globals  map[string]any
	tracer   rt.Tracer
	hooks    hostio.Hooks
	stdout   io.Writer
	maxDepth int
}

// New creates an interpreter with an empty global namespace.
func New(cfg Config) *Interp {
	i := &Interp{
		globals:  make(map[string]any),
		stdout:   cfg.Stdout,
		hooks:    cfg.Hooks,
		maxDepth: DefaultMaxDepth,
	}
	if i.stdout == nil {
		i.stdout = os.Stdout
	}
	if i.hooks == nil {
		i.hooks = hostio.Default()
	}
	return i
}

func (i *Interp) SetTracer(t rt.Tracer) { i.tracer = t }

// SetHooks swaps the host interaction hooks; nil restores the
// defaults.
func (i *Interp) SetHooks(h hostio.Hooks) {
	if h == nil {
		h = hostio.Default()
	}
	i.hooks = h
}
func (i *Interp) SetStdout(w io.Writer) { i.stdout = w }

func (i *Interp) SetMaxDepth(limit int) { i.maxDepth = limit }

func (i *Interp) Globals() map[string]any { return i.globals }

// Run compiles and executes src as the program's module.
func (i *Interp) Run(filename, src string) error {
	prog, err := Compile(filename, src)
	if err != nil {
		return err
	}
	top := &Frame{interp: i, file: filename, locals: i.globals}
	_, _, err = i.exec(top, prog, 0, len(prog.stmts))
	return err
}

// CompileStatement incrementally compiles console input.
func (i *Interp) CompileStatement(src string) (rt.Code, error) {
	prog, err := CompileInteractive(src)
	if err != nil {
		return nil, err
	}
	return prog, nil
}

// ExecCode runs a compiled console statement in the namespace of f,
// untraced so console work never re-enters the debugger.
func (i *Interp) ExecCode(code rt.Code, f rt.Frame) error {
	prog, ok := code.(*Program)
	if !ok {
		return fmt.Errorf("foreign code object %T", code)
	}
	fr := i.execFrame(f)
	saved := i.tracer
	i.tracer = nil
	defer func() { i.tracer = saved }()
	_, _, err := i.exec(fr, prog, 0, len(prog.stmts))
	return err
}

// Eval evaluates an expression in the namespace of f, untraced.
func (i *Interp) Eval(src string, f rt.Frame) (any, error) {
	prog, err := expr.Compile(src, compileOpts...)
	if err != nil {
		return nil, &rt.SyntaxError{Filename: "<string>", Line: 1, Column: 1, Message: exprErrMessage(err)}
	}
	fr := i.execFrame(f)
	saved := i.tracer
	i.tracer = nil
	defer func() { i.tracer = saved }()
	return i.evalIn(prog, fr)
}

// Call invokes a global function under trace, the way a program call
// site would.
func (i *Interp) Call(name string, args ...any) (any, error) {
	v, ok := i.globals[name]
	if !ok {
		return nil, &rt.RuntimeError{Kind: "NameError", Message: fmt.Sprintf("%s is not defined", name)}
	}
	fn, ok := v.(*Function)
	if !ok {
		return nil, &rt.RuntimeError{Kind: "TypeError", Message: fmt.Sprintf("%s is not callable", name)}
	}
	top := &Frame{interp: i, file: fn.prog.filename, locals: i.globals}
	return i.call(fn, top, args)
}

// Names lists the identifiers visible in f, sorted, for completion.
func (i *Interp) Names(f rt.Frame) []string {
	seen := make(map[string]struct{})
	for name := range builtinNames {
		seen[name] = struct{}{}
	}
	for name := range i.globals {
		seen[name] = struct{}{}
	}
	if f != nil {
		for name := range f.Locals() {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// execFrame adapts a runtime.Frame back to a local frame, or builds a
// module frame over the globals when f is nil.
func (i *Interp) execFrame(f rt.Frame) *Frame {
	if f == nil {
		return &Frame{interp: i, file: "<console>", locals: i.globals}
	}
	if fr, ok := f.(*Frame); ok {
		return fr
	}
	return &Frame{interp: i, file: f.Filename(), line: f.Line(), locals: f.Locals(), depth: f.Depth()}
}

func (i *Interp) exec(fr *Frame, prog *Program, start, stop int) (ret any, returned bool, err error) {
	fr.pc = start
	for fr.pc < stop {
		st := &prog.stmts[fr.pc]
		fr.line = st.line
		if i.tracer != nil {
			if err := i.tracer.TraceLine(fr); err != nil {
				return nil, false, err
			}
		}

		switch st.kind {
		case stmtAssign:
			v, err := i.evalStmt(st, fr)
			if err != nil {
				return nil, false, err
			}
			fr.locals[st.name] = v
			fr.pc++

		case stmtExpr:
			if _, err := i.evalStmt(st, fr); err != nil {
				return nil, false, err
			}
			fr.pc++

		case stmtIf, stmtWhile:
			v, err := i.evalStmt(st, fr)
			if err != nil {
				return nil, false, err
			}
			if truthy(v) {
				fr.pc++
			} else {
				fr.pc = st.target
			}

		case stmtElse, stmtDef:
			if st.kind == stmtDef {
				fr.locals[st.name] = &Function{
					name:   st.name,
					params: st.params,
					entry:  fr.pc,
					end:    st.target,
					prog:   prog,
				}
				fr.pc = st.target + 1
			} else {
				fr.pc = st.target
			}

		case stmtEnd:
			if st.target >= 0 {
				fr.pc = st.target
			} else {
				fr.pc++
			}

		case stmtReturn:
			var v any
			if st.expr != nil {
				var err error
				if v, err = i.evalStmt(st, fr); err != nil {
					return nil, false, err
				}
			}
			return v, true, nil

		case stmtPass:
			fr.pc++
		}
	}
	return nil, false, nil
}

// evalStmt evaluates a statement's expression, raising fresh errors as
// runtime exceptions at this site.
func (i *Interp) evalStmt(st *stmt, fr *Frame) (any, error) {
	v, err := i.evalIn(st.expr, fr)
	if err != nil {
		return nil, i.raise(fr, err)
	}
	return v, nil
}

func (i *Interp) evalIn(prog *vm.Program, fr *Frame) (any, error) {
	return expr.Run(prog, i.environ(fr))
}

// raise turns err into a *runtime.RuntimeError with a stack snapshot
// and fires the exception trace event, exactly once per exception.
// Exit, quit and already-snapshotted errors pass through untouched.
func (i *Interp) raise(fr *Frame, err error) error {
	if errors.Is(err, rt.ErrQuit) {
		return err
	}
	var exit *rt.ExitError
	if errors.As(err, &exit) {
		return err
	}
	var syn *rt.SyntaxError
	if errors.As(err, &syn) {
		return err
	}

	var rerr *rt.RuntimeError
	if !errors.As(err, &rerr) {
		rerr = &rt.RuntimeError{Kind: classify(err), Message: exprErrMessage(err)}
	}
	if rerr.Stack != nil {
		return rerr
	}
	for f := fr; f != nil; f = f.parent {
		rerr.Stack = append(rerr.Stack, rt.FrameSnapshot{
			Filename: f.file,
			Line:     f.line,
			Function: f.Function(),
			Args:     f.args,
		})
	}
	if i.tracer != nil {
		if terr := i.tracer.TraceException(fr, rerr); terr != nil {
			return terr
		}
	}
	return rerr
}

func classify(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "divide by zero"), strings.Contains(msg, "division by zero"):
		return "ZeroDivisionError"
	case strings.Contains(msg, "index out of range"), strings.Contains(msg, "out of bounds"):
		return "IndexError"
	case strings.Contains(msg, "invalid operation"), strings.Contains(msg, "cannot"):
		return "TypeError"
	default:
		return "RuntimeError"
	}
}

func (i *Interp) call(fn *Function, caller *Frame, args []any) (any, error) {
	if caller.depth+1 >= i.maxDepth {
		return nil, &rt.RuntimeError{Kind: "RecursionError", Message: "maximum call depth exceeded"}
	}
	if len(args) != len(fn.params) {
		return nil, &rt.RuntimeError{
			Kind:    "TypeError",
			Message: fmt.Sprintf("%s() takes %d arguments, got %d", fn.name, len(fn.params), len(args)),
		}
	}
	locals := make(map[string]any, len(fn.params))
	for n, p := range fn.params {
		locals[p] = args[n]
	}
	fr := &Frame{
		interp: i,
		fn:     fn,
		file:   fn.prog.filename,
		line:   fn.prog.stmts[fn.entry].line,
		locals: locals,
		args:   renderArgs(fn.params, args),
		parent: caller,
		depth:  caller.depth + 1,
	}
	if i.tracer != nil {
		if err := i.tracer.TraceCall(caller, fr); err != nil {
			return nil, err
		}
	}
	ret, _, err := i.exec(fr, fn.prog, fn.entry+1, fn.end)
	if err != nil {
		return nil, err
	}
	if i.tracer != nil {
		if err := i.tracer.TraceReturn(fr, ret); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

func renderArgs(params []string, args []any) string {
	parts := make([]string, len(args))
	for n, a := range args {
		v := fmt.Sprintf("%v", a)
		if len(v) > 30 {
			v = v[:27] + "..."
		}
		parts[n] = params[n] + "=" + v
	}
	return strings.Join(parts, ", ")
}

// environ builds the evaluation namespace for a frame: builtins, then
// globals, then locals, with user functions wrapped as callables.
func (i *Interp) environ(fr *Frame) map[string]any {
	env := make(map[string]any, len(i.globals)+len(fr.locals)+16)
	i.installBuiltins(env, fr)
	for k, v := range i.globals {
		env[k] = i.bind(v, fr)
	}
	if !sameMap(fr.locals, i.globals) {
		for k, v := range fr.locals {
			env[k] = i.bind(v, fr)
		}
	}
	return env
}

func (i *Interp) bind(v any, fr *Frame) any {
	if fn, ok := v.(*Function); ok {
		return func(args ...any) (any, error) {
			return i.call(fn, fr, args)
		}
	}
	return v
}

func sameMap(a, b map[string]any) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int:
		return x != 0
	case int64:
		return x != 0
	case uint64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	}
	return true
}
