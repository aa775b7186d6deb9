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
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rt "github.com/tombee/debugd/internal/runtime"
)

func run(t *testing.T, src string) (*Interp, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	in := New(Config{Stdout: &out})
	require.NoError(t, in.Run("main.scr", src))
	return in, &out
}

func TestRunAssignAndPrint(t *testing.T) {
	in, out := run(t, "x = 2 + 3\nprint(\"x is\", x)\n")
	assert.Equal(t, 5, in.Globals()["x"])
	assert.Equal(t, "x is 5\n", out.String())
}

func TestRunIfElse(t *testing.T) {
	in, _ := run(t, `
x = 7
if x > 5
	big = true
else
	big = false
end
`)
	assert.Equal(t, true, in.Globals()["big"])
}

func TestRunWhileLoop(t *testing.T) {
	in, _ := run(t, `
total = 0
n = 1
while n <= 4
	total = total + n
	n = n + 1
end
`)
	assert.Equal(t, 10, in.Globals()["total"])
}

func TestRunFunctionCall(t *testing.T) {
	in, out := run(t, `
def double(n)
	return n * 2
end
y = double(21)
print(y)
`)
	assert.Equal(t, 42, in.Globals()["y"])
	assert.Equal(t, "42\n", out.String())
}

func TestRunRecursionWithLimit(t *testing.T) {
	src := `
def spin(n)
	return spin(n + 1)
end
spin(0)
`
	in := New(Config{Stdout: &bytes.Buffer{}})
	in.SetMaxDepth(20)
	err := in.Run("main.scr", src)
	var rerr *rt.RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "RecursionError", rerr.Kind)
}

func TestRunRaisedErrorCarriesStack(t *testing.T) {
	src := `
def inner()
	raise("ValueError", "boom")
end
def outer()
	return inner()
end
outer()
`
	in := New(Config{Stdout: &bytes.Buffer{}})
	err := in.Run("main.scr", src)
	var rerr *rt.RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "ValueError", rerr.Kind)
	require.Len(t, rerr.Stack, 3)
	assert.Equal(t, "inner", rerr.Stack[0].Function)
	assert.Equal(t, "outer", rerr.Stack[1].Function)
	assert.Equal(t, "", rerr.Stack[2].Function)
}

func TestRunExplicitExit(t *testing.T) {
	in := New(Config{Stdout: &bytes.Buffer{}})
	err := in.Run("main.scr", "exit(3)\nprint(\"not reached\")\n")
	var exit *rt.ExitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 3, exit.Status)
	assert.Equal(t, 3, rt.ExitStatus(err))
}

func TestRunRaiseBuiltin(t *testing.T) {
	in := New(Config{Stdout: &bytes.Buffer{}})
	err := in.Run("main.scr", "raise(\"ValueError\", \"bad value\")\n")
	var rerr *rt.RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "ValueError", rerr.Kind)
	assert.Equal(t, "bad value", rerr.Message)
}

func TestRunDivisionByZeroRaises(t *testing.T) {
	in := New(Config{Stdout: &bytes.Buffer{}})
	err := in.Run("main.scr", "x = 1 / 0\n")
	var rerr *rt.RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "ZeroDivisionError", rerr.Kind)
	assert.Equal(t, "division by zero", rerr.Message)
}

func TestRunModuloByZeroRaises(t *testing.T) {
	in := New(Config{Stdout: &bytes.Buffer{}})
	err := in.Run("main.scr", "x = 5 % 0\n")
	var rerr *rt.RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "ZeroDivisionError", rerr.Kind)
}

func TestDivisionAndModuloValues(t *testing.T) {
	in, _ := run(t, "half = 5 / 2\nrem = 7 % 3\n")
	assert.Equal(t, 2.5, in.Globals()["half"])
	assert.Equal(t, 1, in.Globals()["rem"])
}

func TestEvalDivisionByZero(t *testing.T) {
	in, _ := run(t, "x = 1\n")
	_, err := in.Eval("x / 0", nil)
	var rerr *rt.RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "ZeroDivisionError", rerr.Kind)
}

func TestCompileSyntaxError(t *testing.T) {
	_, err := Compile("bad.scr", "x = (1 +\n")
	var serr *rt.SyntaxError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 1, serr.Line)
}

func TestCompileUnclosedBlockInFile(t *testing.T) {
	_, err := Compile("bad.scr", "if true\nx = 1\n")
	var serr *rt.SyntaxError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 1, serr.Line)
}

func TestCompileInteractiveIncomplete(t *testing.T) {
	_, err := CompileInteractive("def f(n)\n")
	assert.True(t, errors.Is(err, rt.ErrIncomplete))

	prog, err := CompileInteractive("def f(n)\nreturn n\nend\n")
	require.NoError(t, err)
	assert.NotNil(t, prog)
}

func TestEvalInModuleNamespace(t *testing.T) {
	in, _ := run(t, "x = 10\n")
	v, err := in.Eval("x * 2", nil)
	require.NoError(t, err)
	assert.Equal(t, 20, v)
}

func TestExecCodeMutatesNamespace(t *testing.T) {
	in, _ := run(t, "x = 1\n")
	code, err := in.CompileStatement("x = x + 41\n")
	require.NoError(t, err)
	require.NoError(t, in.ExecCode(code, nil))
	assert.Equal(t, 42, in.Globals()["x"])
}

func TestNamesIncludesBuiltinsGlobalsAndLocals(t *testing.T) {
	in, _ := run(t, "alpha = 1\n")
	names := in.Names(nil)
	assert.Contains(t, names, "alpha")
	assert.Contains(t, names, "print")
}

// lineRecorder collects the line events of a run.
type lineRecorder struct {
	lines  []int
	funcs  []string
	raised []string
}

func (r *lineRecorder) TraceLine(f rt.Frame) error {
	r.lines = append(r.lines, f.Line())
	return nil
}
func (r *lineRecorder) TraceCall(caller, callee rt.Frame) error {
	r.funcs = append(r.funcs, callee.Function())
	return nil
}
func (r *lineRecorder) TraceReturn(f rt.Frame, value any) error { return nil }
func (r *lineRecorder) TraceException(f rt.Frame, err error) error {
	r.raised = append(r.raised, err.Error())
	return nil
}

func TestTracerSeesLineAndCallEvents(t *testing.T) {
	src := `def f(n)
return n + 1
end
y = f(1)
`
	in := New(Config{Stdout: &bytes.Buffer{}})
	rec := &lineRecorder{}
	in.SetTracer(rec)
	require.NoError(t, in.Run("main.scr", src))

	assert.Equal(t, []string{"f"}, rec.funcs)
	// def, call site, function body, implicit end is not traced
	// before return exits the range.
	assert.Equal(t, []int{1, 4, 2}, rec.lines)
}

func TestTracerQuitAbortsRun(t *testing.T) {
	in := New(Config{Stdout: &bytes.Buffer{}})
	in.SetTracer(&quitAfter{n: 2})
	err := in.Run("main.scr", "a = 1\nb = 2\nc = 3\n")
	assert.True(t, errors.Is(err, rt.ErrQuit))
	_, ok := in.Globals()["c"]
	assert.False(t, ok)
}

type quitAfter struct{ n, seen int }

func (q *quitAfter) TraceLine(f rt.Frame) error {
	q.seen++
	if q.seen >= q.n {
		return rt.ErrQuit
	}
	return nil
}
func (q *quitAfter) TraceCall(caller, callee rt.Frame) error    { return nil }
func (q *quitAfter) TraceReturn(f rt.Frame, value any) error    { return nil }
func (q *quitAfter) TraceException(f rt.Frame, err error) error { return nil }
