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

// Package runtime defines the introspection surface the debug engine
// requires from a debuggee language runtime: frames, trace hooks, an
// incremental statement compiler, and expression evaluation inside a
// frame. The engine drives any implementation of these interfaces;
// internal/script provides the one shipped in this repository.
package runtime

import (
	"errors"
	"fmt"
	"io"

	"github.com/tombee/debugd/internal/hostio"
)

// ErrIncomplete is reported by CompileStatement when the source so far
// is a syntactically valid prefix of a longer statement (an unclosed
// block). The caller should collect more lines and try again.
var ErrIncomplete = errors.New("statement incomplete")

// ErrQuit may be returned from any Tracer callback to abort program
// execution without reporting an exception. Run returns it unchanged.
var ErrQuit = errors.New("debugger quit")

// Frame is one activation record of the running program.
type Frame interface {
	// Filename is the absolute path of the executing file.
	Filename() string

	// Line is the 1-based line currently executing.
	Line() int

	// Function is the enclosing function name, empty for the module
	// frame.
	Function() string

	// Locals is the frame's mutable local namespace. For the module
	// frame this is the global namespace itself.
	Locals() map[string]any

	// Globals is the module-level namespace.
	Globals() map[string]any

	// Parent is the calling frame, nil for the module frame.
	Parent() Frame

	// Depth is 0 for the module frame and increases by one per call.
	Depth() int

	// ArgsString renders the call arguments for stack display.
	ArgsString() string
}

// Tracer receives instrumentation events while a program runs. Any
// callback may return an error to abort execution; ErrQuit aborts
// silently.
type Tracer interface {
	// TraceLine fires before each statement.
	TraceLine(f Frame) error

	// TraceCall fires after a callee frame is pushed.
	TraceCall(caller, callee Frame) error

	// TraceReturn fires before a callee frame is popped.
	TraceReturn(f Frame, value any) error

	// TraceException fires at the raise site before unwinding.
	TraceException(f Frame, err error) error
}

// Code is an opaque compiled statement produced by CompileStatement.
type Code any

// Interp is a debuggable interpreter instance.
type Interp interface {
	// SetTracer installs the instrumentation hooks. A nil tracer runs
	// the program without instrumentation.
	SetTracer(t Tracer)

	// Run executes the given source as a program. The returned error
	// is nil on normal completion, an *ExitError for an explicit
	// exit, a *SyntaxError for unparseable source, ErrQuit for a
	// tracer abort, and a *RuntimeError for an unhandled exception.
	Run(filename, src string) error

	// CompileStatement incrementally compiles interactive input.
	// It returns ErrIncomplete while more lines are needed and a
	// *SyntaxError for invalid input.
	CompileStatement(src string) (Code, error)

	// ExecCode executes a compiled statement in the namespace of f,
	// or in the module globals when f is nil.
	ExecCode(code Code, f Frame) error

	// Eval evaluates an expression in the namespace of f, or in the
	// module globals when f is nil.
	Eval(src string, f Frame) (any, error)

	// Call invokes a global function under trace, the way a program
	// call site would.
	Call(name string, args ...any) (any, error)

	// Globals is the module-level namespace.
	Globals() map[string]any

	// Names lists the identifiers visible in f (builtins included),
	// for command line completion.
	Names(f Frame) []string

	// SetMaxDepth sets the call recursion limit.
	SetMaxDepth(limit int)

	// SetHooks installs the host interaction hooks used by input,
	// fork and related builtins.
	SetHooks(h hostio.Hooks)

	// SetStdout redirects program output.
	SetStdout(w io.Writer)
}

// Callable marks user-defined function values so variable display can
// render a signature instead of probing the value.
type Callable interface {
	Signature() string
}

// FrameSnapshot is a rendered stack entry captured at raise time.
type FrameSnapshot struct {
	Filename string
	Line     int
	Function string
	Args     string
}

// RuntimeError is an exception raised by the running program.
type RuntimeError struct {
	// Kind is the exception class name, e.g. "ZeroDivisionError".
	Kind string

	// Message is the exception text.
	Message string

	// Stack holds the raise-site call stack, innermost first.
	Stack []FrameSnapshot
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// SyntaxError reports unparseable source.
type SyntaxError struct {
	Filename string
	Line     int
	Column   int
	Message  string
}

// Error implements the error interface.
func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.Filename, e.Line, e.Column, e.Message)
}

// ExitError reports an explicit program exit with a status code.
type ExitError struct {
	Status int
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Status)
}

// ExitStatus maps a Run result to a process exit status: nil is 0,
// an ExitError carries its own status, anything else is 1.
func ExitStatus(err error) int {
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Status
	}
	return 1
}
