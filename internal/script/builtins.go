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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tombee/debugd/internal/hostio"
	rt "github.com/tombee/debugd/internal/runtime"
)

// builtinNames is the closed set of builtin identifiers, used by
// completion and by Names. The expr grammar contributes its own
// builtins (len, abs, string functions) on top of these.
var builtinNames = map[string]struct{}{
	"print":    {},
	"str":      {},
	"num":      {},
	"now":      {},
	"since":    {},
	"input":    {},
	"readline": {},
	"exit":     {},
	"raise":    {},
	"fork":     {},
}

// IsBuiltin reports whether name is an interpreter builtin.
func IsBuiltin(name string) bool {
	_, ok := builtinNames[name]
	return ok
}

func (i *Interp) installBuiltins(env map[string]any, fr *Frame) {
	env["print"] = func(args ...any) (any, error) {
		parts := make([]string, len(args))
		for n, a := range args {
			parts[n] = fmt.Sprint(a)
		}
		if _, err := fmt.Fprintln(i.stdout, strings.Join(parts, " ")); err != nil {
			return nil, &rt.RuntimeError{Kind: "IOError", Message: err.Error()}
		}
		return nil, nil
	}
	env["str"] = func(v any) string {
		return fmt.Sprint(v)
	}
	env["num"] = func(s string) (any, error) {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return int(n), nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, &rt.RuntimeError{Kind: "ValueError", Message: fmt.Sprintf("cannot convert %q to a number", s)}
		}
		return f, nil
	}
	env["now"] = func() time.Time {
		return time.Now()
	}
	env["since"] = func(t time.Time) time.Duration {
		return time.Since(t)
	}
	env["input"] = func(args ...string) (any, error) {
		return i.hooks.Input(prompt(args))
	}
	env["readline"] = func(args ...string) (any, error) {
		return i.hooks.RawInput(prompt(args), true)
	}
	env["exit"] = func(args ...int) (any, error) {
		status := 0
		if len(args) > 0 {
			status = args[0]
		}
		return nil, &rt.ExitError{Status: status}
	}
	env["raise"] = func(kind, message string) (any, error) {
		return nil, &rt.RuntimeError{Kind: kind, Message: message}
	}
	env[divBuiltin] = checkedDiv
	env[modBuiltin] = checkedMod
	// fork reports 0 on the child branch and 1 on the parent, in the
	// manner of fork(2).
	env["fork"] = func() (any, error) {
		branch, err := i.hooks.Fork()
		if err != nil {
			return nil, &rt.RuntimeError{Kind: "OSError", Message: err.Error()}
		}
		if branch == hostio.Child {
			return 0, nil
		}
		return 1, nil
	}
}

func prompt(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}
