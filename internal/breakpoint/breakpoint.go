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

// Package breakpoint tracks line breakpoints and watch expressions.
// Conditions are compiled once at registration and evaluated against
// the stopped frame's namespaces when a location is reached.
package breakpoint

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	rt "github.com/tombee/debugd/internal/runtime"
	"github.com/tombee/debugd/pkg/errors"
)

// Watch condition suffixes selecting special trigger modes instead of
// a boolean condition.
const (
	suffixCreated = "??created??"
	suffixChanged = "??changed??"
)

// Breakpoint is a registered line breakpoint.
type Breakpoint struct {
	File        string
	Line        int
	Temporary   bool
	Condition   string
	Enabled     bool
	IgnoreCount int
	Hits        int

	compiled *vm.Program
}

type watchMode int

const (
	watchCondition watchMode = iota
	watchCreated
	watchChanged
)

// Watch is a registered watch expression. The original condition text
// is its identity on the wire.
type Watch struct {
	Condition   string
	Temporary   bool
	Enabled     bool
	IgnoreCount int
	Hits        int

	mode     watchMode
	variable string
	compiled *vm.Program

	// seen tracks per-frame state for the created and changed modes.
	seen map[rt.Frame]watchState
}

type watchState struct {
	exists bool
	fired  bool
	value  any
}

// Registry holds all breakpoints and watches of a session.
type Registry struct {
	breaks  map[string]map[int]*Breakpoint
	watches map[string]*Watch
	cache   map[string]*vm.Program
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		breaks:  make(map[string]map[int]*Breakpoint),
		watches: make(map[string]*Watch),
		cache:   make(map[string]*vm.Program),
	}
}

func (r *Registry) compile(cond string) (*vm.Program, error) {
	if prog, ok := r.cache[cond]; ok {
		return prog, nil
	}
	prog, err := expr.Compile(cond)
	if err != nil {
		return nil, &errors.ConditionError{
			Expression: cond,
			Message:    "failed to compile condition",
			Cause:      err,
		}
	}
	r.cache[cond] = prog
	return prog, nil
}

// SetBreak registers or replaces the breakpoint at file:line. A
// non-empty condition is compiled now; a compile failure leaves the
// registry unchanged and reports a *errors.ConditionError.
func (r *Registry) SetBreak(file string, line int, temporary bool, cond string) (*Breakpoint, error) {
	bp := &Breakpoint{
		File:      file,
		Line:      line,
		Temporary: temporary,
		Condition: cond,
		Enabled:   true,
	}
	if cond != "" {
		prog, err := r.compile(cond)
		if err != nil {
			return nil, err
		}
		bp.compiled = prog
	}
	lines, ok := r.breaks[file]
	if !ok {
		lines = make(map[int]*Breakpoint)
		r.breaks[file] = lines
	}
	lines[line] = bp
	return bp, nil
}

// ClearBreak removes the breakpoint at file:line, if any.
func (r *Registry) ClearBreak(file string, line int) {
	if lines, ok := r.breaks[file]; ok {
		delete(lines, line)
		if len(lines) == 0 {
			delete(r.breaks, file)
		}
	}
}

// Break looks up the breakpoint at file:line.
func (r *Registry) Break(file string, line int) (*Breakpoint, bool) {
	bp, ok := r.breaks[file][line]
	return bp, ok
}

// EnableBreak toggles the breakpoint at file:line.
func (r *Registry) EnableBreak(file string, line int, enabled bool) error {
	bp, ok := r.Break(file, line)
	if !ok {
		return &errors.NotFoundError{Resource: "breakpoint", ID: fmt.Sprintf("%s:%d", file, line)}
	}
	bp.Enabled = enabled
	return nil
}

// IgnoreBreak sets the pass-over count of the breakpoint at file:line.
func (r *Registry) IgnoreBreak(file string, line, count int) error {
	bp, ok := r.Break(file, line)
	if !ok {
		return &errors.NotFoundError{Resource: "breakpoint", ID: fmt.Sprintf("%s:%d", file, line)}
	}
	bp.IgnoreCount = count
	return nil
}

// HasBreaks reports whether any breakpoint exists in file. The trace
// callback uses it to skip condition work on files without stops.
func (r *Registry) HasBreaks(file string) bool {
	return len(r.breaks[file]) > 0
}

// HasWatches reports whether any watch expression is registered.
func (r *Registry) HasWatches() bool {
	return len(r.watches) > 0
}

// SetWatch registers a watch expression. The ??created?? and
// ??changed?? suffixes select existence and mutation tracking of the
// named variable and are never compiled; anything else compiles as a
// boolean condition.
func (r *Registry) SetWatch(cond string, temporary bool) (*Watch, error) {
	w := &Watch{
		Condition: cond,
		Temporary: temporary,
		Enabled:   true,
		seen:      make(map[rt.Frame]watchState),
	}
	switch {
	case strings.HasSuffix(cond, suffixCreated):
		w.mode = watchCreated
		w.variable = strings.TrimSpace(strings.TrimSuffix(cond, suffixCreated))
	case strings.HasSuffix(cond, suffixChanged):
		w.mode = watchChanged
		w.variable = strings.TrimSpace(strings.TrimSuffix(cond, suffixChanged))
	default:
		prog, err := r.compile(cond)
		if err != nil {
			return nil, err
		}
		w.compiled = prog
	}
	r.watches[cond] = w
	return w, nil
}

// ClearWatch removes the watch with the given condition text.
func (r *Registry) ClearWatch(cond string) {
	delete(r.watches, cond)
}

// Watch looks up a watch by its condition text.
func (r *Registry) Watch(cond string) (*Watch, bool) {
	w, ok := r.watches[cond]
	return w, ok
}

// EnableWatch toggles the watch with the given condition text.
func (r *Registry) EnableWatch(cond string, enabled bool) error {
	w, ok := r.watches[cond]
	if !ok {
		return &errors.NotFoundError{Resource: "watch expression", ID: cond}
	}
	w.Enabled = enabled
	return nil
}

// IgnoreWatch sets the pass-over count of a watch.
func (r *Registry) IgnoreWatch(cond string, count int) error {
	w, ok := r.watches[cond]
	if !ok {
		return &errors.NotFoundError{Resource: "watch expression", ID: cond}
	}
	w.IgnoreCount = count
	return nil
}

// ResetWatchState drops the per-frame memory of all watches. Called
// when a program (re)starts so stale frames do not pin state.
func (r *Registry) ResetWatchState() {
	for _, w := range r.watches {
		w.seen = make(map[rt.Frame]watchState)
	}
}

// Clear removes every breakpoint and watch.
func (r *Registry) Clear() {
	r.breaks = make(map[string]map[int]*Breakpoint)
	r.watches = make(map[string]*Watch)
}

func environ(f rt.Frame) map[string]any {
	env := make(map[string]any, len(f.Globals())+len(f.Locals()))
	for k, v := range f.Globals() {
		env[k] = v
	}
	for k, v := range f.Locals() {
		env[k] = v
	}
	return env
}

// EffectiveBreak decides whether the breakpoint at file:line fires in
// frame f. A condition that fails to evaluate counts as true, erring
// on the side of stopping. The ignore count is consumed only by an
// otherwise-firing hit.
func (r *Registry) EffectiveBreak(file string, line int, f rt.Frame) (*Breakpoint, bool) {
	bp, ok := r.breaks[file][line]
	if !ok || !bp.Enabled {
		return nil, false
	}
	if bp.compiled != nil {
		v, err := expr.Run(bp.compiled, environ(f))
		if err == nil && !truthy(v) {
			return nil, false
		}
	}
	if bp.IgnoreCount > 0 {
		bp.IgnoreCount--
		return nil, false
	}
	bp.Hits++
	return bp, true
}

// EffectiveWatch decides whether any watch fires in frame f and
// returns the first that does.
func (r *Registry) EffectiveWatch(f rt.Frame) (*Watch, bool) {
	for _, w := range r.watches {
		if !w.Enabled {
			continue
		}
		if !w.triggered(f) {
			continue
		}
		if w.IgnoreCount > 0 {
			w.IgnoreCount--
			continue
		}
		w.Hits++
		return w, true
	}
	return nil, false
}

func (w *Watch) triggered(f rt.Frame) bool {
	switch w.mode {
	case watchCreated:
		// The first observation of a frame only arms the watch; it
		// fires on a later check while the variable exists, and a
		// disappearance re-arms it.
		_, exists := lookup(f, w.variable)
		prev, known := w.seen[f]
		if !known || !exists {
			w.seen[f] = watchState{exists: exists}
			return false
		}
		if prev.fired {
			return false
		}
		w.seen[f] = watchState{exists: true, fired: true}
		return true

	case watchChanged:
		val, exists := lookup(f, w.variable)
		prev, known := w.seen[f]
		w.seen[f] = watchState{exists: exists, value: fmt.Sprintf("%v", val)}
		if !known || !exists || !prev.exists {
			return false
		}
		return prev.value != fmt.Sprintf("%v", val)

	default:
		v, err := expr.Run(w.compiled, environ(f))
		return err == nil && truthy(v)
	}
}

func lookup(f rt.Frame, name string) (any, bool) {
	if v, ok := f.Locals()[name]; ok {
		return v, true
	}
	v, ok := f.Globals()[name]
	return v, ok
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
	case float64:
		return x != 0
	case string:
		return x != ""
	default:
		return true
	}
}
