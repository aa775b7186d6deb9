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

// Package unittest discovers and drives test functions in a script
// file. A test is any zero-argument function whose name starts with
// "test_"; it passes unless it raises.
package unittest

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	rt "github.com/tombee/debugd/internal/runtime"
)

// Prefix marks test functions.
const Prefix = "test_"

// Callbacks receive run progress. Nil members are skipped.
type Callbacks struct {
	StartTest  func(name string)
	TestFailed func(name, kind, message string)
	Finished   func(s Summary)
}

// Summary is the outcome of a run.
type Summary struct {
	Ran     int
	Failed  int
	Stopped bool
	Elapsed time.Duration
}

// Runner prepares and executes the tests of one file.
type Runner struct {
	interp rt.Interp
	tests  []string
	stop   bool
	clock  func() time.Time
}

// NewRunner wraps an interpreter whose global namespace will hold the
// tests once Prepare has run the file's module level.
func NewRunner(in rt.Interp) *Runner {
	return &Runner{interp: in, clock: time.Now}
}

// Prepare executes the file's module level and discovers its tests.
// A non-empty selection keeps only the named tests; unknown names in
// the selection are an error.
func (r *Runner) Prepare(filename, src string, selection []string) ([]string, error) {
	if err := r.interp.Run(filename, src); err != nil {
		return nil, fmt.Errorf("failed to load test file: %w", err)
	}

	var tests []string
	for name, v := range r.interp.Globals() {
		if !strings.HasPrefix(name, Prefix) {
			continue
		}
		if _, ok := v.(rt.Callable); !ok {
			continue
		}
		tests = append(tests, name)
	}
	sort.Strings(tests)

	if len(selection) > 0 {
		known := make(map[string]bool, len(tests))
		for _, name := range tests {
			known[name] = true
		}
		tests = tests[:0]
		for _, name := range selection {
			if !known[name] {
				return nil, fmt.Errorf("no such test: %s", name)
			}
			tests = append(tests, name)
		}
	}

	r.tests = tests
	r.stop = false
	return tests, nil
}

// Run executes the prepared tests in order, reporting progress
// through cb. Stop aborts between tests.
func (r *Runner) Run(cb Callbacks) Summary {
	start := r.clock()
	var s Summary
	for _, name := range r.tests {
		if r.stop {
			s.Stopped = true
			break
		}
		if cb.StartTest != nil {
			cb.StartTest(name)
		}
		s.Ran++
		if err := r.runOne(name); err != nil {
			s.Failed++
			if cb.TestFailed != nil {
				kind, msg := describe(err)
				cb.TestFailed(name, kind, msg)
			}
		}
	}
	s.Elapsed = r.clock().Sub(start)
	if cb.Finished != nil {
		cb.Finished(s)
	}
	return s
}

// runOne invokes the test through the traced call path, so coverage
// collection sees the test body.
func (r *Runner) runOne(name string) error {
	_, err := r.interp.Call(name)
	return err
}

// Stop aborts the run before the next test starts.
func (r *Runner) Stop() {
	r.stop = true
}

func describe(err error) (kind, message string) {
	var rerr *rt.RuntimeError
	if errors.As(err, &rerr) {
		return rerr.Kind, rerr.Message
	}
	return "Error", err.Error()
}
