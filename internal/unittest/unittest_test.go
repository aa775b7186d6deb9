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

package unittest

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/debugd/internal/script"
)

const testFile = `
helper = 1

def test_passes()
	x = 1 + 1
end

def test_fails()
	raise("AssertionError", "1 is not 2")
end

def test_also_passes()
	pass
end

def not_a_test()
	raise("Error", "never run")
end
`

func newRunner(t *testing.T) *Runner {
	t.Helper()
	return NewRunner(script.New(script.Config{Stdout: &bytes.Buffer{}}))
}

func TestPrepareDiscoversSortedTests(t *testing.T) {
	r := newRunner(t)
	tests, err := r.Prepare("tests.scr", testFile, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"test_also_passes", "test_fails", "test_passes"}, tests)
}

func TestPrepareSelection(t *testing.T) {
	r := newRunner(t)
	tests, err := r.Prepare("tests.scr", testFile, []string{"test_passes"})
	require.NoError(t, err)
	assert.Equal(t, []string{"test_passes"}, tests)

	_, err = r.Prepare("tests.scr", testFile, []string{"test_missing"})
	assert.Error(t, err)
}

func TestRunReportsFailures(t *testing.T) {
	r := newRunner(t)
	_, err := r.Prepare("tests.scr", testFile, nil)
	require.NoError(t, err)

	var started []string
	var failures []string
	s := r.Run(Callbacks{
		StartTest: func(name string) { started = append(started, name) },
		TestFailed: func(name, kind, message string) {
			failures = append(failures, name+": "+kind+": "+message)
		},
	})

	assert.Equal(t, 3, s.Ran)
	assert.Equal(t, 1, s.Failed)
	assert.False(t, s.Stopped)
	assert.Equal(t, []string{"test_also_passes", "test_fails", "test_passes"}, started)
	assert.Equal(t, []string{"test_fails: AssertionError: 1 is not 2"}, failures)
}

func TestStopAbortsBetweenTests(t *testing.T) {
	r := newRunner(t)
	_, err := r.Prepare("tests.scr", testFile, nil)
	require.NoError(t, err)

	s := r.Run(Callbacks{
		StartTest: func(name string) { r.Stop() },
	})
	assert.Equal(t, 1, s.Ran)
	assert.True(t, s.Stopped)
}
