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

package breakpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rt "github.com/tombee/debugd/internal/runtime"
	"github.com/tombee/debugd/pkg/errors"
)

type fakeFrame struct {
	locals  map[string]any
	globals map[string]any
}

func (f *fakeFrame) Filename() string        { return "main.scr" }
func (f *fakeFrame) Line() int               { return 1 }
func (f *fakeFrame) Function() string        { return "" }
func (f *fakeFrame) Locals() map[string]any  { return f.locals }
func (f *fakeFrame) Globals() map[string]any { return f.globals }
func (f *fakeFrame) Parent() rt.Frame        { return nil }
func (f *fakeFrame) Depth() int              { return 0 }
func (f *fakeFrame) ArgsString() string      { return "" }

func frameWith(locals map[string]any) *fakeFrame {
	return &fakeFrame{locals: locals, globals: map[string]any{}}
}

func TestEffectiveBreakUnconditional(t *testing.T) {
	r := NewRegistry()
	_, err := r.SetBreak("main.scr", 3, false, "")
	require.NoError(t, err)

	f := frameWith(map[string]any{})
	bp, hit := r.EffectiveBreak("main.scr", 3, f)
	require.True(t, hit)
	assert.Equal(t, 1, bp.Hits)

	_, hit = r.EffectiveBreak("main.scr", 4, f)
	assert.False(t, hit)
	_, hit = r.EffectiveBreak("other.scr", 3, f)
	assert.False(t, hit)
}

func TestEffectiveBreakCondition(t *testing.T) {
	r := NewRegistry()
	_, err := r.SetBreak("main.scr", 3, false, "n > 5")
	require.NoError(t, err)

	_, hit := r.EffectiveBreak("main.scr", 3, frameWith(map[string]any{"n": 2}))
	assert.False(t, hit)
	_, hit = r.EffectiveBreak("main.scr", 3, frameWith(map[string]any{"n": 9}))
	assert.True(t, hit)
}

func TestEffectiveBreakEvalFailureStops(t *testing.T) {
	r := NewRegistry()
	// Calling something that is not a function fails at evaluation
	// time; the breakpoint still fires.
	_, err := r.SetBreak("main.scr", 3, false, "n() > 0")
	require.NoError(t, err)

	_, hit := r.EffectiveBreak("main.scr", 3, frameWith(map[string]any{"n": 1}))
	assert.True(t, hit)
}

func TestSetBreakBadConditionReported(t *testing.T) {
	r := NewRegistry()
	_, err := r.SetBreak("main.scr", 3, false, "n >")
	require.Error(t, err)
	assert.True(t, errors.IsCondition(err))
	_, ok := r.Break("main.scr", 3)
	assert.False(t, ok)
}

func TestBreakIgnoreCountAndDisable(t *testing.T) {
	r := NewRegistry()
	_, err := r.SetBreak("main.scr", 3, false, "")
	require.NoError(t, err)
	require.NoError(t, r.IgnoreBreak("main.scr", 3, 2))

	f := frameWith(map[string]any{})
	_, hit := r.EffectiveBreak("main.scr", 3, f)
	assert.False(t, hit)
	_, hit = r.EffectiveBreak("main.scr", 3, f)
	assert.False(t, hit)
	_, hit = r.EffectiveBreak("main.scr", 3, f)
	assert.True(t, hit)

	require.NoError(t, r.EnableBreak("main.scr", 3, false))
	_, hit = r.EffectiveBreak("main.scr", 3, f)
	assert.False(t, hit)
}

func TestEnableBreakUnknownLocation(t *testing.T) {
	r := NewRegistry()
	err := r.EnableBreak("main.scr", 99, true)
	assert.True(t, errors.IsNotFound(err))
}

func TestWatchConditionFires(t *testing.T) {
	r := NewRegistry()
	_, err := r.SetWatch("x == 4", false)
	require.NoError(t, err)

	_, hit := r.EffectiveWatch(frameWith(map[string]any{"x": 3}))
	assert.False(t, hit)
	w, hit := r.EffectiveWatch(frameWith(map[string]any{"x": 4}))
	require.True(t, hit)
	assert.Equal(t, "x == 4", w.Condition)
}

func TestWatchCreatedSentinelNotCompiled(t *testing.T) {
	r := NewRegistry()
	// The sentinel suffix is not expression syntax; registration
	// must succeed without compiling it.
	_, err := r.SetWatch("flag ??created??", false)
	require.NoError(t, err)

	f := frameWith(map[string]any{})
	_, hit := r.EffectiveWatch(f)
	assert.False(t, hit)

	f.locals["flag"] = 1
	_, hit = r.EffectiveWatch(f)
	assert.True(t, hit)
}

func TestWatchCreatedExistingVariable(t *testing.T) {
	r := NewRegistry()
	_, err := r.SetWatch("flag ??created??", false)
	require.NoError(t, err)

	// The first check of a frame only arms the watch, even when the
	// variable is already there; the second fires.
	f := frameWith(map[string]any{"flag": 1})
	_, hit := r.EffectiveWatch(f)
	assert.False(t, hit)

	_, hit = r.EffectiveWatch(f)
	assert.True(t, hit)

	// Fired watches stay quiet until the variable goes away and
	// comes back.
	_, hit = r.EffectiveWatch(f)
	assert.False(t, hit)

	delete(f.locals, "flag")
	_, hit = r.EffectiveWatch(f)
	assert.False(t, hit)

	f.locals["flag"] = 2
	_, hit = r.EffectiveWatch(f)
	assert.True(t, hit)
}

func TestWatchChangedSentinel(t *testing.T) {
	r := NewRegistry()
	_, err := r.SetWatch("x ??changed??", false)
	require.NoError(t, err)

	f := frameWith(map[string]any{"x": 1})
	_, hit := r.EffectiveWatch(f)
	assert.False(t, hit, "first sighting records without firing")

	_, hit = r.EffectiveWatch(f)
	assert.False(t, hit, "unchanged value stays quiet")

	f.locals["x"] = 2
	_, hit = r.EffectiveWatch(f)
	assert.True(t, hit)
}

func TestWatchStateIsolatedPerFrame(t *testing.T) {
	r := NewRegistry()
	_, err := r.SetWatch("x ??changed??", false)
	require.NoError(t, err)

	a := frameWith(map[string]any{"x": 1})
	b := frameWith(map[string]any{"x": 1})
	r.EffectiveWatch(a)
	r.EffectiveWatch(b)

	a.locals["x"] = 2
	_, hit := r.EffectiveWatch(b)
	assert.False(t, hit)
	_, hit = r.EffectiveWatch(a)
	assert.True(t, hit)
}

func TestClearAndReset(t *testing.T) {
	r := NewRegistry()
	_, err := r.SetBreak("main.scr", 3, false, "")
	require.NoError(t, err)
	_, err = r.SetWatch("x ??changed??", false)
	require.NoError(t, err)

	assert.True(t, r.HasBreaks("main.scr"))
	assert.True(t, r.HasWatches())

	f := frameWith(map[string]any{"x": 1})
	r.EffectiveWatch(f)
	r.ResetWatchState()
	f.locals["x"] = 2
	_, hit := r.EffectiveWatch(f)
	assert.False(t, hit, "reset forgets the recorded value")

	r.Clear()
	assert.False(t, r.HasBreaks("main.scr"))
	assert.False(t, r.HasWatches())
}
