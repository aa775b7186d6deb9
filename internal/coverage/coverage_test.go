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

package coverage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Path: filepath.Join(t.TempDir(), "coverage.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndLines(t *testing.T) {
	s := newStore(t)
	s.Record("main.scr", 3)
	s.Record("main.scr", 3)
	s.Record("main.scr", 5)
	s.Record("other.scr", 1)

	lines, err := s.Lines(context.Background(), "main.scr")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5}, lines)
}

func TestSaveAccumulatesAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coverage.db")
	ctx := context.Background()

	s, err := New(Config{Path: path})
	require.NoError(t, err)
	s.Record("main.scr", 1)
	require.NoError(t, s.Save(ctx))
	require.NoError(t, s.Close())

	s, err = New(Config{Path: path})
	require.NoError(t, err)
	defer s.Close()
	s.Record("main.scr", 2)
	require.NoError(t, s.Save(ctx))

	lines, err := s.Lines(ctx, "main.scr")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, lines)
}

func TestErase(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	s.Record("main.scr", 1)
	require.NoError(t, s.Save(ctx))
	require.NoError(t, s.Erase(ctx))

	lines, err := s.Lines(ctx, "main.scr")
	require.NoError(t, err)
	assert.Empty(t, lines)
}
