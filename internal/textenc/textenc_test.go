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

package textenc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectCoding(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"first line", "# coding: latin-1\nx = 1\n", "latin-1"},
		{"second line", "# hello\n# coding= iso-8859-15\n", "iso-8859-15"},
		{"third line ignored", "x = 1\ny = 2\n# coding: latin-1\n", "utf-8"},
		{"no declaration", "x = 1\n", "utf-8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectCoding([]byte(tt.src)))
		})
	}
}

func TestDecodeLatin1(t *testing.T) {
	// 0xe9 is e-acute in latin-1.
	text, err := Decode([]byte{'v', 0xe9, 'l', 'o'}, "latin-1")
	require.NoError(t, err)
	assert.Equal(t, "vélo", text)
}

func TestDecodeAliasSpellings(t *testing.T) {
	tests := []struct {
		coding string
		src    []byte
		want   string
	}{
		{"latin-1", []byte{0xe9}, "é"},
		{"Latin_1", []byte{0xe9}, "é"},
		{"ISO-8859-1", []byte{0xe9}, "é"},
		{"utf8", []byte("é"), "é"},
		{"cp1252", []byte{0x80}, "€"},
	}
	for _, tt := range tests {
		t.Run(tt.coding, func(t *testing.T) {
			text, err := Decode(tt.src, tt.coding)
			require.NoError(t, err)
			assert.Equal(t, tt.want, text)
		})
	}
}

func TestDecodeUnknownCoding(t *testing.T) {
	_, err := Decode([]byte("x"), "no-such-coding")
	assert.Error(t, err)
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "declared.scr")
	require.NoError(t, os.WriteFile(path, append([]byte("# coding: latin-1\ns = \""), append([]byte{0xe9}, []byte("\"\n")...)...), 0o644))

	text, coding, err := ReadFile(path, "", true)
	require.NoError(t, err)
	assert.Equal(t, "latin-1", coding)
	assert.Contains(t, text, "é")

	// Ignoring the declaration keeps the raw byte interpretation.
	_, coding, err = ReadFile(path, "utf-8", false)
	require.NoError(t, err)
	assert.Equal(t, "utf-8", coding)
}

func TestReadFileStripsBOM(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bom.scr")
	require.NoError(t, os.WriteFile(path, []byte("\xef\xbb\xbfx = 1\n"), 0o644))

	text, _, err := ReadFile(path, "", true)
	require.NoError(t, err)
	assert.Equal(t, "x = 1\n", text)
}
