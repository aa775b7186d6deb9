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

// Package textenc decodes script source files. A file may declare its
// encoding in a comment on one of its first two lines, e.g.
//
//	# coding: latin-1
//
// Declared names are resolved through the IANA registry. Files without
// a declaration are treated as UTF-8.
package textenc

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// DefaultCoding is assumed when a file carries no declaration.
const DefaultCoding = "utf-8"

var codingRe = regexp.MustCompile(`coding[:=]\s*([-\w_.]+)`)

// codingAliases maps common declaration spellings that the IANA
// registry does not list to their registered equivalents.
var codingAliases = map[string]string{
	"latin-1": "latin1",
	"utf8":    "utf-8",
	"ascii":   "us-ascii",
	"cp1252":  "windows-1252",
}

// DetectCoding inspects the first two lines of src for an encoding
// declaration and returns the declared name, or DefaultCoding when
// none is found.
func DetectCoding(src []byte) string {
	lines := bytes.SplitN(src, []byte("\n"), 3)
	for i := 0; i < len(lines) && i < 2; i++ {
		if m := codingRe.FindSubmatch(lines[i]); m != nil {
			return string(m[1])
		}
	}
	return DefaultCoding
}

// Decode converts src to UTF-8 using the named coding. Unknown coding
// names are an error; the caller decides whether to fall back.
func Decode(src []byte, coding string) (string, error) {
	enc, err := lookup(coding)
	if err != nil {
		return "", err
	}
	decoded, err := enc.NewDecoder().Bytes(src)
	if err != nil {
		return "", fmt.Errorf("failed to decode as %s: %w", coding, err)
	}
	return string(decoded), nil
}

// lookup resolves a declared coding name. Declarations arrive in
// whatever spelling the source author used, so the name is folded and
// mapped through codingAliases before the registry lookups.
func lookup(coding string) (encoding.Encoding, error) {
	name := strings.ToLower(strings.ReplaceAll(coding, "_", "-"))
	if alias, ok := codingAliases[name]; ok {
		name = alias
	}
	if enc, err := ianaindex.IANA.Encoding(name); err == nil && enc != nil {
		return enc, nil
	}
	if enc, err := ianaindex.MIME.Encoding(name); err == nil && enc != nil {
		return enc, nil
	}
	return nil, fmt.Errorf("unknown coding %q", coding)
}

// ReadFile loads and decodes a source file.
//
// When honorDeclaration is true the coding comment in the file wins,
// falling back to defaultCoding for files without one. When false the
// declaration is ignored and defaultCoding applies throughout; an
// empty defaultCoding means UTF-8. A UTF-8 byte order mark is stripped
// either way.
//
// The detected coding is returned alongside the text so the engine can
// report it back to the peer.
func ReadFile(path, defaultCoding string, honorDeclaration bool) (text, coding string, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	raw = bytes.TrimPrefix(raw, []byte{0xef, 0xbb, 0xbf})

	coding = defaultCoding
	if honorDeclaration {
		coding = DetectCoding(raw)
	}
	if coding == "" {
		coding = DefaultCoding
	}
	text, err = Decode(raw, coding)
	if err != nil {
		// An unusable declaration degrades to UTF-8 rather than
		// refusing to load the program.
		return string(raw), DefaultCoding, nil
	}
	return text, coding, nil
}
