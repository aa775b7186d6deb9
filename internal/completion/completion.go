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

// Package completion computes identifier completions for the debugger
// console. Only the fragment after the last shell-style delimiter is
// completed, so completion works inside larger expressions. Dotted
// fragments descend map values and complete their keys.
package completion

import (
	"sort"
	"strings"
)

// delimiters end the completable fragment of a console line.
const delimiters = " \t\n`~!@#$%^&*()-=+[{]}\\|;:'\",<>/?"

// Fragment returns the trailing completable part of a console line.
func Fragment(text string) string {
	if i := strings.LastIndexAny(text, delimiters); i >= 0 {
		return text[i+1:]
	}
	return text
}

// Complete lists the completions of the trailing fragment of text.
// names is the flat identifier universe; ns allows dotted fragments
// to descend nested maps. The returned fragment is what the matches
// replace.
func Complete(text string, names []string, ns map[string]any) (matches []string, fragment string) {
	fragment = Fragment(text)
	if fragment == "" {
		return nil, fragment
	}

	seen := make(map[string]struct{})
	if strings.Contains(fragment, ".") {
		matches = dotted(fragment, ns, seen)
	} else {
		for _, name := range names {
			if strings.HasPrefix(name, fragment) {
				seen[name] = struct{}{}
			}
		}
		for name := range seen {
			matches = append(matches, name)
		}
	}
	sort.Strings(matches)
	return matches, fragment
}

// dotted completes "a.b.c" fragments: every part but the last must
// name a map to descend into; the last part is a key prefix.
func dotted(fragment string, ns map[string]any, seen map[string]struct{}) []string {
	parts := strings.Split(fragment, ".")
	prefix := parts[len(parts)-1]
	base := strings.Join(parts[:len(parts)-1], ".")

	cur := ns
	for _, part := range parts[:len(parts)-1] {
		child, ok := cur[part].(map[string]any)
		if !ok {
			return nil
		}
		cur = child
	}

	var matches []string
	for key := range cur {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		full := base + "." + key
		if _, dup := seen[full]; !dup {
			seen[full] = struct{}{}
			matches = append(matches, full)
		}
	}
	return matches
}
