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

// Package varlist renders runtime namespaces for variable display.
// Scalars carry their literal value; containers carry an item count
// and are expanded lazily, one path segment per request, so huge
// structures never cross the wire whole. Any panic while probing a
// single value downgrades that value to an opaque entry rather than
// failing the whole list.
package varlist

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/tombee/debugd/internal/protocol"
	rt "github.com/tombee/debugd/internal/runtime"
	"github.com/tombee/debugd/pkg/errors"
)

// TypeStrings is the closed type vocabulary used on the wire. Index 0
// is not a type: it is the filter bit hiding double-underscore names.
var TypeStrings = []string{
	"__",
	"nil",
	"bool",
	"int",
	"float",
	"str",
	"list",
	"map",
	"function",
	"builtin",
	"other",
}

// HiddenIndex is the TypeStrings slot reserved for the hidden-name
// filter bit.
const HiddenIndex = 0

// MaxChildren caps how many container entries one reply carries. A
// container with more gets a trailing "..." summary entry.
const MaxChildren = 500

// TypeIndex maps a type name back to its TypeStrings slot, -1 for
// unknown names.
func TypeIndex(name string) int {
	for i, s := range TypeStrings {
		if s == name {
			return i
		}
	}
	return -1
}

// TypeOf classifies a runtime value into the wire vocabulary.
func TypeOf(v any) (string, int) {
	name := classify(v)
	return name, TypeIndex(name)
}

func classify(v any) string {
	switch v.(type) {
	case nil:
		return "nil"
	case bool:
		return "bool"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "int"
	case float32, float64:
		return "float"
	case string:
		return "str"
	case []any:
		return "list"
	case map[string]any:
		return "map"
	}
	if _, ok := v.(rt.Callable); ok {
		return "function"
	}
	if name, ok := formatterNameFor(v); ok {
		return name
	}
	rv := reflectValue(v)
	switch rv.kind {
	case kindSlice:
		return "list"
	case kindMap:
		return "map"
	case kindFunc:
		return "builtin"
	}
	return "other"
}

// Filter restricts which entries a listing includes.
type Filter struct {
	// ExcludeTypes holds TypeStrings indices to drop. Index 0 drops
	// names with a double-underscore prefix.
	ExcludeTypes []int

	// Pattern excludes entries whose name matches.
	Pattern *regexp.Regexp
}

// CompileFilter builds a Filter from wire form: a list of type
// indices and an optional exclusion regex.
func CompileFilter(indices []int, pattern string) (Filter, error) {
	f := Filter{ExcludeTypes: indices}
	if pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return Filter{}, &errors.ValidationError{
				Field:      "pattern",
				Message:    fmt.Sprintf("invalid filter pattern: %v", err),
				Suggestion: "use a valid regular expression",
			}
		}
		f.Pattern = re
	}
	return f, nil
}

func (f Filter) excludes(name, typeName string) bool {
	for _, idx := range f.ExcludeTypes {
		if idx == HiddenIndex && strings.HasPrefix(name, "__") {
			return true
		}
		if idx > 0 && idx < len(TypeStrings) && TypeStrings[idx] == typeName {
			return true
		}
	}
	return f.Pattern != nil && f.Pattern.MatchString(name)
}

// List renders a namespace, filtered and sorted by name.
func List(ns map[string]any, filter Filter) []protocol.Variable {
	names := make([]string, 0, len(ns))
	for name := range ns {
		names = append(names, name)
	}
	sort.Strings(names)

	vars := make([]protocol.Variable, 0, len(names))
	for _, name := range names {
		v := Entry(name, ns[name])
		if filter.excludes(name, v.Type) {
			continue
		}
		vars = append(vars, v)
	}
	return vars
}

// Entry renders one name/value pair, swallowing probe panics.
func Entry(name string, v any) (out protocol.Variable) {
	defer func() {
		if r := recover(); r != nil {
			out = protocol.Variable{Name: name, Type: "other", Value: "<unrepresentable>"}
		}
	}()
	typeName, _ := TypeOf(v)
	return protocol.Variable{Name: name, Type: typeName, Value: Render(v)}
}

// Render produces the display value: literals for scalars, item
// counts for containers, registered formatters for foreign types.
func Render(v any) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case string:
		return strconv.Quote(x)
	case []any:
		return itemCount(len(x))
	case map[string]any:
		return itemCount(len(x))
	}
	if c, ok := v.(rt.Callable); ok {
		return c.Signature()
	}
	if s, ok := format(v); ok {
		return s
	}
	rv := reflectValue(v)
	switch rv.kind {
	case kindSlice, kindMap:
		return itemCount(rv.len)
	case kindFunc:
		return "<builtin>"
	}
	return fmt.Sprintf("%v", v)
}

func itemCount(n int) string {
	if n == 1 {
		return "1 item"
	}
	return fmt.Sprintf("%d items", n)
}

// Resolve walks an access path from a namespace to the value it
// names. Path segments carry the display suffixes "[]", "{}" and
// "()"; these are presentation only and are stripped before lookup.
// List segments are decimal indices, map segments are key strings.
func Resolve(ns map[string]any, path []string) (any, error) {
	var cur any = ns
	for _, seg := range path {
		name := TrimSuffixes(seg)
		next, err := descend(cur, name)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// TrimSuffixes strips the container display suffixes from a path
// segment.
func TrimSuffixes(seg string) string {
	for _, suf := range []string{"[]", "{}", "()"} {
		seg = strings.TrimSuffix(seg, suf)
	}
	return seg
}

func descend(v any, name string) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		child, ok := x[name]
		if !ok {
			return nil, &errors.NotFoundError{Resource: "variable", ID: name}
		}
		return child, nil
	case []any:
		idx, err := strconv.Atoi(name)
		if err != nil || idx < 0 || idx >= len(x) {
			return nil, &errors.NotFoundError{Resource: "list index", ID: name}
		}
		return x[idx], nil
	}
	return nil, &errors.NotFoundError{Resource: "variable", ID: name}
}

// Children expands one container level. Containers larger than
// MaxChildren are cut off with a trailing summary entry so a huge
// value never floods a reply.
func Children(v any, filter Filter) []protocol.Variable {
	switch x := v.(type) {
	case []any:
		n := len(x)
		limit := n
		if limit > MaxChildren {
			limit = MaxChildren
		}
		vars := make([]protocol.Variable, 0, limit)
		for i := 0; i < limit; i++ {
			vars = append(vars, Entry(strconv.Itoa(i), x[i]))
		}
		if n > limit {
			vars = append(vars, protocol.Variable{
				Name:  "...",
				Type:  "list",
				Value: fmt.Sprintf("%d more items", n-limit),
			})
		}
		return vars

	case map[string]any:
		vars := List(x, filter)
		if len(vars) > MaxChildren {
			rest := len(vars) - MaxChildren
			vars = vars[:MaxChildren]
			vars = append(vars, protocol.Variable{
				Name:  "...",
				Type:  "map",
				Value: fmt.Sprintf("%d more items", rest),
			})
		}
		return vars
	}
	return nil
}

// Summary builds the trailing ("...", kind, count) entry appended to
// a container listing when the request did not carry an explicit
// descent suffix; the peer uses it for its "show more" affordance.
// The second return is false for non-container values.
func Summary(v any) (protocol.Variable, bool) {
	switch x := v.(type) {
	case []any:
		return protocol.Variable{Name: "...", Type: "list", Value: strconv.Itoa(len(x))}, true
	case map[string]any:
		return protocol.Variable{Name: "...", Type: "map", Value: strconv.Itoa(len(x))}, true
	}
	rv := reflectValue(v)
	switch rv.kind {
	case kindSlice:
		return protocol.Variable{Name: "...", Type: "list", Value: strconv.Itoa(rv.len)}, true
	case kindMap:
		return protocol.Variable{Name: "...", Type: "map", Value: strconv.Itoa(rv.len)}, true
	}
	return protocol.Variable{}, false
}

// HasSuffix reports whether a path segment carries one of the
// container descent suffixes.
func HasSuffix(seg string) bool {
	return TrimSuffixes(seg) != seg
}

// DisplayName decorates a variable name with the drill-down suffix
// matching its type, signalling expandability to the peer.
func DisplayName(name, typeName string) string {
	switch typeName {
	case "list":
		return name + "[]"
	case "map":
		return name + "{}"
	case "function":
		return name + "()"
	}
	return name
}
