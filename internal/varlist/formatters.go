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

package varlist

import (
	"reflect"
	"time"
)

// Formatter renders one foreign type for display.
type Formatter struct {
	// TypeName is the wire type reported for matching values. It
	// must be a member of TypeStrings.
	TypeName string

	// Render produces the display value.
	Render func(v any) string
}

var formatters = map[reflect.Type]Formatter{}

// RegisterFormatter installs a display formatter for a concrete type,
// replacing any previous one. Registration is expected at program
// start, before listings run.
func RegisterFormatter(t reflect.Type, f Formatter) {
	formatters[t] = f
}

func init() {
	RegisterFormatter(reflect.TypeOf(time.Time{}), Formatter{
		TypeName: "other",
		Render: func(v any) string {
			return v.(time.Time).Format(time.RFC3339)
		},
	})
	RegisterFormatter(reflect.TypeOf(time.Duration(0)), Formatter{
		TypeName: "other",
		Render: func(v any) string {
			return v.(time.Duration).String()
		},
	})
}

func formatterNameFor(v any) (string, bool) {
	f, ok := formatters[reflect.TypeOf(v)]
	if !ok {
		return "", false
	}
	return f.TypeName, true
}

func format(v any) (string, bool) {
	f, ok := formatters[reflect.TypeOf(v)]
	if !ok {
		return "", false
	}
	return f.Render(v), true
}

type valueKind int

const (
	kindOther valueKind = iota
	kindSlice
	kindMap
	kindFunc
)

type valueInfo struct {
	kind valueKind
	len  int
}

// reflectValue probes values outside the concrete fast paths.
func reflectValue(v any) valueInfo {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return valueInfo{kind: kindSlice, len: rv.Len()}
	case reflect.Map:
		return valueInfo{kind: kindMap, len: rv.Len()}
	case reflect.Func:
		return valueInfo{kind: kindFunc}
	}
	return valueInfo{kind: kindOther}
}
