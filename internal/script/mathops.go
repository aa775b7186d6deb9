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

package script

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	exprrt "github.com/expr-lang/expr/vm/runtime"

	rt "github.com/tombee/debugd/internal/runtime"
)

// The expression grammar divides through to infinity on a zero
// divisor. Scripts raise instead, so every compile rewrites the
// division operators into the checked builtins below.
const (
	divBuiltin = "__div__"
	modBuiltin = "__mod__"
)

var compileOpts = []expr.Option{expr.Patch(divPatcher{})}

type divPatcher struct{}

func (divPatcher) Visit(node *ast.Node) {
	n, ok := (*node).(*ast.BinaryNode)
	if !ok {
		return
	}
	var name string
	switch n.Operator {
	case "/":
		name = divBuiltin
	case "%":
		name = modBuiltin
	default:
		return
	}
	ast.Patch(node, &ast.CallNode{
		Callee:    &ast.IdentifierNode{Value: name},
		Arguments: []ast.Node{n.Left, n.Right},
	})
}

func checkedDiv(a, b any) (any, error) {
	if zeroDivisor(b) {
		return nil, &rt.RuntimeError{Kind: "ZeroDivisionError", Message: "division by zero"}
	}
	return exprrt.Divide(a, b), nil
}

func checkedMod(a, b any) (any, error) {
	if zeroDivisor(b) {
		return nil, &rt.RuntimeError{Kind: "ZeroDivisionError", Message: "modulo by zero"}
	}
	return exprrt.Modulo(a, b), nil
}

func zeroDivisor(v any) bool {
	switch x := v.(type) {
	case int:
		return x == 0
	case int32:
		return x == 0
	case int64:
		return x == 0
	case uint64:
		return x == 0
	case float32:
		return x == 0
	case float64:
		return x == 0
	}
	return false
}
