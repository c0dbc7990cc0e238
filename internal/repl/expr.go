package repl

import (
	"go/ast"
	"go/token"
	"reflect"
	"strconv"
	"strings"
)

// evalExpr walks an expression AST against ns, supporting the subset
// described in the package doc comment.
func evalExpr(node ast.Expr, ns map[string]any) (any, error) {
	switch n := node.(type) {
	case *ast.BasicLit:
		return evalBasicLit(n)
	case *ast.Ident:
		return evalIdent(n, ns)
	case *ast.ParenExpr:
		return evalExpr(n.X, ns)
	case *ast.UnaryExpr:
		return evalUnary(n, ns)
	case *ast.BinaryExpr:
		return evalBinary(n, ns)
	case *ast.SelectorExpr:
		return evalSelector(n, ns)
	case *ast.IndexExpr:
		return evalIndex(n, ns)
	case *ast.CallExpr:
		return evalCall(n, ns)
	default:
		return nil, newRuntimeError("SyntaxError", "unsupported expression: %T", node)
	}
}

func evalBasicLit(n *ast.BasicLit) (any, error) {
	switch n.Kind {
	case token.INT:
		v, err := strconv.ParseInt(n.Value, 0, 64)
		if err != nil {
			return nil, newRuntimeError("ValueError", "invalid integer literal %q", n.Value)
		}
		return v, nil
	case token.FLOAT:
		v, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return nil, newRuntimeError("ValueError", "invalid float literal %q", n.Value)
		}
		return v, nil
	case token.STRING:
		v, err := strconv.Unquote(n.Value)
		if err != nil {
			return nil, newRuntimeError("ValueError", "invalid string literal %q", n.Value)
		}
		return v, nil
	case token.CHAR:
		v, _, _, err := strconv.UnquoteChar(strings.Trim(n.Value, "'"), '\'')
		if err != nil {
			return nil, newRuntimeError("ValueError", "invalid char literal %q", n.Value)
		}
		return v, nil
	default:
		return nil, newRuntimeError("SyntaxError", "unsupported literal kind %v", n.Kind)
	}
}

func evalIdent(n *ast.Ident, ns map[string]any) (any, error) {
	switch n.Name {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "nil":
		return nil, nil
	}
	v, ok := ns[n.Name]
	if !ok {
		return nil, newRuntimeError("NameError", "name %q is not defined", n.Name)
	}
	return v, nil
}

func evalUnary(n *ast.UnaryExpr, ns map[string]any) (any, error) {
	x, err := evalExpr(n.X, ns)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case token.SUB:
		switch v := x.(type) {
		case int64:
			return -v, nil
		case float64:
			return -v, nil
		}
	case token.NOT:
		if b, ok := x.(bool); ok {
			return !b, nil
		}
	}
	return nil, newRuntimeError("TypeError", "unsupported operand type for unary %s: %T", n.Op, x)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func evalBinary(n *ast.BinaryExpr, ns map[string]any) (any, error) {
	if n.Op == token.LAND || n.Op == token.LOR {
		return evalLogical(n, ns)
	}

	x, err := evalExpr(n.X, ns)
	if err != nil {
		return nil, err
	}
	y, err := evalExpr(n.Y, ns)
	if err != nil {
		return nil, err
	}

	if xs, ok := x.(string); ok {
		ys, ok2 := y.(string)
		if !ok2 {
			return nil, newRuntimeError("TypeError", "cannot combine string with %T", y)
		}
		return evalStringOp(n.Op, xs, ys)
	}

	xi, xIsInt := x.(int64)
	yi, yIsInt := y.(int64)
	if xIsInt && yIsInt {
		return evalIntOp(n.Op, xi, yi)
	}

	xf, xok := asFloat(x)
	yf, yok := asFloat(y)
	if xok && yok {
		return evalFloatOp(n.Op, xf, yf)
	}

	return nil, newRuntimeError("TypeError", "unsupported operand types for %s: %T and %T", n.Op, x, y)
}

func evalLogical(n *ast.BinaryExpr, ns map[string]any) (any, error) {
	x, err := evalExpr(n.X, ns)
	if err != nil {
		return nil, err
	}
	xb, ok := x.(bool)
	if !ok {
		return nil, newRuntimeError("TypeError", "non-bool operand to %s: %T", n.Op, x)
	}
	if n.Op == token.LAND && !xb {
		return false, nil
	}
	if n.Op == token.LOR && xb {
		return true, nil
	}
	y, err := evalExpr(n.Y, ns)
	if err != nil {
		return nil, err
	}
	yb, ok := y.(bool)
	if !ok {
		return nil, newRuntimeError("TypeError", "non-bool operand to %s: %T", n.Op, y)
	}
	return yb, nil
}

func evalStringOp(op token.Token, x, y string) (any, error) {
	switch op {
	case token.ADD:
		return x + y, nil
	case token.EQL:
		return x == y, nil
	case token.NEQ:
		return x != y, nil
	case token.LSS:
		return x < y, nil
	case token.LEQ:
		return x <= y, nil
	case token.GTR:
		return x > y, nil
	case token.GEQ:
		return x >= y, nil
	}
	return nil, newRuntimeError("TypeError", "unsupported string operator %s", op)
}

func evalIntOp(op token.Token, x, y int64) (any, error) {
	switch op {
	case token.ADD:
		return x + y, nil
	case token.SUB:
		return x - y, nil
	case token.MUL:
		return x * y, nil
	case token.QUO:
		if y == 0 {
			return nil, newRuntimeError("ZeroDivisionError", "integer division by zero")
		}
		return x / y, nil
	case token.REM:
		if y == 0 {
			return nil, newRuntimeError("ZeroDivisionError", "integer division by zero")
		}
		return x % y, nil
	case token.EQL:
		return x == y, nil
	case token.NEQ:
		return x != y, nil
	case token.LSS:
		return x < y, nil
	case token.LEQ:
		return x <= y, nil
	case token.GTR:
		return x > y, nil
	case token.GEQ:
		return x >= y, nil
	}
	return nil, newRuntimeError("TypeError", "unsupported integer operator %s", op)
}

func evalFloatOp(op token.Token, x, y float64) (any, error) {
	switch op {
	case token.ADD:
		return x + y, nil
	case token.SUB:
		return x - y, nil
	case token.MUL:
		return x * y, nil
	case token.QUO:
		if y == 0 {
			return nil, newRuntimeError("ZeroDivisionError", "float division by zero")
		}
		return x / y, nil
	case token.EQL:
		return x == y, nil
	case token.NEQ:
		return x != y, nil
	case token.LSS:
		return x < y, nil
	case token.LEQ:
		return x <= y, nil
	case token.GTR:
		return x > y, nil
	case token.GEQ:
		return x >= y, nil
	}
	return nil, newRuntimeError("TypeError", "unsupported float operator %s", op)
}

// evalSelector resolves x.Name by reflecting into struct fields of an
// evaluated namespace value, or map/pointer chains thereof.
func evalSelector(n *ast.SelectorExpr, ns map[string]any) (any, error) {
	x, err := evalExpr(n.X, ns)
	if err != nil {
		return nil, err
	}
	rv := reflect.ValueOf(x)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, newRuntimeError("AttributeError", "nil has no attribute %q", n.Sel.Name)
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, newRuntimeError("AttributeError", "%T has no attribute %q", x, n.Sel.Name)
	}
	field := rv.FieldByName(n.Sel.Name)
	if !field.IsValid() || !field.CanInterface() {
		return nil, newRuntimeError("AttributeError", "%T has no attribute %q", x, n.Sel.Name)
	}
	return field.Interface(), nil
}

// evalIndex resolves x[index] over slices, arrays and maps.
func evalIndex(n *ast.IndexExpr, ns map[string]any) (any, error) {
	x, err := evalExpr(n.X, ns)
	if err != nil {
		return nil, err
	}
	idx, err := evalExpr(n.Index, ns)
	if err != nil {
		return nil, err
	}

	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.String:
		i, ok := idx.(int64)
		if !ok {
			return nil, newRuntimeError("TypeError", "index must be an integer, not %T", idx)
		}
		if i < 0 || int(i) >= rv.Len() {
			return nil, newRuntimeError("IndexError", "index out of range")
		}
		return rv.Index(int(i)).Interface(), nil
	case reflect.Map:
		key := reflect.ValueOf(idx)
		val := rv.MapIndex(key)
		if !val.IsValid() {
			return nil, newRuntimeError("KeyError", "%v", idx)
		}
		return val.Interface(), nil
	default:
		return nil, newRuntimeError("TypeError", "%T is not indexable", x)
	}
}

// evalCall calls a function/method value stored in the namespace or
// reachable via a selector. Panics inside the called value are
// recovered and reported as runtime errors rather than crashing the
// evaluator.
func evalCall(n *ast.CallExpr, ns map[string]any) (result any, err error) {
	fn, err := evalExpr(n.Fun, ns)
	if err != nil {
		return nil, err
	}
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func {
		return nil, newRuntimeError("TypeError", "%T is not callable", fn)
	}

	args := make([]reflect.Value, 0, len(n.Args))
	for _, a := range n.Args {
		v, err := evalExpr(a, ns)
		if err != nil {
			return nil, err
		}
		args = append(args, reflect.ValueOf(v))
	}

	defer func() {
		if r := recover(); r != nil {
			err = newRuntimeError("RuntimeError", "%v", r)
		}
	}()

	out := rv.Call(args)
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0].Interface(), nil
	default:
		vals := make([]any, len(out))
		for i, o := range out {
			vals[i] = o.Interface()
		}
		return vals, nil
	}
}
