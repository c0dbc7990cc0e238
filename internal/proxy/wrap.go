package proxy

import (
	"context"
	"fmt"
	"reflect"
)

// WrapFunc returns a same-signature wrapper around fn: every invocation
// is reported through client under name, and honors whatever resume
// action a paused breakpoint returns. This is the typed-call-site
// counterpart to Wrap/Proxied.Call, built with reflect.MakeFunc since Go
// generics can't themselves describe "any function type."
//
// Resume actions that replace a result outright (skip, a breakpoint's
// fake_result) carry a single decoded value; for fn with more than one
// return value, that value fills the first output and the rest zero.
func WrapFunc[F any](fn F, name string, client *Client) F {
	proxied := Wrap(fn, name, client)

	fnValue := reflect.ValueOf(fn)
	fnType := fnValue.Type()
	if fnType.Kind() != reflect.Func {
		panic(fmt.Sprintf("proxy: WrapFunc requires a function, got %s", fnType.Kind()))
	}

	wrapper := reflect.MakeFunc(fnType, func(in []reflect.Value) []reflect.Value {
		args := make([]any, len(in))
		for i, v := range in {
			args[i] = v.Interface()
		}

		result, err := proxied.Call(context.Background(), name, args, nil, func(args []any, _ map[string]any) (any, error) {
			callArgs := make([]reflect.Value, len(args))
			for i, a := range args {
				callArgs[i] = coerceToType(a, fnType.In(i))
			}
			outs := fnValue.Call(callArgs)
			return outsToAny(outs), nil
		})
		if err != nil {
			return zeroResults(fnType)
		}
		return anyToOuts(result, fnType)
	})

	return wrapper.Interface().(F)
}

// outsToAny packs reflect call results into a plain value for recording:
// zero outputs -> nil, one -> that value, several -> []any in order.
func outsToAny(outs []reflect.Value) any {
	switch len(outs) {
	case 0:
		return nil
	case 1:
		return outs[0].Interface()
	default:
		vals := make([]any, len(outs))
		for i, o := range outs {
			vals[i] = o.Interface()
		}
		return vals
	}
}

// anyToOuts is outsToAny's inverse, used both for the normal return path
// and for resume actions (skip/replace) that hand back a bare value
// meant for the first (and usually only) output.
func anyToOuts(result any, fnType reflect.Type) []reflect.Value {
	n := fnType.NumOut()
	out := make([]reflect.Value, n)
	if n == 0 {
		return out
	}

	if vals, ok := result.([]any); ok && n > 1 {
		for i := range out {
			if i < len(vals) {
				out[i] = coerceToType(vals[i], fnType.Out(i))
			} else {
				out[i] = reflect.Zero(fnType.Out(i))
			}
		}
		return out
	}

	out[0] = coerceToType(result, fnType.Out(0))
	for i := 1; i < n; i++ {
		out[i] = reflect.Zero(fnType.Out(i))
	}
	return out
}

// coerceToType converts a decoded value (often a codec round trip that
// turned an int into a float64, as JSON numbers do) into t, falling back
// to the type's zero value when no reasonable conversion exists.
func coerceToType(value any, t reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(t)
	}
	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(t) {
		return rv
	}
	if rv.Type().ConvertibleTo(t) {
		return rv.Convert(t)
	}
	return reflect.Zero(t)
}

func zeroResults(fnType reflect.Type) []reflect.Value {
	out := make([]reflect.Value, fnType.NumOut())
	for i := range out {
		out[i] = reflect.Zero(fnType.Out(i))
	}
	return out
}
