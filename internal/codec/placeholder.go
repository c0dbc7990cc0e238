package codec

import (
	"fmt"
	"reflect"

	"github.com/curtcox/cideldill/internal/logging"
)

var log = logging.New("codec")

// Placeholder stands in for a value that could not be encoded directly.
// It carries enough of the original value's shape — type, module, a
// best-effort repr, and a shallow attribute walk — for a REPL or UI to
// show something useful instead of an opaque failure.
type Placeholder struct {
	TypeName      string             `json:"type_name"`
	Module        string             `json:"module"`
	ObjectName    string             `json:"object_name"`
	PickleError   string             `json:"pickle_error"`
	Depth         int                `json:"depth"`
	Attributes    map[string]Payload `json:"attributes"`
	FailedAttrs   map[string]string  `json:"failed_attributes"`
	IsPlaceholder bool               `json:"__placeholder__"`
}

type visitedSet struct {
	seen map[uintptr]bool
}

func newVisitedSet() *visitedSet {
	return &visitedSet{seen: map[uintptr]bool{}}
}

// identityPointer returns the pointer identity of v for cycle detection,
// and whether v is a kind that can meaningfully cycle (pointers, maps,
// slices, interfaces wrapping one of those).
func identityPointer(rv reflect.Value) (uintptr, bool) {
	for rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		if rv.IsNil() {
			return 0, false
		}
		return rv.Pointer(), true
	}
	return 0, false
}

// degradeToPayload builds a Placeholder for value (which failed to encode
// with cause) and wraps it in a Payload of format "placeholder". Callers
// at the top of the degrade path start with a fresh visited set; this
// visited set is then threaded through the recursive attribute walk so a
// self-referencing attribute resolves to a circular-reference placeholder
// instead of recursing forever.
func degradeToPayload(value any, depth int, visited *visitedSet, cause error) Payload {
	p := degrade(value, depth, visited, cause)
	data, err := gobEncode(p)
	if err != nil {
		// A Placeholder is built entirely from primitives and nested
		// Payloads, so this should be unreachable; fail loudly rather
		// than silently drop the degradation.
		panic(fmt.Sprintf("codec: placeholder itself failed to encode: %v", err))
	}
	if verboseWarnings {
		log.Debug("degraded value to placeholder", "type", p.TypeName, "cause", p.PickleError)
	}
	return Payload{CID: ComputeCID(data), Format: FormatPlaceholder, Bytes: data}
}

func degrade(value any, depth int, visited *visitedSet, cause error) Placeholder {
	rv := reflect.ValueOf(value)

	p := Placeholder{
		TypeName:      typeName(rv),
		Module:        pkgPath(rv),
		ObjectName:    safeRepr(value),
		PickleError:   causeText(cause),
		Depth:         depth,
		Attributes:    map[string]Payload{},
		FailedAttrs:   map[string]string{},
		IsPlaceholder: true,
	}

	if ptr, ok := identityPointer(rv); ok {
		if visited.seen[ptr] {
			p.PickleError = "circular reference"
			return p
		}
		visited.seen[ptr] = true
		defer delete(visited.seen, ptr)
	}

	if depth <= 0 {
		return p
	}

	structVal := rv
	for structVal.Kind() == reflect.Ptr || structVal.Kind() == reflect.Interface {
		if structVal.IsNil() {
			return p
		}
		structVal = structVal.Elem()
	}
	if structVal.Kind() != reflect.Struct {
		return p
	}

	t := structVal.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		fv := structVal.Field(i)
		if !fv.CanInterface() {
			continue
		}
		attrValue := fv.Interface()

		if encoded, err := trySerialize(attrValue, FormatBinary, depth-1); err == nil {
			p.Attributes[field.Name] = encoded
			continue
		} else if depth-1 > 0 {
			nested := degradeToPayload(attrValue, depth-1, visited, err)
			p.Attributes[field.Name] = nested
		} else {
			p.FailedAttrs[field.Name] = err.Error()
		}
	}

	return p
}

func typeName(rv reflect.Value) string {
	t := rv.Type()
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Name() == "" {
		return t.String()
	}
	return t.Name()
}

func pkgPath(rv reflect.Value) string {
	t := rv.Type()
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.PkgPath()
}

func safeRepr(value any) (repr string) {
	defer func() {
		if r := recover(); r != nil {
			repr = fmt.Sprintf("<unrepresentable: %v>", r)
		}
	}()
	if s, ok := value.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%+v", value)
}

func causeText(cause error) string {
	if cause == nil {
		return ""
	}
	return cause.Error()
}
