// Package codec encodes values to content-addressed byte blobs, with
// graceful degradation to a structured Placeholder when a value can't
// be encoded.
//
// Go has no direct analogue of Python's dill-based arbitrary object
// graph pickler. Binary encoding uses encoding/gob over a registered-type
// envelope — callers Register concrete types they want the proxy to carry
// across the wire, the same role Python's "custom picklers" play:
// an unregistered or inherently non-portable type simply fails to gob-
// encode and degrades to a Placeholder instead of propagating an error.
package codec

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
)

// Format names the wire encoding of a Payload.
type Format string

const (
	FormatBinary      Format = "binary"
	FormatJSON        Format = "json"
	FormatPlaceholder Format = "placeholder"
)

// Payload is an immutable, content-addressed byte blob.
type Payload struct {
	CID    string `json:"cid"`
	Format Format `json:"format"`
	Bytes  []byte `json:"-"`
}

// DefaultMaxDepth is the attribute-walk depth used by Serialize when a
// value can't be encoded directly: the degradation path recurses into
// an unencodable value's attributes up to this depth.
const DefaultMaxDepth = 2

var verboseWarnings = false

// SetVerboseWarnings toggles whether degrade events are logged at debug
// level. Suppressed by default.
func SetVerboseWarnings(v bool) { verboseWarnings = v }

type envelope struct {
	V any
}

func init() {
	gob.Register(envelope{})
	gob.Register(Placeholder{})
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register("")
	gob.Register(0)
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register(false)
	gob.Register([]byte{})
}

// Register makes additional concrete types eligible for binary encoding
// when carried inside a Value — the equivalent of registering a custom
// pickler for a type the default envelope doesn't already know about.
func Register(zeroValues ...any) {
	for _, v := range zeroValues {
		gob.Register(v)
	}
}

// Serialize encodes value using format, degrading to a placeholder
// payload on any encoding failure. It is a total function: it never
// returns an error. See SerializeStrict for the non-degrading variant.
func Serialize(value any, format Format) Payload {
	value = unwrap(value)
	payload, err := trySerialize(value, format, DefaultMaxDepth)
	if err == nil {
		return payload
	}
	return degradeToPayload(value, DefaultMaxDepth, newVisitedSet(), err)
}

// ErrStrictSerialization is returned by SerializeStrict when value can't
// be encoded in the requested format and degradation is disabled.
type ErrStrictSerialization struct {
	Format Format
	Cause  error
}

func (e *ErrStrictSerialization) Error() string {
	return fmt.Sprintf("codec: strict serialize as %s: %v", e.Format, e.Cause)
}

func (e *ErrStrictSerialization) Unwrap() error { return e.Cause }

// SerializeStrict encodes value using format and returns an error instead
// of degrading to a placeholder, mirroring the source's serialize(x,
// strict=True) behavior.
func SerializeStrict(value any, format Format) (Payload, error) {
	payload, err := trySerialize(unwrap(value), format, DefaultMaxDepth)
	if err != nil {
		return Payload{}, &ErrStrictSerialization{Format: format, Cause: err}
	}
	return payload, nil
}

// Unwrapper lets a wrapper value (e.g. a call-intercepting proxy) stand
// in for the value it wraps during serialization, so encoding it never
// recurses back through whatever interception logic the wrapper itself
// implements.
type Unwrapper interface {
	Unwrap() any
}

func unwrap(value any) any {
	for {
		u, ok := value.(Unwrapper)
		if !ok {
			return value
		}
		value = u.Unwrap()
	}
}

func trySerialize(value any, format Format, depth int) (payload Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("codec: panic encoding value: %v", r)
		}
	}()

	var data []byte
	switch format {
	case FormatJSON:
		data, err = json.Marshal(value)
	default:
		format = FormatBinary
		data, err = gobEncode(envelope{V: value})
	}
	if err != nil {
		return Payload{}, err
	}
	return Payload{CID: ComputeCID(data), Format: format, Bytes: data}, nil
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(data []byte, out any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(out)
}

// Deserialize decodes data according to format. On any top-level decode
// failure it returns a Placeholder describing the failure rather than
// an error.
func Deserialize(data []byte, format Format) any {
	switch format {
	case FormatPlaceholder:
		var v any
		if err := gobDecode(data, &v); err != nil {
			return newDecodeFailurePlaceholder(err)
		}
		p, ok := v.(Placeholder)
		if !ok {
			return newDecodeFailurePlaceholder(fmt.Errorf("codec: unexpected placeholder type %T", v))
		}
		return &p
	case FormatJSON:
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return newDecodeFailurePlaceholder(err)
		}
		return v
	default:
		var env any
		if err := gobDecode(data, &env); err != nil {
			return newDecodeFailurePlaceholder(err)
		}
		e, ok := env.(envelope)
		if !ok {
			return newDecodeFailurePlaceholder(fmt.Errorf("codec: unexpected envelope type %T", env))
		}
		return e.V
	}
}

func newDecodeFailurePlaceholder(err error) *Placeholder {
	return &Placeholder{
		TypeName:      "unknown",
		PickleError:   err.Error(),
		IsPlaceholder: true,
		Attributes:    map[string]Payload{},
		FailedAttrs:   map[string]string{},
	}
}
