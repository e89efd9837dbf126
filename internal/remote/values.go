package remote

import (
	"fmt"

	"github.com/danmuck/tvremote/internal/protocol/wire"
)

// Values holds decoded arguments. Each element is one of: nil, a
// wire.Value holding plain data, an object (Replicable on the server,
// Proxied on the client) or []any for a list.
type Values []any

func (v Values) Len() int {
	return len(v)
}

// Decode unmarshals the plain datum at i into out.
func (v Values) Decode(i int, out any) error {
	if i < 0 || i >= len(v) {
		return fmt.Errorf("%w: index %d out of range (%d args)", ErrArgument, i, len(v))
	}
	return decodePlain(v[i], out)
}

// Object returns the object at i, or nil.
func (v Values) Object(i int) any {
	if i < 0 || i >= len(v) {
		return nil
	}
	switch v[i].(type) {
	case wire.Value, []any:
		return nil
	default:
		return v[i]
	}
}

// Arg returns argument i as T. Objects are type-asserted; plain data is
// decoded.
func Arg[T any](v Values, i int) (T, error) {
	var zero T
	if i < 0 || i >= len(v) {
		return zero, fmt.Errorf("%w: index %d out of range (%d args)", ErrArgument, i, len(v))
	}
	if typed, ok := v[i].(T); ok {
		return typed, nil
	}
	if _, ok := v[i].(wire.Value); !ok && v[i] != nil {
		return zero, fmt.Errorf("%w: arg %d is %T", ErrArgument, i, v[i])
	}
	var out T
	if err := decodePlain(v[i], &out); err != nil {
		return zero, err
	}
	return out, nil
}

// Result is the decoded return value of a Call or Query.
type Result struct {
	value any
}

func (r Result) IsNull() bool {
	return r.value == nil
}

// Raw returns the decoded form: nil, wire.Value, an object or []any.
func (r Result) Raw() any {
	return r.value
}

func (r Result) Decode(out any) error {
	return decodePlain(r.value, out)
}

// Object returns the single object the call returned, or nil.
func (r Result) Object() Proxied {
	p, _ := r.value.(Proxied)
	return p
}

// Objects returns the objects in a list result. Unresolved entries are
// skipped.
func (r Result) Objects() []Proxied {
	items, _ := r.value.([]any)
	out := make([]Proxied, 0, len(items))
	for _, item := range items {
		if p, ok := item.(Proxied); ok {
			out = append(out, p)
		}
	}
	return out
}

// ObjectsAs filters a list result down to proxies of type T.
func ObjectsAs[T Proxied](r Result) []T {
	return proxiesAs[T](r.Objects())
}

func decodePlain(v any, out any) error {
	switch typed := v.(type) {
	case nil:
		return wire.Null().Decode(out)
	case wire.Value:
		return typed.Decode(out)
	default:
		return fmt.Errorf("%w: got %T", ErrNotPlainValue, v)
	}
}

func proxiesAs[T Proxied](in []Proxied) []T {
	out := make([]T, 0, len(in))
	for _, p := range in {
		if typed, ok := p.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}
