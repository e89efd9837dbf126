package wire

import (
	"fmt"
	"reflect"
	"strings"
)

// ValueKind tags the Value union.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindValue
	KindRef
	KindBody
	KindList
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindValue:
		return "value"
	case KindRef:
		return "ref"
	case KindBody:
		return "body"
	case KindList:
		return "list"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ObjectRef points at an object the receiver already holds.
type ObjectRef struct {
	ID   ObjectID `cbor:"id"`
	Type string   `cbor:"type"`
}

// ObjectBody is the full transmission of one object. Properties are
// encoded lazily: a property that references an object the receiver
// already knows is a Ref, anything else nests another Body.
type ObjectBody struct {
	ID         ObjectID         `cbor:"id"`
	Type       string           `cbor:"type"`
	Properties map[string]Value `cbor:"props,omitempty"`
}

// Value is one serialized property value, argument, or result.
//
// Bodies is only set on top-level values. It holds first-sent objects that
// sat too deep to nest; Refs anywhere in the same frame may point at them.
type Value struct {
	Kind   ValueKind     `cbor:"k"`
	Data   RawMessage    `cbor:"d,omitempty"`
	Ref    *ObjectRef    `cbor:"r,omitempty"`
	Body   *ObjectBody   `cbor:"b,omitempty"`
	Items  []Value       `cbor:"i,omitempty"`
	Bodies []*ObjectBody `cbor:"h,omitempty"`
}

func Null() Value {
	return Value{Kind: KindNull}
}

// Plain encodes a value-kind datum. nil becomes Null.
func Plain(v any) (Value, error) {
	if v == nil {
		return Null(), nil
	}
	data, err := Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("%w: encode %T: %v", ErrInvalidValue, v, err)
	}
	return Value{Kind: KindValue, Data: data}, nil
}

func RefTo(id ObjectID, typeTag string) Value {
	return Value{Kind: KindRef, Ref: &ObjectRef{ID: id, Type: typeTag}}
}

func BodyOf(body *ObjectBody) Value {
	return Value{Kind: KindBody, Body: body}
}

func List(items []Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{Kind: KindList, Items: items}
}

func (v Value) IsNull() bool {
	return v.Kind == KindNull
}

// ObjectID returns the id of a Ref or Body value.
func (v Value) ObjectID() (ObjectID, bool) {
	switch v.Kind {
	case KindRef:
		if v.Ref != nil {
			return v.Ref.ID, true
		}
	case KindBody:
		if v.Body != nil {
			return v.Body.ID, true
		}
	}
	return ObjectID{}, false
}

// Decode unmarshals a value-kind datum into out, which must be a non-nil
// pointer. Null zeroes out.
func (v Value) Decode(out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("%w: decode target must be a non-nil pointer, got %T", ErrInvalidValue, out)
	}
	switch v.Kind {
	case KindNull:
		rv.Elem().SetZero()
		return nil
	case KindValue:
		if err := Unmarshal(v.Data, out); err != nil {
			return fmt.Errorf("%w: decode into %T: %v", ErrInvalidValue, out, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s is not a plain value", ErrInvalidValue, v.Kind)
	}
}

// Validate checks the structural shape of the union, recursively.
func (v Value) Validate() error {
	for i, body := range v.Bodies {
		if body == nil {
			return fmt.Errorf("%w: hoisted body %d is empty", ErrInvalidValue, i)
		}
		if err := BodyOf(body).Validate(); err != nil {
			return fmt.Errorf("hoisted body %d: %w", i, err)
		}
	}
	switch v.Kind {
	case KindNull:
		return nil
	case KindValue:
		if len(v.Data) == 0 {
			return fmt.Errorf("%w: value without data", ErrInvalidValue)
		}
		return nil
	case KindRef:
		if v.Ref == nil {
			return fmt.Errorf("%w: ref without target", ErrInvalidValue)
		}
		return validateIdentity(v.Ref.ID, v.Ref.Type)
	case KindBody:
		if v.Body == nil {
			return fmt.Errorf("%w: body without content", ErrInvalidValue)
		}
		if err := validateIdentity(v.Body.ID, v.Body.Type); err != nil {
			return err
		}
		for name, prop := range v.Body.Properties {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("%w: body %s has an unnamed property", ErrInvalidValue, v.Body.ID)
			}
			if err := prop.Validate(); err != nil {
				return fmt.Errorf("property %q: %w", name, err)
			}
		}
		return nil
	case KindList:
		for i, item := range v.Items {
			if err := item.Validate(); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidValue, uint8(v.Kind))
	}
}

func validateIdentity(id ObjectID, typeTag string) error {
	if id == (ObjectID{}) {
		return fmt.Errorf("%w: missing object id", ErrInvalidValue)
	}
	if strings.TrimSpace(typeTag) == "" {
		return fmt.Errorf("%w: object %s missing type tag", ErrInvalidValue, id)
	}
	return nil
}

func validateValues(values []Value) error {
	for i, v := range values {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("arg %d: %w", i, err)
		}
	}
	return nil
}
