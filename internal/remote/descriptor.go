package remote

import (
	"context"
	"fmt"
	"sort"

	"github.com/danmuck/tvremote/internal/protocol/wire"
)

// PropertyKind says how a property crosses the wire.
type PropertyKind uint8

const (
	// ValueProperty is always inlined; it has no identity.
	ValueProperty PropertyKind = iota
	// RefProperty holds one replicable object (or nil).
	RefProperty
	// RefListProperty holds an ordered list of replicable objects.
	RefListProperty
)

func (k PropertyKind) String() string {
	switch k {
	case ValueProperty:
		return "value"
	case RefProperty:
		return "ref"
	case RefListProperty:
		return "ref_list"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// PropertySpec declares one property of a replicable type.
type PropertySpec struct {
	Name     string
	Kind     PropertyKind
	writable bool
	decode   func(wire.Value) (any, error)
}

// ValueProp declares a value property whose remote writes decode into T.
func ValueProp[T any](name string) PropertySpec {
	return PropertySpec{
		Name: name,
		Kind: ValueProperty,
		decode: func(v wire.Value) (any, error) {
			var out T
			if err := v.Decode(&out); err != nil {
				return nil, err
			}
			return out, nil
		},
	}
}

func RefProp(name string) PropertySpec {
	return PropertySpec{Name: name, Kind: RefProperty}
}

func RefListProp(name string) PropertySpec {
	return PropertySpec{Name: name, Kind: RefListProperty}
}

// Writable marks the property as settable by clients.
func (p PropertySpec) Writable() PropertySpec {
	p.writable = true
	return p
}

func (p PropertySpec) IsWritable() bool {
	return p.writable
}

// MethodFunc implements a method or query on the server. target is the
// registered object the call was addressed to.
type MethodFunc func(ctx context.Context, target Replicable, args Values) (any, error)

// TypeDescriptor is the explicit registration of one replicable type:
// its wire tag, properties, methods, queries and events.
type TypeDescriptor struct {
	tag     string
	props   map[string]PropertySpec
	order   []string
	methods map[string]MethodFunc
	queries map[string]MethodFunc
	events  map[string]struct{}
}

// NewType declares a type. It panics on a malformed tag or duplicate
// property, both of which are programming errors caught at startup.
func NewType(tag string, props ...PropertySpec) *TypeDescriptor {
	if !isValidTag(tag) {
		panic(fmt.Sprintf("remote: %v: %q", ErrInvalidTypeTag, tag))
	}
	d := &TypeDescriptor{
		tag:     tag,
		props:   make(map[string]PropertySpec, len(props)),
		methods: make(map[string]MethodFunc),
		queries: make(map[string]MethodFunc),
		events:  make(map[string]struct{}),
	}
	for _, p := range props {
		if p.Name == "" {
			panic(fmt.Sprintf("remote: type %s declares an unnamed property", tag))
		}
		if _, dup := d.props[p.Name]; dup {
			panic(fmt.Sprintf("remote: type %s declares property %q twice", tag, p.Name))
		}
		d.props[p.Name] = p
		d.order = append(d.order, p.Name)
	}
	return d
}

func (d *TypeDescriptor) Method(name string, fn MethodFunc) *TypeDescriptor {
	d.methods[name] = fn
	return d
}

func (d *TypeDescriptor) Query(name string, fn MethodFunc) *TypeDescriptor {
	d.queries[name] = fn
	return d
}

func (d *TypeDescriptor) Event(names ...string) *TypeDescriptor {
	for _, name := range names {
		d.events[name] = struct{}{}
	}
	return d
}

func (d *TypeDescriptor) Tag() string {
	return d.tag
}

func (d *TypeDescriptor) Property(name string) (PropertySpec, bool) {
	p, ok := d.props[name]
	return p, ok
}

// Properties returns the specs in declaration order.
func (d *TypeDescriptor) Properties() []PropertySpec {
	out := make([]PropertySpec, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.props[name])
	}
	return out
}

func (d *TypeDescriptor) MethodFunc(name string) (MethodFunc, bool) {
	fn, ok := d.methods[name]
	return fn, ok && fn != nil
}

func (d *TypeDescriptor) QueryFunc(name string) (MethodFunc, bool) {
	fn, ok := d.queries[name]
	return fn, ok && fn != nil
}

func (d *TypeDescriptor) HasEvent(name string) bool {
	_, ok := d.events[name]
	return ok
}

func (d *TypeDescriptor) Events() []string {
	out := make([]string, 0, len(d.events))
	for name := range d.events {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DecodeInbound turns a wire value from a client into the Go value stored
// by Set. resolve maps refs onto registered objects.
func (p PropertySpec) DecodeInbound(v wire.Value, resolve func(wire.Value) (any, error)) (any, error) {
	switch p.Kind {
	case ValueProperty:
		if p.decode == nil {
			return nil, fmt.Errorf("%w: %s has no decoder", ErrArgument, p.Name)
		}
		out, err := p.decode(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrArgument, p.Name, err)
		}
		return out, nil
	case RefProperty:
		if v.IsNull() {
			return nil, nil
		}
		if v.Kind != wire.KindRef && v.Kind != wire.KindBody {
			return nil, fmt.Errorf("%w: %s expects an object, got %s", ErrArgument, p.Name, v.Kind)
		}
		return resolve(v)
	case RefListProperty:
		if v.IsNull() {
			return []Replicable{}, nil
		}
		if v.Kind != wire.KindList {
			return nil, fmt.Errorf("%w: %s expects a list, got %s", ErrArgument, p.Name, v.Kind)
		}
		out := make([]Replicable, 0, len(v.Items))
		for i, item := range v.Items {
			obj, err := resolve(item)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", p.Name, i, err)
			}
			r, ok := obj.(Replicable)
			if !ok {
				return nil, fmt.Errorf("%w: %s[%d] is not an object", ErrArgument, p.Name, i)
			}
			out = append(out, r)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProperty, p.Name)
	}
}

// Type tags share the id grammar used for other registry keys: lowercase
// alphanumerics separated by single '.', '-' or '_'.
func isValidTag(tag string) bool {
	if tag == "" {
		return false
	}
	lastSep := false
	for i := 0; i < len(tag); i++ {
		c := tag[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		isSep := c == '.' || c == '-' || c == '_'
		if !(isLower || isDigit || isSep) {
			return false
		}
		if (i == 0 || i == len(tag)-1) && isSep {
			return false
		}
		if isSep && lastSep {
			return false
		}
		lastSep = isSep
	}
	return true
}
