package remote

import (
	"fmt"
	"reflect"

	"github.com/danmuck/tvremote/internal/protocol/wire"
)

// maxInlineDepth bounds how deep first-sent bodies nest inside one value.
// Deeper objects are sent as Refs and their bodies ride flat in the
// top-level value's Bodies list.
const maxInlineDepth = 16

// Encoder turns server objects into wire values for one session. The first
// time an object is encoded it becomes a Body and its id enters the
// known-set before its properties are walked, so cycles terminate in a Ref.
// Encoder is not safe for concurrent use; the session serializes it.
type Encoder struct {
	registry *Registry
	known    *KnownSet
	added    []wire.ObjectID
	depth    int
	deferred []deferredBody
}

type deferredBody struct {
	id  wire.ObjectID
	obj Replicable
}

func NewEncoder(registry *Registry, known *KnownSet) *Encoder {
	return &Encoder{registry: registry, known: known}
}

// EncodeObject encodes obj as a Body or, if already known, a Ref.
func (e *Encoder) EncodeObject(obj Replicable) (wire.Value, error) {
	var v wire.Value
	hoisted, err := e.run(func() (err error) {
		v, err = e.object(obj)
		return err
	})
	if err != nil {
		return wire.Value{}, err
	}
	v.Bodies = hoisted
	return v, nil
}

// EncodeProperty encodes one committed property value of obj.
func (e *Encoder) EncodeProperty(obj *Object, name string, value any) (wire.Value, error) {
	spec, ok := obj.desc.Property(name)
	if !ok {
		return wire.Value{}, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, obj.desc.tag, name)
	}
	var v wire.Value
	hoisted, err := e.run(func() (err error) {
		v, err = e.property(spec, value)
		return err
	})
	if err != nil {
		return wire.Value{}, err
	}
	v.Bodies = hoisted
	return v, nil
}

// EncodeAny encodes a method result or event argument by its dynamic type.
func (e *Encoder) EncodeAny(v any) (wire.Value, error) {
	var out wire.Value
	hoisted, err := e.run(func() (err error) {
		out, err = e.dynamic(v)
		return err
	})
	if err != nil {
		return wire.Value{}, err
	}
	out.Bodies = hoisted
	return out, nil
}

// EncodeArgs encodes several values as one unit: on failure none of the
// objects they introduced stay in the known-set. Hoisted bodies ride on
// the first value.
func (e *Encoder) EncodeArgs(args []any) ([]wire.Value, error) {
	out := make([]wire.Value, 0, len(args))
	hoisted, err := e.run(func() error {
		for i, arg := range args {
			v, err := e.dynamic(arg)
			if err != nil {
				return fmt.Errorf("arg %d: %w", i, err)
			}
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(hoisted) > 0 {
		out[0].Bodies = hoisted
	}
	return out, nil
}

// run encodes through fn, then drains the bodies deferred past
// maxInlineDepth. Known-set additions are rolled back if anything fails,
// since the peer will never see the bodies.
func (e *Encoder) run(fn func() error) ([]*wire.ObjectBody, error) {
	e.added = e.added[:0]
	e.deferred = e.deferred[:0]
	e.depth = 0
	err := fn()
	var hoisted []*wire.ObjectBody
	if err == nil {
		hoisted, err = e.drain()
	}
	if err != nil {
		for _, id := range e.added {
			e.known.Remove(id)
		}
		hoisted = nil
	}
	e.added = e.added[:0]
	e.deferred = e.deferred[:0]
	e.depth = 0
	return hoisted, err
}

// drain encodes deferred bodies breadth-first. Each may defer more.
func (e *Encoder) drain() ([]*wire.ObjectBody, error) {
	var out []*wire.ObjectBody
	for i := 0; i < len(e.deferred); i++ {
		d := e.deferred[i]
		body, err := e.body(d.id, d.obj)
		if err != nil {
			return nil, err
		}
		out = append(out, body)
	}
	return out, nil
}

func (e *Encoder) object(obj Replicable) (wire.Value, error) {
	if obj == nil || isNil(obj) {
		return wire.Null(), nil
	}
	id := e.registry.Register(obj)
	tag := obj.Base().desc.tag
	if !e.known.Add(id) {
		return wire.RefTo(id, tag), nil
	}
	e.added = append(e.added, id)
	if e.depth >= maxInlineDepth {
		e.deferred = append(e.deferred, deferredBody{id: id, obj: obj})
		return wire.RefTo(id, tag), nil
	}
	body, err := e.body(id, obj)
	if err != nil {
		return wire.Value{}, err
	}
	return wire.BodyOf(body), nil
}

func (e *Encoder) body(id wire.ObjectID, obj Replicable) (*wire.ObjectBody, error) {
	e.depth++
	defer func() { e.depth-- }()

	base := obj.Base()
	tag := base.desc.tag
	values := base.snapshot()
	body := &wire.ObjectBody{
		ID:         id,
		Type:       tag,
		Properties: make(map[string]wire.Value, len(values)),
	}
	for _, spec := range base.desc.Properties() {
		v, err := e.property(spec, values[spec.Name])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", tag, spec.Name, err)
		}
		body.Properties[spec.Name] = v
	}
	return body, nil
}

func (e *Encoder) property(spec PropertySpec, value any) (wire.Value, error) {
	switch spec.Kind {
	case RefProperty:
		if value == nil {
			return wire.Null(), nil
		}
		obj, ok := value.(Replicable)
		if !ok {
			return wire.Value{}, fmt.Errorf("%w: expected object, got %T", ErrArgument, value)
		}
		return e.object(obj)
	case RefListProperty:
		refs, _ := value.([]Replicable)
		items := make([]wire.Value, 0, len(refs))
		for _, r := range refs {
			v, err := e.object(r)
			if err != nil {
				return wire.Value{}, err
			}
			items = append(items, v)
		}
		return wire.List(items), nil
	default:
		return wire.Plain(value)
	}
}

func (e *Encoder) dynamic(v any) (wire.Value, error) {
	switch typed := v.(type) {
	case nil:
		return wire.Null(), nil
	case wire.Value:
		return typed, nil
	case Replicable:
		return e.object(typed)
	case []Replicable:
		return e.list(len(typed), func(i int) any { return typed[i] })
	case []any:
		return e.list(len(typed), func(i int) any { return typed[i] })
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Implements(replicableType) {
		return e.list(rv.Len(), func(i int) any { return rv.Index(i).Interface() })
	}
	if isNil(v) {
		return wire.Null(), nil
	}
	return wire.Plain(v)
}

func (e *Encoder) list(n int, at func(int) any) (wire.Value, error) {
	items := make([]wire.Value, 0, n)
	for i := 0; i < n; i++ {
		v, err := e.dynamic(at(i))
		if err != nil {
			return wire.Value{}, fmt.Errorf("item %d: %w", i, err)
		}
		items = append(items, v)
	}
	return wire.List(items), nil
}

var replicableType = reflect.TypeOf((*Replicable)(nil)).Elem()
