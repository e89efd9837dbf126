package remote

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/danmuck/tvremote/internal/protocol/wire"
)

// Replicable is implemented by every server-side domain object. Domain types
// embed *Object, which supplies Base.
type Replicable interface {
	Base() *Object
}

// RemoteSetter lets a domain type intercept client writes to writable
// properties, e.g. to validate them. The default is Object.Set.
type RemoteSetter interface {
	SetRemote(ctx context.Context, name string, value any) error
}

// hub receives committed changes; the Registry installs itself on Register.
type hub interface {
	propertyChanged(obj *Object, name string, value any)
	eventRaised(obj *Object, event string, args []any)
}

// ChangeFunc observes committed property changes on the server.
type ChangeFunc func(name string, value any)

// Object is the replicable base. Each property is guarded by mu; notifyMu
// serializes a mutation with the fan-out of its snapshot so sessions see an
// object's changes in commit order.
type Object struct {
	desc  *TypeDescriptor
	owner Replicable

	notifyMu sync.Mutex

	mu     sync.RWMutex
	id     wire.ObjectID
	values map[string]any
	hub    hub

	observeMu sync.Mutex
	observers map[uint64]ChangeFunc
	nextObs   uint64
}

// NewObject builds the base for owner, which must embed the returned pointer.
func NewObject(desc *TypeDescriptor, owner Replicable) *Object {
	if desc == nil {
		panic("remote: NewObject with nil descriptor")
	}
	o := &Object{
		desc:      desc,
		owner:     owner,
		values:    make(map[string]any, len(desc.props)),
		observers: make(map[uint64]ChangeFunc),
	}
	for _, p := range desc.Properties() {
		if p.Kind == RefListProperty {
			o.values[p.Name] = []Replicable{}
		}
	}
	return o
}

func (o *Object) Base() *Object {
	return o
}

func (o *Object) Descriptor() *TypeDescriptor {
	return o.desc
}

func (o *Object) TypeTag() string {
	return o.desc.tag
}

// Owner returns the domain object embedding o.
func (o *Object) Owner() Replicable {
	if o.owner == nil {
		return o
	}
	return o.owner
}

// ID is zero until the object is registered.
func (o *Object) ID() wire.ObjectID {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.id
}

func (o *Object) Get(name string) any {
	o.mustProperty(name)
	o.mu.RLock()
	defer o.mu.RUnlock()
	v := o.values[name]
	if refs, ok := v.([]Replicable); ok {
		return append([]Replicable(nil), refs...)
	}
	return v
}

// Set commits a property value and notifies subscribed sessions once. It
// returns false, and notifies nobody, when the value is unchanged. Setting
// an undeclared property or a value of the wrong shape panics.
func (o *Object) Set(name string, value any) bool {
	spec := o.mustProperty(name)
	value = normalize(spec, name, value)

	o.notifyMu.Lock()
	o.mu.Lock()
	if equalValues(spec, o.values[name], value) {
		o.mu.Unlock()
		o.notifyMu.Unlock()
		return false
	}
	o.values[name] = value
	h := o.hub
	o.mu.Unlock()

	if h != nil {
		h.propertyChanged(o, name, value)
	}
	o.notifyMu.Unlock()

	o.notifyObservers(name, value)
	return true
}

// Emit raises an event to every session subscribed to it.
func (o *Object) Emit(event string, args ...any) {
	if !o.desc.HasEvent(event) {
		panic(fmt.Sprintf("remote: %s has no event %q", o.desc.tag, event))
	}
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()
	o.mu.RLock()
	h := o.hub
	o.mu.RUnlock()
	if h != nil {
		h.eventRaised(o, event, args)
	}
}

// Observe registers a local listener; the returned func removes it.
// Listeners run after the change has been fanned out, outside all locks.
func (o *Object) Observe(fn ChangeFunc) func() {
	o.observeMu.Lock()
	o.nextObs++
	key := o.nextObs
	o.observers[key] = fn
	o.observeMu.Unlock()
	return func() {
		o.observeMu.Lock()
		delete(o.observers, key)
		o.observeMu.Unlock()
	}
}

func (o *Object) notifyObservers(name string, value any) {
	o.observeMu.Lock()
	fns := make([]ChangeFunc, 0, len(o.observers))
	for _, fn := range o.observers {
		fns = append(fns, fn)
	}
	o.observeMu.Unlock()
	for _, fn := range fns {
		fn(name, value)
	}
}

// snapshot copies the current values for encoding.
func (o *Object) snapshot() map[string]any {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]any, len(o.values))
	for k, v := range o.values {
		out[k] = v
	}
	return out
}

// attach records the registry-assigned id. It returns the existing id if
// the object was already registered.
func (o *Object) attach(id wire.ObjectID, h hub) (wire.ObjectID, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.id != (wire.ObjectID{}) {
		return o.id, false
	}
	o.id = id
	o.hub = h
	return id, true
}

func (o *Object) detach() {
	o.mu.Lock()
	o.hub = nil
	o.mu.Unlock()
}

func (o *Object) mustProperty(name string) PropertySpec {
	spec, ok := o.desc.props[name]
	if !ok {
		panic(fmt.Sprintf("remote: %s has no property %q", o.desc.tag, name))
	}
	return spec
}

func normalize(spec PropertySpec, name string, value any) any {
	switch spec.Kind {
	case RefProperty:
		if value == nil || isNil(value) {
			return nil
		}
		if _, ok := value.(Replicable); !ok {
			panic(fmt.Sprintf("remote: property %q expects a Replicable, got %T", name, value))
		}
		return value
	case RefListProperty:
		switch refs := value.(type) {
		case nil:
			return []Replicable{}
		case []Replicable:
			return append([]Replicable{}, refs...)
		default:
			panic(fmt.Sprintf("remote: property %q expects []Replicable, got %T", name, value))
		}
	default:
		return value
	}
}

func equalValues(spec PropertySpec, old, next any) bool {
	switch spec.Kind {
	case RefProperty:
		return sameObject(old, next)
	case RefListProperty:
		a, _ := old.([]Replicable)
		b, _ := next.([]Replicable)
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if !sameObject(a[i], b[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(old, next)
	}
}

func sameObject(a, b any) bool {
	ra, _ := a.(Replicable)
	rb, _ := b.(Replicable)
	if ra == nil || rb == nil {
		return ra == nil && rb == nil
	}
	return ra.Base() == rb.Base()
}

// RefList converts a typed slice of domain objects for a RefListProperty.
func RefList[T Replicable](items []T) []Replicable {
	out := make([]Replicable, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

// RefsAs reads a RefListProperty back as typed domain objects.
func RefsAs[T Replicable](o *Object, name string) []T {
	refs, _ := o.Get(name).([]Replicable)
	out := make([]T, 0, len(refs))
	for _, r := range refs {
		if typed, ok := r.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}

// GetAs reads a property as T, returning the zero value if unset.
func GetAs[T any](o *Object, name string) T {
	v, _ := o.Get(name).(T)
	return v
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
