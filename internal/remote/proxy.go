package remote

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	logs "github.com/danmuck/tvremote/internal/logging"
	"github.com/danmuck/tvremote/internal/protocol/wire"
)

// Proxied is implemented by every client-side proxy. Domain proxy types
// embed *Proxy, which supplies the method.
type Proxied interface {
	ProxyBase() *Proxy
}

// requester is the client session surface a proxy talks through.
type requester interface {
	send(msg wire.Message) error
	request(ctx context.Context, msg wire.Message) (any, error)
	release(p *Proxy) error
	dispatch(fn func())
}

// Event is one received event notification.
type Event struct {
	Name   string
	Source Proxied
	Args   Values
}

// Proxy is the client-side stand-in for one server object. Its property
// cache changes only when the server says so: a PropertyChanged frame or a
// fresh body. Set never updates it locally.
type Proxy struct {
	id    wire.ObjectID
	tag   string
	desc  *TypeDescriptor
	owner Proxied
	conn  requester

	mu       sync.RWMutex
	props    map[string]any
	released bool

	lmu       sync.Mutex
	nextKey   uint64
	changeFns map[uint64]func(name string)
	eventFns  map[string]map[uint64]func(Event)
}

func newProxy(id wire.ObjectID, tag string, conn requester) *Proxy {
	return &Proxy{
		id:        id,
		tag:       tag,
		conn:      conn,
		props:     make(map[string]any),
		changeFns: make(map[uint64]func(string)),
		eventFns:  make(map[string]map[uint64]func(Event)),
	}
}

func (p *Proxy) ProxyBase() *Proxy {
	return p
}

func (p *Proxy) ID() wire.ObjectID {
	return p.id
}

func (p *Proxy) TypeTag() string {
	return p.tag
}

func (p *Proxy) Descriptor() *TypeDescriptor {
	return p.desc
}

// Owner returns the domain proxy wrapping p.
func (p *Proxy) Owner() Proxied {
	if p.owner == nil {
		return p
	}
	return p.owner
}

func (p *Proxy) Released() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.released
}

func (p *Proxy) Has(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.props[name]
	return ok
}

// Get decodes a cached value property into out.
func (p *Proxy) Get(name string, out any) error {
	p.mu.RLock()
	v, ok := p.props[name]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownProperty, p.tag, name)
	}
	if err := decodePlain(v, out); err != nil {
		return fmt.Errorf("%s.%s: %w", p.tag, name, err)
	}
	return nil
}

// Ref returns the object held by a reference property, or nil.
func (p *Proxy) Ref(name string) Proxied {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ref, _ := p.props[name].(Proxied)
	return ref
}

// Refs returns the resolved objects of a reference-list property.
func (p *Proxy) Refs(name string) []Proxied {
	p.mu.RLock()
	defer p.mu.RUnlock()
	items, _ := p.props[name].([]any)
	out := make([]Proxied, 0, len(items))
	for _, item := range items {
		if ref, ok := item.(Proxied); ok {
			out = append(out, ref)
		}
	}
	return out
}

func RefAs[T Proxied](p *Proxy, name string) (T, bool) {
	typed, ok := p.Ref(name).(T)
	return typed, ok
}

func ProxiesAs[T Proxied](p *Proxy, name string) []T {
	return proxiesAs[T](p.Refs(name))
}

// Set sends a PropertySet without waiting. The cache changes only when
// the server broadcasts the committed value.
func (p *Proxy) Set(name string, value any) error {
	msg, err := p.propertySet(name, value)
	if err != nil {
		return err
	}
	return p.conn.send(msg)
}

// SetAck sends a PropertySet and waits for the server to apply it.
func (p *Proxy) SetAck(ctx context.Context, name string, value any) error {
	msg, err := p.propertySet(name, value)
	if err != nil {
		return err
	}
	_, err = p.conn.request(ctx, msg)
	return err
}

// Invoke calls a method without waiting for its result.
func (p *Proxy) Invoke(method string, args ...any) error {
	msg, err := p.invoke(method, args)
	if err != nil {
		return err
	}
	return p.conn.send(msg)
}

// Call invokes a method and waits for its result or fault.
func (p *Proxy) Call(ctx context.Context, method string, args ...any) (Result, error) {
	msg, err := p.invoke(method, args)
	if err != nil {
		return Result{}, err
	}
	v, err := p.conn.request(ctx, msg)
	if err != nil {
		return Result{}, err
	}
	return Result{value: v}, nil
}

// Query runs a read-only server query; always awaited.
func (p *Proxy) Query(ctx context.Context, spec string, args ...any) (Result, error) {
	if err := p.live(); err != nil {
		return Result{}, err
	}
	values, err := encodeOutboundArgs(args)
	if err != nil {
		return Result{}, err
	}
	v, err := p.conn.request(ctx, wire.Query{ObjectID: p.id, Spec: spec, Args: values})
	if err != nil {
		return Result{}, err
	}
	return Result{value: v}, nil
}

// OnPropertyChanged registers fn for committed changes; the returned func
// removes it. Listeners run on the session's notification goroutine.
func (p *Proxy) OnPropertyChanged(fn func(name string)) func() {
	p.lmu.Lock()
	p.nextKey++
	key := p.nextKey
	p.changeFns[key] = fn
	p.lmu.Unlock()
	return func() {
		p.lmu.Lock()
		delete(p.changeFns, key)
		p.lmu.Unlock()
	}
}

// On subscribes fn to a server event. The first local listener for an
// event subscribes the session; removing the last one unsubscribes it.
func (p *Proxy) On(event string, fn func(Event)) (func(), error) {
	if p.desc != nil && !p.desc.HasEvent(event) {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownEvent, p.tag, event)
	}
	if err := p.live(); err != nil {
		return nil, err
	}

	p.lmu.Lock()
	p.nextKey++
	key := p.nextKey
	set := p.eventFns[event]
	first := len(set) == 0
	if set == nil {
		set = make(map[uint64]func(Event))
		p.eventFns[event] = set
	}
	set[key] = fn
	p.lmu.Unlock()

	if first {
		if err := p.conn.send(wire.EventSubscribe{ObjectID: p.id, Event: event}); err != nil {
			p.lmu.Lock()
			delete(set, key)
			p.lmu.Unlock()
			return nil, err
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			p.lmu.Lock()
			delete(set, key)
			last := len(set) == 0
			if last {
				delete(p.eventFns, event)
			}
			p.lmu.Unlock()
			if last && !p.Released() {
				if err := p.conn.send(wire.EventUnsubscribe{ObjectID: p.id, Event: event}); err != nil {
					logs.Debugf("remote.Proxy.On unsubscribe id=%s event=%s err=%v", p.id, event, err)
				}
			}
		})
	}, nil
}

// Release drops the proxy locally and tells the server this client no
// longer holds it.
func (p *Proxy) Release() error {
	if !p.markReleased() {
		return nil
	}
	return p.conn.release(p)
}

func (p *Proxy) markReleased() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return false
	}
	p.released = true
	return true
}

func (p *Proxy) live() error {
	if p.Released() {
		return fmt.Errorf("%w: %s %s", ErrReleased, p.tag, p.id)
	}
	return nil
}

func (p *Proxy) propertySet(name string, value any) (wire.PropertySet, error) {
	if err := p.live(); err != nil {
		return wire.PropertySet{}, err
	}
	v, err := encodeOutbound(value)
	if err != nil {
		return wire.PropertySet{}, err
	}
	return wire.PropertySet{ObjectID: p.id, Property: name, Value: v}, nil
}

func (p *Proxy) invoke(method string, args []any) (wire.Invoke, error) {
	if err := p.live(); err != nil {
		return wire.Invoke{}, err
	}
	values, err := encodeOutboundArgs(args)
	if err != nil {
		return wire.Invoke{}, err
	}
	return wire.Invoke{ObjectID: p.id, Method: method, Args: values}, nil
}

// applyBody replaces the cache from a body. Listeners are told about every
// property whose cached value changed.
func (p *Proxy) applyBody(props map[string]any) {
	var changed []string
	p.mu.Lock()
	for name, v := range props {
		old, had := p.props[name]
		if !had || !sameCached(old, v) {
			changed = append(changed, name)
		}
		p.props[name] = v
	}
	p.mu.Unlock()
	for _, name := range changed {
		p.fireChanged(name)
	}
}

func (p *Proxy) applyProperty(name string, v any) {
	p.mu.Lock()
	p.props[name] = v
	p.mu.Unlock()
	p.fireChanged(name)
}

func (p *Proxy) fireChanged(name string) {
	p.lmu.Lock()
	fns := make([]func(string), 0, len(p.changeFns))
	for _, fn := range p.changeFns {
		fns = append(fns, fn)
	}
	p.lmu.Unlock()
	if len(fns) == 0 {
		return
	}
	p.conn.dispatch(func() {
		for _, fn := range fns {
			fn(name)
		}
	})
}

func (p *Proxy) fireEvent(ev Event) {
	p.lmu.Lock()
	set := p.eventFns[ev.Name]
	fns := make([]func(Event), 0, len(set))
	for _, fn := range set {
		fns = append(fns, fn)
	}
	p.lmu.Unlock()
	if len(fns) == 0 {
		return
	}
	p.conn.dispatch(func() {
		for _, fn := range fns {
			fn(ev)
		}
	})
}

func sameCached(a, b any) bool {
	switch av := a.(type) {
	case wire.Value:
		bv, ok := b.(wire.Value)
		return ok && reflect.DeepEqual(av, bv)
	case Proxied:
		bp, ok := b.(Proxied)
		return ok && av.ProxyBase() == bp.ProxyBase()
	default:
		return reflect.DeepEqual(a, b)
	}
}

func encodeOutbound(v any) (wire.Value, error) {
	switch typed := v.(type) {
	case nil:
		return wire.Null(), nil
	case wire.Value:
		return typed, nil
	case Proxied:
		if isNil(typed) {
			return wire.Null(), nil
		}
		base := typed.ProxyBase()
		return wire.RefTo(base.id, base.tag), nil
	case []Proxied:
		items := make([]wire.Value, 0, len(typed))
		for _, item := range typed {
			ref, err := encodeOutbound(item)
			if err != nil {
				return wire.Value{}, err
			}
			items = append(items, ref)
		}
		return wire.List(items), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Implements(proxiedType) {
		items := make([]wire.Value, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			ref, err := encodeOutbound(rv.Index(i).Interface())
			if err != nil {
				return wire.Value{}, err
			}
			items = append(items, ref)
		}
		return wire.List(items), nil
	}
	return wire.Plain(v)
}

func encodeOutboundArgs(args []any) ([]wire.Value, error) {
	out := make([]wire.Value, 0, len(args))
	for i, arg := range args {
		v, err := encodeOutbound(arg)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

var proxiedType = reflect.TypeOf((*Proxied)(nil)).Elem()
