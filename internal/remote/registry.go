package remote

import (
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/tvremote/internal/observability"
	"github.com/danmuck/tvremote/internal/protocol/wire"
	"github.com/google/uuid"
)

// Sink receives the broadcasts for objects in its known-set. The server
// session is the only production implementation.
type Sink interface {
	PropertyChanged(obj *Object, name string, value any)
	EventRaised(obj *Object, event string, args []any)
	ObjectReleased(id wire.ObjectID)
}

// ObjectInfo is one row of Registry.Snapshot.
type ObjectInfo struct {
	ID          wire.ObjectID `json:"id"`
	Type        string        `json:"type"`
	Subscribers int           `json:"subscribers"`
}

// Registry is the server's id -> object map plus per-object subscriber
// lists. Object lifetime is owned by domain code: an object stays resolvable
// until Unregister, whether or not any session references it.
type Registry struct {
	mu      sync.RWMutex
	objects map[wire.ObjectID]*Object
	subs    map[wire.ObjectID]map[Sink]struct{}
	events  map[wire.ObjectID]map[string]map[Sink]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		objects: make(map[wire.ObjectID]*Object),
		subs:    make(map[wire.ObjectID]map[Sink]struct{}),
		events:  make(map[wire.ObjectID]map[string]map[Sink]struct{}),
	}
}

// Register assigns obj an id on first call and returns the same id on
// every later call.
func (r *Registry) Register(obj Replicable) wire.ObjectID {
	base := obj.Base()
	if id := base.ID(); id != (wire.ObjectID{}) {
		return id
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id, fresh := base.attach(uuid.New(), r)
	if fresh {
		r.objects[id] = base
	}
	return id
}

// Resolve returns the domain object registered under id.
func (r *Registry) Resolve(id wire.ObjectID) (Replicable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.objects[id]
	if !ok {
		return nil, false
	}
	return obj.Owner(), true
}

// Unregister removes the object and tells every session holding it.
func (r *Registry) Unregister(id wire.ObjectID) bool {
	r.mu.Lock()
	obj, ok := r.objects[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.objects, id)
	sinks := sinkList(r.subs[id])
	delete(r.subs, id)
	delete(r.events, id)
	r.mu.Unlock()

	obj.detach()
	for _, s := range sinks {
		s.ObjectReleased(id)
	}
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}

// Subscribe adds sink to the broadcast list of id.
func (r *Registry) Subscribe(id wire.ObjectID, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.objects[id]; !ok {
		return
	}
	set := r.subs[id]
	if set == nil {
		set = make(map[Sink]struct{})
		r.subs[id] = set
	}
	set[sink] = struct{}{}
}

// Unsubscribe removes sink from id's property and event broadcasts.
func (r *Registry) Unsubscribe(id wire.ObjectID, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(id, sink)
}

func (r *Registry) unsubscribeLocked(id wire.ObjectID, sink Sink) {
	if set := r.subs[id]; set != nil {
		delete(set, sink)
		if len(set) == 0 {
			delete(r.subs, id)
		}
	}
	for event, set := range r.events[id] {
		delete(set, sink)
		if len(set) == 0 {
			delete(r.events[id], event)
		}
	}
	if len(r.events[id]) == 0 {
		delete(r.events, id)
	}
}

// SubscribeEvent registers sink for one event of id.
func (r *Registry) SubscribeEvent(id wire.ObjectID, event string, sink Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.objects[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownObject, id)
	}
	if !obj.desc.HasEvent(event) {
		return fmt.Errorf("%w: %s.%s", ErrUnknownEvent, obj.desc.tag, event)
	}
	byEvent := r.events[id]
	if byEvent == nil {
		byEvent = make(map[string]map[Sink]struct{})
		r.events[id] = byEvent
	}
	set := byEvent[event]
	if set == nil {
		set = make(map[Sink]struct{})
		byEvent[event] = set
	}
	set[sink] = struct{}{}
	return nil
}

func (r *Registry) UnsubscribeEvent(id wire.ObjectID, event string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.events[id][event]
	if set == nil {
		return
	}
	delete(set, sink)
	if len(set) == 0 {
		delete(r.events[id], event)
	}
}

// DropSink removes every subscription held by sink; used at session end.
func (r *Registry) DropSink(sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.subs {
		r.unsubscribeLocked(id, sink)
	}
	for id := range r.events {
		r.unsubscribeLocked(id, sink)
	}
}

// Subscribers reports how many sessions currently hold id.
func (r *Registry) Subscribers(id wire.ObjectID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[id])
}

func (r *Registry) Snapshot() []ObjectInfo {
	r.mu.RLock()
	out := make([]ObjectInfo, 0, len(r.objects))
	for id, obj := range r.objects {
		out = append(out, ObjectInfo{ID: id, Type: obj.desc.tag, Subscribers: len(r.subs[id])})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (r *Registry) propertyChanged(obj *Object, name string, value any) {
	r.mu.RLock()
	sinks := sinkList(r.subs[obj.ID()])
	r.mu.RUnlock()
	observability.RecordBroadcast("property", len(sinks))
	for _, s := range sinks {
		s.PropertyChanged(obj, name, value)
	}
}

func (r *Registry) eventRaised(obj *Object, event string, args []any) {
	r.mu.RLock()
	sinks := sinkList(r.events[obj.ID()][event])
	r.mu.RUnlock()
	observability.RecordBroadcast("event", len(sinks))
	for _, s := range sinks {
		s.EventRaised(obj, event, args)
	}
}

func sinkList(set map[Sink]struct{}) []Sink {
	out := make([]Sink, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

// ResolveValue decodes a value sent by a client. Refs must name registered
// objects; plain data stays a wire.Value for typed decoding later.
func (r *Registry) ResolveValue(v wire.Value) (any, error) {
	switch v.Kind {
	case wire.KindNull:
		return nil, nil
	case wire.KindValue:
		return v, nil
	case wire.KindRef, wire.KindBody:
		id, _ := v.ObjectID()
		obj, ok := r.Resolve(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownObject, id)
		}
		return obj, nil
	case wire.KindList:
		out := make([]any, len(v.Items))
		for i, item := range v.Items {
			resolved, err := r.ResolveValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: kind %s", ErrArgument, v.Kind)
	}
}

// ResolveArgs decodes a client's invoke or query arguments.
func (r *Registry) ResolveArgs(values []wire.Value) (Values, error) {
	out := make(Values, len(values))
	for i, v := range values {
		resolved, err := r.ResolveValue(v)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		out[i] = resolved
	}
	return out, nil
}
