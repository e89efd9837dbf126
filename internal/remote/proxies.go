package remote

import (
	"sync"

	"github.com/danmuck/tvremote/internal/protocol/wire"
)

// ProxyRegistry is the client's id -> proxy map for one session. It is
// never reused across sessions.
type ProxyRegistry struct {
	mu    sync.RWMutex
	items map[wire.ObjectID]Proxied
}

func NewProxyRegistry() *ProxyRegistry {
	return &ProxyRegistry{items: make(map[wire.ObjectID]Proxied)}
}

func (r *ProxyRegistry) Lookup(id wire.ObjectID) (Proxied, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.items[id]
	return p, ok
}

func (r *ProxyRegistry) Store(p Proxied) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[p.ProxyBase().id] = p
}

func (r *ProxyRegistry) Remove(id wire.ObjectID) (Proxied, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.items[id]
	delete(r.items, id)
	return p, ok
}

func (r *ProxyRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Clear empties the registry and returns what it held.
func (r *ProxyRegistry) Clear() []Proxied {
	r.mu.Lock()
	out := make([]Proxied, 0, len(r.items))
	for _, p := range r.items {
		out = append(out, p)
	}
	r.items = make(map[wire.ObjectID]Proxied)
	r.mu.Unlock()
	return out
}
