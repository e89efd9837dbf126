package remote

import (
	"sort"
	"sync"

	"github.com/danmuck/tvremote/internal/protocol/wire"
)

// KnownSet is the set of object ids a session has already sent in full.
// Hooks run outside the set's lock.
type KnownSet struct {
	mu       sync.Mutex
	ids      map[wire.ObjectID]struct{}
	onAdd    func(wire.ObjectID)
	onRemove func(wire.ObjectID)
}

func NewKnownSet(onAdd, onRemove func(wire.ObjectID)) *KnownSet {
	return &KnownSet{
		ids:      make(map[wire.ObjectID]struct{}),
		onAdd:    onAdd,
		onRemove: onRemove,
	}
}

func (k *KnownSet) Contains(id wire.ObjectID) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.ids[id]
	return ok
}

// Add returns true if id was not yet known.
func (k *KnownSet) Add(id wire.ObjectID) bool {
	k.mu.Lock()
	_, ok := k.ids[id]
	if !ok {
		k.ids[id] = struct{}{}
	}
	k.mu.Unlock()
	if !ok && k.onAdd != nil {
		k.onAdd(id)
	}
	return !ok
}

func (k *KnownSet) Remove(id wire.ObjectID) bool {
	k.mu.Lock()
	_, ok := k.ids[id]
	delete(k.ids, id)
	k.mu.Unlock()
	if ok && k.onRemove != nil {
		k.onRemove(id)
	}
	return ok
}

func (k *KnownSet) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.ids)
}

func (k *KnownSet) IDs() []wire.ObjectID {
	k.mu.Lock()
	out := make([]wire.ObjectID, 0, len(k.ids))
	for id := range k.ids {
		out = append(out, id)
	}
	k.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}
