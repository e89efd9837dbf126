package remote

import (
	"fmt"
	"sort"
	"sync"
)

// ProxyConstructor wraps a base proxy in its domain type.
type ProxyConstructor func(base *Proxy) Proxied

type binding struct {
	desc *TypeDescriptor
	ctor ProxyConstructor
}

// Binder maps wire type tags to descriptors and proxy constructors. It is
// populated at process start, before any session exists.
type Binder struct {
	mu    sync.RWMutex
	byTag map[string]binding
}

func NewBinder() *Binder {
	return &Binder{byTag: make(map[string]binding)}
}

// Bind registers desc. A nil ctor binds the plain *Proxy.
func (b *Binder) Bind(desc *TypeDescriptor, ctor ProxyConstructor) error {
	if desc == nil || !isValidTag(desc.tag) {
		return ErrInvalidTypeTag
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.byTag[desc.tag]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateBinding, desc.tag)
	}
	b.byTag[desc.tag] = binding{desc: desc, ctor: ctor}
	return nil
}

func (b *Binder) MustBind(desc *TypeDescriptor, ctor ProxyConstructor) {
	if err := b.Bind(desc, ctor); err != nil {
		panic(err)
	}
}

// TypeTag is the wire tag for a server object.
func (b *Binder) TypeTag(obj Replicable) string {
	return obj.Base().desc.tag
}

func (b *Binder) Descriptor(tag string) (*TypeDescriptor, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bind, ok := b.byTag[tag]
	return bind.desc, ok
}

// Construct builds the client proxy for base.TypeTag().
func (b *Binder) Construct(tag string, base *Proxy) (Proxied, error) {
	b.mu.RLock()
	bind, ok := b.byTag[tag]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, tag)
	}
	base.desc = bind.desc
	if bind.ctor == nil {
		base.owner = base
		return base, nil
	}
	p := bind.ctor(base)
	base.owner = p
	return p, nil
}

func (b *Binder) Tags() []string {
	b.mu.RLock()
	out := make([]string, 0, len(b.byTag))
	for tag := range b.byTag {
		out = append(out, tag)
	}
	b.mu.RUnlock()
	sort.Strings(out)
	return out
}
