package remote

import (
	"context"
	"fmt"
	"runtime/debug"

	logs "github.com/danmuck/tvremote/internal/logging"
	"github.com/danmuck/tvremote/internal/protocol/wire"
)

// ApplySet performs a client's PropertySet on the registered object id.
// Unknown and read-only properties fail with a fault for the client.
func (r *Registry) ApplySet(ctx context.Context, id wire.ObjectID, name string, v wire.Value) error {
	target, ok := r.Resolve(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownObject, id)
	}
	base := target.Base()
	spec, ok := base.desc.Property(name)
	if !ok {
		return fault(fmt.Errorf("%w: %s.%s", ErrUnknownProperty, base.desc.tag, name))
	}
	if !spec.IsWritable() {
		return fault(fmt.Errorf("%w: %s.%s", ErrReadOnlyProperty, base.desc.tag, name))
	}
	value, err := spec.DecodeInbound(v, r.ResolveValue)
	if err != nil {
		return err
	}
	if setter, ok := target.(RemoteSetter); ok {
		_, err = guard(func() (any, error) {
			return nil, setter.SetRemote(ctx, name, value)
		})
		return err
	}
	_, err = guard(func() (any, error) {
		base.Set(name, value)
		return nil, nil
	})
	return err
}

// Invoke runs method on the registered object id.
func (r *Registry) Invoke(ctx context.Context, id wire.ObjectID, method string, args []wire.Value) (any, error) {
	target, fn, err := r.lookupCall(id, method, (*TypeDescriptor).MethodFunc, ErrUnknownMethod)
	if err != nil {
		return nil, err
	}
	values, err := r.ResolveArgs(args)
	if err != nil {
		return nil, err
	}
	return guard(func() (any, error) { return fn(ctx, target, values) })
}

// Query runs a read-only query on the registered object id.
func (r *Registry) Query(ctx context.Context, id wire.ObjectID, spec string, args []wire.Value) (any, error) {
	target, fn, err := r.lookupCall(id, spec, (*TypeDescriptor).QueryFunc, ErrUnknownQuery)
	if err != nil {
		return nil, err
	}
	values, err := r.ResolveArgs(args)
	if err != nil {
		return nil, err
	}
	return guard(func() (any, error) { return fn(ctx, target, values) })
}

func (r *Registry) lookupCall(
	id wire.ObjectID,
	name string,
	find func(*TypeDescriptor, string) (MethodFunc, bool),
	missing error,
) (Replicable, MethodFunc, error) {
	target, ok := r.Resolve(id)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownObject, id)
	}
	desc := target.Base().desc
	fn, ok := find(desc, name)
	if !ok {
		return nil, nil, fault(fmt.Errorf("%w: %s.%s", missing, desc.tag, name))
	}
	return target, fn, nil
}

// guard converts a panic in domain code into a RemoteFault.
func guard(fn func() (any, error)) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logs.Errf("remote.guard panic=%v\n%s", rec, debug.Stack())
			result = nil
			err = &RemoteFault{Kind: wire.ErrorKindRemoteFault, Message: fmt.Sprintf("panic: %v", rec)}
		}
	}()
	return fn()
}

func fault(err error) error {
	return &RemoteFault{Kind: wire.ErrorKindRemoteFault, Message: err.Error()}
}
