package remote

import (
	"context"
	"errors"
	"fmt"

	logs "github.com/danmuck/tvremote/internal/logging"
	"github.com/danmuck/tvremote/internal/protocol/wire"
)

// Replica is the client half of one session: the proxy registry, the
// decoder bound to it, and the handler for server broadcasts. A new Replica
// is built for every connection; proxies never outlive their session.
type Replica struct {
	binder  *Binder
	proxies *ProxyRegistry
	decoder *Decoder
	session *Session
	notify  *dispatcher
}

func NewReplica(binder *Binder) *Replica {
	r := &Replica{
		binder:  binder,
		proxies: NewProxyRegistry(),
		notify:  newDispatcher(),
	}
	r.decoder = newDecoder(r.proxies, binder, r)
	return r
}

// Attach binds the replica to its session. It must be called before the
// session runs.
func (r *Replica) Attach(s *Session) {
	r.session = s
}

func (r *Replica) Proxies() *ProxyRegistry {
	return r.proxies
}

func (r *Replica) Decoder() *Decoder {
	return r.decoder
}

// DecodeRoot decodes the root body carried by the handshake ack.
func (r *Replica) DecodeRoot(v wire.Value) (Proxied, error) {
	decoded, err := r.decoder.Decode(v)
	root, ok := decoded.(Proxied)
	if !ok {
		if err == nil {
			err = fmt.Errorf("%w: root is %s", ErrProtocol, v.Kind)
		}
		return nil, err
	}
	if err != nil {
		logs.Warnf("remote.Replica.DecodeRoot partial err=%v", err)
	}
	return root, nil
}

// Close drops every proxy and stops listener dispatch once queued
// notifications have run.
func (r *Replica) Close() {
	r.proxies.Clear()
	r.notify.stop()
}

func (r *Replica) HandleFrame(ctx context.Context, env wire.Envelope) error {
	switch msg := env.Message.(type) {
	case *wire.PropertyChanged:
		v, err := r.decoder.Decode(msg.Value)
		if err != nil {
			logs.Warnf("remote.Replica.HandleFrame property_changed id=%s property=%s err=%v", msg.ObjectID, msg.Property, err)
		}
		p, ok := r.proxies.Lookup(msg.ObjectID)
		if !ok {
			logs.Debugf("remote.Replica.HandleFrame dropped property_changed id=%s property=%s", msg.ObjectID, msg.Property)
			return nil
		}
		p.ProxyBase().applyProperty(msg.Property, v)
		return nil
	case *wire.EventNotification:
		args, err := r.decoder.DecodeAll(msg.Args)
		if err != nil {
			logs.Warnf("remote.Replica.HandleFrame event id=%s event=%s err=%v", msg.ObjectID, msg.Event, err)
		}
		p, ok := r.proxies.Lookup(msg.ObjectID)
		if !ok {
			return nil
		}
		p.ProxyBase().fireEvent(Event{Name: msg.Event, Source: p, Args: Values(args)})
		return nil
	case *wire.Release:
		for _, id := range msg.ObjectIDs {
			if p, ok := r.proxies.Remove(id); ok {
				p.ProxyBase().markReleased()
			}
		}
		return nil
	default:
		return &ProtocolError{Err: fmt.Errorf("unexpected %s from server", env.Type())}
	}
}

func (r *Replica) DecodeReply(env wire.Envelope) (any, error) {
	switch msg := env.Message.(type) {
	case *wire.InvokeResult:
		return r.decoder.Decode(msg.Value)
	case *wire.QueryResult:
		return r.decoder.Decode(msg.Value)
	default:
		return nil, nil
	}
}

func (r *Replica) send(msg wire.Message) error {
	if r.session == nil {
		return ErrSessionClosed
	}
	err := r.session.Send(msg)
	if errors.Is(err, ErrSessionClosed) {
		return connectionLost(err)
	}
	return err
}

func (r *Replica) request(ctx context.Context, msg wire.Message) (any, error) {
	if r.session == nil {
		return nil, ErrSessionClosed
	}
	return r.session.Request(ctx, msg)
}

func (r *Replica) release(p *Proxy) error {
	r.proxies.Remove(p.id)
	return r.send(wire.Release{ObjectIDs: []wire.ObjectID{p.id}})
}

func (r *Replica) dispatch(fn func()) {
	r.notify.push(fn)
}
