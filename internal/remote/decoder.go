package remote

import (
	"errors"
	"fmt"
	"sort"

	logs "github.com/danmuck/tvremote/internal/logging"
	"github.com/danmuck/tvremote/internal/protocol/wire"
)

// Decoder turns received wire values into proxies for one client session.
//
// Decoding is two-pass: every Body anywhere in the input is first bound to
// a proxy and stored, then properties are filled in. A Ref can therefore
// point at a body anywhere in the same frame, and cycles resolve to the
// same instance.
type Decoder struct {
	proxies *ProxyRegistry
	binder  *Binder
	conn    requester
}

func newDecoder(proxies *ProxyRegistry, binder *Binder, conn requester) *Decoder {
	return &Decoder{proxies: proxies, binder: binder, conn: conn}
}

type pendingBody struct {
	body  *wire.ObjectBody
	proxy *Proxy
}

// Decode decodes one value. See DecodeAll.
func (d *Decoder) Decode(v wire.Value) (any, error) {
	out, err := d.DecodeAll([]wire.Value{v})
	return out[0], err
}

// DecodeAll decodes values that arrived in one frame. Objects of unknown
// type decode to nil; everything else still resolves, and the unknown tags
// are reported in the joined error.
func (d *Decoder) DecodeAll(values []wire.Value) ([]any, error) {
	var (
		bodies []pendingBody
		errs   []error
	)
	for _, v := range values {
		d.materialize(v, &bodies, &errs)
	}
	for _, b := range bodies {
		d.populate(b)
	}
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = d.resolve(v)
	}
	return out, errors.Join(errs...)
}

func (d *Decoder) materialize(v wire.Value, bodies *[]pendingBody, errs *[]error) {
	for _, body := range v.Bodies {
		d.materialize(wire.BodyOf(body), bodies, errs)
	}
	switch v.Kind {
	case wire.KindBody:
		body := v.Body
		var base *Proxy
		if existing, ok := d.proxies.Lookup(body.ID); ok {
			base = existing.ProxyBase()
		} else {
			p := newProxy(body.ID, body.Type, d.conn)
			owner, err := d.binder.Construct(body.Type, p)
			if err != nil {
				logs.Warnf("remote.Decoder.materialize id=%s type=%q err=%v", body.ID, body.Type, err)
				*errs = append(*errs, fmt.Errorf("object %s: %w", body.ID, err))
			} else {
				d.proxies.Store(owner)
				base = p
			}
		}
		*bodies = append(*bodies, pendingBody{body: body, proxy: base})
		for _, name := range sortedNames(body.Properties) {
			d.materialize(body.Properties[name], bodies, errs)
		}
	case wire.KindList:
		for _, item := range v.Items {
			d.materialize(item, bodies, errs)
		}
	}
}

func (d *Decoder) populate(b pendingBody) {
	if b.proxy == nil {
		return
	}
	props := make(map[string]any, len(b.body.Properties))
	for name, v := range b.body.Properties {
		props[name] = d.resolve(v)
	}
	b.proxy.applyBody(props)
}

func (d *Decoder) resolve(v wire.Value) any {
	switch v.Kind {
	case wire.KindNull:
		return nil
	case wire.KindValue:
		return v
	case wire.KindRef, wire.KindBody:
		id, _ := v.ObjectID()
		p, ok := d.proxies.Lookup(id)
		if !ok {
			logs.Debugf("remote.Decoder.resolve unresolved id=%s", id)
			return nil
		}
		return p
	case wire.KindList:
		out := make([]any, len(v.Items))
		for i, item := range v.Items {
			out[i] = d.resolve(item)
		}
		return out
	default:
		return nil
	}
}

func sortedNames(props map[string]wire.Value) []string {
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
