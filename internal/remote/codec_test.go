package remote

import (
	"errors"
	"testing"

	"github.com/danmuck/tvremote/internal/protocol/frame"
	"github.com/danmuck/tvremote/internal/protocol/wire"
	"github.com/danmuck/tvremote/internal/testutil/testlog"
)

// throughWire sends v through a full frame encode and decode.
func throughWire(t *testing.T, v wire.Value) wire.Value {
	t.Helper()
	f, err := wire.Encode(wire.Envelope{ID: 1, Flags: frame.FlagIsResponse, Message: wire.InvokeResult{Value: v}}, 0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	env, err := wire.Decode(f, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env.Message.(*wire.InvokeResult).Value
}

func mediaTree() (*testDir, *testFile, *testFile) {
	dir := newTestDir("clips")
	a := newTestFile("a.mxf", 10)
	b := newTestFile("b.mxf", 20)
	dir.add(a)
	dir.add(b)
	return dir, a, b
}

func TestEncodeCycleTerminatesWithRefs(t *testing.T) {
	testlog.Start(t)

	reg := NewRegistry()
	known := NewKnownSet(nil, nil)
	dir, a, b := mediaTree()

	v, err := NewEncoder(reg, known).EncodeObject(dir)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if v.Kind != wire.KindBody {
		t.Fatalf("expected body, got %s", v.Kind)
	}
	files := v.Body.Properties["Files"]
	if files.Kind != wire.KindList || len(files.Items) != 2 {
		t.Fatalf("unexpected files value: %+v", files)
	}
	for i, item := range files.Items {
		if item.Kind != wire.KindBody {
			t.Fatalf("file %d: expected nested body, got %s", i, item.Kind)
		}
		back := item.Body.Properties["Directory"]
		if back.Kind != wire.KindRef || back.Ref.ID != dir.ID() {
			t.Fatalf("file %d: expected ref back to directory, got %+v", i, back)
		}
	}
	if known.Len() != 3 {
		t.Fatalf("expected 3 known ids, got %d", known.Len())
	}
	for _, id := range []wire.ObjectID{dir.ID(), a.ID(), b.ID()} {
		if !known.Contains(id) {
			t.Fatalf("id %s missing from known-set", id)
		}
	}
}

func TestEncodeKnownObjectIsRef(t *testing.T) {
	testlog.Start(t)

	reg := NewRegistry()
	enc := NewEncoder(reg, NewKnownSet(nil, nil))
	_, a, _ := mediaTree()

	first, err := enc.EncodeObject(a)
	if err != nil {
		t.Fatalf("first encode: %v", err)
	}
	if first.Kind != wire.KindBody {
		t.Fatalf("expected body on first encode, got %s", first.Kind)
	}
	second, err := enc.EncodeObject(a)
	if err != nil {
		t.Fatalf("second encode: %v", err)
	}
	if second.Kind != wire.KindRef || second.Ref.ID != a.ID() || second.Ref.Type != "test.file" {
		t.Fatalf("expected ref on second encode, got %+v", second)
	}
}

func TestEncodeFailureRollsBackKnownSet(t *testing.T) {
	testlog.Start(t)

	reg := NewRegistry()
	known := NewKnownSet(nil, nil)
	enc := NewEncoder(reg, known)
	dir, _, _ := mediaTree()

	_, err := enc.EncodeArgs([]any{dir, make(chan int)})
	if err == nil {
		t.Fatalf("expected encode error for channel arg")
	}
	if known.Len() != 0 {
		t.Fatalf("expected rollback to empty known-set, got %d ids", known.Len())
	}

	v, err := enc.EncodeObject(dir)
	if err != nil {
		t.Fatalf("encode after rollback: %v", err)
	}
	if v.Kind != wire.KindBody {
		t.Fatalf("expected body after rollback, got %s", v.Kind)
	}
}

func TestDecodeCycleResolvesToSameInstance(t *testing.T) {
	testlog.Start(t)

	reg := NewRegistry()
	dir, a, _ := mediaTree()
	v, err := NewEncoder(reg, NewKnownSet(nil, nil)).EncodeObject(dir)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	proxies := NewProxyRegistry()
	dec := newDecoder(proxies, testBinder(), &loopConn{})
	decoded, err := dec.Decode(throughWire(t, v))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	root, ok := decoded.(*dirProxy)
	if !ok {
		t.Fatalf("expected *dirProxy, got %T", decoded)
	}
	if proxies.Len() != 3 {
		t.Fatalf("expected 3 proxies, got %d", proxies.Len())
	}

	var name string
	if err := root.Get("Name", &name); err != nil || name != "clips" {
		t.Fatalf("unexpected name %q err=%v", name, err)
	}
	files := ProxiesAs[*fileProxy](root.ProxyBase(), "Files")
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}
	if files[0].ID() != a.ID() {
		t.Fatalf("file order not preserved")
	}
	for i, f := range files {
		back, ok := RefAs[*dirProxy](f.ProxyBase(), "Directory")
		if !ok || back != root {
			t.Fatalf("file %d: back-reference is not the root instance", i)
		}
	}
	var size int
	if err := files[1].Get("Size", &size); err != nil || size != 20 {
		t.Fatalf("unexpected size %d err=%v", size, err)
	}
}

func TestDecodeRefBeforeBodyInSameFrame(t *testing.T) {
	testlog.Start(t)

	reg := NewRegistry()
	enc := NewEncoder(reg, NewKnownSet(nil, nil))
	_, a, _ := mediaTree()
	body, err := enc.EncodeObject(a)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ref, err := enc.EncodeObject(a)
	if err != nil {
		t.Fatalf("encode ref: %v", err)
	}

	dec := newDecoder(NewProxyRegistry(), testBinder(), &loopConn{})
	out, err := dec.Decode(throughWire(t, wire.List([]wire.Value{ref, body})))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	items := out.([]any)
	if items[0] == nil || items[0] != items[1] {
		t.Fatalf("ref ahead of its body did not resolve to the same proxy: %#v", items)
	}
}

func TestDecodeUnknownTypeKeepsSiblings(t *testing.T) {
	testlog.Start(t)

	reg := NewRegistry()
	dir, _, _ := mediaTree()
	v, err := NewEncoder(reg, NewKnownSet(nil, nil)).EncodeObject(dir)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	binder := NewBinder()
	binder.MustBind(testFileType, nil)
	proxies := NewProxyRegistry()
	dec := newDecoder(proxies, binder, &loopConn{})
	out, err := dec.Decode(v)
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if out != nil {
		t.Fatalf("unknown root should decode to nil, got %T", out)
	}
	if proxies.Len() != 2 {
		t.Fatalf("expected both files decoded, got %d proxies", proxies.Len())
	}
	for _, p := range proxies.Clear() {
		if p.ProxyBase().Ref("Directory") != nil {
			t.Fatalf("reference to unknown type should be nil")
		}
		var name string
		if err := p.ProxyBase().Get("Name", &name); err != nil || name == "" {
			t.Fatalf("sibling properties not populated: %q %v", name, err)
		}
	}
}

func TestDecodeUnresolvedRefIsNil(t *testing.T) {
	testlog.Start(t)

	dec := newDecoder(NewProxyRegistry(), testBinder(), &loopConn{})
	out, err := dec.Decode(wire.RefTo(wire.ObjectID{1}, "test.file"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil for unresolved ref, got %T", out)
	}
}

func TestDecodeExistingBodyUpdatesCache(t *testing.T) {
	testlog.Start(t)

	reg := NewRegistry()
	proxies := NewProxyRegistry()
	dec := newDecoder(proxies, testBinder(), &loopConn{})
	f := newTestFile("a.mxf", 1)

	v, err := NewEncoder(reg, NewKnownSet(nil, nil)).EncodeObject(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	first, _ := dec.Decode(v)

	f.Set("Size", 2)
	v, err = NewEncoder(reg, NewKnownSet(nil, nil)).EncodeObject(f)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	second, _ := dec.Decode(v)
	if first != second {
		t.Fatalf("same id decoded to a new proxy")
	}
	var size int
	if err := second.(*fileProxy).Get("Size", &size); err != nil || size != 2 {
		t.Fatalf("expected refreshed size 2, got %d err=%v", size, err)
	}
}

func TestEncodeDynamicValues(t *testing.T) {
	testlog.Start(t)

	reg := NewRegistry()
	enc := NewEncoder(reg, NewKnownSet(nil, nil))
	_, a, b := mediaTree()

	v, err := enc.EncodeAny([]*testFile{a, b})
	if err != nil {
		t.Fatalf("encode typed slice: %v", err)
	}
	if v.Kind != wire.KindList || len(v.Items) != 2 || v.Items[0].Kind != wire.KindBody {
		t.Fatalf("unexpected typed slice encoding: %+v", v)
	}

	var nilFile *testFile
	v, err = enc.EncodeAny(nilFile)
	if err != nil || v.Kind != wire.KindNull {
		t.Fatalf("expected null for nil object, got %+v err=%v", v, err)
	}

	v, err = enc.EncodeAny(map[string]int{"a": 1})
	if err != nil || v.Kind != wire.KindValue {
		t.Fatalf("expected plain value, got %+v err=%v", v, err)
	}
}

func TestEncodeDeepChainRoundTrips(t *testing.T) {
	testlog.Start(t)

	const n = 200
	files := make([]*testFile, n)
	for i := range files {
		files[i] = newTestFile("seg", i)
	}
	for i := 0; i < n-1; i++ {
		files[i].Set("Directory", files[i+1])
	}

	v, err := NewEncoder(NewRegistry(), NewKnownSet(nil, nil)).EncodeObject(files[0])
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(v.Bodies) == 0 {
		t.Fatalf("expected deep bodies to be hoisted")
	}

	proxies := NewProxyRegistry()
	dec := newDecoder(proxies, testBinder(), &loopConn{})
	decoded, err := dec.Decode(throughWire(t, v))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if proxies.Len() != n {
		t.Fatalf("expected %d proxies, got %d", n, proxies.Len())
	}
	cur, ok := decoded.(*fileProxy)
	if !ok {
		t.Fatalf("expected *fileProxy, got %T", decoded)
	}
	for i := 0; i < n; i++ {
		var size int
		if err := cur.Get("Size", &size); err != nil || size != i {
			t.Fatalf("link %d: size %d err=%v", i, size, err)
		}
		if cur.ID() != files[i].ID() {
			t.Fatalf("link %d: id mismatch", i)
		}
		next, ok := RefAs[*fileProxy](cur.ProxyBase(), "Directory")
		if i == n-1 {
			if ok {
				t.Fatalf("chain tail should have no next link")
			}
			break
		}
		if !ok {
			t.Fatalf("link %d: next link unresolved", i)
		}
		cur = next
	}
}

func TestProxySetWaitsForCommittedValue(t *testing.T) {
	testlog.Start(t)

	f := newTestFile("a.mxf", 10)
	v, err := NewEncoder(NewRegistry(), NewKnownSet(nil, nil)).EncodeObject(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	conn := &loopConn{}
	decoded, err := newDecoder(NewProxyRegistry(), testBinder(), conn).Decode(v)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	p := decoded.(*fileProxy)

	if err := p.Set("Size", 5); err != nil {
		t.Fatalf("set: %v", err)
	}
	sent := conn.messages()
	if len(sent) != 1 {
		t.Fatalf("expected one outbound message, got %d", len(sent))
	}
	if set, ok := sent[0].(wire.PropertySet); !ok || set.ObjectID != f.ID() || set.Property != "Size" {
		t.Fatalf("unexpected outbound message %#v", sent[0])
	}
	var size int
	if err := p.Get("Size", &size); err != nil || size != 10 {
		t.Fatalf("uncommitted set changed the cache: size=%d err=%v", size, err)
	}

	p.ProxyBase().applyProperty("Size", plain(t, 7))
	if err := p.Get("Size", &size); err != nil || size != 7 {
		t.Fatalf("expected committed size 7, got %d err=%v", size, err)
	}
}

func TestDecodeRefToReleasedProxyIsNil(t *testing.T) {
	testlog.Start(t)

	reg := NewRegistry()
	proxies := NewProxyRegistry()
	dec := newDecoder(proxies, testBinder(), &loopConn{})
	f := newTestFile("a.mxf", 1)

	v, err := NewEncoder(reg, NewKnownSet(nil, nil)).EncodeObject(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, _ := dec.Decode(v)
	old := decoded.(*fileProxy)
	if err := old.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	proxies.Remove(f.ID())

	// A ref the server encoded before it saw the Release.
	out, err := dec.Decode(wire.RefTo(f.ID(), "test.file"))
	if err != nil || out != nil {
		t.Fatalf("expected nil for released ref, got %T err=%v", out, err)
	}

	v, err = NewEncoder(reg, NewKnownSet(nil, nil)).EncodeObject(f)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	again, _ := dec.Decode(v)
	fresh, ok := again.(*fileProxy)
	if !ok || fresh == old || fresh.Released() {
		t.Fatalf("expected a fresh live proxy after re-send, got %T", again)
	}
}
