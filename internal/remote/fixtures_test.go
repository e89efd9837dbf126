package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/tvremote/internal/protocol/wire"
)

var (
	testDirType = NewType("test.directory",
		ValueProp[string]("Name").Writable(),
		ValueProp[bool]("IsPrimary"),
		RefListProp("Files"),
	).Query("FileCount", func(_ context.Context, target Replicable, _ Values) (any, error) {
		return len(RefsAs[*testFile](target.Base(), "Files")), nil
	})

	testFileType = NewType("test.file",
		ValueProp[string]("Name"),
		ValueProp[int]("Size").Writable(),
		RefProp("Directory").Writable(),
	).Method("Grow", func(_ context.Context, target Replicable, args Values) (any, error) {
		delta, err := Arg[int](args, 0)
		if err != nil {
			return nil, err
		}
		f := target.(*testFile)
		f.Set("Size", GetAs[int](f.Object, "Size")+delta)
		return GetAs[int](f.Object, "Size"), nil
	}).Method("Explode", func(context.Context, Replicable, Values) (any, error) {
		panic("boom")
	}).Method("Fail", func(context.Context, Replicable, Values) (any, error) {
		return nil, errors.New("disk full")
	}).Event("Touched")
)

type testDir struct {
	*Object
}

func newTestDir(name string) *testDir {
	d := &testDir{}
	d.Object = NewObject(testDirType, d)
	d.Set("Name", name)
	return d
}

func (d *testDir) add(f *testFile) {
	files := RefsAs[*testFile](d.Object, "Files")
	d.Set("Files", RefList(append(files, f)))
	f.Set("Directory", d)
}

type testFile struct {
	*Object
}

func newTestFile(name string, size int) *testFile {
	f := &testFile{}
	f.Object = NewObject(testFileType, f)
	f.Set("Name", name)
	f.Set("Size", size)
	return f
}

// guardedFile validates remote writes.
type guardedFile struct {
	*Object
}

var guardedType = NewType("test.guarded", ValueProp[int]("Size").Writable())

func newGuardedFile() *guardedFile {
	g := &guardedFile{}
	g.Object = NewObject(guardedType, g)
	return g
}

func (g *guardedFile) SetRemote(_ context.Context, name string, value any) error {
	size, _ := value.(int)
	if size < 0 {
		return fmt.Errorf("size must be >= 0")
	}
	if size == 13 {
		panic("unlucky size")
	}
	g.Set(name, value)
	return nil
}

type dirProxy struct {
	*Proxy
}

type fileProxy struct {
	*Proxy
}

func testBinder() *Binder {
	b := NewBinder()
	b.MustBind(testDirType, func(base *Proxy) Proxied { return &dirProxy{Proxy: base} })
	b.MustBind(testFileType, func(base *Proxy) Proxied { return &fileProxy{Proxy: base} })
	return b
}

// recordingSink captures broadcasts.
type recordingSink struct {
	mu       sync.Mutex
	changes  []string
	events   []string
	released []wire.ObjectID
}

func (s *recordingSink) PropertyChanged(obj *Object, name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, fmt.Sprintf("%s=%v", name, value))
}

func (s *recordingSink) EventRaised(obj *Object, event string, args []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) ObjectReleased(id wire.ObjectID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, id)
}

func (s *recordingSink) changeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.changes)
}

// loopConn is a requester that records outbound messages and runs
// listeners inline.
type loopConn struct {
	mu   sync.Mutex
	sent []wire.Message
}

func (c *loopConn) send(msg wire.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *loopConn) request(_ context.Context, msg wire.Message) (any, error) {
	return nil, c.send(msg)
}

func (c *loopConn) release(p *Proxy) error {
	return c.send(wire.Release{ObjectIDs: []wire.ObjectID{p.id}})
}

func (c *loopConn) dispatch(fn func()) {
	fn()
}

func (c *loopConn) messages() []wire.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wire.Message(nil), c.sent...)
}
