package playout

import (
	"context"
	"time"

	"github.com/danmuck/tvremote/internal/remote"
)

// Bind registers the client proxies for every playout type.
func Bind(b *remote.Binder) error {
	bindings := []struct {
		desc *remote.TypeDescriptor
		ctor remote.ProxyConstructor
	}{
		{EngineType, func(p *remote.Proxy) remote.Proxied { return &EngineProxy{Proxy: p} }},
		{FileManagerType, func(p *remote.Proxy) remote.Proxied { return &FileManagerProxy{Proxy: p} }},
		{FileOperationType, func(p *remote.Proxy) remote.Proxied { return &FileOperationProxy{Proxy: p} }},
		{DirectoryType, func(p *remote.Proxy) remote.Proxied { return &MediaDirectoryProxy{Proxy: p} }},
		{MediaType, func(p *remote.Proxy) remote.Proxied { return &MediaProxy{Proxy: p} }},
		{CGControllerType, func(p *remote.Proxy) remote.Proxied { return &CGProxy{Proxy: p} }},
	}
	for _, binding := range bindings {
		if err := b.Bind(binding.desc, binding.ctor); err != nil {
			return err
		}
	}
	return nil
}

// NewBinder returns a binder with the playout proxies registered.
func NewBinder() *remote.Binder {
	b := remote.NewBinder()
	if err := Bind(b); err != nil {
		panic(err)
	}
	return b
}

// value reads a cached value property, returning the zero value when it
// is missing or undecodable.
func value[T any](p *remote.Proxy, name string) T {
	var out T
	_ = p.Get(name, &out)
	return out
}

type EngineProxy struct {
	*remote.Proxy
}

func (e *EngineProxy) Name() string {
	return value[string](e.Proxy, "Name")
}

func (e *EngineProxy) StartedAt() time.Time {
	return value[time.Time](e.Proxy, "StartedAt")
}

func (e *EngineProxy) FileManager() *FileManagerProxy {
	fm, _ := remote.RefAs[*FileManagerProxy](e.Proxy, "FileManager")
	return fm
}

func (e *EngineProxy) CG() *CGProxy {
	cg, _ := remote.RefAs[*CGProxy](e.Proxy, "CGElementsController")
	return cg
}

func (e *EngineProxy) Directories() []*MediaDirectoryProxy {
	return remote.ProxiesAs[*MediaDirectoryProxy](e.Proxy, "MediaDirectories")
}

type FileManagerProxy struct {
	*remote.Proxy
}

func (f *FileManagerProxy) Operations() []*FileOperationProxy {
	return remote.ProxiesAs[*FileOperationProxy](f.Proxy, "Operations")
}

// Queue asks the server to schedule an operation; dest may be nil for a
// delete.
func (f *FileManagerProxy) Queue(ctx context.Context, kind OperationKind, source *MediaProxy, dest *MediaDirectoryProxy) (*FileOperationProxy, error) {
	var target any
	if dest != nil {
		target = dest
	}
	res, err := f.Call(ctx, "Queue", kind, source, target)
	if err != nil {
		return nil, err
	}
	op, _ := res.Object().(*FileOperationProxy)
	return op, nil
}

func (f *FileManagerProxy) ClearFinished(ctx context.Context) (int, error) {
	res, err := f.Call(ctx, "ClearFinished")
	if err != nil {
		return 0, err
	}
	var n int
	return n, res.Decode(&n)
}

func (f *FileManagerProxy) Pending(ctx context.Context) ([]*FileOperationProxy, error) {
	res, err := f.Query(ctx, "Pending")
	if err != nil {
		return nil, err
	}
	return remote.ObjectsAs[*FileOperationProxy](res), nil
}

type FileOperationProxy struct {
	*remote.Proxy
}

func (o *FileOperationProxy) Kind() OperationKind {
	return value[OperationKind](o.Proxy, "Kind")
}

func (o *FileOperationProxy) Status() OperationStatus {
	return value[OperationStatus](o.Proxy, "OperationStatus")
}

func (o *FileOperationProxy) Progress() int {
	return value[int](o.Proxy, "Progress")
}

func (o *FileOperationProxy) TryCount() int {
	return value[int](o.Proxy, "TryCount")
}

func (o *FileOperationProxy) IsAborted() bool {
	return value[bool](o.Proxy, "IsAborted")
}

func (o *FileOperationProxy) ScheduledTime() time.Time {
	return value[time.Time](o.Proxy, "ScheduledTime")
}

func (o *FileOperationProxy) FinishedTime() time.Time {
	return value[time.Time](o.Proxy, "FinishedTime")
}

func (o *FileOperationProxy) Output() []string {
	return value[[]string](o.Proxy, "OperationOutput")
}

func (o *FileOperationProxy) Warnings() []string {
	return value[[]string](o.Proxy, "OperationWarning")
}

func (o *FileOperationProxy) Source() *MediaProxy {
	m, _ := remote.RefAs[*MediaProxy](o.Proxy, "Source")
	return m
}

func (o *FileOperationProxy) Destination() *MediaDirectoryProxy {
	d, _ := remote.RefAs[*MediaDirectoryProxy](o.Proxy, "Destination")
	return d
}

func (o *FileOperationProxy) Abort(ctx context.Context) error {
	_, err := o.Call(ctx, "Abort")
	return err
}

type MediaDirectoryProxy struct {
	*remote.Proxy
}

func (d *MediaDirectoryProxy) Name() string {
	return value[string](d.Proxy, "DirectoryName")
}

func (d *MediaDirectoryProxy) Folder() string {
	return value[string](d.Proxy, "Folder")
}

func (d *MediaDirectoryProxy) IsPrimary() bool {
	return value[bool](d.Proxy, "IsPrimary")
}

// Files is the cached file list.
func (d *MediaDirectoryProxy) Files() []*MediaProxy {
	return remote.ProxiesAs[*MediaProxy](d.Proxy, "Files")
}

// GetFiles queries the server for files matching filter ("" for all).
func (d *MediaDirectoryProxy) GetFiles(ctx context.Context, filter string) ([]*MediaProxy, error) {
	res, err := d.Query(ctx, "GetFiles", filter)
	if err != nil {
		return nil, err
	}
	return remote.ObjectsAs[*MediaProxy](res), nil
}

type MediaProxy struct {
	*remote.Proxy
}

func (m *MediaProxy) MediaName() string {
	return value[string](m.Proxy, "MediaName")
}

func (m *MediaProxy) FileName() string {
	return value[string](m.Proxy, "FileName")
}

func (m *MediaProxy) FileSize() int64 {
	return value[int64](m.Proxy, "FileSize")
}

func (m *MediaProxy) Duration() time.Duration {
	return value[time.Duration](m.Proxy, "Duration")
}

func (m *MediaProxy) Status() MediaStatus {
	return value[MediaStatus](m.Proxy, "MediaStatus")
}

func (m *MediaProxy) Directory() *MediaDirectoryProxy {
	d, _ := remote.RefAs[*MediaDirectoryProxy](m.Proxy, "Directory")
	return d
}

// Rename sets MediaName on the server.
func (m *MediaProxy) Rename(ctx context.Context, name string) error {
	return m.SetAck(ctx, "MediaName", name)
}

type CGProxy struct {
	*remote.Proxy
}

func (c *CGProxy) IsConnected() bool {
	return value[bool](c.Proxy, "IsConnected")
}

func (c *CGProxy) IsCGEnabled() bool {
	return value[bool](c.Proxy, "IsCGEnabled")
}

func (c *CGProxy) Crawl() uint8 {
	return value[uint8](c.Proxy, "Crawl")
}

func (c *CGProxy) Logo() uint8 {
	return value[uint8](c.Proxy, "Logo")
}

func (c *CGProxy) Parental() uint8 {
	return value[uint8](c.Proxy, "Parental")
}

func (c *CGProxy) Crawls() []CGElement {
	return value[[]CGElement](c.Proxy, "Crawls")
}

func (c *CGProxy) Logos() []CGElement {
	return value[[]CGElement](c.Proxy, "Logos")
}

func (c *CGProxy) Parentals() []CGElement {
	return value[[]CGElement](c.Proxy, "Parentals")
}

func (c *CGProxy) Clear(ctx context.Context) error {
	_, err := c.Call(ctx, "Clear")
	return err
}

func (c *CGProxy) SetState(ctx context.Context, state CGState) error {
	_, err := c.Call(ctx, "SetState", state)
	return err
}
