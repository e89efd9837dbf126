package playout

import (
	"time"

	logs "github.com/danmuck/tvremote/internal/logging"
	"github.com/danmuck/tvremote/internal/remote"
	"github.com/google/uuid"
)

// EngineConfig configures NewEngine.
type EngineConfig struct {
	Name       string
	Executor   Executor
	RetryDelay time.Duration
}

// Engine is the root object served to every client.
type Engine struct {
	*remote.Object

	registry *remote.Registry
	files    *FileManager
	cg       *CGElementsController
}

// NewEngine builds the engine graph. registry is where retired objects are
// unregistered; it should be the one the server uses.
func NewEngine(registry *remote.Registry, cfg EngineConfig) *Engine {
	if cfg.Executor == nil {
		cfg.Executor = SimulatedExecutor{}
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	e := &Engine{registry: registry}
	e.Object = remote.NewObject(EngineType, e)
	e.files = newFileManager(e, cfg.Executor, cfg.RetryDelay)
	e.cg = NewCGElementsController()
	e.Set("Name", cfg.Name)
	e.Set("StartedAt", time.Now().UTC())
	e.Set("FileManager", e.files)
	e.Set("CGElementsController", e.cg)
	return e
}

func (e *Engine) Name() string {
	return remote.GetAs[string](e.Object, "Name")
}

func (e *Engine) FileManager() *FileManager {
	return e.files
}

func (e *Engine) CG() *CGElementsController {
	return e.cg
}

func (e *Engine) Directories() []*MediaDirectory {
	return remote.RefsAs[*MediaDirectory](e.Object, "MediaDirectories")
}

// AddDirectory attaches a new media directory.
func (e *Engine) AddDirectory(name, folder string, primary bool) *MediaDirectory {
	d := NewMediaDirectory(name, folder, primary)
	e.Set("MediaDirectories", remote.RefList(append(e.Directories(), d)))
	logs.Infof("playout.Engine.AddDirectory name=%q folder=%q primary=%t", name, folder, primary)
	return d
}

// Directory finds a directory by name.
func (e *Engine) Directory(name string) *MediaDirectory {
	for _, d := range e.Directories() {
		if d.Name() == name {
			return d
		}
	}
	return nil
}

// DeleteMedia removes m from its directory and tells clients to drop it.
func (e *Engine) DeleteMedia(m *Media) {
	if dir := m.Directory(); dir != nil {
		dir.RemoveMedia(m)
	}
	m.Set("MediaStatus", MediaDeleted)
	e.retire(m)
}

// retire unregisters obj so every session holding it receives a Release.
func (e *Engine) retire(obj remote.Replicable) {
	if e.registry == nil {
		return
	}
	if id := obj.Base().ID(); id != uuid.Nil {
		e.registry.Unregister(id)
	}
}
