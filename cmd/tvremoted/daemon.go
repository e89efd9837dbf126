package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/danmuck/tvremote/internal/admin"
	logs "github.com/danmuck/tvremote/internal/logging"
	"github.com/danmuck/tvremote/internal/observability"
	"github.com/danmuck/tvremote/internal/playout"
	"github.com/danmuck/tvremote/internal/remote"
	"github.com/danmuck/tvremote/internal/remote/server"
	"golang.org/x/sync/errgroup"
)

// daemon wires one engine graph to the remote server and admin routes.
type daemon struct {
	cfg    serviceConfig
	engine *playout.Engine
	server *server.Server
	admin  *admin.Admin
}

func newDaemon(cfg serviceConfig) *daemon {
	registry := remote.NewRegistry()
	engine := playout.NewEngine(registry, playout.EngineConfig{
		Name:       cfg.EngineName,
		RetryDelay: cfg.RetryDelay,
	})
	for _, dir := range cfg.Directories {
		engine.AddDirectory(dir.Name, dir.Folder, dir.Primary)
	}
	d := &daemon{
		cfg:    cfg,
		engine: engine,
		server: server.New(cfg.Server, registry, engine),
	}
	if cfg.AdminListenAddr != "" {
		d.admin = admin.New(cfg.Server.ServerName, cfg.AdminListenAddr, cfg.CORSOrigins, d.server)
	}
	return d
}

// Run blocks until SIGINT or SIGTERM.
func (d *daemon) Run() error {
	observability.InitLogger("tvremoted")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return d.serve(ctx)
}

func (d *daemon) serve(ctx context.Context) error {
	d.scan()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.engine.FileManager().Run(gctx)
	})
	g.Go(func() error {
		return d.server.ListenAndServe(gctx)
	})
	if d.admin != nil {
		g.Go(func() error {
			return d.admin.Serve(gctx)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// scan loads what is already on disk; a missing folder only warns.
func (d *daemon) scan() {
	for _, dir := range d.engine.Directories() {
		added, err := dir.Scan()
		if err != nil {
			logs.Warnf("tvremoted.daemon.scan directory=%q folder=%q err=%v", dir.Name(), dir.Folder(), err)
			continue
		}
		logs.Infof("tvremoted.daemon.scan directory=%q added=%d", dir.Name(), added)
	}
}
