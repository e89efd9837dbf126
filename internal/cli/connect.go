package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/danmuck/tvremote/internal/config"
	"github.com/danmuck/tvremote/internal/playout"
	"github.com/danmuck/tvremote/internal/protocol/session"
	"github.com/danmuck/tvremote/internal/remote/client"
)

const defaultClientName = "tvremotectl"

type target struct {
	clientName string
	channel    config.ChannelConfig
}

// resolve picks the channel to talk to. --address wins over the config.
func (o *RootOptions) resolve() (target, error) {
	if addr := strings.TrimSpace(o.Address); addr != "" {
		ch := config.ChannelConfig{Name: addr, Address: addr, ShowEngine: true, ShowMedia: true}
		if err := config.ValidateChannel(ch); err != nil {
			return target{}, WrapExitError(ExitCommandError, "invalid --address", err)
		}
		return target{clientName: defaultClientName, channel: ch}, nil
	}
	cfg, err := config.LoadClientConfig(o.ConfigPath)
	if err != nil {
		return target{}, WrapExitError(ExitCommandError, "load config", err)
	}
	ch, ok := cfg.Channel(o.Channel)
	if !ok {
		return target{}, NewExitError(ExitCommandError, fmt.Sprintf("unknown channel %q", o.Channel))
	}
	return target{clientName: cfg.ClientName, channel: ch}, nil
}

func sessionConfig(ch config.ChannelConfig) session.Config {
	cfg := session.DefaultConfig()
	if ch.TLS.Enabled {
		cfg.TLS = session.TLSConfig{
			Enabled:    true,
			Mutual:     ch.TLS.CertFile != "",
			CertFile:   ch.TLS.CertFile,
			KeyFile:    ch.TLS.KeyFile,
			CAFile:     ch.TLS.CAFile,
			ServerName: ch.TLS.ServerName,
		}
	}
	return cfg
}

func (o *RootOptions) manager() (*client.Manager, target, error) {
	t, err := o.resolve()
	if err != nil {
		return nil, target{}, err
	}
	m, err := client.New(client.Config{
		Address:    t.channel.Address,
		ClientName: t.clientName,
		Session:    sessionConfig(t.channel),
	}, playout.NewBinder())
	if err != nil {
		return nil, target{}, WrapExitError(ExitCommandError, "client setup", err)
	}
	return m, t, nil
}

// connect makes a single attempt; one-shot commands do not retry.
func (o *RootOptions) connect(ctx context.Context) (*client.Connection, *playout.EngineProxy, error) {
	m, t, err := o.manager()
	if err != nil {
		return nil, nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()
	conn, err := m.Connect(dialCtx)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, fmt.Sprintf("connect %s (%s)", t.channel.Name, t.channel.Address), err)
	}
	engine, err := client.RootAs[*playout.EngineProxy](conn)
	if err != nil {
		_ = conn.Close()
		return nil, nil, WrapExitError(ExitCommandError, "unexpected root", err)
	}
	return conn, engine, nil
}

// withEngine runs fn against a fresh connection and closes it afterwards.
func (o *RootOptions) withEngine(ctx context.Context, fn func(context.Context, *playout.EngineProxy) error) error {
	conn, engine, err := o.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, engine)
}

func (o *RootOptions) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.Timeout)
}

// findDirectory matches by name, case-insensitively.
func findDirectory(engine *playout.EngineProxy, name string) (*playout.MediaDirectoryProxy, error) {
	for _, dir := range engine.Directories() {
		if strings.EqualFold(dir.Name(), name) {
			return dir, nil
		}
	}
	return nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown directory %q", name))
}

func findMedia(dir *playout.MediaDirectoryProxy, fileName string) (*playout.MediaProxy, error) {
	for _, m := range dir.Files() {
		if m.FileName() == fileName {
			return m, nil
		}
	}
	return nil, NewExitError(ExitCommandError, fmt.Sprintf("no file %q in %s", fileName, dir.Name()))
}

func remoteErr(what string, err error) error {
	if err == nil {
		return nil
	}
	return WrapExitError(ExitFailure, what, err)
}
