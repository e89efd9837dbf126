package server

import (
	"strings"

	"github.com/danmuck/tvremote/internal/protocol/frame"
	"github.com/danmuck/tvremote/internal/protocol/session"
)

// Config is the remote endpoint configuration.
type Config struct {
	ListenAddr string
	ServerName string
	// RequireIdentityBinding rejects mTLS clients whose declared name does
	// not match their certificate identity.
	RequireIdentityBinding bool
	Session                session.Config
	Limits                 frame.Limits
}

func DefaultConfig() Config {
	return Config{
		ListenAddr: ":7400",
		ServerName: "tvremoted",
		Session:    session.DefaultConfig(),
		Limits:     frame.DefaultLimits(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = d.ListenAddr
	}
	if strings.TrimSpace(c.ServerName) == "" {
		c.ServerName = d.ServerName
	}
	if c.Limits.MaxPayloadBytes == 0 {
		c.Limits = d.Limits
	}
	c.Session = c.Session.WithDefaults()
	return c
}
