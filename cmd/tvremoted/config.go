package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/tvremote/internal/protocol/session"
	"github.com/danmuck/tvremote/internal/remote/server"
)

// tvremoted config.toml key mapping to runtime settings.
type fileConfig struct {
	ServerName          string          `toml:"server_name"`
	ListenAddr          string          `toml:"listen_addr"`
	AdminListenAddr     string          `toml:"admin_listen_addr"`
	CORSOrigins         []string        `toml:"cors_origins"`
	EngineName          string          `toml:"engine_name"`
	RetryDelay          string          `toml:"retry_delay"`
	RequireIdentityBind bool            `toml:"require_identity_binding"`
	HeartbeatInterval   string          `toml:"heartbeat_interval"`
	SessionDeadAfter    string          `toml:"session_dead_after"`
	MaxConcurrent       int             `toml:"max_concurrent_requests"`
	Compression         bool            `toml:"compression"`
	SessionSecurityMode string          `toml:"session_security_mode"`
	SessionTLSEnabled   bool            `toml:"session_tls_enabled"`
	SessionTLSMutual    bool            `toml:"session_tls_mutual"`
	SessionTLSCertFile  string          `toml:"session_tls_cert_file"`
	SessionTLSKeyFile   string          `toml:"session_tls_key_file"`
	SessionTLSCAFile    string          `toml:"session_tls_ca_file"`
	MediaDirectories    []directoryFile `toml:"media_directories"`
}

type directoryFile struct {
	Name    string `toml:"name"`
	Folder  string `toml:"folder"`
	Primary bool   `toml:"primary"`
}

type serviceConfig struct {
	Server          server.Config
	AdminListenAddr string
	CORSOrigins     []string
	EngineName      string
	RetryDelay      time.Duration
	Directories     []directoryFile
}

func defaultServiceConfig() serviceConfig {
	return serviceConfig{
		Server:     server.DefaultConfig(),
		EngineName: "tvremote",
		RetryDelay: time.Second,
	}
}

// loadServiceConfig overlays the keys present in path onto the defaults.
func loadServiceConfig(path string) (serviceConfig, error) {
	cfg := defaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serviceConfig{}, fmt.Errorf("load tvremoted config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return serviceConfig{}, fmt.Errorf("load tvremoted config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("server_name") {
		cfg.Server.ServerName = strings.TrimSpace(raw.ServerName)
	}
	if meta.IsDefined("listen_addr") {
		cfg.Server.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = raw.CORSOrigins
	}
	if meta.IsDefined("engine_name") {
		cfg.EngineName = strings.TrimSpace(raw.EngineName)
	}
	if meta.IsDefined("retry_delay") {
		if cfg.RetryDelay, err = parseDuration("retry_delay", raw.RetryDelay); err != nil {
			return serviceConfig{}, err
		}
	}
	if meta.IsDefined("require_identity_binding") {
		cfg.Server.RequireIdentityBinding = raw.RequireIdentityBind
	}
	if meta.IsDefined("heartbeat_interval") {
		if cfg.Server.Session.HeartbeatInterval, err = parseDuration("heartbeat_interval", raw.HeartbeatInterval); err != nil {
			return serviceConfig{}, err
		}
	}
	if meta.IsDefined("session_dead_after") {
		if cfg.Server.Session.SessionDeadAfter, err = parseDuration("session_dead_after", raw.SessionDeadAfter); err != nil {
			return serviceConfig{}, err
		}
	}
	if meta.IsDefined("max_concurrent_requests") {
		cfg.Server.Session.MaxConcurrentRequests = raw.MaxConcurrent
	}
	if meta.IsDefined("compression") {
		cfg.Server.Session.Compression = raw.Compression
	}
	if meta.IsDefined("session_security_mode") {
		cfg.Server.Session.SecurityMode = session.SecurityMode(strings.TrimSpace(raw.SessionSecurityMode))
	}
	if meta.IsDefined("session_tls_enabled") {
		cfg.Server.Session.TLS.Enabled = raw.SessionTLSEnabled
	}
	if meta.IsDefined("session_tls_mutual") {
		cfg.Server.Session.TLS.Mutual = raw.SessionTLSMutual
	}
	if meta.IsDefined("session_tls_cert_file") {
		cfg.Server.Session.TLS.CertFile = strings.TrimSpace(raw.SessionTLSCertFile)
	}
	if meta.IsDefined("session_tls_key_file") {
		cfg.Server.Session.TLS.KeyFile = strings.TrimSpace(raw.SessionTLSKeyFile)
	}
	if meta.IsDefined("session_tls_ca_file") {
		cfg.Server.Session.TLS.CAFile = strings.TrimSpace(raw.SessionTLSCAFile)
	}

	seen := make(map[string]bool, len(raw.MediaDirectories))
	for i, dir := range raw.MediaDirectories {
		dir.Name = strings.TrimSpace(dir.Name)
		dir.Folder = strings.TrimSpace(dir.Folder)
		if dir.Name == "" || dir.Folder == "" {
			return serviceConfig{}, fmt.Errorf("load tvremoted config: media_directories[%d] needs name and folder", i)
		}
		if seen[dir.Name] {
			return serviceConfig{}, fmt.Errorf("load tvremoted config: duplicate media directory %q", dir.Name)
		}
		seen[dir.Name] = true
		cfg.Directories = append(cfg.Directories, dir)
	}

	cfg.Server.Session = cfg.Server.Session.WithDefaults()
	if err := cfg.Server.Session.ValidateServerTransport(); err != nil {
		return serviceConfig{}, fmt.Errorf("load tvremoted config: %w", err)
	}
	return cfg, nil
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("load tvremoted config: invalid %s %q", key, value)
	}
	return d, nil
}
