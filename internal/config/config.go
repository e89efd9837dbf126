package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ClientConfig is the tvremotectl channel list. Each channel is one
// playout server the operator can watch.
type ClientConfig struct {
	ClientName string          `toml:"client_name"`
	Default    string          `toml:"default_channel"`
	Channels   []ChannelConfig `toml:"channels"`
}

// ChannelConfig names one server and what to show from it.
type ChannelConfig struct {
	Name       string    `toml:"name"`
	Address    string    `toml:"address"`
	ShowEngine bool      `toml:"show_engine"`
	ShowMedia  bool      `toml:"show_media"`
	TLS        TLSConfig `toml:"tls"`
}

// TLSConfig is the client side of the channel's transport.
type TLSConfig struct {
	Enabled    bool   `toml:"enabled"`
	CertFile   string `toml:"cert_file"`
	KeyFile    string `toml:"key_file"`
	CAFile     string `toml:"ca_file"`
	ServerName string `toml:"server_name"`
}

func LoadClientConfig(path string) (ClientConfig, error) {
	var cfg ClientConfig
	if err := loadToml(path, &cfg); err != nil {
		return ClientConfig{}, err
	}
	if strings.TrimSpace(cfg.ClientName) == "" {
		cfg.ClientName = "tvremotectl"
	}
	if cfg.Default == "" && len(cfg.Channels) > 0 {
		cfg.Default = cfg.Channels[0].Name
	}
	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

// Channel finds a channel by name; "" selects the default.
func (c ClientConfig) Channel(name string) (ChannelConfig, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = c.Default
	}
	for _, ch := range c.Channels {
		if strings.EqualFold(ch.Name, name) {
			return ch, true
		}
	}
	return ChannelConfig{}, false
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

// Save writes cfg back as TOML.
func Save(path string, cfg ClientConfig) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config encode failed: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func ValidateClientConfig(cfg ClientConfig) error {
	if len(cfg.Channels) == 0 {
		return fmt.Errorf("client config has no channels")
	}
	seen := make(map[string]bool, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		if err := ValidateChannel(ch); err != nil {
			return fmt.Errorf("channel[%d] invalid: %w", i, err)
		}
		key := strings.ToLower(ch.Name)
		if seen[key] {
			return fmt.Errorf("channel[%d] invalid: duplicate name %q", i, ch.Name)
		}
		seen[key] = true
	}
	if _, ok := cfg.Channel(cfg.Default); !ok {
		return fmt.Errorf("default_channel %q is not configured", cfg.Default)
	}
	return nil
}

func ValidateChannel(ch ChannelConfig) error {
	if strings.TrimSpace(ch.Name) == "" {
		return fmt.Errorf("name is required")
	}
	addr := strings.TrimSpace(ch.Address)
	if addr == "" {
		return fmt.Errorf("address is required")
	}
	if !strings.Contains(addr, ":") {
		return fmt.Errorf("address %q must be host:port", addr)
	}
	if ch.TLS.Enabled && strings.TrimSpace(ch.TLS.CAFile) == "" {
		return fmt.Errorf("tls.ca_file is required when tls is enabled")
	}
	if (ch.TLS.CertFile == "") != (ch.TLS.KeyFile == "") {
		return fmt.Errorf("tls.cert_file and tls.key_file must be set together")
	}
	return nil
}
