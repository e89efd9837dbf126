package session

import "time"

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration `toml:"initial_delay"`
	Multiplier   float64       `toml:"multiplier"`
	MaxDelay     time.Duration `toml:"max_delay"`
	Jitter       bool          `toml:"jitter"`
}

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig points at PEM material on disk.
type TLSConfig struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// Config defines transport/session reliability settings.
type Config struct {
	ConnectTimeout    time.Duration `toml:"connect_timeout"`
	HandshakeTimeout  time.Duration `toml:"handshake_timeout"`
	WriteTimeout      time.Duration `toml:"write_timeout"`
	HeartbeatInterval time.Duration `toml:"heartbeat_interval"`
	SessionDeadAfter  time.Duration `toml:"session_dead_after"`

	// SendQueueSize bounds frames buffered for the write loop.
	SendQueueSize int `toml:"send_queue_size"`
	// MaxConcurrentRequests bounds in-flight invoke/query handlers per session.
	MaxConcurrentRequests int `toml:"max_concurrent_requests"`

	Compression          bool `toml:"compression"`
	CompressionThreshold int  `toml:"compression_threshold"`

	// MaxConnectAttempts <= 0 retries forever.
	MaxConnectAttempts int           `toml:"max_connect_attempts"`
	Backoff            BackoffConfig `toml:"backoff"`

	SecurityMode SecurityMode `toml:"security_mode"`
	TLS          TLSConfig    `toml:"tls"`
}

// DefaultConfig returns the reliability defaults. Reconnects retry every
// second without growth or limit.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:        5 * time.Second,
		HandshakeTimeout:      5 * time.Second,
		WriteTimeout:          15 * time.Second,
		HeartbeatInterval:     5 * time.Second,
		SessionDeadAfter:      15 * time.Second,
		SendQueueSize:         256,
		MaxConcurrentRequests: 16,
		Compression:           true,
		CompressionThreshold:  4 * 1024,
		Backoff: BackoffConfig{
			InitialDelay: time.Second,
			Multiplier:   1.0,
		},
		SecurityMode: SecurityModeDevelopment,
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.SessionDeadAfter <= 0 {
		c.SessionDeadAfter = d.SessionDeadAfter
	}
	if c.SessionDeadAfter <= c.HeartbeatInterval {
		c.SessionDeadAfter = 3 * c.HeartbeatInterval
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.MaxConcurrentRequests <= 0 {
		c.MaxConcurrentRequests = d.MaxConcurrentRequests
	}
	if c.CompressionThreshold <= 0 {
		c.CompressionThreshold = d.CompressionThreshold
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = d.Backoff
	}
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	return c
}

// Threshold returns the compression threshold to use once a session has
// negotiated compression, or 0 when disabled.
func (c Config) Threshold(negotiated bool) int {
	if !c.Compression || !negotiated {
		return 0
	}
	return c.CompressionThreshold
}
