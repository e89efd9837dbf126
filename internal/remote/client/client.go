package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	logs "github.com/danmuck/tvremote/internal/logging"
	"github.com/danmuck/tvremote/internal/protocol/frame"
	"github.com/danmuck/tvremote/internal/protocol/session"
	"github.com/danmuck/tvremote/internal/protocol/wire"
	"github.com/danmuck/tvremote/internal/remote"
	"github.com/google/uuid"
)

var (
	ErrAddressRequired = errors.New("client: server address required")
	ErrNotConnected    = errors.New("client: not connected")
	ErrUnexpectedRoot  = errors.New("client: unexpected root type")
)

// State is the connection manager's lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateHandshaking
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Config struct {
	Address    string
	ClientName string
	// ClientID identifies this process across reconnects; generated when zero.
	ClientID uuid.UUID
	Session  session.Config
	Limits   frame.Limits
}

func DefaultConfig() Config {
	return Config{
		Session: session.DefaultConfig(),
		Limits:  frame.DefaultLimits(),
	}
}

// Manager owns the connection to one server.
type Manager struct {
	cfg    Config
	binder *remote.Binder
	rng    *rand.Rand

	mu        sync.Mutex
	state     State
	current   *Connection
	observers map[uint64]func(State)
	nextObs   uint64
}

func New(cfg Config, binder *remote.Binder) (*Manager, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	if binder == nil {
		return nil, errors.New("client: binder required")
	}
	if cfg.ClientID == uuid.Nil {
		cfg.ClientID = uuid.New()
	}
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	cfg.Session = cfg.Session.WithDefaults()
	return &Manager{
		cfg:       cfg,
		binder:    binder,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		observers: make(map[uint64]func(State)),
	}, nil
}

func (m *Manager) Config() Config {
	return m.cfg
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns the live connection, or nil.
func (m *Manager) Current() *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// OnStateChange registers fn for state transitions; the returned func
// removes it. fn runs synchronously on the goroutine causing the change.
func (m *Manager) OnStateChange(fn func(State)) func() {
	m.mu.Lock()
	m.nextObs++
	key := m.nextObs
	m.observers[key] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.observers, key)
		m.mu.Unlock()
	}
}

func (m *Manager) setState(next State, conn *Connection) {
	m.mu.Lock()
	if next == StateDisconnected && conn != nil && m.current != conn {
		m.mu.Unlock()
		return
	}
	if next == StateConnected {
		m.current = conn
	} else {
		m.current = nil
	}
	changed := m.state != next
	m.state = next
	fns := make([]func(State), 0, len(m.observers))
	for _, fn := range m.observers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	if !changed {
		return
	}
	logs.Debugf("client.Manager state=%s addr=%q", next, m.cfg.Address)
	for _, fn := range fns {
		fn(next)
	}
}

// Connect makes one full attempt: dial, handshake, root decode. On success
// the session is running and the state is Connected.
func (m *Manager) Connect(ctx context.Context) (*Connection, error) {
	m.setState(StateHandshaking, nil)
	c, err := m.connect(ctx)
	if err != nil {
		m.setState(StateDisconnected, nil)
		return nil, err
	}
	m.setState(StateConnected, c)
	c.start(m)
	return c, nil
}

func (m *Manager) connect(ctx context.Context) (*Connection, error) {
	conn, err := m.dial(ctx)
	if err != nil {
		return nil, err
	}
	ack, err := m.handshake(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	replica := remote.NewReplica(m.binder)
	root, err := replica.DecodeRoot(*ack.Root)
	if err != nil {
		replica.Close()
		_ = conn.Close()
		return nil, err
	}
	sess := remote.NewSession(conn, remote.SessionOptions{
		ID:       ack.SessionID,
		Role:     remote.RoleClient,
		Peer:     ack.ServerName,
		Config:   m.cfg.Session,
		Limits:   m.cfg.Limits,
		Compress: ack.Compression,
		Handler:  replica,
	})
	replica.Attach(sess)
	return &Connection{
		session: sess,
		replica: replica,
		root:    root,
		ack:     ack,
		done:    make(chan struct{}),
	}, nil
}

func (m *Manager) dial(ctx context.Context) (net.Conn, error) {
	if err := m.cfg.Session.ValidateClientTransport(); err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: m.cfg.Session.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", m.cfg.Address)
	if err != nil {
		return nil, err
	}
	if !m.cfg.Session.TLS.Enabled {
		return rawConn, nil
	}

	tlsCfg, err := m.cfg.Session.ClientTLSConfig(m.cfg.Address)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, m.cfg.Session.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

func (m *Manager) handshake(conn net.Conn) (wire.HandshakeAck, error) {
	_ = conn.SetDeadline(time.Now().Add(m.cfg.Session.HandshakeTimeout))
	hs := wire.Handshake{
		ProtocolVersion: wire.ProtocolVersion,
		ClientID:        m.cfg.ClientID,
		ClientName:      m.cfg.ClientName,
		Compression:     m.cfg.Session.Compression,
	}
	if err := session.WriteHandshake(conn, hs, m.cfg.Limits); err != nil {
		return wire.HandshakeAck{}, err
	}
	ack, err := session.ReadHandshakeAck(conn, m.cfg.Limits)
	if err != nil {
		return ack, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ack, nil
}

// Run keeps a connection up until ctx ends. onConnect, if set, is called
// with every new connection before Run starts watching it. A rejected
// handshake ends Run unless the server was only shutting down.
func (m *Manager) Run(ctx context.Context, onConnect func(*Connection)) error {
	var attempt int
	for {
		attempt++
		c, err := m.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logs.Warnf("client.Manager.Run connect attempt=%d addr=%q err=%v", attempt, m.cfg.Address, err)
			if permanent(err) || !m.shouldRetry(attempt) {
				return err
			}
			if err := session.SleepBackoff(ctx, m.cfg.Session.Backoff, attempt, m.rng); err != nil {
				return err
			}
			continue
		}

		attempt = 0
		logs.Infof("client.Manager.Run connected addr=%q session_id=%s server=%q", m.cfg.Address, c.SessionID(), c.ServerName())
		if onConnect != nil {
			onConnect(c)
		}
		select {
		case <-ctx.Done():
			_ = c.Close()
			return ctx.Err()
		case <-c.Done():
			logs.Warnf("client.Manager.Run disconnected addr=%q err=%v", m.cfg.Address, c.Err())
		}
		if err := session.SleepBackoff(ctx, m.cfg.Session.Backoff, 1, m.rng); err != nil {
			return err
		}
	}
}

func (m *Manager) shouldRetry(attempt int) bool {
	if m.cfg.Session.MaxConnectAttempts <= 0 {
		return true
	}
	return attempt < m.cfg.Session.MaxConnectAttempts
}

func permanent(err error) bool {
	var reject *session.RejectError
	if errors.As(err, &reject) {
		return reject.Code != wire.RejectServerClosing
	}
	return false
}
