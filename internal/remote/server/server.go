package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	logs "github.com/danmuck/tvremote/internal/logging"
	"github.com/danmuck/tvremote/internal/protocol/session"
	"github.com/danmuck/tvremote/internal/protocol/wire"
	"github.com/danmuck/tvremote/internal/remote"
	"github.com/google/uuid"
)

var ErrServerClosed = errors.New("server: closed")

// peerAuth is the transport-authenticated identity of a connection.
type peerAuth struct {
	PeerIdentity  string
	Authenticated bool
}

// Server serves one root object to any number of sessions.
type Server struct {
	cfg      Config
	registry *remote.Registry
	root     remote.Replicable

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	sessionsMu sync.RWMutex
	sessions   map[uuid.UUID]*serverSession

	closing atomic.Bool
	serving atomic.Bool
	active  atomic.Int64
	wg      sync.WaitGroup
}

// New builds a server for root. root is registered immediately so its id
// is stable for the life of the process.
func New(cfg Config, registry *remote.Registry, root remote.Replicable) *Server {
	if registry == nil {
		registry = remote.NewRegistry()
	}
	registry.Register(root)
	return &Server{
		cfg:      cfg.withDefaults(),
		registry: registry,
		root:     root,
		conns:    make(map[net.Conn]struct{}),
		sessions: make(map[uuid.UUID]*serverSession),
	}
}

func (s *Server) Registry() *remote.Registry {
	return s.registry
}

func (s *Server) Config() Config {
	return s.cfg
}

// Listen opens a TCP or TLS listener per the transport policy.
func (s *Server) Listen() (net.Listener, error) {
	if err := s.cfg.Session.ValidateServerTransport(); err != nil {
		return nil, err
	}
	if !s.cfg.Session.TLS.Enabled {
		return net.Listen("tcp", s.cfg.ListenAddr)
	}
	tlsCfg, err := s.cfg.Session.ServerTLSConfig()
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", s.cfg.ListenAddr, tlsCfg)
}

// ListenAndServe blocks until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	logs.Infof("server.Server.ListenAndServe listening addr=%q tls=%t", ln.Addr().String(), s.cfg.Session.TLS.Enabled)
	return s.Serve(ctx, ln)
}

// Serve accepts sessions on ln until ctx ends. On return every session has
// been sent a Disconnect and torn down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.cfg.Session.ValidateServerTransport(); err != nil {
		return err
	}
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closing.Store(true)
		_ = ln.Close()
	}()

	// Sessions outlive ctx long enough to receive a Disconnect.
	sessCtx, cancelSessions := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelSessions()

	s.serving.Store(true)
	var acceptErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				acceptErr = err
			}
			break
		}
		s.trackConn(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(sessCtx, conn)
		}()
	}
	s.serving.Store(false)
	s.shutdown()
	cancelSessions()
	s.wg.Wait()
	return acceptErr
}

// Ready reports whether Serve is accepting connections.
func (s *Server) Ready() bool {
	return s.serving.Load() && !s.closing.Load()
}

// Sessions snapshots the live sessions, oldest first.
func (s *Server) Sessions() []SessionInfo {
	s.sessionsMu.RLock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for _, ss := range s.sessions {
		out = append(out, ss.info())
	}
	s.sessionsMu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// ActiveSessions is the number of connected, handshaken sessions.
func (s *Server) ActiveSessions() int {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	return len(s.sessions)
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer s.untrackConn(conn)
	remoteAddr := conn.RemoteAddr().String()
	active := s.active.Add(1)
	logs.Infof("server.handleConn client connected remote=%q active_clients=%d", remoteAddr, active)
	defer func() {
		remaining := s.active.Add(-1)
		logs.Infof("server.handleConn client disconnected remote=%q active_clients=%d", remoteAddr, remaining)
	}()

	auth, err := s.authenticateConn(conn)
	if err != nil {
		logs.Warnf("server.handleConn transport auth remote=%q err=%v", remoteAddr, err)
		return
	}

	hs, reject := s.handshake(conn, auth)
	if reject != nil {
		s.writeReject(conn, *reject)
		return
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		logs.Warnf("server.handleConn clear deadline err=%v", err)
	}

	peer := strings.TrimSpace(hs.ClientName)
	if auth.Authenticated {
		peer = auth.PeerIdentity
	}
	ss := newServerSession(s, conn, hs, peer)
	if err := ss.sendRoot(); err != nil {
		logs.Errf("server.handleConn encode root client_id=%s err=%v", hs.ClientID, err)
		return
	}
	s.addSession(ss)
	defer s.removeSession(ss)

	logs.Infof("server.handleConn session started session_id=%s client_id=%s peer=%q", ss.id(), hs.ClientID, peer)
	err = ss.run(ctx)
	logs.Infof("server.handleConn session ended session_id=%s err=%v", ss.id(), err)
}

// handshake reads and validates the client's Handshake. A non-nil ack is
// a rejection to send before closing.
func (s *Server) handshake(conn net.Conn, auth peerAuth) (wire.Handshake, *wire.HandshakeAck) {
	_ = conn.SetDeadline(time.Now().Add(s.cfg.Session.HandshakeTimeout))

	hs, err := session.ReadHandshake(conn, s.cfg.Limits)
	if err != nil {
		logs.Warnf("server.handshake read remote=%q err=%v", conn.RemoteAddr().String(), err)
		return hs, rejectAck(wire.RejectInvalidClient, "invalid handshake")
	}
	if s.closing.Load() {
		return hs, rejectAck(wire.RejectServerClosing, "server shutting down")
	}
	if hs.ProtocolVersion != wire.ProtocolVersion {
		logs.Warnf("server.handshake unsupported version client_id=%s version=%d", hs.ClientID, hs.ProtocolVersion)
		return hs, rejectAck(wire.RejectUnsupportedVersion, fmt.Sprintf("protocol version %d not supported", hs.ProtocolVersion))
	}
	if s.cfg.RequireIdentityBinding && auth.Authenticated && strings.TrimSpace(hs.ClientName) != auth.PeerIdentity {
		logs.Warnf(
			"server.handshake identity mismatch client_name=%q peer_identity=%q",
			hs.ClientName,
			auth.PeerIdentity,
		)
		return hs, rejectAck(wire.RejectInvalidClient, "identity binding failure")
	}
	return hs, nil
}

func rejectAck(code uint32, msg string) *wire.HandshakeAck {
	return &wire.HandshakeAck{Status: wire.AckStatusRejected, Code: code, Message: msg}
}

func (s *Server) writeReject(conn net.Conn, ack wire.HandshakeAck) {
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.Session.WriteTimeout))
	if err := session.WriteHandshakeAck(conn, ack, 0, s.cfg.Limits); err != nil {
		logs.Warnf("server.writeReject code=%d err=%v", ack.Code, err)
	}
}

// authenticateConn enforces TLS/mTLS and extracts the peer identity.
func (s *Server) authenticateConn(conn net.Conn) (peerAuth, error) {
	mode := session.NormalizeSecurityMode(s.cfg.Session.SecurityMode)
	if !s.cfg.Session.TLS.Enabled {
		if mode == session.SecurityModeProduction {
			return peerAuth{}, session.ErrTLSRequired
		}
		return peerAuth{}, nil
	}

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return peerAuth{}, fmt.Errorf("server: expected tls connection")
	}
	_ = tlsConn.SetDeadline(time.Now().Add(s.cfg.Session.HandshakeTimeout))
	if err := tlsConn.Handshake(); err != nil {
		return peerAuth{}, err
	}
	state := tlsConn.ConnectionState()

	needPeer := s.cfg.Session.TLS.Mutual || mode == session.SecurityModeProduction
	if !needPeer && len(state.PeerCertificates) == 0 {
		return peerAuth{}, nil
	}
	if len(state.PeerCertificates) == 0 {
		return peerAuth{}, session.ErrMTLSRequired
	}
	peerID := session.PeerIdentity(state.PeerCertificates[0])
	if peerID == "" {
		return peerAuth{}, fmt.Errorf("server: empty peer identity from certificate")
	}
	return peerAuth{PeerIdentity: peerID, Authenticated: true}, nil
}

func (s *Server) addSession(ss *serverSession) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	s.sessions[ss.id()] = ss
}

func (s *Server) removeSession(ss *serverSession) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	delete(s.sessions, ss.id())
}

// shutdown says goodbye to every live session, then drops any connection
// still stuck before its handshake.
func (s *Server) shutdown() {
	s.sessionsMu.RLock()
	live := make([]*serverSession, 0, len(s.sessions))
	for _, ss := range s.sessions {
		live = append(live, ss)
	}
	s.sessionsMu.RUnlock()

	var wg sync.WaitGroup
	for _, ss := range live {
		ss := ss
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ss.session.Close("server shutting down")
		}()
	}
	wg.Wait()
	s.closeAllConns()
}

func (s *Server) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}
