package remote

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	logs "github.com/danmuck/tvremote/internal/logging"
	"github.com/danmuck/tvremote/internal/observability"
	"github.com/danmuck/tvremote/internal/protocol/frame"
	"github.com/danmuck/tvremote/internal/protocol/session"
	"github.com/danmuck/tvremote/internal/protocol/wire"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	RoleServer = "server"
	RoleClient = "client"
)

var (
	errLocalClose    = errors.New("remote: closed locally")
	errSendQueueFull = errors.New("remote: send queue full")
)

// Handler receives the frames a Session does not handle itself. Both
// methods run on the read loop, in arrival order.
type Handler interface {
	// HandleFrame handles one non-reply frame. A *ProtocolError ends the
	// session; other errors are logged.
	HandleFrame(ctx context.Context, env wire.Envelope) error
	// DecodeReply decodes a successful reply before it reaches its waiter,
	// whether or not a waiter still exists.
	DecodeReply(env wire.Envelope) (any, error)
}

// SessionOptions configures NewSession.
type SessionOptions struct {
	ID       uuid.UUID
	Role     string
	Peer     string
	Config   session.Config
	Limits   frame.Limits
	Compress bool
	Handler  Handler
}

// SessionInfo is a diagnostic snapshot.
type SessionInfo struct {
	ID        uuid.UUID `json:"id"`
	Role      string    `json:"role"`
	Peer      string    `json:"peer"`
	Remote    string    `json:"remote"`
	StartedAt time.Time `json:"started_at"`
	Pending   int       `json:"pending"`
	FramesIn  uint64    `json:"frames_in"`
	FramesOut uint64    `json:"frames_out"`
}

type outFrame struct {
	frame frame.Frame
	last  bool
}

// Session is one live connection. It owns a read loop, a write loop and a
// heartbeat loop. All outbound frames pass through one queue, and every
// frame is encoded and enqueued under encodeMu, so a body is always on the
// wire before any later ref to it.
type Session struct {
	id        uuid.UUID
	role      string
	peer      string
	conn      net.Conn
	cfg       session.Config
	limits    frame.Limits
	threshold int
	handler   Handler
	startedAt time.Time

	pending *session.PendingTable
	nextID  atomic.Uint64

	encodeMu sync.Mutex
	out      chan outFrame

	closing    chan struct{}
	closeOnce  sync.Once
	localClose atomic.Bool
	done       chan struct{}

	failMu  sync.Mutex
	failErr error
	err     error

	framesIn  atomic.Uint64
	framesOut atomic.Uint64
}

func NewSession(conn net.Conn, opts SessionOptions) *Session {
	cfg := opts.Config.WithDefaults()
	limits := opts.Limits
	if limits.MaxPayloadBytes == 0 {
		limits = frame.DefaultLimits()
	}
	id := opts.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &Session{
		id:        id,
		role:      opts.Role,
		peer:      opts.Peer,
		conn:      conn,
		cfg:       cfg,
		limits:    limits,
		threshold: cfg.Threshold(opts.Compress),
		handler:   opts.Handler,
		startedAt: time.Now(),
		pending:   session.NewPendingTable(),
		out:       make(chan outFrame, cfg.SendQueueSize),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (s *Session) ID() uuid.UUID {
	return s.id
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err blocks until the session has ended. It is nil after a local close
// and otherwise says why the session ended.
func (s *Session) Err() error {
	<-s.done
	return s.err
}

func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:        s.id,
		Role:      s.role,
		Peer:      s.peer,
		Remote:    s.conn.RemoteAddr().String(),
		StartedAt: s.startedAt,
		Pending:   s.pending.Len(),
		FramesIn:  s.framesIn.Load(),
		FramesOut: s.framesOut.Load(),
	}
}

// Run drives the session until the connection ends, then fails every
// pending request with ErrConnectionLost.
func (s *Session) Run(ctx context.Context) error {
	observability.SessionOpened(s.role)
	defer observability.SessionClosed(s.role)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.writeLoop(gctx) })
	g.Go(func() error { return s.heartbeatLoop(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		s.closeOnce.Do(func() { close(s.closing) })
		_ = s.conn.Close()
		return nil
	})
	err := g.Wait()
	s.finish(ctx, err)
	return s.err
}

func (s *Session) finish(ctx context.Context, err error) {
	s.failMu.Lock()
	if s.failErr != nil {
		err = s.failErr
	}
	s.failMu.Unlock()

	var protoErr *ProtocolError
	switch {
	case errors.As(err, &protoErr):
		s.err = err
	case errors.Is(err, errLocalClose), s.localClose.Load(), ctx.Err() != nil:
		s.err = nil
	default:
		s.err = connectionLost(err)
	}

	cause := s.err
	if cause == nil {
		cause = ErrSessionClosed
	}
	if n := s.pending.FailAll(connectionLost(cause)); n > 0 {
		logs.Debugf("remote.Session.finish id=%s role=%s failed_pending=%d", s.id, s.role, n)
	}
	logs.Infof("remote.Session.finish id=%s role=%s peer=%q err=%v", s.id, s.role, s.peer, s.err)
	close(s.done)
}

// fail records cause and tears the session down from outside the loops.
func (s *Session) fail(cause error) {
	s.failMu.Lock()
	if s.failErr == nil {
		s.failErr = cause
	}
	s.failMu.Unlock()
	s.closeOnce.Do(func() { close(s.closing) })
	_ = s.conn.Close()
}

// Close sends Disconnect, lets the write loop flush it, then closes the
// transport.
func (s *Session) Close(reason string) error {
	s.localClose.Store(true)
	f, err := wire.Encode(wire.Envelope{ID: s.nextID.Add(1), Message: wire.Disconnect{Reason: reason}}, 0)
	if err != nil {
		return err
	}
	timer := time.NewTimer(s.cfg.WriteTimeout)
	defer timer.Stop()
	select {
	case s.out <- outFrame{frame: f, last: true}:
	case <-s.closing:
	case <-timer.C:
		s.fail(errLocalClose)
	}
	select {
	case <-s.done:
	case <-timer.C:
		s.fail(errLocalClose)
		<-s.done
	}
	return nil
}

// Send enqueues a one-way message.
func (s *Session) Send(msg wire.Message) error {
	return s.sendBuilt(0, 0, constant(msg))
}

// SendEncoded runs build under the encode lock and enqueues its message
// before releasing it. build returning a nil message sends nothing.
func (s *Session) SendEncoded(build func() (wire.Message, error)) error {
	return s.sendBuilt(0, 0, build)
}

// Reply answers request id.
func (s *Session) Reply(id uint64, msg wire.Message) error {
	return s.sendBuilt(id, replyFlags(msg), constant(msg))
}

// ReplyEncoded answers request id with a message built under the encode lock.
func (s *Session) ReplyEncoded(id uint64, build func() (wire.Message, error)) error {
	return s.sendBuilt(id, frame.FlagIsResponse, build)
}

// Request sends msg and waits for its reply. The decoded reply value is
// returned; a server Error reply becomes a *RemoteFault.
func (s *Session) Request(ctx context.Context, msg wire.Message) (any, error) {
	id := s.nextID.Add(1)
	w, err := s.pending.Add(id, msg.MessageType(), time.Now())
	if err != nil {
		return nil, connectionLost(err)
	}
	observability.AddPending(s.role, 1)
	defer observability.AddPending(s.role, -1)

	start := time.Now()
	kind := msg.MessageType().String()
	if err := s.sendBuilt(id, frame.FlagExpectReply, constant(msg)); err != nil {
		s.pending.Remove(id)
		if errors.Is(err, ErrSessionClosed) {
			err = connectionLost(err)
		}
		observability.RecordRequest(s.role, kind, time.Since(start), err)
		return nil, err
	}

	select {
	case out := <-w.Done():
		observability.RecordRequest(s.role, kind, time.Since(start), out.Err)
		if out.Err != nil {
			return nil, out.Err
		}
		return out.Value, nil
	case <-ctx.Done():
		s.pending.Remove(id)
		observability.RecordRequest(s.role, kind, time.Since(start), ctx.Err())
		return nil, ctx.Err()
	}
}

func (s *Session) Pending() []session.PendingInfo {
	return s.pending.List()
}

func (s *Session) sendBuilt(id uint64, flags uint32, build func() (wire.Message, error)) error {
	s.encodeMu.Lock()
	defer s.encodeMu.Unlock()

	select {
	case <-s.closing:
		return ErrSessionClosed
	default:
	}
	msg, err := build()
	if err != nil {
		return err
	}
	if msg == nil {
		return nil
	}
	if id == 0 {
		id = s.nextID.Add(1)
	}
	f, err := wire.Encode(wire.Envelope{ID: id, Flags: flags, Message: msg}, s.threshold)
	if err != nil {
		return err
	}
	return s.enqueue(f)
}

func (s *Session) enqueue(f frame.Frame) error {
	select {
	case s.out <- outFrame{frame: f}:
		return nil
	default:
	}
	timer := time.NewTimer(s.cfg.WriteTimeout)
	defer timer.Stop()
	select {
	case s.out <- outFrame{frame: f}:
		return nil
	case <-s.closing:
		return ErrSessionClosed
	case <-timer.C:
		logs.Warnf("remote.Session.enqueue id=%s role=%s queue=%d err=%v", s.id, s.role, cap(s.out), errSendQueueFull)
		s.fail(errSendQueueFull)
		return ErrSessionClosed
	}
}

func (s *Session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out := <-s.out:
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				return err
			}
			if err := frame.WriteFrame(s.conn, out.frame, s.limits); err != nil {
				return err
			}
			s.framesOut.Add(1)
			observability.RecordFrame(s.role, "out", wire.MessageType(out.frame.Header.MessageType).String(), len(out.frame.Payload))
			if out.last {
				return errLocalClose
			}
		}
	}
}

func (s *Session) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Send(wire.Ping{}); err != nil {
				return nil
			}
		}
	}
}

func (s *Session) readLoop(ctx context.Context) error {
	r := bufio.NewReader(s.conn)
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.SessionDeadAfter)); err != nil {
			return err
		}
		f, err := frame.ReadFrame(r, s.limits)
		if err != nil {
			return s.readError(err)
		}
		env, err := wire.Decode(f, s.limits)
		if err != nil {
			s.reportProtocolError(err)
			return &ProtocolError{Err: err}
		}
		s.framesIn.Add(1)
		observability.RecordFrame(s.role, "in", env.Type().String(), len(f.Payload))

		if env.IsResponse() {
			if err := s.resolveReply(env); err != nil {
				return err
			}
			continue
		}
		switch msg := env.Message.(type) {
		case *wire.Ping:
			continue
		case *wire.Disconnect:
			return fmt.Errorf("%w: peer disconnected: %s", ErrConnectionLost, msg.Reason)
		case *wire.Error:
			return &ProtocolError{Err: fmt.Errorf("peer reported %s: %s", msg.Kind, msg.Message)}
		}
		if err := s.handler.HandleFrame(ctx, env); err != nil {
			var protoErr *ProtocolError
			if errors.As(err, &protoErr) {
				s.reportProtocolError(err)
				return err
			}
			logs.Warnf("remote.Session.readLoop id=%s type=%s err=%v", s.id, env.Type(), err)
		}
	}
}

func (s *Session) resolveReply(env wire.Envelope) error {
	out := session.Outcome{Reply: env}
	switch msg := env.Message.(type) {
	case *wire.Error:
		out.Err = FaultFromMessage(msg)
	case *wire.InvokeResult, *wire.QueryResult:
		v, err := s.handler.DecodeReply(env)
		if err != nil {
			logs.Warnf("remote.Session.resolveReply id=%s reply=%d err=%v", s.id, env.ID, err)
		}
		out.Value = v
	default:
		err := &ProtocolError{Err: fmt.Errorf("%s cannot be a reply", env.Type())}
		s.reportProtocolError(err)
		return err
	}
	if _, ok := s.pending.Resolve(env.ID, out); !ok {
		observability.RecordStaleReply(s.role)
		logs.Debugf("remote.Session.resolveReply id=%s reply=%d err=%v", s.id, env.ID, ErrStaleReply)
	}
	return nil
}

func (s *Session) readError(err error) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: connection closed by peer", ErrConnectionLost)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: peer silent for %s", ErrConnectionLost, s.cfg.SessionDeadAfter)
	}
	if wire.IsProtocolViolation(err) {
		s.reportProtocolError(err)
		return &ProtocolError{Err: err}
	}
	return err
}

// reportProtocolError tells the peer why the session is ending. Best
// effort: the write may be dropped if the loops are already stopping.
func (s *Session) reportProtocolError(err error) {
	msg := wire.Error{Kind: wire.ErrorKindProtocol, Message: err.Error()}
	f, encErr := wire.Encode(wire.Envelope{ID: s.nextID.Add(1), Message: msg}, 0)
	if encErr != nil {
		return
	}
	select {
	case s.out <- outFrame{frame: f}:
	default:
	}
	logs.Warnf("remote.Session id=%s role=%s protocol_error=%v", s.id, s.role, err)
}

func constant(msg wire.Message) func() (wire.Message, error) {
	return func() (wire.Message, error) { return msg, nil }
}

func replyFlags(msg wire.Message) uint32 {
	flags := frame.FlagIsResponse
	if msg.MessageType() == wire.TypeError {
		flags |= frame.FlagIsError
	}
	return flags
}
