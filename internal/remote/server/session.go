package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	logs "github.com/danmuck/tvremote/internal/logging"
	"github.com/danmuck/tvremote/internal/protocol/wire"
	"github.com/danmuck/tvremote/internal/remote"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// SessionInfo is one row of Server.Sessions.
type SessionInfo struct {
	remote.SessionInfo
	ClientID     uuid.UUID `json:"client_id"`
	ClientName   string    `json:"client_name"`
	Compression  bool      `json:"compression"`
	KnownObjects int       `json:"known_objects"`
}

// serverSession is the server half of one connection. It is the registry
// Sink for every object in its known-set and the frame Handler for its
// session.
type serverSession struct {
	srv       *Server
	registry  *remote.Registry
	session   *remote.Session
	known     *remote.KnownSet
	encoder   *remote.Encoder
	handshake wire.Handshake
	workers   errgroup.Group
}

func newServerSession(srv *Server, conn net.Conn, hs wire.Handshake, peer string) *serverSession {
	ss := &serverSession{
		srv:       srv,
		registry:  srv.registry,
		handshake: hs,
	}
	ss.known = remote.NewKnownSet(
		func(id wire.ObjectID) { ss.registry.Subscribe(id, ss) },
		func(id wire.ObjectID) { ss.registry.Unsubscribe(id, ss) },
	)
	ss.encoder = remote.NewEncoder(ss.registry, ss.known)
	ss.session = remote.NewSession(conn, remote.SessionOptions{
		Role:     remote.RoleServer,
		Peer:     peer,
		Config:   srv.cfg.Session,
		Limits:   srv.cfg.Limits,
		Compress: hs.Compression,
		Handler:  ss,
	})
	ss.workers.SetLimit(srv.cfg.Session.MaxConcurrentRequests)
	return ss
}

func (ss *serverSession) id() uuid.UUID {
	return ss.session.ID()
}

func (ss *serverSession) info() SessionInfo {
	return SessionInfo{
		SessionInfo:  ss.session.Info(),
		ClientID:     ss.handshake.ClientID,
		ClientName:   ss.handshake.ClientName,
		Compression:  ss.handshake.Compression && ss.srv.cfg.Session.Compression,
		KnownObjects: ss.known.Len(),
	}
}

// sendRoot queues the accepted HandshakeAck as the session's first frame.
// It is encoded under the session's encode lock like every broadcast, so
// no change notification can overtake the root body.
func (ss *serverSession) sendRoot() error {
	return ss.session.SendEncoded(func() (wire.Message, error) {
		root, err := ss.encoder.EncodeObject(ss.srv.root)
		if err != nil {
			return nil, err
		}
		return wire.HandshakeAck{
			Status:      wire.AckStatusAccepted,
			SessionID:   ss.session.ID(),
			ServerName:  ss.srv.cfg.ServerName,
			Root:        &root,
			Compression: ss.handshake.Compression && ss.srv.cfg.Session.Compression,
		}, nil
	})
}

func (ss *serverSession) run(ctx context.Context) error {
	err := ss.session.Run(ctx)
	ss.workers.Wait()
	ss.registry.DropSink(ss)
	return err
}

// HandleFrame dispatches one client request.
func (ss *serverSession) HandleFrame(ctx context.Context, env wire.Envelope) error {
	switch msg := env.Message.(type) {
	case *wire.PropertySet:
		ss.handleSet(ctx, env, msg)
	case *wire.Invoke:
		ss.goRequest(ctx, env, func(ctx context.Context) (any, error) {
			return ss.registry.Invoke(ctx, msg.ObjectID, msg.Method, msg.Args)
		})
	case *wire.Query:
		ss.goRequest(ctx, env, func(ctx context.Context) (any, error) {
			return ss.registry.Query(ctx, msg.ObjectID, msg.Spec, msg.Args)
		})
	case *wire.Release:
		ss.handleRelease(msg.ObjectIDs)
	case *wire.EventSubscribe:
		if !ss.known.Contains(msg.ObjectID) {
			logs.Warnf("server.serverSession.HandleFrame subscribe to unheld object session_id=%s id=%s", ss.id(), msg.ObjectID)
			return nil
		}
		if err := ss.registry.SubscribeEvent(msg.ObjectID, msg.Event, ss); err != nil {
			logs.Warnf("server.serverSession.HandleFrame subscribe session_id=%s err=%v", ss.id(), err)
		}
	case *wire.EventUnsubscribe:
		ss.registry.UnsubscribeEvent(msg.ObjectID, msg.Event, ss)
	default:
		return &remote.ProtocolError{Err: fmt.Errorf("unexpected %s from client", env.Type())}
	}
	return nil
}

// DecodeReply is never reached: a client sends no replies.
func (ss *serverSession) DecodeReply(wire.Envelope) (any, error) {
	return nil, nil
}

func (ss *serverSession) handleSet(ctx context.Context, env wire.Envelope, msg *wire.PropertySet) {
	err := ss.registry.ApplySet(ctx, msg.ObjectID, msg.Property, msg.Value)
	if !env.ExpectsReply() {
		if err != nil {
			logs.Warnf("server.serverSession.handleSet session_id=%s id=%s property=%s err=%v", ss.id(), msg.ObjectID, msg.Property, err)
		}
		return
	}
	if err != nil {
		ss.replyFault(env.ID, err)
		return
	}
	if err := ss.session.Reply(env.ID, wire.InvokeResult{Value: wire.Null()}); err != nil {
		logs.Debugf("server.serverSession.handleSet reply session_id=%s err=%v", ss.id(), err)
	}
}

// goRequest runs an invoke or query on the worker group. Go blocks once
// MaxConcurrentRequests are in flight, which stalls the read loop and so
// pushes back on the client.
func (ss *serverSession) goRequest(ctx context.Context, env wire.Envelope, call func(context.Context) (any, error)) {
	ss.workers.Go(func() error {
		start := time.Now()
		result, err := call(ctx)
		if env.Type() == wire.TypeInvoke && !env.ExpectsReply() {
			if err != nil {
				logs.Warnf("server.serverSession.invoke one-way session_id=%s err=%v", ss.id(), err)
			}
			return nil
		}
		if err != nil {
			ss.replyFault(env.ID, err)
			return nil
		}
		err = ss.session.ReplyEncoded(env.ID, func() (wire.Message, error) {
			v, err := ss.encoder.EncodeAny(result)
			if err != nil {
				return nil, err
			}
			if env.Type() == wire.TypeQuery {
				return wire.QueryResult{Value: v}, nil
			}
			return wire.InvokeResult{Value: v}, nil
		})
		if err != nil && !errors.Is(err, remote.ErrSessionClosed) {
			ss.replyFault(env.ID, err)
		}
		logs.Debugf("server.serverSession.request session_id=%s type=%s elapsed=%s", ss.id(), env.Type(), time.Since(start))
		return nil
	})
}

func (ss *serverSession) replyFault(id uint64, err error) {
	if sendErr := ss.session.Reply(id, remote.FaultMessage(err)); sendErr != nil {
		logs.Debugf("server.serverSession.replyFault session_id=%s err=%v", ss.id(), sendErr)
	}
}

// handleRelease forgets ids under the encode lock so the next encode of
// any of them is a full body.
func (ss *serverSession) handleRelease(ids []wire.ObjectID) {
	err := ss.session.SendEncoded(func() (wire.Message, error) {
		for _, id := range ids {
			ss.known.Remove(id)
		}
		return nil, nil
	})
	if err != nil {
		logs.Debugf("server.serverSession.handleRelease session_id=%s err=%v", ss.id(), err)
	}
}

// PropertyChanged implements remote.Sink.
func (ss *serverSession) PropertyChanged(obj *remote.Object, name string, value any) {
	err := ss.session.SendEncoded(func() (wire.Message, error) {
		id := obj.ID()
		if !ss.known.Contains(id) {
			return nil, nil
		}
		v, err := ss.encoder.EncodeProperty(obj, name, value)
		if err != nil {
			return nil, err
		}
		return wire.PropertyChanged{ObjectID: id, Property: name, Value: v}, nil
	})
	if err != nil && !errors.Is(err, remote.ErrSessionClosed) {
		logs.Warnf("server.serverSession.PropertyChanged session_id=%s type=%s property=%s err=%v", ss.id(), obj.TypeTag(), name, err)
	}
}

// EventRaised implements remote.Sink.
func (ss *serverSession) EventRaised(obj *remote.Object, event string, args []any) {
	err := ss.session.SendEncoded(func() (wire.Message, error) {
		id := obj.ID()
		if !ss.known.Contains(id) {
			return nil, nil
		}
		values, err := ss.encoder.EncodeArgs(args)
		if err != nil {
			return nil, err
		}
		return wire.EventNotification{ObjectID: id, Event: event, Args: values}, nil
	})
	if err != nil && !errors.Is(err, remote.ErrSessionClosed) {
		logs.Warnf("server.serverSession.EventRaised session_id=%s type=%s event=%s err=%v", ss.id(), obj.TypeTag(), event, err)
	}
}

// ObjectReleased implements remote.Sink: the object left the registry, so
// the client is told to drop its proxy.
func (ss *serverSession) ObjectReleased(id wire.ObjectID) {
	err := ss.session.SendEncoded(func() (wire.Message, error) {
		if !ss.known.Remove(id) {
			return nil, nil
		}
		return wire.Release{ObjectIDs: []wire.ObjectID{id}}, nil
	})
	if err != nil && !errors.Is(err, remote.ErrSessionClosed) {
		logs.Warnf("server.serverSession.ObjectReleased session_id=%s id=%s err=%v", ss.id(), id, err)
	}
}
