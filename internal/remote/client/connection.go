package client

import (
	"context"
	"fmt"

	"github.com/danmuck/tvremote/internal/protocol/wire"
	"github.com/danmuck/tvremote/internal/remote"
	"github.com/google/uuid"
)

// Connection is one live session and the proxies it produced.
type Connection struct {
	session *remote.Session
	replica *remote.Replica
	root    remote.Proxied
	ack     wire.HandshakeAck

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (c *Connection) start(m *Manager) {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go func() {
		defer cancel()
		err := c.session.Run(ctx)
		if err == nil {
			err = remote.ErrSessionClosed
		}
		c.err = err
		c.replica.Close()
		m.setState(StateDisconnected, c)
		close(c.done)
	}()
}

// Root is the root proxy delivered in the handshake.
func (c *Connection) Root() remote.Proxied {
	return c.root
}

// RootAs returns the root proxy as T.
func RootAs[T remote.Proxied](c *Connection) (T, error) {
	var zero T
	if c == nil {
		return zero, ErrNotConnected
	}
	root, ok := c.root.(T)
	if !ok {
		return zero, fmt.Errorf("%w: root has type %s", ErrUnexpectedRoot, c.root.ProxyBase().TypeTag())
	}
	return root, nil
}

func (c *Connection) SessionID() uuid.UUID {
	return c.ack.SessionID
}

func (c *Connection) ServerName() string {
	return c.ack.ServerName
}

func (c *Connection) Proxies() *remote.ProxyRegistry {
	return c.replica.Proxies()
}

func (c *Connection) Session() *remote.Session {
	return c.session
}

func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err blocks until the connection ends. It is ErrSessionClosed after a
// local Close and wraps ErrConnectionLost or ErrProtocol otherwise.
func (c *Connection) Err() error {
	<-c.done
	return c.err
}

// Close sends Disconnect and waits for the session to end.
func (c *Connection) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	err := c.session.Close("client closing")
	<-c.done
	return err
}
