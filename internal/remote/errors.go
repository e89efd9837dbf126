package remote

import (
	"errors"
	"fmt"

	"github.com/danmuck/tvremote/internal/protocol/wire"
)

var (
	ErrConnectionLost   = errors.New("remote: connection lost")
	ErrStaleReply       = errors.New("remote: stale reply")
	ErrProtocol         = errors.New("remote: protocol error")
	ErrSessionClosed    = errors.New("remote: session closed")
	ErrReleased         = errors.New("remote: proxy released")
	ErrUnknownType      = errors.New("remote: unknown type tag")
	ErrInvalidTypeTag   = errors.New("remote: invalid type tag")
	ErrDuplicateBinding = errors.New("remote: duplicate type binding")
	ErrUnknownObject    = errors.New("remote: unknown object")
	ErrUnknownProperty  = errors.New("remote: unknown property")
	ErrReadOnlyProperty = errors.New("remote: read-only property")
	ErrUnknownMethod    = errors.New("remote: unknown method")
	ErrUnknownQuery     = errors.New("remote: unknown query")
	ErrUnknownEvent     = errors.New("remote: unknown event")
	ErrArgument         = errors.New("remote: bad argument")
	ErrNotPlainValue    = errors.New("remote: property holds an object")
)

// ProtocolError reports malformed or out-of-contract traffic. It is fatal
// to the session that saw it and to no other.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("remote: protocol error: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// RemoteFault is a failure raised by the server while executing a request.
type RemoteFault struct {
	Kind    wire.ErrorKind
	Message string
}

func (e *RemoteFault) Error() string {
	return fmt.Sprintf("remote: %s: %s", e.Kind, e.Message)
}

// Is lets callers match a not_found fault against ErrUnknownObject.
func (e *RemoteFault) Is(target error) bool {
	return e.Kind == wire.ErrorKindNotFound && target == ErrUnknownObject
}

func connectionLost(cause error) error {
	if cause == nil {
		return ErrConnectionLost
	}
	if errors.Is(cause, ErrConnectionLost) {
		return cause
	}
	return fmt.Errorf("%w: %v", ErrConnectionLost, cause)
}

// FaultMessage maps a server-side error onto the Error message sent back.
func FaultMessage(err error) wire.Error {
	var fault *RemoteFault
	if errors.As(err, &fault) {
		return wire.Error{Kind: fault.Kind, Message: fault.Message}
	}
	if errors.Is(err, ErrUnknownObject) {
		return wire.Error{Kind: wire.ErrorKindNotFound, Message: err.Error()}
	}
	return wire.Error{Kind: wire.ErrorKindRemoteFault, Message: err.Error()}
}

// FaultFromMessage converts a received Error message into a Go error.
func FaultFromMessage(msg *wire.Error) error {
	if msg.Kind == wire.ErrorKindProtocol {
		return &ProtocolError{Err: errors.New(msg.Message)}
	}
	return &RemoteFault{Kind: msg.Kind, Message: msg.Message}
}
