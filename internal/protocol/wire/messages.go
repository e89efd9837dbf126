package wire

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Message is implemented by every wire message struct.
type Message interface {
	MessageType() MessageType
	Validate() error
}

// Handshake is the first frame a client sends.
type Handshake struct {
	ProtocolVersion uint16    `cbor:"protocol_version"`
	ClientID        uuid.UUID `cbor:"client_id"`
	ClientName      string    `cbor:"client_name,omitempty"`
	Compression     bool      `cbor:"compression,omitempty"`
}

func (Handshake) MessageType() MessageType { return TypeHandshake }

func (h Handshake) Validate() error {
	if h.ProtocolVersion == 0 {
		return fmt.Errorf("%w: handshake missing protocol_version", ErrInvalidMessage)
	}
	if h.ClientID == uuid.Nil {
		return fmt.Errorf("%w: handshake missing client_id", ErrInvalidMessage)
	}
	return nil
}

// HandshakeAck answers a Handshake. An accepted ack carries the root body.
type HandshakeAck struct {
	Status      AckStatus `cbor:"status"`
	Code        uint32    `cbor:"code,omitempty"`
	Message     string    `cbor:"message,omitempty"`
	SessionID   uuid.UUID `cbor:"session_id"`
	ServerName  string    `cbor:"server_name,omitempty"`
	Root        *Value    `cbor:"root,omitempty"`
	Compression bool      `cbor:"compression,omitempty"`
}

func (HandshakeAck) MessageType() MessageType { return TypeHandshakeAck }

func (a HandshakeAck) Validate() error {
	switch a.Status {
	case AckStatusAccepted:
		if a.SessionID == uuid.Nil {
			return fmt.Errorf("%w: accepted ack missing session_id", ErrInvalidMessage)
		}
		if a.Root == nil || a.Root.Kind != KindBody {
			return fmt.Errorf("%w: accepted ack must carry a root body", ErrInvalidMessage)
		}
		return a.Root.Validate()
	case AckStatusRejected:
		if a.Code == 0 {
			return fmt.Errorf("%w: rejected ack missing code", ErrInvalidMessage)
		}
		return nil
	default:
		return fmt.Errorf("%w: invalid ack status %q", ErrInvalidMessage, a.Status)
	}
}

// PropertySet asks the server to write a property.
type PropertySet struct {
	ObjectID ObjectID `cbor:"object_id"`
	Property string   `cbor:"property"`
	Value    Value    `cbor:"value"`
}

func (PropertySet) MessageType() MessageType { return TypePropertySet }

func (m PropertySet) Validate() error {
	if err := requireTarget(m.ObjectID, "property", m.Property); err != nil {
		return err
	}
	return m.Value.Validate()
}

// PropertyChanged broadcasts a committed property value.
type PropertyChanged struct {
	ObjectID ObjectID `cbor:"object_id"`
	Property string   `cbor:"property"`
	Value    Value    `cbor:"value"`
}

func (PropertyChanged) MessageType() MessageType { return TypePropertyChanged }

func (m PropertyChanged) Validate() error {
	if err := requireTarget(m.ObjectID, "property", m.Property); err != nil {
		return err
	}
	return m.Value.Validate()
}

type Invoke struct {
	ObjectID ObjectID `cbor:"object_id"`
	Method   string   `cbor:"method"`
	Args     []Value  `cbor:"args,omitempty"`
}

func (Invoke) MessageType() MessageType { return TypeInvoke }

func (m Invoke) Validate() error {
	if err := requireTarget(m.ObjectID, "method", m.Method); err != nil {
		return err
	}
	return validateValues(m.Args)
}

// InvokeResult carries a method's return value; Null means void.
type InvokeResult struct {
	Value Value `cbor:"value"`
}

func (InvokeResult) MessageType() MessageType { return TypeInvokeResult }

func (m InvokeResult) Validate() error { return m.Value.Validate() }

type Query struct {
	ObjectID ObjectID `cbor:"object_id"`
	Spec     string   `cbor:"spec"`
	Args     []Value  `cbor:"args,omitempty"`
}

func (Query) MessageType() MessageType { return TypeQuery }

func (m Query) Validate() error {
	if err := requireTarget(m.ObjectID, "spec", m.Spec); err != nil {
		return err
	}
	return validateValues(m.Args)
}

type QueryResult struct {
	Value Value `cbor:"value"`
}

func (QueryResult) MessageType() MessageType { return TypeQueryResult }

func (m QueryResult) Validate() error { return m.Value.Validate() }

// Release tells the server the client dropped its proxies for these ids.
type Release struct {
	ObjectIDs []ObjectID `cbor:"object_ids"`
}

func (Release) MessageType() MessageType { return TypeRelease }

func (m Release) Validate() error {
	if len(m.ObjectIDs) == 0 {
		return fmt.Errorf("%w: release without object_ids", ErrInvalidMessage)
	}
	for i, id := range m.ObjectIDs {
		if id == uuid.Nil {
			return fmt.Errorf("%w: release object_ids[%d] is nil", ErrInvalidMessage, i)
		}
	}
	return nil
}

// Error answers a request that failed, or reports a fatal protocol error.
type Error struct {
	Kind    ErrorKind `cbor:"kind"`
	Message string    `cbor:"message"`
}

func (Error) MessageType() MessageType { return TypeError }

func (m Error) Validate() error {
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: invalid error kind %q", ErrInvalidMessage, m.Kind)
	}
	return nil
}

type Disconnect struct {
	Reason string `cbor:"reason,omitempty"`
}

func (Disconnect) MessageType() MessageType { return TypeDisconnect }

func (Disconnect) Validate() error { return nil }

type EventSubscribe struct {
	ObjectID ObjectID `cbor:"object_id"`
	Event    string   `cbor:"event"`
}

func (EventSubscribe) MessageType() MessageType { return TypeEventSubscribe }

func (m EventSubscribe) Validate() error { return requireTarget(m.ObjectID, "event", m.Event) }

type EventUnsubscribe struct {
	ObjectID ObjectID `cbor:"object_id"`
	Event    string   `cbor:"event"`
}

func (EventUnsubscribe) MessageType() MessageType { return TypeEventUnsubscribe }

func (m EventUnsubscribe) Validate() error { return requireTarget(m.ObjectID, "event", m.Event) }

type EventNotification struct {
	ObjectID ObjectID `cbor:"object_id"`
	Event    string   `cbor:"event"`
	Args     []Value  `cbor:"args,omitempty"`
}

func (EventNotification) MessageType() MessageType { return TypeEventNotification }

func (m EventNotification) Validate() error {
	if err := requireTarget(m.ObjectID, "event", m.Event); err != nil {
		return err
	}
	return validateValues(m.Args)
}

type Ping struct{}

func (Ping) MessageType() MessageType { return TypePing }

func (Ping) Validate() error { return nil }

// New returns an empty message of the given type for decoding.
func New(t MessageType) (Message, error) {
	switch t {
	case TypeHandshake:
		return &Handshake{}, nil
	case TypeHandshakeAck:
		return &HandshakeAck{}, nil
	case TypePropertySet:
		return &PropertySet{}, nil
	case TypePropertyChanged:
		return &PropertyChanged{}, nil
	case TypeInvoke:
		return &Invoke{}, nil
	case TypeInvokeResult:
		return &InvokeResult{}, nil
	case TypeQuery:
		return &Query{}, nil
	case TypeQueryResult:
		return &QueryResult{}, nil
	case TypeRelease:
		return &Release{}, nil
	case TypeError:
		return &Error{}, nil
	case TypeDisconnect:
		return &Disconnect{}, nil
	case TypeEventSubscribe:
		return &EventSubscribe{}, nil
	case TypeEventUnsubscribe:
		return &EventUnsubscribe{}, nil
	case TypeEventNotification:
		return &EventNotification{}, nil
	case TypePing:
		return &Ping{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, uint32(t))
	}
}

func requireTarget(id ObjectID, field string, name string) error {
	if id == uuid.Nil {
		return fmt.Errorf("%w: missing object_id", ErrInvalidMessage)
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: missing %s", ErrInvalidMessage, field)
	}
	return nil
}
