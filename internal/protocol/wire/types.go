package wire

import (
	"fmt"

	"github.com/google/uuid"
)

// ProtocolVersion is the handshake-level version of the message set.
const ProtocolVersion uint16 = 1

// ObjectID identifies a replicable object for the life of the server process.
type ObjectID = uuid.UUID

// MessageType is carried in frame.Header.MessageType.
type MessageType uint32

const (
	TypeHandshake MessageType = iota + 1
	TypeHandshakeAck
	TypePropertySet
	TypePropertyChanged
	TypeInvoke
	TypeInvokeResult
	TypeQuery
	TypeQueryResult
	TypeRelease
	TypeError
	TypeDisconnect
	TypeEventSubscribe
	TypeEventUnsubscribe
	TypeEventNotification
	TypePing
)

var typeNames = map[MessageType]string{
	TypeHandshake:         "handshake",
	TypeHandshakeAck:      "handshake_ack",
	TypePropertySet:       "property_set",
	TypePropertyChanged:   "property_changed",
	TypeInvoke:            "invoke",
	TypeInvokeResult:      "invoke_result",
	TypeQuery:             "query",
	TypeQueryResult:       "query_result",
	TypeRelease:           "release",
	TypeError:             "error",
	TypeDisconnect:        "disconnect",
	TypeEventSubscribe:    "event_subscribe",
	TypeEventUnsubscribe:  "event_unsubscribe",
	TypeEventNotification: "event_notification",
	TypePing:              "ping",
}

func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint32(t))
}

func (t MessageType) Known() bool {
	_, ok := typeNames[t]
	return ok
}

// ErrorKind classifies an Error message.
type ErrorKind string

const (
	ErrorKindProtocol    ErrorKind = "protocol"
	ErrorKindRemoteFault ErrorKind = "remote_fault"
	ErrorKindNotFound    ErrorKind = "not_found"
)

func (k ErrorKind) Valid() bool {
	switch k {
	case ErrorKindProtocol, ErrorKindRemoteFault, ErrorKindNotFound:
		return true
	default:
		return false
	}
}

// AckStatus is the handshake outcome.
type AckStatus string

const (
	AckStatusAccepted AckStatus = "accepted"
	AckStatusRejected AckStatus = "rejected"
)

// Handshake rejection codes.
const (
	RejectUnsupportedVersion uint32 = 1001
	RejectInvalidClient      uint32 = 1002
	RejectServerClosing      uint32 = 1003
)
