package wire

import "errors"

var (
	ErrUnknownMessageType = errors.New("wire: unknown message type")
	ErrMalformedPayload   = errors.New("wire: malformed payload")
	ErrInvalidMessage     = errors.New("wire: invalid message")
	ErrInvalidValue       = errors.New("wire: invalid value")
)
