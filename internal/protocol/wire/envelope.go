package wire

import (
	"errors"
	"fmt"

	"github.com/danmuck/tvremote/internal/protocol/frame"
)

// Envelope pairs a message with its frame-level correlation id and flags.
// Decoded envelopes always hold pointer messages (*PropertySet, ...).
type Envelope struct {
	ID      uint64
	Flags   uint32
	Message Message
}

func (e Envelope) Type() MessageType {
	if e.Message == nil {
		return 0
	}
	return e.Message.MessageType()
}

func (e Envelope) IsResponse() bool { return e.Flags&frame.FlagIsResponse != 0 }
func (e Envelope) ExpectsReply() bool { return e.Flags&frame.FlagExpectReply != 0 }

// Encode validates and marshals the envelope into a frame. Payloads of at
// least compressThreshold bytes are zstd-compressed; <= 0 disables that.
func Encode(env Envelope, compressThreshold int) (frame.Frame, error) {
	if env.Message == nil {
		return frame.Frame{}, fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}
	if err := env.Message.Validate(); err != nil {
		return frame.Frame{}, err
	}
	payload, err := Marshal(env.Message)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("wire: marshal %s: %w", env.Type(), err)
	}
	f := frame.Frame{
		Header: frame.Header{
			MessageID:   env.ID,
			MessageType: uint32(env.Type()),
			Flags:       env.Flags &^ frame.FlagCompressed,
		},
	}
	f.Pack(payload, compressThreshold)
	return f, nil
}

// Decode turns a frame into an envelope. Every failure wraps
// ErrUnknownMessageType, ErrMalformedPayload or ErrInvalidMessage.
func Decode(f frame.Frame, limits frame.Limits) (Envelope, error) {
	t := MessageType(f.Header.MessageType)
	msg, err := New(t)
	if err != nil {
		return Envelope{}, err
	}
	payload, err := f.Unpack(limits)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, t, err)
	}
	if err := Unmarshal(payload, msg); err != nil {
		return Envelope{}, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, t, err)
	}
	if err := msg.Validate(); err != nil {
		if !errors.Is(err, ErrInvalidMessage) && !errors.Is(err, ErrInvalidValue) {
			err = fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return Envelope{}, fmt.Errorf("%s: %w", t, err)
	}
	return Envelope{
		ID:      f.Header.MessageID,
		Flags:   f.Header.Flags &^ frame.FlagCompressed,
		Message: msg,
	}, nil
}

// IsProtocolViolation reports whether err came from a peer sending bytes
// that do not form a valid message.
func IsProtocolViolation(err error) bool {
	return errors.Is(err, ErrUnknownMessageType) ||
		errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, ErrInvalidMessage) ||
		errors.Is(err, ErrInvalidValue) ||
		errors.Is(err, frame.ErrBadMagic) ||
		errors.Is(err, frame.ErrUnsupportedVersion) ||
		errors.Is(err, frame.ErrHeaderLenTooSmall) ||
		errors.Is(err, frame.ErrPayloadTooLarge) ||
		errors.Is(err, frame.ErrExtensionTooLarge)
}
