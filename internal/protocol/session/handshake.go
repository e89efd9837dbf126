package session

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/tvremote/internal/protocol/frame"
	"github.com/danmuck/tvremote/internal/protocol/wire"
)

var (
	ErrHandshakeRejected = errors.New("session: handshake rejected")
	ErrUnexpectedFrame   = errors.New("session: unexpected frame during handshake")
)

// RejectError is returned by ReadHandshakeAck for a rejected handshake.
type RejectError struct {
	Code    uint32
	Message string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("session: handshake rejected code=%d message=%q", e.Code, e.Message)
}

func (e *RejectError) Is(target error) bool {
	return target == ErrHandshakeRejected
}

func WriteHandshake(w io.Writer, hs wire.Handshake, limits frame.Limits) error {
	return writeControl(w, hs, 0, limits)
}

func ReadHandshake(r io.Reader, limits frame.Limits) (wire.Handshake, error) {
	env, err := readControl(r, wire.TypeHandshake, limits)
	if err != nil {
		return wire.Handshake{}, err
	}
	return *env.Message.(*wire.Handshake), nil
}

// WriteHandshakeAck writes the ack, compressing it above threshold when the
// client asked for compression.
func WriteHandshakeAck(w io.Writer, ack wire.HandshakeAck, threshold int, limits frame.Limits) error {
	return writeControl(w, ack, threshold, limits)
}

// ReadHandshakeAck reads the server's answer. A rejection is returned as a
// *RejectError matching ErrHandshakeRejected.
func ReadHandshakeAck(r io.Reader, limits frame.Limits) (wire.HandshakeAck, error) {
	env, err := readControl(r, wire.TypeHandshakeAck, limits)
	if err != nil {
		return wire.HandshakeAck{}, err
	}
	ack := *env.Message.(*wire.HandshakeAck)
	if ack.Status == wire.AckStatusRejected {
		return ack, &RejectError{Code: ack.Code, Message: ack.Message}
	}
	return ack, nil
}

func writeControl(w io.Writer, msg wire.Message, threshold int, limits frame.Limits) error {
	f, err := wire.Encode(wire.Envelope{Message: msg}, threshold)
	if err != nil {
		return err
	}
	return frame.WriteFrame(w, f, limits)
}

func readControl(r io.Reader, want wire.MessageType, limits frame.Limits) (wire.Envelope, error) {
	f, err := frame.ReadFrame(r, limits)
	if err != nil {
		return wire.Envelope{}, err
	}
	if got := wire.MessageType(f.Header.MessageType); got != want {
		return wire.Envelope{}, fmt.Errorf("%w: got %s want %s", ErrUnexpectedFrame, got, want)
	}
	return wire.Decode(f, limits)
}
