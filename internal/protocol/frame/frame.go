package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	Magic          uint32 = 0x54565231
	Version        uint16 = 1
	FixedHeaderLen uint16 = 32

	FlagIsResponse  uint32 = 0x02
	FlagIsError     uint32 = 0x04
	FlagExpectReply uint32 = 0x08
	FlagCompressed  uint32 = 0x10
)

var (
	ErrShortHeader        = errors.New("frame: short fixed header")
	ErrBadMagic           = errors.New("frame: bad magic")
	ErrUnsupportedVersion = errors.New("frame: unsupported version")
	ErrHeaderLenTooSmall  = errors.New("frame: header_len smaller than fixed header")
	ErrPayloadTooLarge    = errors.New("frame: payload too large")
	ErrExtensionTooLarge  = errors.New("frame: header extension too large")
	ErrTruncatedPayload   = errors.New("frame: truncated payload")
)

// Header is the fixed wire header. MessageID doubles as the correlation id.
type Header struct {
	Magic       uint32
	Version     uint16
	HeaderLen   uint16
	MessageID   uint64
	MessageType uint32
	Flags       uint32
	PayloadLen  uint64
}

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Payload []byte
}

func (f Frame) Has(flag uint32) bool {
	return f.Header.Flags&flag != 0
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxExtensionBytes uint64
	MaxPayloadBytes   uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxExtensionBytes: 4 * 1024,
		MaxPayloadBytes:   8 * 1024 * 1024,
	}
}

// ReadFrame reads one frame. Header bytes beyond the fixed header are skipped
// so that newer peers can extend the header without breaking older readers.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [FixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if h.Magic != Magic {
		return Frame{}, fmt.Errorf("%w: 0x%08x", ErrBadMagic, h.Magic)
	}
	if h.Version != Version {
		return Frame{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.HeaderLen < FixedHeaderLen {
		return Frame{}, ErrHeaderLenTooSmall
	}

	extLen := uint64(h.HeaderLen - FixedHeaderLen)
	if extLen > limits.MaxExtensionBytes {
		return Frame{}, ErrExtensionTooLarge
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}
	if extLen > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(extLen)); err != nil {
			return Frame{}, ErrTruncatedPayload
		}
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, ErrTruncatedPayload
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}

// WriteFrame writes header and payload in a single Write call so concurrent
// writers sharing a conn can never interleave partial frames.
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	payloadLen := uint64(len(f.Payload))
	if payloadLen > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}

	h := f.Header
	if h.Magic == 0 {
		h.Magic = Magic
	}
	if h.Version == 0 {
		h.Version = Version
	}
	h.HeaderLen = FixedHeaderLen
	h.PayloadLen = payloadLen

	buf := make([]byte, int(FixedHeaderLen)+len(f.Payload))
	putHeader(buf, h)
	copy(buf[FixedHeaderLen:], f.Payload)
	_, err := w.Write(buf)
	return err
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	putHeader(buf, h)
	return buf
}

func putHeader(buf []byte, h Header) {
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint64(buf[8:16], h.MessageID)
	binary.BigEndian.PutUint32(buf[16:20], h.MessageType)
	binary.BigEndian.PutUint32(buf[20:24], h.Flags)
	binary.BigEndian.PutUint64(buf[24:32], h.PayloadLen)
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:       binary.BigEndian.Uint32(b[0:4]),
		Version:     binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:   binary.BigEndian.Uint16(b[6:8]),
		MessageID:   binary.BigEndian.Uint64(b[8:16]),
		MessageType: binary.BigEndian.Uint32(b[16:20]),
		Flags:       binary.BigEndian.Uint32(b[20:24]),
		PayloadLen:  binary.BigEndian.Uint64(b[24:32]),
	}, nil
}
