package frame

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/danmuck/tvremote/internal/testutil/testlog"
)

func TestReadWriteFrameRoundTrip(t *testing.T) {
	testlog.Start(t)

	payload := []byte("property-changed")
	in := Frame{
		Header:  Header{MessageID: 42, MessageType: 4, Flags: FlagIsResponse},
		Payload: payload,
	}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, in, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if buf.Len() != int(FixedHeaderLen)+len(payload) {
		t.Fatalf("unexpected encoded length: %d", buf.Len())
	}
	out, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if out.Header.Magic != Magic || out.Header.Version != Version {
		t.Fatalf("magic/version not stamped: %+v", out.Header)
	}
	if out.Header.MessageType != 4 || out.Header.MessageID != 42 || !out.Has(FlagIsResponse) {
		t.Fatalf("header mismatch: %+v", out.Header)
	}
	if !bytes.Equal(out.Payload, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestReadFrameMalformedHeaderIsDeterministic(t *testing.T) {
	testlog.Start(t)

	_, err := ReadFrame(bytes.NewReader([]byte{1, 2, 3}), DefaultLimits())
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestReadFrameCleanEOF(t *testing.T) {
	testlog.Start(t)

	_, err := ReadFrame(bytes.NewReader(nil), DefaultLimits())
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadFrameRejectsBadMagicAndVersion(t *testing.T) {
	testlog.Start(t)

	h := Header{Magic: 0xDEADBEEF, Version: Version, HeaderLen: FixedHeaderLen}
	if _, err := ReadFrame(bytes.NewReader(EncodeHeader(h)), DefaultLimits()); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
	h = Header{Magic: Magic, Version: 9, HeaderLen: FixedHeaderLen}
	if _, err := ReadFrame(bytes.NewReader(EncodeHeader(h)), DefaultLimits()); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestReadFrameHeaderLenTooSmall(t *testing.T) {
	testlog.Start(t)

	h := Header{Magic: Magic, Version: Version, HeaderLen: 8, MessageID: 1, MessageType: 1}
	_, err := ReadFrame(bytes.NewReader(EncodeHeader(h)), DefaultLimits())
	if !errors.Is(err, ErrHeaderLenTooSmall) {
		t.Fatalf("expected ErrHeaderLenTooSmall, got %v", err)
	}
}

func TestReadFrameSkipsHeaderExtension(t *testing.T) {
	testlog.Start(t)

	h := Header{Magic: Magic, Version: Version, HeaderLen: FixedHeaderLen + 4, MessageID: 7, MessageType: 15, PayloadLen: 2}
	raw := append(EncodeHeader(h), 0xAA, 0xBB, 0xCC, 0xDD, 'o', 'k')
	out, err := ReadFrame(bytes.NewReader(raw), DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if string(out.Payload) != "ok" {
		t.Fatalf("expected payload after extension, got %q", out.Payload)
	}
}

func TestReadFramePayloadLimits(t *testing.T) {
	testlog.Start(t)

	limits := Limits{MaxExtensionBytes: 0, MaxPayloadBytes: 4}
	h := Header{Magic: Magic, Version: Version, HeaderLen: FixedHeaderLen, PayloadLen: 5}
	if _, err := ReadFrame(bytes.NewReader(EncodeHeader(h)), limits); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if err := WriteFrame(io.Discard, Frame{Payload: []byte("12345")}, limits); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected write ErrPayloadTooLarge, got %v", err)
	}

	h = Header{Magic: Magic, Version: Version, HeaderLen: FixedHeaderLen, PayloadLen: 3}
	raw := append(EncodeHeader(h), 'x')
	if _, err := ReadFrame(bytes.NewReader(raw), limits); !errors.Is(err, ErrTruncatedPayload) {
		t.Fatalf("expected ErrTruncatedPayload, got %v", err)
	}
}

func TestPackCompressesLargePayloads(t *testing.T) {
	testlog.Start(t)

	payload := []byte(strings.Repeat("media-file-", 256))
	var f Frame
	f.Pack(payload, 64)
	if !f.Has(FlagCompressed) {
		t.Fatalf("expected compressed flag")
	}
	if len(f.Payload) >= len(payload) {
		t.Fatalf("expected smaller payload, got %d >= %d", len(f.Payload), len(payload))
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, f, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	read, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	plain, err := read.Unpack(DefaultLimits())
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if !bytes.Equal(plain, payload) {
		t.Fatalf("decompressed payload mismatch")
	}
}

func TestPackSkipsSmallOrDisabled(t *testing.T) {
	testlog.Start(t)

	var f Frame
	f.Pack([]byte("tiny"), 64)
	if f.Has(FlagCompressed) {
		t.Fatalf("small payload should stay raw")
	}
	f.Pack([]byte(strings.Repeat("a", 512)), 0)
	if f.Has(FlagCompressed) {
		t.Fatalf("threshold 0 disables compression")
	}
}
