package frame

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

var ErrIncompressible = errors.New("frame: payload did not shrink")

// Encoder and decoder are shared; both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedFastest),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		panic("frame: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(0),
		zstd.WithDecoderMaxMemory(DefaultLimits().MaxPayloadBytes),
	)
	if err != nil {
		panic("frame: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress returns the zstd form of payload, or ErrIncompressible when the
// result is not smaller than the input.
func Compress(payload []byte) ([]byte, error) {
	out := zstdEncoder.EncodeAll(payload, make([]byte, 0, len(payload)/2))
	if len(out) >= len(payload) {
		return nil, ErrIncompressible
	}
	return out, nil
}

func Decompress(payload []byte, limits Limits) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("frame: zstd decompress: %w", err)
	}
	if uint64(len(out)) > limits.MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}
	return out, nil
}

// Pack sets the payload, compressing it when it is at least threshold bytes
// and compression actually helps. threshold <= 0 disables compression.
func (f *Frame) Pack(payload []byte, threshold int) {
	f.Header.Flags &^= FlagCompressed
	f.Payload = payload
	if threshold <= 0 || len(payload) < threshold {
		return
	}
	compressed, err := Compress(payload)
	if err != nil {
		return
	}
	f.Payload = compressed
	f.Header.Flags |= FlagCompressed
}

// Unpack returns the logical payload, decompressing if the frame is flagged.
func (f Frame) Unpack(limits Limits) ([]byte, error) {
	if !f.Has(FlagCompressed) {
		return f.Payload, nil
	}
	return Decompress(f.Payload, limits)
}
