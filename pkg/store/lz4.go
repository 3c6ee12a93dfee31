package store

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// Frame layout: 1 flag byte, 4-byte big-endian uncompressed length, payload.
const (
	frameHeaderSize = 5

	flagRaw  = 0x00
	flagLZ4  = 0x01
	flagByte = 0
	sizeByte = 1
)

// ErrCorrupt is returned when a stored value fails to decode.
var ErrCorrupt = errors.New("store: corrupt value")

// compress frames data as an LZ4 block, falling back to a raw frame when the
// input does not shrink.
func compress(data []byte) []byte {
	out := make([]byte, frameHeaderSize+lz4.CompressBlockBound(len(data)))
	binary.BigEndian.PutUint32(out[sizeByte:], uint32(len(data)))

	written, err := lz4.CompressBlock(data, out[frameHeaderSize:], nil)
	if err != nil || written == 0 || written >= len(data) {
		out[flagByte] = flagRaw

		return append(out[:frameHeaderSize], data...)
	}

	out[flagByte] = flagLZ4

	return out[:frameHeaderSize+written]
}

// decompress reverses compress.
func decompress(frame []byte) ([]byte, error) {
	if len(frame) < frameHeaderSize {
		return nil, fmt.Errorf("%w: frame too short", ErrCorrupt)
	}

	size := binary.BigEndian.Uint32(frame[sizeByte:])
	payload := frame[frameHeaderSize:]

	switch frame[flagByte] {
	case flagRaw:
		if uint32(len(payload)) != size {
			return nil, fmt.Errorf("%w: raw frame size mismatch", ErrCorrupt)
		}

		out := make([]byte, size)
		copy(out, payload)

		return out, nil

	case flagLZ4:
		out := make([]byte, size)

		n, err := lz4.UncompressBlock(payload, out)
		if err != nil || uint32(n) != size {
			return nil, fmt.Errorf("%w: lz4 block: %v", ErrCorrupt, err)
		}

		return out, nil

	default:
		return nil, fmt.Errorf("%w: unknown frame flag %#x", ErrCorrupt, frame[flagByte])
	}
}
