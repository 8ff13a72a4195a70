package compression

import (
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4"
)

// NoCompressor stores data as is.
type NoCompressor struct{}

func (NoCompressor) Name() string { return "none" }

func (NoCompressor) Compress(data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}

func (NoCompressor) Decompress(data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}

// Block kinds written by LZ4Compressor.
const (
	blockRaw byte = 0
	blockLZ4 byte = 1
)

// LZ4Compressor writes LZ4 blocks prefixed with their kind and the varint
// uncompressed length. Data LZ4 cannot shrink is stored raw.
type LZ4Compressor struct{}

func (LZ4Compressor) Name() string { return "lz4" }

func (LZ4Compressor) Compress(data []byte) ([]byte, error) {
	header := make([]byte, 1+binary.MaxVarintLen64)
	n := binary.PutUvarint(header[1:], uint64(len(data)))
	header = header[:1+n]

	out := make([]byte, len(header)+lz4.CompressBlockBound(len(data)))
	size, err := lz4.CompressBlock(data, out[len(header):], nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compression failed: %w", err)
	}
	if size == 0 || size >= len(data) {
		header[0] = blockRaw
		return append(header, data...), nil
	}
	header[0] = blockLZ4
	copy(out, header)
	return out[:len(header)+size], nil
}

func (LZ4Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) < 2 {
		return nil, ErrCorrupt
	}
	rawLen, n := binary.Uvarint(data[1:])
	if n <= 0 {
		return nil, ErrCorrupt
	}
	body := data[1+n:]

	switch data[0] {
	case blockRaw:
		if uint64(len(body)) != rawLen {
			return nil, ErrCorrupt
		}
		return append([]byte(nil), body...), nil
	case blockLZ4:
		out := make([]byte, rawLen)
		size, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if uint64(size) != rawLen {
			return nil, ErrCorrupt
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown block kind %d", ErrCorrupt, data[0])
	}
}
