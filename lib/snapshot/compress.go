// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how an object's bytes are stored. The values
// are written into object headers and must not change.
type Compression uint8

const (
	// CompressionNone stores bytes as-is.
	CompressionNone Compression = 0
	// CompressionLZ4 is LZ4 block compression: fast, modest ratio.
	CompressionLZ4 Compression = 1
	// CompressionZstd is zstd at the default level. CSV text usually
	// shrinks 4-6x.
	CompressionZstd Compression = 2
)

// String returns the configuration name of c.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a configuration name. The empty string
// selects zstd.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "none":
		return CompressionNone, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (want zstd, lz4 or none)", name)
	}
}

var errIncompressible = errors.New("data is incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("snapshot: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("snapshot: zstd decoder initialization failed: " + err.Error())
	}
}

// encodeObject frames data as tag byte, uvarint uncompressed length,
// payload. It falls back to CompressionNone when compression would not
// shrink the data, and reports the compression actually used.
func encodeObject(data []byte, compression Compression) ([]byte, Compression, error) {
	payload, err := compress(data, compression)
	if errors.Is(err, errIncompressible) {
		payload, compression = data, CompressionNone
	} else if err != nil {
		return nil, 0, err
	}

	header := make([]byte, 1+binary.MaxVarintLen64)
	header[0] = byte(compression)
	headerLength := 1 + binary.PutUvarint(header[1:], uint64(len(data)))
	return append(header[:headerLength], payload...), compression, nil
}

// decodeObject reverses encodeObject.
func decodeObject(object []byte) ([]byte, error) {
	if len(object) < 2 {
		return nil, fmt.Errorf("object too short (%d bytes)", len(object))
	}
	compression := Compression(object[0])
	size, read := binary.Uvarint(object[1:])
	if read <= 0 {
		return nil, fmt.Errorf("object header has an invalid length")
	}
	payload := object[1+read:]

	switch compression {
	case CompressionNone:
		if uint64(len(payload)) != size {
			return nil, fmt.Errorf("stored object is %d bytes, header says %d", len(payload), size)
		}
		return payload, nil
	case CompressionLZ4:
		destination := make([]byte, size)
		written, err := lz4.UncompressBlock(payload, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if uint64(written) != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", written, size)
		}
		return destination, nil
	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if uint64(len(result)) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag %d", compression)
	}
}

func compress(data []byte, compression Compression) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		// CompressBlock reports 0 for incompressible input.
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return destination[:written], nil
	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, errIncompressible
		}
		return compressed, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag %d", compression)
	}
}
